package v1

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
	"github.com/voxbill/voxbill/internal/api/dto"
	ierr "github.com/voxbill/voxbill/internal/errors"
	"github.com/voxbill/voxbill/internal/logger"
	"github.com/voxbill/voxbill/internal/service"
	"github.com/voxbill/voxbill/internal/types"
)

type UsageHandler struct {
	usageService service.UsageService
	logger       *logger.Logger
}

func NewUsageHandler(usageService service.UsageService, logger *logger.Logger) *UsageHandler {
	return &UsageHandler{
		usageService: usageService,
		logger:       logger,
	}
}

// RecordUsage godoc
// @Summary Record a usage event
// @Tags Usage
// @Accept json
// @Produce json
// @Param request body dto.RecordUsageRequest true "Usage event"
// @Success 201 {object} dto.UsageRecordResponse
// @Failure 400 {object} ierr.ErrorResponse
// @Router /usage [post]
func (h *UsageHandler) RecordUsage(c *gin.Context) {
	var req dto.RecordUsageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(ierr.WithError(err).WithHint("Invalid request format").Mark(ierr.ErrValidation))
		return
	}

	record, err := h.usageService.RecordUsage(c.Request.Context(), req)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, dto.UsageRecordResponse{Record: record})
}

// RecordCallUsage records the rounded up minutes of a completed call
// @Router /usage/calls [post]
func (h *UsageHandler) RecordCallUsage(c *gin.Context) {
	var req dto.RecordCallUsageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(ierr.WithError(err).WithHint("Call ID is required").Mark(ierr.ErrValidation))
		return
	}
	if err := req.Validate(); err != nil {
		c.Error(err)
		return
	}

	tenantID := lo.Ternary(req.TenantID != "", req.TenantID, types.GetTenantID(c.Request.Context()))
	record, err := h.usageService.RecordCallUsage(c.Request.Context(), tenantID, req.CallID, req.DurationSeconds)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, dto.UsageRecordResponse{Record: record})
}

// GetUsageSummary totals a tenant's usage for a billing period, e.g. 2025-01
// @Router /usage/summary [get]
func (h *UsageHandler) GetUsageSummary(c *gin.Context) {
	tenantID := lo.Ternary(c.Query("tenant_id") != "", c.Query("tenant_id"), types.GetTenantID(c.Request.Context()))
	if tenantID == "" {
		c.Error(ierr.NewError("tenant id is required").
			WithHint("Pass tenant_id or the tenant header").
			Mark(ierr.ErrValidation))
		return
	}
	period := c.Query("period")
	if period == "" {
		period = types.PeriodKey(time.Now().UTC())
	}

	summary, err := h.usageService.Summarize(c.Request.Context(), tenantID, period)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, dto.UsageSummaryResponse{
		TenantID:      tenantID,
		BillingPeriod: period,
		Usage:         summary,
	})
}
