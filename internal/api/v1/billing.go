package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/voxbill/voxbill/internal/api/dto"
	ierr "github.com/voxbill/voxbill/internal/errors"
	"github.com/voxbill/voxbill/internal/logger"
	"github.com/voxbill/voxbill/internal/service"
	"github.com/voxbill/voxbill/internal/temporal"
	"github.com/voxbill/voxbill/internal/temporal/models"
)

type BillingHandler struct {
	billingCycleService service.BillingCycleService
	temporalService     *temporal.Service
	logger              *logger.Logger
}

// NewBillingHandler wires the billing endpoints. temporalService may be nil,
// the workflow endpoint then answers 400.
func NewBillingHandler(billingCycleService service.BillingCycleService, temporalService *temporal.Service, logger *logger.Logger) *BillingHandler {
	return &BillingHandler{
		billingCycleService: billingCycleService,
		temporalService:     temporalService,
		logger:              logger,
	}
}

// ProcessBillingCycle godoc
// @Summary Run a billing cycle
// @Description Bill every subscription whose period has ended
// @Tags Billing
// @Accept json
// @Produce json
// @Param request body dto.BillingCycleRequest false "Cycle options"
// @Success 200 {object} dto.BillingCycleSummary
// @Failure 409 {object} ierr.ErrorResponse
// @Router /billing/cycle [post]
func (h *BillingHandler) ProcessBillingCycle(c *gin.Context) {
	var req dto.BillingCycleRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.Error(ierr.WithError(err).WithHint("Invalid request format").Mark(ierr.ErrValidation))
			return
		}
	}

	summary, err := h.billingCycleService.ProcessBillingCycle(c.Request.Context(), req)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, summary)
}

// TriggerManualBilling godoc
// @Summary Bill one tenant now
// @Tags Billing
// @Accept json
// @Produce json
// @Param request body dto.TriggerBillingRequest true "Tenant to bill"
// @Success 200 {object} dto.BillingCycleSummary
// @Router /billing/trigger [post]
func (h *BillingHandler) TriggerManualBilling(c *gin.Context) {
	var req dto.TriggerBillingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(ierr.WithError(err).WithHint("Tenant ID is required").Mark(ierr.ErrValidation))
		return
	}

	summary, err := h.billingCycleService.TriggerManualBilling(c.Request.Context(), req.TenantID, req.DryRun)
	if err != nil {
		h.logger.Errorw("manual billing failed", "tenant_id", req.TenantID, "error", err)
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, summary)
}

// GetBillingStatus godoc
// @Summary Billing cycle status
// @Tags Billing
// @Produce json
// @Success 200 {object} dto.BillingStatusResponse
// @Router /billing/status [get]
func (h *BillingHandler) GetBillingStatus(c *gin.Context) {
	status, err := h.billingCycleService.GetBillingStatus(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, status)
}

// StartBillingWorkflow godoc
// @Summary Start a billing cycle workflow
// @Description Run the billing cycle durably on temporal and return the workflow ids
// @Tags Billing
// @Accept json
// @Produce json
// @Param request body dto.BillingCycleRequest false "Cycle options"
// @Success 202 {object} dto.WorkflowStartedResponse
// @Router /billing/cycle/workflow [post]
func (h *BillingHandler) StartBillingWorkflow(c *gin.Context) {
	if h.temporalService == nil {
		c.Error(ierr.NewError("temporal is not configured").
			WithHint("Workflow execution is disabled on this deployment").
			Mark(ierr.ErrInvalidOperation))
		return
	}

	var req dto.BillingCycleRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.Error(ierr.WithError(err).WithHint("Invalid request format").Mark(ierr.ErrValidation))
			return
		}
	}

	run, err := h.temporalService.StartBillingCycle(c.Request.Context(), models.BillingCycleWorkflowInput{
		TenantID:        req.TenantID,
		DryRun:          req.DryRun,
		ProcessOverages: req.ProcessOverages,
	})
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusAccepted, dto.WorkflowStartedResponse{
		WorkflowID: run.GetID(),
		RunID:      run.GetRunID(),
	})
}
