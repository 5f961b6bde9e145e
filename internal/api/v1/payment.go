package v1

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/voxbill/voxbill/internal/api/dto"
	"github.com/voxbill/voxbill/internal/config"
	ierr "github.com/voxbill/voxbill/internal/errors"
	"github.com/voxbill/voxbill/internal/logger"
	"github.com/voxbill/voxbill/internal/service"
	"github.com/voxbill/voxbill/internal/types"
)

type PaymentHandler struct {
	paymentService service.PaymentService
	config         *config.Configuration
	logger         *logger.Logger
}

func NewPaymentHandler(paymentService service.PaymentService, config *config.Configuration, logger *logger.Logger) *PaymentHandler {
	return &PaymentHandler{
		paymentService: paymentService,
		config:         config,
		logger:         logger,
	}
}

// GetPayment godoc
// @Summary Get a payment by ID
// @Tags Payments
// @Produce json
// @Param id path string true "Payment ID"
// @Success 200 {object} dto.PaymentResponse
// @Failure 404 {object} ierr.ErrorResponse
// @Router /payments/{id} [get]
func (h *PaymentHandler) GetPayment(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.Error(ierr.NewError("payment id is required").
			WithHint("Payment ID is required").
			Mark(ierr.ErrValidation))
		return
	}

	resp, err := h.paymentService.GetPayment(c.Request.Context(), id)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// ListPayments godoc
// @Summary List payments
// @Tags Payments
// @Produce json
// @Param filter query types.PaymentFilter false "Filter"
// @Success 200 {object} dto.ListPaymentsResponse
// @Router /payments [get]
func (h *PaymentHandler) ListPayments(c *gin.Context) {
	var filter types.PaymentFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		h.logger.Errorw("failed to bind query parameters", "error", err)
		c.Error(ierr.WithError(err).WithHint("Invalid query parameters").Mark(ierr.ErrValidation))
		return
	}

	resp, err := h.paymentService.ListPayments(c.Request.Context(), &filter)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// SettlePayment resolves a pending payment from a gateway notification
// @Router /payments/{id}/settle [post]
func (h *PaymentHandler) SettlePayment(c *gin.Context) {
	var req dto.SettlePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(ierr.WithError(err).WithHint("Invalid request format").Mark(ierr.ErrValidation))
		return
	}

	resp, err := h.paymentService.SettlePayment(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		h.logger.Errorw("failed to settle payment", "payment_id", c.Param("id"), "error", err)
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// ExpireStalePending fails payments pending for longer than older_than,
// which defaults to retry.pending_timeout.
// @Router /payments/expire-pending [post]
func (h *PaymentHandler) ExpireStalePending(c *gin.Context) {
	olderThan := h.config.Retry.PendingTimeout
	if raw := c.Query("older_than"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			c.Error(ierr.NewError("invalid older_than").
				WithHint("older_than must be a positive duration such as 2h").
				WithReportableDetails(map[string]any{"older_than": raw}).
				Mark(ierr.ErrValidation))
			return
		}
		olderThan = d
	}

	expired, err := h.paymentService.ExpireStalePending(c.Request.Context(), olderThan)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, dto.ExpirePendingResponse{Expired: expired})
}
