package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"
	ierr "github.com/voxbill/voxbill/internal/errors"
	"github.com/voxbill/voxbill/internal/logger"
	"github.com/voxbill/voxbill/internal/service"
)

type RetryHandler struct {
	retryService service.RetryService
	logger       *logger.Logger
}

func NewRetryHandler(retryService service.RetryService, logger *logger.Logger) *RetryHandler {
	return &RetryHandler{
		retryService: retryService,
		logger:       logger,
	}
}

// ProcessRetries executes every retry attempt that is due
// @Router /retries/process [post]
func (h *RetryHandler) ProcessRetries(c *gin.Context) {
	result, err := h.retryService.ProcessRetries(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// @Router /retries/{payment_id} [get]
func (h *RetryHandler) GetPaymentRetryStatus(c *gin.Context) {
	paymentID, ok := paymentIDParam(c)
	if !ok {
		return
	}

	status, err := h.retryService.GetPaymentRetryStatus(c.Request.Context(), paymentID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, status)
}

// TriggerManualRetry schedules an attempt for now and cancels pending ones
// @Router /retries/{payment_id}/manual [post]
func (h *RetryHandler) TriggerManualRetry(c *gin.Context) {
	paymentID, ok := paymentIDParam(c)
	if !ok {
		return
	}

	attempt, err := h.retryService.TriggerManualRetry(c.Request.Context(), paymentID)
	if err != nil {
		h.logger.Errorw("manual retry failed", "payment_id", paymentID, "error", err)
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, attempt)
}

// @Router /retries/{payment_id}/cancel [post]
func (h *RetryHandler) CancelRetries(c *gin.Context) {
	paymentID, ok := paymentIDParam(c)
	if !ok {
		return
	}

	resp, err := h.retryService.CancelRetries(c.Request.Context(), paymentID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func paymentIDParam(c *gin.Context) (string, bool) {
	id := c.Param("payment_id")
	if id == "" {
		c.Error(ierr.NewError("payment id is required").
			WithHint("Payment ID is required").
			Mark(ierr.ErrValidation))
		return "", false
	}
	return id, true
}
