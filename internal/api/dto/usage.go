package dto

import (
	"time"

	"github.com/voxbill/voxbill/internal/domain/usage"
	ierr "github.com/voxbill/voxbill/internal/errors"
	"github.com/voxbill/voxbill/internal/types"
	"github.com/voxbill/voxbill/internal/validator"
)

// RecordUsageRequest records one metered event for a tenant
type RecordUsageRequest struct {
	// TenantID defaults to the tenant of the request context
	TenantID   string          `json:"tenant_id,omitempty"`
	UsageType  types.UsageType `json:"usage_type" binding:"required" validate:"required"`
	Quantity   int64           `json:"quantity" validate:"gte=0"`
	RecordedAt *time.Time      `json:"recorded_at,omitempty"`
	// SourceID dedups re-deliveries of the same event, e.g. a call id
	SourceID *string `json:"source_id,omitempty"`
}

func (r *RecordUsageRequest) Validate() error {
	if err := validator.ValidateRequest(r); err != nil {
		return err
	}
	if r.Quantity < 0 {
		return ierr.NewError("usage quantity must not be negative").
			WithHint("Usage quantity must be zero or positive").
			WithReportableDetails(map[string]any{"quantity": r.Quantity}).
			Mark(ierr.ErrValidation)
	}
	if r.SourceID != nil && *r.SourceID == "" {
		return ierr.NewError("source id must not be empty").
			WithHint("Source ID must not be empty when provided").
			Mark(ierr.ErrValidation)
	}
	return r.UsageType.Validate()
}

// RecordCallUsageRequest records the minutes of one completed call
type RecordCallUsageRequest struct {
	TenantID        string `json:"tenant_id,omitempty"`
	CallID          string `json:"call_id" binding:"required" validate:"required"`
	DurationSeconds int64  `json:"duration_seconds" validate:"gte=0"`
}

func (r *RecordCallUsageRequest) Validate() error {
	return validator.ValidateRequest(r)
}

// CallCompletedEvent is the payload the telephony platform publishes when a
// call ends.
type CallCompletedEvent struct {
	TenantID        string    `json:"tenant_id" validate:"required"`
	CallID          string    `json:"call_id" validate:"required"`
	DurationSeconds int64     `json:"duration_seconds" validate:"gte=0"`
	EndedAt         time.Time `json:"ended_at,omitempty"`
}

func (e *CallCompletedEvent) Validate() error {
	return validator.ValidateRequest(e)
}

// UsageRecordResponse represents a recorded usage event
type UsageRecordResponse struct {
	*usage.Record
}

// UsageSummaryResponse totals a tenant's usage in one billing period
type UsageSummaryResponse struct {
	TenantID      string             `json:"tenant_id"`
	BillingPeriod string             `json:"billing_period"`
	Usage         types.UsageSummary `json:"usage"`
}

// MarkProcessedResponse reports how many records were flagged
type MarkProcessedResponse struct {
	Updated int64 `json:"updated"`
}
