package dto

import (
	"time"

	"github.com/voxbill/voxbill/internal/domain/retry"
	"github.com/voxbill/voxbill/internal/types"
)

// ProcessRetriesResult reports one pass over the due retry attempts
type ProcessRetriesResult struct {
	Processed int      `json:"processed"`
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	Cancelled int      `json:"cancelled"`
	Errors    []string `json:"errors"`
}

// PaymentRetryStatusResponse describes the retry lineage of a payment
type PaymentRetryStatusResponse struct {
	PaymentID         string              `json:"payment_id"`
	PaymentStatus     types.PaymentStatus `json:"payment_status"`
	PermanentlyFailed bool                `json:"permanently_failed"`
	// TotalAttempts counts the non cancelled attempts
	TotalAttempts int              `json:"total_attempts"`
	MaxRetries    int              `json:"max_retries"`
	LastAttempt   *retry.Attempt   `json:"last_attempt,omitempty"`
	NextScheduled *time.Time       `json:"next_scheduled,omitempty"`
	CanRetry      bool             `json:"can_retry"`
	Attempts      []*retry.Attempt `json:"attempts"`
}

// CancelRetriesResponse reports how many pending attempts were cancelled
type CancelRetriesResponse struct {
	Cancelled int `json:"cancelled"`
}
