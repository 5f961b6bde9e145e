package gateway

import (
	"context"

	ierr "github.com/voxbill/voxbill/internal/errors"
	"github.com/voxbill/voxbill/internal/types"
)

// Gateway is the capability every payment provider exposes to the engine.
// Authorize returns an error only when the outcome is unknown, e.g. the
// provider could not be reached. Declines are reported as failed outcomes.
type Gateway interface {
	Name() string
	Authorize(ctx context.Context, req *AuthorizeRequest) (*Outcome, error)
}

// AuthorizeRequest asks a provider to collect an amount from a saved method
type AuthorizeRequest struct {
	AmountCents      int64
	Currency         string
	PaymentMethodRef string
	// IdempotencyKey is stable per payment attempt so a repeated call never
	// charges twice.
	IdempotencyKey string
	Metadata       map[string]string
}

// Outcome is the provider's answer to an authorization request
type Outcome struct {
	Status        types.GatewayOutcomeStatus
	GatewayRef    string
	FailureReason types.FailureReason
	Message       string
}

func (r *AuthorizeRequest) Validate() error {
	if r.AmountCents <= 0 {
		return ierr.NewError("amount must be positive").
			WithHint("Gateway charges must be for a positive amount").
			WithReportableDetails(map[string]any{"amount": r.AmountCents}).
			Mark(ierr.ErrValidation)
	}
	if r.IdempotencyKey == "" {
		return ierr.NewError("idempotency key is required").
			WithHint("Gateway charges must carry an idempotency key").
			Mark(ierr.ErrValidation)
	}
	return nil
}

// Succeeded builds a synchronous success outcome
func Succeeded(ref string) *Outcome {
	return &Outcome{Status: types.GatewayOutcomeSucceeded, GatewayRef: ref}
}

// Pending builds an outcome that will be settled asynchronously
func Pending(ref string) *Outcome {
	return &Outcome{Status: types.GatewayOutcomePending, GatewayRef: ref}
}

// Failed builds a classified failure outcome
func Failed(ref string, reason types.FailureReason, message string) *Outcome {
	return &Outcome{
		Status:        types.GatewayOutcomeFailed,
		GatewayRef:    ref,
		FailureReason: reason,
		Message:       message,
	}
}
