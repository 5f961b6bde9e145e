package stripe

import (
	"context"
	"strings"

	"github.com/stripe/stripe-go/v82"
	"github.com/voxbill/voxbill/internal/config"
	ierr "github.com/voxbill/voxbill/internal/errors"
	"github.com/voxbill/voxbill/internal/gateway"
	"github.com/voxbill/voxbill/internal/logger"
	"github.com/voxbill/voxbill/internal/types"
)

const Name = "stripe"

// intentCreator is the slice of the stripe client the gateway needs
type intentCreator interface {
	Create(ctx context.Context, params *stripe.PaymentIntentCreateParams) (*stripe.PaymentIntent, error)
}

// Gateway charges saved cards off session through payment intents
type Gateway struct {
	intents intentCreator
	logger  *logger.Logger
}

// New creates a card gateway from the stripe section of the configuration
func New(cfg *config.Configuration, log *logger.Logger) (*Gateway, error) {
	if cfg.Gateway.Stripe.SecretKey == "" {
		return nil, ierr.NewError("stripe secret key is required").
			WithHint("Set gateway.stripe.secret_key to enable card payments").
			Mark(ierr.ErrValidation)
	}

	client := stripe.NewClient(cfg.Gateway.Stripe.SecretKey, nil)
	return &Gateway{intents: client.V1PaymentIntents, logger: log}, nil
}

func (g *Gateway) Name() string {
	return Name
}

// Authorize confirms an off session payment intent. The payment method ref
// is either "pm_..." or "cus_...:pm_..." when the card is attached to a
// customer.
func (g *Gateway) Authorize(ctx context.Context, req *gateway.AuthorizeRequest) (*gateway.Outcome, error) {
	customerID, paymentMethodID := splitMethodRef(req.PaymentMethodRef)

	params := &stripe.PaymentIntentCreateParams{
		Amount:        stripe.Int64(req.AmountCents),
		Currency:      stripe.String(strings.ToLower(req.Currency)),
		PaymentMethod: stripe.String(paymentMethodID),
		OffSession:    stripe.Bool(true),
		Confirm:       stripe.Bool(true),
		Metadata:      req.Metadata,
	}
	if customerID != "" {
		params.Customer = stripe.String(customerID)
	}
	params.SetIdempotencyKey(req.IdempotencyKey)

	intent, err := g.intents.Create(ctx, params)
	if err != nil {
		stripeErr, ok := err.(*stripe.Error)
		if !ok {
			// transport failure, the charge outcome is unknown
			return nil, ierr.WithError(err).
				WithHint("Card processor could not be reached").
				Mark(ierr.ErrGatewayUnavailable)
		}

		ref := ""
		if stripeErr.PaymentIntent != nil {
			ref = stripeErr.PaymentIntent.ID
		}
		reason := ClassifyError(stripeErr)
		g.logger.Infow("card payment declined",
			"idempotency_key", req.IdempotencyKey,
			"stripe_error_code", stripeErr.Code,
			"decline_code", stripeErr.DeclineCode,
			"failure_reason", reason,
		)
		return gateway.Failed(ref, reason, stripeErr.Msg), nil
	}

	return outcomeFromIntent(intent), nil
}

func outcomeFromIntent(intent *stripe.PaymentIntent) *gateway.Outcome {
	switch intent.Status {
	case stripe.PaymentIntentStatusSucceeded:
		return gateway.Succeeded(intent.ID)
	case stripe.PaymentIntentStatusProcessing:
		return gateway.Pending(intent.ID)
	case stripe.PaymentIntentStatusRequiresAction:
		return gateway.Failed(intent.ID, types.FailureReasonAuthenticationNeeded, "payment requires customer authentication")
	case stripe.PaymentIntentStatusRequiresPaymentMethod:
		return gateway.Failed(intent.ID, types.FailureReasonCardDeclined, "payment method was declined")
	default:
		return gateway.Failed(intent.ID, types.FailureReasonProcessingError, "unexpected payment intent status "+string(intent.Status))
	}
}

// ClassifyError maps a processor error onto the engine's failure reasons
func ClassifyError(err *stripe.Error) types.FailureReason {
	if err.HTTPStatusCode == 429 || err.Code == stripe.ErrorCodeRateLimit {
		return types.FailureReasonRateLimitExceeded
	}

	switch err.DeclineCode {
	case stripe.DeclineCodeInsufficientFunds:
		return types.FailureReasonInsufficientFunds
	case stripe.DeclineCodeLostCard, stripe.DeclineCodeStolenCard:
		return types.FailureReasonCardClosed
	}

	switch err.Code {
	case stripe.ErrorCodeCardDeclined:
		return types.FailureReasonCardDeclined
	case stripe.ErrorCodeExpiredCard:
		return types.FailureReasonExpiredCard
	case stripe.ErrorCodeAuthenticationRequired:
		return types.FailureReasonAuthenticationNeeded
	case stripe.ErrorCodeProcessingError:
		return types.FailureReasonProcessingError
	case stripe.ErrorCodeResourceMissing:
		return types.FailureReasonInvalidPaymentMethod
	}

	if err.Type == stripe.ErrorTypeInvalidRequest {
		return types.FailureReasonInvalidPaymentMethod
	}
	if err.HTTPStatusCode >= 500 || err.Type == stripe.ErrorTypeAPI {
		return types.FailureReasonProcessingError
	}
	return types.FailureReasonUnknown
}

func splitMethodRef(ref string) (customerID string, paymentMethodID string) {
	if customer, method, ok := strings.Cut(ref, ":"); ok {
		return customer, method
	}
	return "", ref
}
