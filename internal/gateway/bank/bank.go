package bank

import (
	"context"
	"net/http"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/voxbill/voxbill/internal/config"
	ierr "github.com/voxbill/voxbill/internal/errors"
	"github.com/voxbill/voxbill/internal/gateway"
	"github.com/voxbill/voxbill/internal/httpclient"
	"github.com/voxbill/voxbill/internal/logger"
	"github.com/voxbill/voxbill/internal/types"
)

const Name = "bank"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// transfer statuses reported by the bank API
const (
	statusSettled  = "settled"
	statusPending  = "pending"
	statusRejected = "rejected"
)

type transferRequest struct {
	Amount     int64             `json:"amount"`
	Currency   string            `json:"currency"`
	AccountRef string            `json:"account_ref"`
	Reference  string            `json:"reference"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

type transferResponse struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	ReasonCode string `json:"reason_code,omitempty"`
	Message    string `json:"message,omitempty"`
}

// Gateway initiates direct debits over the bank's transfer API. Transfers
// commonly settle asynchronously and come back pending.
type Gateway struct {
	client  httpclient.Client
	baseURL string
	apiKey  string
	logger  *logger.Logger
}

// New creates a bank transfer gateway from the bank section of the configuration
func New(cfg *config.Configuration, client httpclient.Client, log *logger.Logger) (*Gateway, error) {
	if cfg.Gateway.Bank.BaseURL == "" {
		return nil, ierr.NewError("bank base url is required").
			WithHint("Set gateway.bank.base_url to enable bank transfers").
			Mark(ierr.ErrValidation)
	}

	return &Gateway{
		client:  client,
		baseURL: strings.TrimRight(cfg.Gateway.Bank.BaseURL, "/"),
		apiKey:  cfg.Gateway.Bank.APIKey,
		logger:  log,
	}, nil
}

func (g *Gateway) Name() string {
	return Name
}

func (g *Gateway) Authorize(ctx context.Context, req *gateway.AuthorizeRequest) (*gateway.Outcome, error) {
	body, err := json.Marshal(transferRequest{
		Amount:     req.AmountCents,
		Currency:   strings.ToUpper(req.Currency),
		AccountRef: req.PaymentMethodRef,
		Reference:  req.IdempotencyKey,
		Metadata:   req.Metadata,
	})
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to encode bank transfer").
			Mark(ierr.ErrSystem)
	}

	resp, err := g.client.Send(ctx, &httpclient.Request{
		Method: http.MethodPost,
		URL:    g.baseURL + "/v1/transfers",
		Headers: map[string]string{
			"Authorization":   "Bearer " + g.apiKey,
			"Idempotency-Key": req.IdempotencyKey,
		},
		Body: body,
	})
	if err != nil {
		httpErr, ok := httpclient.IsHTTPError(err)
		if !ok {
			return nil, ierr.WithError(err).
				WithHint("Bank transfer API could not be reached").
				Mark(ierr.ErrGatewayUnavailable)
		}
		return g.outcomeFromError(req, httpErr), nil
	}

	var transfer transferResponse
	if err := json.Unmarshal(resp.Body, &transfer); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Bank transfer API returned an unreadable response").
			Mark(ierr.ErrGatewayUnavailable)
	}

	switch transfer.Status {
	case statusSettled:
		return gateway.Succeeded(transfer.ID), nil
	case statusPending:
		return gateway.Pending(transfer.ID), nil
	case statusRejected:
		return gateway.Failed(transfer.ID, ClassifyReason(transfer.ReasonCode), transfer.Message), nil
	default:
		return gateway.Failed(transfer.ID, types.FailureReasonProcessingError, "unexpected transfer status "+transfer.Status), nil
	}
}

func (g *Gateway) outcomeFromError(req *gateway.AuthorizeRequest, httpErr *httpclient.Error) *gateway.Outcome {
	var transfer transferResponse
	_ = json.Unmarshal(httpErr.Response, &transfer)

	reason := ClassifyReason(transfer.ReasonCode)
	switch {
	case httpErr.IsThrottled():
		reason = types.FailureReasonRateLimitExceeded
	case httpErr.IsServerError():
		reason = types.FailureReasonProcessingError
	case reason == types.FailureReasonUnknown && httpErr.StatusCode != http.StatusPaymentRequired:
		reason = types.FailureReasonInvalidPaymentMethod
	}

	message := transfer.Message
	if message == "" {
		message = http.StatusText(httpErr.StatusCode)
	}

	g.logger.Infow("bank transfer rejected",
		"idempotency_key", req.IdempotencyKey,
		"status_code", httpErr.StatusCode,
		"reason_code", transfer.ReasonCode,
		"failure_reason", reason,
	)
	return gateway.Failed(transfer.ID, reason, message)
}

// ClassifyReason maps bank rejection codes onto the engine's failure reasons
func ClassifyReason(code string) types.FailureReason {
	switch strings.ToLower(code) {
	case "insufficient_funds", "nsf":
		return types.FailureReasonInsufficientFunds
	case "account_closed":
		return types.FailureReasonCardClosed
	case "invalid_account", "no_account", "mandate_revoked":
		return types.FailureReasonInvalidPaymentMethod
	case "processing_error", "bank_unavailable":
		return types.FailureReasonProcessingError
	case "rate_limited":
		return types.FailureReasonRateLimitExceeded
	case "":
		return types.FailureReasonUnknown
	default:
		return types.FailureReasonCardDeclined
	}
}
