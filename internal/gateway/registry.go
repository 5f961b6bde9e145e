package gateway

import (
	"context"
	"sync"

	"github.com/samber/lo"
	"github.com/voxbill/voxbill/internal/config"
	ierr "github.com/voxbill/voxbill/internal/errors"
	"github.com/voxbill/voxbill/internal/logger"
	"github.com/voxbill/voxbill/internal/types"
	"golang.org/x/time/rate"
)

// Registry maps a payment method type to the gateway that serves it.
// Calls through the registry are rate limited per provider.
type Registry struct {
	mu       sync.RWMutex
	gateways map[types.PaymentMethodType]Gateway
	limiters map[types.PaymentMethodType]*rate.Limiter
	limit    rate.Limit
	burst    int
	logger   *logger.Logger
}

// NewRegistry creates an empty registry using the configured rate limits
func NewRegistry(cfg *config.Configuration, log *logger.Logger) *Registry {
	return &Registry{
		gateways: make(map[types.PaymentMethodType]Gateway),
		limiters: make(map[types.PaymentMethodType]*rate.Limiter),
		limit:    rate.Limit(cfg.Gateway.RateLimit),
		burst:    cfg.Gateway.Burst,
		logger:   log,
	}
}

// Register binds a gateway to a payment method type, replacing any previous binding
func (r *Registry) Register(methodType types.PaymentMethodType, gw Gateway) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.gateways[methodType] = gw
	r.limiters[methodType] = rate.NewLimiter(r.limit, r.burst)
	r.logger.Infow("registered payment gateway",
		"payment_method_type", methodType,
		"gateway", gw.Name(),
	)
}

// Get returns the gateway serving a payment method type
func (r *Registry) Get(methodType types.PaymentMethodType) (Gateway, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	gw, ok := r.gateways[methodType]
	if !ok {
		return nil, ierr.NewError("no gateway registered for payment method type").
			WithHintf("Payment method type %s is not supported", methodType).
			WithReportableDetails(map[string]any{
				"payment_method_type": methodType,
				"registered":          lo.Keys(r.gateways),
			}).
			Mark(ierr.ErrGatewayUnavailable)
	}
	return gw, nil
}

// Authorize waits for the provider's rate limiter then forwards the request
func (r *Registry) Authorize(ctx context.Context, methodType types.PaymentMethodType, req *AuthorizeRequest) (*Outcome, error) {
	gw, err := r.Get(methodType)
	if err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	limiter := r.limiters[methodType]
	r.mu.RUnlock()

	if err := limiter.Wait(ctx); err != nil {
		return nil, ierr.WithError(err).
			WithHintf("Gateway %s rate limit wait aborted", gw.Name()).
			Mark(ierr.ErrGatewayUnavailable)
	}

	return gw.Authorize(ctx, req)
}
