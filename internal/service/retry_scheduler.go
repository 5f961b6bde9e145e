package service

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/samber/lo"
	"github.com/voxbill/voxbill/internal/domain/payment"
	"github.com/voxbill/voxbill/internal/domain/retry"
	"github.com/voxbill/voxbill/internal/types"
)

// retryScheduler decides whether a failed payment gets another attempt
type retryScheduler struct {
	ServiceParams
}

func newRetryScheduler(params ServiceParams) *retryScheduler {
	return &retryScheduler{ServiceParams: params}
}

// IsRetryable reports whether a failure reason is on the allow-list
func (s *retryScheduler) IsRetryable(reason types.FailureReason) bool {
	reasons := s.Config.Retry.RetryableReasons
	if len(reasons) == 0 {
		return lo.Contains(types.DefaultRetryableFailureReasons, reason)
	}
	return lo.Contains(reasons, reason.String())
}

// Delay returns the wait before the attempt that follows count earlier ones
func (s *retryScheduler) Delay(count int) time.Duration {
	cfg := s.Config.Retry
	if !cfg.Exponential {
		return cfg.BaseDelay
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.BaseDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.MaxInterval = lo.Ternary(cfg.MaxDelay > 0, cfg.MaxDelay, time.Duration(1<<62))
	b.Reset()

	delay := b.NextBackOff()
	for i := 0; i < count; i++ {
		delay = b.NextBackOff()
	}
	return delay
}

// HandleFailure schedules the next attempt of a failed payment, or marks
// it permanently failed when the reason is not retryable or the lineage is
// exhausted. It returns the scheduled attempt, nil when none was created.
func (s *retryScheduler) HandleFailure(ctx context.Context, p *payment.Payment) (*retry.Attempt, error) {
	reason := p.GetFailureReason()
	if !s.IsRetryable(reason) {
		s.Logger.Infow("payment failure is not retryable",
			"payment_id", p.ID,
			"failure_reason", reason,
		)
		return nil, s.markPermanentlyFailed(ctx, p, fmt.Sprintf("failure reason %s is not retryable", reason))
	}

	attempts, err := s.RetryRepo.ListByPayment(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	count := lo.CountBy(attempts, func(a *retry.Attempt) bool { return a.IsActive() })

	if count >= s.Config.Retry.MaxRetries {
		message := fmt.Sprintf("retry limit of %d attempts reached", s.Config.Retry.MaxRetries)
		s.Metrics.RetriesExhaustedTotal.Inc()
		s.Logger.Warnw("payment retries exhausted",
			"payment_id", p.ID,
			"attempts", count,
		)
		if err := s.markPermanentlyFailed(ctx, p, message); err != nil {
			return nil, err
		}
		s.publishRetryEvent(ctx, types.WebhookEventRetryExhausted, p.ID, nil, message)
		return nil, nil
	}

	attempt, err := s.schedule(ctx, p.ID, count+1, s.Clock.Now().UTC().Add(s.Delay(count)))
	if err != nil {
		return nil, err
	}
	s.Metrics.RetriesScheduledTotal.WithLabelValues("automatic").Inc()
	return attempt, nil
}

func (s *retryScheduler) schedule(ctx context.Context, paymentID string, attemptNumber int, at time.Time) (*retry.Attempt, error) {
	attempt := &retry.Attempt{
		ID:            types.GenerateUUIDWithPrefix(types.UUID_PREFIX_RETRY_ATTEMPT),
		PaymentID:     paymentID,
		AttemptNumber: attemptNumber,
		RetryStatus:   types.RetryStatusPending,
		ScheduledAt:   at,
		BaseModel:     types.GetDefaultBaseModel(ctx),
	}
	if err := attempt.Validate(); err != nil {
		return nil, err
	}
	if err := s.RetryRepo.Create(ctx, attempt); err != nil {
		return nil, err
	}

	s.Logger.Infow("scheduled payment retry",
		"payment_id", paymentID,
		"attempt_number", attemptNumber,
		"scheduled_at", at,
	)
	s.publishRetryEvent(ctx, types.WebhookEventRetryScheduled, paymentID, attempt, "")
	return attempt, nil
}

func (s *retryScheduler) markPermanentlyFailed(ctx context.Context, p *payment.Payment, message string) error {
	p.PermanentlyFailed = true
	p.ErrorMessage = lo.ToPtr(lo.Ternary(p.ErrorMessage != nil && *p.ErrorMessage != "",
		fmt.Sprintf("%s: %s", message, lo.FromPtr(p.ErrorMessage)), message))
	p.Touch(ctx)
	return s.PaymentRepo.Update(ctx, p)
}
