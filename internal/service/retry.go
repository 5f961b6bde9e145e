package service

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/samber/lo"
	"github.com/sourcegraph/conc/pool"
	"github.com/voxbill/voxbill/internal/api/dto"
	"github.com/voxbill/voxbill/internal/domain/payment"
	"github.com/voxbill/voxbill/internal/domain/retry"
	ierr "github.com/voxbill/voxbill/internal/errors"
	"github.com/voxbill/voxbill/internal/gateway"
	"github.com/voxbill/voxbill/internal/idempotency"
	"github.com/voxbill/voxbill/internal/types"
)

// RetryService runs the retry lineages of failed payments
type RetryService interface {
	ProcessRetries(ctx context.Context) (*dto.ProcessRetriesResult, error)
	GetPaymentRetryStatus(ctx context.Context, paymentID string) (*dto.PaymentRetryStatusResponse, error)
	TriggerManualRetry(ctx context.Context, paymentID string) (*retry.Attempt, error)
	CancelRetries(ctx context.Context, paymentID string) (*dto.CancelRetriesResponse, error)
}

type retryService struct {
	ServiceParams
	collector *collector
	idempGen  *idempotency.Generator
}

func NewRetryService(params ServiceParams) RetryService {
	return &retryService{
		ServiceParams: params,
		collector:     newCollector(params),
		idempGen:      idempotency.NewGenerator(),
	}
}

type attemptResult string

const (
	attemptResultSucceeded attemptResult = "succeeded"
	attemptResultFailed    attemptResult = "failed"
	attemptResultPending   attemptResult = "pending"
	attemptResultCancelled attemptResult = "cancelled"
	attemptResultSkipped   attemptResult = "skipped"
)

// ProcessRetries charges every due pending attempt across tenants. Payments
// are processed concurrently, the attempts of one payment in order.
func (s *retryService) ProcessRetries(ctx context.Context) (*dto.ProcessRetriesResult, error) {
	now := s.Clock.Now().UTC()
	due, err := s.RetryRepo.ListDue(types.SetTenantID(ctx, ""), now, s.Config.Billing.BatchSize)
	if err != nil {
		return nil, err
	}

	result := &dto.ProcessRetriesResult{Errors: []string{}}
	if len(due) == 0 {
		return result, nil
	}

	byPayment := lo.GroupBy(due, func(a *retry.Attempt) string { return a.PaymentID })
	paymentIDs := lo.Keys(byPayment)
	sort.Strings(paymentIDs)

	s.Logger.Infow("processing due payment retries",
		"attempts", len(due),
		"payments", len(paymentIDs),
	)

	var mu sync.Mutex
	p := pool.New().WithMaxGoroutines(s.Config.Retry.Concurrency)
	for _, paymentID := range paymentIDs {
		attempts := byPayment[paymentID]
		sort.Slice(attempts, func(i, j int) bool { return attempts[i].AttemptNumber < attempts[j].AttemptNumber })

		p.Go(func() {
			for _, a := range attempts {
				if ctx.Err() != nil {
					return
				}
				res, err := s.processAttempt(ctx, a)

				mu.Lock()
				if res != attemptResultSkipped {
					result.Processed++
				}
				switch res {
				case attemptResultSucceeded:
					result.Succeeded++
				case attemptResultFailed:
					result.Failed++
				case attemptResultCancelled:
					result.Cancelled++
				}
				if err != nil {
					result.Errors = append(result.Errors, fmt.Sprintf("%s: %s", a.ID, err.Error()))
				}
				mu.Unlock()
			}
		})
	}
	p.Wait()

	s.Logger.Infow("finished processing payment retries",
		"processed", result.Processed,
		"succeeded", result.Succeeded,
		"failed", result.Failed,
		"cancelled", result.Cancelled,
		"errors", len(result.Errors),
	)
	return result, ctx.Err()
}

func (s *retryService) processAttempt(ctx context.Context, due *retry.Attempt) (attemptResult, error) {
	ctx = types.WithTenant(ctx, due.TenantID)

	p, err := s.PaymentRepo.Get(ctx, due.PaymentID)
	if err != nil {
		return attemptResultFailed, err
	}

	unlock := s.Locks.Lock(invoiceLockKey(p.InvoiceID))
	defer unlock()

	a, err := s.RetryRepo.Get(ctx, due.ID)
	if err != nil {
		return attemptResultFailed, err
	}
	if a.RetryStatus != types.RetryStatusPending {
		return attemptResultSkipped, nil
	}

	if p, err = s.PaymentRepo.Get(ctx, due.PaymentID); err != nil {
		return attemptResultFailed, err
	}
	inv, err := s.InvoiceRepo.Get(ctx, p.InvoiceID)
	if err != nil {
		return attemptResultFailed, err
	}

	if reason := s.cancelReason(p, inv.IsPaid(), inv.InvoiceStatus); reason != "" {
		now := s.Clock.Now().UTC()
		a.MarkCancelled(reason, now)
		a.Touch(ctx)
		if err := s.RetryRepo.Update(ctx, a); err != nil {
			return attemptResultFailed, err
		}
		s.Metrics.RetryAttemptsTotal.WithLabelValues(a.RetryStatus.String()).Inc()
		s.Logger.Infow("cancelled payment retry", "attempt_id", a.ID, "payment_id", p.ID, "reason", reason)
		return attemptResultCancelled, nil
	}

	a.MarkProcessing()
	a.Touch(ctx)
	if err := s.RetryRepo.Update(ctx, a); err != nil {
		return attemptResultFailed, err
	}

	outcome, err := s.chargeAttempt(ctx, p, inv.AmountDue, a)
	if err != nil {
		return attemptResultFailed, err
	}
	if err := s.collector.applyOutcome(ctx, p, outcome); err != nil {
		return attemptResultFailed, err
	}

	switch p.PaymentStatus {
	case types.PaymentStatusSucceeded:
		return attemptResultSucceeded, nil
	case types.PaymentStatusFailed:
		return attemptResultFailed, nil
	default:
		return attemptResultPending, nil
	}
}

// chargeAttempt re-charges a payment with the tenant's current default
// method. Each attempt sends its own idempotency key.
func (s *retryService) chargeAttempt(ctx context.Context, p *payment.Payment, amountDue int64, a *retry.Attempt) (*gateway.Outcome, error) {
	methods, err := s.PaymentMethodRepo.ListByTenant(ctx, p.TenantID)
	if err != nil {
		return nil, err
	}
	if len(methods) == 0 {
		return gateway.Failed("", types.FailureReasonNoPaymentMethod, "no saved payment method"), nil
	}

	method := methods[0]
	gw, err := s.Gateways.Get(method.Type)
	if err != nil {
		return gateway.Failed("", types.FailureReasonInvalidPaymentMethod, err.Error()), nil
	}

	p.PaymentMethodID = method.ID
	p.PaymentMethodType = method.Type
	p.Gateway = gw.Name()
	// another payment may have settled part of the invoice since
	p.Amount = lo.Min([]int64{p.Amount, amountDue})
	p.PaymentStatus = types.PaymentStatusPending

	s.Logger.Infow("retrying payment",
		"payment_id", p.ID,
		"attempt_number", a.AttemptNumber,
		"amount", p.Amount,
		"gateway", p.Gateway,
	)
	return s.collector.charge(ctx, p, method, s.idempGen.RetryKey(p.ID, a.AttemptNumber)), nil
}

func (s *retryService) cancelReason(p *payment.Payment, invoicePaid bool, invoiceStatus types.InvoiceStatus) string {
	switch {
	case p.PaymentStatus == types.PaymentStatusSucceeded:
		return "payment already succeeded"
	case invoicePaid:
		return "invoice already paid"
	case invoiceStatus == types.InvoiceStatusVoid:
		return "invoice voided"
	case p.PaymentStatus == types.PaymentStatusPending:
		return "payment awaiting settlement"
	default:
		return ""
	}
}

func (s *retryService) GetPaymentRetryStatus(ctx context.Context, paymentID string) (*dto.PaymentRetryStatusResponse, error) {
	p, err := s.PaymentRepo.Get(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	attempts, err := s.RetryRepo.ListByPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	return s.buildRetryStatus(p, attempts), nil
}

func (s *retryService) buildRetryStatus(p *payment.Payment, attempts []*retry.Attempt) *dto.PaymentRetryStatusResponse {
	active := lo.Filter(attempts, func(a *retry.Attempt, _ int) bool { return a.IsActive() })
	pending := lo.Filter(active, func(a *retry.Attempt, _ int) bool { return a.RetryStatus == types.RetryStatusPending })
	resolved := len(active) - len(pending)

	status := &dto.PaymentRetryStatusResponse{
		PaymentID:         p.ID,
		PaymentStatus:     p.PaymentStatus,
		PermanentlyFailed: p.PermanentlyFailed,
		TotalAttempts:     len(active),
		MaxRetries:        s.Config.Retry.MaxRetries,
		CanRetry:          p.PaymentStatus == types.PaymentStatusFailed && resolved < s.Config.Retry.MaxRetries,
		Attempts:          attempts,
	}
	if len(active) > 0 {
		status.LastAttempt = lo.MaxBy(active, func(a, b *retry.Attempt) bool { return a.AttemptNumber > b.AttemptNumber })
	}
	if len(pending) > 0 {
		next := lo.MinBy(pending, func(a, b *retry.Attempt) bool { return a.ScheduledAt.Before(b.ScheduledAt) })
		status.NextScheduled = lo.ToPtr(next.ScheduledAt)
	}
	return status
}

// TriggerManualRetry replaces any pending attempt with one due now. The new
// attempt counts against the retry ceiling.
func (s *retryService) TriggerManualRetry(ctx context.Context, paymentID string) (*retry.Attempt, error) {
	p, err := s.PaymentRepo.Get(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	unlock := s.Locks.Lock(invoiceLockKey(p.InvoiceID))
	defer unlock()

	if p, err = s.PaymentRepo.Get(ctx, paymentID); err != nil {
		return nil, err
	}
	ctx = withTenant(ctx, p.TenantID)

	attempts, err := s.RetryRepo.ListByPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	status := s.buildRetryStatus(p, attempts)
	if !status.CanRetry {
		return nil, ierr.NewError("payment cannot be retried").
			WithHintf("Only failed payments below the limit of %d attempts can be retried", s.Config.Retry.MaxRetries).
			WithReportableDetails(map[string]any{
				"payment_id":     p.ID,
				"payment_status": p.PaymentStatus,
				"total_attempts": status.TotalAttempts,
			}).
			Mark(ierr.ErrValidation)
	}

	now := s.Clock.Now().UTC()
	if _, err := s.RetryRepo.CancelPending(ctx, paymentID, "replaced by manual retry", now); err != nil {
		return nil, err
	}

	attempts, err = s.RetryRepo.ListByPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	count := lo.CountBy(attempts, func(a *retry.Attempt) bool { return a.IsActive() })

	if p.PermanentlyFailed {
		p.PermanentlyFailed = false
		p.Touch(ctx)
		if err := s.PaymentRepo.Update(ctx, p); err != nil {
			return nil, err
		}
	}

	attempt, err := s.collector.scheduler.schedule(ctx, paymentID, count+1, now)
	if err != nil {
		return nil, err
	}
	s.Metrics.RetriesScheduledTotal.WithLabelValues("manual").Inc()
	return attempt, nil
}

func (s *retryService) CancelRetries(ctx context.Context, paymentID string) (*dto.CancelRetriesResponse, error) {
	p, err := s.PaymentRepo.Get(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	unlock := s.Locks.Lock(invoiceLockKey(p.InvoiceID))
	defer unlock()

	ctx = withTenant(ctx, p.TenantID)
	cancelled, err := s.RetryRepo.CancelPending(ctx, paymentID, "cancelled by operator", s.Clock.Now().UTC())
	if err != nil {
		return nil, err
	}
	if cancelled > 0 {
		s.Logger.Infow("cancelled payment retries", "payment_id", paymentID, "count", cancelled)
		s.publishRetryEvent(ctx, types.WebhookEventRetryCancelled, paymentID, nil, "cancelled by operator")
	}
	return &dto.CancelRetriesResponse{Cancelled: cancelled}, nil
}
