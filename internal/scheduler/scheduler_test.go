package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/voxbill/voxbill/internal/api/dto"
	"github.com/voxbill/voxbill/internal/config"
	ierr "github.com/voxbill/voxbill/internal/errors"
	"github.com/voxbill/voxbill/internal/logger"
	"github.com/voxbill/voxbill/internal/service"
)

type stubBillingCycle struct {
	service.BillingCycleService
	requests []dto.BillingCycleRequest
	err      error
}

func (s *stubBillingCycle) ProcessBillingCycle(ctx context.Context, req dto.BillingCycleRequest) (*dto.BillingCycleSummary, error) {
	s.requests = append(s.requests, req)
	if s.err != nil {
		return nil, s.err
	}
	return &dto.BillingCycleSummary{RunID: "run_1"}, nil
}

type stubRetry struct {
	service.RetryService
	calls int
}

func (s *stubRetry) ProcessRetries(ctx context.Context) (*dto.ProcessRetriesResult, error) {
	s.calls++
	return &dto.ProcessRetriesResult{}, nil
}

type stubPayment struct {
	service.PaymentService
	olderThan time.Duration
}

func (s *stubPayment) ExpireStalePending(ctx context.Context, olderThan time.Duration) (int, error) {
	s.olderThan = olderThan
	return 2, nil
}

func newTestScheduler(t *testing.T, mutate func(cfg *config.Configuration)) (*Scheduler, *stubBillingCycle, *stubRetry, *stubPayment, error) {
	t.Helper()
	cfg := config.GetDefaultConfig()
	if mutate != nil {
		mutate(cfg)
	}
	billing, retries, payments := &stubBillingCycle{}, &stubRetry{}, &stubPayment{}
	s, err := New(cfg, logger.NewNopLogger(), billing, retries, payments)
	return s, billing, retries, payments, err
}

func TestNewRegistersJobs(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(cfg *config.Configuration)
		entries int
		wantErr bool
	}{
		{name: "default schedules", entries: 3},
		{
			name:    "empty schedule disables job",
			mutate:  func(cfg *config.Configuration) { cfg.Scheduler.PendingSweepSpec = "" },
			entries: 2,
		},
		{
			name:    "invalid cron expression",
			mutate:  func(cfg *config.Configuration) { cfg.Scheduler.RetryProcessSpec = "every now and then" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _, _, _, err := newTestScheduler(t, tt.mutate)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, ierr.IsValidation(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.entries, s.Entries())
		})
	}
}

func TestRunBillingCyclePassesOverageFlag(t *testing.T) {
	s, billing, _, _, err := newTestScheduler(t, func(cfg *config.Configuration) {
		cfg.Scheduler.ProcessOverages = true
	})
	require.NoError(t, err)

	s.RunBillingCycle(context.Background())

	require.Len(t, billing.requests, 1)
	assert.True(t, billing.requests[0].ProcessOverages)
	assert.False(t, billing.requests[0].DryRun)
	assert.Empty(t, billing.requests[0].TenantID)
}

func TestRunBillingCycleToleratesRunningCycle(t *testing.T) {
	s, billing, _, _, err := newTestScheduler(t, nil)
	require.NoError(t, err)
	billing.err = ierr.NewError("busy").Mark(ierr.ErrCycleAlreadyRunning)

	assert.NotPanics(t, func() { s.RunBillingCycle(context.Background()) })
	assert.Len(t, billing.requests, 1)
}

func TestRunRetriesAndSweep(t *testing.T) {
	s, _, retries, payments, err := newTestScheduler(t, nil)
	require.NoError(t, err)

	s.RunRetries(context.Background())
	s.RunPendingSweep(context.Background())

	assert.Equal(t, 1, retries.calls)
	assert.Equal(t, 2*time.Hour, payments.olderThan)
}
