package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"
	"github.com/voxbill/voxbill/internal/domain/usage"
	ierr "github.com/voxbill/voxbill/internal/errors"
	"github.com/voxbill/voxbill/internal/types"
)

// InMemoryUsageStore implements usage.Repository
type InMemoryUsageStore struct {
	*InMemoryStore[*usage.Record]
	createMu sync.Mutex

	errMu        sync.Mutex
	summarizeErr error
}

func NewInMemoryUsageStore() *InMemoryUsageStore {
	return &InMemoryUsageStore{
		InMemoryStore: NewInMemoryStore[*usage.Record](copyUsageRecord),
	}
}

// FailSummaries makes every summary query return err until Clear is called.
func (s *InMemoryUsageStore) FailSummaries(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	s.summarizeErr = err
}

func (s *InMemoryUsageStore) summaryError() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.summarizeErr
}

// Clear removes every record and any injected failure
func (s *InMemoryUsageStore) Clear() {
	s.FailSummaries(nil)
	s.InMemoryStore.Clear()
}

func copyUsageRecord(r *usage.Record) *usage.Record {
	c := *r
	if r.SourceID != nil {
		c.SourceID = lo.ToPtr(*r.SourceID)
	}
	if r.ProcessedAt != nil {
		c.ProcessedAt = lo.ToPtr(*r.ProcessedAt)
	}
	return &c
}

// Create rejects a second record with the same tenant and source id, like
// the partial unique index on usage_records.
func (s *InMemoryUsageStore) Create(ctx context.Context, record *usage.Record) error {
	if record == nil {
		return ierr.NewError("usage record cannot be nil").
			WithHint("Usage record cannot be nil").
			Mark(ierr.ErrValidation)
	}

	s.createMu.Lock()
	defer s.createMu.Unlock()

	if record.SourceID != nil {
		if _, err := s.GetBySource(ctx, record.TenantID, *record.SourceID); err == nil {
			return ierr.NewError("usage already recorded for source").
				WithHint("Usage already recorded for this source").
				WithReportableDetails(map[string]any{"source_id": *record.SourceID}).
				Mark(ierr.ErrAlreadyExists)
		}
	}
	return s.InMemoryStore.Create(ctx, record.ID, record)
}

func (s *InMemoryUsageStore) Get(ctx context.Context, id string) (*usage.Record, error) {
	r, err := s.InMemoryStore.Get(ctx, id)
	if err != nil || !CheckTenantFilter(ctx, "", r.TenantID) {
		return nil, ierr.NewError("usage record not found").
			WithHint("Usage record not found").
			Mark(ierr.ErrNotFound)
	}
	return r, nil
}

func (s *InMemoryUsageStore) GetBySource(ctx context.Context, tenantID, sourceID string) (*usage.Record, error) {
	records, err := s.InMemoryStore.List(ctx, nil, func(r *usage.Record) bool {
		return CheckTenantFilter(ctx, tenantID, r.TenantID) &&
			r.SourceID != nil && *r.SourceID == sourceID
	}, nil)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, ierr.NewError("usage record not found").
			WithHint("No usage recorded for source").
			WithReportableDetails(map[string]any{"source_id": sourceID}).
			Mark(ierr.ErrNotFound)
	}
	return records[0], nil
}

func (s *InMemoryUsageStore) List(ctx context.Context, filter *types.UsageFilter) ([]*usage.Record, error) {
	if filter == nil {
		filter = &types.UsageFilter{QueryFilter: types.NewDefaultQueryFilter()}
	}
	asc := filter.GetOrder() == types.OrderAsc
	return s.InMemoryStore.List(ctx, filter.QueryFilter, func(r *usage.Record) bool {
		if !CheckTenantFilter(ctx, filter.TenantID, r.TenantID) || !CheckPublished(r.Status) {
			return false
		}
		if filter.SubscriptionID != "" && r.SubscriptionID != filter.SubscriptionID {
			return false
		}
		if filter.BillingPeriod != "" && r.BillingPeriod != filter.BillingPeriod {
			return false
		}
		if len(filter.UsageTypes) > 0 && !lo.Contains(filter.UsageTypes, r.UsageType) {
			return false
		}
		if filter.Processed != nil && r.Processed != *filter.Processed {
			return false
		}
		return true
	}, func(a, b *usage.Record) bool {
		if !a.RecordedAt.Equal(b.RecordedAt) {
			return a.RecordedAt.Before(b.RecordedAt) == asc
		}
		return (a.ID < b.ID) == asc
	})
}

func (s *InMemoryUsageStore) Summarize(ctx context.Context, tenantID, period string) (types.UsageSummary, error) {
	if err := s.summaryError(); err != nil {
		return nil, err
	}
	records, err := s.InMemoryStore.List(ctx, nil, func(r *usage.Record) bool {
		return CheckTenantFilter(ctx, tenantID, r.TenantID) &&
			CheckPublished(r.Status) &&
			r.BillingPeriod == period
	}, nil)
	if err != nil {
		return nil, err
	}

	return sumRecords(records), nil
}

func sumRecords(records []*usage.Record) types.UsageSummary {
	summary := make(types.UsageSummary, len(types.UsageTypes))
	for _, t := range types.UsageTypes {
		summary[t] = 0
	}
	for _, r := range records {
		summary[r.UsageType] += r.Quantity
	}
	return summary
}

func isUnbilled(r *usage.Record, subscriptionID, throughPeriod string, cutoff time.Time) bool {
	return r.SubscriptionID == subscriptionID &&
		CheckPublished(r.Status) &&
		!r.Processed &&
		r.BillingPeriod <= throughPeriod &&
		!r.CreatedAt.After(cutoff)
}

func (s *InMemoryUsageStore) SummarizeUnbilled(ctx context.Context, subscriptionID, throughPeriod string, cutoff time.Time) (types.UsageSummary, error) {
	if err := s.summaryError(); err != nil {
		return nil, err
	}
	records, err := s.InMemoryStore.List(ctx, nil, func(r *usage.Record) bool {
		return isUnbilled(r, subscriptionID, throughPeriod, cutoff)
	}, nil)
	if err != nil {
		return nil, err
	}
	return sumRecords(records), nil
}

func (s *InMemoryUsageStore) MarkBilled(ctx context.Context, subscriptionID, throughPeriod string, cutoff, at time.Time) (int64, error) {
	n := s.InMemoryStore.Mutate(func(r *usage.Record) bool {
		return isUnbilled(r, subscriptionID, throughPeriod, cutoff)
	}, func(r *usage.Record) bool {
		r.Processed = true
		r.ProcessedAt = lo.ToPtr(at)
		r.UpdatedAt = at
		r.UpdatedBy = types.GetUserID(ctx)
		return true
	})
	return int64(n), nil
}

func (s *InMemoryUsageStore) MarkProcessed(ctx context.Context, subscriptionID, period string, at time.Time) (int64, error) {
	n := s.InMemoryStore.Mutate(func(r *usage.Record) bool {
		return r.SubscriptionID == subscriptionID && r.BillingPeriod == period && !r.Processed
	}, func(r *usage.Record) bool {
		r.Processed = true
		r.ProcessedAt = lo.ToPtr(at)
		r.UpdatedAt = at
		r.UpdatedBy = types.GetUserID(ctx)
		return true
	})
	return int64(n), nil
}

func (s *InMemoryUsageStore) ListUnprocessedSubscriptionIDs(ctx context.Context, period, tenantID string) ([]string, error) {
	records, err := s.InMemoryStore.List(ctx, nil, func(r *usage.Record) bool {
		return CheckTenantFilter(ctx, tenantID, r.TenantID) &&
			CheckPublished(r.Status) &&
			r.BillingPeriod == period &&
			!r.Processed
	}, nil)
	if err != nil {
		return nil, err
	}

	ids := lo.Uniq(lo.Map(records, func(r *usage.Record, _ int) string { return r.SubscriptionID }))
	sort.Strings(ids)
	return ids, nil
}
