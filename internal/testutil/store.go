package testutil

import (
	"context"
	"sort"
	"sync"

	ierr "github.com/voxbill/voxbill/internal/errors"
	"github.com/voxbill/voxbill/internal/types"
)

// FilterFunc is a generic filter function type
type FilterFunc[T any] func(ctx context.Context, item T, filter interface{}) bool

// SortFunc is a generic sort function type
type SortFunc[T any] func(i, j T) bool

// CloneFunc returns a copy of an item. Stores hand out copies so a caller
// mutating a fetched entity does not change stored state before Update.
type CloneFunc[T any] func(T) T

// InMemoryStore implements a generic in-memory store
type InMemoryStore[T any] struct {
	mu    sync.RWMutex
	items map[string]T
	clone CloneFunc[T]
}

// NewInMemoryStore creates a new InMemoryStore
func NewInMemoryStore[T any](clone CloneFunc[T]) *InMemoryStore[T] {
	return &InMemoryStore[T]{
		items: make(map[string]T),
		clone: clone,
	}
}

func (s *InMemoryStore[T]) copy(item T) T {
	if s.clone == nil {
		return item
	}
	return s.clone(item)
}

// Create adds a new item to the store
func (s *InMemoryStore[T]) Create(ctx context.Context, id string, item T) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.items[id]; exists {
		return ierr.NewError("item already exists").
			WithHintf("Item %s already exists", id).
			Mark(ierr.ErrAlreadyExists)
	}

	s.items[id] = s.copy(item)
	return nil
}

// Get retrieves an item by ID
func (s *InMemoryStore[T]) Get(ctx context.Context, id string) (T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if item, exists := s.items[id]; exists {
		return s.copy(item), nil
	}

	var zero T
	return zero, ierr.NewError("item not found").
		WithHintf("Item %s not found", id).
		Mark(ierr.ErrNotFound)
}

// List retrieves items based on filter
func (s *InMemoryStore[T]) List(ctx context.Context, filter *types.QueryFilter, matches func(T) bool, sortFn SortFunc[T]) ([]T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]T, 0)
	for _, item := range s.items {
		if matches == nil || matches(item) {
			result = append(result, s.copy(item))
		}
	}

	if sortFn != nil {
		sort.SliceStable(result, func(i, j int) bool {
			return sortFn(result[i], result[j])
		})
	}

	if filter != nil && !filter.IsUnlimited() {
		start := filter.GetOffset()
		if start >= len(result) {
			return []T{}, nil
		}

		end := start + filter.GetLimit()
		if end > len(result) {
			end = len(result)
		}
		return result[start:end], nil
	}

	return result, nil
}

// Count returns the total number of items matching the filter
func (s *InMemoryStore[T]) Count(ctx context.Context, matches func(T) bool) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, item := range s.items {
		if matches == nil || matches(item) {
			count++
		}
	}

	return count, nil
}

// Update replaces an existing item
func (s *InMemoryStore[T]) Update(ctx context.Context, id string, item T) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.items[id]; !exists {
		return ierr.NewError("item not found").
			WithHintf("Item %s not found", id).
			Mark(ierr.ErrNotFound)
	}

	s.items[id] = s.copy(item)
	return nil
}

// Mutate applies fn to every stored item matching the predicate under the
// write lock and returns how many items fn reported as changed.
func (s *InMemoryStore[T]) Mutate(matches func(T) bool, fn func(T) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := 0
	for _, item := range s.items {
		if matches(item) && fn(item) {
			changed++
		}
	}
	return changed
}

// CompareAndUpdate replaces an item when check accepts the stored version
func (s *InMemoryStore[T]) CompareAndUpdate(ctx context.Context, id string, item T, check func(stored T) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, exists := s.items[id]
	if !exists {
		return ierr.NewError("item not found").
			WithHintf("Item %s not found", id).
			Mark(ierr.ErrNotFound)
	}
	if err := check(stored); err != nil {
		return err
	}

	s.items[id] = s.copy(item)
	return nil
}

// Delete removes an item from the store
func (s *InMemoryStore[T]) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.items[id]; !exists {
		return ierr.NewError("item not found").
			WithHintf("Item %s not found", id).
			Mark(ierr.ErrNotFound)
	}

	delete(s.items, id)
	return nil
}

// Clear removes all items from the store
func (s *InMemoryStore[T]) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make(map[string]T)
}

// CheckTenantFilter reports whether an item is visible to the tenant scope.
// An explicit tenant wins over ctx, with neither every tenant is visible.
func CheckTenantFilter(ctx context.Context, explicitTenantID, itemTenantID string) bool {
	tenantID := explicitTenantID
	if tenantID == "" {
		tenantID = types.GetTenantID(ctx)
	}
	return tenantID == "" || tenantID == itemTenantID
}

// CheckPublished mirrors the soft delete filter of the postgres repositories
func CheckPublished(status types.Status) bool {
	return status == "" || status == types.StatusPublished
}

func versionConflict(entity, id string, version int) error {
	return ierr.NewError(entity + " was modified concurrently").
		WithHintf("The %s changed since it was read, reload and try again", entity).
		WithReportableDetails(map[string]any{
			"id":      id,
			"version": version,
		}).
		Mark(ierr.ErrVersionConflict)
}
