package testutil

import (
	"context"
	"sync"

	"github.com/voxbill/voxbill/internal/logger"
	"github.com/voxbill/voxbill/internal/postgres"
	"github.com/voxbill/voxbill/internal/types"
)

var _ postgres.IClient = (*MockPostgresClient)(nil) // Ensure MockPostgresClient implements IClient

type txMarker struct{}

// MockPostgresClient is a mock implementation of postgres client for testing
type MockPostgresClient struct {
	logger *logger.Logger

	mu           sync.Mutex
	transactions int
}

// NewMockPostgresClient creates a new mock postgres client
func NewMockPostgresClient(logger *logger.Logger) *MockPostgresClient {
	return &MockPostgresClient{
		logger: logger,
	}
}

// WithTx executes the given function within a transaction
func (c *MockPostgresClient) WithTx(ctx context.Context, fn func(context.Context) error) error {
	// If we're already in a transaction, reuse it
	if InTx(ctx) {
		return fn(ctx)
	}

	c.mu.Lock()
	c.transactions++
	c.mu.Unlock()

	// For testing, we just mark the context instead of opening a real transaction
	return fn(context.WithValue(ctx, types.CtxDBTransaction, txMarker{}))
}

// Transactions returns the number of outermost transactions opened so far
func (c *MockPostgresClient) Transactions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transactions
}

// Reset forgets the recorded transactions
func (c *MockPostgresClient) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transactions = 0
}

// InTx reports whether ctx was produced by WithTx
func InTx(ctx context.Context) bool {
	_, ok := ctx.Value(types.CtxDBTransaction).(txMarker)
	return ok
}
