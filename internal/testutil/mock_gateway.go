package testutil

import (
	"context"
	"sync"

	"github.com/voxbill/voxbill/internal/gateway"
	"github.com/voxbill/voxbill/internal/types"
)

var _ gateway.Gateway = (*MockGateway)(nil)

// MockGateway replays scripted outcomes in order and records every request.
// Once the script is exhausted the default outcome is returned.
type MockGateway struct {
	mu       sync.Mutex
	name     string
	script   []MockGatewayResponse
	fallback MockGatewayResponse
	requests []*gateway.AuthorizeRequest
}

// MockGatewayResponse is one scripted answer. Block makes the call wait for
// ctx cancellation, which simulates a provider that never answers.
type MockGatewayResponse struct {
	Outcome *gateway.Outcome
	Err     error
	Block   bool
}

// NewMockGateway returns a gateway that succeeds unless scripted otherwise
func NewMockGateway(name string) *MockGateway {
	return &MockGateway{
		name:     name,
		fallback: MockGatewayResponse{Outcome: gateway.Succeeded("mock_ref")},
	}
}

func (g *MockGateway) Name() string {
	return g.name
}

// Enqueue appends scripted responses
func (g *MockGateway) Enqueue(responses ...MockGatewayResponse) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.script = append(g.script, responses...)
}

// EnqueueFailure scripts a classified decline
func (g *MockGateway) EnqueueFailure(reason types.FailureReason, times int) {
	for i := 0; i < times; i++ {
		g.Enqueue(MockGatewayResponse{Outcome: gateway.Failed("", reason, string(reason))})
	}
}

// SetDefault changes the answer used once the script is exhausted
func (g *MockGateway) SetDefault(resp MockGatewayResponse) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fallback = resp
}

func (g *MockGateway) Authorize(ctx context.Context, req *gateway.AuthorizeRequest) (*gateway.Outcome, error) {
	g.mu.Lock()
	reqCopy := *req
	g.requests = append(g.requests, &reqCopy)
	resp := g.fallback
	if len(g.script) > 0 {
		resp = g.script[0]
		g.script = g.script[1:]
	}
	g.mu.Unlock()

	if resp.Block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if resp.Err != nil {
		return nil, resp.Err
	}
	outcome := *resp.Outcome
	return &outcome, nil
}

// Requests returns the requests seen so far
func (g *MockGateway) Requests() []*gateway.AuthorizeRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]*gateway.AuthorizeRequest(nil), g.requests...)
}

// Calls returns how many times Authorize was invoked
func (g *MockGateway) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.requests)
}
