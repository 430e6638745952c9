package testutil

import (
	"context"
	"sync"

	"rhythm/model"
	"rhythm/provider"
)

// MockAdapter implements provider.Adapter for testing
type MockAdapter struct {
	// Configurable response
	CompleteFunc func(ctx context.Context, req provider.Request) (*model.Envelope, error)

	mu       sync.Mutex
	requests []provider.Request
}

// NewMockAdapter creates a mock adapter that answers every request with a
// fixed text reply.
func NewMockAdapter() *MockAdapter {
	mock := &MockAdapter{}
	mock.CompleteFunc = mock.defaultComplete
	return mock
}

func (m *MockAdapter) defaultComplete(ctx context.Context, req provider.Request) (*model.Envelope, error) {
	if req.OnProgress != nil {
		req.OnProgress("Mock response")
	}
	return TextEnvelope("Mock response"), nil
}

func (m *MockAdapter) Complete(ctx context.Context, req provider.Request) (*model.Envelope, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()
	return m.CompleteFunc(ctx, req)
}

// Requests returns every request received so far.
func (m *MockAdapter) Requests() []provider.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]provider.Request(nil), m.requests...)
}

// Sequence returns a CompleteFunc that replays responses in order and repeats
// the last one once exhausted. A nil envelope with a nil error is not allowed.
func Sequence(steps ...Step) func(ctx context.Context, req provider.Request) (*model.Envelope, error) {
	var (
		mu sync.Mutex
		i  int
	)
	return func(ctx context.Context, req provider.Request) (*model.Envelope, error) {
		mu.Lock()
		step := steps[min(i, len(steps)-1)]
		i++
		mu.Unlock()
		return step.Envelope, step.Err
	}
}

// Step is one scripted adapter response.
type Step struct {
	Envelope *model.Envelope
	Err      error
}
