package provider

import (
	"context"
	"sync"
)

// MockProvider is a scripted provider for tests and local development.
// Replies are consumed in order; when the script runs out it falls back
// to Reply (or an error if Err is set).
type MockProvider struct {
	mu      sync.Mutex
	Script  []Response
	Reply   string
	Err     error
	Delay   func(ctx context.Context) error
	calls   int
	lastReq Request
}

func (m *MockProvider) Complete(ctx context.Context, req Request) (Response, error) {
	m.mu.Lock()
	m.calls++
	m.lastReq = req
	var scripted *Response
	if len(m.Script) > 0 {
		r := m.Script[0]
		m.Script = m.Script[1:]
		scripted = &r
	}
	m.mu.Unlock()

	if m.Delay != nil {
		if err := m.Delay(ctx); err != nil {
			return Response{}, err
		}
	}
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}

	if scripted != nil {
		return *scripted, nil
	}
	if m.Err != nil {
		return Response{}, m.Err
	}
	if m.Reply == "" {
		return Response{Content: "Happy to help! What would you like to talk about?", Model: "mock"}, nil
	}
	return Response{Content: m.Reply, Model: "mock"}, nil
}

func (m *MockProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *MockProvider) LastRequest() Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastReq
}
