package ai

import (
	"context"
	"sync"
)

// MockStep is one scripted reply: either a response or an error.
type MockStep struct {
	Response Response
	Err      error
}

// MockClient replays scripted steps in order and records every request it
// receives. The last step repeats once the script is exhausted.
type MockClient struct {
	mu       sync.Mutex
	Steps    []MockStep
	Requests []Request
}

func (m *MockClient) ChatCompletion(_ context.Context, req Request) (Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Requests = append(m.Requests, req)
	if len(m.Steps) == 0 {
		return Response{Content: "ok", Model: "mock-v1"}, nil
	}
	idx := len(m.Requests) - 1
	if idx >= len(m.Steps) {
		idx = len(m.Steps) - 1
	}
	step := m.Steps[idx]
	return step.Response, step.Err
}

// Calls returns how many requests the mock has served.
func (m *MockClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Requests)
}
