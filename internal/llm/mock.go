package llm

import (
	"context"
	"sync"
)

// MockProvider is a scriptable Provider for tests.
type MockProvider struct {
	mu        sync.Mutex
	responses []*ChatResponse
	requests  []ChatRequest

	// ChatFunc, when set, overrides the scripted responses entirely.
	ChatFunc func(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// NewMockProvider creates a mock provider that returns empty completions
// until scripted with SetResponse or QueueResponse.
func NewMockProvider() *MockProvider {
	return &MockProvider{}
}

// SetResponse makes every subsequent call return a plain text completion.
func (m *MockProvider) SetResponse(content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = []*ChatResponse{{Content: content, StopReason: StopEndTurn}}
}

// QueueResponse appends a response to the script. Responses are consumed
// in order; the last one repeats once the queue is exhausted.
func (m *MockProvider) QueueResponse(resp *ChatResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if resp.StopReason == "" {
		if len(resp.ToolCalls) > 0 {
			resp.StopReason = StopToolUse
		} else {
			resp.StopReason = StopEndTurn
		}
	}
	m.responses = append(m.responses, resp)
}

// Chat implements Provider.
func (m *MockProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if m.ChatFunc != nil {
		m.mu.Lock()
		m.requests = append(m.requests, req)
		m.mu.Unlock()
		return m.ChatFunc(ctx, req)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)

	if len(m.responses) == 0 {
		return &ChatResponse{StopReason: StopEndTurn}, nil
	}
	resp := m.responses[0]
	if len(m.responses) > 1 {
		m.responses = m.responses[1:]
	}
	return resp, nil
}

// CallCount returns how many Chat calls were made.
func (m *MockProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// LastRequest returns the most recent request, or nil.
func (m *MockProvider) LastRequest() *ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return nil
	}
	return &m.requests[len(m.requests)-1]
}
