package activity

import (
	"context"
	"sync"
)

// MockTool is a test Tool with canned responses and call recording.
type MockTool struct {
	ToolName string

	// Responses is returned in order, one per call; the last response
	// repeats once exhausted.
	Responses []map[string]interface{}

	// Err, if set, is returned instead of a response.
	Err error

	Calls []MockToolCall

	mu    sync.Mutex
	index int
}

// MockToolCall records a single Call invocation.
type MockToolCall struct {
	Input map[string]interface{}
}

func (m *MockTool) Name() string { return m.ToolName }

func (m *MockTool) Call(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, MockToolCall{Input: input})
	if m.Err != nil {
		return nil, m.Err
	}
	if len(m.Responses) == 0 {
		return map[string]interface{}{}, nil
	}

	idx := m.index
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	} else {
		m.index++
	}
	return m.Responses[idx], nil
}

// Reset clears call history, for reuse across test cases.
func (m *MockTool) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = nil
	m.index = 0
}

// CallCount reports how many times Call has been invoked.
func (m *MockTool) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}
