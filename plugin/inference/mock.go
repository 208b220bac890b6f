package inference

import (
	"context"
	"sync"
)

// MockEngine is a configurable fake engine for tests.
type MockEngine struct {
	mu sync.Mutex

	// AnalyzeFunc, when set, handles AnalyzeDocument calls.
	AnalyzeFunc func(ctx context.Context, req *Request) (string, error)
	// ChatFunc, when set, handles Chat calls.
	ChatFunc func(ctx context.Context, messages []Message) (string, error)

	// Recorded calls.
	AnalyzeCalls []*Request
	ChatCalls    [][]Message
	// FrameCounts records len(req.Frames) per analyze call, captured before
	// the caller releases the frames.
	FrameCounts []int
}

// NewMockEngine creates a mock that echoes a canned response.
func NewMockEngine() *MockEngine {
	return &MockEngine{}
}

func (m *MockEngine) AnalyzeDocument(ctx context.Context, req *Request) (string, error) {
	m.mu.Lock()
	m.AnalyzeCalls = append(m.AnalyzeCalls, req)
	m.FrameCounts = append(m.FrameCounts, len(req.Frames))
	fn := m.AnalyzeFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	return "mock analysis response", nil
}

func (m *MockEngine) Chat(ctx context.Context, messages []Message) (string, error) {
	m.mu.Lock()
	m.ChatCalls = append(m.ChatCalls, messages)
	fn := m.ChatFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, messages)
	}
	return "mock chat response", nil
}

// AnalyzeCallCount returns the number of AnalyzeDocument calls.
func (m *MockEngine) AnalyzeCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.AnalyzeCalls)
}
