package speech

import (
	"context"
	"sync"
)

// MockRecognizer replays scripted transcripts.
type MockRecognizer struct {
	mu      sync.Mutex
	active  bool
	Scripts []Transcript
}

func NewMockRecognizer(scripts ...Transcript) *MockRecognizer {
	return &MockRecognizer{Scripts: scripts}
}

func (m *MockRecognizer) Start(ctx context.Context) (<-chan Transcript, error) {
	m.mu.Lock()
	m.active = true
	m.mu.Unlock()

	out := make(chan Transcript, len(m.Scripts))
	go func() {
		defer close(out)
		for _, tr := range m.Scripts {
			select {
			case out <- tr:
			case <-ctx.Done():
				return
			}
		}
		m.mu.Lock()
		m.active = false
		m.mu.Unlock()
	}()
	return out, nil
}

func (m *MockRecognizer) Stop() {
	m.mu.Lock()
	m.active = false
	m.mu.Unlock()
}

func (m *MockRecognizer) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// MockSynthesizer records spoken text and stop calls.
type MockSynthesizer struct {
	mu        sync.Mutex
	Spoken    []string
	StopCalls int
}

func NewMockSynthesizer() *MockSynthesizer {
	return &MockSynthesizer{}
}

func (m *MockSynthesizer) Speak(ctx context.Context, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Spoken = append(m.Spoken, text)
	return nil
}

func (m *MockSynthesizer) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StopCalls++
}

// StopCount returns the number of Stop invocations.
func (m *MockSynthesizer) StopCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.StopCalls
}
