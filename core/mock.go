package core

import (
	"context"
	"sync"
)

// MockLLM is a scripted LLMClient for tests and offline development.
// Responses are served in order; when the script is exhausted the last
// response repeats.
type MockLLM struct {
	mu        sync.Mutex
	Responses []string
	Err       error
	calls     int
	Prompts   []string
}

// Generate returns the next scripted response.
func (m *MockLLM) Generate(ctx context.Context, prompt string, opts *GenerateOptions) (*GenerateResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.Prompts = append(m.Prompts, prompt)
	if m.Err != nil {
		return nil, m.Err
	}
	if len(m.Responses) == 0 {
		return &GenerateResult{Content: "", Model: "mock"}, nil
	}
	idx := m.calls
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	}
	m.calls++
	return &GenerateResult{Content: m.Responses[idx], Model: "mock"}, nil
}

// Calls reports how many times Generate was invoked.
func (m *MockLLM) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
