package shell

import (
	"context"
	"strings"
	"sync"
)

// MockRunner is a mock implementation of Runner for testing.
type MockRunner struct {
	RunFunc func(ctx context.Context, cmd Command) (*Result, error)

	mu    sync.Mutex
	Calls []Command
}

// Run records the command and calls the mock RunFunc.
func (m *MockRunner) Run(ctx context.Context, cmd Command) (*Result, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, cmd)
	m.mu.Unlock()

	if m.RunFunc != nil {
		return m.RunFunc(ctx, cmd)
	}
	return &Result{}, nil
}

// Lines returns every recorded command rendered as a single string.
func (m *MockRunner) Lines() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	lines := make([]string, len(m.Calls))
	for i, c := range m.Calls {
		lines[i] = c.String()
	}
	return lines
}

// Ran reports whether a command starting with prefix was recorded.
func (m *MockRunner) Ran(prefix string) bool {
	for _, line := range m.Lines() {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	return false
}

// Index returns the position of the first recorded command starting with prefix, or -1.
func (m *MockRunner) Index(prefix string) int {
	for i, line := range m.Lines() {
		if strings.HasPrefix(line, prefix) {
			return i
		}
	}
	return -1
}

// Ensure MockRunner implements Runner.
var _ Runner = (*MockRunner)(nil)
