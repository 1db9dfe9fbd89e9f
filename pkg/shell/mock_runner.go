package shell

import (
	"context"
	"strings"
	"sync"
)

// MockRunner records calls and returns preconfigured responses.
// Set RunFn for per call responses, otherwise Out & Err are returned.
type MockRunner struct {
	Calls []string
	Out   string
	Err   error
	RunFn func(line string) (string, error)

	mu sync.Mutex
}

// compile time check to verify if the structure
// MockRunner implements the interface Runner
var _ Runner = (*MockRunner)(nil)

func (m *MockRunner) Run(_ context.Context, bin string, args ...string) (string, error) {
	line := Line(bin, args...)
	m.mu.Lock()
	m.Calls = append(m.Calls, line)
	m.mu.Unlock()
	if m.RunFn != nil {
		return m.RunFn(line)
	}
	return m.Out, m.Err
}

// Called returns true if any recorded call starts with the given prefix
func (m *MockRunner) Called(prefix string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.Calls {
		if strings.HasPrefix(c, prefix) {
			return true
		}
	}
	return false
}

// IndexOf returns the position of the first call with the given prefix
// or -1 when no such call was recorded
func (m *MockRunner) IndexOf(prefix string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, c := range m.Calls {
		if strings.HasPrefix(c, prefix) {
			return i
		}
	}
	return -1
}
