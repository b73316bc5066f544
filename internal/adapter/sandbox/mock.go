package sandbox

import "context"

// MockExecutor is a configurable Executor for testing and local runs.
type MockExecutor struct {
	// Result is returned from every Run when Err is nil.
	Result *Result
	// Err simulates an unreachable sandbox.
	Err error
	// Calls counts Run invocations.
	Calls int
}

// NewMockExecutor creates a mock that reports a passing run.
func NewMockExecutor() *MockExecutor {
	return &MockExecutor{
		Result: &Result{
			ExitCode:   0,
			Stdout:     []byte("ok\t1 passed\n"),
			DurationMs: 120,
		},
	}
}

// Ensure MockExecutor implements Executor.
var _ Executor = (*MockExecutor)(nil)

// Run returns the configured result.
func (m *MockExecutor) Run(ctx context.Context, spec Spec) (*Result, error) {
	m.Calls++
	if m.Err != nil {
		return nil, m.Err
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	return m.Result, nil
}

// New creates an executor for the given mode, mirroring the llm
// factory: MOCK selects MockExecutor, anything else the local one.
func New(mode string) Executor {
	if mode == "MOCK" {
		return NewMockExecutor()
	}
	return NewLocalExecutor()
}
