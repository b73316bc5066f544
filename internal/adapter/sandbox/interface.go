// Package sandbox provides the isolated command-execution capability
// used by the QA test stage.
package sandbox

import "context"

// Spec describes one sandboxed execution: what to run and the resource
// ceilings the sandbox must enforce.
type Spec struct {
	// Image names the sandbox base image.
	Image string
	// Command is the shell command to execute.
	Command string
	// CommitHead and CommitBase locate the code state under test.
	CommitHead string
	CommitBase string
	// RepoURL is the checkout source, when available.
	RepoURL string
	// TimeoutMs is the wall-clock ceiling. Exceeding it terminates the
	// run and is reported as TimedOut, not as an executor error.
	TimeoutMs int64
	// MemoryBytes is the memory ceiling, enforced where supported.
	MemoryBytes int64
	// DisableNetwork requests no-network mode, where supported.
	DisableNetwork bool
}

// Result is the outcome of a sandboxed execution. An executor returns
// a Result for every run it managed to start, even failed ones; a Go
// error means the sandbox itself was unreachable (infrastructural).
type Result struct {
	ExitCode   int
	Stdout     []byte
	Stderr     []byte
	Report     []byte
	DurationMs int64
	TimedOut   bool
	// Error annotates a failed run (crash, timeout, resource limit).
	Error string
}

// Executor runs a command in an isolated, resource-bounded sandbox and
// returns the exit code and captured streams.
type Executor interface {
	Run(ctx context.Context, spec Spec) (*Result, error)
}
