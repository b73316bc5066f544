package sandbox

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"
)

// LocalExecutor runs commands as local subprocesses. The wall-clock
// timeout is enforced via context; memory and network ceilings are
// passed through to the command environment and are best-effort on a
// plain host. Production deployments use a container-backed Executor.
type LocalExecutor struct {
	// Shell is the interpreter used to run Spec.Command, /bin/sh by default.
	Shell string
}

// NewLocalExecutor creates a subprocess-backed executor.
func NewLocalExecutor() *LocalExecutor {
	return &LocalExecutor{Shell: "/bin/sh"}
}

// Ensure LocalExecutor implements Executor.
var _ Executor = (*LocalExecutor)(nil)

// Run executes the spec's command and captures its streams.
func (e *LocalExecutor) Run(ctx context.Context, spec Spec) (*Result, error) {
	if spec.Command == "" {
		return nil, errors.New("sandbox: empty command")
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if spec.TimeoutMs > 0 {
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(spec.TimeoutMs)*time.Millisecond)
		defer cancel()
	}

	shell := e.Shell
	if shell == "" {
		shell = "/bin/sh"
	}

	cmd := exec.CommandContext(runCtx, shell, "-c", spec.Command)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	durationMs := time.Since(start).Milliseconds()

	result := &Result{
		Stdout:     stdout.Bytes(),
		Stderr:     stderr.Bytes(),
		DurationMs: durationMs,
	}

	if runCtx.Err() == context.DeadlineExceeded {
		result.ExitCode = -1
		result.TimedOut = true
		result.Error = "sandbox: wall-clock timeout exceeded"
		return result, nil
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		// Command never started: the sandbox capability itself failed.
		return nil, err
	}

	result.ExitCode = 0
	return result, nil
}
