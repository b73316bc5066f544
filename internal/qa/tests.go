package qa

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/tracekit/tracekit/internal/adapter/sandbox"
	"github.com/tracekit/tracekit/internal/domain"
)

// runTests executes the repo's test suite against the finalized code
// state in the sandbox. A failed run (nonzero exit, timeout, resource
// limit) is a normal outcome recorded on the invocation; an error means
// the stage infrastructure failed (sandbox unreachable, captured output
// not durably stored).
func (w *Worker) runTests(ctx context.Context, trace *domain.Trace) (*domain.QATests, error) {
	spec := sandbox.Spec{
		Image:          w.config.SandboxImage,
		Command:        w.config.SandboxCommand,
		CommitBase:     trace.Repo.CommitBase,
		RepoURL:        trace.Repo.RemoteURL,
		TimeoutMs:      w.config.SandboxTimeout.Milliseconds(),
		MemoryBytes:    w.config.SandboxMemoryBytes,
		DisableNetwork: true,
	}
	if trace.FinalState != nil {
		spec.CommitHead = trace.FinalState.CommitHead
	}

	runCtx, cancel := context.WithTimeout(ctx, w.config.SandboxTimeout+10*time.Second)
	defer cancel()

	result, err := w.sandbox.Run(runCtx, spec)
	if err != nil {
		return nil, err
	}

	inv := domain.TestInvocation{
		InvocationID: "inv_" + uuid.NewString(),
		TsMs:         time.Now().UnixMilli(),
		Command:      spec.Command,
		ExitCode:     result.ExitCode,
		DurationMs:   result.DurationMs,
		Passed:       result.ExitCode == 0 && !result.TimedOut,
		Error:        result.Error,
	}

	rules := outputRedactionRules(trace)
	if inv.StdoutBlobID, err = w.storeOutput(ctx, result.Stdout, "text/plain", rules); err != nil {
		return nil, err
	}
	if inv.StderrBlobID, err = w.storeOutput(ctx, result.Stderr, "text/plain", rules); err != nil {
		return nil, err
	}
	if inv.ReportBlobID, err = w.storeOutput(ctx, result.Report, "application/json", rules); err != nil {
		return nil, err
	}

	return &domain.QATests{
		Runner:         "sandbox",
		ContainerImage: spec.Image,
		Invocations:    []domain.TestInvocation{inv},
		FinalPassed:    inv.Passed,
	}, nil
}

// outputRedactionRules picks the redaction pass for captured output.
// When the consent decision permits raw output only truncation applies;
// otherwise the full pass runs.
func outputRedactionRules(trace *domain.Trace) []domain.RedactionRule {
	if trace.Policy != nil && trace.Policy.StoreRawOutput {
		return []domain.RedactionRule{domain.RedactTruncateLarge}
	}
	return nil
}

// storeOutput uploads a captured stream, returning its blob id or ""
// when there is nothing to store.
func (w *Worker) storeOutput(ctx context.Context, data []byte, contentType string, rules []domain.RedactionRule) (string, error) {
	if len(data) == 0 {
		return "", nil
	}
	resp, err := w.svc.UploadBlobWithRules(ctx, data, contentType, rules)
	if err != nil {
		return "", err
	}
	return resp.BlobID, nil
}
