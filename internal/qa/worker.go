// Package qa runs the post-finalize quality-assessment chain:
// run_tests, run_judge, finalize_qa. Every stage is idempotent, so a
// trace may be enqueued any number of times.
package qa

import (
	"context"
	"log"
	"time"

	"github.com/tracekit/tracekit/internal/adapter/llm"
	"github.com/tracekit/tracekit/internal/adapter/sandbox"
	"github.com/tracekit/tracekit/internal/config"
	"github.com/tracekit/tracekit/internal/domain"
	"github.com/tracekit/tracekit/internal/materialize"
	"github.com/tracekit/tracekit/internal/service"
)

const (
	queueCapacity = 256
	sweepBatch    = 50
)

// Worker owns the QA chain. Finalize feeds its queue; a periodic sweep
// re-claims any trace left in finalizing, so a crash mid-chain is
// recovered on the next tick.
type Worker struct {
	svc     *service.Service
	sandbox sandbox.Executor
	judge   llm.Client
	config  *config.Config
	queue   chan string
}

func NewWorker(svc *service.Service, exec sandbox.Executor, judge llm.Client, cfg *config.Config) *Worker {
	return &Worker{
		svc:     svc,
		sandbox: exec,
		judge:   judge,
		config:  cfg,
		queue:   make(chan string, queueCapacity),
	}
}

// Enqueue hands a trace to the chain. Never blocks: a full queue drops
// the hint and relies on the sweep to pick the trace up.
func (w *Worker) Enqueue(traceID string) {
	select {
	case w.queue <- traceID:
	default:
		log.Printf("WARN: qa queue full, deferring trace %s to sweep", traceID)
	}
}

// Run processes the queue until ctx is cancelled, sweeping for stuck
// finalizing traces on every interval.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.config.QASweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case traceID := <-w.queue:
			w.Process(ctx, traceID)
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *Worker) sweep(ctx context.Context) {
	ids, err := w.svc.Store().ListTraceIDsByStatus(ctx, domain.TraceStatusFinalizing, sweepBatch)
	if err != nil {
		log.Printf("ERROR: qa sweep failed: %v", err)
		return
	}
	for _, id := range ids {
		w.Process(ctx, id)
	}
}

// Process runs the chain for one trace. Safe to call repeatedly: each
// stage checks its QA slot and returns immediately when already done,
// and the terminal transition is conditional on finalizing.
func (w *Worker) Process(ctx context.Context, traceID string) {
	trace, err := w.svc.Store().GetTrace(ctx, traceID)
	if err != nil {
		log.Printf("ERROR: qa chain cannot load trace %s: %v", traceID, err)
		return
	}
	if trace == nil || trace.Status != domain.TraceStatusFinalizing {
		return
	}

	qa := trace.QA
	if qa == nil {
		qa = &domain.QA{}
	}

	if qa.Tests == nil && qa.Error == "" {
		tests, err := w.runTests(ctx, trace)
		if err != nil {
			// Sandbox unreachable. The run itself failing is not an
			// error; that lands in the invocation record instead.
			qa.Error = "run_tests: " + err.Error()
		} else {
			qa.Tests = tests
		}
		if uerr := w.svc.Store().UpdateQA(ctx, traceID, qa); uerr != nil {
			log.Printf("ERROR: persist qa tests for %s: %v", traceID, uerr)
			return
		}
	}

	if qa.Error != "" {
		if err := w.svc.MarkFailed(ctx, traceID); err != nil {
			log.Printf("ERROR: mark trace %s failed: %v", traceID, err)
		}
		return
	}

	if qa.Judge == nil {
		qa.Judge = w.runJudge(ctx, trace, qa.Tests)
		if err := w.svc.Store().UpdateQA(ctx, traceID, qa); err != nil {
			log.Printf("ERROR: persist qa judge for %s: %v", traceID, err)
			return
		}
	}

	if err := w.finalizeQA(ctx, trace, qa); err != nil {
		log.Printf("ERROR: finalize qa for %s: %v", traceID, err)
	}
}

// finalizeQA validates the assembled document, materializes it and
// moves the trace to its terminal state.
func (w *Worker) finalizeQA(ctx context.Context, trace *domain.Trace, qa *domain.QA) error {
	events, err := w.svc.Store().GetEvents(ctx, trace.TraceID)
	if err != nil {
		return err
	}

	trace.QA = qa
	assembled := materialize.Assemble(trace, events)
	qa.SchemaValid = materialize.ValidateDocument(assembled) == nil
	if err := w.svc.Store().UpdateQA(ctx, trace.TraceID, qa); err != nil {
		return err
	}

	if qa.SchemaValid {
		// The document is written just ahead of the terminal transition
		// and records the state the trace is about to land in.
		trace.Status = domain.TraceStatusComplete
		m := materialize.New(w.svc.Store(), w.svc.Blobs(), w.config.InlineBlobMaxBytes)
		if _, err := m.Materialize(ctx, trace); err != nil {
			// A failed document write is infrastructural. The trace must
			// not land in complete without its document.
			qa.Error = "finalize_qa: " + err.Error()
			if uerr := w.svc.Store().UpdateQA(ctx, trace.TraceID, qa); uerr != nil {
				log.Printf("ERROR: persist qa error for %s: %v", trace.TraceID, uerr)
			}
			return w.svc.MarkFailed(ctx, trace.TraceID)
		}
	}

	return w.svc.MarkComplete(ctx, trace.TraceID)
}
