package service

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/tracekit/tracekit/internal/blob"
	"github.com/tracekit/tracekit/internal/config"
	"github.com/tracekit/tracekit/internal/domain"
	store "github.com/tracekit/tracekit/internal/repository"
	"github.com/tracekit/tracekit/policy"
	"github.com/tracekit/tracekit/tests/helpers"
)

type captureQueue struct {
	traceIDs []string
}

func (q *captureQueue) Enqueue(traceID string) {
	q.traceIDs = append(q.traceIDs, traceID)
}

func newTestService(t *testing.T) (*Service, *captureQueue, store.Store) {
	t.Helper()
	db := helpers.NewTestSQLiteStore(t)
	blobs, err := blob.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore failed: %v", err)
	}
	engine, err := policy.NewEngine(context.Background(), policy.DefaultPolicy)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	svc := New(db, blobs, engine, &config.Config{})
	queue := &captureQueue{}
	svc.SetQAQueue(queue)
	return svc, queue, db
}

func validCreateRequest() *domain.TraceCreateRequest {
	return &domain.TraceCreateRequest{
		Repo: domain.Repo{RepoID: "acme/widgets", CommitBase: "abc123"},
		Task: domain.Task{
			BugReport: domain.BugReport{Title: "crash on save", Description: "saving panics"},
		},
		Developer: domain.Developer{
			DeveloperID: "dev-1",
			ConsentFlags: domain.ConsentFlags{
				StoreRawCode:        true,
				StoreTerminalOutput: true,
				AllowLLMJudge:       true,
			},
		},
		Environment: domain.Environment{IDE: domain.IDE{Name: "vscode"}},
	}
}

func createTestTrace(t *testing.T, svc *Service) string {
	t.Helper()
	resp, err := svc.CreateTrace(context.Background(), validCreateRequest())
	if err != nil {
		t.Fatalf("CreateTrace failed: %v", err)
	}
	return resp.TraceID
}

func terminalEvent(eventID string, seq int64) domain.Event {
	return domain.Event{
		EventID: eventID,
		Seq:     seq,
		TsMs:    1000 + seq,
		Type:    domain.EventTypeTerminalCommand,
		Actor:   domain.Actor{Kind: domain.ActorKindHuman},
		Payload: json.RawMessage(`{"cwd":"/work","command":"go test ./...","shell":"bash"}`),
	}
}

func TestCreateTraceDefaults(t *testing.T) {
	svc, _, db := newTestService(t)
	ctx := context.Background()

	resp, err := svc.CreateTrace(ctx, validCreateRequest())
	if err != nil {
		t.Fatalf("CreateTrace failed: %v", err)
	}
	if resp.Status != domain.TraceStatusCollecting {
		t.Fatalf("unexpected status: %s", resp.Status)
	}
	if !strings.HasPrefix(resp.TraceID, "trace_") {
		t.Fatalf("unexpected trace id: %s", resp.TraceID)
	}

	trace, err := db.GetTrace(ctx, resp.TraceID)
	if err != nil {
		t.Fatalf("GetTrace failed: %v", err)
	}
	if trace.Developer.ExperienceLevel != domain.ExperienceUnknown {
		t.Fatalf("experience level not defaulted: %s", trace.Developer.ExperienceLevel)
	}
	if trace.Policy == nil || !trace.Policy.JudgeAllowed || !trace.Policy.StoreRawOutput {
		t.Fatalf("unexpected policy decision: %+v", trace.Policy)
	}

	// The nested request blocks travel to the trace whole.
	want := validCreateRequest()
	if trace.Task.BugReport.Title != want.Task.BugReport.Title {
		t.Fatalf("bug report not stored: %+v", trace.Task.BugReport)
	}
	if trace.Environment.IDE.Name != want.Environment.IDE.Name {
		t.Fatalf("ide not stored: %+v", trace.Environment.IDE)
	}
	if trace.Repo != want.Repo {
		t.Fatalf("repo not stored: %+v", trace.Repo)
	}
}

func TestCreateTraceValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*domain.TraceCreateRequest)
	}{
		{"missing repo_id", func(r *domain.TraceCreateRequest) { r.Repo.RepoID = "" }},
		{"missing commit_base", func(r *domain.TraceCreateRequest) { r.Repo.CommitBase = "" }},
		{"missing title", func(r *domain.TraceCreateRequest) { r.Task.BugReport.Title = "" }},
		{"missing description", func(r *domain.TraceCreateRequest) { r.Task.BugReport.Description = "" }},
		{"missing developer_id", func(r *domain.TraceCreateRequest) { r.Developer.DeveloperID = "" }},
		{"missing ide name", func(r *domain.TraceCreateRequest) { r.Environment.IDE.Name = "" }},
		{"bad experience level", func(r *domain.TraceCreateRequest) { r.Developer.ExperienceLevel = "wizard" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := validCreateRequest()
			tc.mutate(req)
			if _, err := svc.CreateTrace(ctx, req); !domain.IsValidation(err) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestCreateTracePolicyDenied(t *testing.T) {
	svc, _, db := newTestService(t)
	ctx := context.Background()

	req := validCreateRequest()
	req.Developer.ConsentFlags.AllowLLMJudge = false
	req.Task.Labels = []string{"sensitive"}

	resp, err := svc.CreateTrace(ctx, req)
	if err != nil {
		t.Fatalf("CreateTrace failed: %v", err)
	}
	trace, err := db.GetTrace(ctx, resp.TraceID)
	if err != nil {
		t.Fatalf("GetTrace failed: %v", err)
	}
	if trace.Policy.JudgeAllowed || trace.Policy.StoreRawOutput {
		t.Fatalf("expected denying decision, got %+v", trace.Policy)
	}
}

func TestAppendEventsThroughService(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	traceID := createTestTrace(t, svc)

	resp, err := svc.AppendEvents(ctx, traceID, &domain.EventBatch{
		Events: []domain.Event{terminalEvent("e1", 1), terminalEvent("e2", 2)},
	})
	if err != nil {
		t.Fatalf("AppendEvents failed: %v", err)
	}
	if resp.Accepted != 2 || resp.SeqHigh != 2 {
		t.Fatalf("unexpected response: %+v", resp)
	}

	// Batch-level validation runs before any storage access.
	_, err = svc.AppendEvents(ctx, traceID, &domain.EventBatch{
		Events: []domain.Event{terminalEvent("e3", 3), terminalEvent("e3", 4)},
	})
	if !domain.IsConflict(err) {
		t.Fatalf("expected conflict for intra-batch duplicate, got %v", err)
	}

	_, err = svc.AppendEvents(ctx, "trace_missing", &domain.EventBatch{
		Events: []domain.Event{terminalEvent("e1", 1)},
	})
	if !domain.IsNotFound(err) {
		t.Fatalf("expected not-found, got %v", err)
	}
}

func TestFinalizeEnqueuesQA(t *testing.T) {
	svc, queue, _ := newTestService(t)
	ctx := context.Background()
	traceID := createTestTrace(t, svc)

	resp, err := svc.Finalize(ctx, traceID, &domain.FinalizeRequest{
		FinalState: domain.FinalState{CommitHead: "def456"},
	})
	if err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	if resp.Status != domain.TraceStatusFinalizing {
		t.Fatalf("unexpected status: %s", resp.Status)
	}
	if !strings.HasPrefix(resp.QAJobID, "qa_") {
		t.Fatalf("unexpected qa_job_id: %s", resp.QAJobID)
	}
	if len(queue.traceIDs) != 1 || queue.traceIDs[0] != traceID {
		t.Fatalf("expected one enqueue for %s, got %v", traceID, queue.traceIDs)
	}

	// Second finalize conflicts and does not enqueue again.
	_, err = svc.Finalize(ctx, traceID, &domain.FinalizeRequest{
		FinalState: domain.FinalState{CommitHead: "other"},
	})
	if !domain.IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if len(queue.traceIDs) != 1 {
		t.Fatalf("rejected finalize enqueued qa: %v", queue.traceIDs)
	}

	if _, err := svc.Finalize(ctx, "trace_missing", &domain.FinalizeRequest{}); !domain.IsNotFound(err) {
		t.Fatalf("expected not-found, got %v", err)
	}
}

func TestTerminalTransitionsIdempotent(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	traceID := createTestTrace(t, svc)

	if err := svc.MarkComplete(ctx, traceID); !domain.IsConflict(err) {
		t.Fatalf("expected conflict from collecting, got %v", err)
	}

	if _, err := svc.Finalize(ctx, traceID, &domain.FinalizeRequest{}); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	if err := svc.MarkComplete(ctx, traceID); err != nil {
		t.Fatalf("MarkComplete failed: %v", err)
	}
	// Repeat is a no-op, the opposite terminal is a conflict.
	if err := svc.MarkComplete(ctx, traceID); err != nil {
		t.Fatalf("repeated MarkComplete failed: %v", err)
	}
	if err := svc.MarkFailed(ctx, traceID); !domain.IsConflict(err) {
		t.Fatalf("expected conflict moving complete -> failed, got %v", err)
	}
}

func TestUploadBlobRedactsAndDedupes(t *testing.T) {
	svc, _, db := newTestService(t)
	ctx := context.Background()

	content := []byte("patch for dev@example.com")
	resp1, err := svc.UploadBlob(ctx, content, "text/x-patch")
	if err != nil {
		t.Fatalf("UploadBlob failed: %v", err)
	}
	resp2, err := svc.UploadBlob(ctx, content, "application/octet-stream")
	if err != nil {
		t.Fatalf("second UploadBlob failed: %v", err)
	}
	if resp1.BlobID != resp2.BlobID {
		t.Fatalf("identical content produced different ids: %s vs %s", resp1.BlobID, resp2.BlobID)
	}

	data, meta, err := svc.GetBlob(ctx, resp1.BlobID)
	if err != nil {
		t.Fatalf("GetBlob failed: %v", err)
	}
	if strings.Contains(string(data), "dev@example.com") {
		t.Fatal("stored content not redacted")
	}
	if meta.ContentType != "text/x-patch" {
		t.Fatalf("first writer's content type lost: %s", meta.ContentType)
	}

	stored, err := db.GetBlobMeta(ctx, resp1.BlobID)
	if err != nil {
		t.Fatalf("GetBlobMeta failed: %v", err)
	}
	found := false
	for _, r := range stored.Redaction {
		if r == domain.RedactPIIMask {
			found = true
		}
	}
	if !found {
		t.Fatalf("applied redaction rules not recorded: %v", stored.Redaction)
	}

	if _, err := svc.UploadBlob(ctx, nil, "text/plain"); !domain.IsValidation(err) {
		t.Fatalf("expected validation error for empty content, got %v", err)
	}
}

func TestGetBlobErrors(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	if _, _, err := svc.GetBlob(ctx, "not-a-blob-id"); !domain.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	missing := blob.HashBytes([]byte("never stored"))
	if _, _, err := svc.GetBlob(ctx, missing); !domain.IsNotFound(err) {
		t.Fatalf("expected not-found, got %v", err)
	}
}

func TestGetTraceProjection(t *testing.T) {
	svc, _, db := newTestService(t)
	ctx := context.Background()
	traceID := createTestTrace(t, svc)

	if _, err := svc.AppendEvents(ctx, traceID, &domain.EventBatch{
		Events: []domain.Event{terminalEvent("e1", 1)},
	}); err != nil {
		t.Fatalf("AppendEvents failed: %v", err)
	}
	if err := db.UpdateQA(ctx, traceID, &domain.QA{SchemaValid: true}); err != nil {
		t.Fatalf("UpdateQA failed: %v", err)
	}

	trace, events, err := svc.GetTrace(ctx, traceID, false, false)
	if err != nil {
		t.Fatalf("GetTrace failed: %v", err)
	}
	if trace.QA != nil || events != nil {
		t.Fatalf("projection leaked excluded blocks: qa=%+v events=%d", trace.QA, len(events))
	}

	trace, events, err = svc.GetTrace(ctx, traceID, true, true)
	if err != nil {
		t.Fatalf("GetTrace failed: %v", err)
	}
	if trace.QA == nil || len(events) != 1 {
		t.Fatalf("projection missing included blocks: qa=%+v events=%d", trace.QA, len(events))
	}

	if _, _, err := svc.GetTrace(ctx, "trace_missing", false, false); !domain.IsNotFound(err) {
		t.Fatalf("expected not-found, got %v", err)
	}
}
