package materialize

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/tracekit/tracekit/internal/blob"
	"github.com/tracekit/tracekit/internal/domain"
	store "github.com/tracekit/tracekit/internal/repository"
	"github.com/tracekit/tracekit/tests/helpers"
)

func goldenTrace() *domain.Trace {
	finalized := int64(2000)
	return &domain.Trace{
		TraceVersion:  domain.TraceVersion,
		TraceID:       "trace_0001",
		CreatedAtMs:   1000,
		FinalizedAtMs: &finalized,
		Status:        domain.TraceStatusComplete,
		Repo:          domain.Repo{RepoID: "acme/widgets", CommitBase: "abc123"},
		Task: domain.Task{
			BugReport: domain.BugReport{
				Title:       "crash on save",
				Description: "saving panics",
				Links:       []string{},
			},
			Labels: []string{},
		},
		Developer: domain.Developer{
			DeveloperID:     "dev-1",
			ExperienceLevel: domain.ExperienceMid,
			ConsentFlags: domain.ConsentFlags{
				StoreRawCode:        true,
				StoreTerminalOutput: true,
				AllowLLMJudge:       true,
			},
		},
		Environment: domain.Environment{
			IDE:      domain.IDE{Name: "vscode"},
			Language: []string{"go"},
		},
		Policy:     &domain.PolicyDecision{JudgeAllowed: true, StoreRawOutput: true},
		FinalState: &domain.FinalState{CommitHead: "def456"},
		QA: &domain.QA{
			SchemaValid: true,
			Tests: &domain.QATests{
				Runner: "sandbox",
				Invocations: []domain.TestInvocation{{
					InvocationID: "inv_0001",
					TsMs:         1500,
					Command:      "make test",
					ExitCode:     0,
					DurationMs:   120,
					Passed:       true,
				}},
				FinalPassed: true,
			},
			Judge: &domain.JudgeResult{
				Model:         "gpt-4o",
				RubricVersion: domain.RubricVersion,
				Scores: domain.JudgeScores{
					RootCauseIdentification: 3.5,
					PlanQuality:             3,
					ExperimentIterateLoop:   3,
					UseOfSignalsTestsLogs:   3.5,
					MinimalityOfFix:         4,
					Clarity:                 3,
				},
				Overall: 3.3,
				Flags:   []domain.JudgeFlag{},
			},
		},
	}
}

func goldenEvents() []domain.Event {
	return []domain.Event{{
		EventID: "e1",
		Seq:     1,
		TsMs:    1000,
		Type:    domain.EventTypeTerminalCommand,
		Actor:   domain.Actor{Kind: domain.ActorKindHuman},
		Payload: json.RawMessage(`{"cwd":"/work","command":"go test ./...","shell":"bash"}`),
	}}
}

func TestAssembledDocumentGolden(t *testing.T) {
	doc := Assemble(goldenTrace(), goldenEvents())
	if err := ValidateDocument(doc); err != nil {
		t.Fatalf("golden document invalid: %v", err)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "document", data)
}

func TestValidateDocumentRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*domain.Trace, []domain.Event) []domain.Event
	}{
		{"missing trace_version", func(tr *domain.Trace, ev []domain.Event) []domain.Event {
			tr.TraceVersion = ""
			return ev
		}},
		{"missing final_state", func(tr *domain.Trace, ev []domain.Event) []domain.Event {
			tr.FinalState = nil
			return ev
		}},
		{"missing bug report title", func(tr *domain.Trace, ev []domain.Event) []domain.Event {
			tr.Task.BugReport.Title = ""
			return ev
		}},
		{"non-increasing seq", func(tr *domain.Trace, ev []domain.Event) []domain.Event {
			dup := ev[0]
			dup.EventID = "e2"
			return append(ev, dup)
		}},
		{"invalid payload", func(tr *domain.Trace, ev []domain.Event) []domain.Event {
			ev[0].Payload = json.RawMessage(`{"command":""}`)
			return ev
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tr := goldenTrace()
			ev := tc.mutate(tr, goldenEvents())
			doc := Assemble(tr, ev)
			if err := ValidateDocument(doc); !domain.IsValidation(err) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func newMaterializerFixture(t *testing.T, inlineMax int64) (*Materializer, store.Store, blob.Store) {
	t.Helper()
	db := helpers.NewTestSQLiteStore(t)
	blobs := helpers.NewTestBlobStore(t)
	return New(db, blobs, inlineMax), db, blobs
}

func seedTrace(t *testing.T, db store.Store, trace *domain.Trace, events []domain.Event) {
	t.Helper()
	ctx := context.Background()
	collecting := *trace
	collecting.Status = domain.TraceStatusCollecting
	if err := db.CreateTrace(ctx, &collecting); err != nil {
		t.Fatalf("CreateTrace failed: %v", err)
	}
	if len(events) > 0 {
		if _, _, err := db.AppendEvents(ctx, trace.TraceID, events); err != nil {
			t.Fatalf("AppendEvents failed: %v", err)
		}
	}
}

func TestMaterializeWritesDocument(t *testing.T) {
	ctx := context.Background()
	m, db, blobs := newMaterializerFixture(t, 0)

	trace := goldenTrace()
	seedTrace(t, db, trace, goldenEvents())

	blobID, err := m.Materialize(ctx, trace)
	if err != nil {
		t.Fatalf("Materialize failed: %v", err)
	}

	data, err := blobs.Get(blobID)
	if err != nil {
		t.Fatalf("document blob missing: %v", err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("document is not valid JSON: %v", err)
	}
	if doc.TraceID != trace.TraceID || len(doc.Events) != 1 {
		t.Fatalf("unexpected document: trace_id=%s events=%d", doc.TraceID, len(doc.Events))
	}
	if doc.InlineBlobs != nil {
		t.Fatalf("inline blobs present without inline mode: %v", doc.InlineBlobs)
	}

	meta, err := db.GetBlobMeta(ctx, blobID)
	if err != nil {
		t.Fatalf("GetBlobMeta failed: %v", err)
	}
	if meta == nil || meta.ContentType != DocumentContentType {
		t.Fatalf("unexpected document meta: %+v", meta)
	}

	stored, err := db.GetTrace(ctx, trace.TraceID)
	if err != nil {
		t.Fatalf("GetTrace failed: %v", err)
	}
	if stored.FinalState == nil || stored.FinalState.DocumentBlobID != blobID {
		t.Fatalf("document_blob_id not recorded: %+v", stored.FinalState)
	}
}

func TestMaterializeInlineMode(t *testing.T) {
	ctx := context.Background()
	m, db, blobs := newMaterializerFixture(t, 1024)

	content := []byte("Suspect the config loader returns nil.")
	thoughtID, err := blobs.Put(content, "text/plain")
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	uri, err := blobs.URI(thoughtID)
	if err != nil {
		t.Fatalf("URI failed: %v", err)
	}
	if _, err := db.PutBlobMeta(ctx, &store.BlobMeta{
		BlobID:      thoughtID,
		ContentType: "text/plain",
		ByteLength:  int64(len(content)),
		StorageURI:  uri,
		CreatedAtMs: 1000,
	}); err != nil {
		t.Fatalf("PutBlobMeta failed: %v", err)
	}

	trace := goldenTrace()
	events := []domain.Event{{
		EventID: "e1",
		Seq:     1,
		TsMs:    1000,
		Type:    domain.EventTypeThought,
		Actor:   domain.Actor{Kind: domain.ActorKindHuman},
		Payload: domain.RawJSON(domain.ThoughtPayload{ContentBlobID: thoughtID, Kind: domain.ThoughtHypothesis, LinksTo: []string{}}),
	}}
	seedTrace(t, db, trace, events)

	blobID, err := m.Materialize(ctx, trace)
	if err != nil {
		t.Fatalf("Materialize failed: %v", err)
	}

	data, err := blobs.Get(blobID)
	if err != nil {
		t.Fatalf("document blob missing: %v", err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("document is not valid JSON: %v", err)
	}
	inline, ok := doc.InlineBlobs[thoughtID]
	if !ok {
		t.Fatalf("referenced blob not inlined: %v", doc.InlineBlobs)
	}
	if inline.ContentType != "text/plain" || inline.ContentBase64 == "" {
		t.Fatalf("unexpected inline blob: %+v", inline)
	}
}
