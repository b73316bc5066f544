package v1

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/tracekit/tracekit/internal/blob"
	"github.com/tracekit/tracekit/internal/config"
	"github.com/tracekit/tracekit/internal/domain"
	"github.com/tracekit/tracekit/internal/service"
	"github.com/tracekit/tracekit/policy"
	"github.com/tracekit/tracekit/tests/helpers"
)

func newTestHandler(t *testing.T) (*Handler, *service.Service) {
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
	svc := service.New(db, blobs, engine, &config.Config{})
	return NewHandler(svc), svc
}

const createBody = `{
	"repo": {"repo_id": "acme/widgets", "commit_base": "abc123"},
	"task": {"bug_report": {"title": "crash on save", "description": "saving panics"}},
	"developer": {"developer_id": "dev-1", "consent_flags": {"store_raw_code": true, "store_terminal_output": true, "allow_llm_judge": true}},
	"environment": {"ide": {"name": "vscode"}}
}`

func createTrace(t *testing.T, h *Handler) string {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/v1/traces", bytes.NewBufferString(createBody))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.CreateTrace(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp domain.TraceCreateResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return resp.TraceID
}

func TestCreateTraceValidationStatus(t *testing.T) {
	e := echo.New()
	h, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/traces", bytes.NewBufferString(`{"repo":{"repo_id":"acme/widgets"}}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.CreateTrace(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body["code"] != "VALIDATION" {
		t.Fatalf("expected VALIDATION code, got %v", body["code"])
	}
}

func TestAppendEventsHappyPath(t *testing.T) {
	e := echo.New()
	h, _ := newTestHandler(t)
	traceID := createTrace(t, h)

	body := `{"events":[
		{"event_id":"e1","seq":1,"ts_ms":1000,"type":"terminal_command","actor":{"kind":"human"},"payload":{"cwd":"/work","command":"go test","shell":"bash"}},
		{"event_id":"e2","seq":2,"ts_ms":2000,"type":"terminal_command","actor":{"kind":"human"},"payload":{"cwd":"/work","command":"go vet","shell":"bash"}}
	]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/traces/"+traceID+"/events", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("trace_id")
	c.SetParamValues(traceID)

	if err := h.AppendEvents(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp domain.EventsAcceptedResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Accepted != 2 || resp.SeqHigh != 2 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestAppendEventsSeqConflictCarriesSeqHigh(t *testing.T) {
	e := echo.New()
	h, _ := newTestHandler(t)
	traceID := createTrace(t, h)

	appendBody := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/traces/"+traceID+"/events", bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		c.SetParamNames("trace_id")
		c.SetParamValues(traceID)
		if err := h.AppendEvents(c); err != nil {
			t.Fatalf("handler error: %v", err)
		}
		return rec
	}

	first := `{"events":[{"event_id":"e1","seq":3,"ts_ms":1000,"type":"terminal_command","actor":{"kind":"human"},"payload":{"cwd":"/work","command":"go test","shell":"bash"}}]}`
	if rec := appendBody(first); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	// seq regression is rejected with the current high-water mark.
	stale := `{"events":[{"event_id":"e2","seq":2,"ts_ms":2000,"type":"terminal_command","actor":{"kind":"human"},"payload":{"cwd":"/work","command":"go vet","shell":"bash"}}]}`
	rec := appendBody(stale)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body["seq_high"] != float64(3) {
		t.Fatalf("expected seq_high=3, got %v", body["seq_high"])
	}

	// Duplicate event_id maps to 409.
	dup := `{"events":[{"event_id":"e1","seq":4,"ts_ms":3000,"type":"terminal_command","actor":{"kind":"human"},"payload":{"cwd":"/work","command":"go build","shell":"bash"}}]}`
	if rec := appendBody(dup); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestFinalizeTwiceConflicts(t *testing.T) {
	e := echo.New()
	h, _ := newTestHandler(t)
	traceID := createTrace(t, h)

	finalize := func() *httptest.ResponseRecorder {
		body := `{"final_state":{"commit_head":"def456"}}`
		req := httptest.NewRequest(http.MethodPost, "/v1/traces/"+traceID+"/finalize", bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		c.SetParamNames("trace_id")
		c.SetParamValues(traceID)
		if err := h.FinalizeTrace(c); err != nil {
			t.Fatalf("handler error: %v", err)
		}
		return rec
	}

	rec := finalize()
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp domain.FinalizeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.QAJobID == "" {
		t.Fatal("expected qa_job_id in response")
	}

	if rec := finalize(); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestGetTraceIncludes(t *testing.T) {
	e := echo.New()
	h, svc := newTestHandler(t)
	traceID := createTrace(t, h)

	_, err := svc.AppendEvents(context.Background(), traceID, &domain.EventBatch{Events: []domain.Event{{
		EventID: "e1", Seq: 1, TsMs: 1000,
		Type:    domain.EventTypeTerminalCommand,
		Actor:   domain.Actor{Kind: domain.ActorKindHuman},
		Payload: json.RawMessage(`{"cwd":"/work","command":"go test","shell":"bash"}`),
	}}})
	if err != nil {
		t.Fatalf("AppendEvents failed: %v", err)
	}

	get := func(query string) map[string]interface{} {
		req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/v1/traces/%s?%s", traceID, query), nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		c.SetParamNames("trace_id")
		c.SetParamValues(traceID)
		if err := h.GetTrace(c); err != nil {
			t.Fatalf("handler error: %v", err)
		}
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		var body map[string]interface{}
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("failed to decode body: %v", err)
		}
		return body
	}

	body := get("")
	if _, ok := body["events"]; ok {
		t.Fatal("events included without include_events")
	}

	body = get("include_events=true")
	events, ok := body["events"].([]interface{})
	if !ok || len(events) != 1 {
		t.Fatalf("expected 1 event, got %v", body["events"])
	}
}

func TestGetTraceNotFound(t *testing.T) {
	e := echo.New()
	h, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/traces/trace_missing", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("trace_id")
	c.SetParamValues("trace_missing")

	if err := h.GetTrace(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
