package domain

import (
	"encoding/json"
	"fmt"
)

// MaxBatchSize bounds a single append call. Oversized batches are
// rejected wholesale, never partially applied.
const MaxBatchSize = 100

// Actor describes who produced an event.
type Actor struct {
	Kind ActorKind `json:"kind"`
	ID   string    `json:"id,omitempty"`
}

// EventContext carries optional workspace references for an event.
type EventContext struct {
	WorkspaceRoot string `json:"workspace_root,omitempty"`
	Branch        string `json:"branch,omitempty"`
	CommitHead    string `json:"commit_head,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
	ParentEventID string `json:"parent_event_id,omitempty"`
}

// Event is one timeline entry. Payload is kept raw for storage
// fidelity; ValidatePayload checks it against the typed shape for the
// event's type.
type Event struct {
	EventID string          `json:"event_id"`
	Seq     int64           `json:"seq"`
	TsMs    int64           `json:"ts_ms"`
	Type    EventType       `json:"type"`
	Actor   Actor           `json:"actor"`
	Context *EventContext   `json:"context,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// EventBatch is the body of POST /v1/traces/:trace_id/events.
type EventBatch struct {
	Events []Event `json:"events"`
}

// SelectionRange is a (line, col) start/end pair within a file.
type SelectionRange struct {
	Start []int `json:"start"`
	End   []int `json:"end"`
}

// FileEditPayload records one edit to a file.
type FileEditPayload struct {
	FilePath    string          `json:"file_path"`
	EditKind    EditKind        `json:"edit_kind"`
	PatchFormat string          `json:"patch_format"`
	PatchBlobID string          `json:"patch_blob_id"`
	PreHash     string          `json:"pre_hash,omitempty"`
	PostHash    string          `json:"post_hash,omitempty"`
	Selection   *SelectionRange `json:"selection,omitempty"`
	ReasonRef   string          `json:"reason_ref,omitempty"`
}

// FileSnapshotPayload records a full-file capture.
type FileSnapshotPayload struct {
	FilePath       string         `json:"file_path"`
	ContentBlobID  string         `json:"content_blob_id"`
	SnapshotReason SnapshotReason `json:"snapshot_reason"`
}

// TerminalCommandPayload records a command the developer ran.
type TerminalCommandPayload struct {
	Cwd     string `json:"cwd"`
	Command string `json:"command"`
	Shell   string `json:"shell"`
	EnvHash string `json:"env_hash,omitempty"`
}

// TerminalOutputPayload references a captured output chunk.
type TerminalOutputPayload struct {
	Stream      Stream `json:"stream"`
	ChunkBlobID string `json:"chunk_blob_id"`
	IsTruncated bool   `json:"is_truncated"`
}

// TestRunPayload records one test invocation during the session.
type TestRunPayload struct {
	Command      string `json:"command"`
	Runner       string `json:"runner"`
	ExitCode     int    `json:"exit_code"`
	DurationMs   int64  `json:"duration_ms"`
	Passed       bool   `json:"passed"`
	ReportBlobID string `json:"report_blob_id,omitempty"`
}

// ThoughtPayload references a recorded reasoning note.
type ThoughtPayload struct {
	ContentBlobID string      `json:"content_blob_id"`
	Kind          ThoughtKind `json:"kind"`
	LinksTo       []string    `json:"links_to"`
}

// CommitPayload records a commit made during the session.
type CommitPayload struct {
	CommitSHA  string   `json:"commit_sha"`
	Message    string   `json:"message"`
	ParentSHAs []string `json:"parent_shas,omitempty"`
}

// PRMetadataPayload records pull-request metadata.
type PRMetadataPayload struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	DiffBlobID  string `json:"diff_blob_id,omitempty"`
	PRURL       string `json:"pr_url,omitempty"`
}

// ErrorPayload records an error the developer hit.
type ErrorPayload struct {
	ErrorType        string `json:"error_type"`
	Message          string `json:"message"`
	StacktraceBlobID string `json:"stacktrace_blob_id,omitempty"`
}

// DebugActionPayload records a debugger interaction.
type DebugActionPayload struct {
	Action  string          `json:"action"`
	Details json.RawMessage `json:"details,omitempty"`
}

// NavigationPayload records a code navigation step.
type NavigationPayload struct {
	FilePath string `json:"file_path"`
	Symbol   string `json:"symbol,omitempty"`
	Line     int    `json:"line,omitempty"`
}

// Validate checks the event envelope, then the payload against the
// typed shape for the event's type. field is the dotted path prefix
// used in error messages, e.g. "events.3".
func (e *Event) Validate(field string) error {
	if e.EventID == "" {
		return NewValidationError(field+".event_id", "event_id is required")
	}
	if e.Seq < 1 {
		return NewValidationError(field+".seq", "seq must be >= 1")
	}
	if e.TsMs < 0 {
		return NewValidationError(field+".ts_ms", "ts_ms must be >= 0")
	}
	switch e.Actor.Kind {
	case ActorKindHuman, ActorKindTool, ActorKindIDE:
	default:
		return NewValidationError(field+".actor.kind", "unknown actor kind")
	}
	return e.validatePayload(field + ".payload")
}

// validatePayload is the exhaustive switch over the closed type set.
// Adding an EventType without a case here fails the default branch,
// which tests cover for every declared type.
func (e *Event) validatePayload(field string) error {
	if len(e.Payload) == 0 {
		return NewValidationError(field, "payload is required")
	}
	switch e.Type {
	case EventTypeFileEdit:
		var p FileEditPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return NewValidationError(field, err.Error())
		}
		if p.FilePath == "" {
			return NewValidationError(field+".file_path", "file_path is required")
		}
		switch p.EditKind {
		case EditKindPatch, EditKindReplaceRange, EditKindKeystrokeBatch:
		default:
			return NewValidationError(field+".edit_kind", "unknown edit kind")
		}
		if p.PatchBlobID == "" {
			return NewValidationError(field+".patch_blob_id", "patch_blob_id is required")
		}
	case EventTypeFileSnapshot:
		var p FileSnapshotPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return NewValidationError(field, err.Error())
		}
		if p.FilePath == "" {
			return NewValidationError(field+".file_path", "file_path is required")
		}
		if p.ContentBlobID == "" {
			return NewValidationError(field+".content_blob_id", "content_blob_id is required")
		}
		switch p.SnapshotReason {
		case SnapshotPreTest, SnapshotPostTest, SnapshotManualCheckpoint:
		default:
			return NewValidationError(field+".snapshot_reason", "unknown snapshot reason")
		}
	case EventTypeTerminalCommand:
		var p TerminalCommandPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return NewValidationError(field, err.Error())
		}
		if p.Cwd == "" {
			return NewValidationError(field+".cwd", "cwd is required")
		}
		if p.Command == "" {
			return NewValidationError(field+".command", "command is required")
		}
	case EventTypeTerminalOutput:
		var p TerminalOutputPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return NewValidationError(field, err.Error())
		}
		if p.Stream != StreamStdout && p.Stream != StreamStderr {
			return NewValidationError(field+".stream", "stream must be stdout or stderr")
		}
		if p.ChunkBlobID == "" {
			return NewValidationError(field+".chunk_blob_id", "chunk_blob_id is required")
		}
	case EventTypeTestRun:
		var p TestRunPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return NewValidationError(field, err.Error())
		}
		if p.Command == "" {
			return NewValidationError(field+".command", "command is required")
		}
		if p.DurationMs < 0 {
			return NewValidationError(field+".duration_ms", "duration_ms must be >= 0")
		}
	case EventTypeThought:
		var p ThoughtPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return NewValidationError(field, err.Error())
		}
		if p.ContentBlobID == "" {
			return NewValidationError(field+".content_blob_id", "content_blob_id is required")
		}
		switch p.Kind {
		case ThoughtHypothesis, ThoughtPlan, ThoughtInterpretation, ThoughtDecision, ThoughtPostmortem:
		default:
			return NewValidationError(field+".kind", "unknown thought kind")
		}
	case EventTypeCommit:
		var p CommitPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return NewValidationError(field, err.Error())
		}
		if p.CommitSHA == "" {
			return NewValidationError(field+".commit_sha", "commit_sha is required")
		}
	case EventTypePRMetadata:
		var p PRMetadataPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return NewValidationError(field, err.Error())
		}
	case EventTypeError:
		var p ErrorPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return NewValidationError(field, err.Error())
		}
		if p.ErrorType == "" {
			return NewValidationError(field+".error_type", "error_type is required")
		}
	case EventTypeDebugAction:
		var p DebugActionPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return NewValidationError(field, err.Error())
		}
		if p.Action == "" {
			return NewValidationError(field+".action", "action is required")
		}
	case EventTypeNavigation:
		var p NavigationPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return NewValidationError(field, err.Error())
		}
		if p.FilePath == "" {
			return NewValidationError(field+".file_path", "file_path is required")
		}
	default:
		return NewValidationError(field, fmt.Sprintf("unknown event type: %s", e.Type))
	}
	return nil
}

// ValidateBatch checks the envelope of every event plus batch-level
// rules: size bound and intra-batch event_id uniqueness. Seq ordering
// against the trace high-water mark is checked by the repository under
// the append transaction.
func ValidateBatch(batch *EventBatch) error {
	if len(batch.Events) == 0 {
		return NewValidationError("events", "at least one event is required")
	}
	if len(batch.Events) > MaxBatchSize {
		return NewValidationError("events", fmt.Sprintf("batch exceeds maximum of %d events", MaxBatchSize))
	}
	seen := make(map[string]bool, len(batch.Events))
	for i := range batch.Events {
		field := fmt.Sprintf("events.%d", i)
		if err := batch.Events[i].Validate(field); err != nil {
			return err
		}
		id := batch.Events[i].EventID
		if seen[id] {
			return NewConflictError(fmt.Sprintf("duplicate event_id in batch: %s", id))
		}
		seen[id] = true
	}
	return nil
}
