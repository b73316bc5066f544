// Package materialize assembles a finalized trace into its immutable
// versioned JSON document and writes it to the blob store.
package materialize

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/tracekit/tracekit/internal/blob"
	"github.com/tracekit/tracekit/internal/domain"
	store "github.com/tracekit/tracekit/internal/repository"
)

// DocumentContentType is the declared type of materialized documents.
const DocumentContentType = "application/json"

var blobIDPattern = regexp.MustCompile(`"sha256:[0-9a-f]{64}"`)

// Document is the materialized form. InlineBlobs is only populated in
// inline mode; references inside the trace stay as blob ids either way.
type Document struct {
	domain.Trace
	InlineBlobs map[string]InlineBlob `json:"inline_blobs,omitempty"`
}

// InlineBlob is an embedded blob in an inline-mode document.
type InlineBlob struct {
	ContentType   string `json:"content_type"`
	ContentBase64 string `json:"content_base64"`
}

// Materializer writes assembled trace documents.
type Materializer struct {
	store     store.Store
	blobs     blob.Store
	inlineMax int64
}

func New(st store.Store, blobs blob.Store, inlineMaxBytes int64) *Materializer {
	return &Materializer{store: st, blobs: blobs, inlineMax: inlineMaxBytes}
}

// Assemble joins the trace row with its event log in seq order. The
// caller passes events it already holds; QA and final state travel on
// the trace itself.
func Assemble(trace *domain.Trace, events []domain.Event) *domain.Trace {
	doc := *trace
	doc.Events = events
	if doc.Events == nil {
		doc.Events = []domain.Event{}
	}
	return &doc
}

// ValidateDocument re-checks the assembled document with the same
// structural rules enforced at ingestion: required metadata blocks,
// the closed payload union per event, and strictly increasing seq.
func ValidateDocument(doc *domain.Trace) error {
	if doc.TraceVersion == "" {
		return domain.NewValidationError("trace_version", "trace_version is required")
	}
	if doc.TraceID == "" {
		return domain.NewValidationError("trace_id", "trace_id is required")
	}
	if doc.Repo.RepoID == "" || doc.Repo.CommitBase == "" {
		return domain.NewValidationError("repo", "repo_id and commit_base are required")
	}
	if doc.Task.BugReport.Title == "" || doc.Task.BugReport.Description == "" {
		return domain.NewValidationError("task.bug_report", "title and description are required")
	}
	if doc.Developer.DeveloperID == "" {
		return domain.NewValidationError("developer.developer_id", "developer_id is required")
	}
	if doc.Environment.IDE.Name == "" {
		return domain.NewValidationError("environment.ide.name", "ide.name is required")
	}
	if doc.FinalState == nil {
		return domain.NewValidationError("final_state", "final_state is required")
	}
	var prev int64
	for i := range doc.Events {
		field := fmt.Sprintf("events.%d", i)
		if err := doc.Events[i].Validate(field); err != nil {
			return err
		}
		if doc.Events[i].Seq <= prev {
			return domain.NewValidationError(field+".seq", "seq must be strictly increasing")
		}
		prev = doc.Events[i].Seq
	}
	return nil
}

// Materialize assembles, validates and writes the document, then
// records its blob id on the trace's final-state block. Returns the
// document blob id.
func (m *Materializer) Materialize(ctx context.Context, trace *domain.Trace) (string, error) {
	events, err := m.store.GetEvents(ctx, trace.TraceID)
	if err != nil {
		return "", err
	}

	assembled := Assemble(trace, events)
	if err := ValidateDocument(assembled); err != nil {
		return "", err
	}

	doc := Document{Trace: *assembled}
	if m.inlineMax > 0 {
		doc.InlineBlobs = m.collectInline(ctx, assembled)
	}

	data, err := json.Marshal(&doc)
	if err != nil {
		return "", domain.NewInfraError("marshal document: " + err.Error())
	}

	blobID, err := m.blobs.Put(data, DocumentContentType)
	if err != nil {
		return "", err
	}
	uri, err := m.blobs.URI(blobID)
	if err != nil {
		return "", err
	}
	if _, err := m.store.PutBlobMeta(ctx, &store.BlobMeta{
		BlobID:      blobID,
		ContentType: DocumentContentType,
		ByteLength:  int64(len(data)),
		StorageURI:  uri,
		CreatedAtMs: time.Now().UnixMilli(),
	}); err != nil {
		return "", err
	}

	finalState := *assembled.FinalState
	finalState.DocumentBlobID = blobID
	if err := m.store.UpdateFinalState(ctx, trace.TraceID, &finalState); err != nil {
		return "", err
	}
	return blobID, nil
}

// collectInline gathers every blob referenced by the document that fits
// under the inline threshold. Missing or oversized blobs stay as bare
// references.
func (m *Materializer) collectInline(ctx context.Context, doc *domain.Trace) map[string]InlineBlob {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil
	}
	inline := make(map[string]InlineBlob)
	for _, match := range blobIDPattern.FindAll(raw, -1) {
		id := string(match[1 : len(match)-1])
		if _, ok := inline[id]; ok {
			continue
		}
		meta, err := m.store.GetBlobMeta(ctx, id)
		if err != nil || meta == nil || meta.ByteLength > m.inlineMax {
			continue
		}
		data, err := m.blobs.Get(id)
		if err != nil {
			continue
		}
		inline[id] = InlineBlob{
			ContentType:   meta.ContentType,
			ContentBase64: base64.StdEncoding.EncodeToString(data),
		}
	}
	if len(inline) == 0 {
		return nil
	}
	return inline
}
