// Package store defines the storage interface and implementations.
package store

import (
	"context"

	"github.com/tracekit/tracekit/internal/domain"
)

// BlobMeta is the metadata row for a stored blob. ContentType is the
// first writer's declared type and is immutable thereafter.
type BlobMeta struct {
	BlobID      string                 `json:"blob_id"`
	ContentType string                 `json:"content_type"`
	ByteLength  int64                  `json:"byte_length"`
	StorageURI  string                 `json:"storage_uri"`
	Redaction   []domain.RedactionRule `json:"redaction,omitempty"`
	CreatedAtMs int64                  `json:"created_at_ms"`
}

// Store defines the interface for data persistence.
type Store interface {
	// Trace operations
	CreateTrace(ctx context.Context, trace *domain.Trace) error
	GetTrace(ctx context.Context, traceID string) (*domain.Trace, error)
	FinalizeTrace(ctx context.Context, traceID string, finalState *domain.FinalState, finalizedAtMs int64, qaJobID string) (bool, error)
	UpdateStatusFrom(ctx context.Context, traceID string, from, to domain.TraceStatus) (bool, error)
	UpdateQA(ctx context.Context, traceID string, qa *domain.QA) error
	UpdateFinalState(ctx context.Context, traceID string, finalState *domain.FinalState) error
	ListTraceIDsByStatus(ctx context.Context, status domain.TraceStatus, limit int) ([]string, error)

	// Event operations. AppendEvents is atomic: either every event in
	// the batch is durably stored or none are.
	AppendEvents(ctx context.Context, traceID string, events []domain.Event) (int, int64, error)
	GetEvents(ctx context.Context, traceID string) ([]domain.Event, error)
	GetSeqHigh(ctx context.Context, traceID string) (int64, error)

	// Blob metadata operations
	PutBlobMeta(ctx context.Context, meta *BlobMeta) (*BlobMeta, error)
	GetBlobMeta(ctx context.Context, blobID string) (*BlobMeta, error)

	// Lifecycle
	Close() error
}
