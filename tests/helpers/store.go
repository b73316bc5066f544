// Package helpers provides shared test fixtures.
package helpers

import (
	"testing"

	"github.com/tracekit/tracekit/internal/blob"
	store "github.com/tracekit/tracekit/internal/repository"
)

func NewTestSQLiteStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create sqlite store: %v", err)
	}

	t.Cleanup(func() {
		_ = s.Close()
	})

	return s
}

func NewTestBlobStore(t *testing.T) *blob.FSStore {
	t.Helper()

	s, err := blob.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create blob store: %v", err)
	}
	return s
}
