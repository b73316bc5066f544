package service

import (
	"context"
	"time"

	"github.com/tracekit/tracekit/internal/blob"
	"github.com/tracekit/tracekit/internal/domain"
	"github.com/tracekit/tracekit/internal/redact"
	store "github.com/tracekit/tracekit/internal/repository"
)

// UploadBlob stores content under its sha256 digest after the standard
// redaction pass. Uploading identical content twice returns the same
// blob id; the metadata row keeps the first writer's content type.
func (s *Service) UploadBlob(ctx context.Context, data []byte, contentType string) (*domain.BlobUploadResponse, error) {
	return s.UploadBlobWithRules(ctx, data, contentType, nil)
}

// UploadBlobWithRules stores content after applying the given redaction
// rules. nil rules means the full default pass; the QA stages pass a
// truncate-only rule set when the consent policy permits raw output.
func (s *Service) UploadBlobWithRules(ctx context.Context, data []byte, contentType string, rules []domain.RedactionRule) (*domain.BlobUploadResponse, error) {
	if len(data) == 0 {
		return nil, domain.NewValidationError("content", "blob content must not be empty")
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	res := redact.Apply(data, rules, redact.MaxBlobBytes)

	blobID, err := s.blobs.Put(res.Content, contentType)
	if err != nil {
		return nil, err
	}
	uri, err := s.blobs.URI(blobID)
	if err != nil {
		return nil, err
	}

	meta, err := s.store.PutBlobMeta(ctx, &store.BlobMeta{
		BlobID:      blobID,
		ContentType: contentType,
		ByteLength:  int64(len(res.Content)),
		StorageURI:  uri,
		Redaction:   res.RulesApplied,
		CreatedAtMs: time.Now().UnixMilli(),
	})
	if err != nil {
		return nil, err
	}

	return &domain.BlobUploadResponse{
		BlobID:     meta.BlobID,
		ByteLength: meta.ByteLength,
		StorageURI: meta.StorageURI,
	}, nil
}

// GetBlob returns the stored content and its metadata.
func (s *Service) GetBlob(ctx context.Context, blobID string) ([]byte, *store.BlobMeta, error) {
	if _, err := blob.ParseID(blobID); err != nil {
		return nil, nil, err
	}
	meta, err := s.store.GetBlobMeta(ctx, blobID)
	if err != nil {
		return nil, nil, err
	}
	if meta == nil {
		return nil, nil, domain.NewNotFoundError("blob not found: " + blobID)
	}
	data, err := s.blobs.Get(blobID)
	if err != nil {
		return nil, nil, err
	}
	return data, meta, nil
}
