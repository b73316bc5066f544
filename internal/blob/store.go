// Package blob provides content-addressed, immutable byte storage.
package blob

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tracekit/tracekit/internal/domain"
)

// IDPrefix prefixes every blob identifier.
const IDPrefix = "sha256:"

// Store is the content-addressed storage capability. The identifier is
// a pure function of content: identical bytes always yield the same id
// and are stored once. Content type is metadata, never hash input.
type Store interface {
	Put(data []byte, contentType string) (string, error)
	Get(blobID string) ([]byte, error)
	URI(blobID string) (string, error)
	Exists(blobID string) (bool, error)
}

// HashBytes computes the blob identifier for data.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return IDPrefix + hex.EncodeToString(sum[:])
}

// ParseID extracts the hex digest from a blob id.
func ParseID(blobID string) (string, error) {
	if !strings.HasPrefix(blobID, IDPrefix) {
		return "", domain.NewValidationError("blob_id", fmt.Sprintf("invalid blob_id format: %s", blobID))
	}
	hexHash := strings.TrimPrefix(blobID, IDPrefix)
	if len(hexHash) != sha256.Size*2 {
		return "", domain.NewValidationError("blob_id", fmt.Sprintf("invalid digest length: %s", blobID))
	}
	return hexHash, nil
}

// FSStore is a local filesystem Store.
//
// Layout: {root}/sha256/{first2}/{hexhash}
type FSStore struct {
	root string
}

// NewFSStore creates a filesystem store rooted at root.
func NewFSStore(root string) (*FSStore, error) {
	if err := os.MkdirAll(filepath.Join(root, "sha256"), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create blob root: %w", err)
	}
	return &FSStore{root: root}, nil
}

func (s *FSStore) path(hexHash string) string {
	return filepath.Join(s.root, "sha256", hexHash[:2], hexHash)
}

// Put stores data and returns its blob id. The write is a single
// atomic link-into-place so two concurrent puts of identical content
// cannot both write; the loser sees EEXIST and treats it as success.
func (s *FSStore) Put(data []byte, contentType string) (string, error) {
	sum := sha256.Sum256(data)
	hexHash := hex.EncodeToString(sum[:])
	blobID := IDPrefix + hexHash
	dst := s.path(hexHash)

	if _, err := os.Stat(dst); err == nil {
		return blobID, nil
	}

	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", domain.NewInfraError(fmt.Sprintf("blob store: %v", err))
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return "", domain.NewInfraError(fmt.Sprintf("blob store: %v", err))
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", domain.NewInfraError(fmt.Sprintf("blob store: %v", err))
	}
	if err := tmp.Close(); err != nil {
		return "", domain.NewInfraError(fmt.Sprintf("blob store: %v", err))
	}

	// Link is write-if-absent: it fails with EEXIST when a concurrent
	// put of the same content won the race, which is fine.
	if err := os.Link(tmpName, dst); err != nil && !errors.Is(err, os.ErrExist) {
		return "", domain.NewInfraError(fmt.Sprintf("blob store: %v", err))
	}

	return blobID, nil
}

// Get retrieves blob bytes by id.
func (s *FSStore) Get(blobID string) ([]byte, error) {
	hexHash, err := ParseID(blobID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path(hexHash))
	if errors.Is(err, os.ErrNotExist) {
		return nil, domain.NewNotFoundError(fmt.Sprintf("blob not found: %s", blobID))
	}
	if err != nil {
		return nil, domain.NewInfraError(fmt.Sprintf("blob store: %v", err))
	}
	return data, nil
}

// URI returns the stable storage locator for a blob id. The locator is
// valid for the life of the blob whether or not the blob exists yet.
func (s *FSStore) URI(blobID string) (string, error) {
	hexHash, err := ParseID(blobID)
	if err != nil {
		return "", err
	}
	return "file://" + s.path(hexHash), nil
}

// Exists reports whether the blob is stored.
func (s *FSStore) Exists(blobID string) (bool, error) {
	hexHash, err := ParseID(blobID)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(s.path(hexHash))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, domain.NewInfraError(fmt.Sprintf("blob store: %v", err))
	}
	return true, nil
}

var _ Store = (*FSStore)(nil)
