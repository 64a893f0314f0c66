// internal/content/types.go
package content

import (
	"botvault/internal/safe"
	"botvault/internal/storage"
)

// FileStore is the authoritative current-content mapping of one tenant.
// It stores a shared.File pointer per path; bytes live in the Safe.
type FileStore struct {
	files       storage.Bucket
	safe        *safe.Safe
	maxFileSize int64
}

func NewFileStore(contentSafe *safe.Safe, maxFileSize int64) *FileStore {
	return &FileStore{
		files:       storage.NewBucket("file"),
		safe:        contentSafe,
		maxFileSize: maxFileSize,
	}
}
