// internal/content/store.go
package content

import (
	"encoding/json"
	"fmt"
	"iter"
	"time"

	"botvault/internal/errors"
	"botvault/internal/storage"
	"botvault/internal/validation"
	"botvault/shared/types"

	"github.com/dgraph-io/badger/v4"
)

// Stat returns the pointer stored for path, or nil when the path is absent.
// path must already be normalized.
func (s *FileStore) Stat(txn *badger.Txn, path string) (*shared.File, error) {
	var f shared.File
	found, err := s.files.Get(txn, path, &f)
	if err != nil {
		return nil, fmt.Errorf("reading file record %s: %w", path, err)
	}
	if !found {
		return nil, nil
	}
	return &f, nil
}

func (s *FileStore) Read(txn *badger.Txn, path string) ([]byte, *shared.File, error) {
	f, err := s.Stat(txn, path)
	if err != nil {
		return nil, nil, err
	}
	if f == nil {
		return nil, nil, errors.NotFound(fmt.Sprintf("file not found: %s", path))
	}

	data, err := s.safe.Get(txn, f.Hash)
	if err != nil {
		return nil, nil, fmt.Errorf("reading content of %s: %w", path, err)
	}
	return data, f, nil
}

// Write replaces the content of path. The revision link of an existing
// file is kept so pending detection can compare against it.
func (s *FileStore) Write(txn *badger.Txn, path string, content []byte, at time.Time) (*shared.File, error) {
	if err := validation.FileSize(path, int64(len(content)), s.maxFileSize); err != nil {
		return nil, err
	}

	hash, err := s.safe.Put(txn, content)
	if err != nil {
		return nil, err
	}
	return s.Link(txn, path, hash, int64(len(content)), at)
}

// Link points path at content already stored in the Safe under hash. Like
// Write, it keeps the revision link of an existing file.
func (s *FileStore) Link(txn *badger.Txn, path, hash string, size int64, at time.Time) (*shared.File, error) {
	existing, err := s.Stat(txn, path)
	if err != nil {
		return nil, err
	}

	f := &shared.File{
		Path:       path,
		Hash:       hash,
		Size:       size,
		ModifiedAt: at.UTC(),
	}
	if existing != nil {
		f.RevisionID = existing.RevisionID
	}

	if err := s.files.Set(txn, path, f); err != nil {
		return nil, err
	}
	return f, nil
}

// Delete removes path. It reports whether anything was removed.
func (s *FileStore) Delete(txn *badger.Txn, path string) (bool, error) {
	f, err := s.Stat(txn, path)
	if err != nil || f == nil {
		return false, err
	}
	if err := s.files.Delete(txn, path); err != nil {
		return false, err
	}
	return true, nil
}

// SetRevision links the current content of path to revisionID.
func (s *FileStore) SetRevision(txn *badger.Txn, path, revisionID string) error {
	f, err := s.Stat(txn, path)
	if err != nil {
		return err
	}
	if f == nil {
		return errors.NotFound(fmt.Sprintf("file not found: %s", path))
	}
	f.RevisionID = revisionID
	return s.files.Set(txn, path, f)
}

// List yields every file whose path starts with prefix, ordered by path.
// The sequence is lazy and only valid while txn is open.
func (s *FileStore) List(txn *badger.Txn, prefix string) iter.Seq2[shared.File, error] {
	return func(yield func(shared.File, error) bool) {
		err := s.files.Scan(txn, prefix, func(id string, val []byte) error {
			var f shared.File
			if err := json.Unmarshal(val, &f); err != nil {
				return fmt.Errorf("decoding file record %s: %w", id, err)
			}
			if !yield(f, nil) {
				return storage.ErrStop
			}
			return nil
		})
		if err != nil {
			yield(shared.File{}, err)
		}
	}
}
