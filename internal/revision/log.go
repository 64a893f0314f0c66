// Package revision implements the append-only, per-path revision log.
package revision

import (
	"encoding/json"
	"fmt"
	"iter"
	"time"

	"botvault/internal/errors"
	"botvault/internal/safe"
	"botvault/internal/storage"
	"botvault/shared/types"

	"github.com/dgraph-io/badger/v4"
)

// Log stores revisions under "rev:<path>\x00<seq>" so that a prefix scan
// yields a path's history in order, and keeps the latest revision of each
// path under "head:<path>".
type Log struct {
	revs  storage.Bucket
	heads storage.Bucket
	safe  *safe.Safe
}

// Record describes a revision to append. Content must already be in the
// Safe under Hash unless Deleted is set.
type Record struct {
	Path      string
	Hash      string
	Size      int64
	Deleted   bool
	Origin    shared.Origin
	CreatedAt time.Time
}

func NewLog(contentSafe *safe.Safe) *Log {
	return &Log{
		revs:  storage.NewBucket("rev"),
		heads: storage.NewBucket("head"),
		safe:  contentSafe,
	}
}

func revKey(path string, seq uint64) string {
	return fmt.Sprintf("%s\x00%016x", path, seq)
}

// Append adds a revision for r.Path with the next sequence number. Callers
// serialize appends per path; badger reports a conflict otherwise.
func (l *Log) Append(txn *badger.Txn, r Record) (*shared.Revision, error) {
	latest, err := l.Latest(txn, r.Path)
	if err != nil {
		return nil, err
	}

	var seq uint64 = 1
	if latest != nil {
		seq = latest.Seq + 1
	}

	rev := &shared.Revision{
		Path:      r.Path,
		ID:        shared.RevisionID(seq),
		Seq:       seq,
		Deleted:   r.Deleted,
		Origin:    r.Origin,
		CreatedAt: r.CreatedAt.UTC(),
	}
	if !r.Deleted {
		rev.Hash = r.Hash
		rev.Size = r.Size
	}

	if err := l.revs.Set(txn, revKey(r.Path, seq), rev); err != nil {
		return nil, fmt.Errorf("storing revision: %w", err)
	}
	if err := l.heads.Set(txn, r.Path, rev); err != nil {
		return nil, fmt.Errorf("storing head: %w", err)
	}
	return rev, nil
}

// Latest returns the newest revision of path, or nil when it has none.
func (l *Log) Latest(txn *badger.Txn, path string) (*shared.Revision, error) {
	var rev shared.Revision
	found, err := l.heads.Get(txn, path, &rev)
	if err != nil {
		return nil, fmt.Errorf("reading head of %s: %w", path, err)
	}
	if !found {
		return nil, nil
	}
	return &rev, nil
}

// Get returns revision id of path. Unknown and malformed ids are both
// reported as NotFound.
func (l *Log) Get(txn *badger.Txn, path, id string) (*shared.Revision, error) {
	notFound := errors.NotFound(fmt.Sprintf("revision %s not found for %s", id, path))

	seq, err := shared.ParseRevisionID(id)
	if err != nil {
		return nil, notFound
	}

	var rev shared.Revision
	found, err := l.revs.Get(txn, revKey(path, seq), &rev)
	if err != nil {
		return nil, fmt.Errorf("reading revision: %w", err)
	}
	if !found {
		return nil, notFound
	}
	return &rev, nil
}

// History returns every revision of path, oldest first.
func (l *Log) History(txn *badger.Txn, path string) ([]shared.Revision, error) {
	var revs []shared.Revision
	err := l.revs.Scan(txn, path+"\x00", func(id string, val []byte) error {
		var rev shared.Revision
		if err := json.Unmarshal(val, &rev); err != nil {
			return fmt.Errorf("decoding revision: %w", err)
		}
		revs = append(revs, rev)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return revs, nil
}

// Heads yields the latest revision of every path starting with prefix,
// ordered by path.
func (l *Log) Heads(txn *badger.Txn, prefix string) iter.Seq2[shared.Revision, error] {
	return func(yield func(shared.Revision, error) bool) {
		err := l.heads.Scan(txn, prefix, func(id string, val []byte) error {
			var rev shared.Revision
			if err := json.Unmarshal(val, &rev); err != nil {
				return fmt.Errorf("decoding head %s: %w", id, err)
			}
			if !yield(rev, nil) {
				return storage.ErrStop
			}
			return nil
		})
		if err != nil {
			yield(shared.Revision{}, err)
		}
	}
}

// Content returns the bytes recorded by rev. Tombstones have none.
func (l *Log) Content(txn *badger.Txn, rev *shared.Revision) ([]byte, error) {
	if rev.Deleted {
		return nil, errors.NotFound(fmt.Sprintf("revision %s of %s is a deletion", rev.ID, rev.Path))
	}
	data, err := l.safe.Get(txn, rev.Hash)
	if err != nil {
		return nil, fmt.Errorf("reading revision content: %w", err)
	}
	return data, nil
}
