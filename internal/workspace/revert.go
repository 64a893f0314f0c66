package workspace

import (
	"context"
	"time"

	"botvault/internal/change"
	"botvault/internal/revision"
	"botvault/internal/validation"
	"botvault/shared/types"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

// Revert restores path to revisionID and records the restoration as a new
// revision. Reverting to a deletion removes the file. An id that is not in
// the path's history yields NotFound and leaves everything untouched.
func (w *Workspace) Revert(ctx context.Context, path, revisionID string) (rev *shared.Revision, err error) {
	defer w.observe("revert", time.Now(), &err)

	cleaned, err := validation.CleanPath(path)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	unlock, err := w.lockPaths(cleaned)
	if err != nil {
		return nil, err
	}
	defer unlock()

	// The write transaction must not read blobs, or a write of identical
	// content to another path conflicts with it. The target content is
	// verified from a snapshot first; the path lock keeps the log stable.
	var target *shared.Revision
	err = w.db.View(func(txn *badger.Txn) error {
		var err error
		if target, err = w.revisions.Get(txn, cleaned, revisionID); err != nil {
			return err
		}
		if !target.Deleted {
			_, err = w.revisions.Content(txn, target)
		}
		return err
	})
	if err != nil {
		return nil, classify("reverting file", err)
	}

	created := false
	err = w.db.Update(func(txn *badger.Txn) error {
		if w.opts.RevertNoop {
			current, err := w.currentRevision(txn, cleaned)
			if err != nil {
				return err
			}
			if current != nil && current.ID == target.ID {
				rev = current
				return nil
			}
		}

		var err error
		rev, err = w.restore(txn, target, w.clock.Now())
		created = err == nil
		return err
	})
	if err != nil {
		return nil, classify("reverting file", err)
	}

	if created {
		w.metrics.RecordRevisions(*rev)
		w.logger.Info("file reverted",
			zap.String("path", cleaned),
			zap.String("target", revisionID),
			zap.String("revision", rev.ID))
	}
	return rev, nil
}

// currentRevision returns the latest revision of path when the file store
// matches it exactly, or nil.
func (w *Workspace) currentRevision(txn *badger.Txn, path string) (*shared.Revision, error) {
	f, err := w.files.Stat(txn, path)
	if err != nil {
		return nil, err
	}
	head, err := w.revisions.Latest(txn, path)
	if err != nil || head == nil {
		return nil, err
	}
	if change.Classify(f, head) != nil {
		return nil, nil
	}
	return head, nil
}

func (w *Workspace) restore(txn *badger.Txn, target *shared.Revision, at time.Time) (*shared.Revision, error) {
	if target.Deleted {
		if _, err := w.files.Delete(txn, target.Path); err != nil {
			return nil, err
		}
		return w.revisions.Append(txn, revision.Record{
			Path:      target.Path,
			Deleted:   true,
			Origin:    shared.OriginRevert,
			CreatedAt: at,
		})
	}

	if _, err := w.files.Link(txn, target.Path, target.Hash, target.Size, at); err != nil {
		return nil, err
	}
	rev, err := w.revisions.Append(txn, revision.Record{
		Path:      target.Path,
		Hash:      target.Hash,
		Size:      target.Size,
		Origin:    shared.OriginRevert,
		CreatedAt: at,
	})
	if err != nil {
		return nil, err
	}
	if err := w.files.SetRevision(txn, target.Path, rev.ID); err != nil {
		return nil, err
	}
	return rev, nil
}
