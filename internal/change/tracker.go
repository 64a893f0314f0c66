package change

import (
	"iter"

	"botvault/shared/types"

	"github.com/dgraph-io/badger/v4"
)

// Classify compares a file with the latest revision of its path. Either
// may be nil. It returns nil when the path is not pending.
func Classify(file *shared.File, head *shared.Revision) *shared.PendingChange {
	switch {
	case file == nil && head == nil:
		return nil
	case head == nil:
		return &shared.PendingChange{Path: file.Path, Kind: shared.ChangeAdded}
	case head.Deleted && file == nil:
		return nil
	case head.Deleted:
		return &shared.PendingChange{Path: file.Path, Kind: shared.ChangeAdded, SinceRevision: head.ID}
	case file == nil:
		return &shared.PendingChange{Path: head.Path, Kind: shared.ChangeDeleted, SinceRevision: head.ID}
	case file.Hash != head.Hash:
		return &shared.PendingChange{Path: file.Path, Kind: shared.ChangeModified, SinceRevision: head.ID}
	default:
		return nil
	}
}

// Status returns the pending change of a single path, or nil.
func (t *Tracker) Status(txn *badger.Txn, path string) (*shared.PendingChange, error) {
	file, err := t.files.Stat(txn, path)
	if err != nil {
		return nil, err
	}
	head, err := t.revisions.Latest(txn, path)
	if err != nil {
		return nil, err
	}
	return Classify(file, head), nil
}

// Pending walks files and revision heads under prefix in one merge pass
// and returns every pending change ordered by path. txn must be read-only:
// the merge keeps two iterators open, which badger only allows there.
func (t *Tracker) Pending(txn *badger.Txn, prefix string) ([]shared.PendingChange, error) {
	nextFile, stopFiles := iter.Pull2(t.files.List(txn, prefix))
	defer stopFiles()
	nextHead, stopHeads := iter.Pull2(t.revisions.Heads(txn, prefix))
	defer stopHeads()

	pull := func(next func() (shared.File, error, bool)) (*shared.File, error) {
		f, err, ok := next()
		if !ok {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return &f, nil
	}
	pullHead := func() (*shared.Revision, error) {
		h, err, ok := nextHead()
		if !ok {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return &h, nil
	}

	file, err := pull(nextFile)
	if err != nil {
		return nil, err
	}
	head, err := pullHead()
	if err != nil {
		return nil, err
	}

	changes := []shared.PendingChange{}
	for file != nil || head != nil {
		var f *shared.File
		var h *shared.Revision

		switch {
		case head == nil || (file != nil && file.Path < head.Path):
			f = file
		case file == nil || head.Path < file.Path:
			h = head
		default:
			f, h = file, head
		}

		if c := Classify(f, h); c != nil {
			changes = append(changes, *c)
		}

		if f != nil {
			if file, err = pull(nextFile); err != nil {
				return nil, err
			}
		}
		if h != nil {
			if head, err = pullHead(); err != nil {
				return nil, err
			}
		}
	}
	return changes, nil
}
