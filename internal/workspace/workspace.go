// Package workspace ties the file store, revision log, pending change
// tracker and archive packager of one tenant together, and serializes
// mutations per path.
package workspace

import (
	"context"
	stderrors "errors"
	"fmt"
	"iter"
	"slices"
	"sync"
	"time"

	"botvault/internal/change"
	"botvault/internal/config"
	"botvault/internal/content"
	"botvault/internal/diff"
	"botvault/internal/errors"
	"botvault/internal/metrics"
	"botvault/internal/revision"
	"botvault/internal/safe"
	"botvault/internal/storage"
	"botvault/internal/validation"
	"botvault/shared/types"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

// ErrWorkspaceClosed is the cause of the Conflict returned by operations
// that start after Close.
var ErrWorkspaceClosed = stderrors.New("workspace closed")

// Clock supplies timestamps for files and revisions.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Options configures a Workspace.
type Options struct {
	MaxFileSize   int64
	CacheSize     int
	Compression   safe.CompressionOptions
	RevertNoop    bool
	ImportEnabled bool
	MaxImportSize int64
	DiffContext   int
	Clock         Clock
}

// OptionsFromConfig maps the store and archive sections of cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		MaxFileSize: cfg.Store.MaxFileSize,
		CacheSize:   cfg.Store.CacheSize,
		Compression: safe.CompressionOptions{
			MinSize: cfg.Store.MinCompressSize,
			Level:   cfg.Store.CompressionLevel,
		},
		RevertNoop:    cfg.Store.RevertNoop,
		ImportEnabled: cfg.Archive.ImportEnabled,
		MaxImportSize: cfg.Archive.MaxImportSize,
	}
}

// Workspace is the content store of a single tenant. It owns its badger
// database; nothing is shared with other tenants.
type Workspace struct {
	tenant    string
	db        *badger.DB
	safe      *safe.Safe
	files     *content.FileStore
	revisions *revision.Log
	tracker   *change.Tracker
	differ    *diff.Engine
	opts      Options
	clock     Clock
	logger    *zap.Logger
	metrics   *metrics.Metrics

	// tree is held shared by reads and path mutations, and exclusively by
	// import and Close.
	tree   sync.RWMutex
	closed bool
	paths  *keyedMutex
}

// New builds a workspace for tenant on db. logger and m may be nil.
func New(tenant string, db *badger.DB, opts Options, logger *zap.Logger, m *metrics.Metrics) (*Workspace, error) {
	contentSafe, err := safe.New(safe.Options{CacheSize: opts.CacheSize, Compression: opts.Compression})
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = systemClock{}
	}
	if opts.DiffContext <= 0 {
		opts.DiffContext = 3
	}

	files := content.NewFileStore(contentSafe, opts.MaxFileSize)
	revisions := revision.NewLog(contentSafe)

	return &Workspace{
		tenant:    tenant,
		db:        db,
		safe:      contentSafe,
		files:     files,
		revisions: revisions,
		tracker:   change.NewTracker(files, revisions),
		differ:    diff.NewEngine(opts.DiffContext),
		opts:      opts,
		clock:     opts.Clock,
		logger:    logger.With(zap.String("tenant", tenant)),
		metrics:   m,
		paths:     newKeyedMutex(),
	}, nil
}

func (w *Workspace) Tenant() string {
	return w.tenant
}

// ImportEnabled reports whether Import accepts bundles.
func (w *Workspace) ImportEnabled() bool {
	return w.opts.ImportEnabled
}

// Close waits for in-flight operations and closes the database. Later
// operations fail with ErrWorkspaceClosed.
func (w *Workspace) Close() error {
	w.tree.Lock()
	defer w.tree.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	return w.db.Close()
}

func closedError() error {
	return errors.Conflict("tenant store is closed", ErrWorkspaceClosed)
}

// readLock takes the shared tree lock. Callers must not call back into the
// workspace while holding it.
func (w *Workspace) readLock() (func(), error) {
	w.tree.RLock()
	if w.closed {
		w.tree.RUnlock()
		return nil, closedError()
	}
	return w.tree.RUnlock, nil
}

// writeLock takes the exclusive tree lock.
func (w *Workspace) writeLock() (func(), error) {
	w.tree.Lock()
	if w.closed {
		w.tree.Unlock()
		return nil, closedError()
	}
	return w.tree.Unlock, nil
}

// lockPaths takes the shared tree lock and the locks of paths in sorted
// order. The returned func releases everything.
func (w *Workspace) lockPaths(paths ...string) (func(), error) {
	release, err := w.readLock()
	if err != nil {
		return nil, err
	}
	keys := slices.Clone(paths)
	slices.Sort(keys)
	keys = slices.Compact(keys)

	unlocks := make([]func(), 0, len(keys))
	for _, key := range keys {
		unlocks = append(unlocks, w.paths.Lock(key))
	}
	return func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
		release()
	}, nil
}

func (w *Workspace) observe(operation string, start time.Time, err *error) {
	w.metrics.Observe(operation, start, *err)
}

// classify maps storage failures to typed errors. Context errors are
// returned as is.
func classify(message string, err error) error {
	if err == nil {
		return nil
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return storage.Classify(message, err)
}

func (w *Workspace) Stat(ctx context.Context, path string) (*shared.File, error) {
	cleaned, err := validation.CleanPath(path)
	if err != nil {
		return nil, err
	}

	release, err := w.readLock()
	if err != nil {
		return nil, err
	}
	defer release()

	var f *shared.File
	err = w.db.View(func(txn *badger.Txn) error {
		var err error
		f, err = w.files.Stat(txn, cleaned)
		return err
	})
	if err != nil {
		return nil, classify("reading file", err)
	}
	return f, nil
}

// Read returns the current content of path.
func (w *Workspace) Read(ctx context.Context, path string) (data []byte, f *shared.File, err error) {
	defer w.observe("read", time.Now(), &err)

	cleaned, err := validation.CleanPath(path)
	if err != nil {
		return nil, nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	release, err := w.readLock()
	if err != nil {
		return nil, nil, err
	}
	defer release()

	err = w.db.View(func(txn *badger.Txn) error {
		var err error
		data, f, err = w.files.Read(txn, cleaned)
		return err
	})
	if err != nil {
		return nil, nil, classify("reading file", err)
	}
	return data, f, nil
}

// Write creates or replaces path. It does not record a revision; the
// change stays pending until Commit.
func (w *Workspace) Write(ctx context.Context, path string, data []byte) (f *shared.File, err error) {
	defer w.observe("write", time.Now(), &err)

	cleaned, err := validation.CleanPath(path)
	if err != nil {
		return nil, err
	}
	if err := validation.FileSize(cleaned, int64(len(data)), w.opts.MaxFileSize); err != nil {
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

	err = w.db.Update(func(txn *badger.Txn) error {
		var err error
		f, err = w.files.Write(txn, cleaned, data, w.clock.Now())
		return err
	})
	if err != nil {
		return nil, classify("writing file", err)
	}

	w.logger.Debug("file written", zap.String("path", cleaned), zap.Int64("size", f.Size))
	return f, nil
}

// Delete removes path and reports whether it existed.
func (w *Workspace) Delete(ctx context.Context, path string) (deleted bool, err error) {
	defer w.observe("delete", time.Now(), &err)

	cleaned, err := validation.CleanPath(path)
	if err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	unlock, err := w.lockPaths(cleaned)
	if err != nil {
		return false, err
	}
	defer unlock()

	err = w.db.Update(func(txn *badger.Txn) error {
		var err error
		deleted, err = w.files.Delete(txn, cleaned)
		return err
	})
	if err != nil {
		return false, classify("deleting file", err)
	}

	w.logger.Debug("file deleted", zap.String("path", cleaned), zap.Bool("existed", deleted))
	return deleted, nil
}

// List yields the paths under prefix in lexicographic order, read from a
// single snapshot. The loop body must not call back into the workspace.
func (w *Workspace) List(ctx context.Context, prefix string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		cleaned, err := validation.CleanPrefix(prefix)
		if err != nil {
			yield("", err)
			return
		}
		release, err := w.readLock()
		if err != nil {
			yield("", err)
			return
		}
		defer release()

		err = w.db.View(func(txn *badger.Txn) error {
			for f, err := range w.files.List(txn, cleaned) {
				if err != nil {
					return err
				}
				if err := ctx.Err(); err != nil {
					return err
				}
				if !yield(f.Path, nil) {
					return storage.ErrStop
				}
			}
			return nil
		})
		if err != nil && err != storage.ErrStop {
			yield("", classify("listing files", err))
		}
	}
}

// Pending returns every uncommitted change, ordered by path.
func (w *Workspace) Pending(ctx context.Context) (changes []shared.PendingChange, err error) {
	defer w.observe("pending", time.Now(), &err)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	release, err := w.readLock()
	if err != nil {
		return nil, err
	}
	defer release()

	err = w.db.View(func(txn *badger.Txn) error {
		var err error
		changes, err = w.tracker.Pending(txn, "")
		return err
	})
	if err != nil {
		return nil, classify("computing pending changes", err)
	}
	return changes, nil
}

// History returns the revisions of path, oldest first.
func (w *Workspace) History(ctx context.Context, path string) (revs []shared.Revision, err error) {
	defer w.observe("history", time.Now(), &err)

	cleaned, err := validation.CleanPath(path)
	if err != nil {
		return nil, err
	}

	release, err := w.readLock()
	if err != nil {
		return nil, err
	}
	defer release()

	err = w.db.View(func(txn *badger.Txn) error {
		var err error
		revs, err = w.revisions.History(txn, cleaned)
		return err
	})
	if err != nil {
		return nil, classify("reading history", err)
	}
	if revs == nil {
		revs = []shared.Revision{}
	}
	return revs, nil
}

// Diff compares the latest revision of path with its current content.
func (w *Workspace) Diff(ctx context.Context, path string) (result *diff.DiffResult, err error) {
	defer w.observe("diff", time.Now(), &err)

	cleaned, err := validation.CleanPath(path)
	if err != nil {
		return nil, err
	}

	release, err := w.readLock()
	if err != nil {
		return nil, err
	}
	var before, after []byte
	err = w.db.View(func(txn *badger.Txn) error {
		f, err := w.files.Stat(txn, cleaned)
		if err != nil {
			return err
		}
		head, err := w.revisions.Latest(txn, cleaned)
		if err != nil {
			return err
		}
		if f == nil && head == nil {
			return errors.NotFound(fmt.Sprintf("file not found: %s", cleaned))
		}

		if head != nil && !head.Deleted {
			if before, err = w.revisions.Content(txn, head); err != nil {
				return err
			}
		}
		if f != nil {
			if after, _, err = w.files.Read(txn, cleaned); err != nil {
				return err
			}
		}
		return nil
	})
	release()
	if err != nil {
		return nil, classify("computing diff", err)
	}
	return w.differ.Diff(before, after), nil
}

// Commit records a revision for every pending path in paths, or for all
// pending paths when none are given. Paths that are not pending are
// skipped. Either every revision is recorded or none is.
func (w *Workspace) Commit(ctx context.Context, paths ...string) (revs []shared.Revision, err error) {
	defer w.observe("commit", time.Now(), &err)

	targets, err := w.commitTargets(ctx, paths)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return []shared.Revision{}, nil
	}

	unlock, err := w.lockPaths(targets...)
	if err != nil {
		return nil, err
	}
	defer unlock()

	err = w.db.Update(func(txn *badger.Txn) error {
		revs = revs[:0]
		at := w.clock.Now()
		for _, p := range targets {
			rev, err := w.commitPath(txn, p, shared.OriginWrite, at)
			if err != nil {
				return err
			}
			if rev != nil {
				revs = append(revs, *rev)
			}
		}
		return nil
	})
	if err != nil {
		return nil, classify("committing changes", err)
	}
	if revs == nil {
		revs = []shared.Revision{}
	}

	w.metrics.RecordRevisions(revs...)
	w.logger.Info("changes committed", zap.Int("revisions", len(revs)))
	return revs, nil
}

func (w *Workspace) commitTargets(ctx context.Context, paths []string) ([]string, error) {
	if len(paths) > 0 {
		targets := make([]string, 0, len(paths))
		for _, p := range paths {
			cleaned, err := validation.CleanPath(p)
			if err != nil {
				return nil, err
			}
			targets = append(targets, cleaned)
		}
		slices.Sort(targets)
		return slices.Compact(targets), nil
	}

	pending, err := w.Pending(ctx)
	if err != nil {
		return nil, err
	}
	targets := make([]string, 0, len(pending))
	for _, c := range pending {
		targets = append(targets, c.Path)
	}
	return targets, nil
}

// commitPath appends a revision for path if it is pending and links the
// current file to it. It returns nil when there is nothing to record.
func (w *Workspace) commitPath(txn *badger.Txn, path string, origin shared.Origin, at time.Time) (*shared.Revision, error) {
	pending, err := w.tracker.Status(txn, path)
	if err != nil || pending == nil {
		return nil, err
	}

	if pending.Kind == shared.ChangeDeleted {
		return w.revisions.Append(txn, revision.Record{
			Path:      path,
			Deleted:   true,
			Origin:    origin,
			CreatedAt: at,
		})
	}

	f, err := w.files.Stat(txn, path)
	if err != nil {
		return nil, err
	}
	rev, err := w.revisions.Append(txn, revision.Record{
		Path:      path,
		Hash:      f.Hash,
		Size:      f.Size,
		Origin:    origin,
		CreatedAt: at,
	})
	if err != nil {
		return nil, err
	}
	if err := w.files.SetRevision(txn, path, rev.ID); err != nil {
		return nil, err
	}
	return rev, nil
}
