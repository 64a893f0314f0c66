package workspace

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"time"

	"botvault/internal/archive"
	"botvault/internal/errors"
	"botvault/shared/types"
	"botvault/shared/utils"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Export packs the current content of every file, read from a single
// snapshot. The bundle records the revision each file was committed as.
func (w *Workspace) Export(ctx context.Context) (a *archive.Archive, err error) {
	defer w.observe("export", time.Now(), &err)

	at := w.clock.Now()
	m := archive.Manifest{
		Format:     archive.FormatVersion,
		Tenant:     w.tenant,
		ExportID:   uuid.NewString(),
		ExportedAt: at,
		Entries:    []archive.Entry{},
	}

	release, err := w.readLock()
	if err != nil {
		return nil, err
	}
	defer release()

	var buf bytes.Buffer
	err = w.db.View(func(txn *badger.Txn) error {
		for f, err := range w.files.List(txn, "") {
			if err != nil {
				return err
			}
			m.Entries = append(m.Entries, archive.Entry{
				Path:     f.Path,
				Revision: f.RevisionID,
				Size:     f.Size,
				SHA256:   f.Hash,
			})
		}

		return archive.Pack(ctx, &buf, m, func(e archive.Entry) ([]byte, error) {
			return w.safe.Get(txn, e.SHA256)
		})
	})
	if err != nil {
		return nil, classify("exporting archive", err)
	}

	w.metrics.RecordArchive("export", buf.Len())
	w.logger.Info("archive exported",
		zap.String("export_id", m.ExportID),
		zap.Int("files", len(m.Entries)),
		zap.Int("bytes", buf.Len()))

	return &archive.Archive{
		Name:        archive.FileName(w.tenant, at),
		ContentType: archive.ContentType,
		Data:        buf.Bytes(),
		Manifest:    m,
	}, nil
}

// Import replaces the whole file tree with the content of bundle and
// records an import revision for every path that changed. The bundle is
// validated completely before anything is touched. Its blobs are stored
// first, then the replacement of pointers and revisions is a single
// transaction.
func (w *Workspace) Import(ctx context.Context, bundle []byte) (revs []shared.Revision, err error) {
	defer w.observe("import", time.Now(), &err)

	if !w.opts.ImportEnabled {
		return nil, errors.NotImplemented("archive import is not supported")
	}
	if w.opts.MaxImportSize > 0 && int64(len(bundle)) > w.opts.MaxImportSize {
		return nil, errors.ValidationError("archive exceeds the size limit", map[string]int64{"limit": w.opts.MaxImportSize})
	}

	unpacked, err := archive.Unpack(ctx, bytes.NewReader(bundle), w.importLimit())
	if err != nil {
		return nil, classify("reading archive", err)
	}
	for path, data := range unpacked.Files {
		if w.opts.MaxFileSize > 0 && int64(len(data)) > w.opts.MaxFileSize {
			return nil, errors.InvalidPath("file exceeds the size limit", path)
		}
	}

	release, err := w.readLock()
	if err != nil {
		return nil, err
	}
	staged, err := w.stageBlobs(ctx, unpacked.Files)
	release()
	if err != nil {
		return nil, classify("storing archive content", err)
	}

	unlock, err := w.writeLock()
	if err != nil {
		return nil, err
	}
	defer unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	err = w.db.Update(func(txn *badger.Txn) error {
		revs = revs[:0]
		at := w.clock.Now()

		paths, err := w.knownPaths(txn)
		if err != nil {
			return err
		}
		for path := range staged {
			paths = append(paths, path)
		}
		slices.Sort(paths)
		paths = slices.Compact(paths)

		for _, path := range paths {
			if err := ctx.Err(); err != nil {
				return err
			}
			rev, err := w.importPath(txn, path, staged, at)
			if err != nil {
				return fmt.Errorf("importing %s: %w", path, err)
			}
			if rev != nil {
				revs = append(revs, *rev)
			}
		}
		return nil
	})
	if err != nil {
		return nil, classify("importing archive", err)
	}
	if revs == nil {
		revs = []shared.Revision{}
	}

	w.metrics.RecordArchive("import", len(bundle))
	w.metrics.RecordRevisions(revs...)
	w.logger.Info("archive imported",
		zap.String("export_id", unpacked.Manifest.ExportID),
		zap.Int("files", len(unpacked.Files)),
		zap.Int("revisions", len(revs)))
	return revs, nil
}

// stageBlobs stores the content of files through a write batch, skipping
// blobs the tenant already has, and returns the file each path will point
// to. Blobs left behind by a failed import are unreferenced and harmless.
func (w *Workspace) stageBlobs(ctx context.Context, files map[string][]byte) (map[string]shared.File, error) {
	staged := make(map[string]shared.File, len(files))
	queued := make(map[string]bool)

	wb := w.db.NewWriteBatch()
	defer wb.Cancel()

	err := w.db.View(func(txn *badger.Txn) error {
		for _, path := range utils.SortedKeys(files) {
			if err := ctx.Err(); err != nil {
				return err
			}
			data := files[path]
			hash := utils.HashContent(data)
			staged[path] = shared.File{Path: path, Hash: hash, Size: int64(len(data))}
			if queued[hash] {
				continue
			}
			queued[hash] = true

			exists, err := w.safe.Exists(txn, hash)
			if err != nil {
				return fmt.Errorf("checking blob of %s: %w", path, err)
			}
			if exists {
				continue
			}
			if _, err := w.safe.PutBatch(wb, data); err != nil {
				return fmt.Errorf("staging %s: %w", path, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := wb.Flush(); err != nil {
		return nil, fmt.Errorf("storing blobs: %w", err)
	}
	return staged, nil
}

func (w *Workspace) importLimit() int64 {
	if w.opts.MaxImportSize > 0 {
		return w.opts.MaxImportSize
	}
	return 1 << 62
}

// knownPaths collects every path that has a file or a revision. The two
// scans run one after the other; a read-write transaction allows only one
// open iterator.
func (w *Workspace) knownPaths(txn *badger.Txn) ([]string, error) {
	var paths []string
	for f, err := range w.files.List(txn, "") {
		if err != nil {
			return nil, err
		}
		paths = append(paths, f.Path)
	}
	for head, err := range w.revisions.Heads(txn, "") {
		if err != nil {
			return nil, err
		}
		paths = append(paths, head.Path)
	}
	return paths, nil
}

// importPath sets path to its bundle content, or removes it when the
// bundle lacks it, and records the result if it differs from the latest
// revision.
func (w *Workspace) importPath(txn *badger.Txn, path string, staged map[string]shared.File, at time.Time) (*shared.Revision, error) {
	f, ok := staged[path]
	if ok {
		if _, err := w.files.Link(txn, path, f.Hash, f.Size, at); err != nil {
			return nil, err
		}
	} else if _, err := w.files.Delete(txn, path); err != nil {
		return nil, err
	}

	rev, err := w.commitPath(txn, path, shared.OriginImport, at)
	if err != nil || rev != nil || !ok {
		return rev, err
	}

	// Unchanged against the log: relink a file that was absent before.
	head, err := w.revisions.Latest(txn, path)
	if err != nil {
		return nil, err
	}
	return nil, w.files.SetRevision(txn, path, head.ID)
}
