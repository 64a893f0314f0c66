// Package watch mirrors a local directory into a tenant workspace.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"strings"

	"botvault/shared/types"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Target receives mirrored files. *workspace.Workspace implements it.
type Target interface {
	Write(ctx context.Context, path string, data []byte) (*shared.File, error)
	Delete(ctx context.Context, path string) (bool, error)
	List(ctx context.Context, prefix string) iter.Seq2[string, error]
	Commit(ctx context.Context, paths ...string) ([]shared.Revision, error)
}

var defaultIgnoreDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
	"dist":         true,
	"build":        true,
}

// Mirror keeps a target in sync with a directory tree. With AutoCommit
// every mirrored change is committed right away.
type Mirror struct {
	root       string
	target     Target
	watcher    *fsnotify.Watcher
	ignoreDirs map[string]bool
	autoCommit bool
	logger     *zap.Logger
}

type Options struct {
	AutoCommit bool
	Logger     *zap.Logger
}

func NewMirror(root string, target Target, opts Options) (*Mirror, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving root: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mirror{
		root:       abs,
		target:     target,
		watcher:    watcher,
		ignoreDirs: defaultIgnoreDirs,
		autoCommit: opts.AutoCommit,
		logger:     logger,
	}, nil
}

// Seed uploads every file under the root, removes target files that no
// longer exist locally and starts watching every directory.
func (m *Mirror) Seed(ctx context.Context) error {
	local := make(map[string]bool)
	err := filepath.WalkDir(m.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, ok := m.relative(path)
		if d.IsDir() {
			if path != m.root && !ok {
				return filepath.SkipDir
			}
			if err := m.watcher.Add(path); err != nil {
				return fmt.Errorf("adding directory to watcher: %w", err)
			}
			return nil
		}
		if !ok || !d.Type().IsRegular() {
			return nil
		}
		local[rel] = true
		return m.upload(ctx, path, rel)
	})
	if err != nil {
		return fmt.Errorf("walking %s: %w", m.root, err)
	}

	var stale []string
	for p, err := range m.target.List(ctx, "") {
		if err != nil {
			return err
		}
		if !local[p] {
			stale = append(stale, p)
		}
	}
	for _, p := range stale {
		if _, err := m.target.Delete(ctx, p); err != nil {
			return err
		}
	}

	m.logger.Info("mirror seeded",
		zap.String("root", m.root),
		zap.Int("files", len(local)),
		zap.Int("removed", len(stale)))
	return m.commit(ctx)
}

// Run applies filesystem events until ctx is done or the mirror is closed.
func (m *Mirror) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-m.watcher.Events:
			if !ok {
				return nil
			}
			if err := m.handleEvent(ctx, event); err != nil {
				m.logger.Error("mirroring change", zap.String("file", event.Name), zap.Error(err))
			}
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return nil
			}
			m.logger.Error("watcher error", zap.Error(err))
		}
	}
}

func (m *Mirror) handleEvent(ctx context.Context, event fsnotify.Event) error {
	rel, ok := m.relative(event.Name)
	if !ok {
		return nil
	}

	switch {
	case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
		info, err := os.Stat(event.Name)
		if os.IsNotExist(err) {
			return nil
		}
		if err != nil {
			return err
		}
		if info.IsDir() {
			return m.addDir(ctx, event.Name)
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		if err := m.upload(ctx, event.Name, rel); err != nil {
			return err
		}

	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		if err := m.remove(ctx, rel); err != nil {
			return err
		}

	default:
		return nil
	}
	return m.commit(ctx)
}

// addDir watches a directory created after Seed and uploads what it
// already contains.
func (m *Mirror) addDir(ctx context.Context, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, ok := m.relative(path)
		if !ok {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if err := m.watcher.Add(path); err != nil {
				return fmt.Errorf("adding new directory to watcher: %w", err)
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		return m.upload(ctx, path, rel)
	})
}

func (m *Mirror) upload(ctx context.Context, abs, rel string) error {
	data, err := os.ReadFile(abs)
	if err != nil {
		return fmt.Errorf("reading %s: %w", rel, err)
	}
	if _, err := m.target.Write(ctx, rel, data); err != nil {
		return err
	}
	m.logger.Debug("file mirrored", zap.String("path", rel))
	return nil
}

// remove deletes rel, or everything under it when rel was a directory.
func (m *Mirror) remove(ctx context.Context, rel string) error {
	deleted, err := m.target.Delete(ctx, rel)
	if err != nil || deleted {
		return err
	}

	var nested []string
	for p, err := range m.target.List(ctx, rel+"/") {
		if err != nil {
			return err
		}
		nested = append(nested, p)
	}
	for _, p := range nested {
		if _, err := m.target.Delete(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

func (m *Mirror) commit(ctx context.Context) error {
	if !m.autoCommit {
		return nil
	}
	revs, err := m.target.Commit(ctx)
	if err != nil {
		return err
	}
	if len(revs) > 0 {
		m.logger.Info("changes committed", zap.Int("revisions", len(revs)))
	}
	return nil
}

// relative maps an absolute path under the root to a store path. It
// reports false for the root itself and for ignored entries.
func (m *Mirror) relative(path string) (string, bool) {
	rel, err := filepath.Rel(m.root, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}
	rel = filepath.ToSlash(rel)
	for _, part := range strings.Split(rel, "/") {
		if m.ignoreDirs[part] || strings.HasPrefix(part, ".") {
			return "", false
		}
	}
	return rel, true
}

func (m *Mirror) Close() error {
	return m.watcher.Close()
}
