package workspace

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"botvault/internal/errors"
	"botvault/internal/metrics"
	"botvault/internal/storage"
	"botvault/internal/validation"

	"go.uber.org/zap"
)

// ErrRegistryClosed is returned by Get after CloseAll.
var ErrRegistryClosed = stderrors.New("registry closed")

// Registry opens tenant workspaces on demand. Each tenant gets its own
// database under <root>/tenants/<id>, or an in-memory one.
type Registry struct {
	root     string
	inMemory bool
	opts     Options
	logger   *zap.Logger
	metrics  *metrics.Metrics

	mu     sync.Mutex
	open   map[string]*Workspace
	closed bool
}

func NewRegistry(root string, inMemory bool, opts Options, logger *zap.Logger, m *metrics.Metrics) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		root:     root,
		inMemory: inMemory,
		opts:     opts,
		logger:   logger,
		metrics:  m,
		open:     make(map[string]*Workspace),
	}
}

func (r *Registry) dir(tenant string) string {
	return filepath.Join(r.root, "tenants", tenant)
}

// Get returns the workspace of tenant, opening or creating it.
func (r *Registry) Get(ctx context.Context, tenant string) (*Workspace, error) {
	if err := validation.TenantID(tenant); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrRegistryClosed
	}
	if ws, ok := r.open[tenant]; ok {
		return ws, nil
	}

	db, err := storage.Open(r.dir(tenant), r.inMemory)
	if err != nil {
		return nil, errors.IOFailure("opening tenant store", err)
	}
	ws, err := New(tenant, db, r.opts, r.logger, r.metrics)
	if err != nil {
		db.Close()
		return nil, err
	}

	r.open[tenant] = ws
	r.metrics.TenantOpened()
	r.logger.Info("tenant opened", zap.String("tenant", tenant))
	return ws, nil
}

// Close closes the workspace of tenant if it is open.
func (r *Registry) Close(tenant string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closeLocked(tenant)
}

func (r *Registry) closeLocked(tenant string) error {
	ws, ok := r.open[tenant]
	if !ok {
		return nil
	}
	delete(r.open, tenant)
	r.metrics.TenantClosed()
	if err := ws.Close(); err != nil {
		return fmt.Errorf("closing tenant %s: %w", tenant, err)
	}
	return nil
}

// Delete closes the workspace of tenant and destroys its data.
func (r *Registry) Delete(tenant string) error {
	if err := validation.TenantID(tenant); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.closeLocked(tenant); err != nil {
		return err
	}
	if !r.inMemory {
		if err := os.RemoveAll(r.dir(tenant)); err != nil {
			return errors.IOFailure("removing tenant store", err)
		}
	}
	r.logger.Info("tenant deleted", zap.String("tenant", tenant))
	return nil
}

// Tenants returns the ids of the open workspaces, sorted.
func (r *Registry) Tenants() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.open))
	for id := range r.open {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// CloseAll closes every workspace. The registry cannot be used afterwards.
func (r *Registry) CloseAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	var errs []error
	for id := range r.open {
		if err := r.closeLocked(id); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}
