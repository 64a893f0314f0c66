package testutil

import (
	"testing"

	"botvault/internal/safe"
	"botvault/internal/storage"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"
)

// NewDB opens an in-memory badger database closed at test cleanup.
func NewDB(t *testing.T) *badger.DB {
	t.Helper()
	db, err := storage.Open("", true)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// NewSafe returns a Safe with a small cache.
func NewSafe(t *testing.T) *safe.Safe {
	t.Helper()
	s, err := safe.New(safe.Options{CacheSize: 16})
	require.NoError(t, err)
	return s
}
