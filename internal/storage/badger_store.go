// internal/storage/badger_store.go
package storage

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"os"
	"strings"

	"botvault/internal/errors"

	"github.com/dgraph-io/badger/v4"
)

// ErrStop ends a Scan early without reporting an error.
var ErrStop = stderrors.New("stop scan")

// Open opens a badger database at path, or an in-memory one when inMemory
// is set (path is then ignored).
func Open(path string, inMemory bool) (*badger.DB, error) {
	var opts badger.Options
	if inMemory {
		opts = badger.DefaultOptions("").
			WithInMemory(true).
			WithNumVersionsToKeep(1)
	} else {
		if err := os.MkdirAll(path, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
		opts = badger.DefaultOptions(path).
			WithLoggingLevel(badger.WARNING)
	}
	opts.Logger = nil // Disable logging noise

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return db, nil
}

// Classify converts a badger error into the store's error taxonomy.
// Errors that are already typed pass through.
func Classify(message string, err error) error {
	if err == nil {
		return nil
	}
	var typed *errors.Error
	if stderrors.As(err, &typed) {
		return err
	}
	if stderrors.Is(err, badger.ErrConflict) {
		return errors.Conflict(message+": concurrent modification", err)
	}
	return errors.IOFailure(message, err)
}

// Bucket namespaces keys under "<prefix>:" and stores JSON values.
type Bucket struct {
	prefix string
}

func NewBucket(prefix string) Bucket {
	return Bucket{prefix: prefix}
}

func (b Bucket) Key(id string) []byte {
	return []byte(b.prefix + ":" + id)
}

func (b Bucket) ID(key []byte) string {
	return strings.TrimPrefix(string(key), b.prefix+":")
}

// Get decodes the value stored under id into v. It reports false when
// the key does not exist.
func (b Bucket) Get(txn *badger.Txn, id string, v any) (bool, error) {
	item, err := txn.Get(b.Key(id))
	if err == badger.ErrKeyNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
	if err != nil {
		return false, fmt.Errorf("decoding %s: %w", id, err)
	}
	return true, nil
}

func (b Bucket) Set(txn *badger.Txn, id string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", id, err)
	}
	return txn.Set(b.Key(id), data)
}

func (b Bucket) GetRaw(txn *badger.Txn, id string) ([]byte, bool, error) {
	item, err := txn.Get(b.Key(id))
	if err == badger.ErrKeyNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (b Bucket) SetRaw(txn *badger.Txn, id string, val []byte) error {
	return txn.Set(b.Key(id), val)
}

func (b Bucket) Delete(txn *badger.Txn, id string) error {
	return txn.Delete(b.Key(id))
}

// Scan calls fn for every id starting with idPrefix, in ascending key
// order. Returning ErrStop from fn ends the scan cleanly.
func (b Bucket) Scan(txn *badger.Txn, idPrefix string, fn func(id string, val []byte) error) error {
	prefix := b.Key(idPrefix)
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix

	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		id := b.ID(item.Key())
		err := item.Value(func(val []byte) error {
			return fn(id, val)
		})
		if err == ErrStop {
			return nil
		}
		if err != nil {
			return err
		}
	}
	return nil
}
