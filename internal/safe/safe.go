// internal/safe/safe.go
package safe

import (
	stderrors "errors"
	"fmt"

	"botvault/internal/storage"
	"botvault/shared/utils"

	"github.com/dgraph-io/badger/v4"
	lru "github.com/hashicorp/golang-lru/v2"
)

var (
	ErrContentNotFound = stderrors.New("content not found")
	ErrInvalidHash     = stderrors.New("invalid content hash")
	ErrHashMismatch    = stderrors.New("content hash mismatch")
)

// Safe provides deduplicated, content-addressed blob storage inside a
// tenant database. Blobs are immutable, so the read cache never needs
// invalidation.
type Safe struct {
	blobs storage.Bucket
	cache *lru.Cache[string, []byte]
	cm    *compressionManager
}

// Options configures Safe behavior
type Options struct {
	CacheSize   int // Number of blobs to cache
	Compression CompressionOptions
}

// New creates a new Safe instance
func New(opts Options) (*Safe, error) {
	if opts.CacheSize <= 0 {
		opts.CacheSize = 1000
	}
	if opts.Compression.Level == 0 {
		opts.Compression = DefaultCompressionOptions()
	}

	cache, err := lru.New[string, []byte](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating cache: %w", err)
	}

	cm, err := newCompressionManager(opts.Compression)
	if err != nil {
		return nil, err
	}

	return &Safe{
		blobs: storage.NewBucket("blob"),
		cache: cache,
		cm:    cm,
	}, nil
}

// Put stores content in txn and returns its hash. The blob is written
// unconditionally: reading it first would put the key in the read set and
// make unrelated writers of identical content conflict.
func (s *Safe) Put(txn *badger.Txn, content []byte) (string, error) {
	hash := utils.HashContent(content)
	if err := s.blobs.SetRaw(txn, hash, s.cm.encode(content)); err != nil {
		return "", fmt.Errorf("storing blob: %w", err)
	}
	return hash, nil
}

// PutBatch queues content on wb and returns its hash. A write batch
// commits in as many transactions as it needs, so bulk loads are not
// bound by the size limit of a single transaction.
func (s *Safe) PutBatch(wb *badger.WriteBatch, content []byte) (string, error) {
	hash := utils.HashContent(content)
	if err := wb.Set(s.blobs.Key(hash), s.cm.encode(content)); err != nil {
		return "", fmt.Errorf("storing blob: %w", err)
	}
	return hash, nil
}

// Get retrieves content by hash. The returned slice belongs to the caller.
func (s *Safe) Get(txn *badger.Txn, hash string) ([]byte, error) {
	if !isValidHash(hash) {
		return nil, ErrInvalidHash
	}

	if content, ok := s.cache.Get(hash); ok {
		return append([]byte{}, content...), nil
	}

	stored, found, err := s.blobs.GetRaw(txn, hash)
	if err != nil {
		return nil, fmt.Errorf("reading blob: %w", err)
	}
	if !found {
		return nil, ErrContentNotFound
	}

	content, err := s.cm.decode(stored)
	if err != nil {
		return nil, err
	}
	if utils.HashContent(content) != hash {
		return nil, ErrHashMismatch
	}

	s.cache.Add(hash, content)
	return append([]byte{}, content...), nil
}

// Exists checks if content exists
func (s *Safe) Exists(txn *badger.Txn, hash string) (bool, error) {
	if !isValidHash(hash) {
		return false, ErrInvalidHash
	}
	if s.cache.Contains(hash) {
		return true, nil
	}
	_, err := txn.Get(s.blobs.Key(hash))
	if err == badger.ErrKeyNotFound {
		return false, nil
	}
	return err == nil, err
}

func isValidHash(hash string) bool {
	if len(hash) != 64 {
		return false
	}
	for _, c := range hash {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
