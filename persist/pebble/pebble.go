// Package pebble stores trie nodes in a Pebble database, keyed by digest.
package pebble

import (
	"context"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/bloom"
	"github.com/jrhy/statetrie"
	"go.uber.org/zap"
)

const (
	// minCache is the minimum amount of memory in megabytes to allocate to
	// pebble read and write caching.
	minCache = 16

	// minHandles is the minimum number of files handles to allocate to the
	// open database files.
	minHandles = 16
)

// Store is a statetrie.Backend over a Pebble database. A batch is
// committed atomically and synced.
type Store struct {
	path string
	db   *pebble.DB
	log  *zap.Logger
}

var _ statetrie.Backend = (*Store)(nil)

// New opens or creates the database at path with the given cache size in
// megabytes and number of file handles.
func New(path string, cache, handles int, readonly bool, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if cache < minCache {
		cache = minCache
	}
	if handles < minHandles {
		handles = minHandles
	}
	log = log.With(zap.String("database", path))
	log.Info("allocated cache and file handles",
		zap.Int("cacheMiB", cache),
		zap.Int("handles", handles),
		zap.Bool("readonly", readonly))

	// two memory tables, a frozen one and a live one, as leveldb does
	memTableLimit := 2
	memTableSize := cache * 1024 * 1024 / 2 / memTableLimit

	c := pebble.NewCache(int64(cache * 1024 * 1024))
	defer c.Unref()
	opts := &pebble.Options{
		Cache:                       c,
		MaxOpenFiles:                handles,
		MemTableSize:                uint64(memTableSize),
		MemTableStopWritesThreshold: memTableLimit,
		Levels: []pebble.LevelOptions{
			{TargetFileSize: 2 * 1024 * 1024, FilterPolicy: bloom.FilterPolicy(10)},
			{TargetFileSize: 4 * 1024 * 1024, FilterPolicy: bloom.FilterPolicy(10)},
			{TargetFileSize: 8 * 1024 * 1024, FilterPolicy: bloom.FilterPolicy(10)},
			{TargetFileSize: 16 * 1024 * 1024, FilterPolicy: bloom.FilterPolicy(10)},
		},
		ReadOnly: readonly,
	}
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &Store{path: path, db: db, log: log}, nil
}

func (s *Store) Load(ctx context.Context, digest statetrie.Digest) ([]byte, bool, error) {
	dat, closer, err := s.db.Get(digest)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	blob := make([]byte, len(dat))
	copy(blob, dat)
	if err := closer.Close(); err != nil {
		return nil, false, err
	}
	return blob, true, nil
}

func (s *Store) Has(ctx context.Context, digest statetrie.Digest) (bool, error) {
	_, closer, err := s.db.Get(digest)
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := closer.Close(); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) Store(ctx context.Context, digest statetrie.Digest, node []byte) error {
	return s.db.Set(digest, node, pebble.Sync)
}

func (s *Store) StoreBatch(ctx context.Context, nodes []statetrie.Node) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	batch := s.db.NewBatch()
	defer batch.Close()
	for _, n := range nodes {
		if err := batch.Set(n.Digest, n.Blob, nil); err != nil {
			return fmt.Errorf("batch set %v: %w", n.Digest, err)
		}
	}
	return batch.Commit(pebble.Sync)
}

// Close flushes and releases the database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		s.log.Error("failed to close database", zap.Error(err))
		return err
	}
	return nil
}
