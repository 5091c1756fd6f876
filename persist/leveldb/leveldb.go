// Package leveldb stores trie nodes in a LevelDB database, keyed by digest.
package leveldb

import (
	"context"
	"errors"
	"fmt"

	"github.com/jrhy/statetrie"
	"github.com/syndtr/goleveldb/leveldb"
	lerrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/filter"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"go.uber.org/zap"
)

const (
	// minCache is the minimum amount of memory in megabytes to allocate to
	// leveldb read and write caching, split half and half.
	minCache = 16

	// minHandles is the minimum number of files handles to allocate to the
	// open database files.
	minHandles = 16
)

// Store is a statetrie.Backend over a LevelDB database. A batch is
// written atomically.
type Store struct {
	path string
	db   *leveldb.DB
	log  *zap.Logger
}

var _ statetrie.Backend = (*Store)(nil)

// New opens or creates the database at path with the given cache size in
// megabytes and number of file handles. A corrupted database is recovered.
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
	options := &opt.Options{
		Filter:                 filter.NewBloomFilter(10),
		DisableSeeksCompaction: true,
		OpenFilesCacheCapacity: handles,
		BlockCacheCapacity:     cache / 2 * opt.MiB,
		WriteBuffer:            cache / 4 * opt.MiB, // two of these are used internally
		ReadOnly:               readonly,
	}
	log = log.With(zap.String("database", path))
	log.Info("allocated cache and file handles",
		zap.Int("cacheMiB", cache),
		zap.Int("handles", handles),
		zap.Bool("readonly", readonly))

	db, err := leveldb.OpenFile(path, options)
	var corrupted *lerrors.ErrCorrupted
	if errors.As(err, &corrupted) {
		log.Warn("recovering corrupted database", zap.Error(err))
		db, err = leveldb.RecoverFile(path, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &Store{path: path, db: db, log: log}, nil
}

func (s *Store) Load(ctx context.Context, digest statetrie.Digest) ([]byte, bool, error) {
	blob, err := s.db.Get(digest, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return blob, true, nil
}

func (s *Store) Has(ctx context.Context, digest statetrie.Digest) (bool, error) {
	return s.db.Has(digest, nil)
}

func (s *Store) Store(ctx context.Context, digest statetrie.Digest, node []byte) error {
	return s.db.Put(digest, node, nil)
}

func (s *Store) StoreBatch(ctx context.Context, nodes []statetrie.Node) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	batch := new(leveldb.Batch)
	for _, n := range nodes {
		batch.Put(n.Digest, n.Blob)
	}
	return s.db.Write(batch, &opt.WriteOptions{Sync: true})
}

// Close releases the database. Using the store afterwards returns
// leveldb.ErrClosed.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		s.log.Error("failed to close database", zap.Error(err))
		return err
	}
	return nil
}
