package statetrie

import (
	"context"
	"sync"
)

type inMemoryStore struct {
	entries map[string][]byte
	l       sync.RWMutex
}

// NewInMemoryStore provides a Backend that keeps serialized nodes in a map.
func NewInMemoryStore() Backend {
	return &inMemoryStore{entries: map[string][]byte{}}
}

func (ims *inMemoryStore) Store(ctx context.Context, digest Digest, node []byte) error {
	ims.l.Lock()
	ims.entries[string(digest)] = clone(node)
	ims.l.Unlock()
	return nil
}

func (ims *inMemoryStore) StoreBatch(ctx context.Context, nodes []Node) error {
	ims.l.Lock()
	for _, n := range nodes {
		ims.entries[string(n.Digest)] = clone(n.Blob)
	}
	ims.l.Unlock()
	return nil
}

func (ims *inMemoryStore) Load(ctx context.Context, digest Digest) ([]byte, bool, error) {
	ims.l.RLock()
	value, ok := ims.entries[string(digest)]
	ims.l.RUnlock()
	return value, ok, nil
}

func (ims *inMemoryStore) Has(ctx context.Context, digest Digest) (bool, error) {
	ims.l.RLock()
	_, ok := ims.entries[string(digest)]
	ims.l.RUnlock()
	return ok, nil
}

// Len returns the number of stored nodes.
func (ims *inMemoryStore) Len() int {
	ims.l.RLock()
	defer ims.l.RUnlock()
	return len(ims.entries)
}
