package statetrie

import (
	"context"
	"sync"
)

// Guarded serializes access to an Engine with a single writer and many
// readers: Compute and the read operations share the lock, Load and Apply
// take it exclusively. A reader never observes a partially applied
// transaction.
type Guarded struct {
	l sync.RWMutex
	e *Engine
}

// NewGuarded wraps e. The engine must not be used directly afterwards.
func NewGuarded(e *Engine) *Guarded {
	return &Guarded{e: e}
}

// Load loads the engine under the exclusive lock.
func (g *Guarded) Load(ctx context.Context, pairs []KeyValue) error {
	g.l.Lock()
	defer g.l.Unlock()
	return g.e.Load(ctx, pairs)
}

// Apply applies a transaction under the exclusive lock.
func (g *Guarded) Apply(ctx context.Context, root Digest, tx *Transaction) error {
	g.l.Lock()
	defer g.l.Unlock()
	return g.e.Apply(ctx, root, tx)
}

// Commit computes and applies the changes under one exclusive lock, so no
// other commit can make the transaction stale.
func (g *Guarded) Commit(ctx context.Context, cs ChangeSet) (Digest, error) {
	g.l.Lock()
	defer g.l.Unlock()
	root, tx, err := g.e.Compute(ctx, cs.Main, cs.Children)
	if err != nil {
		return nil, err
	}
	if err := g.e.Apply(ctx, root, tx); err != nil {
		return nil, err
	}
	return root, nil
}

// Compute computes against the committed root under the read lock.
func (g *Guarded) Compute(ctx context.Context, main []Change, children []ChildChanges) (Digest, *Transaction, error) {
	g.l.RLock()
	defer g.l.RUnlock()
	return g.e.Compute(ctx, main, children)
}

// Root returns the last committed root.
func (g *Guarded) Root() Digest {
	g.l.RLock()
	defer g.l.RUnlock()
	return g.e.Root()
}

// Get returns the committed value of a main-trie key.
func (g *Guarded) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	g.l.RLock()
	defer g.l.RUnlock()
	return g.e.Get(ctx, key)
}

// ChildGet returns the committed value of a key in a child trie.
func (g *Guarded) ChildGet(ctx context.Context, childID, key []byte) ([]byte, bool, error) {
	g.l.RLock()
	defer g.l.RUnlock()
	return g.e.ChildGet(ctx, childID, key)
}

// ChildRoot returns the committed root of a child trie.
func (g *Guarded) ChildRoot(ctx context.Context, childID []byte) (Digest, bool, error) {
	g.l.RLock()
	defer g.l.RUnlock()
	return g.e.ChildRoot(ctx, childID)
}

// Iter holds the read lock for the whole iteration; f must not call
// Apply, Load or Commit.
func (g *Guarded) Iter(ctx context.Context, f func(key, value []byte) error) error {
	g.l.RLock()
	defer g.l.RUnlock()
	return g.e.Iter(ctx, f)
}
