package statetrie

import (
	"context"
	"fmt"
)

// Get returns the committed value of a main-trie key.
func (e *Engine) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	s := e.session(ctx)
	t, err := s.openTree(e.root)
	if err != nil {
		return nil, false, err
	}
	value, ok, err := s.get(t, key)
	if err != nil || !ok {
		return nil, false, err
	}
	return clone(value), true, nil
}

// ChildRoot returns the committed root of a child trie. ok is false if the
// child trie is empty.
func (e *Engine) ChildRoot(ctx context.Context, childID []byte) (Digest, bool, error) {
	value, ok, err := e.Get(ctx, ChildRootKey(childID))
	if err != nil || !ok {
		return nil, false, err
	}
	return Digest(value), true, nil
}

// ChildGet returns the committed value of a key in a child trie.
func (e *Engine) ChildGet(ctx context.Context, childID, key []byte) ([]byte, bool, error) {
	s := e.session(ctx)
	t, err := s.openTree(e.root)
	if err != nil {
		return nil, false, err
	}
	ct, err := s.openChild(t, childID)
	if err != nil {
		return nil, false, fmt.Errorf("child %x: %w", childID, err)
	}
	value, ok, err := s.get(ct, key)
	if err != nil || !ok {
		return nil, false, err
	}
	return clone(value), true, nil
}

// Iter invokes f for every committed main-trie entry in key order,
// including the reserved child-root entries. The slices passed to f must
// not be modified.
func (e *Engine) Iter(ctx context.Context, f func(key, value []byte) error) error {
	s := e.session(ctx)
	t, err := s.openTree(e.root)
	if err != nil {
		return err
	}
	return s.iter(t.root, t.level, f)
}

// ChildIter invokes f for every entry of a child trie in key order.
func (e *Engine) ChildIter(ctx context.Context, childID []byte, f func(key, value []byte) error) error {
	s := e.session(ctx)
	t, err := s.openTree(e.root)
	if err != nil {
		return err
	}
	ct, err := s.openChild(t, childID)
	if err != nil {
		return fmt.Errorf("child %x: %w", childID, err)
	}
	return s.iter(ct.root, ct.level, f)
}

// Pairs returns a copy of every committed main-trie entry in key order.
func (e *Engine) Pairs(ctx context.Context) ([]KeyValue, error) {
	var pairs []KeyValue
	err := e.Iter(ctx, func(key, value []byte) error {
		pairs = append(pairs, KeyValue{Key: clone(key), Value: clone(value)})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pairs, nil
}

// Children returns the ids of the non-empty child tries.
func (e *Engine) Children(ctx context.Context) ([][]byte, error) {
	var ids [][]byte
	err := e.Iter(ctx, func(key, _ []byte) error {
		if id, ok := childIDFromKey(key); ok {
			ids = append(ids, clone(id))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// Size returns the number of committed main-trie entries.
func (e *Engine) Size(ctx context.Context) (int, error) {
	n := 0
	err := e.Iter(ctx, func(_, _ []byte) error {
		n++
		return nil
	})
	return n, err
}
