package statetrie

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Engine holds the committed root of a main trie, with its child tries,
// over a Backend. An engine is Empty until Load or Open, and Loaded after.
type Engine struct {
	backend Backend
	hasher  Hasher
	cache   NodeCache
	log     *zap.Logger
	empty   Digest
	root    Digest
	loaded  bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithNodeCache shares decoded nodes between operations, and between
// engines on the same backend.
func WithNodeCache(cache NodeCache) Option {
	return func(e *Engine) {
		e.cache = cache
	}
}

// WithLogger sets the logger for debug events. The default discards them.
func WithLogger(log *zap.Logger) Option {
	return func(e *Engine) {
		e.log = log
	}
}

// New returns an Empty engine over the given backend.
func New(backend Backend, hasher Hasher, options ...Option) *Engine {
	e := &Engine{
		backend: backend,
		hasher:  hasher,
		log:     zap.NewNop(),
	}
	for _, o := range options {
		o(e)
	}
	e.empty = emptyRoot(hasher)
	e.root = e.empty
	return e
}

// Open returns a Loaded engine whose committed root is root, whose nodes
// must already be in the backend, e.g. from an earlier session. A
// zero-length root opens the empty trie.
func Open(ctx context.Context, backend Backend, hasher Hasher, root Digest, options ...Option) (*Engine, error) {
	e := New(backend, hasher, options...)
	if _, err := e.session(ctx).openTree(root); err != nil {
		return nil, fmt.Errorf("open %v: %w", root, err)
	}
	if len(root) == 0 {
		e.root = e.empty
	} else {
		e.root = append(Digest{}, root...)
	}
	e.loaded = true
	e.log.Debug("opened state trie", zap.Stringer("root", e.root))
	return e, nil
}

func (e *Engine) session(ctx context.Context) *session {
	return &session{
		ctx:     ctx,
		backend: e.backend,
		hasher:  e.hasher,
		cache:   e.cache,
	}
}

// Hasher returns the engine's hasher.
func (e *Engine) Hasher() Hasher {
	return e.hasher
}

// EmptyRoot returns the root of a trie without entries.
func (e *Engine) EmptyRoot() Digest {
	return append(Digest{}, e.empty...)
}

// Root returns the last committed root.
func (e *Engine) Root() Digest {
	return append(Digest{}, e.root...)
}

// Loaded reports whether the engine accepts Compute and Apply.
func (e *Engine) Loaded() bool {
	return e.loaded
}

// Load bulk-initializes an Empty engine with the given pairs and writes
// them to the backend. A key given more than once takes its last value.
// Load on a Loaded engine returns ErrAlreadyLoaded.
func (e *Engine) Load(ctx context.Context, pairs []KeyValue) error {
	if e.loaded {
		return ErrAlreadyLoaded
	}
	for i, p := range pairs {
		if IsReservedKey(p.Key) {
			return fmt.Errorf("pair %d: %w", i, ErrReservedKey)
		}
	}
	s := e.session(ctx)
	t := &tree{}
	for _, p := range pairs {
		if err := s.put(t, p.Key, p.Value); err != nil {
			return fmt.Errorf("load %x: %w", p.Key, err)
		}
	}
	root, nodes, err := s.flush(t)
	if err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	if len(nodes) > 0 {
		if err := e.backend.StoreBatch(ctx, uniqueNodes(nodes)); err != nil {
			return fmt.Errorf("store batch: %w", err)
		}
	}
	e.root = root
	e.loaded = true
	e.log.Debug("loaded state trie",
		zap.Stringer("root", root),
		zap.Int("pairs", len(pairs)),
		zap.Int("nodes", len(nodes)))
	return nil
}

// Compute returns the root that applying the changes to the committed
// state would produce, and the transaction that realizes it. Changes are
// applied in order, main changes first, then each child trie's changes;
// child roots are recorded in the main trie under ChildRootKey. The
// backend is only read.
func (e *Engine) Compute(ctx context.Context, main []Change, children []ChildChanges) (Digest, *Transaction, error) {
	if !e.loaded {
		return nil, nil, ErrNotLoaded
	}
	for i, c := range main {
		if IsReservedKey(c.Key) {
			return nil, nil, fmt.Errorf("main change %d: %w", i, ErrReservedKey)
		}
	}
	for i, c := range children {
		if len(c.ChildID) == 0 {
			return nil, nil, fmt.Errorf("child changes %d: %w", i, ErrEmptyChildID)
		}
	}
	s := e.session(ctx)
	t, err := s.openTree(e.root)
	if err != nil {
		return nil, nil, err
	}
	if err := s.applyChanges(t, main); err != nil {
		return nil, nil, err
	}

	var nodes []Node
	staged := map[string]*tree{}
	var order [][]byte
	for _, c := range children {
		ct, ok := staged[string(c.ChildID)]
		if !ok {
			ct, err = s.openChild(t, c.ChildID)
			if err != nil {
				return nil, nil, fmt.Errorf("child %x: %w", c.ChildID, err)
			}
			staged[string(c.ChildID)] = ct
			order = append(order, c.ChildID)
		}
		if err := s.applyChanges(ct, c.Changes); err != nil {
			return nil, nil, fmt.Errorf("child %x: %w", c.ChildID, err)
		}
	}
	for _, id := range order {
		childRoot, childNodes, err := s.flush(staged[string(id)])
		if err != nil {
			return nil, nil, fmt.Errorf("flush child %x: %w", id, err)
		}
		nodes = append(nodes, childNodes...)
		if childRoot.Equal(e.empty) {
			err = s.delete(t, ChildRootKey(id))
		} else {
			err = s.put(t, ChildRootKey(id), childRoot)
		}
		if err != nil {
			return nil, nil, fmt.Errorf("child root %x: %w", id, err)
		}
	}

	root, mainNodes, err := s.flush(t)
	if err != nil {
		return nil, nil, fmt.Errorf("flush: %w", err)
	}
	nodes = uniqueNodes(append(nodes, mainNodes...))
	return root, &Transaction{Parent: e.Root(), Root: root, Nodes: nodes}, nil
}

// Apply commits a transaction returned by Compute against the current
// root: it writes the transaction's nodes with one StoreBatch and then
// makes root current. If the write fails the committed root is unchanged.
// A transaction computed against another root is rejected with
// ErrStaleTransaction.
func (e *Engine) Apply(ctx context.Context, root Digest, tx *Transaction) error {
	if !e.loaded {
		return ErrNotLoaded
	}
	if tx == nil {
		return fmt.Errorf("apply %v: nil transaction", root)
	}
	if !tx.Parent.Equal(e.root) {
		return fmt.Errorf("%w: computed against %v, current %v", ErrStaleTransaction, tx.Parent, e.root)
	}
	if !root.Equal(tx.Root) {
		return fmt.Errorf("%w: %v, transaction produces %v", ErrRootMismatch, root, tx.Root)
	}
	if len(tx.Nodes) > 0 {
		if err := e.backend.StoreBatch(ctx, tx.Nodes); err != nil {
			return fmt.Errorf("store batch: %w", err)
		}
	}
	e.root = append(Digest{}, root...)
	e.log.Debug("applied transaction",
		zap.Stringer("parent", tx.Parent),
		zap.Stringer("root", root),
		zap.Int("nodes", len(tx.Nodes)),
		zap.Int("bytes", tx.Size()))
	return nil
}

func (s *session) applyChanges(t *tree, changes []Change) error {
	for _, c := range changes {
		var err error
		if c.Delete {
			err = s.delete(t, c.Key)
		} else {
			err = s.put(t, c.Key, c.Value)
		}
		if err != nil {
			return fmt.Errorf("change %x: %w", c.Key, err)
		}
	}
	return nil
}

// openChild resolves the child trie whose root is recorded in the main
// tree t.
func (s *session) openChild(t *tree, childID []byte) (*tree, error) {
	value, ok, err := s.get(t, ChildRootKey(childID))
	if err != nil {
		return nil, fmt.Errorf("get child root: %w", err)
	}
	if !ok {
		return &tree{}, nil
	}
	if len(value) != s.hasher.Size() {
		return nil, fmt.Errorf("%w: child root has %d bytes", ErrMalformedNode, len(value))
	}
	return s.openTree(Digest(value))
}
