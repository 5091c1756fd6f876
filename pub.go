package statetrie

//go:generate mockgen -source pub.go -destination pub_mocks.go -package statetrie

import (
	"bytes"
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

var (
	// ErrReservedKey is returned when a main-namespace change or a loaded
	// pair uses a key in the reserved child-root namespace.
	ErrReservedKey = errors.New("key is in the reserved child storage namespace")
	// ErrEmptyChildID is returned for child changes without a child id.
	ErrEmptyChildID = errors.New("empty child trie id")
	// ErrMissingNode means a digest the tree refers to is absent from the
	// Backend. It indicates corruption, never an empty subtree.
	ErrMissingNode = errors.New("missing trie node")
	// ErrMalformedNode means stored node bytes could not be decoded.
	ErrMalformedNode = errors.New("malformed trie node")
	// ErrAlreadyLoaded is returned by Load on an engine that is already loaded.
	ErrAlreadyLoaded = errors.New("engine already loaded")
	// ErrNotLoaded is returned by Compute and Apply before Load.
	ErrNotLoaded = errors.New("engine not loaded")
	// ErrStaleTransaction is returned by Apply when the transaction was
	// computed against a root other than the current one.
	ErrStaleTransaction = errors.New("transaction computed against a different root")
	// ErrRootMismatch is returned by Apply when the given root is not the one
	// the transaction produces.
	ErrRootMismatch = errors.New("root does not match transaction")
)

// Digest is a fixed-length hash identifying a node or the root of a tree.
type Digest []byte

// Equal reports whether two digests have identical bytes.
func (d Digest) Equal(other Digest) bool {
	return bytes.Equal(d, other)
}

// String renders the digest as 0x-prefixed lowercase hex.
func (d Digest) String() string {
	return hexutil.Encode(d)
}

// KeyValue is one entry of a tree.
type KeyValue struct {
	Key   []byte
	Value []byte
}

// Node is a serialized tree node and the digest under which it is stored.
type Node struct {
	Digest Digest
	Blob   []byte
}

// Backend is the interface for loading and storing serialized tree nodes.
// A digest identifies immutable content, so storing the same digest twice
// must be harmless.
type Backend interface {
	// Load retrieves the node stored under digest. ok is false if it is absent.
	Load(ctx context.Context, digest Digest) (node []byte, ok bool, err error)
	// Has reports whether a node is stored under digest.
	Has(ctx context.Context, digest Digest) (bool, error)
	// Store makes node accessible by digest.
	Store(ctx context.Context, digest Digest, node []byte) error
	// StoreBatch stores every node of one transaction. Nodes come ordered
	// so that each follows the nodes it references. A backend either makes
	// them visible together or writes them in that order, so a stored node
	// always has its whole subtree stored.
	StoreBatch(ctx context.Context, nodes []Node) error
}

// Transaction is the delta produced by Compute: the nodes the Backend needs
// so that Root becomes a complete tree. It is a plain value; discarding it
// has no effect.
type Transaction struct {
	// Parent is the committed root the transaction was computed against.
	Parent Digest
	// Root is the main root the transaction produces.
	Root Digest
	// Nodes are the missing nodes, each after the nodes it references.
	Nodes []Node
}

// Empty reports whether applying the transaction writes nothing.
func (tx *Transaction) Empty() bool {
	return tx == nil || len(tx.Nodes) == 0
}

// Size returns the number of blob bytes the transaction carries.
func (tx *Transaction) Size() int {
	total := 0
	for _, n := range tx.Nodes {
		total += len(n.Blob)
	}
	return total
}
