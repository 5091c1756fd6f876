/*
Package statetrie maintains blockchain-style world state as a
content-addressed, hash-linked tree and computes the state root that
would result from a batch of changes before anything is committed.

# Compute, then commit

An Engine holds the current root and a Backend of nodes addressed by
digest. Compute stages a change-set against the committed state and
returns the candidate root together with a Transaction: the exact set of
node blobs the Backend is missing for that root. Nothing is written.
The caller compares the candidate root with an externally claimed root
(e.g. from a block header) and, if it matches, hands the Transaction to
Apply, the only operation that mutates the Backend.

	root, tx, err := engine.Compute(ctx, changes.Main, changes.Children)
	if err != nil {
		return err
	}
	if !root.Equal(expected) {
		return fmt.Errorf("state root mismatch: got %v, want %v", root, expected)
	}
	return engine.Apply(ctx, root, tx)

# Tree shape

The tree is a Merkle Search Tree, as described in "Merkle Search Trees:
Efficient State-Based CRDTs in Open Networks", by Alex Auvolat and
François Taïani, 2019 (https://hal.inria.fr/hal-02303490/document).
Each key's layer (distance to leaves) is the number of leading zero
nibbles of its hash, so the shape, and therefore the root, depends only
on the set of entries and never on the order in which they were
inserted. Hasher.MapRoot computes the same root directly from a set of
pairs, which is what an independent verifier uses.

# Child tries

A child trie is an independently rooted tree whose root digest is stored
in the main tree under ChildRootKey(id), a key in the reserved
":child_storage:" namespace. Changing any child therefore changes the
main root. Application keys may not use the reserved namespace.

# Concurrency

Engine is not synchronized. Concurrent Compute calls against the same
committed root are safe, since nodes are copy-on-write and Compute never
writes. Apply must be serialized against everything else; Guarded wraps
an Engine with a read/write lock for that discipline.
*/
package statetrie
