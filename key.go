package statetrie

import (
	"bytes"
	"sort"
)

// BranchFactor is how many entries per node a tree will normally have.
// Layers are counted in base-16 digits of a key's hash, so it is fixed.
const BranchFactor = 16

const (
	// ChildStoragePrefix is the reserved main-namespace prefix. No
	// application key may start with it.
	ChildStoragePrefix = ":child_storage:"
	// DefaultChildStoragePrefix prefixes the main-tree key holding the root
	// of a default child trie, followed by the raw child id.
	DefaultChildStoragePrefix = ChildStoragePrefix + "default:"
)

// ChildRootKey returns the main-tree key under which the root of the child
// trie with the given id is stored.
func ChildRootKey(childID []byte) []byte {
	key := make([]byte, 0, len(DefaultChildStoragePrefix)+len(childID))
	key = append(key, DefaultChildStoragePrefix...)
	return append(key, childID...)
}

// IsReservedKey reports whether key falls in the reserved child namespace.
func IsReservedKey(key []byte) bool {
	return bytes.HasPrefix(key, []byte(ChildStoragePrefix))
}

// childIDFromKey is the inverse of ChildRootKey.
func childIDFromKey(key []byte) ([]byte, bool) {
	if !bytes.HasPrefix(key, []byte(DefaultChildStoragePrefix)) {
		return nil, false
	}
	return key[len(DefaultChildStoragePrefix):], true
}

// keyLayer deterministically computes a key's layer (distance from leaves)
// as the number of leading zero nibbles of its hash.
func keyLayer(h Hasher, key []byte) int {
	sum := h.Hash(key)
	layer := 0
	for _, b := range sum {
		if b == 0 {
			layer += 2
			continue
		}
		if b>>4 == 0 {
			layer++
		}
		break
	}
	return layer
}

// search returns the position of key in sorted keys, or where it would be
// inserted, and whether it is present.
func search(keys [][]byte, key []byte) (int, bool) {
	i := len(keys)
	if i > 0 {
		// check max first, optimizing for in-order insertion
		cmp := bytes.Compare(key, keys[i-1])
		if cmp > 0 {
			return i, false
		}
		if cmp == 0 {
			return i - 1, true
		}
	}
	i = sort.Search(i, func(j int) bool {
		return bytes.Compare(keys[j], key) >= 0
	})
	return i, i < len(keys) && bytes.Equal(keys[i], key)
}
