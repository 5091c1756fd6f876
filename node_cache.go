package statetrie

import lru "github.com/hashicorp/golang-lru"

// NodeCache caches decoded nodes that are known to be in the Backend. It
// is also used to skip existence checks for already-stored nodes, so a
// cache must not be shared between engines with different backends or
// hashers.
type NodeCache interface {
	// Add adds a node that has been loaded from the backend.
	Add(key, value interface{})
	// Contains indicates the node with the given key is stored.
	Contains(key interface{}) bool
	// Get retrieves the already-decoded node with the given digest, if cached.
	Get(key interface{}) (value interface{}, ok bool)
}

// NewNodeCache creates a new ARC-based node cache holding up to size nodes.
// One cache can be shared by any number of tries on the same backend.
func NewNodeCache(size int) NodeCache {
	cache, err := lru.NewARC(size)
	if err != nil {
		panic(err)
	}
	return cache
}
