package statetrie

import (
	"context"

	"github.com/minio/blake2b-simd"
	"golang.org/x/crypto/sha3"
	"google.golang.org/protobuf/encoding/protowire"
)

// Hasher supplies the digest function used to address nodes and derive key
// layers, and the two canonical root functions an external verifier uses.
// Hash must return Size() bytes.
type Hasher interface {
	// Size is the digest length in bytes.
	Size() int
	// Hash digests data.
	Hash(data []byte) Digest
	// MapRoot returns the root of the tree holding exactly the given pairs.
	// A key given more than once takes its last value.
	MapRoot(pairs []KeyValue) Digest
	// OrderedRoot returns the MapRoot of the values keyed by the varint
	// encoding of their position.
	OrderedRoot(values [][]byte) Digest
}

type layoutHasher struct {
	size int
	sum  func([]byte) []byte
}

// NewHasher returns a Hasher for the given digest function, whose root
// functions build the same tree the Engine maintains.
func NewHasher(size int, sum func([]byte) []byte) Hasher {
	return &layoutHasher{size: size, sum: sum}
}

var (
	// Blake2b256 hashes with BLAKE2b-256.
	Blake2b256 = NewHasher(32, func(b []byte) []byte {
		sum := blake2b.Sum256(b)
		return sum[:]
	})
	// Keccak256 hashes with legacy Keccak-256.
	Keccak256 = NewHasher(32, func(b []byte) []byte {
		h := sha3.NewLegacyKeccak256()
		h.Write(b)
		return h.Sum(nil)
	})
)

func (h *layoutHasher) Size() int {
	return h.size
}

func (h *layoutHasher) Hash(data []byte) Digest {
	return Digest(h.sum(data))
}

func (h *layoutHasher) MapRoot(pairs []KeyValue) Digest {
	s := &session{ctx: context.Background(), hasher: h}
	t := &tree{}
	for _, p := range pairs {
		// without a backend every link is an in-memory node, so nothing can fail
		if err := s.put(t, p.Key, p.Value); err != nil {
			panic(err)
		}
	}
	root, _, err := s.flush(t)
	if err != nil {
		panic(err)
	}
	return root
}

func (h *layoutHasher) OrderedRoot(values [][]byte) Digest {
	pairs := make([]KeyValue, len(values))
	for i, v := range values {
		pairs[i] = KeyValue{Key: protowire.AppendVarint(nil, uint64(i)), Value: v}
	}
	return h.MapRoot(pairs)
}
