package statetrie

import (
	"bytes"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// encodeNode serializes a node whose links have all been resolved to
// digests. The encoding is part of the root definition, so it must never
// change for a given tree format:
//
//	varint level
//	varint n
//	n × (bytes key, bytes value)
//	n+1 × bytes link   (zero-length for a nil link)
func encodeNode(n *node) ([]byte, error) {
	size := 2 * protowire.SizeVarint(uint64(len(n.keys)))
	for i := range n.keys {
		size += protowire.SizeBytes(len(n.keys[i])) + protowire.SizeBytes(len(n.values[i]))
	}
	for _, l := range n.links {
		size += protowire.SizeBytes(len(l.digest))
	}
	buf := make([]byte, 0, size)
	buf = protowire.AppendVarint(buf, uint64(n.level))
	buf = protowire.AppendVarint(buf, uint64(len(n.keys)))
	for i := range n.keys {
		buf = protowire.AppendBytes(buf, n.keys[i])
		buf = protowire.AppendBytes(buf, n.values[i])
	}
	for i, l := range n.links {
		if l.node != nil {
			return nil, fmt.Errorf("link %d has not been hashed", i)
		}
		buf = protowire.AppendBytes(buf, l.digest)
	}
	return buf, nil
}

func decodeNode(buf []byte, digestSize int) (*node, error) {
	level, n := protowire.ConsumeVarint(buf)
	if n < 0 || level > math.MaxUint8 {
		return nil, fmt.Errorf("%w: bad level", ErrMalformedNode)
	}
	buf = buf[n:]
	count, n := protowire.ConsumeVarint(buf)
	if n < 0 || count > uint64(len(buf)) {
		return nil, fmt.Errorf("%w: bad entry count", ErrMalformedNode)
	}
	buf = buf[n:]
	out := &node{
		level:  uint8(level),
		keys:   make([][]byte, count),
		values: make([][]byte, count),
		links:  make([]link, count+1),
	}
	for i := 0; i < int(count); i++ {
		key, n := protowire.ConsumeBytes(buf)
		if n < 0 {
			return nil, fmt.Errorf("%w: bad key %d", ErrMalformedNode, i)
		}
		buf = buf[n:]
		value, n := protowire.ConsumeBytes(buf)
		if n < 0 {
			return nil, fmt.Errorf("%w: bad value %d", ErrMalformedNode, i)
		}
		buf = buf[n:]
		if i > 0 && bytes.Compare(out.keys[i-1], key) >= 0 {
			return nil, fmt.Errorf("%w: keys out of order at %d", ErrMalformedNode, i)
		}
		out.keys[i] = key
		out.values[i] = value
	}
	for i := range out.links {
		digest, n := protowire.ConsumeBytes(buf)
		if n < 0 {
			return nil, fmt.Errorf("%w: bad link %d", ErrMalformedNode, i)
		}
		buf = buf[n:]
		switch len(digest) {
		case 0:
		case digestSize:
			out.links[i] = link{digest: Digest(digest)}
		default:
			return nil, fmt.Errorf("%w: link %d has %d bytes, want %d", ErrMalformedNode, i, len(digest), digestSize)
		}
	}
	if len(buf) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformedNode, len(buf))
	}
	if out.level == 0 {
		for i, l := range out.links {
			if !l.isNil() {
				return nil, fmt.Errorf("%w: leaf node has link %d", ErrMalformedNode, i)
			}
		}
	}
	return out, nil
}
