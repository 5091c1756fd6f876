package statetrie

import (
	"fmt"
)

// anyLevel disables the level check in load.
const anyLevel = -1

func (s *session) load(l link, level int) (*node, error) {
	if l.node != nil {
		return l.node, nil
	}
	n, err := s.loadPersisted(l.digest)
	if err != nil {
		return nil, err
	}
	if level != anyLevel && int(n.level) != level {
		return nil, fmt.Errorf("%w: node %v has level %d, expected %d", ErrMalformedNode, l.digest, n.level, level)
	}
	return n, nil
}

func (s *session) loadPersisted(digest Digest) (*node, error) {
	if s.cache != nil {
		if n, ok := s.cache.Get(string(digest)); ok {
			return n.(*node), nil
		}
	}
	if s.backend == nil {
		return nil, fmt.Errorf("%w: %v (no backend)", ErrMissingNode, digest)
	}
	blob, ok, err := s.backend.Load(s.ctx, digest)
	if err != nil {
		return nil, fmt.Errorf("backend load %v: %w", digest, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrMissingNode, digest)
	}
	if !s.hasher.Hash(blob).Equal(digest) {
		return nil, fmt.Errorf("%w: content of %v does not match its digest", ErrMalformedNode, digest)
	}
	n, err := decodeNode(blob, s.hasher.Size())
	if err != nil {
		return nil, fmt.Errorf("decode %v: %w", digest, err)
	}
	if s.cache != nil {
		s.cache.Add(string(digest), n)
	}
	return n, nil
}

// emptyRoot is the root digest of a tree without entries. It is never
// stored.
func emptyRoot(h Hasher) Digest {
	blob, err := encodeNode(&node{links: make([]link, 1)})
	if err != nil {
		panic(err)
	}
	return h.Hash(blob)
}

// openTree resolves a committed root digest into a tree.
func (s *session) openTree(root Digest) (*tree, error) {
	if len(root) == 0 || root.Equal(emptyRoot(s.hasher)) {
		return &tree{}, nil
	}
	if len(root) != s.hasher.Size() {
		return nil, fmt.Errorf("%w: root %v has %d bytes, want %d", ErrMalformedNode, root, len(root), s.hasher.Size())
	}
	n, err := s.loadPersisted(root)
	if err != nil {
		return nil, fmt.Errorf("load root: %w", err)
	}
	return &tree{root: link{digest: root}, level: int(n.level)}, nil
}

// flush hashes every dirty node of the tree bottom-up and returns the root
// digest with the nodes that are not already stored, children before
// parents. A subtree whose digest is already stored is complete, so nothing
// below it is returned; that holds as long as every Backend writes a batch
// in order.
func (s *session) flush(t *tree) (Digest, []Node, error) {
	if t.root.isNil() {
		return emptyRoot(s.hasher), nil, nil
	}
	return s.flushLink(t.root)
}

func (s *session) flushLink(l link) (Digest, []Node, error) {
	if l.node == nil {
		return l.digest, nil, nil
	}
	n := l.node
	resolved := &node{
		level:  n.level,
		keys:   n.keys,
		values: n.values,
		links:  make([]link, len(n.links)),
	}
	var nodes []Node
	for i, child := range n.links {
		if child.node == nil {
			resolved.links[i] = child
			continue
		}
		digest, childNodes, err := s.flushLink(child)
		if err != nil {
			return nil, nil, err
		}
		resolved.links[i] = link{digest: digest}
		nodes = append(nodes, childNodes...)
	}
	blob, err := encodeNode(resolved)
	if err != nil {
		return nil, nil, fmt.Errorf("encode: %w", err)
	}
	digest := s.hasher.Hash(blob)
	stored, err := s.stored(digest)
	if err != nil {
		return nil, nil, err
	}
	if stored {
		return digest, nil, nil
	}
	return digest, append(nodes, Node{Digest: digest, Blob: blob}), nil
}

func (s *session) stored(digest Digest) (bool, error) {
	if s.backend == nil {
		return false, nil
	}
	if s.cache != nil && s.cache.Contains(string(digest)) {
		return true, nil
	}
	ok, err := s.backend.Has(s.ctx, digest)
	if err != nil {
		return false, fmt.Errorf("backend has %v: %w", digest, err)
	}
	return ok, nil
}

// uniqueNodes drops repeated nodes, keeping the first of each. flush
// emits children before their parents, and the first occurrence of a node
// is still preceded by everything it references.
func uniqueNodes(nodes []Node) []Node {
	seen := make(map[string]struct{}, len(nodes))
	out := nodes[:0]
	for _, n := range nodes {
		if _, ok := seen[string(n.Digest)]; ok {
			continue
		}
		seen[string(n.Digest)] = struct{}{}
		out = append(out, n)
	}
	return out
}
