package statetrie

import (
	"bytes"
	"context"
	"fmt"
)

type node struct {
	level  uint8
	keys   [][]byte
	values [][]byte
	links  []link
}

// link is either the digest of a stored node, a dirty in-memory node that
// has not been hashed yet, or neither (an empty subtree).
type link struct {
	digest Digest
	node   *node
}

func (l link) isNil() bool {
	return l.digest == nil && l.node == nil
}

// tree is a root link and its level. The level of a non-empty tree is the
// highest layer of any of its keys.
type tree struct {
	root  link
	level int
}

// session stages changes against one committed state. Nodes read from the
// backend or the cache are shared and are never modified; every change
// produces new dirty nodes along its path.
type session struct {
	ctx     context.Context
	backend Backend
	hasher  Hasher
	cache   NodeCache
}

func (n *node) clone() *node {
	return &node{
		level:  n.level,
		keys:   append(make([][]byte, 0, len(n.keys)+1), n.keys...),
		values: append(make([][]byte, 0, len(n.values)+1), n.values...),
		links:  append(make([]link, 0, len(n.links)+1), n.links...),
	}
}

func insertAt[T any](s []T, i int, v T) []T {
	out := make([]T, 0, len(s)+1)
	out = append(out, s[:i]...)
	out = append(out, v)
	return append(out, s[i:]...)
}

func removeAt[T any](s []T, i int) []T {
	out := make([]T, 0, len(s))
	out = append(out, s[:i]...)
	return append(out, s[i+1:]...)
}

// normalize turns a node with no entries and no child into an empty link.
func normalize(n *node) link {
	if len(n.keys) == 0 && n.links[0].isNil() {
		return link{}
	}
	return link{node: n}
}

// newPath builds the subtree at the given level that holds a single entry
// of the given layer.
func newPath(level int, key, value []byte, layer int) link {
	l := link{node: &node{
		level:  uint8(layer),
		keys:   [][]byte{key},
		values: [][]byte{value},
		links:  make([]link, 2),
	}}
	for lv := layer + 1; lv <= level; lv++ {
		l = link{node: &node{level: uint8(lv), links: []link{l}}}
	}
	return l
}

func (s *session) put(t *tree, key, value []byte) error {
	layer := keyLayer(s.hasher, key)
	if t.root.isNil() {
		t.root = newPath(layer, key, value, layer)
		t.level = layer
		return nil
	}
	for t.level < layer {
		t.level++
		t.root = link{node: &node{level: uint8(t.level), links: []link{t.root}}}
	}
	root, _, err := s.insert(t.root, t.level, key, value, layer)
	if err != nil {
		return fmt.Errorf("insert: %w", err)
	}
	t.root = root
	return nil
}

func (s *session) delete(t *tree, key []byte) error {
	if t.root.isNil() {
		return nil
	}
	layer := keyLayer(s.hasher, key)
	if layer > t.level {
		return nil
	}
	root, changed, err := s.remove(t.root, t.level, key, layer)
	if err != nil {
		return fmt.Errorf("remove: %w", err)
	}
	if !changed {
		return nil
	}
	t.root = root
	return s.trim(t)
}

// trim lowers the root past levels that no longer hold any key.
func (s *session) trim(t *tree) error {
	for !t.root.isNil() {
		n, err := s.load(t.root, t.level)
		if err != nil {
			return fmt.Errorf("load root: %w", err)
		}
		if len(n.keys) > 0 {
			return nil
		}
		t.root = n.links[0]
		t.level--
	}
	t.level = 0
	return nil
}

func (s *session) get(t *tree, key []byte) ([]byte, bool, error) {
	if t.root.isNil() {
		return nil, false, nil
	}
	layer := keyLayer(s.hasher, key)
	if layer > t.level {
		return nil, false, nil
	}
	l, level := t.root, t.level
	for !l.isNil() {
		n, err := s.load(l, level)
		if err != nil {
			return nil, false, err
		}
		i, found := search(n.keys, key)
		if level == layer {
			if !found {
				return nil, false, nil
			}
			return n.values[i], true, nil
		}
		l = n.links[i]
		level--
	}
	return nil, false, nil
}

func (s *session) insert(l link, level int, key, value []byte, layer int) (link, bool, error) {
	if l.isNil() {
		return newPath(level, key, value, layer), true, nil
	}
	n, err := s.load(l, level)
	if err != nil {
		return link{}, false, err
	}
	i, found := search(n.keys, key)
	if layer == level {
		if found {
			if bytes.Equal(n.values[i], value) {
				return l, false, nil
			}
			c := n.clone()
			c.values[i] = value
			return link{node: c}, true, nil
		}
		left, right, err := s.split(n.links[i], level-1, key)
		if err != nil {
			return link{}, false, fmt.Errorf("split: %w", err)
		}
		c := &node{
			level:  n.level,
			keys:   insertAt(n.keys, i, key),
			values: insertAt(n.values, i, value),
			links:  make([]link, 0, len(n.links)+1),
		}
		c.links = append(c.links, n.links[:i]...)
		c.links = append(c.links, left, right)
		c.links = append(c.links, n.links[i+1:]...)
		return link{node: c}, true, nil
	}
	if found {
		return link{}, false, fmt.Errorf("%w: key of layer %d found at level %d", ErrMalformedNode, layer, level)
	}
	child, changed, err := s.insert(n.links[i], level-1, key, value, layer)
	if err != nil || !changed {
		return l, false, err
	}
	c := n.clone()
	c.links[i] = child
	return link{node: c}, true, nil
}

// split partitions the subtree at l into the entries less than key and the
// entries greater than key. The key itself must not be in the subtree.
func (s *session) split(l link, level int, key []byte) (left, right link, err error) {
	if l.isNil() {
		return link{}, link{}, nil
	}
	n, err := s.load(l, level)
	if err != nil {
		return link{}, link{}, err
	}
	i, found := search(n.keys, key)
	if found {
		return link{}, link{}, fmt.Errorf("%w: split key already present at level %d", ErrMalformedNode, level)
	}
	tooSmall, tooBig, err := s.split(n.links[i], level-1, key)
	if err != nil {
		return link{}, link{}, err
	}
	leftNode := &node{
		level:  n.level,
		keys:   append([][]byte{}, n.keys[:i]...),
		values: append([][]byte{}, n.values[:i]...),
		links:  append(append(make([]link, 0, i+1), n.links[:i]...), tooSmall),
	}
	rightNode := &node{
		level:  n.level,
		keys:   append([][]byte{}, n.keys[i:]...),
		values: append([][]byte{}, n.values[i:]...),
		links:  append([]link{tooBig}, n.links[i+1:]...),
	}
	return normalize(leftNode), normalize(rightNode), nil
}

func (s *session) remove(l link, level int, key []byte, layer int) (link, bool, error) {
	if l.isNil() {
		return l, false, nil
	}
	n, err := s.load(l, level)
	if err != nil {
		return link{}, false, err
	}
	i, found := search(n.keys, key)
	if layer == level {
		if !found {
			return l, false, nil
		}
		merged, err := s.merge(n.links[i], n.links[i+1], level-1)
		if err != nil {
			return link{}, false, fmt.Errorf("merge: %w", err)
		}
		c := &node{
			level:  n.level,
			keys:   removeAt(n.keys, i),
			values: removeAt(n.values, i),
			links:  make([]link, 0, len(n.links)-1),
		}
		c.links = append(c.links, n.links[:i]...)
		c.links = append(c.links, merged)
		c.links = append(c.links, n.links[i+2:]...)
		return normalize(c), true, nil
	}
	child, changed, err := s.remove(n.links[i], level-1, key, layer)
	if err != nil || !changed {
		return l, false, err
	}
	c := n.clone()
	c.links[i] = child
	return normalize(c), true, nil
}

// merge joins two adjacent subtrees of the same level, where every key of
// left is less than every key of right.
func (s *session) merge(left, right link, level int) (link, error) {
	if left.isNil() {
		return right, nil
	}
	if right.isNil() {
		return left, nil
	}
	l, err := s.load(left, level)
	if err != nil {
		return link{}, fmt.Errorf("load left: %w", err)
	}
	r, err := s.load(right, level)
	if err != nil {
		return link{}, fmt.Errorf("load right: %w", err)
	}
	last := len(l.links) - 1
	mid, err := s.merge(l.links[last], r.links[0], level-1)
	if err != nil {
		return link{}, err
	}
	combined := &node{
		level:  l.level,
		keys:   make([][]byte, 0, len(l.keys)+len(r.keys)),
		values: make([][]byte, 0, len(l.values)+len(r.values)),
		links:  make([]link, 0, len(l.links)+len(r.links)-1),
	}
	combined.keys = append(append(combined.keys, l.keys...), r.keys...)
	combined.values = append(append(combined.values, l.values...), r.values...)
	combined.links = append(combined.links, l.links[:last]...)
	combined.links = append(combined.links, mid)
	combined.links = append(combined.links, r.links[1:]...)
	return link{node: combined}, nil
}

func (s *session) iter(l link, level int, f func(key, value []byte) error) error {
	if l.isNil() {
		return nil
	}
	n, err := s.load(l, level)
	if err != nil {
		return err
	}
	for i, child := range n.links {
		if err := s.iter(child, level-1, f); err != nil {
			return err
		}
		if i < len(n.keys) {
			if err := f(n.keys[i], n.values[i]); err != nil {
				return err
			}
		}
	}
	return nil
}
