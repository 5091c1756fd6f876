package statetrie

import (
	"bytes"
	"context"
	"fmt"
)

// iterItem is either a subtree still to be expanded or an entry to yield.
type iterItem struct {
	considerLink link
	level        int
	yield        KeyValue
}

func (i *iterItem) isLink() bool {
	return !i.considerLink.isNil()
}

type iterItemStack struct {
	things []iterItem
}

func newIterItemStack(t *tree) iterItemStack {
	var stack iterItemStack
	stack.pushLink(t.root, t.level)
	return stack
}

func (stack *iterItemStack) pop() *iterItem {
	if len(stack.things) > 0 {
		popped := stack.things[len(stack.things)-1]
		stack.things = stack.things[0 : len(stack.things)-1]
		return &popped
	}
	return nil
}

// pushNode pushes the node's links and entries so that they pop in key
// order.
func (stack *iterItemStack) pushNode(n *node, level int) {
	for j := range n.keys {
		i := len(n.keys) - j
		stack.pushLink(n.links[i], level-1)
		stack.push(&iterItem{yield: KeyValue{Key: n.keys[i-1], Value: n.values[i-1]}})
	}
	stack.pushLink(n.links[0], level-1)
}

func (stack *iterItemStack) pushLink(l link, level int) {
	if !l.isNil() {
		stack.push(&iterItem{considerLink: l, level: level})
	}
}

func (stack *iterItemStack) push(item *iterItem) {
	stack.things = append(stack.things, *item)
}

// expand replaces a link item by the contents of its node.
func (s *session) expand(stack *iterItemStack, item *iterItem) error {
	n, err := s.load(item.considerLink, item.level)
	if err != nil {
		return fmt.Errorf("load: %w", err)
	}
	stack.pushNode(n, item.level)
	return nil
}

func sameLink(a, b link) bool {
	if a.node != nil || b.node != nil {
		return a.node == b.node
	}
	return a.digest.Equal(b.digest)
}

// diff invokes f for every entry that differs between the old tree and the
// new one, in key order. Subtrees with equal digests are skipped without
// being loaded. Invocation with added==removed==false signifies an entry
// whose value changed.
func (s *session) diff(
	oldTree, newTree *tree,
	f func(added, removed bool, key, addedValue, removedValue []byte) (bool, error),
) error {
	oldStack := newIterItemStack(oldTree)
	newStack := newIterItemStack(newTree)
	for {
		o := oldStack.pop()
		n := newStack.pop()
		switch {
		case o == nil && n == nil:
			return nil
		case o == nil:
			if n.isLink() {
				if err := s.expand(&newStack, n); err != nil {
					return err
				}
				continue
			}
			if keepGoing, err := f(true, false, n.yield.Key, n.yield.Value, nil); err != nil || !keepGoing {
				return err
			}
		case n == nil:
			if o.isLink() {
				if err := s.expand(&oldStack, o); err != nil {
					return err
				}
				continue
			}
			if keepGoing, err := f(false, true, o.yield.Key, nil, o.yield.Value); err != nil || !keepGoing {
				return err
			}
		case o.isLink() && n.isLink():
			if sameLink(o.considerLink, n.considerLink) {
				continue
			}
			// expand the taller subtree first, so unchanged siblings line up
			if o.level >= n.level {
				if err := s.expand(&oldStack, o); err != nil {
					return err
				}
			} else {
				oldStack.push(o)
			}
			if n.level >= o.level {
				if err := s.expand(&newStack, n); err != nil {
					return err
				}
			} else {
				newStack.push(n)
			}
		case o.isLink():
			if err := s.expand(&oldStack, o); err != nil {
				return err
			}
			newStack.push(n)
		case n.isLink():
			oldStack.push(o)
			if err := s.expand(&newStack, n); err != nil {
				return err
			}
		default:
			cmp := bytes.Compare(o.yield.Key, n.yield.Key)
			var keepGoing bool
			var err error
			switch {
			case cmp < 0:
				newStack.push(n)
				keepGoing, err = f(false, true, o.yield.Key, nil, o.yield.Value)
			case cmp > 0:
				oldStack.push(o)
				keepGoing, err = f(true, false, n.yield.Key, n.yield.Value, nil)
			case !bytes.Equal(o.yield.Value, n.yield.Value):
				keepGoing, err = f(false, false, n.yield.Key, n.yield.Value, o.yield.Value)
			default:
				keepGoing = true
			}
			if err != nil || !keepGoing {
				return err
			}
		}
	}
}

// Diff invokes f for every main-trie entry that differs between the tree
// with root from and the committed tree, in key order. The iteration stops
// when f returns keepGoing==false or an error. Invocation with
// added==removed==false signifies an entry whose value changed. Both roots
// must be complete in the backend.
func (e *Engine) Diff(
	ctx context.Context,
	from Digest,
	f func(added, removed bool, key, addedValue, removedValue []byte) (bool, error),
) error {
	s := e.session(ctx)
	oldTree, err := s.openTree(from)
	if err != nil {
		return fmt.Errorf("open %v: %w", from, err)
	}
	newTree, err := s.openTree(e.root)
	if err != nil {
		return fmt.Errorf("open %v: %w", e.root, err)
	}
	return s.diff(oldTree, newTree, f)
}

// DiffChangeSet returns the change-set that, computed against the state
// with root from, produces the committed root. Differences in child-root
// entries are expanded into changes of the child tries.
func (e *Engine) DiffChangeSet(ctx context.Context, from Digest) (ChangeSet, error) {
	s := e.session(ctx)
	var cs ChangeSet
	err := e.Diff(ctx, from, func(added, removed bool, key, addedValue, removedValue []byte) (bool, error) {
		id, isChild := childIDFromKey(key)
		if !isChild {
			if removed {
				cs.Main = append(cs.Main, Del(clone(key)))
			} else {
				cs.Main = append(cs.Main, Put(clone(key), clone(addedValue)))
			}
			return true, nil
		}
		oldChild, err := s.childTree(removedValue)
		if err != nil {
			return false, fmt.Errorf("child %x: %w", id, err)
		}
		newChild, err := s.childTree(addedValue)
		if err != nil {
			return false, fmt.Errorf("child %x: %w", id, err)
		}
		cc := ChildChanges{ChildID: clone(id)}
		err = s.diff(oldChild, newChild, func(_, removed bool, key, addedValue, _ []byte) (bool, error) {
			if removed {
				cc.Changes = append(cc.Changes, Del(clone(key)))
			} else {
				cc.Changes = append(cc.Changes, Put(clone(key), clone(addedValue)))
			}
			return true, nil
		})
		if err != nil {
			return false, fmt.Errorf("child %x: %w", id, err)
		}
		cs.Children = append(cs.Children, cc)
		return true, nil
	})
	if err != nil {
		return ChangeSet{}, err
	}
	return cs, nil
}

// childTree opens the child tree whose root is the given main-trie value;
// a nil value is an empty child.
func (s *session) childTree(value []byte) (*tree, error) {
	if value == nil {
		return &tree{}, nil
	}
	if len(value) != s.hasher.Size() {
		return nil, fmt.Errorf("%w: child root has %d bytes", ErrMalformedNode, len(value))
	}
	return s.openTree(Digest(value))
}
