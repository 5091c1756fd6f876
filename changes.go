package statetrie

// Change is one pending mutation: an upsert of Value under Key, or, if
// Delete is set, the removal of Key. A zero-length Value is a present value.
type Change struct {
	Key    []byte
	Value  []byte
	Delete bool
}

// Put returns a change that sets key to value.
func Put(key, value []byte) Change {
	if value == nil {
		value = []byte{}
	}
	return Change{Key: key, Value: value}
}

// Del returns a change that removes key.
func Del(key []byte) Change {
	return Change{Key: key, Delete: true}
}

// ChildChanges are the changes for one child trie.
type ChildChanges struct {
	ChildID []byte
	Changes []Change
}

// ChangeSet is a batch of pending changes for the main namespace and for
// child tries. Entries are applied in order, so a later change to the same
// key wins.
type ChangeSet struct {
	Main     []Change
	Children []ChildChanges
}

// IsEmpty reports whether the change-set holds no changes at all.
func (cs ChangeSet) IsEmpty() bool {
	if len(cs.Main) > 0 {
		return false
	}
	for _, c := range cs.Children {
		if len(c.Changes) > 0 {
			return false
		}
	}
	return true
}

// Dedup keeps only the last change for each key. Keys keep the position of
// their first appearance.
func Dedup(changes []Change) []Change {
	index := make(map[string]int, len(changes))
	out := make([]Change, 0, len(changes))
	for _, c := range changes {
		if i, ok := index[string(c.Key)]; ok {
			out[i] = c
			continue
		}
		index[string(c.Key)] = len(out)
		out = append(out, c)
	}
	return out
}

// Overlay accumulates upserts and deletes, e.g. while executing a block,
// and produces the ChangeSet that applies them. The last write to a key
// wins; keys and child tries are emitted in first-seen order.
type Overlay struct {
	main       []Change
	mainIndex  map[string]int
	children   []*overlayChild
	childIndex map[string]int
}

type overlayChild struct {
	id      []byte
	changes []Change
	index   map[string]int
}

// NewOverlay returns an empty Overlay.
func NewOverlay() *Overlay {
	return &Overlay{
		mainIndex:  map[string]int{},
		childIndex: map[string]int{},
	}
}

// Set records an upsert in the main namespace.
func (o *Overlay) Set(key, value []byte) {
	o.main = record(o.main, o.mainIndex, Put(clone(key), clone(value)))
}

// Clear records a delete in the main namespace.
func (o *Overlay) Clear(key []byte) {
	o.main = record(o.main, o.mainIndex, Del(clone(key)))
}

// SetChild records an upsert in the given child trie.
func (o *Overlay) SetChild(childID, key, value []byte) {
	c := o.child(childID)
	c.changes = record(c.changes, c.index, Put(clone(key), clone(value)))
}

// ClearChild records a delete in the given child trie.
func (o *Overlay) ClearChild(childID, key []byte) {
	c := o.child(childID)
	c.changes = record(c.changes, c.index, Del(clone(key)))
}

// ChangeSet returns the accumulated changes.
func (o *Overlay) ChangeSet() ChangeSet {
	cs := ChangeSet{Main: append([]Change(nil), o.main...)}
	for _, c := range o.children {
		cs.Children = append(cs.Children, ChildChanges{
			ChildID: c.id,
			Changes: append([]Change(nil), c.changes...),
		})
	}
	return cs
}

func (o *Overlay) child(id []byte) *overlayChild {
	if i, ok := o.childIndex[string(id)]; ok {
		return o.children[i]
	}
	c := &overlayChild{id: clone(id), index: map[string]int{}}
	o.childIndex[string(id)] = len(o.children)
	o.children = append(o.children, c)
	return c
}

func record(changes []Change, index map[string]int, c Change) []Change {
	if i, ok := index[string(c.Key)]; ok {
		changes[i] = c
		return changes
	}
	index[string(c.Key)] = len(changes)
	return append(changes, c)
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte{}, b...)
}
