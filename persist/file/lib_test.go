package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/jrhy/statetrie"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ctx = context.Background()

func TestFiles(t *testing.T) {
	dir := t.TempDir()

	p, err := NewPersistForPath(dir)
	require.NoError(t, err)

	digest := statetrie.Blake2b256.Hash([]byte("hello"))
	_, ok, err := p.Load(ctx, digest)
	require.NoError(t, err)
	assert.False(t, ok)

	err = p.Store(ctx, digest, []byte("hello"))
	require.NoError(t, err)
	loaded, ok, err := p.Load(ctx, digest)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("hello"), loaded)

	has, err := p.Has(ctx, digest)
	require.NoError(t, err)
	assert.True(t, has)

	// storing the same digest again leaves the first content
	err = p.Store(ctx, digest, []byte("other"))
	require.NoError(t, err)
	loaded, _, err = p.Load(ctx, digest)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), loaded)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary files left behind")
}

func TestEngineOverFiles(t *testing.T) {
	dir := t.TempDir()
	p, err := NewPersistForPath(dir)
	require.NoError(t, err)

	e := statetrie.New(p, statetrie.Blake2b256)
	require.NoError(t, e.Load(ctx, []statetrie.KeyValue{
		{Key: []byte("a"), Value: []byte("1")},
		{Key: []byte("b"), Value: []byte("2")},
	}))
	root, tx, err := e.Compute(ctx, []statetrie.Change{statetrie.Put([]byte("c"), []byte("3"))}, nil)
	require.NoError(t, err)
	require.NoError(t, e.Apply(ctx, root, tx))

	reopened, err := NewPersistForPath(dir)
	require.NoError(t, err)
	e2, err := statetrie.Open(ctx, reopened, statetrie.Blake2b256, root)
	require.NoError(t, err)
	v, ok, err := e2.Get(ctx, []byte("c"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("3"), v)
}

// cutBatch writes only the first cut nodes of the next batch and then
// fails, the way a crash partway through StoreBatch would.
type cutBatch struct {
	statetrie.Backend
	cut int
}

func (c *cutBatch) StoreBatch(ctx context.Context, nodes []statetrie.Node) error {
	if c.cut < 0 || c.cut >= len(nodes) {
		return c.Backend.StoreBatch(ctx, nodes)
	}
	err := c.Backend.StoreBatch(ctx, nodes[:c.cut])
	c.cut = -1
	if err != nil {
		return err
	}
	return errors.New("disk full")
}

func retryScenario() ([]statetrie.KeyValue, []statetrie.Change, []statetrie.ChildChanges) {
	var pairs []statetrie.KeyValue
	for i := 0; i < 300; i++ {
		pairs = append(pairs, statetrie.KeyValue{Key: []byte(fmt.Sprintf("k%04d", i)), Value: []byte{byte(i)}})
	}
	changes := []statetrie.Change{
		statetrie.Put([]byte("k0003"), []byte("changed")),
		statetrie.Del([]byte("k0150")),
		statetrie.Put([]byte("z"), []byte("new")),
	}
	children := []statetrie.ChildChanges{{ChildID: []byte("child"), Changes: []statetrie.Change{
		statetrie.Put([]byte("x"), []byte("1")),
		statetrie.Put([]byte("y"), []byte("2")),
	}}}
	return pairs, changes, children
}

// checkRetryAfterPartialBatch fails an Apply after each possible prefix of
// its batch was written, retries it, and reopens the store through a fresh
// backend from reopen.
func checkRetryAfterPartialBatch(t *testing.T, backend func(cut int) statetrie.Backend, reopen func(cut int) statetrie.Backend) {
	pairs, changes, children := retryScenario()
	for cut := 1; ; cut++ {
		b := &cutBatch{Backend: backend(cut), cut: -1}
		e := statetrie.New(b, statetrie.Blake2b256)
		require.NoError(t, e.Load(ctx, pairs))
		before := e.Root()
		root, tx, err := e.Compute(ctx, changes, children)
		require.NoError(t, err)
		if cut >= len(tx.Nodes) {
			require.Greater(t, cut, 2)
			return
		}
		b.cut = cut
		require.Error(t, e.Apply(ctx, root, tx))
		assert.Equal(t, before, e.Root())

		retry, retryTx, err := e.Compute(ctx, changes, children)
		require.NoError(t, err)
		assert.Equal(t, root, retry)
		assert.Len(t, retryTx.Nodes, len(tx.Nodes)-cut, "cut %d", cut)
		require.NoError(t, e.Apply(ctx, retry, retryTx))

		reopened, err := statetrie.Open(ctx, reopen(cut), statetrie.Blake2b256, root)
		require.NoError(t, err)
		got, err := reopened.Pairs(ctx)
		require.NoError(t, err, "cut %d", cut)
		assert.Len(t, got, len(pairs)+1)
		v, ok, err := reopened.ChildGet(ctx, []byte("child"), []byte("y"))
		require.NoError(t, err, "cut %d", cut)
		assert.True(t, ok)
		assert.Equal(t, []byte("2"), v)
	}
}

func TestRetryAfterPartialBatch(t *testing.T) {
	dir := t.TempDir()
	path := func(cut int) string { return filepath.Join(dir, fmt.Sprint(cut)) }
	open := func(cut int) statetrie.Backend {
		p, err := NewPersistForPath(path(cut))
		require.NoError(t, err)
		return p
	}
	checkRetryAfterPartialBatch(t, open, open)
}
