package statetrie

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestCodecLeaf(t *testing.T) {
	n := &node{
		keys:   [][]byte{[]byte("a"), []byte("b")},
		values: [][]byte{[]byte("1"), []byte("2")},
		links:  make([]link, 3),
	}
	blob, err := encodeNode(n)
	require.NoError(t, err)
	got, err := decodeNode(blob, 32)
	require.NoError(t, err)
	assert.Equal(t, uint8(0), got.level)
	assert.Equal(t, n.keys, got.keys)
	assert.Equal(t, n.values, got.values)
	require.Len(t, got.links, 3)
	for _, l := range got.links {
		assert.True(t, l.isNil())
	}

	again, err := encodeNode(got)
	require.NoError(t, err)
	assert.Equal(t, blob, again)
}

func TestCodecBranch(t *testing.T) {
	d := bytes.Repeat([]byte{7}, 32)
	n := &node{
		level:  3,
		keys:   [][]byte{[]byte("m")},
		values: [][]byte{[]byte("v")},
		links:  []link{{digest: d}, {}},
	}
	blob, err := encodeNode(n)
	require.NoError(t, err)
	got, err := decodeNode(blob, 32)
	require.NoError(t, err)
	assert.Equal(t, uint8(3), got.level)
	assert.Equal(t, Digest(d), got.links[0].digest)
	assert.True(t, got.links[1].isNil())

	_, err = encodeNode(&node{level: 1, links: []link{{node: &node{}}}})
	assert.Error(t, err)
}

func TestCodecMalformed(t *testing.T) {
	d := bytes.Repeat([]byte{1}, 32)
	enc := func(level, count uint64, fields ...[]byte) []byte {
		buf := protowire.AppendVarint(nil, level)
		buf = protowire.AppendVarint(buf, count)
		for _, f := range fields {
			buf = protowire.AppendBytes(buf, f)
		}
		return buf
	}
	valid := enc(1, 1, []byte("k"), []byte("v"), d, nil)
	_, err := decodeNode(valid, 32)
	require.NoError(t, err)

	for name, blob := range map[string][]byte{
		"empty":             nil,
		"truncated":         valid[:len(valid)-5],
		"trailing bytes":    append(append([]byte{}, valid...), 0),
		"short link":        enc(1, 1, []byte("k"), []byte("v"), d[:20], nil),
		"keys out of order": enc(0, 2, []byte("b"), []byte("v"), []byte("a"), []byte("v"), nil, nil, nil),
		"duplicate keys":    enc(0, 2, []byte("a"), []byte("v"), []byte("a"), []byte("v"), nil, nil, nil),
		"leaf with link":    enc(0, 1, []byte("k"), []byte("v"), d, nil),
		"level too high":    enc(300, 0, nil),
		"huge count":        enc(0, 1<<40),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := decodeNode(blob, 32)
			assert.ErrorIs(t, err, ErrMalformedNode)
		})
	}
}

func TestEmptyRootEncoding(t *testing.T) {
	blob, err := encodeNode(&node{links: make([]link, 1)})
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0}, blob)
	assert.Equal(t, Blake2b256.Hash(blob), emptyRoot(Blake2b256))
}
