package feed

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"sort"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/jrhy/statetrie"
)

// SyntheticConfig sizes a generated history.
type SyntheticConfig struct {
	Seed            int64
	GenesisPairs    int
	Blocks          int
	ChangesPerBlock int
	Children        int
}

// History is a genesis state, the blocks that follow it and the expected
// roots. Blocks[0] is the genesis block and has no changes; Roots[i] is the
// root after Blocks[i].
type History struct {
	Genesis []statetrie.KeyValue
	Blocks  []Block
	Roots   []statetrie.Digest
}

// Synthesize generates a random but reproducible history. The expected
// roots are computed from the full key/value content with h.MapRoot, not
// by replaying changes, so they can check an engine independently.
func Synthesize(h statetrie.Hasher, cfg SyntheticConfig) *History {
	r := rand.New(rand.NewSource(cfg.Seed))
	model := map[string][]byte{}
	children := map[string]map[string][]byte{}
	var childIDs []string
	for i := 0; i < cfg.Children; i++ {
		id := fmt.Sprintf("child-%d", i)
		childIDs = append(childIDs, id)
		children[id] = map[string][]byte{}
	}

	hist := &History{}
	for i := 0; i < cfg.GenesisPairs; i++ {
		k, v := randomKey(r), randomValue(r)
		model[string(k)] = v
	}
	hist.Genesis = sortedPairs(model)
	hist.Blocks = append(hist.Blocks, Block{})
	hist.Roots = append(hist.Roots, h.MapRoot(hist.Genesis))

	keys := func() []string {
		out := make([]string, 0, len(model))
		for k := range model {
			out = append(out, k)
		}
		sort.Strings(out)
		return out
	}
	for b := 0; b < cfg.Blocks; b++ {
		var block Block
		existing := keys()
		for c := 0; c < cfg.ChangesPerBlock; c++ {
			switch op := r.Intn(4); {
			case op == 0 && len(existing) > 0:
				k := existing[r.Intn(len(existing))]
				delete(model, k)
				block.MainStorageChanges = append(block.MainStorageChanges, StorageChange{Key: []byte(k)})
			case op == 1 && len(existing) > 0:
				k := existing[r.Intn(len(existing))]
				v := hexutil.Bytes(randomValue(r))
				model[k] = v
				block.MainStorageChanges = append(block.MainStorageChanges, StorageChange{Key: []byte(k), Value: &v})
			default:
				k, v := randomKey(r), hexutil.Bytes(randomValue(r))
				model[string(k)] = v
				block.MainStorageChanges = append(block.MainStorageChanges, StorageChange{Key: k, Value: &v})
			}
		}
		for _, id := range childIDs {
			if r.Intn(2) == 0 {
				continue
			}
			child := children[id]
			cc := ChildStorageChanges{ChildID: []byte(id)}
			n := 1 + r.Intn(4)
			for c := 0; c < n; c++ {
				k := []byte{byte(r.Intn(8))}
				if r.Intn(3) == 0 {
					delete(child, string(k))
					cc.Changes = append(cc.Changes, StorageChange{Key: k})
					continue
				}
				v := hexutil.Bytes(randomValue(r))
				child[string(k)] = v
				cc.Changes = append(cc.Changes, StorageChange{Key: k, Value: &v})
			}
			block.ChildStorageChanges = append(block.ChildStorageChanges, cc)
		}
		hist.Blocks = append(hist.Blocks, block)
		hist.Roots = append(hist.Roots, h.MapRoot(withChildRoots(h, model, children)))
	}
	return hist
}

func withChildRoots(h statetrie.Hasher, model map[string][]byte, children map[string]map[string][]byte) []statetrie.KeyValue {
	pairs := sortedPairs(model)
	for id, child := range children {
		if len(child) == 0 {
			continue
		}
		pairs = append(pairs, statetrie.KeyValue{
			Key:   statetrie.ChildRootKey([]byte(id)),
			Value: h.MapRoot(sortedPairs(child)),
		})
	}
	return pairs
}

func sortedPairs(m map[string][]byte) []statetrie.KeyValue {
	pairs := make([]statetrie.KeyValue, 0, len(m))
	for k, v := range m {
		pairs = append(pairs, statetrie.KeyValue{Key: []byte(k), Value: v})
	}
	sort.Slice(pairs, func(i, j int) bool {
		return bytes.Compare(pairs[i].Key, pairs[j].Key) < 0
	})
	return pairs
}

func randomKey(r *rand.Rand) []byte {
	k := make([]byte, 1+r.Intn(32))
	r.Read(k)
	// reserved keys start with ':'
	if k[0] == ':' {
		k[0] = 0
	}
	return k
}

func randomValue(r *rand.Rand) []byte {
	v := make([]byte, r.Intn(40))
	r.Read(v)
	return v
}

// WriteGenesis encodes pairs as a genesis file with raw top storage.
func WriteGenesis(w io.Writer, pairs []statetrie.KeyValue) error {
	var g Genesis
	g.Genesis.Raw.Top = make(map[string]hexutil.Bytes, len(pairs))
	for _, p := range pairs {
		g.Genesis.Raw.Top[hexutil.Encode(p.Key)] = p.Value
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(&g)
}
