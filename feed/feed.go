// Package feed decodes recorded chain data for replay against a state trie:
// a genesis file with raw storage, per-block storage changes as
// returned by a node's RPC, and a ledger of expected state roots.
package feed

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/jrhy/statetrie"
)

// Genesis is the part of a genesis file that carries the initial storage.
type Genesis struct {
	Genesis struct {
		Raw struct {
			Top             map[string]hexutil.Bytes            `json:"top"`
			ChildrenDefault map[string]map[string]hexutil.Bytes `json:"childrenDefault,omitempty"`
		} `json:"raw"`
	} `json:"genesis"`
}

// ReadGenesis decodes a genesis file and returns its top-level pairs sorted
// by key. Child tries present in the file are returned as a change-set to
// apply after loading the pairs.
func ReadGenesis(r io.Reader) ([]statetrie.KeyValue, statetrie.ChangeSet, error) {
	var g Genesis
	if err := json.NewDecoder(r).Decode(&g); err != nil {
		return nil, statetrie.ChangeSet{}, fmt.Errorf("decode genesis: %w", err)
	}
	pairs, err := decodeStorage(g.Genesis.Raw.Top)
	if err != nil {
		return nil, statetrie.ChangeSet{}, fmt.Errorf("top: %w", err)
	}
	var children statetrie.ChangeSet
	ids := make([]string, 0, len(g.Genesis.Raw.ChildrenDefault))
	for id := range g.Genesis.Raw.ChildrenDefault {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		childID, err := hexutil.Decode(id)
		if err != nil {
			return nil, statetrie.ChangeSet{}, fmt.Errorf("child id %q: %w", id, err)
		}
		childPairs, err := decodeStorage(g.Genesis.Raw.ChildrenDefault[id])
		if err != nil {
			return nil, statetrie.ChangeSet{}, fmt.Errorf("child %s: %w", id, err)
		}
		cc := statetrie.ChildChanges{ChildID: childID}
		for _, p := range childPairs {
			cc.Changes = append(cc.Changes, statetrie.Put(p.Key, p.Value))
		}
		children.Children = append(children.Children, cc)
	}
	return pairs, children, nil
}

func decodeStorage(m map[string]hexutil.Bytes) ([]statetrie.KeyValue, error) {
	pairs := make([]statetrie.KeyValue, 0, len(m))
	for k, v := range m {
		key, err := hexutil.Decode(k)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", k, err)
		}
		pairs = append(pairs, statetrie.KeyValue{Key: key, Value: []byte(v)})
	}
	sort.Slice(pairs, func(i, j int) bool {
		return bytes.Compare(pairs[i].Key, pairs[j].Key) < 0
	})
	return pairs, nil
}

// StorageChange is one [key, value] pair of an RPC storage collection. A
// null value is a deletion.
type StorageChange struct {
	Key   hexutil.Bytes
	Value *hexutil.Bytes
}

func (c *StorageChange) UnmarshalJSON(input []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(input, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("storage change has %d elements, want 2", len(pair))
	}
	if err := json.Unmarshal(pair[0], &c.Key); err != nil {
		return fmt.Errorf("key: %w", err)
	}
	c.Value = nil
	if err := json.Unmarshal(pair[1], &c.Value); err != nil {
		return fmt.Errorf("value: %w", err)
	}
	return nil
}

func (c StorageChange) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{c.Key, c.Value})
}

// Change converts to a statetrie change.
func (c StorageChange) Change() statetrie.Change {
	if c.Value == nil {
		return statetrie.Del(c.Key)
	}
	return statetrie.Put(c.Key, *c.Value)
}

// ChildStorageChanges is one [childID, [[key, value]...]] element.
type ChildStorageChanges struct {
	ChildID hexutil.Bytes
	Changes []StorageChange
}

func (c *ChildStorageChanges) UnmarshalJSON(input []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(input, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("child storage changes have %d elements, want 2", len(pair))
	}
	if err := json.Unmarshal(pair[0], &c.ChildID); err != nil {
		return fmt.Errorf("child id: %w", err)
	}
	if err := json.Unmarshal(pair[1], &c.Changes); err != nil {
		return fmt.Errorf("child %v: %w", c.ChildID, err)
	}
	return nil
}

func (c ChildStorageChanges) MarshalJSON() ([]byte, error) {
	changes := c.Changes
	if changes == nil {
		changes = []StorageChange{}
	}
	return json.Marshal([]interface{}{c.ChildID, changes})
}

// Block holds the storage changes of one block.
type Block struct {
	MainStorageChanges  []StorageChange       `json:"mainStorageChanges"`
	ChildStorageChanges []ChildStorageChanges `json:"childStorageChanges"`
}

// ChangeSet converts the block's changes, keeping their order.
func (b *Block) ChangeSet() statetrie.ChangeSet {
	var cs statetrie.ChangeSet
	for _, c := range b.MainStorageChanges {
		cs.Main = append(cs.Main, c.Change())
	}
	for _, child := range b.ChildStorageChanges {
		cc := statetrie.ChildChanges{ChildID: child.ChildID}
		for _, c := range child.Changes {
			cc.Changes = append(cc.Changes, c.Change())
		}
		cs.Children = append(cs.Children, cc)
	}
	return cs
}

type rpcResponse struct {
	Result []Block `json:"result"`
}

// ReadChanges decodes an RPC response holding the storage changes of
// consecutive blocks.
func ReadChanges(r io.Reader) ([]Block, error) {
	var resp rpcResponse
	if err := json.NewDecoder(r).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode changes: %w", err)
	}
	return resp.Result, nil
}

// WriteChanges encodes blocks in the format ReadChanges reads.
func WriteChanges(w io.Writer, blocks []Block) error {
	if blocks == nil {
		blocks = []Block{}
	}
	return json.NewEncoder(w).Encode(rpcResponse{Result: blocks})
}

// ReadRoots reads whitespace-separated 0x-prefixed hex state roots.
func ReadRoots(r io.Reader) ([]statetrie.Digest, error) {
	var roots []statetrie.Digest
	scanner := bufio.NewScanner(r)
	scanner.Split(bufio.ScanWords)
	for scanner.Scan() {
		root, err := hexutil.Decode(scanner.Text())
		if err != nil {
			return nil, fmt.Errorf("root %d %q: %w", len(roots), scanner.Text(), err)
		}
		roots = append(roots, root)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return roots, nil
}

// WriteRoots writes one root per line.
func WriteRoots(w io.Writer, roots []statetrie.Digest) error {
	for _, root := range roots {
		if _, err := fmt.Fprintln(w, root); err != nil {
			return err
		}
	}
	return nil
}
