package file

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/jrhy/statetrie"
)

// Persist implements the statetrie.Backend interface for storing and
// loading nodes from files named by their hex digest.
type Persist struct {
	basepath string
}

var _ statetrie.Backend = Persist{}

func (p Persist) path(digest statetrie.Digest) string {
	return filepath.Join(p.basepath, hex.EncodeToString(digest))
}

// Load loads the bytes persisted in the file of the given digest.
func (p Persist) Load(ctx context.Context, digest statetrie.Digest) ([]byte, bool, error) {
	b, err := os.ReadFile(p.path(digest))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (p Persist) Has(ctx context.Context, digest statetrie.Digest) (bool, error) {
	_, err := os.Stat(p.path(digest))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Store persists the given bytes in a file of the given digest, if it
// doesn't exist already. The file appears complete or not at all.
func (p Persist) Store(ctx context.Context, digest statetrie.Digest, bytes []byte) error {
	path := p.path(digest)
	_, err := os.Stat(path)
	if err == nil {
		return nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	f, err := os.CreateTemp(p.basepath, ".tmp-")
	if err != nil {
		return err
	}
	tmp := f.Name()
	_, err = f.Write(bytes)
	if err == nil {
		err = f.Sync()
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Rename(tmp, path)
	}
	if err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// StoreBatch stores each node in turn, in the given order. Files written
// before a failure remain, each with the nodes it references already
// written, so a retry only writes what is missing.
func (p Persist) StoreBatch(ctx context.Context, nodes []statetrie.Node) error {
	for _, n := range nodes {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.Store(ctx, n.Digest, n.Blob); err != nil {
			return err
		}
	}
	return nil
}

// NewPersistForPath returns a Persist that loads and stores nodes as
// files in the directory at the given path, creating it if needed.
//
//	p, err := NewPersistForPath("/var/db/state")
//	blob, ok, err := p.Load(ctx, root)
func NewPersistForPath(path string) (Persist, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return Persist{}, err
	}
	return Persist{path}, nil
}
