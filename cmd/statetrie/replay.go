package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jrhy/statetrie"
	"github.com/jrhy/statetrie/feed"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var replayCommand = cli.Command{
	Action: doReplay,
	Name:   "replay",
	Usage:  "load genesis, apply each block's changes and compare the roots to a ledger",
	Flags: []cli.Flag{
		configFileFlag,
		genesisFlag,
		changesFlag,
		rootsFlag,
		skipFlag,
		limitFlag,
		hasherFlag,
		backendFlag,
		dataDirFlag,
		cacheFlag,
		handlesFlag,
		nodeCacheFlag,
	},
}

func doReplay(c *cli.Context) error {
	cfg, err := configFromContext(c)
	if err != nil {
		return err
	}
	log, err := newLogger(c)
	if err != nil {
		return err
	}
	defer log.Sync()
	root, err := replay(c.Context, log, cfg)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, root)
	return nil
}

// replay runs the configured replay and returns the final root. It fails
// on the first root that differs from the ledger.
func replay(ctx context.Context, log *zap.Logger, cfg replayConfig) (statetrie.Digest, error) {
	if cfg.Genesis == "" || cfg.Changes == "" {
		return nil, fmt.Errorf("both --%s and --%s are required", genesisFlag.Name, changesFlag.Name)
	}
	hasher, err := hasherByName(cfg.Hasher)
	if err != nil {
		return nil, err
	}

	// the inputs are independent files, decode them concurrently
	var (
		pairs           []statetrie.KeyValue
		genesisChildren statetrie.ChangeSet
		blocks          []feed.Block
		roots           []statetrie.Digest
	)
	var g errgroup.Group
	g.Go(func() (err error) {
		pairs, genesisChildren, err = readGenesis(cfg.Genesis)
		return err
	})
	g.Go(func() (err error) {
		blocks, err = readChanges(cfg.Changes)
		return err
	})
	if cfg.Roots != "" {
		g.Go(func() (err error) {
			roots, err = readRoots(cfg.Roots)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	backend, closeBackend, err := openBackend(cfg.Store, false, log)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := closeBackend(); err != nil {
			log.Error("close backend", zap.Error(err))
		}
	}()

	var opts []statetrie.Option
	opts = append(opts, statetrie.WithLogger(log))
	if cfg.Store.NodeCache > 0 {
		opts = append(opts, statetrie.WithNodeCache(statetrie.NewNodeCache(cfg.Store.NodeCache)))
	}
	e := statetrie.NewGuarded(statetrie.New(backend, hasher, opts...))
	if err := e.Load(ctx, pairs); err != nil {
		return nil, fmt.Errorf("load genesis: %w", err)
	}
	if !genesisChildren.IsEmpty() {
		if _, err := e.Commit(ctx, genesisChildren); err != nil {
			return nil, fmt.Errorf("genesis child tries: %w", err)
		}
	}
	log.Info("loaded genesis",
		zap.Int("pairs", len(pairs)),
		zap.Int("children", len(genesisChildren.Children)),
		zap.Stringer("root", e.Root()))
	if err := check(roots, 0, e.Root()); err != nil {
		return nil, err
	}

	replayed := 0
	for number, block := range blocks {
		if number < cfg.Skip {
			continue
		}
		if cfg.Limit > 0 && replayed >= cfg.Limit {
			break
		}
		cs := block.ChangeSet()
		root, tx, err := e.Compute(ctx, cs.Main, cs.Children)
		if err != nil {
			return nil, fmt.Errorf("block %d: compute: %w", number, err)
		}
		if err := e.Apply(ctx, root, tx); err != nil {
			return nil, fmt.Errorf("block %d: apply: %w", number, err)
		}
		replayed++
		log.Info("applied block",
			zap.Int("number", number),
			zap.Int("mainChanges", len(cs.Main)),
			zap.Int("childTries", len(cs.Children)),
			zap.Int("nodes", len(tx.Nodes)),
			zap.Stringer("root", root))
		if err := check(roots, number, root); err != nil {
			log.Error("root mismatch", zap.Int("number", number), zap.Error(err))
			return nil, err
		}
	}
	log.Info("replay complete", zap.Int("blocks", replayed), zap.Stringer("root", e.Root()))
	return e.Root(), nil
}

// check compares root to the ledger entry for the given block, where
// entry 0 is genesis. Blocks past the end of the ledger are not checked.
func check(roots []statetrie.Digest, number int, root statetrie.Digest) error {
	if number >= len(roots) {
		return nil
	}
	if !roots[number].Equal(root) {
		return fmt.Errorf("block %d: root %v, expected %v", number, root, roots[number])
	}
	return nil
}

func readGenesis(path string) ([]statetrie.KeyValue, statetrie.ChangeSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, statetrie.ChangeSet{}, err
	}
	defer f.Close()
	return feed.ReadGenesis(f)
}

func readChanges(path string) ([]feed.Block, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return feed.ReadChanges(f)
}

func readRoots(path string) ([]statetrie.Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return feed.ReadRoots(f)
}
