package main

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/jrhy/statetrie"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

var rootCommand = cli.Command{
	Action: doRoot,
	Name:   "root",
	Usage:  "open a persistent store at a root and summarize its content",
	Flags: []cli.Flag{
		configFileFlag,
		rootFlag,
		hasherFlag,
		backendFlag,
		dataDirFlag,
		cacheFlag,
		handlesFlag,
		nodeCacheFlag,
	},
}

func doRoot(c *cli.Context) error {
	cfg, err := configFromContext(c)
	if err != nil {
		return err
	}
	log, err := newLogger(c)
	if err != nil {
		return err
	}
	defer log.Sync()
	hasher, err := hasherByName(cfg.Hasher)
	if err != nil {
		return err
	}
	root, err := hexutil.Decode(c.String(rootFlag.Name))
	if err != nil {
		return fmt.Errorf("--%s: %w", rootFlag.Name, err)
	}
	backend, closeBackend, err := openBackend(cfg.Store, true, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeBackend(); err != nil {
			log.Error("close backend", zap.Error(err))
		}
	}()

	opts := []statetrie.Option{statetrie.WithLogger(log)}
	if cfg.Store.NodeCache > 0 {
		opts = append(opts, statetrie.WithNodeCache(statetrie.NewNodeCache(cfg.Store.NodeCache)))
	}
	e, err := statetrie.Open(c.Context, backend, hasher, root, opts...)
	if err != nil {
		return err
	}
	size, err := e.Size(c.Context)
	if err != nil {
		return err
	}
	children, err := e.Children(c.Context)
	if err != nil {
		return err
	}
	w := c.App.Writer
	fmt.Fprintf(w, "root     %v\n", e.Root())
	fmt.Fprintf(w, "entries  %d\n", size)
	for _, id := range children {
		childRoot, _, err := e.ChildRoot(c.Context, id)
		if err != nil {
			return err
		}
		n := 0
		err = e.ChildIter(c.Context, id, func(_, _ []byte) error {
			n++
			return nil
		})
		if err != nil {
			return fmt.Errorf("child %x: %w", id, err)
		}
		fmt.Fprintf(w, "child    %s %v entries=%d\n", hexutil.Encode(id), childRoot, n)
	}
	return nil
}
