package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jrhy/statetrie/feed"
	"github.com/urfave/cli/v2"
)

var (
	outDirFlag = &cli.StringFlag{
		Name:     "out",
		Usage:    "directory to write genesis.json, changes.json and roots.txt to",
		Required: true,
	}
	seedFlag = &cli.Int64Flag{
		Name:  "seed",
		Usage: "random seed",
		Value: 1,
	}
	genesisPairsFlag = &cli.IntFlag{
		Name:  "genesis-pairs",
		Value: 1000,
	}
	blocksFlag = &cli.IntFlag{
		Name:  "blocks",
		Value: 30,
	}
	changesPerBlockFlag = &cli.IntFlag{
		Name:  "changes-per-block",
		Value: 50,
	}
	childrenFlag = &cli.IntFlag{
		Name:  "children",
		Value: 3,
	}
)

var generateCommand = cli.Command{
	Action: doGenerate,
	Name:   "generate",
	Usage:  "write a synthetic history, with roots computed from its full content",
	Flags: []cli.Flag{
		outDirFlag,
		seedFlag,
		genesisPairsFlag,
		blocksFlag,
		changesPerBlockFlag,
		childrenFlag,
		hasherFlag,
	},
}

func doGenerate(c *cli.Context) error {
	hasher, err := hasherByName(c.String(hasherFlag.Name))
	if err != nil {
		return err
	}
	hist := feed.Synthesize(hasher, feed.SyntheticConfig{
		Seed:            c.Int64(seedFlag.Name),
		GenesisPairs:    c.Int(genesisPairsFlag.Name),
		Blocks:          c.Int(blocksFlag.Name),
		ChangesPerBlock: c.Int(changesPerBlockFlag.Name),
		Children:        c.Int(childrenFlag.Name),
	})
	dir := c.String(outDirFlag.Name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := writeHistory(dir, hist); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "wrote %d blocks to %s\n", len(hist.Blocks), dir)
	return nil
}

func writeHistory(dir string, hist *feed.History) error {
	write := func(name string, f func(*os.File) error) error {
		out, err := os.Create(filepath.Join(dir, name))
		if err != nil {
			return err
		}
		if err := f(out); err != nil {
			out.Close()
			return fmt.Errorf("write %s: %w", name, err)
		}
		return out.Close()
	}
	if err := write("genesis.json", func(f *os.File) error { return feed.WriteGenesis(f, hist.Genesis) }); err != nil {
		return err
	}
	if err := write("changes.json", func(f *os.File) error { return feed.WriteChanges(f, hist.Blocks) }); err != nil {
		return err
	}
	return write("roots.txt", func(f *os.File) error { return feed.WriteRoots(f, hist.Roots) })
}
