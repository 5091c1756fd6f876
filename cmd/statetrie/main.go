// Command statetrie replays recorded chain storage changes against a state
// trie and checks every resulting root against a ledger.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

var (
	verboseFlag = &cli.BoolFlag{
		Name:  "verbose",
		Usage: "log debug events, in development format",
	}
	configFileFlag = &cli.StringFlag{
		Name:  "config",
		Usage: "TOML configuration file",
	}
	genesisFlag = &cli.StringFlag{
		Name:  "genesis",
		Usage: "genesis JSON with genesis.raw.top storage",
	}
	changesFlag = &cli.StringFlag{
		Name:  "changes",
		Usage: "RPC response JSON with the storage changes of each block",
	}
	rootsFlag = &cli.StringFlag{
		Name:  "roots",
		Usage: "expected state roots, genesis first, whitespace separated",
	}
	skipFlag = &cli.IntFlag{
		Name:  "skip",
		Usage: "number of leading blocks of the changes file to skip",
		Value: 1,
	}
	limitFlag = &cli.IntFlag{
		Name:  "limit",
		Usage: "maximum number of blocks to replay, 0 for all",
	}
	hasherFlag = &cli.StringFlag{
		Name:  "hasher",
		Usage: "node hash function: blake2b or keccak",
		Value: "blake2b",
	}
	backendFlag = &cli.StringFlag{
		Name:  "backend",
		Usage: "node store: memory, leveldb, pebble or file",
		Value: "memory",
	}
	dataDirFlag = &cli.StringFlag{
		Name:  "datadir",
		Usage: "directory of a persistent node store",
	}
	cacheFlag = &cli.IntFlag{
		Name:  "cache",
		Usage: "megabytes of database cache",
		Value: 64,
	}
	handlesFlag = &cli.IntFlag{
		Name:  "handles",
		Usage: "number of database file handles",
		Value: 64,
	}
	nodeCacheFlag = &cli.IntFlag{
		Name:  "node-cache",
		Usage: "number of decoded trie nodes to cache, 0 to disable",
		Value: 1 << 16,
	}
	rootFlag = &cli.StringFlag{
		Name:     "root",
		Usage:    "0x-prefixed state root to open",
		Required: true,
	}
)

var commands = []*cli.Command{
	&replayCommand,
	&rootCommand,
	&generateCommand,
}

func newApp() *cli.App {
	return &cli.App{
		Name:     "statetrie",
		Usage:    "compute-then-commit state trie replay and inspection",
		Flags:    []cli.Flag{verboseFlag},
		Commands: commands,
	}
}

func newLogger(c *cli.Context) (*zap.Logger, error) {
	if c.Bool(verboseFlag.Name) {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
