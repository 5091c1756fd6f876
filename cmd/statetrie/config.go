package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"reflect"

	"github.com/jrhy/statetrie"
	"github.com/jrhy/statetrie/persist/file"
	"github.com/jrhy/statetrie/persist/leveldb"
	"github.com/jrhy/statetrie/persist/pebble"
	"github.com/naoina/toml"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

// storeConfig selects and sizes the node backend.
type storeConfig struct {
	Backend   string
	DataDir   string
	Cache     int `toml:",omitempty"`
	Handles   int `toml:",omitempty"`
	NodeCache int `toml:",omitempty"`
}

type replayConfig struct {
	Genesis string
	Changes string
	Roots   string `toml:",omitempty"`
	Skip    int    `toml:",omitempty"`
	Limit   int    `toml:",omitempty"`
	Hasher  string
	Store   storeConfig
}

func defaultConfig() replayConfig {
	return replayConfig{
		Skip:   1,
		Hasher: "blake2b",
		Store: storeConfig{
			Backend:   "memory",
			Cache:     64,
			Handles:   64,
			NodeCache: 1 << 16,
		},
	}
}

var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string {
		return key
	},
	FieldToKey: func(rt reflect.Type, field string) string {
		return field
	},
	MissingField: func(rt reflect.Type, field string) error {
		return fmt.Errorf("field '%s' is not defined in %s", field, rt.String())
	},
}

func loadConfig(file string, cfg *replayConfig) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	err = tomlSettings.NewDecoder(bufio.NewReader(f)).Decode(cfg)
	var lineErr *toml.LineError
	if errors.As(err, &lineErr) {
		err = errors.New(file + ", " + err.Error())
	}
	return err
}

// configFromContext loads the config file, if any, and applies the flags
// that were set on top of it.
func configFromContext(c *cli.Context) (replayConfig, error) {
	cfg := defaultConfig()
	if path := c.String(configFileFlag.Name); path != "" {
		if err := loadConfig(path, &cfg); err != nil {
			return cfg, err
		}
	}
	setString := func(name string, dst *string) {
		if c.IsSet(name) {
			*dst = c.String(name)
		}
	}
	setInt := func(name string, dst *int) {
		if c.IsSet(name) {
			*dst = c.Int(name)
		}
	}
	setString(genesisFlag.Name, &cfg.Genesis)
	setString(changesFlag.Name, &cfg.Changes)
	setString(rootsFlag.Name, &cfg.Roots)
	setInt(skipFlag.Name, &cfg.Skip)
	setInt(limitFlag.Name, &cfg.Limit)
	setString(hasherFlag.Name, &cfg.Hasher)
	setString(backendFlag.Name, &cfg.Store.Backend)
	setString(dataDirFlag.Name, &cfg.Store.DataDir)
	setInt(cacheFlag.Name, &cfg.Store.Cache)
	setInt(handlesFlag.Name, &cfg.Store.Handles)
	setInt(nodeCacheFlag.Name, &cfg.Store.NodeCache)
	return cfg, nil
}

func hasherByName(name string) (statetrie.Hasher, error) {
	switch name {
	case "blake2b", "":
		return statetrie.Blake2b256, nil
	case "keccak":
		return statetrie.Keccak256, nil
	}
	return nil, fmt.Errorf("unknown hasher %q", name)
}

// openBackend returns the configured backend and a function that releases
// it.
func openBackend(cfg storeConfig, readonly bool, log *zap.Logger) (statetrie.Backend, func() error, error) {
	noop := func() error { return nil }
	if cfg.Backend != "memory" && cfg.DataDir == "" {
		return nil, nil, fmt.Errorf("backend %s needs --%s", cfg.Backend, dataDirFlag.Name)
	}
	switch cfg.Backend {
	case "memory":
		return statetrie.NewInMemoryStore(), noop, nil
	case "leveldb":
		s, err := leveldb.New(cfg.DataDir, cfg.Cache, cfg.Handles, readonly, log)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case "pebble":
		s, err := pebble.New(cfg.DataDir, cfg.Cache, cfg.Handles, readonly, log)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case "file":
		s, err := file.NewPersistForPath(cfg.DataDir)
		if err != nil {
			return nil, nil, err
		}
		return s, noop, nil
	}
	return nil, nil, fmt.Errorf("unknown backend %q", cfg.Backend)
}
