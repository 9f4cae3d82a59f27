// Package config loads the engine's YAML configuration via viper: a
// struct-of-structs with mapstructure tags, covering storage, server,
// transaction, and optimizer settings.
package config

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/nmarchenko/ridgeline/internal/optimize"
)

// DLAlgorithm names a deadlock-handling strategy. Only wait_die is
// implemented; the other names are recognized so they fail at validation
// time rather than as an unknown-value error.
type DLAlgorithm string

const (
	DLWaitDie   DLAlgorithm = "wait_die"
	DLWoundWait DLAlgorithm = "wound_wait"
	DLDetect    DLAlgorithm = "dl_detect"
	DLNone      DLAlgorithm = "none"
)

// Config is the top-level shape viper unmarshals a ridgeline.yaml into.
type Config struct {
	Storage struct {
		File         string `mapstructure:"file"`
		PageSize     int    `mapstructure:"page_size"`
		BufferPages  int    `mapstructure:"buffer_pages"`
	} `mapstructure:"storage"`

	Server struct {
		Port  int  `mapstructure:"port"`
		Debug bool `mapstructure:"debug"`
	} `mapstructure:"server"`

	Transaction struct {
		DLAlgorithm string `mapstructure:"dl_algorithm"`
	} `mapstructure:"transaction"`

	Optimizer struct {
		ScanCost     float64 `mapstructure:"scan_cost"`
		HashJoinCost float64 `mapstructure:"hash_join_cost"`
	} `mapstructure:"optimizer"`
}

// Default returns the configuration an empty/missing config file implies.
func Default() Config {
	var c Config
	c.Storage.File = "ridgeline.pages"
	c.Storage.BufferPages = 1024
	c.Server.Port = 6543
	c.Transaction.DLAlgorithm = string(DLWaitDie)
	opts := optimize.DefaultOptions()
	c.Optimizer.ScanCost = opts.ScanCost
	c.Optimizer.HashJoinCost = opts.HashJoinCost
	return c
}

// Load reads a YAML config file at path via viper, falling back to
// Default for any field the file doesn't set.
func Load(path string) (Config, error) {
	cfg := Default()
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate rejects a deadlock-handling strategy this build cannot
// actually run.
func (c Config) Validate() error {
	switch DLAlgorithm(c.Transaction.DLAlgorithm) {
	case DLWaitDie:
		return nil
	case DLWoundWait, DLDetect, DLNone:
		return fmt.Errorf("config: transaction.dl_algorithm %q is recognized but not implemented; only %q is available", c.Transaction.DLAlgorithm, DLWaitDie)
	default:
		return fmt.Errorf("config: unknown transaction.dl_algorithm %q", c.Transaction.DLAlgorithm)
	}
}

// OptimizeOptions projects the config's optimizer knobs into
// optimize.Options.
func (c Config) OptimizeOptions() optimize.Options {
	return optimize.Options{ScanCost: c.Optimizer.ScanCost, HashJoinCost: c.Optimizer.HashJoinCost}
}
