// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package base holds the configuration shared by the engine's packages.
package base

import (
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/viewflow/pkg/util/humanizeutil"
	"gopkg.in/yaml.v2"
)

const (
	// DefaultChannelCapacity is the number of packets a domain's input
	// channel holds before senders block.
	DefaultChannelCapacity = 256

	// DefaultReplayChunkSize is the number of rows per replay piece.
	DefaultReplayChunkSize = 1000

	// DefaultMaxBlockedReads bounds the reads blocked on a fill at once.
	DefaultMaxBlockedReads = 1024

	// DefaultEvictionInterval is how often the eviction manager checks
	// state sizes.
	DefaultEvictionInterval = 100 * time.Millisecond

	// DefaultHardLimitFactor is the multiple of the memory budget above
	// which writes are rejected.
	DefaultHardLimitFactor = 2.0
)

// EvictionConfig configures the eviction manager.
type EvictionConfig struct {
	// Policy picks victims within a node: "lru" or "random".
	Policy string `yaml:"policy"`
	// Budget is the memory budget of all partial state. Zero disables
	// eviction.
	Budget humanizeutil.ByteSize `yaml:"budget"`
	// NodeBudget, if set, bounds the partial state of each node.
	NodeBudget humanizeutil.ByteSize `yaml:"node_budget"`
	// Interval is the period of the budget check.
	Interval time.Duration `yaml:"interval"`
	// HardLimitFactor times Budget is the usage above which writes are
	// rejected with a backpressure error.
	HardLimitFactor float64 `yaml:"hard_limit_factor"`
}

// EngineConfig configures an engine.
type EngineConfig struct {
	// ChannelCapacity is the capacity of each domain's input channel.
	ChannelCapacity int `yaml:"channel_capacity"`
	// ReplayChunkSize is the number of rows per replay piece.
	ReplayChunkSize int `yaml:"replay_chunk_size"`
	// MaxBlockedReads bounds the number of reads waiting on fills.
	MaxBlockedReads int `yaml:"max_blocked_reads"`
	// WriteRate limits client write batches per second. Zero means no
	// limit.
	WriteRate float64 `yaml:"write_rate"`
	// WriteBurst is the burst allowed by WriteRate.
	WriteBurst int `yaml:"write_burst"`
	// Store is "mem" for an in-memory backend, or the directory of a
	// Pebble store.
	Store string `yaml:"store"`

	Eviction EvictionConfig `yaml:"eviction"`
}

// DefaultEngineConfig returns a config with every default set.
func DefaultEngineConfig() EngineConfig {
	var cfg EngineConfig
	cfg.SetDefaults()
	return cfg
}

// SetDefaults fills in unset fields.
func (cfg *EngineConfig) SetDefaults() {
	if cfg.ChannelCapacity == 0 {
		cfg.ChannelCapacity = DefaultChannelCapacity
	}
	if cfg.ReplayChunkSize == 0 {
		cfg.ReplayChunkSize = DefaultReplayChunkSize
	}
	if cfg.MaxBlockedReads == 0 {
		cfg.MaxBlockedReads = DefaultMaxBlockedReads
	}
	if cfg.WriteRate > 0 && cfg.WriteBurst == 0 {
		cfg.WriteBurst = int(cfg.WriteRate) + 1
	}
	if cfg.Store == "" {
		cfg.Store = "mem"
	}
	if cfg.Eviction.Policy == "" {
		cfg.Eviction.Policy = "lru"
	}
	if cfg.Eviction.Interval == 0 {
		cfg.Eviction.Interval = DefaultEvictionInterval
	}
	if cfg.Eviction.HardLimitFactor == 0 {
		cfg.Eviction.HardLimitFactor = DefaultHardLimitFactor
	}
}

// Validate checks the config for values that cannot work.
func (cfg *EngineConfig) Validate() error {
	switch {
	case cfg.ChannelCapacity < 0:
		return errors.Newf("channel_capacity must not be negative: %d", cfg.ChannelCapacity)
	case cfg.ReplayChunkSize <= 0:
		return errors.Newf("replay_chunk_size must be positive: %d", cfg.ReplayChunkSize)
	case cfg.MaxBlockedReads <= 0:
		return errors.Newf("max_blocked_reads must be positive: %d", cfg.MaxBlockedReads)
	case cfg.WriteRate < 0:
		return errors.Newf("write_rate must not be negative: %f", cfg.WriteRate)
	case cfg.Eviction.Budget < 0 || cfg.Eviction.NodeBudget < 0:
		return errors.New("eviction budgets must not be negative")
	case cfg.Eviction.HardLimitFactor < 1:
		return errors.Newf("hard_limit_factor must be at least 1: %f", cfg.Eviction.HardLimitFactor)
	case cfg.Eviction.Interval <= 0:
		return errors.Newf("eviction interval must be positive: %s", cfg.Eviction.Interval)
	}
	switch cfg.Eviction.Policy {
	case "lru", "random":
	default:
		return errors.Newf("unknown eviction policy %q", cfg.Eviction.Policy)
	}
	return nil
}

// ParseEngineConfig parses a YAML config, fills in defaults and validates
// the result.
func ParseEngineConfig(data []byte) (EngineConfig, error) {
	var cfg EngineConfig
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return EngineConfig{}, errors.Wrap(err, "parsing engine config")
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return EngineConfig{}, err
	}
	return cfg, nil
}

// LoadEngineConfig reads a YAML config file.
func LoadEngineConfig(path string) (EngineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return EngineConfig{}, errors.Wrapf(err, "reading %s", path)
	}
	cfg, err := ParseEngineConfig(data)
	return cfg, errors.Wrapf(err, "loading %s", path)
}

// String renders the config as YAML.
func (cfg EngineConfig) String() string {
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return err.Error()
	}
	return string(out)
}
