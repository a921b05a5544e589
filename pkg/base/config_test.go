// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package base

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/viewflow/pkg/util/humanizeutil"
	"github.com/kr/pretty"
	"github.com/stretchr/testify/require"
)

func TestDefaultEngineConfig(t *testing.T) {
	cfg := DefaultEngineConfig()
	require.NoError(t, cfg.Validate())
	require.Equal(t, DefaultReplayChunkSize, cfg.ReplayChunkSize)
	require.Equal(t, "mem", cfg.Store)
	require.Equal(t, "lru", cfg.Eviction.Policy)
	require.Zero(t, cfg.Eviction.Budget)
}

func TestParseEngineConfig(t *testing.T) {
	testCases := []struct {
		name  string
		input string
		check func(t *testing.T, cfg EngineConfig)
		err   string
	}{
		{
			name: "full",
			input: `
channel_capacity: 16
replay_chunk_size: 10
write_rate: 100
store: /tmp/vf
eviction:
  policy: random
  budget: 64 MiB
  node_budget: 4096
  interval: 1s
  hard_limit_factor: 1.5
`,
			check: func(t *testing.T, cfg EngineConfig) {
				require.Equal(t, 16, cfg.ChannelCapacity)
				require.Equal(t, 10, cfg.ReplayChunkSize)
				require.Equal(t, 101, cfg.WriteBurst)
				require.Equal(t, "/tmp/vf", cfg.Store)
				require.Equal(t, "random", cfg.Eviction.Policy)
				require.Equal(t, humanizeutil.ByteSize(64<<20), cfg.Eviction.Budget)
				require.Equal(t, humanizeutil.ByteSize(4096), cfg.Eviction.NodeBudget)
				require.Equal(t, time.Second, cfg.Eviction.Interval)
				require.Equal(t, 1.5, cfg.Eviction.HardLimitFactor)
			},
		},
		{
			name:  "defaults",
			input: `max_blocked_reads: 3`,
			check: func(t *testing.T, cfg EngineConfig) {
				require.Equal(t, 3, cfg.MaxBlockedReads)
				require.Equal(t, DefaultChannelCapacity, cfg.ChannelCapacity)
				require.Equal(t, DefaultEvictionInterval, cfg.Eviction.Interval)
			},
		},
		{name: "unknown field", input: `chanel_capacity: 3`, err: "not found"},
		{name: "bad policy", input: "eviction:\n  policy: mru", err: `unknown eviction policy "mru"`},
		{name: "bad size", input: "eviction:\n  budget: lots", err: "lots"},
		{name: "bad factor", input: "eviction:\n  hard_limit_factor: 0.5", err: "at least 1"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := ParseEngineConfig([]byte(tc.input))
			if tc.err != "" {
				require.Error(t, err)
				require.Contains(t, err.Error(), tc.err)
				return
			}
			require.NoError(t, err)
			tc.check(t, cfg)
		})
	}
}

func TestLoadEngineConfigRoundTrip(t *testing.T) {
	cfg := DefaultEngineConfig()
	cfg.Eviction.Budget = 1 << 30
	path := filepath.Join(t.TempDir(), "engine.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg.String()), 0644))

	loaded, err := LoadEngineConfig(path)
	require.NoError(t, err)
	if diff := pretty.Diff(cfg, loaded); len(diff) > 0 {
		t.Fatalf("config changed by a round trip:\n%s", strings.Join(diff, "\n"))
	}

	_, err = LoadEngineConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
