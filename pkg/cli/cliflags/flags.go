// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package cliflags describes the command-line flags of viewflow.
package cliflags

import (
	"fmt"
	"strings"
)

// FlagInfo contains the static information for a CLI flag and helper
// to format the description.
type FlagInfo struct {
	// Name of the flag as used on the command line.
	Name string
	// Shorthand is the short form of the flag (optional).
	Shorthand string
	// EnvVar is the name of the environment variable through which the
	// flag value can be controlled (optional).
	EnvVar string
	// Description of the flag.
	Description string
}

// Usage returns the usage string of the flag: its description, with the
// environment variable appended if there is one.
func (f FlagInfo) Usage() string {
	s := strings.TrimSpace(f.Description)
	if f.EnvVar != "" {
		s = fmt.Sprintf("%s\nEnvironment variable: %s", s, f.EnvVar)
	}
	return s
}

var (
	Store = FlagInfo{
		Name:   "store",
		EnvVar: "VIEWFLOW_STORE",
		Description: `
Where base tables are stored: "mem" for an in-memory backend, or the
directory of a Pebble store. Overrides the config file.`,
	}

	EvictionBudget = FlagInfo{
		Name:   "eviction-budget",
		EnvVar: "VIEWFLOW_EVICTION_BUDGET",
		Description: `
Memory budget of all partial state, e.g. "64MiB". Zero disables
eviction. Overrides the config file.`,
	}

	MetricsAddr = FlagInfo{
		Name:        "metrics-addr",
		EnvVar:      "VIEWFLOW_METRICS_ADDR",
		Description: `Address on which to serve Prometheus metrics at /metrics.`,
	}

	Verbosity = FlagInfo{
		Name:        "verbosity",
		Shorthand:   "v",
		Description: `Log verbosity level.`,
	}

	Format = FlagInfo{
		Name: "format",
		Description: `
Output format: "table" or "tsv". Defaults to "table" on a terminal.`,
	}

	Graph = FlagInfo{
		Name:        "graph",
		EnvVar:      "VIEWFLOW_GRAPH",
		Description: `YAML file describing the dataflow graph.`,
	}

	Config = FlagInfo{
		Name:        "config",
		EnvVar:      "VIEWFLOW_CONFIG",
		Description: `YAML file with the engine configuration.`,
	}
)
