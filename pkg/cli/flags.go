// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package cli

import (
	"os"

	"github.com/cockroachdb/viewflow/pkg/cli/cliflags"
	"github.com/cockroachdb/viewflow/pkg/util/humanizeutil"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// cliCtx holds the values of the command-line flags. They are applied
// on top of the engine config file, if any.
var cliCtx struct {
	store          string
	evictionBudget int64
	metricsAddr    string
	verbosity      int
	format         string
	graphPath      string
	configPath     string
}

// evictionBudget is the flag value of cliCtx.evictionBudget. Whether it
// was set decides if it overrides the config file.
var evictionBudget = humanizeutil.NewBytesValue(&cliCtx.evictionBudget)

// initCLIDefaults sets the flag values to their defaults. Tests call it
// between commands.
func initCLIDefaults() {
	cliCtx.store = ""
	cliCtx.evictionBudget = 0
	cliCtx.metricsAddr = ""
	cliCtx.verbosity = 0
	cliCtx.format = ""
	cliCtx.graphPath = ""
	cliCtx.configPath = ""
	*evictionBudget = *humanizeutil.NewBytesValue(&cliCtx.evictionBudget)
}

func setFlagFromEnv(f *pflag.FlagSet, flagInfo cliflags.FlagInfo) {
	if flagInfo.EnvVar != "" {
		if value, set := os.LookupEnv(flagInfo.EnvVar); set {
			if err := f.Set(flagInfo.Name, value); err != nil {
				panic(err)
			}
		}
	}
}

// StringFlag creates a string flag and registers it with the FlagSet.
func StringFlag(f *pflag.FlagSet, valPtr *string, flagInfo cliflags.FlagInfo, defaultVal string) {
	f.StringVarP(valPtr, flagInfo.Name, flagInfo.Shorthand, defaultVal, flagInfo.Usage())

	setFlagFromEnv(f, flagInfo)
}

// IntFlag creates an int flag and registers it with the FlagSet.
func IntFlag(f *pflag.FlagSet, valPtr *int, flagInfo cliflags.FlagInfo, defaultVal int) {
	f.IntVarP(valPtr, flagInfo.Name, flagInfo.Shorthand, defaultVal, flagInfo.Usage())

	setFlagFromEnv(f, flagInfo)
}

// VarFlag creates a custom-variable flag and registers it with the FlagSet.
func VarFlag(f *pflag.FlagSet, value pflag.Value, flagInfo cliflags.FlagInfo) {
	f.VarP(value, flagInfo.Name, flagInfo.Shorthand, flagInfo.Usage())

	setFlagFromEnv(f, flagInfo)
}

func init() {
	initCLIDefaults()

	pf := viewflowCmd.PersistentFlags()
	StringFlag(pf, &cliCtx.store, cliflags.Store, "")
	VarFlag(pf, evictionBudget, cliflags.EvictionBudget)
	StringFlag(pf, &cliCtx.metricsAddr, cliflags.MetricsAddr, "")
	IntFlag(pf, &cliCtx.verbosity, cliflags.Verbosity, 0)
	StringFlag(pf, &cliCtx.format, cliflags.Format, "")

	f := execCmd.Flags()
	StringFlag(f, &cliCtx.graphPath, cliflags.Graph, "")
	StringFlag(f, &cliCtx.configPath, cliflags.Config, "")
	_ = execCmd.MarkFlagRequired(cliflags.Graph.Name)

	df := demoCmd.Flags()
	StringFlag(df, &cliCtx.configPath, cliflags.Config, "")

	for _, cmd := range []*cobra.Command{demoCmd, execCmd} {
		cmd.PreRunE = setupCommand
	}
}
