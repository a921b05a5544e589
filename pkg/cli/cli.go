// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package cli implements the viewflow command line.
package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/viewflow/pkg/build"
	"github.com/mattn/go-isatty"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var versionIncludesDeps bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "output version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		info := build.GetInfo()
		tw := tablewriter.NewWriter(cmd.OutOrStdout())
		tw.SetBorder(false)
		tw.SetColumnSeparator("")
		tw.SetAutoWrapText(false)
		tw.Append([]string{"Build Tag:", info.Tag})
		tw.Append([]string{"Build Time:", info.Time})
		tw.Append([]string{"Revision:", info.Revision})
		tw.Append([]string{"Platform:", info.Platform})
		tw.Append([]string{"Go Version:", info.GoVersion})
		if versionIncludesDeps {
			tw.Append([]string{"Build Deps:", strings.Join(info.Dependencies, "\n")})
		}
		tw.Render()
	},
}

var viewflowCmd = &cobra.Command{
	Use:   "viewflow [command] (flags)",
	Short: "partially materialized dataflow views",
	Long: `
viewflow maintains materialized views over base tables incrementally. Views
may be partially materialized: their keys are computed on first read and
evicted when memory runs short.
`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// isInteractive indicates whether both stdin and stdout refer to the
// terminal.
var isInteractive = isatty.IsTerminal(os.Stdout.Fd()) &&
	isatty.IsTerminal(os.Stdin.Fd())

func init() {
	cobra.EnableCommandSorting = false

	viewflowCmd.AddCommand(
		demoCmd,
		execCmd,
		versionCmd,
	)
	versionCmd.Flags().BoolVar(&versionIncludesDeps, "build-deps", false,
		"print the module dependencies of the build")
}

// Main is the entry point of the viewflow binary.
func Main() {
	if err := Run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if d := errors.FlattenDetails(err); d != "" {
			fmt.Fprintln(os.Stderr, d)
		}
		os.Exit(1)
	}
}

// Run runs the command line with args, without the program name.
func Run(args []string) error {
	viewflowCmd.SetArgs(args)
	return viewflowCmd.ExecuteContext(context.Background())
}
