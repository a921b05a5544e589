// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/viewflow/pkg/graph"
	"github.com/cockroachdb/viewflow/pkg/row"
	"github.com/cockroachdb/viewflow/pkg/server"
	"github.com/cockroachdb/viewflow/pkg/util/humanizeutil"
	"github.com/spf13/cobra"
)

var execCmd = &cobra.Command{
	Use:   "exec --graph <graph.yaml> [script]",
	Short: "run a script against a dataflow graph",
	Long: `
Build the graph described by --graph, then run the script read from the
given file, or from standard input. Each line holds one command:

  insert <table> (<values>)   write a row to a base table
  delete <table> (<values>)   retract a row from a base table
  read <reader> <key>         print the rows of a reader under a key
  flush                       wait for earlier writes to reach every view
  evict [<node> <key>]        evict a key, or run an eviction round
  stats                       print the metrics of every node

Writes are applied asynchronously: flush before reading their effects.
Lines starting with # are ignored.
`,
	Args: cobra.MaximumNArgs(1),
	RunE: runExec,
}

func runExec(cmd *cobra.Command, args []string) error {
	g, err := graph.LoadSpec(cliCtx.graphPath)
	if err != nil {
		return err
	}
	in := cmd.InOrStdin()
	if len(args) == 1 {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}
	return runScript(cmd.Context(), g, in, cmd.OutOrStdout(), false /* echo */)
}

// runScript starts an engine for g and runs the script read from in. If
// echo is set, comments and commands are printed before their output.
func runScript(ctx context.Context, g *graph.Graph, in io.Reader, out io.Writer, echo bool) error {
	e, stop, err := startEngine(ctx, g)
	if err != nil {
		return err
	}
	defer stop()

	s := bufio.NewScanner(in)
	for line := 1; s.Scan(); line++ {
		text := strings.TrimSpace(s.Text())
		if text == "" {
			continue
		}
		if echo {
			fmt.Fprintln(out, text)
		}
		if strings.HasPrefix(text, "#") {
			continue
		}
		if err := runLine(ctx, e, text, out); err != nil {
			return errors.Wrapf(err, "line %d: %s", line, text)
		}
	}
	if err := s.Err(); err != nil {
		return err
	}
	return e.Err()
}

func runLine(ctx context.Context, e *server.Engine, text string, out io.Writer) error {
	fields := strings.Fields(text)
	cmd, args := fields[0], fields[1:]
	// rest returns the text after the first n arguments.
	rest := func(n int) string {
		s := strings.TrimSpace(strings.TrimPrefix(text, cmd))
		for i := 0; i < n; i++ {
			s = strings.TrimSpace(strings.TrimPrefix(s, args[i]))
		}
		return s
	}

	switch cmd {
	case "insert", "delete":
		if len(args) < 2 {
			return errors.Newf("usage: %s <table> (<values>)", cmd)
		}
		r := row.ParseRow(rest(1))
		rec := row.Pos(r)
		if cmd == "delete" {
			rec = row.Neg(r)
		}
		return e.Write(ctx, args[0], row.Records{rec})

	case "read":
		if len(args) < 2 {
			return errors.New("usage: read <reader> <key>")
		}
		rows, err := e.Read(ctx, args[0], row.KeyOf(row.ParseRow(rest(1))...))
		if err != nil {
			return err
		}
		n, _ := e.Graph().Lookup(args[0])
		return printTable(out, n.Columns, formatRows(sortRows(rows)))

	case "flush":
		return e.Flush(ctx)

	case "evict":
		switch len(args) {
		case 0:
			r, err := e.Evict(ctx)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(out, "partial state %s, freed %s\n",
				humanizeutil.IBytes(r.Usage), humanizeutil.IBytes(r.Freed))
			return err
		case 1:
			return errors.New("usage: evict [<node> <key>]")
		}
		freed, err := e.EvictKey(ctx, args[0], row.KeyOf(row.ParseRow(rest(1))...))
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(out, "freed %s\n", humanizeutil.IBytes(freed))
		return err

	case "stats":
		return printTable(out, statsColumns, formatStats(e.Stats()))
	}
	return errors.Newf("unknown command %q", cmd)
}

func sortRows(rows []row.Row) []row.Row {
	rows = append([]row.Row(nil), rows...)
	sort.Slice(rows, func(i, j int) bool { return rows[i].Compare(rows[j]) < 0 })
	return rows
}
