// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package cli

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/viewflow/pkg/graph"
	"github.com/spf13/cobra"
)

const demoGraph = `
nodes:
- name: orders
  base: {columns: [id, user, amount]}
- name: totals
  parents: [orders]
  aggregate: {group: [user], func: sum, over: amount}
  materialize: partial
- name: totals_by_user
  parents: [totals]
  reader: {key: [user]}
- name: largest
  parents: [orders]
  topk: {group: [user], order: amount, desc: true, k: 2}
- name: largest_by_user
  parents: [largest]
  reader: {key: [user]}
`

const demoScript = `
# Nobody has ordered yet: the key reads as empty.
read totals_by_user b
insert orders (1, a, 10)
flush
read totals_by_user a
insert orders (2, a, 5)
insert orders (3, a, 12)
flush
read totals_by_user a
read largest_by_user a
delete orders (1, a, 10)
flush
read totals_by_user a
# Evicted keys are computed again on the next read.
evict totals a
read totals_by_user a
stats
`

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "run an example of partially materialized views",
	Long: `
Maintain the total and the two largest orders of every user over a table of
orders while inserting and deleting orders, print the views after each step
and the metrics of every node at the end.
`,
	Args: cobra.NoArgs,
	RunE: runDemo,
}

func runDemo(cmd *cobra.Command, _ []string) error {
	s, err := graph.ParseSpec([]byte(demoGraph))
	if err != nil {
		return err
	}
	g, err := s.Build()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "graph:\n%s\n", g)
	return runScript(cmd.Context(), g, strings.NewReader(demoScript), out, true /* echo */)
}
