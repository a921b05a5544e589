// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package cli

import (
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"github.com/cockroachdb/viewflow/pkg/row"
	"github.com/cockroachdb/viewflow/pkg/util/humanizeutil"
	"github.com/cockroachdb/viewflow/pkg/util/metric"
	"github.com/olekukonko/tablewriter"
)

// tableFormat returns the output format: the --format flag if set, and a
// table on a terminal otherwise.
func tableFormat() string {
	if cliCtx.format != "" {
		return cliCtx.format
	}
	if isInteractive {
		return "table"
	}
	return "tsv"
}

// printTable prints rows under the column names cols.
func printTable(w io.Writer, cols []string, rows [][]string) error {
	switch tableFormat() {
	case "table":
		table := tablewriter.NewWriter(w)
		table.SetAutoFormatHeaders(false)
		table.SetAutoWrapText(false)
		table.SetHeader(cols)
		table.AppendBulk(rows)
		table.SetCaption(true, fmt.Sprintf("(%d row%s)", len(rows), plural(len(rows))))
		table.Render()
		return nil
	default:
		csvWriter := csv.NewWriter(w)
		csvWriter.Comma = '\t'
		if err := csvWriter.Write(cols); err != nil {
			return err
		}
		if err := csvWriter.WriteAll(rows); err != nil {
			return err
		}
		_, err := fmt.Fprintf(w, "# %d row%s\n", len(rows), plural(len(rows)))
		return err
	}
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}

func formatRows(rows []row.Row) [][]string {
	out := make([][]string, len(rows))
	for i, r := range rows {
		out[i] = make([]string, len(r))
		for j, d := range r {
			out[i][j] = d.String()
		}
	}
	return out
}

var statsColumns = []string{
	"id", "node", "packets", "processing", "state", "keys", "evicted",
	"issued", "coalesced", "completed", "discarded",
}

func formatStats(stats []metric.NodeSnapshot) [][]string {
	out := make([][]string, 0, len(stats))
	for _, s := range stats {
		out = append(out, []string{
			fmt.Sprint(s.ID),
			s.Name,
			fmt.Sprint(s.Packets),
			s.Processing.Round(time.Microsecond).String(),
			humanizeutil.IBytes(s.StateBytes),
			fmt.Sprint(s.StateKeys),
			fmt.Sprint(s.EvictedKeys),
			fmt.Sprint(s.Replays[metric.ReplayIssued]),
			fmt.Sprint(s.Replays[metric.ReplayCoalesced]),
			fmt.Sprint(s.Replays[metric.ReplayCompleted]),
			fmt.Sprint(s.Replays[metric.ReplayDiscarded]),
		})
	}
	return out
}
