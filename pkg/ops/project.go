// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package ops

import (
	"fmt"

	"github.com/cockroachdb/viewflow/pkg/row"
)

// Project emits the selected parent columns followed by literal columns.
type Project struct {
	Emit     []int
	Literals []row.Datum
	// Names optionally renames the output columns.
	Names []string
}

func (*Project) operator() {}

// Kind implements Operator.
func (*Project) Kind() Kind { return KindProject }

// Columns implements Operator.
func (p *Project) Columns(parents [][]string) ([]string, error) {
	in, err := identityColumns(parents)
	if err != nil {
		return nil, err
	}
	if err := checkCols(p.Emit, len(in)); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(p.Emit)+len(p.Literals))
	for _, c := range p.Emit {
		out = append(out, in[c])
	}
	for i := range p.Literals {
		out = append(out, fmt.Sprintf("literal%d", i))
	}
	for i, n := range p.Names {
		if i < len(out) && n != "" {
			out[i] = n
		}
	}
	return out, nil
}

// Resolve implements Operator.
func (p *Project) Resolve(col int) []ParentColumn {
	if col < len(p.Emit) {
		return []ParentColumn{{0, p.Emit[col]}}
	}
	return nil
}

// Stateless implements Operator.
func (*Project) Stateless() bool { return true }

// Describe implements Operator.
func (p *Project) Describe() string {
	if len(p.Literals) == 0 {
		return fmt.Sprintf("π%v", p.Emit)
	}
	return fmt.Sprintf("π%v+%v", p.Emit, p.Literals)
}

// Apply re-shapes every record.
func (p *Project) Apply(rs row.Records) row.Records {
	out := make(row.Records, len(rs))
	for i, r := range rs {
		nr := make(row.Row, 0, len(p.Emit)+len(p.Literals))
		for _, c := range p.Emit {
			nr = append(nr, r.Row[c])
		}
		nr = append(nr, p.Literals...)
		out[i] = row.Record{Row: nr, Positive: r.Positive}
	}
	return out
}
