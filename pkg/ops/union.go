// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package ops

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/viewflow/pkg/row"
)

// Union merges its parents. Emit maps, per parent, the parent columns
// making up the output row. If Emit is empty, Columns fills in identity
// mappings.
type Union struct {
	Emit [][]int
}

func (*Union) operator() {}

// Kind implements Operator.
func (*Union) Kind() Kind { return KindUnion }

func (u *Union) emit(parent int) []int {
	if parent < len(u.Emit) {
		return u.Emit[parent]
	}
	return nil
}

// Columns implements Operator.
func (u *Union) Columns(parents [][]string) ([]string, error) {
	if len(parents) < 2 {
		return nil, errors.Newf("union needs at least two parents, got %d", len(parents))
	}
	if len(u.Emit) != 0 && len(u.Emit) != len(parents) {
		return nil, errors.Newf("union has %d column mappings for %d parents", len(u.Emit), len(parents))
	}
	if len(u.Emit) == 0 {
		u.Emit = make([][]int, len(parents))
		for i, p := range parents {
			u.Emit[i] = make([]int, len(p))
			for j := range p {
				u.Emit[i][j] = j
			}
		}
	}
	var out []string
	for i, p := range parents {
		cols := p
		if e := u.emit(i); e != nil {
			if err := checkCols(e, len(p)); err != nil {
				return nil, errors.Wrapf(err, "parent %d", i)
			}
			cols = make([]string, len(e))
			for j, c := range e {
				cols[j] = p[c]
			}
		}
		if out == nil {
			out = cols
		} else if len(cols) != len(out) {
			return nil, errors.Newf("union parent %d has %d columns, expected %d", i, len(cols), len(out))
		}
	}
	return out, nil
}

// Resolve implements Operator. Every output column resolves to one column
// of each parent.
func (u *Union) Resolve(col int) []ParentColumn {
	out := make([]ParentColumn, len(u.Emit))
	for i := range out {
		out[i] = ParentColumn{Parent: i, Column: u.Emit[i][col]}
	}
	return out
}

// Stateless implements Operator.
func (*Union) Stateless() bool { return true }

// Describe implements Operator.
func (u *Union) Describe() string {
	return fmt.Sprintf("⋃%v", u.Emit)
}

// Apply maps the records of the given parent into the output schema and
// cancels identical records with opposite signs.
func (u *Union) Apply(parent int, rs row.Records) row.Records {
	e := u.emit(parent)
	if e == nil {
		return rs.Consolidate()
	}
	out := make(row.Records, len(rs))
	for i, r := range rs {
		out[i] = row.Record{Row: r.Row.Project(e), Positive: r.Positive}
	}
	return out.Consolidate()
}
