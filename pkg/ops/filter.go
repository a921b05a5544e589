// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package ops

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/viewflow/pkg/row"
)

// CmpOp is a comparison operator.
type CmpOp int

// Comparison operators.
const (
	EQ CmpOp = iota
	NE
	LT
	LE
	GT
	GE
)

var cmpOpNames = [...]string{"=", "!=", "<", "<=", ">", ">="}

// String implements fmt.Stringer.
func (o CmpOp) String() string { return cmpOpNames[o] }

// ParseCmpOp parses the textual form of a comparison operator.
func ParseCmpOp(s string) (CmpOp, error) {
	for i, n := range cmpOpNames {
		if n == s {
			return CmpOp(i), nil
		}
	}
	if s == "==" {
		return EQ, nil
	}
	return 0, errors.Newf("unknown comparison operator %q", s)
}

// Cond compares column Col against either the constant Value or, if
// UseColumn is set, against column Other. A comparison involving NULL is
// false.
type Cond struct {
	Col       int
	Op        CmpOp
	Value     row.Datum
	UseColumn bool
	Other     int
}

func (c Cond) eval(r row.Row) bool {
	rhs := c.Value
	if c.UseColumn {
		rhs = r[c.Other]
	}
	lhs := r[c.Col]
	if lhs == row.DNull || rhs == row.DNull {
		return false
	}
	cmp := lhs.Compare(rhs)
	switch c.Op {
	case EQ:
		return cmp == 0
	case NE:
		return cmp != 0
	case LT:
		return cmp < 0
	case LE:
		return cmp <= 0
	case GT:
		return cmp > 0
	case GE:
		return cmp >= 0
	}
	return false
}

func (c Cond) String() string {
	if c.UseColumn {
		return fmt.Sprintf("%d %s %d", c.Col, c.Op, c.Other)
	}
	return fmt.Sprintf("%d %s %s", c.Col, c.Op, c.Value)
}

// Filter forwards the records whose row satisfies every condition.
type Filter struct {
	Conds []Cond
}

func (*Filter) operator() {}

// Kind implements Operator.
func (*Filter) Kind() Kind { return KindFilter }

// Columns implements Operator.
func (f *Filter) Columns(parents [][]string) ([]string, error) {
	cols, err := identityColumns(parents)
	if err != nil {
		return nil, err
	}
	for _, c := range f.Conds {
		if err := checkCols([]int{c.Col}, len(cols)); err != nil {
			return nil, err
		}
		if c.UseColumn {
			if err := checkCols([]int{c.Other}, len(cols)); err != nil {
				return nil, err
			}
		} else if c.Value == nil {
			return nil, errors.Newf("condition on column %d has no value", c.Col)
		}
	}
	return cols, nil
}

// Resolve implements Operator.
func (*Filter) Resolve(col int) []ParentColumn { return []ParentColumn{{0, col}} }

// Stateless implements Operator.
func (*Filter) Stateless() bool { return true }

// Describe implements Operator.
func (f *Filter) Describe() string {
	parts := make([]string, len(f.Conds))
	for i, c := range f.Conds {
		parts[i] = c.String()
	}
	return "σ[" + strings.Join(parts, ", ") + "]"
}

// Matches reports whether r satisfies every condition.
func (f *Filter) Matches(r row.Row) bool {
	for _, c := range f.Conds {
		if !c.eval(r) {
			return false
		}
	}
	return true
}

// Apply returns the records that pass the filter.
func (f *Filter) Apply(rs row.Records) row.Records {
	out := rs[:0:0]
	for _, r := range rs {
		if f.Matches(r.Row) {
			out = append(out, r)
		}
	}
	return out
}
