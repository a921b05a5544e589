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

// AggFunc is an invertible aggregate function.
type AggFunc int

// Aggregate functions.
const (
	Count AggFunc = iota
	Sum
)

// String implements fmt.Stringer.
func (f AggFunc) String() string {
	if f == Sum {
		return "SUM"
	}
	return "COUNT"
}

// ParseAggFunc parses an aggregate function name.
func ParseAggFunc(s string) (AggFunc, error) {
	switch s {
	case "count", "COUNT":
		return Count, nil
	case "sum", "SUM":
		return Sum, nil
	}
	return 0, errors.Newf("unknown aggregate function %q", s)
}

// Aggregate groups its parent's rows by Group and emits one row per group:
// the group columns followed by the aggregate value.
type Aggregate struct {
	Group []int
	Func  AggFunc
	// Over is the summed column for Sum.
	Over int
}

// AggState is the accumulator of one group. Count is the number of rows
// supporting the group; the group disappears when it drops to zero.
type AggState struct {
	Group row.Row
	Count int64
	Value row.Datum
}

// Size is an estimate of the accumulator's memory footprint.
func (s *AggState) Size() int64 {
	return s.Group.Size() + s.Value.Size() + 8
}

// GroupUpdate describes the change of one group in a batch.
type GroupUpdate struct {
	Key  row.Key
	Prev *AggState
	// Next is nil if the group lost its last row.
	Next *AggState
}

func (*Aggregate) operator() {}

// Kind implements Operator.
func (*Aggregate) Kind() Kind { return KindAggregate }

// Columns implements Operator.
func (a *Aggregate) Columns(parents [][]string) ([]string, error) {
	in, err := identityColumns(parents)
	if err != nil {
		return nil, err
	}
	if len(a.Group) == 0 {
		return nil, errors.New("aggregate needs at least one group column")
	}
	if err := checkCols(a.Group, len(in)); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(a.Group)+1)
	for _, c := range a.Group {
		out = append(out, in[c])
	}
	switch a.Func {
	case Count:
		out = append(out, "count")
	case Sum:
		if err := checkCols([]int{a.Over}, len(in)); err != nil {
			return nil, err
		}
		out = append(out, "sum_"+in[a.Over])
	default:
		return nil, errors.Newf("unknown aggregate function %d", a.Func)
	}
	return out, nil
}

// Resolve implements Operator.
func (a *Aggregate) Resolve(col int) []ParentColumn {
	if col < len(a.Group) {
		return []ParentColumn{{0, a.Group[col]}}
	}
	return nil
}

// Stateless implements Operator.
func (*Aggregate) Stateless() bool { return false }

// Describe implements Operator.
func (a *Aggregate) Describe() string {
	if a.Func == Count {
		return fmt.Sprintf("γ%v[COUNT(*)]", a.Group)
	}
	return fmt.Sprintf("γ%v[SUM(%d)]", a.Group, a.Over)
}

// KeyColumns returns the output columns holding the group key.
func (a *Aggregate) KeyColumns() []int {
	out := make([]int, len(a.Group))
	for i := range out {
		out[i] = i
	}
	return out
}

// GroupKey returns the group key of a parent row.
func (a *Aggregate) GroupKey(r row.Row) row.Key {
	return row.MakeKey(r, a.Group)
}

// Output returns the output row of a group.
func (a *Aggregate) Output(s *AggState) row.Row {
	out := make(row.Row, 0, len(s.Group)+1)
	out = append(out, s.Group...)
	return append(out, s.Value)
}

func (a *Aggregate) contribution(r row.Row) row.Datum {
	if a.Func == Count {
		return row.DInt(1)
	}
	return r[a.Over]
}

// step applies one record to s with the accumulate or retract function.
func (a *Aggregate) step(s *AggState, r row.Record) error {
	c := a.contribution(r.Row)
	if !r.Positive {
		var err error
		if c, err = row.Negate(c); err != nil {
			return err
		}
	}
	v, err := row.Add(s.Value, c)
	if err != nil {
		return errors.Wrapf(err, "aggregating %s", r)
	}
	s.Value = v
	s.Count += r.Sign()
	return nil
}

func (a *Aggregate) empty(group row.Row) *AggState {
	return &AggState{Group: group, Value: row.DInt(0)}
}

// Fold computes a group's accumulator from scratch over its rows. It
// returns nil if there are no rows.
func (a *Aggregate) Fold(rows []row.Row) (*AggState, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	s := a.empty(rows[0].Project(a.Group))
	for _, r := range rows {
		if err := a.step(s, row.Pos(r)); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Process applies a batch of parent records. current returns the
// accumulator of a group (nil if the group has no rows) and whether the
// group's key is filled; records of unfilled groups are skipped. For every
// changed group, the output contains a retraction of the old row (if any)
// followed by an insertion of the new row (if any).
func (a *Aggregate) Process(
	rs row.Records, current func(row.Key) (*AggState, bool),
) (row.Records, []GroupUpdate, error) {
	var order []row.Key
	groups := map[row.Key]row.Records{}
	for _, r := range rs {
		k := a.GroupKey(r.Row)
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], r)
	}

	var out row.Records
	var updates []GroupUpdate
	for _, k := range order {
		prev, filled := current(k)
		if !filled {
			continue
		}
		group := groups[k]
		next := a.empty(group[0].Row.Project(a.Group))
		if prev != nil {
			next = &AggState{Group: prev.Group, Count: prev.Count, Value: prev.Value}
		}
		for _, r := range group {
			if err := a.step(next, r); err != nil {
				return nil, nil, err
			}
		}
		if next.Count < 0 {
			return nil, nil, errors.AssertionFailedf(
				"group %s retracted below zero rows (%d)", k, next.Count)
		}
		if next.Count == 0 {
			next = nil
		}
		if prev == nil && next == nil {
			continue
		}
		if prev != nil && next != nil && a.Output(prev).Equal(a.Output(next)) {
			updates = append(updates, GroupUpdate{Key: k, Prev: prev, Next: next})
			continue
		}
		if prev != nil {
			out = append(out, row.Neg(a.Output(prev)))
		}
		if next != nil {
			out = append(out, row.Pos(a.Output(next)))
		}
		updates = append(updates, GroupUpdate{Key: k, Prev: prev, Next: next})
	}
	return out, updates, nil
}
