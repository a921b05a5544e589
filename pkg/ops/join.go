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

// JoinKind is the join variant.
type JoinKind int

// Join kinds.
const (
	InnerJoin JoinKind = iota
	LeftJoin
)

// String implements fmt.Stringer.
func (k JoinKind) String() string {
	if k == LeftJoin {
		return "left"
	}
	return "inner"
}

// Join sides, as parent indexes.
const (
	Left  = 0
	Right = 1
)

// JoinColumn is an output column of a join.
type JoinColumn struct {
	Side int
	Col  int
}

// Join is an equi-join of its two parents on one column each. Both parents
// must be materialized with an index on their join column; the caller
// supplies lookups into them.
type Join struct {
	Type JoinKind
	On   [2]int
	// Emit lists the output columns. If empty, Columns fills in all left
	// columns followed by all right columns.
	Emit []JoinColumn
}

// LookupFunc returns the rows of a join side for a join key. The boolean
// is false if the key is a Hole in that side's partial state.
type LookupFunc func(side int, key row.Key) ([]row.Row, bool)

// Miss records input that could not be processed because a lookup hit a
// Hole. The records must be reprocessed once Side is filled for Key.
type Miss struct {
	Side    int
	Key     row.Key
	Records row.Records
}

func (*Join) operator() {}

// Kind implements Operator.
func (*Join) Kind() Kind { return KindJoin }

// Columns implements Operator.
func (j *Join) Columns(parents [][]string) ([]string, error) {
	if len(parents) != 2 {
		return nil, errors.Newf("join needs two parents, got %d", len(parents))
	}
	for side := range parents {
		if err := checkCols([]int{j.On[side]}, len(parents[side])); err != nil {
			return nil, errors.Wrapf(err, "join column of side %d", side)
		}
	}
	if len(j.Emit) == 0 {
		for side, p := range parents {
			for c := range p {
				j.Emit = append(j.Emit, JoinColumn{Side: side, Col: c})
			}
		}
	}
	out := make([]string, len(j.Emit))
	for i, e := range j.Emit {
		if e.Side != Left && e.Side != Right {
			return nil, errors.Newf("invalid join side %d", e.Side)
		}
		if err := checkCols([]int{e.Col}, len(parents[e.Side])); err != nil {
			return nil, err
		}
		out[i] = parents[e.Side][e.Col]
	}
	return out, nil
}

// Resolve implements Operator. A join column resolves to both sides for
// inner joins, the emitting side first. Right columns of a left join are
// NULL for unmatched rows and do not resolve.
func (j *Join) Resolve(col int) []ParentColumn {
	e := j.Emit[col]
	if j.Type == LeftJoin && e.Side == Right {
		return nil
	}
	if e.Col == j.On[e.Side] && j.Type == InnerJoin {
		other := 1 - e.Side
		return []ParentColumn{{e.Side, e.Col}, {other, j.On[other]}}
	}
	return []ParentColumn{{e.Side, e.Col}}
}

// Stateless implements Operator.
func (*Join) Stateless() bool { return false }

// Describe implements Operator.
func (j *Join) Describe() string {
	sym := "⋈"
	if j.Type == LeftJoin {
		sym = "⟕"
	}
	return fmt.Sprintf("%s[%d=%d]", sym, j.On[Left], j.On[Right])
}

// JoinKey returns the join key of a row from the given side.
func (j *Join) JoinKey(side int, r row.Row) row.Key {
	return row.MakeKey(r, j.On[side:side+1])
}

func (j *Join) combine(l, r row.Row) row.Row {
	out := make(row.Row, len(j.Emit))
	for i, e := range j.Emit {
		switch {
		case e.Side == Left:
			out[i] = l[e.Col]
		case r == nil:
			out[i] = row.DNull
		default:
			out[i] = r[e.Col]
		}
	}
	return out
}

// Process joins a batch of records from one side against the current
// state of the other. Records whose lookups hit a Hole are returned as
// misses, grouped by the key to fill, and produce no output.
func (j *Join) Process(from int, rs row.Records, lookup LookupFunc) (row.Records, []Miss) {
	// Group by join key, keeping first-appearance order, so that the
	// records of one key are processed (or suspended) together.
	var order []row.Key
	groups := map[row.Key]row.Records{}
	var out row.Records
	for _, r := range rs {
		if r.Row[j.On[from]] == row.DNull {
			if j.Type == LeftJoin && from == Left {
				out = append(out, row.Record{Row: j.combine(r.Row, nil), Positive: r.Positive})
			}
			continue
		}
		k := j.JoinKey(from, r.Row)
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], r)
	}

	var misses []Miss
	for _, k := range order {
		group := groups[k]
		var emitted row.Records
		var miss *Miss
		if j.Type == LeftJoin && from == Right {
			emitted, miss = j.processLeftJoinRight(k, group, lookup)
		} else {
			emitted, miss = j.processMatches(from, k, group, lookup)
		}
		if miss != nil {
			misses = append(misses, *miss)
			continue
		}
		out = append(out, emitted...)
	}
	return out, misses
}

func (j *Join) processMatches(
	from int, k row.Key, group row.Records, lookup LookupFunc,
) (row.Records, *Miss) {
	other := 1 - from
	matches, ok := lookup(other, k)
	if !ok {
		return nil, &Miss{Side: other, Key: k, Records: group}
	}
	var out row.Records
	for _, r := range group {
		if len(matches) == 0 && j.Type == LeftJoin {
			out = append(out, row.Record{Row: j.combine(r.Row, nil), Positive: r.Positive})
			continue
		}
		for _, m := range matches {
			var joined row.Row
			if from == Left {
				joined = j.combine(r.Row, m)
			} else {
				joined = j.combine(m, r.Row)
			}
			out = append(out, row.Record{Row: joined, Positive: r.Positive})
		}
	}
	return out, nil
}

// processLeftJoinRight handles right-side deltas of a left join. The right
// side's state already includes the deltas, so the match count before the
// batch is derived from the count after it.
func (j *Join) processLeftJoinRight(
	k row.Key, group row.Records, lookup LookupFunc,
) (row.Records, *Miss) {
	lefts, ok := lookup(Left, k)
	if !ok {
		return nil, &Miss{Side: Left, Key: k, Records: group}
	}
	rights, ok := lookup(Right, k)
	if !ok {
		return nil, &Miss{Side: Right, Key: k, Records: group}
	}
	after := int64(len(rights))
	var net int64
	for _, r := range group {
		net += r.Sign()
	}
	before := after - net

	var out row.Records
	if before == 0 && after > 0 {
		for _, l := range lefts {
			out = append(out, row.Neg(j.combine(l, nil)))
		}
	}
	for _, r := range group {
		for _, l := range lefts {
			out = append(out, row.Record{Row: j.combine(l, r.Row), Positive: r.Positive})
		}
	}
	if before > 0 && after == 0 {
		for _, l := range lefts {
			out = append(out, row.Pos(j.combine(l, nil)))
		}
	}
	return out, nil
}

// Replay joins rows replayed from one side. It is Process for a batch of
// insertions.
func (j *Join) Replay(from int, rows []row.Row, lookup LookupFunc) (row.Records, []Miss) {
	return j.Process(from, row.FromRows(rows), lookup)
}
