// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package ops

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/viewflow/pkg/row"
	"github.com/google/btree"
)

// TopK keeps, per group, the K parent rows ranking first by the Order
// column. Its parent must be materialized with an index on Group so that a
// group can be recomputed when a row inside the current top K is
// retracted.
type TopK struct {
	Group      []int
	Order      int
	Descending bool
	K          int
}

func (*TopK) operator() {}

// Kind implements Operator.
func (*TopK) Kind() Kind { return KindTopK }

// Columns implements Operator.
func (t *TopK) Columns(parents [][]string) ([]string, error) {
	in, err := identityColumns(parents)
	if err != nil {
		return nil, err
	}
	if t.K <= 0 {
		return nil, errors.Newf("top-k needs a positive K, got %d", t.K)
	}
	if err := checkCols(append([]int{t.Order}, t.Group...), len(in)); err != nil {
		return nil, err
	}
	return in, nil
}

// Resolve implements Operator.
func (*TopK) Resolve(col int) []ParentColumn { return []ParentColumn{{0, col}} }

// Stateless implements Operator.
func (*TopK) Stateless() bool { return false }

// Describe implements Operator.
func (t *TopK) Describe() string {
	dir := "ASC"
	if t.Descending {
		dir = "DESC"
	}
	return fmt.Sprintf("TopK%v[%d %s, %d]", t.Group, t.Order, dir, t.K)
}

// GroupKey returns the group key of a row.
func (t *TopK) GroupKey(r row.Row) row.Key {
	return row.MakeKey(r, t.Group)
}

// rankedRow is a btree item. seq distinguishes duplicate rows.
type rankedRow struct {
	t   *TopK
	r   row.Row
	seq int
}

// Less implements btree.Item.
func (a *rankedRow) Less(than btree.Item) bool {
	b := than.(*rankedRow)
	c := a.r[a.t.Order].Compare(b.r[a.t.Order])
	if a.t.Descending {
		c = -c
	}
	if c == 0 {
		c = a.r.Compare(b.r)
	}
	if c == 0 {
		return a.seq < b.seq
	}
	return c < 0
}

// Rank returns the first K rows in ranking order.
func (t *TopK) Rank(rows []row.Row) []row.Row {
	tree := btree.New(8)
	for i, r := range rows {
		tree.ReplaceOrInsert(&rankedRow{t: t, r: r, seq: i})
		if tree.Len() > t.K {
			tree.DeleteMax()
		}
	}
	out := make([]row.Row, 0, tree.Len())
	tree.Ascend(func(i btree.Item) bool {
		out = append(out, i.(*rankedRow).r)
		return true
	})
	return out
}

// Update applies a batch of parent records for one group whose current
// output is current. If a retraction hits a row of the current top K,
// the group is recomputed from parentRows, which returns the group's
// parent rows after the batch and false if they are a Hole. In that case
// Update returns refill=true and no output; the caller must fill the
// parent group and retry.
func (t *TopK) Update(
	current []row.Row, rs row.Records, parentRows func() ([]row.Row, bool),
) (next []row.Row, out row.Records, refill bool) {
	remaining := multiset(current)
	recompute := false
	var inserted []row.Row
	for _, r := range rs {
		if r.Positive {
			inserted = append(inserted, r.Row)
			continue
		}
		k := string(r.Row.Encode(nil))
		if remaining[k] > 0 {
			remaining[k]--
			recompute = true
		}
	}
	if recompute {
		rows, ok := parentRows()
		if !ok {
			return nil, nil, true
		}
		next = t.Rank(rows)
	} else {
		candidates := make([]row.Row, 0, len(current)+len(inserted))
		candidates = append(candidates, current...)
		next = t.Rank(append(candidates, inserted...))
	}
	return next, Diff(current, next), false
}

// Diff returns the records turning the multiset from into to.
func Diff(from, to []row.Row) row.Records {
	var out row.Records
	want := multiset(to)
	for _, r := range from {
		k := string(r.Encode(nil))
		if want[k] > 0 {
			want[k]--
			continue
		}
		out = append(out, row.Neg(r))
	}
	have := multiset(from)
	for _, r := range to {
		k := string(r.Encode(nil))
		if have[k] > 0 {
			have[k]--
			continue
		}
		out = append(out, row.Pos(r))
	}
	return out
}

func multiset(rows []row.Row) map[string]int {
	m := make(map[string]int, len(rows))
	for _, r := range rows {
		m[string(r.Encode(nil))]++
	}
	return m
}
