// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package ops

import (
	"testing"

	"github.com/cockroachdb/viewflow/pkg/row"
	"github.com/stretchr/testify/require"
)

func r(ds ...interface{}) row.Row {
	out := make(row.Row, len(ds))
	for i, d := range ds {
		switch t := d.(type) {
		case int:
			out[i] = row.DInt(t)
		case string:
			out[i] = row.DString(t)
		case float64:
			out[i] = row.DFloat(t)
		case nil:
			out[i] = row.DNull
		}
	}
	return out
}

func TestFilter(t *testing.T) {
	f := &Filter{Conds: []Cond{
		{Col: 1, Op: GT, Value: row.DInt(5)},
		{Col: 0, Op: NE, UseColumn: true, Other: 2},
	}}
	_, err := f.Columns([][]string{{"a", "b", "c"}})
	require.NoError(t, err)

	in := row.Records{
		row.Pos(r(1, 6, 2)),
		row.Neg(r(1, 7, 1)),
		row.Pos(r(1, 5, 2)),
		row.Pos(r(1, nil, 2)),
	}
	require.Equal(t, row.Records{row.Pos(r(1, 6, 2))}, f.Apply(in))

	_, err = (&Filter{Conds: []Cond{{Col: 4, Op: EQ, Value: row.DInt(1)}}}).Columns([][]string{{"a"}})
	require.Error(t, err)
}

func TestProject(t *testing.T) {
	p := &Project{Emit: []int{2, 0}, Literals: []row.Datum{row.DString("x")}}
	cols, err := p.Columns([][]string{{"a", "b", "c"}})
	require.NoError(t, err)
	require.Equal(t, []string{"c", "a", "literal0"}, cols)
	require.Equal(t, []ParentColumn{{0, 0}}, p.Resolve(1))
	require.Nil(t, p.Resolve(2))
	require.Equal(t,
		row.Records{row.Neg(r(3, 1, "x"))},
		p.Apply(row.Records{row.Neg(r(1, 2, 3))}))
}

func TestUnion(t *testing.T) {
	u := &Union{}
	cols, err := u.Columns([][]string{{"a", "b"}, {"c", "d"}})
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, cols)
	require.Equal(t, []ParentColumn{{0, 1}, {1, 1}}, u.Resolve(1))

	// Identical records with opposite signs cancel.
	out := u.Apply(1, row.Records{row.Pos(r(1, 2)), row.Pos(r(3, 4)), row.Neg(r(1, 2))})
	require.Equal(t, row.Records{row.Pos(r(3, 4))}, out)

	swapped := &Union{Emit: [][]int{{0, 1}, {1, 0}}}
	_, err = swapped.Columns([][]string{{"a", "b"}, {"b", "a"}})
	require.NoError(t, err)
	require.Equal(t, row.Records{row.Pos(r(2, 1))}, swapped.Apply(1, row.Records{row.Pos(r(1, 2))}))

	_, err = (&Union{}).Columns([][]string{{"a"}, {"b", "c"}})
	require.Error(t, err)
}

type sides [2]map[row.Key][]row.Row

func (s sides) lookup(side int, k row.Key) ([]row.Row, bool) {
	rows, ok := s[side][k]
	return rows, ok
}

func TestInnerJoin(t *testing.T) {
	j := &Join{On: [2]int{1, 0}}
	cols, err := j.Columns([][]string{{"id", "user"}, {"user", "name"}})
	require.NoError(t, err)
	require.Equal(t, []string{"id", "user", "user", "name"}, cols)
	require.Equal(t, []ParentColumn{{0, 1}, {1, 0}}, j.Resolve(1))
	require.Equal(t, []ParentColumn{{1, 1}}, j.Resolve(3))

	st := sides{
		{},
		{
			row.KeyOf(row.DString("a")): {r("a", "alice")},
			row.KeyOf(row.DString("c")): {},
		},
	}
	out, misses := j.Process(Left, row.Records{
		row.Pos(r(1, "a")),
		row.Pos(r(2, "b")),
		row.Neg(r(3, "c")),
		row.Pos(r(4, "b")),
	}, st.lookup)
	require.Equal(t, row.Records{row.Pos(r(1, "a", "a", "alice"))}, out)
	require.Len(t, misses, 1)
	require.Equal(t, Miss{
		Side:    Right,
		Key:     row.KeyOf(row.DString("b")),
		Records: row.Records{row.Pos(r(2, "b")), row.Pos(r(4, "b"))},
	}, misses[0])
}

func TestLeftJoin(t *testing.T) {
	j := &Join{Type: LeftJoin, On: [2]int{1, 0}}
	_, err := j.Columns([][]string{{"id", "user"}, {"user", "name"}})
	require.NoError(t, err)
	require.Equal(t, []ParentColumn{{0, 1}}, j.Resolve(1))
	require.Nil(t, j.Resolve(2))

	a := row.KeyOf(row.DString("a"))
	st := sides{
		{a: {r(1, "a"), r(2, "a")}},
		{a: {}},
	}
	// Unmatched left rows are padded.
	out, misses := j.Process(Left, row.Records{row.Pos(r(1, "a"))}, st.lookup)
	require.Empty(t, misses)
	require.Equal(t, row.Records{row.Pos(r(1, "a", nil, nil))}, out)

	// The first right match retracts the padded rows.
	st[Right][a] = []row.Row{r("a", "alice")}
	out, _ = j.Process(Right, row.Records{row.Pos(r("a", "alice"))}, st.lookup)
	require.Equal(t, row.Records{
		row.Neg(r(1, "a", nil, nil)),
		row.Neg(r(2, "a", nil, nil)),
		row.Pos(r(1, "a", "a", "alice")),
		row.Pos(r(2, "a", "a", "alice")),
	}, out)

	// A second match only adds joined rows.
	st[Right][a] = []row.Row{r("a", "alice"), r("a", "al")}
	out, _ = j.Process(Right, row.Records{row.Pos(r("a", "al"))}, st.lookup)
	require.Len(t, out, 2)

	// Removing every match restores the padding.
	st[Right][a] = nil
	out, _ = j.Process(Right, row.Records{row.Neg(r("a", "alice")), row.Neg(r("a", "al"))}, st.lookup)
	require.Equal(t, row.Records{
		row.Neg(r(1, "a", "a", "alice")),
		row.Neg(r(2, "a", "a", "alice")),
		row.Neg(r(1, "a", "a", "al")),
		row.Neg(r(2, "a", "a", "al")),
		row.Pos(r(1, "a", nil, nil)),
		row.Pos(r(2, "a", nil, nil)),
	}, out)

	// NULL join values never match.
	out, _ = j.Process(Left, row.Records{row.Pos(r(9, nil))}, st.lookup)
	require.Equal(t, row.Records{row.Pos(r(9, nil, nil, nil))}, out)
}

func TestAggregate(t *testing.T) {
	for _, tc := range []struct {
		name string
		agg  *Aggregate
		col  string
		in   []row.Records
		out  []row.Records
	}{
		{
			name: "sum",
			agg:  &Aggregate{Group: []int{1}, Func: Sum, Over: 2},
			col:  "sum_amount",
			in: []row.Records{
				{row.Pos(r(1, "a", 10))},
				{row.Pos(r(2, "a", 5))},
				{row.Neg(r(1, "a", 10))},
				{row.Neg(r(2, "a", 5))},
			},
			out: []row.Records{
				{row.Pos(r("a", 10))},
				{row.Neg(r("a", 10)), row.Pos(r("a", 15))},
				{row.Neg(r("a", 15)), row.Pos(r("a", 5))},
				{row.Neg(r("a", 5))},
			},
		},
		{
			name: "count",
			agg:  &Aggregate{Group: []int{1}, Func: Count},
			col:  "count",
			in: []row.Records{
				{row.Pos(r(1, "a", 10)), row.Pos(r(2, "b", 1))},
				{row.Pos(r(3, "a", 0)), row.Neg(r(3, "a", 0))},
			},
			out: []row.Records{
				{row.Pos(r("a", 1)), row.Pos(r("b", 1))},
				nil,
			},
		},
		{
			name: "sum zero delta",
			agg:  &Aggregate{Group: []int{1}, Func: Sum, Over: 2},
			col:  "sum_amount",
			in: []row.Records{
				{row.Pos(r(1, "a", 10))},
				{row.Pos(r(2, "a", 0))},
			},
			out: []row.Records{
				{row.Pos(r("a", 10))},
				nil,
			},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cols, err := tc.agg.Columns([][]string{{"id", "user", "amount"}})
			require.NoError(t, err)
			require.Equal(t, []string{"user", tc.col}, cols)

			groups := map[row.Key]*AggState{}
			current := func(k row.Key) (*AggState, bool) { return groups[k], true }
			for i, in := range tc.in {
				out, updates, err := tc.agg.Process(in, current)
				require.NoError(t, err)
				require.Equal(t, tc.out[i], out, "batch %d", i)
				for _, u := range updates {
					if u.Next == nil {
						delete(groups, u.Key)
					} else {
						groups[u.Key] = u.Next
					}
				}
			}
		})
	}
}

func TestAggregateSkipsUnfilledGroups(t *testing.T) {
	agg := &Aggregate{Group: []int{0}, Func: Count}
	_, err := agg.Columns([][]string{{"g"}})
	require.NoError(t, err)
	out, updates, err := agg.Process(row.Records{row.Pos(r("a"))},
		func(row.Key) (*AggState, bool) { return nil, false })
	require.NoError(t, err)
	require.Empty(t, out)
	require.Empty(t, updates)

	_, _, err = agg.Process(row.Records{row.Neg(r("a"))},
		func(row.Key) (*AggState, bool) { return nil, true })
	require.Error(t, err)
}

func TestAggregateFold(t *testing.T) {
	agg := &Aggregate{Group: []int{1}, Func: Sum, Over: 2}
	st, err := agg.Fold([]row.Row{r(1, "a", 10), r(2, "a", 2.5)})
	require.NoError(t, err)
	require.Equal(t, int64(2), st.Count)
	require.Equal(t, r("a", 12.5), agg.Output(st))

	st, err = agg.Fold(nil)
	require.NoError(t, err)
	require.Nil(t, st)
}

func TestTopK(t *testing.T) {
	tk := &TopK{Group: []int{0}, Order: 1, Descending: true, K: 2}
	_, err := tk.Columns([][]string{{"g", "score"}})
	require.NoError(t, err)

	parent := []row.Row{r("a", 1), r("a", 7), r("a", 3), r("a", 7)}
	cur := tk.Rank(parent)
	require.Equal(t, []row.Row{r("a", 7), r("a", 7)}, cur)

	// An insertion below the top K changes nothing.
	next, out, refill := tk.Update(cur, row.Records{row.Pos(r("a", 2))}, nil)
	require.False(t, refill)
	require.Empty(t, out)
	require.Equal(t, cur, next)

	// A retraction inside the top K pulls in the next row from the parent.
	parent = []row.Row{r("a", 1), r("a", 3), r("a", 7), r("a", 2)}
	next, out, refill = tk.Update(cur, row.Records{row.Neg(r("a", 7))},
		func() ([]row.Row, bool) { return parent, true })
	require.False(t, refill)
	require.Equal(t, []row.Row{r("a", 7), r("a", 3)}, next)
	require.Equal(t, row.Records{row.Neg(r("a", 7)), row.Pos(r("a", 3))}, out)

	// A Hole in the parent asks for a refill.
	_, out, refill = tk.Update(next, row.Records{row.Neg(r("a", 3))},
		func() ([]row.Row, bool) { return nil, false })
	require.True(t, refill)
	require.Empty(t, out)
}

func TestDiff(t *testing.T) {
	out := Diff([]row.Row{r(1), r(1), r(2)}, []row.Row{r(1), r(3)})
	require.Equal(t, row.Records{row.Neg(r(1)), row.Neg(r(2)), row.Pos(r(3))}, out)
}
