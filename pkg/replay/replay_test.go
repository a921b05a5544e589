// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package replay

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/viewflow/pkg/graph"
	"github.com/cockroachdb/viewflow/pkg/row"
	"github.com/stretchr/testify/require"
)

func target(node int, k int64) Target {
	return Target{Node: graph.NodeID(node), Key: row.KeyOf(row.DInt(k))}
}

func TestLanes(t *testing.T) {
	var l Lane
	require.Equal(t, Lane("u4.1;"), l.Union(4, 1))
	require.Equal(t, Lane("s2.0;u4.1;"), l.Shard(2, 0).Union(4, 1))
	require.NotEqual(t, l.Union(4, 0), l.Union(4, 1))
}

func TestTableCoalescesAndRestarts(t *testing.T) {
	tb := NewTable()
	k := target(3, 1)
	e, started := tb.Start(k, 2, false)
	require.True(t, started)
	again, started := tb.Start(k, 2, false)
	require.False(t, started)
	require.Same(t, e, again)
	require.Equal(t, 1, tb.Len())
	require.Equal(t, "n3[1]", k.String())

	other, _ := tb.Start(target(3, 2), 1, false)
	require.Greater(t, other.Epoch, e.Epoch)

	a, b := Lane("u5.0;"), Lane("u5.1;")
	require.False(t, e.Deliver(a))
	require.True(t, e.Delivered(a))
	require.False(t, e.Delivered(b))
	require.Equal(t, 1, e.Pending())

	old := e.Epoch
	e.Rows = append(e.Rows, row.Row{row.DInt(1)})
	tb.Restart(e)
	require.Greater(t, e.Epoch, other.Epoch)
	require.NotEqual(t, old, e.Epoch)
	require.Empty(t, e.Rows)
	require.False(t, e.Delivered(a))
	require.False(t, e.Deliver(b))
	require.True(t, e.Deliver(a))

	var got []error
	e.OnDone(func(err error) { got = append(got, err) })
	boom := errors.New("boom")
	tb.Remove(e, boom)
	require.Equal(t, []error{boom}, got)
	require.False(t, tb.InFlight(k))
	require.Equal(t, []*Entry{other}, tb.Entries())
}

func TestContinuations(t *testing.T) {
	c := NewContinuations()
	join, left, right := target(5, 1), target(2, 1), target(3, 1)

	b1 := Batch{From: 0, Records: row.Records{row.Pos(row.Row{row.DInt(1)})}}
	b2 := Batch{From: 0, Records: row.Records{row.Neg(row.Row{row.DInt(1)})}}
	require.True(t, c.Suspend(join, right, b1))
	require.False(t, c.Suspend(join, right, b2))
	require.NotNil(t, c.Suspended(join))

	// An answer at the left source that needs two keys of the right side.
	other := target(3, 2)
	req := Request{Tag: 7, Key: left.Key, Epoch: 4}
	c.Wait(req, []Target{right, other}, []Target{right, other})
	require.True(t, c.Pinned(right))
	require.True(t, c.Waiting(right))
	require.Equal(t, 2, c.Len())

	resume, ready := c.Filled(right)
	require.Len(t, resume, 1)
	require.Equal(t, []Batch{b1, b2}, resume[0].Ops)
	require.Empty(t, ready)
	require.Nil(t, c.Suspended(join))
	require.True(t, c.Pinned(right))

	resume, ready = c.Filled(other)
	require.Empty(t, resume)
	require.Len(t, ready, 1)
	require.Equal(t, req, ready[0].Request)
	require.False(t, c.Pinned(right))
	require.False(t, c.Pinned(other))
	require.Zero(t, c.Len())

	resume, ready = c.Filled(other)
	require.Nil(t, resume)
	require.Nil(t, ready)
}
