// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package replay holds the bookkeeping a domain needs to fill holes in
// partial state: which fills are in flight, which input streams already
// delivered their snapshot, and the work waiting on fills.
//
// A fill of key K at node N sends one request per replay path of N. The
// source of a path answers with a snapshot of its rows for K, split into
// pieces. Pieces travel down the path on the same links as regular
// deltas, so every stream of pieces reaching N is ordered with the deltas
// on that stream. Streams are told apart by lanes: the sequence of union
// inputs and source shards the records went through. A delta for K that
// reaches N on a lane whose last piece has already arrived follows the
// snapshot and must be kept; one that arrives earlier is already part of
// the snapshot and must be dropped.
package replay

import (
	"fmt"
	"sort"

	"github.com/cockroachdb/viewflow/pkg/graph"
	"github.com/cockroachdb/viewflow/pkg/row"
)

// Lane identifies the route records took from the nearest materialized
// ancestor to a node.
type Lane string

// Union extends the lane with the input of a union node.
func (l Lane) Union(node graph.NodeID, parent int) Lane {
	return l + Lane(fmt.Sprintf("u%d.%d;", node, parent))
}

// Shard extends the lane with the shard of a sharded domain the records
// left from.
func (l Lane) Shard(domain graph.DomainID, shard int) Lane {
	return l + Lane(fmt.Sprintf("s%d.%d;", domain, shard))
}

// Target identifies a fill: a key of a node.
type Target struct {
	Node graph.NodeID
	Key  row.Key
}

// String implements fmt.Stringer.
func (t Target) String() string {
	return fmt.Sprintf("n%d%s", t.Node, t.Key)
}

// Entry is an in-flight fill.
type Entry struct {
	Target
	// Epoch tags the requests and pieces of this attempt.
	Epoch uint64
	// Expected is the number of piece streams that must complete.
	Expected int
	// Full is set for a fill of a whole fully materialized node.
	Full bool
	// Rows accumulates the rows carried by the pieces.
	Rows []row.Row

	delivered map[Lane]bool
	waiters   []func(error)
}

// Delivered returns whether the stream on lane has delivered its last
// piece.
func (e *Entry) Delivered(lane Lane) bool {
	return e.delivered[lane]
}

// Deliver records that the stream on lane delivered its last piece and
// returns whether every expected stream is complete.
func (e *Entry) Deliver(lane Lane) bool {
	e.delivered[lane] = true
	return len(e.delivered) >= e.Expected
}

// Pending returns the number of streams that have not completed.
func (e *Entry) Pending() int {
	return e.Expected - len(e.delivered)
}

// OnDone registers a callback run when the entry is removed.
func (e *Entry) OnDone(fn func(error)) {
	e.waiters = append(e.waiters, fn)
}

// Table is the set of in-flight fills of a domain shard. Concurrent
// misses on the same target coalesce into one entry.
type Table struct {
	entries map[Target]*Entry
	epoch   uint64
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{entries: map[Target]*Entry{}}
}

// Get returns the in-flight fill of t, or nil.
func (tb *Table) Get(t Target) *Entry {
	return tb.entries[t]
}

// Start returns the in-flight fill of t, creating it if there is none. The
// second result is false if the fill was already in flight.
func (tb *Table) Start(t Target, expected int, full bool) (*Entry, bool) {
	if e, ok := tb.entries[t]; ok {
		return e, false
	}
	tb.epoch++
	e := &Entry{
		Target:    t,
		Epoch:     tb.epoch,
		Expected:  expected,
		Full:      full,
		delivered: map[Lane]bool{},
	}
	tb.entries[t] = e
	return e, true
}

// Restart gives e a new epoch and forgets everything it received. Pieces
// tagged with the old epoch are discarded from now on.
func (tb *Table) Restart(e *Entry) {
	tb.epoch++
	e.Epoch = tb.epoch
	e.Rows = nil
	e.delivered = map[Lane]bool{}
}

// Remove drops e from the table and runs its callbacks with err.
func (tb *Table) Remove(e *Entry, err error) {
	if tb.entries[e.Target] == e {
		delete(tb.entries, e.Target)
	}
	for _, fn := range e.waiters {
		fn(err)
	}
	e.waiters = nil
}

// Len returns the number of in-flight fills.
func (tb *Table) Len() int {
	return len(tb.entries)
}

// InFlight returns whether a fill of t is in flight.
func (tb *Table) InFlight(t Target) bool {
	_, ok := tb.entries[t]
	return ok
}

// Entries returns the in-flight fills ordered by epoch.
func (tb *Table) Entries() []*Entry {
	out := make([]*Entry, 0, len(tb.entries))
	for _, e := range tb.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Epoch < out[j].Epoch })
	return out
}
