// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package domain

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/viewflow/pkg/graph"
	"github.com/cockroachdb/viewflow/pkg/ops"
	"github.com/cockroachdb/viewflow/pkg/replay"
	"github.com/cockroachdb/viewflow/pkg/row"
)

// process runs records arriving at node id from the parent at index from,
// on the given lane, and pushes the output to the node's children.
func (d *Domain) process(
	ctx context.Context, id graph.NodeID, from int, lane replay.Lane, rs row.Records,
) error {
	if len(rs) == 0 {
		return nil
	}
	n := d.g.Node(id)
	var out row.Records
	var err error
	d.timed(id, func() {
		out, lane, err = d.apply(ctx, n, from, lane, rs)
	})
	if err != nil {
		return errors.Wrapf(err, "%s", n)
	}
	if len(out) == 0 {
		return nil
	}
	if n.Kind() == ops.KindEgress {
		return d.sendDown(ctx, n, lane, out)
	}
	for _, c := range n.Children {
		if err := d.process(ctx, c, d.g.Node(c).ParentIndex(id), lane, out); err != nil {
			return err
		}
	}
	return nil
}

// apply runs the operator of n and updates its state. It returns the
// records to forward and the lane they travel on.
func (d *Domain) apply(
	ctx context.Context, n *graph.Node, from int, lane replay.Lane, rs row.Records,
) (row.Records, replay.Lane, error) {
	var out row.Records
	switch op := n.Op.(type) {
	case *ops.Base:
		applied, err := d.bases[n.ID].Apply(ctx, rs)
		d.touch(n.ID)
		return applied, "", err
	case *ops.Ingress, *ops.Egress, *ops.Reader:
		out = rs
	case *ops.Filter:
		out = op.Apply(rs)
	case *ops.Project:
		out = op.Apply(rs)
	case *ops.Union:
		lane = lane.Union(n.ID, from)
		out = op.Apply(from, rs)
	case *ops.Join:
		out, err := d.join(ctx, n, op, from, lane, rs)
		return out, lane, err
	case *ops.Aggregate:
		out, err := d.aggregate(n, op, lane, rs)
		return out, "", err
	case *ops.TopK:
		out, err := d.topK(ctx, n, op, from, lane, rs)
		return out, "", err
	default:
		return nil, "", errors.AssertionFailedf("unknown operator %T", n.Op)
	}
	if n.Materialized == graph.NotMaterialized {
		return out, lane, nil
	}
	applied, err := d.materialize(n, lane, out)
	return applied, "", err
}

// materialize applies the output of n to its state. Records for holes are
// dropped, unless a fill of their key is in flight and the snapshot of
// their lane has already arrived, in which case they are buffered for the
// fill.
func (d *Domain) materialize(n *graph.Node, lane replay.Lane, rs row.Records) (row.Records, error) {
	st := d.stores[n.ID]
	d.seq++
	applied, holes, err := st.Apply(d.seq, rs)
	if err != nil {
		return nil, err
	}
	for _, r := range holes {
		key := st.KeyOf(r.Row)
		if d.followsSnapshot(n.ID, key, lane) {
			if err := st.Buffer(key, r); err != nil {
				return nil, err
			}
		}
	}
	d.touch(n.ID)
	if s := d.surfaces[n.ID]; s != nil {
		seen := map[row.Key]bool{}
		for _, r := range applied {
			key := st.KeyOf(r.Row)
			if seen[key] {
				continue
			}
			seen[key] = true
			rows, _ := st.Lookup(0, key)
			s.Set(key, rows)
		}
	}
	return applied, nil
}

// followsSnapshot returns whether records for a hole at (id, key) arriving
// on lane must be kept for the key's in-flight fill.
func (d *Domain) followsSnapshot(id graph.NodeID, key row.Key, lane replay.Lane) bool {
	e := d.inflight.Get(replay.Target{Node: id, Key: key})
	return e != nil && e.Delivered(lane)
}

// stateOf returns the rows of n matching key on cols. The boolean is false
// if the key is a hole.
func (d *Domain) stateOf(n *graph.Node, cols []int, key row.Key) ([]row.Row, bool, error) {
	idx := n.IndexOf(cols)
	if idx < 0 {
		return nil, false, errors.AssertionFailedf("%s has no index on %v", n, cols)
	}
	if b, ok := d.bases[n.ID]; ok {
		rows, err := b.Lookup(b.IndexOf(idx), key)
		return rows, true, err
	}
	st, ok := d.stores[n.ID]
	if !ok {
		return nil, false, errors.AssertionFailedf("%s is not materialized", n)
	}
	rows, ok := st.Lookup(idx, key)
	return rows, ok, nil
}

// lookup returns the join lookup into the parents of join node n. The
// first backend error is stored in errp.
func (d *Domain) lookup(n *graph.Node, j *ops.Join, errp *error) ops.LookupFunc {
	return func(side int, key row.Key) ([]row.Row, bool) {
		rows, ok, err := d.stateOf(d.g.Node(n.Parents[side]), []int{j.On[side]}, key)
		if err != nil && *errp == nil {
			*errp = err
		}
		return rows, ok || err != nil
	}
}

// join processes records at a join. Records whose lookup hits a hole are
// suspended until the hole is filled; later records for a suspended key
// queue behind them.
func (d *Domain) join(
	ctx context.Context, n *graph.Node, j *ops.Join, from int, lane replay.Lane, rs row.Records,
) (row.Records, error) {
	var pass row.Records
	var held []row.Key
	heldRecords := map[row.Key]row.Records{}
	for _, r := range rs {
		if r.Row[j.On[from]] != row.DNull {
			k := j.JoinKey(from, r.Row)
			if d.conts.Suspended(replay.Target{Node: n.ID, Key: k}) != nil {
				if _, ok := heldRecords[k]; !ok {
					held = append(held, k)
				}
				heldRecords[k] = append(heldRecords[k], r)
				continue
			}
		}
		pass = append(pass, r)
	}
	for _, k := range held {
		at := replay.Target{Node: n.ID, Key: k}
		s := d.conts.Suspended(at)
		d.conts.Suspend(at, s.On, replay.Batch{From: from, Lane: lane, Records: heldRecords[k]})
	}

	var lookupErr error
	out, misses := j.Process(from, pass, d.lookup(n, j, &lookupErr))
	if lookupErr != nil {
		return nil, lookupErr
	}
	for _, m := range misses {
		at := replay.Target{Node: n.ID, Key: m.Key}
		on := replay.Target{Node: n.Parents[m.Side], Key: m.Key}
		d.conts.Suspend(at, on, replay.Batch{From: from, Lane: lane, Records: m.Records})
		if err := d.fill(ctx, on); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// aggregate processes records at an aggregate. Records of groups that are
// holes are buffered or dropped like the records of any partial node.
func (d *Domain) aggregate(
	n *graph.Node, a *ops.Aggregate, lane replay.Lane, rs row.Records,
) (row.Records, error) {
	st := d.stores[n.ID]
	groups := d.aggs[n.ID]
	if st.Partial() {
		for _, r := range rs {
			k := a.GroupKey(r.Row)
			if st.Filled(k) || !d.followsSnapshot(n.ID, k, lane) {
				continue
			}
			if err := st.Buffer(k, r); err != nil {
				return nil, err
			}
		}
	}
	out, updates, err := a.Process(rs, func(k row.Key) (*ops.AggState, bool) {
		if !st.Filled(k) {
			return nil, false
		}
		return groups[k], true
	})
	if err != nil {
		return nil, err
	}
	for _, u := range updates {
		if u.Next == nil {
			delete(groups, u.Key)
		} else {
			groups[u.Key] = u.Next
		}
	}
	d.seq++
	applied, _, err := st.Apply(d.seq, out)
	d.touch(n.ID)
	return applied, err
}

// topK processes records at a top-k. A retraction that needs the group's
// parent rows while they are a hole suspends the group's records.
func (d *Domain) topK(
	ctx context.Context, n *graph.Node, t *ops.TopK, from int, lane replay.Lane, rs row.Records,
) (row.Records, error) {
	st := d.stores[n.ID]
	parent := d.g.Node(n.Parents[0])
	var order []row.Key
	groups := map[row.Key]row.Records{}
	for _, r := range rs {
		k := t.GroupKey(r.Row)
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], r)
	}

	var out row.Records
	for _, k := range order {
		group := groups[k]
		at := replay.Target{Node: n.ID, Key: k}
		if s := d.conts.Suspended(at); s != nil {
			d.conts.Suspend(at, s.On, replay.Batch{From: from, Lane: lane, Records: group})
			continue
		}
		current, ok := st.Lookup(0, k)
		if !ok {
			if d.followsSnapshot(n.ID, k, lane) {
				if err := st.Buffer(k, group...); err != nil {
					return nil, err
				}
			}
			continue
		}
		var lookupErr error
		_, diff, refill := t.Update(current, group, func() ([]row.Row, bool) {
			rows, ok, err := d.stateOf(parent, t.Group, k)
			lookupErr = err
			return rows, ok
		})
		if lookupErr != nil {
			return nil, lookupErr
		}
		if refill {
			on := replay.Target{Node: parent.ID, Key: k}
			d.conts.Suspend(at, on, replay.Batch{From: from, Lane: lane, Records: group})
			if err := d.fill(ctx, on); err != nil {
				return nil, err
			}
			continue
		}
		out = append(out, diff...)
	}
	d.seq++
	applied, _, err := st.Apply(d.seq, out)
	d.touch(n.ID)
	return applied, err
}

// sendDown sends the output of egress n to the ingress below it, split by
// shard if the receiving domain is sharded.
func (d *Domain) sendDown(ctx context.Context, n *graph.Node, lane replay.Lane, rs row.Records) error {
	in := d.g.Node(n.Children[0])
	dst := d.g.Domain(in.Domain)
	if d.g.Domain(d.addr.Domain).Sharded() {
		lane = lane.Shard(d.addr.Domain, d.addr.Shard)
	}
	if !dst.Sharded() {
		return d.send(ctx, Addr{Domain: dst.ID}, Packet{To: in.ID, Lane: lane, Records: rs})
	}
	byShard := make([]row.Records, dst.Shards)
	for _, r := range rs {
		s := d.g.ShardOfRow(in, r.Row)
		byShard[s] = append(byShard[s], r)
	}
	for s, part := range byShard {
		if len(part) == 0 {
			continue
		}
		if err := d.send(ctx, Addr{Domain: dst.ID, Shard: s}, Packet{To: in.ID, Lane: lane, Records: part}); err != nil {
			return err
		}
	}
	return nil
}
