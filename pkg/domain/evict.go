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
	"github.com/cockroachdb/viewflow/pkg/state"
	"github.com/cockroachdb/viewflow/pkg/util/humanizeutil"
	"github.com/cockroachdb/viewflow/pkg/util/log"
)

// evictBytes evicts keys of node id, picked by policy, until at least
// bytes are freed or no candidate is left. Keys with a fill in flight or
// needed by pending work are left for a later round.
func (d *Domain) evictBytes(
	ctx context.Context, id graph.NodeID, bytes int64, policy state.Policy,
) (int64, error) {
	n := d.g.Node(id)
	st, ok := d.stores[id]
	if !ok || !st.Partial() {
		return 0, errors.AssertionFailedf("%s has no partial state", n)
	}
	victims := st.Victims(policy, bytes, func(k row.Key) bool {
		t := replay.Target{Node: id, Key: k}
		return d.inflight.InFlight(t) || d.conts.Pinned(t) || d.conts.Waiting(t)
	})
	var freed int64
	for _, k := range victims {
		f, err := d.evictKey(ctx, n, k)
		if err != nil {
			return freed, err
		}
		freed += f
	}
	if len(victims) > 0 {
		log.VEventf(ctx, 2, "evicted %d keys (%s) from %s", len(victims), humanizeutil.IBytes(freed), n)
	}
	return freed, nil
}

// evictKey turns key of n back into a hole and evicts it from the partial
// state below n. It returns the bytes freed at n.
func (d *Domain) evictKey(ctx context.Context, n *graph.Node, key row.Key) (int64, error) {
	st, ok := d.stores[n.ID]
	if !ok || !st.Partial() {
		return 0, errors.AssertionFailedf("%s has no partial state", n)
	}
	freed, ok := st.Evict(key)
	if !ok {
		return 0, nil
	}
	delete(d.aggs[n.ID], key)
	if s := d.surfaces[n.ID]; s != nil {
		s.Delete(key)
	}
	d.nodeMetrics[n.ID].IncEvicted(1)
	d.touch(n.ID)
	return freed, d.evictBelow(ctx, n, []row.Key{key})
}

func (d *Domain) evictBelow(ctx context.Context, n *graph.Node, keys []row.Key) error {
	for _, c := range n.Children {
		if err := d.evictAt(ctx, d.g.Node(c), keys); err != nil {
			return err
		}
	}
	return nil
}

// evictAt evicts keys from the partial state at and below n. The partial
// nodes below an evictable node share its key, so the keys apply as they
// are. A fill in flight for an evicted key restarts: records for the key
// are no longer sent from above, so the fill could not be kept current.
func (d *Domain) evictAt(ctx context.Context, n *graph.Node, keys []row.Key) error {
	switch {
	case n.Kind() == ops.KindEgress:
		in := d.g.Node(n.Children[0])
		dst := d.g.Domain(in.Domain)
		for s := 0; s < dst.Shards; s++ {
			if err := d.send(ctx, Addr{Domain: dst.ID, Shard: s}, Packet{To: in.ID, Evict: keys}); err != nil {
				return err
			}
		}
		return nil
	case n.Materialized == graph.Partial:
		for _, k := range keys {
			if e := d.inflight.Get(replay.Target{Node: n.ID, Key: k}); e != nil {
				if err := d.restartFill(ctx, n, e); err != nil {
					return err
				}
				continue
			}
			if _, err := d.evictKey(ctx, n, k); err != nil {
				return err
			}
		}
		return nil
	case n.Materialized == graph.Full:
		return nil
	}
	return d.evictBelow(ctx, n, keys)
}

// restartFill discards what fill e received so far and requests it again
// under a new epoch.
func (d *Domain) restartFill(ctx context.Context, n *graph.Node, e *replay.Entry) error {
	st := d.stores[n.ID]
	st.AbortFill(e.Key)
	d.inflight.Restart(e)
	if err := st.BeginFill(e.Key); err != nil {
		return err
	}
	log.VEventf(ctx, 2, "restarting fill of %s (epoch %d)", e.Target, e.Epoch)
	return d.request(ctx, n, e)
}
