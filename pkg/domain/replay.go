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
	"github.com/cockroachdb/viewflow/pkg/util/log"
	"github.com/cockroachdb/viewflow/pkg/util/metric"
)

// fill starts filling the hole t, unless a fill of t is already in flight.
func (d *Domain) fill(ctx context.Context, t replay.Target) error {
	n := d.g.Node(t.Node)
	nm := d.nodeMetrics[n.ID]
	e, started := d.inflight.Start(t, d.fanout(n, t.Key), false)
	if !started {
		nm.IncReplay(metric.ReplayCoalesced)
		return nil
	}
	if err := d.stores[n.ID].BeginFill(t.Key); err != nil {
		return err
	}
	nm.IncReplay(metric.ReplayIssued)
	log.VEventf(ctx, 2, "filling %s (epoch %d, %d streams)", t, e.Epoch, e.Expected)
	return d.request(ctx, n, e)
}

// sources returns the domain shards answering a request on path p.
func (d *Domain) sources(p *graph.ReplayPath, key row.Key) []Addr {
	src := d.g.Node(p.Source)
	if src.Domain == d.addr.Domain {
		// State of a sharded domain is partitioned the same way at every
		// node, so the shard answers for itself.
		return []Addr{d.addr}
	}
	dom := d.g.Domain(src.Domain)
	if !dom.Sharded() {
		return []Addr{{Domain: dom.ID}}
	}
	if !p.Full {
		if s, ok := d.g.ShardOfKey(src, p.Hops[0].Cols, key); ok {
			return []Addr{{Domain: dom.ID, Shard: s}}
		}
	}
	out := make([]Addr, dom.Shards)
	for i := range out {
		out[i] = Addr{Domain: dom.ID, Shard: i}
	}
	return out
}

// fanout returns the number of piece streams a fill of n receives.
func (d *Domain) fanout(n *graph.Node, key row.Key) int {
	total := 0
	for _, p := range n.Paths {
		total += len(d.sources(p, key))
	}
	return total
}

// request sends the requests of fill e along every path of n.
func (d *Domain) request(ctx context.Context, n *graph.Node, e *replay.Entry) error {
	for _, p := range n.Paths {
		req := replay.Request{Tag: p.Tag, Key: e.Key, Epoch: e.Epoch, Shard: d.addr.Shard, Full: e.Full}
		for _, a := range d.sources(p, e.Key) {
			if a == d.addr {
				d.local.PushBack(func(ctx context.Context) error { return d.answer(ctx, req) })
				continue
			}
			d.mesh.control(a, control{kind: ctlReplay, req: req})
		}
	}
	return nil
}

// answer answers a replay request from the state of the path's source.
// If the source, or the other side of a join right below it, has holes
// the answer needs, they are filled first and the answer is retried.
func (d *Domain) answer(ctx context.Context, req replay.Request) error {
	p := d.g.Path(req.Tag)
	rows, deps, missing, err := d.snapshot(p, req)
	if err != nil {
		return errors.Wrapf(err, "answering replay %d for %s", req.Tag, req.Key)
	}
	if len(missing) > 0 {
		d.conts.Wait(req, missing, deps)
		for _, t := range missing {
			if err := d.fill(ctx, t); err != nil {
				return err
			}
		}
		return nil
	}
	d.nodeMetrics[p.Source].IncReplay(metric.ReplayAnswered)
	log.VEventf(ctx, 2, "answering replay %d for %s with %d rows", req.Tag, req.Key, len(rows))
	chunk := d.cfg.ReplayChunkSize
	for i := 0; ; i += chunk {
		end := i + chunk
		if end > len(rows) {
			end = len(rows)
		}
		pc := Piece{Request: req, Last: end == len(rows)}
		if err := d.forwardPiece(ctx, p, 1, "", rows[i:end], pc); err != nil {
			return err
		}
		if pc.Last {
			return nil
		}
	}
}

// snapshot reads the rows answering req at the source of p. It returns
// the keys the answer depends on and those among them that are holes.
func (d *Domain) snapshot(
	p *graph.ReplayPath, req replay.Request,
) (rows []row.Row, deps, missing []replay.Target, err error) {
	src := d.g.Node(p.Source)
	switch {
	case !req.Full:
		var ok bool
		if rows, ok, err = d.stateOf(src, p.Hops[0].Cols, req.Key); err != nil {
			return nil, nil, nil, err
		}
		t := replay.Target{Node: src.ID, Key: req.Key}
		if !ok {
			return nil, []replay.Target{t}, []replay.Target{t}, nil
		}
		if src.Materialized == graph.Partial {
			deps = append(deps, t)
		}
	case d.bases[src.ID] != nil:
		if rows, err = d.bases[src.ID].Rows(); err != nil {
			return nil, nil, nil, err
		}
	default:
		rows = d.stores[src.ID].Rows()
	}

	if len(p.Hops) < 2 {
		return rows, deps, nil, nil
	}
	jn := d.g.Node(p.Hops[1].Node)
	j, ok := jn.Op.(*ops.Join)
	if !ok {
		return rows, deps, nil, nil
	}
	side := jn.ParentIndex(src.ID)
	other := d.g.Node(jn.Parents[1-side])
	if other.Materialized != graph.Partial {
		return rows, deps, nil, nil
	}
	st := d.stores[other.ID]
	seen := map[row.Key]bool{}
	for _, r := range rows {
		if r[j.On[side]] == row.DNull {
			continue
		}
		k := j.JoinKey(side, r)
		if seen[k] {
			continue
		}
		seen[k] = true
		t := replay.Target{Node: other.ID, Key: k}
		deps = append(deps, t)
		if !st.Filled(k) {
			missing = append(missing, t)
		}
	}
	return rows, deps, missing, nil
}

// forwardPiece pushes the rows of a piece through hops i and beyond of p
// that belong to this domain.
func (d *Domain) forwardPiece(
	ctx context.Context, p *graph.ReplayPath, i int, lane replay.Lane, rows []row.Row, pc Piece,
) error {
	if i < 1 {
		return errors.AssertionFailedf("piece for replay %d entered at hop %d", p.Tag, i)
	}
	for ; i < len(p.Hops); i++ {
		n := d.g.Node(p.Hops[i].Node)
		from := n.ParentIndex(p.Hops[i-1].Node)
		if i == len(p.Hops)-1 {
			return d.receivePiece(ctx, n, from, lane, rows, pc)
		}
		switch op := n.Op.(type) {
		case *ops.Ingress:
		case *ops.Filter:
			rows = op.Apply(row.FromRows(rows)).Rows()
		case *ops.Project:
			rows = op.Apply(row.FromRows(rows)).Rows()
		case *ops.Union:
			lane = lane.Union(n.ID, from)
			rows = op.Apply(from, row.FromRows(rows)).Rows()
		case *ops.Join:
			var lookupErr error
			out, misses := op.Replay(from, rows, d.lookup(n, op, &lookupErr))
			if lookupErr != nil {
				return lookupErr
			}
			if len(misses) > 0 {
				return errors.AssertionFailedf("replay %d hit a hole at %s for key %s",
					p.Tag, d.g.Node(n.Parents[misses[0].Side]), misses[0].Key)
			}
			rows = out.Rows()
		case *ops.Egress:
			return d.sendPiece(ctx, p, i, lane, rows, pc)
		default:
			return errors.AssertionFailedf("replay %d crosses %s", p.Tag, n)
		}
	}
	return nil
}

// sendPiece sends a piece leaving the domain at hop i of p, an egress.
// Pieces entering the target's domain go to the requesting shard; pieces
// crossing other sharded domains go to the shard owning the key.
func (d *Domain) sendPiece(
	ctx context.Context, p *graph.ReplayPath, i int, lane replay.Lane, rows []row.Row, pc Piece,
) error {
	in := d.g.Node(p.Hops[i+1].Node)
	dst := d.g.Domain(in.Domain)
	if d.g.Domain(d.addr.Domain).Sharded() {
		lane = lane.Shard(d.addr.Domain, d.addr.Shard)
	}
	to := Addr{Domain: dst.ID}
	switch {
	case in.Domain == d.g.Node(p.Target).Domain:
		to.Shard = pc.Shard
		if dst.Sharded() && pc.Full {
			owned := rows[:0:0]
			for _, r := range rows {
				if d.g.ShardOfRow(in, r) == pc.Shard {
					owned = append(owned, r)
				}
			}
			rows = owned
		}
	case dst.Sharded():
		s, ok := d.g.ShardOfKey(in, p.Hops[i+1].Cols, pc.Key)
		if !ok {
			return errors.AssertionFailedf("replay %d cannot be routed through sharded domain %d", p.Tag, dst.ID)
		}
		to.Shard = s
	}
	piece := pc
	return d.send(ctx, to, Packet{To: in.ID, Lane: lane, Records: row.FromRows(rows), Piece: &piece})
}

// receivePiece accumulates a piece at the node being filled and completes
// the fill once every stream delivered its last piece.
func (d *Domain) receivePiece(
	ctx context.Context, n *graph.Node, from int, lane replay.Lane, rows []row.Row, pc Piece,
) error {
	t := replay.Target{Node: n.ID, Key: pc.Key}
	e := d.inflight.Get(t)
	if e == nil || e.Epoch != pc.Epoch {
		d.nodeMetrics[n.ID].IncReplay(metric.ReplayDiscarded)
		log.VEventf(ctx, 2, "discarding piece of replay %d for %s (epoch %d)", pc.Tag, t, pc.Epoch)
		return nil
	}
	switch op := n.Op.(type) {
	case *ops.Filter:
		rows = op.Apply(row.FromRows(rows)).Rows()
	case *ops.Project:
		rows = op.Apply(row.FromRows(rows)).Rows()
	case *ops.Union:
		lane = lane.Union(n.ID, from)
		rows = op.Apply(from, row.FromRows(rows)).Rows()
	}
	e.Rows = append(e.Rows, rows...)
	if !pc.Last || !e.Deliver(lane) {
		return nil
	}
	if e.Full {
		return d.completeBoot(ctx, n, e)
	}
	return d.complete(ctx, n, e)
}

// complete marks the key of fill e filled, then resumes the work waiting
// on it.
func (d *Domain) complete(ctx context.Context, n *graph.Node, e *replay.Entry) error {
	var finish state.FinishFunc
	switch op := n.Op.(type) {
	case *ops.Aggregate:
		finish = func(rows []row.Row, buffered row.Records) ([]row.Row, error) {
			all, err := state.Merge(rows, buffered)
			if err != nil {
				return nil, err
			}
			s, err := op.Fold(all)
			if err != nil || s == nil {
				return nil, err
			}
			d.aggs[n.ID][e.Key] = s
			return []row.Row{op.Output(s)}, nil
		}
	case *ops.TopK:
		finish = func(rows []row.Row, buffered row.Records) ([]row.Row, error) {
			all, err := state.Merge(rows, buffered)
			if err != nil {
				return nil, err
			}
			return op.Rank(all), nil
		}
	}
	rows, err := d.stores[n.ID].MarkFilled(e.Key, e.Rows, finish)
	if err != nil {
		return errors.Wrapf(err, "filling %s", e.Target)
	}
	d.touch(n.ID)
	if s := d.surfaces[n.ID]; s != nil {
		s.Set(e.Key, rows)
	}
	d.inflight.Remove(e, nil)
	d.nodeMetrics[n.ID].IncReplay(metric.ReplayCompleted)
	log.VEventf(ctx, 2, "filled %s with %d rows", e.Target, len(rows))
	return d.resume(ctx, e.Target)
}

// resume reprocesses the records suspended on t and queues the answers
// that were waiting for it. Suspended records go first so that the
// answers include them.
func (d *Domain) resume(ctx context.Context, t replay.Target) error {
	suspensions, answers := d.conts.Filled(t)
	for _, s := range suspensions {
		for _, b := range s.Ops {
			if err := d.process(ctx, s.At.Node, b.From, b.Lane, b.Records); err != nil {
				return err
			}
		}
	}
	for _, a := range answers {
		req := a.Request
		d.local.PushBack(func(ctx context.Context) error { return d.answer(ctx, req) })
	}
	return nil
}

// boot starts building the state of fully materialized node id from its
// ancestors. done receives the outcome.
func (d *Domain) boot(ctx context.Context, id graph.NodeID, done chan<- controlResult) error {
	n := d.g.Node(id)
	if n.Materialized != graph.Full || len(n.Paths) == 0 {
		return errors.AssertionFailedf("%s cannot be built by replay", n)
	}
	e, started := d.inflight.Start(replay.Target{Node: id}, d.fanout(n, ""), true)
	if done != nil {
		e.OnDone(func(err error) { done <- controlResult{err: err} })
	}
	if !started {
		return nil
	}
	log.VEventf(ctx, 1, "building %s from %d streams", n, e.Expected)
	return d.request(ctx, n, e)
}

// completeBoot loads the rows of a full replay into the state of n.
func (d *Domain) completeBoot(ctx context.Context, n *graph.Node, e *replay.Entry) error {
	rows := e.Rows
	switch op := n.Op.(type) {
	case *ops.Aggregate:
		var out []row.Row
		for _, g := range groupRows(rows, op.GroupKey) {
			s, err := op.Fold(g.rows)
			if err != nil {
				return err
			}
			d.aggs[n.ID][g.key] = s
			out = append(out, op.Output(s))
		}
		rows = out
	case *ops.TopK:
		var out []row.Row
		for _, g := range groupRows(rows, op.GroupKey) {
			out = append(out, op.Rank(g.rows)...)
		}
		rows = out
	}
	st := d.stores[n.ID]
	if err := st.Load(rows); err != nil {
		return errors.Wrapf(err, "building %s", n)
	}
	d.touch(n.ID)
	if s := d.surfaces[n.ID]; s != nil {
		for _, k := range st.Keys() {
			krows, _ := st.Lookup(0, k)
			s.Set(k, krows)
		}
	}
	d.inflight.Remove(e, nil)
	d.nodeMetrics[n.ID].IncReplay(metric.ReplayCompleted)
	log.VEventf(ctx, 1, "built %s from %d rows", n, len(e.Rows))
	return nil
}

type rowGroup struct {
	key  row.Key
	rows []row.Row
}

// groupRows groups rows by key, in order of first appearance.
func groupRows(rows []row.Row, keyOf func(row.Row) row.Key) []*rowGroup {
	var out []*rowGroup
	byKey := map[row.Key]*rowGroup{}
	for _, r := range rows {
		k := keyOf(r)
		g, ok := byKey[k]
		if !ok {
			g = &rowGroup{key: k}
			byKey[k] = g
			out = append(out, g)
		}
		g.rows = append(g.rows, r)
	}
	return out
}
