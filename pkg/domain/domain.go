// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package domain runs the dataflow. A domain shard owns the state of its
// nodes and processes its input on a single goroutine: records written by
// clients or sent by upstream domains, replay pieces, evictions and
// barriers arrive in order on a bounded channel, while replay requests,
// read misses and eviction orders arrive on an unbounded control queue.
//
// Records are pushed depth-first through the domain's nodes. A lookup that
// hits a hole in partial state suspends the records and starts a fill;
// the fill's completion resumes them. Reader surfaces changed while
// handling an input are published once the input is fully processed.
package domain

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/viewflow/pkg/base"
	"github.com/cockroachdb/viewflow/pkg/graph"
	"github.com/cockroachdb/viewflow/pkg/ops"
	"github.com/cockroachdb/viewflow/pkg/reader"
	"github.com/cockroachdb/viewflow/pkg/replay"
	"github.com/cockroachdb/viewflow/pkg/row"
	"github.com/cockroachdb/viewflow/pkg/state"
	"github.com/cockroachdb/viewflow/pkg/storage"
	"github.com/cockroachdb/viewflow/pkg/util/log"
	"github.com/cockroachdb/viewflow/pkg/util/metric"
	"github.com/cockroachdb/viewflow/pkg/util/ring"
	"github.com/cockroachdb/viewflow/pkg/util/stop"
	"github.com/cockroachdb/viewflow/pkg/util/syncutil"
)

// work is an item of the local work queue: requests answered by the
// domain itself and answers whose dependencies were filled.
type work func(ctx context.Context) error

// Domain is one shard of a domain.
type Domain struct {
	addr Addr
	g    *graph.Graph
	mesh *Mesh
	cfg  *base.EngineConfig

	// nodes lists the domain's nodes in topological order.
	nodes    []graph.NodeID
	bases    map[graph.NodeID]*state.BaseStore
	stores   map[graph.NodeID]*state.Store
	aggs     map[graph.NodeID]map[row.Key]*ops.AggState
	surfaces map[graph.NodeID]*reader.Surface

	metrics     *metric.DomainMetrics
	nodeMetrics map[graph.NodeID]*metric.NodeMetrics

	in    chan Packet
	ctl   *controlQueue
	local ring.Buffer[work]

	inflight *replay.Table
	conts    *replay.Continuations

	// seq numbers the batches applied to stores.
	seq uint64
	// sent and recv hold the last sequence number per outgoing and
	// incoming link.
	sent    map[Addr]uint64
	recv    map[Addr]uint64
	touched map[graph.NodeID]struct{}

	mu struct {
		syncutil.Mutex
		err error
	}
}

func newDomain(
	ctx context.Context, m *Mesh, addr Addr, eng storage.Engine, reg *metric.Registry,
) (*Domain, error) {
	d := &Domain{
		addr:        addr,
		g:           m.g,
		mesh:        m,
		cfg:         &m.cfg,
		nodes:       m.g.DomainNodes(addr.Domain),
		bases:       map[graph.NodeID]*state.BaseStore{},
		stores:      map[graph.NodeID]*state.Store{},
		aggs:        map[graph.NodeID]map[row.Key]*ops.AggState{},
		surfaces:    map[graph.NodeID]*reader.Surface{},
		metrics:     reg.Domain(int(addr.Domain), addr.Shard),
		nodeMetrics: map[graph.NodeID]*metric.NodeMetrics{},
		in:          make(chan Packet, m.cfg.ChannelCapacity),
		ctl:         newControlQueue(),
		inflight:    replay.NewTable(),
		conts:       replay.NewContinuations(),
		sent:        map[Addr]uint64{},
		recv:        map[Addr]uint64{},
		touched:     map[graph.NodeID]struct{}{},
	}
	d.metrics.SetHalted(false)
	for _, id := range d.nodes {
		n := d.g.Node(id)
		d.nodeMetrics[id] = d.metrics.Node(int(id), n.Name)
		switch {
		case n.Kind() == ops.KindBase:
			table := uint64(id)<<16 | uint64(addr.Shard)
			pk := n.Op.(*ops.Base).PrimaryKey
			b, err := state.OpenBaseStore(ctx, eng, table, len(n.Columns), n.Indices, pk)
			if err != nil {
				return nil, errors.Wrapf(err, "opening base table %s", n.Name)
			}
			d.bases[id] = b
			d.touch(id)
		case n.Materialized != graph.NotMaterialized:
			d.stores[id] = state.NewStore(n.Indices, n.Materialized == graph.Partial)
		}
		if n.Kind() == ops.KindAggregate {
			d.aggs[id] = map[row.Key]*ops.AggState{}
		}
		if n.Kind() == ops.KindReader {
			d.surfaces[id] = reader.NewSurface(n.Materialized == graph.Partial)
		}
	}
	d.flushMetrics()
	return d, nil
}

// Addr returns the address of the domain shard.
func (d *Domain) Addr() Addr { return d.addr }

// Err returns the error the domain halted with, or nil.
func (d *Domain) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mu.err
}

// run is the domain's processing loop. It returns when quiesce is closed.
func (d *Domain) run(ctx context.Context, quiesce <-chan struct{}) {
	for _, s := range d.surfaces {
		s.Claim()
	}
	defer func() {
		for _, s := range d.surfaces {
			s.Fail(stop.ErrUnavailable)
			s.Release()
		}
	}()
	log.VEventf(ctx, 1, "domain running %d nodes", len(d.nodes))
	for {
		select {
		case <-quiesce:
			return
		case p := <-d.in:
			d.check(ctx, d.handlePacket(ctx, p))
		case <-d.ctl.notify:
			for _, c := range d.ctl.drain() {
				d.handleControl(ctx, c)
			}
		}
		d.drainLocal(ctx)
		d.flushMetrics()
		d.publish()
	}
}

// check halts the domain on err. Errors caused by shutdown are ignored.
func (d *Domain) check(ctx context.Context, err error) {
	if err == nil || errors.Is(err, stop.ErrUnavailable) || errors.Is(err, context.Canceled) {
		return
	}
	d.halt(ctx, err)
}

func (d *Domain) drainLocal(ctx context.Context) {
	for {
		w, ok := d.local.PopFront()
		if !ok {
			return
		}
		if d.Err() != nil {
			continue
		}
		d.check(ctx, w(ctx))
	}
}

// halt stops all processing after an invariant violation or a backend
// error. The domain keeps draining its input so that upstream domains do
// not block, and every later operation against it returns err.
func (d *Domain) halt(ctx context.Context, err error) {
	d.mu.Lock()
	if d.mu.err != nil {
		d.mu.Unlock()
		return
	}
	d.mu.err = err
	d.mu.Unlock()

	log.Errorf(ctx, "domain halted: %+v", err)
	d.metrics.SetHalted(true)
	for _, s := range d.surfaces {
		s.Fail(err)
	}
	for _, e := range d.inflight.Entries() {
		d.inflight.Remove(e, err)
	}
}

func (d *Domain) handlePacket(ctx context.Context, p Packet) error {
	if p.Sync != nil {
		p.Sync <- SyncResult{Pending: d.pending(), Err: d.Err()}
		return nil
	}
	if d.Err() != nil {
		return nil
	}
	if p.Link != clientLink {
		if p.Seq <= d.recv[p.Link] {
			log.VEventf(ctx, 1, "dropping duplicate packet %d from %s", p.Seq, p.Link)
			return nil
		}
		d.recv[p.Link] = p.Seq
	}
	if log.V(3) {
		log.VEventf(ctx, 3, "packet from %s: %s", p.Link, &p)
	}
	switch {
	case p.Piece != nil:
		path := d.g.Path(p.Piece.Tag)
		return d.forwardPiece(ctx, path, path.HopIndex(p.To), p.Lane, p.Records.Rows(), *p.Piece)
	case p.Evict != nil:
		return d.evictAt(ctx, d.g.Node(p.To), p.Evict)
	}
	return d.process(ctx, p.To, 0, p.Lane, p.Records)
}

func (d *Domain) handleControl(ctx context.Context, c control) {
	if err := d.Err(); err != nil {
		if c.done != nil {
			c.done <- controlResult{err: err}
		}
		return
	}
	var res controlResult
	switch c.kind {
	case ctlReplay:
		res.err = d.answer(ctx, c.req)
	case ctlReadMiss:
		res.err = d.readMiss(ctx, c.node, c.key)
	case ctlEvictBytes:
		res.freed, res.err = d.evictBytes(ctx, c.node, c.bytes, c.policy)
	case ctlEvictKey:
		res.freed, res.err = d.evictKey(ctx, d.g.Node(c.node), c.key)
	case ctlBoot:
		if res.err = d.boot(ctx, c.node, c.done); res.err == nil {
			// The boot reports once its fill completes.
			return
		}
	default:
		res.err = errors.AssertionFailedf("unknown control message %d", c.kind)
	}
	d.check(ctx, res.err)
	if c.done != nil {
		c.done <- res
	}
}

// pending returns the amount of outstanding work.
func (d *Domain) pending() int {
	return d.inflight.Len() + d.conts.Len() + d.ctl.len() + d.local.Len()
}

// readMiss starts the fill of a reader key a client is waiting for.
func (d *Domain) readMiss(ctx context.Context, id graph.NodeID, key row.Key) error {
	if d.stores[id].Filled(key) {
		// Filled since the read; the waiters are woken by the next publish.
		return nil
	}
	return d.fill(ctx, replay.Target{Node: id, Key: key})
}

// send sends a packet to another domain shard, blocking while its input
// channel is full.
func (d *Domain) send(ctx context.Context, to Addr, p Packet) error {
	d.sent[to]++
	p.Link, p.Seq = d.addr, d.sent[to]
	return d.mesh.send(ctx, to, p)
}

func (d *Domain) touch(id graph.NodeID) {
	d.touched[id] = struct{}{}
}

// flushMetrics records the state size of the nodes changed since the last
// call.
func (d *Domain) flushMetrics() {
	for id := range d.touched {
		var bytes, keys int64
		if b, ok := d.bases[id]; ok {
			bytes, keys = b.Size()
		} else if st, ok := d.stores[id]; ok {
			bytes, keys = st.Size()
		}
		d.nodeMetrics[id].SetStateSize(bytes, keys)
		delete(d.touched, id)
	}
}

func (d *Domain) publish() {
	for _, s := range d.surfaces {
		if s.Dirty() {
			s.Publish()
		}
	}
}

// timed runs fn and adds its duration to the processing time of node id.
func (d *Domain) timed(id graph.NodeID, fn func()) {
	start := time.Now()
	fn()
	d.nodeMetrics[id].RecordProcessing(time.Since(start))
}
