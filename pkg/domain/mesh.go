// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package domain

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/viewflow/pkg/base"
	"github.com/cockroachdb/viewflow/pkg/graph"
	"github.com/cockroachdb/viewflow/pkg/ops"
	"github.com/cockroachdb/viewflow/pkg/reader"
	"github.com/cockroachdb/viewflow/pkg/row"
	"github.com/cockroachdb/viewflow/pkg/state"
	"github.com/cockroachdb/viewflow/pkg/storage"
	"github.com/cockroachdb/viewflow/pkg/util/log"
	"github.com/cockroachdb/viewflow/pkg/util/metric"
	"github.com/cockroachdb/viewflow/pkg/util/retry"
	"github.com/cockroachdb/viewflow/pkg/util/stop"
	"golang.org/x/sync/errgroup"
)

// flushBackoff paces the rounds of a flush while fills are outstanding.
var flushBackoff = retry.Options{
	InitialBackoff: time.Millisecond,
	MaxBackoff:     50 * time.Millisecond,
	Multiplier:     2,
}

// Mesh holds every domain shard of a graph and routes messages between
// them.
type Mesh struct {
	g      *graph.Graph
	cfg    base.EngineConfig
	policy state.Policy
	shards map[graph.DomainID][]*Domain

	quiesce <-chan struct{}
}

// NewMesh creates the domain shards of g. Base tables are opened in eng.
// The domains do not run until Start.
func NewMesh(
	ctx context.Context,
	g *graph.Graph,
	eng storage.Engine,
	cfg base.EngineConfig,
	reg *metric.Registry,
) (*Mesh, error) {
	policy, err := state.ParsePolicy(cfg.Eviction.Policy)
	if err != nil {
		return nil, err
	}
	m := &Mesh{
		g:      g,
		cfg:    cfg,
		policy: policy,
		shards: map[graph.DomainID][]*Domain{},
	}
	for _, dom := range g.Domains() {
		for s := 0; s < dom.Shards; s++ {
			addr := Addr{Domain: dom.ID, Shard: s}
			d, err := newDomain(log.WithTag(ctx, "domain", addr), m, addr, eng, reg)
			if err != nil {
				return nil, errors.Wrapf(err, "domain %s", addr)
			}
			m.shards[dom.ID] = append(m.shards[dom.ID], d)
		}
	}
	return m, nil
}

// Graph returns the graph run by the mesh.
func (m *Mesh) Graph() *graph.Graph { return m.g }

// Shard returns a domain shard.
func (m *Mesh) Shard(a Addr) *Domain {
	return m.shards[a.Domain][a.Shard]
}

// Start runs every domain shard as a task of stopper.
func (m *Mesh) Start(ctx context.Context, stopper *stop.Stopper) error {
	m.quiesce = stopper.ShouldQuiesce()
	for _, id := range m.g.DomainOrder() {
		for _, d := range m.shards[id] {
			d := d
			taskCtx := log.WithTag(ctx, "domain", d.addr)
			if err := stopper.RunAsyncTask(taskCtx, fmt.Sprintf("domain-%s", d.addr), func(ctx context.Context) {
				d.run(ctx, m.quiesce)
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

// Boot builds the state of every fully materialized node that is not a
// base table, in topological order, from the rows already stored in the
// base tables. Writes must not be admitted before Boot returns.
func (m *Mesh) Boot(ctx context.Context) error {
	for _, id := range m.g.Topo() {
		n := m.g.Node(id)
		if n.Materialized != graph.Full || n.Kind() == ops.KindBase {
			continue
		}
		start := time.Now()
		shards := m.shards[n.Domain]
		g, ctx := errgroup.WithContext(ctx)
		for _, d := range shards {
			d := d
			g.Go(func() error {
				done := make(chan controlResult, 1)
				d.ctl.push(control{kind: ctlBoot, node: id, done: done})
				return m.await(ctx, done)
			})
		}
		if err := g.Wait(); err != nil {
			return errors.Wrapf(err, "building %s", n)
		}
		log.Infof(ctx, "built %s in %s", n, time.Since(start))
	}
	return nil
}

func (m *Mesh) await(ctx context.Context, done <-chan controlResult) error {
	select {
	case res := <-done:
		return res.err
	case <-ctx.Done():
		return ctx.Err()
	case <-m.quiesce:
		return stop.ErrUnavailable
	}
}

// send delivers a packet to a domain shard's input channel, blocking while
// the channel is full.
func (m *Mesh) send(ctx context.Context, to Addr, p Packet) error {
	d := m.Shard(to)
	select {
	case d.in <- p:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-m.quiesce:
		return stop.ErrUnavailable
	}
}

// control queues a control message for a domain shard. It never blocks.
func (m *Mesh) control(to Addr, c control) {
	m.Shard(to).ctl.push(c)
}

// Write sends client records to base table n, split by shard if its
// domain is sharded. It returns once the records are queued.
func (m *Mesh) Write(ctx context.Context, n *graph.Node, rs row.Records) error {
	base, ok := n.Op.(*ops.Base)
	if !ok {
		return errors.Newf("%s is not a base table", n.Name)
	}
	for _, r := range rs {
		if err := base.Check(r.Row); err != nil {
			return err
		}
	}
	dom := m.g.Domain(n.Domain)
	shards := m.shards[dom.ID]
	byShard := make([]row.Records, len(shards))
	for _, r := range rs {
		s := m.g.ShardOfRow(n, r.Row)
		byShard[s] = append(byShard[s], r)
	}
	for s, part := range byShard {
		if len(part) == 0 {
			continue
		}
		if err := shards[s].Err(); err != nil {
			return err
		}
		p := Packet{Link: clientLink, To: n.ID, Records: part}
		if err := m.send(ctx, Addr{Domain: dom.ID, Shard: s}, p); err != nil {
			return err
		}
	}
	return nil
}

// Surface returns the surface of reader n on the shard owning key.
func (m *Mesh) Surface(n *graph.Node, key row.Key) (*reader.Surface, Addr, error) {
	if n.Kind() != ops.KindReader {
		return nil, Addr{}, errors.Newf("%s is not a reader", n.Name)
	}
	s, ok := m.g.ShardOfKey(n, n.Key, key)
	if !ok {
		return nil, Addr{}, errors.AssertionFailedf("reader %s is not keyed on its shard column", n.Name)
	}
	a := Addr{Domain: n.Domain, Shard: s}
	return m.Shard(a).surfaces[n.ID], a, nil
}

// ReadMiss asks the shard owning a reader key to fill it.
func (m *Mesh) ReadMiss(a Addr, n *graph.Node, key row.Key) {
	m.control(a, control{kind: ctlReadMiss, node: n.ID, key: key})
}

func (m *Mesh) sync(ctx context.Context, d *Domain) (SyncResult, error) {
	ch := make(chan SyncResult, 1)
	if err := m.send(ctx, d.addr, Packet{Sync: ch}); err != nil {
		return SyncResult{}, err
	}
	select {
	case res := <-ch:
		return res, nil
	case <-ctx.Done():
		return SyncResult{}, ctx.Err()
	case <-m.quiesce:
		return SyncResult{}, stop.ErrUnavailable
	}
}

// Flush waits until every record written before the call has been
// processed by every domain and no fill is outstanding. Domains are
// synced in dataflow order, so a round in which no domain reports pending
// work leaves nothing in flight.
func (m *Mesh) Flush(ctx context.Context) error {
	for r := retry.StartWithCtx(ctx, flushBackoff); r.Next(); {
		pending := 0
		for _, id := range m.g.DomainOrder() {
			for _, d := range m.shards[id] {
				res, err := m.sync(ctx, d)
				if err != nil {
					return err
				}
				if res.Err != nil {
					return res.Err
				}
				pending += res.Pending
			}
		}
		if pending == 0 {
			return nil
		}
		if r.CurrentAttempt() > 0 && r.CurrentAttempt()%100 == 0 {
			log.Warningf(ctx, "flush still waiting on %d pending items", pending)
		}
	}
	return ctx.Err()
}

// EvictBytes asks a domain shard to evict about bytes from the partial
// state of node id. It returns the bytes freed.
func (m *Mesh) EvictBytes(ctx context.Context, a Addr, id graph.NodeID, bytes int64) (int64, error) {
	n := m.g.Node(id)
	if n.Materialized != graph.Partial || n.Domain != a.Domain {
		return 0, errors.Newf("%s has no partial state in domain %d", n.Name, a.Domain)
	}
	done := make(chan controlResult, 1)
	m.control(a, control{kind: ctlEvictBytes, node: id, bytes: bytes, policy: m.policy, done: done})
	select {
	case res := <-done:
		return res.freed, res.err
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-m.quiesce:
		return 0, stop.ErrUnavailable
	}
}

// EvictKey evicts one key of an evictable node from every shard holding
// it.
func (m *Mesh) EvictKey(ctx context.Context, id graph.NodeID, key row.Key) (int64, error) {
	n := m.g.Node(id)
	if !n.Evictable {
		return 0, errors.Newf("%s is not evictable", n.Name)
	}
	shards := m.shards[n.Domain]
	if s, ok := m.g.ShardOfKey(n, n.Key, key); ok {
		shards = shards[s : s+1]
	}
	var freed int64
	for _, d := range shards {
		done := make(chan controlResult, 1)
		d.ctl.push(control{kind: ctlEvictKey, node: id, key: key, done: done})
		select {
		case res := <-done:
			if res.err != nil {
				return freed, res.err
			}
			freed += res.freed
		case <-ctx.Done():
			return freed, ctx.Err()
		case <-m.quiesce:
			return freed, stop.ErrUnavailable
		}
	}
	return freed, nil
}

// Err returns the error of the first halted domain shard, if any.
func (m *Mesh) Err() error {
	for _, id := range m.g.DomainOrder() {
		for _, d := range m.shards[id] {
			if err := d.Err(); err != nil {
				return errors.Wrapf(err, "domain %s", d.addr)
			}
		}
	}
	return nil
}
