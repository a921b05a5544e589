// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package server assembles an engine from a graph and a configuration and
// exposes the client surface: writes into base tables, reads from readers
// and the flush barrier.
package server

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/viewflow/pkg/base"
	"github.com/cockroachdb/viewflow/pkg/domain"
	"github.com/cockroachdb/viewflow/pkg/eviction"
	"github.com/cockroachdb/viewflow/pkg/graph"
	"github.com/cockroachdb/viewflow/pkg/ops"
	"github.com/cockroachdb/viewflow/pkg/row"
	"github.com/cockroachdb/viewflow/pkg/storage"
	"github.com/cockroachdb/viewflow/pkg/util/log"
	"github.com/cockroachdb/viewflow/pkg/util/metric"
	"github.com/cockroachdb/viewflow/pkg/util/stop"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// ErrBackpressure is returned by writes while the partial state is above
// its hard memory limit. The write was not accepted and may be retried.
var ErrBackpressure = errors.New("partial state above hard memory limit")

// Engine runs a dataflow graph.
type Engine struct {
	cfg     base.EngineConfig
	g       *graph.Graph
	reg     *metric.Registry
	mesh    *domain.Mesh
	evict   *eviction.Manager
	stopper *stop.Stopper

	// limiter paces writes; nil if unlimited.
	limiter *rate.Limiter
	// reads bounds the reads blocked on a fill.
	reads *semaphore.Weighted
}

// NewEngine creates an engine for g. The storage named by cfg.Store is
// opened, and closed when the engine stops.
func NewEngine(ctx context.Context, g *graph.Graph, cfg base.EngineConfig) (*Engine, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	eng, err := openStorage(cfg.Store)
	if err != nil {
		return nil, err
	}
	e, err := newEngine(ctx, g, eng, cfg)
	if err != nil {
		if closeErr := eng.Close(); closeErr != nil {
			log.Warningf(ctx, "closing storage: %v", closeErr)
		}
		return nil, err
	}
	return e, nil
}

func openStorage(store string) (storage.Engine, error) {
	if store == "mem" {
		return storage.NewMemEngine(), nil
	}
	return storage.OpenPebble(store)
}

func newEngine(
	ctx context.Context, g *graph.Graph, eng storage.Engine, cfg base.EngineConfig,
) (*Engine, error) {
	reg := metric.NewRegistry()
	mesh, err := domain.NewMesh(ctx, g, eng, cfg, reg)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:     cfg,
		g:       g,
		reg:     reg,
		mesh:    mesh,
		evict:   eviction.NewManager(cfg.Eviction, g, reg, mesh),
		stopper: stop.NewStopper(),
		reads:   semaphore.NewWeighted(int64(cfg.MaxBlockedReads)),
	}
	if cfg.WriteRate > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(cfg.WriteRate), cfg.WriteBurst)
	}
	e.stopper.AddCloser(stop.CloserFn(func() {
		if err := eng.Close(); err != nil {
			log.Warningf(ctx, "closing storage: %v", err)
		}
	}))
	return e, nil
}

// Start runs the domains, builds the fully materialized state from the
// stored base tables and starts the eviction manager. Writes must not be
// issued before Start returns.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.mesh.Start(ctx, e.stopper); err != nil {
		return err
	}
	if err := e.mesh.Boot(ctx); err != nil {
		return errors.Wrap(err, "building full state")
	}
	if err := e.evict.Start(ctx, e.stopper); err != nil {
		return err
	}
	log.Infof(ctx, "engine started: %d nodes in %d domains, store %s",
		e.g.Len(), len(e.g.Domains()), e.cfg.Store)
	return nil
}

// Stop stops every domain and closes the storage. Blocked reads and
// writes return stop.ErrUnavailable.
func (e *Engine) Stop(ctx context.Context) {
	e.stopper.Stop(ctx)
}

// Graph returns the graph run by the engine.
func (e *Engine) Graph() *graph.Graph { return e.g }

// Registry returns the metrics registry of the engine.
func (e *Engine) Registry() *metric.Registry { return e.reg }

func (e *Engine) lookup(name string, kind ops.Kind) (*graph.Node, error) {
	n, ok := e.g.Lookup(name)
	if !ok {
		return nil, errors.Newf("no %s named %q", kind, name)
	}
	if n.Kind() != kind {
		return nil, errors.Newf("%s is a %s, not a %s", name, n.Kind(), kind)
	}
	return n, nil
}

// Write sends records to a base table. It returns once they are accepted
// into the table's ordered input; use Flush to wait for their effects.
func (e *Engine) Write(ctx context.Context, table string, rs row.Records) error {
	n, err := e.lookup(table, ops.KindBase)
	if err != nil {
		return err
	}
	if e.evict.Overloaded() {
		e.evict.Kick()
		return errors.Wrapf(ErrBackpressure, "writing to %s", table)
	}
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	return e.mesh.Write(ctx, n, rs)
}

// Read returns the rows of a reader under key. A key that is not
// materialized is filled first; the call blocks until the fill is
// published or ctx is done.
func (e *Engine) Read(ctx context.Context, view string, key row.Key) ([]row.Row, error) {
	n, err := e.lookup(view, ops.KindReader)
	if err != nil {
		return nil, err
	}
	if datums, err := key.Datums(); err != nil || len(datums) != len(n.Key) {
		return nil, errors.Newf("key %s does not match the %d key columns of %s", key, len(n.Key), view)
	}
	s, addr, err := e.mesh.Surface(n, key)
	if err != nil {
		return nil, err
	}
	if rows, ok := s.Get(key); ok || !s.Partial() {
		return rows, nil
	}
	if err := e.reads.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer e.reads.Release(1)
	return s.Wait(ctx, key, func() { e.mesh.ReadMiss(addr, n, key) })
}

// Flush waits until every write accepted before the call is reflected in
// every materialized view and no fill is outstanding.
func (e *Engine) Flush(ctx context.Context) error {
	return e.mesh.Flush(ctx)
}

// EvictKey evicts key from an evictable node and the partial state below
// it. It returns the bytes freed at the node.
func (e *Engine) EvictKey(ctx context.Context, node string, key row.Key) (int64, error) {
	n, ok := e.g.Lookup(node)
	if !ok {
		return 0, errors.Newf("unknown node %q", node)
	}
	return e.mesh.EvictKey(ctx, n.ID, key)
}

// Evict runs an eviction round now.
func (e *Engine) Evict(ctx context.Context) (eviction.Round, error) {
	return e.evict.Tick(ctx)
}

// Overloaded returns whether writes are currently rejected.
func (e *Engine) Overloaded() bool {
	return e.evict.Overloaded()
}

// Stats returns the metrics of every node.
func (e *Engine) Stats() []metric.NodeSnapshot {
	return e.reg.Snapshot()
}

// Err returns the error of the first halted domain, if any.
func (e *Engine) Err() error {
	return e.mesh.Err()
}
