// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package eviction keeps the partial state of an engine within its memory
// budget. The manager periodically reads the state size of every node from
// the metrics registry and asks the owning domain shards to evict keys of
// the nodes over budget.
package eviction

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/viewflow/pkg/base"
	"github.com/cockroachdb/viewflow/pkg/domain"
	"github.com/cockroachdb/viewflow/pkg/graph"
	"github.com/cockroachdb/viewflow/pkg/util/humanizeutil"
	"github.com/cockroachdb/viewflow/pkg/util/log"
	"github.com/cockroachdb/viewflow/pkg/util/metric"
	"github.com/cockroachdb/viewflow/pkg/util/stop"
	"github.com/cockroachdb/viewflow/pkg/util/syncutil"
)

const (
	// growth is the factor by which a round's share of the excess grows
	// while usage stays above budget.
	growth = 1.5
	// maxAggressiveness bounds that growth.
	maxAggressiveness = 4.0
)

// Evictor evicts partial state from a domain shard. It is implemented by
// domain.Mesh.
type Evictor interface {
	EvictBytes(ctx context.Context, a domain.Addr, node graph.NodeID, bytes int64) (int64, error)
}

// Request is an eviction asked of one node in one domain shard.
type Request struct {
	Addr  domain.Addr
	Node  graph.NodeID
	Bytes int64
}

// Round summarizes one budget check.
type Round struct {
	// Usage is the partial state size seen at the start of the round.
	Usage int64
	// Freed is the number of bytes the domains reported freed.
	Freed    int64
	Requests []Request
}

// Manager enforces the eviction budgets.
type Manager struct {
	cfg     base.EvictionConfig
	g       *graph.Graph
	reg     *metric.Registry
	evictor Evictor

	kick       chan struct{}
	overloaded atomic.Bool
	every      *log.EveryN

	mu struct {
		syncutil.Mutex
		aggressiveness float64
	}
}

// NewManager creates a manager for the partial state of g, whose sizes are
// recorded in reg.
func NewManager(cfg base.EvictionConfig, g *graph.Graph, reg *metric.Registry, ev Evictor) *Manager {
	m := &Manager{
		cfg:     cfg,
		g:       g,
		reg:     reg,
		evictor: ev,
		kick:    make(chan struct{}, 1),
		every:   log.Every(10 * time.Second),
	}
	m.mu.aggressiveness = 1
	return m
}

// Enabled returns whether any budget is set.
func (m *Manager) Enabled() bool {
	return m.cfg.Budget > 0 || m.cfg.NodeBudget > 0
}

// Overloaded returns whether the partial state exceeded the hard limit at
// the last check.
func (m *Manager) Overloaded() bool {
	return m.overloaded.Load()
}

// Kick requests a check ahead of the next tick.
func (m *Manager) Kick() {
	select {
	case m.kick <- struct{}{}:
	default:
	}
}

// Start runs the manager until stopper quiesces. It does nothing if no
// budget is set.
func (m *Manager) Start(ctx context.Context, stopper *stop.Stopper) error {
	if !m.Enabled() {
		return nil
	}
	return stopper.RunAsyncTask(ctx, "eviction-manager", func(ctx context.Context) {
		ticker := time.NewTicker(m.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
			case <-m.kick:
			case <-stopper.ShouldQuiesce():
				return
			}
			if _, err := m.Tick(ctx); err != nil && !errors.Is(err, stop.ErrUnavailable) {
				if m.every.ShouldLog() {
					log.Warningf(ctx, "eviction round failed: %v", err)
				}
			}
		}
	})
}

type candidate struct {
	metric.ShardSize
	shards int
}

// Tick runs one budget check and waits for the evictions it asks for.
func (m *Manager) Tick(ctx context.Context) (Round, error) {
	var r Round
	var candidates []candidate
	var evictable int64
	for _, s := range m.reg.ShardSizes() {
		n := m.g.Node(graph.NodeID(s.Node))
		if n.Materialized != graph.Partial {
			continue
		}
		r.Usage += s.Bytes
		if n.Evictable && s.Bytes > 0 {
			candidates = append(candidates, candidate{ShardSize: s, shards: m.g.Domain(n.Domain).Shards})
			evictable += s.Bytes
		}
	}

	budget := int64(m.cfg.Budget)
	over := budget > 0 && r.Usage > budget
	m.overloaded.Store(budget > 0 && float64(r.Usage) > float64(budget)*m.cfg.HardLimitFactor)

	m.mu.Lock()
	aggr := m.mu.aggressiveness
	if over {
		m.mu.aggressiveness = math.Min(aggr*growth, maxAggressiveness)
	} else {
		m.mu.aggressiveness = 1
	}
	m.mu.Unlock()

	excess := float64(r.Usage-budget) * aggr
	for _, c := range candidates {
		var want int64
		if nb := int64(m.cfg.NodeBudget); nb > 0 {
			if perShard := nb / int64(c.shards); c.Bytes > perShard {
				want = c.Bytes - perShard
			}
		}
		if over {
			share := int64(math.Ceil(excess * float64(c.Bytes) / float64(evictable)))
			if share > want {
				want = share
			}
		}
		if want <= 0 {
			continue
		}
		if want > c.Bytes {
			want = c.Bytes
		}
		r.Requests = append(r.Requests, Request{
			Addr:  domain.Addr{Domain: graph.DomainID(c.Domain), Shard: c.Shard},
			Node:  graph.NodeID(c.Node),
			Bytes: want,
		})
	}

	var err error
	for _, req := range r.Requests {
		freed, evErr := m.evictor.EvictBytes(ctx, req.Addr, req.Node, req.Bytes)
		r.Freed += freed
		err = errors.CombineErrors(err, evErr)
	}
	if len(r.Requests) > 0 {
		log.VEventf(ctx, 1, "partial state at %s of %s: freed %s from %d nodes",
			humanizeutil.IBytes(r.Usage), humanizeutil.IBytes(budget),
			humanizeutil.IBytes(r.Freed), len(r.Requests))
	}
	return r, err
}
