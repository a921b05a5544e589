// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package metric

import (
	"sort"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/viewflow/pkg/util/syncutil"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "viewflow"

var nodeLabels = []string{"domain", "shard", "node"}

// Registry holds the metrics of every domain of an engine.
type Registry struct {
	reg *prometheus.Registry

	processing *prometheus.CounterVec
	packets    *prometheus.CounterVec
	stateBytes *prometheus.GaugeVec
	stateKeys  *prometheus.GaugeVec
	replays    *prometheus.CounterVec
	evicted    *prometheus.CounterVec
	halted     *prometheus.GaugeVec

	mu struct {
		syncutil.Mutex
		domains []*DomainMetrics
	}
}

// NewRegistry creates a registry with its own Prometheus registry.
func NewRegistry() *Registry {
	r := &Registry{reg: prometheus.NewRegistry()}
	r.processing = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "node_processing_seconds_total",
		Help: "Cumulative time spent processing packets at a node.",
	}, nodeLabels)
	r.packets = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "node_packets_total",
		Help: "Number of record batches processed at a node.",
	}, nodeLabels)
	r.stateBytes = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Name: "node_state_bytes",
		Help: "Approximate size of a node's materialized state.",
	}, nodeLabels)
	r.stateKeys = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Name: "node_state_keys",
		Help: "Number of filled keys in a node's materialized state.",
	}, nodeLabels)
	r.replays = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "node_replays_total",
		Help: "Replay activity at a node, by outcome.",
	}, append(nodeLabels, "outcome"))
	r.evicted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "node_evicted_keys_total",
		Help: "Number of keys evicted from a node's partial state.",
	}, nodeLabels)
	r.halted = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Name: "domain_halted",
		Help: "Set to 1 when a domain stopped after a fatal error.",
	}, []string{"domain", "shard"})
	r.reg.MustRegister(r.processing, r.packets, r.stateBytes, r.stateKeys,
		r.replays, r.evicted, r.halted)
	return r
}

// Gatherer returns the Prometheus gatherer for the registry.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// Domain returns the metrics context of a domain shard.
func (r *Registry) Domain(domain, shard int) *DomainMetrics {
	dm := &DomainMetrics{
		r:        r,
		domainID: domain,
		shardID:  shard,
		domain:   strconv.Itoa(domain),
		shard:    strconv.Itoa(shard),
		nodes:    map[int]*NodeMetrics{},
	}
	dm.halted = r.halted.WithLabelValues(dm.domain, dm.shard)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mu.domains = append(r.mu.domains, dm)
	return dm
}

// ReplayOutcome labels replay counters.
type ReplayOutcome int

// Replay outcomes.
const (
	ReplayIssued ReplayOutcome = iota
	ReplayCoalesced
	ReplayCompleted
	ReplayDiscarded
	ReplayAnswered
	numReplayOutcomes
)

var replayOutcomeNames = [...]string{"issued", "coalesced", "completed", "discarded", "answered"}

// String implements fmt.Stringer.
func (o ReplayOutcome) String() string {
	return replayOutcomeNames[o]
}

// DomainMetrics is the metrics context of one domain shard. It is owned by
// the domain goroutine, except for the atomics which may be read anywhere.
type DomainMetrics struct {
	r             *Registry
	domainID      int
	shardID       int
	domain, shard string
	halted        prometheus.Gauge

	mu    syncutil.Mutex
	nodes map[int]*NodeMetrics
}

// Node returns the metrics of a node hosted by the domain, creating them
// on first use.
func (dm *DomainMetrics) Node(id int, name string) *NodeMetrics {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if nm, ok := dm.nodes[id]; ok {
		return nm
	}
	labels := []string{dm.domain, dm.shard, name}
	nm := &NodeMetrics{
		ID:         id,
		Name:       name,
		processing: dm.r.processing.WithLabelValues(labels...),
		packets:    dm.r.packets.WithLabelValues(labels...),
		stateBytes: dm.r.stateBytes.WithLabelValues(labels...),
		stateKeys:  dm.r.stateKeys.WithLabelValues(labels...),
		evicted:    dm.r.evicted.WithLabelValues(labels...),
	}
	for o := ReplayOutcome(0); o < numReplayOutcomes; o++ {
		nm.replayCounters[o] = dm.r.replays.WithLabelValues(append(labels, o.String())...)
	}
	dm.nodes[id] = nm
	return nm
}

// SetHalted records whether the domain stopped after a fatal error.
func (dm *DomainMetrics) SetHalted(halted bool) {
	if halted {
		dm.halted.Set(1)
	} else {
		dm.halted.Set(0)
	}
}

// NodeMetrics are the metrics of one node in one domain shard.
type NodeMetrics struct {
	ID   int
	Name string

	processingNanos atomic.Int64
	packetCount     atomic.Int64
	bytes           atomic.Int64
	keys            atomic.Int64
	evictedKeys     atomic.Int64
	replayCounts    [numReplayOutcomes]atomic.Int64

	processing     prometheus.Counter
	packets        prometheus.Counter
	stateBytes     prometheus.Gauge
	stateKeys      prometheus.Gauge
	evicted        prometheus.Counter
	replayCounters [numReplayOutcomes]prometheus.Counter
}

// RecordProcessing adds d to the node's cumulative processing time.
func (nm *NodeMetrics) RecordProcessing(d time.Duration) {
	nm.processingNanos.Add(int64(d))
	nm.packetCount.Add(1)
	nm.processing.Add(d.Seconds())
	nm.packets.Inc()
}

// SetStateSize records the current size of the node's state.
func (nm *NodeMetrics) SetStateSize(bytes, keys int64) {
	nm.bytes.Store(bytes)
	nm.keys.Store(keys)
	nm.stateBytes.Set(float64(bytes))
	nm.stateKeys.Set(float64(keys))
}

// StateBytes returns the last recorded state size.
func (nm *NodeMetrics) StateBytes() int64 {
	return nm.bytes.Load()
}

// IncReplay increments the replay counter for the outcome.
func (nm *NodeMetrics) IncReplay(o ReplayOutcome) {
	nm.replayCounts[o].Add(1)
	nm.replayCounters[o].Inc()
}

// Replays returns the replay counter for the outcome.
func (nm *NodeMetrics) Replays(o ReplayOutcome) int64 {
	return nm.replayCounts[o].Load()
}

// IncEvicted adds n to the evicted keys counter.
func (nm *NodeMetrics) IncEvicted(n int) {
	nm.evictedKeys.Add(int64(n))
	nm.evicted.Add(float64(n))
}

// NodeSnapshot is a point-in-time copy of a node's metrics, summed over the
// shards hosting it.
type NodeSnapshot struct {
	ID          int
	Name        string
	Processing  time.Duration
	Packets     int64
	StateBytes  int64
	StateKeys   int64
	EvictedKeys int64
	Replays     [numReplayOutcomes]int64
}

// Snapshot returns the metrics of every node, ordered by node id.
func (r *Registry) Snapshot() []NodeSnapshot {
	r.mu.Lock()
	domains := append([]*DomainMetrics(nil), r.mu.domains...)
	r.mu.Unlock()

	byID := map[int]*NodeSnapshot{}
	for _, dm := range domains {
		dm.mu.Lock()
		for id, nm := range dm.nodes {
			s, ok := byID[id]
			if !ok {
				s = &NodeSnapshot{ID: id, Name: nm.Name}
				byID[id] = s
			}
			s.Processing += time.Duration(nm.processingNanos.Load())
			s.Packets += nm.packetCount.Load()
			s.StateBytes += nm.bytes.Load()
			s.StateKeys += nm.keys.Load()
			s.EvictedKeys += nm.evictedKeys.Load()
			for o := range s.Replays {
				s.Replays[o] += nm.replayCounts[o].Load()
			}
		}
		dm.mu.Unlock()
	}
	out := make([]NodeSnapshot, 0, len(byID))
	for _, s := range byID {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ShardSize is the state size of a node in one domain shard.
type ShardSize struct {
	Domain, Shard int
	Node          int
	Bytes, Keys   int64
}

// ShardSizes returns the last recorded state size of every node in every
// domain shard.
func (r *Registry) ShardSizes() []ShardSize {
	r.mu.Lock()
	domains := append([]*DomainMetrics(nil), r.mu.domains...)
	r.mu.Unlock()

	var out []ShardSize
	for _, dm := range domains {
		dm.mu.Lock()
		for id, nm := range dm.nodes {
			out = append(out, ShardSize{
				Domain: dm.domainID,
				Shard:  dm.shardID,
				Node:   id,
				Bytes:  nm.bytes.Load(),
				Keys:   nm.keys.Load(),
			})
		}
		dm.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Node != out[j].Node {
			return out[i].Node < out[j].Node
		}
		return out[i].Shard < out[j].Shard
	})
	return out
}
