// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

/*
Package metric provides per-node engine metrics.

Metrics are kept twice: as atomics readable in-process through
Registry.Snapshot (used by the eviction manager and by placement tooling),
and as Prometheus collectors exposed through Registry.Gatherer.

Each domain receives its own *DomainMetrics and passes it explicitly
through its execution loop:

	dm := registry.Domain(domainID, shard)
	nm := dm.Node(nodeID, "orders_by_user")
	start := time.Now()
	// process a packet at the node
	nm.RecordProcessing(time.Since(start))
	nm.SetStateSize(bytes, keys)

Nodes hosted by several shards report one series per shard; the snapshot
aggregates them per node.
*/
package metric
