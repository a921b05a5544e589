// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package graph holds the dataflow graph: an arena of operator nodes
// indexed by id, their placement into domains, and the replay paths and
// eviction lineage derived from the topology when the graph is built.
package graph

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/viewflow/pkg/ops"
)

// Graph is a built, validated dataflow graph. It is immutable.
type Graph struct {
	nodes    []*Node
	names    map[string]NodeID
	domains  []*Domain
	topo     []NodeID
	position []int
	order    []DomainID
	paths    []*ReplayPath
}

// Node returns the node with the given id.
func (g *Graph) Node(id NodeID) *Node { return g.nodes[id] }

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.nodes) }

// Lookup returns the node with the given name.
func (g *Graph) Lookup(name string) (*Node, bool) {
	id, ok := g.names[name]
	if !ok {
		return nil, false
	}
	return g.nodes[id], true
}

// Topo returns all node ids in topological order.
func (g *Graph) Topo() []NodeID { return g.topo }

// Before reports whether a precedes b in topological order.
func (g *Graph) Before(a, b NodeID) bool { return g.position[a] < g.position[b] }

// Domains returns the domains ordered by id.
func (g *Graph) Domains() []*Domain { return g.domains }

// Domain returns the domain with the given id.
func (g *Graph) Domain(id DomainID) *Domain {
	for _, d := range g.domains {
		if d.ID == id {
			return d
		}
	}
	return nil
}

// DomainOf returns the domain of a node.
func (g *Graph) DomainOf(id NodeID) *Domain { return g.Domain(g.nodes[id].Domain) }

// DomainNodes returns the nodes of a domain in topological order.
func (g *Graph) DomainNodes(d DomainID) []NodeID {
	var out []NodeID
	for _, id := range g.topo {
		if g.nodes[id].Domain == d {
			out = append(out, id)
		}
	}
	return out
}

// DomainOrder returns the domain ids ordered so that every domain comes
// after the domains feeding it.
func (g *Graph) DomainOrder() []DomainID { return g.order }

// Path returns the replay path with the given tag.
func (g *Graph) Path(tag int) *ReplayPath { return g.paths[tag] }

// Paths returns every replay path.
func (g *Graph) Paths() []*ReplayPath { return g.paths }

// Readers returns the reader nodes.
func (g *Graph) Readers() []*Node {
	var out []*Node
	for _, id := range g.topo {
		if n := g.nodes[id]; n.Kind() == ops.KindReader {
			out = append(out, n)
		}
	}
	return out
}

// String renders the graph, one node per line followed by its paths.
func (g *Graph) String() string {
	var b strings.Builder
	for _, id := range g.topo {
		n := g.nodes[id]
		fmt.Fprintf(&b, "%s d%d %s %s cols=%v", n, n.Domain, n.Op.Describe(), n.Materialized, n.Columns)
		if len(n.Parents) > 0 {
			fmt.Fprintf(&b, " parents=%v", n.Parents)
		}
		if len(n.Indices) > 0 {
			fmt.Fprintf(&b, " indices=%v", n.Indices)
		}
		if n.ShardCol >= 0 {
			fmt.Fprintf(&b, " shard=%d", n.ShardCol)
		}
		if n.Evictable {
			b.WriteString(" evictable")
		}
		b.WriteByte('\n')
		for _, p := range n.Paths {
			fmt.Fprintf(&b, "  path %d:", p.Tag)
			if p.Full {
				b.WriteString(" full")
			}
			for _, h := range p.Hops {
				fmt.Fprintf(&b, " n%d%v", h.Node, h.Cols)
			}
			b.WriteByte('\n')
		}
	}
	return b.String()
}
