// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package graph

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/redact"
	"github.com/cockroachdb/viewflow/pkg/ops"
)

// NodeID identifies a node. It is the node's index in the graph arena.
type NodeID int

// SafeValue implements redact.SafeValue.
func (NodeID) SafeValue() {}

// DomainID identifies a domain.
type DomainID int

// SafeValue implements redact.SafeValue.
func (DomainID) SafeValue() {}

var _ redact.SafeValue = NodeID(0)

// Materialization describes whether and how a node keeps state.
type Materialization int

// Materialization modes.
const (
	NotMaterialized Materialization = iota
	// Full nodes hold every row and never contain Holes.
	Full
	// Partial nodes hold rows only for keys that were replayed into them.
	Partial
)

// String implements fmt.Stringer.
func (m Materialization) String() string {
	switch m {
	case Full:
		return "full"
	case Partial:
		return "partial"
	}
	return "none"
}

// ParseMaterialization parses the textual form of a Materialization.
func ParseMaterialization(s string) (Materialization, error) {
	switch s {
	case "", "none":
		return NotMaterialized, nil
	case "full":
		return Full, nil
	case "partial":
		return Partial, nil
	}
	return 0, errors.Newf("unknown materialization %q", s)
}

// Node is an operator instance in the graph. Nodes refer to each other by
// id only.
type Node struct {
	ID       NodeID
	Name     string
	Op       ops.Operator
	Parents  []NodeID
	Children []NodeID
	Columns  []string
	Domain   DomainID

	Materialized Materialization
	// Key is the lookup key of a partial node, reader, aggregate or top-k.
	Key []int
	// Indices lists the column sets the node's state is looked up by. If
	// Key is set it is Indices[0].
	Indices [][]int
	// ShardCol is the output column carrying the domain's shard key, or -1.
	ShardCol int

	// Paths are the replay paths ending at this node. Partial nodes have
	// keyed paths; fully materialized non-base nodes have full paths used
	// to build their state at boot.
	Paths []*ReplayPath
	// Evictable is set on partial nodes whose every partial descendant is
	// keyed on the same values, so that evictions can be propagated.
	Evictable bool
}

// Kind returns the operator kind of the node.
func (n *Node) Kind() ops.Kind { return n.Op.Kind() }

// IndexOf returns the position of the index on cols, or -1.
func (n *Node) IndexOf(cols []int) int {
	for i, idx := range n.Indices {
		if equalCols(idx, cols) {
			return i
		}
	}
	return -1
}

// ParentIndex returns the position of p among the node's parents, or -1.
func (n *Node) ParentIndex(p NodeID) int {
	for i, id := range n.Parents {
		if id == p {
			return i
		}
	}
	return -1
}

func (n *Node) addIndex(cols []int) int {
	if i := n.IndexOf(cols); i >= 0 {
		return i
	}
	n.Indices = append(n.Indices, append([]int(nil), cols...))
	return len(n.Indices) - 1
}

func (n *Node) removeChild(c NodeID) {
	for i, id := range n.Children {
		if id == c {
			n.Children = append(n.Children[:i:i], n.Children[i+1:]...)
			return
		}
	}
}

// String implements fmt.Stringer.
func (n *Node) String() string {
	return fmt.Sprintf("n%d(%s)", n.ID, n.Name)
}

// Domain is a unit of execution: a connected set of nodes processed by one
// goroutine per shard.
type Domain struct {
	ID     DomainID
	Shards int
	// ShardBy names the column that base and ingress nodes of a sharded
	// domain route rows by.
	ShardBy string
}

// Sharded returns whether the domain has more than one shard.
func (d *Domain) Sharded() bool { return d.Shards > 1 }

// Hop is one node of a replay path and the key columns at that node.
type Hop struct {
	Node NodeID
	Cols []int
}

// ReplayPath is the route a replay takes from the node that answers it
// (Hops[0]) down to the node being filled (the last hop).
type ReplayPath struct {
	Tag    int
	Target NodeID
	Source NodeID
	Hops   []Hop
	// Full paths carry every row of the source and have no key.
	Full bool
}

// HopIndex returns the position of node on the path, or -1.
func (p *ReplayPath) HopIndex(node NodeID) int {
	for i, h := range p.Hops {
		if h.Node == node {
			return i
		}
	}
	return -1
}

func equalCols(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
