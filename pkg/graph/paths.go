// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package graph

import (
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/viewflow/pkg/ops"
)

// computePaths computes the keyed replay paths of every partial node and
// the full paths of every fully materialized non-base node.
func (g *Graph) computePaths() error {
	for _, id := range g.topo {
		n := g.nodes[id]
		switch {
		case n.Materialized == Partial:
		case n.Materialized == Full && n.Kind() != ops.KindBase:
		default:
			continue
		}
		full := n.Materialized == Full
		var cols []int
		if !full {
			cols = n.Key
		}
		var hops [][]Hop
		if err := g.walk(n, cols, full, []Hop{{Node: n.ID, Cols: cols}}, &hops); err != nil {
			return errors.Wrapf(err, "replay paths of %s", n.Name)
		}
		for _, h := range hops {
			// Reverse so that the path runs from the source down.
			for i, j := 0, len(h)-1; i < j; i, j = i+1, j-1 {
				h[i], h[j] = h[j], h[i]
			}
			p := &ReplayPath{
				Tag:    len(g.paths),
				Target: n.ID,
				Source: h[0].Node,
				Hops:   h,
				Full:   full,
			}
			if err := g.checkPathSharding(p); err != nil {
				return errors.Wrapf(err, "replay paths of %s", n.Name)
			}
			g.paths = append(g.paths, p)
			n.Paths = append(n.Paths, p)
		}
	}
	return nil
}

// mapToParents maps key columns of n to each parent. A parent is a
// candidate only if every key column resolves into it.
func mapToParents(n *Node, cols []int) map[int][]int {
	out := map[int][]int{}
	if len(cols) == 0 {
		for i := range n.Parents {
			out[i] = nil
		}
		return out
	}
	counts := map[int]int{}
	for _, c := range cols {
		seen := map[int]bool{}
		for _, pc := range n.Op.Resolve(c) {
			if seen[pc.Parent] {
				continue
			}
			seen[pc.Parent] = true
			out[pc.Parent] = append(out[pc.Parent], pc.Column)
			counts[pc.Parent]++
		}
	}
	for p, k := range counts {
		if k != len(cols) {
			delete(out, p)
		}
	}
	return out
}

func (g *Graph) walk(n *Node, cols []int, full bool, trail []Hop, out *[][]Hop) error {
	mapped := mapToParents(n, cols)
	var follow []int
	switch n.Kind() {
	case ops.KindUnion:
		if len(mapped) != len(n.Parents) {
			return errors.Newf("key %v of %s does not resolve into every union parent", cols, n.Name)
		}
		for i := range n.Parents {
			follow = append(follow, i)
		}
	case ops.KindJoin:
		// Follow one side, preferring the side the first key column is
		// emitted from.
		side := -1
		if full {
			side = ops.Left
		} else {
			for _, pc := range n.Op.Resolve(cols[0]) {
				if _, ok := mapped[pc.Parent]; ok {
					side = pc.Parent
					break
				}
			}
		}
		if side < 0 {
			return errors.Newf("key %v of %s does not resolve through join", cols, n.Name)
		}
		follow = []int{side}
	default:
		if _, ok := mapped[0]; !ok || len(n.Parents) != 1 {
			return errors.Newf("key %v of %s does not resolve to a parent column", cols, n.Name)
		}
		follow = []int{0}
	}

	for _, i := range follow {
		p := g.nodes[n.Parents[i]]
		pcols := mapped[i]
		hops := append(trail[:len(trail):len(trail)], Hop{Node: p.ID, Cols: pcols})
		switch p.Materialized {
		case NotMaterialized:
			if err := g.walk(p, pcols, full, hops, out); err != nil {
				return err
			}
			continue
		case Partial:
			if !equalCols(p.Key, pcols) {
				return errors.Newf("partial ancestor %s is keyed on %v, not %v", p.Name, p.Key, pcols)
			}
		default:
			if !full {
				p.addIndex(pcols)
			}
		}
		*out = append(*out, hops)
	}
	return nil
}

// checkPathSharding validates that a replay can be routed through every
// sharded domain strictly between its source and target.
func (g *Graph) checkPathSharding(p *ReplayPath) error {
	src := g.nodes[p.Source].Domain
	dst := g.nodes[p.Target].Domain
	for _, h := range p.Hops {
		n := g.nodes[h.Node]
		if n.Domain == src || n.Domain == dst || !g.Domain(n.Domain).Sharded() {
			continue
		}
		if p.Full || !containsCol(h.Cols, n.ShardCol) {
			return errors.Newf("path through sharded domain %d must be keyed on its shard column", n.Domain)
		}
	}
	return nil
}

func containsCol(cols []int, c int) bool {
	if c < 0 {
		return false
	}
	for _, x := range cols {
		if x == c {
			return true
		}
	}
	return false
}

// keyAncestors returns the materialized nodes that n's key resolves into
// exactly, walking through unmaterialized nodes.
func (g *Graph) keyAncestors(n *Node) []*Node {
	var out []*Node
	var visit func(n *Node, cols []int)
	visit = func(n *Node, cols []int) {
		for i, pcols := range mapToParents(n, cols) {
			p := g.nodes[n.Parents[i]]
			if p.Materialized == NotMaterialized {
				visit(p, pcols)
				continue
			}
			if p.IndexOf(pcols) >= 0 {
				out = append(out, p)
			}
		}
	}
	visit(n, n.Key)
	return out
}

// computeEvictability marks a partial node evictable if every partial
// descendant is keyed, possibly through other partial nodes, on the same
// values. Evicting a key can then be propagated to the descendants by key.
func (g *Graph) computeEvictability() error {
	lineage := make(map[NodeID]map[NodeID]bool)
	for _, id := range g.topo {
		n := g.nodes[id]
		if n.Materialized != Partial {
			continue
		}
		set := map[NodeID]bool{}
		for _, a := range g.keyAncestors(n) {
			set[a.ID] = true
			for anc := range lineage[a.ID] {
				set[anc] = true
			}
		}
		lineage[id] = set
	}
	for _, id := range g.topo {
		n := g.nodes[id]
		if n.Materialized != Partial {
			continue
		}
		n.Evictable = true
		g.forDescendants(n, func(d *Node) {
			if d.Materialized == Partial && !lineage[d.ID][n.ID] {
				n.Evictable = false
			}
		})
	}
	return nil
}

func (g *Graph) forDescendants(n *Node, fn func(*Node)) {
	seen := map[NodeID]bool{}
	var visit func(n *Node)
	visit = func(n *Node) {
		for _, c := range n.Children {
			if seen[c] {
				continue
			}
			seen[c] = true
			fn(g.nodes[c])
			visit(g.nodes[c])
		}
	}
	visit(n)
}
