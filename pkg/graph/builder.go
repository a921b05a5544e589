// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package graph

import (
	"fmt"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/viewflow/pkg/ops"
	"github.com/cockroachdb/viewflow/pkg/row"
)

// Option configures a node added to a Builder.
type Option func(*Node)

// InDomain places the node in domain d. Nodes default to the domain of
// their first parent, and base tables to domain 0.
func InDomain(d DomainID) Option {
	return func(n *Node) { n.Domain = d }
}

// Materialize sets the node's materialization. Partial nodes other than
// readers, aggregates and top-k nodes need a key.
func Materialize(m Materialization, key ...int) Option {
	return func(n *Node) {
		n.Materialized = m
		if len(key) > 0 {
			n.Key = key
		}
	}
}

// Builder assembles a graph. It records the first error and reports it
// from Build.
type Builder struct {
	nodes   []*Node
	names   map[string]NodeID
	domains map[DomainID]*Domain
	domSet  map[DomainID]bool
	err     error
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{
		names:   map[string]NodeID{},
		domains: map[DomainID]*Domain{},
		domSet:  map[DomainID]bool{},
	}
}

// Domain declares a domain with the given number of shards. Sharded
// domains route rows arriving at their base and ingress nodes by the
// column named shardBy. Undeclared domains have one shard.
func (b *Builder) Domain(id DomainID, shards int, shardBy string) {
	if shards < 1 {
		b.fail(errors.Newf("domain %d: shard count must be positive", id))
		return
	}
	if shards > 1 && shardBy == "" {
		b.fail(errors.Newf("domain %d: sharded domains need a shard column", id))
		return
	}
	b.domains[id] = &Domain{ID: id, Shards: shards, ShardBy: shardBy}
}

func (b *Builder) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

// Base adds a base table.
func (b *Builder) Base(name string, cols []string, opts ...Option) NodeID {
	return b.Add(name, &ops.Base{Name: name, Cols: cols}, nil, opts...)
}

// Reader adds a reader over parent keyed on key. Readers are partial
// unless Materialize(Full) is passed.
func (b *Builder) Reader(name string, parent NodeID, key []int, opts ...Option) NodeID {
	opts = append([]Option{Materialize(Partial)}, opts...)
	return b.Add(name, &ops.Reader{Key: key}, []NodeID{parent}, opts...)
}

// Add adds a node running op over parents.
func (b *Builder) Add(name string, op ops.Operator, parents []NodeID, opts ...Option) NodeID {
	id := NodeID(len(b.nodes))
	n := &Node{ID: id, Name: name, Op: op, Parents: append([]NodeID(nil), parents...), ShardCol: -1}
	if name == "" {
		n.Name = fmt.Sprintf("%s%d", op.Kind(), id)
	}
	if _, ok := b.names[n.Name]; ok {
		b.fail(errors.Newf("duplicate node name %q", n.Name))
	}
	for _, p := range parents {
		if p < 0 || int(p) >= len(b.nodes) {
			b.fail(errors.Newf("node %q: unknown parent %d", n.Name, p))
			return id
		}
	}
	if len(parents) > 0 {
		n.Domain = b.nodes[parents[0]].Domain
	}
	for _, o := range opts {
		o(n)
	}
	b.nodes = append(b.nodes, n)
	b.names[n.Name] = id
	b.domSet[n.Domain] = true
	for _, p := range parents {
		b.nodes[p].Children = append(b.nodes[p].Children, id)
	}
	return id
}

// Build validates the graph and computes everything the engine needs:
// column names, egress/ingress pairs at domain boundaries, indices, shard
// columns, topological order, replay paths and eviction lineage.
func (b *Builder) Build() (*Graph, error) {
	if b.err != nil {
		return nil, b.err
	}
	if len(b.nodes) == 0 {
		return nil, errors.New("empty graph")
	}
	g := &Graph{nodes: b.nodes, names: b.names}
	for id := range b.domSet {
		d, ok := b.domains[id]
		if !ok {
			d = &Domain{ID: id, Shards: 1}
		}
		g.domains = append(g.domains, d)
	}
	sort.Slice(g.domains, func(i, j int) bool { return g.domains[i].ID < g.domains[j].ID })

	for _, step := range []func() error{
		g.resolveColumns,
		g.checkOperators,
		g.inferColumnTypes,
		g.insertDomainBoundaries,
		g.checkJoinParents,
		g.checkMaterialization,
		g.computeTopoOrder,
		g.computeDomainOrder,
		g.assignShardColumns,
		g.computePaths,
		g.computeEvictability,
	} {
		if err := step(); err != nil {
			return nil, err
		}
	}
	return g, nil
}

func (g *Graph) resolveColumns() error {
	for _, n := range g.nodes {
		parents := make([][]string, len(n.Parents))
		for i, p := range n.Parents {
			parents[i] = g.nodes[p].Columns
		}
		cols, err := n.Op.Columns(parents)
		if err != nil {
			return errors.Wrapf(err, "node %s", n.Name)
		}
		n.Columns = cols
	}
	return nil
}

func (g *Graph) checkOperators() error {
	for _, n := range g.nodes {
		switch op := n.Op.(type) {
		case *ops.Base:
			n.Materialized = Full
			n.Key = nil
		case *ops.Join:
			if n.Parents[0] == n.Parents[1] {
				return errors.Newf("node %s: self-joins are not supported", n.Name)
			}
			if n.Materialized != NotMaterialized {
				return errors.Newf("node %s: joins cannot be materialized; materialize a child instead", n.Name)
			}
		case *ops.Aggregate:
			if n.Materialized == NotMaterialized {
				n.Materialized = Full
			}
			n.Key = op.KeyColumns()
		case *ops.TopK:
			if n.Materialized == NotMaterialized {
				n.Materialized = Full
			}
			n.Key = append([]int(nil), op.Group...)
		case *ops.Reader:
			if n.Materialized == NotMaterialized {
				return errors.Newf("reader %s must be materialized", n.Name)
			}
			n.Key = append([]int(nil), op.Key...)
			if len(n.Children) > 0 {
				return errors.Newf("reader %s cannot have children", n.Name)
			}
		case *ops.Egress, *ops.Ingress:
			return errors.Newf("node %s: egress and ingress nodes are inserted by Build", n.Name)
		}
		if n.Materialized == Partial && len(n.Key) == 0 {
			return errors.Newf("partial node %s needs a key", n.Name)
		}
		if len(n.Key) > 0 && n.Materialized != NotMaterialized {
			for _, c := range n.Key {
				if c < 0 || c >= len(n.Columns) {
					return errors.Newf("node %s: key column %d out of range", n.Name, c)
				}
			}
			n.addIndex(n.Key)
		}
	}
	return nil
}

// inferColumnTypes constrains the base columns feeding a SUM to numbers,
// so that writes of other values are rejected before they are stored.
func (g *Graph) inferColumnTypes() error {
	for _, n := range g.nodes {
		if agg, ok := n.Op.(*ops.Aggregate); ok && agg.Func == ops.Sum {
			if err := g.requireNumeric(g.nodes[n.Parents[0]], agg.Over, n); err != nil {
				return err
			}
		}
	}
	return nil
}

// requireNumeric constrains every base column that column col of n is
// copied from to numbers.
func (g *Graph) requireNumeric(n *Node, col int, sum *Node) error {
	switch op := n.Op.(type) {
	case *ops.Base:
		if len(op.Types) == 0 {
			op.Types = make([]row.Type, len(op.Cols))
		}
		switch t := op.Types[col]; {
		case t == row.AnyType:
			op.Types[col] = row.NumberType
		case !t.Numeric():
			return errors.Newf("node %s sums column %s of %s, which has type %s",
				sum.Name, op.Cols[col], n.Name, t)
		}
		return nil
	case *ops.Project:
		if i := col - len(op.Emit); i >= 0 {
			if d := op.Literals[i]; !row.NumberType.Accepts(d) {
				return errors.Newf("node %s sums literal %s of %s", sum.Name, d, n.Name)
			}
			return nil
		}
	}
	for _, pc := range n.Op.Resolve(col) {
		if err := g.requireNumeric(g.nodes[n.Parents[pc.Parent]], pc.Column, sum); err != nil {
			return err
		}
	}
	return nil
}

func (g *Graph) add(n *Node) *Node {
	n.ID = NodeID(len(g.nodes))
	n.ShardCol = -1
	g.nodes = append(g.nodes, n)
	g.names[n.Name] = n.ID
	return n
}

func (g *Graph) hasPartialAncestor(n *Node) bool {
	for _, p := range n.Parents {
		pn := g.nodes[p]
		if pn.Materialized == Partial || g.hasPartialAncestor(pn) {
			return true
		}
	}
	return false
}

// insertDomainBoundaries replaces every edge crossing a domain boundary by
// an egress in the parent's domain feeding an ingress in the child's.
// Ingress nodes feeding a join are materialized on the join column.
func (g *Graph) insertDomainBoundaries() error {
	type shared struct {
		parent NodeID
		domain DomainID
	}
	ingresses := map[shared]*Node{}
	for _, c := range g.nodes[:len(g.nodes):len(g.nodes)] {
		for i, p := range c.Parents {
			pn := g.nodes[p]
			if pn.Domain == c.Domain {
				continue
			}
			join, isJoin := c.Op.(*ops.Join)
			in, ok := ingresses[shared{p, c.Domain}]
			if !ok || isJoin {
				eg := g.add(&Node{
					Name:    fmt.Sprintf("%s->d%d", pn.Name, c.Domain),
					Op:      &ops.Egress{},
					Parents: []NodeID{p},
					Columns: pn.Columns,
					Domain:  pn.Domain,
				})
				name := fmt.Sprintf("%s@d%d", pn.Name, c.Domain)
				if isJoin {
					name = fmt.Sprintf("%s@%s", pn.Name, c.Name)
				}
				in = g.add(&Node{
					Name:    name,
					Op:      &ops.Ingress{},
					Parents: []NodeID{eg.ID},
					Columns: pn.Columns,
					Domain:  c.Domain,
				})
				if isJoin {
					in.Materialized = Full
					if pn.Materialized == Partial || g.hasPartialAncestor(pn) {
						in.Materialized = Partial
					}
					in.Key = []int{join.On[i]}
					in.addIndex(in.Key)
				} else {
					ingresses[shared{p, c.Domain}] = in
				}
				eg.Children = []NodeID{in.ID}
				pn.Children = append(pn.Children, eg.ID)
			}
			pn.removeChild(c.ID)
			c.Parents[i] = in.ID
			in.Children = append(in.Children, c.ID)
		}
	}
	return nil
}

func (g *Graph) checkJoinParents() error {
	for _, n := range g.nodes {
		switch op := n.Op.(type) {
		case *ops.Join:
			for side, p := range n.Parents {
				if err := g.requireIndex(n, g.nodes[p], []int{op.On[side]}); err != nil {
					return err
				}
			}
		case *ops.TopK:
			if err := g.requireIndex(n, g.nodes[n.Parents[0]], op.Group); err != nil {
				return err
			}
		}
	}
	return nil
}

// requireIndex checks that child can look up parent's state by cols.
func (g *Graph) requireIndex(child, parent *Node, cols []int) error {
	switch parent.Materialized {
	case NotMaterialized:
		return errors.Newf("node %s: parent %s must be materialized", child.Name, parent.Name)
	case Partial:
		if !equalCols(parent.Key, cols) {
			return errors.Newf("node %s: partial parent %s must be keyed on %v, not %v",
				child.Name, parent.Name, cols, parent.Key)
		}
	default:
		parent.addIndex(cols)
	}
	return nil
}

func (g *Graph) checkMaterialization() error {
	for _, n := range g.nodes {
		if n.Materialized == Full && g.hasPartialAncestor(n) {
			return errors.Newf("node %s: fully materialized nodes cannot be below partial ones", n.Name)
		}
	}
	return nil
}

func (g *Graph) computeTopoOrder() error {
	indeg := make([]int, len(g.nodes))
	for _, n := range g.nodes {
		indeg[n.ID] = len(n.Parents)
	}
	var ready []NodeID
	for _, n := range g.nodes {
		if indeg[n.ID] == 0 {
			ready = append(ready, n.ID)
		}
	}
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return ready[i] < ready[j] })
		id := ready[0]
		ready = ready[1:]
		g.topo = append(g.topo, id)
		for _, c := range g.nodes[id].Children {
			if indeg[c]--; indeg[c] == 0 {
				ready = append(ready, c)
			}
		}
	}
	if len(g.topo) != len(g.nodes) {
		return errors.AssertionFailedf("graph has a cycle")
	}
	g.position = make([]int, len(g.nodes))
	for i, id := range g.topo {
		g.position[id] = i
	}
	return nil
}

// computeDomainOrder orders the domains along the edges between them. Data
// and replay pieces only flow down this order, which is what keeps the
// bounded channels between domains from deadlocking.
func (g *Graph) computeDomainOrder() error {
	feeds := map[DomainID]map[DomainID]bool{}
	indeg := map[DomainID]int{}
	for _, d := range g.domains {
		feeds[d.ID] = map[DomainID]bool{}
		indeg[d.ID] = 0
	}
	for _, n := range g.nodes {
		for _, c := range n.Children {
			cd := g.nodes[c].Domain
			if cd == n.Domain || feeds[n.Domain][cd] {
				continue
			}
			feeds[n.Domain][cd] = true
			indeg[cd]++
		}
	}
	g.order = g.order[:0]
	for len(g.order) < len(g.domains) {
		next := DomainID(-1)
		for _, d := range g.domains {
			if indeg[d.ID] == 0 {
				next = d.ID
				break
			}
		}
		if next < 0 {
			return errors.Newf("domains feed each other in a cycle")
		}
		indeg[next] = -1
		g.order = append(g.order, next)
		for c := range feeds[next] {
			indeg[c]--
		}
	}
	return nil
}
