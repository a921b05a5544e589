// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package graph

import (
	"fmt"
	"testing"

	"github.com/cockroachdb/datadriven"
	"github.com/cockroachdb/viewflow/pkg/ops"
	"github.com/cockroachdb/viewflow/pkg/row"
	"github.com/stretchr/testify/require"
)

func TestBuildDataDriven(t *testing.T) {
	datadriven.RunTest(t, "testdata/build", func(t *testing.T, d *datadriven.TestData) string {
		switch d.Cmd {
		case "build":
			s, err := ParseSpec([]byte(d.Input))
			if err != nil {
				return fmt.Sprintf("error: %v", err)
			}
			g, err := s.Build()
			if err != nil {
				return fmt.Sprintf("error: %v", err)
			}
			return g.String()
		default:
			return fmt.Sprintf("unknown command %s", d.Cmd)
		}
	})
}

func TestUnionPaths(t *testing.T) {
	b := NewBuilder()
	a := b.Base("a", []string{"k", "v"})
	c := b.Base("c", []string{"k", "v"})
	u := b.Add("u", &ops.Union{}, []NodeID{a, c})
	r := b.Reader("r", u, []int{0})
	g, err := b.Build()
	require.NoError(t, err)

	paths := g.Node(r).Paths
	require.Len(t, paths, 2)
	require.Equal(t, a, paths[0].Source)
	require.Equal(t, c, paths[1].Source)
	require.Equal(t, []Hop{{a, []int{0}}, {u, []int{0}}, {r, []int{0}}}, paths[0].Hops)
	require.Equal(t, 1, paths[0].HopIndex(u))
	require.Equal(t, [][]int{{0}}, g.Node(a).Indices)
	require.True(t, g.Node(r).Evictable)
}

func TestPartialKeyMismatch(t *testing.T) {
	b := NewBuilder()
	orders := b.Base("orders", []string{"id", "user", "amount"})
	byUser := b.Add("by_user", &ops.Filter{}, []NodeID{orders}, Materialize(Partial, 1))
	b.Reader("r", byUser, []int{0})
	_, err := b.Build()
	require.Error(t, err)
	require.Contains(t, err.Error(), "keyed on [1], not [0]")
}

func TestEvictabilityThroughJoin(t *testing.T) {
	b := NewBuilder()
	orders := b.Base("orders", []string{"id", "user", "amount"})
	byUser := b.Add("by_user", &ops.Filter{}, []NodeID{orders}, Materialize(Partial, 1))
	users := b.Base("users", []string{"id", "name"})
	j := b.Add("j", &ops.Join{On: [2]int{1, 0}}, []NodeID{byUser, users})
	byName := b.Reader("by_name", j, []int{4})
	byID := b.Reader("by_id", j, []int{1})
	g, err := b.Build()
	require.NoError(t, err)

	require.False(t, g.Node(byUser).Evictable)
	require.True(t, g.Node(byName).Evictable)
	require.True(t, g.Node(byID).Evictable)
	// The by-name reader is filled from the users side; the join looks up
	// the partial left parent on the join column.
	require.Equal(t, users, g.Node(byName).Paths[0].Source)
	require.Equal(t, byUser, g.Node(byID).Paths[0].Source)
	require.Equal(t, [][]int{{0}, {1}}, g.Node(users).Indices)
}

func TestColumnTypes(t *testing.T) {
	build := func(spec string) (*Graph, error) {
		s, err := ParseSpec([]byte(spec))
		require.NoError(t, err)
		return s.Build()
	}
	types := func(g *Graph, name string) []row.Type {
		n, ok := g.Lookup(name)
		require.True(t, ok)
		return n.Op.(*ops.Base).Types
	}

	g, err := build(`
nodes:
- name: orders
  base: {columns: [id, user, amount], types: {id: int}}
- name: refunds
  base: {columns: [id, user, amount]}
- name: all
  parents: [orders, refunds]
  union: {}
- name: totals
  parents: [all]
  aggregate: {group: [user], func: sum, over: amount}
- name: counts
  parents: [refunds]
  aggregate: {group: [user], func: count}
`)
	require.NoError(t, err)
	// Columns feeding the SUM through the union only take numbers.
	require.Equal(t, []row.Type{row.IntType, row.AnyType, row.NumberType}, types(g, "orders"))
	require.Equal(t, []row.Type{row.AnyType, row.AnyType, row.NumberType}, types(g, "refunds"))

	for _, tc := range []struct {
		name string
		spec string
		err  string
	}{
		{
			name: "sum of a string column",
			spec: `
nodes:
- name: orders
  base: {columns: [id, amount], types: {amount: string}}
- name: total
  parents: [orders]
  aggregate: {group: [id], func: sum, over: amount}
`,
			err: "node total sums column amount of orders, which has type string",
		},
		{
			name: "sum of a string literal",
			spec: `
nodes:
- name: orders
  base: {columns: [id, amount]}
- name: p
  parents: [orders]
  project: {columns: [id], literals: [x]}
- name: total
  parents: [p]
  aggregate: {group: [id], func: sum, over: literal0}
`,
			err: "node total sums literal x of p",
		},
		{
			name: "unknown type",
			spec: `
nodes:
- name: orders
  base: {columns: [id], types: {id: bool}}
`,
			err: `unknown column type "bool"`,
		},
		{
			name: "type of unknown column",
			spec: `
nodes:
- name: orders
  base: {columns: [id], types: {amount: int}}
`,
			err: `unknown column "amount"`,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := build(tc.spec)
			require.ErrorContains(t, err, tc.err)
		})
	}
}

func TestBuildErrors(t *testing.T) {
	for _, tc := range []struct {
		name  string
		build func(b *Builder)
		err   string
	}{
		{
			name: "self join",
			build: func(b *Builder) {
				a := b.Base("a", []string{"k"})
				b.Add("j", &ops.Join{}, []NodeID{a, a})
			},
			err: "self-joins",
		},
		{
			name: "unmaterialized join parent",
			build: func(b *Builder) {
				a := b.Base("a", []string{"k"})
				f := b.Add("f", &ops.Filter{}, []NodeID{a})
				c := b.Base("c", []string{"k"})
				b.Add("j", &ops.Join{}, []NodeID{f, c})
			},
			err: "parent f must be materialized",
		},
		{
			name: "partial without key",
			build: func(b *Builder) {
				a := b.Base("a", []string{"k"})
				b.Add("f", &ops.Filter{}, []NodeID{a}, Materialize(Partial))
			},
			err: "needs a key",
		},
		{
			name: "duplicate name",
			build: func(b *Builder) {
				b.Base("a", []string{"k"})
				b.Base("a", []string{"k"})
			},
			err: "duplicate node name",
		},
		{
			name: "aggregate not sharded by group",
			build: func(b *Builder) {
				b.Domain(0, 4, "id")
				a := b.Base("orders", []string{"id", "user", "amount"})
				b.Add("sum", &ops.Aggregate{Group: []int{1}, Func: ops.Sum, Over: 2}, []NodeID{a})
			},
			err: "must group by the shard column",
		},
		{
			name: "domain cycle",
			build: func(b *Builder) {
				a := b.Base("a", []string{"k"}, InDomain(0))
				f := b.Add("f", &ops.Filter{}, []NodeID{a}, InDomain(1))
				b.Add("g", &ops.Filter{}, []NodeID{f}, InDomain(0))
			},
			err: "cycle",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			b := NewBuilder()
			tc.build(b)
			_, err := b.Build()
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.err)
		})
	}
}

func TestSharding(t *testing.T) {
	b := NewBuilder()
	b.Domain(0, 4, "user")
	orders := b.Base("orders", []string{"id", "user", "amount"})
	sum := b.Add("sum", &ops.Aggregate{Group: []int{1}, Func: ops.Sum, Over: 2}, []NodeID{orders},
		Materialize(Partial))
	r := b.Reader("r", sum, []int{0}, InDomain(1))
	g, err := b.Build()
	require.NoError(t, err)

	require.Equal(t, 1, g.Node(orders).ShardCol)
	require.Equal(t, 0, g.Node(sum).ShardCol)
	require.Equal(t, -1, g.Node(r).ShardCol)
	require.Equal(t, []DomainID{0, 1}, g.DomainOrder())

	n := g.Node(orders)
	rw := row.Row{row.DInt(1), row.DString("a"), row.DInt(10)}
	s := g.ShardOfRow(n, rw)
	require.True(t, s >= 0 && s < 4)
	ks, ok := g.ShardOfKey(n, []int{1}, row.KeyOf(row.DString("a")))
	require.True(t, ok)
	require.Equal(t, s, ks)
	_, ok = g.ShardOfKey(n, []int{0}, row.KeyOf(row.DInt(1)))
	require.False(t, ok)

	// The reader in domain 1 reaches the sharded aggregate through an
	// egress/ingress pair.
	path := g.Node(r).Paths[0]
	require.Equal(t, sum, path.Source)
	require.Len(t, path.Hops, 4)
}
