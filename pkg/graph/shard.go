// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package graph

import (
	"hash/fnv"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/viewflow/pkg/ops"
	"github.com/cockroachdb/viewflow/pkg/row"
)

// assignShardColumns tracks the shard column of every node in a sharded
// domain and rejects stateful operators or keys that would need rows from
// more than one shard.
func (g *Graph) assignShardColumns() error {
	for _, id := range g.topo {
		n := g.nodes[id]
		d := g.Domain(n.Domain)
		if !d.Sharded() {
			continue
		}
		parentCol := func(i int) int { return g.nodes[n.Parents[i]].ShardCol }
		switch op := n.Op.(type) {
		case *ops.Base, *ops.Ingress:
			n.ShardCol = -1
			for i, c := range n.Columns {
				if c == d.ShardBy {
					n.ShardCol = i
					break
				}
			}
			if n.ShardCol < 0 {
				return errors.Newf("node %s in domain %d has no shard column %q", n.Name, d.ID, d.ShardBy)
			}
		case *ops.Filter, *ops.Egress, *ops.Reader:
			n.ShardCol = parentCol(0)
		case *ops.Project:
			n.ShardCol = indexOf(op.Emit, parentCol(0))
		case *ops.Union:
			for j := range n.Columns {
				ok := true
				for i := range n.Parents {
					if op.Emit[i][j] != parentCol(i) {
						ok = false
					}
				}
				if ok {
					n.ShardCol = j
					break
				}
			}
		case *ops.Join:
			if op.On[ops.Left] != parentCol(ops.Left) || op.On[ops.Right] != parentCol(ops.Right) {
				return errors.Newf("join %s in sharded domain %d must join on the shard column", n.Name, d.ID)
			}
			for j, e := range op.Emit {
				if e.Side == ops.Left && e.Col == op.On[ops.Left] {
					n.ShardCol = j
					break
				}
			}
		case *ops.Aggregate:
			n.ShardCol = indexOf(op.Group, parentCol(0))
			if n.ShardCol < 0 {
				return errors.Newf("aggregate %s in sharded domain %d must group by the shard column", n.Name, d.ID)
			}
		case *ops.TopK:
			if indexOf(op.Group, parentCol(0)) < 0 {
				return errors.Newf("top-k %s in sharded domain %d must group by the shard column", n.Name, d.ID)
			}
			n.ShardCol = parentCol(0)
		}
		if n.Materialized == Partial || n.Kind() == ops.KindReader {
			if !containsCol(n.Key, n.ShardCol) {
				return errors.Newf("node %s in sharded domain %d must be keyed on the shard column", n.Name, d.ID)
			}
		}
	}
	return nil
}

func indexOf(cols []int, c int) int {
	if c < 0 {
		return -1
	}
	for i, x := range cols {
		if x == c {
			return i
		}
	}
	return -1
}

func shardOf(d row.Datum, shards int) int {
	h := fnv.New32a()
	_, _ = h.Write(row.EncodeDatum(nil, d))
	return int(h.Sum32() % uint32(shards))
}

// ShardOfRow returns the shard of n's domain that owns r.
func (g *Graph) ShardOfRow(n *Node, r row.Row) int {
	d := g.Domain(n.Domain)
	if !d.Sharded() || n.ShardCol < 0 {
		return 0
	}
	return shardOf(r[n.ShardCol], d.Shards)
}

// ShardOfKey returns the shard of n's domain that owns key, a lookup key
// on cols. It returns false if cols do not include the shard column, in
// which case every shard may hold matching rows.
func (g *Graph) ShardOfKey(n *Node, cols []int, key row.Key) (int, bool) {
	d := g.Domain(n.Domain)
	if !d.Sharded() {
		return 0, true
	}
	i := indexOf(cols, n.ShardCol)
	if i < 0 {
		return 0, false
	}
	datums, err := key.Datums()
	if err != nil || i >= len(datums) {
		return 0, false
	}
	return shardOf(datums[i], d.Shards), true
}
