// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package graph

import (
	"os"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/viewflow/pkg/ops"
	"github.com/cockroachdb/viewflow/pkg/row"
	"gopkg.in/yaml.v2"
)

// Spec is the YAML form of a graph. Columns are referenced by name.
type Spec struct {
	Domains []DomainSpec `yaml:"domains"`
	Nodes   []NodeSpec   `yaml:"nodes"`
}

// DomainSpec declares a domain.
type DomainSpec struct {
	ID      int    `yaml:"id"`
	Shards  int    `yaml:"shards"`
	ShardBy string `yaml:"shard_by"`
}

// NodeSpec declares a node. Exactly one operator field must be set.
type NodeSpec struct {
	Name        string   `yaml:"name"`
	Parents     []string `yaml:"parents"`
	Domain      *int     `yaml:"domain"`
	Materialize string   `yaml:"materialize"`
	Key         []string `yaml:"key"`

	Base      *BaseSpec      `yaml:"base"`
	Filter    []CondSpec     `yaml:"filter"`
	Project   *ProjectSpec   `yaml:"project"`
	Union     *UnionSpec     `yaml:"union"`
	Join      *JoinSpec      `yaml:"join"`
	Aggregate *AggregateSpec `yaml:"aggregate"`
	TopK      *TopKSpec      `yaml:"topk"`
	Reader    *ReaderSpec    `yaml:"reader"`
}

// BaseSpec declares a base table.
type BaseSpec struct {
	Columns    []string `yaml:"columns"`
	PrimaryKey []string `yaml:"primary_key"`
	// Types maps column names to int, number, string or any.
	Types map[string]string `yaml:"types"`
}

// CondSpec is one filter condition. Either Value or Column is set.
type CondSpec struct {
	Col    string `yaml:"col"`
	Op     string `yaml:"op"`
	Value  string `yaml:"value"`
	Column string `yaml:"column"`
}

// ProjectSpec declares a projection.
type ProjectSpec struct {
	Columns  []string `yaml:"columns"`
	Literals []string `yaml:"literals"`
	As       []string `yaml:"as"`
}

// UnionSpec declares a union. Columns optionally lists, per parent, the
// parent columns making up the output.
type UnionSpec struct {
	Columns [][]string `yaml:"columns"`
}

// JoinSpec declares a join between the two parents.
type JoinSpec struct {
	Kind string    `yaml:"kind"`
	On   [2]string `yaml:"on"`
	// Emit lists output columns as "left.col" or "right.col".
	Emit []string `yaml:"emit"`
}

// AggregateSpec declares a grouped aggregation.
type AggregateSpec struct {
	Group []string `yaml:"group"`
	Func  string   `yaml:"func"`
	Over  string   `yaml:"over"`
}

// TopKSpec declares a top-k.
type TopKSpec struct {
	Group []string `yaml:"group"`
	Order string   `yaml:"order"`
	Desc  bool     `yaml:"desc"`
	K     int      `yaml:"k"`
}

// ReaderSpec declares a reader.
type ReaderSpec struct {
	Key []string `yaml:"key"`
}

// ParseSpec parses a YAML graph spec.
func ParseSpec(data []byte) (*Spec, error) {
	var s Spec
	if err := yaml.UnmarshalStrict(data, &s); err != nil {
		return nil, errors.Wrap(err, "parsing graph spec")
	}
	return &s, nil
}

// LoadSpec reads a YAML graph spec from a file and builds it.
func LoadSpec(path string) (*Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}
	s, err := ParseSpec(data)
	if err != nil {
		return nil, errors.Wrapf(err, "%s", path)
	}
	return s.Build()
}

// Build builds the graph described by the spec.
func (s *Spec) Build() (*Graph, error) {
	b := NewBuilder()
	for _, d := range s.Domains {
		shards := d.Shards
		if shards == 0 {
			shards = 1
		}
		b.Domain(DomainID(d.ID), shards, d.ShardBy)
	}
	ids := map[string]NodeID{}
	cols := map[string][]string{}
	for _, ns := range s.Nodes {
		parents := make([]NodeID, len(ns.Parents))
		parentCols := make([][]string, len(ns.Parents))
		for i, p := range ns.Parents {
			id, ok := ids[p]
			if !ok {
				return nil, errors.Newf("node %s: unknown parent %q", ns.Name, p)
			}
			parents[i] = id
			parentCols[i] = cols[p]
		}
		op, err := ns.operator(parentCols)
		if err != nil {
			return nil, errors.Wrapf(err, "node %s", ns.Name)
		}
		out, err := op.Columns(parentCols)
		if err != nil {
			return nil, errors.Wrapf(err, "node %s", ns.Name)
		}
		var opts []Option
		if ns.Domain != nil {
			opts = append(opts, InDomain(DomainID(*ns.Domain)))
		}
		m, err := ParseMaterialization(ns.Materialize)
		if err != nil {
			return nil, errors.Wrapf(err, "node %s", ns.Name)
		}
		if ns.Reader != nil && m == NotMaterialized {
			m = Partial
		}
		key, err := lookupCols(out, ns.Key)
		if err != nil {
			return nil, errors.Wrapf(err, "node %s key", ns.Name)
		}
		if m != NotMaterialized {
			opts = append(opts, Materialize(m, key...))
		}
		ids[ns.Name] = b.Add(ns.Name, op, parents, opts...)
		cols[ns.Name] = out
	}
	return b.Build()
}

func lookupCols(cols []string, names []string) ([]int, error) {
	out := make([]int, len(names))
	for i, n := range names {
		j, err := lookupCol(cols, n)
		if err != nil {
			return nil, err
		}
		out[i] = j
	}
	return out, nil
}

func lookupCol(cols []string, name string) (int, error) {
	for i, c := range cols {
		if c == name {
			return i, nil
		}
	}
	return 0, errors.Newf("unknown column %q in %v", name, cols)
}

func (ns *NodeSpec) operator(parents [][]string) (ops.Operator, error) {
	one := func() ([]string, error) {
		if len(parents) != 1 {
			return nil, errors.Newf("expected one parent, got %d", len(parents))
		}
		return parents[0], nil
	}
	switch {
	case ns.Base != nil:
		pk, err := lookupCols(ns.Base.Columns, ns.Base.PrimaryKey)
		if err != nil {
			return nil, err
		}
		var types []row.Type
		if len(ns.Base.Types) > 0 {
			types = make([]row.Type, len(ns.Base.Columns))
			for name, ts := range ns.Base.Types {
				c, err := lookupCol(ns.Base.Columns, name)
				if err != nil {
					return nil, err
				}
				if types[c], err = row.ParseType(ts); err != nil {
					return nil, errors.Wrapf(err, "column %s", name)
				}
			}
		}
		return &ops.Base{Name: ns.Name, Cols: ns.Base.Columns, Types: types, PrimaryKey: pk}, nil

	case ns.Filter != nil:
		in, err := one()
		if err != nil {
			return nil, err
		}
		f := &ops.Filter{}
		for _, cs := range ns.Filter {
			var c ops.Cond
			if c.Col, err = lookupCol(in, cs.Col); err != nil {
				return nil, err
			}
			if c.Op, err = ops.ParseCmpOp(cs.Op); err != nil {
				return nil, err
			}
			if cs.Column != "" {
				c.UseColumn = true
				if c.Other, err = lookupCol(in, cs.Column); err != nil {
					return nil, err
				}
			} else {
				c.Value = row.ParseDatum(cs.Value)
			}
			f.Conds = append(f.Conds, c)
		}
		return f, nil

	case ns.Project != nil:
		in, err := one()
		if err != nil {
			return nil, err
		}
		p := &ops.Project{Names: ns.Project.As}
		if p.Emit, err = lookupCols(in, ns.Project.Columns); err != nil {
			return nil, err
		}
		for _, l := range ns.Project.Literals {
			p.Literals = append(p.Literals, row.ParseDatum(l))
		}
		return p, nil

	case ns.Union != nil:
		u := &ops.Union{}
		if len(ns.Union.Columns) > 0 {
			if len(ns.Union.Columns) != len(parents) {
				return nil, errors.Newf("union lists columns for %d of %d parents",
					len(ns.Union.Columns), len(parents))
			}
			for i, names := range ns.Union.Columns {
				e, err := lookupCols(parents[i], names)
				if err != nil {
					return nil, err
				}
				u.Emit = append(u.Emit, e)
			}
		}
		return u, nil

	case ns.Join != nil:
		if len(parents) != 2 {
			return nil, errors.Newf("join needs two parents, got %d", len(parents))
		}
		j := &ops.Join{}
		switch ns.Join.Kind {
		case "", "inner":
		case "left":
			j.Type = ops.LeftJoin
		default:
			return nil, errors.Newf("unknown join kind %q", ns.Join.Kind)
		}
		for side := range parents {
			c, err := lookupCol(parents[side], ns.Join.On[side])
			if err != nil {
				return nil, err
			}
			j.On[side] = c
		}
		for _, e := range ns.Join.Emit {
			jc, err := parseJoinColumn(parents, e)
			if err != nil {
				return nil, err
			}
			j.Emit = append(j.Emit, jc)
		}
		return j, nil

	case ns.Aggregate != nil:
		in, err := one()
		if err != nil {
			return nil, err
		}
		a := &ops.Aggregate{}
		if a.Func, err = ops.ParseAggFunc(ns.Aggregate.Func); err != nil {
			return nil, err
		}
		if a.Group, err = lookupCols(in, ns.Aggregate.Group); err != nil {
			return nil, err
		}
		if a.Func == ops.Sum {
			if a.Over, err = lookupCol(in, ns.Aggregate.Over); err != nil {
				return nil, err
			}
		}
		return a, nil

	case ns.TopK != nil:
		in, err := one()
		if err != nil {
			return nil, err
		}
		t := &ops.TopK{Descending: ns.TopK.Desc, K: ns.TopK.K}
		if t.Group, err = lookupCols(in, ns.TopK.Group); err != nil {
			return nil, err
		}
		if t.Order, err = lookupCol(in, ns.TopK.Order); err != nil {
			return nil, err
		}
		return t, nil

	case ns.Reader != nil:
		in, err := one()
		if err != nil {
			return nil, err
		}
		key, err := lookupCols(in, ns.Reader.Key)
		if err != nil {
			return nil, err
		}
		return &ops.Reader{Key: key}, nil
	}
	return nil, errors.New("no operator given")
}

func parseJoinColumn(parents [][]string, s string) (ops.JoinColumn, error) {
	for side, prefix := range []string{"left.", "right."} {
		if len(s) > len(prefix) && s[:len(prefix)] == prefix {
			c, err := lookupCol(parents[side], s[len(prefix):])
			return ops.JoinColumn{Side: side, Col: c}, err
		}
	}
	return ops.JoinColumn{}, errors.Newf("join column %q must start with left. or right.", s)
}
