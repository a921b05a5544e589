// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package ops defines the relational operators of the dataflow graph.
//
// The operator set is closed: every implementation lives in this package
// and the domain dispatches on the concrete type. Operators hold no
// mutable state. Stateful operators (join, aggregate, top-k) receive the
// state they need from the caller, which owns the materializations.
package ops

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/viewflow/pkg/row"
)

// Kind identifies the operator variant.
type Kind int

// Operator kinds.
const (
	KindBase Kind = iota
	KindIngress
	KindEgress
	KindFilter
	KindProject
	KindUnion
	KindJoin
	KindAggregate
	KindTopK
	KindReader
)

var kindNames = [...]string{
	KindBase:      "base",
	KindIngress:   "ingress",
	KindEgress:    "egress",
	KindFilter:    "filter",
	KindProject:   "project",
	KindUnion:     "union",
	KindJoin:      "join",
	KindAggregate: "aggregate",
	KindTopK:      "topk",
	KindReader:    "reader",
}

// String implements fmt.Stringer.
func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParentColumn identifies a column of one of a node's parents. Parent is
// an index into the node's parent list.
type ParentColumn struct {
	Parent int
	Column int
}

// Operator is implemented by every operator variant.
type Operator interface {
	// Kind returns the operator variant.
	Kind() Kind
	// Columns returns the output column names given the parents' column
	// names, validating column references.
	Columns(parents [][]string) ([]string, error)
	// Resolve maps an output column to the parent columns it is copied
	// from. It returns nil for generated columns.
	Resolve(col int) []ParentColumn
	// Stateless is true if the operator never consults state.
	Stateless() bool
	// Describe returns a short description for logs and tools.
	Describe() string

	operator()
}

// Base is a base table: the entry point of writes.
type Base struct {
	Name string
	Cols []string
	// Types constrains the values of each column. It is empty or has one
	// entry per column.
	Types []row.Type
	// PrimaryKey, if set, makes the table hold at most one row per value
	// of these columns.
	PrimaryKey []int
}

// Ingress receives records from another domain.
type Ingress struct{}

// Egress sends records to another domain.
type Egress struct{}

// Reader is a terminal node exposing its state to clients, keyed on Key.
type Reader struct {
	Key []int
}

func (*Base) operator()    {}
func (*Ingress) operator() {}
func (*Egress) operator()  {}
func (*Reader) operator()  {}

// Kind implements Operator.
func (*Base) Kind() Kind { return KindBase }

// Kind implements Operator.
func (*Ingress) Kind() Kind { return KindIngress }

// Kind implements Operator.
func (*Egress) Kind() Kind { return KindEgress }

// Kind implements Operator.
func (*Reader) Kind() Kind { return KindReader }

// Columns implements Operator.
func (b *Base) Columns(parents [][]string) ([]string, error) {
	if len(parents) != 0 {
		return nil, errors.Newf("base table %s cannot have parents", b.Name)
	}
	if len(b.Cols) == 0 {
		return nil, errors.Newf("base table %s has no columns", b.Name)
	}
	if len(b.Types) != 0 && len(b.Types) != len(b.Cols) {
		return nil, errors.Newf("base table %s has %d columns but %d types", b.Name, len(b.Cols), len(b.Types))
	}
	if err := checkCols(b.PrimaryKey, len(b.Cols)); err != nil {
		return nil, errors.Wrapf(err, "primary key of %s", b.Name)
	}
	return b.Cols, nil
}

// Check returns an error if r is not a valid row of the table.
func (b *Base) Check(r row.Row) error {
	if len(r) != len(b.Cols) {
		return errors.Newf("row %s has %d columns, %s has %d", r, len(r), b.Name, len(b.Cols))
	}
	return row.CheckTypes(r, b.Cols, b.Types)
}

// Columns implements Operator.
func (*Ingress) Columns(parents [][]string) ([]string, error) { return identityColumns(parents) }

// Columns implements Operator.
func (*Egress) Columns(parents [][]string) ([]string, error) { return identityColumns(parents) }

// Columns implements Operator.
func (r *Reader) Columns(parents [][]string) ([]string, error) {
	cols, err := identityColumns(parents)
	if err != nil {
		return nil, err
	}
	if len(r.Key) == 0 {
		return nil, errors.New("reader needs at least one key column")
	}
	return cols, checkCols(r.Key, len(cols))
}

// Resolve implements Operator.
func (*Base) Resolve(int) []ParentColumn { return nil }

// Resolve implements Operator.
func (*Ingress) Resolve(col int) []ParentColumn { return []ParentColumn{{0, col}} }

// Resolve implements Operator.
func (*Egress) Resolve(col int) []ParentColumn { return []ParentColumn{{0, col}} }

// Resolve implements Operator.
func (*Reader) Resolve(col int) []ParentColumn { return []ParentColumn{{0, col}} }

// Stateless implements Operator.
func (*Base) Stateless() bool { return false }

// Stateless implements Operator.
func (*Ingress) Stateless() bool { return true }

// Stateless implements Operator.
func (*Egress) Stateless() bool { return true }

// Stateless implements Operator.
func (*Reader) Stateless() bool { return false }

// Describe implements Operator.
func (b *Base) Describe() string { return fmt.Sprintf("B[%s]", b.Name) }

// Describe implements Operator.
func (*Ingress) Describe() string { return "ingress" }

// Describe implements Operator.
func (*Egress) Describe() string { return "egress" }

// Describe implements Operator.
func (r *Reader) Describe() string { return fmt.Sprintf("reader%v", r.Key) }

func identityColumns(parents [][]string) ([]string, error) {
	if len(parents) != 1 {
		return nil, errors.Newf("expected one parent, got %d", len(parents))
	}
	return parents[0], nil
}

func checkCols(cols []int, width int) error {
	for _, c := range cols {
		if c < 0 || c >= width {
			return errors.Newf("column %d out of range [0, %d)", c, width)
		}
	}
	return nil
}
