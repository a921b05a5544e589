// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package row

import (
	"strings"

	"github.com/cockroachdb/errors"
)

// Type constrains the datums a column accepts. NULL is accepted by every
// type.
type Type int

const (
	// AnyType accepts every datum.
	AnyType Type = iota
	// IntType accepts DInt.
	IntType
	// NumberType accepts DInt and DFloat.
	NumberType
	// StringType accepts DString.
	StringType
)

var typeNames = [...]string{
	AnyType:    "any",
	IntType:    "int",
	NumberType: "number",
	StringType: "string",
}

func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return "unknown"
}

// ParseType parses a type name. The empty string is AnyType.
func ParseType(s string) (Type, error) {
	if s == "" {
		return AnyType, nil
	}
	for t, name := range typeNames {
		if strings.EqualFold(s, name) {
			return Type(t), nil
		}
	}
	return 0, errors.Newf("unknown column type %q", s)
}

// Numeric reports whether every non-NULL datum of the type is a number.
func (t Type) Numeric() bool { return t == IntType || t == NumberType }

// Accepts reports whether d is a value of the type.
func (t Type) Accepts(d Datum) bool {
	if d == DNull || t == AnyType {
		return true
	}
	switch d.(type) {
	case DInt:
		return t == IntType || t == NumberType
	case DFloat:
		return t == NumberType
	case DString:
		return t == StringType
	}
	return false
}

// CheckTypes returns an error naming the first column of r whose datum
// types does not accept. Columns beyond types are unconstrained.
func CheckTypes(r Row, names []string, types []Type) error {
	for i, t := range types {
		if i < len(r) && !t.Accepts(r[i]) {
			return errors.Newf("column %s of %s must be of type %s, got %q", names[i], r, t, r[i])
		}
	}
	return nil
}
