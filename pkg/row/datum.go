// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package row

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/viewflow/pkg/util/encoding"
)

// Datum is a single column value. The set of implementations is closed:
// DInt, DFloat, DString and DNull.
type Datum interface {
	// Compare returns -1, 0 or 1. NULL sorts before everything, numbers
	// compare by value across DInt and DFloat, and strings sort last.
	Compare(other Datum) int
	// Size is an estimate of the memory footprint of the datum.
	Size() int64
	// String renders the datum in the format accepted by ParseDatum.
	String() string

	encodeKey(b []byte) []byte
}

// DInt is a 64-bit integer datum.
type DInt int64

// DFloat is a 64-bit float datum.
type DFloat float64

// DString is a string datum.
type DString string

type dNull struct{}

// DNull is the NULL datum.
var DNull Datum = dNull{}

const datumOverhead = 16

func rank(d Datum) int {
	switch d.(type) {
	case dNull:
		return 0
	case DInt, DFloat:
		return 1
	case DString:
		return 2
	}
	panic(errors.AssertionFailedf("unknown datum type %T", d))
}

func asFloat(d Datum) float64 {
	switch t := d.(type) {
	case DInt:
		return float64(t)
	case DFloat:
		return float64(t)
	}
	panic(errors.AssertionFailedf("datum %T is not numeric", d))
}

func cmpRank(a, b Datum) (int, bool) {
	ra, rb := rank(a), rank(b)
	switch {
	case ra < rb:
		return -1, true
	case ra > rb:
		return 1, true
	}
	return 0, false
}

// Compare implements Datum.
func (d DInt) Compare(other Datum) int {
	if c, ok := cmpRank(d, other); ok {
		return c
	}
	if o, ok := other.(DInt); ok {
		switch {
		case d < o:
			return -1
		case d > o:
			return 1
		}
		return 0
	}
	return compareFloats(float64(d), asFloat(other))
}

// Compare implements Datum.
func (d DFloat) Compare(other Datum) int {
	if c, ok := cmpRank(d, other); ok {
		return c
	}
	return compareFloats(float64(d), asFloat(other))
}

func compareFloats(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	case a == b:
		return 0
	case math.IsNaN(a) && math.IsNaN(b):
		return 0
	case math.IsNaN(a):
		return -1
	}
	return 1
}

// Compare implements Datum.
func (d DString) Compare(other Datum) int {
	if c, ok := cmpRank(d, other); ok {
		return c
	}
	return strings.Compare(string(d), string(other.(DString)))
}

// Compare implements Datum.
func (dNull) Compare(other Datum) int {
	if _, ok := other.(dNull); ok {
		return 0
	}
	return -1
}

// Size implements Datum.
func (DInt) Size() int64 { return datumOverhead }

// Size implements Datum.
func (DFloat) Size() int64 { return datumOverhead }

// Size implements Datum.
func (d DString) Size() int64 { return datumOverhead + int64(len(d)) }

// Size implements Datum.
func (dNull) Size() int64 { return datumOverhead }

// String implements Datum.
func (d DInt) String() string { return strconv.FormatInt(int64(d), 10) }

// String implements Datum.
func (d DFloat) String() string {
	s := strconv.FormatFloat(float64(d), 'g', -1, 64)
	if !strings.ContainsAny(s, ".eEnN") {
		s += ".0"
	}
	return s
}

// String implements Datum.
func (d DString) String() string { return string(d) }

// String implements Datum.
func (dNull) String() string { return "NULL" }

func (d DInt) encodeKey(b []byte) []byte   { return encoding.EncodeIntAscending(b, int64(d)) }
func (d DFloat) encodeKey(b []byte) []byte { return encoding.EncodeFloatAscending(b, float64(d)) }
func (d DString) encodeKey(b []byte) []byte {
	return encoding.EncodeStringAscending(b, string(d))
}
func (dNull) encodeKey(b []byte) []byte { return encoding.EncodeNullAscending(b) }

// EncodeDatum appends the order-preserving encoding of d.
func EncodeDatum(b []byte, d Datum) []byte {
	return d.encodeKey(b)
}

// DecodeDatum decodes one datum from the front of b.
func DecodeDatum(b []byte) (Datum, []byte, error) {
	m, err := encoding.PeekMarker(b)
	if err != nil {
		return nil, nil, err
	}
	switch m {
	case encoding.NullMarker:
		rest, err := encoding.DecodeNullAscending(b)
		return DNull, rest, err
	case encoding.IntMarker:
		rest, v, err := encoding.DecodeIntAscending(b)
		return DInt(v), rest, err
	case encoding.FloatMarker:
		rest, v, err := encoding.DecodeFloatAscending(b)
		return DFloat(v), rest, err
	case encoding.BytesMarker:
		rest, v, err := encoding.DecodeBytesAscending(b, nil)
		return DString(v), rest, err
	}
	return nil, nil, errors.Errorf("unknown datum marker 0x%02x", m)
}

// ParseDatum parses the textual form of a datum: NULL, an integer, a float,
// or a string (optionally single-quoted).
func ParseDatum(s string) Datum {
	if strings.EqualFold(s, "null") {
		return DNull
	}
	if len(s) >= 2 && s[0] == '\'' && s[len(s)-1] == '\'' {
		return DString(s[1 : len(s)-1])
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return DInt(i)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return DFloat(f)
	}
	return DString(s)
}

// Add returns a + b for numeric datums. NULL is the additive identity. The
// result is a DInt if both operands are integers.
func Add(a, b Datum) (Datum, error) {
	if a == DNull {
		return b, nil
	}
	if b == DNull {
		return a, nil
	}
	ai, aok := a.(DInt)
	bi, bok := b.(DInt)
	if aok && bok {
		return ai + bi, nil
	}
	if rank(a) != 1 || rank(b) != 1 {
		return nil, errors.Newf("cannot add %T and %T", a, b)
	}
	return DFloat(asFloat(a) + asFloat(b)), nil
}

// Negate returns -d for a numeric datum.
func Negate(d Datum) (Datum, error) {
	switch t := d.(type) {
	case DInt:
		return -t, nil
	case DFloat:
		return -t, nil
	case dNull:
		return DNull, nil
	}
	return nil, errors.Newf("cannot negate %T", d)
}

// IsZero reports whether d is a numeric zero.
func IsZero(d Datum) bool {
	switch t := d.(type) {
	case DInt:
		return t == 0
	case DFloat:
		return t == 0
	}
	return false
}

var _ fmt.Stringer = DInt(0)
