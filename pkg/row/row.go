// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package row defines the values that flow through the dataflow graph:
// datums, rows, signed records and encoded lookup keys.
package row

import (
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/redact"
)

// Row is an ordered list of column values.
type Row []Datum

// rowOverhead approximates the slice header and allocation overhead.
const rowOverhead = 32

// Size is an estimate of the memory footprint of the row.
func (r Row) Size() int64 {
	sz := int64(rowOverhead)
	for _, d := range r {
		sz += d.Size()
	}
	return sz
}

// Compare orders rows lexicographically by column.
func (r Row) Compare(o Row) int {
	for i := 0; i < len(r) && i < len(o); i++ {
		if c := r[i].Compare(o[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(r) < len(o):
		return -1
	case len(r) > len(o):
		return 1
	}
	return 0
}

// Equal reports whether the rows are structurally identical, including the
// datum types.
func (r Row) Equal(o Row) bool {
	if len(r) != len(o) {
		return false
	}
	for i := range r {
		if r[i] != o[i] {
			return false
		}
	}
	return true
}

// Project returns a new row made of the given columns.
func (r Row) Project(cols []int) Row {
	out := make(Row, len(cols))
	for i, c := range cols {
		out[i] = r[c]
	}
	return out
}

// Encode appends the order-preserving encoding of every column. Two rows
// have equal encodings iff they are Equal.
func (r Row) Encode(b []byte) []byte {
	for _, d := range r {
		b = EncodeDatum(b, d)
	}
	return b
}

// DecodeRow decodes n datums from the front of b.
func DecodeRow(b []byte, n int) (Row, []byte, error) {
	out := make(Row, n)
	for i := range out {
		var err error
		out[i], b, err = DecodeDatum(b)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "decoding column %d", i)
		}
	}
	return out, b, nil
}

// String implements fmt.Stringer.
func (r Row) String() string {
	return redact.StringWithoutMarkers(r)
}

// SafeFormat implements redact.SafeFormatter. Column values are user data
// and are redactable.
func (r Row) SafeFormat(w redact.SafePrinter, _ rune) {
	w.SafeRune('(')
	for i, d := range r {
		if i > 0 {
			w.SafeString(", ")
		}
		w.Print(d.String())
	}
	w.SafeRune(')')
}

// Record is a row with a sign: a positive record inserts the row, a
// negative record retracts it.
type Record struct {
	Row      Row
	Positive bool
}

// Pos returns an insertion of r.
func Pos(r Row) Record { return Record{Row: r, Positive: true} }

// Neg returns a retraction of r.
func Neg(r Row) Record { return Record{Row: r} }

// Negate returns the record with the opposite sign.
func (r Record) Negate() Record {
	return Record{Row: r.Row, Positive: !r.Positive}
}

// Sign returns +1 or -1.
func (r Record) Sign() int64 {
	if r.Positive {
		return 1
	}
	return -1
}

// String implements fmt.Stringer.
func (r Record) String() string {
	return redact.StringWithoutMarkers(r)
}

// SafeFormat implements redact.SafeFormatter.
func (r Record) SafeFormat(w redact.SafePrinter, _ rune) {
	if r.Positive {
		w.SafeRune('+')
	} else {
		w.SafeRune('-')
	}
	r.Row.SafeFormat(w, 'v')
}

// Records is an ordered batch of records.
type Records []Record

// FromRows returns insertions of every row.
func FromRows(rows []Row) Records {
	out := make(Records, len(rows))
	for i, r := range rows {
		out[i] = Pos(r)
	}
	return out
}

// Rows returns the rows of the records, ignoring signs.
func (rs Records) Rows() []Row {
	out := make([]Row, len(rs))
	for i, r := range rs {
		out[i] = r.Row
	}
	return out
}

// Consolidate cancels structurally identical records with opposite signs.
// Surviving records keep the order in which their rows first appeared.
func (rs Records) Consolidate() Records {
	if len(rs) < 2 {
		return rs
	}
	type acc struct {
		row   Row
		count int64
	}
	var order []string
	counts := make(map[string]*acc, len(rs))
	var buf []byte
	for _, r := range rs {
		buf = r.Row.Encode(buf[:0])
		a, ok := counts[string(buf)]
		if !ok {
			a = &acc{row: r.Row}
			counts[string(buf)] = a
			order = append(order, string(buf))
		}
		a.count += r.Sign()
	}
	out := make(Records, 0, len(rs))
	for _, k := range order {
		a := counts[k]
		for ; a.count > 0; a.count-- {
			out = append(out, Pos(a.row))
		}
		for ; a.count < 0; a.count++ {
			out = append(out, Neg(a.row))
		}
	}
	return out
}

// String implements fmt.Stringer.
func (rs Records) String() string {
	var b strings.Builder
	b.WriteByte('[')
	for i, r := range rs {
		if i > 0 {
			b.WriteString(" ")
		}
		b.WriteString(r.String())
	}
	b.WriteByte(']')
	return b.String()
}

// ParseRow parses the textual form of a row, "(1, a, NULL)". The
// parentheses are optional.
func ParseRow(s string) Row {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(strings.TrimPrefix(s, "("), ")")
	if strings.TrimSpace(s) == "" {
		return Row{}
	}
	fields := strings.Split(s, ",")
	out := make(Row, len(fields))
	for i, f := range fields {
		out[i] = ParseDatum(strings.TrimSpace(f))
	}
	return out
}

// ParseRecord parses a signed row, "+(1, a)" or "-(1, a)".
func ParseRecord(s string) (Record, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Record{}, errors.New("empty record")
	}
	switch s[0] {
	case '+':
		return Pos(ParseRow(s[1:])), nil
	case '-':
		return Neg(ParseRow(s[1:])), nil
	}
	return Record{}, errors.Newf("record %q must start with + or -", s)
}

// ParseRecords parses one record per non-empty line.
func ParseRecords(s string) (Records, error) {
	var out Records
	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		r, err := ParseRecord(line)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}
