// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package row

import (
	"github.com/cockroachdb/redact"
)

// Key is the encoded value of the lookup columns of a row. Keys are
// comparable, so they can be used directly as map keys, and they sort in
// the order of the datums they encode.
type Key string

// MakeKey encodes the given columns of r.
func MakeKey(r Row, cols []int) Key {
	var buf []byte
	for _, c := range cols {
		buf = EncodeDatum(buf, r[c])
	}
	return Key(buf)
}

// KeyOf encodes the given datums.
func KeyOf(datums ...Datum) Key {
	return Key(Row(datums).Encode(nil))
}

// Datums decodes the key back into its datums.
func (k Key) Datums() (Row, error) {
	var out Row
	b := []byte(k)
	for len(b) > 0 {
		d, rest, err := DecodeDatum(b)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
		b = rest
	}
	return out, nil
}

// String implements fmt.Stringer.
func (k Key) String() string {
	return redact.StringWithoutMarkers(k)
}

// SafeFormat implements redact.SafeFormatter.
func (k Key) SafeFormat(w redact.SafePrinter, _ rune) {
	d, err := k.Datums()
	if err != nil {
		w.Printf("%x", []byte(k))
		return
	}
	if len(d) == 1 {
		w.SafeRune('[')
		w.Print(d[0].String())
		w.SafeRune(']')
		return
	}
	d.SafeFormat(w, 'v')
}
