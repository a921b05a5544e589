// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package encoding implements order-preserving binary encodings. For any
// two values a < b of the same type, the ascending encoding of a sorts
// before the ascending encoding of b under bytes.Compare, and each
// encoding is self-delimiting so that values can be concatenated into
// composite keys.
package encoding

import (
	"encoding/binary"
	"math"

	"github.com/cockroachdb/errors"
)

// Type markers. Each encoded value starts with one of these, so that
// values of different types never compare equal and NULL sorts first.
const (
	NullMarker   byte = 0x00
	IntMarker    byte = 0x10
	FloatMarker  byte = 0x20
	BytesMarker  byte = 0x30
	escape       byte = 0x00
	escapedTerm  byte = 0x01
	escaped00    byte = 0xff
	escapeLength      = 2
)

// EncodeNullAscending appends the NULL marker.
func EncodeNullAscending(b []byte) []byte {
	return append(b, NullMarker)
}

// EncodeIntAscending appends an order-preserving encoding of v.
func EncodeIntAscending(b []byte, v int64) []byte {
	b = append(b, IntMarker)
	return binary.BigEndian.AppendUint64(b, uint64(v)^(1<<63))
}

// EncodeFloatAscending appends an order-preserving encoding of f. NaN sorts
// before every other float.
func EncodeFloatAscending(b []byte, f float64) []byte {
	b = append(b, FloatMarker)
	if math.IsNaN(f) {
		return binary.BigEndian.AppendUint64(b, 0)
	}
	u := math.Float64bits(f)
	if f < 0 || (f == 0 && math.Signbit(f)) {
		u = ^u
	} else {
		u |= 1 << 63
	}
	return binary.BigEndian.AppendUint64(b, u)
}

// EncodeBytesAscending appends an order-preserving, self-delimiting
// encoding of data. 0x00 bytes are escaped as 0x00 0xff and the value is
// terminated by 0x00 0x01.
func EncodeBytesAscending(b []byte, data []byte) []byte {
	b = append(b, BytesMarker)
	for _, c := range data {
		if c == escape {
			b = append(b, escape, escaped00)
			continue
		}
		b = append(b, c)
	}
	return append(b, escape, escapedTerm)
}

// EncodeStringAscending is EncodeBytesAscending for strings.
func EncodeStringAscending(b []byte, s string) []byte {
	return EncodeBytesAscending(b, []byte(s))
}

// EncodeUint64Ascending appends a fixed-width big-endian encoding of v
// without a type marker.
func EncodeUint64Ascending(b []byte, v uint64) []byte {
	return binary.BigEndian.AppendUint64(b, v)
}

// DecodeUint64Ascending decodes a value produced by EncodeUint64Ascending.
func DecodeUint64Ascending(b []byte) ([]byte, uint64, error) {
	if len(b) < 8 {
		return nil, 0, errors.Errorf("insufficient bytes to decode uint64: %d", len(b))
	}
	return b[8:], binary.BigEndian.Uint64(b), nil
}

// PeekMarker returns the type marker of the next encoded value.
func PeekMarker(b []byte) (byte, error) {
	if len(b) == 0 {
		return 0, errors.New("insufficient bytes to peek marker")
	}
	return b[0], nil
}

// DecodeIntAscending decodes a value produced by EncodeIntAscending.
func DecodeIntAscending(b []byte) ([]byte, int64, error) {
	if len(b) < 9 || b[0] != IntMarker {
		return nil, 0, errors.Errorf("did not find int marker in %x", b)
	}
	return b[9:], int64(binary.BigEndian.Uint64(b[1:]) ^ (1 << 63)), nil
}

// DecodeFloatAscending decodes a value produced by EncodeFloatAscending.
func DecodeFloatAscending(b []byte) ([]byte, float64, error) {
	if len(b) < 9 || b[0] != FloatMarker {
		return nil, 0, errors.Errorf("did not find float marker in %x", b)
	}
	u := binary.BigEndian.Uint64(b[1:])
	switch {
	case u == 0:
		return b[9:], math.NaN(), nil
	case u&(1<<63) != 0:
		u &^= 1 << 63
	default:
		u = ^u
	}
	return b[9:], math.Float64frombits(u), nil
}

// DecodeBytesAscending decodes a value produced by EncodeBytesAscending,
// appending the unescaped value to r.
func DecodeBytesAscending(b []byte, r []byte) ([]byte, []byte, error) {
	if len(b) == 0 || b[0] != BytesMarker {
		return nil, nil, errors.Errorf("did not find bytes marker in %x", b)
	}
	b = b[1:]
	for i := 0; i < len(b); i++ {
		if b[i] != escape {
			r = append(r, b[i])
			continue
		}
		if i+1 >= len(b) {
			return nil, nil, errors.Errorf("malformed escape in %x", b)
		}
		switch b[i+1] {
		case escapedTerm:
			return b[i+escapeLength:], r, nil
		case escaped00:
			r = append(r, 0)
			i++
		default:
			return nil, nil, errors.Errorf("unknown escape sequence 0x00 0x%02x", b[i+1])
		}
	}
	return nil, nil, errors.Errorf("did not find terminator in %x", b)
}

// DecodeNullAscending consumes a NULL marker.
func DecodeNullAscending(b []byte) ([]byte, error) {
	if len(b) == 0 || b[0] != NullMarker {
		return nil, errors.Errorf("did not find null marker in %x", b)
	}
	return b[1:], nil
}

// Descending inverts the bytes of an ascending encoding in place so that
// it sorts in the opposite order, and returns it.
func Descending(b []byte) []byte {
	for i := range b {
		b[i] = ^b[i]
	}
	return b
}

// PrefixEnd returns the smallest key that sorts after every key with the
// given prefix, or nil if there is none.
func PrefixEnd(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
