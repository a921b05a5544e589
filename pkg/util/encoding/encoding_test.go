// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package encoding

import (
	"bytes"
	"math"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIntOrdering(t *testing.T) {
	vals := []int64{math.MinInt64, -1000, -1, 0, 1, 42, math.MaxInt64}
	var prev []byte
	for _, v := range vals {
		enc := EncodeIntAscending(nil, v)
		if prev != nil {
			require.Equal(t, -1, bytes.Compare(prev, enc), "%d", v)
		}
		rest, dec, err := DecodeIntAscending(enc)
		require.NoError(t, err)
		require.Empty(t, rest)
		require.Equal(t, v, dec)
		prev = enc
	}
}

func TestFloatOrdering(t *testing.T) {
	vals := []float64{math.Inf(-1), -1.5, -0.25, 0, 0.25, 3, math.Inf(1)}
	var prev []byte
	for _, v := range vals {
		enc := EncodeFloatAscending(nil, v)
		if prev != nil {
			require.Equal(t, -1, bytes.Compare(prev, enc), "%f", v)
		}
		_, dec, err := DecodeFloatAscending(enc)
		require.NoError(t, err)
		require.Equal(t, v, dec)
		prev = enc
	}
	_, nan, err := DecodeFloatAscending(EncodeFloatAscending(nil, math.NaN()))
	require.NoError(t, err)
	require.True(t, math.IsNaN(nan))
}

func TestBytesOrderingAndEscaping(t *testing.T) {
	vals := []string{"", "\x00", "\x00\x00", "\x00\x01", "a", "a\x00b", "ab", "b"}
	encs := make([][]byte, len(vals))
	for i, v := range vals {
		encs[i] = EncodeStringAscending(nil, v)
		// Composite keys must decode back to their parts.
		composite := EncodeIntAscending(encs[i][:len(encs[i]):len(encs[i])], 7)
		rest, dec, err := DecodeBytesAscending(composite, nil)
		require.NoError(t, err)
		require.Equal(t, v, string(dec))
		_, n, err := DecodeIntAscending(rest)
		require.NoError(t, err)
		require.Equal(t, int64(7), n)
	}
	require.True(t, sort.SliceIsSorted(encs, func(i, j int) bool {
		return bytes.Compare(encs[i], encs[j]) < 0
	}))
}

func TestDescendingAndPrefixEnd(t *testing.T) {
	a := Descending(EncodeIntAscending(nil, 1))
	b := Descending(EncodeIntAscending(nil, 2))
	require.Equal(t, 1, bytes.Compare(a, b))

	require.Equal(t, []byte("ac"), PrefixEnd([]byte("ab")))
	require.Equal(t, []byte{0x02}, PrefixEnd([]byte{0x01, 0xff}))
	require.Nil(t, PrefixEnd([]byte{0xff, 0xff}))

	_, err := DecodeNullAscending(EncodeNullAscending(nil))
	require.NoError(t, err)
	m, err := PeekMarker(EncodeStringAscending(nil, "x"))
	require.NoError(t, err)
	require.Equal(t, BytesMarker, m)
}
