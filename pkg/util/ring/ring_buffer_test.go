// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package ring

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuffer(t *testing.T) {
	var b Buffer[int]
	_, ok := b.PopFront()
	require.False(t, ok)

	// Interleave pushes and pops so that the ring wraps around before it
	// has to grow.
	next, want := 0, 0
	for round := 0; round < 50; round++ {
		for i := 0; i < round%7+1; i++ {
			b.PushBack(next)
			next++
		}
		for i := 0; i < round%3+1 && b.Len() > 0; i++ {
			e, ok := b.PopFront()
			require.True(t, ok)
			require.Equal(t, want, e)
			want++
		}
	}
	require.Equal(t, next-want, b.Len())
	for i := 0; i < b.Len(); i++ {
		require.Equal(t, want+i, b.Get(i))
	}

	b.PushFront(-1)
	require.Equal(t, -1, b.Get(0))
	drained := b.Drain()
	require.Equal(t, next-want+1, len(drained))
	require.Equal(t, 0, b.Len())
}
