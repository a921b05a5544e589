// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package storage

import (
	"fmt"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

func engines(t *testing.T) map[string]Engine {
	p, err := OpenPebble("")
	require.NoError(t, err)
	d, err := OpenPebble(t.TempDir())
	require.NoError(t, err)
	return map[string]Engine{
		"mem":         NewMemEngine(),
		"pebble-mem":  p,
		"pebble-disk": d,
	}
}

func TestEngine(t *testing.T) {
	for name, e := range engines(t) {
		t.Run(name, func(t *testing.T) {
			defer func() { require.NoError(t, e.Close()) }()

			var ops []Op
			for i := 0; i < 10; i++ {
				ops = append(ops, Op{Key: []byte(fmt.Sprintf("k%02d", i)), Value: []byte{byte(i)}})
			}
			require.NoError(t, e.ApplyBatch(ops))
			require.NoError(t, e.ApplyBatch([]Op{{Key: []byte("k03"), Delete: true}}))

			v, ok, err := e.Get([]byte("k04"))
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, []byte{4}, v)
			_, ok, err = e.Get([]byte("k03"))
			require.NoError(t, err)
			require.False(t, ok)

			var keys []string
			require.NoError(t, e.Scan([]byte("k02"), []byte("k06"), func(k, _ []byte) error {
				keys = append(keys, string(k))
				return nil
			}))
			require.Equal(t, []string{"k02", "k04", "k05"}, keys)

			stop := errors.New("stop")
			n := 0
			err = e.Scan([]byte("k"), []byte("l"), func(_, _ []byte) error {
				if n++; n == 2 {
					return stop
				}
				return nil
			})
			require.True(t, errors.Is(err, stop))
		})
	}
}

func TestRetryable(t *testing.T) {
	err := errors.New("boom")
	require.False(t, IsRetryable(err))
	wrapped := errors.Wrap(MarkRetryable(err), "writing")
	require.True(t, IsRetryable(wrapped))
	require.Contains(t, wrapped.Error(), "boom")
}

func TestMemEngineClosed(t *testing.T) {
	e := NewMemEngine()
	require.NoError(t, e.Close())
	require.True(t, errors.Is(e.ApplyBatch(nil), ErrClosed))
	_, _, err := e.Get([]byte("a"))
	require.True(t, errors.Is(err, ErrClosed))
}
