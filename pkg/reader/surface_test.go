// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package reader

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/viewflow/pkg/row"
	"github.com/cockroachdb/viewflow/pkg/util/leaktest"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func key(i int) row.Key { return row.KeyOf(row.DInt(i)) }

func rows(vals ...int) []row.Row {
	out := make([]row.Row, len(vals))
	for i, v := range vals {
		out[i] = row.Row{row.DInt(v)}
	}
	return out
}

func TestSurfaceBatchVisibility(t *testing.T) {
	s := NewSurface(true)
	s.Set(key(1), rows(10))
	s.Set(key(2), rows(20))
	_, ok := s.Get(key(1))
	require.False(t, ok, "staged changes must not be visible")
	require.True(t, s.Dirty())

	s.Publish()
	got, ok := s.Get(key(1))
	require.True(t, ok)
	require.Equal(t, rows(10), got)
	require.Equal(t, 2, s.Len())
	require.False(t, s.Dirty())

	// The retired copy caught up: the next batch starts from both keys.
	s.Delete(key(1))
	s.Set(key(3), nil)
	s.Publish()
	_, ok = s.Get(key(1))
	require.False(t, ok)
	got, ok = s.Get(key(3))
	require.True(t, ok, "an empty filled key is not a hole")
	require.Empty(t, got)
	got, ok = s.Get(key(2))
	require.True(t, ok)
	require.Equal(t, rows(20), got)
}

func TestSurfaceNoTornReads(t *testing.T) {
	defer leaktest.AfterTest(t)()

	// Every batch moves one unit between two keys; readers must always see
	// the same total.
	s := NewSurface(true)
	s.Set(key(0), rows(100))
	s.Set(key(1), rows(0))
	s.Publish()
	s.Release()

	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < 4; i++ {
		g.Go(func() error {
			for ctx.Err() == nil {
				// Read both keys inside one view of the surface.
				sd := s.enter()
				a, b := sd.m[key(0)], sd.m[key(1)]
				sd.readers.Add(-1)
				if total := int(a[0][0].(row.DInt) + b[0][0].(row.DInt)); total != 100 {
					return errors.Newf("torn read: total %d", total)
				}
			}
			return nil
		})
	}
	g.Go(func() error {
		defer cancel()
		s.Claim()
		defer s.Release()
		for i := 1; i <= 2000; i++ {
			s.Set(key(0), rows(100-i%100))
			s.Set(key(1), rows(i%100))
			s.Publish()
		}
		return nil
	})
	require.NoError(t, g.Wait())
}

func TestSurfaceWaitCoalesces(t *testing.T) {
	defer leaktest.AfterTest(t)()

	s := NewSurface(true)
	var triggers atomic.Int32
	fill := make(chan struct{})
	trigger := func() {
		if triggers.Add(1) == 1 {
			close(fill)
		}
	}

	ctx := context.Background()
	g, _ := errgroup.WithContext(ctx)
	const readers = 8
	results := make([][]row.Row, readers)
	for i := 0; i < readers; i++ {
		i := i
		g.Go(func() error {
			r, err := s.Wait(ctx, key(7), trigger)
			results[i] = r
			return err
		})
	}
	<-fill
	// Give the other readers time to register behind the first one.
	time.Sleep(10 * time.Millisecond)
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Set(key(7), rows(1, 2))
		s.Publish()
	}()
	<-done
	require.NoError(t, g.Wait())
	require.Equal(t, int32(1), triggers.Load())
	for _, r := range results {
		require.Equal(t, rows(1, 2), r)
	}

	// The key is filled: no trigger.
	r, err := s.Wait(ctx, key(7), func() { t.Fatal("unexpected trigger") })
	require.NoError(t, err)
	require.Equal(t, rows(1, 2), r)
}

func TestSurfaceWaitCancelAndFail(t *testing.T) {
	defer leaktest.AfterTest(t)()

	s := NewSurface(true)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := s.Wait(ctx, key(1), func() {})
	require.True(t, errors.Is(err, context.DeadlineExceeded))

	boom := errors.New("domain halted")
	errCh := make(chan error, 1)
	go func() {
		_, err := s.Wait(context.Background(), key(2), func() { s.Fail(boom) })
		errCh <- err
	}()
	require.True(t, errors.Is(<-errCh, boom))
	_, err = s.Wait(context.Background(), key(3), func() {})
	require.True(t, errors.Is(err, boom))
}

func TestFullSurface(t *testing.T) {
	s := NewSurface(false)
	r, err := s.Wait(context.Background(), key(1), func() { t.Fatal("unexpected trigger") })
	require.NoError(t, err)
	require.Empty(t, r)

	s.Set(key(1), rows(1))
	s.Publish()
	s.Set(key(1), nil)
	s.Publish()
	_, ok := s.Get(key(1))
	require.False(t, ok, "an empty key of a full surface is dropped")
}
