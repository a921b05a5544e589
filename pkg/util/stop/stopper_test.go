// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package stop

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

func TestStopperQuiescesTasks(t *testing.T) {
	ctx := context.Background()
	s := NewStopper()

	started := make(chan struct{})
	require.NoError(t, s.RunAsyncTask(ctx, "worker", func(ctx context.Context) {
		close(started)
		<-s.ShouldQuiesce()
	}))
	<-started
	require.Equal(t, map[string]int{"worker": 1}, s.RunningTasks())

	var order []int
	s.AddCloser(CloserFn(func() { order = append(order, 1) }))
	s.AddCloser(CloserFn(func() { order = append(order, 2) }))
	s.Stop(ctx)
	require.Equal(t, []int{2, 1}, order)
	require.Empty(t, s.RunningTasks())

	err := s.RunAsyncTask(ctx, "late", func(context.Context) {})
	require.True(t, errors.Is(err, ErrUnavailable))

	// A second Stop is a no-op.
	s.Stop(ctx)
	<-s.IsStopped()
}
