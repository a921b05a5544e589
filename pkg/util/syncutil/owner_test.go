// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package syncutil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOwner(t *testing.T) {
	var o Owner
	o.Claim()
	require.NotPanics(t, o.AssertOwned)

	done := make(chan interface{})
	go func() {
		defer func() { done <- recover() }()
		o.AssertOwned()
	}()
	require.NotNil(t, <-done)

	o.Release()
	go func() {
		defer func() { done <- recover() }()
		o.Claim()
	}()
	require.Nil(t, <-done)
}

func TestMutexAssertHeld(t *testing.T) {
	var mu Mutex
	require.Panics(t, mu.AssertHeld)
	mu.Lock()
	require.NotPanics(t, mu.AssertHeld)
	mu.Unlock()

	var rw RWMutex
	require.Panics(t, rw.AssertRHeld)
	rw.RLock()
	require.NotPanics(t, rw.AssertRHeld)
	rw.RUnlock()
}
