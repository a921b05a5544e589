// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package testutils

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/viewflow/pkg/util/retry"
)

// DefaultSucceedsSoonDuration is the maximum amount of time SucceedsSoon
// will wait.
const DefaultSucceedsSoonDuration = 45 * time.Second

// TestFataler is a slimmed down version of testing.TB for use in helper
// functions.
type TestFataler interface {
	Fatal(args ...interface{})
	Fatalf(format string, args ...interface{})
	Helper()
}

// SucceedsSoon fails the test (with t.Fatal) unless the supplied function
// runs without error within a preset maximum duration. The function is
// invoked immediately at first and then successively with an exponential
// backoff starting at 1ns and ending at DefaultSucceedsSoonDuration.
func SucceedsSoon(t TestFataler, fn func() error) {
	t.Helper()
	if err := SucceedsWithinError(fn, DefaultSucceedsSoonDuration); err != nil {
		t.Fatalf("condition failed to evaluate within %s: %s", DefaultSucceedsSoonDuration, err)
	}
}

// SucceedsWithinError returns nil if fn succeeds within duration, and the
// last error otherwise.
func SucceedsWithinError(fn func() error, duration time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), duration)
	defer cancel()
	opts := retry.Options{
		InitialBackoff: time.Nanosecond,
		MaxBackoff:     100 * time.Millisecond,
		Multiplier:     2,
	}
	var err error
	for r := retry.StartWithCtx(ctx, opts); r.Next(); {
		if err = fn(); err == nil {
			return nil
		}
	}
	if err == nil {
		err = errors.New("context done before first attempt")
	}
	return err
}
