// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package retry implements exponential backoff loops.
//
// The canonical usage is:
//
//	for r := retry.StartWithCtx(ctx, opts); r.Next(); {
//		if err := do(); err == nil || !isRetryable(err) {
//			break
//		}
//	}
package retry

import (
	"context"
	"math/rand"
	"time"
)

// Options configures a retry loop.
type Options struct {
	InitialBackoff      time.Duration
	MaxBackoff          time.Duration
	Multiplier          float64
	RandomizationFactor float64
	// MaxRetries is the number of retries after the first attempt. Zero means
	// retry until the context is done.
	MaxRetries int
}

// Retry tracks the state of a retry loop.
type Retry struct {
	opts           Options
	ctx            context.Context
	currentAttempt int
	isReset        bool
}

// StartWithCtx returns a new Retry initialized to the given options. The
// first call to Next returns immediately.
func StartWithCtx(ctx context.Context, opts Options) Retry {
	if opts.InitialBackoff == 0 {
		opts.InitialBackoff = 50 * time.Millisecond
	}
	if opts.MaxBackoff == 0 {
		opts.MaxBackoff = 2 * time.Second
	}
	if opts.Multiplier == 0 {
		opts.Multiplier = 2
	}
	r := Retry{opts: opts, ctx: ctx}
	r.Reset()
	return r
}

// Reset resets the loop so the next call to Next returns immediately.
func (r *Retry) Reset() {
	r.currentAttempt = 0
	r.isReset = true
}

// CurrentAttempt returns the number of retries so far.
func (r *Retry) CurrentAttempt() int {
	return r.currentAttempt
}

func (r Retry) retryIn() time.Duration {
	backoff := float64(r.opts.InitialBackoff)
	for i := 0; i < r.currentAttempt; i++ {
		backoff *= r.opts.Multiplier
	}
	if max := float64(r.opts.MaxBackoff); backoff > max {
		backoff = max
	}
	delta := r.opts.RandomizationFactor * backoff
	return time.Duration(backoff - delta + rand.Float64()*(2*delta+1))
}

// Next returns whether the loop should continue, sleeping for the backoff
// interval first unless this is the first attempt. It returns false when the
// retries are exhausted or the context is done.
func (r *Retry) Next() bool {
	if r.isReset {
		r.isReset = false
		return true
	}
	if r.opts.MaxRetries > 0 && r.currentAttempt >= r.opts.MaxRetries {
		return false
	}
	t := time.NewTimer(r.retryIn())
	defer t.Stop()
	select {
	case <-t.C:
		r.currentAttempt++
		return true
	case <-r.ctx.Done():
		return false
	}
}
