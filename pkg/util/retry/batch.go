// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package retry

import (
	"context"

	"github.com/cockroachdb/errors"
)

// Batch processes a run of items in chunks, halving the chunk size when a
// chunk fails with a retriable error. Users must provide Do and may define
// IsRetriableError and OnRetry.
type Batch struct {
	// Do executes the operation over the items [processed, processed+size).
	// If the whole chunk succeeds it returns nil.
	Do func(ctx context.Context, processed, size int) error

	// IsRetriableError determines whether an error is retriable. If it is
	// nil or returns false, the error is returned to the caller.
	IsRetriableError func(error) bool

	// OnRetry is called before a chunk is retried with the reduced size. A
	// non-nil return aborts the batch with that error.
	OnRetry func(err error, size int) error

	// Backoff, if set, is waited on between retries of the same chunk.
	Backoff Options
}

// Run processes total items, starting with chunks of size chunkSize. It
// stops at the first non-retriable error, or when a chunk of size one keeps
// failing past the backoff's retry budget.
func (b *Batch) Run(ctx context.Context, total, chunkSize int) error {
	if chunkSize <= 0 {
		return errors.AssertionFailedf("batch size must be a positive number: %d", chunkSize)
	}
	size := min(chunkSize, total)
	r := StartWithCtx(ctx, b.Backoff)
	for processed := 0; processed < total; {
		err := b.Do(ctx, processed, size)
		if err == nil {
			processed += size
			size = min(chunkSize, total-processed)
			r.Reset()
			continue
		}
		if b.IsRetriableError == nil || !b.IsRetriableError(err) {
			return err
		}
		size = max(size/2, 1)
		if b.OnRetry != nil {
			if retryErr := b.OnRetry(err, size); retryErr != nil {
				return retryErr
			}
		}
		if !r.Next() {
			return errors.Wrapf(err, "giving up after %d attempts", r.CurrentAttempt())
		}
	}
	return nil
}
