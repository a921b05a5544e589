// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package storage defines the key-value contract base tables are persisted
// through, with a Pebble implementation and an in-memory one.
package storage

import "github.com/cockroachdb/errors"

// Op is one write of a batch. A Delete op ignores Value.
type Op struct {
	Key    []byte
	Value  []byte
	Delete bool
}

// Engine is a persistent ordered key-value store.
type Engine interface {
	// Get returns the value of key, or false if it is absent.
	Get(key []byte) ([]byte, bool, error)
	// ApplyBatch applies the ops atomically. The batch is durable once
	// ApplyBatch returns.
	ApplyBatch(ops []Op) error
	// Scan calls fn for every key in [start, end) in ascending order. The
	// slices passed to fn are only valid for the duration of the call.
	Scan(start, end []byte, fn func(key, value []byte) error) error
	// Close releases the engine's resources.
	Close() error
}

var errRetryable = errors.New("retryable storage error")

// MarkRetryable marks err as a transient failure that may succeed if the
// operation is retried.
func MarkRetryable(err error) error {
	return errors.Mark(err, errRetryable)
}

// IsRetryable returns whether err was marked with MarkRetryable.
func IsRetryable(err error) bool {
	return errors.Is(err, errRetryable)
}

// ErrClosed is returned by operations on a closed engine.
var ErrClosed = errors.New("storage engine closed")
