// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package storage

import (
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

// PebbleEngine is an Engine backed by a Pebble database.
type PebbleEngine struct {
	db *pebble.DB
}

var _ Engine = (*PebbleEngine)(nil)

// OpenPebble opens (creating if needed) a Pebble database in dir. If dir is
// empty the database lives in memory.
func OpenPebble(dir string) (*PebbleEngine, error) {
	opts := &pebble.Options{}
	if dir == "" {
		opts.FS = vfs.NewMem()
	}
	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, errors.Wrapf(err, "opening pebble at %q", dir)
	}
	return &PebbleEngine{db: db}, nil
}

// Get implements Engine.
func (e *PebbleEngine) Get(key []byte) ([]byte, bool, error) {
	v, closer, err := e.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, classify(err)
	}
	defer closer.Close()
	return append([]byte(nil), v...), true, nil
}

// ApplyBatch implements Engine.
func (e *PebbleEngine) ApplyBatch(ops []Op) error {
	b := e.db.NewBatch()
	defer b.Close()
	for _, op := range ops {
		var err error
		if op.Delete {
			err = b.Delete(op.Key, nil)
		} else {
			err = b.Set(op.Key, op.Value, nil)
		}
		if err != nil {
			return classify(err)
		}
	}
	return classify(b.Commit(pebble.Sync))
}

// Scan implements Engine.
func (e *PebbleEngine) Scan(start, end []byte, fn func(key, value []byte) error) error {
	iter, err := e.db.NewIter(&pebble.IterOptions{LowerBound: start, UpperBound: end})
	if err != nil {
		return classify(err)
	}
	for valid := iter.First(); valid; valid = iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			_ = iter.Close()
			return err
		}
	}
	return classify(iter.Close())
}

// Close implements Engine.
func (e *PebbleEngine) Close() error {
	return e.db.Close()
}

// classify maps Pebble errors onto the package's error markers.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pebble.ErrClosed) {
		return errors.Mark(err, ErrClosed)
	}
	return err
}
