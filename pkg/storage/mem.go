// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package storage

import (
	"bytes"

	"github.com/cockroachdb/viewflow/pkg/util/syncutil"
	"github.com/google/btree"
)

type kv struct {
	key, value []byte
}

// Less implements btree.Item.
func (a *kv) Less(b btree.Item) bool {
	return bytes.Compare(a.key, b.(*kv).key) < 0
}

// MemEngine is an in-memory Engine backed by a B-tree. It is not durable.
type MemEngine struct {
	mu struct {
		syncutil.RWMutex
		tree   *btree.BTree
		closed bool
	}
}

var _ Engine = (*MemEngine)(nil)

// NewMemEngine returns an empty MemEngine.
func NewMemEngine() *MemEngine {
	e := &MemEngine{}
	e.mu.tree = btree.New(32)
	return e
}

// Get implements Engine.
func (e *MemEngine) Get(key []byte) ([]byte, bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.mu.closed {
		return nil, false, ErrClosed
	}
	item := e.mu.tree.Get(&kv{key: key})
	if item == nil {
		return nil, false, nil
	}
	return append([]byte(nil), item.(*kv).value...), true, nil
}

// ApplyBatch implements Engine.
func (e *MemEngine) ApplyBatch(ops []Op) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.mu.closed {
		return ErrClosed
	}
	for _, op := range ops {
		if op.Delete {
			e.mu.tree.Delete(&kv{key: op.Key})
			continue
		}
		e.mu.tree.ReplaceOrInsert(&kv{
			key:   append([]byte(nil), op.Key...),
			value: append([]byte(nil), op.Value...),
		})
	}
	return nil
}

// Scan implements Engine.
func (e *MemEngine) Scan(start, end []byte, fn func(key, value []byte) error) error {
	e.mu.RLock()
	if e.mu.closed {
		e.mu.RUnlock()
		return ErrClosed
	}
	// Collect first so that fn may call back into the engine.
	var items []*kv
	e.mu.tree.AscendRange(&kv{key: start}, &kv{key: end}, func(i btree.Item) bool {
		items = append(items, i.(*kv))
		return true
	})
	e.mu.RUnlock()
	for _, i := range items {
		if err := fn(i.key, i.value); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of keys.
func (e *MemEngine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.mu.tree.Len()
}

// Close implements Engine.
func (e *MemEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.mu.closed = true
	return nil
}
