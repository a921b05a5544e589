// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package domain

import (
	"github.com/cockroachdb/viewflow/pkg/util/ring"
	"github.com/cockroachdb/viewflow/pkg/util/syncutil"
)

// controlQueue is an unbounded multi-producer queue drained by the domain
// goroutine. Replay requests travel upstream on it, so it must never block
// a sender: domains only block on the channels of the domains below them.
type controlQueue struct {
	mu struct {
		syncutil.Mutex
		buf ring.Buffer[control]
	}
	// notify holds a token while the queue is non-empty.
	notify chan struct{}
}

func newControlQueue() *controlQueue {
	return &controlQueue{notify: make(chan struct{}, 1)}
}

func (q *controlQueue) push(c control) {
	q.mu.Lock()
	q.mu.buf.PushBack(c)
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// drain removes and returns every queued message.
func (q *controlQueue) drain() []control {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.mu.buf.Drain()
}

func (q *controlQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.mu.buf.Len()
}
