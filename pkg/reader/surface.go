// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package reader implements the read side of a view: a double-buffered map
// from keys to rows that clients read without locks while the owning
// domain applies changes to it.
//
// The surface keeps two copies of the map. Readers use the active copy;
// the writer changes the other one and logs each change. Publish swaps the
// copies, waits for readers still inside the retired copy to leave, and
// then replays the log onto it. A reader therefore sees either every
// change of a published batch or none of them.
package reader

import (
	"context"
	"runtime"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/viewflow/pkg/row"
	"github.com/cockroachdb/viewflow/pkg/util/syncutil"
)

type side struct {
	m       map[row.Key][]row.Row
	readers atomic.Int64
}

type op struct {
	key  row.Key
	rows []row.Row
	del  bool
}

func (o op) apply(m map[row.Key][]row.Row) {
	if o.del {
		delete(m, o.key)
	} else {
		m[o.key] = o.rows
	}
}

// Surface is the readable state of a reader node.
type Surface struct {
	partial bool
	active  atomic.Pointer[side]
	sides   [2]*side

	// Writer state, owned by the domain goroutine.
	owner   syncutil.Owner
	log     []op
	changed map[row.Key]bool

	mu struct {
		syncutil.Mutex
		waiters map[row.Key]chan struct{}
		err     error
	}
}

// NewSurface creates an empty surface. On a partial surface an absent key
// is a hole that reads must wait on; on a full surface it is empty.
func NewSurface(partial bool) *Surface {
	s := &Surface{
		partial: partial,
		changed: map[row.Key]bool{},
	}
	s.sides[0] = &side{m: map[row.Key][]row.Row{}}
	s.sides[1] = &side{m: map[row.Key][]row.Row{}}
	s.active.Store(s.sides[0])
	s.mu.waiters = map[row.Key]chan struct{}{}
	return s
}

// Partial returns whether absent keys are holes.
func (s *Surface) Partial() bool { return s.partial }

// enter returns the active side with a reader registered on it.
func (s *Surface) enter() *side {
	for {
		sd := s.active.Load()
		sd.readers.Add(1)
		if s.active.Load() == sd {
			return sd
		}
		// The sides were swapped in between; the writer may already be
		// changing this one.
		sd.readers.Add(-1)
	}
}

// Get returns the published rows of key. It returns false if the key is
// absent. It never blocks.
func (s *Surface) Get(key row.Key) ([]row.Row, bool) {
	sd := s.enter()
	rows, ok := sd.m[key]
	sd.readers.Add(-1)
	return rows, ok
}

// Len returns the number of published keys.
func (s *Surface) Len() int {
	sd := s.enter()
	n := len(sd.m)
	sd.readers.Add(-1)
	return n
}

// Wait returns the rows of key, blocking until they are published if the
// key is a hole. trigger is called to request a fill, at most once per
// hole: only by the first caller waiting on the key.
func (s *Surface) Wait(ctx context.Context, key row.Key, trigger func()) ([]row.Row, error) {
	for {
		if rows, ok := s.Get(key); ok || !s.partial {
			return rows, nil
		}
		s.mu.Lock()
		if err := s.mu.err; err != nil {
			s.mu.Unlock()
			return nil, err
		}
		ch, ok := s.mu.waiters[key]
		first := !ok
		if first {
			ch = make(chan struct{})
			s.mu.waiters[key] = ch
		}
		s.mu.Unlock()

		// Check again: the key may have been published between the first
		// lookup and the registration, in which case nobody will close ch.
		if rows, ok := s.Get(key); ok {
			return rows, nil
		}
		if first {
			trigger()
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Set stages the rows of key for the next publish.
func (s *Surface) Set(key row.Key, rows []row.Row) {
	s.owner.AssertOwned()
	if !s.partial && len(rows) == 0 {
		s.Delete(key)
		return
	}
	s.stage(op{key: key, rows: rows})
}

// Delete stages the removal of key for the next publish. On a partial
// surface the key becomes a hole.
func (s *Surface) Delete(key row.Key) {
	s.owner.AssertOwned()
	s.stage(op{key: key, del: true})
}

func (s *Surface) stage(o op) {
	o.apply(s.inactive().m)
	s.log = append(s.log, o)
	s.changed[o.key] = true
}

func (s *Surface) inactive() *side {
	if s.active.Load() == s.sides[0] {
		return s.sides[1]
	}
	return s.sides[0]
}

// Dirty returns whether changes are staged.
func (s *Surface) Dirty() bool {
	return len(s.log) > 0
}

// Publish makes the staged changes visible at once and wakes the readers
// waiting on the keys that were filled.
func (s *Surface) Publish() {
	s.owner.AssertOwned()
	if len(s.log) == 0 {
		return
	}
	old := s.active.Load()
	s.active.Store(s.inactive())
	for old.readers.Load() > 0 {
		runtime.Gosched()
	}
	for _, o := range s.log {
		o.apply(old.m)
	}
	s.log = s.log[:0]

	s.mu.Lock()
	for k := range s.changed {
		if ch, ok := s.mu.waiters[k]; ok {
			// A deleted key stays a hole; waking its waiters makes one of
			// them trigger a new fill.
			close(ch)
			delete(s.mu.waiters, k)
		}
		delete(s.changed, k)
	}
	s.mu.Unlock()
}

// Fail wakes every waiter with err and makes future waits fail. It is
// used when the owning domain stops.
func (s *Surface) Fail(err error) {
	if err == nil {
		err = errors.AssertionFailedf("surface failed without an error")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mu.err == nil {
		s.mu.err = err
	}
	for k, ch := range s.mu.waiters {
		close(ch)
		delete(s.mu.waiters, k)
	}
}

// Claim makes the calling goroutine the writer of the surface.
func (s *Surface) Claim() { s.owner.Claim() }

// Release gives up writer ownership.
func (s *Surface) Release() { s.owner.Release() }
