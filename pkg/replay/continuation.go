// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package replay

import "github.com/cockroachdb/viewflow/pkg/row"

// Request asks the source of a replay path for the rows of a key.
type Request struct {
	// Tag identifies the replay path.
	Tag int
	Key row.Key
	// Epoch is the epoch of the fill at the requester.
	Epoch uint64
	// Shard is the requesting shard of the target's domain.
	Shard int
	// Full requests every row of the source.
	Full bool
}

// Batch is a batch of records held back at a node.
type Batch struct {
	// From is the parent index the records arrived from.
	From    int
	Lane    Lane
	Records row.Records
}

// Suspension holds the records a node could not process because a lookup
// hit a hole. Records are kept in arrival order and are reprocessed once
// the hole is filled.
type Suspension struct {
	// At is the node key the records are held at. On is the node key
	// whose fill releases them.
	At  Target
	On  Target
	Ops []Batch
}

// Answer is a replay request whose source could not answer yet.
type Answer struct {
	Request Request
	// Deps are the keys that must be filled before the request can be
	// answered. They are pinned against eviction until then.
	Deps    []Target
	missing int
}

// Continuations tracks the work waiting on fills.
type Continuations struct {
	suspended map[Target]*Suspension
	onFill    map[Target]*waiting
	pins      map[Target]int
	answers   int
}

type waiting struct {
	suspensions []*Suspension
	answers     []*Answer
}

// NewContinuations creates an empty set of continuations.
func NewContinuations() *Continuations {
	return &Continuations{
		suspended: map[Target]*Suspension{},
		onFill:    map[Target]*waiting{},
		pins:      map[Target]int{},
	}
}

func (c *Continuations) waitingOn(t Target) *waiting {
	w, ok := c.onFill[t]
	if !ok {
		w = &waiting{}
		c.onFill[t] = w
	}
	return w
}

// Suspended returns the suspension at a node key, or nil.
func (c *Continuations) Suspended(at Target) *Suspension {
	return c.suspended[at]
}

// Suspend holds back records at a node key until on is filled. Records
// suspended at a key that is already suspended are appended to the
// existing suspension, whatever they wait on. It returns false in that
// case.
func (c *Continuations) Suspend(at, on Target, b Batch) bool {
	if s, ok := c.suspended[at]; ok {
		s.Ops = append(s.Ops, b)
		return false
	}
	s := &Suspension{At: at, On: on, Ops: []Batch{b}}
	c.suspended[at] = s
	w := c.waitingOn(on)
	w.suspensions = append(w.suspensions, s)
	return true
}

// Wait registers a request that can be answered once every target in
// missing is filled. deps lists every key the answer reads, missing
// included; they stay pinned until the answer is released.
func (c *Continuations) Wait(req Request, missing, deps []Target) *Answer {
	a := &Answer{Request: req, Deps: deps, missing: len(missing)}
	for _, t := range missing {
		w := c.waitingOn(t)
		w.answers = append(w.answers, a)
	}
	for _, t := range deps {
		c.pins[t]++
	}
	c.answers++
	return a
}

// Filled removes and returns the work waiting on t: the suspensions to
// resume, and the answers whose last missing key was t. Suspensions come
// first; callers must resume them before retrying the answers, so that
// the answers read state that includes the resumed records.
func (c *Continuations) Filled(t Target) ([]*Suspension, []*Answer) {
	w, ok := c.onFill[t]
	if !ok {
		return nil, nil
	}
	delete(c.onFill, t)
	for _, s := range w.suspensions {
		delete(c.suspended, s.At)
	}
	var ready []*Answer
	for _, a := range w.answers {
		if a.missing--; a.missing == 0 {
			ready = append(ready, a)
			c.release(a)
		}
	}
	return w.suspensions, ready
}

func (c *Continuations) release(a *Answer) {
	for _, t := range a.Deps {
		if c.pins[t]--; c.pins[t] <= 0 {
			delete(c.pins, t)
		}
	}
	c.answers--
}

// Pinned returns whether a pending answer depends on t.
func (c *Continuations) Pinned(t Target) bool {
	return c.pins[t] > 0
}

// Waiting returns whether any work waits on t.
func (c *Continuations) Waiting(t Target) bool {
	_, ok := c.onFill[t]
	return ok
}

// WaitingOn returns the node keys that have work waiting on them.
func (c *Continuations) WaitingOn() []Target {
	out := make([]Target, 0, len(c.onFill))
	for t := range c.onFill {
		out = append(out, t)
	}
	return out
}

// Len returns the number of suspensions and pending answers.
func (c *Continuations) Len() int {
	return len(c.suspended) + c.answers
}
