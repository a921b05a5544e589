// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package stop provides the Stopper, which coordinates the shutdown of
// long-running goroutines.
package stop

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/viewflow/pkg/util/log"
	"github.com/cockroachdb/viewflow/pkg/util/syncutil"
)

// ErrUnavailable is returned from RunAsyncTask when the Stopper is
// quiescing.
var ErrUnavailable = errors.New("stopper is quiescing")

// Closer is something that can be closed when the Stopper stops.
type Closer interface {
	Close()
}

// CloserFn is a function that implements Closer.
type CloserFn func()

// Close implements Closer.
func (f CloserFn) Close() { f() }

// Stopper tracks async tasks and closers. Stop signals quiescence, waits
// for every task to return and then runs the closers in reverse order of
// registration.
type Stopper struct {
	quiescer chan struct{}
	stopped  chan struct{}
	wg       sync.WaitGroup

	mu struct {
		syncutil.Mutex
		quiescing bool
		closers   []Closer
		tasks     map[string]int
	}
}

// NewStopper returns an initialized Stopper.
func NewStopper() *Stopper {
	s := &Stopper{
		quiescer: make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	s.mu.tasks = map[string]int{}
	return s
}

// AddCloser adds an object to close after the stopper has been stopped.
func (s *Stopper) AddCloser(c Closer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mu.closers = append(s.mu.closers, c)
}

// RunAsyncTask runs f in a goroutine. It returns ErrUnavailable without
// running f if the stopper is quiescing.
func (s *Stopper) RunAsyncTask(
	ctx context.Context, taskName string, f func(context.Context),
) error {
	s.mu.Lock()
	if s.mu.quiescing {
		s.mu.Unlock()
		return ErrUnavailable
	}
	s.mu.tasks[taskName]++
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			if s.mu.tasks[taskName]--; s.mu.tasks[taskName] == 0 {
				delete(s.mu.tasks, taskName)
			}
			s.mu.Unlock()
			s.wg.Done()
		}()
		f(log.WithTag(ctx, "task", taskName))
	}()
	return nil
}

// RunningTasks returns the number of running tasks per task name.
func (s *Stopper) RunningTasks() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := make(map[string]int, len(s.mu.tasks))
	for k, v := range s.mu.tasks {
		m[k] = v
	}
	return m
}

// ShouldQuiesce returns a channel which is closed when the stopper starts
// stopping. Tasks must return once it is closed.
func (s *Stopper) ShouldQuiesce() <-chan struct{} {
	return s.quiescer
}

// IsStopped returns a channel which is closed after Stop has returned.
func (s *Stopper) IsStopped() <-chan struct{} {
	return s.stopped
}

// Stop signals all tasks to quiesce, waits for them and runs the closers.
// It is safe to call Stop more than once.
func (s *Stopper) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.mu.quiescing {
		s.mu.Unlock()
		<-s.stopped
		return
	}
	s.mu.quiescing = true
	close(s.quiescer)
	s.mu.Unlock()

	s.wg.Wait()

	s.mu.Lock()
	closers := s.mu.closers
	s.mu.closers = nil
	s.mu.Unlock()
	for i := len(closers) - 1; i >= 0; i-- {
		closers[i].Close()
	}
	log.VEventf(ctx, 1, "stopper stopped")
	close(s.stopped)
}
