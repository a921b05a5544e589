// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package leaktest provides tools to detect leaked goroutines in tests.
// To use it, call "defer leaktest.AfterTest(t)()" at the beginning of each
// test that may use goroutines.
package leaktest

import (
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// interestingGoroutines returns all goroutines we care about for the purpose
// of leak checking. It excludes testing and runtime ones.
func interestingGoroutines() map[int64]string {
	buf := make([]byte, 2<<20)
	buf = buf[:runtime.Stack(buf, true)]
	gs := make(map[int64]string)
	for _, g := range strings.Split(string(buf), "\n\n") {
		sl := strings.SplitN(g, "\n", 2)
		if len(sl) != 2 {
			continue
		}
		stack := strings.TrimSpace(sl[1])
		if strings.HasPrefix(stack, "testing.RunTests") {
			continue
		}
		if stack == "" ||
			strings.Contains(stack, "testing.Main(") ||
			strings.Contains(stack, "testing.(*T).Run(") ||
			strings.Contains(stack, "testing.(*T).Parallel(") ||
			strings.Contains(stack, "testing.tRunner.func") ||
			strings.Contains(stack, "runtime.goexit") && strings.Contains(stack, "runtime.ensureSigM") ||
			strings.Contains(stack, "signal.signal_recv") ||
			strings.Contains(stack, "sigterm.handler") ||
			strings.Contains(stack, "runtime_mcall") ||
			strings.Contains(stack, "goroutine in C code") ||
			strings.Contains(stack, "pebble.(*tableCacheShard)") ||
			strings.Contains(stack, "pebble.(*DB).") && strings.Contains(stack, "Loop") {
			continue
		}
		gs[goroutineID(sl[0])] = g
	}
	return gs
}

func goroutineID(header string) int64 {
	// "goroutine 42 [running]:"
	fields := strings.Fields(header)
	if len(fields) < 2 {
		return 0
	}
	var id int64
	for _, c := range fields[1] {
		if c < '0' || c > '9' {
			break
		}
		id = id*10 + int64(c-'0')
	}
	return id
}

// T is the subset of testing.TB used by AfterTest.
type T interface {
	Errorf(format string, args ...interface{})
	Failed() bool
}

// AfterTest snapshots the currently-running goroutines and returns a
// function to be run at the end of tests to see whether any goroutines
// leaked.
func AfterTest(t T) func() {
	orig := interestingGoroutines()
	return func() {
		if t.Failed() {
			return
		}
		deadline := time.Now().Add(5 * time.Second)
		for {
			err := diffGoroutines(orig)
			if err == nil {
				return
			}
			if time.Now().After(deadline) {
				t.Errorf("%v", err)
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
	}
}

func diffGoroutines(orig map[int64]string) error {
	var leaked []string
	for id, stack := range interestingGoroutines() {
		if _, ok := orig[id]; !ok {
			leaked = append(leaked, stack)
		}
	}
	if len(leaked) == 0 {
		return nil
	}
	sort.Strings(leaked)
	return errors.Newf("leaked goroutines:\n%s", strings.Join(leaked, "\n\n"))
}
