// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package syncutil

import (
	"fmt"
	"sync/atomic"

	"github.com/petermattis/goid"
)

// Owner records the goroutine that is allowed to mutate a single-writer
// structure. The zero value is unclaimed; the first call to Claim binds it
// to the calling goroutine.
type Owner struct {
	id atomic.Int64
}

// Claim binds the owner to the calling goroutine. Claiming an Owner that
// is already bound to the caller is a no-op. It panics if the Owner is bound
// to a different goroutine.
func (o *Owner) Claim() {
	g := goid.Get()
	if o.id.CompareAndSwap(0, g) {
		return
	}
	if cur := o.id.Load(); cur != g {
		panic(fmt.Sprintf("single-writer structure owned by goroutine %d, claimed by %d", cur, g))
	}
}

// Release unbinds the owner so that another goroutine may claim it.
func (o *Owner) Release() {
	o.id.Store(0)
}

// AssertOwned panics if the calling goroutine is not the current owner. An
// unclaimed Owner is claimed by the caller.
func (o *Owner) AssertOwned() {
	o.Claim()
}
