// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package ring

// Buffer is a deque maintained over a ring buffer. The zero value is an
// empty buffer ready to use.
//
// Note: it is backed by a slice (unlike container/ring which is backed by a
// linked list).
type Buffer[T any] struct {
	buffer []T
	head   int // the index of the front of the buffer
	tail   int // the index of the first position after the end of the buffer

	// Indicates whether the buffer is empty. Necessary to distinguish
	// between an empty buffer and a buffer that uses all of its capacity.
	nonEmpty bool
}

// Len returns the number of elements in the Buffer.
func (r *Buffer[T]) Len() int {
	if !r.nonEmpty {
		return 0
	}
	switch {
	case r.head < r.tail:
		return r.tail - r.head
	case r.head == r.tail:
		return len(r.buffer)
	default:
		return len(r.buffer) + r.tail - r.head
	}
}

// Get returns the element at position pos (zero-based from the front).
func (r *Buffer[T]) Get(pos int) T {
	if pos < 0 || pos >= r.Len() {
		panic("index out of bounds")
	}
	return r.buffer[(pos+r.head)%len(r.buffer)]
}

// PushBack adds an element to the end of the Buffer, doubling the
// underlying slice if necessary.
func (r *Buffer[T]) PushBack(e T) {
	r.maybeGrow()
	r.buffer[r.tail] = e
	r.tail = (r.tail + 1) % len(r.buffer)
	r.nonEmpty = true
}

// PushFront adds an element to the front of the Buffer.
func (r *Buffer[T]) PushFront(e T) {
	r.maybeGrow()
	r.head = (len(r.buffer) + r.head - 1) % len(r.buffer)
	r.buffer[r.head] = e
	r.nonEmpty = true
}

// PopFront removes and returns the element at the front of the Buffer. The
// second return value is false if the Buffer was empty.
func (r *Buffer[T]) PopFront() (T, bool) {
	var zero T
	if !r.nonEmpty {
		return zero, false
	}
	e := r.buffer[r.head]
	r.buffer[r.head] = zero
	r.head = (r.head + 1) % len(r.buffer)
	if r.head == r.tail {
		r.nonEmpty = false
	}
	return e, true
}

// Drain removes every element and returns them in order.
func (r *Buffer[T]) Drain() []T {
	n := r.Len()
	if n == 0 {
		return nil
	}
	out := make([]T, 0, n)
	for {
		e, ok := r.PopFront()
		if !ok {
			return out
		}
		out = append(out, e)
	}
}

func (r *Buffer[T]) maybeGrow() {
	if r.Len() != len(r.buffer) {
		return
	}
	n := 2 * len(r.buffer)
	if n == 0 {
		n = 8
	}
	newBuffer := make([]T, n)
	if r.nonEmpty {
		if r.head < r.tail {
			copy(newBuffer, r.buffer[r.head:r.tail])
		} else {
			k := copy(newBuffer, r.buffer[r.head:])
			copy(newBuffer[k:], r.buffer[:r.tail])
		}
	}
	r.tail = r.Len()
	r.head = 0
	r.buffer = newBuffer
}
