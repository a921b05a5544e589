// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package state holds the materialized state of dataflow nodes.
//
// A Store maps lookup keys to the rows currently stored under them. A
// partial store may be missing keys entirely: such a key is a hole, and
// only a completed replay (MarkFilled) can fill it. A full store never has
// holes; a key with no rows simply reads as empty.
package state

import (
	"container/list"
	"math/rand"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/viewflow/pkg/row"
)

// Policy selects eviction victims.
type Policy int

const (
	// LRU evicts the least recently used keys first.
	LRU Policy = iota
	// Random evicts keys sampled uniformly without replacement.
	Random
)

// String implements fmt.Stringer.
func (p Policy) String() string {
	if p == Random {
		return "random"
	}
	return "lru"
}

// ParsePolicy parses an eviction policy name.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "lru":
		return LRU, nil
	case "random":
		return Random, nil
	}
	return 0, errors.Newf("unknown eviction policy %q", s)
}

const entryOverhead = 48

type entry struct {
	rows []row.Row
	size int64
	elem *list.Element
}

// fill tracks a key whose replay is in flight.
type fill struct {
	buffered row.Records
}

// Store is the state of one materialized node. It is not safe for
// concurrent use; a store belongs to the goroutine of its domain.
type Store struct {
	partial bool
	indices [][]int
	// idx holds one map per index. Index 0 is the primary lookup key.
	idx     []map[row.Key]*entry
	lru     *list.List
	filling map[row.Key]*fill

	lastSeq uint64
	bytes   int64
	keys    int64
}

// NewStore creates the state of a node looked up by the given indices. A
// store without indices keeps all of its rows under the empty key.
func NewStore(indices [][]int, partial bool) *Store {
	if len(indices) == 0 {
		indices = [][]int{nil}
	}
	s := &Store{
		partial: partial,
		indices: indices,
		idx:     make([]map[row.Key]*entry, len(indices)),
		lru:     list.New(),
		filling: map[row.Key]*fill{},
	}
	for i := range s.idx {
		s.idx[i] = map[row.Key]*entry{}
	}
	return s
}

// Partial returns whether the store can have holes.
func (s *Store) Partial() bool { return s.partial }

// Indices returns the column sets the store is indexed by.
func (s *Store) Indices() [][]int { return s.indices }

// KeyOf returns the primary lookup key of r.
func (s *Store) KeyOf(r row.Row) row.Key { return row.MakeKey(r, s.indices[0]) }

// Lookup returns the rows stored under key in the given index. For a
// partial store it returns false if the key is a hole. The returned slice
// must not be modified.
func (s *Store) Lookup(idx int, key row.Key) ([]row.Row, bool) {
	e, ok := s.idx[idx][key]
	if !ok {
		return nil, !s.partial
	}
	if e.elem != nil {
		s.lru.MoveToFront(e.elem)
	}
	return e.rows, true
}

// Filled returns whether key is present in the primary index. It is
// always true for full stores.
func (s *Store) Filled(key row.Key) bool {
	if !s.partial {
		return true
	}
	_, ok := s.idx[0][key]
	return ok
}

// Filling returns whether a replay for key is in flight.
func (s *Store) Filling(key row.Key) bool {
	_, ok := s.filling[key]
	return ok
}

// Rows returns every stored row.
func (s *Store) Rows() []row.Row {
	var out []row.Row
	for _, e := range s.idx[0] {
		out = append(out, e.rows...)
	}
	return out
}

// Keys returns the filled keys of the primary index.
func (s *Store) Keys() []row.Key {
	out := make([]row.Key, 0, len(s.idx[0]))
	for k := range s.idx[0] {
		out = append(out, k)
	}
	return out
}

// Size returns the approximate byte size of the store and the number of
// keys in its primary index.
func (s *Store) Size() (bytes, keys int64) {
	return s.bytes, s.keys
}

// Apply integrates a batch of records. Batches carrying a sequence number
// no greater than the last one applied are ignored, so that a redelivered
// packet is not applied twice. Sequence numbers start at 1. Records for holes are not applied; they are
// returned separately so the caller can decide whether to buffer them for
// an in-flight replay.
func (s *Store) Apply(seq uint64, rs row.Records) (applied, holes row.Records, err error) {
	if seq <= s.lastSeq {
		return nil, nil, nil
	}
	s.lastSeq = seq
	for _, r := range rs {
		key := s.KeyOf(r.Row)
		if s.partial {
			if _, ok := s.idx[0][key]; !ok {
				holes = append(holes, r)
				continue
			}
		}
		if err := s.applyOne(key, r); err != nil {
			return applied, holes, err
		}
		applied = append(applied, r)
	}
	return applied, holes, nil
}

func (s *Store) applyOne(primary row.Key, r row.Record) error {
	for i, cols := range s.indices {
		key := primary
		if i > 0 {
			key = row.MakeKey(r.Row, cols)
		}
		e, ok := s.idx[i][key]
		if !ok {
			if !r.Positive {
				return errors.AssertionFailedf("retraction of %s from empty key %s", r.Row, key)
			}
			e = s.newEntry(i, key)
		}
		if r.Positive {
			e.rows = append(e.rows, r.Row)
			s.grow(e, r.Row.Size())
			continue
		}
		j := indexOfRow(e.rows, r.Row)
		if j < 0 {
			return errors.AssertionFailedf("retraction of absent row %s under key %s", r.Row, key)
		}
		// Copy on write: slices handed out by Lookup stay intact.
		rows := make([]row.Row, 0, len(e.rows)-1)
		rows = append(rows, e.rows[:j]...)
		e.rows = append(rows, e.rows[j+1:]...)
		s.grow(e, -r.Row.Size())
		if len(e.rows) == 0 && !(s.partial && i == 0) {
			s.removeEntry(i, key)
		}
	}
	return nil
}

func (s *Store) newEntry(idx int, key row.Key) *entry {
	e := &entry{size: entryOverhead + int64(len(key))}
	s.idx[idx][key] = e
	s.bytes += e.size
	if idx == 0 {
		s.keys++
		if s.partial {
			e.elem = s.lru.PushFront(key)
		}
	}
	return e
}

func (s *Store) removeEntry(idx int, key row.Key) {
	e, ok := s.idx[idx][key]
	if !ok {
		return
	}
	delete(s.idx[idx], key)
	s.bytes -= e.size
	if idx == 0 {
		s.keys--
		if e.elem != nil {
			s.lru.Remove(e.elem)
		}
	}
}

func (s *Store) grow(e *entry, delta int64) {
	e.size += delta
	s.bytes += delta
}

func indexOfRow(rows []row.Row, r row.Row) int {
	for i := range rows {
		if rows[i].Equal(r) {
			return i
		}
	}
	return -1
}

// BeginFill records that a replay for key is in flight.
func (s *Store) BeginFill(key row.Key) error {
	if !s.partial {
		return errors.AssertionFailedf("fill of key %s in a full store", key)
	}
	if _, ok := s.idx[0][key]; ok {
		return errors.AssertionFailedf("fill of filled key %s", key)
	}
	s.filling[key] = &fill{}
	return nil
}

// AbortFill forgets an in-flight replay and the records buffered for it.
func (s *Store) AbortFill(key row.Key) {
	delete(s.filling, key)
}

// Buffer retains records for an in-flight replay of key. They are known to
// follow the replay's snapshot and are merged by MarkFilled.
func (s *Store) Buffer(key row.Key, rs ...row.Record) error {
	f, ok := s.filling[key]
	if !ok {
		return errors.AssertionFailedf("buffering records for key %s with no fill in flight", key)
	}
	f.buffered = append(f.buffered, rs...)
	return nil
}

// FinishFunc computes the rows to store for a key from the replayed rows
// and the records buffered while the replay was in flight.
type FinishFunc func(rows []row.Row, buffered row.Records) ([]row.Row, error)

// MarkFilled completes a replay of key. If finish is nil the buffered
// records are merged into rows as a multiset. It returns the stored rows.
func (s *Store) MarkFilled(key row.Key, rows []row.Row, finish FinishFunc) ([]row.Row, error) {
	f, ok := s.filling[key]
	if s.partial && !ok {
		return nil, errors.AssertionFailedf("key %s filled with no fill in flight", key)
	}
	delete(s.filling, key)
	var buffered row.Records
	if f != nil {
		buffered = f.buffered
	}
	if finish == nil {
		finish = Merge
	}
	rows, err := finish(rows, buffered)
	if err != nil {
		return nil, err
	}
	if _, ok := s.idx[0][key]; ok {
		return nil, errors.AssertionFailedf("key %s filled twice", key)
	}
	s.newEntry(0, key)
	for _, r := range rows {
		if got := s.KeyOf(r); got != key {
			return nil, errors.AssertionFailedf("row %s filled under key %s belongs to %s", r, key, got)
		}
		if err := s.applyOne(key, row.Pos(r)); err != nil {
			return nil, err
		}
	}
	return s.idx[0][key].rows, nil
}

// Merge applies records to a multiset of rows.
func Merge(rows []row.Row, rs row.Records) ([]row.Row, error) {
	if len(rs) == 0 {
		return rows, nil
	}
	out := append([]row.Row(nil), rows...)
	for _, r := range rs {
		if r.Positive {
			out = append(out, r.Row)
			continue
		}
		j := indexOfRow(out, r.Row)
		if j < 0 {
			return nil, errors.AssertionFailedf("retraction of absent row %s", r.Row)
		}
		out = append(out[:j], out[j+1:]...)
	}
	return out, nil
}

// Load bulk-loads the rows of a full store, as done when the store is
// built at boot.
func (s *Store) Load(rows []row.Row) error {
	if s.partial {
		return errors.AssertionFailedf("bulk load of a partial store")
	}
	for _, r := range rows {
		if err := s.applyOne(s.KeyOf(r), row.Pos(r)); err != nil {
			return err
		}
	}
	return nil
}

// Evict turns a filled key back into a hole and returns the number of
// bytes freed. It returns false if the key was not filled.
func (s *Store) Evict(key row.Key) (int64, bool) {
	if !s.partial {
		return 0, false
	}
	e, ok := s.idx[0][key]
	if !ok {
		return 0, false
	}
	freed := e.size
	s.removeEntry(0, key)
	return freed, true
}

// Victims picks filled keys to evict, in policy order, until their sizes
// add up to at least bytes. Keys for which skip returns true are passed
// over.
func (s *Store) Victims(policy Policy, bytes int64, skip func(row.Key) bool) []row.Key {
	if !s.partial || bytes <= 0 {
		return nil
	}
	var out []row.Key
	var total int64
	pick := func(k row.Key) bool {
		if skip != nil && skip(k) {
			return true
		}
		out = append(out, k)
		total += s.idx[0][k].size
		return total < bytes
	}
	switch policy {
	case Random:
		keys := make([]row.Key, 0, len(s.idx[0]))
		for k := range s.idx[0] {
			keys = append(keys, k)
		}
		// Shuffle lazily: keys[:i] are the keys drawn so far.
		for i := range keys {
			j := i + rand.Intn(len(keys)-i)
			keys[i], keys[j] = keys[j], keys[i]
			if !pick(keys[i]) {
				break
			}
		}
	default:
		for el := s.lru.Back(); el != nil; el = el.Prev() {
			if !pick(el.Value.(row.Key)) {
				break
			}
		}
	}
	return out
}
