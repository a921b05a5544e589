// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package state

import (
	"bytes"
	"context"
	"encoding/binary"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/viewflow/pkg/row"
	"github.com/cockroachdb/viewflow/pkg/storage"
	"github.com/cockroachdb/viewflow/pkg/util/encoding"
	"github.com/cockroachdb/viewflow/pkg/util/log"
	"github.com/cockroachdb/viewflow/pkg/util/retry"
)

// DefaultWriteChunk is the number of rows written per backend batch before
// the batch is halved on retryable errors.
const DefaultWriteChunk = 512

var absentRetraction = log.Every(10 * time.Second)

// BaseStore is the state of a base table, kept in a storage engine. Every
// row is stored once per index under
//
//	/t<table>/i<index>/<index key><row>
//
// with its multiplicity as the value. Index 0 has an empty index key and
// is used for full scans.
type BaseStore struct {
	eng     storage.Engine
	table   uint64
	width   int
	indices [][]int
	// pk is the primary key, if any, and pkIndex the store index on it.
	pk      []int
	pkIndex int

	// Backoff applies to retried backend writes.
	Backoff retry.Options
	// WriteChunk bounds the rows per backend batch.
	WriteChunk int

	rows  int64
	bytes int64
}

// OpenBaseStore opens the state of base table table with width columns,
// looked up by the given indices. If pk is set, the table holds at most
// one row per primary key. Indexes whose definition changed since the
// data was written are rebuilt from the full index.
func OpenBaseStore(
	ctx context.Context, eng storage.Engine, table uint64, width int, indices [][]int, pk []int,
) (*BaseStore, error) {
	b := &BaseStore{
		eng:        eng,
		table:      table,
		width:      width,
		indices:    append([][]int{nil}, indices...),
		pk:         pk,
		WriteChunk: DefaultWriteChunk,
	}
	if len(pk) > 0 {
		b.pkIndex = -1
		for i, idx := range b.indices {
			if i > 0 && equalCols(idx, pk) {
				b.pkIndex = i
			}
		}
		if b.pkIndex < 0 {
			b.pkIndex = len(b.indices)
			b.indices = append(b.indices, pk)
		}
	}
	if err := b.Scan(func(r row.Row, count int64) error {
		b.rows += count
		b.bytes += count * r.Size()
		return nil
	}); err != nil {
		return nil, err
	}
	for i := 1; i < len(b.indices); i++ {
		if err := b.checkIndex(ctx, i); err != nil {
			return nil, errors.Wrapf(err, "index %d of table %d", i, table)
		}
	}
	return b, nil
}

// Width returns the number of columns of the table.
func (b *BaseStore) Width() int { return b.width }

// IndexOf returns the store index for lookup index idx of the node.
func (b *BaseStore) IndexOf(idx int) int { return idx + 1 }

// Size returns the approximate byte size and row count of the table.
func (b *BaseStore) Size() (bytes, rows int64) { return b.bytes, b.rows }

func (b *BaseStore) tablePrefix() []byte {
	return encoding.EncodeUint64Ascending([]byte{'t'}, b.table)
}

func (b *BaseStore) indexPrefix(idx int) []byte {
	return encoding.EncodeUint64Ascending(append(b.tablePrefix(), 'i'), uint64(idx))
}

func (b *BaseStore) metaKey(idx int) []byte {
	return encoding.EncodeUint64Ascending(append(b.tablePrefix(), 'm'), uint64(idx))
}

func (b *BaseStore) indexKey(idx int, r row.Row) []byte {
	k := append(b.indexPrefix(idx), row.MakeKey(r, b.indices[idx])...)
	return r.Encode(k)
}

func equalCols(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func encodeCols(cols []int) []byte {
	var out []byte
	for _, c := range cols {
		out = binary.AppendUvarint(out, uint64(c))
	}
	return out
}

// checkIndex rebuilds index idx if it was written for different columns.
func (b *BaseStore) checkIndex(ctx context.Context, idx int) error {
	def := encodeCols(b.indices[idx])
	cur, ok, err := b.eng.Get(b.metaKey(idx))
	if err != nil {
		return err
	}
	if ok && bytes.Equal(cur, def) {
		return nil
	}
	var ops []storage.Op
	prefix := b.indexPrefix(idx)
	if err := b.eng.Scan(prefix, encoding.PrefixEnd(prefix), func(k, _ []byte) error {
		ops = append(ops, storage.Op{Key: append([]byte(nil), k...), Delete: true})
		return nil
	}); err != nil {
		return err
	}
	if err := b.Scan(func(r row.Row, count int64) error {
		ops = append(ops, storage.Op{Key: b.indexKey(idx, r), Value: encodeCount(count)})
		return nil
	}); err != nil {
		return err
	}
	ops = append(ops, storage.Op{Key: b.metaKey(idx), Value: def})
	log.Infof(ctx, "rebuilding index %d of table %d (%d operations)", idx, b.table, len(ops))
	return b.eng.ApplyBatch(ops)
}

func encodeCount(n int64) []byte {
	return binary.AppendUvarint(nil, uint64(n))
}

func decodeCount(v []byte) (int64, error) {
	n, k := binary.Uvarint(v)
	if k <= 0 {
		return 0, errors.AssertionFailedf("corrupt row count %x", v)
	}
	return int64(n), nil
}

// scanPrefix calls fn for every row stored under prefix in index idx.
func (b *BaseStore) scanPrefix(idx int, prefix []byte, fn func(row.Row, int64) error) error {
	skip := len(b.indexPrefix(idx))
	return b.eng.Scan(prefix, encoding.PrefixEnd(prefix), func(k, v []byte) error {
		rest := k[skip:]
		// Skip the index key, which repeats columns of the row.
		for range b.indices[idx] {
			var err error
			if _, rest, err = row.DecodeDatum(rest); err != nil {
				return err
			}
		}
		r, _, err := row.DecodeRow(rest, b.width)
		if err != nil {
			return errors.Wrapf(err, "decoding key %x", k)
		}
		n, err := decodeCount(v)
		if err != nil {
			return err
		}
		return fn(r, n)
	})
}

// Scan calls fn for every distinct row of the table with its multiplicity.
func (b *BaseStore) Scan(fn func(r row.Row, count int64) error) error {
	return b.scanPrefix(0, b.indexPrefix(0), fn)
}

// Rows returns every row of the table, repeated by multiplicity.
func (b *BaseStore) Rows() ([]row.Row, error) {
	var out []row.Row
	err := b.Scan(func(r row.Row, count int64) error {
		for ; count > 0; count-- {
			out = append(out, r)
		}
		return nil
	})
	return out, err
}

// Lookup returns the rows matching key in store index idx, repeated by
// multiplicity.
func (b *BaseStore) Lookup(idx int, key row.Key) ([]row.Row, error) {
	var out []row.Row
	prefix := append(b.indexPrefix(idx), key...)
	err := b.scanPrefix(idx, prefix, func(r row.Row, count int64) error {
		for ; count > 0; count-- {
			out = append(out, r)
		}
		return nil
	})
	return out, err
}

type delta struct {
	r     row.Row
	net   int64
	count int64
}

// upsert rewrites a batch for a table with a primary key. An insertion
// over a stored key is preceded by a retraction of the stored row, an
// insertion of the stored row is dropped, and so is a retraction of a row
// that is not the one stored under its key.
func (b *BaseStore) upsert(ctx context.Context, rs row.Records) (row.Records, error) {
	cur := map[row.Key]row.Row{}
	get := func(k row.Key) (row.Row, error) {
		if r, ok := cur[k]; ok {
			return r, nil
		}
		rows, err := b.Lookup(b.pkIndex, k)
		if err != nil || len(rows) == 0 {
			cur[k] = nil
			return nil, err
		}
		cur[k] = rows[0]
		return rows[0], nil
	}
	out := make(row.Records, 0, len(rs))
	for _, r := range rs {
		k := row.MakeKey(r.Row, b.pk)
		old, err := get(k)
		if err != nil {
			return nil, err
		}
		switch {
		case r.Positive && old != nil && old.Equal(r.Row):
		case r.Positive:
			if old != nil {
				out = append(out, row.Neg(old))
			}
			out = append(out, r)
			cur[k] = r.Row
		case old != nil && old.Equal(r.Row):
			out = append(out, r)
			cur[k] = nil
		default:
			if absentRetraction.ShouldLog() {
				log.Warningf(ctx, "table %d: dropping retraction of %s, which is not stored under its key", b.table, r.Row)
			}
		}
	}
	return out, nil
}

// Apply persists a batch of writes and returns the records that changed
// the table. A retraction of a row that is not stored is dropped with a
// warning. On tables with a primary key, insertions replace the row
// stored under the same key.
func (b *BaseStore) Apply(ctx context.Context, rs row.Records) (row.Records, error) {
	for _, r := range rs {
		if len(r.Row) != b.width {
			return nil, errors.Newf("row %s has %d columns, table %d has %d", r.Row, len(r.Row), b.table, b.width)
		}
	}
	if len(b.pk) > 0 {
		var err error
		if rs, err = b.upsert(ctx, rs); err != nil {
			return nil, err
		}
	}
	var order []*delta
	byRow := map[string]*delta{}
	for _, r := range rs {
		k := string(r.Row.Encode(nil))
		d, ok := byRow[k]
		if !ok {
			d = &delta{r: r.Row}
			byRow[k] = d
			order = append(order, d)
		}
		d.net += r.Sign()
	}

	var applied row.Records
	var writes []*delta
	for _, d := range order {
		if d.net == 0 {
			continue
		}
		v, ok, err := b.eng.Get(b.indexKey(0, d.r))
		if err != nil {
			return nil, err
		}
		var cur int64
		if ok {
			if cur, err = decodeCount(v); err != nil {
				return nil, err
			}
		}
		if cur+d.net < 0 {
			if absentRetraction.ShouldLog() {
				log.Warningf(ctx, "table %d: dropping %d retractions of absent row %s", b.table, -(cur + d.net), d.r)
			}
			d.net = -cur
			if d.net == 0 {
				continue
			}
		}
		d.count = cur + d.net
		writes = append(writes, d)
		rec := row.Pos(d.r)
		n := d.net
		if n < 0 {
			rec, n = row.Neg(d.r), -n
		}
		for ; n > 0; n-- {
			applied = append(applied, rec)
		}
	}

	batch := retry.Batch{
		Do: func(ctx context.Context, processed, size int) error {
			var ops []storage.Op
			for _, d := range writes[processed : processed+size] {
				for idx := range b.indices {
					op := storage.Op{Key: b.indexKey(idx, d.r)}
					if d.count == 0 {
						op.Delete = true
					} else {
						op.Value = encodeCount(d.count)
					}
					ops = append(ops, op)
				}
			}
			return b.eng.ApplyBatch(ops)
		},
		IsRetriableError: storage.IsRetryable,
		OnRetry: func(err error, size int) error {
			log.Warningf(ctx, "table %d: retrying write with batch size %d: %v", b.table, size, err)
			return nil
		},
		Backoff: b.Backoff,
	}
	if len(writes) > 0 {
		if err := batch.Run(ctx, len(writes), b.WriteChunk); err != nil {
			return nil, errors.Wrapf(err, "writing table %d", b.table)
		}
	}
	for _, r := range applied {
		b.rows += r.Sign()
		b.bytes += r.Sign() * r.Row.Size()
	}
	return applied, nil
}
