// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package state

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/viewflow/pkg/row"
	"github.com/cockroachdb/viewflow/pkg/storage"
	"github.com/cockroachdb/viewflow/pkg/util/retry"
	"github.com/stretchr/testify/require"
)

func orders(id int, user string, amount int) row.Row {
	return row.Row{row.DInt(id), row.DString(user), row.DInt(amount)}
}

func TestBaseStore(t *testing.T) {
	ctx := context.Background()
	p, err := storage.OpenPebble("")
	require.NoError(t, err)
	for name, eng := range map[string]storage.Engine{
		"mem":    storage.NewMemEngine(),
		"pebble": p,
	} {
		t.Run(name, func(t *testing.T) {
			defer func() { require.NoError(t, eng.Close()) }()
			b, err := OpenBaseStore(ctx, eng, 1, 3, [][]int{{1}}, nil)
			require.NoError(t, err)

			applied, err := b.Apply(ctx, row.Records{
				row.Pos(orders(1, "alice", 10)),
				row.Pos(orders(2, "alice", 5)),
				row.Pos(orders(3, "bob", 7)),
				row.Pos(orders(3, "bob", 7)),
				// Cancels within the batch.
				row.Pos(orders(4, "carol", 1)),
				row.Neg(orders(4, "carol", 1)),
			})
			require.NoError(t, err)
			require.Len(t, applied, 4)

			alice, err := b.Lookup(b.IndexOf(0), row.KeyOf(row.DString("alice")))
			require.NoError(t, err)
			require.Equal(t, []row.Row{orders(1, "alice", 10), orders(2, "alice", 5)}, alice)

			bob, err := b.Lookup(b.IndexOf(0), row.KeyOf(row.DString("bob")))
			require.NoError(t, err)
			require.Len(t, bob, 2)

			// A retraction of an absent row is dropped.
			applied, err = b.Apply(ctx, row.Records{
				row.Neg(orders(3, "bob", 7)),
				row.Neg(orders(9, "dave", 1)),
			})
			require.NoError(t, err)
			require.Equal(t, row.Records{row.Neg(orders(3, "bob", 7))}, applied)

			all, err := b.Rows()
			require.NoError(t, err)
			require.ElementsMatch(t, []row.Row{
				orders(1, "alice", 10), orders(2, "alice", 5), orders(3, "bob", 7),
			}, all)
			_, rows := b.Size()
			require.Equal(t, int64(3), rows)

			_, err = b.Apply(ctx, row.Records{row.Pos(row.Row{row.DInt(1)})})
			require.Error(t, err)

			// Reopening with an extra index rebuilds it from the table.
			b, err = OpenBaseStore(ctx, eng, 1, 3, [][]int{{1}, {2}}, nil)
			require.NoError(t, err)
			_, rows = b.Size()
			require.Equal(t, int64(3), rows)
			seven, err := b.Lookup(b.IndexOf(1), row.KeyOf(row.DInt(7)))
			require.NoError(t, err)
			require.Equal(t, []row.Row{orders(3, "bob", 7)}, seven)
		})
	}
}

func TestBaseStorePrimaryKey(t *testing.T) {
	ctx := context.Background()
	eng := storage.NewMemEngine()
	defer func() { require.NoError(t, eng.Close()) }()
	b, err := OpenBaseStore(ctx, eng, 3, 3, [][]int{{1}}, []int{0})
	require.NoError(t, err)

	for _, tc := range []struct {
		name    string
		in      row.Records
		applied row.Records
		rows    []row.Row
	}{
		{
			name:    "insert",
			in:      row.Records{row.Pos(orders(1, "alice", 10)), row.Pos(orders(2, "bob", 5))},
			applied: row.Records{row.Pos(orders(1, "alice", 10)), row.Pos(orders(2, "bob", 5))},
			rows:    []row.Row{orders(1, "alice", 10), orders(2, "bob", 5)},
		},
		{
			name:    "insert over a stored key replaces the row",
			in:      row.Records{row.Pos(orders(1, "alice", 12))},
			applied: row.Records{row.Neg(orders(1, "alice", 10)), row.Pos(orders(1, "alice", 12))},
			rows:    []row.Row{orders(1, "alice", 12), orders(2, "bob", 5)},
		},
		{
			name: "insert of the stored row",
			in:   row.Records{row.Pos(orders(2, "bob", 5))},
			rows: []row.Row{orders(1, "alice", 12), orders(2, "bob", 5)},
		},
		{
			name:    "retraction of another row under a stored key",
			in:      row.Records{row.Neg(orders(2, "bob", 6)), row.Neg(orders(1, "alice", 12))},
			applied: row.Records{row.Neg(orders(1, "alice", 12))},
			rows:    []row.Row{orders(2, "bob", 5)},
		},
		{
			name: "replacements within a batch",
			in: row.Records{
				row.Pos(orders(3, "carol", 1)),
				row.Pos(orders(3, "carol", 2)),
				row.Pos(orders(2, "dave", 5)),
			},
			applied: row.Records{
				row.Pos(orders(3, "carol", 2)),
				row.Neg(orders(2, "bob", 5)),
				row.Pos(orders(2, "dave", 5)),
			},
			rows: []row.Row{orders(2, "dave", 5), orders(3, "carol", 2)},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			applied, err := b.Apply(ctx, tc.in)
			require.NoError(t, err)
			require.Equal(t, tc.applied, applied)
			all, err := b.Rows()
			require.NoError(t, err)
			require.ElementsMatch(t, tc.rows, all)
		})
	}

	// The secondary index follows the replacements.
	dave, err := b.Lookup(b.IndexOf(0), row.KeyOf(row.DString("dave")))
	require.NoError(t, err)
	require.Equal(t, []row.Row{orders(2, "dave", 5)}, dave)
	bob, err := b.Lookup(b.IndexOf(0), row.KeyOf(row.DString("bob")))
	require.NoError(t, err)
	require.Empty(t, bob)
}

// flakyEngine fails the first writes with a retryable error.
type flakyEngine struct {
	storage.Engine
	failures int
	batches  []int
}

func (e *flakyEngine) ApplyBatch(ops []storage.Op) error {
	e.batches = append(e.batches, len(ops))
	if e.failures > 0 {
		e.failures--
		return storage.MarkRetryable(errors.New("injected"))
	}
	return e.Engine.ApplyBatch(ops)
}

func TestBaseStoreRetries(t *testing.T) {
	ctx := context.Background()
	eng := &flakyEngine{Engine: storage.NewMemEngine(), failures: 2}
	b, err := OpenBaseStore(ctx, eng, 7, 3, nil, nil)
	require.NoError(t, err)
	b.WriteChunk = 4
	b.Backoff = retry.Options{InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, MaxRetries: 5}

	var rs row.Records
	for i := 0; i < 4; i++ {
		rs = append(rs, row.Pos(orders(i, "u", i)))
	}
	applied, err := b.Apply(ctx, rs)
	require.NoError(t, err)
	require.Len(t, applied, 4)
	// One op per row: the chunk of four rows is halved twice, then the
	// remaining rows go out in one batch.
	require.Equal(t, []int{4, 2, 1, 3}, eng.batches)

	all, err := b.Rows()
	require.NoError(t, err)
	require.Len(t, all, 4)

	eng.failures = 100
	_, err = b.Apply(ctx, row.Records{row.Pos(orders(9, "u", 9))})
	require.True(t, storage.IsRetryable(err))
}
