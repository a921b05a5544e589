// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package server

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/viewflow/pkg/base"
	"github.com/cockroachdb/viewflow/pkg/graph"
	"github.com/cockroachdb/viewflow/pkg/row"
	"github.com/cockroachdb/viewflow/pkg/testutils"
	"github.com/cockroachdb/viewflow/pkg/util/leaktest"
	"github.com/stretchr/testify/require"
)

func startEngine(t *testing.T, spec string, cfg base.EngineConfig) *Engine {
	t.Helper()
	s, err := graph.ParseSpec([]byte(spec))
	require.NoError(t, err)
	g, err := s.Build()
	require.NoError(t, err)
	ctx := context.Background()
	e, err := NewEngine(ctx, g, cfg)
	require.NoError(t, err)
	if err := e.Start(ctx); err != nil {
		e.Stop(ctx)
		t.Fatal(err)
	}
	return e
}

func testCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func ints(vals ...int) row.Row {
	r := make(row.Row, len(vals))
	for i, v := range vals {
		r[i] = row.DInt(v)
	}
	return r
}

func render(rows []row.Row) string {
	if len(rows) == 0 {
		return "empty"
	}
	rows = append([]row.Row(nil), rows...)
	sort.Slice(rows, func(i, j int) bool { return rows[i].Compare(rows[j]) < 0 })
	var b strings.Builder
	for _, r := range rows {
		fmt.Fprintln(&b, r)
	}
	return b.String()
}

const sumSpec = `
nodes:
- name: orders
  base: {columns: [id, user, amount]}
- name: totals
  parents: [orders]
  aggregate: {group: [user], func: sum, over: amount}
  materialize: partial
- name: by_user
  parents: [totals]
  reader: {key: [user]}
`

func TestSumByUser(t *testing.T) {
	defer leaktest.AfterTest(t)()
	ctx := testCtx(t)
	e := startEngine(t, sumSpec, base.EngineConfig{})
	defer e.Stop(ctx)

	a, b := row.DString("a"), row.DString("b")
	read := func(user row.Datum) string {
		rows, err := e.Read(ctx, "by_user", row.KeyOf(user))
		require.NoError(t, err)
		return render(rows)
	}
	write := func(rs ...row.Record) {
		require.NoError(t, e.Write(ctx, "orders", rs))
		require.NoError(t, e.Flush(ctx))
	}

	// A key that was never written reads as empty.
	require.Equal(t, "empty", read(b))

	write(row.Pos(row.Row{row.DInt(1), a, row.DInt(10)}))
	require.Equal(t, "(a, 10)\n", read(a))
	write(row.Pos(row.Row{row.DInt(2), a, row.DInt(5)}))
	require.Equal(t, "(a, 15)\n", read(a))
	write(row.Neg(row.Row{row.DInt(1), a, row.DInt(10)}))
	require.Equal(t, "(a, 5)\n", read(a))
	require.Equal(t, "empty", read(b))
	require.NoError(t, e.Err())
}

// convergenceSpec maintains four views over orders: a partial sum per
// user, the large orders of a user, a user's two largest orders and, when
// not sharded, orders joined with the users table of another domain.
func convergenceSpec(shards int) string {
	var b strings.Builder
	if shards > 1 {
		fmt.Fprintf(&b, "domains:\n- {id: 0, shards: %d, shard_by: user}\n", shards)
	}
	b.WriteString(`nodes:
- name: orders
  base: {columns: [id, user, amount]}
- name: totals
  parents: [orders]
  aggregate: {group: [user], func: sum, over: amount}
  materialize: partial
- name: by_user
  parents: [totals]
  reader: {key: [user]}
- name: large
  parents: [orders]
  filter: [{col: amount, op: ">", value: "500"}]
- name: large_by_user
  parents: [large]
  reader: {key: [user]}
- name: top
  parents: [orders]
  topk: {group: [user], order: amount, desc: true, k: 2}
- name: top_by_user
  parents: [top]
  reader: {key: [user]}
`)
	if shards <= 1 {
		b.WriteString(`- name: users
  base: {columns: [uid, name]}
  domain: 1
- name: enriched
  parents: [orders, users]
  join: {on: [user, uid]}
- name: enriched_by_user
  parents: [enriched]
  reader: {key: [user]}
`)
	}
	return b.String()
}

type order struct {
	user, amount int
}

// model is the expected content of the views in convergenceSpec.
type model struct {
	orders map[int]order
	users  map[int]string
}

func (m *model) rows(user int) []row.Row {
	var out []row.Row
	for id, o := range m.orders {
		if o.user == user {
			out = append(out, ints(id, o.user, o.amount))
		}
	}
	return out
}

func (m *model) view(name string, user int) []row.Row {
	rows := m.rows(user)
	switch name {
	case "by_user":
		if len(rows) == 0 {
			return nil
		}
		sum := 0
		for _, r := range rows {
			sum += int(r[2].(row.DInt))
		}
		return []row.Row{ints(user, sum)}
	case "large_by_user":
		var out []row.Row
		for _, r := range rows {
			if r[2].(row.DInt) > 500 {
				out = append(out, r)
			}
		}
		return out
	case "top_by_user":
		sort.Slice(rows, func(i, j int) bool { return rows[i][2].Compare(rows[j][2]) > 0 })
		if len(rows) > 2 {
			rows = rows[:2]
		}
		return rows
	case "enriched_by_user":
		name, ok := m.users[user]
		if !ok {
			return nil
		}
		var out []row.Row
		for _, r := range rows {
			out = append(out, append(r, row.DInt(user), row.DString(name)))
		}
		return out
	}
	panic(name)
}

// The views agree with a model of the base tables after random inserts,
// deletes and updates, whether their keys were filled before, during or
// after the writes, and after keys are evicted.
func TestConvergence(t *testing.T) {
	defer leaktest.AfterTest(t)()

	testCases := []struct {
		name   string
		shards int
		store  func(t *testing.T) string
	}{
		{name: "mem", store: func(*testing.T) string { return "mem" }},
		{name: "pebble", store: func(t *testing.T) string { return t.TempDir() }},
		{name: "sharded", shards: 3, store: func(*testing.T) string { return "mem" }},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := testCtx(t)
			e := startEngine(t, convergenceSpec(tc.shards), base.EngineConfig{
				Store:           tc.store(t),
				ReplayChunkSize: 7,
			})
			defer e.Stop(ctx)

			const users = 6
			views := []string{"by_user", "large_by_user", "top_by_user"}
			withJoin := tc.shards <= 1
			if withJoin {
				views = append(views, "enriched_by_user")
			}
			rng := rand.New(rand.NewSource(int64(len(tc.name))))
			m := &model{orders: map[int]order{}, users: map[int]string{}}
			nextID := 1
			// Amounts are unique so that the top-k order is total.
			amount := func(id int) int { return id*7%997 + 1 }

			insertOrder := func() row.Record {
				id := nextID
				nextID++
				o := order{user: rng.Intn(users), amount: amount(id)}
				m.orders[id] = o
				return row.Pos(ints(id, o.user, o.amount))
			}
			anyOrder := func() (int, order) {
				ids := make([]int, 0, len(m.orders))
				for id := range m.orders {
					ids = append(ids, id)
				}
				sort.Ints(ids)
				id := ids[rng.Intn(len(ids))]
				return id, m.orders[id]
			}
			step := func() {
				var rs row.Records
				switch op := rng.Intn(10); {
				case op < 5 || len(m.orders) == 0:
					rs = row.Records{insertOrder()}
				case op < 7:
					id, o := anyOrder()
					delete(m.orders, id)
					rs = row.Records{row.Neg(ints(id, o.user, o.amount))}
				default:
					id, o := anyOrder()
					moved := order{user: rng.Intn(users), amount: o.amount}
					m.orders[id] = moved
					rs = row.Records{
						row.Neg(ints(id, o.user, o.amount)),
						row.Pos(ints(id, moved.user, moved.amount)),
					}
				}
				require.NoError(t, e.Write(ctx, "orders", rs))
			}
			// Users 0 to 4 exist; orders of user 5 never join.
			renameUser := func(uid int) {
				var rs row.Records
				if old, ok := m.users[uid]; ok {
					rs = append(rs, row.Neg(row.Row{row.DInt(uid), row.DString(old)}))
				}
				name := fmt.Sprintf("user%d-%d", uid, rng.Intn(1000))
				m.users[uid] = name
				rs = append(rs, row.Pos(row.Row{row.DInt(uid), row.DString(name)}))
				require.NoError(t, e.Write(ctx, "users", rs))
			}
			check := func(round string) {
				require.NoError(t, e.Flush(ctx))
				for _, v := range views {
					for u := 0; u < users; u++ {
						got, err := e.Read(ctx, v, row.KeyOf(row.DInt(u)))
						require.NoError(t, err)
						require.Equal(t, render(m.view(v, u)), render(got), "%s: %s[%d]", round, v, u)
					}
				}
			}

			if withJoin {
				for uid := 0; uid < users-1; uid++ {
					renameUser(uid)
				}
			}
			for i := 0; i < 100; i++ {
				step()
			}
			// Fills after the writes.
			check("fill")

			for i := 0; i < 100; i++ {
				step()
				if withJoin && i%20 == 0 {
					renameUser(rng.Intn(users - 1))
				}
			}
			// Updates to filled keys.
			check("update")

			for u := 0; u < users; u += 2 {
				_, err := e.EvictKey(ctx, "totals", row.KeyOf(row.DInt(u)))
				require.NoError(t, err)
			}
			require.NoError(t, e.Flush(ctx))
			// Evicted keys are filled again with the same values.
			check("evict")

			for i := 0; i < 100; i++ {
				step()
			}
			check("after evict")
			require.NoError(t, e.Err())
		})
	}
}

func TestBackpressure(t *testing.T) {
	defer leaktest.AfterTest(t)()
	ctx := testCtx(t)
	e := startEngine(t, sumSpec, base.EngineConfig{
		Eviction: base.EvictionConfig{
			Budget:          1,
			HardLimitFactor: 1,
			Interval:        time.Hour,
		},
	})
	defer e.Stop(ctx)

	var rs row.Records
	for i := 0; i < 20; i++ {
		rs = append(rs, row.Pos(ints(i, i%4, i)))
	}
	require.NoError(t, e.Write(ctx, "orders", rs))
	require.NoError(t, e.Flush(ctx))
	want := map[int]string{}
	for u := 0; u < 4; u++ {
		rows, err := e.Read(ctx, "by_user", row.KeyOf(row.DInt(u)))
		require.NoError(t, err)
		want[u] = render(rows)
	}
	require.NoError(t, e.Flush(ctx))

	r, err := e.Evict(ctx)
	require.NoError(t, err)
	require.Greater(t, r.Usage, int64(1))
	require.True(t, e.Overloaded())

	err = e.Write(ctx, "orders", row.Records{row.Pos(ints(100, 0, 1))})
	require.True(t, errors.Is(err, ErrBackpressure), "%v", err)

	testutils.SucceedsSoon(t, func() error {
		if _, err := e.Evict(ctx); err != nil {
			return err
		}
		if err := e.Flush(ctx); err != nil {
			return err
		}
		if _, err := e.Evict(ctx); err != nil {
			return err
		}
		if e.Overloaded() {
			return errors.New("still over the hard limit")
		}
		return nil
	})

	// The rejected write had no effect, and evicted keys read as before.
	for u := 0; u < 4; u++ {
		rows, err := e.Read(ctx, "by_user", row.KeyOf(row.DInt(u)))
		require.NoError(t, err)
		require.Equal(t, want[u], render(rows))
	}
}

func TestReadCanceled(t *testing.T) {
	defer leaktest.AfterTest(t)()
	ctx := testCtx(t)
	e := startEngine(t, sumSpec, base.EngineConfig{})
	defer e.Stop(ctx)

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	_, err := e.Read(canceled, "by_user", row.KeyOf(row.DInt(1)))
	require.ErrorIs(t, err, context.Canceled)

	// The engine is unaffected.
	require.NoError(t, e.Write(ctx, "orders", row.Records{row.Pos(ints(1, 1, 4))}))
	require.NoError(t, e.Flush(ctx))
	rows, err := e.Read(ctx, "by_user", row.KeyOf(row.DInt(1)))
	require.NoError(t, err)
	require.Equal(t, "(1, 4)\n", render(rows))
}

func TestBadRequests(t *testing.T) {
	defer leaktest.AfterTest(t)()
	ctx := testCtx(t)
	e := startEngine(t, sumSpec, base.EngineConfig{})
	defer e.Stop(ctx)

	testCases := []struct {
		name string
		fn   func() error
		err  string
	}{
		{
			name: "unknown table",
			fn:   func() error { return e.Write(ctx, "nope", nil) },
			err:  `no base named "nope"`,
		},
		{
			name: "write to a view",
			fn:   func() error { return e.Write(ctx, "totals", nil) },
			err:  "totals is a aggregate, not a base",
		},
		{
			name: "read a table",
			fn: func() error {
				_, err := e.Read(ctx, "orders", row.KeyOf(row.DInt(1)))
				return err
			},
			err: "orders is a base, not a reader",
		},
		{
			name: "key arity",
			fn: func() error {
				_, err := e.Read(ctx, "by_user", row.KeyOf(row.DInt(1), row.DInt(2)))
				return err
			},
			err: "does not match the 1 key columns of by_user",
		},
		{
			name: "row width",
			fn: func() error {
				return e.Write(ctx, "orders", row.Records{row.Pos(ints(1, 2))})
			},
			err: "has 2 columns, orders has 3",
		},
		{
			name: "evict unknown node",
			fn: func() error {
				_, err := e.EvictKey(ctx, "nope", row.KeyOf(row.DInt(1)))
				return err
			},
			err: `unknown node "nope"`,
		},
		{
			name: "evict full node",
			fn: func() error {
				_, err := e.EvictKey(ctx, "orders", row.KeyOf(row.DInt(1)))
				return err
			},
			err: "orders is not evictable",
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.fn()
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.err)
		})
	}
}

func TestRejectsMistypedRows(t *testing.T) {
	defer leaktest.AfterTest(t)()
	ctx := testCtx(t)
	e := startEngine(t, `
nodes:
- name: orders
  base: {columns: [id, user, amount], types: {user: string}}
- name: totals
  parents: [orders]
  aggregate: {group: [user], func: sum, over: amount}
  materialize: partial
- name: by_user
  parents: [totals]
  reader: {key: [user]}
`, base.EngineConfig{})
	defer e.Stop(ctx)

	a, b := row.DString("a"), row.DString("b")
	require.NoError(t, e.Write(ctx, "orders", row.Records{row.Pos(row.Row{row.DInt(1), a, row.DInt(10)})}))

	// amount feeds a SUM, so it only takes numbers.
	err := e.Write(ctx, "orders", row.Records{
		row.Pos(row.Row{row.DInt(2), b, row.DInt(3)}),
		row.Pos(row.Row{row.DInt(3), b, row.DString("ten")}),
	})
	require.ErrorContains(t, err, "column amount of (3, b, ten) must be of type number")
	err = e.Write(ctx, "orders", row.Records{row.Pos(row.Row{row.DInt(4), row.DInt(7), row.DInt(1)})})
	require.ErrorContains(t, err, "column user of (4, 7, 1) must be of type string")

	// Nothing of a rejected batch is stored, and the domain keeps running.
	require.NoError(t, e.Write(ctx, "orders", row.Records{
		row.Pos(row.Row{row.DInt(5), b, row.DFloat(2.5)}),
		row.Pos(row.Row{row.DInt(6), b, row.DNull}),
	}))
	require.NoError(t, e.Flush(ctx))
	for user, want := range map[row.Datum]string{a: "(a, 10)\n", b: "(b, 2.5)\n"} {
		rows, err := e.Read(ctx, "by_user", row.KeyOf(user))
		require.NoError(t, err)
		require.Equal(t, want, render(rows))
	}
	require.NoError(t, e.Err())
}

func TestNewEngineRejectsBadConfig(t *testing.T) {
	defer leaktest.AfterTest(t)()
	s, err := graph.ParseSpec([]byte(sumSpec))
	require.NoError(t, err)
	g, err := s.Build()
	require.NoError(t, err)
	_, err = NewEngine(context.Background(), g, base.EngineConfig{
		Eviction: base.EvictionConfig{Policy: "fifo"},
	})
	require.ErrorContains(t, err, `unknown eviction policy "fifo"`)
}
