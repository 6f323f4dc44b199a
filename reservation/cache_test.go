package reservation

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/coinwatch/coinwatch/ledger"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/stretchr/testify/require"
)

var testTime = time.Unix(1_700_000_000, 0)

type cacheFactory func(t *testing.T, clk clock.Clock) Cache

func newMemory(_ *testing.T, clk clock.Clock) Cache {
	return NewMemoryCache(clk)
}

func newDB(t *testing.T, clk clock.Clock) Cache {
	path := filepath.Join(t.TempDir(), "reservations.db")
	db, err := ledger.OpenDB(path, time.Second)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, db.Close())
	})

	c, err := NewDBCache(db, clk)
	require.NoError(t, err)

	return c
}

var factories = []struct {
	name string
	new  cacheFactory
}{
	{"memory", newMemory},
	{"bdb", newDB},
}

func forEachCache(t *testing.T, test func(t *testing.T, c Cache,
	clk *clock.TestClock)) {

	for _, f := range factories {
		t.Run(f.name, func(t *testing.T) {
			t.Parallel()

			clk := clock.NewTestClock(testTime)
			test(t, f.new(t, clk), clk)
		})
	}
}

func TestReserveAllOrNothing(t *testing.T) {
	t.Parallel()

	forEachCache(t, func(t *testing.T, c Cache, clk *clock.TestClock) {
		ctx := t.Context()
		a, b, x := chainhash.Hash{1}, chainhash.Hash{2}, chainhash.Hash{3}
		expiry := testTime.Add(DefaultTTL)

		require.NoError(t, c.Reserve(ctx, []chainhash.Hash{a, b}, expiry))

		// b is taken, so x must not be reserved either.
		err := c.Reserve(ctx, []chainhash.Hash{x, b}, expiry)
		require.ErrorIs(t, err, ErrCoinReserved)

		live, err := c.Live(ctx)
		require.NoError(t, err)
		require.Len(t, live, 2)
		require.True(t, live.Contains(a))
		require.True(t, live.Contains(b))
		require.False(t, live.Contains(x))

		require.NoError(t, c.Reserve(ctx, []chainhash.Hash{x}, expiry))
	})
}

func TestReservationExpiry(t *testing.T) {
	t.Parallel()

	forEachCache(t, func(t *testing.T, c Cache, clk *clock.TestClock) {
		ctx := t.Context()
		a := chainhash.Hash{1}

		require.NoError(t, c.Reserve(ctx, []chainhash.Hash{a},
			testTime.Add(DefaultTTL)))

		clk.SetTime(testTime.Add(DefaultTTL - time.Second))
		live, err := c.Live(ctx)
		require.NoError(t, err)
		require.True(t, live.Contains(a))

		// At exactly T+TTL the reservation no longer excludes the coin.
		clk.SetTime(testTime.Add(DefaultTTL))
		live, err = c.Live(ctx)
		require.NoError(t, err)
		require.Empty(t, live)

		// An expired reservation can be taken over.
		require.NoError(t, c.Reserve(ctx, []chainhash.Hash{a},
			testTime.Add(2*DefaultTTL)))
	})
}

func TestRelease(t *testing.T) {
	t.Parallel()

	forEachCache(t, func(t *testing.T, c Cache, clk *clock.TestClock) {
		ctx := t.Context()
		a, b := chainhash.Hash{1}, chainhash.Hash{2}
		expiry := testTime.Add(DefaultTTL)

		require.NoError(t, c.Reserve(ctx, []chainhash.Hash{a, b}, expiry))
		require.NoError(t, c.Release(ctx, []chainhash.Hash{a, {9}}))

		live, err := c.Live(ctx)
		require.NoError(t, err)
		require.Len(t, live, 1)
		require.True(t, live.Contains(b))

		require.NoError(t, c.Reserve(ctx, []chainhash.Hash{a}, expiry))
	})
}

func TestConcurrentReserveDisjoint(t *testing.T) {
	t.Parallel()

	forEachCache(t, func(t *testing.T, c Cache, clk *clock.TestClock) {
		ctx := t.Context()
		coins := []chainhash.Hash{{1}, {2}, {3}}
		expiry := testTime.Add(DefaultTTL)

		const workers = 16
		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			wins int
		)
		for range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()

				if c.Reserve(ctx, coins, expiry) == nil {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		require.Equal(t, 1, wins)
	})
}

func TestCancelledContext(t *testing.T) {
	t.Parallel()

	forEachCache(t, func(t *testing.T, c Cache, clk *clock.TestClock) {
		ctx, cancel := context.WithCancel(t.Context())
		cancel()

		err := c.Reserve(ctx, []chainhash.Hash{{1}}, testTime)
		require.ErrorIs(t, err, context.Canceled)

		_, err = c.Live(ctx)
		require.ErrorIs(t, err, context.Canceled)
	})
}

// TestDBCachePersists checks reservations survive reopening the database.
func TestDBCachePersists(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	clk := clock.NewTestClock(testTime)
	path := filepath.Join(t.TempDir(), "reservations.db")

	db, err := ledger.OpenDB(path, time.Second)
	require.NoError(t, err)
	c, err := NewDBCache(db, clk)
	require.NoError(t, err)
	require.NoError(t, c.Reserve(ctx, []chainhash.Hash{{7}},
		testTime.Add(time.Minute)))
	require.NoError(t, db.Close())

	db, err = ledger.OpenDB(path, time.Second)
	require.NoError(t, err)
	defer db.Close()

	c, err = NewDBCache(db, clk)
	require.NoError(t, err)

	err = c.Reserve(ctx, []chainhash.Hash{{7}}, testTime.Add(time.Minute))
	require.ErrorIs(t, err, ErrCoinReserved)
}
