// Package ledgertest holds the behaviour every ledger.Store implementation
// must share.
package ledgertest

import (
	"context"
	"sort"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/coinwatch/coinwatch/chain"
	"github.com/coinwatch/coinwatch/ledger"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh, empty store. The store is closed by the suite.
type Factory func(t *testing.T) ledger.Store

// Coin returns a deterministic tracked coin for address.
func Coin(address string, seed byte, amount uint64,
	status ledger.CoinStatus) ledger.TrackedCoin {

	c := chain.Coin{
		ParentCoinInfo: chainhash.Hash{seed},
		PuzzleHash:     chainhash.Hash{0xaa, seed},
		Amount:         amount,
	}

	return ledger.NewTrackedCoin(address, c, chainhash.Hash{}, status, 1)
}

func ids(coins []ledger.TrackedCoin) []string {
	out := make([]string, 0, len(coins))
	for _, c := range coins {
		out = append(out, c.CoinID.String())
	}
	sort.Strings(out)
	return out
}

// Run exercises newStore against the shared store behaviour.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		test func(t *testing.T, s ledger.Store)
	}{
		{"upsert and list", testUpsertAndList},
		{"upsert replaces record", testUpsertReplaces},
		{"set status", testSetStatus},
		{"set status unknown coin", testSetStatusNotFound},
		{"coins by status across addresses", testCoinsByStatus},
		{"invalid status", testInvalidStatus},
		{"sync cursor", testSyncCursor},
		{"apply sync", testApplySync},
		{"apply sync rejects whole batch", testApplySyncAtomic},
		{"cancelled context", testCancelledContext},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() {
				require.NoError(t, s.Close())
			})

			tc.test(t, s)
		})
	}
}

func testUpsertAndList(t *testing.T, s ledger.Store) {
	ctx := t.Context()

	coins, err := s.CoinsByAddress(ctx, "w1")
	require.NoError(t, err)
	require.Empty(t, coins)

	a := Coin("w1", 1, 1000, ledger.StatusUnspent)
	a.AssetID = chainhash.Hash{0x42}
	b := Coin("w1", 2, 2000, ledger.StatusPending)
	other := Coin("w2", 3, 3000, ledger.StatusUnspent)

	for _, c := range []ledger.TrackedCoin{a, b, other} {
		require.NoError(t, s.UpsertCoin(ctx, c))
	}

	coins, err = s.CoinsByAddress(ctx, "w1")
	require.NoError(t, err)
	require.Len(t, coins, 2)
	require.ElementsMatch(t, []ledger.TrackedCoin{a, b}, coins)

	coins, err = s.CoinsByAddress(ctx, "w2")
	require.NoError(t, err)
	require.Equal(t, []ledger.TrackedCoin{other}, coins)
}

func testUpsertReplaces(t *testing.T, s ledger.Store) {
	ctx := t.Context()

	c := Coin("w1", 1, 1000, ledger.StatusUnspent)
	require.NoError(t, s.UpsertCoin(ctx, c))

	c.Status = ledger.StatusSpent
	c.SyncedHeight = 50
	require.NoError(t, s.UpsertCoin(ctx, c))

	coins, err := s.CoinsByAddress(ctx, "w1")
	require.NoError(t, err)
	require.Equal(t, []ledger.TrackedCoin{c}, coins)

	unspent, err := s.CoinsByStatus(ctx, ledger.StatusUnspent)
	require.NoError(t, err)
	require.Empty(t, unspent)

	spent, err := s.CoinsByStatus(ctx, ledger.StatusSpent)
	require.NoError(t, err)
	require.Equal(t, []ledger.TrackedCoin{c}, spent)
}

func testSetStatus(t *testing.T, s ledger.Store) {
	ctx := t.Context()

	c := Coin("w1", 1, 1000, ledger.StatusUnspent)
	require.NoError(t, s.UpsertCoin(ctx, c))

	err := s.SetStatus(ctx, "w1", c.CoinID, ledger.StatusPending, 77)
	require.NoError(t, err)

	coins, err := s.CoinsByAddress(ctx, "w1")
	require.NoError(t, err)
	require.Len(t, coins, 1)
	require.Equal(t, ledger.StatusPending, coins[0].Status)
	require.EqualValues(t, 77, coins[0].SyncedHeight)
	require.Equal(t, c.Amount, coins[0].Amount)

	pending, err := s.CoinsByStatus(ctx, ledger.StatusPending)
	require.NoError(t, err)
	require.Equal(t, ids([]ledger.TrackedCoin{c}), ids(pending))
}

func testSetStatusNotFound(t *testing.T, s ledger.Store) {
	ctx := t.Context()

	err := s.SetStatus(ctx, "w1", chainhash.Hash{9},
		ledger.StatusSpent, 1)
	require.Error(t, err)
	require.True(t, ledger.IsError(err, ledger.ErrCoinNotFound), err)

	// A coin of another address is not found either.
	c := Coin("w2", 1, 1000, ledger.StatusUnspent)
	require.NoError(t, s.UpsertCoin(ctx, c))

	err = s.SetStatus(ctx, "w1", c.CoinID, ledger.StatusSpent, 1)
	require.True(t, ledger.IsError(err, ledger.ErrCoinNotFound), err)
}

func testCoinsByStatus(t *testing.T, s ledger.Store) {
	ctx := t.Context()

	coins := []ledger.TrackedCoin{
		Coin("w1", 1, 10, ledger.StatusUnspent),
		Coin("w1", 2, 20, ledger.StatusPending),
		Coin("w2", 3, 30, ledger.StatusPending),
		Coin("w3", 4, 40, ledger.StatusSpent),
	}
	for _, c := range coins {
		require.NoError(t, s.UpsertCoin(ctx, c))
	}

	pending, err := s.CoinsByStatus(ctx, ledger.StatusPending)
	require.NoError(t, err)
	require.ElementsMatch(t, coins[1:3], pending)

	unspent, err := s.CoinsByStatus(ctx, ledger.StatusUnspent)
	require.NoError(t, err)
	require.Equal(t, coins[:1], unspent)

	spent, err := s.CoinsByStatus(ctx, ledger.StatusSpent)
	require.NoError(t, err)
	require.Equal(t, coins[3:], spent)
}

func testInvalidStatus(t *testing.T, s ledger.Store) {
	ctx := t.Context()

	c := Coin("w1", 1, 1000, ledger.CoinStatus(9))
	err := s.UpsertCoin(ctx, c)
	require.True(t, ledger.IsError(err, ledger.ErrInvalidStatus), err)

	_, err = s.CoinsByStatus(ctx, ledger.CoinStatus(9))
	require.True(t, ledger.IsError(err, ledger.ErrInvalidStatus), err)

	c.Status = ledger.StatusUnspent
	require.NoError(t, s.UpsertCoin(ctx, c))

	err = s.SetStatus(ctx, "w1", c.CoinID, ledger.CoinStatus(9), 1)
	require.True(t, ledger.IsError(err, ledger.ErrInvalidStatus), err)
}

func testSyncCursor(t *testing.T, s ledger.Store) {
	ctx := t.Context()

	stamp, err := s.SyncedTo(ctx, "w1")
	require.NoError(t, err)
	require.True(t, stamp.IsZero())

	want := chain.BlockStamp{Height: 120, Hash: chainhash.Hash{1, 2, 3}}
	require.NoError(t, s.SetSyncedTo(ctx, "w1", want))

	stamp, err = s.SyncedTo(ctx, "w1")
	require.NoError(t, err)
	require.Equal(t, want, stamp)

	want.Height = 130
	require.NoError(t, s.SetSyncedTo(ctx, "w1", want))

	stamp, err = s.SyncedTo(ctx, "w1")
	require.NoError(t, err)
	require.Equal(t, want, stamp)

	stamp, err = s.SyncedTo(ctx, "w2")
	require.NoError(t, err)
	require.True(t, stamp.IsZero())
}

func testApplySync(t *testing.T, s ledger.Store) {
	ctx := t.Context()

	c1 := Coin("w1", 1, 10, ledger.StatusUnspent)
	c2 := Coin("w1", 2, 20, ledger.StatusPending)
	require.NoError(t, s.UpsertCoin(ctx, c2))

	c2.Status = ledger.StatusSpent
	c2.SyncedHeight = 50
	stamp := chain.BlockStamp{Height: 50, Hash: chainhash.Hash{5}}
	err := s.ApplySync(ctx, "w1", []ledger.TrackedCoin{c1, c2}, stamp)
	require.NoError(t, err)

	coins, err := s.CoinsByAddress(ctx, "w1")
	require.NoError(t, err)
	require.ElementsMatch(t, []ledger.TrackedCoin{c1, c2}, coins)

	got, err := s.SyncedTo(ctx, "w1")
	require.NoError(t, err)
	require.Equal(t, stamp, got)

	// An empty batch still advances the cursor.
	stamp.Height = 60
	require.NoError(t, s.ApplySync(ctx, "w1", nil, stamp))

	got, err = s.SyncedTo(ctx, "w1")
	require.NoError(t, err)
	require.Equal(t, stamp, got)
}

func testApplySyncAtomic(t *testing.T, s ledger.Store) {
	ctx := t.Context()

	good := Coin("w1", 1, 10, ledger.StatusUnspent)
	bad := Coin("w1", 2, 20, ledger.CoinStatus(99))
	stamp := chain.BlockStamp{Height: 50, Hash: chainhash.Hash{5}}

	err := s.ApplySync(ctx, "w1", []ledger.TrackedCoin{good, bad}, stamp)
	require.True(t, ledger.IsError(err, ledger.ErrInvalidStatus), err)

	coins, err := s.CoinsByAddress(ctx, "w1")
	require.NoError(t, err)
	require.Empty(t, coins)

	got, err := s.SyncedTo(ctx, "w1")
	require.NoError(t, err)
	require.True(t, got.IsZero())
}

func testCancelledContext(t *testing.T, s ledger.Store) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	err := s.UpsertCoin(ctx, Coin("w1", 1, 1, ledger.StatusUnspent))
	require.ErrorIs(t, err, context.Canceled)

	_, err = s.CoinsByAddress(ctx, "w1")
	require.ErrorIs(t, err, context.Canceled)
}
