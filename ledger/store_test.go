package ledger_test

import (
	"path/filepath"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcwallet/walletdb"
	"github.com/coinwatch/coinwatch/chain"
	"github.com/coinwatch/coinwatch/ledger"
	"github.com/coinwatch/coinwatch/ledger/ledgertest"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) walletdb.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "ledger.db")
	db, err := ledger.OpenDB(path, ledger.DefaultDBTimeout)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, db.Close())
	})

	return db
}

func TestDBStore(t *testing.T) {
	t.Parallel()

	ledgertest.Run(t, func(t *testing.T) ledger.Store {
		s, err := ledger.NewDBStore(openTestDB(t))
		require.NoError(t, err)
		return s
	})
}

// TestDBStoreReopen checks records survive closing and reopening the file.
func TestDBStoreReopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "ledger.db")
	ctx := t.Context()

	db, err := ledger.OpenDB(path, ledger.DefaultDBTimeout)
	require.NoError(t, err)

	s, err := ledger.NewDBStore(db)
	require.NoError(t, err)

	c := ledgertest.Coin("w1", 1, 500, ledger.StatusPending)
	require.NoError(t, s.UpsertCoin(ctx, c))
	stamp := chain.BlockStamp{Height: 9, Hash: chainhash.Hash{9}}
	require.NoError(t, s.SetSyncedTo(ctx, "w1", stamp))
	require.NoError(t, db.Close())

	db, err = ledger.OpenDB(path, ledger.DefaultDBTimeout)
	require.NoError(t, err)
	defer db.Close()

	s, err = ledger.NewDBStore(db)
	require.NoError(t, err)

	coins, err := s.CoinsByAddress(ctx, "w1")
	require.NoError(t, err)
	require.Equal(t, []ledger.TrackedCoin{c}, coins)

	got, err := s.SyncedTo(ctx, "w1")
	require.NoError(t, err)
	require.Equal(t, stamp, got)
}

func TestDeleteCursors(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	db := openTestDB(t)

	s, err := ledger.NewDBStore(db)
	require.NoError(t, err)

	c := ledgertest.Coin("w1", 1, 500, ledger.StatusUnspent)
	require.NoError(t, s.UpsertCoin(ctx, c))
	require.NoError(t, s.SetSyncedTo(ctx, "w1",
		chain.BlockStamp{Height: 9}))

	require.NoError(t, ledger.DeleteCursors(db))

	stamp, err := s.SyncedTo(ctx, "w1")
	require.NoError(t, err)
	require.True(t, stamp.IsZero())

	coins, err := s.CoinsByAddress(ctx, "w1")
	require.NoError(t, err)
	require.Len(t, coins, 1)
}

func TestCoinStatusTransitions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from, to ledger.CoinStatus
		ok       bool
	}{
		{ledger.StatusUnspent, ledger.StatusPending, true},
		{ledger.StatusPending, ledger.StatusUnspent, true},
		{ledger.StatusUnspent, ledger.StatusSpent, true},
		{ledger.StatusPending, ledger.StatusSpent, true},
		{ledger.StatusSpent, ledger.StatusUnspent, false},
		{ledger.StatusSpent, ledger.StatusPending, false},
		{ledger.StatusSpent, ledger.StatusSpent, true},
		{ledger.StatusUnspent, ledger.CoinStatus(7), false},
	}

	for _, tc := range tests {
		require.Equal(t, tc.ok, tc.from.CanTransition(tc.to),
			"%v -> %v", tc.from, tc.to)
	}
}

func TestParseCoinStatus(t *testing.T) {
	t.Parallel()

	for _, s := range []ledger.CoinStatus{
		ledger.StatusUnspent, ledger.StatusPending, ledger.StatusSpent,
	} {
		got, err := ledger.ParseCoinStatus(s.String())
		require.NoError(t, err)
		require.Equal(t, s, got)
	}

	_, err := ledger.ParseCoinStatus("frozen")
	require.True(t, ledger.IsError(err, ledger.ErrInvalidStatus))
}
