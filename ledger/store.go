// Copyright (c) 2015 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcwallet/walletdb"
	// Register the bolt backed walletdb driver.
	_ "github.com/btcsuite/btcwallet/walletdb/bdb"
	"github.com/coinwatch/coinwatch/chain"
	"github.com/coinwatch/coinwatch/internal/cfgutil"
)

// DefaultDBTimeout is the time to wait for the bolt file lock.
const DefaultDBTimeout = 60 * time.Second

// OpenDB opens the bolt database at path, creating it when it does not
// exist yet.
func OpenDB(path string, timeout time.Duration) (walletdb.DB, error) {
	exists, err := cfgutil.FileExists(path)
	if err != nil {
		return nil, err
	}

	if exists {
		return walletdb.Open("bdb", path, true, timeout, false)
	}

	log.Infof("Creating ledger database at %s", path)
	return walletdb.Create("bdb", path, true, timeout, false)
}

// DBStore is a Store backed by a walletdb database. The database is shared
// with other users and is not closed by the store.
type DBStore struct {
	db walletdb.DB
}

// A compile time check to ensure DBStore implements the Store interface.
var _ Store = (*DBStore)(nil)

// NewDBStore creates the ledger buckets in db when missing and returns a
// store operating on them.
func NewDBStore(db walletdb.DB) (*DBStore, error) {
	if err := createStore(db); err != nil {
		return nil, err
	}

	return &DBStore{db: db}, nil
}

func (s *DBStore) update(ctx context.Context,
	f func(ns walletdb.ReadWriteBucket) error) error {

	if err := ctx.Err(); err != nil {
		return err
	}

	return walletdb.Update(s.db, func(tx walletdb.ReadWriteTx) error {
		return f(tx.ReadWriteBucket(namespaceKey))
	})
}

func (s *DBStore) view(ctx context.Context,
	f func(ns walletdb.ReadBucket) error) error {

	if err := ctx.Err(); err != nil {
		return err
	}

	return walletdb.View(s.db, func(tx walletdb.ReadTx) error {
		return f(tx.ReadBucket(namespaceKey))
	})
}

// UpsertCoin inserts the coin or replaces the stored record.
func (s *DBStore) UpsertCoin(ctx context.Context, coin TrackedCoin) error {
	if err := validCoins(coin); err != nil {
		return err
	}

	return s.update(ctx, func(ns walletdb.ReadWriteBucket) error {
		return upsertCoin(ns, &coin)
	})
}

// ApplySync stores coins and the sync cursor of address in a single
// transaction.
func (s *DBStore) ApplySync(ctx context.Context, address string,
	coins []TrackedCoin, stamp chain.BlockStamp) error {

	if err := validCoins(coins...); err != nil {
		return err
	}

	return s.update(ctx, func(ns walletdb.ReadWriteBucket) error {
		for i := range coins {
			if err := upsertCoin(ns, &coins[i]); err != nil {
				return err
			}
		}

		return putCursor(ns, address, stamp)
	})
}

func validCoins(coins ...TrackedCoin) error {
	for _, c := range coins {
		if !c.Status.Valid() {
			str := fmt.Sprintf("coin %v has unknown status %d",
				c.CoinID, uint8(c.Status))
			return storeError(ErrInvalidStatus, str, nil)
		}
	}

	return nil
}

func upsertCoin(ns walletdb.ReadWriteBucket, coin *TrackedCoin) error {
	old, err := fetchCoinRecord(ns, coin.Address, coin.CoinID)
	if err != nil {
		return err
	}
	if old != nil {
		if err := deleteStatusIndex(ns, old); err != nil {
			return err
		}
	}

	if err := putCoinRecord(ns, coin); err != nil {
		return err
	}

	return putStatusIndex(ns, coin)
}

// SetStatus changes the status and synced height of a stored coin.
func (s *DBStore) SetStatus(ctx context.Context, address string,
	coinID chainhash.Hash, status CoinStatus, height uint32) error {

	if !status.Valid() {
		str := fmt.Sprintf("unknown status %d", uint8(status))
		return storeError(ErrInvalidStatus, str, nil)
	}

	return s.update(ctx, func(ns walletdb.ReadWriteBucket) error {
		rec, err := fetchCoinRecord(ns, address, coinID)
		if err != nil {
			return err
		}
		if rec == nil {
			str := fmt.Sprintf("coin %v of %s", coinID, address)
			return storeError(ErrCoinNotFound, str, nil)
		}

		if err := deleteStatusIndex(ns, rec); err != nil {
			return err
		}

		rec.Status = status
		rec.SyncedHeight = height
		if err := putCoinRecord(ns, rec); err != nil {
			return err
		}

		return putStatusIndex(ns, rec)
	})
}

// CoinsByAddress returns every coin tracked for address.
func (s *DBStore) CoinsByAddress(ctx context.Context,
	address string) ([]TrackedCoin, error) {

	var coins []TrackedCoin
	err := s.view(ctx, func(ns walletdb.ReadBucket) error {
		var err error
		coins, err = fetchAddressCoins(ns, address)
		return err
	})

	return coins, err
}

// CoinsByStatus returns every coin with the given status.
func (s *DBStore) CoinsByStatus(ctx context.Context,
	status CoinStatus) ([]TrackedCoin, error) {

	if !status.Valid() {
		str := fmt.Sprintf("unknown status %d", uint8(status))
		return nil, storeError(ErrInvalidStatus, str, nil)
	}

	var coins []TrackedCoin
	err := s.view(ctx, func(ns walletdb.ReadBucket) error {
		var err error
		coins, err = fetchCoinsByStatus(ns, status)
		return err
	})

	return coins, err
}

// SyncedTo returns the sync cursor of address.
func (s *DBStore) SyncedTo(ctx context.Context,
	address string) (chain.BlockStamp, error) {

	var stamp chain.BlockStamp
	err := s.view(ctx, func(ns walletdb.ReadBucket) error {
		var err error
		stamp, err = fetchCursor(ns, address)
		return err
	})

	return stamp, err
}

// SetSyncedTo stores the sync cursor of address.
func (s *DBStore) SetSyncedTo(ctx context.Context, address string,
	stamp chain.BlockStamp) error {

	return s.update(ctx, func(ns walletdb.ReadWriteBucket) error {
		return putCursor(ns, address, stamp)
	})
}

// Close is a no-op; the database belongs to the caller.
func (s *DBStore) Close() error {
	return nil
}
