package reservation

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcwallet/walletdb"
	"github.com/coinwatch/coinwatch/metrics"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// reservationsBucket is the top level bucket holding coin id -> expiry
// pairs. The expiry is stored as big endian unix nanoseconds.
var reservationsBucket = []byte("coinreservations")

// DBCache is a Cache persisted in a walletdb database, so reservations
// survive restarts. Every Reserve runs in a single write transaction which
// provides the test-and-set atomicity.
type DBCache struct {
	db    walletdb.DB
	clock clock.Clock
}

// A compile time check to ensure DBCache implements the Cache interface.
var _ Cache = (*DBCache)(nil)

// NewDBCache creates the reservation bucket in db when missing.
func NewDBCache(db walletdb.DB, clk clock.Clock) (*DBCache, error) {
	err := walletdb.Update(db, func(tx walletdb.ReadWriteTx) error {
		_, err := tx.CreateTopLevelBucket(reservationsBucket)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create reservation bucket: %w", err)
	}

	return &DBCache{db: db, clock: clk}, nil
}

func valueExpiry(t time.Time) []byte {
	v := make([]byte, 8)
	binary.BigEndian.PutUint64(v, uint64(t.UnixNano()))
	return v
}

func readExpiry(v []byte) (time.Time, bool) {
	if len(v) != 8 {
		return time.Time{}, false
	}

	return time.Unix(0, int64(binary.BigEndian.Uint64(v))), true
}

// Reserve reserves every coin in ids until expiry, or none of them.
func (d *DBCache) Reserve(ctx context.Context, ids []chainhash.Hash,
	expiry time.Time) error {

	if err := ctx.Err(); err != nil {
		return err
	}

	now := d.clock.Now()
	err := walletdb.Update(d.db, func(tx walletdb.ReadWriteTx) error {
		b := tx.ReadWriteBucket(reservationsBucket)
		if b == nil {
			return walletdb.ErrBucketNotFound
		}

		for _, id := range ids {
			exp, ok := readExpiry(b.Get(id[:]))
			if ok && now.Before(exp) {
				return fmt.Errorf("%w: %v", ErrCoinReserved, id)
			}
		}

		v := valueExpiry(expiry)
		for _, id := range ids {
			if err := b.Put(id[:], v); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return err
	}

	log.Debugf("Reserved %d coins until %v", len(ids), expiry)

	return nil
}

// Live returns the ids of all live reservations and prunes the rest.
func (d *DBCache) Live(ctx context.Context) (fn.Set[chainhash.Hash], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := d.clock.Now()
	live := fn.NewSet[chainhash.Hash]()
	err := walletdb.Update(d.db, func(tx walletdb.ReadWriteTx) error {
		b := tx.ReadWriteBucket(reservationsBucket)
		if b == nil {
			return walletdb.ErrBucketNotFound
		}

		var expired [][]byte
		err := b.ForEach(func(k, v []byte) error {
			exp, ok := readExpiry(v)
			if !ok || !now.Before(exp) || len(k) != chainhash.HashSize {
				expired = append(expired, append([]byte(nil), k...))
				return nil
			}

			var id chainhash.Hash
			copy(id[:], k)
			live.Add(id)
			return nil
		})
		if err != nil {
			return err
		}

		for _, k := range expired {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		if len(expired) > 0 {
			log.Tracef("Pruned %d expired reservations",
				len(expired))
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.SetReservationsLive(len(live))

	return live, nil
}

// Release drops the reservations of ids.
func (d *DBCache) Release(ctx context.Context, ids []chainhash.Hash) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return walletdb.Update(d.db, func(tx walletdb.ReadWriteTx) error {
		b := tx.ReadWriteBucket(reservationsBucket)
		if b == nil {
			return walletdb.ErrBucketNotFound
		}

		for _, id := range ids {
			if err := b.Delete(id[:]); err != nil {
				return err
			}
		}

		return nil
	})
}
