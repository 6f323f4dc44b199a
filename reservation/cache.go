// Package reservation keeps short lived claims on coins so concurrent coin
// selections never hand out the same coin twice.
package reservation

import (
	"context"
	"errors"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// DefaultTTL is how long a reservation excludes a coin from selection.
const DefaultTTL = 10 * time.Minute

// ErrCoinReserved is returned by Reserve when one of the coins already has a
// live reservation. No coin of the call is reserved in that case.
var ErrCoinReserved = errors.New("coin already reserved")

// Cache is a store of coin reservations. A reservation is live while the
// current time is before its expiry.
type Cache interface {
	// Reserve reserves every coin in ids until expiry. It is an atomic
	// test-and-set: either all coins are reserved or, when any of them is
	// live-reserved already, none is and ErrCoinReserved is returned.
	Reserve(ctx context.Context, ids []chainhash.Hash,
		expiry time.Time) error

	// Live returns the ids of all live reservations. Expired entries are
	// pruned while scanning.
	Live(ctx context.Context) (fn.Set[chainhash.Hash], error)

	// Release drops the reservations of ids. Unknown ids are ignored.
	Release(ctx context.Context, ids []chainhash.Hash) error
}
