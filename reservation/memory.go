package reservation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/coinwatch/coinwatch/metrics"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// MemoryCache is an in-process Cache. Reservations are lost on restart.
type MemoryCache struct {
	clock clock.Clock

	mu      sync.Mutex
	expires map[chainhash.Hash]time.Time
}

// A compile time check to ensure MemoryCache implements the Cache interface.
var _ Cache = (*MemoryCache)(nil)

// NewMemoryCache creates an empty cache reading time from clk.
func NewMemoryCache(clk clock.Clock) *MemoryCache {
	return &MemoryCache{
		clock:   clk,
		expires: make(map[chainhash.Hash]time.Time),
	}
}

// Reserve reserves every coin in ids until expiry, or none of them.
func (m *MemoryCache) Reserve(ctx context.Context, ids []chainhash.Hash,
	expiry time.Time) error {

	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	for _, id := range ids {
		if exp, ok := m.expires[id]; ok && now.Before(exp) {
			return fmt.Errorf("%w: %v", ErrCoinReserved, id)
		}
	}

	for _, id := range ids {
		m.expires[id] = expiry
	}

	log.Debugf("Reserved %d coins until %v", len(ids), expiry)

	return nil
}

// Live returns the ids of all live reservations and prunes the rest.
func (m *MemoryCache) Live(ctx context.Context) (fn.Set[chainhash.Hash],
	error) {

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	live := fn.NewSet[chainhash.Hash]()
	for id, exp := range m.expires {
		if !now.Before(exp) {
			delete(m.expires, id)
			continue
		}
		live.Add(id)
	}

	metrics.SetReservationsLive(len(live))

	return live, nil
}

// Release drops the reservations of ids.
func (m *MemoryCache) Release(ctx context.Context,
	ids []chainhash.Hash) error {

	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range ids {
		delete(m.expires, id)
	}

	return nil
}
