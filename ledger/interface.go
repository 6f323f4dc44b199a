// Package ledger persists the coins tracked for watched addresses and the
// per-address sync cursor.
package ledger

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/coinwatch/coinwatch/chain"
)

// CoinStatus is the lifecycle state of a tracked coin.
type CoinStatus uint8

const (
	// StatusUnspent marks a coin the network reports as unspent.
	StatusUnspent CoinStatus = iota

	// StatusPending marks a coin whose spend has been predicted locally
	// but not yet observed on chain.
	StatusPending

	// StatusSpent marks a coin that is gone from the unspent set. It is
	// terminal.
	StatusSpent
)

// String returns the lower case name of the status.
func (s CoinStatus) String() string {
	switch s {
	case StatusUnspent:
		return "unspent"
	case StatusPending:
		return "pending"
	case StatusSpent:
		return "spent"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// Valid reports whether s is a known status.
func (s CoinStatus) Valid() bool {
	return s <= StatusSpent
}

// CanTransition reports whether a coin may move from s to next. Unspent and
// Pending may move into each other and into Spent; Spent never moves.
func (s CoinStatus) CanTransition(next CoinStatus) bool {
	if !s.Valid() || !next.Valid() {
		return false
	}
	if s == StatusSpent {
		return next == StatusSpent
	}

	return true
}

// ParseCoinStatus is the inverse of CoinStatus.String.
func ParseCoinStatus(s string) (CoinStatus, error) {
	switch s {
	case "unspent":
		return StatusUnspent, nil
	case "pending":
		return StatusPending, nil
	case "spent":
		return StatusSpent, nil
	default:
		return 0, storeError(ErrInvalidStatus,
			fmt.Sprintf("unknown coin status %q", s), nil)
	}
}

// TrackedCoin is a coin observed for a watched address.
type TrackedCoin struct {
	// Address is the watched address the coin belongs to.
	Address string

	// CoinID is the content derived id of the coin.
	CoinID chainhash.Hash

	ParentCoinInfo chainhash.Hash
	PuzzleHash     chainhash.Hash
	Amount         uint64

	// SyncedHeight is the last height the status was confirmed at.
	SyncedHeight uint32

	Status CoinStatus

	// AssetID identifies the asset the coin carries. The zero hash is the
	// native asset.
	AssetID chainhash.Hash
}

// Coin returns the chain coin the record describes.
func (c *TrackedCoin) Coin() chain.Coin {
	return chain.Coin{
		ParentCoinInfo: c.ParentCoinInfo,
		PuzzleHash:     c.PuzzleHash,
		Amount:         c.Amount,
	}
}

// NewTrackedCoin creates a record for coin observed for address.
func NewTrackedCoin(address string, coin chain.Coin, assetID chainhash.Hash,
	status CoinStatus, height uint32) TrackedCoin {

	return TrackedCoin{
		Address:        address,
		CoinID:         coin.ID(),
		ParentCoinInfo: coin.ParentCoinInfo,
		PuzzleHash:     coin.PuzzleHash,
		Amount:         coin.Amount,
		SyncedHeight:   height,
		Status:         status,
		AssetID:        assetID,
	}
}

// Store is the storage of tracked coins and sync cursors. It carries no
// business rules: status transitions are validated by callers.
type Store interface {
	// UpsertCoin inserts the coin or replaces the stored record with the
	// same address and coin id.
	UpsertCoin(ctx context.Context, coin TrackedCoin) error

	// SetStatus changes the status and synced height of a stored coin. A
	// StoreError with code ErrCoinNotFound is returned for unknown coins.
	SetStatus(ctx context.Context, address string, coinID chainhash.Hash,
		status CoinStatus, height uint32) error

	// CoinsByAddress returns every coin tracked for address.
	CoinsByAddress(ctx context.Context, address string) ([]TrackedCoin,
		error)

	// CoinsByStatus returns every coin with the given status across all
	// addresses.
	CoinsByStatus(ctx context.Context, status CoinStatus) ([]TrackedCoin,
		error)

	// SyncedTo returns the sync cursor of address. The zero stamp is
	// returned for addresses that were never synced.
	SyncedTo(ctx context.Context, address string) (chain.BlockStamp, error)

	// SetSyncedTo stores the sync cursor of address.
	SetSyncedTo(ctx context.Context, address string,
		stamp chain.BlockStamp) error

	// ApplySync stores every coin and then the sync cursor of address
	// atomically: either all writes are persisted or none is.
	ApplySync(ctx context.Context, address string, coins []TrackedCoin,
		stamp chain.BlockStamp) error

	// Close releases the resources owned by the store.
	Close() error
}
