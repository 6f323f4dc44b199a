package chain

import (
	"context"
	"math/big"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// BlockStamp defines a block (by height and a unique hash) and is used to mark
// a point in the blockchain from which a coin-state query is evaluated. The
// zero value anchors a query at genesis.
type BlockStamp struct {
	Height uint32
	Hash   chainhash.Hash
}

// IsZero reports whether the stamp is unset.
func (b BlockStamp) IsZero() bool {
	return b.Height == 0 && b.Hash == (chainhash.Hash{})
}

// BlockRecord is the subset of a full node's block record used to resolve
// anchor hashes.
type BlockRecord struct {
	Height uint32
	Hash   chainhash.Hash

	// Weight is the cumulative chain weight at this block. It does not fit
	// into 64 bits on mainnet.
	Weight *big.Int
}

// CoinState is the set of coins a peer reports as currently unspent for a
// puzzle hash, along with the chain point the view was evaluated at.
type CoinState struct {
	Coins []Coin

	// Height and Hash identify the peak the peer evaluated the query
	// against.
	Height uint32
	Hash   chainhash.Hash
}

// Credentials carries the TLS material a transport uses to authenticate
// itself to remote full nodes.
type Credentials struct {
	// CertFile and KeyFile hold the client certificate pair presented to
	// the node.
	CertFile string
	KeyFile  string

	// CAFile optionally pins the certificate authority the node's
	// certificate must chain to. When empty the system pool is used.
	CAFile string

	// SkipVerify disables verification of the node's certificate. Full
	// nodes commonly serve self-signed certificates issued by their own
	// private CA.
	SkipVerify bool
}

// Peer is a long-lived session with a single remote full node. All methods
// must be safe for concurrent use.
type Peer interface {
	// Addr returns the remote address of the peer.
	Addr() string

	// Peak returns the height of the peer's current chain tip. None is
	// returned while the peer has not reported a peak yet.
	Peak(ctx context.Context) (fn.Option[uint32], error)

	// BlockAtHeight returns the block record at the given height on the
	// peer's main chain.
	BlockAtHeight(ctx context.Context, height uint32) (*BlockRecord, error)

	// UnspentCoins returns every coin locked by puzzleHash that the peer
	// considers unspent, evaluated from the given anchor.
	UnspentCoins(ctx context.Context, puzzleHash chainhash.Hash,
		anchor BlockStamp) (*CoinState, error)

	// IsCoinSpent reports whether the coin with the given id has been
	// spent as seen from the anchor.
	IsCoinSpent(ctx context.Context, coinID chainhash.Hash,
		anchor BlockStamp) (bool, error)

	// Close tears down the session.
	Close() error
}

// Dialer establishes sessions with remote full nodes.
type Dialer interface {
	// ConnectRandom opens a session with a randomly chosen node of the
	// given network.
	ConnectRandom(ctx context.Context, net Network,
		creds *Credentials) (Peer, error)
}
