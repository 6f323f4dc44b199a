// Package rpcpeer implements chain.Peer and chain.Dialer over the HTTPS JSON
// RPC interface of full nodes.
package rpcpeer

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/coinwatch/coinwatch/chain"
	"github.com/lightningnetwork/lnd/fn/v2"
)

var (
	// ErrCoinNotFound is returned by IsCoinSpent for coins the node does
	// not know.
	ErrCoinNotFound = errors.New("coin not found")

	// ErrBehindAnchor is returned when the node's peak is below the
	// anchor of a query.
	ErrBehindAnchor = errors.New("node peak below anchor")
)

// hash is a chainhash.Hash in the 0x prefixed natural byte order form full
// nodes use on the wire.
type hash chainhash.Hash

func (h hash) MarshalText() ([]byte, error) {
	return []byte(chain.HashString(chainhash.Hash(h))), nil
}

func (h *hash) UnmarshalText(text []byte) error {
	parsed, err := chain.ParseHash(string(text))
	if err != nil {
		return err
	}
	*h = hash(parsed)

	return nil
}

type coinJSON struct {
	ParentCoinInfo hash   `json:"parent_coin_info"`
	PuzzleHash     hash   `json:"puzzle_hash"`
	Amount         uint64 `json:"amount"`
}

type coinRecordJSON struct {
	Coin                coinJSON `json:"coin"`
	ConfirmedBlockIndex uint32   `json:"confirmed_block_index"`
	SpentBlockIndex     uint32   `json:"spent_block_index"`
	Spent               bool     `json:"spent"`
	Coinbase            bool     `json:"coinbase"`
	Timestamp           uint64   `json:"timestamp"`
}

type blockRecordJSON struct {
	HeaderHash hash     `json:"header_hash"`
	Height     uint32   `json:"height"`
	Weight     *big.Int `json:"weight"`
}

type blockchainStateResponse struct {
	BlockchainState struct {
		Peak *blockRecordJSON `json:"peak"`
		Sync struct {
			Synced bool `json:"synced"`
		} `json:"sync"`
	} `json:"blockchain_state"`
}

type blockRecordResponse struct {
	BlockRecord *blockRecordJSON `json:"block_record"`
}

type coinRecordsResponse struct {
	CoinRecords []coinRecordJSON `json:"coin_records"`
}

type coinRecordResponse struct {
	CoinRecord *coinRecordJSON `json:"coin_record"`
}

type networkInfoResponse struct {
	NetworkName   string `json:"network_name"`
	NetworkPrefix string `json:"network_prefix"`
}

// Peer is a session with one full node.
type Peer struct {
	addr string
	c    *client
}

// Compile time check that *Peer satisfies chain.Peer.
var _ chain.Peer = (*Peer)(nil)

// NewPeer returns a peer for the node at addr (host:port) using the given
// HTTP client, which carries the TLS configuration.
func NewPeer(addr string, httpClient *http.Client) *Peer {
	return &Peer{
		addr: addr,
		c: &client{
			baseURL: "https://" + addr,
			http:    httpClient,
		},
	}
}

// Addr implements chain.Peer.
func (p *Peer) Addr() string {
	return p.addr
}

// NetworkName returns the network the node reports it is running on.
func (p *Peer) NetworkName(ctx context.Context) (string, error) {
	var resp networkInfoResponse
	if err := p.c.call(ctx, "get_network_info", nil, &resp); err != nil {
		return "", err
	}

	return resp.NetworkName, nil
}

func (p *Peer) peak(ctx context.Context) (*blockRecordJSON, error) {
	var resp blockchainStateResponse
	err := p.c.call(ctx, "get_blockchain_state", nil, &resp)
	if err != nil {
		return nil, err
	}

	return resp.BlockchainState.Peak, nil
}

// Peak implements chain.Peer.
func (p *Peer) Peak(ctx context.Context) (fn.Option[uint32], error) {
	peak, err := p.peak(ctx)
	if err != nil {
		return fn.None[uint32](), err
	}
	if peak == nil {
		return fn.None[uint32](), nil
	}

	return fn.Some(peak.Height), nil
}

// BlockAtHeight implements chain.Peer.
func (p *Peer) BlockAtHeight(ctx context.Context,
	height uint32) (*chain.BlockRecord, error) {

	var resp blockRecordResponse
	err := p.c.call(ctx, "get_block_record_by_height", map[string]uint32{
		"height": height,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.BlockRecord == nil {
		return nil, fmt.Errorf("%w: no block record at height %d",
			ErrInvalidResponse, height)
	}

	return &chain.BlockRecord{
		Height: resp.BlockRecord.Height,
		Hash:   chainhash.Hash(resp.BlockRecord.HeaderHash),
		Weight: resp.BlockRecord.Weight,
	}, nil
}

// UnspentCoins implements chain.Peer. The full unspent set of the puzzle
// hash is returned, evaluated at the node's peak, which must not be below
// the anchor.
func (p *Peer) UnspentCoins(ctx context.Context, puzzleHash chainhash.Hash,
	anchor chain.BlockStamp) (*chain.CoinState, error) {

	peak, err := p.peak(ctx)
	if err != nil {
		return nil, err
	}
	if err := p.checkAnchor(ctx, anchor, peak); err != nil {
		return nil, err
	}

	var resp coinRecordsResponse
	err = p.c.call(ctx, "get_coin_records_by_puzzle_hash", struct {
		PuzzleHash        hash `json:"puzzle_hash"`
		IncludeSpentCoins bool `json:"include_spent_coins"`
	}{
		PuzzleHash: hash(puzzleHash),
	}, &resp)
	if err != nil {
		return nil, err
	}

	state := &chain.CoinState{}
	if peak != nil {
		state.Height = peak.Height
		state.Hash = chainhash.Hash(peak.HeaderHash)
	}

	for _, rec := range resp.CoinRecords {
		if rec.Spent || rec.SpentBlockIndex > 0 {
			continue
		}

		state.Coins = append(state.Coins, chain.Coin{
			ParentCoinInfo: chainhash.Hash(rec.Coin.ParentCoinInfo),
			PuzzleHash:     chainhash.Hash(rec.Coin.PuzzleHash),
			Amount:         rec.Coin.Amount,
		})
	}

	return state, nil
}

// IsCoinSpent implements chain.Peer.
func (p *Peer) IsCoinSpent(ctx context.Context, coinID chainhash.Hash,
	anchor chain.BlockStamp) (bool, error) {

	peak, err := p.peak(ctx)
	if err != nil {
		return false, err
	}
	if err := p.checkAnchor(ctx, anchor, peak); err != nil {
		return false, err
	}

	var resp coinRecordResponse
	err = p.c.call(ctx, "get_coin_record_by_name", map[string]hash{
		"name": hash(coinID),
	}, &resp)
	if err != nil {
		return false, err
	}
	if resp.CoinRecord == nil {
		return false, fmt.Errorf("%w: %v", ErrCoinNotFound,
			chain.HashString(coinID))
	}

	return resp.CoinRecord.Spent || resp.CoinRecord.SpentBlockIndex > 0,
		nil
}

// checkAnchor fails when the node has not reached a non zero anchor. An
// anchor that was reorganized away is only logged: the unspent set is always
// evaluated in full, so the answer stays correct.
func (p *Peer) checkAnchor(ctx context.Context, anchor chain.BlockStamp,
	peak *blockRecordJSON) error {

	if anchor.IsZero() {
		return nil
	}
	if peak == nil || peak.Height < anchor.Height {
		return fmt.Errorf("%w: anchor height %d", ErrBehindAnchor,
			anchor.Height)
	}

	block, err := p.BlockAtHeight(ctx, anchor.Height)
	if err != nil {
		return err
	}
	if block.Hash != anchor.Hash {
		log.Warnf("Anchor %v at height %d is no longer on the main "+
			"chain of %s", chain.HashString(anchor.Hash),
			anchor.Height, p.addr)
	}

	return nil
}

// Close implements chain.Peer.
func (p *Peer) Close() error {
	p.c.http.CloseIdleConnections()
	return nil
}
