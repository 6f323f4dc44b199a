package chaintest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/coinwatch/coinwatch/chain"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// ErrStub is the error returned by stubs configured to fail.
var ErrStub = errors.New("stub peer failure")

// StubPeer is an in-memory peer whose chain view is scripted by the test.
type StubPeer struct {
	addr string

	mu        sync.Mutex
	peak      fn.Option[uint32]
	peakErr   error
	coins     map[chainhash.Hash][]chain.Coin
	fetchErr  error
	spent     map[chainhash.Hash]bool
	fetches   int
	anchors   []chain.BlockStamp
	closed    bool
	closeHook func()
	fetchHook func()
}

// NewStubPeer returns a stub peer at the given height with an empty view.
func NewStubPeer(addr string, height uint32) *StubPeer {
	return &StubPeer{
		addr:  addr,
		peak:  fn.Some(height),
		coins: make(map[chainhash.Hash][]chain.Coin),
		spent: make(map[chainhash.Hash]bool),
	}
}

// SetPeak changes the height the peer reports.
func (s *StubPeer) SetPeak(peak fn.Option[uint32], err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.peak = peak
	s.peakErr = err
}

// SetCoins replaces the unspent set the peer reports for puzzleHash.
func (s *StubPeer) SetCoins(puzzleHash chainhash.Hash, coins ...chain.Coin) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.coins[puzzleHash] = coins
}

// SetSpent marks a coin id as spent for IsCoinSpent.
func (s *StubPeer) SetSpent(coinID chainhash.Hash) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.spent[coinID] = true
}

// FailFetches makes every subsequent coin query fail with err. A nil err
// restores normal behavior.
func (s *StubPeer) FailFetches(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.fetchErr = err
}

// OnClose registers a function run when the peer is closed.
func (s *StubPeer) OnClose(f func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closeHook = f
}

// OnFetch registers a function run at the start of every UnspentCoins call,
// before the scripted answer is read.
func (s *StubPeer) OnFetch(f func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.fetchHook = f
}

// Fetches returns the number of UnspentCoins calls served.
func (s *StubPeer) Fetches() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.fetches
}

// Anchors returns the anchors UnspentCoins was queried with.
func (s *StubPeer) Anchors() []chain.BlockStamp {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]chain.BlockStamp(nil), s.anchors...)
}

// Closed reports whether Close was called.
func (s *StubPeer) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.closed
}

// Addr implements chain.Peer.
func (s *StubPeer) Addr() string {
	return s.addr
}

// Peak implements chain.Peer.
func (s *StubPeer) Peak(ctx context.Context) (fn.Option[uint32], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.peakErr != nil {
		return fn.None[uint32](), s.peakErr
	}

	return s.peak, nil
}

// BlockAtHeight implements chain.Peer. Hashes are derived from the height so
// every stub agrees on the same chain.
func (s *StubPeer) BlockAtHeight(ctx context.Context,
	height uint32) (*chain.BlockRecord, error) {

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fetchErr != nil {
		return nil, s.fetchErr
	}

	return &chain.BlockRecord{
		Height: height,
		Hash:   BlockHash(height),
	}, nil
}

// UnspentCoins implements chain.Peer.
func (s *StubPeer) UnspentCoins(ctx context.Context,
	puzzleHash chainhash.Hash, anchor chain.BlockStamp) (*chain.CoinState,
	error) {

	s.mu.Lock()
	hook := s.fetchHook
	s.mu.Unlock()

	if hook != nil {
		hook()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.fetches++
	s.anchors = append(s.anchors, anchor)

	if s.fetchErr != nil {
		return nil, s.fetchErr
	}

	height := s.peak.UnwrapOr(0)

	return &chain.CoinState{
		Coins:  append([]chain.Coin(nil), s.coins[puzzleHash]...),
		Height: height,
		Hash:   BlockHash(height),
	}, nil
}

// IsCoinSpent implements chain.Peer.
func (s *StubPeer) IsCoinSpent(ctx context.Context, coinID chainhash.Hash,
	anchor chain.BlockStamp) (bool, error) {

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fetchErr != nil {
		return false, s.fetchErr
	}

	return s.spent[coinID], nil
}

// Close implements chain.Peer.
func (s *StubPeer) Close() error {
	s.mu.Lock()
	s.closed = true
	hook := s.closeHook
	s.mu.Unlock()

	if hook != nil {
		hook()
	}

	return nil
}

// BlockHash returns the deterministic block hash stubs use for height.
func BlockHash(height uint32) chainhash.Hash {
	return chainhash.HashH([]byte(fmt.Sprintf("block-%d", height)))
}

// StubDialer hands out a scripted sequence of dial results. Once the script
// is exhausted every dial fails.
type StubDialer struct {
	mu      sync.Mutex
	results []func() (chain.Peer, error)
	dials   int
}

// NewStubDialer returns a dialer that answers dials with peers in order.
// A nil entry produces a failed dial.
func NewStubDialer(peers ...chain.Peer) *StubDialer {
	d := &StubDialer{}
	d.Add(peers...)

	return d
}

// Add appends dial results to the script.
func (d *StubDialer) Add(peers ...chain.Peer) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, p := range peers {
		p := p
		d.results = append(d.results, func() (chain.Peer, error) {
			if p == nil {
				return nil, ErrStub
			}

			return p, nil
		})
	}
}

// Dials returns the number of ConnectRandom calls.
func (d *StubDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.dials
}

// ConnectRandom implements chain.Dialer.
func (d *StubDialer) ConnectRandom(ctx context.Context, net chain.Network,
	creds *chain.Credentials) (chain.Peer, error) {

	d.mu.Lock()
	defer d.mu.Unlock()

	d.dials++
	if len(d.results) == 0 {
		return nil, ErrStub
	}

	next := d.results[0]
	d.results = d.results[1:]

	return next()
}
