// Package chaintest provides Peer and Dialer implementations for tests.
package chaintest

import (
	"context"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/coinwatch/coinwatch/chain"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/mock"
)

var (
	_ chain.Peer   = (*MockPeer)(nil)
	_ chain.Dialer = (*MockDialer)(nil)
)

// MockPeer is a testify mock of chain.Peer.
type MockPeer struct {
	mock.Mock

	addr string
}

// NewMockPeer returns a mock peer reporting addr as its address.
func NewMockPeer(addr string) *MockPeer {
	return &MockPeer{addr: addr}
}

// Addr returns the configured address.
func (m *MockPeer) Addr() string {
	return m.addr
}

// Peak implements chain.Peer.
func (m *MockPeer) Peak(ctx context.Context) (fn.Option[uint32], error) {
	args := m.Called(ctx)
	return args.Get(0).(fn.Option[uint32]), args.Error(1)
}

// BlockAtHeight implements chain.Peer.
func (m *MockPeer) BlockAtHeight(ctx context.Context,
	height uint32) (*chain.BlockRecord, error) {

	args := m.Called(ctx, height)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*chain.BlockRecord), args.Error(1)
}

// UnspentCoins implements chain.Peer.
func (m *MockPeer) UnspentCoins(ctx context.Context,
	puzzleHash chainhash.Hash, anchor chain.BlockStamp) (*chain.CoinState,
	error) {

	args := m.Called(ctx, puzzleHash, anchor)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*chain.CoinState), args.Error(1)
}

// IsCoinSpent implements chain.Peer.
func (m *MockPeer) IsCoinSpent(ctx context.Context, coinID chainhash.Hash,
	anchor chain.BlockStamp) (bool, error) {

	args := m.Called(ctx, coinID, anchor)
	return args.Bool(0), args.Error(1)
}

// Close implements chain.Peer.
func (m *MockPeer) Close() error {
	args := m.Called()
	return args.Error(0)
}

// MockDialer is a testify mock of chain.Dialer.
type MockDialer struct {
	mock.Mock
}

// ConnectRandom implements chain.Dialer.
func (m *MockDialer) ConnectRandom(ctx context.Context, net chain.Network,
	creds *chain.Credentials) (chain.Peer, error) {

	args := m.Called(ctx, net, creds)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(chain.Peer), args.Error(1)
}
