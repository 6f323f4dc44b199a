package peerpool

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/coinwatch/coinwatch/chain"
	"github.com/coinwatch/coinwatch/chain/chaintest"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var errOp = errors.New("operation failed")

// newTestPool creates a pool over dialer with a deterministic shuffle.
func newTestPool(net chain.Network, dialer chain.Dialer) *Pool {
	return New(Config{
		Dialer:  dialer,
		Network: net,
		Rand:    rand.New(rand.NewSource(1)),
	})
}

// connectedPool returns a pool already connected to peers. Replacement dials
// made by the pool fail.
func connectedPool(t *testing.T, net chain.Network,
	peers ...*chaintest.StubPeer) (*Pool, *chaintest.StubDialer) {

	t.Helper()

	dialer := chaintest.NewStubDialer()
	for _, p := range peers {
		dialer.Add(p)
	}

	pool := newTestPool(net, dialer)
	require.NoError(t, pool.Connect(t.Context(), len(peers), len(peers)))
	require.Len(t, pool.Peers(), len(peers))

	return pool, dialer
}

func stubPeers(heights ...uint32) []*chaintest.StubPeer {
	peers := make([]*chaintest.StubPeer, len(heights))
	for i, h := range heights {
		peers[i] = chaintest.NewStubPeer(fmt.Sprintf("peer-%d", i), h)
	}

	return peers
}

// TestConnectStopsAtMinPeers asserts that Connect stops dialing once enough
// peers are held.
func TestConnectStopsAtMinPeers(t *testing.T) {
	t.Parallel()

	peers := stubPeers(1, 1, 1, 1, 1)
	dialer := chaintest.NewStubDialer(
		peers[0], peers[1], peers[2], peers[3], peers[4],
	)
	pool := newTestPool(chain.Mainnet, dialer)

	require.NoError(t, pool.Connect(t.Context(), 3, 5))
	require.Len(t, pool.Peers(), 3)
	require.Equal(t, 3, dialer.Dials())
	require.True(t, pool.Connected())
}

// TestConnectNoPeersAvailable asserts that a pool with no successful dial
// reports ErrNoPeersAvailable after spending every attempt.
func TestConnectNoPeersAvailable(t *testing.T) {
	t.Parallel()

	dialer := chaintest.NewStubDialer(nil, nil, nil, nil, nil)
	pool := newTestPool(chain.Mainnet, dialer)

	err := pool.Connect(t.Context(), 3, 5)
	require.ErrorIs(t, err, ErrNoPeersAvailable)
	require.Equal(t, 5, dialer.Dials())
	require.False(t, pool.Connected())
}

// TestConnectSwallowsDialErrors asserts that failed attempts do not abort
// Connect and a partially filled pool is a success.
func TestConnectSwallowsDialErrors(t *testing.T) {
	t.Parallel()

	peers := stubPeers(1, 1)
	dialer := chaintest.NewStubDialer(nil, peers[0], nil, peers[1])
	pool := newTestPool(chain.Mainnet, dialer)

	require.NoError(t, pool.Connect(t.Context(), 3, 5))
	require.Len(t, pool.Peers(), 2)
	require.Equal(t, 5, dialer.Dials())
}

// TestConnectSkipsDuplicatePeers asserts that dialing a node already in the
// pool does not add a second session to it.
func TestConnectSkipsDuplicatePeers(t *testing.T) {
	t.Parallel()

	first := chaintest.NewStubPeer("node-a", 1)
	dup := chaintest.NewStubPeer("node-a", 1)
	other := chaintest.NewStubPeer("node-b", 1)
	dialer := chaintest.NewStubDialer(first, dup, other)
	pool := newTestPool(chain.Mainnet, dialer)

	require.NoError(t, pool.Connect(t.Context(), 2, 3))
	require.Len(t, pool.Peers(), 2)
	require.True(t, dup.Closed())
}

func TestWithPeerNotConnected(t *testing.T) {
	t.Parallel()

	pool := newTestPool(chain.Mainnet, chaintest.NewStubDialer())

	err := pool.WithPeer(t.Context(), 3,
		func(context.Context, chain.Peer) error {
			t.Fatal("operation must not run")
			return nil
		},
	)
	require.ErrorIs(t, err, ErrNotConnected)
}

// TestWithPeerMainnetTipOnly asserts that on mainnet only the peers at the
// highest probed height are ever handed to the operation.
func TestWithPeerMainnetTipOnly(t *testing.T) {
	t.Parallel()

	for i := 0; i < 20; i++ {
		peers := stubPeers(10, 20, 20, 5)
		pool, _ := connectedPool(t, chain.Mainnet, peers...)

		var used []string
		err := pool.WithPeer(t.Context(), 10,
			func(_ context.Context, p chain.Peer) error {
				used = append(used, p.Addr())
				return errOp
			},
		)

		// Both tip peers fail, after which the candidates are
		// exhausted even though attempts remain.
		var attemptsErr *AttemptsError
		require.ErrorAs(t, err, &attemptsErr)
		require.Equal(t, 2, attemptsErr.Attempts)
		require.ErrorIs(t, err, errOp)
		require.ElementsMatch(t, []string{"peer-1", "peer-2"}, used)

		// The minority peers survive.
		require.Len(t, pool.Peers(), 2)
		require.True(t, peers[1].Closed())
		require.True(t, peers[2].Closed())
		require.False(t, peers[0].Closed())
	}
}

// TestWithPeerTestnetWholePool asserts that off mainnet every peer is a
// candidate regardless of height.
func TestWithPeerTestnetWholePool(t *testing.T) {
	t.Parallel()

	peers := stubPeers(10, 20, 20, 5)
	pool, _ := connectedPool(t, chain.Testnet, peers...)

	seen := make(map[string]int)
	for i := 0; i < 200; i++ {
		err := pool.WithPeer(t.Context(), 1,
			func(_ context.Context, p chain.Peer) error {
				seen[p.Addr()]++
				return nil
			},
		)
		require.NoError(t, err)
	}

	require.Len(t, seen, 4)
}

// TestWithPeerFailover asserts that a failing peer is removed, replaced and
// never retried within the same call.
func TestWithPeerFailover(t *testing.T) {
	t.Parallel()

	peers := stubPeers(7, 7, 7)
	pool, dialer := connectedPool(t, chain.Testnet, peers...)

	replacement := chaintest.NewStubPeer("replacement", 7)
	dialer.Add(replacement)

	var (
		calls  = make(map[chain.Peer]int)
		failed chain.Peer
	)
	err := pool.WithPeer(t.Context(), 3,
		func(_ context.Context, p chain.Peer) error {
			calls[p]++
			if failed == nil {
				failed = p
				return errOp
			}

			return nil
		},
	)
	require.NoError(t, err)
	require.Len(t, calls, 2)
	for p, n := range calls {
		require.Equal(t, 1, n, "peer %s invoked twice", p.Addr())
	}

	// The failed peer is gone for good and the replacement took its
	// place.
	require.True(t, failed.(*chaintest.StubPeer).Closed())
	require.NotContains(t, pool.Peers(), failed)
	require.Contains(t, pool.Peers(), chain.Peer(replacement))
	require.Len(t, pool.Peers(), 3)
}

// TestWithPeerProbeFailureKeepsPeer asserts that a peer whose height probe
// fails stays in the pool and counts as height zero.
func TestWithPeerProbeFailureKeepsPeer(t *testing.T) {
	t.Parallel()

	peers := stubPeers(0, 0)
	peers[0].SetPeak(fn.None[uint32](), chaintest.ErrStub)
	pool, _ := connectedPool(t, chain.Mainnet, peers...)

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		err := pool.WithPeer(t.Context(), 1,
			func(_ context.Context, p chain.Peer) error {
				seen[p.Addr()] = true
				return nil
			},
		)
		require.NoError(t, err)
	}

	// Both peers share height zero, so both are candidates.
	require.Len(t, pool.Peers(), 2)
	require.True(t, seen["peer-0"])
	require.True(t, seen["peer-1"])
}

// TestWithPeerUsesMockPeer drives the pool with testify mocks to assert the
// exact peer interactions of a failing attempt.
func TestWithPeerUsesMockPeer(t *testing.T) {
	t.Parallel()

	peer := chaintest.NewMockPeer("mock-peer")
	peer.On("Peak", mock.Anything).Return(fn.Some[uint32](42), nil)
	peer.On("Close").Return(nil).Once()

	dialer := &chaintest.MockDialer{}
	dialer.On("ConnectRandom", mock.Anything, chain.Mainnet,
		mock.Anything).Return(peer, nil).Once()
	dialer.On("ConnectRandom", mock.Anything, chain.Mainnet,
		mock.Anything).Return(nil, chaintest.ErrStub)

	pool := newTestPool(chain.Mainnet, dialer)
	require.NoError(t, pool.Connect(t.Context(), 1, 1))

	err := pool.WithPeer(t.Context(), 3,
		func(context.Context, chain.Peer) error {
			return errOp
		},
	)
	require.ErrorIs(t, err, errOp)

	peer.AssertExpectations(t)
	dialer.AssertNumberOfCalls(t, "ConnectRandom", 2)
}

func TestWithPeerNoAttemptBudget(t *testing.T) {
	t.Parallel()

	pool, _ := connectedPool(t, chain.Mainnet, stubPeers(1)...)

	err := pool.WithPeer(t.Context(), 0,
		func(context.Context, chain.Peer) error {
			return nil
		},
	)
	require.ErrorIs(t, err, ErrAllPeersFailed)
}

// TestWithPeerEmptiesPool asserts that once failover removed the last peer
// the pool reports ErrNotConnected.
func TestWithPeerEmptiesPool(t *testing.T) {
	t.Parallel()

	pool, _ := connectedPool(t, chain.Mainnet, stubPeers(1)...)

	err := pool.WithPeer(t.Context(), 3,
		func(context.Context, chain.Peer) error {
			return errOp
		},
	)
	require.ErrorIs(t, err, errOp)
	require.False(t, pool.Connected())

	err = pool.WithPeer(t.Context(), 3,
		func(context.Context, chain.Peer) error {
			return nil
		},
	)
	require.ErrorIs(t, err, ErrNotConnected)
}

// TestWithPeerContextCancelled asserts that a cancelled caller gets its
// context error and the peer is not punished for it.
func TestWithPeerContextCancelled(t *testing.T) {
	t.Parallel()

	peers := stubPeers(1, 1)
	pool, _ := connectedPool(t, chain.Testnet, peers...)

	ctx, cancel := context.WithCancel(t.Context())
	err := pool.WithPeer(ctx, 3,
		func(ctx context.Context, _ chain.Peer) error {
			cancel()
			return ctx.Err()
		},
	)
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, pool.Peers(), 2)
}

func TestWithPeerResult(t *testing.T) {
	t.Parallel()

	pool, _ := connectedPool(t, chain.Mainnet, stubPeers(5)...)

	addr, err := WithPeerResult(t.Context(), pool, 1,
		func(_ context.Context, p chain.Peer) (string, error) {
			return p.Addr(), nil
		},
	)
	require.NoError(t, err)
	require.Equal(t, "peer-0", addr)
}

// TestRestartSwapsPeers asserts that Restart replaces the whole set and
// closes the previous sessions.
func TestRestartSwapsPeers(t *testing.T) {
	t.Parallel()

	old := stubPeers(1, 1)
	pool, dialer := connectedPool(t, chain.Mainnet, old...)

	fresh := chaintest.NewStubPeer("fresh", 2)
	dialer.Add(fresh)

	require.NoError(t, pool.Restart(t.Context(), 1, 3))
	require.Equal(t, []chain.Peer{fresh}, pool.Peers())
	require.True(t, old[0].Closed())
	require.True(t, old[1].Closed())

	// A restart that reaches nobody keeps the current set.
	err := pool.Restart(t.Context(), 1, 2)
	require.ErrorIs(t, err, ErrNoPeersAvailable)
	require.Equal(t, []chain.Peer{fresh}, pool.Peers())
	require.False(t, fresh.Closed())
}

// TestWithPeerAfterRestart asserts that a call whose candidates were all
// swapped out by a concurrent Restart selects again from the fresh set.
func TestWithPeerAfterRestart(t *testing.T) {
	t.Parallel()

	var (
		pool       *Pool
		restartErr error
	)
	fresh := chaintest.NewStubPeer("fresh", 10)

	old := chaintest.NewMockPeer("old")
	old.On("Close").Return(nil).Once()
	old.On("Peak", mock.Anything).Return(fn.Some[uint32](10), nil).
		Run(func(mock.Arguments) {
			restartErr = pool.Restart(context.Background(), 1, 1)
		}).Once()

	dialer := chaintest.NewStubDialer(old)
	pool = newTestPool(chain.Testnet, dialer)
	require.NoError(t, pool.Connect(t.Context(), 1, 1))
	dialer.Add(fresh)

	var used []chain.Peer
	err := pool.WithPeer(t.Context(), 1,
		func(_ context.Context, peer chain.Peer) error {
			used = append(used, peer)
			return nil
		},
	)
	require.NoError(t, restartErr)
	require.NoError(t, err)
	require.Equal(t, []chain.Peer{fresh}, used)
	require.Equal(t, []chain.Peer{fresh}, pool.Peers())

	old.AssertExpectations(t)
}

func TestCloseClosesPeers(t *testing.T) {
	t.Parallel()

	peers := stubPeers(1, 1)
	pool, _ := connectedPool(t, chain.Mainnet, peers...)

	require.NoError(t, pool.Close())
	require.Empty(t, pool.Peers())
	require.False(t, pool.Connected())
	require.True(t, peers[0].Closed())
	require.True(t, peers[1].Closed())

	err := pool.WithPeer(t.Context(), 1,
		func(context.Context, chain.Peer) error {
			return nil
		},
	)
	require.ErrorIs(t, err, ErrNotConnected)
}

// TestWithPeerConcurrent hammers the pool from several goroutines while
// peers fail, asserting that no call reuses a peer it already evicted.
func TestWithPeerConcurrent(t *testing.T) {
	t.Parallel()

	const numPeers = 32
	heights := make([]uint32, numPeers)
	for i := range heights {
		heights[i] = 100
	}
	pool, _ := connectedPool(t, chain.Testnet, stubPeers(heights...)...)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			tried := make(map[chain.Peer]bool)
			_ = pool.WithPeer(t.Context(), 4,
				func(_ context.Context, p chain.Peer) error {
					if tried[p] {
						t.Errorf("peer %s reused", p.Addr())
					}
					tried[p] = true

					if i%2 == 0 {
						return errOp
					}

					return nil
				},
			)
		}(i)
	}
	wg.Wait()

	// Every failing caller evicts at most four peers.
	require.GreaterOrEqual(t, len(pool.Peers()), numPeers-4*4)
}
