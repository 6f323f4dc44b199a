// Package peerpool maintains a set of sessions with remote full nodes and
// runs operations against them with height based peer selection and
// failover.
package peerpool

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/coinwatch/coinwatch/chain"
	"github.com/coinwatch/coinwatch/metrics"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	// DefaultProbeTimeout bounds a single height probe.
	DefaultProbeTimeout = 10 * time.Second

	// DefaultDialTimeout bounds a single connection attempt.
	DefaultDialTimeout = 30 * time.Second

	// defaultReplacementInterval and defaultReplacementBurst rate limit
	// the replacement dials issued by failover so a pool of failing peers
	// cannot turn into a dial storm.
	defaultReplacementInterval = time.Second
	defaultReplacementBurst    = 3
)

// Op is an operation executed against a single peer.
type Op func(ctx context.Context, peer chain.Peer) error

// Config houses the collaborators and tunables of a Pool.
type Config struct {
	// Dialer opens new peer sessions.
	Dialer chain.Dialer

	// Network selects the network peers are dialed on. It also selects
	// the candidate policy of WithPeer.
	Network chain.Network

	// Credentials are handed to the Dialer on every attempt.
	Credentials *chain.Credentials

	// ProbeTimeout bounds each height probe. Defaults to
	// DefaultProbeTimeout.
	ProbeTimeout time.Duration

	// DialTimeout bounds each connection attempt. Defaults to
	// DefaultDialTimeout.
	DialTimeout time.Duration

	// ReplacementLimiter rate limits replacement dials. A default limiter
	// is used when nil.
	ReplacementLimiter *rate.Limiter

	// Rand is the source used to shuffle candidates. A time seeded
	// source is used when nil.
	Rand *rand.Rand
}

// Pool is a set of live peer sessions. It is safe for concurrent use.
type Pool struct {
	cfg Config

	mu        sync.Mutex
	peers     []chain.Peer
	connected bool

	// epoch is bumped every time the peer set is replaced wholesale so
	// that an in-flight replacement dial does not leak into a set it was
	// not dialed for.
	epoch uint64

	randMu sync.Mutex
	rand   *rand.Rand

	limiter *rate.Limiter
}

// New creates an unconnected pool.
func New(cfg Config) *Pool {
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}

	limiter := cfg.ReplacementLimiter
	if limiter == nil {
		limiter = rate.NewLimiter(
			rate.Every(defaultReplacementInterval),
			defaultReplacementBurst,
		)
	}

	r := cfg.Rand
	if r == nil {
		r = rand.New(rand.NewSource(time.Now().UnixNano())) //nolint:gosec
	}

	return &Pool{
		cfg:     cfg,
		rand:    r,
		limiter: limiter,
	}
}

// Network returns the network the pool dials on.
func (p *Pool) Network() chain.Network {
	return p.cfg.Network
}

// Connect makes up to maxAttempts connection attempts, stopping as soon as
// the pool holds minPeers peers. Each failed attempt is logged and otherwise
// ignored. ErrNoPeersAvailable is returned if the pool is still empty
// afterwards.
func (p *Pool) Connect(ctx context.Context, minPeers, maxAttempts int) error {
	p.mu.Lock()
	have := len(p.peers)
	epoch := p.epoch
	p.mu.Unlock()

	fresh, err := p.dialSet(ctx, have, minPeers, maxAttempts, true)

	p.mu.Lock()
	if p.epoch != epoch {
		// The pool was closed or restarted while we were dialing.
		p.mu.Unlock()
		closePeers(fresh)

		return fmt.Errorf("%w: pool reset during connect",
			ErrNoPeersAvailable)
	}
	p.peers = append(p.peers, fresh...)
	size := len(p.peers)
	p.connected = size > 0
	p.mu.Unlock()

	metrics.SetPoolSize(size)

	if err != nil && size == 0 {
		return err
	}
	if size == 0 {
		return fmt.Errorf("%w after %d attempts", ErrNoPeersAvailable,
			maxAttempts)
	}

	log.Infof("Connected to %d %v peer(s)", size, p.cfg.Network)

	return nil
}

// Restart dials a fresh set of peers and swaps it in for the current one,
// closing the old sessions. If no fresh peer can be reached the current set
// is kept and ErrNoPeersAvailable is returned.
func (p *Pool) Restart(ctx context.Context, minPeers, maxAttempts int) error {
	// Sessions to nodes already in the pool are fine here, the old ones
	// are about to be closed.
	fresh, err := p.dialSet(ctx, 0, minPeers, maxAttempts, false)
	if err != nil {
		closePeers(fresh)
		return err
	}
	if len(fresh) == 0 {
		return fmt.Errorf("%w after %d attempts", ErrNoPeersAvailable,
			maxAttempts)
	}

	p.mu.Lock()
	old := p.peers
	p.peers = fresh
	p.connected = true
	p.epoch++
	p.mu.Unlock()

	metrics.SetPoolSize(len(fresh))
	closePeers(old)

	log.Infof("Restarted peer pool with %d fresh peer(s), closed %d",
		len(fresh), len(old))

	return nil
}

// Close closes every peer session and marks the pool as not connected.
func (p *Pool) Close() error {
	p.mu.Lock()
	old := p.peers
	p.peers = nil
	p.connected = false
	p.epoch++
	p.mu.Unlock()

	metrics.SetPoolSize(0)

	return closePeers(old)
}

// Peers returns a snapshot of the live peers.
func (p *Pool) Peers() []chain.Peer {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]chain.Peer(nil), p.peers...)
}

// Connected reports whether the pool currently holds peers.
func (p *Pool) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.connected && len(p.peers) > 0
}

// WithPeer runs op against a peer selected by height. Every peer is probed
// concurrently; a failed probe counts as height zero. On mainnet only the
// peers at the highest reported height are candidates, on other networks the
// whole pool is. Candidates are tried in random order. A peer whose attempt
// fails is removed from the pool permanently and a single replacement dial
// is made. At most maxAttempts attempts are made.
func (p *Pool) WithPeer(ctx context.Context, maxAttempts int, op Op) error {
	candidates, err := p.selectCandidates(ctx)
	if err != nil {
		return err
	}

	var (
		attempts  int
		lastErr   error
		refreshed bool
	)
	for i := 0; i < len(candidates); i++ {
		peer := candidates[i]
		if attempts >= maxAttempts {
			break
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		// A concurrent call may have evicted this peer since the
		// snapshot was taken.
		if !p.contains(peer) {
			// Every candidate vanished before an attempt ran, so the
			// set was swapped by a restart. Select once more from
			// the current set.
			if attempts == 0 && i == len(candidates)-1 &&
				!refreshed {

				log.Debugf("Peer set changed during selection, " +
					"selecting again")

				refreshed = true
				candidates, err = p.selectCandidates(ctx)
				if err != nil {
					return err
				}
				i = -1
			}

			continue
		}

		attempts++
		err := op(ctx, peer)
		if err == nil {
			return nil
		}

		// Our own cancellation says nothing about the peer.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		log.Warnf("Operation failed on peer %s (attempt %d/%d): %v",
			peer.Addr(), attempts, maxAttempts, err)

		lastErr = err
		p.evict(ctx, peer)
	}

	if lastErr == nil {
		return ErrAllPeersFailed
	}

	return &AttemptsError{Attempts: attempts, Err: lastErr}
}

// WithPeerResult is WithPeer for operations producing a value.
func WithPeerResult[T any](ctx context.Context, p *Pool, maxAttempts int,
	op func(ctx context.Context, peer chain.Peer) (T, error)) (T, error) {

	var result T
	err := p.WithPeer(ctx, maxAttempts,
		func(ctx context.Context, peer chain.Peer) error {
			r, err := op(ctx, peer)
			if err != nil {
				return err
			}
			result = r

			return nil
		},
	)

	return result, err
}

// selectCandidates probes the current peers and returns the ones eligible
// for an attempt in random order.
func (p *Pool) selectCandidates(ctx context.Context) ([]chain.Peer, error) {
	peers, err := p.snapshot()
	if err != nil {
		return nil, err
	}

	heights := p.probeHeights(ctx, peers)
	candidates := p.candidates(peers, heights)
	p.shuffle(candidates)

	return candidates, nil
}

// snapshot returns the current peers or ErrNotConnected.
func (p *Pool) snapshot() ([]chain.Peer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.connected || len(p.peers) == 0 {
		return nil, ErrNotConnected
	}

	return append([]chain.Peer(nil), p.peers...), nil
}

// contains reports whether peer is still part of the pool.
func (p *Pool) contains(peer chain.Peer) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, existing := range p.peers {
		if existing == peer {
			return true
		}
	}

	return false
}

// probeHeights queries the peak of every peer concurrently. The returned
// slice is index aligned with peers.
func (p *Pool) probeHeights(ctx context.Context, peers []chain.Peer) []uint32 {
	heights := make([]uint32, len(peers))

	var g errgroup.Group
	for i, peer := range peers {
		g.Go(func() error {
			probeCtx, cancel := context.WithTimeout(
				ctx, p.cfg.ProbeTimeout,
			)
			defer cancel()

			peak, err := peer.Peak(probeCtx)
			if err != nil {
				log.Tracef("Height probe of %s failed: %v",
					peer.Addr(), err)
				metrics.ProbeFailed()

				return nil
			}
			heights[i] = peak.UnwrapOr(0)

			return nil
		})
	}
	_ = g.Wait()

	return heights
}

// candidates applies the network's selection policy to the probed peers.
func (p *Pool) candidates(peers []chain.Peer, heights []uint32) []chain.Peer {
	if p.cfg.Network != chain.Mainnet {
		return append([]chain.Peer(nil), peers...)
	}

	var maxHeight uint32
	for _, h := range heights {
		if h > maxHeight {
			maxHeight = h
		}
	}

	candidates := make([]chain.Peer, 0, len(peers))
	for i, peer := range peers {
		if heights[i] == maxHeight {
			candidates = append(candidates, peer)
		}
	}

	log.Tracef("Selected %d of %d peers at tip height %d",
		len(candidates), len(peers), maxHeight)

	return candidates
}

// shuffle permutes peers uniformly at random.
func (p *Pool) shuffle(peers []chain.Peer) {
	p.randMu.Lock()
	defer p.randMu.Unlock()

	p.rand.Shuffle(len(peers), func(i, j int) {
		peers[i], peers[j] = peers[j], peers[i]
	})
}

// evict removes peer from the pool, closes it and makes a best effort
// attempt at dialing a replacement.
func (p *Pool) evict(ctx context.Context, peer chain.Peer) {
	p.mu.Lock()
	removed := false
	for i, existing := range p.peers {
		if existing == peer {
			p.peers = append(p.peers[:i], p.peers[i+1:]...)
			removed = true
			break
		}
	}
	epoch := p.epoch
	p.mu.Unlock()

	if !removed {
		return
	}

	metrics.PeerRemoved()
	if err := peer.Close(); err != nil {
		log.Debugf("Unable to close peer %s: %v", peer.Addr(), err)
	}

	replacement := p.replace(ctx)

	p.mu.Lock()
	if replacement != nil && p.epoch == epoch {
		p.peers = append(p.peers, replacement)
		replacement = nil
	}
	size := len(p.peers)
	p.connected = size > 0
	p.mu.Unlock()

	// The pool was reset while dialing, so the replacement belongs to
	// nobody.
	if replacement != nil {
		_ = replacement.Close()
	}

	metrics.SetPoolSize(size)
	if size == 0 {
		log.Warnf("Peer pool is empty after removing %s", peer.Addr())
	}
}

// replace dials a single replacement peer, returning nil on failure.
func (p *Pool) replace(ctx context.Context) chain.Peer {
	if ctx.Err() != nil {
		return nil
	}
	if !p.limiter.Allow() {
		log.Debugf("Replacement dial skipped: rate limited")
		return nil
	}

	peer, err := p.dial(ctx)
	metrics.PeerReplaced(err == nil)
	if err != nil {
		log.Debugf("Replacement dial failed: %v", err)
		return nil
	}

	log.Debugf("Dialed replacement peer %s", peer.Addr())

	return peer
}

// dialSet makes up to maxAttempts dials until have plus the number of fresh
// peers reaches minPeers. Only a context error is returned; dial errors are
// logged. When skipPooled is set, sessions to nodes the pool already holds
// are discarded.
func (p *Pool) dialSet(ctx context.Context, have, minPeers, maxAttempts int,
	skipPooled bool) ([]chain.Peer, error) {

	var fresh []chain.Peer
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if have+len(fresh) >= minPeers {
			break
		}
		if err := ctx.Err(); err != nil {
			return fresh, err
		}

		peer, err := p.dial(ctx)
		if err != nil {
			log.Debugf("Connection attempt %d/%d failed: %v",
				attempt, maxAttempts, err)
			continue
		}

		if p.isDuplicate(peer, fresh, skipPooled) {
			log.Debugf("Connection attempt %d/%d reached already "+
				"connected peer %s", attempt, maxAttempts,
				peer.Addr())
			_ = peer.Close()

			continue
		}

		log.Debugf("Connected to peer %s", peer.Addr())
		fresh = append(fresh, peer)
	}

	return fresh, nil
}

// isDuplicate reports whether a session with peer's address is already held
// by fresh or, if checkPool is set, by the pool.
func (p *Pool) isDuplicate(peer chain.Peer, fresh []chain.Peer,
	checkPool bool) bool {

	addr := peer.Addr()
	for _, f := range fresh {
		if f.Addr() == addr {
			return true
		}
	}
	if !checkPool {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, existing := range p.peers {
		if existing.Addr() == addr {
			return true
		}
	}

	return false
}

// dial makes a single connection attempt bounded by DialTimeout.
func (p *Pool) dial(ctx context.Context) (chain.Peer, error) {
	dialCtx, cancel := context.WithTimeout(ctx, p.cfg.DialTimeout)
	defer cancel()

	return p.cfg.Dialer.ConnectRandom(
		dialCtx, p.cfg.Network, p.cfg.Credentials,
	)
}

// closePeers closes every peer, returning the combined close errors.
func closePeers(peers []chain.Peer) error {
	var errs []error
	for _, peer := range peers {
		if err := peer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w",
				peer.Addr(), err))
		}
	}

	return errors.Join(errs...)
}
