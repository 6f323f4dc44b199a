// Package reconciler keeps the coin ledger of watched addresses in step with
// the unspent coin set reported by remote full nodes.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/coinwatch/coinwatch/chain"
	"github.com/coinwatch/coinwatch/ledger"
	"github.com/coinwatch/coinwatch/metrics"
	"github.com/coinwatch/coinwatch/peerpool"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/ticker"
)

const (
	// DefaultTickInterval is the reconciliation cadence.
	DefaultTickInterval = time.Second

	// DefaultFetchTimeout bounds the remote work of one address.
	DefaultFetchTimeout = 30 * time.Second

	// DefaultRestartJitter is the jitter scaler of the pool restart
	// schedule.
	DefaultRestartJitter = 0.1

	// DefaultPeerAttempts is the WithPeer attempt budget of one fetch.
	DefaultPeerAttempts = 3

	// DefaultMinPeers and DefaultConnectAttempts size the pool on start
	// and on every scheduled restart.
	DefaultMinPeers        = 3
	DefaultConnectAttempts = 10
)

// ErrStopped is returned by requests made to a reconciler that is stopped or
// was never started.
var ErrStopped = errors.New("reconciler stopped")

// State is the phase of the reconciliation loop.
type State int32

const (
	StateIdle State = iota
	StateFetching
	StateDiffing
	StateCommitting
)

// String returns the name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateDiffing:
		return "diffing"
	case StateCommitting:
		return "committing"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

// Wallet is a watched address.
type Wallet struct {
	// Address is the encoded address, used as the ledger key.
	Address string

	// PuzzleHash locks every coin of the address.
	PuzzleHash chainhash.Hash

	// AssetID is recorded on newly tracked coins. The zero hash is the
	// native asset.
	AssetID chainhash.Hash
}

// PeerPool is the part of *peerpool.Pool the reconciler drives.
type PeerPool interface {
	Connect(ctx context.Context, minPeers, maxAttempts int) error
	Restart(ctx context.Context, minPeers, maxAttempts int) error
	Connected() bool
	WithPeer(ctx context.Context, maxAttempts int, op peerpool.Op) error
	Close() error
}

// Config houses the collaborators and tunables of a Reconciler.
type Config struct {
	Pool   PeerPool
	Ledger ledger.Store

	// Wallets are the addresses watched from the start.
	Wallets []Wallet

	// TickInterval defaults to DefaultTickInterval.
	TickInterval time.Duration

	// RestartInterval enables a jittered periodic pool restart when
	// non-zero.
	RestartInterval time.Duration
	RestartJitter   float64

	FetchTimeout    time.Duration
	PeerAttempts    int
	MinPeers        int
	ConnectAttempts int

	// Ticker and RestartTicker override the tick sources.
	Ticker        ticker.Ticker
	RestartTicker ticker.Ticker
}

type watchReq struct {
	wallet Wallet
	resp   chan error
}

type pendingReq struct {
	address string
	coinIDs []chainhash.Hash
	resp    chan error
}

type tickReq struct {
	resp chan struct{}
}

// Reconciler is an actor: one goroutine owns the watched wallets and runs
// every tick. Other goroutines talk to it through request channels.
type Reconciler struct {
	started atomic.Bool
	stopped atomic.Bool

	cfg Config

	// wallets is owned by the loop goroutine once started.
	wallets []Wallet

	state   atomic.Int32
	skipped atomic.Uint64

	events *eventServer

	watchReqs   chan *watchReq
	pendingReqs chan *pendingReq
	tickReqs    chan *tickReq

	gm       *fn.GoroutineManager
	stopOnce sync.Once
}

// New creates a reconciler. Subscriptions may be made before Start.
func New(cfg Config) (*Reconciler, error) {
	if cfg.Pool == nil || cfg.Ledger == nil {
		return nil, errors.New("reconciler needs a peer pool and a " +
			"ledger")
	}

	if cfg.TickInterval == 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.FetchTimeout == 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	if cfg.PeerAttempts == 0 {
		cfg.PeerAttempts = DefaultPeerAttempts
	}
	if cfg.MinPeers == 0 {
		cfg.MinPeers = DefaultMinPeers
	}
	if cfg.ConnectAttempts == 0 {
		cfg.ConnectAttempts = DefaultConnectAttempts
	}
	if cfg.Ticker == nil {
		cfg.Ticker = ticker.New(cfg.TickInterval)
	}
	if cfg.RestartTicker == nil && cfg.RestartInterval > 0 {
		jitter := cfg.RestartJitter
		if jitter == 0 {
			jitter = DefaultRestartJitter
		}
		cfg.RestartTicker = NewJitterTicker(cfg.RestartInterval, jitter)
	}

	r := &Reconciler{
		cfg:         cfg,
		events:      newEventServer(),
		watchReqs:   make(chan *watchReq),
		pendingReqs: make(chan *pendingReq),
		tickReqs:    make(chan *tickReq),
		gm:          fn.NewGoroutineManager(),
	}
	for _, w := range cfg.Wallets {
		r.wallets = addWallet(r.wallets, w)
	}
	r.events.Start()

	return r, nil
}

// Start connects the pool when it is not connected yet and launches the
// reconciliation loop.
func (r *Reconciler) Start(ctx context.Context) error {
	if r.stopped.Load() {
		return ErrStopped
	}
	if !r.started.CompareAndSwap(false, true) {
		return nil
	}

	if !r.cfg.Pool.Connected() {
		err := r.cfg.Pool.Connect(
			ctx, r.cfg.MinPeers, r.cfg.ConnectAttempts,
		)
		if err != nil {
			r.started.Store(false)
			return fmt.Errorf("connect peer pool: %w", err)
		}
	}

	log.Infof("Starting reconciler for %d wallet(s), tick interval %v",
		len(r.wallets), r.cfg.TickInterval)

	r.cfg.Ticker.Resume()
	var restartTicks <-chan time.Time
	if r.cfg.RestartTicker != nil {
		r.cfg.RestartTicker.Resume()
		restartTicks = r.cfg.RestartTicker.Ticks()
	}

	if !r.gm.Go(context.Background(), func(ctx context.Context) {
		r.loop(ctx, r.cfg.Ticker.Ticks(), restartTicks)
	}) {
		return ErrStopped
	}

	return nil
}

// Stop ends the loop and every handler, stops the event server and closes
// the pool.
func (r *Reconciler) Stop() error {
	var err error
	r.stopOnce.Do(func() {
		r.stopped.Store(true)

		log.Info("Reconciler shutting down")

		r.gm.Stop()
		r.cfg.Ticker.Stop()
		if r.cfg.RestartTicker != nil {
			r.cfg.RestartTicker.Stop()
		}
		r.events.Stop()

		err = r.cfg.Pool.Close()
	})

	return err
}

// State returns the current phase of the loop.
func (r *Reconciler) State() State {
	return State(r.state.Load())
}

// SkippedTicks returns how many ticks were dropped because they arrived
// while a tick was running.
func (r *Reconciler) SkippedTicks() uint64 {
	return r.skipped.Load()
}

// SubscribeCoinUpdates returns a subscription receiving every coin status
// change in order.
func (r *Reconciler) SubscribeCoinUpdates() (*Subscription, error) {
	return r.events.Subscribe()
}

// OnCoinStateUpdated runs handler for every coin status change. Calls are
// sequential and in publication order, on a goroutine owned by the
// reconciler.
func (r *Reconciler) OnCoinStateUpdated(handler func(CoinStateUpdated)) error {
	sub, err := r.events.Subscribe()
	if err != nil {
		return err
	}

	ok := r.gm.Go(context.Background(), func(ctx context.Context) {
		defer sub.Cancel()

		for {
			select {
			case u := <-sub.Updates():
				if ev, ok := u.(CoinStateUpdated); ok {
					handler(ev)
				}

			case <-sub.Quit():
				return

			case <-ctx.Done():
				return
			}
		}
	})
	if !ok {
		sub.Cancel()
		return ErrStopped
	}

	return nil
}

// Watch adds a wallet to the watched set. Watching an address twice is a
// no-op.
func (r *Reconciler) Watch(ctx context.Context, w Wallet) error {
	req := &watchReq{wallet: w, resp: make(chan error, 1)}

	return request(ctx, r, r.watchReqs, req, req.resp)
}

// MarkPending moves Unspent coins of address to Pending, recording a spend
// that was predicted locally but is not on chain yet. Coins in any other
// status are left alone. Nothing changes when one of the ids is unknown.
func (r *Reconciler) MarkPending(ctx context.Context, address string,
	coinIDs []chainhash.Hash) error {

	req := &pendingReq{
		address: address,
		coinIDs: coinIDs,
		resp:    make(chan error, 1),
	}

	return request(ctx, r, r.pendingReqs, req, req.resp)
}

// ForceTick runs a reconciliation pass now and returns once it completed.
func (r *Reconciler) ForceTick(ctx context.Context) error {
	if !r.started.Load() {
		return ErrStopped
	}

	req := &tickReq{resp: make(chan struct{}, 1)}

	select {
	case r.tickReqs <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-r.gm.Done():
		return ErrStopped
	}

	select {
	case <-req.resp:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-r.gm.Done():
		return ErrStopped
	}
}

// request hands req to the loop and waits for its answer.
func request[T any](ctx context.Context, r *Reconciler, ch chan<- T, req T,
	resp <-chan error) error {

	if !r.started.Load() {
		return ErrStopped
	}

	select {
	case ch <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-r.gm.Done():
		return ErrStopped
	}

	select {
	case err := <-resp:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-r.gm.Done():
		return ErrStopped
	}
}

func (r *Reconciler) setState(s State) {
	r.state.Store(int32(s))
}

// loop is the actor goroutine.
func (r *Reconciler) loop(ctx context.Context, ticks,
	restartTicks <-chan time.Time) {

	for {
		select {
		case <-ticks:
			r.tick(ctx)
			r.drainTicks(ticks)

		case req := <-r.tickReqs:
			r.tick(ctx)
			req.resp <- struct{}{}

		case <-restartTicks:
			r.restartPool(ctx)

		case req := <-r.watchReqs:
			r.wallets = addWallet(r.wallets, req.wallet)
			req.resp <- nil

		case req := <-r.pendingReqs:
			req.resp <- r.markPending(ctx, req.address, req.coinIDs)

		case <-ctx.Done():
			return
		}
	}
}

// drainTicks drops ticks that queued up while a tick was running.
func (r *Reconciler) drainTicks(ticks <-chan time.Time) {
	for {
		select {
		case <-ticks:
			r.skipped.Add(1)
			metrics.TickSkipped()
			log.Debugf("Skipped overlapping tick")

		default:
			return
		}
	}
}

func (r *Reconciler) restartPool(ctx context.Context) {
	log.Infof("Restarting peer pool")

	err := r.cfg.Pool.Restart(ctx, r.cfg.MinPeers, r.cfg.ConnectAttempts)
	if err != nil {
		log.Errorf("Unable to restart peer pool: %v", err)
	}
}

func addWallet(wallets []Wallet, w Wallet) []Wallet {
	for _, have := range wallets {
		if have.Address == w.Address {
			return wallets
		}
	}

	return append(wallets, w)
}

// tick reconciles every watched wallet once. A failing wallet is logged and
// retried on the next tick from its unchanged cursor.
func (r *Reconciler) tick(ctx context.Context) {
	start := time.Now()
	defer func() {
		r.setState(StateIdle)
		metrics.ObserveTick(time.Since(start))
	}()

	for _, w := range r.wallets {
		if ctx.Err() != nil {
			return
		}

		if err := r.syncWallet(ctx, w); err != nil {
			if ctx.Err() != nil {
				return
			}

			metrics.AddressSyncFailed()
			log.Errorf("Unable to sync %s: %v", w.Address, err)
		}
	}
}

// anchorFor returns the point the remote query of a wallet is evaluated
// from: the cursor, or the lowest synced height of a Pending coin when that
// lies below it. rewind reports whether the anchor hash must be resolved
// from a peer.
func anchorFor(cursor chain.BlockStamp,
	local []ledger.TrackedCoin) (anchor chain.BlockStamp, rewind bool) {

	var (
		minPending  uint32
		havePending bool
	)
	for _, c := range local {
		if c.Status != ledger.StatusPending {
			continue
		}
		if !havePending || c.SyncedHeight < minPending {
			minPending = c.SyncedHeight
			havePending = true
		}
	}

	switch {
	case !havePending || minPending >= cursor.Height:
		return cursor, false

	case minPending == 0:
		return chain.BlockStamp{}, false

	default:
		return chain.BlockStamp{Height: minPending}, true
	}
}

func (r *Reconciler) syncWallet(ctx context.Context, w Wallet) error {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.FetchTimeout)
	defer cancel()

	cursor, err := r.cfg.Ledger.SyncedTo(ctx, w.Address)
	if err != nil {
		return fmt.Errorf("read cursor: %w", err)
	}
	local, err := r.cfg.Ledger.CoinsByAddress(ctx, w.Address)
	if err != nil {
		return fmt.Errorf("read coins: %w", err)
	}

	anchor, rewind := anchorFor(cursor, local)

	r.setState(StateFetching)
	var remote *chain.CoinState
	err = r.cfg.Pool.WithPeer(ctx, r.cfg.PeerAttempts,
		func(ctx context.Context, peer chain.Peer) error {
			at := anchor
			if rewind {
				blk, err := peer.BlockAtHeight(ctx, anchor.Height)
				if err != nil {
					return fmt.Errorf("block at %d: %w",
						anchor.Height, err)
				}
				at = chain.BlockStamp{
					Height: blk.Height,
					Hash:   blk.Hash,
				}
			}

			state, err := peer.UnspentCoins(ctx, w.PuzzleHash, at)
			if err != nil {
				return err
			}
			remote = state

			return nil
		},
	)
	if err != nil {
		return fmt.Errorf("fetch unspent coins: %w", err)
	}

	if remote.Height < cursor.Height {
		log.Debugf("Skipping stale view of %s at height %d, cursor "+
			"at %d", w.Address, remote.Height, cursor.Height)
		return nil
	}

	r.setState(StateDiffing)
	changes := diffCoins(w, local, remote.Coins, remote.Height)

	// Coins and cursor land together, so a failed commit leaves the
	// ledger as it was and the next tick rediscovers every change.
	r.setState(StateCommitting)
	point := chain.BlockStamp{Height: remote.Height, Hash: remote.Hash}
	err = r.cfg.Ledger.ApplySync(ctx, w.Address, changes, point)
	if err != nil {
		return fmt.Errorf("commit sync: %w", err)
	}

	if len(changes) > 0 {
		log.Infof("Synced %s to height %d: %d coin update(s)",
			w.Address, remote.Height, len(changes))
	} else {
		log.Tracef("Synced %s to height %d", w.Address, remote.Height)
	}

	r.publish(changes)

	return nil
}

// diffCoins returns the records to store so that local matches the remote
// unspent set observed at height. Unchanged coins are not returned.
func diffCoins(w Wallet, local []ledger.TrackedCoin, remote []chain.Coin,
	height uint32) []ledger.TrackedCoin {

	byID := make(map[chainhash.Hash]ledger.TrackedCoin, len(local))
	for _, c := range local {
		byID[c.CoinID] = c
	}

	var changes []ledger.TrackedCoin
	seen := fn.NewSet[chainhash.Hash]()
	for _, coin := range remote {
		id := coin.ID()
		if seen.Contains(id) {
			continue
		}
		seen.Add(id)

		have, ok := byID[id]
		switch {
		case !ok:
			changes = append(changes, ledger.NewTrackedCoin(
				w.Address, coin, w.AssetID,
				ledger.StatusUnspent, height,
			))

		case have.Status == ledger.StatusPending:
			have.Status = ledger.StatusUnspent
			have.SyncedHeight = height
			changes = append(changes, have)

		case have.Status == ledger.StatusSpent:
			log.Warnf("Peer reports spent coin %v of %s as "+
				"unspent, keeping it spent", id, w.Address)
		}
	}

	for _, c := range local {
		if seen.Contains(c.CoinID) || c.Status == ledger.StatusSpent {
			continue
		}

		c.Status = ledger.StatusSpent
		c.SyncedHeight = height
		changes = append(changes, c)
	}

	return changes
}

func (r *Reconciler) publish(changes []ledger.TrackedCoin) {
	for _, c := range changes {
		metrics.CoinStateUpdated(c.Status.String())

		ev := CoinStateUpdated{
			Address: c.Address,
			CoinID:  c.CoinID,
			Status:  c.Status,
			Height:  c.SyncedHeight,
		}
		if err := r.events.Publish(ev); err != nil {
			log.Debugf("Dropping %v: %v", ev, err)
			return
		}
	}
}

func (r *Reconciler) markPending(ctx context.Context, address string,
	coinIDs []chainhash.Hash) error {

	local, err := r.cfg.Ledger.CoinsByAddress(ctx, address)
	if err != nil {
		return err
	}

	byID := make(map[chainhash.Hash]ledger.TrackedCoin, len(local))
	for _, c := range local {
		byID[c.CoinID] = c
	}

	var changes []ledger.TrackedCoin
	for _, id := range coinIDs {
		c, ok := byID[id]
		if !ok {
			str := fmt.Sprintf("coin %v of %s", id, address)
			return ledger.NewError(ledger.ErrCoinNotFound, str, nil)
		}
		if c.Status != ledger.StatusUnspent {
			log.Debugf("Not marking %v coin %v pending", c.Status, id)
			continue
		}

		c.Status = ledger.StatusPending
		byID[id] = c
		changes = append(changes, c)
	}

	for _, c := range changes {
		err := r.cfg.Ledger.SetStatus(
			ctx, address, c.CoinID, c.Status, c.SyncedHeight,
		)
		if err != nil {
			return err
		}

		r.publish([]ledger.TrackedCoin{c})
	}

	return nil
}
