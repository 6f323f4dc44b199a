// Package coinselect picks unspent coins to fund a spend and reserves them so
// that concurrent selections never return the same coin.
package coinselect

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/coinwatch/coinwatch/chain"
	"github.com/coinwatch/coinwatch/ledger"
	"github.com/coinwatch/coinwatch/metrics"
	"github.com/coinwatch/coinwatch/peerpool"
	"github.com/coinwatch/coinwatch/reservation"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
)

const (
	// DefaultBackoff is the wait between selection attempts while
	// reservations hold coins back.
	DefaultBackoff = 10 * time.Second

	// DefaultMaxRetries bounds the number of backoff waits of a Select.
	DefaultMaxRetries = 6

	// DefaultPeerAttempts is the WithPeer attempt budget of one fetch.
	DefaultPeerAttempts = 3
)

var (
	// ErrInsufficientFunds is returned when the spendable coins cannot
	// cover the request and no reservation could free up more.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrReservationRaceTimeout is returned when the request stayed
	// unfunded while other reservations held coins back for every retry.
	ErrReservationRaceTimeout = errors.New("timed out waiting for " +
		"reserved coins")

	// ErrAmountOverflow is returned when amount plus fee does not fit in
	// a mojo count.
	ErrAmountOverflow = errors.New("amount plus fee overflows")
)

// CoinSource is the part of *peerpool.Pool the selector needs.
type CoinSource interface {
	WithPeer(ctx context.Context, maxAttempts int, op peerpool.Op) error
}

// Config houses the collaborators and tunables of a Selector.
type Config struct {
	Pool  CoinSource
	Cache reservation.Cache

	// Ledger, when set, keeps coins the ledger knows as Pending or Spent
	// out of the selection.
	Ledger ledger.Store

	// Strategy defaults to LargestFirst.
	Strategy Strategy

	// Clock defaults to the wall clock.
	Clock clock.Clock

	// ReservationTTL defaults to reservation.DefaultTTL.
	ReservationTTL time.Duration

	// Backoff defaults to DefaultBackoff.
	Backoff time.Duration

	// MaxRetries defaults to DefaultMaxRetries. A negative value disables
	// backoff retries.
	MaxRetries int

	// PeerAttempts defaults to DefaultPeerAttempts.
	PeerAttempts int

	// DustLimit excludes coins below this amount.
	DustLimit uint64
}

// SelectRequest describes the spend to fund.
type SelectRequest struct {
	// OwnerPuzzleHash locks the coins to select from.
	OwnerPuzzleHash chainhash.Hash

	Amount uint64
	Fee    uint64

	// OmitCoins are never selected.
	OmitCoins []chainhash.Hash

	// Anchor is the chain point the unspent set is evaluated from.
	Anchor chain.BlockStamp
}

// Selector selects and reserves coins. It is safe for concurrent use.
type Selector struct {
	cfg Config
}

// New creates a Selector.
func New(cfg Config) (*Selector, error) {
	if cfg.Pool == nil || cfg.Cache == nil {
		return nil, errors.New("selector needs a peer pool and a " +
			"reservation cache")
	}

	if cfg.Strategy == nil {
		cfg.Strategy = LargestFirst
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}
	if cfg.ReservationTTL == 0 {
		cfg.ReservationTTL = reservation.DefaultTTL
	}
	if cfg.Backoff == 0 {
		cfg.Backoff = DefaultBackoff
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.PeerAttempts == 0 {
		cfg.PeerAttempts = DefaultPeerAttempts
	}

	return &Selector{cfg: cfg}, nil
}

// Select picks coins of the owner covering amount plus fee and reserves them
// for the reservation TTL.
func (s *Selector) Select(ctx context.Context,
	req SelectRequest) ([]chain.Coin, error) {

	coins, err := s.selectCoins(ctx, req)

	switch {
	case err == nil:
		metrics.SelectionResult("ok")
	case errors.Is(err, ErrInsufficientFunds):
		metrics.SelectionResult("insufficient")
	case errors.Is(err, ErrReservationRaceTimeout):
		metrics.SelectionResult("race_timeout")
	default:
		metrics.SelectionResult("error")
	}

	return coins, err
}

func (s *Selector) selectCoins(ctx context.Context,
	req SelectRequest) ([]chain.Coin, error) {

	if req.Amount > math.MaxUint64-req.Fee {
		return nil, ErrAmountOverflow
	}
	target := req.Amount + req.Fee

	var backoffs, races int
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		excluded, live, err := s.exclusions(ctx, req)
		if err != nil {
			return nil, err
		}

		candidates, err := s.fetch(ctx, req, excluded)
		if err != nil {
			return nil, err
		}

		selected := s.cfg.Strategy(candidates, target)
		if len(selected) > 0 {
			ids := fn.Map(selected, func(c chain.Coin) chainhash.Hash {
				return c.ID()
			})
			expiry := s.cfg.Clock.Now().Add(s.cfg.ReservationTTL)

			err := s.cfg.Cache.Reserve(ctx, ids, expiry)
			switch {
			case err == nil:
				log.Debugf("Selected %d coin(s) for %d mojos "+
					"after %d race(s)", len(selected),
					target, races)
				return selected, nil

			// Another selection took one of the coins since
			// the exclusion set was read.
			case errors.Is(err, reservation.ErrCoinReserved):
				races++
				log.Tracef("Lost reservation race: %v", err)
				continue

			default:
				return nil, fmt.Errorf("reserve coins: %w", err)
			}
		}

		if live == 0 {
			return nil, fmt.Errorf("%w: %d candidate coin(s) do not "+
				"cover %d mojos", ErrInsufficientFunds,
				len(candidates), target)
		}

		if backoffs >= s.cfg.MaxRetries {
			return nil, fmt.Errorf("%w: %d live reservation(s) "+
				"after %d retries", ErrReservationRaceTimeout,
				live, backoffs)
		}
		backoffs++

		log.Debugf("Selection for %d mojos waiting on %d live "+
			"reservation(s), retry %d/%d in %v", target, live,
			backoffs, s.cfg.MaxRetries, s.cfg.Backoff)

		select {
		case <-s.cfg.Clock.TickAfter(s.cfg.Backoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// exclusions returns the ids that must not be selected and the number of
// live reservations among them.
func (s *Selector) exclusions(ctx context.Context,
	req SelectRequest) (fn.Set[chainhash.Hash], int, error) {

	live, err := s.cfg.Cache.Live(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("read reservations: %w", err)
	}
	numLive := len(live)

	excluded := fn.NewSet(req.OmitCoins...)
	for id := range live {
		excluded.Add(id)
	}

	if s.cfg.Ledger == nil {
		return excluded, numLive, nil
	}

	for _, status := range []ledger.CoinStatus{
		ledger.StatusPending, ledger.StatusSpent,
	} {
		coins, err := s.cfg.Ledger.CoinsByStatus(ctx, status)
		if err != nil {
			return nil, 0, fmt.Errorf("read %v coins: %w", status,
				err)
		}

		for _, c := range coins {
			if c.PuzzleHash == req.OwnerPuzzleHash {
				excluded.Add(c.CoinID)
			}
		}
	}

	return excluded, numLive, nil
}

// fetch returns the owner's unspent coins that are neither excluded nor dust.
func (s *Selector) fetch(ctx context.Context, req SelectRequest,
	excluded fn.Set[chainhash.Hash]) ([]chain.Coin, error) {

	var state *chain.CoinState
	err := s.cfg.Pool.WithPeer(ctx, s.cfg.PeerAttempts,
		func(ctx context.Context, peer chain.Peer) error {
			var err error
			state, err = peer.UnspentCoins(
				ctx, req.OwnerPuzzleHash, req.Anchor,
			)
			return err
		},
	)
	if err != nil {
		return nil, fmt.Errorf("fetch unspent coins: %w", err)
	}

	return fn.Filter(state.Coins, func(c chain.Coin) bool {
		return c.Amount >= s.cfg.DustLimit && !excluded.Contains(c.ID())
	}), nil
}

// Release drops the reservations of coins whose spend was abandoned.
func (s *Selector) Release(ctx context.Context, ids []chainhash.Hash) error {
	return s.cfg.Cache.Release(ctx, ids)
}
