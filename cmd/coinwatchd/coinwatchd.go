// Copyright (c) 2013-2015 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/btcsuite/btcwallet/walletdb"
	"github.com/coinwatch/coinwatch/chain"
	"github.com/coinwatch/coinwatch/chain/dnsseed"
	"github.com/coinwatch/coinwatch/chain/rpcpeer"
	"github.com/coinwatch/coinwatch/coinselect"
	"github.com/coinwatch/coinwatch/ledger"
	"github.com/coinwatch/coinwatch/ledger/sqlstore"
	"github.com/coinwatch/coinwatch/peerpool"
	"github.com/coinwatch/coinwatch/reconciler"
	"github.com/coinwatch/coinwatch/reservation"
	"github.com/lightningnetwork/lnd/clock"
)

const (
	appMajor = 0
	appMinor = 1
	appPatch = 0

	shutdownTimeout = 5 * time.Second
)

// version returns the application version as a properly formed string.
func version() string {
	return fmt.Sprintf("%d.%d.%d", appMajor, appMinor, appPatch)
}

func main() {
	// Work around defer not working after os.Exit.
	if err := coinwatchMain(); err != nil {
		os.Exit(1)
	}
}

// coinwatchMain is a work-around main function that is required since deferred
// functions (such as log flushing) are not called with calls to os.Exit.
// Instead, main runs this function and checks for a non-nil error, at which
// point any defers have already run, and if the error is non-nil, the program
// can be exited with an error exit status.
func coinwatchMain() error {
	// Load configuration and parse command line.  This function also
	// initializes logging and configures it accordingly.
	cfg, _, err := loadConfig(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}

	initLogRotator(filepath.Join(cfg.LogDir.Value, defaultLogFilename))
	defer func() {
		_ = logWriter.Close()
	}()

	log.Infof("Version %s on %v", version(), cfg.network())

	shutdown := interceptSignals()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d, err := newDaemon(ctx, cfg)
	if err != nil {
		log.Errorf("Unable to set up daemon: %v", err)
		return err
	}
	defer d.close()

	if err := d.reconciler.Start(ctx); err != nil {
		log.Errorf("Unable to start reconciler: %v", err)
		_ = d.pool.Close()
		return err
	}

	err = d.reconciler.OnCoinStateUpdated(func(u reconciler.CoinStateUpdated) {
		log.Infof("Coin update: %v", u)
	})
	if err != nil {
		return err
	}

	var server *http.Server
	if cfg.MetricsListen != "" {
		server = &http.Server{
			Addr:              cfg.MetricsListen,
			Handler:           d.httpHandler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			log.Infof("HTTP server listening on %s", cfg.MetricsListen)
			err := server.ListenAndServe()
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Errorf("HTTP server failed: %v", err)
				shutdown.RequestShutdown()
			}
		}()
	}

	<-shutdown.ShutdownChannel()
	cancel()

	if server != nil {
		sctx, scancel := context.WithTimeout(
			context.Background(), shutdownTimeout,
		)
		defer scancel()

		if err := server.Shutdown(sctx); err != nil {
			log.Warnf("HTTP server shutdown: %v", err)
		}
	}

	if err := d.reconciler.Stop(); err != nil {
		log.Warnf("Reconciler shutdown: %v", err)
	}

	log.Info("Shutdown complete")

	return nil
}

// daemon holds the long lived components wired from the configuration.
type daemon struct {
	pool       *peerpool.Pool
	ledger     ledger.Store
	cache      reservation.Cache
	reconciler *reconciler.Reconciler
	selector   *coinselect.Selector

	// closers release databases in reverse order of opening.
	closers []func() error
}

func newDaemon(ctx context.Context, cfg *config) (*daemon, error) {
	d := &daemon{}
	if err := d.setup(ctx, cfg); err != nil {
		d.close()
		return nil, err
	}

	return d, nil
}

func (d *daemon) setup(ctx context.Context, cfg *config) error {
	if err := os.MkdirAll(cfg.netDir(), 0700); err != nil {
		return err
	}

	net := cfg.network()

	var seeder rpcpeer.HostSource
	if len(cfg.DNSSeeds) > 0 {
		seeder = dnsseed.New(dnsseed.Config{
			Seeds:  cfg.DNSSeeds,
			Port:   net.DefaultRPCPort(),
			Server: cfg.DNSServer,
		})
	}

	d.pool = peerpool.New(peerpool.Config{
		Dialer: rpcpeer.NewDialer(rpcpeer.DialerConfig{
			Hosts:  cfg.RPCPeers,
			Seeder: seeder,
		}),
		Network:     net,
		Credentials: cfg.credentials(),
	})

	var err error

	// The bolt database backs the ledger and durable reservations when
	// either asks for it.
	var boltDB walletdb.DB
	if cfg.DBBackend == "bdb" || cfg.Reservations == "bdb" {
		boltDB, err = ledger.OpenDB(
			filepath.Join(cfg.netDir(), ledgerDBName),
			ledger.DefaultDBTimeout,
		)
		if err != nil {
			return fmt.Errorf("open ledger database: %w", err)
		}
		d.closers = append(d.closers, boltDB.Close)
	}

	switch cfg.DBBackend {
	case "bdb":
		d.ledger, err = ledger.NewDBStore(boltDB)

	case "sqlite":
		d.ledger, err = sqlstore.Open(ctx, sqlstore.DriverSQLite,
			sqlstore.SQLiteDSN(filepath.Join(cfg.netDir(),
				sqliteDBName)))

	case "postgres":
		d.ledger, err = sqlstore.Open(ctx, sqlstore.DriverPostgres,
			cfg.PgDSN)
	}
	if err != nil {
		return err
	}
	d.closers = append(d.closers, d.ledger.Close)

	clk := clock.NewDefaultClock()
	switch cfg.Reservations {
	case "bdb":
		d.cache, err = reservation.NewDBCache(boltDB, clk)
		if err != nil {
			return err
		}

	default:
		d.cache = reservation.NewMemoryCache(clk)
	}

	wallets := make([]reconciler.Wallet, 0, len(cfg.Watch))
	for _, addr := range cfg.Watch {
		puzzleHash, err := chain.DecodeAddress(addr, net)
		if err != nil {
			return err
		}
		wallets = append(wallets, reconciler.Wallet{
			Address:    addr,
			PuzzleHash: puzzleHash,
		})
	}

	d.reconciler, err = reconciler.New(reconciler.Config{
		Pool:            d.pool,
		Ledger:          d.ledger,
		Wallets:         wallets,
		TickInterval:    cfg.TickInterval,
		RestartInterval: cfg.RestartInterval,
		PeerAttempts:    cfg.PeerAttempts,
		MinPeers:        cfg.MinPeers,
		ConnectAttempts: cfg.ConnectAttempts,
	})
	if err != nil {
		return err
	}

	strategy, err := coinselect.StrategyByName(cfg.Strategy)
	if err != nil {
		return err
	}

	d.selector, err = coinselect.New(coinselect.Config{
		Pool:           d.pool,
		Cache:          d.cache,
		Ledger:         d.ledger,
		Strategy:       strategy,
		Clock:          clk,
		ReservationTTL: cfg.ReservationTTL,
		PeerAttempts:   cfg.PeerAttempts,
		DustLimit:      uint64(cfg.DustLimit.Amount),
	})
	if err != nil {
		return err
	}

	return nil
}

// close releases the databases. The reconciler owns the pool.
func (d *daemon) close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			log.Warnf("Close failed: %v", err)
		}
	}
	d.closers = nil
}
