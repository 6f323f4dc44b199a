// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/coinwatch/coinwatch/chain"
	"github.com/coinwatch/coinwatch/coinselect"
	"github.com/coinwatch/coinwatch/internal/cfgutil"
	"github.com/coinwatch/coinwatch/reconciler"
	"github.com/coinwatch/coinwatch/reservation"
	flags "github.com/jessevdk/go-flags"
)

const (
	defaultConfigFilename = "coinwatchd.conf"
	defaultLogLevel       = "info"
	defaultLogDirname     = "logs"
	defaultLogFilename    = "coinwatchd.log"
	defaultDBBackend      = "bdb"
	defaultReservations   = "memory"
	defaultStrategy       = "largest"

	ledgerDBName = "ledger.db"
	sqliteDBName = "ledger.sqlite"
)

var (
	coinwatchdHomeDir = btcutil.AppDataDir("coinwatchd", false)
	defaultConfigFile = filepath.Join(coinwatchdHomeDir, defaultConfigFilename)
	defaultDataDir    = coinwatchdHomeDir
	defaultLogDir     = filepath.Join(coinwatchdHomeDir, defaultLogDirname)
)

type config struct {
	// General application behavior
	ConfigFile    string                  `short:"C" long:"configfile" description:"Path to configuration file"`
	ShowVersion   bool                    `short:"V" long:"version" description:"Display version information and exit"`
	DataDir       string                  `short:"b" long:"datadir" description:"Directory to store the ledger"`
	LogDir        *cfgutil.ExplicitString `long:"logdir" description:"Directory to log output (default: logs under the data directory)"`
	DebugLevel    string                  `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems -- Use show to list available subsystems"`
	TestNet       bool                    `long:"testnet" description:"Use the test network (default mainnet)"`
	SimNet        bool                    `long:"simnet" description:"Use the simulator network (default mainnet)"`
	MetricsListen string                  `long:"metricslisten" description:"Serve prometheus metrics and the selection API on this interface/port"`

	// Peer options
	RPCPeers        []string `long:"rpcpeer" description:"Full node RPC host to connect to, may be repeated (default port: 8555)"`
	DNSSeeds        []string `long:"dnsseed" description:"DNS introducer resolving to full node hosts, may be repeated"`
	DNSServer       string   `long:"dnsserver" description:"Resolver used for DNS introducers (default: first nameserver of /etc/resolv.conf)"`
	RPCCert         string   `long:"rpccert" description:"File containing the client certificate presented to full nodes"`
	RPCKey          string   `long:"rpckey" description:"File containing the client certificate key"`
	CAFile          string   `long:"cafile" description:"File containing the certificate authority of full node certificates"`
	SkipVerify      bool     `long:"skipverify" description:"Do not verify full node certificates"`
	MinPeers        int      `long:"minpeers" description:"Number of peers to keep connected"`
	ConnectAttempts int      `long:"connectattempts" description:"Connection attempts made to fill the peer pool"`
	PeerAttempts    int      `long:"peerattempts" description:"Peers tried by a single operation before it fails"`

	// Reconciliation options
	Watch           []string      `long:"watch" description:"Address to track, may be repeated"`
	TickInterval    time.Duration `long:"tickinterval" description:"Interval between reconciliation passes"`
	RestartInterval time.Duration `long:"restartinterval" description:"Interval between jittered peer pool restarts, 0 disables"`
	DBBackend       string        `long:"dbbackend" description:"Ledger database backend {bdb, sqlite, postgres}"`
	PgDSN           string        `long:"pgdsn" description:"PostgreSQL connection string, required by --dbbackend=postgres"`

	// Selection options
	Reservations   string              `long:"reservations" description:"Reservation store {memory, bdb}"`
	ReservationTTL time.Duration       `long:"reservationttl" description:"Time a selected coin stays reserved"`
	Strategy       string              `long:"strategy" description:"Coin selection strategy {largest, smallest, random, all}"`
	DustLimit      *cfgutil.AmountFlag `long:"dustlimit" description:"Coins below this amount in XCH are never selected"`
}

// network returns the network selected by the flags.
func (c *config) network() chain.Network {
	switch {
	case c.TestNet:
		return chain.Testnet
	case c.SimNet:
		return chain.Simnet
	default:
		return chain.Mainnet
	}
}

// netDir returns the per network data directory.
func (c *config) netDir() string {
	return filepath.Join(c.DataDir, c.network().String())
}

// credentials returns the TLS material handed to the dialer.
func (c *config) credentials() *chain.Credentials {
	return &chain.Credentials{
		CertFile:   c.RPCCert,
		KeyFile:    c.RPCKey,
		CAFile:     c.CAFile,
		SkipVerify: c.SkipVerify,
	}
}

// cleanAndExpandPath expands environement variables and leading ~ in the
// passed path, cleans the result, and returns it.
func cleanAndExpandPath(path string) string {
	if path == "" {
		return ""
	}

	// Expand initial ~ to OS specific home directory.
	if strings.HasPrefix(path, "~") {
		homeDir := filepath.Dir(coinwatchdHomeDir)
		path = strings.Replace(path, "~", homeDir, 1)
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows cmd.exe-style
	// %VARIABLE%, but they variables can still be expanded via POSIX-style
	// $VARIABLE.
	return filepath.Clean(os.ExpandEnv(path))
}

// validLogLevel returns whether or not logLevel is a valid debug log level.
func validLogLevel(logLevel string) bool {
	switch logLevel {
	case "trace", "debug", "info", "warn", "error", "critical":
		return true
	}
	return false
}

// parseAndSetDebugLevels attempts to parse the specified debug level and set
// the levels accordingly.  An appropriate error is returned if anything is
// invalid.
func parseAndSetDebugLevels(debugLevel string) error {
	// When the specified string doesn't have any delimters, treat it as
	// the log level for all subsystems.
	if !strings.Contains(debugLevel, ",") && !strings.Contains(debugLevel, "=") {
		// Validate debug log level.
		if !validLogLevel(debugLevel) {
			str := "the specified debug level [%v] is invalid"
			return fmt.Errorf(str, debugLevel)
		}

		// Change the logging level for all subsystems.
		setLogLevels(debugLevel)

		return nil
	}

	// Split the specified string into subsystem/level pairs while detecting
	// issues and update the log levels accordingly.
	for _, logLevelPair := range strings.Split(debugLevel, ",") {
		if !strings.Contains(logLevelPair, "=") {
			str := "the specified debug level contains an invalid " +
				"subsystem/level pair [%v]"
			return fmt.Errorf(str, logLevelPair)
		}

		// Extract the specified subsystem and log level.
		fields := strings.Split(logLevelPair, "=")
		subsysID, logLevel := fields[0], fields[1]

		// Validate subsystem.
		if _, exists := subsystemLoggers[subsysID]; !exists {
			str := "the specified subsystem [%v] is invalid -- " +
				"supported subsytems %v"
			return fmt.Errorf(str, subsysID, supportedSubsystems())
		}

		// Validate log level.
		if !validLogLevel(logLevel) {
			str := "the specified debug level [%v] is invalid"
			return fmt.Errorf(str, logLevel)
		}

		setLogLevel(subsysID, logLevel)
	}

	return nil
}

// defaultConfig returns the configuration before any file or command line
// option is applied.
func defaultConfig() config {
	return config{
		ConfigFile:      defaultConfigFile,
		DataDir:         defaultDataDir,
		LogDir:          cfgutil.NewExplicitString(defaultLogDir),
		DebugLevel:      defaultLogLevel,
		MinPeers:        reconciler.DefaultMinPeers,
		ConnectAttempts: reconciler.DefaultConnectAttempts,
		PeerAttempts:    reconciler.DefaultPeerAttempts,
		TickInterval:    reconciler.DefaultTickInterval,
		DBBackend:       defaultDBBackend,
		Reservations:    defaultReservations,
		ReservationTTL:  reservation.DefaultTTL,
		Strategy:        defaultStrategy,
		DustLimit:       cfgutil.NewAmountFlag(0),
	}
}

// loadConfig initializes and parses the config using a config file and command
// line options.
//
// The configuration proceeds as follows:
//  1. Start with a default config with sane settings
//  2. Pre-parse the command line to check for an alternative config file
//  3. Load configuration file overwriting defaults with any specified options
//  4. Parse CLI options and overwrite/add any specified options
//
// The above results in coinwatchd functioning properly without any config
// settings while still allowing the user to override settings with config
// files and command line options.  Command line options always take
// precedence.
func loadConfig(args []string) (*config, []string, error) {
	cfg := defaultConfig()

	// Pre-parse the command line options to see if an alternative config
	// file or the version flag was specified.
	preCfg := cfg
	preParser := flags.NewParser(&preCfg, flags.Default)
	_, err := preParser.ParseArgs(args)
	if err != nil {
		var e *flags.Error
		if !errors.As(err, &e) || e.Type != flags.ErrHelp {
			preParser.WriteHelp(os.Stderr)
		}
		return nil, nil, err
	}

	// Show the version and exit if the version flag was specified.
	appName := filepath.Base(os.Args[0])
	appName = strings.TrimSuffix(appName, filepath.Ext(appName))
	if preCfg.ShowVersion {
		fmt.Println(appName, "version", version())
		os.Exit(0)
	}

	// Load additional config from file.
	var configFileError error
	parser := flags.NewParser(&cfg, flags.Default)
	err = flags.NewIniParser(parser).ParseFile(preCfg.ConfigFile)
	if err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			fmt.Fprintln(os.Stderr, err)
			parser.WriteHelp(os.Stderr)
			return nil, nil, err
		}
		configFileError = err
	}

	// Parse command line options again to ensure they take precedence.
	remainingArgs, err := parser.ParseArgs(args)
	if err != nil {
		var e *flags.Error
		if !errors.As(err, &e) || e.Type != flags.ErrHelp {
			parser.WriteHelp(os.Stderr)
		}
		return nil, nil, err
	}

	// Multiple networks can't be selected simultaneously.
	if cfg.TestNet && cfg.SimNet {
		return nil, nil, errors.New("the testnet and simnet params " +
			"can't be used together -- choose one")
	}

	// Special show command to list supported subsystems and exit.
	if cfg.DebugLevel == "show" {
		fmt.Println("Supported subsystems", supportedSubsystems())
		os.Exit(0)
	}

	// Parse, validate, and set debug log level(s).
	if err := parseAndSetDebugLevels(cfg.DebugLevel); err != nil {
		return nil, nil, fmt.Errorf("loadConfig: %w", err)
	}

	// Warn about missing config file after the final command line parse
	// succeeds.  This prevents the warning on help messages and invalid
	// options.
	if configFileError != nil && preCfg.ConfigFile != defaultConfigFile {
		log.Warnf("%v", configFileError)
	}

	if err := cfg.validate(); err != nil {
		return nil, nil, fmt.Errorf("loadConfig: %w", err)
	}

	// Expand environment variable and leading ~ for filepaths, then
	// namespace the log directory per network.
	cfg.DataDir = cleanAndExpandPath(cfg.DataDir)
	if !cfg.LogDir.ExplicitlySet() {
		cfg.LogDir.Value = filepath.Join(cfg.DataDir, defaultLogDirname)
	}
	cfg.LogDir.Value = cleanAndExpandPath(cfg.LogDir.Value)
	cfg.LogDir.Value = filepath.Join(cfg.LogDir.Value, cfg.network().String())
	cfg.RPCCert = cleanAndExpandPath(cfg.RPCCert)
	cfg.RPCKey = cleanAndExpandPath(cfg.RPCKey)
	cfg.CAFile = cleanAndExpandPath(cfg.CAFile)

	cfg.RPCPeers, err = cfgutil.NormalizeAddresses(
		cfg.RPCPeers, cfg.network().DefaultRPCPort(),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid rpcpeer address: %w", err)
	}

	return &cfg, remainingArgs, nil
}

// validate checks option combinations the flag parser cannot express.
func (c *config) validate() error {
	if len(c.RPCPeers) == 0 && len(c.DNSSeeds) == 0 {
		return errors.New("at least one --rpcpeer or --dnsseed is " +
			"required")
	}

	switch c.DBBackend {
	case "bdb", "sqlite":
	case "postgres":
		if c.PgDSN == "" {
			return errors.New("--pgdsn is required by the postgres " +
				"backend")
		}
	default:
		return fmt.Errorf("unknown database backend %q", c.DBBackend)
	}

	switch c.Reservations {
	case "memory", "bdb":
	default:
		return fmt.Errorf("unknown reservation store %q", c.Reservations)
	}

	if _, err := coinselect.StrategyByName(c.Strategy); err != nil {
		return err
	}

	if (c.RPCCert == "") != (c.RPCKey == "") {
		return errors.New("--rpccert and --rpckey must be set together")
	}

	if c.MinPeers < 1 || c.ConnectAttempts < 1 || c.PeerAttempts < 1 {
		return errors.New("--minpeers, --connectattempts and " +
			"--peerattempts must be positive")
	}

	if c.TickInterval <= 0 {
		return errors.New("--tickinterval must be positive")
	}

	for _, addr := range c.Watch {
		if _, err := chain.DecodeAddress(addr, c.network()); err != nil {
			return fmt.Errorf("invalid --watch address: %w", err)
		}
	}

	return nil
}
