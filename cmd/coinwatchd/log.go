// Copyright (c) 2013-2015 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/btcsuite/btclog"
	"github.com/coinwatch/coinwatch/build"
	"github.com/coinwatch/coinwatch/chain/dnsseed"
	"github.com/coinwatch/coinwatch/chain/rpcpeer"
	"github.com/coinwatch/coinwatch/coinselect"
	"github.com/coinwatch/coinwatch/ledger"
	"github.com/coinwatch/coinwatch/peerpool"
	"github.com/coinwatch/coinwatch/reconciler"
	"github.com/coinwatch/coinwatch/reservation"
)

const (
	// logMaxSizeMB and logMaxFiles bound the rotated log files.
	logMaxSizeMB = 10
	logMaxFiles  = 3
)

var (
	// logWriter writes to stdout and, once initLogRotator ran, to the
	// rotated log file.
	logWriter = build.NewRotatingLogWriter()

	// backendLog is the logging backend used to create all subsystem
	// loggers.
	backendLog = btclog.NewBackend(logWriter)

	log = backendLog.Logger("CWTD")
)

// subsystemLoggers maps each subsystem identifier to its associated logger.
var subsystemLoggers = map[string]btclog.Logger{
	"CWTD": log,
	"PEER": backendLog.Logger("PEER"),
	"LDGR": backendLog.Logger("LDGR"),
	"RECN": backendLog.Logger("RECN"),
	"SLCT": backendLog.Logger("SLCT"),
	"RSRV": backendLog.Logger("RSRV"),
	"RPCP": backendLog.Logger("RPCP"),
	"SEED": backendLog.Logger("SEED"),
}

func init() {
	peerpool.UseLogger(subsystemLoggers["PEER"])
	ledger.UseLogger(subsystemLoggers["LDGR"])
	reconciler.UseLogger(subsystemLoggers["RECN"])
	coinselect.UseLogger(subsystemLoggers["SLCT"])
	reservation.UseLogger(subsystemLoggers["RSRV"])
	rpcpeer.UseLogger(subsystemLoggers["RPCP"])
	dnsseed.UseLogger(subsystemLoggers["SEED"])
}

// initLogRotator initializes the logging rotater to write logs to logFile and
// create roll files in the same directory.  It must be called before the
// package-global log rotater variables are used.
func initLogRotator(logFile string) {
	err := logWriter.InitLogRotator(logFile, logMaxSizeMB, logMaxFiles)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

// setLogLevel sets the logging level for provided subsystem.  Invalid
// subsystems are ignored.
func setLogLevel(subsystemID string, logLevel string) {
	logger, ok := subsystemLoggers[subsystemID]
	if !ok {
		return
	}

	// Defaults to info if the log level is invalid.
	level, _ := btclog.LevelFromString(logLevel)
	logger.SetLevel(level)
}

// setLogLevels sets the log level for all subsystem loggers to the passed
// level.
func setLogLevels(logLevel string) {
	for subsystemID := range subsystemLoggers {
		setLogLevel(subsystemID, logLevel)
	}
}

// supportedSubsystems returns a sorted slice of the supported subsystems for
// logging purposes.
func supportedSubsystems() []string {
	subsystems := make([]string, 0, len(subsystemLoggers))
	for subsysID := range subsystemLoggers {
		subsystems = append(subsystems, subsysID)
	}

	// Sort the subsytems for stable display.
	sort.Strings(subsystems)
	return subsystems
}
