// Copyright (c) 2015-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/coinwatch/coinwatch/chain"
	"github.com/coinwatch/coinwatch/internal/cfgutil"
	"github.com/coinwatch/coinwatch/internal/prompt"
	"github.com/coinwatch/coinwatch/ledger"
	"github.com/jessevdk/go-flags"
)

const ledgerDBName = "ledger.db"

var datadir = btcutil.AppDataDir("coinwatchd", false)

// Flags.
var opts = struct {
	Force   bool   `short:"f" description:"Force removal without prompt"`
	TestNet bool   `long:"testnet" description:"Use the testnet ledger"`
	DbPath  string `long:"db" description:"Path to ledger database"`
}{}

func init() {
	_, err := flags.Parse(&opts)
	if err != nil {
		os.Exit(1)
	}

	if opts.DbPath == "" {
		net := chain.Mainnet
		if opts.TestNet {
			net = chain.Testnet
		}
		opts.DbPath = filepath.Join(datadir, net.String(), ledgerDBName)
	}
}

func main() {
	os.Exit(mainInt())
}

func mainInt() int {
	fmt.Println("Database path:", opts.DbPath)
	exists, err := cfgutil.FileExists(opts.DbPath)
	if err != nil {
		fmt.Println(err)
		return 1
	}
	if !exists {
		fmt.Println("Database file does not exist")
		return 1
	}

	if !opts.Force {
		reader := bufio.NewReader(os.Stdin)
		ok, err := prompt.Confirm(reader, os.Stdout,
			"Drop all sync cursors and resync from genesis?")
		if err != nil {
			fmt.Println()
			if err == io.EOF {
				return 0
			}
			fmt.Println(err)
			return 1
		}
		if !ok {
			return 0
		}
	}

	db, err := ledger.OpenDB(opts.DbPath, ledger.DefaultDBTimeout)
	if err != nil {
		fmt.Println("Failed to open database:", err)
		return 1
	}
	defer db.Close()

	fmt.Println("Dropping sync cursors")
	if err := ledger.DeleteCursors(db); err != nil {
		fmt.Println("Failed to drop sync cursors:", err)
		return 1
	}

	return 0
}
