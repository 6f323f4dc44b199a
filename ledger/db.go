// Copyright (c) 2015 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package ledger

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcwallet/walletdb"
	"github.com/coinwatch/coinwatch/chain"
)

// Naming
//
// The following variables are commonly used in this file and given
// reserved names:
//
//   ns: The namespace bucket for this package
//   b:  The primary bucket being operated on
//   k:  A single bucket key
//   v:  A single bucket value
//   c:  A bucket cursor
//   ck: The current cursor key
//
// Functions use the naming scheme `Op[Raw]Type[Field]`, mirroring the
// transaction store:
//
//   key:     return a db key for some data
//   value:   return a db value for some data
//   put:     insert or replace a value into a bucket
//   fetch:   read and return a value
//   read:    read a value into an out parameter
//   delete:  remove a k/v pair

// Big endian is the preferred byte order, due to cursor scans over integer
// keys iterating in order.
var byteOrder = binary.BigEndian

// LatestVersion is the most recent ledger layout version.
const LatestVersion = 1

// The record layout assumes 32 byte hashes.
var _ [32]byte = chainhash.Hash{}

var (
	// namespaceKey is the top level bucket of the ledger.
	namespaceKey = []byte("coinledger")

	// bucketCoins holds one nested bucket per watched address, keyed by
	// coin id.
	bucketCoins = []byte("c")

	// bucketStatus indexes coins by status for cross address lookups.
	bucketStatus = []byte("s")

	// bucketCursors holds the sync cursor of each address.
	bucketCursors = []byte("t")

	rootVersion = []byte("vers")
)

// The coin record serialization is:
//
//   [0:32]    Parent coin info (32 bytes)
//   [32:64]   Puzzle hash (32 bytes)
//   [64:72]   Amount (8 bytes)
//   [72:76]   Synced height (4 bytes)
//   [76]      Status (1 byte)
//   [77:109]  Asset id (32 bytes)
const coinRecordSize = 109

func valueCoinRecord(c *TrackedCoin) []byte {
	v := make([]byte, coinRecordSize)
	copy(v[0:32], c.ParentCoinInfo[:])
	copy(v[32:64], c.PuzzleHash[:])
	byteOrder.PutUint64(v[64:72], c.Amount)
	byteOrder.PutUint32(v[72:76], c.SyncedHeight)
	v[76] = byte(c.Status)
	copy(v[77:109], c.AssetID[:])
	return v
}

func readCoinRecord(address string, k, v []byte, c *TrackedCoin) error {
	if len(k) != chainhash.HashSize {
		str := fmt.Sprintf("%s: bad coin key length %d", address, len(k))
		return storeError(ErrData, str, nil)
	}
	if len(v) != coinRecordSize {
		str := fmt.Sprintf("%s: short coin record (expected %d "+
			"bytes, read %d)", address, coinRecordSize, len(v))
		return storeError(ErrData, str, nil)
	}

	c.Address = address
	copy(c.CoinID[:], k)
	copy(c.ParentCoinInfo[:], v[0:32])
	copy(c.PuzzleHash[:], v[32:64])
	c.Amount = byteOrder.Uint64(v[64:72])
	c.SyncedHeight = byteOrder.Uint32(v[72:76])
	c.Status = CoinStatus(v[76])
	copy(c.AssetID[:], v[77:109])

	if !c.Status.Valid() {
		str := fmt.Sprintf("%s: coin %v has unknown status %d",
			address, c.CoinID, v[76])
		return storeError(ErrData, str, nil)
	}

	return nil
}

func putCoinRecord(ns walletdb.ReadWriteBucket, c *TrackedCoin) error {
	coins := ns.NestedReadWriteBucket(bucketCoins)
	b, err := coins.CreateBucketIfNotExists([]byte(c.Address))
	if err != nil {
		str := fmt.Sprintf("failed to create bucket for %s", c.Address)
		return storeError(ErrDatabase, str, err)
	}

	err = b.Put(c.CoinID[:], valueCoinRecord(c))
	if err != nil {
		str := fmt.Sprintf("failed to put coin %v", c.CoinID)
		return storeError(ErrDatabase, str, err)
	}

	return nil
}

// fetchCoinRecord returns nil without an error when the coin is not tracked.
func fetchCoinRecord(ns walletdb.ReadBucket, address string,
	coinID chainhash.Hash) (*TrackedCoin, error) {

	b := ns.NestedReadBucket(bucketCoins).NestedReadBucket([]byte(address))
	if b == nil {
		return nil, nil
	}

	v := b.Get(coinID[:])
	if v == nil {
		return nil, nil
	}

	var c TrackedCoin
	if err := readCoinRecord(address, coinID[:], v, &c); err != nil {
		return nil, err
	}

	return &c, nil
}

func fetchAddressCoins(ns walletdb.ReadBucket,
	address string) ([]TrackedCoin, error) {

	b := ns.NestedReadBucket(bucketCoins).NestedReadBucket([]byte(address))
	if b == nil {
		return nil, nil
	}

	var coins []TrackedCoin
	err := b.ForEach(func(k, v []byte) error {
		var c TrackedCoin
		if err := readCoinRecord(address, k, v, &c); err != nil {
			return err
		}
		coins = append(coins, c)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return coins, nil
}

// The status index key is:
//
//   [0]     Status (1 byte)
//   [1:33]  Coin id (32 bytes)
//   [33:]   Address
//
// Values are empty.

func keyStatusIndex(status CoinStatus, coinID chainhash.Hash,
	address string) []byte {

	k := make([]byte, 1+chainhash.HashSize+len(address))
	k[0] = byte(status)
	copy(k[1:33], coinID[:])
	copy(k[33:], address)
	return k
}

func putStatusIndex(ns walletdb.ReadWriteBucket, c *TrackedCoin) error {
	b := ns.NestedReadWriteBucket(bucketStatus)
	k := keyStatusIndex(c.Status, c.CoinID, c.Address)
	if err := b.Put(k, []byte{}); err != nil {
		str := fmt.Sprintf("failed to index coin %v", c.CoinID)
		return storeError(ErrDatabase, str, err)
	}

	return nil
}

func deleteStatusIndex(ns walletdb.ReadWriteBucket, c *TrackedCoin) error {
	b := ns.NestedReadWriteBucket(bucketStatus)
	k := keyStatusIndex(c.Status, c.CoinID, c.Address)
	if err := b.Delete(k); err != nil {
		str := fmt.Sprintf("failed to unindex coin %v", c.CoinID)
		return storeError(ErrDatabase, str, err)
	}

	return nil
}

func fetchCoinsByStatus(ns walletdb.ReadBucket,
	status CoinStatus) ([]TrackedCoin, error) {

	prefix := []byte{byte(status)}
	c := ns.NestedReadBucket(bucketStatus).ReadCursor()

	var coins []TrackedCoin
	for ck, _ := c.Seek(prefix); ck != nil && bytes.HasPrefix(ck, prefix); ck, _ = c.Next() {
		if len(ck) < 1+chainhash.HashSize {
			str := "short status index key"
			return nil, storeError(ErrData, str, nil)
		}

		var coinID chainhash.Hash
		copy(coinID[:], ck[1:33])
		address := string(ck[33:])

		rec, err := fetchCoinRecord(ns, address, coinID)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			str := fmt.Sprintf("status index references missing "+
				"coin %v of %s", coinID, address)
			return nil, storeError(ErrData, str, nil)
		}
		coins = append(coins, *rec)
	}

	return coins, nil
}

// The cursor value is:
//
//   [0:4]   Height (4 bytes)
//   [4:36]  Block hash (32 bytes)

func valueCursor(stamp chain.BlockStamp) []byte {
	v := make([]byte, 36)
	byteOrder.PutUint32(v[0:4], stamp.Height)
	copy(v[4:36], stamp.Hash[:])
	return v
}

func fetchCursor(ns walletdb.ReadBucket,
	address string) (chain.BlockStamp, error) {

	var stamp chain.BlockStamp
	v := ns.NestedReadBucket(bucketCursors).Get([]byte(address))
	if v == nil {
		return stamp, nil
	}
	if len(v) != 36 {
		str := fmt.Sprintf("%s: short cursor (expected 36 bytes, "+
			"read %d)", address, len(v))
		return stamp, storeError(ErrData, str, nil)
	}

	stamp.Height = byteOrder.Uint32(v[0:4])
	copy(stamp.Hash[:], v[4:36])
	return stamp, nil
}

func putCursor(ns walletdb.ReadWriteBucket, address string,
	stamp chain.BlockStamp) error {

	b := ns.NestedReadWriteBucket(bucketCursors)
	if err := b.Put([]byte(address), valueCursor(stamp)); err != nil {
		str := fmt.Sprintf("failed to put cursor of %s", address)
		return storeError(ErrDatabase, str, err)
	}

	return nil
}

// DeleteCursors removes every sync cursor so the next reconcile pass starts
// from genesis. Tracked coins are kept.
func DeleteCursors(db walletdb.DB) error {
	return walletdb.Update(db, func(tx walletdb.ReadWriteTx) error {
		ns := tx.ReadWriteBucket(namespaceKey)
		if ns == nil {
			str := "ledger namespace does not exist"
			return storeError(ErrData, str, walletdb.ErrBucketNotFound)
		}

		err := ns.DeleteNestedBucket(bucketCursors)
		if err != nil && err != walletdb.ErrBucketNotFound {
			str := "failed to delete cursors"
			return storeError(ErrDatabase, str, err)
		}

		_, err = ns.CreateBucket(bucketCursors)
		if err != nil {
			str := "failed to create cursors bucket"
			return storeError(ErrDatabase, str, err)
		}

		return nil
	})
}

// createStore creates the ledger buckets when missing and checks the stored
// version.
func createStore(db walletdb.DB) error {
	return walletdb.Update(db, func(tx walletdb.ReadWriteTx) error {
		ns, err := tx.CreateTopLevelBucket(namespaceKey)
		if err != nil {
			str := "failed to create ledger namespace"
			return storeError(ErrDatabase, str, err)
		}

		for _, name := range [][]byte{
			bucketCoins, bucketStatus, bucketCursors,
		} {
			if _, err := ns.CreateBucketIfNotExists(name); err != nil {
				str := fmt.Sprintf("failed to create bucket %s",
					name)
				return storeError(ErrDatabase, str, err)
			}
		}

		v := ns.Get(rootVersion)
		if v == nil {
			v = make([]byte, 4)
			byteOrder.PutUint32(v, LatestVersion)
			if err := ns.Put(rootVersion, v); err != nil {
				str := "failed to write version"
				return storeError(ErrDatabase, str, err)
			}
			return nil
		}
		if len(v) != 4 {
			str := "bad ledger version"
			return storeError(ErrData, str, nil)
		}
		if version := byteOrder.Uint32(v); version > LatestVersion {
			str := fmt.Sprintf("ledger version %d is newer than "+
				"supported version %d", version, LatestVersion)
			return storeError(ErrData, str, nil)
		}

		return nil
	})
}
