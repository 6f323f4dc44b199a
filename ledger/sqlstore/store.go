// Package sqlstore implements ledger.Store on SQLite and PostgreSQL through
// database/sql.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/coinwatch/coinwatch/chain"
	"github.com/coinwatch/coinwatch/ledger"

	// Register the pgx driver under name "pgx".
	_ "github.com/jackc/pgx/v5/stdlib"

	// Register SQLite driver under name "sqlite".
	_ "modernc.org/sqlite"
)

const (
	// DriverSQLite is the database/sql driver name of SQLite.
	DriverSQLite = "sqlite"

	// DriverPostgres is the database/sql driver name of PostgreSQL.
	DriverPostgres = "pgx"
)

// Store is a ledger.Store backed by a SQL database.
type Store struct {
	db     *sql.DB
	ownsDB bool
}

// A compile time check to ensure Store implements the ledger.Store interface.
var _ ledger.Store = (*Store)(nil)

// Open connects to the database with the given driver and creates the ledger
// tables when missing. The connection is closed by Close.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", driver, err)
	}

	// SQLite allows a single writer at a time.
	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s database: %w", driver, err)
	}

	s, err := New(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.ownsDB = true

	return s, nil
}

// New creates the ledger tables in db when missing. The connection remains
// owned by the caller.
func New(ctx context.Context, db *sql.DB) (*Store, error) {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, dbError("create schema", err)
		}
	}

	return &Store{db: db}, nil
}

func dbError(desc string, err error) error {
	return ledger.NewError(ledger.ErrDatabase, desc, err)
}

func encodeHash(h chainhash.Hash) string {
	return hex.EncodeToString(h[:])
}

func decodeHash(field, s string) (chainhash.Hash, error) {
	var h chainhash.Hash
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != chainhash.HashSize {
		str := fmt.Sprintf("bad %s %q", field, s)
		return h, ledger.NewError(ledger.ErrData, str, err)
	}
	copy(h[:], b)

	return h, nil
}

// execer runs statements on a connection pool or inside a transaction.
type execer interface {
	ExecContext(ctx context.Context, query string,
		args ...interface{}) (sql.Result, error)
}

func validCoins(coins ...ledger.TrackedCoin) error {
	for _, c := range coins {
		if !c.Status.Valid() {
			str := fmt.Sprintf("coin %v has unknown status %d",
				c.CoinID, uint8(c.Status))
			return ledger.NewError(ledger.ErrInvalidStatus, str, nil)
		}
	}

	return nil
}

// UpsertCoin inserts the coin or replaces the stored record.
func (s *Store) UpsertCoin(ctx context.Context, coin ledger.TrackedCoin) error {
	if err := validCoins(coin); err != nil {
		return err
	}

	return upsertCoin(ctx, s.db, coin)
}

func upsertCoin(ctx context.Context, db execer, coin ledger.TrackedCoin) error {
	_, err := db.ExecContext(ctx, upsertCoinSQL,
		coin.Address,
		encodeHash(coin.CoinID),
		encodeHash(coin.ParentCoinInfo),
		encodeHash(coin.PuzzleHash),
		int64(coin.Amount),
		int64(coin.SyncedHeight),
		int16(coin.Status),
		encodeHash(coin.AssetID),
	)
	if err != nil {
		return dbError(fmt.Sprintf("upsert coin %v", coin.CoinID), err)
	}

	return nil
}

// ApplySync stores coins and the sync cursor of address in one transaction.
func (s *Store) ApplySync(ctx context.Context, address string,
	coins []ledger.TrackedCoin, stamp chain.BlockStamp) error {

	if err := validCoins(coins...); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return dbError("begin sync of "+address, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, c := range coins {
		if err := upsertCoin(ctx, tx, c); err != nil {
			return err
		}
	}
	if err := setSyncedTo(ctx, tx, address, stamp); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return dbError("commit sync of "+address, err)
	}

	return nil
}

// SetStatus changes the status and synced height of a stored coin.
func (s *Store) SetStatus(ctx context.Context, address string,
	coinID chainhash.Hash, status ledger.CoinStatus, height uint32) error {

	if !status.Valid() {
		str := fmt.Sprintf("unknown status %d", uint8(status))
		return ledger.NewError(ledger.ErrInvalidStatus, str, nil)
	}

	res, err := s.db.ExecContext(ctx, setStatusSQL, int16(status),
		int64(height), address, encodeHash(coinID))
	if err != nil {
		return dbError(fmt.Sprintf("set status of %v", coinID), err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return dbError("rows affected", err)
	}
	if n == 0 {
		str := fmt.Sprintf("coin %v of %s", coinID, address)
		return ledger.NewError(ledger.ErrCoinNotFound, str, nil)
	}

	return nil
}

// CoinsByAddress returns every coin tracked for address.
func (s *Store) CoinsByAddress(ctx context.Context,
	address string) ([]ledger.TrackedCoin, error) {

	return s.queryCoins(ctx, coinsByAddressSQL, address)
}

// CoinsByStatus returns every coin with the given status.
func (s *Store) CoinsByStatus(ctx context.Context,
	status ledger.CoinStatus) ([]ledger.TrackedCoin, error) {

	if !status.Valid() {
		str := fmt.Sprintf("unknown status %d", uint8(status))
		return nil, ledger.NewError(ledger.ErrInvalidStatus, str, nil)
	}

	return s.queryCoins(ctx, coinsByStatusSQL, int16(status))
}

func (s *Store) queryCoins(ctx context.Context, query string,
	arg any) ([]ledger.TrackedCoin, error) {

	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, dbError("query coins", err)
	}
	defer rows.Close()

	var coins []ledger.TrackedCoin
	for rows.Next() {
		c, err := scanCoin(rows)
		if err != nil {
			return nil, err
		}
		coins = append(coins, c)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("iterate coins", err)
	}

	return coins, nil
}

func scanCoin(rows *sql.Rows) (ledger.TrackedCoin, error) {
	var (
		c                                   ledger.TrackedCoin
		coinID, parent, puzzleHash, assetID string
		amount, height                      int64
		status                              int16
	)

	err := rows.Scan(&c.Address, &coinID, &parent, &puzzleHash, &amount,
		&height, &status, &assetID)
	if err != nil {
		return c, dbError("scan coin", err)
	}

	if c.CoinID, err = decodeHash("coin id", coinID); err != nil {
		return c, err
	}
	if c.ParentCoinInfo, err = decodeHash("parent", parent); err != nil {
		return c, err
	}
	if c.PuzzleHash, err = decodeHash("puzzle hash", puzzleHash); err != nil {
		return c, err
	}
	if c.AssetID, err = decodeHash("asset id", assetID); err != nil {
		return c, err
	}

	c.Amount = uint64(amount)
	c.SyncedHeight = uint32(height)
	c.Status = ledger.CoinStatus(status)
	if !c.Status.Valid() {
		str := fmt.Sprintf("coin %v has unknown status %d", c.CoinID,
			status)
		return c, ledger.NewError(ledger.ErrData, str, nil)
	}

	return c, nil
}

// SyncedTo returns the sync cursor of address.
func (s *Store) SyncedTo(ctx context.Context,
	address string) (chain.BlockStamp, error) {

	var (
		stamp  chain.BlockStamp
		height int64
		hash   string
	)

	err := s.db.QueryRowContext(ctx, syncedToSQL, address).Scan(
		&height, &hash,
	)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return stamp, nil

	case err != nil:
		return stamp, dbError("query cursor of "+address, err)
	}

	stamp.Height = uint32(height)
	stamp.Hash, err = decodeHash("cursor hash", hash)

	return stamp, err
}

// SetSyncedTo stores the sync cursor of address.
func (s *Store) SetSyncedTo(ctx context.Context, address string,
	stamp chain.BlockStamp) error {

	return setSyncedTo(ctx, s.db, address, stamp)
}

func setSyncedTo(ctx context.Context, db execer, address string,
	stamp chain.BlockStamp) error {

	_, err := db.ExecContext(ctx, setSyncedToSQL, address,
		int64(stamp.Height), encodeHash(stamp.Hash))
	if err != nil {
		return dbError("put cursor of "+address, err)
	}

	return nil
}

// Close closes the database connection when it was opened by Open.
func (s *Store) Close() error {
	if !s.ownsDB {
		return nil
	}

	return s.db.Close()
}

// SQLiteDSN returns the connection string of a file backed SQLite database
// at path, created when missing.
func SQLiteDSN(path string) string {
	return "file:" + path + "?mode=rwc&_fk=1"
}
