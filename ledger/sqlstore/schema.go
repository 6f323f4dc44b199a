package sqlstore

// schema holds the statements creating the ledger tables. Every statement is
// valid on both SQLite and PostgreSQL and is idempotent.
//
// Hashes are stored as lower case hex in natural byte order. Amounts are
// unsigned 64 bit values stored through their int64 bit pattern since neither
// database has an unsigned 64 bit column type.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS coins (
		address TEXT NOT NULL,
		coin_id TEXT NOT NULL,
		parent_coin_info TEXT NOT NULL,
		puzzle_hash TEXT NOT NULL,
		amount BIGINT NOT NULL,
		synced_height BIGINT NOT NULL,
		status SMALLINT NOT NULL,
		asset_id TEXT NOT NULL,
		PRIMARY KEY (address, coin_id)
	)`,
	`CREATE INDEX IF NOT EXISTS coins_status_idx ON coins (status)`,
	`CREATE TABLE IF NOT EXISTS sync_cursors (
		address TEXT PRIMARY KEY,
		height BIGINT NOT NULL,
		block_hash TEXT NOT NULL
	)`,
}

const (
	coinColumns = `address, coin_id, parent_coin_info, puzzle_hash, ` +
		`amount, synced_height, status, asset_id`

	upsertCoinSQL = `INSERT INTO coins (` + coinColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (address, coin_id) DO UPDATE SET
			parent_coin_info = excluded.parent_coin_info,
			puzzle_hash = excluded.puzzle_hash,
			amount = excluded.amount,
			synced_height = excluded.synced_height,
			status = excluded.status,
			asset_id = excluded.asset_id`

	setStatusSQL = `UPDATE coins SET status = $1, synced_height = $2
		WHERE address = $3 AND coin_id = $4`

	coinsByAddressSQL = `SELECT ` + coinColumns + ` FROM coins
		WHERE address = $1 ORDER BY coin_id`

	coinsByStatusSQL = `SELECT ` + coinColumns + ` FROM coins
		WHERE status = $1 ORDER BY address, coin_id`

	syncedToSQL = `SELECT height, block_hash FROM sync_cursors
		WHERE address = $1`

	setSyncedToSQL = `INSERT INTO sync_cursors (address, height, block_hash)
		VALUES ($1, $2, $3)
		ON CONFLICT (address) DO UPDATE SET
			height = excluded.height,
			block_hash = excluded.block_hash`
)
