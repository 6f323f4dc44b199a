package sqltest

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	// Register SQLite driver under name "sqlite".
	_ "modernc.org/sqlite"
)

// SQLiteDSN returns the connection string used for a file backed database at
// path: read/write/create mode, shared cache and foreign keys enabled.
func SQLiteDSN(path string) string {
	return "file:" + path + "?mode=rwc&cache=shared&_fk=1"
}

// NewSQLiteDB creates an isolated fresh SQLite database in a temporary
// directory for each test. The database file is named deterministically.
func NewSQLiteDB(t testing.TB) *sql.DB {
	t.Helper()

	dir := t.TempDir()
	dbPath :=
		filepath.Join(dir, "coinwatchtest_"+deterministicTestID(t)+".sqlite")

	db, err := sql.Open("sqlite", SQLiteDSN(dbPath))
	require.NoError(t, err, "failed to open SQLite database")

	// SQLite allows a single writer; funnel everything through one
	// connection so concurrent tests do not see SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		require.NoError(t, err, "failed to ping SQLite database")
	}

	t.Cleanup(func() {
		err := db.Close()
		assert.NoError(t, err, "failed to close SQLite database")

		err = os.Remove(dbPath)
		assert.NoError(t, err, "failed to remove SQLite database")
	})

	return db
}
