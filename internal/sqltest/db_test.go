package sqltest

import (
	"database/sql"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

// testRow represents a simple table structure for testing.
type testRow struct {
	ID   int
	Name string
}

// Common SQL statements that work identically in both PostgreSQL and SQLite.
const (
	createTableSQL = `
		CREATE TABLE IF NOT EXISTS test_table (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL
		);`
	insertSQL     = `INSERT INTO test_table (id, name) VALUES ($1, $2);`
	selectSQL     = `SELECT id, name FROM test_table ORDER BY id`
	selectByIDSQL = `SELECT id, name FROM test_table WHERE id = $1`
	countSQL      = `SELECT COUNT(*) FROM test_table`
)

// TestDatabaseIsolation checks every test gets a fresh database instance.
func TestDatabaseIsolation(t *testing.T) {
	RunDatabaseTest(t, func(t *testing.T, _ string, dbFactory DBFactory) {
		for i := range 3 {
			t.Run(fmt.Sprintf("TestIsolationDB%d", i), func(t *testing.T) {
				t.Parallel()

				db := dbFactory(t)
				_, err := db.Exec(createTableSQL)
				require.NoError(t, err)

				err = db.QueryRow(selectSQL).Scan()
				require.ErrorIs(t, err, sql.ErrNoRows)

				for j := range 10 {
					_, err = db.Exec(insertSQL, j, "db")
					require.NoError(t, err, "insert failed")
				}

				var count int
				require.NoError(t, db.QueryRow(countSQL).Scan(&count))
				require.Equal(t, 10, count)
			})
		}
	})
}

// TestPositionalPlaceholders checks that $n placeholders bind on every
// backend.
func TestPositionalPlaceholders(t *testing.T) {
	RunDatabaseTest(t, func(t *testing.T, driver string, dbFactory DBFactory) {
		require.NotEmpty(t, driver)

		db := dbFactory(t)
		_, err := db.Exec(createTableSQL)
		require.NoError(t, err)

		rows := []testRow{{100, "a"}, {200, "b"}}
		for _, r := range rows {
			_, err := db.Exec(insertSQL, r.ID, r.Name)
			require.NoError(t, err)
		}

		for _, r := range rows {
			var got testRow
			err := db.QueryRow(selectByIDSQL, r.ID).Scan(&got.ID, &got.Name)
			require.NoError(t, err)
			require.Equal(t, r, got)
		}
	})
}
