// Package sqltest provides isolated SQL databases for tests. SQLite is always
// available; Postgres joins the backend set when built with the
// integration_test tag.
package sqltest

import (
	"database/sql"
	"fmt"
	"hash/fnv"
	"testing"

	"github.com/stretchr/testify/require"
)

// DBFactory is a function type that creates a new database connection for
// testing purposes. It takes a testing.TB interface to allow for test failure
// when cannot create the database connection, add cleanup logic and create a
// unique and isolated database for each test case.
type DBFactory func(t testing.TB) *sql.DB

// DBTestFunc is a function type that defines the signature for database test
// functions that will be run against different database implementations.
type DBTestFunc func(t *testing.T, driver string, dbFactory DBFactory)

// Backend is a database implementation tests run against.
type Backend struct {
	// Name is the subtest name.
	Name string

	// Driver is the database/sql driver name the factory opens.
	Driver string

	Factory DBFactory
}

// backends holds every registered database implementation.
var backends = []Backend{
	{Name: "SQLite", Driver: "sqlite", Factory: NewSQLiteDB},
}

// Backends returns the registered database implementations.
func Backends() []Backend {
	return append([]Backend(nil), backends...)
}

// RunDatabaseTest runs the same test function against every registered
// database. It creates a new database connection for each test case,
// ensuring that tests are isolated and can run in parallel.
func RunDatabaseTest(t *testing.T, testFunc DBTestFunc) {
	t.Helper()

	for _, b := range backends {
		t.Run(b.Name, func(t *testing.T) {
			t.Parallel()
			testFunc(t, b.Driver, b.Factory)
		})
	}
}

// deterministicTestID generates a deterministic identifier based on the test
// name. This ensures that Golang test caching works properly by avoiding
// random generations for the database name. We need to use this hash to avoid
// long database names that can be cropped by some database systems.
func deterministicTestID(t testing.TB) string {
	t.Helper()
	h := fnv.New32a()
	_, err := h.Write([]byte(t.Name()))

	// This should never fail, but we handle it just in case.
	require.NoError(t, err)

	hashed := fmt.Sprintf("%08x", h.Sum32())
	t.Logf("db name hash: %s", hashed)
	return hashed
}
