package database

import (
	"testing"

	"github.com/sendgate/sendgate/pkg/database"
	"github.com/sendgate/sendgate/test/util"
)

// NewTestClient creates a test database client.
// In CI (when CI_DATABASE_URL is set): connects to external PostgreSQL service container.
// In local dev: spins up a testcontainer with PostgreSQL.
// The schema and connections are automatically cleaned up when the test ends.
func NewTestClient(t *testing.T) *database.Client {
	pool := util.SetupTestDatabase(t)

	// Cleanup (schema drop and pool close) is handled by SetupTestDatabase.
	return database.NewClientFromPool(pool)
}
