package testutil

import (
	"database/sql"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/garyjia/portal-workflow/pkg/database"
)

var dbSeq atomic.Int64

// NewTestDB opens a private in-memory SQLite database with the schema applied.
// It is closed when the test ends.
func NewTestDB(t *testing.T) *sql.DB {
	t.Helper()
	logger := zaptest.NewLogger(t)

	path := fmt.Sprintf("file:testdb%d?mode=memory&cache=shared", dbSeq.Add(1))
	db, err := database.New(database.Config{Path: path, MaxOpenConns: 1, MaxIdleConns: 1}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = database.NewMigrator(db, logger).Migrate()
	require.NoError(t, err)
	return db.DB
}
