// Package pgtest opens a migrated Postgres pool for integration tests.
package pgtest

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/solarcalc/invoicing/internal/platform/db"
)

// DSNEnv names the variable that enables Postgres-backed tests.
const DSNEnv = "INVOICING_TEST_PG_DSN"

var resetSQL = `
TRUNCATE quotation_actions, quotation_line_items, quotation_documents,
	customer_history, customers, vouchers, invoice_templates, packages,
	actor_aliases, agent_profiles, sequence_counters
RESTART IDENTITY CASCADE`

// Pool skips the test unless DSNEnv is set, then migrates and empties the
// schema and returns a pool closed on cleanup.
func Pool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv(DSNEnv)
	if dsn == "" {
		t.Skipf("%s not set; skipping Postgres integration test", DSNEnv)
	}
	require.NoError(t, db.Migrate(dsn))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	pool, err := db.New(ctx, dsn, 80)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = pool.Exec(ctx, resetSQL)
	require.NoError(t, err)
	return pool
}
