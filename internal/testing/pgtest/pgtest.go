//go:build integration

// Package pgtest starts a throwaway Postgres with the billing schema applied.
// Tests using it run only with BILLING_INTEGRATION=1.
package pgtest

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/odyssey-erp/billing-core/internal/platform/db"
	"github.com/odyssey-erp/billing-core/migrations"
	_ "github.com/odyssey-erp/billing-core/testing"
)

// Image is the Postgres image the suite runs against.
const Image = "postgres:16-alpine"

// Pool returns a migrated pool whose container is removed on cleanup.
func Pool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if os.Getenv("BILLING_INTEGRATION") != "1" {
		t.Skip("set BILLING_INTEGRATION=1 to run Postgres integration tests")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	container, err := tcpostgres.Run(ctx, Image,
		tcpostgres.WithDatabase("billing_test"),
		tcpostgres.WithUsername("billing"),
		tcpostgres.WithPassword("billing"),
		tcpostgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := db.New(ctx, dsn, 20)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, migrations.Apply(ctx, pool))
	return pool
}
