package db

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

// TestStore wraps a Store with test cleanup functionality.
type TestStore struct {
	*Store
	pool *pgxpool.Pool
}

// NewTestStore connects to TEST_DATABASE_URL, or starts a disposable
// Postgres container when it is unset, and applies the journal schema.
func NewTestStore(t *testing.T) *TestStore {
	t.Helper()
	ctx := context.Background()

	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		dbURL = startPostgres(t)
	}

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("failed to connect to test database: %v", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		t.Fatalf("failed to ping test database: %v", err)
	}

	store := NewStore(pool, nil)
	if err := store.Migrate(ctx); err != nil {
		pool.Close()
		t.Fatalf("failed to migrate test database: %v", err)
	}

	ts := &TestStore{Store: store, pool: pool}
	t.Cleanup(func() {
		ts.Cleanup(t)
		pool.Close()
	})
	return ts
}

// Cleanup removes all journal rows.
func (ts *TestStore) Cleanup(t *testing.T) {
	t.Helper()

	if _, err := ts.pool.Exec(context.Background(), "TRUNCATE TABLE dispatch_journal"); err != nil {
		t.Fatalf("failed to cleanup test database: %v", err)
	}
}

// SkipIfNoTestDB skips database tests in -short mode or when SKIP_DB_TESTS is set.
func SkipIfNoTestDB(t *testing.T) {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping database test in short mode")
	}
	if os.Getenv("SKIP_DB_TESTS") != "" {
		t.Skip("Skipping database test (SKIP_DB_TESTS is set)")
	}
}

func startPostgres(t *testing.T) string {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	container, err := postgres.Run(ctx,
		"postgres:16",
		postgres.WithDatabase("titlewatch_test"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Skipf("Skipping database test: cannot start postgres container: %v", err)
	}
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get container connection string: %v", err)
	}
	return dsn
}
