package testutil

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"go.uber.org/zap"

	"github.com/nexus-fundraising/nexus/internal/migrate"
)

// DatabaseURLEnv names the variable that enables database-backed tests.
const DatabaseURLEnv = "TEST_DATABASE_URL"

var (
	migrateOnce sync.Once
	migrateErr  error
)

// TestDB holds test database resources. Each test runs inside its own
// transaction that is rolled back on cleanup.
type TestDB struct {
	Pool *pgxpool.Pool
	DB   *bun.DB
	Tx   bun.Tx
}

// GetDB returns the per-test transaction.
func (t *TestDB) GetDB() bun.IDB {
	return t.Tx
}

// SetupTestDB connects to TEST_DATABASE_URL, applies migrations once per
// process and begins a transaction for the calling test. The test is
// skipped when the variable is unset.
func SetupTestDB(t *testing.T) *TestDB {
	t.Helper()

	dsn := os.Getenv(DatabaseURLEnv)
	if dsn == "" {
		t.Skipf("%s not set", DatabaseURLEnv)
	}

	ctx := context.Background()
	pool, err := createPool(ctx, dsn)
	if err != nil {
		t.Fatalf("connect test database: %v", err)
	}
	sqldb := stdlib.OpenDBFromPool(pool)

	migrateOnce.Do(func() {
		migrateErr = migrate.NewMigrator(sqldb, zap.NewNop()).Up(ctx)
	})
	if migrateErr != nil {
		sqldb.Close()
		pool.Close()
		t.Fatalf("migrate test database: %v", migrateErr)
	}

	db := bun.NewDB(sqldb, pgdialect.New())
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		db.Close()
		pool.Close()
		t.Fatalf("begin test transaction: %v", err)
	}

	t.Cleanup(func() {
		_ = tx.Rollback()
		db.Close()
		pool.Close()
	})

	return &TestDB{Pool: pool, DB: db, Tx: tx}
}

func createPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolConfig.MaxConns = 5
	return pgxpool.NewWithConfig(ctx, poolConfig)
}

// NewOrgID returns a fresh organization id so tests sharing a database do
// not see each other's rows.
func NewOrgID() string {
	return uuid.NewString()
}
