// Package testutil provides shared PostgreSQL infrastructure for integration tests.
package testutil

import (
	"context"
	"database/sql"
	"os"
	"sync"
	"testing"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/mbd888/packshop/migrations"
)

var (
	containerOnce sync.Once
	containerDSN  string
	containerErr  error
)

// PGTest opens a migrated test database and returns it with a cleanup func.
//
//	db, cleanup := testutil.PGTest(t)
//	defer cleanup()
//
// POSTGRES_URL is used when set. Otherwise a postgres:16-alpine container
// is started once per test binary. With -short the test is skipped.
// Cleanup removes all orders; the seeded packs are kept.
func PGTest(t *testing.T) (*sql.DB, func()) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	dsn := os.Getenv("POSTGRES_URL")
	if dsn == "" {
		containerOnce.Do(startContainer)
		if containerErr != nil {
			t.Skipf("POSTGRES_URL not set and postgres container unavailable: %v", containerErr)
		}
		dsn = containerDSN
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("pgtest: open database: %v", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		t.Fatalf("pgtest: connect to database: %v", err)
	}

	ctx := context.Background()
	if err := migrations.Up(ctx, db); err != nil {
		_ = db.Close()
		t.Fatalf("pgtest: run migrations: %v", err)
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM orders`); err != nil {
		_ = db.Close()
		t.Fatalf("pgtest: reset orders: %v", err)
	}

	cleanup := func() {
		_, _ = db.ExecContext(ctx, `DELETE FROM orders`)
		_ = db.Close()
	}
	return db, cleanup
}

// The container is left for the testcontainers reaper to remove when the
// test binary exits.
func startContainer() {
	ctx := context.Background()
	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("packshop_test"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		containerErr = err
		return
	}
	containerDSN, containerErr = container.ConnectionString(ctx, "sslmode=disable")
}
