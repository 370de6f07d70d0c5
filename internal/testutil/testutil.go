//-------------------------------------------------------------------------
//
// hotdog2030 Warehouse ETL
//
// Portions copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

// Package testutil provides helpers for integration tests that run the
// warehouse against a scratch PostgreSQL database.
package testutil

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cyrg/hotdog-etl/internal/config"
	"github.com/cyrg/hotdog-etl/internal/db"
	"github.com/cyrg/hotdog-etl/internal/schema"
)

const (
	// DefaultTestConnString is the default connection string for tests.
	// Override with the HOTDOG_TEST_CONN environment variable.
	DefaultTestConnString = "postgres://postgres@localhost:5432/postgres"

	// TestDBPrefix is the prefix for scratch warehouse databases.
	TestDBPrefix = "hotdog_test_"
)

// PostgresAvailable returns the connection string when PostgreSQL answers
// a ping, or an empty string.
func PostgresAvailable() string {
	connStr := os.Getenv("HOTDOG_TEST_CONN")
	if connStr == "" {
		connStr = DefaultTestConnString
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return ""
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		return ""
	}
	return connStr
}

// SkipIfNoPostgres skips the test if PostgreSQL is not available.
func SkipIfNoPostgres(t *testing.T) string {
	connStr := PostgresAvailable()
	if connStr == "" {
		t.Skip("PostgreSQL not available, skipping integration test")
	}
	return connStr
}

// CreateTestDB creates a scratch database and returns its connection
// string. The database is dropped when the test passes; a failed test
// leaves it behind for inspection.
func CreateTestDB(t *testing.T, baseConnStr string) string {
	t.Helper()

	suffix := make([]byte, 6)
	if _, err := rand.Read(suffix); err != nil {
		t.Fatalf("Failed to generate database name: %v", err)
	}
	dbName := TestDBPrefix + hex.EncodeToString(suffix)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, baseConnStr)
	if err != nil {
		t.Fatalf("Failed to connect to postgres: %v", err)
	}
	defer pool.Close()

	if _, err := pool.Exec(ctx, fmt.Sprintf("CREATE DATABASE %s", dbName)); err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}

	t.Cleanup(func() {
		if t.Failed() {
			t.Logf("Test failed - keeping database %s for diagnostics", dbName)
			return
		}
		dropTestDB(t, baseConnStr, dbName)
	})

	pc, err := pgxpool.ParseConfig(baseConnStr)
	if err != nil {
		t.Fatalf("Failed to parse connection string: %v", err)
	}

	// ConnString() does not reflect changes to ConnConfig.Database
	cc := pc.ConnConfig
	if cc.Password != "" {
		return fmt.Sprintf("postgres://%s:%s@%s:%d/%s", cc.User, cc.Password, cc.Host, cc.Port, dbName)
	}
	return fmt.Sprintf("postgres://%s@%s:%d/%s", cc.User, cc.Host, cc.Port, dbName)
}

func dropTestDB(t *testing.T, baseConnStr, dbName string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, baseConnStr)
	if err != nil {
		t.Logf("Warning: Failed to connect to drop test database: %v", err)
		return
	}
	defer pool.Close()

	_, _ = pool.Exec(ctx, `
        SELECT pg_terminate_backend(pid)
        FROM pg_stat_activity
        WHERE datname = $1 AND pid <> pg_backend_pid()
    `, dbName)

	if _, err := pool.Exec(ctx, fmt.Sprintf("DROP DATABASE IF EXISTS %s", dbName)); err != nil {
		t.Logf("Warning: Failed to drop test database: %v", err)
	}
}

// ConnectTestDB opens a pool on a test database, closed at test end.
func ConnectTestDB(t *testing.T, connStr string) *pgxpool.Pool {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

// WarehouseConfig returns a configuration whose three logical databases
// all point at connStr through the pgx driver.
func WarehouseConfig(connStr string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Connection.Driver = "pgx"
	for _, d := range []*config.DatabaseConfig{
		&cfg.Databases.Cyrg2025,
		&cfg.Databases.CyrgWeixin,
		&cfg.Databases.Warehouse,
	} {
		d.DSN = connStr
	}
	return cfg
}

// NewWarehouse creates a scratch database, runs the schema bootstrapper
// against it and returns a gateway whose logical databases all point at
// it. It skips the test when PostgreSQL is not available.
func NewWarehouse(t *testing.T) *db.Gateway {
	t.Helper()
	connStr := CreateTestDB(t, SkipIfNoPostgres(t))

	gw := db.NewGateway(WarehouseConfig(connStr))
	t.Cleanup(func() { _ = gw.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	report, err := schema.Bootstrap(ctx, gw)
	if err != nil {
		t.Fatalf("Failed to bootstrap schema: %v", err)
	}
	for _, f := range report.Failed {
		t.Errorf("Schema batch %d failed: %v", f.Index, f.Err)
	}
	if t.Failed() {
		t.FailNow()
	}
	return gw
}
