// Package db provides the database gateway for hotdog-etl: connections to
// the three logical databases, frame fetches, bulk writes and statements.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strconv"
	"time"

	// Register database/sql drivers
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/microsoft/go-mssqldb"

	"github.com/cyrg/hotdog-etl/internal/config"
	"github.com/cyrg/hotdog-etl/internal/logging"
)

// Opener opens a *sql.DB for a logical database. Tests replace it.
type Opener func(ctx context.Context, database string) (*sql.DB, Dialect, error)

// BuildDSN returns the DSN for a logical database.
func BuildDSN(cfg *config.Config, d config.DatabaseConfig) (string, error) {
	if d.DSN != "" {
		return d.DSN, nil
	}

	c := cfg.Connection
	timeout := int(cfg.ConnectTimeout() / time.Second)

	switch d.Driver {
	case "sqlserver":
		q := url.Values{}
		q.Set("database", d.Name)
		q.Set("connection timeout", strconv.Itoa(timeout))
		q.Set("dial timeout", strconv.Itoa(timeout))
		q.Set("app name", "hotdog-etl")
		u := &url.URL{
			Scheme:   "sqlserver",
			User:     url.UserPassword(c.User, c.Password),
			Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
			RawQuery: q.Encode(),
		}
		return u.String(), nil
	case "pgx":
		q := url.Values{}
		q.Set("connect_timeout", strconv.Itoa(timeout))
		q.Set("application_name", "hotdog-etl")
		u := &url.URL{
			Scheme:   "postgres",
			User:     url.UserPassword(c.User, c.Password),
			Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
			Path:     "/" + d.Name,
			RawQuery: q.Encode(),
		}
		return u.String(), nil
	}
	return "", fmt.Errorf("unsupported driver: %s", d.Driver)
}

// NewOpener returns an Opener backed by the configured drivers.
func NewOpener(cfg *config.Config) Opener {
	return func(ctx context.Context, database string) (*sql.DB, Dialect, error) {
		d, err := cfg.Database(database)
		if err != nil {
			return nil, nil, err
		}
		dialect, err := DialectFor(d.Driver)
		if err != nil {
			return nil, nil, err
		}
		dsn, err := BuildDSN(cfg, d)
		if err != nil {
			return nil, nil, err
		}

		logging.Debug().
			Str("database", database).
			Str("physical", d.Name).
			Str("driver", d.Driver).
			Msg("Connecting to database")

		conn, err := sql.Open(d.Driver, dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open connection: %w", err)
		}

		// One step at a time; keep the pool small
		conn.SetMaxOpenConns(4)
		conn.SetMaxIdleConns(2)
		conn.SetConnMaxLifetime(30 * time.Minute)

		pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout())
		defer cancel()
		if err := conn.PingContext(pingCtx); err != nil {
			conn.Close()
			return nil, nil, fmt.Errorf("failed to ping database: %w", err)
		}

		logging.Debug().
			Str("database", database).
			Str("dialect", dialect.Name()).
			Msg("Connected to database")

		return conn, dialect, nil
	}
}
