//-------------------------------------------------------------------------
//
// hotdog2030 Warehouse ETL
//
// Portions copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

// Package schema creates the analytical tables and views in the warehouse.
package schema

import (
	"context"
	_ "embed"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/cyrg/hotdog-etl/internal/config"
	"github.com/cyrg/hotdog-etl/internal/db"
	"github.com/cyrg/hotdog-etl/internal/logging"
)

//go:embed sql/sqlserver.sql
var sqlServerScript string

//go:embed sql/postgres.sql
var postgresScript string

// batchTerminator matches a line holding only GO (any case).
var batchTerminator = regexp.MustCompile(`(?im)^[ \t]*GO[ \t]*;?[ \t]*\r?$`)

// Executor is the part of the gateway the bootstrapper needs.
type Executor interface {
	Dialect(ctx context.Context, database string) (db.Dialect, error)
	Exec(ctx context.Context, database, statement string, args ...any) (int64, error)
}

// StatementError records one batch that failed.
type StatementError struct {
	Index     int
	Statement string
	Err       error
}

func (e StatementError) Error() string {
	return fmt.Sprintf("batch %d: %v", e.Index, e.Err)
}

// Report summarises a bootstrap run.
type Report struct {
	Dialect  string
	Batches  int
	Executed int
	Failed   []StatementError
	Duration time.Duration
}

// Script returns the DDL script for a dialect.
func Script(dialect string) (string, error) {
	switch dialect {
	case db.SQLServer{}.Name():
		return sqlServerScript, nil
	case db.Postgres{}.Name():
		return postgresScript, nil
	}
	return "", fmt.Errorf("no schema script for dialect %s", dialect)
}

// Split breaks a script into batches on GO lines. Batches that hold only
// whitespace or comments are dropped.
func Split(script string) []string {
	var batches []string
	for _, part := range batchTerminator.Split(script, -1) {
		part = strings.TrimSpace(part)
		if part == "" || commentOnly(part) {
			continue
		}
		batches = append(batches, part)
	}
	return batches
}

func commentOnly(batch string) bool {
	for _, line := range strings.Split(batch, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "--") {
			return false
		}
	}
	return true
}

// Bootstrap runs the schema script for the warehouse dialect. Failed batches
// are logged and collected; they never stop the remaining batches. An error
// is returned only when the warehouse cannot be reached.
func Bootstrap(ctx context.Context, gw Executor) (*Report, error) {
	dialect, err := gw.Dialect(ctx, config.DBWarehouse)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to warehouse: %w", err)
	}
	script, err := Script(dialect.Name())
	if err != nil {
		return nil, err
	}
	return Run(ctx, gw, dialect.Name(), script), nil
}

// Run executes each batch of script against the warehouse.
func Run(ctx context.Context, gw Executor, dialect, script string) *Report {
	start := time.Now()
	batches := Split(script)
	report := &Report{Dialect: dialect, Batches: len(batches)}

	logging.Info().
		Str("dialect", dialect).
		Int("batches", len(batches)).
		Msg("Bootstrapping analytical schema")

	for i, batch := range batches {
		if ctx.Err() != nil {
			report.Failed = append(report.Failed, StatementError{Index: i + 1, Statement: batch, Err: ctx.Err()})
			continue
		}
		if _, err := gw.Exec(ctx, config.DBWarehouse, batch); err != nil {
			logging.Warn().
				Err(err).
				Int("batch", i+1).
				Str("statement", firstLine(batch)).
				Msg("Schema batch failed")
			report.Failed = append(report.Failed, StatementError{Index: i + 1, Statement: batch, Err: err})
			continue
		}
		report.Executed++
	}

	report.Duration = time.Since(start)
	logging.Info().
		Int("executed", report.Executed).
		Int("failed", len(report.Failed)).
		Dur("duration", report.Duration).
		Msg("Schema bootstrap complete")

	return report
}

func firstLine(batch string) string {
	for _, line := range strings.Split(batch, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "--") {
			return line
		}
	}
	return ""
}
