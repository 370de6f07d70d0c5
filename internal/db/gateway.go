//-------------------------------------------------------------------------
//
// hotdog2030 Warehouse ETL
//
// Portions copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/cyrg/hotdog-etl/internal/config"
	"github.com/cyrg/hotdog-etl/internal/frame"
	"github.com/cyrg/hotdog-etl/internal/logging"
)

// WriteMode controls how BulkWrite treats existing rows.
type WriteMode string

const (
	// ModeReplace empties the target before inserting.
	ModeReplace WriteMode = "replace"

	// ModeAppend inserts without touching existing rows.
	ModeAppend WriteMode = "append"
)

// WriteResult reports the outcome of a bulk write.
type WriteResult struct {
	// Written is the number of rows inserted.
	Written int64

	// Skipped is the number of rows that failed even when inserted alone.
	Skipped int64
}

// Gateway gives a step access to the logical databases. It is created per
// step run and must be closed when the step exits; connections are never
// shared between gateways.
type Gateway struct {
	opener Opener

	mu    sync.Mutex
	conns map[string]*handle
}

type handle struct {
	db      *sql.DB
	dialect Dialect
}

// NewGateway creates a gateway that connects using the configuration.
func NewGateway(cfg *config.Config) *Gateway {
	return NewGatewayWithOpener(NewOpener(cfg))
}

// NewGatewayWithOpener creates a gateway with a custom opener.
func NewGatewayWithOpener(opener Opener) *Gateway {
	return &Gateway{
		opener: opener,
		conns:  make(map[string]*handle),
	}
}

func (g *Gateway) conn(ctx context.Context, database string) (*handle, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if h, ok := g.conns[database]; ok {
		return h, nil
	}
	conn, dialect, err := g.opener(ctx, database)
	if err != nil {
		return nil, newError(ErrSourceUnavailable, database, "connect", err)
	}
	h := &handle{db: conn, dialect: dialect}
	g.conns[database] = h
	return h, nil
}

// Dialect returns the SQL dialect of a logical database, connecting if needed.
func (g *Gateway) Dialect(ctx context.Context, database string) (Dialect, error) {
	h, err := g.conn(ctx, database)
	if err != nil {
		return nil, err
	}
	return h.dialect, nil
}

// Fetch runs a query and returns the result as a frame.
func (g *Gateway) Fetch(ctx context.Context, database, query string, args ...any) (*frame.Frame, error) {
	h, err := g.conn(ctx, database)
	if err != nil {
		return nil, err
	}

	rows, err := h.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, newError(ErrQuery, database, "fetch", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, newError(ErrQuery, database, "fetch", err)
	}

	f := frame.New(cols...)
	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, newError(ErrQuery, database, "scan", err)
		}
		if err := f.Append(vals...); err != nil {
			return nil, newError(ErrQuery, database, "scan", err)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, newError(ErrQuery, database, "fetch", err)
	}

	logging.Debug().
		Str("database", database).
		Int("rows", f.Len()).
		Msg("Fetched rows")

	return f, nil
}

// Exec runs a statement (DDL, MERGE, DML) and returns the rows affected.
func (g *Gateway) Exec(ctx context.Context, database, statement string, args ...any) (int64, error) {
	h, err := g.conn(ctx, database)
	if err != nil {
		return 0, err
	}
	res, err := h.db.ExecContext(ctx, statement, args...)
	if err != nil {
		return 0, newError(ErrQuery, database, "exec", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		// Some drivers cannot report it for DDL
		return 0, nil
	}
	return n, nil
}

// Count returns the number of rows in a table.
func (g *Gateway) Count(ctx context.Context, table, database string) (int64, error) {
	h, err := g.conn(ctx, database)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := h.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
		return 0, newError(ErrQuery, database, "count", err)
	}
	return n, nil
}

// BulkWrite inserts a frame into a table. In replace mode the table is
// emptied first. A failed batch is retried row by row; rows that still fail
// are skipped and counted.
func (g *Gateway) BulkWrite(ctx context.Context, f *frame.Frame, table, database string, mode WriteMode) (WriteResult, error) {
	var result WriteResult

	h, err := g.conn(ctx, database)
	if err != nil {
		return result, err
	}

	if err := g.checkColumns(ctx, h, database, table, f.Columns()); err != nil {
		return result, err
	}

	switch mode {
	case ModeReplace:
		if _, err := h.db.ExecContext(ctx, h.dialect.Truncate(table)); err != nil {
			logging.Debug().Err(err).Str("table", table).Msg("Truncate failed, deleting rows")
			if _, err := h.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return result, newError(ErrWrite, database, "replace "+table, err)
			}
		}
	case ModeAppend:
	default:
		return result, newError(ErrWrite, database, "write "+table, fmt.Errorf("unknown write mode %q", mode))
	}

	cols := f.Columns()
	if f.Len() == 0 || len(cols) == 0 {
		return result, nil
	}

	batchRows := h.dialect.MaxParams() / len(cols)
	batchRows = min(batchRows, h.dialect.MaxRowsPerInsert())
	batchRows = max(batchRows, 1)

	for start := 0; start < f.Len(); start += batchRows {
		end := min(start+batchRows, f.Len())

		stmt, args := insertStatement(h.dialect, table, cols, f, start, end)
		_, err := h.db.ExecContext(ctx, stmt, args...)
		if err == nil {
			result.Written += int64(end - start)
			continue
		}
		if ctx.Err() != nil {
			return result, newError(ErrWrite, database, "insert "+table, ctx.Err())
		}
		logging.Warn().
			Err(err).
			Str("table", table).
			Int("batch_start", start).
			Int("batch_rows", end-start).
			Msg("Batch insert failed, retrying row by row")

		for i := start; i < end; i++ {
			stmt, args := insertStatement(h.dialect, table, cols, f, i, i+1)
			if _, err := h.db.ExecContext(ctx, stmt, args...); err != nil {
				result.Skipped++
				logging.Warn().
					Err(err).
					Str("table", table).
					Int("row", i).
					Msg("Skipping row")
				continue
			}
			result.Written++
		}
	}

	if result.Written == 0 && result.Skipped > 0 {
		return result, newError(ErrWrite, database, "insert "+table,
			fmt.Errorf("all %d rows failed", result.Skipped))
	}
	return result, nil
}

func (g *Gateway) checkColumns(ctx context.Context, h *handle, database, table string, cols []string) error {
	q := "SELECT COLUMN_NAME FROM INFORMATION_SCHEMA.COLUMNS WHERE TABLE_NAME = " + h.dialect.Placeholder(1)
	rows, err := h.db.QueryContext(ctx, q, unqualified(table))
	if err != nil {
		return newError(ErrWrite, database, "describe "+table, err)
	}
	defer rows.Close()

	existing := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return newError(ErrWrite, database, "describe "+table, err)
		}
		existing[strings.ToLower(name)] = true
	}
	if err := rows.Err(); err != nil {
		return newError(ErrWrite, database, "describe "+table, err)
	}
	if len(existing) == 0 {
		return newError(ErrWrite, database, "describe "+table, errors.New("table does not exist"))
	}

	var missing []string
	for _, c := range cols {
		if !existing[strings.ToLower(c)] {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return newError(ErrWrite, database, "describe "+table,
			fmt.Errorf("columns not in target: %s", strings.Join(missing, ", ")))
	}
	return nil
}

func insertStatement(d Dialect, table string, cols []string, f *frame.Frame, start, end int) (string, []any) {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = d.Quote(c)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ", table, strings.Join(quoted, ", "))

	args := make([]any, 0, (end-start)*len(cols))
	n := 1
	for i := start; i < end; i++ {
		if i > start {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for j, v := range f.Row(i) {
			if j > 0 {
				b.WriteString(", ")
			}
			b.WriteString(d.Placeholder(n))
			n++
			args = append(args, v)
		}
		b.WriteByte(')')
	}
	return b.String(), args
}

// unqualified strips a schema prefix such as dbo.
func unqualified(table string) string {
	if i := strings.LastIndex(table, "."); i >= 0 {
		return table[i+1:]
	}
	return table
}

// Close releases every connection opened by the gateway.
func (g *Gateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	var errs []error
	for name, h := range g.conns {
		if err := h.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close %s: %w", name, err))
		}
		delete(g.conns, name)
	}
	return errors.Join(errs...)
}
