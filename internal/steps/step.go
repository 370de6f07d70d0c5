// Package steps defines the pipeline step interface, the shared step
// environment and the step registry. Each step lives in its own package and
// registers itself from init().
package steps

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/cyrg/hotdog-etl/internal/config"
	"github.com/cyrg/hotdog-etl/internal/db"
	"github.com/cyrg/hotdog-etl/internal/frame"
)

// Gateway is the database access a step needs. *db.Gateway satisfies it.
type Gateway interface {
	Fetch(ctx context.Context, database, query string, args ...any) (*frame.Frame, error)
	BulkWrite(ctx context.Context, f *frame.Frame, table, database string, mode db.WriteMode) (db.WriteResult, error)
	Exec(ctx context.Context, database, statement string, args ...any) (int64, error)
	Count(ctx context.Context, table, database string) (int64, error)
	Dialect(ctx context.Context, database string) (db.Dialect, error)
}

// Env is everything a step run receives besides its context.
type Env struct {
	// Gateway is opened for this run only and closed by the caller.
	Gateway Gateway

	// Analytics holds the thresholds for steps 07 to 11.
	Analytics config.AnalyticsConfig

	// Now returns the run clock. Tests pin it.
	Now func() time.Time

	// Log is tagged with the step identity.
	Log zerolog.Logger
}

// Clock returns the current run time.
func (e *Env) Clock() time.Time {
	if e.Now == nil {
		return time.Now()
	}
	return e.Now()
}

// Result is the outcome of one step run.
type Result struct {
	// Table is the target table.
	Table string `json:"table"`

	// RowsRead is the number of source rows extracted.
	RowsRead int64 `json:"rows_read"`

	// RowsDropped is the number of rows removed by cleaning and dedup.
	RowsDropped int64 `json:"rows_dropped"`

	// RowsWritten is the number of rows inserted or upserted.
	RowsWritten int64 `json:"rows_written"`

	// RowsSkipped is the number of rows the gateway could not insert.
	RowsSkipped int64 `json:"rows_skipped"`

	// Count is the post-condition row count of Table.
	Count int64 `json:"count"`
}

// Step is one unit of the pipeline.
type Step interface {
	// ID returns the pipeline identifier, e.g. "01" or "09b".
	ID() string

	// Name returns a short name used in logs and the summary.
	Name() string

	// Description returns a human-readable description.
	Description() string

	// Run executes the step. A nil error means the step succeeded, which
	// includes the empty-input case.
	Run(ctx context.Context, env *Env) (Result, error)
}

// Write bulk-writes f into a warehouse table and records the outcome in res.
func Write(ctx context.Context, env *Env, f *frame.Frame, table string, mode db.WriteMode, res *Result) error {
	res.Table = table
	wr, err := env.Gateway.BulkWrite(ctx, f, table, config.DBWarehouse, mode)
	res.RowsWritten += wr.Written
	res.RowsSkipped += wr.Skipped
	return err
}

// Verify sets the post-condition count of the result's table and logs the
// step counters.
func Verify(ctx context.Context, env *Env, res *Result) error {
	n, err := env.Gateway.Count(ctx, res.Table, config.DBWarehouse)
	if err != nil {
		return err
	}
	res.Count = n

	env.Log.Info().
		Str("table", res.Table).
		Int64("read", res.RowsRead).
		Int64("dropped", res.RowsDropped).
		Int64("written", res.RowsWritten).
		Int64("skipped", res.RowsSkipped).
		Int64("count", res.Count).
		Msg("Step complete")
	return nil
}

// DateKey returns the YYYYMMDD integer for a time.
func DateKey(t time.Time) int64 {
	return int64(t.Year()*10000 + int(t.Month())*100 + t.Day())
}

// ParseDateKey converts a YYYYMMDD integer back into a UTC date.
func ParseDateKey(k int64) time.Time {
	return time.Date(int(k/10000), time.Month(k/100%100), int(k%100), 0, 0, 0, 0, time.UTC)
}
