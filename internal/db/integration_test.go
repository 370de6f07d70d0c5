//go:build integration
// +build integration

// Integration tests for the gateway against PostgreSQL.
// Run with: go test -tags=integration ./internal/db/...
// Set HOTDOG_TEST_CONN to override the connection string.

package db_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyrg/hotdog-etl/internal/config"
	"github.com/cyrg/hotdog-etl/internal/db"
	"github.com/cyrg/hotdog-etl/internal/frame"
	"github.com/cyrg/hotdog-etl/internal/schema"
	"github.com/cyrg/hotdog-etl/internal/testutil"
)

func TestBootstrapIsIdempotent(t *testing.T) {
	gw := testutil.NewWarehouse(t)

	report, err := schema.Bootstrap(context.Background(), gw)
	require.NoError(t, err)
	assert.Equal(t, "postgres", report.Dialect)
	assert.Empty(t, report.Failed)
	assert.Equal(t, report.Batches, report.Executed)
}

func TestBulkWriteModes(t *testing.T) {
	gw := testutil.NewWarehouse(t)
	ctx := context.Background()
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	orders := func(nos ...string) *frame.Frame {
		f := frame.New("order_no", "store_id", "customer_id", "total_amount", "created_at", "source_system")
		for _, no := range nos {
			require.NoError(t, f.Append(no, int64(1), "P1", 99.5, created, config.DBCyrg2025))
		}
		return f
	}

	res, err := gw.BulkWrite(ctx, orders("O1", "O2", "O3"), "orders", config.DBWarehouse, db.ModeReplace)
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Written)

	res, err = gw.BulkWrite(ctx, orders("O4"), "orders", config.DBWarehouse, db.ModeAppend)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Written)

	n, err := gw.Count(ctx, "orders", config.DBWarehouse)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	_, err = gw.BulkWrite(ctx, orders("O9"), "orders", config.DBWarehouse, db.ModeReplace)
	require.NoError(t, err)
	n, err = gw.Count(ctx, "orders", config.DBWarehouse)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	bad := frame.New("order_no", "no_such_column")
	require.NoError(t, bad.Append("O1", 1))
	_, err = gw.BulkWrite(ctx, bad, "orders", config.DBWarehouse, db.ModeAppend)
	assert.ErrorIs(t, err, db.ErrWrite)
}

func TestUpsertValues(t *testing.T) {
	gw := testutil.NewWarehouse(t)
	ctx := context.Background()

	d, err := gw.Dialect(ctx, config.DBWarehouse)
	require.NoError(t, err)
	stmt := d.UpsertValues("fact_forecast_daily",
		[]string{"date_key", "store_id"},
		[]string{"date_key", "store_id", "yhat", "model_name", "created_at"})

	for _, yhat := range []float64{100, 120} {
		_, err := gw.Exec(ctx, config.DBWarehouse, stmt, int64(20260316), int64(7), yhat, "gbrt", time.Now().UTC())
		require.NoError(t, err)
	}

	f, err := gw.Fetch(ctx, config.DBWarehouse, "SELECT yhat FROM fact_forecast_daily WHERE store_id = $1", int64(7))
	require.NoError(t, err)
	require.Equal(t, 1, f.Len())
	v, ok := f.Float(0, "yhat")
	require.True(t, ok)
	assert.InDelta(t, 120.0, v, 1e-9)
}

func TestMetadataRoundTrip(t *testing.T) {
	gw := testutil.NewWarehouse(t)
	ctx := context.Background()

	require.NoError(t, gw.SaveMetadata(ctx, map[string]string{"last_run_status": "partial"}))
	require.NoError(t, gw.SaveMetadata(ctx, map[string]string{"last_run_status": "ok"}))

	got, err := gw.GetMetadata(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ok", got["last_run_status"])
}
