package segment

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyrg/hotdog-etl/internal/config"
	"github.com/cyrg/hotdog-etl/internal/frame"
	"github.com/cyrg/hotdog-etl/internal/steps/steptest"
)

var now = time.Date(2026, 3, 15, 8, 0, 0, 0, time.UTC)

func TestBin(t *testing.T) {
	tests := []struct {
		rank, n, want int
	}{
		{1, 1, 5},
		{1, 5, 1},
		{5, 5, 5},
		{1, 10, 1},
		{2, 10, 1},
		{3, 10, 2},
		{10, 10, 5},
		{1, 3, 2},
		{2, 3, 4},
		{3, 3, 5},
	}

	for _, tt := range tests {
		if got := Bin(tt.rank, tt.n); got != tt.want {
			t.Errorf("Bin(%d, %d): expected %d, got %d", tt.rank, tt.n, tt.want, got)
		}
	}
}

func TestSegmentRules(t *testing.T) {
	tests := []struct {
		r, f, m int
		want    string
	}{
		{5, 5, 5, SegmentVIP},
		{4, 4, 4, SegmentVIP},
		{4, 4, 3, SegmentImportant},
		{3, 3, 3, SegmentImportant},
		{2, 2, 1, SegmentPotential},
		{5, 1, 5, SegmentNew},
		{1, 3, 1, SegmentLoyal},
		{1, 1, 5, SegmentLost},
	}

	for _, tt := range tests {
		p := Profile{R: tt.r, F: tt.f, M: tt.m}
		if got := p.Segment(); got != tt.want {
			t.Errorf("Segment(%d,%d,%d): expected %s, got %s", tt.r, tt.f, tt.m, tt.want, got)
		}
		if p.Value() != tt.r+tt.f+tt.m {
			t.Errorf("Value mismatch for %+v", p)
		}
	}
}

func TestScoreOrdering(t *testing.T) {
	profiles := []Profile{
		{CustomerID: "a", Recency: 300, Frequency: 1, Monetary: 10},
		{CustomerID: "b", Recency: 100, Frequency: 3, Monetary: 50},
		{CustomerID: "c", Recency: 50, Frequency: 5, Monetary: 100},
		{CustomerID: "d", Recency: 10, Frequency: 8, Monetary: 500},
		{CustomerID: "e", Recency: 1, Frequency: 20, Monetary: 900},
	}
	Score(profiles)

	for i, p := range profiles {
		want := i + 1
		assert.Equal(t, want, p.R, "R of %s", p.CustomerID)
		assert.Equal(t, want, p.F, "F of %s", p.CustomerID)
		assert.Equal(t, want, p.M, "M of %s", p.CustomerID)
	}
}

func TestAggregate(t *testing.T) {
	orders := frame.New("customer_id", "total_amount", "created_at")
	require.NoError(t, orders.Append("c1", 100.0, now.AddDate(0, 0, -10)))
	require.NoError(t, orders.Append("c1", 50.0, now.AddDate(0, 0, -3)))
	require.NoError(t, orders.Append("c2", 20.0, now.AddDate(0, 0, -40)))
	require.NoError(t, orders.Append(nil, 20.0, now))
	require.NoError(t, orders.Append("c3", 20.0, now.AddDate(-2, 0, 0)))

	profiles, dropped := Aggregate(orders, now, now.AddDate(-1, 0, 0))
	assert.Equal(t, 2, dropped)
	require.Len(t, profiles, 2)

	assert.Equal(t, "c1", profiles[0].CustomerID)
	assert.Equal(t, int64(3), profiles[0].Recency)
	assert.Equal(t, int64(2), profiles[0].Frequency)
	assert.Equal(t, 150.0, profiles[0].Monetary)
	assert.Equal(t, int64(40), profiles[1].Recency)
}

func TestRFMRun(t *testing.T) {
	orders := frame.New("customer_id", "total_amount", "created_at")
	for i := 0; i < 40; i++ {
		cust := string(rune('a' + i%8))
		require.NoError(t, orders.Append(cust, float64(10*(i%8+1)), now.AddDate(0, 0, -(i%8)*20-1)))
	}

	gw := steptest.NewGateway()
	gw.OnQuery(config.DBWarehouse, "FROM orders", orders)

	res, err := (&RFM{}).Run(context.Background(), gw.Env(now))
	require.NoError(t, err)
	assert.Equal(t, int64(40), res.RowsRead)
	assert.Equal(t, int64(8), res.RowsWritten)

	out := gw.Table(config.DBWarehouse, "customer_segmentation")
	require.Equal(t, 8, out.Len())
	for i := 0; i < out.Len(); i++ {
		r, _ := out.Int(i, "r_score")
		f, _ := out.Int(i, "f_score")
		m, _ := out.Int(i, "m_score")
		v, _ := out.Int(i, "customer_value")
		for _, s := range []int64{r, f, m} {
			assert.True(t, s >= 1 && s <= 5, "score %d out of range", s)
		}
		assert.Equal(t, r+f+m, v)
		assert.Equal(t, now, out.Get(i, "analysis_date"))
	}

	// Append mode keeps earlier analyses
	_, err = (&RFM{}).Run(context.Background(), gw.Env(now))
	require.NoError(t, err)
	assert.Equal(t, 16, gw.Table(config.DBWarehouse, "customer_segmentation").Len())
}

func TestRFMSingleCustomer(t *testing.T) {
	orders := frame.New("customer_id", "total_amount", "created_at")
	require.NoError(t, orders.Append("P1", 500.0, now.AddDate(0, 0, -1)))

	gw := steptest.NewGateway()
	gw.OnQuery(config.DBWarehouse, "FROM orders", orders)

	_, err := (&RFM{}).Run(context.Background(), gw.Env(now))
	require.NoError(t, err)

	out := gw.Table(config.DBWarehouse, "customer_segmentation")
	require.Equal(t, 1, out.Len())
	assert.Contains(t, []any{SegmentVIP, SegmentImportant}, out.Get(0, "customer_segment"))
}

func TestRFMEmptyOrders(t *testing.T) {
	gw := steptest.NewGateway()
	gw.OnQuery(config.DBWarehouse, "FROM orders", frame.New("customer_id", "total_amount", "created_at"))

	res, err := (&RFM{}).Run(context.Background(), gw.Env(now))
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.RowsWritten)
	assert.Equal(t, int64(0), res.Count)
}
