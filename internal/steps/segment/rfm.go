// Package segment holds step 07, customer RFM segmentation over the
// warehouse orders.
package segment

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/cyrg/hotdog-etl/internal/config"
	"github.com/cyrg/hotdog-etl/internal/db"
	"github.com/cyrg/hotdog-etl/internal/frame"
	"github.com/cyrg/hotdog-etl/internal/steps"
)

// Segment labels in rule order.
const (
	SegmentVIP       = "VIP"
	SegmentImportant = "重要"
	SegmentPotential = "潜力"
	SegmentNew       = "新客"
	SegmentLoyal     = "忠诚"
	SegmentLost      = "流失"
)

// Bins is the number of quantile bins per dimension.
const Bins = 5

var segmentColumns = []string{
	"customer_id", "recency", "frequency", "monetary", "r_score", "f_score",
	"m_score", "customer_segment", "customer_value", "analysis_date",
}

// Profile is one customer's RFM measures and scores.
type Profile struct {
	CustomerID string
	Recency    int64
	Frequency  int64
	Monetary   float64
	R, F, M    int
}

// Value returns R+F+M.
func (p Profile) Value() int {
	return p.R + p.F + p.M
}

// Segment applies the segment rules; the first match wins.
func (p Profile) Segment() string {
	switch {
	case p.R >= 4 && p.F >= 4 && p.M >= 4:
		return SegmentVIP
	case p.R >= 3 && p.F >= 3 && p.M >= 3:
		return SegmentImportant
	case p.R >= 2 && p.F >= 2:
		return SegmentPotential
	case p.R >= 3:
		return SegmentNew
	case p.F >= 3:
		return SegmentLoyal
	}
	return SegmentLost
}

// RFM is step 07.
type RFM struct{}

func init() {
	steps.Register(&RFM{})
}

func (s *RFM) ID() string   { return "07" }
func (s *RFM) Name() string { return "rfm_segmentation" }

func (s *RFM) Description() string {
	return "Score customers by recency, frequency and monetary value into customer_segmentation"
}

func (s *RFM) Run(ctx context.Context, env *steps.Env) (steps.Result, error) {
	res := steps.Result{Table: "customer_segmentation"}
	now := env.Clock().UTC()
	since := now.AddDate(0, -env.Analytics.RFMWindowMonths, 0)

	dialect, err := env.Gateway.Dialect(ctx, config.DBWarehouse)
	if err != nil {
		return res, err
	}
	query := "SELECT customer_id, total_amount, created_at FROM orders " +
		"WHERE customer_id IS NOT NULL AND created_at >= " + dialect.Placeholder(1)

	orders, err := env.Gateway.Fetch(ctx, config.DBWarehouse, query, since)
	if err != nil {
		return res, fmt.Errorf("failed to read orders: %w", err)
	}
	res.RowsRead = int64(orders.Len())

	profiles, dropped := Aggregate(orders, now, since)
	res.RowsDropped = int64(dropped)
	if len(profiles) == 0 {
		env.Log.Info().Msg("No orders in the RFM window")
		return res, steps.Verify(ctx, env, &res)
	}
	Score(profiles)

	out := frame.New(segmentColumns...)
	counts := make(map[string]int)
	for _, p := range profiles {
		seg := p.Segment()
		counts[seg]++
		_ = out.Append(p.CustomerID, p.Recency, p.Frequency, math.Round(p.Monetary*100)/100,
			int64(p.R), int64(p.F), int64(p.M), seg, int64(p.Value()), now)
	}

	log := env.Log.Debug()
	for seg, n := range counts {
		log = log.Int(seg, n)
	}
	log.Msg("Segment sizes")

	if err := steps.Write(ctx, env, out, res.Table, db.ModeAppend, &res); err != nil {
		return res, fmt.Errorf("failed to write segmentation: %w", err)
	}
	return res, steps.Verify(ctx, env, &res)
}

// Aggregate builds one profile per customer from order rows, ordered by
// customer id. Rows without a customer, amount or time, or outside
// [since, now], are counted as dropped.
func Aggregate(orders *frame.Frame, now, since time.Time) ([]Profile, int) {
	byCustomer := make(map[string]*Profile)
	last := make(map[string]time.Time)
	dropped := 0

	for i := 0; i < orders.Len(); i++ {
		id, okID := orders.String(i, "customer_id")
		amount, okAmount := orders.Float(i, "total_amount")
		at, okAt := orders.Time(i, "created_at")
		if !okID || !okAmount || !okAt || at.Before(since) || at.After(now) {
			dropped++
			continue
		}
		p, ok := byCustomer[id]
		if !ok {
			p = &Profile{CustomerID: id}
			byCustomer[id] = p
		}
		p.Frequency++
		p.Monetary += amount
		if at.After(last[id]) {
			last[id] = at
		}
	}

	profiles := make([]Profile, 0, len(byCustomer))
	for id, p := range byCustomer {
		p.Recency = int64(now.Sub(last[id]) / (24 * time.Hour))
		profiles = append(profiles, *p)
	}
	sort.Slice(profiles, func(i, j int) bool { return profiles[i].CustomerID < profiles[j].CustomerID })
	return profiles, dropped
}

// Score assigns R, F and M by rank-based quantile binning: after a stable
// sort, the k-th of n values (1-based) scores ceil(k*5/n). Recency sorts
// descending so the most recent customers score highest.
func Score(profiles []Profile) {
	n := len(profiles)
	assign := func(less func(a, b Profile) bool, set func(p *Profile, s int)) {
		idx := make([]int, n)
		for i := range idx {
			idx[i] = i
		}
		sort.SliceStable(idx, func(a, b int) bool { return less(profiles[idx[a]], profiles[idx[b]]) })
		for rank, i := range idx {
			set(&profiles[i], Bin(rank+1, n))
		}
	}

	assign(func(a, b Profile) bool { return a.Recency > b.Recency }, func(p *Profile, s int) { p.R = s })
	assign(func(a, b Profile) bool { return a.Frequency < b.Frequency }, func(p *Profile, s int) { p.F = s })
	assign(func(a, b Profile) bool { return a.Monetary < b.Monetary }, func(p *Profile, s int) { p.M = s })
}

// Bin maps a 1-based rank among n values to a score in 1..Bins.
func Bin(rank, n int) int {
	s := (rank*Bins + n - 1) / n
	return min(max(s, 1), Bins)
}
