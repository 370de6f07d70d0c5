// Package alerts holds step 11, which raises store alerts from the
// revenue reconciliation view.
package alerts

import (
	"context"
	"fmt"
	"sort"

	"github.com/cyrg/hotdog-etl/internal/config"
	"github.com/cyrg/hotdog-etl/internal/db"
	"github.com/cyrg/hotdog-etl/internal/frame"
	"github.com/cyrg/hotdog-etl/internal/steps"
)

// Alert types.
const (
	TypeWowDrop   = "WOW_DROP"
	TypeGrossLow  = "GROSS_LOW"
	TypeNetinDrop = "NETIN_DROP"
)

// Severity is the level stamped on every alert.
const Severity = 2

const alertTable = "fact_alerts"

const reconciliationQuery = `
SELECT store_id, date_key, revenue_gl, gross_profit, net_receipt_total
FROM vw_revenue_reconciliation`

var alertColumns = []string{
	"date_key", "store_id", "alert_type", "metric", "delta_pct", "message", "severity", "created_at",
}

// Thresholds configures the rules.
type Thresholds struct {
	RevenueFloor float64
	Wow          float64
	GrossMargin  float64
	Netin        float64
}

// ThresholdsFrom returns the thresholds in an analytics config.
func ThresholdsFrom(a config.AnalyticsConfig) Thresholds {
	return Thresholds{
		RevenueFloor: a.RevenueFloor,
		Wow:          a.WowThreshold,
		GrossMargin:  a.GMThreshold,
		Netin:        a.NetinThreshold,
	}
}

// Day is one reconciliation row.
type Day struct {
	StoreID     int64
	DateKey     int64
	Revenue     float64
	GrossProfit float64
	NetReceipt  float64
}

// Alert is a raised alert. DeltaPct is nil for level rules.
type Alert struct {
	DateKey  int64
	StoreID  int64
	Type     string
	Metric   string
	DeltaPct *float64
	Message  string
}

// Alerts is step 11.
type Alerts struct{}

func init() {
	steps.Register(&Alerts{})
}

func (s *Alerts) ID() string   { return "11" }
func (s *Alerts) Name() string { return "alerts" }

func (s *Alerts) Description() string {
	return "Raise week-over-week and margin alerts from vw_revenue_reconciliation into fact_alerts"
}

func (s *Alerts) Run(ctx context.Context, env *steps.Env) (steps.Result, error) {
	res := steps.Result{Table: alertTable}
	now := env.Clock().UTC()

	query := reconciliationQuery
	var args []any
	var since int64
	if days := env.Analytics.AlertLookbackDays; days > 0 {
		dialect, err := env.Gateway.Dialect(ctx, config.DBWarehouse)
		if err != nil {
			return res, err
		}
		cutoff := now.AddDate(0, 0, -days)
		since = steps.DateKey(cutoff)
		// The week before the cutoff is needed for comparisons
		query += "\nWHERE date_key >= " + dialect.Placeholder(1)
		args = append(args, steps.DateKey(cutoff.AddDate(0, 0, -7)))
	}

	f, err := env.Gateway.Fetch(ctx, config.DBWarehouse, query, args...)
	if err != nil {
		return res, fmt.Errorf("failed to read reconciliation view: %w", err)
	}
	res.RowsRead = int64(f.Len())

	days, dropped := Days(f)
	res.RowsDropped = int64(dropped)

	alerts := Evaluate(days, ThresholdsFrom(env.Analytics), since)
	if len(alerts) == 0 {
		env.Log.Info().Int("days", len(days)).Msg("No alerts raised")
		return res, steps.Verify(ctx, env, &res)
	}

	byType := make(map[string]int)
	out := frame.New(alertColumns...)
	for _, a := range alerts {
		byType[a.Type]++
		var delta any
		if a.DeltaPct != nil {
			delta = *a.DeltaPct
		}
		_ = out.Append(a.DateKey, a.StoreID, a.Type, a.Metric, delta, a.Message, int64(Severity), now)
	}
	env.Log.Info().
		Int(TypeWowDrop, byType[TypeWowDrop]).
		Int(TypeGrossLow, byType[TypeGrossLow]).
		Int(TypeNetinDrop, byType[TypeNetinDrop]).
		Msg("Alerts raised")

	if err := steps.Write(ctx, env, out, alertTable, db.ModeAppend, &res); err != nil {
		return res, fmt.Errorf("failed to write alerts: %w", err)
	}
	return res, steps.Verify(ctx, env, &res)
}

// Days reads reconciliation rows. Rows without a store, date or revenue are
// dropped; missing profit figures count as zero.
func Days(f *frame.Frame) ([]Day, int) {
	out := make([]Day, 0, f.Len())
	dropped := 0
	for i := 0; i < f.Len(); i++ {
		id, okID := f.Int(i, "store_id")
		key, okKey := f.Int(i, "date_key")
		rev, okRev := f.Float(i, "revenue_gl")
		if !okID || !okKey || !okRev {
			dropped++
			continue
		}
		d := Day{StoreID: id, DateKey: key, Revenue: rev}
		d.GrossProfit, _ = f.Float(i, "gross_profit")
		d.NetReceipt, _ = f.Float(i, "net_receipt_total")
		out = append(out, d)
	}
	return out, dropped
}

// Evaluate applies the rules to every day with revenue at or above the
// floor and a date key at or after since. Week-over-week rules compare
// against the same store seven days earlier and are skipped when that day
// is missing or its value is not positive. Alerts are ordered by store,
// date and rule.
func Evaluate(days []Day, thr Thresholds, since int64) []Alert {
	index := make(map[[2]int64]Day, len(days))
	for _, d := range days {
		index[[2]int64{d.StoreID, d.DateKey}] = d
	}

	sorted := append([]Day(nil), days...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].StoreID != sorted[j].StoreID {
			return sorted[i].StoreID < sorted[j].StoreID
		}
		return sorted[i].DateKey < sorted[j].DateKey
	})

	var alerts []Alert
	for _, d := range sorted {
		if d.DateKey < since || d.Revenue < thr.RevenueFloor {
			continue
		}
		prevKey := steps.DateKey(steps.ParseDateKey(d.DateKey).AddDate(0, 0, -7))
		prev, hasPrev := index[[2]int64{d.StoreID, prevKey}]

		if hasPrev {
			if delta, ok := change(d.Revenue, prev.Revenue); ok && delta <= thr.Wow {
				alerts = append(alerts, Alert{
					DateKey: d.DateKey, StoreID: d.StoreID, Type: TypeWowDrop, Metric: "revenue_gl",
					DeltaPct: &delta,
					Message:  fmt.Sprintf("营收环比下降%.1f%%（%.2f → %.2f）", -delta*100, prev.Revenue, d.Revenue),
				})
			}
		}

		if d.Revenue > 0 {
			if gm := d.GrossProfit / d.Revenue; gm <= thr.GrossMargin {
				alerts = append(alerts, Alert{
					DateKey: d.DateKey, StoreID: d.StoreID, Type: TypeGrossLow, Metric: "gross_margin",
					Message: fmt.Sprintf("毛利率%.1f%%低于阈值%.1f%%", gm*100, thr.GrossMargin*100),
				})
			}
		}

		if hasPrev {
			if delta, ok := change(d.NetReceipt, prev.NetReceipt); ok && delta <= thr.Netin {
				alerts = append(alerts, Alert{
					DateKey: d.DateKey, StoreID: d.StoreID, Type: TypeNetinDrop, Metric: "net_receipt_total",
					DeltaPct: &delta,
					Message:  fmt.Sprintf("净收款环比下降%.1f%%（%.2f → %.2f）", -delta*100, prev.NetReceipt, d.NetReceipt),
				})
			}
		}
	}
	return alerts
}

// change returns (cur-prev)/prev when prev is positive.
func change(cur, prev float64) (float64, bool) {
	if prev <= 0 {
		return 0, false
	}
	return (cur - prev) / prev, true
}
