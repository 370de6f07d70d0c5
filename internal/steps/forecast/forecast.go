// Package forecast holds step 08, the per-store daily revenue forecast.
//
// Each store with enough history gets its own boosted-tree model trained on
// rolling revenue means and the weekday. The forecast walks forward one day
// at a time, feeding each prediction back into the rolling means.
package forecast

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/cyrg/hotdog-etl/internal/boost"
	"github.com/cyrg/hotdog-etl/internal/config"
	"github.com/cyrg/hotdog-etl/internal/frame"
	"github.com/cyrg/hotdog-etl/internal/steps"
)

const (
	forecastTable = "fact_forecast_daily"

	salesQuery = "SELECT store_id, date_key, revenue FROM vw_sales_store_daily WHERE store_id IS NOT NULL"
)

// Windows are the rolling mean lengths used as features, in feature order.
var Windows = []int{7, 14, 28}

var (
	forecastKeys    = []string{"date_key", "store_id"}
	forecastColumns = []string{"date_key", "store_id", "yhat", "model_name", "created_at"}
)

// Point is one day of store revenue.
type Point struct {
	Date    time.Time
	Revenue float64
}

// Prediction is one forecast day.
type Prediction struct {
	Date time.Time
	Yhat float64
}

// Forecast is step 08.
type Forecast struct{}

func init() {
	steps.Register(&Forecast{})
}

func (s *Forecast) ID() string   { return "08" }
func (s *Forecast) Name() string { return "sales_forecast" }

func (s *Forecast) Description() string {
	return "Forecast daily store revenue with gradient-boosted trees into fact_forecast_daily"
}

func (s *Forecast) Run(ctx context.Context, env *steps.Env) (steps.Result, error) {
	res := steps.Result{Table: forecastTable}
	cfg := env.Analytics

	sales, err := env.Gateway.Fetch(ctx, config.DBWarehouse, salesQuery)
	if err != nil {
		return res, fmt.Errorf("failed to read daily sales: %w", err)
	}
	res.RowsRead = int64(sales.Len())

	series, dropped := Series(sales)
	res.RowsDropped = int64(dropped)

	dialect, err := env.Gateway.Dialect(ctx, config.DBWarehouse)
	if err != nil {
		return res, err
	}
	upsert := dialect.UpsertValues(forecastTable, forecastKeys, forecastColumns)
	createdAt := env.Clock().UTC()

	ids := make([]int64, 0, len(series))
	for id := range series {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var skipped int
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		points := series[id]
		log := env.Log.With().Int64("store_id", id).Int("days", len(points)).Logger()
		if len(points) < cfg.MinHistoryDays {
			log.Debug().Msg("Skipping store with short history")
			skipped++
			continue
		}

		model, err := Train(points, cfg.ForecastModel)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to train forecast model")
			skipped++
			continue
		}
		preds := Predict(model, points, cfg.Horizon)

		for _, p := range preds {
			if _, err := env.Gateway.Exec(ctx, config.DBWarehouse, upsert,
				steps.DateKey(p.Date), id, p.Yhat, model.Name(), createdAt); err != nil {
				return res, fmt.Errorf("failed to upsert forecast for store %d: %w", id, err)
			}
			res.RowsWritten++
		}
		log.Debug().Str("model", model.Name()).Int("horizon", len(preds)).Msg("Store forecast written")
	}

	if len(ids) == 0 {
		env.Log.Info().Msg("No daily sales to forecast")
	} else {
		env.Log.Info().Int("stores", len(ids)).Int("skipped", skipped).Msg("Forecast complete")
	}
	return res, steps.Verify(ctx, env, &res)
}

// Series groups daily sales by store, ordered by date. Rows without a
// store, date or revenue are dropped, and a repeated day keeps its first
// revenue.
func Series(sales *frame.Frame) (map[int64][]Point, int) {
	out := make(map[int64][]Point)
	seen := make(map[[2]int64]bool)
	dropped := 0

	for i := 0; i < sales.Len(); i++ {
		id, okID := sales.Int(i, "store_id")
		key, okKey := sales.Int(i, "date_key")
		rev, okRev := sales.Float(i, "revenue")
		if !okID || !okKey || !okRev || key < 10000101 {
			dropped++
			continue
		}
		if seen[[2]int64{id, key}] {
			dropped++
			continue
		}
		seen[[2]int64{id, key}] = true
		out[id] = append(out[id], Point{Date: steps.ParseDateKey(key), Revenue: rev})
	}

	for _, pts := range out {
		sort.Slice(pts, func(i, j int) bool { return pts[i].Date.Before(pts[j].Date) })
	}
	return out, dropped
}

// Weekday returns the day of week with Monday as 0.
func Weekday(t time.Time) float64 {
	return float64((int(t.Weekday()) + 6) % 7)
}

// Features returns one row per point: the trailing means over Windows,
// including the current day and shortened at the start of the series,
// followed by the weekday.
func Features(points []Point) [][]float64 {
	X := make([][]float64, len(points))
	prefix := make([]float64, len(points)+1)
	for i, p := range points {
		prefix[i+1] = prefix[i] + p.Revenue
	}
	for i, p := range points {
		row := make([]float64, 0, len(Windows)+1)
		for _, w := range Windows {
			lo := max(0, i-w+1)
			row = append(row, (prefix[i+1]-prefix[lo])/float64(i+1-lo))
		}
		X[i] = append(row, Weekday(p.Date))
	}
	return X
}

// Train fits a regressor for one store. auto tries the boosted trees first
// and falls back to histogram boosting when that fit fails.
func Train(points []Point, choice string) (boost.Regressor, error) {
	X := Features(points)
	y := make([]float64, len(points))
	for i, p := range points {
		y[i] = p.Revenue
	}

	var candidates []boost.Regressor
	switch choice {
	case "gbrt":
		candidates = []boost.Regressor{boost.NewGBRT()}
	case "hist":
		candidates = []boost.Regressor{boost.NewHist()}
	default:
		candidates = []boost.Regressor{boost.NewGBRT(), boost.NewHist()}
	}

	var err error
	for _, m := range candidates {
		if err = m.Fit(X, y); err == nil {
			return m, nil
		}
	}
	return nil, err
}

// Predict walks horizon days past the last point. Each day uses the
// current means and its own weekday; afterwards every mean moves toward
// the prediction as MA_w = (MA_w*(w-1) + yhat) / w. Predictions are
// clamped at zero.
func Predict(model boost.Regressor, points []Point, horizon int) []Prediction {
	if len(points) == 0 || horizon < 1 {
		return nil
	}
	X := Features(points)
	ma := append([]float64(nil), X[len(X)-1][:len(Windows)]...)
	last := points[len(points)-1].Date

	preds := make([]Prediction, 0, horizon)
	for i := 1; i <= horizon; i++ {
		day := last.AddDate(0, 0, i)
		x := append(append([]float64(nil), ma...), Weekday(day))
		yhat := math.Max(0, model.Predict(x))
		preds = append(preds, Prediction{Date: day, Yhat: yhat})

		for j, w := range Windows {
			ma[j] = (ma[j]*float64(w-1) + yhat) / float64(w)
		}
	}
	return preds
}
