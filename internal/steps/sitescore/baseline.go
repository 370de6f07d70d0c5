package sitescore

import (
	"context"
	"sort"

	"github.com/cyrg/hotdog-etl/internal/steps"
)

// BaselineRationale explains the baseline score.
const BaselineRationale = "城市历史日均营收越高匹配度越高；同城门店越多蚕食越高。总分=0.6*匹配+0.4*(1-蚕食)"

// Baseline is step 09.
type Baseline struct{}

func init() {
	steps.Register(&Baseline{})
}

func (s *Baseline) ID() string   { return "09" }
func (s *Baseline) Name() string { return "site_score_baseline" }

func (s *Baseline) Description() string {
	return "Score candidate sites by city revenue and store density into fact_site_score"
}

func (s *Baseline) Run(ctx context.Context, env *steps.Env) (steps.Result, error) {
	res := steps.Result{Table: scoreTable}

	candidates, stores, dropped, err := load(ctx, env)
	if err != nil {
		return res, err
	}
	res.RowsRead = int64(len(candidates) + dropped)
	res.RowsDropped = int64(dropped)

	scores := ScoreBaseline(candidates, stores)
	return res, finish(ctx, env, scores, "baseline", &res)
}

// CityAverages returns the mean daily revenue per city over every daily
// sales row of the city's stores. Cities without sales are absent.
func CityAverages(stores []Store) map[string]float64 {
	totals := make(map[string]float64)
	days := make(map[string]int64)
	for _, s := range stores {
		if s.City == "" || s.RevenueDays == 0 {
			continue
		}
		totals[s.City] += s.RevenueTotal
		days[s.City] += s.RevenueDays
	}
	out := make(map[string]float64, len(totals))
	for city, t := range totals {
		out[city] = t / float64(days[city])
	}
	return out
}

// Median returns the median of the map values, or 0 when empty.
func Median(m map[string]float64) float64 {
	if len(m) == 0 {
		return 0
	}
	v := make([]float64, 0, len(m))
	for _, x := range m {
		v = append(v, x)
	}
	sort.Float64s(v)
	n := len(v)
	if n%2 == 1 {
		return v[n/2]
	}
	return (v[n/2-1] + v[n/2]) / 2
}

// ScoreBaseline scores candidates at city level. A candidate's raw match
// is its city's average revenue, or the median over cities when its city
// has no sales; cannibalisation is its city's store count.
func ScoreBaseline(candidates []Candidate, stores []Store) []Score {
	if len(candidates) == 0 {
		return nil
	}
	avg := CityAverages(stores)
	fallback := Median(avg)

	raw := make([]float64, len(candidates))
	for i, c := range candidates {
		if v, ok := avg[c.City]; ok {
			raw[i] = v
		} else {
			raw[i] = fallback
		}
	}
	match := Normalize(raw)
	cannibal := countCannibal(candidates, storeCounts(stores))

	scores := make([]Score, len(candidates))
	for i, c := range candidates {
		scores[i] = Score{
			Candidate: c,
			Match:     match[i],
			Cannibal:  cannibal[i],
			Total:     Total(match[i], cannibal[i]),
			Rationale: BaselineRationale,
		}
	}
	return scores
}
