// Package sitescore holds the candidate site scoring steps: 09, a
// city-level baseline, and 09b, a gravity model over store coordinates.
// The pipeline runs one of them, chosen by the site variant.
//
// Both score a candidate as 0.6*match + 0.4*(1 - cannibal), where match
// rewards cities with strong historical revenue and cannibal penalises
// competition from existing stores. Both terms are normalised to [0,1]
// before combining.
package sitescore

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/cyrg/hotdog-etl/internal/config"
	"github.com/cyrg/hotdog-etl/internal/db"
	"github.com/cyrg/hotdog-etl/internal/frame"
	"github.com/cyrg/hotdog-etl/internal/steps"
)

const (
	scoreTable = "fact_site_score"

	// MatchWeight weights the match term; 1-MatchWeight weights the
	// cannibalisation term.
	MatchWeight = 0.6
)

const candidateQuery = `
SELECT Id AS id, ShopName AS name, ShopAddress AS address, Location AS location
FROM Rg_SeekShop
WHERE Delflag = 0`

const storeQuery = `
SELECT s.id AS store_id, s.city, s.address, s.latitude, s.longitude,
       SUM(v.revenue) AS revenue_total, COUNT(v.revenue) AS revenue_days
FROM stores s
LEFT JOIN vw_sales_store_daily v ON v.store_id = s.id
GROUP BY s.id, s.city, s.address, s.latitude, s.longitude`

var scoreColumns = []string{
	"candidate_id", "candidate_name", "city", "match_score", "cannibal_score",
	"total_score", "rationale", "method", "created_at",
}

// Candidate is a prospective site.
type Candidate struct {
	ID       int64
	Name     string
	Address  string
	Location string
	City     string
}

// Store is an existing store with its revenue history.
type Store struct {
	ID       int64
	City     string
	Lat, Lng float64
	HasCoord bool

	// RevenueTotal and RevenueDays summarise the daily sales view.
	RevenueTotal float64
	RevenueDays  int64
}

// AvgRevenue returns the mean daily revenue, or false without history.
func (s Store) AvgRevenue() (float64, bool) {
	if s.RevenueDays == 0 {
		return 0, false
	}
	return s.RevenueTotal / float64(s.RevenueDays), true
}

// Score is one candidate's result.
type Score struct {
	Candidate Candidate
	Match     float64
	Cannibal  float64
	Total     float64
	Rationale string
}

// CityKey returns the first two characters of s. Addresses lead with the
// city name, so this is a coarse city key; unknown placeholders give "".
func CityKey(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || strings.HasPrefix(s, "未知") {
		return ""
	}
	r := []rune(s)
	if len(r) > 2 {
		r = r[:2]
	}
	return string(r)
}

// Normalize divides every value by the maximum. A non-positive maximum
// yields all zeros.
func Normalize(v []float64) []float64 {
	out := make([]float64, len(v))
	var top float64
	for _, x := range v {
		top = max(top, x)
	}
	if top <= 0 {
		return out
	}
	for i, x := range v {
		out[i] = x / top
	}
	return out
}

// Total combines normalised match and cannibal scores, clamped to [0,1].
func Total(match, cannibal float64) float64 {
	t := MatchWeight*match + (1-MatchWeight)*(1-cannibal)
	return min(max(t, 0), 1)
}

// load reads candidates and stores.
func load(ctx context.Context, env *steps.Env) ([]Candidate, []Store, int, error) {
	cf, err := env.Gateway.Fetch(ctx, config.DBCyrgWeixin, candidateQuery)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("failed to read candidates: %w", err)
	}
	sf, err := env.Gateway.Fetch(ctx, config.DBWarehouse, storeQuery)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("failed to read stores: %w", err)
	}

	dropped := 0
	candidates := make([]Candidate, 0, cf.Len())
	for i := 0; i < cf.Len(); i++ {
		id, ok := cf.Int(i, "id")
		if !ok {
			dropped++
			continue
		}
		c := Candidate{ID: id}
		c.Name, _ = cf.String(i, "name")
		c.Address, _ = cf.String(i, "address")
		c.Location, _ = cf.String(i, "location")
		c.City = CityKey(c.Address)
		candidates = append(candidates, c)
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].ID < candidates[j].ID })

	stores := make([]Store, 0, sf.Len())
	for i := 0; i < sf.Len(); i++ {
		id, ok := sf.Int(i, "store_id")
		if !ok {
			continue
		}
		s := Store{ID: id}
		city, _ := sf.String(i, "city")
		if s.City = CityKey(city); s.City == "" {
			addr, _ := sf.String(i, "address")
			s.City = CityKey(addr)
		}
		lat, okLat := sf.Float(i, "latitude")
		lng, okLng := sf.Float(i, "longitude")
		if okLat && okLng && validLat(lat) && validLng(lng) {
			s.Lat, s.Lng, s.HasCoord = lat, lng, true
		}
		s.RevenueTotal, _ = sf.Float(i, "revenue_total")
		s.RevenueDays, _ = sf.Int(i, "revenue_days")
		stores = append(stores, s)
	}
	return candidates, stores, dropped, nil
}

// storeCounts returns the number of stores per city key.
func storeCounts(stores []Store) map[string]int {
	counts := make(map[string]int)
	for _, s := range stores {
		if s.City != "" {
			counts[s.City]++
		}
	}
	return counts
}

// countCannibal scores each candidate by its city's store count over the
// largest count among the candidates.
func countCannibal(candidates []Candidate, counts map[string]int) []float64 {
	raw := make([]float64, len(candidates))
	for i, c := range candidates {
		raw[i] = float64(counts[c.City])
	}
	return Normalize(raw)
}

// write stores the scores with the configured mode.
func write(ctx context.Context, env *steps.Env, scores []Score, method string, res *steps.Result) error {
	mode := db.ModeReplace
	if env.Analytics.SiteScoreMode == string(db.ModeAppend) {
		mode = db.ModeAppend
	}

	now := env.Clock().UTC()
	out := frame.New(scoreColumns...)
	for _, s := range scores {
		var city any
		if s.Candidate.City != "" {
			city = s.Candidate.City
		}
		_ = out.Append(s.Candidate.ID, s.Candidate.Name, city, round6(s.Match),
			round6(s.Cannibal), round6(s.Total), s.Rationale, method, now)
	}
	return steps.Write(ctx, env, out, scoreTable, mode, res)
}

func round6(v float64) float64 {
	return float64(int64(v*1e6+0.5)) / 1e6
}

// finish writes scores and verifies, logging the best candidate.
func finish(ctx context.Context, env *steps.Env, scores []Score, method string, res *steps.Result) error {
	if len(scores) == 0 {
		env.Log.Info().Msg("No candidate sites to score")
		return steps.Verify(ctx, env, res)
	}
	best := scores[0]
	for _, s := range scores[1:] {
		if s.Total > best.Total {
			best = s
		}
	}
	env.Log.Debug().
		Int64("candidate_id", best.Candidate.ID).
		Float64("total_score", best.Total).
		Msg("Best candidate")

	if err := write(ctx, env, scores, method, res); err != nil {
		return fmt.Errorf("failed to write site scores: %w", err)
	}
	return steps.Verify(ctx, env, res)
}
