package sitescore

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strconv"

	"github.com/cyrg/hotdog-etl/internal/steps"
)

// EarthRadiusKm is the mean Earth radius used for distances.
const EarthRadiusKm = 6371.0

// MinDistanceKm floors distances in the gravity term.
const MinDistanceKm = 0.1

// Coordinate boxes for mainland China.
const (
	minLat, maxLat = 18.0, 54.0
	minLng, maxLng = 72.0, 135.0
)

// Match scopes for the gravity variant.
const (
	MatchGlobal = "global"
	MatchCity   = "city"
)

var number = regexp.MustCompile(`-?\d+(?:\.\d+)?`)

func validLat(v float64) bool { return v >= minLat && v <= maxLat }
func validLng(v float64) bool { return v >= minLng && v <= maxLng }

// ParseLocation reads a latitude and longitude from a free-form string.
// The first two numbers are taken; the one with the larger magnitude is
// the longitude. Values outside the coordinate boxes are rejected.
func ParseLocation(s string) (lat, lng float64, ok bool) {
	m := number.FindAllString(s, 2)
	if len(m) < 2 {
		return 0, 0, false
	}
	a, errA := strconv.ParseFloat(m[0], 64)
	b, errB := strconv.ParseFloat(m[1], 64)
	if errA != nil || errB != nil {
		return 0, 0, false
	}
	lat, lng = a, b
	if math.Abs(a) > math.Abs(b) {
		lat, lng = b, a
	}
	if !validLat(lat) || !validLng(lng) {
		return 0, 0, false
	}
	return lat, lng, true
}

// Haversine returns the great-circle distance in kilometres.
func Haversine(lat1, lng1, lat2, lng2 float64) float64 {
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLng := (lng2 - lng1) * rad
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * EarthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

// Gravity is step 09b.
type Gravity struct{}

func init() {
	steps.Register(&Gravity{})
}

func (s *Gravity) ID() string   { return "09b" }
func (s *Gravity) Name() string { return "site_score_gravity" }

func (s *Gravity) Description() string {
	return "Score candidate sites with a distance-weighted gravity model into fact_site_score"
}

func (s *Gravity) Run(ctx context.Context, env *steps.Env) (steps.Result, error) {
	res := steps.Result{Table: scoreTable}

	candidates, stores, dropped, err := load(ctx, env)
	if err != nil {
		return res, err
	}
	res.RowsRead = int64(len(candidates) + dropped)
	res.RowsDropped = int64(dropped)

	scores, located := ScoreGravity(candidates, stores, env.Analytics.SiteMatchScope)
	env.Log.Debug().
		Int("candidates", len(candidates)).
		Int("located", located).
		Str("match_scope", env.Analytics.SiteMatchScope).
		Msg("Parsed candidate coordinates")

	return res, finish(ctx, env, scores, "gravity", &res)
}

// ScoreGravity scores candidates with the gravity model. Raw match is the
// mean store average revenue over all stores; with the city scope it is
// the mean over stores in the candidate's city, falling back to all
// stores when the city has none. Raw cannibalisation sums each store's
// average revenue over the squared distance to the candidate. Candidates
// without usable coordinates fall back to their city's store count. It
// also returns the number of candidates whose coordinates parsed.
func ScoreGravity(candidates []Candidate, stores []Store, scope string) ([]Score, int) {
	if len(candidates) == 0 {
		return nil, 0
	}

	cityMean, globalMean := storeMeans(stores)
	counts := countCannibal(candidates, storeCounts(stores))

	rawMatch := make([]float64, len(candidates))
	rawCannibal := make([]float64, len(candidates))
	located := make([]bool, len(candidates))
	nearest := make([]float64, len(candidates))

	for i, c := range candidates {
		rawMatch[i] = globalMean
		if v, ok := cityMean[c.City]; ok && scope == MatchCity {
			rawMatch[i] = v
		}

		lat, lng, ok := ParseLocation(c.Location)
		if !ok {
			continue
		}
		located[i] = true
		nearest[i] = math.Inf(1)
		for _, s := range stores {
			avg, hasAvg := s.AvgRevenue()
			if !s.HasCoord || !hasAvg {
				continue
			}
			d := Haversine(lat, lng, s.Lat, s.Lng)
			nearest[i] = math.Min(nearest[i], d)
			d = math.Max(d, MinDistanceKm)
			rawCannibal[i] += avg / (d * d)
		}
	}

	match := Normalize(rawMatch)
	gravity := Normalize(rawCannibal)

	var n int
	scores := make([]Score, len(candidates))
	for i, c := range candidates {
		cannibal := counts[i]
		rationale := "无有效坐标，蚕食度按同城门店数计算"
		if located[i] {
			n++
			cannibal = gravity[i]
			rationale = "引力模型：蚕食度=Σ门店日均营收/距离²"
			if !math.IsInf(nearest[i], 1) {
				rationale += fmt.Sprintf("，最近门店%.2fkm", nearest[i])
			}
		}
		scores[i] = Score{
			Candidate: c,
			Match:     match[i],
			Cannibal:  cannibal,
			Total:     Total(match[i], cannibal),
			Rationale: rationale,
		}
	}
	return scores, n
}

// storeMeans averages store-level mean revenue per city and overall.
func storeMeans(stores []Store) (map[string]float64, float64) {
	sums := make(map[string]float64)
	counts := make(map[string]int)
	var total float64
	var n int
	for _, s := range stores {
		avg, ok := s.AvgRevenue()
		if !ok {
			continue
		}
		total += avg
		n++
		if s.City != "" {
			sums[s.City] += avg
			counts[s.City]++
		}
	}
	out := make(map[string]float64, len(sums))
	for city, v := range sums {
		out[city] = v / float64(counts[city])
	}
	if n == 0 {
		return out, 0
	}
	return out, total / float64(n)
}
