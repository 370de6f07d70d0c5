package boost

import (
	"sort"
)

// Hist is histogram-based gradient boosting: features are bucketed into at
// most MaxBins quantile bins once, and splits are searched over bin edges.
type Hist struct {
	MaxIter        int
	MaxBins        int
	MaxDepth       int
	LearningRate   float64
	MinSamplesLeaf int

	init  float64
	trees []*tree
}

// NewHist returns the fallback model with the usual library defaults.
func NewHist() *Hist {
	return &Hist{
		MaxIter:        100,
		MaxBins:        255,
		MaxDepth:       8,
		LearningRate:   0.1,
		MinSamplesLeaf: 20,
	}
}

// Name returns the model name persisted with each forecast.
func (m *Hist) Name() string {
	return "HistGradientBoostingRegressor"
}

// Fit trains the ensemble. Previous state is discarded.
func (m *Hist) Fit(X [][]float64, y []float64) error {
	width, err := validate(X, y)
	if err != nil {
		return err
	}

	edges := make([][]float64, width)
	for f := range width {
		col := make([]float64, len(X))
		for i := range X {
			col[i] = X[i][f]
		}
		edges[f] = binEdges(col, max(m.MaxBins, 2))
	}

	binned := make([][]int, len(X))
	for i, row := range X {
		binned[i] = make([]int, width)
		for f, v := range row {
			binned[i][f] = binOf(edges[f], v)
		}
	}

	m.init = mean(y)
	m.trees = m.trees[:0]

	pred := make([]float64, len(y))
	for i := range pred {
		pred[i] = m.init
	}
	resid := make([]float64, len(y))
	idx := make([]int, len(y))
	for i := range idx {
		idx[i] = i
	}

	b := &histBuilder{
		binned:   binned,
		edges:    edges,
		grad:     resid,
		maxDepth: m.MaxDepth,
		minLeaf:  max(m.MinSamplesLeaf, 1),
	}

	for range m.MaxIter {
		for i := range y {
			resid[i] = y[i] - pred[i]
		}
		t := b.build(idx)
		for i := range pred {
			pred[i] += m.LearningRate * t.predict(X[i])
		}
		m.trees = append(m.trees, t)
	}
	return nil
}

// Predict returns the ensemble prediction for one feature row.
func (m *Hist) Predict(x []float64) float64 {
	out := m.init
	for _, t := range m.trees {
		out += m.LearningRate * t.predict(x)
	}
	return out
}

// binEdges returns ascending upper edges; a value v falls in the first bin
// whose edge is >= v, or in the last bin past every edge.
func binEdges(col []float64, maxBins int) []float64 {
	sorted := append([]float64(nil), col...)
	sort.Float64s(sorted)

	distinct := sorted[:0:0]
	for i, v := range sorted {
		if i == 0 || v != sorted[i-1] {
			distinct = append(distinct, v)
		}
	}

	var edges []float64
	if len(distinct) <= maxBins {
		for i := 0; i+1 < len(distinct); i++ {
			edges = append(edges, distinct[i]+(distinct[i+1]-distinct[i])/2)
		}
		return edges
	}

	for q := 1; q < maxBins; q++ {
		pos := float64(q) * float64(len(sorted)-1) / float64(maxBins)
		lo := int(pos)
		frac := pos - float64(lo)
		v := sorted[lo]
		if lo+1 < len(sorted) {
			v += frac * (sorted[lo+1] - sorted[lo])
		}
		if len(edges) == 0 || v > edges[len(edges)-1] {
			edges = append(edges, v)
		}
	}
	return edges
}

func binOf(edges []float64, v float64) int {
	return sort.SearchFloat64s(edges, v)
}

type histBuilder struct {
	binned   [][]int
	edges    [][]float64
	grad     []float64
	maxDepth int
	minLeaf  int
}

func (b *histBuilder) build(idx []int) *tree {
	t := &tree{}
	b.grow(t, idx, 0)
	return t
}

func (b *histBuilder) grow(t *tree, idx []int, depth int) int {
	var sum float64
	for _, i := range idx {
		sum += b.grad[i]
	}
	value := sum / float64(len(idx))

	if depth >= b.maxDepth || len(idx) < 2*b.minLeaf {
		return t.leaf(value)
	}

	feature, bin, ok := b.bestSplit(idx, sum)
	if !ok {
		return t.leaf(value)
	}

	var left, right []int
	for _, i := range idx {
		if b.binned[i][feature] <= bin {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	at := t.split(feature, b.edges[feature][bin])
	l := b.grow(t, left, depth+1)
	r := b.grow(t, right, depth+1)
	t.nodes[at].left = l
	t.nodes[at].right = r
	return at
}

func (b *histBuilder) bestSplit(idx []int, total float64) (int, int, bool) {
	n := float64(len(idx))
	base := total * total / n
	bestGain := 1e-12
	bestFeature, bestBin := -1, 0

	for f, edges := range b.edges {
		if len(edges) == 0 {
			continue
		}
		sums := make([]float64, len(edges)+1)
		counts := make([]int, len(edges)+1)
		for _, i := range idx {
			bin := b.binned[i][f]
			sums[bin] += b.grad[i]
			counts[bin]++
		}

		var sumL float64
		var nL int
		for bin := 0; bin < len(edges); bin++ {
			sumL += sums[bin]
			nL += counts[bin]
			nR := len(idx) - nL
			if nL < b.minLeaf || nR < b.minLeaf {
				continue
			}
			sumR := total - sumL
			gain := sumL*sumL/float64(nL) + sumR*sumR/float64(nR) - base
			if gain > bestGain {
				bestGain = gain
				bestFeature = f
				bestBin = bin
			}
		}
	}
	return bestFeature, bestBin, bestFeature >= 0
}
