// Package boost implements the gradient-boosted regressors used by the
// revenue forecast: exact-split boosted trees and a histogram variant.
package boost

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// ErrInvalidInput is returned by Fit when the training data is unusable.
var ErrInvalidInput = errors.New("invalid training data")

// Regressor is a fitted-or-fittable model mapping a feature row to a value.
type Regressor interface {
	Name() string
	Fit(X [][]float64, y []float64) error
	Predict(x []float64) float64
}

// node is one tree node; leaves have feature == -1.
type node struct {
	feature   int
	threshold float64
	left      int
	right     int
	value     float64
}

type tree struct {
	nodes []node
}

func (t *tree) predict(x []float64) float64 {
	i := 0
	for {
		n := t.nodes[i]
		if n.feature < 0 {
			return n.value
		}
		if x[n.feature] <= n.threshold {
			i = n.left
		} else {
			i = n.right
		}
	}
}

func (t *tree) leaf(value float64) int {
	t.nodes = append(t.nodes, node{feature: -1, value: value})
	return len(t.nodes) - 1
}

func (t *tree) split(feature int, threshold float64) int {
	t.nodes = append(t.nodes, node{feature: feature, threshold: threshold})
	return len(t.nodes) - 1
}

// validate checks shapes and finiteness and returns the feature count.
func validate(X [][]float64, y []float64) (int, error) {
	if len(X) == 0 {
		return 0, fmt.Errorf("%w: no samples", ErrInvalidInput)
	}
	if len(X) != len(y) {
		return 0, fmt.Errorf("%w: %d rows but %d targets", ErrInvalidInput, len(X), len(y))
	}
	width := len(X[0])
	if width == 0 {
		return 0, fmt.Errorf("%w: no features", ErrInvalidInput)
	}
	for i, row := range X {
		if len(row) != width {
			return 0, fmt.Errorf("%w: row %d has %d features, want %d", ErrInvalidInput, i, len(row), width)
		}
		for _, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return 0, fmt.Errorf("%w: non-finite feature in row %d", ErrInvalidInput, i)
			}
		}
		if math.IsNaN(y[i]) || math.IsInf(y[i], 0) {
			return 0, fmt.Errorf("%w: non-finite target in row %d", ErrInvalidInput, i)
		}
	}
	return width, nil
}

func mean(v []float64) float64 {
	var s float64
	for _, x := range v {
		s += x
	}
	return s / float64(len(v))
}

// exactBuilder grows a least-squares tree by scanning every distinct
// feature value as a candidate threshold.
type exactBuilder struct {
	X        [][]float64
	grad     []float64
	maxDepth int
	minLeaf  int
	minSplit int
}

func (b *exactBuilder) build(idx []int) *tree {
	t := &tree{}
	b.grow(t, idx, 0)
	return t
}

func (b *exactBuilder) grow(t *tree, idx []int, depth int) int {
	var sum float64
	for _, i := range idx {
		sum += b.grad[i]
	}
	value := sum / float64(len(idx))

	if depth >= b.maxDepth || len(idx) < b.minSplit || len(idx) < 2*b.minLeaf {
		return t.leaf(value)
	}

	feature, threshold, ok := b.bestSplit(idx, sum)
	if !ok {
		return t.leaf(value)
	}

	var left, right []int
	for _, i := range idx {
		if b.X[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	at := t.split(feature, threshold)
	l := b.grow(t, left, depth+1)
	r := b.grow(t, right, depth+1)
	t.nodes[at].left = l
	t.nodes[at].right = r
	return at
}

func (b *exactBuilder) bestSplit(idx []int, total float64) (int, float64, bool) {
	n := float64(len(idx))
	base := total * total / n
	bestGain := 1e-12
	bestFeature, bestThreshold := -1, 0.0

	sorted := make([]int, len(idx))
	for f := range b.X[idx[0]] {
		copy(sorted, idx)
		sort.SliceStable(sorted, func(a, c int) bool {
			return b.X[sorted[a]][f] < b.X[sorted[c]][f]
		})

		var sumL float64
		for k := 0; k < len(sorted)-1; k++ {
			sumL += b.grad[sorted[k]]
			nL := k + 1
			nR := len(sorted) - nL
			if nL < b.minLeaf || nR < b.minLeaf {
				continue
			}
			lo, hi := b.X[sorted[k]][f], b.X[sorted[k+1]][f]
			if lo == hi {
				continue
			}
			sumR := total - sumL
			gain := sumL*sumL/float64(nL) + sumR*sumR/float64(nR) - base
			if gain > bestGain {
				bestGain = gain
				bestFeature = f
				bestThreshold = lo + (hi-lo)/2
			}
		}
	}
	return bestFeature, bestThreshold, bestFeature >= 0
}
