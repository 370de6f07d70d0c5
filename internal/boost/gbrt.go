package boost

// GBRT is least-squares gradient boosting over exact-split regression trees.
type GBRT struct {
	NEstimators     int
	MaxDepth        int
	LearningRate    float64
	MinSamplesSplit int
	MinSamplesLeaf  int

	init  float64
	trees []*tree
}

// NewGBRT returns the primary forecast model: 300 trees of depth 6 with a
// learning rate of 0.05.
func NewGBRT() *GBRT {
	return &GBRT{
		NEstimators:     300,
		MaxDepth:        6,
		LearningRate:    0.05,
		MinSamplesSplit: 2,
		MinSamplesLeaf:  1,
	}
}

// Name returns the model name persisted with each forecast.
func (m *GBRT) Name() string {
	return "GradientBoostingRegressor"
}

// Fit trains the ensemble. Previous state is discarded.
func (m *GBRT) Fit(X [][]float64, y []float64) error {
	if _, err := validate(X, y); err != nil {
		return err
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

	b := &exactBuilder{
		X:        X,
		grad:     resid,
		maxDepth: m.MaxDepth,
		minLeaf:  max(m.MinSamplesLeaf, 1),
		minSplit: max(m.MinSamplesSplit, 2),
	}

	for range m.NEstimators {
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
func (m *GBRT) Predict(x []float64) float64 {
	out := m.init
	for _, t := range m.trees {
		out += m.LearningRate * t.predict(x)
	}
	return out
}
