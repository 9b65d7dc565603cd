// Package gbdt implements a histogram-based gradient-boosted decision
// tree classifier for binary labels. Trees grow leaf-wise (best gain
// first) on binned features and minimise weighted log loss.
package gbdt

import (
	"context"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/cvalentine99/nfa-intent/internal/logging"
)

// Class weighting modes.
const (
	ClassWeightNone     = ""
	ClassWeightBalanced = "balanced"
)

var (
	// ErrNotFitted is returned by PredictProba before Fit.
	ErrNotFitted = errors.New("gbdt: classifier not fitted")

	// ErrShape is returned when rows, labels or features do not line up.
	ErrShape = errors.New("gbdt: shape mismatch")
)

// Params configures boosting.
type Params struct {
	NEstimators     int
	LearningRate    float64
	NumLeaves       int
	MinChildSamples int
	MinSumHessian   float64
	Lambda          float64
	MaxBins         int
	ClassWeight     string
}

// DefaultParams returns the baseline settings: 400 trees, learning rate
// 0.05, 63 leaves, at least 20 rows per leaf, 255 bins, balanced classes.
func DefaultParams() Params {
	return Params{
		NEstimators:     400,
		LearningRate:    0.05,
		NumLeaves:       63,
		MinChildSamples: 20,
		MinSumHessian:   1e-3,
		Lambda:          0,
		MaxBins:         255,
		ClassWeight:     ClassWeightBalanced,
	}
}

func (p Params) validate() error {
	switch {
	case p.NEstimators < 1:
		return fmt.Errorf("gbdt: n_estimators must be positive, got %d", p.NEstimators)
	case p.LearningRate <= 0:
		return fmt.Errorf("gbdt: learning rate must be positive, got %g", p.LearningRate)
	case p.NumLeaves < 2:
		return fmt.Errorf("gbdt: num_leaves must be at least 2, got %d", p.NumLeaves)
	case p.MaxBins < 2 || p.MaxBins > math.MaxUint16:
		return fmt.Errorf("gbdt: max_bins out of range: %d", p.MaxBins)
	case p.MinChildSamples < 1:
		return fmt.Errorf("gbdt: min_child_samples must be positive, got %d", p.MinChildSamples)
	case p.ClassWeight != ClassWeightNone && p.ClassWeight != ClassWeightBalanced:
		return fmt.Errorf("gbdt: unknown class weight %q", p.ClassWeight)
	}
	return nil
}

// Classifier is a boosted ensemble producing class-1 probabilities.
type Classifier struct {
	params    Params
	logger    *logging.Logger
	nFeatures int
	initScore float64
	trees     []*tree
	splits    []int
}

// New creates an unfitted classifier.
func New(params Params) *Classifier {
	return &Classifier{
		params: params,
		logger: logging.BaselineLogger().With(logging.OperationKey, "boost"),
	}
}

// SetLogger replaces the progress logger.
func (c *Classifier) SetLogger(l *logging.Logger) {
	c.logger = l
}

// NumTrees returns the number of fitted trees.
func (c *Classifier) NumTrees() int {
	return len(c.trees)
}

// SplitCounts returns how many splits use each feature.
func (c *Classifier) SplitCounts() []int {
	return append([]int(nil), c.splits...)
}

// Fit boosts NEstimators trees on X (rows are samples) and labels y.
// The context is checked between boosting rounds.
func (c *Classifier) Fit(ctx context.Context, X mat.Matrix, y []int) error {
	if err := c.params.validate(); err != nil {
		return err
	}
	rows, cols := X.Dims()
	if rows != len(y) || rows == 0 {
		return fmt.Errorf("%w: %d rows, %d labels", ErrShape, rows, len(y))
	}

	weights, err := sampleWeights(y, c.params.ClassWeight)
	if err != nil {
		return err
	}

	// bin every feature column
	bins := make([]featureBins, cols)
	binned := make([][]uint16, cols)
	col := make([]float64, rows)
	maxBins := 0
	for f := 0; f < cols; f++ {
		mat.Col(col, f, X)
		bins[f] = newFeatureBins(col, c.params.MaxBins)
		binned[f] = make([]uint16, rows)
		for r, v := range col {
			binned[f][r] = uint16(bins[f].bin(v))
		}
		maxBins = max(maxBins, bins[f].numBins())
	}

	target := make([]float64, rows)
	for i, v := range y {
		target[i] = float64(v)
	}
	mean := floats.Dot(weights, target) / floats.Sum(weights)
	mean = min(max(mean, 1e-15), 1-1e-15)

	c.nFeatures = cols
	c.initScore = math.Log(mean / (1 - mean))
	c.trees = c.trees[:0]
	c.splits = make([]int, cols)

	score := make([]float64, rows)
	for i := range score {
		score[i] = c.initScore
	}

	g := &grower{
		params: c.params,
		binned: binned,
		bins:   bins,
		grad:   make([]float64, rows),
		hess:   make([]float64, rows),
		hist:   make([]histBin, maxBins),
	}
	all := make([]int, rows)
	for i := range all {
		all[i] = i
	}

	x := make([]float64, cols)
	for round := 0; round < c.params.NEstimators; round++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("gbdt: fit interrupted at round %d: %w", round, err)
		}

		for i := range score {
			p := sigmoid(score[i])
			g.grad[i] = weights[i] * (p - target[i])
			g.hess[i] = weights[i] * p * (1 - p)
		}

		t := g.grow(all)
		c.trees = append(c.trees, t)
		for _, n := range t.Nodes {
			if !n.Leaf {
				c.splits[n.Feature]++
			}
		}

		for i := range score {
			mat.Row(x, i, X)
			score[i] += t.predict(x)
		}

		if (round+1)%100 == 0 {
			c.logger.Debug("boosting progress",
				logging.StepKey, round+1,
				logging.LossKey, logLoss(score, target, weights),
				"leaves", t.numLeaves(),
			)
		}
	}
	return nil
}

// PredictProba returns the class-1 probability of every row of X.
func (c *Classifier) PredictProba(X mat.Matrix) ([]float64, error) {
	if c.trees == nil {
		return nil, ErrNotFitted
	}
	rows, cols := X.Dims()
	if cols != c.nFeatures {
		return nil, fmt.Errorf("%w: fitted on %d features, got %d", ErrShape, c.nFeatures, cols)
	}

	out := make([]float64, rows)
	x := make([]float64, cols)
	for i := range out {
		mat.Row(x, i, X)
		s := c.initScore
		for _, t := range c.trees {
			s += t.predict(x)
		}
		out[i] = sigmoid(s)
	}
	return out, nil
}

// sampleWeights returns per-row weights; balanced weighting gives class
// c the weight n / (2 * n_c).
func sampleWeights(y []int, mode string) ([]float64, error) {
	w := make([]float64, len(y))
	var counts [2]int
	for i, v := range y {
		if v != 0 && v != 1 {
			return nil, fmt.Errorf("gbdt: label at row %d is %d, want 0 or 1", i, v)
		}
		counts[v]++
	}

	for i, v := range y {
		w[i] = 1
		if mode == ClassWeightBalanced && counts[v] > 0 {
			w[i] = float64(len(y)) / (2 * float64(counts[v]))
		}
	}
	return w, nil
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

func logLoss(score, target, weights []float64) float64 {
	var loss, total float64
	for i, s := range score {
		p := min(max(sigmoid(s), 1e-15), 1-1e-15)
		loss -= weights[i] * (target[i]*math.Log(p) + (1-target[i])*math.Log(1-p))
		total += weights[i]
	}
	return loss / total
}
