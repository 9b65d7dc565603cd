package intent

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
)

// NumLabels is the size of the classification head (benign, malicious).
const NumLabels = 2

// Head is a linear classification layer over sentence vectors.
type Head struct {
	Weights [NumLabels][]float64 `json:"weights"`
	Bias    [NumLabels]float64   `json:"bias"`
}

// NewHead initializes weights from N(0, 0.02) and zero bias.
func NewHead(dim int, rng *rand.Rand) *Head {
	h := &Head{}
	for c := range h.Weights {
		h.Weights[c] = make([]float64, dim)
		for j := range h.Weights[c] {
			h.Weights[c][j] = rng.NormFloat64() * 0.02
		}
	}
	return h
}

// Logits computes the raw class scores of x.
func (h *Head) Logits(x []float64) [NumLabels]float64 {
	var out [NumLabels]float64
	for c := range out {
		out[c] = floats.Dot(h.Weights[c], x) + h.Bias[c]
	}
	return out
}

// Softmax converts logits to probabilities.
func Softmax(logits []float64) []float64 {
	m := floats.Max(logits)
	out := make([]float64, len(logits))
	var sum float64
	for i, l := range logits {
		out[i] = math.Exp(l - m)
		sum += out[i]
	}
	floats.Scale(1/sum, out)
	return out
}

// lossAndGrad returns the mean cross-entropy of the batch and
// accumulates its gradient into gw and gb.
func (h *Head) lossAndGrad(xs [][]float64, ys []int, gw *[NumLabels][]float64, gb *[NumLabels]float64) float64 {
	for c := range gw {
		clear(gw[c])
		gb[c] = 0
	}

	n := float64(len(xs))
	var loss float64
	for i, x := range xs {
		logits := h.Logits(x)
		probs := Softmax(logits[:])
		loss -= math.Log(math.Max(probs[ys[i]], 1e-12))

		for c := 0; c < NumLabels; c++ {
			d := probs[c]
			if c == ys[i] {
				d--
			}
			d /= n
			floats.AddScaled(gw[c], d, x)
			gb[c] += d
		}
	}
	return loss / n
}

// AdamW is Adam with decoupled weight decay. Bias terms are not decayed.
type AdamW struct {
	Beta1, Beta2, Epsilon float64
	WeightDecay           float64

	step   int
	mW, vW [NumLabels][]float64
	mB, vB [NumLabels]float64
}

// NewAdamW creates an optimizer for a head of width dim.
func NewAdamW(dim int, weightDecay float64) *AdamW {
	opt := &AdamW{Beta1: 0.9, Beta2: 0.999, Epsilon: 1e-8, WeightDecay: weightDecay}
	for c := 0; c < NumLabels; c++ {
		opt.mW[c] = make([]float64, dim)
		opt.vW[c] = make([]float64, dim)
	}
	return opt
}

// Step applies one update with learning rate lr.
func (o *AdamW) Step(h *Head, gw *[NumLabels][]float64, gb *[NumLabels]float64, lr float64) {
	o.step++
	c1 := 1 - math.Pow(o.Beta1, float64(o.step))
	c2 := 1 - math.Pow(o.Beta2, float64(o.step))

	update := func(p, g, m, v *float64, decay bool) {
		if decay {
			*p -= lr * o.WeightDecay * *p
		}
		*m = o.Beta1**m + (1-o.Beta1)**g
		*v = o.Beta2**v + (1-o.Beta2)**g**g
		*p -= lr * (*m / c1) / (math.Sqrt(*v/c2) + o.Epsilon)
	}

	for c := 0; c < NumLabels; c++ {
		for j := range h.Weights[c] {
			update(&h.Weights[c][j], &gw[c][j], &o.mW[c][j], &o.vW[c][j], true)
		}
		update(&h.Bias[c], &gb[c], &o.mB[c], &o.vB[c], false)
	}
}
