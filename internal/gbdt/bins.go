package gbdt

import (
	"math"
	"sort"
)

// featureBins maps raw values of one feature to histogram bins. Bin b
// holds values in (upper[b-1], upper[b]]; the last bound is +Inf.
type featureBins struct {
	upper []float64
}

// newFeatureBins places bin bounds between distinct values when they fit
// in maxBins, otherwise at evenly spaced quantiles.
func newFeatureBins(values []float64, maxBins int) featureBins {
	sorted := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) {
			sorted = append(sorted, v)
		}
	}
	sort.Float64s(sorted)

	distinct := sorted[:0:0]
	for i, v := range sorted {
		if i == 0 || v != sorted[i-1] {
			distinct = append(distinct, v)
		}
	}

	var upper []float64
	if len(distinct) <= maxBins {
		for i := 0; i+1 < len(distinct); i++ {
			upper = append(upper, (distinct[i]+distinct[i+1])/2)
		}
	} else {
		n := len(sorted)
		for b := 1; b < maxBins; b++ {
			cut := sorted[b*n/maxBins-1]
			if len(upper) == 0 || cut > upper[len(upper)-1] {
				upper = append(upper, cut)
			}
		}
	}
	upper = append(upper, math.Inf(1))
	return featureBins{upper: upper}
}

// bin returns the bin holding v. NaN falls in the last bin.
func (f featureBins) bin(v float64) int {
	if math.IsNaN(v) {
		return len(f.upper) - 1
	}
	return sort.SearchFloat64s(f.upper, v)
}

func (f featureBins) numBins() int {
	return len(f.upper)
}
