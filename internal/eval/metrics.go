// Package eval computes the binary classification metrics reported by
// the pipelines. Class 1 (malicious) is the positive class throughout.
package eval

import (
	"errors"
	"fmt"
	"slices"
	"sort"

	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/stat"

	"github.com/cvalentine99/nfa-intent/internal/models"
)

// DefaultThreshold turns probabilities into hard labels.
const DefaultThreshold = 0.5

var (
	// ErrLengthMismatch is returned when labels and scores differ in length.
	ErrLengthMismatch = errors.New("eval: labels and scores differ in length")

	// ErrSingleClass is returned by ROCAUC when only one class is present.
	ErrSingleClass = errors.New("eval: ROC AUC needs both classes")
)

// PRCurve is a precision-recall curve ordered by increasing threshold.
// Precision and Recall carry one more point than Thresholds: the final
// (precision 1, recall 0) anchor.
type PRCurve struct {
	Precision  []float64
	Recall     []float64
	Thresholds []float64
}

// PrecisionRecallCurve computes precision and recall at every distinct
// score, stopping once full recall is reached.
func PrecisionRecallCurve(y []int, scores []float64) (PRCurve, error) {
	if len(y) != len(scores) {
		return PRCurve{}, fmt.Errorf("%w: %d vs %d", ErrLengthMismatch, len(y), len(scores))
	}

	fps, tps, thresholds := binaryClfCurve(y, scores)
	if len(tps) == 0 {
		return PRCurve{Precision: []float64{1}, Recall: []float64{0}}, nil
	}
	positives := tps[len(tps)-1]

	// stop at the first threshold reaching full recall
	last := len(tps) - 1
	for i, tp := range tps {
		if tp == positives {
			last = i
			break
		}
	}

	var curve PRCurve
	for i := last; i >= 0; i-- {
		p := 0.0
		if denom := tps[i] + fps[i]; denom > 0 {
			p = tps[i] / denom
		}
		r := 0.0
		if positives > 0 {
			r = tps[i] / positives
		}
		curve.Precision = append(curve.Precision, p)
		curve.Recall = append(curve.Recall, r)
		curve.Thresholds = append(curve.Thresholds, thresholds[i])
	}
	curve.Precision = append(curve.Precision, 1)
	curve.Recall = append(curve.Recall, 0)
	return curve, nil
}

// AveragePrecision summarises the precision-recall curve as the
// recall-weighted mean of precisions. It is 0 when there are no positives.
func AveragePrecision(y []int, scores []float64) (float64, error) {
	curve, err := PrecisionRecallCurve(y, scores)
	if err != nil {
		return 0, err
	}

	// Recall is non-increasing along the curve.
	var ap float64
	for i := 0; i < len(curve.Recall)-1; i++ {
		ap += (curve.Recall[i] - curve.Recall[i+1]) * curve.Precision[i]
	}
	return ap, nil
}

// PrecisionRecallF1 scores hard predictions for the positive class.
// Undefined ratios are 0.
func PrecisionRecallF1(y, pred []int) (precision, recall, f1 float64, err error) {
	if len(y) != len(pred) {
		return 0, 0, 0, fmt.Errorf("%w: %d vs %d", ErrLengthMismatch, len(y), len(pred))
	}

	var tp, fp, fn float64
	for i := range y {
		switch {
		case pred[i] == 1 && y[i] == 1:
			tp++
		case pred[i] == 1:
			fp++
		case y[i] == 1:
			fn++
		}
	}
	if tp+fp > 0 {
		precision = tp / (tp + fp)
	}
	if tp+fn > 0 {
		recall = tp / (tp + fn)
	}
	if denom := 2*tp + fp + fn; denom > 0 {
		f1 = 2 * tp / denom
	}
	return precision, recall, f1, nil
}

// ROCAUC is the area under the ROC curve, integrated with the trapezoid
// rule over every distinct score. Tied scores contribute one half.
func ROCAUC(y []int, scores []float64) (float64, error) {
	if len(y) != len(scores) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrLengthMismatch, len(y), len(scores))
	}

	sorted := slices.Clone(scores)
	classes := make([]bool, len(y))
	positives := 0
	for i, label := range y {
		classes[i] = label == 1
		if classes[i] {
			positives++
		}
	}
	if positives == 0 || positives == len(y) {
		return 0, ErrSingleClass
	}

	stat.SortWeightedLabeled(sorted, classes, nil)
	tpr, fpr, _ := stat.ROC(nil, sorted, classes, nil)
	return integrate.Trapezoidal(fpr, tpr), nil
}

// Predict thresholds probabilities: score >= threshold is class 1.
func Predict(scores []float64, threshold float64) []int {
	out := make([]int, len(scores))
	for i, s := range scores {
		if s >= threshold {
			out[i] = 1
		}
	}
	return out
}

// Result holds every metric for one split.
type Result struct {
	AP        float64
	Precision float64
	Recall    float64
	F1        float64

	// ROCAUC is only meaningful when HasROCAUC is set.
	ROCAUC    float64
	HasROCAUC bool
}

// Evaluate scores probabilities against labels at threshold.
func Evaluate(y []int, scores []float64, threshold float64) (Result, error) {
	var r Result
	var err error

	if r.AP, err = AveragePrecision(y, scores); err != nil {
		return Result{}, err
	}
	if r.Precision, r.Recall, r.F1, err = PrecisionRecallF1(y, Predict(scores, threshold)); err != nil {
		return Result{}, err
	}
	auc, err := ROCAUC(y, scores)
	switch {
	case err == nil:
		r.ROCAUC, r.HasROCAUC = auc, true
	case !errors.Is(err, ErrSingleClass):
		return Result{}, err
	}
	return r, nil
}

// Scores selects the named metrics for a report.
func (r Result) Scores(names ...string) models.Scores {
	out := make(models.Scores, len(names))
	for _, name := range names {
		switch name {
		case models.MetricAP:
			out[name] = r.AP
		case models.MetricPrecision:
			out[name] = r.Precision
		case models.MetricRecall:
			out[name] = r.Recall
		case models.MetricF1:
			out[name] = r.F1
		case models.MetricROCAUC:
			if r.HasROCAUC {
				out[name] = r.ROCAUC
			}
		}
	}
	return out
}

// binaryClfCurve returns cumulative false and true positives at each
// distinct score, highest score first.
func binaryClfCurve(y []int, scores []float64) (fps, tps, thresholds []float64) {
	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return scores[order[a]] > scores[order[b]] })

	var tp, fp float64
	for k, idx := range order {
		if y[idx] == 1 {
			tp++
		} else {
			fp++
		}
		if k == len(order)-1 || scores[order[k+1]] != scores[idx] {
			fps = append(fps, fp)
			tps = append(tps, tp)
			thresholds = append(thresholds, scores[idx])
		}
	}
	return fps, tps, thresholds
}
