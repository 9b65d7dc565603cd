// Package features turns network-traffic tables into model inputs: a
// one-hot/standardizing preprocessor, a field tokenizer for language
// models, and payload byte-entropy columns.
package features

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"sort"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/cvalentine99/nfa-intent/internal/dataset"
)

var (
	// ErrNotFitted is returned by Transform before Fit.
	ErrNotFitted = errors.New("features: preprocessor not fitted")

	// ErrAlreadyFitted is returned by a second Fit.
	ErrAlreadyFitted = errors.New("features: preprocessor already fitted")
)

// Preprocessor one-hot encodes categorical columns and z-scores numeric
// columns. It is fitted once, on the training partition only.
type Preprocessor struct {
	CatCols []string
	NumCols []string

	categories [][]string
	catIndex   []map[string]int
	mean       []float64
	scale      []float64
	fitted     bool
}

// DerivePreprocessor partitions the columns of df (minus target):
// string columns are categorical and every other column is numeric.
// featureNames is cat followed by num.
func DerivePreprocessor(df dataframe.DataFrame, target string) (p *Preprocessor, featureNames, cat, num []string) {
	for _, name := range df.Names() {
		if name == target {
			continue
		}
		if df.Col(name).Type() == series.String {
			cat = append(cat, name)
		} else {
			num = append(num, name)
		}
	}
	featureNames = append(append([]string(nil), cat...), num...)
	return &Preprocessor{CatCols: cat, NumCols: num}, featureNames, cat, num
}

// Fitted reports whether Fit has succeeded.
func (p *Preprocessor) Fitted() bool {
	return p.fitted
}

// OutputDim is the width of the transformed matrix. Valid after Fit.
func (p *Preprocessor) OutputDim() int {
	n := len(p.NumCols)
	for _, cats := range p.categories {
		n += len(cats)
	}
	return n
}

// OutputColumns names the source column of every transformed column.
// Valid after Fit.
func (p *Preprocessor) OutputColumns() []string {
	out := make([]string, 0, p.OutputDim())
	for j, name := range p.CatCols {
		for range p.categories[j] {
			out = append(out, name)
		}
	}
	return append(out, p.NumCols...)
}

// Fit learns category vocabularies and numeric mean and scale from df.
// Missing numeric values are ignored; a zero deviation scales by 1.
func (p *Preprocessor) Fit(df dataframe.DataFrame) error {
	if p.fitted {
		return ErrAlreadyFitted
	}
	if err := requireColumns(df, p.CatCols, p.NumCols); err != nil {
		return err
	}

	p.categories = make([][]string, len(p.CatCols))
	p.catIndex = make([]map[string]int, len(p.CatCols))
	for j, name := range p.CatCols {
		seen := map[string]bool{}
		for _, v := range dataset.Column(df, name) {
			seen[v] = true
		}
		cats := make([]string, 0, len(seen))
		for v := range seen {
			cats = append(cats, v)
		}
		sort.Strings(cats)

		index := make(map[string]int, len(cats))
		for k, v := range cats {
			index[v] = k
		}
		p.categories[j] = cats
		p.catIndex[j] = index
	}

	p.mean = make([]float64, len(p.NumCols))
	p.scale = make([]float64, len(p.NumCols))
	for j, name := range p.NumCols {
		values := df.Col(name).Float()
		present := values[:0:0]
		for _, v := range values {
			if !math.IsNaN(v) {
				present = append(present, v)
			}
		}

		mean, std := 0.0, 1.0
		if len(present) > 0 {
			mean, std = stat.PopMeanStdDev(present, nil)
		}
		if std == 0 || math.IsNaN(std) {
			std = 1
		}
		p.mean[j] = mean
		p.scale[j] = std
	}

	p.fitted = true
	return nil
}

// Transform encodes df into a dense row-major matrix with OutputDim
// columns: one-hot blocks in CatCols order, then scaled numerics.
// Unseen categories encode as all zeros; missing numerics encode as 0.
func (p *Preprocessor) Transform(df dataframe.DataFrame) (*mat.Dense, error) {
	if !p.fitted {
		return nil, ErrNotFitted
	}
	if err := requireColumns(df, p.CatCols, p.NumCols); err != nil {
		return nil, err
	}

	rows, cols := df.Nrow(), p.OutputDim()
	if rows == 0 || cols == 0 {
		return nil, fmt.Errorf("features: cannot encode a %dx%d matrix", rows, cols)
	}
	data := make([]float64, rows*cols)

	offset := 0
	for j, name := range p.CatCols {
		for i, v := range dataset.Column(df, name) {
			if k, ok := p.catIndex[j][v]; ok {
				data[i*cols+offset+k] = 1
			}
		}
		offset += len(p.categories[j])
	}

	for j, name := range p.NumCols {
		for i, v := range df.Col(name).Float() {
			if math.IsNaN(v) {
				continue
			}
			data[i*cols+offset] = (v - p.mean[j]) / p.scale[j]
		}
		offset++
	}

	return mat.NewDense(rows, cols, data), nil
}

// FitTransform fits on df and encodes it.
func (p *Preprocessor) FitTransform(df dataframe.DataFrame) (*mat.Dense, error) {
	if err := p.Fit(df); err != nil {
		return nil, err
	}
	return p.Transform(df)
}

func requireColumns(df dataframe.DataFrame, groups ...[]string) error {
	names := df.Names()
	for _, group := range groups {
		for _, name := range group {
			if !slices.Contains(names, name) {
				return fmt.Errorf("features: column %q missing", name)
			}
		}
	}
	return nil
}
