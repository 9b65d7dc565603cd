package dataset

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
)

var (
	// ErrMissingLabel is returned when the target column is absent.
	ErrMissingLabel = errors.New("dataset: label column missing")

	// ErrLabelUnparseable is returned when a label is not coercible to 0/1.
	ErrLabelUnparseable = errors.New("dataset: label not coercible to 0/1")
)

// Labels coerces the target column to 0 (benign) or 1 (malicious).
// Accepted values are integers and floats equal to 0 or 1, booleans,
// "benign"/"malicious" in any case, and numeric strings equal to 0 or 1.
func Labels(df dataframe.DataFrame, target string) ([]int, error) {
	if !slices.Contains(df.Names(), target) {
		return nil, fmt.Errorf("%w: %q", ErrMissingLabel, target)
	}

	col := df.Col(target)
	out := make([]int, col.Len())
	for i := range out {
		elem := col.Elem(i)
		if elem.IsNA() {
			return nil, fmt.Errorf("%w: row %d is empty", ErrLabelUnparseable, i)
		}

		var (
			y  int
			ok bool
		)
		switch col.Type() {
		case series.Bool:
			b, err := elem.Bool()
			y, ok = boolLabel(b), err == nil
		case series.Int, series.Float:
			y, ok = numericLabel(elem.Float())
		default:
			y, ok = parseLabel(elem.String())
		}
		if !ok {
			return nil, fmt.Errorf("%w: row %d has %q", ErrLabelUnparseable, i, elem.String())
		}
		out[i] = y
	}
	return out, nil
}

// Features returns df without the target column.
func Features(df dataframe.DataFrame, target string) dataframe.DataFrame {
	if !slices.Contains(df.Names(), target) {
		return df
	}
	return df.Drop(target)
}

func parseLabel(s string) (int, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "benign", "false":
		return 0, true
	case "malicious", "true":
		return 1, true
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, false
	}
	return numericLabel(v)
}

func numericLabel(v float64) (int, bool) {
	switch v {
	case 0:
		return 0, true
	case 1:
		return 1, true
	}
	return 0, false
}

func boolLabel(b bool) int {
	if b {
		return 1
	}
	return 0
}
