package dataset

import (
	"math"
	"strconv"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
)

// Field is one named value of a record.
type Field struct {
	Name  string
	Value string
}

// Record is a row as an ordered list of fields, in column order.
type Record []Field

// Records converts every row of df, formatting cells with FormatCell.
func Records(df dataframe.DataFrame) []Record {
	names := df.Names()
	cols := make([]series.Series, len(names))
	for j, name := range names {
		cols[j] = df.Col(name)
	}

	out := make([]Record, df.Nrow())
	for i := range out {
		rec := make(Record, len(names))
		for j, name := range names {
			rec[j] = Field{Name: name, Value: FormatCell(cols[j], i)}
		}
		out[i] = rec
	}
	return out
}

// FormatCell renders row i of s. Missing values render as "nan" and
// floats use the shortest representation that round-trips.
func FormatCell(s series.Series, i int) string {
	elem := s.Elem(i)
	if elem.IsNA() {
		return "nan"
	}
	switch s.Type() {
	case series.Float:
		v := elem.Float()
		if math.IsNaN(v) {
			return "nan"
		}
		return strconv.FormatFloat(v, 'g', -1, 64)
	case series.Bool:
		b, _ := elem.Bool()
		return strconv.FormatBool(b)
	default:
		return elem.String()
	}
}

// Column returns every cell of the named column formatted as text.
func Column(df dataframe.DataFrame, name string) []string {
	col := df.Col(name)
	out := make([]string, col.Len())
	for i := range out {
		out[i] = FormatCell(col, i)
	}
	return out
}
