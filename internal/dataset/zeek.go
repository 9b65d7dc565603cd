package dataset

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/goccy/go-json"

	"github.com/cvalentine99/nfa-intent/internal/logging"
)

// missingCell marks a column a record did not carry.
const missingCell = "NaN"

// LoadZeekFolder reads every *.json file in dir (sorted by name) and
// concatenates their records into one frame. A file is either a JSON
// array of objects or newline-delimited objects as Zeek writes them.
// Nested objects are flattened with "." and columns appear in the order
// they are first seen.
func LoadZeekFolder(dir string) (dataframe.DataFrame, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return dataframe.DataFrame{}, fmt.Errorf("dataset: glob %s: %w", dir, err)
	}
	if len(files) == 0 {
		return dataframe.DataFrame{}, fmt.Errorf("dataset: no Zeek JSON under %s: %w", dir, fs.ErrNotExist)
	}
	sort.Strings(files)
	return loadZeekFiles(files)
}

// flatTable accumulates flattened rows with a first-seen column order.
type flatTable struct {
	columns []string
	index   map[string]int
	rows    []map[string]string
}

func newFlatTable() *flatTable {
	return &flatTable{index: make(map[string]int)}
}

func (t *flatTable) set(row map[string]string, name, value string) {
	if _, ok := t.index[name]; !ok {
		t.index[name] = len(t.columns)
		t.columns = append(t.columns, name)
	}
	row[name] = value
}

func (t *flatTable) records() [][]string {
	out := make([][]string, 0, len(t.rows)+1)
	out = append(out, append([]string(nil), t.columns...))
	for _, row := range t.rows {
		rec := make([]string, len(t.columns))
		for j, name := range t.columns {
			if v, ok := row[name]; ok {
				rec[j] = v
			} else {
				rec[j] = missingCell
			}
		}
		out = append(out, rec)
	}
	return out
}

func loadZeekFiles(files []string) (dataframe.DataFrame, error) {
	table := newFlatTable()
	for _, path := range files {
		if err := readZeekFile(path, table); err != nil {
			return dataframe.DataFrame{}, err
		}
	}
	if len(table.rows) == 0 {
		return dataframe.DataFrame{}, fmt.Errorf("dataset: Zeek files contain no records: %w", fs.ErrNotExist)
	}

	df := dataframe.LoadRecords(table.records(),
		dataframe.HasHeader(true),
		dataframe.DetectTypes(true),
		dataframe.WithTypes(map[string]series.Type{PayloadColumn: series.String}),
	)
	if df.Err != nil {
		return dataframe.DataFrame{}, fmt.Errorf("dataset: build Zeek frame: %w", df.Err)
	}

	logging.DatasetLogger().Info("loaded zeek logs",
		"files", len(files),
		logging.Shape(df.Nrow(), df.Ncol()),
	)
	return df, nil
}

func readZeekFile(path string, table *flatTable) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("dataset: open %s: %w", path, err)
	}
	defer f.Close()

	dec := json.NewDecoder(bufio.NewReader(f))
	dec.UseNumber()

	first, err := dec.Token()
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("dataset: read %s: %w", path, err)
	}

	switch first {
	case json.Delim('['):
		for dec.More() {
			if err := expectDelim(dec, '{'); err != nil {
				return fmt.Errorf("dataset: %s: %w", path, err)
			}
			if err := readRecord(dec, table); err != nil {
				return fmt.Errorf("dataset: %s: %w", path, err)
			}
		}
		if err := expectDelim(dec, ']'); err != nil {
			return fmt.Errorf("dataset: %s: %w", path, err)
		}
	case json.Delim('{'):
		// newline-delimited objects
		for {
			if err := readRecord(dec, table); err != nil {
				return fmt.Errorf("dataset: %s: %w", path, err)
			}
			err := expectDelim(dec, '{')
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return fmt.Errorf("dataset: %s: %w", path, err)
			}
		}
	default:
		return fmt.Errorf("dataset: %s: expected an array or objects, got %v", path, first)
	}
	return nil
}

// readRecord consumes one object whose opening brace was already read.
func readRecord(dec *json.Decoder, table *flatTable) error {
	row := make(map[string]string)
	if err := readObject(dec, "", row, table); err != nil {
		return err
	}
	table.rows = append(table.rows, row)
	return nil
}

func readObject(dec *json.Decoder, prefix string, row map[string]string, table *flatTable) error {
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("object key is %T", tok)
		}
		if err := readValue(dec, prefix+key, row, table); err != nil {
			return err
		}
	}
	return expectDelim(dec, '}')
}

func readValue(dec *json.Decoder, name string, row map[string]string, table *flatTable) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	switch v := tok.(type) {
	case json.Delim:
		if v == '{' {
			return readObject(dec, name+".", row, table)
		}
		// arrays are kept whole as compact JSON text
		list, err := readArray(dec)
		if err != nil {
			return err
		}
		data, err := json.Marshal(list)
		if err != nil {
			return err
		}
		table.set(row, name, string(data))
	case string:
		table.set(row, name, v)
	case json.Number:
		table.set(row, name, v.String())
	case bool:
		if v {
			table.set(row, name, "true")
		} else {
			table.set(row, name, "false")
		}
	case nil:
		table.set(row, name, missingCell)
	default:
		table.set(row, name, fmt.Sprint(v))
	}
	return nil
}

// readArray decodes the remainder of an array into plain values.
func readArray(dec *json.Decoder) ([]any, error) {
	out := []any{}
	for dec.More() {
		v, err := readAny(dec)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := expectDelim(dec, ']'); err != nil {
		return nil, err
	}
	return out, nil
}

func readAny(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	d, ok := tok.(json.Delim)
	if !ok {
		return tok, nil
	}
	if d == '[' {
		return readArray(dec)
	}
	obj := make(map[string]any)
	for dec.More() {
		key, err := dec.Token()
		if err != nil {
			return nil, err
		}
		v, err := readAny(dec)
		if err != nil {
			return nil, err
		}
		obj[fmt.Sprint(key)] = v
	}
	if err := expectDelim(dec, '}'); err != nil {
		return nil, err
	}
	return obj, nil
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("expected %q, got %v", want, tok)
	}
	return nil
}
