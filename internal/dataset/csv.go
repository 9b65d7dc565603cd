// Package dataset loads labelled network-traffic tables and splits them
// into stratified train, validation and test partitions.
package dataset

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"

	"github.com/cvalentine99/nfa-intent/internal/logging"
)

// PayloadColumn holds hex-encoded packet payloads. It is always read as
// a string column so hex such as "0012" is not parsed as a number.
const PayloadColumn = "payload"

// ErrUnsupportedFormat is returned by Load for content it cannot dispatch.
var ErrUnsupportedFormat = errors.New("dataset: unsupported input format")

// FindFirstCSV returns the lexicographically first *.csv file directly
// inside root.
func FindFirstCSV(root string) (string, error) {
	found, err := filepath.Glob(filepath.Join(root, "*.csv"))
	if err != nil {
		return "", fmt.Errorf("dataset: glob %s: %w", root, err)
	}
	if len(found) == 0 {
		return "", fmt.Errorf("dataset: place a labelled CSV in %s: %w", root, fs.ErrNotExist)
	}
	sort.Strings(found)
	return found[0], nil
}

// LoadCSV reads a CSV file with a header row, detecting column types.
func LoadCSV(path string, opts ...dataframe.LoadOption) (dataframe.DataFrame, error) {
	f, err := os.Open(path)
	if err != nil {
		return dataframe.DataFrame{}, fmt.Errorf("dataset: open %s: %w", path, err)
	}
	defer f.Close()

	options := []dataframe.LoadOption{
		dataframe.HasHeader(true),
		dataframe.DetectTypes(true),
		dataframe.WithTypes(map[string]series.Type{PayloadColumn: series.String}),
	}
	options = append(options, opts...)

	df := dataframe.ReadCSV(f, options...)
	if df.Err != nil {
		return dataframe.DataFrame{}, fmt.Errorf("dataset: parse %s: %w", path, df.Err)
	}

	logging.DatasetLogger().Info("loaded csv",
		logging.PathKey, path,
		logging.Shape(df.Nrow(), df.Ncol()),
	)
	return df, nil
}

// Load opens a dataset by sniffing its content: CSV, a Zeek JSON array,
// NDJSON, or a pcap capture (read without a label column). A directory
// with benign/ or malicious/ class folders is read as labelled captures;
// any other directory is treated as a Zeek log folder.
func Load(path string) (dataframe.DataFrame, error) {
	info, err := os.Stat(path)
	if err != nil {
		return dataframe.DataFrame{}, fmt.Errorf("dataset: stat %s: %w", path, err)
	}
	if info.IsDir() {
		if IsCaptureDir(path) {
			return LoadCaptureDir(path)
		}
		return LoadZeekFolder(path)
	}

	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return dataframe.DataFrame{}, fmt.Errorf("dataset: detect type of %s: %w", path, err)
	}

	logging.DatasetLogger().Debug("detected input type",
		logging.PathKey, path,
		"mime", mtype.String(),
	)

	ext := strings.ToLower(filepath.Ext(path))
	switch {
	case mtype.Is("text/csv") || ext == ".csv":
		return LoadCSV(path)
	case mtype.Is("application/json") || mtype.Is("application/x-ndjson") ||
		ext == ".json" || ext == ".ndjson" || ext == ".log":
		return loadZeekFiles([]string{path})
	case mtype.Is("application/vnd.tcpdump.pcap") || ext == ".pcap" || ext == ".pcapng":
		return LoadPCAP(path, NoLabel)
	default:
		return dataframe.DataFrame{}, fmt.Errorf("%w: %s (%s)", ErrUnsupportedFormat, path, mtype.String())
	}
}
