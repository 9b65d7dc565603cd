package baseline

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cvalentine99/nfa-intent/internal/config"
	"github.com/cvalentine99/nfa-intent/internal/dataset"
	"github.com/cvalentine99/nfa-intent/internal/jsonio"
	"github.com/cvalentine99/nfa-intent/internal/logging"
	"github.com/cvalentine99/nfa-intent/internal/models"
)

// flowsCSV writes a 100-row balanced dataset with five numeric and two
// categorical feature columns.
func flowsCSV(t *testing.T, dir string) string {
	t.Helper()
	rng := rand.New(rand.NewPCG(1, 2))
	protos := []string{"tcp", "udp", "icmp"}
	services := []string{"http", "dns", "ssh"}

	var b strings.Builder
	b.WriteString("duration,bytes,packets,ttl,entropy,proto,service,label\n")
	for i := 0; i < 100; i++ {
		label := i % 2
		shift := float64(label) * 3
		fmt.Fprintf(&b, "%.3f,%d,%d,%d,%.4f,%s,%s,%d\n",
			rng.Float64()+shift,
			200+rng.IntN(800)+label*500,
			1+rng.IntN(20),
			[]int{64, 128}[rng.IntN(2)],
			rng.Float64()*8,
			protos[rng.IntN(3)],
			services[(i/2)%3],
			label,
		)
	}
	path := filepath.Join(dir, "flows.csv")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0644))
	return path
}

func testConfig(root string) *config.Config {
	cfg := config.Default()
	cfg.Paths.Data = filepath.Join(root, "data")
	cfg.Paths.Staging = filepath.Join(root, "staging")
	cfg.Paths.Out = filepath.Join(root, "out")
	return cfg
}

func run(t *testing.T, df dataframe.DataFrame, root, input string) *models.BaselineReport {
	t.Helper()
	p := New(testConfig(root))
	p.Logger = logging.Discard()
	p.InputPath = input
	report, err := p.TrainAndEval(context.Background(), df)
	require.NoError(t, err)
	return report
}

func TestTrainAndEvalEndToEnd(t *testing.T) {
	root := t.TempDir()
	input := flowsCSV(t, root)
	df, err := dataset.LoadCSV(input)
	require.NoError(t, err)

	report := run(t, df, root, input)

	assert.Len(t, report.FeatureNames, 7)
	assert.Equal(t, []string{"proto", "service"}, report.CatCols)
	assert.Equal(t, []string{"duration", "bytes", "packets", "ttl", "entropy"}, report.NumCols)

	for name, scores := range map[string]models.Scores{"val": report.Val, "test": report.Test} {
		for _, metric := range []string{models.MetricAP, models.MetricPrecision, models.MetricRecall, models.MetricF1} {
			v, ok := scores[metric]
			require.True(t, ok, "%s.%s missing", name, metric)
			assert.False(t, math.IsNaN(v) || math.IsInf(v, 0), "%s.%s = %v", name, metric, v)
			assert.GreaterOrEqual(t, v, 0.0)
			assert.LessOrEqual(t, v, 1.0)
		}
		assert.Len(t, scores, 4)
	}

	// the report on disk matches the returned value
	var onDisk models.BaselineReport
	require.NoError(t, jsonio.ReadFile(filepath.Join(root, "out", "baseline_lgbm_report.json"), &onDisk))
	assert.Equal(t, *report, onDisk)

	manifests, err := filepath.Glob(filepath.Join(root, "staging", "manifests", "*.json"))
	require.NoError(t, err)
	require.Len(t, manifests, 1)

	var m models.Manifest
	require.NoError(t, jsonio.ReadFile(manifests[0], &m))
	assert.Equal(t, PipelineName, m.Pipeline)
	assert.Equal(t, map[string]int{"train": 70, "val": 15, "test": 15}, m.Rows)
	assert.Len(t, m.ReportBLAKE3, 64)
	assert.Len(t, m.InputBLAKE3, 64)
}

func TestTrainAndEvalReproducible(t *testing.T) {
	root := t.TempDir()
	input := flowsCSV(t, root)
	df, err := dataset.LoadCSV(input)
	require.NoError(t, err)

	first := run(t, df, filepath.Join(root, "a"), "")
	second := run(t, df, filepath.Join(root, "b"), "")
	assert.Equal(t, first, second)

	a, err := os.ReadFile(filepath.Join(root, "a", "out", "baseline_lgbm_report.json"))
	require.NoError(t, err)
	b, err := os.ReadFile(filepath.Join(root, "b", "out", "baseline_lgbm_report.json"))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestPrepareSplits(t *testing.T) {
	root := t.TempDir()
	df, err := dataset.LoadCSV(flowsCSV(t, root))
	require.NoError(t, err)

	s, err := PrepareSplits(df, testConfig(root))
	require.NoError(t, err)
	assert.Equal(t, 70, s.XTrain.Nrow())
	assert.Equal(t, 15, s.XVal.Nrow())
	assert.Equal(t, 15, s.XTest.Nrow())
	assert.NotContains(t, s.XTrain.Names(), "label")
	assert.True(t, s.Preprocessor.Fitted())

	seen := map[string]bool{}
	for _, c := range append(append([]string(nil), s.CatCols...), s.NumCols...) {
		assert.False(t, seen[c])
		seen[c] = true
	}
	assert.Len(t, seen, 7)
}

func TestPrepareSplitsErrors(t *testing.T) {
	cfg := testConfig(t.TempDir())

	noLabel := dataframe.New(series.New([]int{1, 2, 3, 4}, series.Int, "bytes"))
	_, err := PrepareSplits(noLabel, cfg)
	require.ErrorIs(t, err, dataset.ErrMissingLabel)

	bad := dataframe.New(
		series.New([]int{1, 2, 3, 4}, series.Int, "bytes"),
		series.New([]string{"benign", "evil", "benign", "malicious"}, series.String, "label"),
	)
	_, err = PrepareSplits(bad, cfg)
	require.ErrorIs(t, err, dataset.ErrLabelUnparseable)

	lonely := dataframe.New(
		series.New([]int{1, 2, 3, 4}, series.Int, "bytes"),
		series.New([]int{0, 0, 0, 1}, series.Int, "label"),
	)
	_, err = PrepareSplits(lonely, cfg)
	require.ErrorIs(t, err, dataset.ErrTooFewPerClass)
}

func TestTrainAndEvalCancelled(t *testing.T) {
	root := t.TempDir()
	df, err := dataset.LoadCSV(flowsCSV(t, root))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := New(testConfig(root))
	p.Logger = logging.Discard()
	_, err = p.TrainAndEval(ctx, df)
	require.ErrorIs(t, err, context.Canceled)

	_, statErr := os.Stat(filepath.Join(root, "out", "baseline_lgbm_report.json"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestWithPayloadFeatures(t *testing.T) {
	df := dataframe.New(
		series.New([]string{"4142", "", "zz"}, series.String, dataset.PayloadColumn),
		series.New([]int{0, 1, 0}, series.Int, "label"),
	)
	out := WithPayloadFeatures(df)
	assert.Equal(t, []string{"label", "payload_len", "payload_entropy"}, out.Names())
	assert.Equal(t, []float64{2, 0, 0}, out.Col("payload_len").Float())
	assert.Equal(t, []float64{1, 0, 0}, out.Col("payload_entropy").Float())

	plain := dataframe.New(series.New([]int{1}, series.Int, "bytes"))
	assert.Equal(t, plain.Names(), WithPayloadFeatures(plain).Names())
}

func TestTrainAndEvalRelativeParentOutDir(t *testing.T) {
	root := t.TempDir()
	work := filepath.Join(root, "work")
	require.NoError(t, os.Mkdir(work, 0755))
	input := flowsCSV(t, root)
	df, err := dataset.LoadCSV(input)
	require.NoError(t, err)
	t.Chdir(work)

	cfg := testConfig(root)
	cfg.Paths.Out = filepath.Join("..", "out")
	cfg.Paths.Staging = filepath.Join("..", "staging")
	p := New(cfg)
	p.Logger = logging.Discard()
	p.InputPath = filepath.Join("..", "flows.csv")
	_, err = p.TrainAndEval(context.Background(), df)
	require.NoError(t, err)

	manifests, err := filepath.Glob(filepath.Join(root, "staging", "manifests", "*.json"))
	require.NoError(t, err)
	require.Len(t, manifests, 1)
	var m models.Manifest
	require.NoError(t, jsonio.ReadFile(manifests[0], &m))
	assert.Equal(t, filepath.Join(root, "out", "baseline_lgbm_report.json"), m.ReportPath)
	assert.Equal(t, input, m.InputPath)
}
