package intent

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand/v2"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/go-gota/gota/dataframe"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cvalentine99/nfa-intent/internal/config"
	"github.com/cvalentine99/nfa-intent/internal/jsonio"
	"github.com/cvalentine99/nfa-intent/internal/logging"
	"github.com/cvalentine99/nfa-intent/internal/models"
)

const (
	testMaxLen   = 16
	maliciousTok = "[ip.proto=udp]"
)

// wordID maps a whitespace token to a stable id above the special ids.
func wordID(word string) int64 {
	h := fnv.New32a()
	h.Write([]byte(word))
	return 10 + int64(h.Sum32()%50000)
}

// spaceTokenizer treats every whitespace-separated word as one subword.
type spaceTokenizer struct{}

func (spaceTokenizer) Encode(text string) (Encoded, error) {
	var ids []int64
	for _, w := range strings.Fields(text) {
		ids = append(ids, wordID(w))
	}
	return frame(ids, 1, 2, 0, testMaxLen), nil
}

// markerEncoder embeds a sequence as [has marker, lacks marker].
type markerEncoder struct {
	marker int64
	closed bool
}

func (e *markerEncoder) Embed(ctx context.Context, batch []Encoded) ([][]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([][]float64, len(batch))
	for i, in := range batch {
		if slices.Contains(in.IDs, e.marker) {
			out[i] = []float64{1, 0}
		} else {
			out[i] = []float64{0, 1}
		}
	}
	return out, nil
}

func (e *markerEncoder) Dim() int { return 2 }

func (e *markerEncoder) Close() error {
	e.closed = true
	return nil
}

// packetFrame builds a balanced frame where malicious rows are UDP.
func packetFrame(n int) dataframe.DataFrame {
	rng := rand.New(rand.NewPCG(3, 4))
	records := [][]string{{"ip.proto", "tcp.dstport", "duration", "label"}}
	for i := 0; i < n; i++ {
		label := i % 2
		proto := "tcp"
		if label == 1 {
			proto = "udp"
		}
		records = append(records, []string{
			proto,
			fmt.Sprint(1024 + rng.IntN(2000)),
			fmt.Sprintf("%.3f", rng.Float64()),
			fmt.Sprint(label),
		})
	}
	return dataframe.LoadRecords(records)
}

func testConfig(root string) *config.Config {
	cfg := config.Default()
	cfg.Paths.Data = filepath.Join(root, "data")
	cfg.Paths.Staging = filepath.Join(root, "staging")
	cfg.Paths.Out = filepath.Join(root, "out")
	cfg.Intent.HeadLearningRate = 0.5
	cfg.Intent.WeightDecay = 0
	cfg.Intent.LoggingSteps = 1
	return cfg
}

func localDeps() (Deps, *markerEncoder) {
	enc := &markerEncoder{marker: wordID(maliciousTok)}
	tr := NewLocalTrainer(enc)
	tr.SetLogger(logging.Discard())
	return Deps{Tokenizer: spaceTokenizer{}, Trainer: tr}, enc
}

func newPipeline(root string, deps Deps) *Pipeline {
	p := New(testConfig(root), deps)
	p.Logger = logging.Discard()
	return p
}

func TestFrameTruncatesAndPads(t *testing.T) {
	enc := frame([]int64{7, 8, 9, 10}, 1, 2, 0, 5)
	assert.Equal(t, []int64{1, 7, 8, 9, 2}, enc.IDs)
	assert.Equal(t, []int64{1, 1, 1, 1, 1}, enc.Mask)
	assert.Equal(t, 3, enc.ContentTokens)

	enc = frame([]int64{7}, 1, 2, 0, 6)
	assert.Equal(t, []int64{1, 7, 2, 0, 0, 0}, enc.IDs)
	assert.Equal(t, []int64{1, 1, 1, 0, 0, 0}, enc.Mask)
	assert.Equal(t, 1, enc.ContentTokens)

	enc = frame(nil, 1, 2, 0, 4)
	assert.Equal(t, []int64{1, 2, 0, 0}, enc.IDs)
	assert.Zero(t, enc.ContentTokens)
}

func TestEncodeAllRejectsEmptyText(t *testing.T) {
	_, err := EncodeAll(spaceTokenizer{}, []string{"[ip.src=10.0.0.1]", "  "})
	require.ErrorIs(t, err, ErrEmptyText)
	assert.Contains(t, err.Error(), "row 1")

	out, err := EncodeAll(spaceTokenizer{}, []string{"[a=1] [b=2]"})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, 2, out[0].ContentTokens)
	assert.Len(t, out[0].IDs, testMaxLen)
}

func TestSoftmax(t *testing.T) {
	p := Softmax([]float64{0, 0})
	assert.InDeltaSlice(t, []float64{0.5, 0.5}, p, 1e-12)

	p = Softmax([]float64{1000, 0})
	assert.InDelta(t, 1, p[0], 1e-12)
	assert.InDelta(t, 1, p[0]+p[1], 1e-12)

	assert.InDeltaSlice(t, []float64{0.5, 1 / (1 + 1/2.718281828459045)},
		Probabilities([][]float64{{3, 3}, {0, 1}}), 1e-9)
}

func TestAdamWLearnsSeparableSet(t *testing.T) {
	xs := [][]float64{{1, 0}, {0, 1}, {1, 0}, {0, 1}}
	ys := []int{1, 0, 1, 0}

	h := NewHead(2, rand.New(rand.NewPCG(1, 1)))
	opt := NewAdamW(2, 0.01)
	var gw [NumLabels][]float64
	for c := range gw {
		gw[c] = make([]float64, 2)
	}
	var gb [NumLabels]float64

	first := h.lossAndGrad(xs, ys, &gw, &gb)
	for i := 0; i < 200; i++ {
		h.lossAndGrad(xs, ys, &gw, &gb)
		opt.Step(h, &gw, &gb, 0.05)
	}
	last := meanLoss(h, xs, ys)

	assert.Less(t, last, first/10)
	mal := h.Logits([]float64{1, 0})
	ben := h.Logits([]float64{0, 1})
	assert.Greater(t, mal[1], mal[0])
	assert.Greater(t, ben[0], ben[1])
}

func TestLocalTrainerCheckpointsEachEpoch(t *testing.T) {
	root := t.TempDir()
	deps, enc := localDeps()
	report, err := newPipeline(root, deps).TrainAndEval(context.Background(), packetFrame(100), "")
	require.NoError(t, err)

	// every malicious row carries the marker token, so ranking is perfect
	assert.Equal(t, 1.0, report.Val[models.MetricAP])
	assert.Equal(t, 1.0, report.Test[models.MetricAP])
	for _, s := range []models.Scores{report.Val, report.Test} {
		assert.Len(t, s, 2)
		assert.GreaterOrEqual(t, s[models.MetricF1], 0.0)
		assert.LessOrEqual(t, s[models.MetricF1], 1.0)
	}

	ckptRoot := filepath.Join(root, "staging", "llm_cls")
	for _, epoch := range []string{"checkpoint-1", "checkpoint-2"} {
		var ckpt checkpoint
		require.NoError(t, jsonio.ReadFile(filepath.Join(ckptRoot, epoch, "head.json"), &ckpt), epoch)
		require.NotNil(t, ckpt.Head, epoch)
		assert.Len(t, ckpt.Head.Weights[0], 2)
		assert.Equal(t, epoch, "checkpoint-"+fmt.Sprint(ckpt.Epoch))
	}
	_, err = os.Stat(filepath.Join(ckptRoot, "checkpoint-3"))
	assert.True(t, os.IsNotExist(err))

	var onDisk models.IntentReport
	require.NoError(t, jsonio.ReadFile(filepath.Join(root, "out", "llm_intent_report.json"), &onDisk))
	assert.Equal(t, *report, onDisk)

	manifests, err := filepath.Glob(filepath.Join(root, "staging", "manifests", "*.json"))
	require.NoError(t, err)
	require.Len(t, manifests, 1)
	var m models.Manifest
	require.NoError(t, jsonio.ReadFile(manifests[0], &m))
	assert.Equal(t, PipelineName, m.Pipeline)
	assert.Equal(t, map[string]int{"train": 70, "val": 15, "test": 15}, m.Rows)
	assert.Len(t, m.Checkpoints, 2)
	assert.Equal(t, 1.0, m.Extra[models.SplitTest][models.MetricROCAUC])

	require.NoError(t, deps.Trainer.Close())
	assert.True(t, enc.closed)
}

func TestTrainAndEvalTextColumn(t *testing.T) {
	records := [][]string{{"summary", "label"}}
	for i := 0; i < 40; i++ {
		if i%2 == 1 {
			records = append(records, []string{"beacon " + maliciousTok, "malicious"})
		} else {
			records = append(records, []string{"login ok", "benign"})
		}
	}
	df := dataframe.LoadRecords(records)

	deps, _ := localDeps()
	report, err := newPipeline(t.TempDir(), deps).TrainAndEval(context.Background(), df, "summary")
	require.NoError(t, err)
	assert.Equal(t, 1.0, report.Test[models.MetricAP])
}

func TestTrainAndEvalErrors(t *testing.T) {
	deps, _ := localDeps()

	t.Run("missing text column", func(t *testing.T) {
		_, err := newPipeline(t.TempDir(), deps).TrainAndEval(context.Background(), packetFrame(20), "summary")
		assert.ErrorContains(t, err, `text column "summary" missing`)
	})

	t.Run("no protocol fields", func(t *testing.T) {
		df := packetFrame(20).Select([]string{"duration", "label"})
		_, err := newPipeline(t.TempDir(), deps).TrainAndEval(context.Background(), df, "")
		assert.ErrorIs(t, err, ErrEmptyText)
		assert.ErrorContains(t, err, "train split")
	})

	t.Run("cancelled", func(t *testing.T) {
		root := t.TempDir()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := newPipeline(root, deps).TrainAndEval(ctx, packetFrame(40), "")
		assert.ErrorIs(t, err, context.Canceled)
		_, statErr := os.Stat(filepath.Join(root, "out", "llm_intent_report.json"))
		assert.True(t, os.IsNotExist(statErr))
	})
}

func TestLocalTrainerPredictBeforeTrain(t *testing.T) {
	tr := NewLocalTrainer(&markerEncoder{})
	_, err := tr.Predict(context.Background(), 8, nil)
	assert.ErrorIs(t, err, ErrNotTrained)
}

func TestValidateArgs(t *testing.T) {
	good := TrainingArgs{OutputDir: "x", Epochs: 1, TrainBatchSize: 1, EvalBatchSize: 1, LearningRate: 1e-5}
	require.NoError(t, validateArgs(good))

	for name, mutate := range map[string]func(*TrainingArgs){
		"epochs": func(a *TrainingArgs) { a.Epochs = 0 },
		"batch":  func(a *TrainingArgs) { a.EvalBatchSize = 0 },
		"lr":     func(a *TrainingArgs) { a.LearningRate = 0 },
		"output": func(a *TrainingArgs) { a.OutputDir = "" },
	} {
		args := good
		mutate(&args)
		assert.Error(t, validateArgs(args), name)
	}
}

func TestNewDepsUnknownBackend(t *testing.T) {
	cfg := config.DefaultIntentConfig()
	cfg.Backend = "tpu"
	cfg.TokenizerPath = filepath.Join(t.TempDir(), "missing.json")
	_, err := NewDeps(cfg)
	assert.ErrorContains(t, err, `unknown trainer backend "tpu"`)

	cfg.Backend = BackendSidecar
	_, err = NewDeps(cfg)
	assert.ErrorContains(t, err, "load tokenizer")
}
