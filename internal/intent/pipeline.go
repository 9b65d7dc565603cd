// Package intent fine-tunes a transformer sequence classifier on
// network records serialized as "[field=value]" token strings and
// scores it against the same stratified split as the baseline.
package intent

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/go-gota/gota/dataframe"

	"github.com/cvalentine99/nfa-intent/internal/config"
	"github.com/cvalentine99/nfa-intent/internal/dataset"
	"github.com/cvalentine99/nfa-intent/internal/eval"
	"github.com/cvalentine99/nfa-intent/internal/features"
	"github.com/cvalentine99/nfa-intent/internal/integrity"
	"github.com/cvalentine99/nfa-intent/internal/jsonio"
	"github.com/cvalentine99/nfa-intent/internal/logging"
	"github.com/cvalentine99/nfa-intent/internal/metrics"
	"github.com/cvalentine99/nfa-intent/internal/models"
)

// PipelineName labels manifests and metrics of this pipeline.
const PipelineName = "intent"

// Deps are the pretrained components the pipeline drives.
type Deps struct {
	Tokenizer SubwordEncoder
	Trainer   Trainer
}

// NewDeps builds the tokenizer and the configured trainer backend.
func NewDeps(cfg config.IntentConfig) (Deps, error) {
	if cfg.Backend != BackendLocal && cfg.Backend != BackendSidecar {
		return Deps{}, fmt.Errorf("intent: unknown trainer backend %q", cfg.Backend)
	}
	tk, err := NewWordPiece(cfg.TokenizerPath, cfg.MaxSeqLen)
	if err != nil {
		return Deps{}, err
	}

	if cfg.Backend == BackendSidecar {
		tr, err := NewSidecarTrainer(DefaultSidecarConfig(cfg.SidecarAddress, cfg.SidecarTimeout))
		if err != nil {
			return Deps{}, err
		}
		return Deps{Tokenizer: tk, Trainer: tr}, nil
	}

	enc, err := NewONNXEncoder(DefaultONNXConfig(cfg.ONNXLibraryPath, cfg.ModelPath))
	if err != nil {
		return Deps{}, err
	}
	return Deps{Tokenizer: tk, Trainer: NewLocalTrainer(enc)}, nil
}

// Texts returns the text of every row: textCol when given, otherwise the
// field-token corpus of all columns except the target.
func Texts(df dataframe.DataFrame, textCol, target string) ([]string, error) {
	if textCol == "" {
		return features.Corpus(df, target), nil
	}
	if !slices.Contains(df.Names(), textCol) {
		return nil, fmt.Errorf("intent: text column %q missing", textCol)
	}
	return dataset.Column(df, textCol), nil
}

// Pipeline runs the fine-tuning pipeline end to end.
type Pipeline struct {
	Config  *config.Config
	Paths   *config.PathConfig
	Deps    Deps
	Metrics *metrics.RunMetrics
	Logger  *logging.Logger

	// InputPath is fingerprinted into the manifest when set
	InputPath string
}

// New creates a pipeline writing under the directories of cfg.
func New(cfg *config.Config, deps Deps) *Pipeline {
	return &Pipeline{
		Config:  cfg,
		Paths:   cfg.PathConfig(),
		Deps:    deps,
		Metrics: metrics.NewRunMetrics(PipelineName),
		Logger:  logging.IntentLogger(),
	}
}

// TrainAndEval runs the pipeline with cfg and deps and writes its report.
func TrainAndEval(ctx context.Context, df dataframe.DataFrame, textCol string, cfg *config.Config, deps Deps) (*models.IntentReport, error) {
	return New(cfg, deps).TrainAndEval(ctx, df, textCol)
}

// TrainAndEval builds texts, splits them stratified by label, encodes
// each split, fine-tunes, scores validation and test, then writes the
// report and the run manifest.
func (p *Pipeline) TrainAndEval(ctx context.Context, df dataframe.DataFrame, textCol string) (*models.IntentReport, error) {
	cfg := p.Config
	icfg := cfg.Intent
	run := integrity.NewRun(PipelineName, icfg.ModelName, cfg.Seed)
	run.InputPath = p.InputPath
	log := p.Logger.With(logging.RunIDKey, run.ID, logging.ModelNameKey, icfg.ModelName)

	y, err := dataset.Labels(df, cfg.TargetColumn)
	if err != nil {
		return nil, err
	}
	texts, err := Texts(df, textCol, cfg.TargetColumn)
	if err != nil {
		return nil, err
	}
	idx, err := dataset.StratifiedSplit(y, cfg.Seed)
	if err != nil {
		return nil, err
	}

	stop := logging.Timer(log, "splits encoded", logging.OperationKey, "encode")
	parts := map[string]*Dataset{}
	for _, part := range []struct {
		name string
		rows []int
	}{
		{models.SplitTrain, idx.Train},
		{models.SplitVal, idx.Val},
		{models.SplitTest, idx.Test},
	} {
		inputs, err := EncodeAll(p.Deps.Tokenizer, dataset.TakeStrings(texts, part.rows))
		if err != nil {
			return nil, fmt.Errorf("intent: encode %s split: %w", part.name, err)
		}
		parts[part.name] = &Dataset{Inputs: inputs, Labels: dataset.TakeInts(y, part.rows)}
		run.Rows[part.name] = len(part.rows)
		p.Metrics.SetRows(part.name, len(part.rows))
	}
	p.Metrics.ObserveStage("encode", stop())

	args := TrainingArgs{
		OutputDir:      p.Paths.CheckpointDir(),
		ModelName:      icfg.ModelName,
		Epochs:         icfg.Epochs,
		TrainBatchSize: icfg.TrainBatchSize,
		EvalBatchSize:  icfg.EvalBatchSize,
		LearningRate:   icfg.TrainerLearningRate(),
		WeightDecay:    icfg.WeightDecay,
		Seed:           cfg.Seed,
		LoggingSteps:   icfg.LoggingSteps,
	}
	log.Info("fine-tuning",
		logging.SamplesKey, parts[models.SplitTrain].Len(),
		logging.EpochKey, args.Epochs,
		logging.PathKey, args.OutputDir,
	)

	stop = logging.Timer(log, "fine-tuning finished", logging.OperationKey, "fine-tune")
	trained, err := p.Deps.Trainer.Train(ctx, args, *parts[models.SplitTrain], *parts[models.SplitVal])
	if err != nil {
		return nil, fmt.Errorf("intent: fine-tune: %w", err)
	}
	p.Metrics.ObserveStage("fine-tune", stop())
	run.Checkpoints = trained.Checkpoints

	report := &models.IntentReport{}
	stop = logging.Timer(log, "splits scored", logging.OperationKey, "score")
	for _, part := range []struct {
		name string
		dst  *models.Scores
	}{
		{models.SplitVal, &report.Val},
		{models.SplitTest, &report.Test},
	} {
		res, err := p.score(ctx, *parts[part.name])
		if err != nil {
			return nil, fmt.Errorf("intent: score %s: %w", part.name, err)
		}
		*part.dst = res.Scores(models.MetricAP, models.MetricF1)
		if res.HasROCAUC {
			run.Extra[part.name] = res.Scores(models.MetricROCAUC)
		}
		p.Metrics.SetScores(part.name, res.Scores(models.MetricAP, models.MetricF1, models.MetricROCAUC))
		log.Info("split scored", logging.Scores(part.name, *part.dst))
	}
	p.Metrics.ObserveStage("score", stop())

	reportPath := p.Paths.IntentReportPath()
	if err := jsonio.WriteFile(reportPath, report); err != nil {
		return nil, fmt.Errorf("intent: %w", err)
	}
	manifest, err := run.Finish(p.Paths.ManifestDir(), reportPath)
	if err != nil {
		return nil, fmt.Errorf("intent: %w", err)
	}
	p.Metrics.MarkSuccess(time.Now())

	log.Info("report written", logging.PathKey, reportPath, "manifest", manifest)
	return report, nil
}

// Probabilities converts logits to class-1 probabilities.
func Probabilities(logits [][]float64) []float64 {
	out := make([]float64, len(logits))
	for i, l := range logits {
		out[i] = Softmax(l)[1]
	}
	return out
}

func (p *Pipeline) score(ctx context.Context, d Dataset) (eval.Result, error) {
	logits, err := p.Deps.Trainer.Predict(ctx, p.Config.Intent.EvalBatchSize, d.Inputs)
	if err != nil {
		return eval.Result{}, err
	}
	return eval.Evaluate(d.Labels, Probabilities(logits), p.Config.Intent.Threshold)
}
