// Package baseline trains and scores the tabular gradient-boosted-tree
// classifier: Load, Split, Fit, Predict, Score, Persist.
package baseline

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
	"github.com/cvalentine99/nfa-intent/internal/gbdt"
	"github.com/cvalentine99/nfa-intent/internal/integrity"
	"github.com/cvalentine99/nfa-intent/internal/jsonio"
	"github.com/cvalentine99/nfa-intent/internal/logging"
	"github.com/cvalentine99/nfa-intent/internal/metrics"
	"github.com/cvalentine99/nfa-intent/internal/models"
)

// PipelineName labels manifests and metrics of this pipeline.
const PipelineName = "baseline"

// ModelName identifies the classifier in manifests.
const ModelName = "gbdt-histogram"

// Split is the stratified 70/15/15 partition of a dataset together with
// a preprocessor already fitted on the training rows.
type Split struct {
	XTrain, XVal, XTest dataframe.DataFrame
	YTrain, YVal, YTest []int

	FeatureNames []string
	CatCols      []string
	NumCols      []string

	Preprocessor *features.Preprocessor
}

// PrepareSplits coerces labels, splits rows stratified by label with
// cfg.Seed and fits the preprocessor on the training partition only.
func PrepareSplits(df dataframe.DataFrame, cfg *config.Config) (*Split, error) {
	y, err := dataset.Labels(df, cfg.TargetColumn)
	if err != nil {
		return nil, err
	}
	idx, err := dataset.StratifiedSplit(y, cfg.Seed)
	if err != nil {
		return nil, err
	}

	X := dataset.Features(df, cfg.TargetColumn)
	prep, names, cat, num := features.DerivePreprocessor(df, cfg.TargetColumn)

	s := &Split{
		XTrain:       dataset.Take(X, idx.Train),
		XVal:         dataset.Take(X, idx.Val),
		XTest:        dataset.Take(X, idx.Test),
		YTrain:       dataset.TakeInts(y, idx.Train),
		YVal:         dataset.TakeInts(y, idx.Val),
		YTest:        dataset.TakeInts(y, idx.Test),
		FeatureNames: nonNil(names),
		CatCols:      nonNil(cat),
		NumCols:      nonNil(num),
		Preprocessor: prep,
	}
	if err := prep.Fit(s.XTrain); err != nil {
		return nil, fmt.Errorf("baseline: fit preprocessor: %w", err)
	}
	return s, nil
}

// WithPayloadFeatures replaces a hex payload column with its length and
// byte entropy. Frames without one are returned unchanged.
func WithPayloadFeatures(df dataframe.DataFrame) dataframe.DataFrame {
	if !slices.Contains(df.Names(), dataset.PayloadColumn) {
		return df
	}
	return features.AddPayloadFeatures(df, dataset.PayloadColumn).Drop(dataset.PayloadColumn)
}

// Params converts the configured hyper-parameters for the booster.
func Params(cfg config.BaselineConfig) gbdt.Params {
	p := gbdt.DefaultParams()
	p.NEstimators = cfg.NEstimators
	p.LearningRate = cfg.LearningRate
	p.NumLeaves = cfg.NumLeaves
	p.MinChildSamples = cfg.MinChildSamples
	p.MaxBins = cfg.MaxBins
	p.Lambda = cfg.Lambda
	p.ClassWeight = cfg.ClassWeight
	return p
}

// Pipeline runs the baseline end to end and records the run.
type Pipeline struct {
	Config  *config.Config
	Paths   *config.PathConfig
	Metrics *metrics.RunMetrics
	Logger  *logging.Logger

	// InputPath is fingerprinted into the manifest when set
	InputPath string
}

// New creates a pipeline writing under the directories of cfg.
func New(cfg *config.Config) *Pipeline {
	return &Pipeline{
		Config:  cfg,
		Paths:   cfg.PathConfig(),
		Metrics: metrics.NewRunMetrics(PipelineName),
		Logger:  logging.BaselineLogger(),
	}
}

// TrainAndEval runs the baseline with cfg and writes its report.
func TrainAndEval(ctx context.Context, df dataframe.DataFrame, cfg *config.Config) (*models.BaselineReport, error) {
	return New(cfg).TrainAndEval(ctx, df)
}

// TrainAndEval fits the classifier on the training partition, scores
// validation and test, writes the report and the run manifest.
func (p *Pipeline) TrainAndEval(ctx context.Context, df dataframe.DataFrame) (*models.BaselineReport, error) {
	cfg := p.Config
	run := integrity.NewRun(PipelineName, ModelName, cfg.Seed)
	run.InputPath = p.InputPath
	log := p.Logger.With(logging.RunIDKey, run.ID, logging.ModelNameKey, ModelName)

	stop := logging.Timer(log, "split prepared", logging.OperationKey, "split")
	s, err := PrepareSplits(WithPayloadFeatures(df), cfg)
	if err != nil {
		return nil, err
	}
	p.Metrics.ObserveStage("split", stop())

	for split, n := range map[string]int{
		models.SplitTrain: len(s.YTrain),
		models.SplitVal:   len(s.YVal),
		models.SplitTest:  len(s.YTest),
	} {
		run.Rows[split] = n
		p.Metrics.SetRows(split, n)
	}

	xTrain, err := s.Preprocessor.Transform(s.XTrain)
	if err != nil {
		return nil, fmt.Errorf("baseline: encode train: %w", err)
	}
	rows, cols := xTrain.Dims()
	log.Info("training classifier",
		logging.Shape(rows, cols),
		"cat_cols", len(s.CatCols),
		"num_cols", len(s.NumCols),
	)

	clf := gbdt.New(Params(cfg.Baseline))
	clf.SetLogger(log.With(logging.OperationKey, "boost"))
	stop = logging.Timer(log, "classifier fitted", logging.OperationKey, "fit")
	if err := clf.Fit(ctx, xTrain, s.YTrain); err != nil {
		return nil, fmt.Errorf("baseline: fit: %w", err)
	}
	p.Metrics.ObserveStage("fit", stop())

	report := &models.BaselineReport{
		CatCols:      s.CatCols,
		FeatureNames: s.FeatureNames,
		NumCols:      s.NumCols,
	}

	stop = logging.Timer(log, "splits scored", logging.OperationKey, "score")
	for _, part := range []struct {
		name string
		X    dataframe.DataFrame
		y    []int
		dst  *models.Scores
	}{
		{models.SplitVal, s.XVal, s.YVal, &report.Val},
		{models.SplitTest, s.XTest, s.YTest, &report.Test},
	} {
		res, err := p.score(clf, s.Preprocessor, part.X, part.y)
		if err != nil {
			return nil, fmt.Errorf("baseline: score %s: %w", part.name, err)
		}
		*part.dst = res.Scores(models.MetricAP, models.MetricPrecision, models.MetricRecall, models.MetricF1)
		if res.HasROCAUC {
			run.Extra[part.name] = res.Scores(models.MetricROCAUC)
		}
		p.Metrics.SetScores(part.name, res.Scores(
			models.MetricAP, models.MetricPrecision, models.MetricRecall, models.MetricF1, models.MetricROCAUC,
		))
		log.Info("split scored", logging.Scores(part.name, *part.dst))
	}
	p.Metrics.ObserveStage("score", stop())

	logTopFeatures(log, s.Preprocessor, clf)

	reportPath := p.Paths.BaselineReportPath()
	if err := jsonio.WriteFile(reportPath, report); err != nil {
		return nil, fmt.Errorf("baseline: %w", err)
	}
	manifest, err := run.Finish(p.Paths.ManifestDir(), reportPath)
	if err != nil {
		return nil, fmt.Errorf("baseline: %w", err)
	}
	p.Metrics.MarkSuccess(time.Now())

	log.Info("report written", logging.PathKey, reportPath, "manifest", manifest)
	return report, nil
}

func (p *Pipeline) score(clf *gbdt.Classifier, prep *features.Preprocessor, X dataframe.DataFrame, y []int) (eval.Result, error) {
	x, err := prep.Transform(X)
	if err != nil {
		return eval.Result{}, err
	}
	probs, err := clf.PredictProba(x)
	if err != nil {
		return eval.Result{}, err
	}
	return eval.Evaluate(y, probs, p.Config.Baseline.Threshold)
}

// logTopFeatures reports which source columns the trees split on most.
func logTopFeatures(log *logging.Logger, prep *features.Preprocessor, clf *gbdt.Classifier) {
	counts := clf.SplitCounts()
	byColumn := make(map[string]int)
	for i, name := range prep.OutputColumns() {
		if i < len(counts) {
			byColumn[name] += counts[i]
		}
	}
	log.Debug("split usage per column", "splits", byColumn)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
