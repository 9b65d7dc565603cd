package intent

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"path/filepath"
	"strconv"

	"github.com/cvalentine99/nfa-intent/internal/jsonio"
	"github.com/cvalentine99/nfa-intent/internal/logging"
)

// Trainer backends.
const (
	// BackendLocal trains a linear head in process; see LocalTrainer
	BackendLocal   = "local"
	BackendSidecar = "sidecar"
)

// ErrNotTrained is returned by Predict before Train.
var ErrNotTrained = errors.New("intent: trainer has not been trained")

// TrainingArgs mirrors the fine-tuning arguments of the reference run.
type TrainingArgs struct {
	OutputDir      string  `json:"output_dir"`
	ModelName      string  `json:"model_name"`
	Epochs         int     `json:"num_train_epochs"`
	TrainBatchSize int     `json:"per_device_train_batch_size"`
	EvalBatchSize  int     `json:"per_device_eval_batch_size"`
	LearningRate   float64 `json:"learning_rate"`
	WeightDecay    float64 `json:"weight_decay"`
	Seed           int64   `json:"seed"`
	LoggingSteps   int     `json:"logging_steps"`
}

// Dataset pairs encoded sequences with their labels.
type Dataset struct {
	Inputs []Encoded `json:"inputs"`
	Labels []int     `json:"labels,omitempty"`
}

// Len returns the number of sequences.
func (d Dataset) Len() int {
	return len(d.Inputs)
}

// TrainResult summarises a fine-tuning run.
type TrainResult struct {
	Checkpoints []string  `json:"checkpoints"`
	EvalLoss    []float64 `json:"eval_loss"`
}

// Trainer fine-tunes a sequence classifier and predicts logits.
type Trainer interface {
	// Train runs every epoch, evaluating and checkpointing after each.
	Train(ctx context.Context, args TrainingArgs, train, eval Dataset) (TrainResult, error)
	// Predict returns NumLabels logits per input.
	Predict(ctx context.Context, batchSize int, inputs []Encoded) ([][]float64, error)
	Close() error
}

// checkpoint is the on-disk form of a LocalTrainer epoch.
type checkpoint struct {
	Epoch    int     `json:"epoch"`
	Step     int     `json:"global_step"`
	EvalLoss float64 `json:"eval_loss"`
	Head     *Head   `json:"head"`
}

// LocalTrainer fine-tunes a classification head in process on top of a
// frozen pretrained encoder, with AdamW and a linearly decaying rate.
// Only the head moves, so it is driven by intent.head_learning_rate
// rather than the full fine-tuning rate.
type LocalTrainer struct {
	encoder Encoder
	logger  *logging.Logger
	head    *Head
}

// NewLocalTrainer creates a trainer over encoder. The trainer owns the
// encoder and closes it.
func NewLocalTrainer(encoder Encoder) *LocalTrainer {
	return &LocalTrainer{
		encoder: encoder,
		logger:  logging.IntentLogger().With(logging.OperationKey, "fine-tune"),
	}
}

// SetLogger replaces the progress logger.
func (t *LocalTrainer) SetLogger(l *logging.Logger) {
	t.logger = l
}

// Head returns the trained head, or nil before Train.
func (t *LocalTrainer) Head() *Head {
	return t.head
}

func (t *LocalTrainer) embed(ctx context.Context, inputs []Encoded, batchSize int) ([][]float64, error) {
	out := make([][]float64, 0, len(inputs))
	for start := 0; start < len(inputs); start += batchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(start+batchSize, len(inputs))
		vecs, err := t.encoder.Embed(ctx, inputs[start:end])
		if err != nil {
			return nil, fmt.Errorf("intent: embed rows %d-%d: %w", start, end, err)
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// Train implements Trainer.
func (t *LocalTrainer) Train(ctx context.Context, args TrainingArgs, train, eval Dataset) (TrainResult, error) {
	if err := validateArgs(args); err != nil {
		return TrainResult{}, err
	}
	if train.Len() == 0 || train.Len() != len(train.Labels) {
		return TrainResult{}, fmt.Errorf("intent: %d training inputs with %d labels", train.Len(), len(train.Labels))
	}

	// the encoder is frozen, so every vector is computed once
	xTrain, err := t.embed(ctx, train.Inputs, args.EvalBatchSize)
	if err != nil {
		return TrainResult{}, err
	}
	xEval, err := t.embed(ctx, eval.Inputs, args.EvalBatchSize)
	if err != nil {
		return TrainResult{}, err
	}

	rng := rand.New(rand.NewPCG(uint64(args.Seed), uint64(args.Seed)+1))
	dim := t.encoder.Dim()
	head := NewHead(dim, rng)
	opt := NewAdamW(dim, args.WeightDecay)

	var gw [NumLabels][]float64
	for c := range gw {
		gw[c] = make([]float64, dim)
	}
	var gb [NumLabels]float64

	stepsPerEpoch := (train.Len() + args.TrainBatchSize - 1) / args.TrainBatchSize
	totalSteps := stepsPerEpoch * args.Epochs
	order := make([]int, train.Len())
	for i := range order {
		order[i] = i
	}

	var result TrainResult
	step := 0
	for epoch := 1; epoch <= args.Epochs; epoch++ {
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

		for start := 0; start < len(order); start += args.TrainBatchSize {
			if err := ctx.Err(); err != nil {
				return result, fmt.Errorf("intent: training interrupted at step %d: %w", step, err)
			}
			end := min(start+args.TrainBatchSize, len(order))
			xs := make([][]float64, 0, end-start)
			ys := make([]int, 0, end-start)
			for _, i := range order[start:end] {
				xs = append(xs, xTrain[i])
				ys = append(ys, train.Labels[i])
			}

			loss := head.lossAndGrad(xs, ys, &gw, &gb)
			lr := args.LearningRate * (1 - float64(step)/float64(totalSteps))
			opt.Step(head, &gw, &gb, lr)
			step++

			if args.LoggingSteps > 0 && step%args.LoggingSteps == 0 {
				t.logger.Debug("training step",
					logging.EpochKey, epoch,
					logging.StepKey, step,
					logging.LossKey, loss,
					"learning_rate", lr,
				)
			}
		}

		evalLoss := 0.0
		if len(xEval) > 0 {
			evalLoss = meanLoss(head, xEval, eval.Labels)
		}
		result.EvalLoss = append(result.EvalLoss, evalLoss)

		dir := filepath.Join(args.OutputDir, "checkpoint-"+strconv.Itoa(epoch))
		ckpt := checkpoint{Epoch: epoch, Step: step, EvalLoss: evalLoss, Head: head}
		if err := jsonio.WriteFile(filepath.Join(dir, "head.json"), ckpt); err != nil {
			return result, fmt.Errorf("intent: save checkpoint: %w", err)
		}
		result.Checkpoints = append(result.Checkpoints, dir)

		t.logger.Info("epoch finished",
			logging.EpochKey, epoch,
			logging.StepKey, step,
			"eval_loss", evalLoss,
			logging.PathKey, dir,
		)
	}

	t.head = head
	return result, nil
}

// Predict implements Trainer.
func (t *LocalTrainer) Predict(ctx context.Context, batchSize int, inputs []Encoded) ([][]float64, error) {
	if t.head == nil {
		return nil, ErrNotTrained
	}
	if batchSize < 1 {
		return nil, fmt.Errorf("intent: batch size must be positive, got %d", batchSize)
	}
	xs, err := t.embed(ctx, inputs, batchSize)
	if err != nil {
		return nil, err
	}
	out := make([][]float64, len(xs))
	for i, x := range xs {
		logits := t.head.Logits(x)
		out[i] = logits[:]
	}
	return out, nil
}

// Close releases the encoder.
func (t *LocalTrainer) Close() error {
	return t.encoder.Close()
}

func meanLoss(h *Head, xs [][]float64, ys []int) float64 {
	var gw [NumLabels][]float64
	for c := range gw {
		gw[c] = make([]float64, len(xs[0]))
	}
	var gb [NumLabels]float64
	return h.lossAndGrad(xs, ys, &gw, &gb)
}

func validateArgs(args TrainingArgs) error {
	switch {
	case args.Epochs < 1:
		return fmt.Errorf("intent: epochs must be positive, got %d", args.Epochs)
	case args.TrainBatchSize < 1 || args.EvalBatchSize < 1:
		return fmt.Errorf("intent: batch sizes must be positive, got %d/%d", args.TrainBatchSize, args.EvalBatchSize)
	case args.LearningRate <= 0:
		return fmt.Errorf("intent: learning rate must be positive, got %g", args.LearningRate)
	case args.OutputDir == "":
		return errors.New("intent: output dir is required")
	}
	return nil
}
