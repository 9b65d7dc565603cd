package intent

import (
	"context"
	"errors"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// Encoder maps encoded sequences to fixed-size sentence vectors.
type Encoder interface {
	// Embed returns one vector of length Dim per sequence.
	Embed(ctx context.Context, batch []Encoded) ([][]float64, error)
	Dim() int
	Close() error
}

// ONNXConfig holds configuration for the ONNX Runtime encoder
type ONNXConfig struct {
	// SharedLibraryPath is the path to the ONNX Runtime shared library
	SharedLibraryPath string
	// ModelPath is the path to the exported transformer encoder
	ModelPath string
	// InputNames are the token id and attention mask input tensors
	InputNames []string
	// OutputName is the last hidden state output tensor
	OutputName string
	// HiddenSize is the width of the hidden state
	HiddenSize int
	// NumThreads sets the number of threads for inference
	NumThreads int
}

// DefaultONNXConfig returns the settings for an exported DistilBERT.
func DefaultONNXConfig(libraryPath, modelPath string) *ONNXConfig {
	return &ONNXConfig{
		SharedLibraryPath: libraryPath,
		ModelPath:         modelPath,
		InputNames:        []string{"input_ids", "attention_mask"},
		OutputName:        "last_hidden_state",
		HiddenSize:        768,
		NumThreads:        4,
	}
}

// ONNXEncoder runs a frozen pretrained transformer with ONNX Runtime
// and returns the hidden state of the [CLS] position.
type ONNXEncoder struct {
	config  *ONNXConfig
	session *ort.DynamicAdvancedSession
	mu      sync.Mutex
}

// NewONNXEncoder initializes the runtime environment and loads the model.
func NewONNXEncoder(config *ONNXConfig) (*ONNXEncoder, error) {
	if config == nil {
		return nil, errors.New("intent: onnx config cannot be nil")
	}
	if len(config.InputNames) != 2 {
		return nil, fmt.Errorf("intent: encoder needs 2 inputs, got %d", len(config.InputNames))
	}

	if !ort.IsInitialized() {
		ort.SetSharedLibraryPath(config.SharedLibraryPath)
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("intent: failed to initialize ONNX environment: %w", err)
		}
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("intent: failed to create session options: %w", err)
	}
	defer options.Destroy()

	if config.NumThreads > 0 {
		if err := options.SetIntraOpNumThreads(config.NumThreads); err != nil {
			return nil, fmt.Errorf("intent: failed to set intra-op threads: %w", err)
		}
	}

	session, err := ort.NewDynamicAdvancedSession(
		config.ModelPath,
		config.InputNames,
		[]string{config.OutputName},
		options,
	)
	if err != nil {
		return nil, fmt.Errorf("intent: failed to create session for %s: %w", config.ModelPath, err)
	}

	return &ONNXEncoder{config: config, session: session}, nil
}

// Dim returns the hidden size.
func (e *ONNXEncoder) Dim() int {
	return e.config.HiddenSize
}

// Embed runs one forward pass over the batch.
func (e *ONNXEncoder) Embed(ctx context.Context, batch []Encoded) ([][]float64, error) {
	if len(batch) == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	seqLen := len(batch[0].IDs)
	ids := make([]int64, 0, len(batch)*seqLen)
	mask := make([]int64, 0, len(batch)*seqLen)
	for i, enc := range batch {
		if len(enc.IDs) != seqLen || len(enc.Mask) != seqLen {
			return nil, fmt.Errorf("intent: sequence %d has length %d, want %d", i, len(enc.IDs), seqLen)
		}
		ids = append(ids, enc.IDs...)
		mask = append(mask, enc.Mask...)
	}

	shape := ort.NewShape(int64(len(batch)), int64(seqLen))
	idsTensor, err := ort.NewTensor(shape, ids)
	if err != nil {
		return nil, fmt.Errorf("intent: failed to create input tensor: %w", err)
	}
	defer idsTensor.Destroy()

	maskTensor, err := ort.NewTensor(shape, mask)
	if err != nil {
		return nil, fmt.Errorf("intent: failed to create mask tensor: %w", err)
	}
	defer maskTensor.Destroy()

	hidden := e.config.HiddenSize
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(int64(len(batch)), int64(seqLen), int64(hidden)))
	if err != nil {
		return nil, fmt.Errorf("intent: failed to create output tensor: %w", err)
	}
	defer output.Destroy()

	if err := e.session.Run([]ort.Value{idsTensor, maskTensor}, []ort.Value{output}); err != nil {
		return nil, fmt.Errorf("intent: inference failed: %w", err)
	}

	// Copy the [CLS] rows out before the tensor is destroyed
	data := output.GetData()
	out := make([][]float64, len(batch))
	for i := range out {
		row := data[i*seqLen*hidden : i*seqLen*hidden+hidden]
		vec := make([]float64, hidden)
		for j, v := range row {
			vec[j] = float64(v)
		}
		out[i] = vec
	}
	return out, nil
}

// Close releases the session and the runtime environment.
func (e *ONNXEncoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session == nil {
		return nil
	}
	if err := e.session.Destroy(); err != nil {
		return fmt.Errorf("intent: failed to destroy session: %w", err)
	}
	e.session = nil
	if err := ort.DestroyEnvironment(); err != nil {
		return fmt.Errorf("intent: failed to destroy ONNX environment: %w", err)
	}
	return nil
}
