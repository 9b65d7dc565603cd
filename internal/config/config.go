package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the run configuration shared by the entry points.
type Config struct {
	Seed         int64  `yaml:"seed"`
	TargetColumn string `yaml:"target_column"`

	Paths struct {
		Data    string `yaml:"data"`
		Staging string `yaml:"staging"`
		Out     string `yaml:"out"`
	} `yaml:"paths"`

	Logging struct {
		Level  string `yaml:"level"`  // debug, info, warn, error
		Format string `yaml:"format"` // text or json
	} `yaml:"logging"`

	Baseline BaselineConfig `yaml:"baseline"`
	Intent   IntentConfig   `yaml:"intent"`
}

// BaselineConfig holds the boosted-tree hyper-parameters.
type BaselineConfig struct {
	NEstimators     int     `yaml:"n_estimators"`
	LearningRate    float64 `yaml:"learning_rate"`
	NumLeaves       int     `yaml:"num_leaves"`
	MinChildSamples int     `yaml:"min_child_samples"`
	MaxBins         int     `yaml:"max_bins"`
	Lambda          float64 `yaml:"lambda_l2"`
	// ClassWeight is "balanced" or empty for unit weights
	ClassWeight string  `yaml:"class_weight"`
	Threshold   float64 `yaml:"threshold"`
}

// IntentConfig holds the transformer fine-tuning settings.
type IntentConfig struct {
	// Backend selects the trainer: "local" (ONNX encoder + Go head) or "sidecar" (gRPC)
	Backend   string `yaml:"backend"`
	ModelName string `yaml:"model_name"`

	// TokenizerPath points at the pretrained tokenizer.json
	TokenizerPath string `yaml:"tokenizer_path"`
	// ModelPath points at the exported encoder .onnx file
	ModelPath string `yaml:"model_path"`
	// ONNXLibraryPath is the path to the ONNX Runtime shared library
	ONNXLibraryPath string `yaml:"onnx_library_path"`

	SidecarAddress string        `yaml:"sidecar_address"`
	SidecarTimeout time.Duration `yaml:"sidecar_timeout"`

	MaxSeqLen      int     `yaml:"max_seq_len"`
	Epochs         int     `yaml:"epochs"`
	TrainBatchSize int     `yaml:"train_batch_size"`
	EvalBatchSize  int     `yaml:"eval_batch_size"`
	LearningRate   float64 `yaml:"learning_rate"`
	WeightDecay    float64 `yaml:"weight_decay"`
	LoggingSteps   int     `yaml:"logging_steps"`
	Threshold      float64 `yaml:"threshold"`

	// HeadLearningRate drives the local backend, which trains only a
	// linear head over a frozen encoder. LearningRate is sized for full
	// fine-tuning and barely moves a head from its initialisation.
	HeadLearningRate float64 `yaml:"head_learning_rate"`
}

// TrainerLearningRate returns the peak rate for the selected backend.
func (c IntentConfig) TrainerLearningRate() float64 {
	if c.Backend == "local" {
		return c.HeadLearningRate
	}
	return c.LearningRate
}

// DefaultBaselineConfig returns the reference boosted-tree settings.
func DefaultBaselineConfig() BaselineConfig {
	return BaselineConfig{
		NEstimators:     400,
		LearningRate:    0.05,
		NumLeaves:       63,
		MinChildSamples: 20,
		MaxBins:         255,
		ClassWeight:     "balanced",
		Threshold:       0.5,
	}
}

// DefaultIntentConfig returns the reference fine-tuning settings.
func DefaultIntentConfig() IntentConfig {
	modelDir := filepath.Join(Paths.Project, "models", "distilbert-base-uncased")
	return IntentConfig{
		Backend:         "local",
		ModelName:       "distilbert-base-uncased",
		TokenizerPath:   getEnvOrDefault("NFA_TOKENIZER_PATH", filepath.Join(modelDir, "tokenizer.json")),
		ModelPath:       getEnvOrDefault("NFA_ENCODER_MODEL_PATH", filepath.Join(modelDir, "model.onnx")),
		ONNXLibraryPath: getEnvOrDefault("NFA_ONNX_LIBRARY_PATH", findONNXLibrary()),
		SidecarAddress:  "localhost:50051",
		SidecarTimeout:  30 * time.Minute,
		MaxSeqLen:       512,
		Epochs:          2,
		TrainBatchSize:  16,
		EvalBatchSize:   32,
		LearningRate:    2e-5,
		WeightDecay:     0.01,
		LoggingSteps:    25,
		Threshold:       0.5,

		HeadLearningRate: 1e-3,
	}
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{
		Seed:         RandomState,
		TargetColumn: TargetColumn,
		Baseline:     DefaultBaselineConfig(),
		Intent:       DefaultIntentConfig(),
	}
	cfg.Paths.Data = Paths.Data
	cfg.Paths.Staging = Paths.Staging
	cfg.Paths.Out = Paths.Out
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "text"
	return cfg
}

// Load reads a YAML configuration file on top of Default, so keys the
// file leaves out keep their default and explicit zeros are kept.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("config: failed to open config file: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: failed to decode config file: %w", err)
	}

	cfg.expandPaths()
	return cfg, nil
}

// expandPaths resolves environment references in path settings. A path
// set to the empty string falls back to its default.
func (c *Config) expandPaths() {
	def := Default()

	c.Paths.Data = expandOr(c.Paths.Data, def.Paths.Data)
	c.Paths.Staging = expandOr(c.Paths.Staging, def.Paths.Staging)
	c.Paths.Out = expandOr(c.Paths.Out, def.Paths.Out)

	in, di := &c.Intent, def.Intent
	in.TokenizerPath = expandOr(in.TokenizerPath, di.TokenizerPath)
	in.ModelPath = expandOr(in.ModelPath, di.ModelPath)
	in.ONNXLibraryPath = expandOr(in.ONNXLibraryPath, di.ONNXLibraryPath)
}

func expandOr(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return os.ExpandEnv(value)
}

// PathConfig returns the directory roots this configuration points at.
func (c *Config) PathConfig() *PathConfig {
	return &PathConfig{
		Project: Paths.Project,
		Data:    c.Paths.Data,
		Staging: c.Paths.Staging,
		Out:     c.Paths.Out,
	}
}

// findONNXLibrary searches for the ONNX Runtime library in common locations.
func findONNXLibrary() string {
	searchPaths := []string{
		"/usr/local/lib/libonnxruntime.so",
		"/usr/local/lib64/libonnxruntime.so",
		"/usr/lib/libonnxruntime.so",
		"/usr/lib64/libonnxruntime.so",
		"/usr/lib/x86_64-linux-gnu/libonnxruntime.so",
		"/usr/lib/aarch64-linux-gnu/libonnxruntime.so",
		filepath.Join(os.Getenv("HOME"), ".local/lib/libonnxruntime.so"),
		"/usr/local/opt/onnxruntime/lib/libonnxruntime.dylib",
		"/opt/homebrew/lib/libonnxruntime.dylib",
	}

	for _, path := range searchPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	// Return default path even if not found (will error at runtime)
	return "/usr/lib/libonnxruntime.so"
}
