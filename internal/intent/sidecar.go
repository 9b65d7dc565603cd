package intent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"

	"github.com/cvalentine99/nfa-intent/internal/logging"
)

// Sidecar RPC names.
const (
	sidecarService = "networkllm.Trainer"
	fineTuneMethod = "/" + sidecarService + "/FineTune"
	predictMethod  = "/" + sidecarService + "/Predict"
)

// FineTuneRequest asks the sidecar to fine-tune args.ModelName.
type FineTuneRequest struct {
	Args  TrainingArgs `json:"args"`
	Train Dataset      `json:"train"`
	Eval  Dataset      `json:"eval"`
}

// FineTuneResponse identifies the fine-tuned model on the sidecar.
type FineTuneResponse struct {
	RunID       string    `json:"run_id"`
	Checkpoints []string  `json:"checkpoints"`
	EvalLoss    []float64 `json:"eval_loss"`
}

// PredictRequest asks for logits from a fine-tuned model.
type PredictRequest struct {
	RunID     string    `json:"run_id"`
	BatchSize int       `json:"batch_size"`
	Inputs    []Encoded `json:"inputs"`
}

// PredictResponse holds NumLabels logits per input.
type PredictResponse struct {
	Logits [][]float64 `json:"logits"`
}

// TrainerServer is implemented by fine-tuning sidecars.
type TrainerServer interface {
	FineTune(context.Context, *FineTuneRequest) (*FineTuneResponse, error)
	Predict(context.Context, *PredictRequest) (*PredictResponse, error)
}

// TrainerServiceDesc describes the sidecar service for grpc.Server.
var TrainerServiceDesc = grpc.ServiceDesc{
	ServiceName: sidecarService,
	HandlerType: (*TrainerServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "FineTune",
			Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
				in := new(FineTuneRequest)
				if err := dec(in); err != nil {
					return nil, err
				}
				if interceptor == nil {
					return srv.(TrainerServer).FineTune(ctx, in)
				}
				info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fineTuneMethod}
				return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
					return srv.(TrainerServer).FineTune(ctx, req.(*FineTuneRequest))
				})
			},
		},
		{
			MethodName: "Predict",
			Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
				in := new(PredictRequest)
				if err := dec(in); err != nil {
					return nil, err
				}
				if interceptor == nil {
					return srv.(TrainerServer).Predict(ctx, in)
				}
				info := &grpc.UnaryServerInfo{Server: srv, FullMethod: predictMethod}
				return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
					return srv.(TrainerServer).Predict(ctx, req.(*PredictRequest))
				})
			},
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "networkllm/trainer.proto",
}

// SidecarConfig holds configuration for the sidecar gRPC client
type SidecarConfig struct {
	// Address is the gRPC server address
	Address string
	// Timeout bounds a whole fine-tuning call
	Timeout time.Duration
	// KeepAliveTime for connection health checks
	KeepAliveTime time.Duration
	// MaxMessageSize for gRPC messages
	MaxMessageSize int
	// DialOptions are appended to the defaults
	DialOptions []grpc.DialOption
}

// DefaultSidecarConfig returns default sidecar client configuration
func DefaultSidecarConfig(address string, timeout time.Duration) *SidecarConfig {
	return &SidecarConfig{
		Address:        address,
		Timeout:        timeout,
		KeepAliveTime:  30 * time.Second,
		MaxMessageSize: 512 * 1024 * 1024, // 512MB
	}
}

// SidecarTrainer delegates fine-tuning to an external Python process
// over gRPC. Messages are JSON encoded.
type SidecarTrainer struct {
	config *SidecarConfig
	conn   *grpc.ClientConn
	logger *logging.Logger
	mu     sync.RWMutex

	runID string
}

// NewSidecarTrainer creates a client for the sidecar at config.Address.
// The connection is established lazily on the first call.
func NewSidecarTrainer(config *SidecarConfig) (*SidecarTrainer, error) {
	if config == nil {
		return nil, errors.New("intent: sidecar config cannot be nil")
	}

	kaParams := keepalive.ClientParameters{
		Time:                config.KeepAliveTime,
		Timeout:             20 * time.Second,
		PermitWithoutStream: true,
	}

	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kaParams),
		grpc.WithDefaultCallOptions(
			grpc.CallContentSubtype(codecName),
			grpc.MaxCallRecvMsgSize(config.MaxMessageSize),
			grpc.MaxCallSendMsgSize(config.MaxMessageSize),
		),
	}
	opts = append(opts, config.DialOptions...)

	conn, err := grpc.NewClient(config.Address, opts...)
	if err != nil {
		return nil, fmt.Errorf("intent: failed to create sidecar client: %w", err)
	}

	return &SidecarTrainer{
		config: config,
		conn:   conn,
		logger: logging.IntentLogger().With(logging.OperationKey, "sidecar"),
	}, nil
}

// Train implements Trainer.
func (s *SidecarTrainer) Train(ctx context.Context, args TrainingArgs, train, eval Dataset) (TrainResult, error) {
	if err := validateArgs(args); err != nil {
		return TrainResult{}, err
	}

	if s.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.Timeout)
		defer cancel()
	}

	start := time.Now()
	req := &FineTuneRequest{Args: args, Train: train, Eval: eval}
	resp := new(FineTuneResponse)
	if err := s.conn.Invoke(ctx, fineTuneMethod, req, resp); err != nil {
		return TrainResult{}, fmt.Errorf("intent: sidecar fine-tune: %w", err)
	}
	if resp.RunID == "" {
		return TrainResult{}, errors.New("intent: sidecar returned no run id")
	}

	s.mu.Lock()
	s.runID = resp.RunID
	s.mu.Unlock()

	s.logger.Info("sidecar fine-tune finished",
		"sidecar_run", resp.RunID,
		"checkpoints", len(resp.Checkpoints),
		"duration", time.Since(start),
	)
	return TrainResult{Checkpoints: resp.Checkpoints, EvalLoss: resp.EvalLoss}, nil
}

// Predict implements Trainer.
func (s *SidecarTrainer) Predict(ctx context.Context, batchSize int, inputs []Encoded) ([][]float64, error) {
	s.mu.RLock()
	runID := s.runID
	s.mu.RUnlock()
	if runID == "" {
		return nil, ErrNotTrained
	}

	if s.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.Timeout)
		defer cancel()
	}

	req := &PredictRequest{RunID: runID, BatchSize: batchSize, Inputs: inputs}
	resp := new(PredictResponse)
	if err := s.conn.Invoke(ctx, predictMethod, req, resp); err != nil {
		return nil, fmt.Errorf("intent: sidecar predict: %w", err)
	}
	if len(resp.Logits) != len(inputs) {
		return nil, fmt.Errorf("intent: sidecar returned %d logits for %d inputs", len(resp.Logits), len(inputs))
	}
	for i, l := range resp.Logits {
		if len(l) != NumLabels {
			return nil, fmt.Errorf("intent: sidecar logits %d have %d classes, want %d", i, len(l), NumLabels)
		}
	}
	return resp.Logits, nil
}

// Close closes the connection.
func (s *SidecarTrainer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return nil
	}
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("intent: failed to close sidecar connection: %w", err)
	}
	s.conn = nil
	return nil
}
