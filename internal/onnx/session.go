package onnx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/MeKo-Tech/platewatch/internal/errdefs"
	"github.com/yalue/onnxruntime_go"
)

// Session is an Engine backed by an ONNX Runtime dynamic session.
type Session struct {
	name       string
	session    *onnxruntime_go.DynamicAdvancedSession
	inputInfo  onnxruntime_go.InputOutputInfo
	outputInfo onnxruntime_go.InputOutputInfo
	mu         sync.RWMutex
}

// LoadSession creates a session from in-memory model bytes.
func LoadSession(modelBytes []byte, opts SessionOptions) (*Session, error) {
	if len(modelBytes) == 0 {
		return nil, errdefs.Engine(opts.Name, errors.New("empty model data"))
	}
	if err := InitRuntime(opts.GPU.UseGPU); err != nil {
		return nil, errdefs.Engine(opts.Name, err)
	}

	inputs, outputs, err := onnxruntime_go.GetInputOutputInfoWithONNXData(modelBytes)
	if err != nil {
		return nil, errdefs.Engine(opts.Name, fmt.Errorf("failed to get model input/output info: %w", err))
	}
	inputInfo, outputInfo, err := firstInputOutput(inputs, outputs)
	if err != nil {
		return nil, errdefs.Engine(opts.Name, err)
	}

	sessionOptions, err := newSessionOptions(opts)
	if err != nil {
		return nil, errdefs.Engine(opts.Name, err)
	}
	defer destroySessionOptions(sessionOptions)

	session, err := onnxruntime_go.NewDynamicAdvancedSessionWithONNXData(modelBytes,
		[]string{inputInfo.Name}, []string{outputInfo.Name}, sessionOptions)
	if err != nil {
		return nil, errdefs.Engine(opts.Name, fmt.Errorf("failed to create ONNX session: %w", err))
	}

	return &Session{name: opts.Name, session: session, inputInfo: inputInfo, outputInfo: outputInfo}, nil
}

// LoadSessionFile creates a session from a model file on disk.
func LoadSessionFile(modelPath string, opts SessionOptions) (*Session, error) {
	if modelPath == "" {
		return nil, errdefs.Engine(opts.Name, errors.New("model path cannot be empty"))
	}
	if _, err := os.Stat(modelPath); os.IsNotExist(err) {
		return nil, errdefs.Engine(opts.Name, fmt.Errorf("model file not found: %s", modelPath))
	}
	if err := InitRuntime(opts.GPU.UseGPU); err != nil {
		return nil, errdefs.Engine(opts.Name, err)
	}

	inputs, outputs, err := onnxruntime_go.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, errdefs.Engine(opts.Name, fmt.Errorf("failed to get model input/output info: %w", err))
	}
	inputInfo, outputInfo, err := firstInputOutput(inputs, outputs)
	if err != nil {
		return nil, errdefs.Engine(opts.Name, err)
	}

	sessionOptions, err := newSessionOptions(opts)
	if err != nil {
		return nil, errdefs.Engine(opts.Name, err)
	}
	defer destroySessionOptions(sessionOptions)

	session, err := onnxruntime_go.NewDynamicAdvancedSession(modelPath,
		[]string{inputInfo.Name}, []string{outputInfo.Name}, sessionOptions)
	if err != nil {
		return nil, errdefs.Engine(opts.Name, fmt.Errorf("failed to create ONNX session: %w", err))
	}

	slog.Debug("ONNX session created",
		"engine", opts.Name,
		"model_path", modelPath,
		"input", inputInfo.Name,
		"input_shape", inputInfo.Dimensions,
		"output", outputInfo.Name,
		"gpu_enabled", opts.GPU.UseGPU)

	return &Session{name: opts.Name, session: session, inputInfo: inputInfo, outputInfo: outputInfo}, nil
}

func firstInputOutput(inputs, outputs []onnxruntime_go.InputOutputInfo) (
	onnxruntime_go.InputOutputInfo, onnxruntime_go.InputOutputInfo, error,
) {
	if len(inputs) == 0 {
		return onnxruntime_go.InputOutputInfo{}, onnxruntime_go.InputOutputInfo{}, errors.New("model declares no inputs")
	}
	if len(outputs) == 0 {
		return onnxruntime_go.InputOutputInfo{}, onnxruntime_go.InputOutputInfo{}, errors.New("model declares no outputs")
	}
	if len(inputs[0].Dimensions) != 4 {
		return onnxruntime_go.InputOutputInfo{}, onnxruntime_go.InputOutputInfo{},
			fmt.Errorf("expected 4D input tensor, got %dD", len(inputs[0].Dimensions))
	}
	return inputs[0], outputs[0], nil
}

func newSessionOptions(opts SessionOptions) (*onnxruntime_go.SessionOptions, error) {
	sessionOptions, err := onnxruntime_go.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	if err := ConfigureSessionForGPU(sessionOptions, opts.GPU); err != nil {
		destroySessionOptions(sessionOptions)
		return nil, fmt.Errorf("failed to configure GPU: %w", err)
	}
	if opts.NumThreads > 0 {
		if err := sessionOptions.SetIntraOpNumThreads(opts.NumThreads); err != nil {
			destroySessionOptions(sessionOptions)
			return nil, fmt.Errorf("failed to set thread count: %w", err)
		}
	}
	return sessionOptions, nil
}

func destroySessionOptions(o *onnxruntime_go.SessionOptions) {
	if err := o.Destroy(); err != nil {
		slog.Warn("Failed to destroy session options", "error", err)
	}
}

// Run executes the model. The runtime call itself cannot be interrupted,
// so ctx is only checked before it starts.
func (s *Session) Run(ctx context.Context, in Tensor) (Output, error) {
	if err := ctx.Err(); err != nil {
		return Output{}, err
	}
	if err := VerifyImageTensor(in); err != nil {
		return Output{}, errdefs.Engine(s.name, fmt.Errorf("invalid tensor: %w", err))
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return Output{}, errdefs.Engine(s.name, errors.New("session is closed"))
	}

	inputTensor, err := onnxruntime_go.NewTensor(onnxruntime_go.NewShape(in.Shape...), in.Data)
	if err != nil {
		return Output{}, errdefs.Engine(s.name, fmt.Errorf("failed to create input tensor: %w", err))
	}
	defer func() {
		if err := inputTensor.Destroy(); err != nil {
			slog.Warn("Error destroying input tensor", "engine", s.name, "error", err)
		}
	}()

	outputs := []onnxruntime_go.Value{nil}
	if err := s.session.Run([]onnxruntime_go.Value{inputTensor}, outputs); err != nil {
		return Output{}, errdefs.Engine(s.name, fmt.Errorf("inference failed: %w", err))
	}
	defer func() {
		for _, o := range outputs {
			if o == nil {
				continue
			}
			if err := o.Destroy(); err != nil {
				slog.Warn("Error destroying output tensor", "engine", s.name, "error", err)
			}
		}
	}()

	floatTensor, ok := outputs[0].(*onnxruntime_go.Tensor[float32])
	if !ok {
		return Output{}, errdefs.Engine(s.name, fmt.Errorf("expected float32 tensor, got %T", outputs[0]))
	}

	data := floatTensor.GetData()
	out := Output{
		Data:  make([]float32, len(data)),
		Shape: append([]int64(nil), floatTensor.GetShape()...),
	}
	copy(out.Data, data)
	return out, nil
}

// InputShape returns the declared input dimensions.
func (s *Session) InputShape() []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]int64(nil), s.inputInfo.Dimensions...)
}

// Info describes the loaded model for diagnostics.
func (s *Session) Info() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[string]interface{}{
		"engine":       s.name,
		"input_name":   s.inputInfo.Name,
		"output_name":  s.outputInfo.Name,
		"input_shape":  s.inputInfo.Dimensions,
		"output_shape": s.outputInfo.Dimensions,
	}
}

// Close destroys the session. The runtime environment stays initialized.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return nil
	}
	err := s.session.Destroy()
	s.session = nil
	if err != nil {
		return errdefs.Engine(s.name, fmt.Errorf("failed to destroy session: %w", err))
	}
	return nil
}
