package alpr

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/MeKo-Tech/platewatch/internal/detector"
	"github.com/MeKo-Tech/platewatch/internal/imgsrc"
	"github.com/MeKo-Tech/platewatch/internal/models"
	"github.com/MeKo-Tech/platewatch/internal/recognizer"
)

// Config holds configuration for the ALPR orchestrator and its components.
type Config struct {
	ModelsDir        string
	ImageBackend     string // "raster" (default) or "opencv"
	Detector         detector.Config
	Recognizer       recognizer.Config
	WarmupIterations int // optional warmup runs per model to reduce first-run latency
}

// DefaultConfig returns a default ALPR config with component defaults.
func DefaultConfig() Config {
	return Config{
		ModelsDir:    models.GetModelsDir(""),
		ImageBackend: imgsrc.BackendRaster,
		Detector:     detector.DefaultConfig(),
		Recognizer:   recognizer.DefaultConfig(),
	}
}

// Builder constructs an Orchestrator with fluent configuration.
type Builder struct {
	cfg    Config
	logger *slog.Logger
}

// NewBuilder creates a new builder with defaults.
func NewBuilder() *Builder { return &Builder{cfg: DefaultConfig()} }

// NewBuilderFromConfig creates a builder starting from cfg.
func NewBuilderFromConfig(cfg Config) *Builder { return &Builder{cfg: cfg} }

// WithModelsDir sets the models directory and updates component model paths.
func (b *Builder) WithModelsDir(dir string) *Builder {
	if dir != "" {
		b.cfg.ModelsDir = dir
	}
	b.cfg.Detector.UpdateModelPath(b.cfg.ModelsDir)
	b.cfg.Recognizer.UpdateModelPath(b.cfg.ModelsDir)
	return b
}

// WithDetectorModelPath overrides the detector model path directly.
func (b *Builder) WithDetectorModelPath(path string) *Builder {
	if path != "" {
		b.cfg.Detector.ModelPath = path
	}
	return b
}

// WithRecognizerModelPath overrides the recognizer model path directly.
func (b *Builder) WithRecognizerModelPath(path string) *Builder {
	if path != "" {
		b.cfg.Recognizer.ModelPath = path
	}
	return b
}

// WithAlphabetPath loads the recognizer alphabet from a file.
func (b *Builder) WithAlphabetPath(path string) *Builder {
	if path != "" {
		b.cfg.Recognizer.AlphabetPath = path
	}
	return b
}

// WithScoreThreshold sets the minimum detection score.
func (b *Builder) WithScoreThreshold(th float32) *Builder {
	if th >= 0 && th <= 1 {
		b.cfg.Detector.ScoreThreshold = th
	}
	return b
}

// WithMaxSlots sets the recognizer's expected slot count.
func (b *Builder) WithMaxSlots(n int) *Builder {
	if n > 0 {
		b.cfg.Recognizer.MaxSlots = n
	}
	return b
}

// WithThreads sets intra-op thread counts for both components (if >0).
func (b *Builder) WithThreads(n int) *Builder {
	if n > 0 {
		b.cfg.Detector.NumThreads = n
		b.cfg.Recognizer.NumThreads = n
	}
	return b
}

// WithImageBackend selects the native image library.
func (b *Builder) WithImageBackend(name string) *Builder {
	if name != "" {
		b.cfg.ImageBackend = name
	}
	return b
}

// WithWarmupIterations sets model warmup runs to reduce cold-start latency.
func (b *Builder) WithWarmupIterations(n int) *Builder {
	if n >= 0 {
		b.cfg.WarmupIterations = n
	}
	return b
}

// WithGPU enables GPU acceleration for both components.
func (b *Builder) WithGPU(enabled bool) *Builder {
	b.cfg.Detector.GPU.UseGPU = enabled
	b.cfg.Recognizer.GPU.UseGPU = enabled
	return b
}

// WithGPUDevice sets the CUDA device ID for both components.
func (b *Builder) WithGPUDevice(deviceID int) *Builder {
	b.cfg.Detector.GPU.DeviceID = deviceID
	b.cfg.Recognizer.GPU.DeviceID = deviceID
	return b
}

// WithGPUMemoryLimit sets the GPU memory limit for both components.
func (b *Builder) WithGPUMemoryLimit(limitBytes uint64) *Builder {
	b.cfg.Detector.GPU.GPUMemLimit = limitBytes
	b.cfg.Recognizer.GPU.GPUMemLimit = limitBytes
	return b
}

// WithLogger sets the orchestrator's logger.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// Config returns a copy of the current config.
func (b *Builder) Config() Config { return b.cfg }

// Validate checks that model files exist and configuration looks sane.
func (b *Builder) Validate() error {
	if err := b.cfg.Detector.Validate(); err != nil {
		return fmt.Errorf("detector: %w", err)
	}
	if err := b.cfg.Recognizer.Validate(); err != nil {
		return fmt.Errorf("recognizer: %w", err)
	}
	if _, err := os.Stat(b.cfg.Detector.ModelPath); err != nil {
		return fmt.Errorf("detector model not found: %s", b.cfg.Detector.ModelPath)
	}
	if _, err := os.Stat(b.cfg.Recognizer.ModelPath); err != nil {
		return fmt.Errorf("recognizer model not found: %s", b.cfg.Recognizer.ModelPath)
	}
	if p := b.cfg.Recognizer.AlphabetPath; p != "" {
		if _, err := os.Stat(p); err != nil {
			return fmt.Errorf("alphabet not found: %s", p)
		}
	}
	return nil
}

// Build validates the configuration and returns an uninitialized
// orchestrator that loads the ONNX models on Init.
func (b *Builder) Build() (*Orchestrator, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	lib, err := imgsrc.NewLibrary(b.cfg.ImageBackend)
	if err != nil {
		return nil, fmt.Errorf("image backend %q: %w", b.cfg.ImageBackend, err)
	}

	detCfg, recCfg := b.cfg.Detector, b.cfg.Recognizer
	return New(Options{
		NewDetector: func(context.Context) (Detector, error) {
			d, err := detector.NewDetector(detCfg)
			if err != nil {
				return nil, err
			}
			return d, nil
		},
		NewRecognizer: func(context.Context) (Recognizer, error) {
			r, err := recognizer.NewRecognizer(recCfg)
			if err != nil {
				return nil, err
			}
			return r, nil
		},
		Library:          lib,
		Logger:           b.logger,
		WarmupIterations: b.cfg.WarmupIterations,
	})
}
