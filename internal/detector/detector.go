// Package detector locates licence plates with an end-to-end detection model
// and decodes its output into boxes on the source frame.
package detector

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/MeKo-Tech/platewatch/internal/errdefs"
	"github.com/MeKo-Tech/platewatch/internal/imgsrc"
	"github.com/MeKo-Tech/platewatch/internal/letterbox"
	"github.com/MeKo-Tech/platewatch/internal/onnx"
)

const engineName = "detector"

// Detector performs plate detection on one frame at a time.
type Detector struct {
	config Config
	engine onnx.Engine
	mu     sync.RWMutex
}

// NewDetector loads the model at config.ModelPath into an ONNX Runtime session.
func NewDetector(config Config) (*Detector, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid detector config: %w", err)
	}

	slog.Debug("Initializing detector",
		"model_path", config.ModelPath,
		"gpu_enabled", config.GPU.UseGPU,
		"input", fmt.Sprintf("%dx%d", config.InputWidth, config.InputHeight),
		"score_threshold", config.ScoreThreshold)

	session, err := onnx.LoadSessionFile(config.ModelPath, onnx.SessionOptions{
		Name:       engineName,
		NumThreads: config.NumThreads,
		GPU:        config.GPU,
	})
	if err != nil {
		return nil, err
	}

	d, err := NewWithEngine(config, session)
	if err != nil {
		_ = session.Close()
		return nil, err
	}
	slog.Debug("Detector initialized successfully")
	return d, nil
}

// NewWithEngine builds a detector on an already loaded engine. The detector
// takes ownership of engine.
func NewWithEngine(config Config, engine onnx.Engine) (*Detector, error) {
	if engine == nil {
		return nil, errors.New("detector engine is nil")
	}
	if config.InputWidth <= 0 || config.InputHeight <= 0 {
		return nil, fmt.Errorf("input size must be positive, got %dx%d", config.InputWidth, config.InputHeight)
	}

	// Fixed model dimensions win over the configured input size.
	if in := engine.InputShape(); len(in) == 4 {
		if in[2] > 0 && in[3] > 0 && (int(in[3]) != config.InputWidth || int(in[2]) != config.InputHeight) {
			slog.Debug("Using model input size",
				"configured", fmt.Sprintf("%dx%d", config.InputWidth, config.InputHeight),
				"model", fmt.Sprintf("%dx%d", in[3], in[2]))
			config.InputWidth, config.InputHeight = int(in[3]), int(in[2])
		}
	}
	config.Labels = slices.Clone(config.Labels)

	return &Detector{config: config, engine: engine}, nil
}

// Close releases the engine. It is safe to call more than once.
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.engine == nil {
		return nil
	}
	err := d.engine.Close()
	d.engine = nil
	if err != nil {
		return fmt.Errorf("failed to close detector engine: %w", err)
	}
	return nil
}

// GetConfig returns a copy of the detector's configuration.
func (d *Detector) GetConfig() Config {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c := d.config
	c.Labels = slices.Clone(c.Labels)
	return c
}

// InputShape returns the model input shape, or nil once closed.
func (d *Detector) InputShape() []int64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.engine == nil {
		return nil
	}
	return d.engine.InputShape()
}

func (d *Detector) letterboxOptions() letterbox.Options {
	return letterbox.Options{
		TargetWidth:  d.config.InputWidth,
		TargetHeight: d.config.InputHeight,
		PadColor:     d.config.PadColor,
		AllowUpscale: d.config.AllowUpscale,
		Filter:       d.config.Filter,
	}
}

// Detect letterboxes img, runs the model and returns detections in img's
// pixel space. Each call computes its own transform.
func (d *Detector) Detect(ctx context.Context, img image.Image) ([]Detection, error) {
	return d.detect(ctx, func(opts letterbox.Options) (onnx.Tensor, letterbox.Transform, error) {
		return letterbox.Letterbox(img, opts)
	})
}

// DetectFrame is Detect for a native frame; resizing runs in lib.
func (d *Detector) DetectFrame(ctx context.Context, lib imgsrc.Library, frame imgsrc.Image) ([]Detection, error) {
	return d.detect(ctx, func(opts letterbox.Options) (onnx.Tensor, letterbox.Transform, error) {
		return letterbox.LetterboxNative(lib, frame, opts)
	})
}

func (d *Detector) detect(ctx context.Context,
	prepare func(letterbox.Options) (onnx.Tensor, letterbox.Transform, error),
) ([]Detection, error) {
	d.mu.RLock()
	engine := d.engine
	d.mu.RUnlock()
	if engine == nil {
		return nil, errdefs.InvalidState("detect", "closed")
	}

	start := time.Now()
	tensor, t, err := prepare(d.letterboxOptions())
	if err != nil {
		return nil, err
	}
	defer tensor.Release()

	out, err := engine.Run(ctx, tensor)
	if err != nil {
		return nil, wrapEngineError(err)
	}

	dets, err := DecodeDetections(out.Data, out.Shape, d.config.Labels, t, d.config.ScoreThreshold)
	if err != nil {
		return nil, err
	}

	slog.Debug("Detection completed",
		"detections", len(dets),
		"scale", t.Scale,
		"duration_ms", time.Since(start).Milliseconds())
	return dets, nil
}

// Warmup runs a number of forward passes with a blank frame to reduce first-run latency.
func (d *Detector) Warmup(ctx context.Context, iterations int) error {
	if iterations <= 0 {
		return nil
	}
	d.mu.RLock()
	engine := d.engine
	d.mu.RUnlock()
	if engine == nil {
		return errdefs.InvalidState("warmup", "closed")
	}

	img := image.NewRGBA(image.Rect(0, 0, d.config.InputWidth, d.config.InputHeight))
	tensor, _, err := letterbox.Letterbox(img, d.letterboxOptions())
	if err != nil {
		return err
	}
	defer tensor.Release()

	for i := range iterations {
		if _, err := engine.Run(ctx, tensor); err != nil {
			return fmt.Errorf("warmup iteration %d failed: %w", i+1, wrapEngineError(err))
		}
	}
	slog.Debug("Detector warmup completed", "iterations", iterations)
	return nil
}

func wrapEngineError(err error) error {
	var ee *errdefs.EngineError
	if errors.As(err, &ee) {
		return err
	}
	return errdefs.Engine(engineName, err)
}
