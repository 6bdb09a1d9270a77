// Package recognizer reads plate text from cropped plate images with a
// fixed-slot classification model.
package recognizer

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"path/filepath"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/MeKo-Tech/platewatch/internal/errdefs"
	"github.com/MeKo-Tech/platewatch/internal/imgsrc"
	"github.com/MeKo-Tech/platewatch/internal/letterbox"
	"github.com/MeKo-Tech/platewatch/internal/models"
	"github.com/MeKo-Tech/platewatch/internal/onnx"
)

const engineName = "recognizer"

// Config holds configuration for the plate recognizer.
type Config struct {
	ModelPath      string         // Path to ONNX recognition model
	AlphabetPath   string         // Optional alphabet file; overrides Alphabet
	Alphabet       string         // Inline alphabet when AlphabetPath is empty
	PadChar        string         // Padding symbol, a single character (default: "_")
	InputWidth     int            // Model input width (default: 128)
	InputHeight    int            // Model input height (default: 64)
	MaxSlots       int            // Expected number of character slots (default: 9)
	Grayscale      bool           // Single luminance channel input (default: true)
	AllowUpscale   bool           // Enlarge crops smaller than the model input (default: true)
	WantConfidence bool           // Compute per-plate confidence (default: true)
	PadColor       color.NRGBA    // Letterbox padding (default: black)
	NumThreads     int            // Number of CPU threads (default: 0 for auto)
	GPU            onnx.GPUConfig // GPU acceleration configuration
}

// DefaultConfig returns a default recognizer configuration.
func DefaultConfig() Config {
	return Config{
		ModelPath:      models.GetRecognitionModelPath(""),
		Alphabet:       DefaultAlphabet,
		PadChar:        string(DefaultPadChar),
		InputWidth:     128,
		InputHeight:    64,
		MaxSlots:       9,
		Grayscale:      true,
		AllowUpscale:   true,
		WantConfidence: true,
		PadColor:       color.NRGBA{A: 255},
		GPU:            onnx.DefaultGPUConfig(),
	}
}

// UpdateModelPath sets ModelPath from modelsDir. An AlphabetPath already
// set is re-resolved against the same directory.
func (c *Config) UpdateModelPath(modelsDir string) {
	c.ModelPath = models.GetRecognitionModelPath(modelsDir)
	if c.AlphabetPath != "" {
		c.AlphabetPath = models.GetAlphabetPath(modelsDir, filepath.Base(c.AlphabetPath))
	}
}

// Validate checks the configuration for values the recognizer cannot run with.
func (c Config) Validate() error {
	if c.ModelPath == "" {
		return errors.New("model path cannot be empty")
	}
	if c.AlphabetPath == "" && c.Alphabet == "" {
		return errors.New("either alphabet or alphabet path must be set")
	}
	if utf8.RuneCountInString(c.PadChar) != 1 {
		return fmt.Errorf("pad char must be a single character, got %q", c.PadChar)
	}
	if c.InputWidth <= 0 || c.InputHeight <= 0 {
		return fmt.Errorf("input size must be positive, got %dx%d", c.InputWidth, c.InputHeight)
	}
	if c.MaxSlots < 0 {
		return fmt.Errorf("max slots cannot be negative, got %d", c.MaxSlots)
	}
	if c.NumThreads < 0 {
		return fmt.Errorf("num threads cannot be negative, got %d", c.NumThreads)
	}
	return onnx.ValidateGPUConfig(c.GPU)
}

// LoadConfiguredAlphabet returns the alphabet named by the configuration.
func (c Config) LoadConfiguredAlphabet() (*Alphabet, error) {
	pad, _ := utf8.DecodeRuneInString(c.PadChar)
	if c.AlphabetPath != "" {
		return LoadAlphabet(c.AlphabetPath, pad)
	}
	return NewAlphabet(c.Alphabet, pad)
}

// Recognizer decodes plate text from crops.
type Recognizer struct {
	config   Config
	alphabet *Alphabet
	engine   onnx.Engine
	mu       sync.RWMutex
}

// NewRecognizer loads the alphabet and the model at config.ModelPath.
func NewRecognizer(config Config) (*Recognizer, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid recognizer config: %w", err)
	}
	alphabet, err := config.LoadConfiguredAlphabet()
	if err != nil {
		return nil, fmt.Errorf("failed to load alphabet: %w", err)
	}

	slog.Debug("Initializing recognizer",
		"model_path", config.ModelPath,
		"alphabet_size", alphabet.Size(),
		"max_slots", config.MaxSlots,
		"gpu_enabled", config.GPU.UseGPU)

	session, err := onnx.LoadSessionFile(config.ModelPath, onnx.SessionOptions{
		Name:       engineName,
		NumThreads: config.NumThreads,
		GPU:        config.GPU,
	})
	if err != nil {
		return nil, err
	}

	r, err := NewWithEngine(config, alphabet, session)
	if err != nil {
		_ = session.Close()
		return nil, err
	}
	slog.Debug("Recognizer initialized successfully")
	return r, nil
}

// NewWithEngine builds a recognizer on an already loaded engine and takes
// ownership of it.
func NewWithEngine(config Config, alphabet *Alphabet, engine onnx.Engine) (*Recognizer, error) {
	if engine == nil {
		return nil, errors.New("recognizer engine is nil")
	}
	if alphabet == nil {
		return nil, errors.New("recognizer alphabet is nil")
	}
	if config.InputWidth <= 0 || config.InputHeight <= 0 {
		return nil, fmt.Errorf("input size must be positive, got %dx%d", config.InputWidth, config.InputHeight)
	}

	// Fixed model dimensions win over the configured ones.
	if in := engine.InputShape(); len(in) == 4 {
		switch in[1] {
		case 1:
			config.Grayscale = true
		case 3:
			config.Grayscale = false
		}
		if in[2] > 0 && in[3] > 0 {
			config.InputWidth, config.InputHeight = int(in[3]), int(in[2])
		}
	}

	return &Recognizer{config: config, alphabet: alphabet, engine: engine}, nil
}

// Close releases the engine. It is safe to call more than once.
func (r *Recognizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.engine == nil {
		return nil
	}
	err := r.engine.Close()
	r.engine = nil
	if err != nil {
		return fmt.Errorf("failed to close recognizer engine: %w", err)
	}
	return nil
}

// GetConfig returns a copy of the recognizer's configuration.
func (r *Recognizer) GetConfig() Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.config
}

// Alphabet returns the recognizer's alphabet.
func (r *Recognizer) Alphabet() *Alphabet { return r.alphabet }

// InputShape returns the model input shape, or nil once closed.
func (r *Recognizer) InputShape() []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.engine == nil {
		return nil
	}
	return r.engine.InputShape()
}

func (r *Recognizer) letterboxOptions() letterbox.Options {
	return letterbox.Options{
		TargetWidth:  r.config.InputWidth,
		TargetHeight: r.config.InputHeight,
		PadColor:     r.config.PadColor,
		AllowUpscale: r.config.AllowUpscale,
		Grayscale:    r.config.Grayscale,
	}
}

// Recognize reads the text of a single plate crop.
func (r *Recognizer) Recognize(ctx context.Context, crop image.Image) (Recognition, error) {
	return r.recognize(ctx, func(opts letterbox.Options) (onnx.Tensor, letterbox.Transform, error) {
		return letterbox.Letterbox(crop, opts)
	})
}

// RecognizeCrop is Recognize for a native crop; resizing and grayscale
// conversion run in lib.
func (r *Recognizer) RecognizeCrop(ctx context.Context, lib imgsrc.Library, crop imgsrc.Image) (Recognition, error) {
	return r.recognize(ctx, func(opts letterbox.Options) (onnx.Tensor, letterbox.Transform, error) {
		return letterbox.LetterboxNative(lib, crop, opts)
	})
}

func (r *Recognizer) recognize(ctx context.Context,
	prepare func(letterbox.Options) (onnx.Tensor, letterbox.Transform, error),
) (Recognition, error) {
	r.mu.RLock()
	engine := r.engine
	r.mu.RUnlock()
	if engine == nil {
		return Recognition{}, errdefs.InvalidState("recognize", "closed")
	}

	start := time.Now()
	tensor, _, err := prepare(r.letterboxOptions())
	if err != nil {
		return Recognition{}, err
	}
	defer tensor.Release()

	out, err := engine.Run(ctx, tensor)
	if err != nil {
		return Recognition{}, wrapEngineError(err)
	}

	recs, err := DecodePlateText(out.Data, out.Shape, r.config.MaxSlots, r.alphabet, r.config.WantConfidence)
	if err != nil {
		return Recognition{}, err
	}
	if len(recs) == 0 {
		return Recognition{}, errdefs.Postprocess(decodeOp, errors.New("empty batch"))
	}

	slog.Debug("Recognition completed",
		"text", recs[0].Text,
		"confidence", recs[0].Confidence,
		"duration_ms", time.Since(start).Milliseconds())
	return recs[0], nil
}

// Warmup runs a number of forward passes with a blank crop.
func (r *Recognizer) Warmup(ctx context.Context, iterations int) error {
	for i := range iterations {
		blank := image.NewGray(image.Rect(0, 0, r.config.InputWidth, r.config.InputHeight))
		if _, err := r.Recognize(ctx, blank); err != nil {
			return fmt.Errorf("warmup iteration %d failed: %w", i+1, err)
		}
	}
	return nil
}

func wrapEngineError(err error) error {
	var ee *errdefs.EngineError
	if errors.As(err, &ee) {
		return err
	}
	return errdefs.Engine(engineName, err)
}
