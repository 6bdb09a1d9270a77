package detector

import (
	"errors"
	"fmt"
	"image/color"

	"github.com/MeKo-Tech/platewatch/internal/models"
	"github.com/MeKo-Tech/platewatch/internal/onnx"
)

// DefaultLabels is the class list of the default plate model.
var DefaultLabels = []string{"License Plate"}

// Config holds configuration for the plate detector.
type Config struct {
	ModelPath      string         // Path to ONNX detection model
	InputWidth     int            // Model input width (default: 384)
	InputHeight    int            // Model input height (default: 384)
	ScoreThreshold float32        // Minimum detection score (default: 0.4)
	Labels         []string       // Class id to label
	AllowUpscale   bool           // Enlarge frames smaller than the model input
	PadColor       color.NRGBA    // Letterbox padding (default: black)
	Filter         string         // Resampling filter name (default: linear)
	NumThreads     int            // Number of CPU threads (default: 0 for auto)
	GPU            onnx.GPUConfig // GPU acceleration configuration
}

// DefaultConfig returns a default detector configuration.
func DefaultConfig() Config {
	return Config{
		ModelPath:      models.GetDetectionModelPath(""),
		InputWidth:     384,
		InputHeight:    384,
		ScoreThreshold: 0.4,
		Labels:         append([]string(nil), DefaultLabels...),
		PadColor:       color.NRGBA{A: 255},
		Filter:         "linear",
		GPU:            onnx.DefaultGPUConfig(),
	}
}

// UpdateModelPath sets ModelPath from modelsDir.
func (c *Config) UpdateModelPath(modelsDir string) {
	c.ModelPath = models.GetDetectionModelPath(modelsDir)
}

// Validate checks the configuration for values the detector cannot run with.
func (c Config) Validate() error {
	if c.ModelPath == "" {
		return errors.New("model path cannot be empty")
	}
	if c.InputWidth <= 0 || c.InputHeight <= 0 {
		return fmt.Errorf("input size must be positive, got %dx%d", c.InputWidth, c.InputHeight)
	}
	if c.ScoreThreshold < 0 || c.ScoreThreshold > 1 {
		return fmt.Errorf("score threshold must be in [0,1], got %f", c.ScoreThreshold)
	}
	if c.NumThreads < 0 {
		return fmt.Errorf("num threads cannot be negative, got %d", c.NumThreads)
	}
	return onnx.ValidateGPUConfig(c.GPU)
}
