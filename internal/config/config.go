package config

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/MeKo-Tech/platewatch/internal/alpr"
	"github.com/MeKo-Tech/platewatch/internal/detector"
	"github.com/MeKo-Tech/platewatch/internal/imgsrc"
	"github.com/MeKo-Tech/platewatch/internal/letterbox"
	"github.com/MeKo-Tech/platewatch/internal/models"
	"github.com/MeKo-Tech/platewatch/internal/onnx"
	"github.com/MeKo-Tech/platewatch/internal/pipeline"
	"github.com/MeKo-Tech/platewatch/internal/recognizer"
)

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ModelsDir: models.DefaultModelsDir,
		LogLevel:  "info",
		Verbose:   false,
		ALPR: ALPRConfig{
			Detector:         defaultDetectorConfig(),
			Recognizer:       defaultRecognizerConfig(),
			ImageBackend:     imgsrc.BackendRaster,
			WarmupIterations: 0,
		},
		Pipeline: PipelineConfig{
			EventBuffer: pipeline.DefaultOptions().EventBuffer,
			TimeoutSec:  0,
			FPS:         0,
		},
		Output: OutputConfig{
			Format:              "text",
			ConfidencePrecision: 2,
			MinDetConfidence:    0,
		},
		Server: ServerConfig{
			Host:            "localhost",
			Port:            8080,
			CORSOrigin:      "*",
			MaxUploadMB:     20,
			TimeoutSec:      30,
			ShutdownTimeout: 10,
			OverlayEnabled:  true,
		},
		GPU: GPUConfig{
			Enabled:     false,
			Device:      0,
			MemoryLimit: "auto",
		},
	}
}

// defaultDetectorConfig returns default detector configuration.
func defaultDetectorConfig() DetectorConfig {
	cfg := detector.DefaultConfig()
	return DetectorConfig{
		InputWidth:     cfg.InputWidth,
		InputHeight:    cfg.InputHeight,
		ScoreThreshold: float64(cfg.ScoreThreshold),
		Labels:         cfg.Labels,
		AllowUpscale:   cfg.AllowUpscale,
		Filter:         cfg.Filter,
		NumThreads:     cfg.NumThreads,
	}
}

// defaultRecognizerConfig returns default recognizer configuration.
func defaultRecognizerConfig() RecognizerConfig {
	cfg := recognizer.DefaultConfig()
	return RecognizerConfig{
		Alphabet:    cfg.Alphabet,
		PadChar:     cfg.PadChar,
		InputWidth:  cfg.InputWidth,
		InputHeight: cfg.InputHeight,
		MaxSlots:    cfg.MaxSlots,
		Grayscale:   cfg.Grayscale,
		NumThreads:  cfg.NumThreads,
	}
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(validLogLevels, c.LogLevel) {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)", c.LogLevel, strings.Join(validLogLevels, ", "))
	}

	validFormats := []string{"text", "json", "csv"}
	if c.Output.Format != "" && !slices.Contains(validFormats, c.Output.Format) {
		return fmt.Errorf("invalid output format: %s (must be one of: %s)", c.Output.Format, strings.Join(validFormats, ", "))
	}

	validBackends := []string{"", imgsrc.BackendRaster, imgsrc.BackendOpenCV}
	if !slices.Contains(validBackends, c.ALPR.ImageBackend) {
		return fmt.Errorf("invalid image backend: %s (must be one of: %s, %s)",
			c.ALPR.ImageBackend, imgsrc.BackendRaster, imgsrc.BackendOpenCV)
	}

	if f := c.ALPR.Detector.Filter; f != "" {
		if _, ok := letterbox.Filters[f]; !ok {
			return fmt.Errorf("invalid detector filter: %s", f)
		}
	}

	if err := validateThreshold(c.ALPR.Detector.ScoreThreshold, "alpr.detector.score_threshold"); err != nil {
		return err
	}
	if err := validateThreshold(c.Output.MinDetConfidence, "output.min_det_conf"); err != nil {
		return err
	}

	if c.ALPR.Detector.InputWidth <= 0 || c.ALPR.Detector.InputHeight <= 0 {
		return fmt.Errorf("invalid detector input size: %dx%d (must be positive)",
			c.ALPR.Detector.InputWidth, c.ALPR.Detector.InputHeight)
	}
	if c.ALPR.Recognizer.InputWidth <= 0 || c.ALPR.Recognizer.InputHeight <= 0 {
		return fmt.Errorf("invalid recognizer input size: %dx%d (must be positive)",
			c.ALPR.Recognizer.InputWidth, c.ALPR.Recognizer.InputHeight)
	}
	if c.ALPR.Recognizer.MaxSlots < 0 {
		return fmt.Errorf("invalid recognizer max slots: %d (cannot be negative)", c.ALPR.Recognizer.MaxSlots)
	}
	if c.ALPR.WarmupIterations < 0 {
		return fmt.Errorf("invalid warmup iterations: %d (cannot be negative)", c.ALPR.WarmupIterations)
	}

	if c.Pipeline.EventBuffer < 0 {
		return fmt.Errorf("invalid event buffer: %d (cannot be negative)", c.Pipeline.EventBuffer)
	}
	if c.Pipeline.TimeoutSec < 0 {
		return fmt.Errorf("invalid frame timeout: %d (cannot be negative)", c.Pipeline.TimeoutSec)
	}
	if c.Pipeline.FPS < 0 {
		return fmt.Errorf("invalid fps: %.2f (cannot be negative)", c.Pipeline.FPS)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be between 1 and 65535)", c.Server.Port)
	}
	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("invalid max upload size: %d (must be positive)", c.Server.MaxUploadMB)
	}
	if c.Server.TimeoutSec <= 0 {
		return fmt.Errorf("invalid timeout: %d (must be positive)", c.Server.TimeoutSec)
	}
	if c.Server.RateLimitPerMinute < 0 || c.Server.MaxDataPerDayMB < 0 {
		return errors.New("invalid rate limit: limits cannot be negative")
	}

	if _, err := ParseMemoryLimit(c.GPU.MemoryLimit); err != nil {
		return fmt.Errorf("invalid GPU memory limit: %w", err)
	}

	return nil
}

// ToALPRConfig converts the config to the orchestrator builder configuration.
func (c *Config) ToALPRConfig() alpr.Config {
	cfg := alpr.DefaultConfig()
	if c.ModelsDir != "" {
		cfg.ModelsDir = models.GetModelsDir(c.ModelsDir)
		cfg.Detector.UpdateModelPath(cfg.ModelsDir)
		cfg.Recognizer.UpdateModelPath(cfg.ModelsDir)
	}
	if c.ALPR.ImageBackend != "" {
		cfg.ImageBackend = c.ALPR.ImageBackend
	}
	cfg.WarmupIterations = c.ALPR.WarmupIterations
	c.applyDetector(&cfg.Detector)
	c.applyRecognizer(&cfg.Recognizer)
	return cfg
}

// applyDetector copies detector settings onto a component configuration.
func (c *Config) applyDetector(cfg *detector.Config) {
	d := c.ALPR.Detector
	if d.ModelPath != "" {
		cfg.ModelPath = d.ModelPath
	}
	cfg.InputWidth = d.InputWidth
	cfg.InputHeight = d.InputHeight
	cfg.ScoreThreshold = float32(d.ScoreThreshold)
	if len(d.Labels) > 0 {
		cfg.Labels = append([]string(nil), d.Labels...)
	}
	cfg.AllowUpscale = d.AllowUpscale
	if d.Filter != "" {
		cfg.Filter = d.Filter
	}
	cfg.NumThreads = d.NumThreads
	cfg.GPU = c.gpuConfig(cfg.GPU)
}

// applyRecognizer copies recognizer settings onto a component configuration.
func (c *Config) applyRecognizer(cfg *recognizer.Config) {
	r := c.ALPR.Recognizer
	if r.ModelPath != "" {
		cfg.ModelPath = r.ModelPath
	}
	if r.AlphabetPath != "" {
		cfg.AlphabetPath = r.AlphabetPath
	}
	if r.Alphabet != "" {
		cfg.Alphabet = r.Alphabet
	}
	if r.PadChar != "" {
		cfg.PadChar = r.PadChar
	}
	cfg.InputWidth = r.InputWidth
	cfg.InputHeight = r.InputHeight
	cfg.MaxSlots = r.MaxSlots
	cfg.Grayscale = r.Grayscale
	cfg.NumThreads = r.NumThreads
	cfg.GPU = c.gpuConfig(cfg.GPU)
}

func (c *Config) gpuConfig(base onnx.GPUConfig) onnx.GPUConfig {
	base.UseGPU = c.GPU.Enabled
	base.DeviceID = c.GPU.Device
	if limit, err := ParseMemoryLimit(c.GPU.MemoryLimit); err == nil {
		base.GPUMemLimit = limit
	}
	return base
}

// ToManagerOptions converts the pipeline section to manager options.
func (c *Config) ToManagerOptions() pipeline.Options {
	opts := pipeline.DefaultOptions()
	if c.Pipeline.EventBuffer > 0 {
		opts.EventBuffer = c.Pipeline.EventBuffer
	}
	opts.Timeout = time.Duration(c.Pipeline.TimeoutSec) * time.Second
	return opts
}

// validateThreshold validates that a value is between 0.0 and 1.0.
func validateThreshold(value float64, name string) error {
	if value < 0.0 || value > 1.0 {
		return fmt.Errorf("invalid %s: %.2f (must be between 0.0 and 1.0)", name, value)
	}
	return nil
}

// ParseMemoryLimit converts a GPU memory limit such as "1GB" or "512MB" to
// bytes. "auto" and the empty string mean unlimited (0).
func ParseMemoryLimit(limit string) (uint64, error) {
	s := strings.ToUpper(strings.TrimSpace(limit))
	if s == "" || s == "AUTO" {
		return 0, nil
	}

	units := []struct {
		suffix string
		mult   float64
	}{
		{"GB", 1 << 30},
		{"MB", 1 << 20},
		{"KB", 1 << 10},
		{"B", 1},
	}
	for _, u := range units {
		if !strings.HasSuffix(s, u.suffix) {
			continue
		}
		n, err := strconv.ParseFloat(strings.TrimSuffix(s, u.suffix), 64)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid number in memory limit: %s", limit)
		}
		return uint64(n * u.mult), nil
	}
	return 0, errors.New("memory limit must end with one of: B, KB, MB, GB")
}
