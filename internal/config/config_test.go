package config

import (
	"strings"
	"testing"
	"time"

	"github.com/MeKo-Tech/platewatch/internal/imgsrc"
	"github.com/MeKo-Tech/platewatch/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	debugLevel = "debug"
	infoLevel  = "info"
)

// TestDefaultConfig tests the default configuration values.
func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.ModelsDir != models.DefaultModelsDir {
		t.Errorf("Expected models dir '%s', got %s", models.DefaultModelsDir, cfg.ModelsDir)
	}
	if cfg.LogLevel != infoLevel {
		t.Errorf("Expected log level '%s', got %s", infoLevel, cfg.LogLevel)
	}
	if cfg.ALPR.ImageBackend != imgsrc.BackendRaster {
		t.Errorf("Expected raster backend, got %s", cfg.ALPR.ImageBackend)
	}
	if cfg.ALPR.Detector.InputWidth != 384 || cfg.ALPR.Detector.InputHeight != 384 {
		t.Errorf("Expected detector input 384x384, got %dx%d",
			cfg.ALPR.Detector.InputWidth, cfg.ALPR.Detector.InputHeight)
	}
	if cfg.ALPR.Recognizer.MaxSlots != 9 {
		t.Errorf("Expected 9 recognizer slots, got %d", cfg.ALPR.Recognizer.MaxSlots)
	}
	if cfg.ALPR.Recognizer.PadChar != "_" {
		t.Errorf("Expected pad char '_', got %q", cfg.ALPR.Recognizer.PadChar)
	}
	if cfg.Pipeline.EventBuffer != 16 {
		t.Errorf("Expected event buffer 16, got %d", cfg.Pipeline.EventBuffer)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Expected port 8080, got %d", cfg.Server.Port)
	}
	if cfg.GPU.MemoryLimit != "auto" {
		t.Errorf("Expected GPU memory limit 'auto', got %s", cfg.GPU.MemoryLimit)
	}

	require.NoError(t, cfg.Validate())
}

// TestValidate covers each rejected field.
func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"log level", func(c *Config) { c.LogLevel = "verbose" }, "invalid log level"},
		{"output format", func(c *Config) { c.Output.Format = "xml" }, "invalid output format"},
		{"image backend", func(c *Config) { c.ALPR.ImageBackend = "vips" }, "invalid image backend"},
		{"filter", func(c *Config) { c.ALPR.Detector.Filter = "bicubic-ish" }, "invalid detector filter"},
		{"score threshold", func(c *Config) { c.ALPR.Detector.ScoreThreshold = 1.2 }, "score_threshold"},
		{"min det conf", func(c *Config) { c.Output.MinDetConfidence = -0.1 }, "min_det_conf"},
		{"detector input", func(c *Config) { c.ALPR.Detector.InputWidth = 0 }, "detector input size"},
		{"recognizer input", func(c *Config) { c.ALPR.Recognizer.InputHeight = -1 }, "recognizer input size"},
		{"max slots", func(c *Config) { c.ALPR.Recognizer.MaxSlots = -1 }, "max slots"},
		{"warmup", func(c *Config) { c.ALPR.WarmupIterations = -2 }, "warmup"},
		{"event buffer", func(c *Config) { c.Pipeline.EventBuffer = -1 }, "event buffer"},
		{"frame timeout", func(c *Config) { c.Pipeline.TimeoutSec = -1 }, "frame timeout"},
		{"fps", func(c *Config) { c.Pipeline.FPS = -5 }, "invalid fps"},
		{"port low", func(c *Config) { c.Server.Port = 0 }, "invalid server port"},
		{"port high", func(c *Config) { c.Server.Port = 70000 }, "invalid server port"},
		{"upload", func(c *Config) { c.Server.MaxUploadMB = 0 }, "max upload"},
		{"timeout", func(c *Config) { c.Server.TimeoutSec = 0 }, "invalid timeout"},
		{"rate limit", func(c *Config) { c.Server.RateLimitPerMinute = -1 }, "invalid rate limit"},
		{"gpu memory", func(c *Config) { c.GPU.MemoryLimit = "lots" }, "GPU memory limit"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_AcceptsEdges(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Output.Format = ""
	cfg.ALPR.ImageBackend = imgsrc.BackendOpenCV
	cfg.ALPR.Detector.ScoreThreshold = 1.0
	cfg.ALPR.Detector.Filter = ""
	cfg.Pipeline.FPS = 12.5
	cfg.GPU.MemoryLimit = "512MB"
	assert.NoError(t, cfg.Validate())
}

func TestToALPRConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ModelsDir = t.TempDir()
	cfg.ALPR.Detector.ScoreThreshold = 0.55
	cfg.ALPR.Detector.InputWidth = 640
	cfg.ALPR.Detector.Labels = []string{"plate", "sign"}
	cfg.ALPR.Recognizer.ModelPath = "/opt/rec.onnx"
	cfg.ALPR.Recognizer.Alphabet = "ABC_"
	cfg.ALPR.Recognizer.MaxSlots = 7
	cfg.ALPR.WarmupIterations = 2
	cfg.GPU.Enabled = true
	cfg.GPU.Device = 1
	cfg.GPU.MemoryLimit = "1GB"

	out := cfg.ToALPRConfig()

	assert.Equal(t, cfg.ModelsDir, out.ModelsDir)
	assert.True(t, strings.HasPrefix(out.Detector.ModelPath, cfg.ModelsDir), "detector path follows models dir")
	assert.InDelta(t, 0.55, float64(out.Detector.ScoreThreshold), 1e-6)
	assert.Equal(t, 640, out.Detector.InputWidth)
	assert.Equal(t, []string{"plate", "sign"}, out.Detector.Labels)
	assert.Equal(t, "/opt/rec.onnx", out.Recognizer.ModelPath)
	assert.Equal(t, "ABC_", out.Recognizer.Alphabet)
	assert.Equal(t, 7, out.Recognizer.MaxSlots)
	assert.Equal(t, 2, out.WarmupIterations)
	assert.Equal(t, imgsrc.BackendRaster, out.ImageBackend)

	for _, gpu := range []struct {
		enabled bool
		device  int
		limit   uint64
	}{
		{out.Detector.GPU.UseGPU, out.Detector.GPU.DeviceID, out.Detector.GPU.GPUMemLimit},
		{out.Recognizer.GPU.UseGPU, out.Recognizer.GPU.DeviceID, out.Recognizer.GPU.GPUMemLimit},
	} {
		assert.True(t, gpu.enabled)
		assert.Equal(t, 1, gpu.device)
		assert.Equal(t, uint64(1<<30), gpu.limit)
	}

	// The converted config must satisfy the component validators.
	assert.NoError(t, out.Detector.Validate())
	assert.NoError(t, out.Recognizer.Validate())
}

func TestToManagerOptions(t *testing.T) {
	cfg := DefaultConfig()
	opts := cfg.ToManagerOptions()
	assert.Equal(t, 16, opts.EventBuffer)
	assert.Zero(t, opts.Timeout)

	cfg.Pipeline.EventBuffer = 4
	cfg.Pipeline.TimeoutSec = 3
	opts = cfg.ToManagerOptions()
	assert.Equal(t, 4, opts.EventBuffer)
	assert.Equal(t, 3*time.Second, opts.Timeout)
}

// TestParseMemoryLimit tests GPU memory limit parsing.
func TestParseMemoryLimit(t *testing.T) {
	tests := []struct {
		in      string
		want    uint64
		wantErr bool
	}{
		{"", 0, false},
		{"auto", 0, false},
		{"AUTO", 0, false},
		{"1GB", 1 << 30, false},
		{"512MB", 512 << 20, false},
		{"1.5gb", 3 << 29, false},
		{"64KB", 64 << 10, false},
		{"100B", 100, false},
		{"100", 0, true},
		{"xMB", 0, true},
		{"-1MB", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseMemoryLimit(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestValidateThreshold(t *testing.T) {
	assert.NoError(t, validateThreshold(0, "x"))
	assert.NoError(t, validateThreshold(1, "x"))
	assert.Error(t, validateThreshold(-0.01, "x"))
	assert.Error(t, validateThreshold(1.01, "x"))
}
