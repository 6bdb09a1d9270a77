package config

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const (
	testModelsDir = "/test/models"
	testHost      = "0.0.0.0"
	testAlphabet  = "/test/alphabet.txt"
)

// TestConfigJSONMarshaling tests the JSON field names used by the models endpoint.
func TestConfigJSONMarshaling(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LogLevel = debugLevel
	cfg.Verbose = true

	data, err := json.Marshal(cfg)
	require.NoError(t, err)

	var result map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &result))
	assert.Equal(t, debugLevel, result["log_level"])
	assert.Equal(t, true, result["verbose"])

	alprSection, ok := result["alpr"].(map[string]interface{})
	require.True(t, ok, "alpr section present")
	assert.Contains(t, alprSection, "detector")
	assert.Contains(t, alprSection, "recognizer")
	assert.Equal(t, "raster", alprSection["image_backend"])
}

// TestConfigYAMLUnmarshaling tests decoding a hand-written YAML document.
func TestConfigYAMLUnmarshaling(t *testing.T) {
	yamlData := `
models_dir: /test/models
alpr:
  detector:
    input_width: 640
    input_height: 640
    labels: ["plate"]
  recognizer:
    alphabet_path: /test/alphabet.txt
    pad_char: "#"
server:
  host: 0.0.0.0
  cors_origin: https://example.org
pipeline:
  fps: 10
`
	var cfg Config
	require.NoError(t, yaml.Unmarshal([]byte(yamlData), &cfg))

	assert.Equal(t, testModelsDir, cfg.ModelsDir)
	assert.Equal(t, 640, cfg.ALPR.Detector.InputWidth)
	assert.Equal(t, []string{"plate"}, cfg.ALPR.Detector.Labels)
	assert.Equal(t, testAlphabet, cfg.ALPR.Recognizer.AlphabetPath)
	assert.Equal(t, "#", cfg.ALPR.Recognizer.PadChar)
	assert.Equal(t, testHost, cfg.Server.Host)
	assert.Equal(t, "https://example.org", cfg.Server.CORSOrigin)
	assert.InDelta(t, 10.0, cfg.Pipeline.FPS, 1e-9)
}

// TestConfigRoundTripYAML tests that a modified config survives YAML encoding.
func TestConfigRoundTripYAML(t *testing.T) {
	original := DefaultConfig()
	original.ModelsDir = testModelsDir
	original.ALPR.Recognizer.AlphabetPath = testAlphabet
	original.ALPR.Detector.Labels = []string{"plate", "moto plate"}
	original.Server.Host = testHost
	original.GPU.Enabled = true
	original.GPU.MemoryLimit = "1GB"

	data, err := yaml.Marshal(original)
	require.NoError(t, err)

	var decoded Config
	require.NoError(t, yaml.Unmarshal(data, &decoded))
	assert.Equal(t, original, decoded)
}
