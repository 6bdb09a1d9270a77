package models

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultBase() string {
	if projectRoot, err := findProjectRoot(); err == nil {
		return filepath.Join(projectRoot, DefaultModelsDir)
	}
	return DefaultModelsDir
}

func TestGetModelsDir(t *testing.T) {
	tests := []struct {
		name           string
		explicitDir    string
		envVar         string
		expectedResult string
	}{
		{
			name:           "explicit directory takes precedence",
			explicitDir:    "/explicit/path",
			envVar:         "/env/path",
			expectedResult: "/explicit/path",
		},
		{
			name:           "environment variable used when no explicit dir",
			envVar:         "/env/path",
			expectedResult: "/env/path",
		},
		{
			name: "default used when neither provided",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(EnvModelsDir, tt.envVar)

			expected := tt.expectedResult
			if expected == "" {
				expected = defaultBase()
			}
			assert.Equal(t, expected, GetModelsDir(tt.explicitDir))
		})
	}
}

func TestResolveModelPath_FlatFallback(t *testing.T) {
	result := ResolveModelPath("/nonexistent", TypeDetection, DetectionPlate)
	assert.Equal(t, filepath.Join("/nonexistent", DetectionPlate), result)

	assert.Equal(t, filepath.Join("/custom", RecognitionGlobal), GetRecognitionModelPath("/custom"))
	assert.Equal(t, filepath.Join("/custom", AlphabetLatin), GetAlphabetPath("/custom", AlphabetLatin))
}

func TestResolveModelPath_OrganizedStructure(t *testing.T) {
	dir := t.TempDir()
	for _, sub := range []string{TypeDetection, TypeRecognition, TypeAlphabets} {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, sub), 0o755))
	}
	det := filepath.Join(dir, TypeDetection, DetectionPlate)
	rec := filepath.Join(dir, TypeRecognition, RecognitionGlobal)
	alpha := filepath.Join(dir, TypeAlphabets, AlphabetLatin)
	for _, p := range []string{det, rec, alpha} {
		require.NoError(t, os.WriteFile(p, []byte("x"), 0o600))
	}

	assert.Equal(t, det, GetDetectionModelPath(dir))
	assert.Equal(t, rec, GetRecognitionModelPath(dir))
	assert.Equal(t, alpha, GetAlphabetPath(dir, AlphabetLatin))
}

func TestGetDetectionModelPath_Env(t *testing.T) {
	t.Setenv(EnvModelsDir, "/from/env")
	assert.Equal(t, filepath.Join("/from/env", DetectionPlate), GetDetectionModelPath(""))
}

func TestListAvailableModels(t *testing.T) {
	models := ListAvailableModels()
	require.Len(t, models, 3)

	types := map[string]bool{}
	for _, m := range models {
		types[m.Type] = true
		assert.NotEmpty(t, m.Filename)
	}
	assert.True(t, types[TypeDetection])
	assert.True(t, types[TypeRecognition])
	assert.True(t, types[TypeAlphabets])
}

func TestValidateModelExists(t *testing.T) {
	tmpPath := filepath.Join(t.TempDir(), "model.onnx")
	require.NoError(t, os.WriteFile(tmpPath, []byte("onnx"), 0o600))

	require.NoError(t, ValidateModelExists(tmpPath))

	err := ValidateModelExists("/nonexistent/path/to/model.onnx")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model file not found")
}
