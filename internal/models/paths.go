package models

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Model file names shipped with the default model set.
const (
	// Detection models.
	DetectionPlate = "yolo-v9-t-384-license-plate-end2end.onnx"

	// Recognition models.
	RecognitionGlobal = "global-plates-mobile-vit-v2-model.onnx"

	// Alphabet files.
	AlphabetLatin = "latin_plate_alphabet.txt"
)

// Model type categories for organized directory structure.
const (
	TypeDetection   = "detection"
	TypeRecognition = "recognition"
	TypeAlphabets   = "alphabets"
)

// Default models directory.
const DefaultModelsDir = "models"

// Environment variable for models directory override.
const EnvModelsDir = "PLATEWATCH_MODELS_DIR"

// findProjectRoot finds the project root by looking for go.mod.
func findProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", errors.New("could not find project root (go.mod not found)")
}

// ModelInfo contains metadata about a model file.
type ModelInfo struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Filename    string `json:"filename"`
}

// GetModelsDir returns the models directory path from various sources
// Priority: 1. Explicit modelsDir parameter, 2. Environment variable, 3. Project root + default.
func GetModelsDir(modelsDir string) string {
	if modelsDir != "" {
		return modelsDir
	}

	if envDir := os.Getenv(EnvModelsDir); envDir != "" {
		return envDir
	}

	if projectRoot, err := findProjectRoot(); err == nil {
		return filepath.Join(projectRoot, DefaultModelsDir)
	}

	return DefaultModelsDir
}

// ResolveModelPath resolves a model filename to its full path. The organized
// layout (<dir>/<type>/<file>) wins when present; otherwise the flat layout is used.
func ResolveModelPath(modelsDir, modelType, filename string) string {
	baseDir := GetModelsDir(modelsDir)

	if modelType != "" {
		organizedPath := filepath.Join(baseDir, modelType, filename)
		if _, err := os.Stat(organizedPath); err == nil {
			return organizedPath
		}
	}

	return filepath.Join(baseDir, filename)
}

// GetDetectionModelPath returns the path for the plate detection model.
func GetDetectionModelPath(modelsDir string) string {
	return ResolveModelPath(modelsDir, TypeDetection, DetectionPlate)
}

// GetRecognitionModelPath returns the path for the plate recognition model.
func GetRecognitionModelPath(modelsDir string) string {
	return ResolveModelPath(modelsDir, TypeRecognition, RecognitionGlobal)
}

// GetAlphabetPath returns the path for an alphabet file.
func GetAlphabetPath(modelsDir, filename string) string {
	return ResolveModelPath(modelsDir, TypeAlphabets, filename)
}

// ValidateModelExists checks if a model file exists at the given path.
func ValidateModelExists(modelPath string) error {
	if _, err := os.Stat(modelPath); os.IsNotExist(err) {
		return fmt.Errorf("model file not found: %s", modelPath)
	}
	return nil
}

// ListAvailableModels returns information about the default model set.
func ListAvailableModels() []ModelInfo {
	return []ModelInfo{
		{
			Name:        "plate-detection",
			Type:        TypeDetection,
			Description: "YOLOv9-t end-to-end licence plate detector (384x384)",
			Filename:    DetectionPlate,
		},
		{
			Name:        "plate-recognition",
			Type:        TypeRecognition,
			Description: "Fixed-slot global plate recognizer (MobileViT v2)",
			Filename:    RecognitionGlobal,
		},
		{
			Name:        "latin-alphabet",
			Type:        TypeAlphabets,
			Description: "Latin plate alphabet, one symbol per line",
			Filename:    AlphabetLatin,
		},
	}
}
