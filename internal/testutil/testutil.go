package testutil

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
)

// ErrNoProjectRoot is returned when no go.mod is found above this package.
var ErrNoProjectRoot = errors.New("go.mod not found above testutil")

// GetProjectRoot walks up from this source file to the directory holding go.mod.
func GetProjectRoot() (string, error) {
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		return "", errors.New("failed to get caller information")
	}
	for dir := filepath.Dir(filename); ; {
		if FileExists(filepath.Join(dir, "go.mod")) {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", ErrNoProjectRoot
		}
		dir = parent
	}
}

// FramesDir is the default location for generated frame sequences.
func FramesDir() (string, error) {
	root, err := GetProjectRoot()
	if err != nil {
		return "", err
	}
	return filepath.Join(root, "testdata", "frames"), nil
}

// EnsureDir creates path and its parents.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0o750)
}

// FileExists reports whether path exists.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
