package onnx

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"

	"github.com/yalue/onnxruntime_go"
)

// EnvLibraryPath overrides shared library discovery.
const EnvLibraryPath = "ONNXRUNTIME_SHARED_LIBRARY_PATH"

var runtimeMu sync.Mutex

// GPUConfig holds CUDA execution provider settings.
type GPUConfig struct {
	UseGPU                bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	DeviceID              int    `mapstructure:"device" yaml:"device" json:"device"`
	GPUMemLimit           uint64 `mapstructure:"memory_limit" yaml:"memory_limit" json:"memory_limit"` // bytes, 0 = unlimited
	ArenaExtendStrategy   string `mapstructure:"arena_extend_strategy" yaml:"arena_extend_strategy" json:"arena_extend_strategy"`
	CUDNNConvAlgoSearch   string `mapstructure:"cudnn_conv_algo_search" yaml:"cudnn_conv_algo_search" json:"cudnn_conv_algo_search"`
	DoCopyInDefaultStream bool   `mapstructure:"copy_in_default_stream" yaml:"copy_in_default_stream" json:"copy_in_default_stream"`
}

// DefaultGPUConfig returns a CPU-only configuration with CUDA defaults filled in.
func DefaultGPUConfig() GPUConfig {
	return GPUConfig{
		ArenaExtendStrategy:   "kNextPowerOfTwo",
		CUDNNConvAlgoSearch:   "DEFAULT",
		DoCopyInDefaultStream: true,
	}
}

// ValidateGPUConfig checks CUDA settings. CPU-only configs always pass.
func ValidateGPUConfig(config GPUConfig) error {
	if !config.UseGPU {
		return nil
	}
	if config.DeviceID < 0 {
		return fmt.Errorf("device ID must be non-negative, got %d", config.DeviceID)
	}
	switch config.ArenaExtendStrategy {
	case "", "kNextPowerOfTwo", "kSameAsRequested":
	default:
		return fmt.Errorf("invalid arena extend strategy: %s", config.ArenaExtendStrategy)
	}
	switch config.CUDNNConvAlgoSearch {
	case "", "EXHAUSTIVE", "HEURISTIC", "DEFAULT":
	default:
		return fmt.Errorf("invalid CUDNN conv algo search: %s", config.CUDNNConvAlgoSearch)
	}
	return nil
}

// cudaSettings renders the provider options map.
func cudaSettings(gpu GPUConfig) map[string]string {
	settings := map[string]string{
		"device_id":                 strconv.Itoa(gpu.DeviceID),
		"do_copy_in_default_stream": "0",
	}
	if gpu.DoCopyInDefaultStream {
		settings["do_copy_in_default_stream"] = "1"
	}
	if gpu.GPUMemLimit > 0 {
		settings["gpu_mem_limit"] = strconv.FormatUint(gpu.GPUMemLimit, 10)
	}
	if gpu.ArenaExtendStrategy != "" {
		settings["arena_extend_strategy"] = gpu.ArenaExtendStrategy
	}
	if gpu.CUDNNConvAlgoSearch != "" {
		settings["cudnn_conv_algo_search"] = gpu.CUDNNConvAlgoSearch
	}
	return settings
}

// ConfigureSessionForGPU appends the CUDA execution provider when enabled.
func ConfigureSessionForGPU(sessionOptions *onnxruntime_go.SessionOptions, gpu GPUConfig) error {
	if !gpu.UseGPU {
		return nil
	}

	cudaOpts, err := onnxruntime_go.NewCUDAProviderOptions()
	if err != nil {
		return fmt.Errorf("failed to create CUDA provider options (GPU may not be available): %w", err)
	}
	defer func() {
		if err := cudaOpts.Destroy(); err != nil {
			slog.Warn("Failed to destroy CUDA provider options", "error", err)
		}
	}()

	if err := cudaOpts.Update(cudaSettings(gpu)); err != nil {
		return fmt.Errorf("failed to update CUDA provider options: %w", err)
	}
	if err := sessionOptions.AppendExecutionProviderCUDA(cudaOpts); err != nil {
		return fmt.Errorf("failed to append CUDA execution provider: %w", err)
	}
	return nil
}

// libraryCandidates lists shared library locations in lookup order.
func libraryCandidates(useGPU bool) []string {
	var paths []string
	if env := os.Getenv(EnvLibraryPath); env != "" {
		paths = append(paths, env)
	}

	libName := libraryName()
	if useGPU {
		paths = append(paths, filepath.Join("/opt/onnxruntime/gpu/lib", libName))
	}
	paths = append(paths,
		filepath.Join("/usr/local/lib", libName),
		filepath.Join("/usr/lib", libName),
		filepath.Join("/opt/onnxruntime/cpu/lib", libName),
	)

	if root, err := findProjectRoot(); err == nil {
		if useGPU {
			paths = append(paths, filepath.Join(root, "onnxruntime", "gpu", "lib", libName))
		}
		paths = append(paths, filepath.Join(root, "onnxruntime", "lib", libName))
	}
	return paths
}

func libraryName() string {
	switch runtime.GOOS {
	case "darwin":
		return "libonnxruntime.dylib"
	case "windows":
		return "onnxruntime.dll"
	default:
		return "libonnxruntime.so"
	}
}

// findProjectRoot walks up from the working directory to the first go.mod.
func findProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current directory: %w", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.New("could not find project root")
		}
		dir = parent
	}
}

// LocateLibrary returns the first existing shared library candidate.
func LocateLibrary(useGPU bool) (string, error) {
	candidates := libraryCandidates(useGPU)
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("ONNX Runtime library not found (tried %d locations, set %s)", len(candidates), EnvLibraryPath)
}

// InitRuntime locates the shared library and initializes the ONNX Runtime
// environment once per process.
func InitRuntime(useGPU bool) error {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()

	if onnxruntime_go.IsInitialized() {
		return nil
	}
	libPath, err := LocateLibrary(useGPU)
	if err != nil {
		return err
	}
	onnxruntime_go.SetSharedLibraryPath(libPath)
	if err := onnxruntime_go.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX Runtime: %w", err)
	}
	slog.Debug("ONNX Runtime initialized", "library", libPath, "version", onnxruntime_go.GetVersion())
	return nil
}

// ShutdownRuntime tears down the environment. Call once at process exit.
func ShutdownRuntime() error {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()

	if !onnxruntime_go.IsInitialized() {
		return nil
	}
	return onnxruntime_go.DestroyEnvironment()
}
