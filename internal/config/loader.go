package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	// ConfigFileName is the base name for configuration files (without extension).
	ConfigFileName = "platewatch"

	// EnvPrefix is the prefix for environment variables.
	EnvPrefix = "PLATEWATCH"
)

// Loader handles loading configuration from various sources.
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	// Use the global viper instance to ensure flag bindings work
	return &Loader{v: viper.GetViper()}
}

// NewLoaderWithViper creates a loader on a caller-owned viper instance.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	if v == nil {
		v = viper.New()
	}
	return &Loader{v: v}
}

// Load loads configuration from files, environment variables, and sets defaults.
// It returns the loaded configuration and any error encountered.
func (l *Loader) Load() (*Config, error) {
	return l.load("", true)
}

// LoadWithoutValidation loads configuration like Load but skips validation.
func (l *Loader) LoadWithoutValidation() (*Config, error) {
	return l.load("", false)
}

// LoadWithFile loads configuration from a specific file path.
func (l *Loader) LoadWithFile(configFile string) (*Config, error) {
	return l.load(configFile, true)
}

// LoadWithFileWithoutValidation loads configuration from a specific file path without validation.
func (l *Loader) LoadWithFileWithoutValidation(configFile string) (*Config, error) {
	return l.load(configFile, false)
}

func (l *Loader) load(configFile string, validate bool) (*Config, error) {
	if configFile != "" {
		if _, err := os.Stat(configFile); os.IsNotExist(err) {
			return nil, fmt.Errorf("config file does not exist: %s", configFile)
		}
		l.v.SetConfigFile(configFile)
	} else {
		l.v.SetConfigName(ConfigFileName)
		l.v.SetConfigType("yaml") // Primary format, but viper supports multiple formats
		l.addConfigPaths()
	}

	l.setupEnvironmentVariables()
	l.setDefaults()

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, continue with defaults and env vars
	}

	var config Config
	if err := l.v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if validate {
		if err := config.Validate(); err != nil {
			return nil, fmt.Errorf("configuration validation failed: %w", err)
		}
	}

	return &config, nil
}

// Get returns a value from the configuration.
func (l *Loader) Get(key string) interface{} {
	return l.v.Get(key)
}

// GetString returns a string value from the configuration.
func (l *Loader) GetString(key string) string {
	return l.v.GetString(key)
}

// Set sets a value in the configuration.
func (l *Loader) Set(key string, value interface{}) {
	l.v.Set(key, value)
}

// GetConfigFileUsed returns the path of the config file used.
func (l *Loader) GetConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// GetViper returns the underlying viper instance for advanced usage.
func (l *Loader) GetViper() *viper.Viper {
	return l.v
}

// addConfigPaths adds the standard configuration search paths.
func (l *Loader) addConfigPaths() {
	for _, p := range GetConfigSearchPaths() {
		l.v.AddConfigPath(p)
	}
}

// setupEnvironmentVariables configures environment variable handling.
func (l *Loader) setupEnvironmentVariables() {
	l.v.SetEnvPrefix(EnvPrefix)
	l.v.AutomaticEnv()

	// PLATEWATCH_ALPR_DETECTOR_SCORE_THRESHOLD -> alpr.detector.score_threshold
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
}

// setDefaults sets default values for all configuration options.
func (l *Loader) setDefaults() {
	defaults := DefaultConfig()

	// Global settings
	l.v.SetDefault("models_dir", defaults.ModelsDir)
	l.v.SetDefault("log_level", defaults.LogLevel)
	l.v.SetDefault("verbose", defaults.Verbose)

	// Inference defaults
	det := defaults.ALPR.Detector
	l.v.SetDefault("alpr.detector.model_path", det.ModelPath)
	l.v.SetDefault("alpr.detector.input_width", det.InputWidth)
	l.v.SetDefault("alpr.detector.input_height", det.InputHeight)
	l.v.SetDefault("alpr.detector.score_threshold", det.ScoreThreshold)
	l.v.SetDefault("alpr.detector.labels", det.Labels)
	l.v.SetDefault("alpr.detector.allow_upscale", det.AllowUpscale)
	l.v.SetDefault("alpr.detector.filter", det.Filter)
	l.v.SetDefault("alpr.detector.num_threads", det.NumThreads)

	rec := defaults.ALPR.Recognizer
	l.v.SetDefault("alpr.recognizer.model_path", rec.ModelPath)
	l.v.SetDefault("alpr.recognizer.alphabet_path", rec.AlphabetPath)
	l.v.SetDefault("alpr.recognizer.alphabet", rec.Alphabet)
	l.v.SetDefault("alpr.recognizer.pad_char", rec.PadChar)
	l.v.SetDefault("alpr.recognizer.input_width", rec.InputWidth)
	l.v.SetDefault("alpr.recognizer.input_height", rec.InputHeight)
	l.v.SetDefault("alpr.recognizer.max_slots", rec.MaxSlots)
	l.v.SetDefault("alpr.recognizer.grayscale", rec.Grayscale)
	l.v.SetDefault("alpr.recognizer.num_threads", rec.NumThreads)

	l.v.SetDefault("alpr.image_backend", defaults.ALPR.ImageBackend)
	l.v.SetDefault("alpr.warmup_iterations", defaults.ALPR.WarmupIterations)

	// Pipeline defaults
	l.v.SetDefault("pipeline.event_buffer", defaults.Pipeline.EventBuffer)
	l.v.SetDefault("pipeline.timeout_sec", defaults.Pipeline.TimeoutSec)
	l.v.SetDefault("pipeline.fps", defaults.Pipeline.FPS)

	// Output defaults
	l.v.SetDefault("output.format", defaults.Output.Format)
	l.v.SetDefault("output.confidence_precision", defaults.Output.ConfidencePrecision)
	l.v.SetDefault("output.min_det_conf", defaults.Output.MinDetConfidence)

	// Server defaults
	l.v.SetDefault("server.host", defaults.Server.Host)
	l.v.SetDefault("server.port", defaults.Server.Port)
	l.v.SetDefault("server.cors_origin", defaults.Server.CORSOrigin)
	l.v.SetDefault("server.max_upload_mb", defaults.Server.MaxUploadMB)
	l.v.SetDefault("server.timeout_sec", defaults.Server.TimeoutSec)
	l.v.SetDefault("server.shutdown_timeout", defaults.Server.ShutdownTimeout)
	l.v.SetDefault("server.overlay_enabled", defaults.Server.OverlayEnabled)
	l.v.SetDefault("server.rate_limit_per_minute", defaults.Server.RateLimitPerMinute)
	l.v.SetDefault("server.max_data_per_day_mb", defaults.Server.MaxDataPerDayMB)

	// GPU defaults
	l.v.SetDefault("gpu.enabled", defaults.GPU.Enabled)
	l.v.SetDefault("gpu.device", defaults.GPU.Device)
	l.v.SetDefault("gpu.memory_limit", defaults.GPU.MemoryLimit)
}

// GetResolvedConfig returns the current resolved configuration for debugging.
func (l *Loader) GetResolvedConfig() map[string]interface{} {
	return l.v.AllSettings()
}

// WriteConfigToFile writes the current configuration to a file.
func (l *Loader) WriteConfigToFile(filename string) error {
	return l.v.WriteConfigAs(filename)
}

const defaultConfigHeader = `# platewatch configuration
# Every key can be overridden with a PLATEWATCH_ environment variable,
# e.g. PLATEWATCH_SERVER_PORT=9090 or PLATEWATCH_ALPR_DETECTOR_SCORE_THRESHOLD=0.5.
`

// WriteDefaultConfig writes the default configuration as YAML to w.
func WriteDefaultConfig(w io.Writer) error {
	if _, err := io.WriteString(w, defaultConfigHeader); err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(DefaultConfig()); err != nil {
		return fmt.Errorf("failed to encode default config: %w", err)
	}
	return enc.Close()
}

// GenerateDefaultConfigFile generates a default configuration file.
func GenerateDefaultConfigFile(filename string) error {
	if filename == "" {
		filename = ConfigFileName + ".yaml"
	}

	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	if err := WriteDefaultConfig(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// GetConfigSearchPaths returns the paths where configuration files are searched.
func GetConfigSearchPaths() []string {
	paths := []string{"."}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, home)
	}

	if configDir, exists := os.LookupEnv("XDG_CONFIG_HOME"); exists && configDir != "" {
		paths = append(paths, filepath.Join(configDir, ConfigFileName))
	} else if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", ConfigFileName))
	}

	paths = append(paths, filepath.Join("/etc", ConfigFileName))

	return paths
}

// PrintConfigInfo prints information about configuration loading for debugging.
func (l *Loader) PrintConfigInfo(w io.Writer) {
	_, _ = fmt.Fprintf(w, "Configuration file used: %s\n", l.GetConfigFileUsed())
	_, _ = fmt.Fprintf(w, "Configuration search paths: %v\n", GetConfigSearchPaths())
	_, _ = fmt.Fprintf(w, "Environment prefix: %s\n", EnvPrefix)
}
