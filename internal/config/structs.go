//nolint:lll
package config

// Config represents the complete configuration for the platewatch application.
// It includes settings for all commands (image, stream, serve) and
// supports loading from configuration files, environment variables, and command-line flags.
type Config struct {
	// Global settings
	ModelsDir string `mapstructure:"models_dir" yaml:"models_dir" json:"models_dir"`
	LogLevel  string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	Verbose   bool   `mapstructure:"verbose" yaml:"verbose" json:"verbose"`

	// Inference configuration
	ALPR ALPRConfig `mapstructure:"alpr" yaml:"alpr" json:"alpr"`

	// Frame scheduling
	Pipeline PipelineConfig `mapstructure:"pipeline" yaml:"pipeline" json:"pipeline"`

	// Output configuration
	Output OutputConfig `mapstructure:"output" yaml:"output" json:"output"`

	// Server configuration (for serve command)
	Server ServerConfig `mapstructure:"server" yaml:"server" json:"server"`

	// GPU configuration
	GPU GPUConfig `mapstructure:"gpu" yaml:"gpu" json:"gpu"`
}

// ALPRConfig contains detector and recognizer settings.
type ALPRConfig struct {
	Detector   DetectorConfig   `mapstructure:"detector" yaml:"detector" json:"detector"`
	Recognizer RecognizerConfig `mapstructure:"recognizer" yaml:"recognizer" json:"recognizer"`

	// Native image library: raster or opencv
	ImageBackend string `mapstructure:"image_backend" yaml:"image_backend" json:"image_backend"`

	WarmupIterations int `mapstructure:"warmup_iterations" yaml:"warmup_iterations" json:"warmup_iterations"`
}

// DetectorConfig contains plate detection settings.
type DetectorConfig struct {
	ModelPath      string   `mapstructure:"model_path" yaml:"model_path" json:"model_path"`
	InputWidth     int      `mapstructure:"input_width" yaml:"input_width" json:"input_width"`
	InputHeight    int      `mapstructure:"input_height" yaml:"input_height" json:"input_height"`
	ScoreThreshold float64  `mapstructure:"score_threshold" yaml:"score_threshold" json:"score_threshold"`
	Labels         []string `mapstructure:"labels" yaml:"labels" json:"labels"`
	AllowUpscale   bool     `mapstructure:"allow_upscale" yaml:"allow_upscale" json:"allow_upscale"`
	Filter         string   `mapstructure:"filter" yaml:"filter" json:"filter"`
	NumThreads     int      `mapstructure:"num_threads" yaml:"num_threads" json:"num_threads"`
}

// RecognizerConfig contains plate text recognition settings.
type RecognizerConfig struct {
	ModelPath    string `mapstructure:"model_path" yaml:"model_path" json:"model_path"`
	AlphabetPath string `mapstructure:"alphabet_path" yaml:"alphabet_path" json:"alphabet_path"`
	Alphabet     string `mapstructure:"alphabet" yaml:"alphabet" json:"alphabet"`
	PadChar      string `mapstructure:"pad_char" yaml:"pad_char" json:"pad_char"`
	InputWidth   int    `mapstructure:"input_width" yaml:"input_width" json:"input_width"`
	InputHeight  int    `mapstructure:"input_height" yaml:"input_height" json:"input_height"`
	MaxSlots     int    `mapstructure:"max_slots" yaml:"max_slots" json:"max_slots"`
	Grayscale    bool   `mapstructure:"grayscale" yaml:"grayscale" json:"grayscale"`
	NumThreads   int    `mapstructure:"num_threads" yaml:"num_threads" json:"num_threads"`
}

// PipelineConfig contains concurrency manager and pacing settings.
type PipelineConfig struct {
	EventBuffer int     `mapstructure:"event_buffer" yaml:"event_buffer" json:"event_buffer"`
	TimeoutSec  int     `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"` // per-frame, 0 = none
	FPS         float64 `mapstructure:"fps" yaml:"fps" json:"fps"`                         // capture pacing, 0 = unpaced
}

// OutputConfig contains output formatting settings.
type OutputConfig struct {
	Format              string  `mapstructure:"format" yaml:"format" json:"format"`
	ConfidencePrecision int     `mapstructure:"confidence_precision" yaml:"confidence_precision" json:"confidence_precision"`
	MinDetConfidence    float64 `mapstructure:"min_det_conf" yaml:"min_det_conf" json:"min_det_conf"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host            string `mapstructure:"host" yaml:"host" json:"host"`
	Port            int    `mapstructure:"port" yaml:"port" json:"port"`
	CORSOrigin      string `mapstructure:"cors_origin" yaml:"cors_origin" json:"cors_origin"`
	MaxUploadMB     int    `mapstructure:"max_upload_mb" yaml:"max_upload_mb" json:"max_upload_mb"`
	TimeoutSec      int    `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`
	OverlayEnabled  bool   `mapstructure:"overlay_enabled" yaml:"overlay_enabled" json:"overlay_enabled"`

	// Per-client limits; zero disables.
	RateLimitPerMinute int `mapstructure:"rate_limit_per_minute" yaml:"rate_limit_per_minute" json:"rate_limit_per_minute"`
	MaxDataPerDayMB    int `mapstructure:"max_data_per_day_mb" yaml:"max_data_per_day_mb" json:"max_data_per_day_mb"`
}

// GPUConfig contains GPU acceleration settings.
type GPUConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Device      int    `mapstructure:"device" yaml:"device" json:"device"`
	MemoryLimit string `mapstructure:"memory_limit" yaml:"memory_limit" json:"memory_limit"`
}
