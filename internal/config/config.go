package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment overrides, e.g.
// CYCLE_REPORT_ANALYSIS_MAX_LAG=120.
const EnvPrefix = "CYCLE_REPORT"

// Config is the root configuration for a batch run.
type Config struct {
	Input    InputConfig    `mapstructure:"input"`
	Output   OutputConfig   `mapstructure:"output"`
	Sampling SamplingConfig `mapstructure:"sampling"`
	Analysis AnalysisConfig `mapstructure:"analysis"`
	Tools    ToolsConfig    `mapstructure:"tools"`
	Detector DetectorConfig `mapstructure:"detector"`
	Store    StoreConfig    `mapstructure:"store"`
}

// InputConfig selects the videos to process.
type InputConfig struct {
	Dir        string   `mapstructure:"dir"`
	Extensions []string `mapstructure:"extensions"`
}

// OutputConfig places the artifacts.
type OutputConfig struct {
	Dir       string `mapstructure:"dir"`
	FramesDir string `mapstructure:"frames_dir"`
	ReportDir string `mapstructure:"report_dir"` // empty disables plots
}

// SamplingConfig controls which frames are sent to the detector.
type SamplingConfig struct {
	FrameStride int `mapstructure:"frame_stride"`
}

// AnalysisConfig controls period estimation.
type AnalysisConfig struct {
	MaxLag int `mapstructure:"max_lag"`
}

// ToolsConfig locates the external decoding binaries.
type ToolsConfig struct {
	FFmpeg  string `mapstructure:"ffmpeg"`
	FFprobe string `mapstructure:"ffprobe"`
}

// DetectorConfig points at the pose-detection sidecar.
type DetectorConfig struct {
	Address     string        `mapstructure:"address"`
	Timeout     time.Duration `mapstructure:"timeout"`
	JPEGQuality int           `mapstructure:"jpeg_quality"`
}

// StoreConfig enables the sqlite run ledger.
type StoreConfig struct {
	Path string `mapstructure:"path"` // empty disables the ledger
}

// Load reads configuration from defaults, the optional file at path, and
// CYCLE_REPORT_* environment variables, in increasing precedence.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		switch ext := filepath.Ext(path); ext {
		case ".json", ".yaml", ".yml", ".toml":
		default:
			return nil, fmt.Errorf("config file must be .json, .yaml or .toml, got %q", ext)
		}
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Default returns the configuration used when no file or environment
// overrides are present.
func Default() *Config {
	cfg, err := Load("")
	if err != nil {
		// Defaults are static and always valid.
		panic(err)
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("input.dir", "01")
	v.SetDefault("input.extensions", []string{".mp4"})

	v.SetDefault("output.dir", ".")
	v.SetDefault("output.frames_dir", "frames")
	v.SetDefault("output.report_dir", "")

	v.SetDefault("sampling.frame_stride", 5)
	v.SetDefault("analysis.max_lag", 200)

	v.SetDefault("tools.ffmpeg", "ffmpeg")
	v.SetDefault("tools.ffprobe", "ffprobe")

	v.SetDefault("detector.address", "localhost:50051")
	v.SetDefault("detector.timeout", "10s")
	v.SetDefault("detector.jpeg_quality", 90)

	v.SetDefault("store.path", "")
}

// Validate checks that the configuration values are valid.
func (c *Config) Validate() error {
	if c.Input.Dir == "" {
		return fmt.Errorf("input.dir is required")
	}
	if len(c.Input.Extensions) == 0 {
		return fmt.Errorf("input.extensions must contain at least one extension")
	}
	for _, ext := range c.Input.Extensions {
		if !strings.HasPrefix(ext, ".") {
			return fmt.Errorf("input.extensions entries must start with '.', got %q", ext)
		}
	}

	if c.Output.Dir == "" {
		return fmt.Errorf("output.dir is required")
	}
	if c.Output.FramesDir == "" {
		return fmt.Errorf("output.frames_dir is required")
	}

	if c.Sampling.FrameStride < 1 {
		return fmt.Errorf("sampling.frame_stride must be at least 1, got %d", c.Sampling.FrameStride)
	}
	if c.Analysis.MaxLag < 2 {
		return fmt.Errorf("analysis.max_lag must be at least 2, got %d", c.Analysis.MaxLag)
	}

	if c.Detector.Timeout <= 0 {
		return fmt.Errorf("detector.timeout must be positive, got %s", c.Detector.Timeout)
	}
	if c.Detector.JPEGQuality < 1 || c.Detector.JPEGQuality > 100 {
		return fmt.Errorf("detector.jpeg_quality must be between 1 and 100, got %d", c.Detector.JPEGQuality)
	}

	return nil
}

// HasExtension reports whether name carries one of the configured video
// extensions. Matching is case-insensitive.
func (c *Config) HasExtension(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, want := range c.Input.Extensions {
		if ext == strings.ToLower(want) {
			return true
		}
	}
	return false
}
