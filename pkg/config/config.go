package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"postscan/pkg/logger"
)

// Config holds all configuration for the analysis pipeline.
type Config struct {
	// Inference service settings
	LLM LLMConfig `yaml:"llm" json:"llm"`

	// Image fetch and cache settings
	Images ImagesConfig `yaml:"images" json:"images"`

	// Input, state and output locations
	Data DataConfig `yaml:"data" json:"data"`

	// Checkpoint and batch behaviour
	Progress ProgressConfig `yaml:"progress" json:"progress"`

	// Prometheus metrics endpoint
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`

	// Logging configuration
	Logging logger.Config `yaml:"logging" json:"logging"`
}

// LLMConfig holds settings for the external inference service.
type LLMConfig struct {
	Endpoint    string        `yaml:"endpoint" json:"endpoint"`
	Model       string        `yaml:"model" json:"model"`
	APIKey      string        `yaml:"api_key" json:"api_key"`
	Timeout     time.Duration `yaml:"timeout" json:"timeout"`
	MaxRetries  int           `yaml:"max_retries" json:"max_retries"`
	Temperature float32       `yaml:"temperature" json:"temperature"`
	MaxTokens   int           `yaml:"max_tokens" json:"max_tokens"`
	MaxImages   int           `yaml:"max_images" json:"max_images"`
	MaxImageDim int           `yaml:"max_image_dim" json:"max_image_dim"`
	JPEGQuality int           `yaml:"jpeg_quality" json:"jpeg_quality"`
}

// ImagesConfig holds settings for resource fetching and caching.
type ImagesConfig struct {
	CacheDir          string        `yaml:"cache_dir" json:"cache_dir"`
	MaxPerPost        int           `yaml:"max_per_post" json:"max_per_post"`
	PerPostWorkers    int           `yaml:"per_post_workers" json:"per_post_workers"`
	GlobalConcurrent  int           `yaml:"global_concurrent" json:"global_concurrent"`
	FetchTimeout      time.Duration `yaml:"fetch_timeout" json:"fetch_timeout"`
	MaxRetries        int           `yaml:"max_retries" json:"max_retries"`
	RequestsPerMinute int           `yaml:"requests_per_minute" json:"requests_per_minute"`
	UserAgent         string        `yaml:"user_agent" json:"user_agent"`
}

// DataConfig holds input/state/output paths.
type DataConfig struct {
	InputFile  string `yaml:"input_file" json:"input_file"`
	StateFile  string `yaml:"state_file" json:"state_file"`
	OutputDir  string `yaml:"output_dir" json:"output_dir"`
	PromptFile string `yaml:"prompt_file" json:"prompt_file"`
}

// ProgressConfig holds checkpoint cadence and batch mode settings.
type ProgressConfig struct {
	SaveInterval int    `yaml:"save_interval" json:"save_interval"`
	Mode         string `yaml:"mode" json:"mode"` // full or sample
	SampleSize   int    `yaml:"sample_size" json:"sample_size"`
}

// MetricsConfig holds the optional Prometheus listener settings.
type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	ListenAddr string `yaml:"listen_addr" json:"listen_addr"`
}

// DefaultConfig returns a Config instance with sensible defaults.
//
// The retry and backoff constants are tuned defaults, not contractual values;
// override them per deployment via the config file or environment.
func DefaultConfig() *Config {
	return &Config{
		LLM: LLMConfig{
			Endpoint:    "http://127.0.0.1:1234/v1",
			Model:       "gemma-3-12b",
			Timeout:     120 * time.Second,
			MaxRetries:  3,
			Temperature: 0.3,
			MaxTokens:   2000,
			MaxImages:   4,
			MaxImageDim: 896,
			JPEGQuality: 85,
		},
		Images: ImagesConfig{
			CacheDir:          "data/image_cache",
			MaxPerPost:        10,
			PerPostWorkers:    4,
			GlobalConcurrent:  24,
			FetchTimeout:      30 * time.Second,
			MaxRetries:        3,
			RequestsPerMinute: 300,
			UserAgent:         "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36",
		},
		Data: DataConfig{
			InputFile: "data/posts.json",
			StateFile: "data/state/analysis_state.json",
			OutputDir: "output",
		},
		Progress: ProgressConfig{
			SaveInterval: 10,
			Mode:         "full",
			SampleSize:   50,
		},
		Metrics: MetricsConfig{
			Enabled:    false,
			ListenAddr: ":9190",
		},
		Logging: logger.Config{
			Level: "info",
		},
	}
}

// LoadFromEnv overrides configuration from environment variables.
func (c *Config) LoadFromEnv() error {
	if endpoint := os.Getenv("POSTSCAN_LLM_ENDPOINT"); endpoint != "" {
		c.LLM.Endpoint = endpoint
	}
	if model := os.Getenv("POSTSCAN_LLM_MODEL"); model != "" {
		c.LLM.Model = model
	}
	if apiKey := os.Getenv("POSTSCAN_LLM_API_KEY"); apiKey != "" {
		c.LLM.APIKey = apiKey
	}
	if cacheDir := os.Getenv("POSTSCAN_CACHE_DIR"); cacheDir != "" {
		c.Images.CacheDir = cacheDir
	}
	if inputFile := os.Getenv("POSTSCAN_INPUT_FILE"); inputFile != "" {
		c.Data.InputFile = inputFile
	}
	if stateFile := os.Getenv("POSTSCAN_STATE_FILE"); stateFile != "" {
		c.Data.StateFile = stateFile
	}
	if outputDir := os.Getenv("POSTSCAN_OUTPUT_DIR"); outputDir != "" {
		c.Data.OutputDir = outputDir
	}
	if concurrent := os.Getenv("POSTSCAN_GLOBAL_CONCURRENT"); concurrent != "" {
		var val int
		fmt.Sscanf(concurrent, "%d", &val)
		if val > 0 {
			c.Images.GlobalConcurrent = val
		}
	}
	if interval := os.Getenv("POSTSCAN_SAVE_INTERVAL"); interval != "" {
		var val int
		fmt.Sscanf(interval, "%d", &val)
		if val > 0 {
			c.Progress.SaveInterval = val
		}
	}
	if logLevel := os.Getenv("POSTSCAN_LOG_LEVEL"); logLevel != "" {
		c.Logging.Level = logLevel
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file. An empty path falls back
// to the standard locations; a missing file is not an error.
func (c *Config) LoadFromFile(path string) error {
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

func (c *Config) findConfigFile() string {
	locations := []string{
		".postscan.yaml",
		".postscan.yml",
		filepath.Join(os.Getenv("HOME"), ".config", "postscan", "config.yaml"),
		filepath.Join(os.Getenv("HOME"), ".config", "postscan", "config.yml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	var errs []error

	if c.LLM.Endpoint == "" {
		errs = append(errs, errors.New("llm endpoint is required"))
	}
	if c.LLM.Model == "" {
		errs = append(errs, errors.New("llm model is required"))
	}
	if c.LLM.Timeout <= 0 {
		errs = append(errs, errors.New("llm timeout must be positive"))
	}
	if c.LLM.MaxRetries <= 0 {
		errs = append(errs, errors.New("llm max retries must be positive"))
	}
	if c.LLM.MaxImages <= 0 {
		errs = append(errs, errors.New("llm max images must be positive"))
	}

	if c.Images.CacheDir == "" {
		errs = append(errs, errors.New("image cache directory is required"))
	}
	if c.Images.MaxPerPost <= 0 {
		errs = append(errs, errors.New("max images per post must be positive"))
	}
	if c.Images.PerPostWorkers <= 0 {
		errs = append(errs, errors.New("per-post workers must be positive"))
	}
	if c.Images.GlobalConcurrent < c.Images.PerPostWorkers {
		errs = append(errs, errors.New("global concurrent fetches must be at least per-post workers"))
	}
	if c.Images.FetchTimeout <= 0 {
		errs = append(errs, errors.New("fetch timeout must be positive"))
	}

	if c.Data.InputFile == "" {
		errs = append(errs, errors.New("input file is required"))
	}
	if c.Data.StateFile == "" {
		errs = append(errs, errors.New("state file is required"))
	}
	if c.Data.OutputDir == "" {
		errs = append(errs, errors.New("output directory is required"))
	}

	if c.Progress.SaveInterval <= 0 {
		errs = append(errs, errors.New("save interval must be positive"))
	}
	if c.Progress.Mode != "full" && c.Progress.Mode != "sample" {
		errs = append(errs, errors.New("mode must be full or sample"))
	}
	if c.Progress.Mode == "sample" && c.Progress.SampleSize <= 0 {
		errs = append(errs, errors.New("sample size must be positive in sample mode"))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// MergeCommandLineFlags merges command line flag values into the configuration.
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if endpoint, ok := flags["endpoint"].(string); ok && endpoint != "" {
		c.LLM.Endpoint = endpoint
	}
	if model, ok := flags["model"].(string); ok && model != "" {
		c.LLM.Model = model
	}
	if inputFile, ok := flags["input"].(string); ok && inputFile != "" {
		c.Data.InputFile = inputFile
	}
	if stateFile, ok := flags["state-file"].(string); ok && stateFile != "" {
		c.Data.StateFile = stateFile
	}
	if outputDir, ok := flags["output"].(string); ok && outputDir != "" {
		c.Data.OutputDir = outputDir
	}
	if cacheDir, ok := flags["cache-dir"].(string); ok && cacheDir != "" {
		c.Images.CacheDir = cacheDir
	}
	if sampleSize, ok := flags["sample"].(int); ok && sampleSize > 0 {
		c.Progress.Mode = "sample"
		c.Progress.SampleSize = sampleSize
	}
	if interval, ok := flags["save-interval"].(int); ok && interval > 0 {
		c.Progress.SaveInterval = interval
	}
	if maxRetries, ok := flags["max-retries"].(int); ok && maxRetries > 0 {
		c.LLM.MaxRetries = maxRetries
	}
	if logLevel, ok := flags["log-level"].(string); ok && logLevel != "" {
		c.Logging.Level = logLevel
	}
	if metricsAddr, ok := flags["metrics-addr"].(string); ok && metricsAddr != "" {
		c.Metrics.Enabled = true
		c.Metrics.ListenAddr = metricsAddr
	}
}

// Load loads configuration from all sources with proper precedence:
// command line flags > environment variables > .env file > config file > defaults.
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".postscan.env"))

	config := DefaultConfig()

	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	config.MergeCommandLineFlags(flags)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}
