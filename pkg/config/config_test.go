package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())

	assert.Equal(t, "http://127.0.0.1:1234/v1", cfg.LLM.Endpoint)
	assert.Equal(t, 3, cfg.LLM.MaxRetries)
	assert.Equal(t, 4, cfg.LLM.MaxImages)
	assert.Equal(t, 896, cfg.LLM.MaxImageDim)
	assert.Equal(t, 10, cfg.Progress.SaveInterval)
	assert.Equal(t, "full", cfg.Progress.Mode)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("POSTSCAN_LLM_ENDPOINT", "http://10.0.0.5:8080/v1")
	t.Setenv("POSTSCAN_LLM_MODEL", "custom-model")
	t.Setenv("POSTSCAN_SAVE_INTERVAL", "25")
	t.Setenv("POSTSCAN_LOG_LEVEL", "debug")

	cfg := DefaultConfig()
	require.NoError(t, cfg.LoadFromEnv())

	assert.Equal(t, "http://10.0.0.5:8080/v1", cfg.LLM.Endpoint)
	assert.Equal(t, "custom-model", cfg.LLM.Model)
	assert.Equal(t, 25, cfg.Progress.SaveInterval)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadFromFile(t *testing.T) {
	content := `
llm:
  endpoint: http://filehost:1234/v1
  model: file-model
images:
  max_per_post: 6
progress:
  save_interval: 5
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg := DefaultConfig()
	require.NoError(t, cfg.LoadFromFile(path))

	assert.Equal(t, "http://filehost:1234/v1", cfg.LLM.Endpoint)
	assert.Equal(t, "file-model", cfg.LLM.Model)
	assert.Equal(t, 6, cfg.Images.MaxPerPost)
	assert.Equal(t, 5, cfg.Progress.SaveInterval)
	// Untouched values keep their defaults.
	assert.Equal(t, 120*time.Second, cfg.LLM.Timeout)
}

func TestLoadFromFileMissingIsError(t *testing.T) {
	cfg := DefaultConfig()
	assert.Error(t, cfg.LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml")))
}

func TestFlagsOverrideEnv(t *testing.T) {
	t.Setenv("POSTSCAN_LLM_MODEL", "env-model")

	cfg, err := Load("", map[string]interface{}{"model": "flag-model"})
	require.NoError(t, err)
	assert.Equal(t, "flag-model", cfg.LLM.Model)
}

func TestMergeCommandLineFlags(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MergeCommandLineFlags(map[string]interface{}{
		"endpoint":      "http://flag:1/v1",
		"sample":        20,
		"save-interval": 3,
		"metrics-addr":  ":9999",
	})

	assert.Equal(t, "http://flag:1/v1", cfg.LLM.Endpoint)
	assert.Equal(t, "sample", cfg.Progress.Mode)
	assert.Equal(t, 20, cfg.Progress.SampleSize)
	assert.Equal(t, 3, cfg.Progress.SaveInterval)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, ":9999", cfg.Metrics.ListenAddr)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty endpoint", func(c *Config) { c.LLM.Endpoint = "" }},
		{"empty model", func(c *Config) { c.LLM.Model = "" }},
		{"zero retries", func(c *Config) { c.LLM.MaxRetries = 0 }},
		{"zero max images", func(c *Config) { c.LLM.MaxImages = 0 }},
		{"empty cache dir", func(c *Config) { c.Images.CacheDir = "" }},
		{"global below per-post", func(c *Config) { c.Images.GlobalConcurrent = 1; c.Images.PerPostWorkers = 4 }},
		{"zero save interval", func(c *Config) { c.Progress.SaveInterval = 0 }},
		{"bad mode", func(c *Config) { c.Progress.Mode = "turbo" }},
		{"sample without size", func(c *Config) { c.Progress.Mode = "sample"; c.Progress.SampleSize = 0 }},
		{"bad log level", func(c *Config) { c.Logging.Level = "chatty" }},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := DefaultConfig()
			test.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
