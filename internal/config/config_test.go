package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwbudde/photofingerprint/internal/fingerprint/kernel"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadMissingFilesUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(filepath.Join(dir, "absent.yaml"), filepath.Join(dir, "absent.env"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "photofp.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
backend: software
store: badger
server:
  addr: ":9090"
  rate_limit_rps: 5
software:
  capability: uniform
  execution_width: 16
search:
  k: 3
`), 0o644))

	cfg, err := Load(path, "")
	require.NoError(t, err)

	assert.Equal(t, "software", cfg.Backend)
	assert.Equal(t, "badger", cfg.Store)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 5.0, cfg.Server.RateLimitRPS)
	assert.Equal(t, 3, cfg.Search.K)
	// Untouched keys keep their defaults
	assert.Equal(t, 256, cfg.Software.MaxThreadsPerGroup)
	assert.Equal(t, 0.5, cfg.Search.MinScore)

	dev := cfg.Device()
	assert.Equal(t, kernel.UniformOnly, dev.Capability)
	assert.Equal(t, 16, dev.ExecutionWidth)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "photofp.yaml")
	require.NoError(t, os.WriteFile(path, []byte("backend: software\nserver:\n  addr: \":9090\"\n"), 0o644))

	t.Setenv("PHOTOFP_BACKEND", "opencl")
	t.Setenv("PHOTOFP_SERVER_CACHE_SIZE", "12")
	t.Setenv("PHOTOFP_SEARCH_MIN_SCORE", "0.8")

	cfg, err := Load(path, "")
	require.NoError(t, err)

	assert.Equal(t, "opencl", cfg.Backend)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 12, cfg.Server.CacheSize)
	assert.Equal(t, 0.8, cfg.Search.MinScore)
}

func TestDotEnvFile(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("PHOTOFP_INDEX_WORKERS=7\n"), 0o644))
	t.Setenv("PHOTOFP_INDEX_WORKERS", "")
	os.Unsetenv("PHOTOFP_INDEX_WORKERS")

	cfg, err := Load("", envFile)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Index.Workers)
}

func TestValidateRejects(t *testing.T) {
	tests := map[string]func(*Config){
		"log level":  func(c *Config) { c.LogLevel = "verbose" },
		"log format": func(c *Config) { c.LogFormat = "xml" },
		"store":      func(c *Config) { c.Store = "sqlite" },
		"data dir":   func(c *Config) { c.DataDir = "" },
		"rate":       func(c *Config) { c.Server.RateLimitRPS = -1 },
		"capability": func(c *Config) { c.Software.Capability = "warp" },
		"k":          func(c *Config) { c.Search.K = 0 },
		"min score":  func(c *Config) { c.Search.MinScore = 2 },
		"workers":    func(c *Config) { c.Index.Workers = 0 },
	}

	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestNewLoggerFormat(t *testing.T) {
	cfg := Default()
	cfg.LogFormat = "text"
	cfg.LogLevel = "warn"

	var buf bytes.Buffer
	logger := cfg.NewLogger(&buf)
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "msg=shown")
	assert.Contains(t, out, "k=v")
}
