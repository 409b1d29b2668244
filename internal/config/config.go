// Package config loads photofp settings.
//
// Precedence, lowest first:
//  1. Default()
//  2. YAML config file
//  3. .env file (never overrides variables already set)
//  4. PHOTOFP_* environment variables
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/cwbudde/photofingerprint/internal/fingerprint/kernel"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "PHOTOFP"

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the complete runtime configuration.
type Config struct {
	LogLevel  string `yaml:"log_level" envconfig:"LOG_LEVEL"`
	LogFormat string `yaml:"log_format" envconfig:"LOG_FORMAT"`

	// Backend is cpu, software or opencl.
	Backend string `yaml:"backend" envconfig:"BACKEND"`
	DataDir string `yaml:"data_dir" envconfig:"DATA_DIR"`
	// Store is fs or badger.
	Store string `yaml:"store" envconfig:"STORE"`

	Server   ServerConfig   `yaml:"server" envconfig:"SERVER"`
	Software SoftwareConfig `yaml:"software" envconfig:"SOFTWARE"`
	Search   SearchConfig   `yaml:"search" envconfig:"SEARCH"`
	Index    IndexConfig    `yaml:"index" envconfig:"INDEX"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr           string  `yaml:"addr" envconfig:"ADDR"`
	RateLimitRPS   float64 `yaml:"rate_limit_rps" envconfig:"RATE_LIMIT_RPS"` // 0 disables
	RateLimitBurst int     `yaml:"rate_limit_burst" envconfig:"RATE_LIMIT_BURST"`
	CacheSize      int     `yaml:"cache_size" envconfig:"CACHE_SIZE"`
	MaxUploadBytes int64   `yaml:"max_upload_bytes" envconfig:"MAX_UPLOAD_BYTES"`
}

// SoftwareConfig shapes the software compute device.
type SoftwareConfig struct {
	ExecutionWidth     int    `yaml:"execution_width" envconfig:"EXECUTION_WIDTH"`
	MaxThreadsPerGroup int    `yaml:"max_threads_per_group" envconfig:"MAX_THREADS_PER_GROUP"`
	Capability         string `yaml:"capability" envconfig:"CAPABILITY"`
	Workers            int    `yaml:"workers" envconfig:"WORKERS"`
}

// SearchConfig holds similarity search defaults.
type SearchConfig struct {
	K        int     `yaml:"k" envconfig:"K"`
	MinScore float64 `yaml:"min_score" envconfig:"MIN_SCORE"`
}

// IndexConfig controls directory indexing.
type IndexConfig struct {
	Workers int `yaml:"workers" envconfig:"WORKERS"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "json",
		Backend:   "cpu",
		DataDir:   "./data",
		Store:     "fs",
		Server: ServerConfig{
			Addr:           ":8080",
			RateLimitRPS:   0,
			RateLimitBurst: 0,
			CacheSize:      256,
			MaxUploadBytes: 32 << 20,
		},
		Software: SoftwareConfig{
			ExecutionWidth:     32,
			MaxThreadsPerGroup: 256,
			Capability:         "nonuniform",
		},
		Search: SearchConfig{
			K:        10,
			MinScore: 0.5,
		},
		Index: IndexConfig{
			Workers: 4,
		},
	}
}

// Load applies the config file at path (skipped when empty or missing),
// the .env file at envFile (same rules) and the environment, then validates.
func Load(path, envFile string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// Validate checks field ranges and enumerations.
func (c *Config) Validate() error {
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("%w: log_format %q (expected json or text)", ErrInvalidConfig, c.LogFormat)
	}
	switch strings.ToLower(c.Store) {
	case "fs", "badger":
	default:
		return fmt.Errorf("%w: store %q (expected fs or badger)", ErrInvalidConfig, c.Store)
	}
	if c.DataDir == "" {
		return fmt.Errorf("%w: data_dir is required", ErrInvalidConfig)
	}
	if c.Server.RateLimitRPS < 0 || c.Server.RateLimitBurst < 0 {
		return fmt.Errorf("%w: rate limit must not be negative", ErrInvalidConfig)
	}
	if c.Server.CacheSize < 0 {
		return fmt.Errorf("%w: cache_size must not be negative", ErrInvalidConfig)
	}
	if _, err := kernel.ParseCapability(c.Software.Capability); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.Search.K <= 0 {
		return fmt.Errorf("%w: search k must be positive", ErrInvalidConfig)
	}
	if c.Search.MinScore < -1 || c.Search.MinScore > 1 {
		return fmt.Errorf("%w: search min_score %v outside [-1, 1]", ErrInvalidConfig, c.Search.MinScore)
	}
	if c.Index.Workers <= 0 {
		return fmt.Errorf("%w: index workers must be positive", ErrInvalidConfig)
	}
	return nil
}

// Device returns the software device configuration.
func (c *Config) Device() kernel.SoftwareConfig {
	capability, _ := kernel.ParseCapability(c.Software.Capability)
	return kernel.SoftwareConfig{
		ExecutionWidth:     c.Software.ExecutionWidth,
		MaxThreadsPerGroup: c.Software.MaxThreadsPerGroup,
		Capability:         capability,
		Workers:            c.Software.Workers,
	}
}

// Level returns the slog level for LogLevel.
func (c *Config) Level() slog.Level {
	level, _ := parseLevel(c.LogLevel)
	return level
}

// NewLogger builds a logger writing to w in LogFormat at LogLevel.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.Level()}
	if c.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func parseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("%w: log_level %q", ErrInvalidConfig, name)
	}
}
