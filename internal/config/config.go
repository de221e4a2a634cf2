// Package config loads client configuration from defaults, an optional
// YAML file, and environment variable overrides, in that order.
package config

import (
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the full client configuration.
type Config struct {
	API  APIConfig  `yaml:"api"`
	Data DataConfig `yaml:"data"`
	Sync SyncConfig `yaml:"sync"`
	Log  LogConfig  `yaml:"log"`
}

// APIConfig configures the remote attendance API client.
type APIConfig struct {
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// DataConfig configures local durable storage.
type DataConfig struct {
	Dir string `yaml:"dir"`
}

// SyncConfig configures the sync engine and background trigger.
type SyncConfig struct {
	IntervalSeconds int `yaml:"interval_seconds"`
	MaxAttempts     int `yaml:"max_attempts"`
	// Backoff is "exponential" or "none".
	Backoff            string `yaml:"backoff"`
	BackoffBaseSeconds int    `yaml:"backoff_base_seconds"`
	// Exhausted is "retain" (keep queued, log each pass) or "deadletter".
	Exhausted       string `yaml:"exhausted"`
	LeaseTTLSeconds int    `yaml:"lease_ttl_seconds"`
}

// LogConfig configures logging output.
type LogConfig struct {
	Level string `yaml:"level"`
}

const (
	BackoffExponential = "exponential"
	BackoffNone        = "none"

	ExhaustedRetain     = "retain"
	ExhaustedDeadLetter = "deadletter"
)

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		API: APIConfig{
			BaseURL:        "http://localhost:3215/api",
			TimeoutSeconds: 10,
		},
		Data: DataConfig{
			Dir: "data",
		},
		Sync: SyncConfig{
			IntervalSeconds:    30,
			MaxAttempts:        3,
			Backoff:            BackoffExponential,
			BackoffBaseSeconds: 30,
			Exhausted:          ExhaustedRetain,
			LeaseTTLSeconds:    120,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// LoadConfig loads configuration with precedence:
// defaults < config/config.yml < config/config.local.yml < environment.
func LoadConfig() Config {
	cfg := Default()

	loadFile(&cfg, "config/config.yml")
	loadFile(&cfg, "config/config.local.yml")
	applyEnv(&cfg)

	return cfg
}

// loadFile merges a YAML file into cfg. A missing file is not an error.
func loadFile(cfg *Config, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	// Ignore malformed files rather than failing startup; the defaults
	// and environment still apply.
	_ = yaml.Unmarshal(data, cfg)
}

// applyEnv applies environment variable overrides.
func applyEnv(cfg *Config) {
	if v := os.Getenv("ATTENDSYNC_API_URL"); v != "" {
		cfg.API.BaseURL = v
	}
	if v, ok := envInt("ATTENDSYNC_API_TIMEOUT"); ok {
		cfg.API.TimeoutSeconds = v
	}
	if v := os.Getenv("ATTENDSYNC_DATA_DIR"); v != "" {
		cfg.Data.Dir = v
	}
	if v, ok := envInt("ATTENDSYNC_SYNC_INTERVAL"); ok {
		cfg.Sync.IntervalSeconds = v
	}
	if v, ok := envInt("ATTENDSYNC_MAX_ATTEMPTS"); ok {
		cfg.Sync.MaxAttempts = v
	}
	if v := os.Getenv("ATTENDSYNC_BACKOFF"); v != "" {
		cfg.Sync.Backoff = v
	}
	if v := os.Getenv("ATTENDSYNC_EXHAUSTED"); v != "" {
		cfg.Sync.Exhausted = v
	}
	if v := os.Getenv("ATTENDSYNC_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}
