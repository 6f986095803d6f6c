// Package config loads the pipeline YAML configuration and applies
// environment variable overrides. Components never read the environment
// themselves; everything ambient is resolved here, once, at startup.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the pipeline.
type Config struct {
	Storage      Storage        `yaml:"storage"`
	Logging      Logging        `yaml:"logging"`
	Alpaca       Alpaca         `yaml:"alpaca"`
	AlphaVantage AlphaVantage   `yaml:"alpha_vantage"`
	Pipeline     PipelineConfig `yaml:"pipeline"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	LogDir     string `yaml:"log_dir"`
	RunsDBPath string `yaml:"runs_db_path"`
}

// Logging configures the application logger.
type Logging struct {
	Level string `yaml:"level"`
}

// Alpaca holds credentials and endpoints for the Alpaca market-data API.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	DataURL   string `yaml:"data_url"`
}

// AlphaVantage holds credentials for the Alpha Vantage fallback source.
type AlphaVantage struct {
	APIKey          string `yaml:"api_key"`
	BaseURL         string `yaml:"base_url"`
	RateLimitPerMin int    `yaml:"rate_limit_per_min"`
}

// PipelineConfig holds the knobs for one daily acquisition run.
type PipelineConfig struct {
	LookbackDays        int     `yaml:"lookback_days"`
	OutputTailDays      int     `yaml:"output_tail_days"`
	BatchSize           int     `yaml:"batch_size"`
	ParallelWorkers     int     `yaml:"parallel_workers"` // 0 = auto
	BaseCooldownSecs    float64 `yaml:"base_cooldown_seconds"`
	MaxCooldownSecs     float64 `yaml:"max_cooldown_seconds"`
	BackoffStrategy     string  `yaml:"rate_limit_strategy"`
	AdaptiveReduceEvery int     `yaml:"adaptive_reduce_every"`
	APIRetryAttempts    int     `yaml:"api_retry_attempts"`
	APIRetryDelaySecs   float64 `yaml:"api_retry_delay_seconds"`
	RetentionDays       int     `yaml:"retention_days"`
	CleanupEnabled      bool    `yaml:"cleanup_enabled"`
	MinFeatureRows      int     `yaml:"min_feature_rows"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Default returns a Config populated with the pipeline defaults. A missing
// config file is not fatal; the defaults are usable on their own.
func Default() *Config {
	return &Config{
		Storage: Storage{
			DataDir:    "data",
			LogDir:     "logs",
			RunsDBPath: "data/runs.db",
		},
		Logging: Logging{Level: "info"},
		AlphaVantage: AlphaVantage{
			BaseURL:         "https://www.alphavantage.co/query",
			RateLimitPerMin: 5,
		},
		Pipeline: PipelineConfig{
			LookbackDays:        30,
			OutputTailDays:      30,
			BatchSize:           10,
			BaseCooldownSecs:    1,
			MaxCooldownSecs:     60,
			BackoffStrategy:     "exponential_backoff",
			AdaptiveReduceEvery: 3,
			APIRetryAttempts:    3,
			APIRetryDelaySecs:   1,
			RetentionDays:       3,
			CleanupEnabled:      true,
			MinFeatureRows:      500,
		},
	}
}

// Load reads the YAML configuration file at the given path, merges it over
// the defaults, and applies environment variable overrides. A missing file
// yields the defaults; a malformed file is an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(cfg)
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("LOG_DIR"); v != "" {
		cfg.Storage.LogDir = v
	}
	if v := os.Getenv("RUNS_DB_PATH"); v != "" {
		cfg.Storage.RunsDBPath = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("ALPHA_VANTAGE_API_KEY"); v != "" {
		cfg.AlphaVantage.APIKey = v
	}
	if v := os.Getenv("RETENTION_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Pipeline.RetentionDays = n
		}
	}

	// Standard Alpaca env vars (canonical names used by the SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}
