// Package config provides application configuration management with
// multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (HOSHI_* prefix, runtime override)
//  2. Config file (~/.hoshi/config.yaml)
//  3. Default values
//
// Main configuration categories:
//   - AI: completion model, rewrite model, temperature
//   - Drive: remote repository credentials and crawl root
//   - Index: managed file-search service endpoint
//   - Sync: batch width, crawl depth bound
//   - Storage: PostgreSQL connection (see storage.go)
//
// Sensitive values (API keys, tokens, passwords) are never logged.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingAPIKey indicates a required API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidModelName indicates the model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidTemperature indicates the temperature value is out of range.
	ErrInvalidTemperature = errors.New("invalid temperature")

	// ErrInvalidBatchWidth indicates the sync batch width is out of range.
	ErrInvalidBatchWidth = errors.New("invalid sync batch width")

	// ErrInvalidMaxDepth indicates the crawl depth bound is out of range.
	ErrInvalidMaxDepth = errors.New("invalid crawl max depth")
)

// Default values applied when neither the config file nor the environment
// provides a setting.
const (
	DefaultModelName        = "googleai/gemini-2.5-flash"
	DefaultRewriteModelName = "googleai/gemini-2.5-flash-lite"
	DefaultTemperature      = 0.7
	DefaultSyncBatchWidth   = 5
	DefaultSyncMaxDepth     = 5
	DefaultDriveRootFolder  = "root"
	DefaultIndexBaseURL     = "https://generativelanguage.googleapis.com"
)

// Config holds all application configuration.
type Config struct {
	// AI settings
	GeminiAPIKey     string  `mapstructure:"-"` // env only, never persisted
	ModelName        string  `mapstructure:"model_name"`
	RewriteModelName string  `mapstructure:"rewrite_model_name"`
	Temperature      float64 `mapstructure:"temperature"`

	// Remote repository (Drive) settings
	DriveAccessToken string `mapstructure:"-"` // env only, never persisted
	DriveRootFolder  string `mapstructure:"drive_root_folder"`
	DriveEnabled     bool   `mapstructure:"drive_enabled"`

	// File-index settings
	IndexBaseURL string `mapstructure:"index_base_url"`
	IndexEnabled bool   `mapstructure:"index_enabled"`

	// Sync settings
	SyncBatchWidth int `mapstructure:"sync_batch_width"`
	SyncMaxDepth   int `mapstructure:"sync_max_depth"`

	// Tenant scope for sync state and index stores
	TenantID string `mapstructure:"tenant_id"`

	// PostgreSQL settings (see storage.go)
	PostgresHost     string `mapstructure:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user"`
	PostgresPassword string `mapstructure:"-"` // env only, never persisted
	PostgresDBName   string `mapstructure:"postgres_dbname"`
	PostgresSSLMode  string `mapstructure:"postgres_sslmode"`

	// Logging
	LogLevel string `mapstructure:"log_level"`
	LogJSON  bool   `mapstructure:"log_json"`
}

// Load reads configuration from defaults, the optional config file and the
// environment, then validates the result.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// Optional config file: ~/.hoshi/config.yaml
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".hoshi"))
	}
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No config file is fine; defaults + env apply.
	}

	v.SetEnvPrefix("HOSHI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Secrets come from the environment only.
	cfg.GeminiAPIKey = firstEnv("HOSHI_GEMINI_API_KEY", "GEMINI_API_KEY")
	cfg.DriveAccessToken = firstEnv("HOSHI_DRIVE_ACCESS_TOKEN", "DRIVE_ACCESS_TOKEN")
	cfg.PostgresPassword = os.Getenv("HOSHI_POSTGRES_PASSWORD")

	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("model_name", DefaultModelName)
	v.SetDefault("rewrite_model_name", DefaultRewriteModelName)
	v.SetDefault("temperature", DefaultTemperature)
	v.SetDefault("drive_root_folder", DefaultDriveRootFolder)
	v.SetDefault("drive_enabled", true)
	v.SetDefault("index_base_url", DefaultIndexBaseURL)
	v.SetDefault("index_enabled", true)
	v.SetDefault("sync_batch_width", DefaultSyncBatchWidth)
	v.SetDefault("sync_max_depth", DefaultSyncMaxDepth)
	v.SetDefault("tenant_id", "default")
	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "hoshi")
	v.SetDefault("postgres_dbname", "hoshi")
	v.SetDefault("postgres_sslmode", "disable")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", false)
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if val := os.Getenv(k); val != "" {
			return val
		}
	}
	return ""
}
