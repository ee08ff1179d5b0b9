package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, as NOVELLAMA_<SECTION>_<KEY>.
const EnvPrefix = "NOVELLAMA"

// legacyEnv maps config keys to the bare environment names that are also
// honoured. The prefixed name wins when both are set.
var legacyEnv = map[string]string{
	"completion.api_key":   "OPENAI_API_KEY",
	"completion.base_url":  "OPENAI_API_BASE",
	"model":                "MODEL_NAME",
	"context.max_messages": "MAX_CONTEXT_MESSAGES",
	"context.max_tokens":   "MAX_TOKENS",
}

// Loader handles configuration loading
type Loader struct {
	configPath string
}

// NewLoader creates a new config loader
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
	}
}

// Load reads defaults, then the config file if it exists, then the
// environment.
func (l *Loader) Load() (*Config, error) {
	configPath := l.GetConfigPath()

	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, legacy); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", legacy, err)
		}
	}

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			v.SetConfigFile(configPath)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(home, ".novellama")
	}

	if cfg.Storage.Driver == "sqlite" && cfg.Storage.DSN == "" {
		cfg.Storage.DSN = filepath.Join(cfg.DataDir, "sessions.db")
	}

	return cfg, nil
}

// GetConfigPath returns the config file path
func (l *Loader) GetConfigPath() string {
	if l.configPath != "" {
		return l.configPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".novellama", "novellama.json")
}

// setDefaults registers every key with viper so environment variables are
// seen by Unmarshal even when the file does not mention them.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("model", cfg.Model)

	v.SetDefault("completion.provider", cfg.Completion.Provider)
	v.SetDefault("completion.api_key", cfg.Completion.APIKey)
	v.SetDefault("completion.base_url", cfg.Completion.BaseURL)
	v.SetDefault("completion.temperature", cfg.Completion.Temperature)
	v.SetDefault("completion.timeout_seconds", cfg.Completion.TimeoutSeconds)

	v.SetDefault("context.max_messages", cfg.Context.MaxMessages)
	v.SetDefault("context.max_tokens", cfg.Context.MaxTokens)

	v.SetDefault("storage.driver", cfg.Storage.Driver)
	v.SetDefault("storage.dir", cfg.Storage.Dir)
	v.SetDefault("storage.dsn", cfg.Storage.DSN)
	v.SetDefault("storage.stats_schedule", cfg.Storage.StatsSchedule)

	v.SetDefault("server.host", cfg.Server.Host)
	v.SetDefault("server.port", cfg.Server.Port)
	v.SetDefault("server.rate_limit_per_minute", cfg.Server.RateLimitPerMinute)
	v.SetDefault("server.cors_origin", cfg.Server.CORSOrigin)

	v.SetDefault("gateway.enabled", cfg.Gateway.Enabled)
	v.SetDefault("gateway.shared_secret", cfg.Gateway.SharedSecret)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.file", cfg.Logging.File)
	v.SetDefault("logging.console", cfg.Logging.Console)
	v.SetDefault("logging.pretty", cfg.Logging.Pretty)
	v.SetDefault("logging.redaction", cfg.Logging.Redaction)

	v.SetDefault("data_dir", cfg.DataDir)
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	loader := NewLoader(configPath)
	return loader.Load()
}
