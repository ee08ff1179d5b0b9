package config

import (
	"encoding/json"
	"fmt"
)

// Config represents the main novellama configuration
type Config struct {
	// Model names the chat model and selects the token encoding
	Model string `json:"model" mapstructure:"model"`

	// Completion endpoint
	Completion CompletionConfig `json:"completion" mapstructure:"completion"`

	// Context size limits applied to every session
	Context ContextConfig `json:"context" mapstructure:"context"`

	// Session storage
	Storage StorageConfig `json:"storage" mapstructure:"storage"`

	// HTTP API server
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Gateway (WebSocket and HTTP JSON-RPC)
	Gateway GatewayConfig `json:"gateway" mapstructure:"gateway"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Data directory for the pid file, logs and the sqlite database
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// CompletionConfig holds the chat-completion provider settings
type CompletionConfig struct {
	Provider       string  `json:"provider" mapstructure:"provider"` // openai, anthropic
	APIKey         string  `json:"api_key" mapstructure:"api_key"`
	BaseURL        string  `json:"base_url" mapstructure:"base_url"`
	Temperature    float64 `json:"temperature" mapstructure:"temperature"`
	TimeoutSeconds int     `json:"timeout_seconds" mapstructure:"timeout_seconds"`
}

// ContextConfig holds the per-session size limits
type ContextConfig struct {
	MaxMessages int `json:"max_messages" mapstructure:"max_messages"` // 0 disables the cap
	MaxTokens   int `json:"max_tokens" mapstructure:"max_tokens"`
}

// StorageConfig selects and configures the session store
type StorageConfig struct {
	Driver        string `json:"driver" mapstructure:"driver"` // file, sqlite
	Dir           string `json:"dir" mapstructure:"dir"`
	DSN           string `json:"dsn" mapstructure:"dsn"`
	StatsSchedule string `json:"stats_schedule" mapstructure:"stats_schedule"`
}

// ServerConfig holds HTTP API server configuration
type ServerConfig struct {
	Host               string `json:"host" mapstructure:"host"`
	Port               int    `json:"port" mapstructure:"port"`
	RateLimitPerMinute int    `json:"rate_limit_per_minute" mapstructure:"rate_limit_per_minute"`
	CORSOrigin         string `json:"cors_origin" mapstructure:"cors_origin"`
}

// GatewayConfig holds gateway configuration
type GatewayConfig struct {
	Enabled      bool   `json:"enabled" mapstructure:"enabled"`
	SharedSecret string `json:"shared_secret" mapstructure:"shared_secret"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Console   bool   `json:"console" mapstructure:"console"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Model: "gpt-3.5-turbo",
		Completion: CompletionConfig{
			Provider:       "openai",
			BaseURL:        "https://api.openai.com/v1",
			Temperature:    0.3,
			TimeoutSeconds: 60,
		},
		Context: ContextConfig{
			MaxMessages: 0,
			MaxTokens:   8000,
		},
		Storage: StorageConfig{
			Driver:        "file",
			Dir:           "data",
			StatsSchedule: "@every 1m",
		},
		Server: ServerConfig{
			Host:               "0.0.0.0",
			Port:               5000,
			RateLimitPerMinute: 120,
			CORSOrigin:         "*",
		},
		Gateway: GatewayConfig{
			Enabled: false,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Console:   true,
			Pretty:    false,
			Redaction: true,
		},
	}
}

// String returns a JSON representation of the config with secrets masked
func (c *Config) String() string {
	masked := *c
	if masked.Completion.APIKey != "" {
		masked.Completion.APIKey = "***"
	}
	if masked.Gateway.SharedSecret != "" {
		masked.Gateway.SharedSecret = "***"
	}
	data, _ := json.MarshalIndent(masked, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	v := NewValidator()

	if err := v.ValidateModel(c.Model); err != nil {
		return err
	}
	if err := v.ValidateProvider(c.Completion.Provider); err != nil {
		return err
	}
	if c.Completion.APIKey == "" {
		return fmt.Errorf("completion api key is required (set OPENAI_API_KEY or completion.api_key)")
	}
	if err := v.ValidateBaseURL(c.Completion.BaseURL); err != nil {
		return err
	}
	if err := v.ValidateTemperature(c.Completion.Temperature); err != nil {
		return err
	}
	if c.Completion.TimeoutSeconds < 0 {
		return fmt.Errorf("completion timeout must not be negative, got %d", c.Completion.TimeoutSeconds)
	}

	if err := v.ValidateMaxTokens(c.Context.MaxTokens); err != nil {
		return err
	}
	if c.Context.MaxMessages < 0 {
		return fmt.Errorf("max messages must not be negative, got %d", c.Context.MaxMessages)
	}

	if err := v.ValidateStorage(c.Storage); err != nil {
		return err
	}

	if err := v.ValidatePort(c.Server.Port); err != nil {
		return err
	}
	if c.Server.RateLimitPerMinute < 0 {
		return fmt.Errorf("rate limit must not be negative, got %d", c.Server.RateLimitPerMinute)
	}

	if c.Gateway.Enabled && c.Gateway.SharedSecret == "" {
		return fmt.Errorf("gateway shared secret is required when the gateway is enabled")
	}

	return v.ValidateLogLevel(c.Logging.Level)
}
