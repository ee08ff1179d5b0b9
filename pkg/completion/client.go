// Package completion sends rendered conversations to a chat-completion API
// and returns the assistant's reply text.
//
// Every failure is reported as a *RemoteAPIError carrying the upstream HTTP
// status and body when there was one. Retries are disabled so a failure
// surfaces exactly once to the caller.
package completion

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/harun/novellama/pkg/translation"
)

// Supported providers.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Defaults applied by New.
const (
	DefaultBaseURL         = "https://api.openai.com/v1"
	DefaultModel           = "gpt-3.5-turbo"
	DefaultTemperature     = 0.3
	DefaultTimeout         = 60 * time.Second
	DefaultMaxOutputTokens = 4096
)

// Client completes a conversation.
type Client interface {
	// Complete returns the text of the first choice.
	Complete(ctx context.Context, messages []translation.Message) (string, error)

	// Provider returns the provider name
	Provider() string
}

// Config configures a Client.
type Config struct {
	Provider    string
	APIKey      string
	BaseURL     string
	Model       string
	// Temperature is the sampling temperature. Nil selects DefaultTemperature;
	// use Float(0) for deterministic output.
	Temperature *float64
	// MaxOutputTokens bounds the reply. Only Anthropic requires it.
	MaxOutputTokens int
}

func (c Config) withDefaults() Config {
	if c.Provider == "" {
		c.Provider = ProviderOpenAI
	}
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.Temperature == nil {
		c.Temperature = Float(DefaultTemperature)
	}
	if c.MaxOutputTokens <= 0 {
		c.MaxOutputTokens = DefaultMaxOutputTokens
	}
	if c.Provider == ProviderOpenAI && c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	return c
}

// Float returns a pointer to v, for Config.Temperature.
func Float(v float64) *float64 {
	return &v
}

// New creates the Client selected by cfg.Provider.
func New(cfg Config) (Client, error) {
	cfg = cfg.withDefaults()
	switch cfg.Provider {
	case ProviderOpenAI:
		return NewOpenAIClient(cfg), nil
	case ProviderAnthropic:
		return NewAnthropicClient(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}
}

// ensureTrailingSlash makes relative endpoint paths resolve under baseURL.
func ensureTrailingSlash(baseURL string) string {
	if baseURL == "" || strings.HasSuffix(baseURL, "/") {
		return baseURL
	}
	return baseURL + "/"
}
