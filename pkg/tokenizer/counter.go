// Package tokenizer counts tokens with the BPE encoding registered for a model.
//
// Unknown models fall back to FallbackEncoding. Counting never fails: if the
// encoding tables cannot be loaded at all, a rune based estimate is used and a
// warning is logged once.
package tokenizer

import (
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// FallbackEncoding is used for models tiktoken does not know.
const FallbackEncoding = "o200k_base"

// DefaultModel is the model hint used when neither the caller nor the counter names one.
const DefaultModel = "gpt-3.5-turbo"

// Counter counts tokens per model, caching encodings by model name.
type Counter struct {
	defaultModel string
	logger       zerolog.Logger

	mu        sync.RWMutex
	encodings map[string]*tiktoken.Tiktoken
	warnOnce  sync.Once
}

// NewCounter creates a counter whose empty model hint resolves to defaultModel.
func NewCounter(defaultModel string) *Counter {
	if defaultModel == "" {
		defaultModel = DefaultModel
	}
	return &Counter{
		defaultModel: defaultModel,
		logger:       log.Logger.With().Str("component", "tokenizer").Logger(),
		encodings:    make(map[string]*tiktoken.Tiktoken),
	}
}

// DefaultModel returns the model used for empty hints.
func (c *Counter) DefaultModel() string {
	return c.defaultModel
}

// Count returns the number of tokens in text for model.
func (c *Counter) Count(text, model string) int {
	if text == "" {
		return 0
	}
	if model == "" {
		model = c.defaultModel
	}

	enc := c.encoding(model)
	if enc == nil {
		return Estimate(text)
	}
	return len(enc.Encode(text, nil, nil))
}

// encoding resolves and caches the encoding for model. A nil result means no
// encoding could be loaded, including the fallback.
func (c *Counter) encoding(model string) *tiktoken.Tiktoken {
	c.mu.RLock()
	enc, ok := c.encodings[model]
	c.mu.RUnlock()
	if ok {
		return enc
	}

	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		c.logger.Debug().Str("model", model).Str("encoding", FallbackEncoding).Msg("No encoding for model, using fallback")
		enc, err = tiktoken.GetEncoding(FallbackEncoding)
	}
	if err != nil {
		c.warnOnce.Do(func() {
			c.logger.Warn().Err(err).Msg("Failed to load token encodings, estimating counts")
		})
		enc = nil
	}

	c.mu.Lock()
	c.encodings[model] = enc
	c.mu.Unlock()

	return enc
}

// Estimate approximates a token count as one token per four runes, rounded up.
func Estimate(text string) int {
	return (utf8.RuneCountInString(text) + 3) / 4
}
