package completion

import (
	"context"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/harun/novellama/pkg/translation"
)

// AnthropicClient completes through the Anthropic Messages API. System
// messages are sent as the system parameter.
type AnthropicClient struct {
	client      anthropic.Client
	model       string
	temperature float64
	maxTokens   int64
}

// NewAnthropicClient creates an Anthropic client
func NewAnthropicClient(cfg Config) *AnthropicClient {
	cfg = cfg.withDefaults()

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(ensureTrailingSlash(cfg.BaseURL)))
	}

	return &AnthropicClient{
		client:      anthropic.NewClient(opts...),
		model:       cfg.Model,
		temperature: *cfg.Temperature,
		maxTokens:   int64(cfg.MaxOutputTokens),
	}
}

// Provider returns the provider name
func (c *AnthropicClient) Provider() string {
	return ProviderAnthropic
}

// Complete sends messages and returns the concatenated text blocks of the reply.
func (c *AnthropicClient) Complete(ctx context.Context, messages []translation.Message) (string, error) {
	system, conversation := toAnthropicMessages(messages)

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(c.model),
		Messages:    conversation,
		MaxTokens:   c.maxTokens,
		Temperature: anthropic.Float(c.temperature),
	}
	if len(system) > 0 {
		params.System = system
	}

	response, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", WrapError(ProviderAnthropic, err)
	}

	var content strings.Builder
	for _, block := range response.Content {
		if b, ok := block.AsAny().(anthropic.TextBlock); ok {
			content.WriteString(b.Text)
		}
	}
	if len(response.Content) == 0 {
		return "", &RemoteAPIError{
			Provider: ProviderAnthropic,
			Status:   StatusEmptyResponse,
			Body:     response.RawJSON(),
		}
	}

	return content.String(), nil
}

func toAnthropicMessages(messages []translation.Message) ([]anthropic.TextBlockParam, []anthropic.MessageParam) {
	var system []anthropic.TextBlockParam
	out := make([]anthropic.MessageParam, 0, len(messages))

	for _, msg := range messages {
		switch msg.Role {
		case translation.RoleSystem:
			system = append(system, anthropic.TextBlockParam{Text: msg.Content})
		case translation.RoleAssistant:
			out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		default:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}
	return system, out
}
