package completion

import (
	"context"

	"github.com/harun/novellama/pkg/translation"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIClient completes through an OpenAI-compatible chat completions API.
type OpenAIClient struct {
	client      openai.Client
	model       string
	temperature float64
}

// NewOpenAIClient creates an OpenAI client
func NewOpenAIClient(cfg Config) *OpenAIClient {
	cfg = cfg.withDefaults()

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(ensureTrailingSlash(cfg.BaseURL)))
	}

	return &OpenAIClient{
		client:      openai.NewClient(opts...),
		model:       cfg.Model,
		temperature: *cfg.Temperature,
	}
}

// Provider returns the provider name
func (c *OpenAIClient) Provider() string {
	return ProviderOpenAI
}

// Complete sends messages in order and returns the first choice.
func (c *OpenAIClient) Complete(ctx context.Context, messages []translation.Message) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.model),
		Messages:    toOpenAIMessages(messages),
		Temperature: openai.Float(c.temperature),
	}

	response, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", WrapError(ProviderOpenAI, err)
	}

	if len(response.Choices) == 0 {
		return "", &RemoteAPIError{
			Provider:   ProviderOpenAI,
			StatusCode: 0,
			Status:     StatusEmptyResponse,
			Body:       response.RawJSON(),
		}
	}

	return response.Choices[0].Message.Content, nil
}

func toOpenAIMessages(messages []translation.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case translation.RoleSystem:
			out = append(out, openai.SystemMessage(msg.Content))
		case translation.RoleAssistant:
			out = append(out, openai.AssistantMessage(msg.Content))
		default:
			out = append(out, openai.UserMessage(msg.Content))
		}
	}
	return out
}
