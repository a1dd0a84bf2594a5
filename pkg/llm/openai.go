package llm

import (
	"context"
	"errors"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/krishamaze/arin-bot-v2/pkg/config"
	"github.com/krishamaze/arin-bot-v2/pkg/models"
)

// OpenAIProvider calls the OpenAI chat completions API.
type OpenAIProvider struct {
	client *openai.Client
	log    *zap.Logger
}

// NewOpenAIProvider creates an OpenAI client. pc.URL overrides the base URL
// and must include the /v1 suffix.
func NewOpenAIProvider(pc config.ProviderConfig, log *zap.Logger) *OpenAIProvider {
	cfg := openai.DefaultConfig(pc.APIKey)
	if pc.URL != "" {
		cfg.BaseURL = strings.TrimRight(pc.URL, "/")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &OpenAIProvider{client: openai.NewClientWithConfig(cfg), log: log.Named("openai")}
}

func (o *OpenAIProvider) Type() models.ProviderType { return models.ProviderOpenAI }

// Generate implements Provider. OpenAI has no explicit cache handles, so
// req.Cache is ignored and the system prompt is always sent.
func (o *OpenAIProvider) Generate(ctx context.Context, req Request) (*Completion, error) {
	m := req.Model
	creq := openai.ChatCompletionRequest{
		Model: m.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.SystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: req.UserPrompt()},
		},
		Temperature:         float32(m.Temperature),
		MaxCompletionTokens: m.MaxOutputTokens,
	}
	if m.PresencePenalty != nil {
		creq.PresencePenalty = float32(*m.PresencePenalty)
	}
	if m.FrequencyPenalty != nil {
		creq.FrequencyPenalty = float32(*m.FrequencyPenalty)
	}
	if req.Schema != nil {
		creq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   "response",
				Schema: req.Schema,
			},
		}
	}

	resp, err := o.client.CreateChatCompletion(ctx, creq)
	if err != nil {
		return nil, openaiError(m.Model, err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return nil, &ProviderError{Provider: models.ProviderOpenAI, Model: m.Model, Message: "empty response"}
	}

	text := resp.Choices[0].Message.Content
	usage := models.Usage{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}
	if d := resp.Usage.PromptTokensDetails; d != nil {
		usage.CachedTokens = d.CachedTokens
	}
	if usage.TotalTokens == 0 {
		usage = EstimateUsage(req.SystemPrompt+req.UserPrompt(), text)
	}
	return &Completion{Text: text, Model: m.Model, Usage: usage}, nil
}

func openaiError(model string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return NewStatusError(models.ProviderOpenAI, model, apiErr.HTTPStatusCode, apiErr.Message, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return NewStatusError(models.ProviderOpenAI, model, reqErr.HTTPStatusCode, reqErr.Error(), err)
	}
	return classify(models.ProviderOpenAI, model, err)
}
