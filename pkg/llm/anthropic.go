package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/krishamaze/arin-bot-v2/pkg/config"
	"github.com/krishamaze/arin-bot-v2/pkg/models"
)

const (
	anthropicDefaultURL = "https://api.anthropic.com"
	anthropicVersion    = "2023-06-01"
)

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	System      string             `json:"system,omitempty"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature *float64           `json:"temperature,omitempty"`
}

type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type anthropicUsage struct {
	InputTokens          int `json:"input_tokens"`
	OutputTokens         int `json:"output_tokens"`
	CacheReadInputTokens int `json:"cache_read_input_tokens"`
}

type anthropicResponse struct {
	ID         string             `json:"id"`
	Model      string             `json:"model"`
	Content    []anthropicContent `json:"content"`
	StopReason string             `json:"stop_reason"`
	Usage      *anthropicUsage    `json:"usage,omitempty"`
}

// AnthropicProvider calls the Anthropic messages API over plain HTTP.
type AnthropicProvider struct {
	baseURL string
	apiKey  string
	version string
	client  *http.Client
	log     *zap.Logger
}

// NewAnthropicProvider creates an Anthropic provider from provider config.
func NewAnthropicProvider(pc config.ProviderConfig, log *zap.Logger) *AnthropicProvider {
	base := pc.URL
	if base == "" {
		base = anthropicDefaultURL
	}
	version := pc.APIVersion
	if version == "" {
		version = anthropicVersion
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &AnthropicProvider{
		baseURL: strings.TrimRight(base, "/"),
		apiKey:  pc.APIKey,
		version: version,
		client:  &http.Client{},
		log:     log.Named("anthropic"),
	}
}

func (a *AnthropicProvider) Type() models.ProviderType { return models.ProviderAnthropic }

// Generate implements Provider. Anthropic has no JSON response mode, so the
// schema is appended to the system prompt as an instruction.
func (a *AnthropicProvider) Generate(ctx context.Context, req Request) (*Completion, error) {
	m := req.Model
	system := req.SystemPrompt
	if req.Schema != nil {
		schemaJSON, err := json.Marshal(req.Schema)
		if err != nil {
			return nil, fmt.Errorf("marshal schema: %w", err)
		}
		system += "\n\nRespond with a single JSON object matching this JSON Schema and nothing else:\n" + string(schemaJSON)
	}

	maxTokens := m.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	temp := m.Temperature
	body, err := json.Marshal(anthropicRequest{
		Model:       m.Model,
		Messages:    []anthropicMessage{{Role: "user", Content: req.UserPrompt()}},
		System:      system,
		MaxTokens:   maxTokens,
		Temperature: &temp,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	status, respBody, err := a.do(ctx, "/v1/messages", body)
	if err != nil {
		return nil, classify(models.ProviderAnthropic, m.Model, err)
	}
	if status >= http.StatusBadRequest {
		msg := gjson.GetBytes(respBody, "error.message").String()
		return nil, NewStatusError(models.ProviderAnthropic, m.Model, status, msg, nil)
	}

	var ar anthropicResponse
	if err := json.Unmarshal(respBody, &ar); err != nil {
		return nil, &ProviderError{Provider: models.ProviderAnthropic, Model: m.Model, Message: "decode response: " + err.Error(), Err: err}
	}

	var text strings.Builder
	for _, c := range ar.Content {
		if c.Type == "text" {
			text.WriteString(c.Text)
		}
	}
	if strings.TrimSpace(text.String()) == "" {
		return nil, &ProviderError{Provider: models.ProviderAnthropic, Model: m.Model, Message: "empty response"}
	}

	var usage models.Usage
	if ar.Usage != nil {
		usage = models.Usage{
			PromptTokens:     ar.Usage.InputTokens,
			CompletionTokens: ar.Usage.OutputTokens,
			TotalTokens:      ar.Usage.InputTokens + ar.Usage.OutputTokens,
			CachedTokens:     ar.Usage.CacheReadInputTokens,
		}
	} else {
		usage = EstimateUsage(system+req.UserPrompt(), text.String())
	}
	return &Completion{Text: text.String(), Model: m.Model, Usage: usage}, nil
}

// do sends a POST to the provider and returns the status and body.
func (a *AnthropicProvider) do(ctx context.Context, path string, body []byte) (int, []byte, error) {
	target, err := url.Parse(a.baseURL + path)
	if err != nil {
		return 0, nil, fmt.Errorf("invalid provider URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", a.apiKey)
	req.Header.Set("anthropic-version", a.version)

	resp, err := a.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, respBody, nil
}
