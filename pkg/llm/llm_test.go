package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/krishamaze/arin-bot-v2/pkg/config"
	"github.com/krishamaze/arin-bot-v2/pkg/models"
)

func TestRetryableStatus(t *testing.T) {
	tests := []struct {
		code int
		want bool
	}{
		{429, true},
		{500, true},
		{502, true},
		{503, true},
		{504, true},
		{400, false},
		{401, false},
		{403, false},
		{404, false},
		{418, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RetryableStatus(tt.code), "status %d", tt.code)
	}
}

func TestClassify(t *testing.T) {
	err := classify(models.ProviderGemini, "m", context.DeadlineExceeded)
	pe, ok := AsProviderError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusGatewayTimeout, pe.StatusCode)
	assert.True(t, pe.Retryable)

	err = classify(models.ProviderGemini, "m", errors.New("weird"))
	pe, ok = AsProviderError(err)
	require.True(t, ok)
	assert.False(t, pe.Retryable)
	assert.Zero(t, pe.StatusCode)

	assert.ErrorIs(t, classify(models.ProviderGemini, "m", context.Canceled), context.Canceled)
}

func TestGeminiError(t *testing.T) {
	err := geminiError("gemini-2.5-flash", genai.APIError{Code: 503, Message: "overloaded"})
	pe, ok := AsProviderError(err)
	require.True(t, ok)
	assert.Equal(t, 503, pe.StatusCode)
	assert.True(t, pe.Retryable)
	assert.Equal(t, "overloaded", pe.Message)

	err = geminiError("gemini-2.5-flash", genai.APIError{Code: 404, Message: "not found"})
	pe, _ = AsProviderError(err)
	assert.False(t, pe.Retryable)
}

func TestGeminiConfigWithCache(t *testing.T) {
	req := Request{
		SystemPrompt: "be nice",
		Model:        models.ModelConfig{Model: "gemini-2.5-flash", Temperature: 0.9, MaxOutputTokens: 2000},
		Cache:        &models.CacheHandle{Ref: "cachedContents/abc"},
		Schema:       SuggestionSchema(),
	}
	gc := geminiConfig(req)
	assert.Equal(t, "cachedContents/abc", gc.CachedContent)
	assert.Nil(t, gc.SystemInstruction)
	assert.Equal(t, int32(2000), gc.MaxOutputTokens)
	assert.Equal(t, "application/json", gc.ResponseMIMEType)
	require.NotNil(t, gc.ResponseSchema)
	assert.Equal(t, genai.TypeObject, gc.ResponseSchema.Type)
	assert.Equal(t, genai.TypeString, gc.ResponseSchema.Properties["wingman_tip"].Type)

	req.Cache = nil
	gc = geminiConfig(req)
	assert.Empty(t, gc.CachedContent)
	require.NotNil(t, gc.SystemInstruction)
	assert.Equal(t, "be nice", gc.SystemInstruction.Parts[0].Text)
}

func TestGeminiSupports(t *testing.T) {
	g := &GeminiProvider{}
	assert.True(t, g.Supports("gemini-2.5-flash"))
	assert.True(t, g.Supports("models/gemini-1.5-flash-002"))
	assert.False(t, g.Supports("gpt-4o"))
}

func TestSchemaMarshalClosesObjects(t *testing.T) {
	data, err := json.Marshal(BotReplySchema())
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, false, doc["additionalProperties"])
	items := doc["properties"].(map[string]any)["messages"].(map[string]any)["items"].(map[string]any)
	assert.Equal(t, false, items["additionalProperties"])
	assert.Equal(t, float64(500), items["properties"].(map[string]any)["delayMs"].(map[string]any)["minimum"])
}

func TestOpenAIGenerate(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "chatcmpl-1", "object": "chat.completion", "created": 1, "model": "gpt-4o-mini",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "{\"ok\":true}"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15, "prompt_tokens_details": {"cached_tokens": 4}}
		}`)
	}))
	defer srv.Close()

	p := NewOpenAIProvider(config.ProviderConfig{APIKey: "sk-test", URL: srv.URL + "/v1"}, nil)
	c, err := p.Generate(context.Background(), Request{
		SystemPrompt:  "system",
		DynamicPrompt: "dynamic",
		Model:         models.ModelConfig{Provider: models.ProviderOpenAI, Model: "gpt-4o-mini", Temperature: 0.5, MaxOutputTokens: 100},
		Schema:        SuggestionSchema(),
	})
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, c.Text)
	assert.Equal(t, 15, c.Usage.TotalTokens)
	assert.Equal(t, 4, c.Usage.CachedTokens)

	msgs := got["messages"].([]any)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
	assert.Equal(t, "dynamic", msgs[1].(map[string]any)["content"])
	assert.Equal(t, "json_schema", got["response_format"].(map[string]any)["type"])
}

func TestOpenAIRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"error": {"message": "slow down", "type": "rate_limit_error", "code": "rate_limit_exceeded"}}`)
	}))
	defer srv.Close()

	p := NewOpenAIProvider(config.ProviderConfig{APIKey: "sk-test", URL: srv.URL + "/v1"}, nil)
	_, err := p.Generate(context.Background(), Request{Model: models.ModelConfig{Model: "gpt-4o-mini"}})
	pe, ok := AsProviderError(err)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, http.StatusTooManyRequests, pe.StatusCode)
	assert.True(t, pe.Retryable)
}

func TestAnthropicGenerate(t *testing.T) {
	var got anthropicRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "sk-ant", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicVersion, r.Header.Get("anthropic-version"))
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = io.WriteString(w, `{"id":"msg_1","model":"claude","content":[{"type":"text","text":"{\"a\":1}"}],"stop_reason":"end_turn","usage":{"input_tokens":7,"output_tokens":3}}`)
	}))
	defer srv.Close()

	p := NewAnthropicProvider(config.ProviderConfig{APIKey: "sk-ant", URL: srv.URL}, nil)
	c, err := p.Generate(context.Background(), Request{
		SystemPrompt:  "sys",
		DynamicPrompt: "hi",
		Model:         models.ModelConfig{Model: "claude-3-5-haiku-latest", MaxOutputTokens: 200},
		Schema:        BotReplySchema(),
	})
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, c.Text)
	assert.Equal(t, 10, c.Usage.TotalTokens)
	assert.Equal(t, 200, got.MaxTokens)
	assert.Contains(t, got.System, "JSON Schema")
	assert.Equal(t, "hi", got.Messages[0].Content)
}

func TestAnthropicErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, `{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`)
	}))
	defer srv.Close()

	p := NewAnthropicProvider(config.ProviderConfig{APIKey: "k", URL: srv.URL}, nil)
	_, err := p.Generate(context.Background(), Request{Model: models.ModelConfig{Model: "claude"}})
	pe, ok := AsProviderError(err)
	require.True(t, ok)
	assert.Equal(t, 503, pe.StatusCode)
	assert.True(t, pe.Retryable)
	assert.Equal(t, "Overloaded", pe.Message)
}

func TestAnthropicTimeoutIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	p := NewAnthropicProvider(config.ProviderConfig{APIKey: "k", URL: srv.URL}, nil)
	_, err := p.Generate(ctx, Request{Model: models.ModelConfig{Model: "claude"}})
	pe, ok := AsProviderError(err)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, http.StatusGatewayTimeout, pe.StatusCode)
	assert.True(t, pe.Retryable)
}

func TestEstimateUsage(t *testing.T) {
	u := EstimateUsage("hello there, how are you?", "fine")
	assert.True(t, u.Estimated)
	assert.Positive(t, u.PromptTokens)
	assert.Positive(t, u.CompletionTokens)
	assert.Equal(t, u.PromptTokens+u.CompletionTokens, u.TotalTokens)
	assert.Zero(t, EstimateTokens(""))
}

func TestRegistryGet(t *testing.T) {
	r := NewRegistry(NewAnthropicProvider(config.ProviderConfig{APIKey: "k"}, nil))
	p, err := r.Get(models.ProviderAnthropic)
	require.NoError(t, err)
	assert.Equal(t, models.ProviderAnthropic, p.Type())

	_, err = r.Get(models.ProviderOpenAI)
	assert.Error(t, err)
}

func TestUserPrompt(t *testing.T) {
	req := Request{StaticPrompt: "USER INFO", DynamicPrompt: "RECENT MESSAGES"}
	assert.Equal(t, "USER INFO\n\nRECENT MESSAGES", req.UserPrompt())

	req.Cache = &models.CacheHandle{Ref: "cachedContents/1"}
	assert.Equal(t, "RECENT MESSAGES", req.UserPrompt())

	assert.Equal(t, "only", Request{DynamicPrompt: "only"}.UserPrompt())
}
