package models

import (
	"strings"
	"time"
)

// ProviderType identifies the backend family a model belongs to.
type ProviderType string

const (
	ProviderGemini    ProviderType = "gemini"
	ProviderOpenAI    ProviderType = "openai"
	ProviderAnthropic ProviderType = "anthropic"
)

// InferProvider guesses a backend from a model name, or returns "".
func InferProvider(model string) ProviderType {
	m := strings.TrimPrefix(strings.ToLower(model), "models/")
	switch {
	case strings.HasPrefix(m, "gemini-"):
		return ProviderGemini
	case strings.HasPrefix(m, "gpt-"), strings.HasPrefix(m, "o1"), strings.HasPrefix(m, "o3"), strings.HasPrefix(m, "o4"):
		return ProviderOpenAI
	case strings.HasPrefix(m, "claude-"):
		return ProviderAnthropic
	}
	return ""
}

// ModelConfig describes one entry of a fallback chain. Values are copied,
// never mutated after the chain is resolved.
type ModelConfig struct {
	Provider         ProviderType `json:"provider" yaml:"provider" toml:"provider"`
	Model            string       `json:"model" yaml:"model" toml:"model"`
	Temperature      float64      `json:"temperature" yaml:"temperature" toml:"temperature"`
	MaxOutputTokens  int          `json:"max_output_tokens" yaml:"max_output_tokens" toml:"max_output_tokens"`
	PresencePenalty  *float64     `json:"presence_penalty,omitempty" yaml:"presence_penalty,omitempty" toml:"presence_penalty,omitempty"`
	FrequencyPenalty *float64     `json:"frequency_penalty,omitempty" yaml:"frequency_penalty,omitempty" toml:"frequency_penalty,omitempty"`
}

// CacheHandle references provider-side cached content (system instruction
// plus static profile text) scoped to a conversation pair.
type CacheHandle struct {
	Key       string    `json:"key"`
	Model     string    `json:"model"`
	Ref       string    `json:"ref"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the handle is past its expiry at now.
func (h *CacheHandle) Expired(now time.Time) bool {
	return !now.Before(h.ExpiresAt)
}

// AttemptOutcome classifies a single backend attempt.
type AttemptOutcome string

const (
	OutcomeSuccess   AttemptOutcome = "success"
	OutcomeRetryable AttemptOutcome = "retryable"
	OutcomeFatal     AttemptOutcome = "fatal"
	OutcomeInvalid   AttemptOutcome = "invalid"
)

// Attempt records one backend call made by the orchestrator.
type Attempt struct {
	Model      string         `json:"model"`
	Provider   ProviderType   `json:"provider"`
	Number     int            `json:"number"`
	UsedCache  bool           `json:"used_cache"`
	Outcome    AttemptOutcome `json:"outcome"`
	StatusCode int            `json:"status_code,omitempty"`
	Error      string         `json:"error,omitempty"`
	Latency    time.Duration  `json:"latency"`
}
