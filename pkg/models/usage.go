package models

import "time"

// Usage represents token usage from an LLM response.
type Usage struct {
	PromptTokens     int  `json:"prompt_tokens"`
	CompletionTokens int  `json:"completion_tokens"`
	TotalTokens      int  `json:"total_tokens"`
	CachedTokens     int  `json:"cached_tokens"`
	Estimated        bool `json:"estimated,omitempty"`
}

// UsageRecord tracks token usage for one generation.
type UsageRecord struct {
	ID               int64        `json:"id"`
	UserID           string       `json:"user_id"`
	ConversationID   string       `json:"conversation_id,omitempty"`
	Provider         ProviderType `json:"provider"`
	Model            string       `json:"model"`
	PromptTokens     int          `json:"prompt_tokens"`
	CompletionTokens int          `json:"completion_tokens"`
	TotalTokens      int          `json:"total_tokens"`
	CachedTokens     int          `json:"cached_tokens"`
	Fallback         bool         `json:"fallback"`
	LatencyMs        int64        `json:"latency_ms"`
	CreatedAt        time.Time    `json:"created_at"`
}

// UsageSummary aggregates usage across requests.
type UsageSummary struct {
	UserID          string `json:"user_id"`
	Model           string `json:"model"`
	RequestCount    int    `json:"request_count"`
	FallbackCount   int    `json:"fallback_count"`
	TotalPrompt     int    `json:"total_prompt"`
	TotalCompletion int    `json:"total_completion"`
	TotalCached     int    `json:"total_cached"`
	TotalTokens     int    `json:"total_tokens"`
	AvgLatencyMs    int64  `json:"avg_latency_ms"`
}

// RunningStats is a point-in-time view of the orchestrator counters.
type RunningStats struct {
	PrimarySuccesses  int64 `json:"primarySuccesses"`
	FallbackSuccesses int64 `json:"fallbackSuccesses"`
	TotalFailures     int64 `json:"totalFailures"`
}
