package models

// ModelPricing defines per-1K token costs for a model.
type ModelPricing struct {
	Model          string  `json:"model" yaml:"model" toml:"model"`
	PromptCost     float64 `json:"prompt_cost_per_1k" yaml:"prompt_cost_per_1k" toml:"prompt_cost_per_1k"`
	CompletionCost float64 `json:"completion_cost_per_1k" yaml:"completion_cost_per_1k" toml:"completion_cost_per_1k"`
	// CachedDiscount is the fraction of PromptCost charged for cached tokens.
	CachedDiscount float64 `json:"cached_discount" yaml:"cached_discount" toml:"cached_discount"`
}

// CostReport is an aggregated cost row grouped by provider and model.
type CostReport struct {
	Provider         ProviderType `json:"provider"`
	Model            string       `json:"model"`
	RequestCount     int          `json:"request_count"`
	PromptTokens     int64        `json:"prompt_tokens"`
	CompletionTokens int64        `json:"completion_tokens"`
	CachedTokens     int64        `json:"cached_tokens"`
	TotalTokens      int64        `json:"total_tokens"`
	EstimatedCost    float64      `json:"estimated_cost"`
}
