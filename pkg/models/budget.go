package models

import "time"

// BudgetPeriod defines the time window for a budget policy.
type BudgetPeriod string

const (
	BudgetDaily   BudgetPeriod = "daily"
	BudgetMonthly BudgetPeriod = "monthly"
)

// BudgetPolicy caps tokens per user per period. UserID "*" matches everyone.
type BudgetPolicy struct {
	UserID    string       `json:"user_id" yaml:"user_id" toml:"user_id"`
	Model     string       `json:"model,omitempty" yaml:"model,omitempty" toml:"model,omitempty"`
	MaxTokens int64        `json:"max_tokens" yaml:"max_tokens" toml:"max_tokens"`
	Period    BudgetPeriod `json:"period" yaml:"period" toml:"period"`
}

// BudgetStatus shows current usage against a policy.
type BudgetStatus struct {
	Policy    BudgetPolicy `json:"policy"`
	Used      int64        `json:"used"`
	Remaining int64        `json:"remaining"`
	ResetAt   time.Time    `json:"reset_at"`
}
