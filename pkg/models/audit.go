package models

import "time"

// Audit entry kinds.
const (
	AuditWingman = "wingman"
	AuditChat    = "chat"
)

// AuditEntry records one orchestrated generation, successful or not.
type AuditEntry struct {
	RequestID        string    `json:"request_id"`
	Kind             string    `json:"kind"`
	UserID           string    `json:"user_id"`
	ConversationID   string    `json:"conversation_id,omitempty"`
	PromptVersion    string    `json:"prompt_version,omitempty"`
	Model            string    `json:"model,omitempty"`
	Provider         string    `json:"provider,omitempty"`
	Fallback         bool      `json:"fallback"`
	RepairStage      string    `json:"repair_stage,omitempty"`
	Attempts         []Attempt `json:"attempts,omitempty"`
	Prompt           string    `json:"prompt,omitempty"`
	Response         string    `json:"response,omitempty"`
	Error            string    `json:"error,omitempty"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	TotalTokens      int       `json:"total_tokens"`
	LatencyMs        int64     `json:"latency_ms"`
	CreatedAt        time.Time `json:"created_at"`
}

// Failed reports whether the generation produced no response.
func (e AuditEntry) Failed() bool { return e.Error != "" }

// AuditQueryOpts specifies filters for querying audit entries.
type AuditQueryOpts struct {
	RequestID      string
	UserID         string
	ConversationID string
	Model          string
	Since          time.Time
	FailedOnly     bool
	Limit          int
}

// AuditStat holds aggregate audit counts for a model/day combination.
type AuditStat struct {
	Model    string `json:"model"`
	Day      string `json:"day"`
	Count    int    `json:"count"`
	Failures int    `json:"failures"`
}
