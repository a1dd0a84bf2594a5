package models

import (
	"encoding/json"
	"time"
)

// UserType distinguishes the extension owner from the people they talk to.
type UserType string

const (
	UserBotOwner UserType = "bot_owner"
	UserMatch    UserType = "match"
)

// User is a person known to the service, keyed by platform id.
type User struct {
	ID          string          `json:"id"`
	PlatformID  string          `json:"platform_id"`
	DisplayName string          `json:"display_name"`
	Type        UserType        `json:"user_type"`
	Gender      string          `json:"gender,omitempty"`
	ProfileData json.RawMessage `json:"profile_data"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Conversation types.
const (
	ConversationOneOnOne = "one_on_one"
	ConversationGroup    = "group"
)

// Conversation is one chat room as seen by a bot owner.
type Conversation struct {
	ID          string    `json:"id"`
	BotUserID   string    `json:"bot_user_id"`
	MatchUserID string    `json:"match_user_id,omitempty"`
	RoomPath    string    `json:"room_path"`
	Type        string    `json:"conversation_type"`
	Status      string    `json:"conversation_status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Message sender roles as sent by the extension.
const (
	SenderUser  = "user"
	SenderGirl  = "girl"
	SenderSelf  = "self"
	SenderOther = "other"
)

// ChatMessage is one scraped chat line.
type ChatMessage struct {
	Sender      string `json:"sender" validate:"required,oneof=user girl self other"`
	SenderID    string `json:"senderId,omitempty"`
	SenderName  string `json:"senderName,omitempty"`
	Text        string `json:"text" validate:"required"`
	Timestamp   int64  `json:"timestamp" validate:"gt=0"`
	MessageType string `json:"messageType,omitempty"`
}

// IsSelf reports whether the message was written by the extension owner.
func (m ChatMessage) IsSelf() bool {
	return m.Sender == SenderUser || m.Sender == SenderSelf
}

// RelationshipSummary merges the room, bot-relationship and global summaries
// stored for one participant.
type RelationshipSummary struct {
	UserPlatformID   string   `json:"user_platform_id"`
	DisplayName      string   `json:"user_display_name"`
	RoomSummary      string   `json:"room_summary,omitempty"`
	Relationship     string   `json:"relationship_summary,omitempty"`
	GlobalSummary    string   `json:"global_summary,omitempty"`
	ClosenessScore   *float64 `json:"closeness_score,omitempty"`
	InteractionCount *int     `json:"interaction_count,omitempty"`
}

// SuggestionRecord is a persisted generation result.
type SuggestionRecord struct {
	ID             string             `json:"id"`
	ConversationID string             `json:"conversation_id"`
	PromptVersion  string             `json:"prompt_version"`
	PromptSource   string             `json:"prompt_source"`
	ToneLevel      string             `json:"tone_level"`
	ProfileID      string             `json:"profile_id,omitempty"`
	Context        json.RawMessage    `json:"prompt_context"`
	Response       StructuredResponse `json:"response"`
	Model          string             `json:"model_used"`
	Fallback       bool               `json:"fallback"`
	Usage          Usage              `json:"usage"`
	LatencyMs      int64              `json:"response_time_ms"`
	CreatedAt      time.Time          `json:"created_at"`
}

// StrategyProfile is a named wingman strategy a bot owner can pin or let
// the service pick through its detection rule.
type StrategyProfile struct {
	ID            string    `json:"id"`
	BotUserID     string    `json:"bot_user_id"`
	Name          string    `json:"name"`
	Strategy      string    `json:"strategy"`
	DetectionRule string    `json:"detection_rule,omitempty"`
	Priority      int       `json:"priority"`
	IsDefault     bool      `json:"is_default"`
	CreatedAt     time.Time `json:"created_at"`
}

// Feedback records what the user did with a suggestion.
type Feedback struct {
	ID                string    `json:"id"`
	SuggestionID      string    `json:"botSuggestionId" validate:"required,uuid"`
	ConversationID    string    `json:"conversationId" validate:"required,uuid"`
	SelectedIndex     *int      `json:"userSelectedIndex,omitempty" validate:"omitempty,min=0"`
	UserModified      bool      `json:"userModified"`
	OutcomeScore      *int      `json:"outcomeScore,omitempty" validate:"omitempty,min=1,max=5"`
	MatchResponseTime *int64    `json:"matchResponseTime,omitempty" validate:"omitempty,min=0"`
	MatchEngagement   *int      `json:"matchEngagement,omitempty" validate:"omitempty,min=1,max=5"`
	Notes             string    `json:"feedbackNotes,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// FeedbackMetrics aggregates feedback for one conversation.
type FeedbackMetrics struct {
	ConversationID  string  `json:"conversationId"`
	TotalFeedback   int     `json:"totalFeedback"`
	Accepted        int     `json:"accepted"`
	Modified        int     `json:"modified"`
	AcceptanceRate  float64 `json:"acceptanceRate"`
	AvgOutcomeScore float64 `json:"avgOutcomeScore"`
	AvgEngagement   float64 `json:"avgEngagement"`
	AvgResponseTime float64 `json:"avgResponseTimeMs"`
}

// Bot is the autonomous chat persona used by the chat variant.
type Bot struct {
	ID          string          `json:"id"`
	PlatformID  string          `json:"platform_id"`
	Username    string          `json:"username"`
	Personality json.RawMessage `json:"personality"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Event is one room event seen by the chat bot.
type Event struct {
	ID        string    `json:"id,omitempty"`
	BotID     string    `json:"bot_id,omitempty"`
	RoomPath  string    `json:"room_path,omitempty"`
	Type      string    `json:"type" validate:"required"`
	UserID    string    `json:"platformId,omitempty"`
	Username  string    `json:"username,omitempty"`
	Text      string    `json:"text,omitempty"`
	Timestamp int64     `json:"timestamp" validate:"gte=0"`
	CreatedAt time.Time `json:"created_at"`
}

// PromptVersion is a stored system prompt revision.
type PromptVersion struct {
	Name      string    `json:"name"`
	Version   string    `json:"version"`
	Content   string    `json:"content"`
	Active    bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}
