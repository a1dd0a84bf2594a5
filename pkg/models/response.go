package models

// Suggestion types accepted in a StructuredResponse.
const (
	SuggestionPlayful = "Playful/Humorous"
	SuggestionCurious = "Curious/Engaging"
	SuggestionDirect  = "Direct/Confident"
)

// Analysis is the model's read of the conversation.
type Analysis struct {
	HerLastMessageFeeling   string `json:"her_last_message_feeling,omitempty"`
	TheirLastMessageFeeling string `json:"their_last_message_feeling,omitempty"`
	ConversationVibe        string `json:"conversation_vibe" validate:"required"`
	RecommendedGoal         string `json:"recommended_goal" validate:"required"`
	GroupDynamics           string `json:"group_dynamics,omitempty"`
}

// Suggestion is a single reply the user may send.
type Suggestion struct {
	Type      string `json:"type" validate:"required,oneof=Playful/Humorous Curious/Engaging Direct/Confident"`
	Text      string `json:"text" validate:"required"`
	Rationale string `json:"rationale" validate:"required"`
}

// StructuredResponse is the validated result of a wingman analysis.
type StructuredResponse struct {
	ConversationType string     `json:"conversationType,omitempty" validate:"omitempty,oneof=one_on_one group"`
	Analysis         Analysis   `json:"analysis" validate:"required"`
	Suggestion       Suggestion `json:"suggestion" validate:"required"`
	WingmanTip       string     `json:"wingman_tip" validate:"required"`
}

// Bot reply strategies.
const (
	StrategyEngage  = "ENGAGE"
	StrategyObserve = "OBSERVE"
)

// Delay bounds for a BotMessage, in milliseconds.
const (
	MinDelayMs = 500
	MaxDelayMs = 3000
)

// BotMessage is one message the autonomous bot will type.
type BotMessage struct {
	Text    string `json:"text" validate:"required"`
	DelayMs int    `json:"delayMs" validate:"min=500,max=3000"`
}

// BotReply is the validated result of the chat-bot variant. Messages is
// always empty when Strategy is OBSERVE.
type BotReply struct {
	Strategy string       `json:"strategy" validate:"required,oneof=ENGAGE OBSERVE"`
	Messages []BotMessage `json:"messages" validate:"dive"`
}
