package llm

import "encoding/json"

// Schema types.
const (
	TypeObject  = "object"
	TypeArray   = "array"
	TypeString  = "string"
	TypeInteger = "integer"
	TypeNumber  = "number"
	TypeBoolean = "boolean"
)

// Schema is a backend-neutral description of the JSON a model must return.
// Providers translate it to their own structured-output format.
type Schema struct {
	Type        string             `json:"type"`
	Description string             `json:"description,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Required    []string           `json:"required,omitempty"`
	Items       *Schema            `json:"items,omitempty"`
	Enum        []string           `json:"enum,omitempty"`
	Minimum     *float64           `json:"minimum,omitempty"`
	Maximum     *float64           `json:"maximum,omitempty"`
}

// MarshalJSON renders the schema as JSON Schema, closing objects to extra keys.
func (s *Schema) MarshalJSON() ([]byte, error) {
	type plain Schema
	if s.Type != TypeObject {
		return json.Marshal((*plain)(s))
	}
	return json.Marshal(struct {
		*plain
		AdditionalProperties bool `json:"additionalProperties"`
	}{plain: (*plain)(s)})
}

func str(desc string) *Schema { return &Schema{Type: TypeString, Description: desc} }

func num(v float64) *float64 { return &v }

// SuggestionSchema describes a wingman analysis response.
func SuggestionSchema() *Schema {
	return &Schema{
		Type: TypeObject,
		Properties: map[string]*Schema{
			"conversationType": {Type: TypeString, Enum: []string{"one_on_one", "group"}},
			"analysis": {
				Type: TypeObject,
				Properties: map[string]*Schema{
					"her_last_message_feeling":   str("How the other person seems to feel after their last message"),
					"their_last_message_feeling": str("Group chat variant of her_last_message_feeling"),
					"conversation_vibe":          str("Overall vibe of the conversation"),
					"recommended_goal":           str("What the next message should achieve"),
					"group_dynamics":             str("Who is driving a group conversation"),
				},
				Required: []string{"conversation_vibe", "recommended_goal"},
			},
			"suggestion": {
				Type: TypeObject,
				Properties: map[string]*Schema{
					"type":      {Type: TypeString, Enum: []string{"Playful/Humorous", "Curious/Engaging", "Direct/Confident"}},
					"text":      str("The message to send"),
					"rationale": str("Why this message works"),
				},
				Required: []string{"type", "text", "rationale"},
			},
			"wingman_tip": str("One short coaching tip"),
		},
		Required: []string{"analysis", "suggestion", "wingman_tip"},
	}
}

// BotReplySchema describes an autonomous chat-bot reply.
func BotReplySchema() *Schema {
	return &Schema{
		Type: TypeObject,
		Properties: map[string]*Schema{
			"strategy": {Type: TypeString, Enum: []string{"ENGAGE", "OBSERVE"}},
			"messages": {
				Type: TypeArray,
				Items: &Schema{
					Type: TypeObject,
					Properties: map[string]*Schema{
						"text":    str("Message text"),
						"delayMs": {Type: TypeInteger, Minimum: num(500), Maximum: num(3000)},
					},
					Required: []string{"text", "delayMs"},
				},
			},
		},
		Required: []string{"strategy", "messages"},
	}
}
