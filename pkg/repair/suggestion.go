package repair

import (
	"math"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/krishamaze/arin-bot-v2/pkg/models"
)

// DefaultSuggestion is used when a response carries neither a suggestion nor
// a legacy suggestions array.
var DefaultSuggestion = models.Suggestion{
	Type:      models.SuggestionCurious,
	Text:      "That sounds interesting, tell me more!",
	Rationale: "Open question that keeps the conversation moving.",
}

var suggestionTypes = map[string]string{
	"playful":   models.SuggestionPlayful,
	"humorous":  models.SuggestionPlayful,
	"funny":     models.SuggestionPlayful,
	"curious":   models.SuggestionCurious,
	"engaging":  models.SuggestionCurious,
	"direct":    models.SuggestionDirect,
	"confident": models.SuggestionDirect,
}

// SuggestionSchema is the wingman analysis response.
type SuggestionSchema struct{}

func (SuggestionSchema) Name() string { return "wingman" }

func (SuggestionSchema) Fields() []Field {
	conversationType := stringField("conversationType")
	conversationType.Optional = true
	return []Field{
		conversationType,
		objectField("analysis"),
		objectField("suggestion"),
		stringField("wingman_tip"),
	}
}

// Normalize promotes the legacy suggestions[0] to suggestion, fills a
// default suggestion when both are missing, accepts tip for wingman_tip and
// maps loose suggestion types onto the canonical three.
func (SuggestionSchema) Normalize(doc []byte) ([]byte, error) {
	var err error
	if missing(gjson.GetBytes(doc, "suggestion")) {
		if legacy := gjson.GetBytes(doc, "suggestions.0"); legacy.IsObject() {
			doc, err = sjson.SetRawBytes(doc, "suggestion", []byte(legacy.Raw))
		} else {
			doc, err = sjson.SetBytes(doc, "suggestion", DefaultSuggestion)
		}
		if err != nil {
			return nil, err
		}
	}

	if missing(gjson.GetBytes(doc, "wingman_tip")) {
		if tip := gjson.GetBytes(doc, "tip"); tip.Type == gjson.String {
			if doc, err = sjson.SetBytes(doc, "wingman_tip", tip.String()); err != nil {
				return nil, err
			}
		}
	}

	if t := gjson.GetBytes(doc, "suggestion.type"); t.Type == gjson.String {
		if c := canonicalType(t.String()); c != "" && c != t.String() {
			if doc, err = sjson.SetBytes(doc, "suggestion.type", c); err != nil {
				return nil, err
			}
		}
	}
	return doc, nil
}

func (s SuggestionSchema) Validate(doc []byte) error {
	return validateAs[models.StructuredResponse](s.Name(), doc)
}

// missing treats an explicit null like an absent key.
func missing(r gjson.Result) bool {
	return !r.Exists() || r.Type == gjson.Null
}

func canonicalType(t string) string {
	for _, word := range strings.FieldsFunc(strings.ToLower(t), func(r rune) bool {
		return r == '/' || r == ' ' || r == '-' || r == '_'
	}) {
		if c, ok := suggestionTypes[word]; ok {
			return c
		}
	}
	return ""
}

// BotReplySchema is the autonomous chat-bot response.
type BotReplySchema struct{}

func (BotReplySchema) Name() string { return "bot_reply" }

func (BotReplySchema) Fields() []Field {
	return []Field{stringField("strategy"), arrayField("messages")}
}

// Normalize upper-cases the strategy, infers it when missing, empties
// messages for OBSERVE and clamps each delay into range.
func (BotReplySchema) Normalize(doc []byte) ([]byte, error) {
	var err error
	msgs := gjson.GetBytes(doc, "messages")
	if !msgs.IsArray() {
		if doc, err = sjson.SetRawBytes(doc, "messages", []byte("[]")); err != nil {
			return nil, err
		}
		msgs = gjson.GetBytes(doc, "messages")
	}

	strategy := gjson.GetBytes(doc, "strategy")
	want := strings.ToUpper(strings.TrimSpace(strategy.String()))
	if missing(strategy) {
		want = models.StrategyObserve
		if len(msgs.Array()) > 0 {
			want = models.StrategyEngage
		}
	}
	if strategy.Type != gjson.String || want != strategy.String() {
		if doc, err = sjson.SetBytes(doc, "strategy", want); err != nil {
			return nil, err
		}
	}

	if want == models.StrategyObserve {
		if len(msgs.Array()) > 0 {
			if doc, err = sjson.SetRawBytes(doc, "messages", []byte("[]")); err != nil {
				return nil, err
			}
		}
		return doc, nil
	}

	for i, m := range msgs.Array() {
		d := m.Get("delayMs")
		clamped := clampDelay(d)
		if d.Type == gjson.Number && d.Raw == strconv.Itoa(clamped) {
			continue
		}
		if doc, err = sjson.SetBytes(doc, "messages."+strconv.Itoa(i)+".delayMs", clamped); err != nil {
			return nil, err
		}
	}
	return doc, nil
}

func (s BotReplySchema) Validate(doc []byte) error {
	return validateAs[models.BotReply](s.Name(), doc)
}

func clampDelay(d gjson.Result) int {
	if d.Type != gjson.Number {
		return 1000
	}
	v := int(math.Round(d.Float()))
	if v < models.MinDelayMs {
		return models.MinDelayMs
	}
	if v > models.MaxDelayMs {
		return models.MaxDelayMs
	}
	return v
}
