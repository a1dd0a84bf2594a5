package wingman

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/krishamaze/arin-bot-v2/pkg/models"
	"github.com/krishamaze/arin-bot-v2/pkg/store"
)

// Tone levels, from most to least cautious.
const (
	ToneVeryShy      = "very_shy"
	ToneWarmingUp    = "warming_up"
	ToneCasualFriend = "casual_friend"
)

// MaxPromptMessages is how many of the most recent messages reach the model.
const MaxPromptMessages = 10

const divider = "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━"

const noMessages = "No recent messages."

var tones = []string{ToneVeryShy, ToneWarmingUp, ToneCasualFriend}

// CalculateToneLevel maps closeness (0-10) and interaction count to a tone.
// Few interactions make it one step more cautious, many make it one step
// more relaxed.
func CalculateToneLevel(closeness *float64, interactions *int) string {
	var score float64
	if closeness != nil {
		score = *closeness
	}
	var count int
	if interactions != nil {
		count = *interactions
	}

	level := 2
	switch {
	case score <= 3:
		level = 0
	case score <= 6:
		level = 1
	}
	switch {
	case count < 5:
		level = max(level-1, 0)
	case count > 20:
		level = min(level+1, len(tones)-1)
	}
	return tones[level]
}

// FormatRecentMessages renders the last MaxPromptMessages lines, oldest
// first. Group chats label each sender; one-on-one chats use You/Her.
func FormatRecentMessages(msgs []models.ChatMessage, group bool, selfID string) string {
	if len(msgs) == 0 {
		return noMessages
	}
	if len(msgs) > MaxPromptMessages {
		msgs = msgs[len(msgs)-MaxPromptMessages:]
	}

	var b strings.Builder
	for i, m := range msgs {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "[%s] %s: %q", clock(m.Timestamp), senderLabel(m, group, selfID), m.Text)
	}
	return b.String()
}

func senderLabel(m models.ChatMessage, group bool, selfID string) string {
	if m.IsSelf() {
		return "You"
	}
	if !group {
		return "Her"
	}
	switch {
	case m.SenderName != "":
		return m.SenderName
	case m.SenderID != "" && m.SenderID != selfID:
		return m.SenderID
	case m.Sender == models.SenderGirl:
		return "Match"
	}
	return "Unknown"
}

func clock(ms int64) string {
	return time.UnixMilli(ms).UTC().Format("3:04:05 PM")
}

// RelationshipContext joins the stored summaries for the match.
func RelationshipContext(s *models.RelationshipSummary) string {
	if s == nil {
		return "No prior history - first interaction"
	}
	var parts []string
	if s.RoomSummary != "" {
		parts = append(parts, "Room: "+s.RoomSummary)
	}
	if s.Relationship != "" {
		parts = append(parts, "Relationship: "+s.Relationship)
	}
	if s.GlobalSummary != "" {
		parts = append(parts, "History: "+s.GlobalSummary)
	}
	if len(parts) == 0 {
		return "No prior history - first interaction"
	}
	return strings.Join(parts, " | ")
}

// ToneContext describes the current relationship level.
func ToneContext(tone string, closeness *float64, interactions *int) string {
	score := "0"
	if closeness != nil {
		score = strconv.FormatFloat(*closeness, 'f', -1, 64)
	}
	count := 0
	if interactions != nil {
		count = *interactions
	}
	return fmt.Sprintf("CURRENT RELATIONSHIP: %s (closeness: %s/10, interactions: %d)", tone, score, count)
}

// DynamicContent is the per-request part of the wingman prompt.
func DynamicContent(relationship, tone string, profile *models.StrategyProfile, messages string) string {
	var b strings.Builder
	b.WriteString("RELATIONSHIP CONTEXT: ")
	b.WriteString(relationship)
	b.WriteString("\n\n")
	b.WriteString(tone)
	if profile != nil && profile.Strategy != "" {
		fmt.Fprintf(&b, "\n\nSTRATEGY (%s): %s", profile.Name, profile.Strategy)
	}
	b.WriteString("\n\n" + divider + "\nRECENT MESSAGES:\n" + divider + "\n")
	b.WriteString(messages)
	return b.String()
}

// ProfileInfo renders a user for the cacheable part of the prompt.
func ProfileInfo(u *models.User) string {
	data := []byte("{}")
	if len(u.ProfileData) > 0 {
		var out bytes.Buffer
		if err := json.Indent(&out, u.ProfileData, "", "  "); err == nil {
			data = out.Bytes()
		}
	}
	return fmt.Sprintf("Name: %s\nProfile: %s", u.DisplayName, data)
}

// StaticContent is the profile text shared by every request of a
// conversation pair.
func StaticContent(self, match *models.User) string {
	return "USER INFO:\n" + ProfileInfo(self) + "\n\nMATCH INFO:\n" + ProfileInfo(match)
}

var (
	femaleWords = regexp.MustCompile(`\b(she|her|hers|herself|girl|woman|lady|female|daughter|sister|mom|mother|aunt|niece|princess|queen|goddess)\b`)
	maleWords   = regexp.MustCompile(`\b(he|him|his|himself|boy|man|guy|male|son|brother|dad|father|uncle|nephew|prince|king|dude)\b`)
)

// DetectGender guesses a gender from word indicators across msgs. It needs
// at least two indicators and a clear lead over the other side.
func DetectGender(msgs []models.ChatMessage) string {
	texts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		texts = append(texts, strings.ToLower(m.Text))
	}
	all := strings.Join(texts, " ")

	female := float64(len(femaleWords.FindAllStringIndex(all, -1)))
	male := float64(len(maleWords.FindAllStringIndex(all, -1)))
	switch {
	case female >= 2 && female > male*1.5:
		return store.GenderFemale
	case male >= 2 && male > female*1.5:
		return store.GenderMale
	}
	return store.GenderUnknown
}

// ConversationType treats a conversation as a group when it is stored as one
// or when more than one other person has spoken.
func ConversationType(stored string, msgs []models.ChatMessage) string {
	if stored == models.ConversationGroup {
		return models.ConversationGroup
	}
	if len(participants(msgs)) > 1 {
		return models.ConversationGroup
	}
	return models.ConversationOneOnOne
}

func participants(msgs []models.ChatMessage) map[string]struct{} {
	seen := make(map[string]struct{})
	for _, m := range msgs {
		if m.IsSelf() || m.SenderID == "" {
			continue
		}
		seen[m.SenderID] = struct{}{}
	}
	return seen
}

// FormatEvents renders chat-bot events as a narrative. Events without a
// platform id are system notifications.
func FormatEvents(events []models.Event) string {
	if len(events) == 0 {
		return noMessages
	}
	lines := make([]string, 0, len(events))
	for _, e := range events {
		at := strings.ToLower(time.UnixMilli(e.Timestamp).UTC().Format("Jan 2, 3:04pm"))
		if e.UserID == "" {
			lines = append(lines, fmt.Sprintf("System: %s at %s", e.Text, at))
			continue
		}
		lines = append(lines, fmt.Sprintf("%s(%s) sent %q at %s", e.Username, e.UserID, e.Text, at))
	}
	return strings.Join(lines, "\n")
}

// Personality returns the bot personality as prompt text. A JSON string is
// unquoted; any other JSON value is used as written.
func Personality(raw json.RawMessage) string {
	v := gjson.ParseBytes(raw)
	if v.Type == gjson.String {
		return v.String()
	}
	return strings.TrimSpace(v.Raw)
}

// ChatContent is the per-request part of the chat-bot prompt.
func ChatContent(bot *models.Bot, narrative string) string {
	return fmt.Sprintf("YOU ARE %s (%s)\n\nPERSONALITY:\n%s\n\n%s\nRECENT EVENTS:\n%s\n%s\n%s\n\nRespond now:",
		bot.Username, bot.PlatformID, Personality(bot.Personality), divider, divider, narrative, divider)
}

// storable reports whether a chat event is kept for later narratives.
func storable(e models.Event) bool {
	return e.Type == "message" || e.Type == "quoted"
}
