package wingman

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krishamaze/arin-bot-v2/pkg/budget"
	"github.com/krishamaze/arin-bot-v2/pkg/config"
	"github.com/krishamaze/arin-bot-v2/pkg/logging"
	"github.com/krishamaze/arin-bot-v2/pkg/models"
	"github.com/krishamaze/arin-bot-v2/pkg/orchestrator"
	"github.com/krishamaze/arin-bot-v2/pkg/prompt"
	"github.com/krishamaze/arin-bot-v2/pkg/repair"
	"github.com/krishamaze/arin-bot-v2/pkg/router"
	"github.com/krishamaze/arin-bot-v2/pkg/store"
)

const suggestionJSON = `{
  "conversationType": "one_on_one",
  "analysis": {"their_last_message_feeling": "curious", "conversation_vibe": "light", "recommended_goal": "keep it going"},
  "suggestion": {"type": "Curious/Engaging", "text": "wait which one tho", "rationale": "a follow-up question"},
  "wingman_tip": "ask about specifics"
}`

type fakeGenerator struct {
	json  string
	err   error
	calls []orchestrator.Request
}

func (f *fakeGenerator) Generate(_ context.Context, req orchestrator.Request) (*orchestrator.Result, error) {
	f.calls = append(f.calls, req)
	if f.err != nil {
		return nil, f.err
	}
	return &orchestrator.Result{
		JSON:      []byte(f.json),
		ModelUsed: req.Chain[0].Model,
		Provider:  req.Chain[0].Provider,
		Usage:     models.Usage{PromptTokens: 120, CompletionTokens: 30, TotalTokens: 150, CachedTokens: 80},
		Attempts:  []models.Attempt{{Model: req.Chain[0].Model, Number: 1, Outcome: models.OutcomeSuccess}},
		Latency:   250 * time.Millisecond,
	}, nil
}

func (f *fakeGenerator) last() orchestrator.Request { return f.calls[len(f.calls)-1] }

type fakeCaches struct {
	scopes []string
	models []string
}

func (f *fakeCaches) GetOrCreate(_ context.Context, scopeKey, _, _, model string, ttl time.Duration) *models.CacheHandle {
	f.scopes = append(f.scopes, scopeKey)
	f.models = append(f.models, model)
	return &models.CacheHandle{Key: model + "|" + scopeKey, Model: model, Ref: "cachedContents/abc", ExpiresAt: time.Now().Add(ttl)}
}

func (f *fakeCaches) Stats() (models.CacheStats, error) {
	return models.CacheStats{Entries: int64(len(f.scopes))}, nil
}

type fakeBudget struct{ err error }

func (f fakeBudget) Check(context.Context, string, string) error { return f.err }

type fakeUsage struct{ recs []models.UsageRecord }

func (f *fakeUsage) Record(_ context.Context, rec models.UsageRecord) error {
	f.recs = append(f.recs, rec)
	return nil
}

type harness struct {
	svc   *Service
	store *store.SQLStore
	gen   *fakeGenerator
	usage *fakeUsage
}

func newHarness(t *testing.T, mutate func(*Deps)) *harness {
	t.Helper()
	st, err := store.Open(context.Background(), config.DatabaseConfig{
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "wingman_test.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	r, err := router.New(config.Default())
	require.NoError(t, err)

	h := &harness{store: st, gen: &fakeGenerator{json: suggestionJSON}, usage: &fakeUsage{}}
	d := Deps{
		Store:     st,
		Generator: h.gen,
		Chains:    r,
		Prompts:   prompt.NewLoader(config.PromptConfig{Source: prompt.SourceInline}, nil, nil),
		Usage:     h.usage,
		Stats:     &orchestrator.AtomicStats{},
	}
	if mutate != nil {
		mutate(&d)
	}
	h.svc = New(d)
	return h
}

func (h *harness) init(t *testing.T) string {
	t.Helper()
	res, err := h.svc.Init(context.Background(), InitRequest{PlatformID: "owner-1", Username: "Arin", RoomPath: "/chat/room-1"})
	require.NoError(t, err)
	return res.ConversationID
}

func TestInit(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	res, err := h.svc.Init(ctx, InitRequest{PlatformID: "owner-1", Username: "Arin", RoomPath: "/r"})
	require.NoError(t, err)
	assert.Equal(t, "initialized", res.Status)
	assert.Equal(t, "owner-1", res.UserID)
	assert.NotEmpty(t, res.ConversationID)

	again, err := h.svc.Init(ctx, InitRequest{PlatformID: "owner-1", Username: "Arin", RoomPath: "/r"})
	require.NoError(t, err)
	assert.Equal(t, res.ConversationID, again.ConversationID)

	other, err := h.svc.Init(ctx, InitRequest{PlatformID: "owner-1", Username: "Arin", RoomPath: "/r2"})
	require.NoError(t, err)
	assert.NotEqual(t, res.ConversationID, other.ConversationID)
}

func TestAnalyze(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	convID := h.init(t)

	res, err := h.svc.Analyze(ctx, AnalyzeRequest{
		ConversationID: convID,
		UserID:         "owner-1",
		GirlID:         "girl-1",
		GirlName:       "Maya",
		RecentMessages: []models.ChatMessage{
			{Sender: models.SenderUser, Text: "saw a great movie", Timestamp: 1_000},
			{Sender: models.SenderGirl, SenderID: "girl-1", Text: "ooh which one?", Timestamp: 2_000},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "wait which one tho", res.Suggestion.Text)
	assert.Equal(t, models.SuggestionCurious, res.Suggestion.Type)
	require.NotEmpty(t, res.SuggestionID)

	req := h.gen.last()
	assert.Equal(t, prompt.Default(prompt.Wingman), req.SystemPrompt)
	assert.Contains(t, req.DynamicPrompt, "RELATIONSHIP CONTEXT: No prior history - first interaction")
	assert.Contains(t, req.DynamicPrompt, "CURRENT RELATIONSHIP: very_shy (closeness: 0/10, interactions: 0)")
	assert.Contains(t, req.DynamicPrompt, `Her: "ooh which one?"`)
	assert.Contains(t, req.StaticPrompt, "Name: Arin")
	assert.Contains(t, req.StaticPrompt, "Name: Maya")
	assert.Nil(t, req.Cache)
	assert.IsType(t, repair.SuggestionSchema{}, req.Shape)
	assert.NotNil(t, req.ResponseSchema)
	assert.Equal(t, "gemini-2.5-flash", req.Chain[0].Model)

	conv, err := h.store.Conversation(ctx, convID)
	require.NoError(t, err)
	match, err := h.store.UserByPlatformID(ctx, "girl-1")
	require.NoError(t, err)
	assert.Equal(t, match.ID, conv.MatchUserID)
	assert.Equal(t, store.StatusActive, conv.Status)
	assert.Equal(t, models.UserMatch, match.Type)

	rec, err := h.store.Suggestion(ctx, res.SuggestionID)
	require.NoError(t, err)
	assert.Equal(t, prompt.DefaultVersion, rec.PromptVersion)
	assert.Equal(t, prompt.SourceInline, rec.PromptSource)
	assert.Equal(t, ToneVeryShy, rec.ToneLevel)
	assert.Equal(t, int64(250), rec.LatencyMs)
	assert.Equal(t, 80, rec.Usage.CachedTokens)

	require.Len(t, h.usage.recs, 1)
	assert.Equal(t, "owner-1", h.usage.recs[0].UserID)
	assert.Equal(t, convID, h.usage.recs[0].ConversationID)
	assert.Equal(t, 150, h.usage.recs[0].TotalTokens)
}

func TestAnalyzeTargetResolution(t *testing.T) {
	req := AnalyzeRequest{
		UserID: "me",
		RecentMessages: []models.ChatMessage{
			{Sender: models.SenderOther, SenderID: "a"},
			{Sender: models.SenderOther, SenderID: "b"},
			{Sender: models.SenderSelf, SenderID: "me"},
		},
	}
	assert.Equal(t, "b", req.Target())

	req.GirlID = "g"
	assert.Equal(t, "g", req.Target())
	req.TargetUserID = "t"
	assert.Equal(t, "t", req.Target())

	h := newHarness(t, nil)
	_, err := h.svc.Analyze(context.Background(), AnalyzeRequest{
		ConversationID: h.init(t),
		UserID:         "owner-1",
		RecentMessages: []models.ChatMessage{{Sender: models.SenderUser, Text: "hi", Timestamp: 1}},
	})
	assert.ErrorIs(t, err, ErrNoTarget)
	assert.Empty(t, h.gen.calls)
}

func TestAnalyzeGroupChat(t *testing.T) {
	h := newHarness(t, nil)
	res, err := h.svc.Analyze(context.Background(), AnalyzeRequest{
		ConversationID: h.init(t),
		UserID:         "owner-1",
		RecentMessages: []models.ChatMessage{
			{Sender: models.SenderOther, SenderID: "p1", SenderName: "Ana", Text: "movie night?", Timestamp: 1},
			{Sender: models.SenderOther, SenderID: "p2", SenderName: "Bo", Text: "im in", Timestamp: 2},
		},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.SuggestionID)

	req := h.gen.last()
	assert.Contains(t, req.DynamicPrompt, `Bo: "im in"`)
	assert.Contains(t, req.StaticPrompt, "Name: Bo")
}

func TestAnalyzeConversationNotFound(t *testing.T) {
	h := newHarness(t, nil)
	h.init(t)
	_, err := h.svc.Analyze(context.Background(), AnalyzeRequest{
		ConversationID: "5f0c8a3e-8d0e-4c57-9b6e-0a1a2b3c4d5e",
		UserID:         "owner-1",
		GirlID:         "girl-1",
	})
	assert.ErrorIs(t, err, ErrConversationNotFound)
}

func TestAnalyzeUnknownOwner(t *testing.T) {
	h := newHarness(t, nil)
	convID := h.init(t)
	_, err := h.svc.Analyze(context.Background(), AnalyzeRequest{ConversationID: convID, UserID: "nobody", GirlID: "girl-1"})
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Empty(t, h.gen.calls)
}

func TestAnalyzeUsesSummaryTone(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	convID := h.init(t)
	owner, err := h.store.UserByPlatformID(ctx, "owner-1")
	require.NoError(t, err)
	require.NoError(t, h.store.SaveSummary(ctx, owner.ID, "/chat/room-1", models.RelationshipSummary{
		UserPlatformID:   "girl-1",
		RoomSummary:      "talks about films",
		Relationship:     "friendly",
		ClosenessScore:   floatPtr(8),
		InteractionCount: intPtr(25),
	}))

	_, err = h.svc.Analyze(ctx, AnalyzeRequest{ConversationID: convID, UserID: "owner-1", GirlID: "girl-1"})
	require.NoError(t, err)

	dyn := h.gen.last().DynamicPrompt
	assert.Contains(t, dyn, "RELATIONSHIP CONTEXT: Room: talks about films | Relationship: friendly")
	assert.Contains(t, dyn, "CURRENT RELATIONSHIP: casual_friend (closeness: 8/10, interactions: 25)")
	assert.Contains(t, dyn, "No recent messages.")
}

func TestAnalyzeCacheHandle(t *testing.T) {
	caches := &fakeCaches{}
	h := newHarness(t, func(d *Deps) {
		d.Caches = caches
		d.Cache = config.CacheConfig{Enabled: true, TTL: time.Hour}
	})

	_, err := h.svc.Analyze(context.Background(), AnalyzeRequest{ConversationID: h.init(t), UserID: "owner-1", GirlID: "girl-1"})
	require.NoError(t, err)

	assert.Equal(t, []string{"owner-1_girl-1_" + prompt.DefaultVersion}, caches.scopes)
	assert.Equal(t, []string{"gemini-2.5-flash"}, caches.models)
	req := h.gen.last()
	require.NotNil(t, req.Cache)
	assert.Equal(t, "cachedContents/abc", req.Cache.Ref)

	st := h.svc.Status()
	require.NotNil(t, st.Cache)
	assert.Equal(t, int64(1), st.Cache.Entries)
}

func TestAnalyzeCacheDisabled(t *testing.T) {
	caches := &fakeCaches{}
	h := newHarness(t, func(d *Deps) { d.Caches = caches })

	_, err := h.svc.Analyze(context.Background(), AnalyzeRequest{ConversationID: h.init(t), UserID: "owner-1", GirlID: "girl-1"})
	require.NoError(t, err)
	assert.Empty(t, caches.scopes)
	assert.Nil(t, h.gen.last().Cache)
}

func TestAnalyzeBudgetExceeded(t *testing.T) {
	h := newHarness(t, func(d *Deps) {
		d.Budget = fakeBudget{err: fmt.Errorf("%w: 100 of 100 daily tokens used", budget.ErrBudgetExceeded)}
	})
	_, err := h.svc.Analyze(context.Background(), AnalyzeRequest{ConversationID: h.init(t), UserID: "owner-1", GirlID: "girl-1"})
	assert.ErrorIs(t, err, budget.ErrBudgetExceeded)
	assert.Empty(t, h.gen.calls)
}

func TestAnalyzeGenerationFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.gen.err = &orchestrator.ExhaustedError{Models: []string{"a", "b"}, Last: errors.New("boom")}

	_, err := h.svc.Analyze(context.Background(), AnalyzeRequest{ConversationID: h.init(t), UserID: "owner-1", GirlID: "girl-1"})
	var ex *orchestrator.ExhaustedError
	assert.ErrorAs(t, err, &ex)
	assert.Empty(t, h.usage.recs)
}

func TestAnalyzeProfiles(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	convID := h.init(t)

	shy, err := h.svc.SaveProfile(ctx, ProfileRequest{
		UserID: "owner-1", Name: "gentle", Strategy: "go slow", DetectionRule: `toneLevel == "very_shy"`, Priority: 2,
	})
	require.NoError(t, err)
	pinned, err := h.svc.SaveProfile(ctx, ProfileRequest{UserID: "owner-1", Name: "bold", Strategy: "be direct"})
	require.NoError(t, err)

	res, err := h.svc.Analyze(ctx, AnalyzeRequest{ConversationID: convID, UserID: "owner-1", GirlID: "girl-1", AutoDetectProfile: true})
	require.NoError(t, err)
	assert.Contains(t, h.gen.last().DynamicPrompt, "STRATEGY (gentle): go slow")
	rec, err := h.store.Suggestion(ctx, res.SuggestionID)
	require.NoError(t, err)
	assert.Equal(t, shy.ID, rec.ProfileID)

	_, err = h.svc.Analyze(ctx, AnalyzeRequest{ConversationID: convID, UserID: "owner-1", GirlID: "girl-1", ProfileID: pinned.ID})
	require.NoError(t, err)
	assert.Contains(t, h.gen.last().DynamicPrompt, "STRATEGY (bold): be direct")

	_, err = h.svc.Analyze(ctx, AnalyzeRequest{ConversationID: convID, UserID: "owner-1", GirlID: "girl-1"})
	require.NoError(t, err)
	assert.NotContains(t, h.gen.last().DynamicPrompt, "STRATEGY")

	list, err := h.svc.Profiles(ctx, "owner-1")
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestSaveProfileRejectsBadRule(t *testing.T) {
	h := newHarness(t, nil)
	h.init(t)
	ctx := context.Background()

	_, err := h.svc.SaveProfile(ctx, ProfileRequest{UserID: "owner-1", Name: "x", Strategy: "y", DetectionRule: "toneLevel =="})
	assert.ErrorIs(t, err, ErrInvalidRule)

	_, err = h.svc.SaveProfile(ctx, ProfileRequest{UserID: "stranger", Name: "x", Strategy: "y"})
	assert.ErrorIs(t, err, ErrUserNotFound)

	_, err = h.svc.Profiles(ctx, "stranger")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestDeleteProfile(t *testing.T) {
	h := newHarness(t, nil)
	h.init(t)
	ctx := context.Background()

	p, err := h.svc.SaveProfile(ctx, ProfileRequest{UserID: "owner-1", Name: "bold", Strategy: "be direct"})
	require.NoError(t, err)

	require.NoError(t, h.svc.DeleteProfile(ctx, p.ID))
	list, err := h.svc.Profiles(ctx, "owner-1")
	require.NoError(t, err)
	assert.Empty(t, list)

	assert.ErrorIs(t, h.svc.DeleteProfile(ctx, p.ID), ErrProfileNotFound)
}

func TestAnalyzeDetectsGender(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	_, err := h.svc.Analyze(ctx, AnalyzeRequest{
		ConversationID: h.init(t),
		UserID:         "owner-1",
		GirlID:         "girl-1",
		RecentMessages: []models.ChatMessage{
			{Sender: models.SenderGirl, SenderID: "girl-1", Text: "my sister says her cat is a queen", Timestamp: 1},
		},
	})
	require.NoError(t, err)

	u, err := h.store.UserByPlatformID(ctx, "girl-1")
	require.NoError(t, err)
	assert.Equal(t, store.GenderFemale, u.Gender)
}

func TestFeedback(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	convID := h.init(t)

	res, err := h.svc.Analyze(ctx, AnalyzeRequest{ConversationID: convID, UserID: "owner-1", GirlID: "girl-1"})
	require.NoError(t, err)

	_, err = h.svc.Feedback(ctx, models.Feedback{SuggestionID: "00000000-0000-0000-0000-000000000000", ConversationID: convID})
	assert.ErrorIs(t, err, ErrSuggestionNotFound)

	out, err := h.svc.Feedback(ctx, models.Feedback{
		SuggestionID:   res.SuggestionID,
		ConversationID: convID,
		SelectedIndex:  intPtr(0),
		OutcomeScore:   intPtr(4),
	})
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.NotEmpty(t, out.Feedback.ID)
	assert.Equal(t, 1, out.Metrics.TotalFeedback)
	assert.Equal(t, 1, out.Metrics.Accepted)
	assert.InDelta(t, 1.0, out.Metrics.AcceptanceRate, 1e-9)
	assert.InDelta(t, 4.0, out.Metrics.AvgOutcomeScore, 1e-9)
}

func TestChat(t *testing.T) {
	h := newHarness(t, nil)
	h.gen.json = `{"strategy":"ENGAGE","messages":[{"text":"lol same","delayMs":900}]}`
	ctx := context.Background()

	reply, err := h.svc.Chat(ctx, ChatRequest{
		RoomPath:      "/room/lobby",
		BotPlatformID: "bot-7",
		Events: []models.Event{
			{Type: "message", UserID: "u1", Username: "neo", Text: "anyone watching f1?", Timestamp: 1_000},
			{Type: "join", Text: "trin joined", Timestamp: 2_000},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, models.StrategyEngage, reply.Strategy)
	require.Len(t, reply.Messages, 1)
	assert.Equal(t, 900, reply.Messages[0].DelayMs)

	first := h.gen.last()
	assert.Equal(t, prompt.Default(prompt.Chat), first.SystemPrompt)
	assert.IsType(t, repair.BotReplySchema{}, first.Shape)
	assert.Contains(t, first.DynamicPrompt, "YOU ARE neo (bot-7)")
	assert.Contains(t, first.DynamicPrompt, "easygoing")
	assert.Contains(t, first.DynamicPrompt, "System: trin joined")
	assert.Equal(t, "gemini-2.0-flash", first.Chain[0].Model)

	h.gen.json = `{"strategy":"OBSERVE"}`
	reply, err = h.svc.Chat(ctx, ChatRequest{
		RoomPath:      "/room/lobby",
		BotPlatformID: "bot-7",
		Events:        []models.Event{{Type: "message", UserID: "u2", Username: "tank", Text: "yes", Timestamp: 3_000}},
	})
	require.NoError(t, err)
	assert.Equal(t, models.StrategyObserve, reply.Strategy)
	assert.NotNil(t, reply.Messages)
	assert.Empty(t, reply.Messages)

	// the stored message precedes the new one; the join was not stored
	dyn := h.gen.last().DynamicPrompt
	assert.Contains(t, dyn, `neo(u1) sent "anyone watching f1?"`)
	assert.Contains(t, dyn, `tank(u2) sent "yes"`)
	assert.NotContains(t, dyn, "trin joined")
	assert.Len(t, h.usage.recs, 2)
}

func TestChatWithoutEvents(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.svc.Chat(context.Background(), ChatRequest{RoomPath: "/room/lobby", BotPlatformID: "bot-7"})
	assert.ErrorIs(t, err, ErrNoEvents)
	assert.Empty(t, h.gen.calls)
}

func TestStatus(t *testing.T) {
	stats := &orchestrator.AtomicStats{}
	stats.RecordPrimary()
	stats.RecordFailure()
	h := newHarness(t, func(d *Deps) { d.Stats = stats })

	st := h.svc.Status()
	assert.Equal(t, int64(1), st.Generation.PrimarySuccesses)
	assert.Equal(t, int64(1), st.Generation.TotalFailures)
	assert.Nil(t, st.Cache)
}

type fakeAuditor struct{ entries []models.AuditEntry }

func (f *fakeAuditor) Log(_ context.Context, e models.AuditEntry) error {
	f.entries = append(f.entries, e)
	return nil
}

func TestAnalyzeAudited(t *testing.T) {
	aud := &fakeAuditor{}
	h := newHarness(t, func(d *Deps) { d.Audit = aud })
	ctx := logging.WithRequestID(context.Background(), "req-42")
	convID := h.init(t)

	_, err := h.svc.Analyze(ctx, AnalyzeRequest{
		ConversationID: convID,
		UserID:         "owner-1",
		GirlID:         "girl-1",
		RecentMessages: []models.ChatMessage{{Sender: models.SenderGirl, SenderID: "girl-1", Text: "hey you", Timestamp: 1_000}},
	})
	require.NoError(t, err)

	require.Len(t, aud.entries, 1)
	e := aud.entries[0]
	assert.Equal(t, "req-42", e.RequestID)
	assert.Equal(t, models.AuditWingman, e.Kind)
	assert.Equal(t, convID, e.ConversationID)
	assert.Equal(t, "gemini-2.5-flash", e.Model)
	assert.Equal(t, prompt.DefaultVersion, e.PromptVersion)
	assert.Contains(t, e.Prompt, "Name: Arin")
	assert.Contains(t, e.Prompt, `Her: "hey you"`)
	assert.JSONEq(t, suggestionJSON, e.Response)
	assert.Equal(t, 150, e.TotalTokens)
	assert.Len(t, e.Attempts, 1)
	assert.False(t, e.Failed())
}

func TestFailedGenerationAudited(t *testing.T) {
	aud := &fakeAuditor{}
	h := newHarness(t, func(d *Deps) { d.Audit = aud })
	h.gen.err = &orchestrator.ExhaustedError{
		Models:   []string{"gemini-2.5-flash"},
		Attempts: []models.Attempt{{Model: "gemini-2.5-flash", Number: 1, Outcome: models.OutcomeFatal, StatusCode: 401}},
		Last:     errors.New("unauthorized"),
	}

	_, err := h.svc.Analyze(context.Background(), AnalyzeRequest{ConversationID: h.init(t), UserID: "owner-1", GirlID: "girl-1"})
	require.Error(t, err)

	require.Len(t, aud.entries, 1)
	e := aud.entries[0]
	assert.True(t, e.Failed())
	assert.Contains(t, e.Error, "unauthorized")
	assert.Empty(t, e.Model)
	require.Len(t, e.Attempts, 1)
	assert.Equal(t, 401, e.Attempts[0].StatusCode)
}

func TestChatAudited(t *testing.T) {
	aud := &fakeAuditor{}
	h := newHarness(t, func(d *Deps) { d.Audit = aud })
	h.gen.json = `{"strategy":"OBSERVE","messages":[]}`

	_, err := h.svc.Chat(context.Background(), ChatRequest{
		RoomPath:      "/room/lobby",
		BotPlatformID: "bot-7",
		Events:        []models.Event{{Type: "message", UserID: "u1", Username: "neo", Text: "hi", Timestamp: 1_000}},
	})
	require.NoError(t, err)

	require.Len(t, aud.entries, 1)
	assert.Equal(t, models.AuditChat, aud.entries[0].Kind)
	assert.Equal(t, "bot-7", aud.entries[0].UserID)
	assert.Contains(t, aud.entries[0].Prompt, "RECENT EVENTS")
}
