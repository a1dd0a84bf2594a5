// Package wingman assembles suggestion and chat-bot requests: it resolves
// the people and conversation involved, builds the prompt, runs it through
// the orchestrator and persists what came back.
package wingman

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/krishamaze/arin-bot-v2/pkg/audit"
	"github.com/krishamaze/arin-bot-v2/pkg/cache"
	"github.com/krishamaze/arin-bot-v2/pkg/config"
	"github.com/krishamaze/arin-bot-v2/pkg/llm"
	"github.com/krishamaze/arin-bot-v2/pkg/logging"
	"github.com/krishamaze/arin-bot-v2/pkg/models"
	"github.com/krishamaze/arin-bot-v2/pkg/orchestrator"
	"github.com/krishamaze/arin-bot-v2/pkg/profile"
	"github.com/krishamaze/arin-bot-v2/pkg/prompt"
	"github.com/krishamaze/arin-bot-v2/pkg/repair"
	"github.com/krishamaze/arin-bot-v2/pkg/store"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrSuggestionNotFound   = errors.New("suggestion not found")
	ErrUserNotFound         = errors.New("user not found")
	ErrProfileNotFound      = errors.New("profile not found")
	// ErrNoEvents means a chat request carried no events to reply to.
	ErrNoEvents = errors.New("no events")
	// ErrNoTarget means neither the request nor its messages name the person
	// being replied to.
	ErrNoTarget = errors.New("no target user")
	// ErrInvalidRule wraps a profile detection rule that does not compile.
	ErrInvalidRule = errors.New("invalid detection rule")
)

// RecentEventLimit is how many stored events precede new ones in a chat-bot
// narrative.
const RecentEventLimit = 50

const defaultPersonality = `"easygoing, a little shy with people you just met and relaxed with friends. into movies, tech and psychology. short replies, loose punctuation."`

// Generator runs a request across a model chain. *orchestrator.Orchestrator
// implements it.
type Generator interface {
	Generate(ctx context.Context, req orchestrator.Request) (*orchestrator.Result, error)
}

// Chains resolves the chain a user is served. *router.Router implements it.
type Chains interface {
	ChainFor(name, userID string) ([]models.ModelConfig, error)
}

// Prompts loads system prompts. *prompt.Loader implements it.
type Prompts interface {
	Load(ctx context.Context, name string) prompt.Prompt
}

// Caches hands out provider cache handles. *cache.Manager implements it.
type Caches interface {
	GetOrCreate(ctx context.Context, scopeKey, systemPrompt, staticContent, model string, ttl time.Duration) *models.CacheHandle
	Stats() (models.CacheStats, error)
}

// Budget rejects users over their token allowance. *budget.Enforcer
// implements it.
type Budget interface {
	Check(ctx context.Context, userID, model string) error
}

// Usage records token usage. *tracker.SQLTracker implements it.
type Usage interface {
	Record(ctx context.Context, rec models.UsageRecord) error
}

// Auditor records generations. *audit.Logger implements it.
type Auditor interface {
	Log(ctx context.Context, e models.AuditEntry) error
}

// Deps are the collaborators of a Service. Store, Generator, Chains and
// Prompts are required; the rest may be nil.
type Deps struct {
	Store     store.Store
	Generator Generator
	Chains    Chains
	Prompts   Prompts
	Caches    Caches
	Budget    Budget
	Usage     Usage
	Audit     Auditor
	Selector  *profile.Selector
	Stats     orchestrator.Stats
	// Cache controls provider prompt caching for the wingman chain.
	Cache config.CacheConfig
	Log   *zap.Logger
}

// Service implements the wingman operations.
type Service struct {
	Deps
	log *zap.Logger
}

// New creates a Service.
func New(d Deps) *Service {
	d.Log = logging.OrNop(d.Log)
	if d.Selector == nil {
		d.Selector = profile.NewSelector(d.Log)
	}
	return &Service{Deps: d, log: d.Log.Named("wingman")}
}

// InitRequest registers the extension owner in a room.
type InitRequest struct {
	PlatformID string `json:"platformId" validate:"required"`
	Username   string `json:"username" validate:"required"`
	RoomPath   string `json:"roomPath" validate:"required,startswith=/"`
}

// InitResponse identifies the conversation later analyses refer to.
type InitResponse struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	Status         string `json:"status"`
}

// Init ensures the owner and the room's conversation exist.
func (s *Service) Init(ctx context.Context, req InitRequest) (*InitResponse, error) {
	u, err := s.Store.UpsertUser(ctx, models.User{
		PlatformID:  req.PlatformID,
		DisplayName: req.Username,
		Type:        models.UserBotOwner,
	})
	if err != nil {
		return nil, fmt.Errorf("init user: %w", err)
	}
	conv, err := s.Store.EnsureConversation(ctx, u.ID, req.RoomPath, "")
	if err != nil {
		return nil, fmt.Errorf("init conversation: %w", err)
	}
	logging.FromContext(ctx, s.log).Info("conversation initialized",
		zap.String("conversation_id", conv.ID), zap.String("room", req.RoomPath))
	return &InitResponse{ConversationID: conv.ID, UserID: req.PlatformID, Status: "initialized"}, nil
}

// AnalyzeRequest asks for a reply suggestion. One of GirlID, TargetUserID
// or RecentMessages is required.
type AnalyzeRequest struct {
	ConversationID    string               `json:"conversationId" validate:"required,uuid"`
	UserID            string               `json:"userId" validate:"required"`
	GirlID            string               `json:"girlId,omitempty"`
	TargetUserID      string               `json:"targetUserId,omitempty"`
	GirlName          string               `json:"girlName,omitempty"`
	RecentMessages    []models.ChatMessage `json:"recentMessages,omitempty" validate:"required_without_all=GirlID TargetUserID,dive"`
	ProfileID         string               `json:"profileId,omitempty" validate:"omitempty,uuid"`
	AutoDetectProfile bool                 `json:"autoDetectProfile,omitempty"`
}

// Target returns the platform id of the person being replied to: the
// explicit target, else the girl id, else the last other sender.
func (r AnalyzeRequest) Target() string {
	if r.TargetUserID != "" {
		return r.TargetUserID
	}
	if r.GirlID != "" {
		return r.GirlID
	}
	for i := len(r.RecentMessages) - 1; i >= 0; i-- {
		m := r.RecentMessages[i]
		if !m.IsSelf() && m.SenderID != "" && m.SenderID != r.UserID {
			return m.SenderID
		}
	}
	return ""
}

// AnalyzeResponse is a validated suggestion. SuggestionID is empty when the
// suggestion could not be stored.
type AnalyzeResponse struct {
	models.StructuredResponse
	SuggestionID string `json:"suggestionId,omitempty"`
}

type suggestionContext struct {
	UserProfile      json.RawMessage `json:"user_profile,omitempty"`
	MatchProfile     json.RawMessage `json:"match_profile,omitempty"`
	ConversationType string          `json:"conversation_type"`
	ToneLevel        string          `json:"tone_level"`
	ClosenessScore   *float64        `json:"closeness_score"`
	InteractionCount *int            `json:"interaction_count"`
	CacheUsed        bool            `json:"cache_used"`
	Attempts         int             `json:"attempts"`
	RepairStage      string          `json:"repair_stage"`
}

// Analyze produces one reply suggestion for a conversation.
func (s *Service) Analyze(ctx context.Context, req AnalyzeRequest) (*AnalyzeResponse, error) {
	log := logging.FromContext(ctx, s.log).With(zap.String("conversation_id", req.ConversationID))

	targetID := req.Target()
	if targetID == "" {
		return nil, ErrNoTarget
	}
	matchName := req.GirlName
	if matchName == "" {
		matchName = senderName(req.RecentMessages, targetID)
	}
	match, err := s.Store.UpsertUser(ctx, models.User{
		PlatformID:  targetID,
		DisplayName: matchName,
		Type:        models.UserMatch,
		ProfileData: json.RawMessage(fmt.Sprintf(`{"first_seen":%q}`, time.Now().UTC().Format(time.RFC3339))),
	})
	if err != nil {
		return nil, fmt.Errorf("match user: %w", err)
	}

	conv, err := s.Store.Conversation(ctx, req.ConversationID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrConversationNotFound, req.ConversationID)
	}
	if err != nil {
		return nil, err
	}
	if conv.MatchUserID != match.ID {
		if err := s.Store.LinkMatch(ctx, conv.ID, match.ID); err != nil {
			log.Warn("link match failed", zap.Error(err))
		}
	}

	self, err := s.Store.UserByPlatformID(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("owner profile: %w", err)
	}

	summary, err := s.Store.Summary(ctx, self.ID, conv.RoomPath, targetID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Warn("summary unavailable", zap.Error(err))
		}
		summary = nil
	}
	var closeness *float64
	var interactions *int
	if summary != nil {
		closeness, interactions = summary.ClosenessScore, summary.InteractionCount
	}
	tone := CalculateToneLevel(closeness, interactions)
	convType := ConversationType(conv.Type, req.RecentMessages)

	if len(req.RecentMessages) > 0 {
		if err := s.Store.SaveMessages(ctx, conv.ID, req.RecentMessages); err != nil {
			log.Warn("store messages failed", zap.Error(err))
		}
		if match.Gender == "" || match.Gender == store.GenderUnknown {
			if g := DetectGender(req.RecentMessages); g != store.GenderUnknown {
				if err := s.Store.SetUserGender(ctx, match.ID, g); err != nil {
					log.Warn("store gender failed", zap.Error(err))
				} else {
					match.Gender = g
				}
			}
		}
	}

	strategy := s.pickProfile(ctx, log, req, self.ID, profile.Env{
		ConversationType: convType,
		ToneLevel:        tone,
		Closeness:        deref(closeness),
		Interactions:     deref(interactions),
		MessageCount:     len(req.RecentMessages),
		Participants:     len(participants(req.RecentMessages)) + 1,
		LastMessage:      lastText(req.RecentMessages),
		MatchGender:      match.Gender,
	})

	chain, err := s.Chains.ChainFor(config.ChainWingman, req.UserID)
	if err != nil {
		return nil, err
	}
	if s.Budget != nil {
		if err := s.Budget.Check(ctx, req.UserID, chain[0].Model); err != nil {
			return nil, err
		}
	}

	dynamic := DynamicContent(
		RelationshipContext(summary),
		ToneContext(tone, closeness, interactions),
		strategy,
		FormatRecentMessages(req.RecentMessages, convType == models.ConversationGroup, req.UserID),
	)
	sys := s.Prompts.Load(ctx, prompt.Wingman)
	static := StaticContent(self, match)

	var handle *models.CacheHandle
	if s.Caches != nil && s.Cache.Enabled {
		scope := req.UserID + "_" + targetID + "_" + sys.Version
		handle = s.Caches.GetOrCreate(ctx, scope, sys.Content, static, chain[0].Model, s.Cache.TTL)
	}

	res, err := s.Generator.Generate(ctx, orchestrator.Request{
		SystemPrompt:   sys.Content,
		StaticPrompt:   static,
		DynamicPrompt:  dynamic,
		Chain:          chain,
		Cache:          handle,
		ResponseSchema: llm.SuggestionSchema(),
		Shape:          repair.SuggestionSchema{},
	})
	s.audit(ctx, log, models.AuditEntry{
		Kind:           models.AuditWingman,
		UserID:         req.UserID,
		ConversationID: conv.ID,
		PromptVersion:  sys.Version,
		Prompt:         llm.Request{StaticPrompt: static, DynamicPrompt: dynamic}.UserPrompt(),
	}, res, err)
	if err != nil {
		return nil, err
	}

	var out AnalyzeResponse
	if err := json.Unmarshal(res.JSON, &out.StructuredResponse); err != nil {
		return nil, fmt.Errorf("decode suggestion: %w", err)
	}
	if out.ConversationType == "" {
		out.ConversationType = convType
	}

	promptCtx, _ := json.Marshal(suggestionContext{
		UserProfile:      self.ProfileData,
		MatchProfile:     match.ProfileData,
		ConversationType: convType,
		ToneLevel:        tone,
		ClosenessScore:   closeness,
		InteractionCount: interactions,
		CacheUsed:        handle != nil,
		Attempts:         len(res.Attempts),
		RepairStage:      res.RepairStage.String(),
	})
	rec := models.SuggestionRecord{
		ConversationID: conv.ID,
		PromptVersion:  sys.Version,
		PromptSource:   sys.Source,
		ToneLevel:      tone,
		Context:        promptCtx,
		Response:       out.StructuredResponse,
		Model:          res.ModelUsed,
		Fallback:       res.Fallback,
		Usage:          res.Usage,
		LatencyMs:      res.Latency.Milliseconds(),
	}
	if strategy != nil {
		rec.ProfileID = strategy.ID
	}
	if id, err := s.Store.SaveSuggestion(ctx, rec); err != nil {
		log.Warn("store suggestion failed", zap.Error(err))
	} else {
		out.SuggestionID = id
	}

	s.recordUsage(ctx, log, req.UserID, conv.ID, res)

	log.Info("suggestion generated",
		zap.String("model", res.ModelUsed),
		zap.Bool("fallback", res.Fallback),
		zap.Bool("cached", handle != nil),
		zap.String("tone", tone),
		zap.Int("cached_tokens", res.Usage.CachedTokens),
		zap.Duration("latency", res.Latency),
	)
	return &out, nil
}

func (s *Service) pickProfile(ctx context.Context, log *zap.Logger, req AnalyzeRequest, ownerID string, env profile.Env) *models.StrategyProfile {
	if req.ProfileID != "" {
		p, err := s.Store.Profile(ctx, req.ProfileID)
		if err != nil {
			log.Warn("profile unavailable", zap.String("profile_id", req.ProfileID), zap.Error(err))
			return nil
		}
		return p
	}
	if !req.AutoDetectProfile {
		return nil
	}
	profiles, err := s.Store.Profiles(ctx, ownerID)
	if err != nil {
		log.Warn("profiles unavailable", zap.Error(err))
		return nil
	}
	p := s.Selector.Select(profiles, env)
	if p != nil {
		log.Debug("profile detected", zap.String("profile", p.Name))
	}
	return p
}

func (s *Service) recordUsage(ctx context.Context, log *zap.Logger, userID, conversationID string, res *orchestrator.Result) {
	if s.Usage == nil {
		return
	}
	err := s.Usage.Record(ctx, models.UsageRecord{
		UserID:           userID,
		ConversationID:   conversationID,
		Provider:         res.Provider,
		Model:            res.ModelUsed,
		PromptTokens:     res.Usage.PromptTokens,
		CompletionTokens: res.Usage.CompletionTokens,
		TotalTokens:      res.Usage.TotalTokens,
		CachedTokens:     res.Usage.CachedTokens,
		Fallback:         res.Fallback,
		LatencyMs:        res.Latency.Milliseconds(),
	})
	if err != nil {
		log.Warn("record usage failed", zap.Error(err))
	}
}

// audit completes e from the generation outcome and records it. Failures
// to record are logged only.
func (s *Service) audit(ctx context.Context, log *zap.Logger, e models.AuditEntry, res *orchestrator.Result, genErr error) {
	if s.Audit == nil {
		return
	}
	e.RequestID = logging.RequestID(ctx)
	if res != nil {
		e.Model = res.ModelUsed
		e.Provider = string(res.Provider)
		e.Fallback = res.Fallback
		e.RepairStage = res.RepairStage.String()
		e.Attempts = res.Attempts
		e.Response = string(res.JSON)
		e.PromptTokens = res.Usage.PromptTokens
		e.CompletionTokens = res.Usage.CompletionTokens
		e.TotalTokens = res.Usage.TotalTokens
		e.LatencyMs = res.Latency.Milliseconds()
	}
	if genErr != nil {
		e.Error = genErr.Error()
		var exhausted *orchestrator.ExhaustedError
		if errors.As(genErr, &exhausted) {
			e.Attempts = exhausted.Attempts
		}
	}
	if err := s.Audit.Log(context.WithoutCancel(ctx), e); err != nil {
		log.Warn("audit failed", zap.Error(err))
	}
}

// ChatRequest carries new room events for the autonomous chat bot.
type ChatRequest struct {
	Events        []models.Event `json:"events" validate:"required,min=1,dive"`
	RoomPath      string         `json:"roomPath" validate:"required"`
	BotPlatformID string         `json:"botPlatformId" validate:"required"`
}

// Chat decides whether the bot speaks and what it types.
func (s *Service) Chat(ctx context.Context, req ChatRequest) (*models.BotReply, error) {
	if len(req.Events) == 0 {
		return nil, ErrNoEvents
	}
	log := logging.FromContext(ctx, s.log).With(zap.String("bot", req.BotPlatformID), zap.String("room", req.RoomPath))

	bot, err := s.Store.EnsureBot(ctx, req.BotPlatformID, req.Events[0].Username, []byte(defaultPersonality))
	if err != nil {
		return nil, err
	}

	history, err := s.Store.RecentEvents(ctx, bot.ID, req.RoomPath, RecentEventLimit)
	if err != nil {
		log.Warn("event history unavailable", zap.Error(err))
	}
	narrative := FormatEvents(append(history, req.Events...))

	var keep []models.Event
	for _, e := range req.Events {
		if storable(e) {
			keep = append(keep, e)
		}
	}
	if err := s.Store.SaveEvents(ctx, bot.ID, req.RoomPath, keep); err != nil {
		log.Warn("store events failed", zap.Error(err))
	}

	chain, err := s.Chains.ChainFor(config.ChainChat, req.BotPlatformID)
	if err != nil {
		return nil, err
	}
	if s.Budget != nil {
		if err := s.Budget.Check(ctx, req.BotPlatformID, chain[0].Model); err != nil {
			return nil, err
		}
	}

	sys := s.Prompts.Load(ctx, prompt.Chat)
	content := ChatContent(bot, narrative)
	res, err := s.Generator.Generate(ctx, orchestrator.Request{
		SystemPrompt:   sys.Content,
		DynamicPrompt:  content,
		Chain:          chain,
		ResponseSchema: llm.BotReplySchema(),
		Shape:          repair.BotReplySchema{},
	})
	s.audit(ctx, log, models.AuditEntry{
		Kind:          models.AuditChat,
		UserID:        req.BotPlatformID,
		PromptVersion: sys.Version,
		Prompt:        content,
	}, res, err)
	if err != nil {
		return nil, err
	}

	var reply models.BotReply
	if err := json.Unmarshal(res.JSON, &reply); err != nil {
		return nil, fmt.Errorf("decode bot reply: %w", err)
	}
	if reply.Messages == nil {
		reply.Messages = []models.BotMessage{}
	}
	s.recordUsage(ctx, log, req.BotPlatformID, "", res)

	log.Info("bot decided", zap.String("strategy", reply.Strategy), zap.Int("messages", len(reply.Messages)), zap.String("model", res.ModelUsed))
	return &reply, nil
}

// FeedbackResponse echoes stored feedback with the conversation's updated
// metrics.
type FeedbackResponse struct {
	Success  bool                    `json:"success"`
	Feedback *models.Feedback        `json:"feedback"`
	Metrics  *models.FeedbackMetrics `json:"metrics"`
}

// Feedback records what the user did with a suggestion.
func (s *Service) Feedback(ctx context.Context, f models.Feedback) (*FeedbackResponse, error) {
	sug, err := s.Store.Suggestion(ctx, f.SuggestionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrSuggestionNotFound, f.SuggestionID)
	}
	if err != nil {
		return nil, err
	}
	if sug.ConversationID != f.ConversationID {
		return nil, fmt.Errorf("%w: %s in conversation %s", ErrSuggestionNotFound, f.SuggestionID, f.ConversationID)
	}

	saved, err := s.Store.SaveFeedback(ctx, f)
	if err != nil {
		return nil, err
	}
	metrics, err := s.Store.FeedbackMetrics(ctx, f.ConversationID)
	if err != nil {
		return nil, err
	}
	return &FeedbackResponse{Success: true, Feedback: saved, Metrics: metrics}, nil
}

// ProfileRequest creates or replaces a strategy profile for an owner.
type ProfileRequest struct {
	ID            string `json:"id,omitempty" validate:"omitempty,uuid"`
	UserID        string `json:"userId" validate:"required"`
	Name          string `json:"name" validate:"required"`
	Strategy      string `json:"strategy" validate:"required"`
	DetectionRule string `json:"detectionRule,omitempty"`
	Priority      int    `json:"priority"`
	IsDefault     bool   `json:"isDefault"`
}

// Profiles lists an owner's strategy profiles.
func (s *Service) Profiles(ctx context.Context, userID string) ([]models.StrategyProfile, error) {
	owner, err := s.owner(ctx, userID)
	if err != nil {
		return nil, err
	}
	profiles, err := s.Store.Profiles(ctx, owner.ID)
	if err != nil {
		return nil, err
	}
	if profiles == nil {
		profiles = []models.StrategyProfile{}
	}
	return profiles, nil
}

// SaveProfile validates the detection rule and stores the profile.
func (s *Service) SaveProfile(ctx context.Context, req ProfileRequest) (*models.StrategyProfile, error) {
	if err := s.Selector.Validate(req.DetectionRule); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	owner, err := s.owner(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	p := models.StrategyProfile{
		ID:            req.ID,
		BotUserID:     owner.ID,
		Name:          req.Name,
		Strategy:      req.Strategy,
		DetectionRule: req.DetectionRule,
		Priority:      req.Priority,
		IsDefault:     req.IsDefault,
	}
	id, err := s.Store.SaveProfile(ctx, p)
	if err != nil {
		return nil, err
	}
	return s.Store.Profile(ctx, id)
}

// DeleteProfile removes a strategy profile.
func (s *Service) DeleteProfile(ctx context.Context, profileID string) error {
	err := s.Store.DeleteProfile(ctx, profileID)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrProfileNotFound, profileID)
	}
	return err
}

func (s *Service) owner(ctx context.Context, platformID string) (*models.User, error) {
	u, err := s.Store.UserByPlatformID(ctx, platformID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, platformID)
	}
	return u, err
}

// Status is the service health snapshot served on /stats.
type Status struct {
	Generation models.RunningStats `json:"generation"`
	Cache      *models.CacheStats  `json:"cache,omitempty"`
}

// Status reports orchestrator counters and cache metrics.
func (s *Service) Status() Status {
	var st Status
	if s.Stats != nil {
		st.Generation = s.Stats.Snapshot()
	}
	if s.Caches != nil {
		if cs, err := s.Caches.Stats(); err == nil {
			st.Cache = &cs
		} else {
			s.log.Warn("cache stats unavailable", zap.Error(err))
		}
	}
	return st
}

func senderName(msgs []models.ChatMessage, id string) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].SenderID == id && msgs[i].SenderName != "" {
			return msgs[i].SenderName
		}
	}
	return "Match"
}

func lastText(msgs []models.ChatMessage) string {
	if len(msgs) == 0 {
		return ""
	}
	return msgs[len(msgs)-1].Text
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

var (
	_ Caches  = (*cache.Manager)(nil)
	_ Auditor = (*audit.Logger)(nil)
)
