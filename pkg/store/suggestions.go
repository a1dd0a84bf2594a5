package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/krishamaze/arin-bot-v2/pkg/models"
)

// SaveSuggestion stores a generation result and returns its id.
func (s *SQLStore) SaveSuggestion(ctx context.Context, rec models.SuggestionRecord) (string, error) {
	resp, err := json.Marshal(rec.Response)
	if err != nil {
		return "", fmt.Errorf("encode suggestion: %w", err)
	}
	id := rec.ID
	if id == "" {
		id = uuid.NewString()
	}
	created := rec.CreatedAt
	if created.IsZero() {
		created = s.now()
	}

	_, err = s.exec(ctx,
		`INSERT INTO bot_suggestions
		   (id, conversation_id, prompt_version, prompt_source, tone_level, profile_id, prompt_context, response, model_used, fallback,
		    prompt_tokens, completion_tokens, total_tokens, cached_tokens, response_time_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, rec.ConversationID, rec.PromptVersion, rec.PromptSource, rec.ToneLevel, rec.ProfileID, jsonText(rec.Context), string(resp), rec.Model, rec.Fallback,
		rec.Usage.PromptTokens, rec.Usage.CompletionTokens, rec.Usage.TotalTokens, rec.Usage.CachedTokens, rec.LatencyMs, created,
	)
	if err != nil {
		return "", fmt.Errorf("save suggestion: %w", err)
	}
	return id, nil
}

// Suggestion returns ErrNotFound for unknown ids.
func (s *SQLStore) Suggestion(ctx context.Context, id string) (*models.SuggestionRecord, error) {
	var rec models.SuggestionRecord
	var promptCtx, resp string
	err := s.queryRow(ctx,
		`SELECT id, conversation_id, prompt_version, prompt_source, tone_level, profile_id, prompt_context, response, model_used, fallback,
		        prompt_tokens, completion_tokens, total_tokens, cached_tokens, response_time_ms, created_at
		 FROM bot_suggestions WHERE id = ?`, id,
	).Scan(&rec.ID, &rec.ConversationID, &rec.PromptVersion, &rec.PromptSource, &rec.ToneLevel, &rec.ProfileID, &promptCtx, &resp, &rec.Model, &rec.Fallback,
		&rec.Usage.PromptTokens, &rec.Usage.CompletionTokens, &rec.Usage.TotalTokens, &rec.Usage.CachedTokens, &rec.LatencyMs, &rec.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("get suggestion %s: %w", id, notFound(err))
	}
	rec.Context = []byte(promptCtx)
	if err := json.Unmarshal([]byte(resp), &rec.Response); err != nil {
		return nil, fmt.Errorf("decode suggestion %s: %w", id, err)
	}
	return &rec, nil
}

const profileColumns = `id, bot_user_id, name, strategy, detection_rule, priority, is_default, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanProfile(sc scanner) (*models.StrategyProfile, error) {
	var p models.StrategyProfile
	if err := sc.Scan(&p.ID, &p.BotUserID, &p.Name, &p.Strategy, &p.DetectionRule, &p.Priority, &p.IsDefault, &p.CreatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

// Profile returns ErrNotFound for unknown ids.
func (s *SQLStore) Profile(ctx context.Context, id string) (*models.StrategyProfile, error) {
	p, err := scanProfile(s.queryRow(ctx, `SELECT `+profileColumns+` FROM wingman_profiles WHERE id = ?`, id))
	if err != nil {
		return nil, fmt.Errorf("get profile %s: %w", id, notFound(err))
	}
	return p, nil
}

// Profiles lists a bot owner's profiles, highest priority first.
func (s *SQLStore) Profiles(ctx context.Context, botUserID string) ([]models.StrategyProfile, error) {
	rows, err := s.query(ctx,
		`SELECT `+profileColumns+` FROM wingman_profiles WHERE bot_user_id = ? ORDER BY priority DESC, created_at ASC`,
		botUserID,
	)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	defer rows.Close()

	var out []models.StrategyProfile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// SaveProfile inserts a profile, or replaces it when the id exists.
func (s *SQLStore) SaveProfile(ctx context.Context, p models.StrategyProfile) (string, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now()
	}
	_, err := s.exec(ctx,
		`INSERT INTO wingman_profiles (`+profileColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   name = excluded.name,
		   strategy = excluded.strategy,
		   detection_rule = excluded.detection_rule,
		   priority = excluded.priority,
		   is_default = excluded.is_default`,
		p.ID, p.BotUserID, p.Name, p.Strategy, p.DetectionRule, p.Priority, p.IsDefault, p.CreatedAt,
	)
	if err != nil {
		return "", fmt.Errorf("save profile: %w", err)
	}
	return p.ID, nil
}

// DeleteProfile returns ErrNotFound for unknown ids.
func (s *SQLStore) DeleteProfile(ctx context.Context, id string) error {
	res, err := s.exec(ctx, `DELETE FROM wingman_profiles WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete profile: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("delete profile %s: %w", id, ErrNotFound)
	}
	return nil
}

// SaveFeedback records feedback and marks the suggestion as used.
func (s *SQLStore) SaveFeedback(ctx context.Context, f models.Feedback) (*models.Feedback, error) {
	f.ID = uuid.NewString()
	f.CreatedAt = s.now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("save feedback: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, s.rebind(
		`INSERT INTO suggestion_feedback
		   (id, suggestion_id, conversation_id, selected_index, user_modified, outcome_score, match_response_time, match_engagement, notes, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		f.ID, f.SuggestionID, f.ConversationID, nullInt(f.SelectedIndex), f.UserModified, nullInt(f.OutcomeScore),
		nullInt64(f.MatchResponseTime), nullInt(f.MatchEngagement), f.Notes, f.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("save feedback: %w", err)
	}

	_, err = tx.ExecContext(ctx, s.rebind(
		`UPDATE bot_suggestions SET suggestion_used = ?, user_selected_index = ? WHERE id = ?`),
		true, nullInt(f.SelectedIndex), f.SuggestionID,
	)
	if err != nil {
		return nil, fmt.Errorf("mark suggestion used: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("save feedback: %w", err)
	}
	return &f, nil
}

// FeedbackMetrics aggregates all feedback for a conversation. A
// conversation without feedback yields zero metrics.
func (s *SQLStore) FeedbackMetrics(ctx context.Context, conversationID string) (*models.FeedbackMetrics, error) {
	m := models.FeedbackMetrics{ConversationID: conversationID}
	var modified sql.NullInt64
	var outcome, engagement, response sql.NullFloat64
	err := s.queryRow(ctx,
		`SELECT COUNT(*), COUNT(selected_index),
		        SUM(CASE WHEN user_modified THEN 1 ELSE 0 END),
		        AVG(CAST(outcome_score AS DOUBLE PRECISION)),
		        AVG(CAST(match_engagement AS DOUBLE PRECISION)),
		        AVG(CAST(match_response_time AS DOUBLE PRECISION))
		 FROM suggestion_feedback WHERE conversation_id = ?`, conversationID,
	).Scan(&m.TotalFeedback, &m.Accepted, &modified, &outcome, &engagement, &response)
	if err != nil {
		return nil, fmt.Errorf("feedback metrics: %w", err)
	}
	m.Modified = int(modified.Int64)
	m.AvgOutcomeScore = outcome.Float64
	m.AvgEngagement = engagement.Float64
	m.AvgResponseTime = response.Float64
	if m.TotalFeedback > 0 {
		m.AcceptanceRate = float64(m.Accepted) / float64(m.TotalFeedback)
	}
	return &m, nil
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
