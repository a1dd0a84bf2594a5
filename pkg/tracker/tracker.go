package tracker

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/krishamaze/arin-bot-v2/pkg/models"
	"github.com/krishamaze/arin-bot-v2/pkg/store"
)

// Tracker records and queries token usage per user.
type Tracker interface {
	// Record stores a usage record.
	Record(ctx context.Context, rec models.UsageRecord) error
	// QueryByUser returns a user's records since a given time, newest first.
	QueryByUser(ctx context.Context, userID string, since time.Time) ([]models.UsageRecord, error)
	// TotalByUser returns total tokens used by a user since a given time.
	TotalByUser(ctx context.Context, userID string, since time.Time) (int64, error)
	// TotalByUserAndModel returns total tokens used by a user on one model since a given time.
	TotalByUserAndModel(ctx context.Context, userID, model string, since time.Time) (int64, error)
	// Summary returns usage grouped by user and model, optionally filtered by user.
	Summary(ctx context.Context, userID string) ([]models.UsageSummary, error)
	// CostReport returns token totals grouped by provider and model since a given time.
	CostReport(ctx context.Context, since time.Time) ([]models.CostReport, error)
}

// SQLTracker implements Tracker on the service database.
type SQLTracker struct {
	db     *sql.DB
	driver string
}

const createTable = `
CREATE TABLE IF NOT EXISTS usage_records (
	id %s,
	user_id TEXT NOT NULL,
	conversation_id TEXT NOT NULL DEFAULT '',
	provider TEXT NOT NULL,
	model TEXT NOT NULL,
	prompt_tokens INTEGER NOT NULL,
	completion_tokens INTEGER NOT NULL,
	total_tokens INTEGER NOT NULL,
	fallback BOOLEAN NOT NULL DEFAULT FALSE,
	latency_ms INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL
)`

const createIndex = `CREATE INDEX IF NOT EXISTS idx_usage_user_time ON usage_records(user_id, created_at)`

// New creates a SQLTracker over an open database and runs auto-migration.
// driver is "sqlite" or "postgres".
func New(ctx context.Context, db *sql.DB, driver string) (*SQLTracker, error) {
	idType := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if driver == "postgres" {
		idType = "BIGSERIAL PRIMARY KEY"
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf(createTable, idType)); err != nil {
		return nil, fmt.Errorf("migrate tracker db: %w", err)
	}
	if _, err := db.ExecContext(ctx, createIndex); err != nil {
		return nil, fmt.Errorf("migrate tracker db: %w", err)
	}

	// Cached prompt tokens were tracked later.
	if !store.ColumnExists(ctx, db, driver, "usage_records", "cached_tokens") {
		if _, err := db.ExecContext(ctx, `ALTER TABLE usage_records ADD COLUMN cached_tokens INTEGER NOT NULL DEFAULT 0`); err != nil {
			return nil, fmt.Errorf("add cached_tokens column: %w", err)
		}
	}

	return &SQLTracker{db: db, driver: driver}, nil
}

func (t *SQLTracker) rebind(q string) string {
	if t.driver == "postgres" {
		return store.Rebind(q)
	}
	return q
}

// Record stores a usage record.
func (t *SQLTracker) Record(ctx context.Context, rec models.UsageRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := t.db.ExecContext(ctx, t.rebind(
		`INSERT INTO usage_records (user_id, conversation_id, provider, model, prompt_tokens, completion_tokens, total_tokens, cached_tokens, fallback, latency_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		rec.UserID, rec.ConversationID, string(rec.Provider), rec.Model, rec.PromptTokens, rec.CompletionTokens, rec.TotalTokens,
		rec.CachedTokens, rec.Fallback, rec.LatencyMs, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

// QueryByUser returns usage records for a user since a given time.
func (t *SQLTracker) QueryByUser(ctx context.Context, userID string, since time.Time) ([]models.UsageRecord, error) {
	rows, err := t.db.QueryContext(ctx, t.rebind(
		`SELECT id, user_id, conversation_id, provider, model, prompt_tokens, completion_tokens, total_tokens, cached_tokens, fallback, latency_ms, created_at
		 FROM usage_records WHERE user_id = ? AND created_at >= ? ORDER BY created_at DESC`),
		userID, since,
	)
	if err != nil {
		return nil, fmt.Errorf("query usage: %w", err)
	}
	defer rows.Close()

	var records []models.UsageRecord
	for rows.Next() {
		var r models.UsageRecord
		var provider string
		if err := rows.Scan(&r.ID, &r.UserID, &r.ConversationID, &provider, &r.Model, &r.PromptTokens, &r.CompletionTokens,
			&r.TotalTokens, &r.CachedTokens, &r.Fallback, &r.LatencyMs, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan usage: %w", err)
		}
		r.Provider = models.ProviderType(provider)
		records = append(records, r)
	}
	return records, rows.Err()
}

// TotalByUser returns total tokens used by a user since a given time.
func (t *SQLTracker) TotalByUser(ctx context.Context, userID string, since time.Time) (int64, error) {
	var total int64
	err := t.db.QueryRowContext(ctx, t.rebind(
		`SELECT COALESCE(SUM(total_tokens), 0) FROM usage_records WHERE user_id = ? AND created_at >= ?`),
		userID, since,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("total usage: %w", err)
	}
	return total, nil
}

// TotalByUserAndModel returns total tokens used by a user and model since a given time.
func (t *SQLTracker) TotalByUserAndModel(ctx context.Context, userID, model string, since time.Time) (int64, error) {
	var total int64
	err := t.db.QueryRowContext(ctx, t.rebind(
		`SELECT COALESCE(SUM(total_tokens), 0) FROM usage_records WHERE user_id = ? AND model = ? AND created_at >= ?`),
		userID, model, since,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("total usage by model: %w", err)
	}
	return total, nil
}

// Summary returns aggregated usage grouped by user and model.
func (t *SQLTracker) Summary(ctx context.Context, userID string) ([]models.UsageSummary, error) {
	query := `SELECT user_id, model, COUNT(*),
		SUM(CASE WHEN fallback THEN 1 ELSE 0 END),
		SUM(prompt_tokens), SUM(completion_tokens), SUM(cached_tokens), SUM(total_tokens),
		CAST(AVG(latency_ms) AS BIGINT)
		FROM usage_records`
	var args []any
	if userID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	query += ` GROUP BY user_id, model ORDER BY user_id, model`

	rows, err := t.db.QueryContext(ctx, t.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("summary: %w", err)
	}
	defer rows.Close()

	var summaries []models.UsageSummary
	for rows.Next() {
		var s models.UsageSummary
		if err := rows.Scan(&s.UserID, &s.Model, &s.RequestCount, &s.FallbackCount, &s.TotalPrompt, &s.TotalCompletion,
			&s.TotalCached, &s.TotalTokens, &s.AvgLatencyMs); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

// CostReport returns token totals by provider and model since a given time.
// EstimatedCost is left for the caller to fill from its price list.
func (t *SQLTracker) CostReport(ctx context.Context, since time.Time) ([]models.CostReport, error) {
	rows, err := t.db.QueryContext(ctx, t.rebind(
		`SELECT provider, model, COUNT(*), SUM(prompt_tokens), SUM(completion_tokens), SUM(cached_tokens), SUM(total_tokens)
		 FROM usage_records WHERE created_at >= ?
		 GROUP BY provider, model ORDER BY provider, model`),
		since,
	)
	if err != nil {
		return nil, fmt.Errorf("cost report: %w", err)
	}
	defer rows.Close()

	var reports []models.CostReport
	for rows.Next() {
		var r models.CostReport
		var provider string
		if err := rows.Scan(&provider, &r.Model, &r.RequestCount, &r.PromptTokens, &r.CompletionTokens, &r.CachedTokens, &r.TotalTokens); err != nil {
			return nil, fmt.Errorf("scan cost report: %w", err)
		}
		r.Provider = models.ProviderType(provider)
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

// ApplyPricing fills EstimatedCost from per-1K token prices. Cached prompt
// tokens are billed at CachedDiscount of the prompt price.
func ApplyPricing(reports []models.CostReport, pricing []models.ModelPricing) {
	byModel := make(map[string]models.ModelPricing, len(pricing))
	for _, p := range pricing {
		byModel[p.Model] = p
	}
	for i := range reports {
		p, ok := byModel[reports[i].Model]
		if !ok {
			continue
		}
		uncached := reports[i].PromptTokens - reports[i].CachedTokens
		if uncached < 0 {
			uncached = 0
		}
		reports[i].EstimatedCost = (float64(uncached)/1000)*p.PromptCost +
			(float64(reports[i].CachedTokens)/1000)*p.PromptCost*p.CachedDiscount +
			(float64(reports[i].CompletionTokens)/1000)*p.CompletionCost
	}
}
