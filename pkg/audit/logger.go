// Package audit keeps a queryable log of orchestrated generations: which
// models were tried, how each attempt ended and, when configured, the prompt
// and response text.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/krishamaze/arin-bot-v2/pkg/config"
	"github.com/krishamaze/arin-bot-v2/pkg/logging"
	"github.com/krishamaze/arin-bot-v2/pkg/models"
	"github.com/krishamaze/arin-bot-v2/pkg/store"
)

// Logger writes and queries audit entries in the service database.
type Logger struct {
	db       *sql.DB
	postgres bool
	cfg      config.AuditConfig
	log      *zap.Logger
	include  map[string]bool
	exclude  map[string]bool

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

const createTable = `
CREATE TABLE IF NOT EXISTS generation_audit (
	request_id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	user_id TEXT NOT NULL,
	conversation_id TEXT NOT NULL DEFAULT '',
	prompt_version TEXT NOT NULL DEFAULT '',
	model TEXT NOT NULL DEFAULT '',
	provider TEXT NOT NULL DEFAULT '',
	fallback BOOLEAN NOT NULL DEFAULT FALSE,
	repair_stage TEXT NOT NULL DEFAULT '',
	attempts TEXT NOT NULL DEFAULT '[]',
	prompt TEXT NOT NULL DEFAULT '',
	response TEXT NOT NULL DEFAULT '',
	error TEXT NOT NULL DEFAULT '',
	prompt_tokens INTEGER NOT NULL DEFAULT 0,
	completion_tokens INTEGER NOT NULL DEFAULT 0,
	total_tokens INTEGER NOT NULL DEFAULT 0,
	latency_ms INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL
)`

var indexes = []string{
	`CREATE INDEX IF NOT EXISTS idx_audit_created ON generation_audit(created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_user ON generation_audit(user_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_conversation ON generation_audit(conversation_id)`,
}

// New creates the audit table if needed. driver is "sqlite" or "postgres".
// Call Start to run the retention loop.
func New(ctx context.Context, db *sql.DB, driver string, cfg config.AuditConfig, log *zap.Logger) (*Logger, error) {
	for _, stmt := range append([]string{createTable}, indexes...) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("migrate audit table: %w", err)
		}
	}

	l := &Logger{
		db:       db,
		postgres: driver == "postgres",
		cfg:      cfg,
		log:      logging.OrNop(log).Named("audit"),
		include:  make(map[string]bool, len(cfg.Include)),
		exclude:  make(map[string]bool, len(cfg.ExcludeModels)),
		done:     make(chan struct{}),
	}
	for _, v := range cfg.Include {
		l.include[v] = true
	}
	for _, v := range cfg.ExcludeModels {
		l.exclude[v] = true
	}
	return l, nil
}

func (l *Logger) rebind(q string) string {
	if l.postgres {
		return store.Rebind(q)
	}
	return q
}

// Log inserts an entry, dropping prompt and response text unless included.
func (l *Logger) Log(ctx context.Context, e models.AuditEntry) error {
	if l == nil || l.db == nil {
		return nil
	}
	if e.Model != "" && l.exclude[e.Model] {
		return nil
	}
	if e.RequestID == "" {
		e.RequestID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	prompt, response := "", ""
	if l.include["prompts"] {
		prompt = truncate(e.Prompt, l.cfg.MaxBodySize)
	}
	if l.include["responses"] {
		response = truncate(e.Response, l.cfg.MaxBodySize)
	}
	attempts, err := json.Marshal(e.Attempts)
	if err != nil {
		return fmt.Errorf("encode attempts: %w", err)
	}
	if e.Attempts == nil {
		attempts = []byte("[]")
	}

	_, err = l.db.ExecContext(ctx, l.rebind(
		`INSERT INTO generation_audit
		(request_id, kind, user_id, conversation_id, prompt_version, model, provider, fallback,
		 repair_stage, attempts, prompt, response, error,
		 prompt_tokens, completion_tokens, total_tokens, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (request_id) DO NOTHING`),
		e.RequestID, e.Kind, e.UserID, e.ConversationID, e.PromptVersion, e.Model, e.Provider, e.Fallback,
		e.RepairStage, string(attempts), prompt, response, e.Error,
		e.PromptTokens, e.CompletionTokens, e.TotalTokens, e.LatencyMs, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// truncate cuts s to at most max bytes without splitting a rune. max <= 0
// keeps everything.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// Query returns entries matching opts, newest first.
func (l *Logger) Query(ctx context.Context, opts models.AuditQueryOpts) ([]models.AuditEntry, error) {
	q := `SELECT request_id, kind, user_id, conversation_id, prompt_version, model, provider, fallback,
		repair_stage, attempts, prompt, response, error,
		prompt_tokens, completion_tokens, total_tokens, latency_ms, created_at
		FROM generation_audit WHERE 1=1`
	var args []any

	if opts.RequestID != "" {
		q += " AND request_id = ?"
		args = append(args, opts.RequestID)
	}
	if opts.UserID != "" {
		q += " AND user_id = ?"
		args = append(args, opts.UserID)
	}
	if opts.ConversationID != "" {
		q += " AND conversation_id = ?"
		args = append(args, opts.ConversationID)
	}
	if opts.Model != "" {
		q += " AND model = ?"
		args = append(args, opts.Model)
	}
	if !opts.Since.IsZero() {
		q += " AND created_at >= ?"
		args = append(args, opts.Since)
	}
	if opts.FailedOnly {
		q += " AND error <> ''"
	}

	q += " ORDER BY created_at DESC"

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	q += " LIMIT ?"
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, l.rebind(q), args...)
	if err != nil {
		return nil, fmt.Errorf("query audit: %w", err)
	}
	defer rows.Close()

	var entries []models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		var attempts string
		if err := rows.Scan(
			&e.RequestID, &e.Kind, &e.UserID, &e.ConversationID, &e.PromptVersion, &e.Model, &e.Provider, &e.Fallback,
			&e.RepairStage, &attempts, &e.Prompt, &e.Response, &e.Error,
			&e.PromptTokens, &e.CompletionTokens, &e.TotalTokens, &e.LatencyMs, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		if err := json.Unmarshal([]byte(attempts), &e.Attempts); err != nil {
			l.log.Warn("bad attempts column", zap.String("request_id", e.RequestID), zap.Error(err))
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Stats returns entry and failure counts grouped by model and UTC day.
func (l *Logger) Stats(ctx context.Context) ([]models.AuditStat, error) {
	day := "date(created_at)"
	if l.postgres {
		day = "to_char(created_at, 'YYYY-MM-DD')"
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT model, `+day+` AS day, COUNT(*),
		 SUM(CASE WHEN error <> '' THEN 1 ELSE 0 END)
		 FROM generation_audit GROUP BY model, day ORDER BY day DESC, model`)
	if err != nil {
		return nil, fmt.Errorf("audit stats: %w", err)
	}
	defer rows.Close()

	var stats []models.AuditStat
	for rows.Next() {
		var s models.AuditStat
		var day sql.NullString
		if err := rows.Scan(&s.Model, &day, &s.Count, &s.Failures); err != nil {
			return nil, fmt.Errorf("scan audit stat: %w", err)
		}
		s.Day = day.String
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// Cleanup deletes entries older than the retention period. A period of zero
// keeps everything.
func (l *Logger) Cleanup(ctx context.Context) (int64, error) {
	if l.cfg.RetentionDays <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -l.cfg.RetentionDays)
	res, err := l.db.ExecContext(ctx, l.rebind(`DELETE FROM generation_audit WHERE created_at < ?`), cutoff)
	if err != nil {
		return 0, fmt.Errorf("audit cleanup: %w", err)
	}
	return res.RowsAffected()
}

// Start runs Cleanup every interval until Close.
func (l *Logger) Start(interval time.Duration) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-l.done:
				return
			case <-ticker.C:
				n, err := l.Cleanup(context.Background())
				if err != nil {
					l.log.Warn("audit cleanup failed", zap.Error(err))
				} else if n > 0 {
					l.log.Info("audit entries expired", zap.Int64("deleted", n))
				}
			}
		}
	}()
}

// Close stops the retention loop. The database belongs to the caller.
func (l *Logger) Close() error {
	l.stopOnce.Do(func() { close(l.done) })
	l.wg.Wait()
	return nil
}
