// Package store persists users, conversations, suggestions and the other
// records the wingman service reads and writes. The same SQL runs on SQLite
// (modernc) and PostgreSQL (pgx); placeholders are written as ? and rebound
// for postgres.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/krishamaze/arin-bot-v2/pkg/config"
	"github.com/krishamaze/arin-bot-v2/pkg/models"
)

// ErrNotFound is returned when a keyed lookup matches no row.
var ErrNotFound = errors.New("not found")

// Store is the keyed CRUD surface used by the wingman service.
type Store interface {
	UpsertUser(ctx context.Context, u models.User) (*models.User, error)
	UserByPlatformID(ctx context.Context, platformID string) (*models.User, error)
	SetUserGender(ctx context.Context, userID, gender string) error

	EnsureConversation(ctx context.Context, botUserID, roomPath, conversationType string) (*models.Conversation, error)
	Conversation(ctx context.Context, id string) (*models.Conversation, error)
	LinkMatch(ctx context.Context, conversationID, matchUserID string) error

	Summary(ctx context.Context, botUserID, roomPath, userPlatformID string) (*models.RelationshipSummary, error)
	SaveSummary(ctx context.Context, botUserID, roomPath string, s models.RelationshipSummary) error

	SaveMessages(ctx context.Context, conversationID string, msgs []models.ChatMessage) error

	SaveSuggestion(ctx context.Context, rec models.SuggestionRecord) (string, error)
	Suggestion(ctx context.Context, id string) (*models.SuggestionRecord, error)

	Profile(ctx context.Context, id string) (*models.StrategyProfile, error)
	Profiles(ctx context.Context, botUserID string) ([]models.StrategyProfile, error)
	SaveProfile(ctx context.Context, p models.StrategyProfile) (string, error)
	DeleteProfile(ctx context.Context, id string) error

	SaveFeedback(ctx context.Context, f models.Feedback) (*models.Feedback, error)
	FeedbackMetrics(ctx context.Context, conversationID string) (*models.FeedbackMetrics, error)

	EnsureBot(ctx context.Context, platformID, username string, personality []byte) (*models.Bot, error)
	SaveEvents(ctx context.Context, botID, roomPath string, events []models.Event) error
	RecentEvents(ctx context.Context, botID, roomPath string, limit int) ([]models.Event, error)

	ActivePrompt(ctx context.Context, name string) (*models.PromptVersion, error)
	PromptVersion(ctx context.Context, name, version string) (*models.PromptVersion, error)
	SavePrompt(ctx context.Context, p models.PromptVersion) error

	Close() error
}

// SQLStore implements Store over database/sql.
type SQLStore struct {
	db       *sql.DB
	postgres bool
	now      func() time.Time
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	platform_id TEXT NOT NULL UNIQUE,
	display_name TEXT NOT NULL DEFAULT '',
	user_type TEXT NOT NULL,
	profile_data TEXT NOT NULL DEFAULT '{}',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS conversations (
	id TEXT PRIMARY KEY,
	bot_user_id TEXT NOT NULL,
	match_user_id TEXT,
	room_path TEXT NOT NULL,
	conversation_type TEXT NOT NULL,
	conversation_status TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	UNIQUE (bot_user_id, room_path)
)`,
	`CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	sender_type TEXT NOT NULL,
	sender_id TEXT NOT NULL DEFAULT '',
	sender_name TEXT NOT NULL DEFAULT '',
	message_text TEXT NOT NULL,
	message_type TEXT NOT NULL DEFAULT 'text',
	sent_at TIMESTAMP NOT NULL,
	created_at TIMESTAMP NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, sent_at)`,
	`CREATE TABLE IF NOT EXISTS relationship_summaries (
	bot_user_id TEXT NOT NULL,
	room_path TEXT NOT NULL,
	user_platform_id TEXT NOT NULL,
	user_display_name TEXT NOT NULL DEFAULT '',
	room_summary TEXT NOT NULL DEFAULT '',
	relationship_summary TEXT NOT NULL DEFAULT '',
	global_summary TEXT NOT NULL DEFAULT '',
	closeness_score DOUBLE PRECISION,
	interaction_count INTEGER,
	updated_at TIMESTAMP NOT NULL,
	PRIMARY KEY (bot_user_id, room_path, user_platform_id)
)`,
	`CREATE TABLE IF NOT EXISTS bot_suggestions (
	id TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	prompt_version TEXT NOT NULL,
	prompt_source TEXT NOT NULL,
	tone_level TEXT NOT NULL,
	prompt_context TEXT NOT NULL,
	response TEXT NOT NULL,
	model_used TEXT NOT NULL,
	fallback BOOLEAN NOT NULL DEFAULT FALSE,
	prompt_tokens INTEGER NOT NULL DEFAULT 0,
	completion_tokens INTEGER NOT NULL DEFAULT 0,
	total_tokens INTEGER NOT NULL DEFAULT 0,
	cached_tokens INTEGER NOT NULL DEFAULT 0,
	response_time_ms INTEGER NOT NULL DEFAULT 0,
	suggestion_used BOOLEAN NOT NULL DEFAULT FALSE,
	user_selected_index INTEGER,
	created_at TIMESTAMP NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_suggestions_conversation ON bot_suggestions(conversation_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS wingman_profiles (
	id TEXT PRIMARY KEY,
	bot_user_id TEXT NOT NULL,
	name TEXT NOT NULL,
	strategy TEXT NOT NULL,
	detection_rule TEXT NOT NULL DEFAULT '',
	priority INTEGER NOT NULL DEFAULT 0,
	is_default BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMP NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS suggestion_feedback (
	id TEXT PRIMARY KEY,
	suggestion_id TEXT NOT NULL,
	conversation_id TEXT NOT NULL,
	selected_index INTEGER,
	user_modified BOOLEAN NOT NULL DEFAULT FALSE,
	outcome_score INTEGER,
	match_response_time INTEGER,
	match_engagement INTEGER,
	notes TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_feedback_conversation ON suggestion_feedback(conversation_id)`,
	`CREATE TABLE IF NOT EXISTS bots (
	id TEXT PRIMARY KEY,
	platform_id TEXT NOT NULL UNIQUE,
	username TEXT NOT NULL,
	personality TEXT NOT NULL DEFAULT '{}',
	created_at TIMESTAMP NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS events (
	id TEXT PRIMARY KEY,
	bot_id TEXT NOT NULL,
	room_path TEXT NOT NULL,
	event_type TEXT NOT NULL,
	user_id TEXT NOT NULL DEFAULT '',
	username TEXT NOT NULL DEFAULT '',
	body TEXT NOT NULL DEFAULT '',
	event_ts BIGINT NOT NULL,
	created_at TIMESTAMP NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_events_room ON events(bot_id, room_path, event_ts)`,
	`CREATE TABLE IF NOT EXISTS prompts (
	name TEXT NOT NULL,
	version TEXT NOT NULL,
	content TEXT NOT NULL,
	is_active BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMP NOT NULL,
	PRIMARY KEY (name, version)
)`,
}

// Columns added after the first schema shipped.
var addedColumns = []struct {
	table, column, ddl string
}{
	{"users", "gender", `ALTER TABLE users ADD COLUMN gender TEXT NOT NULL DEFAULT 'unknown'`},
	{"bot_suggestions", "profile_id", `ALTER TABLE bot_suggestions ADD COLUMN profile_id TEXT NOT NULL DEFAULT ''`},
}

// Open connects to the configured database and runs migrations.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*SQLStore, error) {
	driverName := "sqlite"
	if cfg.Driver == "postgres" {
		driverName = "pgx"
	}
	db, err := sql.Open(driverName, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open store db: %w", err)
	}
	if driverName == "sqlite" {
		// Writers on one SQLite file serialise anyway.
		db.SetMaxOpenConns(1)
	}

	s := New(db, cfg.Driver)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an open database. driver is "sqlite" or "postgres".
func New(db *sql.DB, driver string) *SQLStore {
	return &SQLStore{
		db:       db,
		postgres: driver == "postgres",
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Migrate creates missing tables and columns.
func (s *SQLStore) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate store db: %w", err)
		}
	}
	for _, c := range addedColumns {
		if s.columnExists(ctx, c.table, c.column) {
			continue
		}
		if _, err := s.db.ExecContext(ctx, c.ddl); err != nil {
			return fmt.Errorf("add %s.%s column: %w", c.table, c.column, err)
		}
	}
	return nil
}

func (s *SQLStore) columnExists(ctx context.Context, table, column string) bool {
	return ColumnExists(ctx, s.db, s.Driver(), table, column)
}

// ColumnExists reports whether table has column. Lookup errors count as
// absent so the caller attempts the ALTER and surfaces the real error.
func ColumnExists(ctx context.Context, db *sql.DB, driver, table, column string) bool {
	if driver == "postgres" {
		var n int
		err := db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM information_schema.columns WHERE table_name = $1 AND column_name = $2`,
			table, column,
		).Scan(&n)
		return err == nil && n > 0
	}

	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false
	}
	defer rows.Close()
	for rows.Next() {
		var cid, notnull, pk int
		var name, ctype string
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return false
		}
		if name == column {
			return true
		}
	}
	return false
}

// DB exposes the handle so the usage tracker can share the connection.
func (s *SQLStore) DB() *sql.DB { return s.db }

// Driver reports "postgres" or "sqlite".
func (s *SQLStore) Driver() string {
	if s.postgres {
		return "postgres"
	}
	return "sqlite"
}

// Close releases the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) rebind(query string) string {
	if !s.postgres {
		return query
	}
	return Rebind(query)
}

// Rebind rewrites ? placeholders as $1, $2, ... Queries never carry a
// literal question mark.
func Rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] != '?' {
			b.WriteByte(query[i])
			continue
		}
		n++
		b.WriteByte('$')
		b.WriteString(strconv.Itoa(n))
	}
	return b.String()
}

func (s *SQLStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(query), args...)
}

func (s *SQLStore) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.rebind(query), args...)
}

func (s *SQLStore) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.rebind(query), args...)
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func jsonText(raw []byte) string {
	if len(raw) == 0 {
		return "{}"
	}
	return string(raw)
}
