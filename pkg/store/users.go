package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/krishamaze/arin-bot-v2/pkg/models"
)

// Gender values stored on users.
const (
	GenderUnknown = "unknown"
	GenderFemale  = "female"
	GenderMale    = "male"
)

// Conversation statuses.
const (
	StatusPending = "pending"
	StatusActive  = "active"
)

const userColumns = `id, platform_id, display_name, user_type, gender, profile_data, created_at, updated_at`

// UpsertUser creates the user or refreshes the display name of an existing
// one. Type and profile data of an existing user are kept.
func (s *SQLStore) UpsertUser(ctx context.Context, u models.User) (*models.User, error) {
	now := s.now()
	_, err := s.exec(ctx,
		`INSERT INTO users (id, platform_id, display_name, user_type, gender, profile_data, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (platform_id) DO UPDATE SET
		   display_name = CASE WHEN excluded.display_name <> '' THEN excluded.display_name ELSE users.display_name END,
		   updated_at = excluded.updated_at`,
		uuid.NewString(), u.PlatformID, u.DisplayName, string(u.Type), GenderUnknown, jsonText(u.ProfileData), now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert user %s: %w", u.PlatformID, err)
	}
	return s.UserByPlatformID(ctx, u.PlatformID)
}

// UserByPlatformID returns ErrNotFound for unknown platform ids.
func (s *SQLStore) UserByPlatformID(ctx context.Context, platformID string) (*models.User, error) {
	var u models.User
	var typ, profile string
	err := s.queryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE platform_id = ?`, platformID,
	).Scan(&u.ID, &u.PlatformID, &u.DisplayName, &typ, &u.Gender, &profile, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", platformID, notFound(err))
	}
	u.Type = models.UserType(typ)
	u.ProfileData = []byte(profile)
	return &u, nil
}

// SetUserGender records a detected gender.
func (s *SQLStore) SetUserGender(ctx context.Context, userID, gender string) error {
	_, err := s.exec(ctx,
		`UPDATE users SET gender = ?, updated_at = ? WHERE id = ?`,
		gender, s.now(), userID,
	)
	if err != nil {
		return fmt.Errorf("set gender: %w", err)
	}
	return nil
}

const conversationColumns = `id, bot_user_id, match_user_id, room_path, conversation_type, conversation_status, created_at, updated_at`

// EnsureConversation returns the conversation for (botUserID, roomPath),
// creating a pending one when none exists.
func (s *SQLStore) EnsureConversation(ctx context.Context, botUserID, roomPath, conversationType string) (*models.Conversation, error) {
	if conversationType == "" {
		conversationType = models.ConversationOneOnOne
	}
	now := s.now()
	_, err := s.exec(ctx,
		`INSERT INTO conversations (id, bot_user_id, match_user_id, room_path, conversation_type, conversation_status, created_at, updated_at)
		 VALUES (?, ?, NULL, ?, ?, ?, ?, ?)
		 ON CONFLICT (bot_user_id, room_path) DO UPDATE SET updated_at = excluded.updated_at`,
		uuid.NewString(), botUserID, roomPath, conversationType, StatusPending, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("ensure conversation %s: %w", roomPath, err)
	}

	row := s.queryRow(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE bot_user_id = ? AND room_path = ?`,
		botUserID, roomPath,
	)
	c, err := scanConversation(row)
	if err != nil {
		return nil, fmt.Errorf("get conversation %s: %w", roomPath, notFound(err))
	}
	return c, nil
}

// Conversation returns ErrNotFound for unknown ids.
func (s *SQLStore) Conversation(ctx context.Context, id string) (*models.Conversation, error) {
	row := s.queryRow(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id)
	c, err := scanConversation(row)
	if err != nil {
		return nil, fmt.Errorf("get conversation %s: %w", id, notFound(err))
	}
	return c, nil
}

// LinkMatch sets the match user and activates the conversation.
func (s *SQLStore) LinkMatch(ctx context.Context, conversationID, matchUserID string) error {
	res, err := s.exec(ctx,
		`UPDATE conversations SET match_user_id = ?, conversation_status = ?, updated_at = ? WHERE id = ?`,
		matchUserID, StatusActive, s.now(), conversationID,
	)
	if err != nil {
		return fmt.Errorf("link match: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("link match %s: %w", conversationID, ErrNotFound)
	}
	return nil
}

func scanConversation(row *sql.Row) (*models.Conversation, error) {
	var c models.Conversation
	var match sql.NullString
	if err := row.Scan(&c.ID, &c.BotUserID, &match, &c.RoomPath, &c.Type, &c.Status, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.MatchUserID = match.String
	return &c, nil
}

// Summary returns the relationship summary a bot owner has for one
// participant of a room.
func (s *SQLStore) Summary(ctx context.Context, botUserID, roomPath, userPlatformID string) (*models.RelationshipSummary, error) {
	var r models.RelationshipSummary
	var closeness sql.NullFloat64
	var interactions sql.NullInt64
	err := s.queryRow(ctx,
		`SELECT user_platform_id, user_display_name, room_summary, relationship_summary, global_summary, closeness_score, interaction_count
		 FROM relationship_summaries WHERE bot_user_id = ? AND room_path = ? AND user_platform_id = ?`,
		botUserID, roomPath, userPlatformID,
	).Scan(&r.UserPlatformID, &r.DisplayName, &r.RoomSummary, &r.Relationship, &r.GlobalSummary, &closeness, &interactions)
	if err != nil {
		return nil, fmt.Errorf("get summary: %w", notFound(err))
	}
	if closeness.Valid {
		v := closeness.Float64
		r.ClosenessScore = &v
	}
	if interactions.Valid {
		v := int(interactions.Int64)
		r.InteractionCount = &v
	}
	return &r, nil
}

// SaveSummary writes or replaces a relationship summary.
func (s *SQLStore) SaveSummary(ctx context.Context, botUserID, roomPath string, r models.RelationshipSummary) error {
	var closeness sql.NullFloat64
	if r.ClosenessScore != nil {
		closeness = sql.NullFloat64{Float64: *r.ClosenessScore, Valid: true}
	}
	var interactions sql.NullInt64
	if r.InteractionCount != nil {
		interactions = sql.NullInt64{Int64: int64(*r.InteractionCount), Valid: true}
	}
	_, err := s.exec(ctx,
		`INSERT INTO relationship_summaries
		   (bot_user_id, room_path, user_platform_id, user_display_name, room_summary, relationship_summary, global_summary, closeness_score, interaction_count, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (bot_user_id, room_path, user_platform_id) DO UPDATE SET
		   user_display_name = excluded.user_display_name,
		   room_summary = excluded.room_summary,
		   relationship_summary = excluded.relationship_summary,
		   global_summary = excluded.global_summary,
		   closeness_score = excluded.closeness_score,
		   interaction_count = excluded.interaction_count,
		   updated_at = excluded.updated_at`,
		botUserID, roomPath, r.UserPlatformID, r.DisplayName, r.RoomSummary, r.Relationship, r.GlobalSummary, closeness, interactions, s.now(),
	)
	if err != nil {
		return fmt.Errorf("save summary: %w", err)
	}
	return nil
}

// SaveMessages stores scraped chat lines in one transaction.
func (s *SQLStore) SaveMessages(ctx context.Context, conversationID string, msgs []models.ChatMessage) error {
	if len(msgs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save messages: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, s.rebind(
		`INSERT INTO messages (id, conversation_id, sender_type, sender_id, sender_name, message_text, message_type, sent_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`))
	if err != nil {
		return fmt.Errorf("save messages: %w", err)
	}
	defer stmt.Close()

	now := s.now()
	for _, m := range msgs {
		typ := m.MessageType
		if typ == "" {
			typ = "text"
		}
		sentAt := time.UnixMilli(m.Timestamp).UTC()
		if _, err := stmt.ExecContext(ctx, uuid.NewString(), conversationID, m.Sender, m.SenderID, m.SenderName, m.Text, typ, sentAt, now); err != nil {
			return fmt.Errorf("save message: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save messages: %w", err)
	}
	return nil
}
