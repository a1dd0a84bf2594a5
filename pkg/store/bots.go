package store

import (
	"context"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/krishamaze/arin-bot-v2/pkg/models"
)

// EnsureBot returns the chat bot for platformID, creating it with the given
// personality on first sight.
func (s *SQLStore) EnsureBot(ctx context.Context, platformID, username string, personality []byte) (*models.Bot, error) {
	_, err := s.exec(ctx,
		`INSERT INTO bots (id, platform_id, username, personality, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (platform_id) DO NOTHING`,
		uuid.NewString(), platformID, username, jsonText(personality), s.now(),
	)
	if err != nil {
		return nil, fmt.Errorf("ensure bot %s: %w", platformID, err)
	}

	var b models.Bot
	var p string
	err = s.queryRow(ctx,
		`SELECT id, platform_id, username, personality, created_at FROM bots WHERE platform_id = ?`, platformID,
	).Scan(&b.ID, &b.PlatformID, &b.Username, &p, &b.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("get bot %s: %w", platformID, notFound(err))
	}
	b.Personality = []byte(p)
	return &b, nil
}

// SaveEvents stores room events seen by a bot.
func (s *SQLStore) SaveEvents(ctx context.Context, botID, roomPath string, events []models.Event) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save events: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, s.rebind(
		`INSERT INTO events (id, bot_id, room_path, event_type, user_id, username, body, event_ts, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`))
	if err != nil {
		return fmt.Errorf("save events: %w", err)
	}
	defer stmt.Close()

	now := s.now()
	for _, e := range events {
		if _, err := stmt.ExecContext(ctx, uuid.NewString(), botID, roomPath, e.Type, e.UserID, e.Username, e.Text, e.Timestamp, now); err != nil {
			return fmt.Errorf("save event: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save events: %w", err)
	}
	return nil
}

// RecentEvents returns the newest limit events of a room, oldest first.
func (s *SQLStore) RecentEvents(ctx context.Context, botID, roomPath string, limit int) ([]models.Event, error) {
	rows, err := s.query(ctx,
		`SELECT id, bot_id, room_path, event_type, user_id, username, body, event_ts, created_at
		 FROM events WHERE bot_id = ? AND room_path = ?
		 ORDER BY event_ts DESC, created_at DESC LIMIT ?`,
		botID, roomPath, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("recent events: %w", err)
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		var e models.Event
		if err := rows.Scan(&e.ID, &e.BotID, &e.RoomPath, &e.Type, &e.UserID, &e.Username, &e.Text, &e.Timestamp, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.Reverse(events)
	return events, nil
}

const promptColumns = `name, version, content, is_active, created_at`

// ActivePrompt returns the newest active version of a prompt.
func (s *SQLStore) ActivePrompt(ctx context.Context, name string) (*models.PromptVersion, error) {
	var p models.PromptVersion
	err := s.queryRow(ctx,
		`SELECT `+promptColumns+` FROM prompts WHERE name = ? AND is_active = ? ORDER BY created_at DESC LIMIT 1`,
		name, true,
	).Scan(&p.Name, &p.Version, &p.Content, &p.Active, &p.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("active prompt %s: %w", name, notFound(err))
	}
	return &p, nil
}

// PromptVersion returns one exact version of a prompt.
func (s *SQLStore) PromptVersion(ctx context.Context, name, version string) (*models.PromptVersion, error) {
	var p models.PromptVersion
	err := s.queryRow(ctx,
		`SELECT `+promptColumns+` FROM prompts WHERE name = ? AND version = ?`,
		name, version,
	).Scan(&p.Name, &p.Version, &p.Content, &p.Active, &p.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("prompt %s@%s: %w", name, version, notFound(err))
	}
	return &p, nil
}

// SavePrompt writes a prompt version. Saving an active version deactivates
// the others of the same name.
func (s *SQLStore) SavePrompt(ctx context.Context, p models.PromptVersion) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save prompt: %w", err)
	}
	defer tx.Rollback()

	if p.Active {
		if _, err := tx.ExecContext(ctx, s.rebind(`UPDATE prompts SET is_active = ? WHERE name = ?`), false, p.Name); err != nil {
			return fmt.Errorf("deactivate prompts: %w", err)
		}
	}
	_, err = tx.ExecContext(ctx, s.rebind(
		`INSERT INTO prompts (`+promptColumns+`) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (name, version) DO UPDATE SET content = excluded.content, is_active = excluded.is_active`),
		p.Name, p.Version, p.Content, p.Active, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save prompt: %w", err)
	}
	return tx.Commit()
}
