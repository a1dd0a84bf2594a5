package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/krishamaze/arin-bot-v2/pkg/models"
)

// Store persists prompt cache handles in SQLite so they survive restarts.
type Store struct {
	db     *sql.DB
	hits   atomic.Int64
	misses atomic.Int64
}

const createHandleTable = `
CREATE TABLE IF NOT EXISTS cache_handles (
	cache_key TEXT PRIMARY KEY,
	model TEXT NOT NULL,
	ref TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	expires_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cache_handles_expires ON cache_handles(expires_at);
`

// New opens (or creates) the handle database at dbPath.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}

	if _, err := db.Exec(createHandleTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate cache db: %w", err)
	}

	return &Store{db: db}, nil
}

// Get returns the handle for key unless it is missing or expired at now.
func (s *Store) Get(key string, now time.Time) (*models.CacheHandle, bool) {
	h := models.CacheHandle{Key: key}
	var expiresAt int64

	err := s.db.QueryRow(
		`SELECT model, ref, created_at, expires_at FROM cache_handles WHERE cache_key = ?`,
		key,
	).Scan(&h.Model, &h.Ref, &h.CreatedAt, &expiresAt)
	if err != nil {
		s.misses.Add(1)
		return nil, false
	}

	h.ExpiresAt = time.UnixMilli(expiresAt)
	if h.Expired(now) {
		s.misses.Add(1)
		return nil, false
	}

	s.hits.Add(1)
	return &h, true
}

// Put stores or replaces a handle.
func (s *Store) Put(h *models.CacheHandle) error {
	if h == nil {
		return errors.New("cache put: nil handle")
	}
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO cache_handles (cache_key, model, ref, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?)`,
		h.Key, h.Model, h.Ref, h.CreatedAt.UTC(), h.ExpiresAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	return nil
}

// Invalidate removes the handle for key.
func (s *Store) Invalidate(key string) error {
	if _, err := s.db.Exec(`DELETE FROM cache_handles WHERE cache_key = ?`, key); err != nil {
		return fmt.Errorf("cache invalidate: %w", err)
	}
	return nil
}

// Prune removes handles expired at now and returns how many were removed.
func (s *Store) Prune(now time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM cache_handles WHERE expires_at <= ?`, now.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("cache prune: %w", err)
	}
	return res.RowsAffected()
}

// Stats returns handle counts and hit/miss metrics for this process.
func (s *Store) Stats() (models.CacheStats, error) {
	var stats models.CacheStats
	err := s.db.QueryRow(
		`SELECT COUNT(*), COALESCE(SUM(CASE WHEN expires_at <= ? THEN 1 ELSE 0 END), 0) FROM cache_handles`,
		time.Now().UnixMilli(),
	).Scan(&stats.Entries, &stats.Expired)
	if err != nil {
		return models.CacheStats{}, fmt.Errorf("cache stats: %w", err)
	}
	stats.Hits = s.hits.Load()
	stats.Misses = s.misses.Load()
	return stats, nil
}

// Clear removes every handle.
func (s *Store) Clear() error {
	if _, err := s.db.Exec(`DELETE FROM cache_handles`); err != nil {
		return fmt.Errorf("cache clear: %w", err)
	}
	return nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
