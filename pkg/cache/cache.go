// Package cache manages provider-side prompt caches: the system instruction
// and static profile text for a conversation pair are uploaded once and
// referenced by handle on later calls.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/krishamaze/arin-bot-v2/pkg/models"
)

// Backend creates and verifies cached content on the provider.
type Backend interface {
	Supports(model string) bool
	CreateCache(ctx context.Context, model, systemPrompt, staticContent string, ttl time.Duration) (string, error)
	CacheExists(ctx context.Context, model, ref string) (bool, error)
}

// Store keeps handles between requests. Get never returns a handle that is
// expired at now.
type Store interface {
	Get(key string, now time.Time) (*models.CacheHandle, bool)
	Put(h *models.CacheHandle) error
	Invalidate(key string) error
	Prune(now time.Time) (int64, error)
	Stats() (models.CacheStats, error)
}

// Key scopes a handle to a model and a caller-chosen scope.
func Key(model, scopeKey string) string {
	return model + "|" + scopeKey
}

// Manager returns valid handles, creating them on demand. Failures are
// logged and reported as a nil handle so generation proceeds uncached.
type Manager struct {
	backend Backend
	store   Store
	log     *zap.Logger
	now     func() time.Time
}

// NewManager creates a Manager. A nil backend disables caching.
func NewManager(backend Backend, store Store, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	if store == nil {
		store = NewMemoryStore()
	}
	return &Manager{backend: backend, store: store, log: log.Named("cache"), now: time.Now}
}

// GetOrCreate returns a handle for (model, scopeKey), or nil when the model
// has no cache support or creation failed.
func (m *Manager) GetOrCreate(ctx context.Context, scopeKey, systemPrompt, staticContent, model string, ttl time.Duration) *models.CacheHandle {
	if m == nil || m.backend == nil || !m.backend.Supports(model) {
		return nil
	}
	key := Key(model, scopeKey)
	log := m.log.With(zap.String("key", key))

	if h, ok := m.store.Get(key, m.now()); ok && !h.Expired(m.now()) {
		exists, err := m.backend.CacheExists(ctx, model, h.Ref)
		if err == nil && exists {
			log.Debug("cache hit", zap.String("ref", h.Ref))
			return h
		}
		if err != nil {
			log.Warn("cache verify failed", zap.Error(err))
		}
		m.Invalidate(key)
	}

	now := m.now()
	ref, err := m.backend.CreateCache(ctx, model, systemPrompt, staticContent, ttl)
	if err != nil {
		log.Warn("cache create failed", zap.Error(err))
		return nil
	}
	h := &models.CacheHandle{
		Key:       key,
		Model:     model,
		Ref:       ref,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if err := m.store.Put(h); err != nil {
		log.Warn("cache store failed", zap.Error(err))
	}
	log.Info("cache created", zap.String("ref", ref), zap.Duration("ttl", ttl))
	return h
}

// Invalidate drops the handle stored under key.
func (m *Manager) Invalidate(key string) {
	if m == nil {
		return
	}
	if err := m.store.Invalidate(key); err != nil {
		m.log.Warn("cache invalidate failed", zap.String("key", key), zap.Error(err))
	}
}

// Stats reports the underlying store's metrics.
func (m *Manager) Stats() (models.CacheStats, error) {
	return m.store.Stats()
}

// StartPruning removes expired handles on a cron schedule such as
// "@every 10m". The returned function stops the scheduler.
func (m *Manager) StartPruning(schedule string) (func(), error) {
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		n, err := m.store.Prune(m.now())
		if err != nil {
			m.log.Warn("cache prune failed", zap.Error(err))
			return
		}
		if n > 0 {
			m.log.Info("cache pruned", zap.Int64("removed", n))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("prune schedule %q: %w", schedule, err)
	}
	c.Start()
	return func() { <-c.Stop().Done() }, nil
}
