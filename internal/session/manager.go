package session

import (
	"context"
	"time"

	"github.com/pepperjavis/recall/internal/cache"
	recallerrors "github.com/pepperjavis/recall/internal/errors"
	"github.com/pepperjavis/recall/internal/store"
	"github.com/pepperjavis/recall/internal/telemetry"
)

// touchCoalesce is the window within which repeated touches of the
// same session collapse into one store write.
const touchCoalesce = 5 * time.Second

// Manager owns session lifecycle: create, touch, expire. Reads go
// cache-first with a relational-store fallback; every successful
// mutation refreshes the cached entry. When the store is unreachable,
// reads degrade to cache-only (stale but available) and writes fail
// fast with a typed error.
type Manager struct {
	store  *store.Store
	cache  *cache.Cache
	locks  *KeyedLocks
	logger *telemetry.Logger
}

// NewManager creates a session manager.
func NewManager(s *store.Store, c *cache.Cache, locks *KeyedLocks, logger *telemetry.Logger) *Manager {
	return &Manager{
		store:  s,
		cache:  c,
		locks:  locks,
		logger: logger,
	}
}

// Locks exposes the per-session lock table shared with the message
// log and tracker, so all same-session mutations serialize together.
func (m *Manager) Locks() *KeyedLocks {
	return m.locks
}

func cacheKey(sessionID string) string {
	return "session:" + sessionID
}

func touchKey(sessionID string) string {
	return "touched:" + sessionID
}

// GetOrCreate returns the existing session (cache first, then store)
// or creates one. Concurrent creators of the same id converge on a
// single row at the store layer.
func (m *Manager) GetOrCreate(ctx context.Context, sessionID, userID string) (*store.Session, error) {
	if v, ok := m.cache.Get(cacheKey(sessionID)); ok {
		if sess, ok := v.(*store.Session); ok {
			return sess, nil
		}
	}

	sess, err := m.store.GetSession(ctx, sessionID)
	if err == nil {
		m.cache.Set(cacheKey(sessionID), sess)
		return sess, nil
	}
	if recallerrors.AsCode(err) != recallerrors.CodeNotFound {
		return nil, err
	}

	sess, err = m.store.CreateSession(ctx, sessionID, userID, nil)
	if err != nil {
		return nil, err
	}
	m.logger.Debug("session created", "session_id", sessionID, "user_id", userID)
	m.cache.Set(cacheKey(sessionID), sess)
	return sess, nil
}

// Get returns a session, falling back to the cache when the store is
// unreachable. Cache-only results may be stale.
func (m *Manager) Get(ctx context.Context, sessionID string) (*store.Session, error) {
	sess, err := m.store.GetSession(ctx, sessionID)
	if err == nil {
		m.cache.Set(cacheKey(sessionID), sess)
		return sess, nil
	}
	if recallerrors.AsCode(err) == recallerrors.CodeStoreUnavailable ||
		recallerrors.AsCode(err) == recallerrors.CodeTimeout {
		if v, ok := m.cache.Get(cacheKey(sessionID)); ok {
			if cached, ok := v.(*store.Session); ok {
				m.logger.Warn("serving session from cache, store unreachable", "session_id", sessionID)
				return cached, nil
			}
		}
	}
	return nil, err
}

// Touch bumps the session's updated_at, coalescing with other recent
// touches of the same session to avoid write amplification.
func (m *Manager) Touch(ctx context.Context, sessionID string) error {
	if v, ok := m.cache.Get(touchKey(sessionID)); ok {
		if last, ok := v.(time.Time); ok && time.Since(last) < touchCoalesce {
			return nil
		}
	}

	now := time.Now()
	if err := m.store.TouchSession(ctx, sessionID, now); err != nil {
		return err
	}
	m.cache.Set(touchKey(sessionID), now)
	m.cache.Invalidate(cacheKey(sessionID))
	return nil
}

// Expire marks the session inactive. Data stays in the store; a
// separate reaper honors retention.
func (m *Manager) Expire(ctx context.Context, sessionID string) error {
	if err := m.store.ExpireSession(ctx, sessionID); err != nil {
		return err
	}
	m.cache.Invalidate(cacheKey(sessionID))
	return nil
}

// Delete removes the session and all dependent rows via the store's
// cascading delete, and drops cached copies.
func (m *Manager) Delete(ctx context.Context, sessionID string) error {
	if err := m.store.DeleteSession(ctx, sessionID); err != nil {
		return err
	}
	m.cache.Invalidate(cacheKey(sessionID))
	m.cache.Invalidate(touchKey(sessionID))
	return nil
}
