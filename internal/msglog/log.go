package msglog

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/pepperjavis/recall/internal/cache"
	"github.com/pepperjavis/recall/internal/session"
	"github.com/pepperjavis/recall/internal/store"
	"github.com/pepperjavis/recall/internal/telemetry"
)

// Roles a message may carry.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Log is the append-only per-session message history. Appends to the
// same session are serialized through the shared keyed lock so
// sequence assignment and the cache tail update are atomic as observed
// by readers; unrelated sessions never block each other.
type Log struct {
	store    *store.Store
	cache    *cache.Cache
	locks    *session.KeyedLocks
	logger   *telemetry.Logger
	tailSize int
}

// NewLog creates a message log. tailSize bounds the cached recent
// messages kept per session.
func NewLog(s *store.Store, c *cache.Cache, locks *session.KeyedLocks, logger *telemetry.Logger, tailSize int) *Log {
	if tailSize <= 0 {
		tailSize = 50
	}
	return &Log{store: s, cache: c, locks: locks, logger: logger, tailSize: tailSize}
}

func tailKey(sessionID string) string {
	return "tail:" + sessionID
}

func validRole(role string) bool {
	switch role {
	case RoleUser, RoleAssistant, RoleTool:
		return true
	}
	return false
}

// Append writes a message with the next sequence number for the
// session, writing through to both the store and the cached tail.
func (l *Log) Append(ctx context.Context, sessionID, role, content string, metadata map[string]interface{}) (*store.Message, error) {
	return l.AppendWithID(ctx, uuid.New().String(), sessionID, role, content, metadata)
}

// AppendWithID is Append with a caller-assigned message id. The id is
// an idempotency token: retrying a write with the same id returns the
// already-appended message instead of duplicating it.
func (l *Log) AppendWithID(ctx context.Context, id, sessionID, role, content string, metadata map[string]interface{}) (*store.Message, error) {
	if !validRole(role) {
		return nil, fmt.Errorf("invalid role %q", role)
	}

	l.locks.Acquire(sessionID)
	defer l.locks.Release(sessionID)

	msg, err := l.store.AppendMessage(ctx, id, sessionID, role, content, metadata)
	if err != nil {
		return nil, err
	}

	l.updateTail(sessionID, msg)
	l.logger.Debug("message appended", "session_id", sessionID, "seq", msg.Seq, "role", role)
	return msg, nil
}

// updateTail appends msg to the cached tail, trimming to tailSize.
// Caller holds the session lock.
func (l *Log) updateTail(sessionID string, msg *store.Message) {
	var tail []*store.Message
	if v, ok := l.cache.Get(tailKey(sessionID)); ok {
		if cached, ok := v.([]*store.Message); ok {
			if len(cached) > 0 && cached[len(cached)-1].Seq >= msg.Seq {
				// Idempotent replay of a message the tail already holds.
				return
			}
			// Only extend a tail that is contiguous with the new
			// message; otherwise start over from the write.
			if len(cached) == 0 || cached[len(cached)-1].Seq == msg.Seq-1 {
				// Copy so cached readers never observe in-place growth.
				tail = append(make([]*store.Message, 0, len(cached)+1), cached...)
			}
		}
	}
	tail = append(tail, msg)
	if len(tail) > l.tailSize {
		tail = tail[len(tail)-l.tailSize:]
	}
	l.cache.Set(tailKey(sessionID), tail)
}

// Page returns up to limit messages with seq > afterSeq in ascending
// sequence order. Pages that fall entirely within the cached tail are
// served without touching the store.
func (l *Log) Page(ctx context.Context, sessionID string, afterSeq int64, limit int) ([]*store.Message, error) {
	if limit <= 0 {
		limit = 50
	}

	if msgs, ok := l.pageFromTail(sessionID, afterSeq, limit); ok {
		return msgs, nil
	}

	return l.store.PageMessages(ctx, sessionID, afterSeq, limit)
}

// pageFromTail serves the request from the cached tail when the tail
// covers every message after afterSeq.
func (l *Log) pageFromTail(sessionID string, afterSeq int64, limit int) ([]*store.Message, bool) {
	v, ok := l.cache.Get(tailKey(sessionID))
	if !ok {
		return nil, false
	}
	tail, ok := v.([]*store.Message)
	if !ok || len(tail) == 0 {
		return nil, false
	}

	// The tail covers the request only if it starts at or before the
	// first wanted sequence number.
	if tail[0].Seq > afterSeq+1 {
		return nil, false
	}

	var out []*store.Message
	for _, m := range tail {
		if m.Seq <= afterSeq {
			continue
		}
		out = append(out, m)
		if len(out) == limit {
			break
		}
	}
	return out, true
}

// PageDegraded serves the newest cached messages when the store is
// unreachable, for callers that prefer stale recency context over
// failure.
func (l *Log) PageDegraded(sessionID string, limit int) []*store.Message {
	v, ok := l.cache.Get(tailKey(sessionID))
	if !ok {
		return nil
	}
	tail, ok := v.([]*store.Message)
	if !ok {
		return nil
	}
	if limit > 0 && len(tail) > limit {
		tail = tail[len(tail)-limit:]
	}
	return tail
}

// Forget drops the cached tail, used when the session is deleted.
func (l *Log) Forget(sessionID string) {
	l.cache.Invalidate(tailKey(sessionID))
}
