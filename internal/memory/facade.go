package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/pepperjavis/recall/internal/audit"
	"github.com/pepperjavis/recall/internal/cache"
	"github.com/pepperjavis/recall/internal/config"
	"github.com/pepperjavis/recall/internal/credentials"
	recallerrors "github.com/pepperjavis/recall/internal/errors"
	"github.com/pepperjavis/recall/internal/msglog"
	"github.com/pepperjavis/recall/internal/session"
	"github.com/pepperjavis/recall/internal/store"
	"github.com/pepperjavis/recall/internal/telemetry"
	"github.com/pepperjavis/recall/internal/tracker"
	"github.com/pepperjavis/recall/internal/vector"
)

// Health states, from fully operational to unusable.
const (
	Healthy           = "healthy"
	DegradedStoreOnly = "degraded_store_only" // similarity index down, durable reads and writes fine
	DegradedCacheOnly = "degraded_cache_only" // store down, stale cached reads only
	Down              = "down"
)

// retryBackoff is the pause before the single retry granted to
// idempotent reads that hit the op deadline.
const retryBackoff = 100 * time.Millisecond

// Status is a point-in-time health report.
type Status struct {
	State   string `json:"state"`
	StoreOK bool   `json:"store_ok"`
	IndexOK bool   `json:"index_ok"`
}

// Facade is the single entry point for agent memory: sessions,
// ordered message history, semantic recall, tasks, events, and the
// action audit trail. Operations either commit or return a typed
// error; there is no partial success.
type Facade struct {
	cfg      *config.Config
	logger   *telemetry.Logger
	store    *store.Store
	cache    *cache.Cache
	sessions *session.Manager
	messages *msglog.Log
	vectors  *vector.Index
	tracker  *tracker.Tracker
	recorder *audit.Recorder
	closed   bool
}

// Open wires the subsystem from configuration: store, cache, session
// manager, message log, vector index (rebuilt from the store), tracker,
// and audit recorder with its background flusher.
func Open(ctx context.Context, cfg *config.Config, logger *telemetry.Logger) (*Facade, error) {
	return OpenWithCredentials(ctx, cfg, logger, credentials.EnvProvider{})
}

// OpenWithCredentials is Open with an explicit credential provider,
// consulted when (re)connecting to the store.
func OpenWithCredentials(ctx context.Context, cfg *config.Config, logger *telemetry.Logger, creds credentials.Provider) (*Facade, error) {
	s, err := store.Open(ctx, store.Options{
		Path:        cfg.Store.Path,
		OpTimeout:   cfg.Store.OpTimeoutDuration(),
		BusyTimeout: cfg.Store.BusyTimeoutDuration(),
		MaxConns:    cfg.Store.MaxOpenConns,
		Credentials: creds,
	})
	if err != nil {
		return nil, err
	}

	c, err := cache.New(cache.Options{
		MaxCost:     cfg.Cache.MaxCost,
		NumCounters: cfg.Cache.NumCounters,
		SlidingTTL:  cfg.Cache.SlidingTTLDuration(),
		AbsoluteTTL: cfg.Cache.AbsoluteTTLDuration(),
	})
	if err != nil {
		s.Close()
		return nil, err
	}

	vectors, err := vector.New(s, logger, cfg.Embedding.Dimension, cfg.Embedding.Scope)
	if err != nil {
		c.Close()
		s.Close()
		return nil, err
	}
	if err := vectors.Rebuild(ctx); err != nil {
		// Recall degrades to recency until a later rebuild; durable
		// state is unaffected.
		logger.Warn("similarity index rebuild failed", "error", err)
	}

	locks := session.NewKeyedLocks()
	recorder := audit.NewRecorder(s, logger, audit.Options{
		BufferCapacity: cfg.Audit.BufferCapacity,
		FlushInterval:  cfg.Audit.FlushIntervalDuration(),
		Retention:      cfg.Audit.RetentionDuration(),
	})
	recorder.Start()

	return &Facade{
		cfg:      cfg,
		logger:   logger,
		store:    s,
		cache:    c,
		sessions: session.NewManager(s, c, locks, logger),
		messages: msglog.NewLog(s, c, locks, logger, cfg.Cache.TailSize),
		vectors:  vectors,
		tracker:  tracker.New(s, locks, logger),
		recorder: recorder,
	}, nil
}

// readRetry grants idempotent reads a single retry after a deadline
// expiry. Writes never retry.
func (f *Facade) readRetry(ctx context.Context, op func() error) error {
	err := op()
	if err == nil || !recallerrors.HasCode(err, recallerrors.CodeTimeout) {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(retryBackoff):
	}
	return op()
}

// GetOrCreateSession returns the session, creating it if needed.
func (f *Facade) GetOrCreateSession(ctx context.Context, sessionID, userID string) (*store.Session, error) {
	return f.sessions.GetOrCreate(ctx, sessionID, userID)
}

// GetSession returns a session, serving a stale cached copy when the
// store is unreachable.
func (f *Facade) GetSession(ctx context.Context, sessionID string) (*store.Session, error) {
	return f.sessions.Get(ctx, sessionID)
}

// ListSessions returns recently active sessions, newest first.
func (f *Facade) ListSessions(ctx context.Context, limit int) ([]*store.Session, error) {
	var out []*store.Session
	err := f.readRetry(ctx, func() error {
		var e error
		out, e = f.store.ListSessions(ctx, limit)
		return e
	})
	return out, err
}

// ExpireSession marks a session inactive.
func (f *Facade) ExpireSession(ctx context.Context, sessionID string) error {
	return f.sessions.Expire(ctx, sessionID)
}

// DeleteSession removes a session and everything that hangs off it:
// messages, embeddings, tasks, events, and audit entries.
func (f *Facade) DeleteSession(ctx context.Context, sessionID string) error {
	if err := f.sessions.Delete(ctx, sessionID); err != nil {
		return err
	}
	f.messages.Forget(sessionID)
	return nil
}

// AppendMessage appends one message to the session's ordered history
// and bumps the session's activity time.
func (f *Facade) AppendMessage(ctx context.Context, sessionID, role, content string, metadata map[string]interface{}) (*store.Message, error) {
	msg, err := f.messages.Append(ctx, sessionID, role, content, metadata)
	if err != nil {
		return nil, err
	}
	if err := f.sessions.Touch(ctx, sessionID); err != nil {
		f.logger.Debug("session touch after append failed", "session_id", sessionID, "error", err)
	}
	return msg, nil
}

// AppendMessageWithID is AppendMessage with a caller-assigned message
// id serving as an idempotency token, so the caller may safely retry.
func (f *Facade) AppendMessageWithID(ctx context.Context, id, sessionID, role, content string, metadata map[string]interface{}) (*store.Message, error) {
	msg, err := f.messages.AppendWithID(ctx, id, sessionID, role, content, metadata)
	if err != nil {
		return nil, err
	}
	if err := f.sessions.Touch(ctx, sessionID); err != nil {
		f.logger.Debug("session touch after append failed", "session_id", sessionID, "error", err)
	}
	return msg, nil
}

// PageMessages returns messages with seq greater than afterSeq, in seq
// order. Pass afterSeq 0 to start from the beginning.
func (f *Facade) PageMessages(ctx context.Context, sessionID string, afterSeq int64, limit int) ([]*store.Message, error) {
	var out []*store.Message
	err := f.readRetry(ctx, func() error {
		var e error
		out, e = f.messages.Page(ctx, sessionID, afterSeq, limit)
		return e
	})
	return out, err
}

// TailMessages returns the most recent messages in seq order, served
// from the cached tail when the store is unreachable.
func (f *Facade) TailMessages(ctx context.Context, sessionID string, n int) ([]*store.Message, error) {
	msgs, err := f.store.TailMessages(ctx, sessionID, n)
	if err == nil {
		return msgs, nil
	}
	if recallerrors.HasCode(err, recallerrors.CodeStoreUnavailable) || recallerrors.HasCode(err, recallerrors.CodeTimeout) {
		if tail := f.messages.PageDegraded(sessionID, n); len(tail) > 0 {
			f.logger.Warn("serving message tail from cache, store unreachable", "session_id", sessionID)
			return tail, nil
		}
	}
	return nil, err
}

// IndexMemory stores content with its embedding vector for later
// semantic recall. Returns the embedding id.
func (f *Facade) IndexMemory(ctx context.Context, sessionID, userID, content string, vec []float32, metadata map[string]interface{}) (string, error) {
	return f.vectors.Index(ctx, uuid.New().String(), sessionID, userID, content, vec, metadata)
}

// SemanticRecall returns up to topK stored memories ranked by cosine
// similarity to the query vector. Recall is best effort: when the
// index is unavailable the most recent messages stand in, unranked.
func (f *Facade) SemanticRecall(ctx context.Context, sessionID, userID string, query []float32, topK int) ([]vector.Result, error) {
	results, err := f.vectors.Search(ctx, sessionID, userID, query, topK)
	if err == nil {
		return results, nil
	}
	if !recallerrors.HasCode(err, recallerrors.CodeIndexUnavailable) {
		return nil, err
	}

	f.logger.Warn("semantic recall degraded to recency", "session_id", sessionID)
	msgs, tailErr := f.TailMessages(ctx, sessionID, topK)
	if tailErr != nil {
		return nil, err
	}
	fallback := make([]vector.Result, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		fallback = append(fallback, vector.Result{
			Content:   msgs[i].Content,
			SessionID: msgs[i].SessionID,
		})
	}
	return fallback, nil
}

// RebuildIndex repopulates the similarity index from the store.
func (f *Facade) RebuildIndex(ctx context.Context) error {
	return f.vectors.Rebuild(ctx)
}

// CreateTask creates a pending task for the session.
func (f *Facade) CreateTask(ctx context.Context, sessionID, title, description, priority string, dueAt *time.Time) (*store.Task, error) {
	return f.tracker.CreateTask(ctx, sessionID, title, description, priority, dueAt)
}

// UpdateTaskStatus applies a task state transition.
func (f *Facade) UpdateTaskStatus(ctx context.Context, taskID, status string) (*store.Task, error) {
	return f.tracker.UpdateTaskStatus(ctx, taskID, status)
}

// ListTasks returns a session's tasks, due-date ascending, undated
// tasks last.
func (f *Facade) ListTasks(ctx context.Context, sessionID, statusFilter string) ([]*store.Task, error) {
	var out []*store.Task
	err := f.readRetry(ctx, func() error {
		var e error
		out, e = f.tracker.ListTasks(ctx, sessionID, statusFilter)
		return e
	})
	return out, err
}

// CreateEvent creates a calendar event for the session.
func (f *Facade) CreateEvent(ctx context.Context, sessionID, title, description string, startsAt, endsAt time.Time, attendees []string) (*store.Event, error) {
	return f.tracker.CreateEvent(ctx, sessionID, title, description, startsAt, endsAt, attendees)
}

// ListEvents returns a session's events by start time, optionally
// restricted to those overlapping [from, to).
func (f *Facade) ListEvents(ctx context.Context, sessionID string, from, to time.Time) ([]*store.Event, error) {
	var out []*store.Event
	err := f.readRetry(ctx, func() error {
		var e error
		out, e = f.tracker.ListEvents(ctx, sessionID, from, to)
		return e
	})
	return out, err
}

// RecordAction appends an audit entry for an agent action. Store
// outages buffer the entry rather than failing the caller.
func (f *Facade) RecordAction(ctx context.Context, a audit.Action) (*store.ActionLogEntry, error) {
	return f.recorder.Record(ctx, a)
}

// QueryActions returns a session's audit trail, oldest first.
func (f *Facade) QueryActions(ctx context.Context, sessionID, actionType string, from, to time.Time) ([]*store.ActionLogEntry, error) {
	return f.recorder.Query(ctx, sessionID, actionType, from, to)
}

// PurgeExpiredActions applies the configured audit retention.
func (f *Facade) PurgeExpiredActions(ctx context.Context) (int64, error) {
	return f.recorder.PurgeExpired(ctx)
}

// Health probes each layer and reports the overall state.
func (f *Facade) Health(ctx context.Context) Status {
	if f.closed {
		return Status{State: Down}
	}

	storeOK := f.store.Ping(ctx) == nil
	indexOK := f.vectors.Available()

	st := Status{StoreOK: storeOK, IndexOK: indexOK}
	switch {
	case storeOK && indexOK:
		st.State = Healthy
	case storeOK:
		st.State = DegradedStoreOnly
	default:
		st.State = DegradedCacheOnly
	}
	return st
}

// Reconnect reopens the store connection, picking up rotated
// credentials, then drains any buffered audit entries.
func (f *Facade) Reconnect(ctx context.Context) error {
	if err := f.store.Reconnect(ctx); err != nil {
		return err
	}
	if err := f.recorder.Flush(ctx); err != nil {
		f.logger.Debug("audit drain after reconnect deferred", "error", err)
	}
	return nil
}

// Close shuts the subsystem down: drains the audit buffer, closes the
// index, cache, and store. Safe to call once.
func (f *Facade) Close(ctx context.Context) error {
	f.closed = true
	flushErr := f.recorder.Close(ctx)
	f.vectors.Close()
	f.cache.Close()
	if err := f.store.Close(); err != nil {
		return err
	}
	return flushErr
}
