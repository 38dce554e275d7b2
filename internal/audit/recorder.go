package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	recallerrors "github.com/pepperjavis/recall/internal/errors"
	"github.com/pepperjavis/recall/internal/store"
	"github.com/pepperjavis/recall/internal/telemetry"
)

// Action describes one agent action to record. ID and CreatedAt are
// assigned by the recorder.
type Action struct {
	SessionID  string
	ActionType string
	ToolName   string
	Input      string
	Output     string
	Status     string
	DurationMs int64
}

func validStatus(s string) bool {
	switch s {
	case store.ActionSuccess, store.ActionFailure, store.ActionTimeout:
		return true
	}
	return false
}

// Recorder writes append-only action audit entries. When the store is
// unavailable it holds entries in a bounded in-memory buffer, dropping
// the oldest on overflow, and a background flusher drains the buffer
// once the store recovers.
type Recorder struct {
	store         *store.Store
	logger        *telemetry.Logger
	capacity      int
	flushInterval time.Duration
	retention     time.Duration

	mu      sync.Mutex
	buffer  []*store.ActionLogEntry
	dropped int64

	stopOnce sync.Once
	started  bool
	stop     chan struct{}
	done     chan struct{}
}

// Options configures a Recorder. Zero values get sensible defaults;
// a zero Retention disables purging.
type Options struct {
	BufferCapacity int
	FlushInterval  time.Duration
	Retention      time.Duration
}

// NewRecorder creates a recorder. Call Start to run the background
// flusher and Close to drain and stop it.
func NewRecorder(s *store.Store, logger *telemetry.Logger, opts Options) *Recorder {
	if opts.BufferCapacity <= 0 {
		opts.BufferCapacity = 1000
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 5 * time.Second
	}
	return &Recorder{
		store:         s,
		logger:        logger,
		capacity:      opts.BufferCapacity,
		flushInterval: opts.FlushInterval,
		retention:     opts.Retention,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// Record persists one action entry. Store failures never propagate to
// the caller's action flow: on STORE_UNAVAILABLE or TIMEOUT the entry
// is buffered for a later flush.
func (r *Recorder) Record(ctx context.Context, a Action) (*store.ActionLogEntry, error) {
	if a.ActionType == "" {
		return nil, fmt.Errorf("action type is required")
	}
	if !validStatus(a.Status) {
		return nil, fmt.Errorf("invalid action status %q", a.Status)
	}

	entry := &store.ActionLogEntry{
		ID:         uuid.New().String(),
		SessionID:  a.SessionID,
		ActionType: a.ActionType,
		ToolName:   a.ToolName,
		Input:      a.Input,
		Output:     a.Output,
		Status:     a.Status,
		DurationMs: a.DurationMs,
		CreatedAt:  time.Now().UTC(),
	}

	err := r.store.InsertAction(ctx, entry)
	if err == nil {
		return entry, nil
	}
	if recallerrors.HasCode(err, recallerrors.CodeStoreUnavailable) || recallerrors.HasCode(err, recallerrors.CodeTimeout) {
		r.enqueue(entry)
		r.logger.Warn("action buffered, store unavailable", "action_id", entry.ID)
		return entry, nil
	}
	return nil, err
}

func (r *Recorder) enqueue(e *store.ActionLogEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.buffer) >= r.capacity {
		// Drop-oldest: recent actions are worth more than stale ones
		// once the buffer is full.
		copy(r.buffer, r.buffer[1:])
		r.buffer = r.buffer[:len(r.buffer)-1]
		r.dropped++
	}
	r.buffer = append(r.buffer, e)
}

// Flush drains buffered entries into the store. The fast path is one
// batch insert; when the batch fails for a reason other than the store
// being down, entries are retried one by one so a single bad row (for
// example a session deleted while the entry sat buffered) cannot wedge
// the drain. Bad rows are discarded and counted as dropped; entries
// hit by a transient failure stay buffered for the next flush.
func (r *Recorder) Flush(ctx context.Context) error {
	r.mu.Lock()
	if len(r.buffer) == 0 {
		r.mu.Unlock()
		return nil
	}
	pending := r.buffer
	r.buffer = nil
	r.mu.Unlock()

	err := r.store.InsertActions(ctx, pending)
	if err == nil {
		r.logger.Info("drained action buffer", "count", len(pending))
		return nil
	}
	if transientStoreErr(err) {
		r.requeue(pending, 0)
		return err
	}

	for i, e := range pending {
		insertErr := r.store.InsertAction(ctx, e)
		if insertErr == nil {
			continue
		}
		if transientStoreErr(insertErr) {
			r.requeue(pending[i:], 0)
			return insertErr
		}
		r.logger.Warn("discarding unpersistable action entry",
			"action_id", e.ID, "session_id", e.SessionID, "error", insertErr)
		r.requeue(nil, 1)
	}
	return nil
}

func transientStoreErr(err error) bool {
	return recallerrors.HasCode(err, recallerrors.CodeStoreUnavailable) ||
		recallerrors.HasCode(err, recallerrors.CodeTimeout)
}

// requeue prepends entries back onto the buffer, preserving order
// ahead of anything recorded since the flush began, and adds dropped
// to the overflow counter.
func (r *Recorder) requeue(entries []*store.ActionLogEntry, dropped int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.dropped += dropped
	if len(entries) == 0 {
		return
	}
	r.buffer = append(entries, r.buffer...)
	if over := len(r.buffer) - r.capacity; over > 0 {
		r.buffer = r.buffer[over:]
		r.dropped += int64(over)
	}
}

// Buffered returns the number of entries awaiting a flush.
func (r *Recorder) Buffered() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buffer)
}

// Dropped returns the number of entries lost to buffer overflow.
func (r *Recorder) Dropped() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Query returns a session's audit entries ascending by timestamp,
// optionally filtered by action type and time range.
func (r *Recorder) Query(ctx context.Context, sessionID, actionType string, from, to time.Time) ([]*store.ActionLogEntry, error) {
	return r.store.QueryActions(ctx, sessionID, actionType, from, to)
}

// PurgeExpired deletes entries older than the retention window. A zero
// retention keeps everything.
func (r *Recorder) PurgeExpired(ctx context.Context) (int64, error) {
	if r.retention <= 0 {
		return 0, nil
	}
	return r.store.PurgeActions(ctx, time.Now().Add(-r.retention))
}

// Start launches the background flusher.
func (r *Recorder) Start() {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.mu.Unlock()
	go r.run()
}

func (r *Recorder) run() {
	defer close(r.done)

	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), r.flushInterval)
			if err := r.Flush(ctx); err != nil {
				r.logger.Debug("action buffer flush deferred", "error", err)
			}
			cancel()
		case <-r.stop:
			return
		}
	}
}

// Close stops the flusher and attempts one final drain.
func (r *Recorder) Close(ctx context.Context) error {
	var flushErr error
	r.stopOnce.Do(func() {
		r.mu.Lock()
		started := r.started
		r.mu.Unlock()
		close(r.stop)
		if started {
			<-r.done
		}
		flushErr = r.Flush(ctx)
	})
	return flushErr
}
