package tracker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	recallerrors "github.com/pepperjavis/recall/internal/errors"
	"github.com/pepperjavis/recall/internal/session"
	"github.com/pepperjavis/recall/internal/store"
	"github.com/pepperjavis/recall/internal/telemetry"
)

// transitions is the legal task state graph: forward-only, with
// cancellation reachable from any non-terminal state. Terminal states
// have no outgoing edges.
var transitions = map[string][]string{
	store.TaskPending:    {store.TaskInProgress, store.TaskDone, store.TaskCancelled},
	store.TaskInProgress: {store.TaskDone, store.TaskCancelled},
	store.TaskDone:       {},
	store.TaskCancelled:  {},
}

func legalTransition(from, to string) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func validPriority(p string) bool {
	switch p {
	case store.PriorityLow, store.PriorityNormal, store.PriorityHigh, store.PriorityUrgent:
		return true
	}
	return false
}

// Tracker manages finite-state task records and calendar events,
// independent of message flow but keyed by session. Status mutations
// share the per-session lock with message appends.
type Tracker struct {
	store  *store.Store
	locks  *session.KeyedLocks
	logger *telemetry.Logger
}

// New creates a tracker.
func New(s *store.Store, locks *session.KeyedLocks, logger *telemetry.Logger) *Tracker {
	return &Tracker{store: s, locks: locks, logger: logger}
}

// CreateTask creates a pending task. An empty priority defaults to
// normal.
func (t *Tracker) CreateTask(ctx context.Context, sessionID, title, description, priority string, dueAt *time.Time) (*store.Task, error) {
	if title == "" {
		return nil, fmt.Errorf("task title is required")
	}
	if priority == "" {
		priority = store.PriorityNormal
	}
	if !validPriority(priority) {
		return nil, fmt.Errorf("invalid priority %q", priority)
	}

	now := time.Now().UTC()
	task := &store.Task{
		ID:          uuid.New().String(),
		SessionID:   sessionID,
		Title:       title,
		Description: description,
		Status:      store.TaskPending,
		Priority:    priority,
		DueAt:       dueAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := t.store.CreateTask(ctx, task); err != nil {
		return nil, err
	}
	t.logger.Debug("task created", "task_id", task.ID, "session_id", sessionID)
	return task, nil
}

// UpdateTaskStatus applies a status transition, failing with a typed
// error when the transition violates the state graph.
func (t *Tracker) UpdateTaskStatus(ctx context.Context, taskID, newStatus string) (*store.Task, error) {
	if _, known := transitions[newStatus]; !known {
		return nil, fmt.Errorf("unknown task status %q", newStatus)
	}

	task, err := t.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	// Serialize with other mutations of the same session so the
	// read-validate-write below is atomic as observed by readers.
	t.locks.Acquire(task.SessionID)
	defer t.locks.Release(task.SessionID)

	task, err = t.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if !legalTransition(task.Status, newStatus) {
		return nil, recallerrors.New(recallerrors.CodeInvalidTransition,
			fmt.Sprintf("cannot move task from %s to %s", task.Status, newStatus))
	}

	now := time.Now().UTC()
	if err := t.store.UpdateTaskStatus(ctx, taskID, newStatus, now); err != nil {
		return nil, err
	}
	task.Status = newStatus
	task.UpdatedAt = now
	t.logger.Debug("task transitioned", "task_id", taskID, "status", newStatus)
	return task, nil
}

// ListTasks returns a session's tasks ordered by due date ascending,
// no-due-date tasks last. statusFilter narrows to one status; "" lists
// all.
func (t *Tracker) ListTasks(ctx context.Context, sessionID, statusFilter string) ([]*store.Task, error) {
	if statusFilter != "" {
		if _, known := transitions[statusFilter]; !known {
			return nil, fmt.Errorf("unknown task status %q", statusFilter)
		}
	}
	return t.store.ListTasks(ctx, sessionID, statusFilter)
}

// CreateEvent creates a calendar event. End must be strictly after
// start. Overlapping events are permitted; double-booking policy
// belongs to the tool layer.
func (t *Tracker) CreateEvent(ctx context.Context, sessionID, title, description string, startsAt, endsAt time.Time, attendees []string) (*store.Event, error) {
	if title == "" {
		return nil, fmt.Errorf("event title is required")
	}
	if !endsAt.After(startsAt) {
		return nil, fmt.Errorf("event end %s must be after start %s", endsAt.Format(time.RFC3339), startsAt.Format(time.RFC3339))
	}

	now := time.Now().UTC()
	event := &store.Event{
		ID:          uuid.New().String(),
		SessionID:   sessionID,
		Title:       title,
		Description: description,
		StartsAt:    startsAt.UTC(),
		EndsAt:      endsAt.UTC(),
		Attendees:   attendees,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := t.store.CreateEvent(ctx, event); err != nil {
		return nil, err
	}
	t.logger.Debug("event created", "event_id", event.ID, "session_id", sessionID)
	return event, nil
}

// UpdateEvent rewrites a mutable event. Events whose end time has
// passed are logically read-only.
func (t *Tracker) UpdateEvent(ctx context.Context, e *store.Event) error {
	if !e.EndsAt.After(e.StartsAt) {
		return fmt.Errorf("event end must be after start")
	}

	t.locks.Acquire(e.SessionID)
	defer t.locks.Release(e.SessionID)

	current, err := t.store.GetEvent(ctx, e.ID)
	if err != nil {
		return err
	}
	if time.Now().After(current.EndsAt) {
		return recallerrors.New(recallerrors.CodeInvalidTransition,
			"event has ended and is read-only")
	}
	return t.store.UpdateEvent(ctx, e)
}

// ListEvents returns a session's events ordered by start time
// ascending, optionally restricted to those overlapping [from, to).
func (t *Tracker) ListEvents(ctx context.Context, sessionID string, from, to time.Time) ([]*store.Event, error) {
	return t.store.ListEvents(ctx, sessionID, from, to)
}
