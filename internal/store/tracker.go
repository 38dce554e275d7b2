package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	recallerrors "github.com/pepperjavis/recall/internal/errors"
)

// CreateTask inserts a task row.
func (s *Store) CreateTask(ctx context.Context, t *Task) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var due interface{}
	if t.DueAt != nil {
		due = t.DueAt.UTC()
	}
	_, err := s.conn().ExecContext(ctx, `
		INSERT INTO tasks (id, session_id, title, description, status, priority, due_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.SessionID, t.Title, nullString(t.Description), t.Status, t.Priority, due, t.CreatedAt.UTC(), t.UpdatedAt.UTC())
	if err != nil {
		if strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
			return recallerrors.New(recallerrors.CodeNotFound, "session not found: "+t.SessionID)
		}
		return s.wrap("create task", err)
	}
	return nil
}

// GetTask returns a task by id.
func (s *Store) GetTask(ctx context.Context, id string) (*Task, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	row := s.conn().QueryRowContext(ctx, `
		SELECT id, session_id, title, description, status, priority, due_at, created_at, updated_at
		FROM tasks WHERE id = ?
	`, id)

	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, recallerrors.New(recallerrors.CodeNotFound, "task not found: "+id)
	}
	if err != nil {
		return nil, s.wrap("get task", err)
	}
	return t, nil
}

// UpdateTaskStatus writes a new status. Transition legality is the
// tracker's responsibility; the store records what it is told.
func (s *Store) UpdateTaskStatus(ctx context.Context, id, status string, at time.Time) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	res, err := s.conn().ExecContext(ctx, `
		UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?
	`, status, at.UTC(), id)
	if err != nil {
		return s.wrap("update task status", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return recallerrors.New(recallerrors.CodeNotFound, "task not found: "+id)
	}
	return nil
}

// ListTasks returns tasks for a session ordered by due date ascending,
// tasks without a due date last. An empty statusFilter returns all.
func (s *Store) ListTasks(ctx context.Context, sessionID, statusFilter string) ([]*Task, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	query := `
		SELECT id, session_id, title, description, status, priority, due_at, created_at, updated_at
		FROM tasks
		WHERE session_id = ?`
	args := []interface{}{sessionID}
	if statusFilter != "" {
		query += ` AND status = ?`
		args = append(args, statusFilter)
	}
	query += `
		ORDER BY CASE WHEN due_at IS NULL THEN 1 ELSE 0 END, due_at ASC, created_at ASC`

	rows, err := s.conn().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, s.wrap("list tasks", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, s.wrap("list tasks", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, s.wrap("list tasks", rows.Err())
}

// CreateEvent inserts an event row.
func (s *Store) CreateEvent(ctx context.Context, e *Event) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	attendees, err := marshalAttendees(e.Attendees)
	if err != nil {
		return err
	}
	_, err = s.conn().ExecContext(ctx, `
		INSERT INTO events (id, session_id, title, description, starts_at, ends_at, attendees, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.SessionID, e.Title, nullString(e.Description), e.StartsAt.UTC(), e.EndsAt.UTC(), attendees, e.CreatedAt.UTC(), e.UpdatedAt.UTC())
	if err != nil {
		if strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
			return recallerrors.New(recallerrors.CodeNotFound, "session not found: "+e.SessionID)
		}
		return s.wrap("create event", err)
	}
	return nil
}

// GetEvent returns an event by id.
func (s *Store) GetEvent(ctx context.Context, id string) (*Event, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	row := s.conn().QueryRowContext(ctx, `
		SELECT id, session_id, title, description, starts_at, ends_at, attendees, created_at, updated_at
		FROM events WHERE id = ?
	`, id)

	e, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, recallerrors.New(recallerrors.CodeNotFound, "event not found: "+id)
	}
	if err != nil {
		return nil, s.wrap("get event", err)
	}
	return e, nil
}

// UpdateEvent rewrites a mutable event's fields.
func (s *Store) UpdateEvent(ctx context.Context, e *Event) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	attendees, err := marshalAttendees(e.Attendees)
	if err != nil {
		return err
	}
	res, err := s.conn().ExecContext(ctx, `
		UPDATE events
		SET title = ?, description = ?, starts_at = ?, ends_at = ?, attendees = ?, updated_at = ?
		WHERE id = ?
	`, e.Title, nullString(e.Description), e.StartsAt.UTC(), e.EndsAt.UTC(), attendees, time.Now().UTC(), e.ID)
	if err != nil {
		return s.wrap("update event", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return recallerrors.New(recallerrors.CodeNotFound, "event not found: "+e.ID)
	}
	return nil
}

// ListEvents returns a session's events ordered by start time ascending.
// A non-zero time range keeps events overlapping [from, to).
func (s *Store) ListEvents(ctx context.Context, sessionID string, from, to time.Time) ([]*Event, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	query := `
		SELECT id, session_id, title, description, starts_at, ends_at, attendees, created_at, updated_at
		FROM events
		WHERE session_id = ?`
	args := []interface{}{sessionID}
	if !from.IsZero() {
		query += ` AND ends_at > ?`
		args = append(args, from.UTC())
	}
	if !to.IsZero() {
		query += ` AND starts_at < ?`
		args = append(args, to.UTC())
	}
	query += ` ORDER BY starts_at ASC, created_at ASC`

	rows, err := s.conn().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, s.wrap("list events", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, s.wrap("list events", err)
		}
		events = append(events, e)
	}
	return events, s.wrap("list events", rows.Err())
}

func scanTask(r rowScanner) (*Task, error) {
	var t Task
	var desc sql.NullString
	var due sql.NullTime
	if err := r.Scan(&t.ID, &t.SessionID, &t.Title, &desc, &t.Status, &t.Priority, &due, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.Description = desc.String
	if due.Valid {
		d := due.Time
		t.DueAt = &d
	}
	return &t, nil
}

func scanEvent(r rowScanner) (*Event, error) {
	var e Event
	var desc, attendees sql.NullString
	if err := r.Scan(&e.ID, &e.SessionID, &e.Title, &desc, &e.StartsAt, &e.EndsAt, &attendees, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	e.Description = desc.String
	if attendees.Valid && attendees.String != "" {
		_ = json.Unmarshal([]byte(attendees.String), &e.Attendees)
	}
	return &e, nil
}

func marshalAttendees(attendees []string) (sql.NullString, error) {
	if len(attendees) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(attendees)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}
