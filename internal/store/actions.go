package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	recallerrors "github.com/pepperjavis/recall/internal/errors"
)

// InsertAction appends a single audit entry.
func (s *Store) InsertAction(ctx context.Context, e *ActionLogEntry) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err := s.conn().ExecContext(ctx, `
		INSERT INTO action_logs (id, session_id, action_type, tool_name, input, output, status, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.SessionID, e.ActionType, e.ToolName, nullString(e.Input), nullString(e.Output), e.Status, e.DurationMs, e.CreatedAt.UTC())
	if err != nil {
		if strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
			return recallerrors.New(recallerrors.CodeNotFound, "session not found: "+e.SessionID)
		}
		return s.wrap("insert action", err)
	}
	return nil
}

// InsertActions appends a batch of audit entries in one transaction,
// used when draining the overflow buffer after recovery.
func (s *Store) InsertActions(ctx context.Context, entries []*ActionLogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	tx, err := s.conn().BeginTx(ctx, nil)
	if err != nil {
		return s.wrap("insert actions", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO action_logs (id, session_id, action_type, tool_name, input, output, status, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return s.wrap("insert actions", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		_, err := stmt.ExecContext(ctx, e.ID, e.SessionID, e.ActionType, e.ToolName,
			nullString(e.Input), nullString(e.Output), e.Status, e.DurationMs, e.CreatedAt.UTC())
		if err != nil {
			return s.wrap("insert actions", err)
		}
	}
	return s.wrap("insert actions", tx.Commit())
}

// QueryActions returns audit entries for a session ascending by
// timestamp, optionally filtered by action type and time range.
func (s *Store) QueryActions(ctx context.Context, sessionID, actionType string, from, to time.Time) ([]*ActionLogEntry, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	query := `
		SELECT id, session_id, action_type, tool_name, input, output, status, duration_ms, created_at
		FROM action_logs
		WHERE session_id = ?`
	args := []interface{}{sessionID}
	if actionType != "" {
		query += ` AND action_type = ?`
		args = append(args, actionType)
	}
	if !from.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, from.UTC())
	}
	if !to.IsZero() {
		query += ` AND created_at < ?`
		args = append(args, to.UTC())
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := s.conn().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, s.wrap("query actions", err)
	}
	defer rows.Close()

	var entries []*ActionLogEntry
	for rows.Next() {
		var e ActionLogEntry
		var input, output sql.NullString
		if err := rows.Scan(&e.ID, &e.SessionID, &e.ActionType, &e.ToolName, &input, &output, &e.Status, &e.DurationMs, &e.CreatedAt); err != nil {
			return nil, s.wrap("query actions", err)
		}
		e.Input = input.String
		e.Output = output.String
		entries = append(entries, &e)
	}
	return entries, s.wrap("query actions", rows.Err())
}

// PurgeActions deletes audit entries older than the cutoff, honoring
// the externally configured retention policy.
func (s *Store) PurgeActions(ctx context.Context, olderThan time.Time) (int64, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	res, err := s.conn().ExecContext(ctx, `
		DELETE FROM action_logs WHERE created_at < ?
	`, olderThan.UTC())
	if err != nil {
		return 0, s.wrap("purge actions", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
