package store

import (
	"context"
	"database/sql"
	"time"

	recallerrors "github.com/pepperjavis/recall/internal/errors"
)

// CreateSession inserts a session row, converging with concurrent
// creators: if another writer already inserted the same id, the
// existing row is re-read and returned instead of erroring.
func (s *Store) CreateSession(ctx context.Context, id, userID string, metadata map[string]interface{}) (*Session, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	now := time.Now().UTC()
	meta, err := marshalMeta(metadata)
	if err != nil {
		return nil, err
	}

	res, err := s.conn().ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, active, metadata, created_at, updated_at)
		VALUES (?, ?, 1, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, id, nullString(userID), meta, now, now)
	if err != nil {
		return nil, s.wrap("create session", err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		// Lost the creation race. Re-read the winner's row.
		existing, err := s.GetSession(ctx, id)
		if err != nil {
			return nil, recallerrors.Wrap(recallerrors.CodeConflict,
				"session creation race re-read failed", err)
		}
		return existing, nil
	}

	return &Session{
		ID:        id,
		UserID:    userID,
		Active:    true,
		Metadata:  metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// GetSession returns a session by id.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	row := s.conn().QueryRowContext(ctx, `
		SELECT id, user_id, active, metadata, created_at, updated_at
		FROM sessions WHERE id = ?
	`, id)

	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, recallerrors.New(recallerrors.CodeNotFound, "session not found: "+id)
	}
	if err != nil {
		return nil, s.wrap("get session", err)
	}
	return sess, nil
}

// TouchSession bumps updated_at.
func (s *Store) TouchSession(ctx context.Context, id string, at time.Time) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	res, err := s.conn().ExecContext(ctx, `
		UPDATE sessions SET updated_at = ? WHERE id = ?
	`, at.UTC(), id)
	if err != nil {
		return s.wrap("touch session", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return recallerrors.New(recallerrors.CodeNotFound, "session not found: "+id)
	}
	return nil
}

// ExpireSession marks a session inactive. Data is not deleted;
// retention is honored by a separate reaper.
func (s *Store) ExpireSession(ctx context.Context, id string) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	res, err := s.conn().ExecContext(ctx, `
		UPDATE sessions SET active = 0, updated_at = ? WHERE id = ?
	`, time.Now().UTC(), id)
	if err != nil {
		return s.wrap("expire session", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return recallerrors.New(recallerrors.CodeNotFound, "session not found: "+id)
	}
	return nil
}

// DeleteSession removes a session; dependent messages, embeddings,
// tasks, events, and action logs cascade at the relational layer.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	res, err := s.conn().ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return s.wrap("delete session", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return recallerrors.New(recallerrors.CodeNotFound, "session not found: "+id)
	}
	return nil
}

// ListSessions returns the most recently updated sessions.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]*Session, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.conn().QueryContext(ctx, `
		SELECT id, user_id, active, metadata, created_at, updated_at
		FROM sessions
		ORDER BY updated_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, s.wrap("list sessions", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, s.wrap("list sessions", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, s.wrap("list sessions", rows.Err())
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(r rowScanner) (*Session, error) {
	var sess Session
	var userID, meta sql.NullString
	var active int
	if err := r.Scan(&sess.ID, &userID, &active, &meta, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
		return nil, err
	}
	sess.UserID = userID.String
	sess.Active = active != 0
	sess.Metadata = unmarshalMeta(meta)
	return &sess, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
