package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	recallerrors "github.com/pepperjavis/recall/internal/errors"
)

// AppendMessage inserts a message with the next sequence number for the
// session, assigned inside a transaction. Callers serialize appends per
// session; the UNIQUE(session_id, seq) constraint backstops that.
//
// The id doubles as an idempotency token: re-submitting an id that was
// already written returns the existing row instead of appending twice.
func (s *Store) AppendMessage(ctx context.Context, id, sessionID, role, content string, metadata map[string]interface{}) (*Message, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	meta, err := marshalMeta(metadata)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()

	tx, err := s.conn().BeginTx(ctx, nil)
	if err != nil {
		return nil, s.wrap("append message", err)
	}
	defer tx.Rollback()

	var seq int64
	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE session_id = ?
	`, sessionID).Scan(&seq)
	if err != nil {
		return nil, s.wrap("append message", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, session_id, seq, role, content, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, id, sessionID, seq, role, content, meta, now)
	if err != nil {
		if strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
			return nil, recallerrors.New(recallerrors.CodeNotFound, "session not found: "+sessionID)
		}
		if strings.Contains(err.Error(), "UNIQUE constraint failed: messages.id") {
			tx.Rollback()
			return s.getMessage(ctx, id)
		}
		return nil, s.wrap("append message", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, s.wrap("append message", err)
	}

	return &Message{
		ID:        id,
		SessionID: sessionID,
		Seq:       seq,
		Role:      role,
		Content:   content,
		Metadata:  metadata,
		CreatedAt: now,
	}, nil
}

func (s *Store) getMessage(ctx context.Context, id string) (*Message, error) {
	row := s.conn().QueryRowContext(ctx, `
		SELECT id, session_id, seq, role, content, metadata, created_at
		FROM messages WHERE id = ?
	`, id)
	m, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, recallerrors.New(recallerrors.CodeNotFound, "message not found: "+id)
	}
	if err != nil {
		return nil, s.wrap("get message", err)
	}
	return m, nil
}

// PageMessages returns up to limit messages with seq > afterSeq, in
// ascending sequence order. Repeated calls with the last returned seq
// iterate the full history.
func (s *Store) PageMessages(ctx context.Context, sessionID string, afterSeq int64, limit int) ([]*Message, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.conn().QueryContext(ctx, `
		SELECT id, session_id, seq, role, content, metadata, created_at
		FROM messages
		WHERE session_id = ? AND seq > ?
		ORDER BY seq ASC
		LIMIT ?
	`, sessionID, afterSeq, limit)
	if err != nil {
		return nil, s.wrap("page messages", err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, s.wrap("page messages", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, s.wrap("page messages", rows.Err())
}

// TailMessages returns the most recent n messages in ascending order,
// used to warm the cached tail.
func (s *Store) TailMessages(ctx context.Context, sessionID string, n int) ([]*Message, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.conn().QueryContext(ctx, `
		SELECT id, session_id, seq, role, content, metadata, created_at
		FROM messages
		WHERE session_id = ?
		ORDER BY seq DESC
		LIMIT ?
	`, sessionID, n)
	if err != nil {
		return nil, s.wrap("tail messages", err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, s.wrap("tail messages", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrap("tail messages", err)
	}

	// Reverse so oldest is first (we queried DESC for LIMIT).
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func scanMessage(r rowScanner) (*Message, error) {
	var m Message
	var meta sql.NullString
	if err := r.Scan(&m.ID, &m.SessionID, &m.Seq, &m.Role, &m.Content, &meta, &m.CreatedAt); err != nil {
		return nil, err
	}
	m.Metadata = unmarshalMeta(meta)
	return &m, nil
}
