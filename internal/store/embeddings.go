package store

import (
	"context"
	"database/sql"
	"strings"

	recallerrors "github.com/pepperjavis/recall/internal/errors"
)

// SaveEmbedding persists an embedding row. The relational row is the
// source of truth; the in-process similarity index is rebuilt from it.
func (s *Store) SaveEmbedding(ctx context.Context, e *Embedding) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	meta, err := marshalMeta(e.Metadata)
	if err != nil {
		return err
	}
	_, err = s.conn().ExecContext(ctx, `
		INSERT INTO embeddings (id, session_id, user_id, content, vector, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.SessionID, nullString(e.UserID), e.Content, encodeVector(e.Vector), meta, e.CreatedAt.UTC())
	if err != nil {
		if strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
			return recallerrors.New(recallerrors.CodeNotFound, "session not found: "+e.SessionID)
		}
		return s.wrap("save embedding", err)
	}
	return nil
}

// ListEmbeddings returns all embeddings, oldest first, for rebuilding
// the similarity index at startup.
func (s *Store) ListEmbeddings(ctx context.Context) ([]*Embedding, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.conn().QueryContext(ctx, `
		SELECT id, session_id, user_id, content, vector, metadata, created_at
		FROM embeddings
		ORDER BY created_at ASC, id ASC
	`)
	if err != nil {
		return nil, s.wrap("list embeddings", err)
	}
	defer rows.Close()

	var embeddings []*Embedding
	for rows.Next() {
		var e Embedding
		var userID, meta sql.NullString
		var vector []byte
		if err := rows.Scan(&e.ID, &e.SessionID, &userID, &e.Content, &vector, &meta, &e.CreatedAt); err != nil {
			return nil, s.wrap("list embeddings", err)
		}
		e.UserID = userID.String
		e.Vector = decodeVector(vector)
		e.Metadata = unmarshalMeta(meta)
		embeddings = append(embeddings, &e)
	}
	return embeddings, s.wrap("list embeddings", rows.Err())
}
