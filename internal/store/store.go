package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pepperjavis/recall/internal/credentials"
	recallerrors "github.com/pepperjavis/recall/internal/errors"
)

// CredentialResource names the store in credential-provider lookups.
const CredentialResource = "store"

// Store is the durable source of truth for sessions, messages,
// embeddings, tasks, events, and action-audit records.
type Store struct {
	mu        sync.RWMutex
	db        *sql.DB
	path      string
	opTimeout time.Duration
	busy      time.Duration
	maxConns  int
	creds     credentials.Provider
	closed    bool
}

// Options configures Open.
type Options struct {
	// Path is the database file path, used when no credential provider
	// is given (or the provider has no entry for the store resource).
	Path        string
	OpTimeout   time.Duration
	BusyTimeout time.Duration
	MaxConns    int
	Credentials credentials.Provider
}

// Open opens (or creates) the SQLite database and runs migrations.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if opts.OpTimeout <= 0 {
		opts.OpTimeout = 5 * time.Second
	}
	if opts.BusyTimeout <= 0 {
		opts.BusyTimeout = 5 * time.Second
	}
	if opts.MaxConns <= 0 {
		opts.MaxConns = 4
	}

	s := &Store{
		path:      opts.Path,
		opTimeout: opts.OpTimeout,
		busy:      opts.BusyTimeout,
		maxConns:  opts.MaxConns,
		creds:     opts.Credentials,
	}

	if err := s.connect(ctx); err != nil {
		return nil, err
	}
	if err := s.migrate(); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return s, nil
}

// connect resolves the database path (consulting the credential provider
// when present, so a rotated endpoint takes effect) and opens it.
func (s *Store) connect(ctx context.Context) error {
	path := s.path
	if s.creds != nil {
		c, err := s.creds.Current(ctx, CredentialResource)
		if err == nil && c.Endpoint != "" {
			path = c.Endpoint
		}
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=%d",
		path, s.busy.Milliseconds())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(s.maxConns)

	s.mu.Lock()
	if s.db != nil {
		s.db.Close()
	}
	s.db = db
	s.closed = false
	s.mu.Unlock()

	return nil
}

// Reconnect re-resolves credentials and reopens the connection. Called
// after authentication failures so rotated credentials take effect. The
// schema is re-applied because rotation may point at a fresh database.
func (s *Store) Reconnect(ctx context.Context) error {
	if err := s.connect(ctx); err != nil {
		return err
	}
	return s.migrate()
}

// migrate creates the six logical tables and their indexes.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT,
		active INTEGER NOT NULL DEFAULT 1,
		metadata TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		seq INTEGER NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		metadata TEXT,
		created_at DATETIME NOT NULL,
		UNIQUE(session_id, seq)
	);

	CREATE TABLE IF NOT EXISTS embeddings (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		user_id TEXT,
		content TEXT NOT NULL,
		vector BLOB NOT NULL,
		metadata TEXT,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_embeddings_session ON embeddings(session_id);

	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		title TEXT NOT NULL,
		description TEXT,
		status TEXT NOT NULL,
		priority TEXT NOT NULL,
		due_at DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_session ON tasks(session_id, status);

	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		title TEXT NOT NULL,
		description TEXT,
		starts_at DATETIME NOT NULL,
		ends_at DATETIME NOT NULL,
		attendees TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_session_start ON events(session_id, starts_at);

	CREATE TABLE IF NOT EXISTS action_logs (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		action_type TEXT NOT NULL,
		tool_name TEXT NOT NULL,
		input TEXT,
		output TEXT,
		status TEXT NOT NULL,
		duration_ms INTEGER NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_action_logs_session_time ON action_logs(session_id, created_at);
	`
	_, err := s.conn().Exec(schema)
	return err
}

func (s *Store) conn() *sql.DB {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db
}

// Ping verifies the store is reachable.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return recallerrors.New(recallerrors.CodeStoreUnavailable, "store is closed")
	}
	if err := s.conn().PingContext(ctx); err != nil {
		return s.wrap("ping", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// opCtx bounds an operation with the configured deadline. All store
// calls are potentially blocking I/O and must not hang indefinitely.
func (s *Store) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opTimeout)
}

// wrap maps driver errors onto the typed taxonomy.
func (s *Store) wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if err == context.DeadlineExceeded || strings.Contains(err.Error(), "context deadline exceeded") ||
		strings.Contains(err.Error(), "database is locked") {
		return recallerrors.Wrap(recallerrors.CodeTimeout, op+" exceeded deadline", err)
	}
	if err == context.Canceled {
		return err
	}
	if isUnavailable(err) {
		return recallerrors.Wrap(recallerrors.CodeStoreUnavailable, op+" failed", err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isUnavailable(err error) bool {
	if err == sql.ErrConnDone {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "database is closed") ||
		strings.Contains(msg, "unable to open database") ||
		strings.Contains(msg, "no such table") ||
		strings.Contains(msg, "authentication")
}

// marshalMeta serializes free-form metadata to a nullable TEXT column.
func marshalMeta(m map[string]interface{}) (sql.NullString, error) {
	if len(m) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshal metadata: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func unmarshalMeta(ns sql.NullString) map[string]interface{} {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(ns.String), &m); err != nil {
		return nil
	}
	return m
}

// encodeVector packs a float32 vector into a little-endian BLOB.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
