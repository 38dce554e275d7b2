package store

import "time"

// Session is a bounded conversational context, the unit of isolation
// for ordering and caching. The identifier is immutable once created.
type Session struct {
	ID        string                 `json:"id"`
	UserID    string                 `json:"user_id,omitempty"`
	Active    bool                   `json:"active"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// Message is one conversation turn. Within a session, messages are
// totally ordered by Seq; wall-clock timestamps may tie and are never
// authoritative. Messages are immutable once written.
type Message struct {
	ID        string                 `json:"id"`
	SessionID string                 `json:"session_id"`
	Seq       int64                  `json:"seq"`
	Role      string                 `json:"role"` // user, assistant, tool
	Content   string                 `json:"content"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// Embedding is a fixed-dimension vector derived from message or
// document content, always stored with its source text.
type Embedding struct {
	ID        string                 `json:"id"`
	SessionID string                 `json:"session_id"`
	UserID    string                 `json:"user_id,omitempty"`
	Content   string                 `json:"content"`
	Vector    []float32              `json:"vector"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// Task statuses. Transitions move forward only; cancelled is reachable
// from any non-terminal state; done and cancelled are final.
const (
	TaskPending    = "pending"
	TaskInProgress = "in_progress"
	TaskDone       = "done"
	TaskCancelled  = "cancelled"
)

// Task priorities.
const (
	PriorityLow    = "low"
	PriorityNormal = "normal"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// Task is a reminder or to-do item linked to a session.
type Task struct {
	ID          string     `json:"id"`
	SessionID   string     `json:"session_id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      string     `json:"status"`
	Priority    string     `json:"priority"`
	DueAt       *time.Time `json:"due_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Event is a calendar entry linked to a session. EndsAt is strictly
// after StartsAt. Attendee order is irrelevant.
type Event struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	StartsAt    time.Time `json:"starts_at"`
	EndsAt      time.Time `json:"ends_at"`
	Attendees   []string  `json:"attendees,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Action statuses.
const (
	ActionSuccess = "success"
	ActionFailure = "failure"
	ActionTimeout = "timeout"
)

// ActionLogEntry records one tool invocation. Entries are append-only
// and never mutated by normal operation.
type ActionLogEntry struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	ActionType string    `json:"action_type"`
	ToolName   string    `json:"tool_name"`
	Input      string    `json:"input,omitempty"`
	Output     string    `json:"output,omitempty"`
	Status     string    `json:"status"`
	DurationMs int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}
