// Package store defines the persistence interfaces and data types shared by
// the bot router, command handler, and agent loop. Implementations live in
// store/pg.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a row does not exist or a conditional update
// matched nothing (e.g. completing an already-completed task).
var ErrNotFound = errors.New("not found")

// GenNewID returns a new time-ordered UUID (v7) for row ids.
func GenNewID() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

// Task statuses. Transitions are one-way: pending → completed.
const (
	TaskStatusPending   = "pending"
	TaskStatusCompleted = "completed"
)

// Task priorities.
const (
	TaskPriorityP0 = "p0"
	TaskPriorityP1 = "p1"
	TaskPriorityP2 = "p2"
)

// Task is a tracked work item assigned to a platform user.
type Task struct {
	ID                    uuid.UUID
	Title                 string
	AssigneeOpenID        string
	AssigneeContact       string
	ReporterOpenID        string
	Deadline              *time.Time
	Status                string
	Priority              string
	ReminderIntervalHours int
	EstimatedHours        *float64
	LastRemindedAt        *time.Time
	Note                  string
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// User is a known chat-platform user. Tags group users for workload-based
// assignment; CapGrants/CapRevokes override the role's default capabilities.
type User struct {
	ID         uuid.UUID
	OpenID     string
	Email      string
	Name       string
	Role       string
	Tags       []string
	CapGrants  []string
	CapRevokes []string
	CreatedAt  time.Time
}

// UserWorkload pairs a user with their pending-task workload score.
type UserWorkload struct {
	User  User
	Hours float64
}

// DialogStateAwaitSelection is the only non-absent dialog state.
const DialogStateAwaitSelection = "await_selection"

// DialogSession is the persisted disambiguation state for one user key.
// Candidates are immutable once created; selection is an index into them.
type DialogSession struct {
	Key          string            `json:"key"`
	State        string            `json:"state"`
	Candidates   []DialogCandidate `json:"candidates"`
	PendingProof string            `json:"pending_proof,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

// DialogCandidate is one numbered choice shown to the user.
type DialogCandidate struct {
	ID    uuid.UUID `json:"id"`
	Title string    `json:"title"`
}

// ConversationMessage is one persisted turn of a chat's agent history.
type ConversationMessage struct {
	ID        uuid.UUID
	ChatID    string
	Role      string // "user" or "assistant"
	Content   string
	CreatedAt time.Time
}

// TaskStore persists tasks.
type TaskStore interface {
	CreateTask(ctx context.Context, task *Task) error
	GetTask(ctx context.Context, id uuid.UUID) (*Task, error)
	// ListPendingByAssignee returns pending tasks ordered by deadline
	// ascending (nulls last), then creation order.
	ListPendingByAssignee(ctx context.Context, openID string) ([]Task, error)
	// CompleteTask transitions pending → completed. Returns ErrNotFound if
	// the task does not exist or is not pending (no reopen, no double
	// completion).
	CompleteTask(ctx context.Context, id uuid.UUID, proof string) error
	DeleteTask(ctx context.Context, id uuid.UUID) error
}

// UserStore persists users.
type UserStore interface {
	GetByOpenID(ctx context.Context, openID string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	// SearchByName matches display names by substring.
	SearchByName(ctx context.Context, name string) ([]User, error)
	CreateUser(ctx context.Context, user *User) error
	// ListByTagWithWorkload returns users carrying the tag together with the
	// sum of estimated_hours (default 1.0 when unset) over their pending
	// tasks.
	ListByTagWithWorkload(ctx context.Context, tag string) ([]UserWorkload, error)
	// ListAll returns every known user (for the agent's user directory).
	ListAll(ctx context.Context) ([]User, error)
}

// SessionStore persists disambiguation dialog state with server-side expiry.
type SessionStore interface {
	// Get returns the live session for key, or nil when absent or expired.
	Get(ctx context.Context, key string) (*DialogSession, error)
	// Put upserts the session and advances its expiry by the store's TTL.
	Put(ctx context.Context, sess *DialogSession) error
	Delete(ctx context.Context, key string) error
}

// ConversationStore persists pruned per-chat agent history.
type ConversationStore interface {
	// Append adds one message and prunes the chat to the most recent limit
	// rows, atomically with respect to concurrent appends for the same chat.
	Append(ctx context.Context, msg *ConversationMessage, limit int) error
	// Recent returns up to limit messages for the chat in chronological order.
	Recent(ctx context.Context, chatID string, limit int) ([]ConversationMessage, error)
}

// Stores bundles every store implementation behind one wiring point.
type Stores struct {
	Tasks         TaskStore
	Users         UserStore
	Sessions      SessionStore
	Conversations ConversationStore
}
