// Package store persists requests, chains, and tasks.
package store

import (
	"fmt"
	"time"
)

// Task statuses.
const (
	TaskBacklog    = "backlog"
	TaskTodo       = "todo"
	TaskInProgress = "in-progress"
	TaskInReview   = "in-review"
	TaskDone       = "done"
	TaskBlocked    = "blocked"
)

// Chain statuses.
const (
	ChainActive    = "active"
	ChainCompleted = "completed"
	ChainCancelled = "cancelled"
)

// Request statuses.
const (
	RequestOpen       = "open"
	RequestInProgress = "in-progress"
	RequestClosed     = "closed"
)

// Request is a unit of intake work that chains are created under.
type Request struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Chain is an ordered group of tasks working a declared file scope.
type Chain struct {
	ID        string    `json:"id"`
	RequestID string    `json:"request_id"`
	Title     string    `json:"title"`
	FileScope []string  `json:"file_scope"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Task is a single unit of agent work inside a chain.
type Task struct {
	ID            string    `json:"id"`
	ChainID       string    `json:"chain_id"`
	Title         string    `json:"title"`
	Description   string    `json:"description"`
	Role          string    `json:"role"`
	Status        string    `json:"status"`
	FileScope     []string  `json:"file_scope"`
	BlockedReason string    `json:"blocked_reason,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// legalTransitions is the task status transition table. blocked is a
// side state reachable from the two working states and returning to
// them.
var legalTransitions = map[string][]string{
	TaskBacklog:    {TaskTodo},
	TaskTodo:       {TaskInProgress, TaskBacklog},
	TaskInProgress: {TaskInReview, TaskBlocked},
	TaskInReview:   {TaskDone, TaskInProgress, TaskBlocked},
	TaskBlocked:    {TaskInProgress, TaskTodo},
	TaskDone:       {},
}

// ValidateTransition reports whether from -> to is a legal task status
// transition.
func ValidateTransition(from, to string) error {
	allowed, ok := legalTransitions[from]
	if !ok {
		return fmt.Errorf("unknown task status %q", from)
	}
	for _, s := range allowed {
		if s == to {
			return nil
		}
	}
	return fmt.Errorf("illegal task transition %s -> %s", from, to)
}
