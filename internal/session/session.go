// Package session drives one agentic conversation: the turn loop that
// calls the provider, routes every requested tool call through the
// governance gate, and persists the message history after every turn.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jlneal/choragen-sub010/internal/llm"
)

// Status constants for sessions.
const (
	StatusRunning   = "running"
	StatusPaused    = "paused"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Session is one agentic conversation. The message history is
// append-only and persisted after every turn so a crashed or cancelled
// session can resume from the last durable point.
type Session struct {
	ID          string        `json:"id"`
	Role        string        `json:"role"`
	Model       string        `json:"model"`
	Goal        string        `json:"goal"`
	WorkflowID  string        `json:"workflow_id,omitempty"`
	StageIndex  int           `json:"stage_index,omitempty"`
	Stage       string        `json:"stage,omitempty"`
	TaskID      string        `json:"task_id,omitempty"`
	ChainID     string        `json:"chain_id,omitempty"`
	TaskScope   []string      `json:"task_scope,omitempty"`
	Messages    []llm.Message `json:"messages"`
	Turns       int           `json:"turns"`
	InputTokens int           `json:"input_tokens"`
	OutputTokens int          `json:"output_tokens"`
	Status      string        `json:"status"`
	Summary     string        `json:"summary,omitempty"`
	Error       string        `json:"error,omitempty"`
	FileChanges []string      `json:"file_changes"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`

	mu sync.Mutex
}

// NewSession creates a running session for a role and goal.
func NewSession(role, model, goal string) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:          "sess-" + uuid.NewString()[:8],
		Role:        role,
		Model:       model,
		Goal:        goal,
		Status:      StatusRunning,
		FileChanges: []string{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Append adds messages to the history. History is append-only;
// messages are never rewritten or removed.
func (s *Session) Append(msgs ...llm.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Messages = append(s.Messages, msgs...)
	s.UpdatedAt = time.Now().UTC()
}

// RecordFileChange records a path mutated by a successful tool call.
func (s *Session) RecordFileChange(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.FileChanges {
		if p == path {
			return
		}
	}
	s.FileChanges = append(s.FileChanges, path)
}

// Result is the outcome of a completed session run.
type Result struct {
	SessionID   string
	Success     bool
	Summary     string
	Turns       int
	FileChanges []string
	Err         error
}
