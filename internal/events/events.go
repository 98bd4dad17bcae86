// Package events provides the in-process event stream: typed lifecycle
// events emitted by sessions, tools, and workflows, delivered in order
// per workflow to the state machine and fanned out to sinks.
package events

import (
	"time"
)

// Event types.
const (
	TypeSessionStarted   = "session.started"
	TypeSessionCompleted = "session.completed"
	TypeSessionFailed    = "session.failed"
	TypeToolExecuted     = "tool.executed"
	TypeToolDenied       = "tool.denied"
	TypeChainCreated     = "chain.created"
	TypeChainCompleted   = "chain.completed"
	TypeTaskTransition   = "task.transition"
	TypeStageEntered     = "workflow.stage_entered"
	TypeStageCompleted   = "workflow.stage_completed"
	TypeGateSatisfied    = "workflow.gate_satisfied"
	TypeWorkflowStatus   = "workflow.status"
	TypeLockAcquired     = "scope.lock_acquired"
	TypeLockReleased     = "scope.lock_released"
	TypeCommitCreated    = "git.commit_created"
)

// Event is a single lifecycle event. Identifier fields are set where
// they apply and empty otherwise.
type Event struct {
	Type       string                 `json:"type"`
	WorkflowID string                 `json:"workflow_id,omitempty"`
	ChainID    string                 `json:"chain_id,omitempty"`
	TaskID     string                 `json:"task_id,omitempty"`
	RequestID  string                 `json:"request_id,omitempty"`
	SessionID  string                 `json:"session_id,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
	Data       map[string]interface{} `json:"data,omitempty"`
}

// Sink receives every event that passes through the bus. Sink errors
// are logged and never propagate to the emitter.
type Sink interface {
	Write(ev Event) error
	Close() error
}

// Emitter is the producer-side interface. Emit is best-effort and
// non-blocking: a full bus drops the event with a warning rather than
// stalling an agent turn.
type Emitter interface {
	Emit(ev Event)
}

// NopEmitter discards all events.
type NopEmitter struct{}

func (NopEmitter) Emit(Event) {}
