// Package workflow sequences a unit of work through ordered stages,
// each guarded by a gate that must be satisfied before the next stage
// becomes active.
package workflow

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Workflow statuses.
const (
	StatusActive    = "active"
	StatusPaused    = "paused"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
	StatusDiscarded = "discarded"
)

// Stage states.
const (
	StagePending      = "pending"
	StageActive       = "active"
	StageAwaitingGate = "awaiting_gate"
	StageCompleted    = "completed"
	StageSkipped      = "skipped"
)

// GateState is the runtime state of one stage's gate.
type GateState struct {
	Type         string    `json:"type"`
	Prompt       string    `json:"prompt,omitempty"`
	Commands     []string  `json:"commands,omitempty"`
	AllowDiscard bool      `json:"allow_discard,omitempty"`
	Satisfied    bool      `json:"satisfied"`
	SatisfiedBy  string    `json:"satisfied_by,omitempty"`
	SatisfiedAt  time.Time `json:"satisfied_at,omitempty"`
}

// Stage is the runtime state of one stage.
type Stage struct {
	Name      string    `json:"name"`
	Type      string    `json:"type,omitempty"`
	Role      string    `json:"role,omitempty"`
	Goal      string    `json:"goal,omitempty"`
	State     string    `json:"state"`
	Gate      GateState `json:"gate"`
	SessionID string    `json:"session_id,omitempty"`
}

// LogEntry is one line of the workflow's message log: stage entries,
// gate outcomes, failure and discard reasons.
type LogEntry struct {
	Time time.Time `json:"time"`
	Text string    `json:"text"`
}

// Workflow is one persisted workflow instance.
type Workflow struct {
	ID         string     `json:"id"`
	Template   string     `json:"template"`
	ChainID    string     `json:"chain_id,omitempty"`
	Status     string     `json:"status"`
	StageIndex int        `json:"stage_index"`
	Stages     []Stage    `json:"stages"`
	Messages   []LogEntry `json:"messages"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// NewWorkflow instantiates a template. All stages start pending; the
// first stage is entered by the engine, not here.
func NewWorkflow(t *Template, chainID string) *Workflow {
	now := time.Now().UTC()
	wf := &Workflow{
		ID:        "wf-" + uuid.NewString()[:8],
		Template:  t.Name,
		ChainID:   chainID,
		Status:    StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, s := range t.Stages {
		wf.Stages = append(wf.Stages, Stage{
			Name:  s.Name,
			Type:  s.Type,
			Role:  s.Role,
			Goal:  s.Goal,
			State: StagePending,
			Gate: GateState{
				Type:         s.Gate.Type,
				Prompt:       s.Gate.Prompt,
				Commands:     s.Gate.Commands,
				AllowDiscard: s.Gate.AllowDiscard,
			},
		})
	}
	return wf
}

// Current returns the stage at the current index, or nil past the end.
func (w *Workflow) Current() *Stage {
	if w.StageIndex < 0 || w.StageIndex >= len(w.Stages) {
		return nil
	}
	return &w.Stages[w.StageIndex]
}

// Terminal reports whether the workflow reached a terminal status.
func (w *Workflow) Terminal() bool {
	switch w.Status {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusDiscarded:
		return true
	}
	return false
}

// Log appends a line to the message log.
func (w *Workflow) Log(format string, args ...interface{}) {
	w.Messages = append(w.Messages, LogEntry{
		Time: time.Now().UTC(),
		Text: fmt.Sprintf(format, args...),
	})
	w.UpdatedAt = time.Now().UTC()
}

// LogContains reports whether any message log line contains s.
func (w *Workflow) LogContains(s string) bool {
	for _, e := range w.Messages {
		if strings.Contains(e.Text, s) {
			return true
		}
	}
	return false
}

// StructuralError marks a workflow-failing defect: a stage that cannot
// be entered, a malformed template, an unresolvable role.
type StructuralError struct {
	Stage  string
	Reason string
}

func (e *StructuralError) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("stage %s cannot be entered: %s", e.Stage, e.Reason)
	}
	return e.Reason
}

// FileStore persists one JSON record per workflow, re-loadable to
// resume a paused or interrupted workflow without re-deriving stage
// history.
type FileStore struct {
	dir string
}

// NewFileStore creates a store rooted at dir.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create workflow state dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Save writes the workflow atomically.
func (s *FileStore) Save(wf *Workflow) error {
	data, err := json.MarshalIndent(wf, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal workflow: %w", err)
	}
	filename := filepath.Join(s.dir, wf.ID+".json")
	tmpFile := filename + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0o644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmpFile, filename); err != nil {
		os.Remove(tmpFile)
		return fmt.Errorf("failed to rename workflow file: %w", err)
	}
	return nil
}

// Load reads a workflow back by id.
func (s *FileStore) Load(id string) (*Workflow, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, id+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("workflow not found: %s", id)
		}
		return nil, fmt.Errorf("failed to read workflow file: %w", err)
	}
	var wf Workflow
	if err := json.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow %s: %w", id, err)
	}
	return &wf, nil
}

// List returns all persisted workflow ids, sorted.
func (s *FileStore) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}
