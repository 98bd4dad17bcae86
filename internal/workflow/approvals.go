package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// ApprovalDecision is the content of an approval marker file dropped
// into the approvals directory by a human (or the approve/discard CLI
// commands).
type ApprovalDecision struct {
	Actor    string `json:"actor"`
	Decision string `json:"decision"` // approve | discard
	Reason   string `json:"reason,omitempty"`
}

// ApprovalFile returns the marker path for a workflow's current stage.
func ApprovalFile(dir, workflowID string, stageIndex int) string {
	return filepath.Join(dir, fmt.Sprintf("%s-%d.json", workflowID, stageIndex))
}

// WriteApproval drops an approval marker for the watcher to pick up.
func WriteApproval(dir, workflowID string, stageIndex int, d ApprovalDecision) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(d)
	if err != nil {
		return err
	}
	return os.WriteFile(ApprovalFile(dir, workflowID, stageIndex), data, 0o644)
}

// WaitForApproval blocks at a human_approval gate until a marker file
// for the current stage appears, then applies the decision. The
// approval wait timeout comes from the context; 0 means wait forever.
func (e *Engine) WaitForApproval(ctx context.Context, wf *Workflow) error {
	stage := wf.Current()
	if stage == nil || stage.Gate.Type != GateHumanApproval {
		return fmt.Errorf("workflow %s is not at a human_approval gate", wf.ID)
	}

	dir := e.cfg.Workflow.ApprovalsDir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	marker := ApprovalFile(dir, wf.ID, wf.StageIndex)

	// The marker may already exist before the watch starts.
	if d, ok := readApproval(marker); ok {
		return e.applyDecision(ctx, wf, marker, d)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create approval watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch approvals dir: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("approval watcher closed")
			}
			if ev.Name != marker || !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			if d, ok := readApproval(marker); ok {
				return e.applyDecision(ctx, wf, marker, d)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("approval watcher closed")
			}
			e.logger.Warn("approval_watcher_error", map[string]interface{}{
				"workflow": wf.ID,
				"error":    err.Error(),
			})
		}
	}
}

func readApproval(path string) (ApprovalDecision, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ApprovalDecision{}, false
	}
	var d ApprovalDecision
	if err := json.Unmarshal(data, &d); err != nil {
		return ApprovalDecision{}, false
	}
	if d.Decision == "" {
		return ApprovalDecision{}, false
	}
	return d, true
}

func (e *Engine) applyDecision(ctx context.Context, wf *Workflow, marker string, d ApprovalDecision) error {
	defer os.Remove(marker)
	switch d.Decision {
	case "approve":
		return e.Approve(ctx, wf, d.Actor)
	case "discard":
		return e.Discard(wf, d.Actor, d.Reason)
	default:
		return fmt.Errorf("unknown approval decision %q", d.Decision)
	}
}
