package workflow

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jlneal/choragen-sub010/internal/config"
	"github.com/jlneal/choragen-sub010/internal/store"
)

func writeTemplate(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name+".yaml"), []byte(content), 0o644); err != nil {
		t.Fatalf("write template: %v", err)
	}
}

func testEngine(t *testing.T, tasks store.Store) (*Engine, *config.Config) {
	t.Helper()
	cfg := config.New()
	cfg.Workflow.TemplatesDir = t.TempDir()
	cfg.Workflow.ApprovalsDir = t.TempDir()
	cfg.Roles = map[string]config.Role{
		"implementer": {AllowedTools: []string{"fs:read"}},
	}
	st, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	return NewEngine(cfg, st, nil, tasks, nil), cfg
}

func TestAutoGatesRunEndToEnd(t *testing.T) {
	e, cfg := testEngine(t, nil)
	writeTemplate(t, cfg.Workflow.TemplatesDir, "pipeline", `
name: pipeline
stages:
  - name: design
    gate: {type: auto}
  - name: implement
    gate: {type: auto}
  - name: finish
    gate: {type: auto}
`)

	wf, err := e.Start(context.Background(), "pipeline", "")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := e.Run(context.Background(), wf); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if wf.Status != StatusCompleted {
		t.Errorf("status = %s, want completed", wf.Status)
	}
	for _, s := range wf.Stages {
		if s.State != StageCompleted {
			t.Errorf("stage %s state = %s", s.Name, s.State)
		}
		if !s.Gate.Satisfied {
			t.Errorf("stage %s gate unsatisfied", s.Name)
		}
	}
}

func TestHumanApprovalGate(t *testing.T) {
	e, cfg := testEngine(t, nil)
	writeTemplate(t, cfg.Workflow.TemplatesDir, "review", `
name: review
stages:
  - name: propose
    gate: {type: auto}
  - name: approve
    gate: {type: human_approval, allow_discard: true}
  - name: land
    gate: {type: auto}
`)

	wf, err := e.Start(context.Background(), "review", "")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	// First advance completes the auto stage and parks at the gate.
	if err := e.Advance(context.Background(), wf); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if err := e.Advance(context.Background(), wf); !errors.Is(err, ErrGatePending) {
		t.Fatalf("want ErrGatePending, got %v", err)
	}
	if wf.Current().Name != "approve" || wf.Current().State != StageAwaitingGate {
		t.Fatalf("stage = %s/%s", wf.Current().Name, wf.Current().State)
	}

	if err := e.Approve(context.Background(), wf, "alice"); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if wf.Stages[1].Gate.SatisfiedBy != "alice" {
		t.Errorf("satisfied_by = %s", wf.Stages[1].Gate.SatisfiedBy)
	}
	if err := e.Run(context.Background(), wf); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if wf.Status != StatusCompleted {
		t.Errorf("status = %s", wf.Status)
	}
}

func TestDiscardRecordsReasonAndNeverAdvances(t *testing.T) {
	e, cfg := testEngine(t, nil)
	writeTemplate(t, cfg.Workflow.TemplatesDir, "review", `
name: review
stages:
  - name: approve
    gate: {type: human_approval, allow_discard: true}
  - name: land
    gate: {type: auto}
`)

	wf, err := e.Start(context.Background(), "review", "")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := e.Advance(context.Background(), wf); !errors.Is(err, ErrGatePending) {
		t.Fatalf("want ErrGatePending, got %v", err)
	}

	if err := e.Discard(wf, "bob", "wrong approach entirely"); err != nil {
		t.Fatalf("Discard: %v", err)
	}
	if wf.Status != StatusDiscarded {
		t.Errorf("status = %s, want discarded", wf.Status)
	}
	if !wf.LogContains("wrong approach entirely") {
		t.Error("discard reason missing from message log")
	}
	if err := e.Advance(context.Background(), wf); err == nil {
		t.Error("a discarded workflow must never advance")
	}
	if wf.Stages[1].State != StagePending {
		t.Errorf("later stage state = %s", wf.Stages[1].State)
	}
}

func TestDiscardRequiresAllowDiscard(t *testing.T) {
	e, cfg := testEngine(t, nil)
	writeTemplate(t, cfg.Workflow.TemplatesDir, "strict", `
name: strict
stages:
  - name: approve
    gate: {type: human_approval}
`)
	wf, _ := e.Start(context.Background(), "strict", "")
	e.Advance(context.Background(), wf)
	if err := e.Discard(wf, "bob", "nope"); err == nil {
		t.Error("discard must be rejected when the gate does not allow it")
	}
}

func TestVerificationGateNamesFailingCommand(t *testing.T) {
	e, cfg := testEngine(t, nil)
	writeTemplate(t, cfg.Workflow.TemplatesDir, "verify", `
name: verify
stages:
  - name: check
    gate:
      type: verification_pass
      commands: ["true", "exit 7"]
`)

	wf, err := e.Start(context.Background(), "verify", "")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	err = e.Advance(context.Background(), wf)
	var verr *VerificationError
	if !errors.As(err, &verr) {
		t.Fatalf("want VerificationError, got %v", err)
	}
	if verr.Command != "exit 7" {
		t.Errorf("failing command = %q", verr.Command)
	}
	// The gate stays unsatisfied and the workflow stays healthy.
	if wf.Current().Gate.Satisfied {
		t.Error("gate must stay unsatisfied")
	}
	if wf.Status != StatusActive {
		t.Errorf("status = %s, want active", wf.Status)
	}
}

func TestVerificationGatePasses(t *testing.T) {
	e, cfg := testEngine(t, nil)
	writeTemplate(t, cfg.Workflow.TemplatesDir, "verify", `
name: verify
stages:
  - name: check
    gate:
      type: verification_pass
      commands: ["true"]
`)
	wf, _ := e.Start(context.Background(), "verify", "")
	if err := e.Run(context.Background(), wf); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if wf.Status != StatusCompleted {
		t.Errorf("status = %s", wf.Status)
	}
	if wf.Stages[0].Gate.SatisfiedBy != "verification" {
		t.Errorf("satisfied_by = %s", wf.Stages[0].Gate.SatisfiedBy)
	}
}

func TestChainCompleteGate(t *testing.T) {
	tasks := store.NewMemoryStore()
	ctx := context.Background()
	req, _ := tasks.CreateRequest(ctx, "r", "")
	ch, _ := tasks.CreateChain(ctx, req.ID, "c", nil)
	task, _ := tasks.CreateTask(ctx, ch.ID, "t", "", "implementer", nil)

	e, cfg := testEngine(t, tasks)
	writeTemplate(t, cfg.Workflow.TemplatesDir, "chained", `
name: chained
stages:
  - name: execute
    gate: {type: chain_complete}
`)

	wf, err := e.Start(ctx, "chained", ch.ID)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := e.Advance(ctx, wf); !errors.Is(err, ErrGatePending) {
		t.Fatalf("want ErrGatePending while tasks are open, got %v", err)
	}

	for _, s := range []string{"todo", "in-progress", "in-review", "done"} {
		if err := tasks.TransitionTask(ctx, task.ID, s, ""); err != nil {
			t.Fatalf("transition to %s: %v", s, err)
		}
	}
	if err := e.Advance(ctx, wf); err != nil {
		t.Fatalf("Advance after chain done: %v", err)
	}
	if wf.Status != StatusCompleted {
		t.Errorf("status = %s", wf.Status)
	}
}

func TestPostCommitHookDoesNotBlock(t *testing.T) {
	e, cfg := testEngine(t, nil)
	marker := filepath.Join(t.TempDir(), "hook-ran")
	writeTemplate(t, cfg.Workflow.TemplatesDir, "hooked", `
name: hooked
stages:
  - name: commit
    gate:
      type: post_commit
      commands: ["touch `+marker+`"]
`)

	wf, _ := e.Start(context.Background(), "hooked", "")
	if err := e.Run(context.Background(), wf); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if wf.Status != StatusCompleted {
		t.Errorf("post_commit gate must not hold up advancement, status = %s", wf.Status)
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		if _, err := os.Stat(marker); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("post_commit hook never ran")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestStructuralErrorFailsWorkflow(t *testing.T) {
	e, cfg := testEngine(t, nil)
	writeTemplate(t, cfg.Workflow.TemplatesDir, "broken", `
name: broken
stages:
  - name: work
    role: ghost
    gate: {type: auto}
`)

	wf, err := e.Start(context.Background(), "broken", "")
	var serr *StructuralError
	if !errors.As(err, &serr) {
		t.Fatalf("want StructuralError, got %v", err)
	}
	if wf.Status != StatusFailed {
		t.Errorf("status = %s, want failed", wf.Status)
	}
	if !wf.LogContains("ghost") {
		t.Error("failure reason missing from message log")
	}
}

func TestPauseResumePreserveState(t *testing.T) {
	e, cfg := testEngine(t, nil)
	writeTemplate(t, cfg.Workflow.TemplatesDir, "review", `
name: review
stages:
  - name: first
    gate: {type: auto}
  - name: approve
    gate: {type: human_approval}
`)

	wf, _ := e.Start(context.Background(), "review", "")
	e.Advance(context.Background(), wf)
	e.Advance(context.Background(), wf) // parks at the approval gate

	if err := e.Pause(wf); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if err := e.Advance(context.Background(), wf); err == nil {
		t.Error("a paused workflow must not advance")
	}

	reloaded, err := e.Load(wf.ID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if reloaded.Status != StatusPaused || reloaded.StageIndex != 1 {
		t.Errorf("reloaded status=%s index=%d", reloaded.Status, reloaded.StageIndex)
	}
	if reloaded.Stages[1].State != StageAwaitingGate {
		t.Errorf("stage state = %s", reloaded.Stages[1].State)
	}

	if err := e.Resume(reloaded); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if err := e.Approve(context.Background(), reloaded, "carol"); err != nil {
		t.Fatalf("Approve after resume: %v", err)
	}
	if reloaded.Status != StatusCompleted {
		t.Errorf("status = %s", reloaded.Status)
	}
}

func TestCancelIsTerminal(t *testing.T) {
	e, cfg := testEngine(t, nil)
	writeTemplate(t, cfg.Workflow.TemplatesDir, "simple", `
name: simple
stages:
  - name: only
    gate: {type: human_approval}
`)
	wf, _ := e.Start(context.Background(), "simple", "")

	if err := e.Cancel(wf); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if wf.Status != StatusCancelled {
		t.Errorf("status = %s", wf.Status)
	}
	if err := e.Cancel(wf); err == nil {
		t.Error("cancelling twice must error")
	}
	if err := e.Resume(wf); err == nil {
		t.Error("a cancelled workflow must not resume")
	}
}

func TestApprovalWatcher(t *testing.T) {
	e, cfg := testEngine(t, nil)
	writeTemplate(t, cfg.Workflow.TemplatesDir, "watched", `
name: watched
stages:
  - name: approve
    gate: {type: human_approval}
`)
	wf, _ := e.Start(context.Background(), "watched", "")
	if err := e.Advance(context.Background(), wf); !errors.Is(err, ErrGatePending) {
		t.Fatalf("want ErrGatePending, got %v", err)
	}

	// Marker written before the wait starts is picked up immediately.
	if err := WriteApproval(cfg.Workflow.ApprovalsDir, wf.ID, 0, ApprovalDecision{
		Actor: "dave", Decision: "approve",
	}); err != nil {
		t.Fatalf("WriteApproval: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.WaitForApproval(ctx, wf); err != nil {
		t.Fatalf("WaitForApproval: %v", err)
	}
	if wf.Status != StatusCompleted {
		t.Errorf("status = %s", wf.Status)
	}
	if wf.Stages[0].Gate.SatisfiedBy != "dave" {
		t.Errorf("satisfied_by = %s", wf.Stages[0].Gate.SatisfiedBy)
	}
	if _, err := os.Stat(ApprovalFile(cfg.Workflow.ApprovalsDir, wf.ID, 0)); !os.IsNotExist(err) {
		t.Error("marker file should be removed after processing")
	}
}

func TestWorkflowPersistenceRoundTrip(t *testing.T) {
	st, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	tmpl := &Template{Name: "rt", Stages: []StageDef{
		{Name: "a", Gate: GateDef{Type: GateAuto}},
		{Name: "b", Role: "implementer", Gate: GateDef{Type: GateHumanApproval, AllowDiscard: true}},
	}}
	wf := NewWorkflow(tmpl, "ch-1")
	wf.StageIndex = 1
	wf.Stages[0].State = StageCompleted
	wf.Stages[0].Gate.Satisfied = true
	wf.Stages[1].State = StageAwaitingGate
	wf.Log("checkpoint")

	if err := st.Save(wf); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := st.Load(wf.ID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.StageIndex != 1 || got.ChainID != "ch-1" {
		t.Errorf("round trip: index=%d chain=%s", got.StageIndex, got.ChainID)
	}
	if !got.Stages[0].Gate.Satisfied || got.Stages[1].State != StageAwaitingGate {
		t.Error("gate state lost in round trip")
	}
	if !got.Stages[1].Gate.AllowDiscard {
		t.Error("allow_discard lost in round trip")
	}
	if !strings.Contains(got.Messages[len(got.Messages)-1].Text, "checkpoint") {
		t.Error("message log lost in round trip")
	}
}
