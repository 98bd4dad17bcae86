package workflow

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/jlneal/choragen-sub010/internal/config"
	"github.com/jlneal/choragen-sub010/internal/events"
	"github.com/jlneal/choragen-sub010/internal/logging"
	"github.com/jlneal/choragen-sub010/internal/session"
	"github.com/jlneal/choragen-sub010/internal/store"
)

// ErrGatePending signals that the current gate is not yet satisfied.
// The workflow is healthy; the caller retries or waits for the input
// the gate needs.
var ErrGatePending = errors.New("gate not yet satisfied")

// VerificationError reports which verification command failed. The
// gate stays unsatisfied for retry; the workflow does not fail.
type VerificationError struct {
	Command string
	Output  string
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("verification command failed: %s", e.Command)
}

// Engine drives workflow instances: it enters stages, runs their agent
// sessions, evaluates gates, and persists every transition.
type Engine struct {
	cfg      *config.Config
	store    *FileStore
	sessions *session.Factory // optional; stages without sessions still work
	tasks    store.Store      // optional; backs chain_complete and scope binding
	events   events.Emitter
	logger   *logging.Logger
}

// NewEngine creates an engine. Sessions and tasks may be nil for
// workflows whose stages carry no role and no chain binding.
func NewEngine(cfg *config.Config, st *FileStore, sessions *session.Factory, tasks store.Store, emitter events.Emitter) *Engine {
	if emitter == nil {
		emitter = events.NopEmitter{}
	}
	return &Engine{
		cfg:      cfg,
		store:    st,
		sessions: sessions,
		tasks:    tasks,
		events:   emitter,
		logger:   logging.New().WithComponent("workflow"),
	}
}

// Start instantiates a template and enters its first stage.
func (e *Engine) Start(ctx context.Context, templateName, chainID string) (*Workflow, error) {
	t, err := LoadTemplateByName(e.cfg.Workflow.TemplatesDir, templateName)
	if err != nil {
		return nil, err
	}
	wf := NewWorkflow(t, chainID)
	wf.Log("workflow started from template %s", t.Name)
	e.emitStatus(wf)

	if err := e.enterStage(wf, 0); err != nil {
		e.failWorkflow(wf, err)
		return wf, err
	}
	if err := e.store.Save(wf); err != nil {
		return nil, err
	}
	return wf, nil
}

// Load reloads a persisted workflow.
func (e *Engine) Load(id string) (*Workflow, error) {
	return e.store.Load(id)
}

// enterStage validates and activates the stage at index i. A stage
// whose role cannot be resolved is a structural error.
func (e *Engine) enterStage(wf *Workflow, i int) error {
	if i < 0 || i >= len(wf.Stages) {
		return &StructuralError{Reason: fmt.Sprintf("stage index %d out of range", i)}
	}
	stage := &wf.Stages[i]
	if stage.Role != "" {
		if _, err := e.cfg.GetRole(stage.Role); err != nil {
			return &StructuralError{Stage: stage.Name, Reason: err.Error()}
		}
	}
	wf.StageIndex = i
	stage.State = StageActive
	wf.Log("stage %s entered", stage.Name)
	e.logger.StageTransition(wf.ID, i, stage.Name, StageActive)
	e.events.Emit(events.Event{
		Type:       events.TypeStageEntered,
		WorkflowID: wf.ID,
		ChainID:    wf.ChainID,
		Data:       map[string]interface{}{"stage": stage.Name, "index": i},
	})
	return nil
}

// Advance drives the current stage as far as it can go: run the
// stage's agent session if one is bound, then evaluate the gate. It
// returns ErrGatePending when the gate needs external input, a
// *VerificationError when verification failed, and nil when the stage
// completed (possibly completing the workflow).
func (e *Engine) Advance(ctx context.Context, wf *Workflow) error {
	if wf.Terminal() {
		return fmt.Errorf("workflow %s is %s", wf.ID, wf.Status)
	}
	if wf.Status == StatusPaused {
		return fmt.Errorf("workflow %s is paused", wf.ID)
	}
	stage := wf.Current()
	if stage == nil {
		return e.complete(wf)
	}

	if stage.State == StageActive {
		if err := e.runStageSession(ctx, wf, stage); err != nil {
			e.failWorkflow(wf, err)
			return err
		}
		stage.State = StageAwaitingGate
		e.logger.StageTransition(wf.ID, wf.StageIndex, stage.Name, StageAwaitingGate)
		if err := e.store.Save(wf); err != nil {
			return err
		}
	}

	if !stage.Gate.Satisfied {
		if err := e.evaluateGate(ctx, wf, stage); err != nil {
			// Gate-pending and verification failures leave the
			// workflow healthy; anything else fails it.
			var verr *VerificationError
			if errors.Is(err, ErrGatePending) || errors.As(err, &verr) {
				e.store.Save(wf)
				return err
			}
			e.failWorkflow(wf, err)
			return err
		}
	}

	return e.completeStage(ctx, wf, stage)
}

// runStageSession runs the stage's agent session, bound to the
// workflow, stage type, and the chain's aggregated file scope.
func (e *Engine) runStageSession(ctx context.Context, wf *Workflow, stage *Stage) error {
	if stage.Role == "" || e.sessions == nil {
		return nil
	}
	runner, err := e.sessions.Runner(stage.Role)
	if err != nil {
		return &StructuralError{Stage: stage.Name, Reason: err.Error()}
	}

	goal := stage.Goal
	if goal == "" {
		goal = fmt.Sprintf("Complete the %s stage of workflow %s.", stage.Name, wf.ID)
	}
	sess := session.NewSession(stage.Role, e.cfg.RoleLLM(stage.Role).Model, goal)
	sess.WorkflowID = wf.ID
	sess.StageIndex = wf.StageIndex
	sess.Stage = stage.Type
	sess.ChainID = wf.ChainID
	if wf.ChainID != "" && e.tasks != nil {
		if scope, err := e.tasks.AggregateFileScope(ctx, wf.ChainID); err == nil {
			sess.TaskScope = scope
		}
	}
	stage.SessionID = sess.ID

	res, err := runner.Run(ctx, sess)
	if err != nil {
		return fmt.Errorf("stage %s session failed: %w", stage.Name, err)
	}
	wf.Log("stage %s session %s completed in %d turns", stage.Name, sess.ID, res.Turns)
	return nil
}

// evaluateGate checks the current gate once. Satisfaction rules differ
// by type; human_approval and chain_complete gates report pending
// until their external input arrives.
func (e *Engine) evaluateGate(ctx context.Context, wf *Workflow, stage *Stage) error {
	switch stage.Gate.Type {
	case GateAuto, GatePostCommit:
		// post_commit never blocks; its commands fire on stage exit.
		e.satisfyGate(wf, stage, "system")
		return nil

	case GateHumanApproval:
		return ErrGatePending

	case GateChainComplete:
		if e.tasks == nil || wf.ChainID == "" {
			return &StructuralError{Stage: stage.Name, Reason: "chain_complete gate requires a bound chain"}
		}
		tasks, err := e.tasks.ListTasks(ctx, wf.ChainID)
		if err != nil {
			return err
		}
		if len(tasks) == 0 {
			return ErrGatePending
		}
		for _, t := range tasks {
			if t.Status != store.TaskDone {
				return ErrGatePending
			}
		}
		e.satisfyGate(wf, stage, "events")
		return nil

	case GateVerificationPass:
		for _, cmd := range stage.Gate.Commands {
			if err := e.runVerification(ctx, cmd); err != nil {
				wf.Log("stage %s verification failed: %s", stage.Name, cmd)
				return &VerificationError{Command: cmd, Output: err.Error()}
			}
		}
		e.satisfyGate(wf, stage, "verification")
		return nil

	default:
		return &StructuralError{Stage: stage.Name, Reason: fmt.Sprintf("unknown gate type %q", stage.Gate.Type)}
	}
}

func (e *Engine) runVerification(ctx context.Context, command string) error {
	timeout := time.Duration(e.cfg.Timeouts.Verification) * time.Second
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = e.cfg.Project.Root
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %s", err, string(out))
	}
	return nil
}

func (e *Engine) satisfyGate(wf *Workflow, stage *Stage, actor string) {
	stage.Gate.Satisfied = true
	stage.Gate.SatisfiedBy = actor
	stage.Gate.SatisfiedAt = time.Now().UTC()
	wf.Log("stage %s gate (%s) satisfied by %s", stage.Name, stage.Gate.Type, actor)
	e.logger.GateSatisfied(wf.ID, wf.StageIndex, stage.Gate.Type, actor)
	e.events.Emit(events.Event{
		Type:       events.TypeGateSatisfied,
		WorkflowID: wf.ID,
		ChainID:    wf.ChainID,
		Data: map[string]interface{}{
			"stage": stage.Name,
			"gate":  stage.Gate.Type,
			"actor": actor,
		},
	})
}

// completeStage closes out a satisfied stage, fires post_commit hooks
// without blocking, and enters the next stage or completes the
// workflow.
func (e *Engine) completeStage(ctx context.Context, wf *Workflow, stage *Stage) error {
	stage.State = StageCompleted
	e.logger.StageTransition(wf.ID, wf.StageIndex, stage.Name, StageCompleted)
	e.events.Emit(events.Event{
		Type:       events.TypeStageCompleted,
		WorkflowID: wf.ID,
		ChainID:    wf.ChainID,
		Data:       map[string]interface{}{"stage": stage.Name},
	})

	if stage.Gate.Type == GatePostCommit && len(stage.Gate.Commands) > 0 {
		go e.firePostCommit(wf.ID, stage.Name, stage.Gate.Commands)
	}

	next := wf.StageIndex + 1
	if next >= len(wf.Stages) {
		return e.complete(wf)
	}
	if err := e.enterStage(wf, next); err != nil {
		e.failWorkflow(wf, err)
		return err
	}
	return e.store.Save(wf)
}

// firePostCommit runs stage-exit hook commands. Failures are logged
// and never affect the workflow.
func (e *Engine) firePostCommit(wfID, stageName string, commands []string) {
	for _, command := range commands {
		cmd := exec.Command("sh", "-c", command)
		cmd.Dir = e.cfg.Project.Root
		if out, err := cmd.CombinedOutput(); err != nil {
			e.logger.Warn("post_commit_hook_failed", map[string]interface{}{
				"workflow": wfID,
				"stage":    stageName,
				"command":  command,
				"error":    err.Error(),
				"output":   string(out),
			})
		}
	}
}

func (e *Engine) complete(wf *Workflow) error {
	wf.Status = StatusCompleted
	wf.Log("workflow completed")
	e.emitStatus(wf)
	return e.store.Save(wf)
}

func (e *Engine) failWorkflow(wf *Workflow, cause error) {
	wf.Status = StatusFailed
	wf.Log("workflow failed: %v", cause)
	e.emitStatus(wf)
	if err := e.store.Save(wf); err != nil {
		e.logger.Error("failed to persist failed workflow", map[string]interface{}{
			"workflow": wf.ID,
			"error":    err.Error(),
		})
	}
}

func (e *Engine) emitStatus(wf *Workflow) {
	e.events.Emit(events.Event{
		Type:       events.TypeWorkflowStatus,
		WorkflowID: wf.ID,
		ChainID:    wf.ChainID,
		Data:       map[string]interface{}{"status": wf.Status},
	})
}

// Run advances the workflow until it terminates or a gate needs
// external input.
func (e *Engine) Run(ctx context.Context, wf *Workflow) error {
	for !wf.Terminal() {
		if err := e.Advance(ctx, wf); err != nil {
			return err
		}
	}
	return nil
}

// Approve satisfies the current human_approval gate and advances.
func (e *Engine) Approve(ctx context.Context, wf *Workflow, actor string) error {
	stage := wf.Current()
	if stage == nil || wf.Terminal() {
		return fmt.Errorf("workflow %s has no stage awaiting approval", wf.ID)
	}
	if stage.Gate.Type != GateHumanApproval {
		return fmt.Errorf("stage %s gate is %s, not human_approval", stage.Name, stage.Gate.Type)
	}
	if stage.State != StageAwaitingGate {
		return fmt.Errorf("stage %s is not awaiting its gate", stage.Name)
	}
	if actor == "" {
		return fmt.Errorf("approval requires an actor")
	}
	e.satisfyGate(wf, stage, actor)
	return e.completeStage(ctx, wf, stage)
}

// Discard rejects the workflow at a human_approval gate that allows
// it. The workflow transitions directly to discarded with the reason
// recorded in its message log and never advances afterward.
func (e *Engine) Discard(wf *Workflow, actor, reason string) error {
	stage := wf.Current()
	if stage == nil || wf.Terminal() {
		return fmt.Errorf("workflow %s has no stage awaiting approval", wf.ID)
	}
	if stage.Gate.Type != GateHumanApproval || !stage.Gate.AllowDiscard {
		return fmt.Errorf("stage %s does not allow discard", stage.Name)
	}
	if reason == "" {
		return fmt.Errorf("discard requires a reason")
	}
	wf.Status = StatusDiscarded
	wf.Log("workflow discarded by %s: %s", actor, reason)
	e.emitStatus(wf)
	return e.store.Save(wf)
}

// Pause suspends an active workflow, preserving the stage index and
// gate state.
func (e *Engine) Pause(wf *Workflow) error {
	if wf.Status != StatusActive {
		return fmt.Errorf("cannot pause a %s workflow", wf.Status)
	}
	wf.Status = StatusPaused
	wf.Log("workflow paused")
	e.emitStatus(wf)
	return e.store.Save(wf)
}

// Resume reactivates a paused workflow.
func (e *Engine) Resume(wf *Workflow) error {
	if wf.Status != StatusPaused {
		return fmt.Errorf("cannot resume a %s workflow", wf.Status)
	}
	wf.Status = StatusActive
	wf.Log("workflow resumed")
	e.emitStatus(wf)
	return e.store.Save(wf)
}

// Cancel terminates the workflow from any non-terminal state.
func (e *Engine) Cancel(wf *Workflow) error {
	if wf.Terminal() {
		return fmt.Errorf("workflow %s is already %s", wf.ID, wf.Status)
	}
	wf.Status = StatusCancelled
	wf.Log("workflow cancelled")
	e.emitStatus(wf)
	return e.store.Save(wf)
}
