// Package main defines the CLI structure using kong.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/jlneal/choragen-sub010/internal/replay"
	"github.com/jlneal/choragen-sub010/internal/scope"
	"github.com/jlneal/choragen-sub010/internal/workflow"
)

// CLI defines the command-line interface.
type CLI struct {
	Config  string `help:"Config file path (default: ./choragen.toml)" type:"path"`
	Verbose bool   `short:"v" help:"Enable debug logging"`

	Init     InitCmd     `cmd:"" help:"Scaffold a choragen project in a directory"`
	Session  SessionCmd  `cmd:"" help:"Run and inspect agent sessions"`
	Workflow WorkflowCmd `cmd:"" help:"Start and drive workflows"`
	Request  RequestCmd  `cmd:"" help:"Manage change requests"`
	Chain    ChainCmd    `cmd:"" help:"Manage chains, scopes, and conflicts"`
	Task     TaskCmd     `cmd:"" help:"Manage tasks"`
	Tools    ToolsCmd    `cmd:"" help:"List registered tools"`
	Version  VersionCmd  `cmd:"" help:"Show version information"`
}

// InitCmd scaffolds a project. Handled in main before the dependency
// graph is built, since there is nothing to load yet.
type InitCmd struct {
	Dir  string `arg:"" optional:"" default:"." help:"Project directory"`
	Name string `help:"Project name (default: directory name)"`
}

// SessionCmd groups session subcommands.
type SessionCmd struct {
	Run    SessionRunCmd    `cmd:"" help:"Run an agent session"`
	Resume SessionResumeCmd `cmd:"" help:"Resume a persisted session"`
	List   SessionListCmd   `cmd:"" help:"List persisted sessions"`
	Replay SessionReplayCmd `cmd:"" help:"Replay a persisted session log"`
}

// SessionReplayCmd renders a persisted session for review.
type SessionReplayCmd struct {
	ID      string `arg:"" help:"Session id"`
	Verbose bool   `help:"Show full tool results without truncation"`
}

func (c *SessionReplayCmd) Run(a *app) error {
	sess, err := a.sessStore.Load(c.ID)
	if err != nil {
		return err
	}
	replay.New(os.Stdout, c.Verbose).Render(sess)
	return nil
}

// SessionRunCmd runs one agent session to completion.
type SessionRunCmd struct {
	Role string `required:"" help:"Role to run the session under"`
	Goal string `arg:"" help:"Goal for the session"`
}

func (c *SessionRunCmd) Run(a *app) error {
	res, err := a.sessions.Start(context.Background(), c.Role, c.Goal)
	if err != nil {
		return err
	}
	fmt.Printf("session %s completed in %d turns\n", res.SessionID, res.Turns)
	if len(res.FileChanges) > 0 {
		fmt.Printf("changed files: %s\n", strings.Join(res.FileChanges, ", "))
	}
	fmt.Println(res.Summary)
	return nil
}

// SessionResumeCmd continues a session from its persisted history.
type SessionResumeCmd struct {
	ID string `arg:"" help:"Session id"`
}

func (c *SessionResumeCmd) Run(a *app) error {
	res, err := a.sessions.Resume(context.Background(), c.ID)
	if err != nil {
		return err
	}
	fmt.Printf("session %s completed in %d turns\n", res.SessionID, res.Turns)
	fmt.Println(res.Summary)
	return nil
}

// SessionListCmd lists persisted sessions.
type SessionListCmd struct{}

func (c *SessionListCmd) Run(a *app) error {
	ids, err := a.sessStore.List()
	if err != nil {
		return err
	}
	for _, id := range ids {
		fmt.Println(id)
	}
	return nil
}

// WorkflowCmd groups workflow subcommands.
type WorkflowCmd struct {
	Start   WorkflowStartCmd   `cmd:"" help:"Start a workflow from a template"`
	Advance WorkflowAdvanceCmd `cmd:"" help:"Advance a workflow until a gate needs input"`
	Approve WorkflowApproveCmd `cmd:"" help:"Approve the current human_approval gate"`
	Discard WorkflowDiscardCmd `cmd:"" help:"Discard the workflow at an approval gate"`
	Pause   WorkflowPauseCmd   `cmd:"" help:"Pause an active workflow"`
	Resume  WorkflowResumeCmd  `cmd:"" help:"Resume a paused workflow"`
	Cancel  WorkflowCancelCmd  `cmd:"" help:"Cancel a workflow"`
	Show    WorkflowShowCmd    `cmd:"" help:"Show a workflow's state"`
}

// WorkflowStartCmd starts a workflow.
type WorkflowStartCmd struct {
	Template string `arg:"" help:"Template name"`
	Chain    string `help:"Chain id to bind"`
	Wait     bool   `help:"Drive the workflow, waiting at approval and chain gates"`
}

func (c *WorkflowStartCmd) Run(a *app) error {
	ctx := context.Background()
	wf, err := a.engine.Start(ctx, c.Template, c.Chain)
	if err != nil {
		return err
	}
	fmt.Printf("workflow %s started (template %s)\n", wf.ID, wf.Template)
	if c.Wait {
		return driveWorkflow(ctx, a, wf)
	}
	return advanceOnce(ctx, a, wf)
}

// WorkflowAdvanceCmd advances a workflow as far as its gates allow.
type WorkflowAdvanceCmd struct {
	ID   string `arg:"" help:"Workflow id"`
	Wait bool   `help:"Wait at approval and chain gates instead of returning"`
}

func (c *WorkflowAdvanceCmd) Run(a *app) error {
	ctx := context.Background()
	wf, err := a.engine.Load(c.ID)
	if err != nil {
		return err
	}
	if c.Wait {
		return driveWorkflow(ctx, a, wf)
	}
	return advanceOnce(ctx, a, wf)
}

// advanceOnce advances until a gate reports pending, then prints where
// the workflow stopped.
func advanceOnce(ctx context.Context, a *app, wf *workflow.Workflow) error {
	for !wf.Terminal() {
		err := a.engine.Advance(ctx, wf)
		if err == nil {
			continue
		}
		if errors.Is(err, workflow.ErrGatePending) {
			stage := wf.Current()
			fmt.Printf("workflow %s waiting at stage %s (%s gate)\n", wf.ID, stage.Name, stage.Gate.Type)
			return nil
		}
		var verr *workflow.VerificationError
		if errors.As(err, &verr) {
			fmt.Printf("workflow %s verification failed: %s\n", wf.ID, verr.Command)
			return nil
		}
		return err
	}
	fmt.Printf("workflow %s is %s\n", wf.ID, wf.Status)
	return nil
}

// driveWorkflow advances the workflow to a terminal status, blocking
// at human_approval and chain_complete gates until their input
// arrives.
func driveWorkflow(ctx context.Context, a *app, wf *workflow.Workflow) error {
	for !wf.Terminal() {
		err := a.engine.Advance(ctx, wf)
		if err == nil {
			continue
		}
		if errors.Is(err, workflow.ErrGatePending) {
			stage := wf.Current()
			switch stage.Gate.Type {
			case workflow.GateHumanApproval:
				fmt.Printf("waiting for approval of stage %s (drop a marker in %s)\n",
					stage.Name, a.cfg.Workflow.ApprovalsDir)
				if err := a.engine.WaitForApproval(ctx, wf); err != nil {
					return err
				}
			case workflow.GateChainComplete:
				fmt.Printf("waiting for chain %s to complete\n", wf.ChainID)
				if err := a.engine.WaitForChainComplete(ctx, a.bus, wf); err != nil {
					return err
				}
			default:
				return fmt.Errorf("stage %s gate %s is pending with no input source", stage.Name, stage.Gate.Type)
			}
			continue
		}
		var verr *workflow.VerificationError
		if errors.As(err, &verr) {
			return fmt.Errorf("verification failed at %s: %s", wf.Current().Name, verr.Command)
		}
		return err
	}
	fmt.Printf("workflow %s is %s\n", wf.ID, wf.Status)
	return nil
}

// WorkflowApproveCmd satisfies a human_approval gate.
type WorkflowApproveCmd struct {
	ID    string `arg:"" help:"Workflow id"`
	Actor string `required:"" help:"Who is approving"`
}

func (c *WorkflowApproveCmd) Run(a *app) error {
	wf, err := a.engine.Load(c.ID)
	if err != nil {
		return err
	}
	if err := a.engine.Approve(context.Background(), wf, c.Actor); err != nil {
		return err
	}
	fmt.Printf("workflow %s approved by %s, now at stage %d (%s)\n",
		wf.ID, c.Actor, wf.StageIndex, wf.Status)
	return nil
}

// WorkflowDiscardCmd discards the workflow with a reason.
type WorkflowDiscardCmd struct {
	ID     string `arg:"" help:"Workflow id"`
	Actor  string `required:"" help:"Who is discarding"`
	Reason string `required:"" help:"Why the work is discarded"`
}

func (c *WorkflowDiscardCmd) Run(a *app) error {
	wf, err := a.engine.Load(c.ID)
	if err != nil {
		return err
	}
	if err := a.engine.Discard(wf, c.Actor, c.Reason); err != nil {
		return err
	}
	fmt.Printf("workflow %s discarded\n", wf.ID)
	return nil
}

// WorkflowPauseCmd pauses a workflow.
type WorkflowPauseCmd struct {
	ID string `arg:"" help:"Workflow id"`
}

func (c *WorkflowPauseCmd) Run(a *app) error {
	wf, err := a.engine.Load(c.ID)
	if err != nil {
		return err
	}
	return a.engine.Pause(wf)
}

// WorkflowResumeCmd resumes a paused workflow.
type WorkflowResumeCmd struct {
	ID string `arg:"" help:"Workflow id"`
}

func (c *WorkflowResumeCmd) Run(a *app) error {
	wf, err := a.engine.Load(c.ID)
	if err != nil {
		return err
	}
	return a.engine.Resume(wf)
}

// WorkflowCancelCmd cancels a workflow.
type WorkflowCancelCmd struct {
	ID string `arg:"" help:"Workflow id"`
}

func (c *WorkflowCancelCmd) Run(a *app) error {
	wf, err := a.engine.Load(c.ID)
	if err != nil {
		return err
	}
	return a.engine.Cancel(wf)
}

// WorkflowShowCmd prints a workflow as JSON.
type WorkflowShowCmd struct {
	ID string `arg:"" help:"Workflow id"`
}

func (c *WorkflowShowCmd) Run(a *app) error {
	wf, err := a.engine.Load(c.ID)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(wf, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// RequestCmd groups request subcommands.
type RequestCmd struct {
	Create RequestCreateCmd `cmd:"" help:"Create a change request"`
	List   RequestListCmd   `cmd:"" help:"List change requests"`
}

// RequestCreateCmd creates a change request.
type RequestCreateCmd struct {
	Title       string `arg:"" help:"Request title"`
	Description string `help:"Longer description"`
}

func (c *RequestCreateCmd) Run(a *app) error {
	req, err := a.store.CreateRequest(context.Background(), c.Title, c.Description)
	if err != nil {
		return err
	}
	fmt.Println(req.ID)
	return nil
}

// RequestListCmd lists change requests.
type RequestListCmd struct{}

func (c *RequestListCmd) Run(a *app) error {
	reqs, err := a.store.ListRequests(context.Background())
	if err != nil {
		return err
	}
	for _, r := range reqs {
		fmt.Printf("%s\t%s\t%s\n", r.ID, r.Status, r.Title)
	}
	return nil
}

// ChainCmd groups chain subcommands.
type ChainCmd struct {
	Create    ChainCreateCmd    `cmd:"" help:"Create a chain under a request"`
	Scope     ChainScopeCmd     `cmd:"" help:"Show a chain's aggregated file scope"`
	Conflicts ChainConflictsCmd `cmd:"" help:"Detect scope conflicts between chains"`
	Spawn     ChainSpawnCmd     `cmd:"" help:"Run workflows for chains in parallel under scope locks"`
}

// ChainCreateCmd creates a chain.
type ChainCreateCmd struct {
	Request string   `required:"" help:"Parent request id"`
	Title   string   `arg:"" help:"Chain title"`
	Scope   []string `help:"File scope glob patterns (repeatable)"`
}

func (c *ChainCreateCmd) Run(a *app) error {
	if err := scope.ValidatePatterns(c.Scope); err != nil {
		return err
	}
	ch, err := a.store.CreateChain(context.Background(), c.Request, c.Title, c.Scope)
	if err != nil {
		return err
	}
	fmt.Println(ch.ID)
	return nil
}

// ChainScopeCmd prints the aggregated file scope of a chain.
type ChainScopeCmd struct {
	ID string `arg:"" help:"Chain id"`
}

func (c *ChainScopeCmd) Run(a *app) error {
	patterns, err := a.store.AggregateFileScope(context.Background(), c.ID)
	if err != nil {
		return err
	}
	for _, p := range patterns {
		fmt.Println(p)
	}
	return nil
}

// ChainConflictsCmd reports pairwise scope conflicts.
type ChainConflictsCmd struct {
	IDs []string `arg:"" help:"Chain ids to check against each other"`
}

func (c *ChainConflictsCmd) Run(a *app) error {
	ctx := context.Background()
	set, err := chainScopes(ctx, a, c.IDs)
	if err != nil {
		return err
	}
	conflicts := scope.FindConflicts(set)
	if len(conflicts) == 0 {
		fmt.Println("no conflicts")
		return nil
	}
	for _, cf := range conflicts {
		fmt.Printf("%s conflicts with %s: %s\n", cf.ChainA, cf.ChainB, strings.Join(cf.Patterns, "; "))
	}
	os.Exit(1)
	return nil
}

// ChainSpawnCmd runs one workflow per chain concurrently, acquiring
// all scope locks up front and refusing the whole set on any conflict.
type ChainSpawnCmd struct {
	Template string   `required:"" help:"Workflow template to run per chain"`
	IDs      []string `arg:"" help:"Chain ids to run"`
}

func (c *ChainSpawnCmd) Run(a *app) error {
	ctx := context.Background()
	set, err := chainScopes(ctx, a, c.IDs)
	if err != nil {
		return err
	}
	return scope.SpawnInParallel(ctx, a.locks, set, func(ctx context.Context, chainID string) error {
		wf, err := a.engine.Start(ctx, c.Template, chainID)
		if err != nil {
			return err
		}
		return driveWorkflow(ctx, a, wf)
	})
}

func chainScopes(ctx context.Context, a *app, ids []string) ([]scope.ChainScope, error) {
	var set []scope.ChainScope
	for _, id := range ids {
		patterns, err := a.store.AggregateFileScope(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("chain %s: %w", id, err)
		}
		set = append(set, scope.ChainScope{ChainID: id, Patterns: patterns})
	}
	return set, nil
}

// TaskCmd groups task subcommands.
type TaskCmd struct {
	Create     TaskCreateCmd     `cmd:"" help:"Create a task in a chain"`
	Transition TaskTransitionCmd `cmd:"" help:"Move a task to a new status"`
	List       TaskListCmd       `cmd:"" help:"List a chain's tasks"`
}

// TaskCreateCmd creates a task.
type TaskCreateCmd struct {
	Chain       string   `required:"" help:"Parent chain id"`
	Title       string   `arg:"" help:"Task title"`
	Description string   `help:"Longer description"`
	Role        string   `help:"Role that works the task"`
	Scope       []string `help:"File scope glob patterns (repeatable)"`
}

func (c *TaskCreateCmd) Run(a *app) error {
	if err := scope.ValidatePatterns(c.Scope); err != nil {
		return err
	}
	task, err := a.store.CreateTask(context.Background(), c.Chain, c.Title, c.Description, c.Role, c.Scope)
	if err != nil {
		return err
	}
	fmt.Println(task.ID)
	return nil
}

// TaskTransitionCmd transitions a task.
type TaskTransitionCmd struct {
	ID     string `arg:"" help:"Task id"`
	Status string `required:"" help:"Target status"`
	Reason string `help:"Reason, required when blocking"`
}

func (c *TaskTransitionCmd) Run(a *app) error {
	return a.store.TransitionTask(context.Background(), c.ID, c.Status, c.Reason)
}

// TaskListCmd lists a chain's tasks.
type TaskListCmd struct {
	Chain string `arg:"" help:"Chain id"`
}

func (c *TaskListCmd) Run(a *app) error {
	tasks, err := a.store.ListTasks(context.Background(), c.Chain)
	if err != nil {
		return err
	}
	for _, t := range tasks {
		fmt.Printf("%s\t%s\t%s\n", t.ID, t.Status, t.Title)
	}
	return nil
}

// ToolsCmd lists the registry with role resolution.
type ToolsCmd struct {
	Role  string `help:"Resolve the tool set for a role"`
	Stage string `help:"Narrow by stage type (requires --role)"`
}

func (c *ToolsCmd) Run(a *app) error {
	if c.Role == "" {
		for _, name := range a.registry.Names() {
			fmt.Println(name)
		}
		return nil
	}
	set, err := a.gate.Resolve(c.Role, c.Stage)
	if err != nil {
		return err
	}
	for _, id := range set.IDs() {
		fmt.Println(id)
	}
	return nil
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run(a *app) error {
	fmt.Printf("choragen version %s (commit: %s, built: %s)\n", version, commit, buildTime)
	return nil
}
