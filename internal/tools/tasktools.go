package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jlneal/choragen-sub010/internal/events"
	"github.com/jlneal/choragen-sub010/internal/store"
)

// taskGetTool implements task:get.
type taskGetTool struct {
	store store.Store
}

func (t *taskGetTool) Name() string     { return "task:get" }
func (t *taskGetTool) Mutates() bool    { return false }
func (t *taskGetTool) Category() string { return CategoryTask }

func (t *taskGetTool) Description() string {
	return "Fetch a task by id, including its status, role, and file scope."
}

func (t *taskGetTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"task_id": map[string]interface{}{
				"type":        "string",
				"description": "Task identifier",
			},
		},
		"required": []string{"task_id"},
	}
}

func (t *taskGetTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	if t.store == nil {
		return nil, fmt.Errorf("no task store configured")
	}
	id, ok := stringArg(args, "task_id")
	if !ok {
		return nil, fmt.Errorf("task_id is required")
	}
	task, err := t.store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	data, _ := json.Marshal(task)
	return string(data), nil
}

// taskTransitionTool implements task:transition. Each successful
// transition emits a task event consumed by chain_complete gates.
type taskTransitionTool struct {
	store  store.Store
	events events.Emitter
}

func (t *taskTransitionTool) Name() string     { return "task:transition" }
func (t *taskTransitionTool) Mutates() bool    { return true }
func (t *taskTransitionTool) Category() string { return CategoryTask }

func (t *taskTransitionTool) Description() string {
	return "Move a task to a new status (backlog, todo, in-progress, in-review, done, blocked)."
}

func (t *taskTransitionTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"task_id": map[string]interface{}{
				"type":        "string",
				"description": "Task identifier",
			},
			"status": map[string]interface{}{
				"type":        "string",
				"description": "Target status",
			},
			"reason": map[string]interface{}{
				"type":        "string",
				"description": "Reason, required when blocking a task",
			},
		},
		"required": []string{"task_id", "status"},
	}
}

func (t *taskTransitionTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	if t.store == nil {
		return nil, fmt.Errorf("no task store configured")
	}
	id, ok := stringArg(args, "task_id")
	if !ok {
		return nil, fmt.Errorf("task_id is required")
	}
	status, ok := stringArg(args, "status")
	if !ok {
		return nil, fmt.Errorf("status is required")
	}
	reason, _ := args["reason"].(string)

	if err := t.store.TransitionTask(ctx, id, status, reason); err != nil {
		return nil, err
	}

	task, err := t.store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}

	t.events.Emit(events.Event{
		Type:    events.TypeTaskTransition,
		TaskID:  id,
		ChainID: task.ChainID,
		Data:    map[string]interface{}{"status": status},
	})

	// A task reaching done may complete its chain.
	if status == store.TaskDone {
		tasks, err := t.store.ListTasks(ctx, task.ChainID)
		if err == nil && allDone(tasks) {
			t.events.Emit(events.Event{
				Type:    events.TypeChainCompleted,
				ChainID: task.ChainID,
			})
		}
	}

	return fmt.Sprintf("task %s -> %s", id, status), nil
}

func allDone(tasks []store.Task) bool {
	if len(tasks) == 0 {
		return false
	}
	for _, t := range tasks {
		if t.Status != store.TaskDone {
			return false
		}
	}
	return true
}

// chainTasksTool implements chain:tasks.
type chainTasksTool struct {
	store store.Store
}

func (t *chainTasksTool) Name() string     { return "chain:tasks" }
func (t *chainTasksTool) Mutates() bool    { return false }
func (t *chainTasksTool) Category() string { return CategoryTask }

func (t *chainTasksTool) Description() string {
	return "List all tasks in a chain with their statuses."
}

func (t *chainTasksTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"chain_id": map[string]interface{}{
				"type":        "string",
				"description": "Chain identifier",
			},
		},
		"required": []string{"chain_id"},
	}
}

func (t *chainTasksTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	if t.store == nil {
		return nil, fmt.Errorf("no task store configured")
	}
	id, ok := stringArg(args, "chain_id")
	if !ok {
		return nil, fmt.Errorf("chain_id is required")
	}
	tasks, err := t.store.ListTasks(ctx, id)
	if err != nil {
		return nil, err
	}
	data, _ := json.Marshal(tasks)
	return string(data), nil
}

// SpawnFunc starts a nested agent session under a different role and
// returns its final summary.
type SpawnFunc func(ctx context.Context, role, goal string) (string, error)

// spawnTool implements session:spawn.
type spawnTool struct {
	spawn SpawnFunc
}

func (t *spawnTool) Name() string     { return "session:spawn" }
func (t *spawnTool) Mutates() bool    { return false }
func (t *spawnTool) Category() string { return CategorySession }

func (t *spawnTool) Description() string {
	return "Spawn a nested agent session under another role and return its summary."
}

func (t *spawnTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"role": map[string]interface{}{
				"type":        "string",
				"description": "Role for the nested session",
			},
			"goal": map[string]interface{}{
				"type":        "string",
				"description": "Goal for the nested session",
			},
		},
		"required": []string{"role", "goal"},
	}
}

func (t *spawnTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	if t.spawn == nil {
		return nil, fmt.Errorf("nested sessions are not enabled")
	}
	role, ok := stringArg(args, "role")
	if !ok {
		return nil, fmt.Errorf("role is required")
	}
	goal, ok := stringArg(args, "goal")
	if !ok {
		return nil, fmt.Errorf("goal is required")
	}
	return t.spawn(ctx, role, goal)
}
