package tools

import (
	"context"
	"fmt"

	"github.com/jlneal/choragen-sub010/internal/events"
	"github.com/jlneal/choragen-sub010/internal/git"
)

// gitStatusTool implements git:status.
type gitStatusTool struct {
	repo *git.Repo
}

func (t *gitStatusTool) Name() string     { return "git:status" }
func (t *gitStatusTool) Mutates() bool    { return false }
func (t *gitStatusTool) Category() string { return CategoryGit }

func (t *gitStatusTool) Description() string {
	return "Show the working tree status (porcelain format)."
}

func (t *gitStatusTool) Parameters() map[string]interface{} {
	return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
}

func (t *gitStatusTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	if t.repo == nil {
		return nil, fmt.Errorf("no git repository configured")
	}
	out, err := t.repo.Status(ctx)
	if err != nil {
		return nil, err
	}
	if out == "" {
		return "clean", nil
	}
	return out, nil
}

// gitDiffTool implements git:diff.
type gitDiffTool struct {
	repo *git.Repo
}

func (t *gitDiffTool) Name() string     { return "git:diff" }
func (t *gitDiffTool) Mutates() bool    { return false }
func (t *gitDiffTool) Category() string { return CategoryGit }

func (t *gitDiffTool) Description() string {
	return "Show the uncommitted diff, optionally limited to a path."
}

func (t *gitDiffTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Limit the diff to this path",
			},
		},
	}
}

func (t *gitDiffTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	if t.repo == nil {
		return nil, fmt.Errorf("no git repository configured")
	}
	var paths []string
	if p, ok := stringArg(args, "path"); ok {
		paths = append(paths, p)
	}
	out, err := t.repo.Diff(ctx, paths...)
	if err != nil {
		return nil, err
	}
	if out == "" {
		return "no changes", nil
	}
	return out, nil
}

// gitCommitTool implements git:commit. It stages the given paths and
// records a commit, emitting a commit event consumed by post-commit
// workflow hooks.
type gitCommitTool struct {
	repo   *git.Repo
	events events.Emitter
}

func (t *gitCommitTool) Name() string     { return "git:commit" }
func (t *gitCommitTool) Mutates() bool    { return true }
func (t *gitCommitTool) Category() string { return CategoryGit }

func (t *gitCommitTool) Description() string {
	return "Stage the given paths and record a commit with the given message."
}

func (t *gitCommitTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"message": map[string]interface{}{
				"type":        "string",
				"description": "Commit message",
			},
			"paths": map[string]interface{}{
				"type":        "array",
				"items":       map[string]interface{}{"type": "string"},
				"description": "Paths to stage before committing",
			},
		},
		"required": []string{"message", "paths"},
	}
}

func (t *gitCommitTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	if t.repo == nil {
		return nil, fmt.Errorf("no git repository configured")
	}
	message, ok := stringArg(args, "message")
	if !ok {
		return nil, fmt.Errorf("message is required")
	}
	rawPaths, ok := args["paths"].([]interface{})
	if !ok || len(rawPaths) == 0 {
		return nil, fmt.Errorf("paths is required")
	}
	var paths []string
	for _, rp := range rawPaths {
		p, ok := rp.(string)
		if !ok || p == "" {
			return nil, fmt.Errorf("paths must be non-empty strings")
		}
		paths = append(paths, p)
	}

	if err := t.repo.Add(ctx, paths...); err != nil {
		return nil, err
	}
	sha, err := t.repo.Commit(ctx, message)
	if err != nil {
		return nil, err
	}

	t.events.Emit(events.Event{
		Type: events.TypeCommitCreated,
		Data: map[string]interface{}{"sha": sha, "message": message},
	})

	return fmt.Sprintf("committed %s", sha), nil
}

// gitBranchTool implements git:branch (create and switch only; branch
// deletion is not offered as a tool at all).
type gitBranchTool struct {
	repo *git.Repo
}

func (t *gitBranchTool) Name() string     { return "git:branch" }
func (t *gitBranchTool) Mutates() bool    { return true }
func (t *gitBranchTool) Category() string { return CategoryGit }

func (t *gitBranchTool) Description() string {
	return "Create and check out a new branch, or switch to an existing one."
}

func (t *gitBranchTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"name": map[string]interface{}{
				"type":        "string",
				"description": "Branch name",
			},
			"create": map[string]interface{}{
				"type":        "boolean",
				"description": "Create the branch (default: switch to existing)",
			},
		},
		"required": []string{"name"},
	}
}

func (t *gitBranchTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	if t.repo == nil {
		return nil, fmt.Errorf("no git repository configured")
	}
	name, ok := stringArg(args, "name")
	if !ok {
		return nil, fmt.Errorf("name is required")
	}
	if create, _ := args["create"].(bool); create {
		if err := t.repo.CreateBranch(ctx, name); err != nil {
			return nil, err
		}
		return fmt.Sprintf("created branch %s", name), nil
	}
	if err := t.repo.Checkout(ctx, name); err != nil {
		return nil, err
	}
	return fmt.Sprintf("switched to %s", name), nil
}

// gitLogTool implements git:log.
type gitLogTool struct {
	repo *git.Repo
}

func (t *gitLogTool) Name() string     { return "git:log" }
func (t *gitLogTool) Mutates() bool    { return false }
func (t *gitLogTool) Category() string { return CategoryGit }

func (t *gitLogTool) Description() string {
	return "Show recent commits (one line each)."
}

func (t *gitLogTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"count": map[string]interface{}{
				"type":        "number",
				"description": "Number of commits to show (default 10)",
			},
		},
	}
}

func (t *gitLogTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	if t.repo == nil {
		return nil, fmt.Errorf("no git repository configured")
	}
	n := 10
	if c, ok := args["count"].(float64); ok && c > 0 {
		n = int(c)
	}
	return t.repo.Log(ctx, n)
}
