package tools

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
)

// shellTool implements shell:run.
type shellTool struct {
	root string
}

func (t *shellTool) Name() string     { return "shell:run" }
func (t *shellTool) Mutates() bool    { return true }
func (t *shellTool) Category() string { return CategoryShell }

func (t *shellTool) Description() string {
	return "Run a shell command in the working tree and return stdout, stderr, and the exit code."
}

func (t *shellTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"command": map[string]interface{}{
				"type":        "string",
				"description": "Shell command to execute",
			},
		},
		"required": []string{"command"},
	}
}

func (t *shellTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	command, ok := stringArg(args, "command")
	if !ok {
		return nil, fmt.Errorf("command is required")
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	if t.root != "" {
		cmd.Dir = t.root
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := ExecResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
		} else {
			return nil, fmt.Errorf("failed to run command: %w", err)
		}
	}
	return result, nil
}
