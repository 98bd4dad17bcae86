// Package setup scaffolds a new choragen project: config file, data
// directories, and a starter workflow template.
package setup

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `[project]
name = %q

[llm]
model = "claude-sonnet-4-5"
max_tokens = 8192

[session]
max_turns = 25

[roles.implementer]
description = "Writes code and tests inside the task's file scope"
allowed_tools = [
  "fs:read", "fs:write", "fs:edit", "fs:glob", "fs:grep", "fs:ls",
  "shell:run", "git:status", "git:diff", "git:commit", "git:log",
  "task:get", "task:transition", "chain:tasks",
]

[roles.reviewer]
description = "Reads and reviews; cannot mutate the tree"
allowed_tools = [
  "fs:read", "fs:glob", "fs:grep", "fs:ls",
  "git:status", "git:diff", "git:log",
  "task:get", "task:transition", "chain:tasks",
]

[workflow.stage_tools]
review = [
  "fs:read", "fs:glob", "fs:grep", "fs:ls",
  "git:status", "git:diff", "git:log",
  "task:get", "task:transition", "chain:tasks",
]
`

const starterTemplate = `name: implement-review
description: Implement a chain, then review and land it.
stages:
  - name: implement
    type: implement
    role: implementer
    goal: "Work the chain's tasks to done, committing as you go."
    gate: {type: chain_complete}
  - name: review
    type: review
    role: reviewer
    goal: "Review the changes made for this chain."
    gate: {type: human_approval, allow_discard: true}
  - name: land
    gate:
      type: post_commit
      commands: ["git log -1 --oneline"]
`

// Run scaffolds a project in dir. Existing files are left untouched;
// only missing pieces are created.
func Run(dir, projectName string) error {
	if projectName == "" {
		projectName = filepath.Base(dir)
	}

	for _, sub := range []string{
		".choragen",
		filepath.Join(".choragen", "workflows"),
		filepath.Join(".choragen", "sessions"),
		filepath.Join(".choragen", "workflow-state"),
		filepath.Join(".choragen", "approvals"),
		filepath.Join(".choragen", "locks"),
	} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", sub, err)
		}
	}

	configPath := filepath.Join(dir, "choragen.toml")
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		content := fmt.Sprintf(configTemplate, projectName)
		if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
			return fmt.Errorf("failed to write config: %w", err)
		}
	}

	templatePath := filepath.Join(dir, ".choragen", "workflows", "implement-review.yaml")
	if _, err := os.Stat(templatePath); os.IsNotExist(err) {
		if err := os.WriteFile(templatePath, []byte(starterTemplate), 0o644); err != nil {
			return fmt.Errorf("failed to write starter template: %w", err)
		}
	}

	return nil
}
