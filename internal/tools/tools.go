// Package tools provides the closed tool registry and built-in tools.
// Tool identifiers follow the domain:action convention (fs:read,
// git:commit, task:transition). The set of registered identifiers is
// fixed at construction; referencing an unknown identifier anywhere in
// configuration is a startup error, not a runtime surprise.
package tools

import (
	"context"
)

// Tool categories.
const (
	CategoryFS      = "fs"
	CategoryShell   = "shell"
	CategoryGit     = "git"
	CategoryTask    = "task"
	CategorySession = "session"
)

// Tool represents an executable tool.
type Tool interface {
	// Name returns the tool identifier (domain:action).
	Name() string
	// Description returns a description for the LLM.
	Description() string
	// Parameters returns the JSON schema for parameters.
	Parameters() map[string]interface{}
	// Mutates reports whether the tool changes state outside the
	// conversation (filesystem, VCS, task store).
	Mutates() bool
	// Category returns the tool's domain category.
	Category() string
	// Execute runs the tool with the given arguments.
	Execute(ctx context.Context, args map[string]interface{}) (interface{}, error)
}

// Definition is the LLM-facing tool definition.
type Definition struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
}

// DirEntry represents a directory entry for fs:ls.
type DirEntry struct {
	Name  string `json:"name"`
	IsDir bool   `json:"is_dir"`
	Size  int64  `json:"size"`
}

// ExecResult represents the result of shell execution.
type ExecResult struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
}

// stringArg extracts a required string argument.
func stringArg(args map[string]interface{}, key string) (string, bool) {
	v, ok := args[key].(string)
	return v, ok && v != ""
}
