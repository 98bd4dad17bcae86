package tools

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// resolvePath anchors a tool path argument to the working tree root
// and rejects escapes.
func resolvePath(root, path string) (string, error) {
	if filepath.IsAbs(path) {
		return "", fmt.Errorf("absolute paths are not allowed: %s", path)
	}
	clean := filepath.Clean(path)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes the working tree: %s", path)
	}
	if root == "" {
		root = "."
	}
	return filepath.Join(root, clean), nil
}

// readTool implements fs:read.
type readTool struct {
	root string
}

func (t *readTool) Name() string     { return "fs:read" }
func (t *readTool) Mutates() bool    { return false }
func (t *readTool) Category() string { return CategoryFS }

func (t *readTool) Description() string {
	return "Read the contents of a file at the given path."
}

func (t *readTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Path to the file to read, relative to the working tree",
			},
		},
		"required": []string{"path"},
	}
}

func (t *readTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	path, ok := stringArg(args, "path")
	if !ok {
		return nil, fmt.Errorf("path is required")
	}
	full, err := resolvePath(t.root, path)
	if err != nil {
		return nil, err
	}
	content, err := os.ReadFile(full)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return string(content), nil
}

// writeTool implements fs:write.
type writeTool struct {
	root string
}

func (t *writeTool) Name() string     { return "fs:write" }
func (t *writeTool) Mutates() bool    { return true }
func (t *writeTool) Category() string { return CategoryFS }

func (t *writeTool) Description() string {
	return "Write content to a file at the given path. Creates parent directories if needed."
}

func (t *writeTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Path to the file to write, relative to the working tree",
			},
			"content": map[string]interface{}{
				"type":        "string",
				"description": "Content to write to the file",
			},
		},
		"required": []string{"path", "content"},
	}
}

func (t *writeTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	path, ok := stringArg(args, "path")
	if !ok {
		return nil, fmt.Errorf("path is required")
	}
	content, ok := args["content"].(string)
	if !ok {
		return nil, fmt.Errorf("content is required")
	}
	full, err := resolvePath(t.root, path)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write file: %w", err)
	}
	return "ok", nil
}

// editTool implements fs:edit.
type editTool struct {
	root string
}

func (t *editTool) Name() string     { return "fs:edit" }
func (t *editTool) Mutates() bool    { return true }
func (t *editTool) Category() string { return CategoryFS }

func (t *editTool) Description() string {
	return "Find and replace text in a file. The old text must match exactly."
}

func (t *editTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Path to the file to edit",
			},
			"old": map[string]interface{}{
				"type":        "string",
				"description": "Text to find (exact match)",
			},
			"new": map[string]interface{}{
				"type":        "string",
				"description": "Text to replace with",
			},
		},
		"required": []string{"path", "old", "new"},
	}
}

func (t *editTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	path, ok := stringArg(args, "path")
	if !ok {
		return nil, fmt.Errorf("path is required")
	}
	oldText, ok := args["old"].(string)
	if !ok {
		return nil, fmt.Errorf("old is required")
	}
	newText, ok := args["new"].(string)
	if !ok {
		return nil, fmt.Errorf("new is required")
	}

	full, err := resolvePath(t.root, path)
	if err != nil {
		return nil, err
	}
	content, err := os.ReadFile(full)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	text := string(content)
	if !strings.Contains(text, oldText) {
		return nil, fmt.Errorf("pattern not found in file")
	}

	updated := strings.Replace(text, oldText, newText, 1)
	if err := os.WriteFile(full, []byte(updated), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write file: %w", err)
	}
	return "ok", nil
}

// globTool implements fs:glob.
type globTool struct {
	root string
}

func (t *globTool) Name() string     { return "fs:glob" }
func (t *globTool) Mutates() bool    { return false }
func (t *globTool) Category() string { return CategoryFS }

func (t *globTool) Description() string {
	return "Find files matching a glob pattern (supports ** for recursive matching)."
}

func (t *globTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"pattern": map[string]interface{}{
				"type":        "string",
				"description": "Glob pattern (e.g., *.go, internal/**/*.go)",
			},
		},
		"required": []string{"pattern"},
	}
}

func (t *globTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	pattern, ok := stringArg(args, "pattern")
	if !ok {
		return nil, fmt.Errorf("pattern is required")
	}
	root := t.root
	if root == "" {
		root = "."
	}
	matches, err := doublestar.Glob(os.DirFS(root), pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern: %w", err)
	}
	return matches, nil
}

// grepTool implements fs:grep.
type grepTool struct {
	root string
}

func (t *grepTool) Name() string     { return "fs:grep" }
func (t *grepTool) Mutates() bool    { return false }
func (t *grepTool) Category() string { return CategoryFS }

func (t *grepTool) Description() string {
	return "Search file contents for a regular expression. Returns matching lines with file and line number."
}

func (t *grepTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"pattern": map[string]interface{}{
				"type":        "string",
				"description": "Regular expression to search for",
			},
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Directory to search in (default: working tree root)",
			},
		},
		"required": []string{"pattern"},
	}
}

func (t *grepTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	pattern, ok := stringArg(args, "pattern")
	if !ok {
		return nil, fmt.Errorf("pattern is required")
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern: %w", err)
	}

	searchRoot := t.root
	if searchRoot == "" {
		searchRoot = "."
	}
	if sub, ok := stringArg(args, "path"); ok {
		searchRoot, err = resolvePath(t.root, sub)
		if err != nil {
			return nil, err
		}
	}

	var results []string
	const maxResults = 200

	err = filepath.WalkDir(searchRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			name := d.Name()
			if name == ".git" || name == "node_modules" {
				return filepath.SkipDir
			}
			return nil
		}
		if len(results) >= maxResults {
			return filepath.SkipAll
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		for i, line := range strings.Split(string(data), "\n") {
			if re.MatchString(line) {
				rel, _ := filepath.Rel(searchRoot, path)
				results = append(results, fmt.Sprintf("%s:%d: %s", rel, i+1, strings.TrimSpace(line)))
				if len(results) >= maxResults {
					break
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return "no matches", nil
	}
	return strings.Join(results, "\n"), nil
}

// lsTool implements fs:ls.
type lsTool struct {
	root string
}

func (t *lsTool) Name() string     { return "fs:ls" }
func (t *lsTool) Mutates() bool    { return false }
func (t *lsTool) Category() string { return CategoryFS }

func (t *lsTool) Description() string {
	return "List the entries of a directory."
}

func (t *lsTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Directory to list (default: working tree root)",
			},
		},
	}
}

func (t *lsTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	dir := t.root
	if dir == "" {
		dir = "."
	}
	if sub, ok := stringArg(args, "path"); ok {
		var err error
		dir, err = resolvePath(t.root, sub)
		if err != nil {
			return nil, err
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list directory: %w", err)
	}

	var out []DirEntry
	for _, e := range entries {
		info, err := e.Info()
		var size int64
		if err == nil {
			size = info.Size()
		}
		out = append(out, DirEntry{Name: e.Name(), IsDir: e.IsDir(), Size: size})
	}
	return out, nil
}
