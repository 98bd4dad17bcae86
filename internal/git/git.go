// Package git shells out to the git CLI for the operations the commit
// and branch tools need. Destructive operations (force push, branch
// deletion) deliberately have no helper here; the governance gate
// rejects them by category before dispatch would ever be attempted.
package git

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Repo runs git commands in a fixed working directory.
type Repo struct {
	Dir string
}

// New returns a Repo rooted at dir.
func New(dir string) *Repo {
	return &Repo{Dir: dir}
}

func (r *Repo) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = r.Dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return strings.TrimSpace(string(out)), nil
}

// Status returns porcelain status output. Empty means a clean tree.
func (r *Repo) Status(ctx context.Context) (string, error) {
	return r.run(ctx, "status", "--porcelain")
}

// Diff returns the working-tree diff, optionally limited to paths.
func (r *Repo) Diff(ctx context.Context, paths ...string) (string, error) {
	args := []string{"diff"}
	if len(paths) > 0 {
		args = append(args, "--")
		args = append(args, paths...)
	}
	return r.run(ctx, args...)
}

// ChangedFiles lists paths with uncommitted changes.
func (r *Repo) ChangedFiles(ctx context.Context) ([]string, error) {
	out, err := r.Status(ctx)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if len(line) > 3 {
			files = append(files, strings.TrimSpace(line[2:]))
		}
	}
	return files, nil
}

// Add stages the given paths.
func (r *Repo) Add(ctx context.Context, paths ...string) error {
	if len(paths) == 0 {
		return fmt.Errorf("no paths to stage")
	}
	args := append([]string{"add", "--"}, paths...)
	_, err := r.run(ctx, args...)
	return err
}

// Commit records staged changes and returns the new commit SHA.
func (r *Repo) Commit(ctx context.Context, message string) (string, error) {
	if strings.TrimSpace(message) == "" {
		return "", fmt.Errorf("commit message is required")
	}
	if _, err := r.run(ctx, "commit", "-m", message); err != nil {
		return "", err
	}
	return r.Head(ctx)
}

// Head returns the current HEAD SHA.
func (r *Repo) Head(ctx context.Context) (string, error) {
	return r.run(ctx, "rev-parse", "HEAD")
}

// CurrentBranch returns the checked-out branch name.
func (r *Repo) CurrentBranch(ctx context.Context) (string, error) {
	return r.run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
}

// CreateBranch creates and checks out a branch.
func (r *Repo) CreateBranch(ctx context.Context, name string) error {
	_, err := r.run(ctx, "checkout", "-b", name)
	return err
}

// Checkout switches to an existing branch.
func (r *Repo) Checkout(ctx context.Context, name string) error {
	_, err := r.run(ctx, "checkout", name)
	return err
}

// Log returns the last n commit subjects.
func (r *Repo) Log(ctx context.Context, n int) (string, error) {
	if n <= 0 {
		n = 10
	}
	return r.run(ctx, "log", fmt.Sprintf("-%d", n), "--oneline")
}
