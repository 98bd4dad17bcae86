package git

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

func writeTestFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}

func newTestRepo(t *testing.T) *Repo {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	dir := t.TempDir()
	r := New(dir)
	ctx := context.Background()
	for _, args := range [][]string{
		{"init"},
		{"config", "user.email", "test@example.com"},
		{"config", "user.name", "test"},
	} {
		if _, err := r.run(ctx, args...); err != nil {
			t.Fatalf("setup %v: %v", args, err)
		}
	}
	return r
}

func writeFile(t *testing.T, r *Repo, name, content string) {
	t.Helper()
	if err := writeTestFile(filepath.Join(r.Dir, name), content); err != nil {
		t.Fatal(err)
	}
}

func TestAddCommitHead(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	writeFile(t, r, "a.txt", "hello\n")
	if err := r.Add(ctx, "a.txt"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	sha, err := r.Commit(ctx, "add a.txt")
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if len(sha) < 7 {
		t.Errorf("suspicious SHA %q", sha)
	}

	status, err := r.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status != "" {
		t.Errorf("tree should be clean after commit, got %q", status)
	}
}

func TestCommitRequiresMessage(t *testing.T) {
	r := newTestRepo(t)
	if _, err := r.Commit(context.Background(), "  "); err == nil {
		t.Error("empty message must be rejected")
	}
}

func TestChangedFiles(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	writeFile(t, r, "x.go", "package x\n")
	writeFile(t, r, "y.go", "package y\n")

	files, err := r.ChangedFiles(ctx)
	if err != nil {
		t.Fatalf("ChangedFiles: %v", err)
	}
	if len(files) != 2 {
		t.Errorf("ChangedFiles = %v, want 2 entries", files)
	}
}

func TestBranches(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	writeFile(t, r, "a.txt", "1\n")
	r.Add(ctx, "a.txt")
	if _, err := r.Commit(ctx, "init"); err != nil {
		t.Fatal(err)
	}

	if err := r.CreateBranch(ctx, "feature/demo"); err != nil {
		t.Fatalf("CreateBranch: %v", err)
	}
	branch, err := r.CurrentBranch(ctx)
	if err != nil {
		t.Fatalf("CurrentBranch: %v", err)
	}
	if branch != "feature/demo" {
		t.Errorf("branch = %q", branch)
	}
}
