package scope

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
)

func TestPatternsOverlap(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"packages/core/**", "packages/core/src/foo.ts", true},
		{"packages/web/**", "packages/core/**", false},
		{"packages/core/**", "packages/**", true},
		{"internal/api", "internal/api/handler.go", true},
		{"internal/api", "internal/apiserver", false},
		{"go.mod", "go.mod", true},
		{"go.mod", "go.sum", false},
		{"**/*.go", "internal/api/**", true},
		{"docs/*.md", "docs/readme.md", true},
		{"docs/*.md", "src/main.go", false},
	}
	for _, tt := range tests {
		if got := PatternsOverlap(tt.a, tt.b); got != tt.want {
			t.Errorf("PatternsOverlap(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
		// Overlap is symmetric.
		if got := PatternsOverlap(tt.b, tt.a); got != tt.want {
			t.Errorf("PatternsOverlap(%q, %q) = %v, want %v", tt.b, tt.a, got, tt.want)
		}
	}
}

func TestHasOverlapEmptyScopes(t *testing.T) {
	if HasOverlap(nil, []string{"**"}) {
		t.Error("empty scope must never conflict")
	}
	if HasOverlap([]string{"**"}, nil) {
		t.Error("empty scope must never conflict")
	}
	if HasOverlap(nil, nil) {
		t.Error("two empty scopes must never conflict")
	}
}

func TestFindConflicts(t *testing.T) {
	chains := []ChainScope{
		{ChainID: "chain-a", Patterns: []string{"packages/core/**"}},
		{ChainID: "chain-b", Patterns: []string{"packages/web/**"}},
		{ChainID: "chain-c", Patterns: []string{"packages/core/src/**"}},
		{ChainID: "chain-d", Patterns: nil},
	}
	conflicts := FindConflicts(chains)
	if len(conflicts) != 1 {
		t.Fatalf("expected 1 conflict, got %d: %+v", len(conflicts), conflicts)
	}
	c := conflicts[0]
	if c.ChainA != "chain-a" || c.ChainB != "chain-c" {
		t.Errorf("wrong pair: %s / %s", c.ChainA, c.ChainB)
	}
	if len(c.Patterns) == 0 {
		t.Error("conflict must itemize the overlapping patterns")
	}
}

func TestPathInScope(t *testing.T) {
	scope := []string{"internal/api/**", "go.mod"}
	if !PathInScope("internal/api/handler.go", scope) {
		t.Error("nested file should be in scope")
	}
	if !PathInScope("go.mod", scope) {
		t.Error("literal file should be in scope")
	}
	if PathInScope("internal/store/sqlite.go", scope) {
		t.Error("unrelated path should be out of scope")
	}
	if PathInScope("anything", nil) {
		t.Error("empty scope contains nothing")
	}
}

func TestLockManagerConflict(t *testing.T) {
	m, err := NewLockManager(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer m.ReleaseAll()

	if err := m.Acquire("chain-a", []string{"internal/api/**"}); err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	err = m.Acquire("chain-b", []string{"internal/api/handler.go"})
	var ce *ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if m.Held("chain-b") {
		t.Error("conflicting acquire must not leave a held lock")
	}

	if err := m.Release("chain-a"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := m.Acquire("chain-b", []string{"internal/api/handler.go"}); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
}

func TestLockManagerNotReentrant(t *testing.T) {
	m, err := NewLockManager(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer m.ReleaseAll()

	if err := m.Acquire("chain-a", []string{"docs/**"}); err != nil {
		t.Fatal(err)
	}
	if err := m.Acquire("chain-a", []string{"docs/**"}); err == nil {
		t.Error("re-acquiring a held lock must fail")
	}
}

func TestAcquireSetAllOrNothing(t *testing.T) {
	m, err := NewLockManager(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer m.ReleaseAll()

	// chain-x and chain-y conflict with each other.
	err = m.AcquireSet([]ChainScope{
		{ChainID: "chain-x", Patterns: []string{"src/**"}},
		{ChainID: "chain-y", Patterns: []string{"src/app/**"}},
	})
	if err == nil {
		t.Fatal("expected conflict error")
	}
	if m.Held("chain-x") || m.Held("chain-y") {
		t.Error("failed set acquire must not leave partial locks")
	}
}

func TestSpawnInParallelRefusesConflictingSet(t *testing.T) {
	m, err := NewLockManager(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer m.ReleaseAll()

	var started sync.Map
	start := func(ctx context.Context, chainID string) error {
		started.Store(chainID, true)
		return nil
	}

	err = SpawnInParallel(context.Background(), m, []ChainScope{
		{ChainID: "chain-a", Patterns: []string{"packages/core/**"}},
		{ChainID: "chain-b", Patterns: []string{"packages/core/src/foo.ts"}},
	}, start)

	var ce *ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	msg := err.Error()
	if !strings.Contains(msg, "chain-a") || !strings.Contains(msg, "chain-b") {
		t.Errorf("report must name both chains: %s", msg)
	}
	if !strings.Contains(msg, "packages/core") {
		t.Errorf("report must name the overlapping pattern: %s", msg)
	}

	count := 0
	started.Range(func(_, _ interface{}) bool { count++; return true })
	if count != 0 {
		t.Errorf("no chain may start when the set conflicts, started %d", count)
	}
}

func TestSpawnInParallelRunsDisjointSet(t *testing.T) {
	m, err := NewLockManager(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	started := map[string]bool{}
	start := func(ctx context.Context, chainID string) error {
		mu.Lock()
		defer mu.Unlock()
		started[chainID] = true
		return nil
	}

	err = SpawnInParallel(context.Background(), m, []ChainScope{
		{ChainID: "chain-a", Patterns: []string{"packages/core/**"}},
		{ChainID: "chain-b", Patterns: []string{"packages/web/**"}},
		{ChainID: "chain-c", Patterns: nil},
	}, start)
	if err != nil {
		t.Fatalf("SpawnInParallel: %v", err)
	}

	if len(started) != 3 {
		t.Errorf("started %d chains, want 3", len(started))
	}
	for _, id := range []string{"chain-a", "chain-b", "chain-c"} {
		if m.Held(id) {
			t.Errorf("lock for %s must be released after completion", id)
		}
	}
}
