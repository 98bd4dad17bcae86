package session

import (
	"context"
	"strings"
	"testing"

	"github.com/jlneal/choragen-sub010/internal/config"
	"github.com/jlneal/choragen-sub010/internal/gate"
	"github.com/jlneal/choragen-sub010/internal/llm"
	"github.com/jlneal/choragen-sub010/internal/tools"
)

func testRunner(t *testing.T, provider llm.Provider) (*Runner, *FileStore) {
	t.Helper()
	registry := tools.New(tools.Deps{Root: t.TempDir()})
	g, err := gate.New(registry, map[string]config.Role{
		"implementer": {AllowedTools: []string{
			"fs:read", "fs:write", "fs:edit", "fs:glob", "shell:run",
		}},
	}, nil)
	if err != nil {
		t.Fatalf("gate.New: %v", err)
	}
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	return &Runner{
		Provider: provider,
		Gate:     g,
		Registry: registry,
		Store:    store,
		MaxTurns: 25,
	}, store
}

func TestRunCompletesOnZeroToolCalls(t *testing.T) {
	mock := llm.NewMockProvider()
	mock.SetResponse("nothing to do, the goal is already satisfied")
	r, _ := testRunner(t, mock)

	sess := NewSession("implementer", "test-model", "check the thing")
	res, err := r.Run(context.Background(), sess)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Success {
		t.Error("a first-turn completion must succeed")
	}
	if res.Turns != 1 {
		t.Errorf("turns = %d, want 1", res.Turns)
	}
	if len(res.FileChanges) != 0 {
		t.Errorf("file changes = %v, want none", res.FileChanges)
	}
	if !strings.Contains(res.Summary, "already satisfied") {
		t.Errorf("summary = %q", res.Summary)
	}
}

func TestRunExecutesToolsInOrder(t *testing.T) {
	mock := llm.NewMockProvider()
	mock.QueueResponse(&llm.ChatResponse{
		Content: "writing two files",
		ToolCalls: []llm.ToolCall{
			{ID: "c1", Name: "fs_write", Args: map[string]interface{}{"path": "a.txt", "content": "A"}},
			{ID: "c2", Name: "fs_write", Args: map[string]interface{}{"path": "b.txt", "content": "B"}},
		},
	})
	mock.QueueResponse(&llm.ChatResponse{Content: "done"})
	r, store := testRunner(t, mock)

	sess := NewSession("implementer", "test-model", "write files")
	res, err := r.Run(context.Background(), sess)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Success || res.Turns != 2 {
		t.Fatalf("success=%v turns=%d", res.Success, res.Turns)
	}
	if len(res.FileChanges) != 2 {
		t.Errorf("file changes = %v", res.FileChanges)
	}

	// Results follow the assistant message in call order.
	saved, err := store.Load(sess.ID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	var toolIDs []string
	for _, m := range saved.Messages {
		if m.Role == "tool" {
			toolIDs = append(toolIDs, m.ToolCallID)
		}
	}
	if len(toolIDs) != 2 || toolIDs[0] != "c1" || toolIDs[1] != "c2" {
		t.Errorf("tool result order = %v", toolIDs)
	}
}

func TestRunToolErrorDoesNotAbort(t *testing.T) {
	mock := llm.NewMockProvider()
	mock.QueueResponse(&llm.ChatResponse{
		ToolCalls: []llm.ToolCall{
			{ID: "c1", Name: "fs_read", Args: map[string]interface{}{"path": "missing.txt"}},
		},
	})
	mock.QueueResponse(&llm.ChatResponse{Content: "recovered"})
	r, store := testRunner(t, mock)

	sess := NewSession("implementer", "test-model", "read a file")
	res, err := r.Run(context.Background(), sess)
	if err != nil {
		t.Fatalf("a tool error must not abort the session: %v", err)
	}
	if !res.Success {
		t.Error("session should recover and complete")
	}

	saved, _ := store.Load(sess.ID)
	found := false
	for _, m := range saved.Messages {
		if m.Role == "tool" && strings.HasPrefix(m.Content, "Error:") {
			found = true
		}
	}
	if !found {
		t.Error("tool error should be surfaced as result content")
	}
}

func TestRunGateDenialBecomesToolResult(t *testing.T) {
	mock := llm.NewMockProvider()
	mock.QueueResponse(&llm.ChatResponse{
		ToolCalls: []llm.ToolCall{
			{ID: "c1", Name: "git_commit", Args: map[string]interface{}{"message": "x"}},
		},
	})
	mock.QueueResponse(&llm.ChatResponse{Content: "understood, stopping"})
	r, store := testRunner(t, mock)

	sess := NewSession("implementer", "test-model", "commit something")
	res, err := r.Run(context.Background(), sess)
	if err != nil {
		t.Fatalf("a denial must not abort the session: %v", err)
	}
	if !res.Success {
		t.Error("session should continue past a denial and complete")
	}

	saved, _ := store.Load(sess.ID)
	found := false
	for _, m := range saved.Messages {
		if m.Role == "tool" && strings.Contains(m.Content, "policy denied") {
			found = true
		}
	}
	if !found {
		t.Error("denial should appear as tool result content")
	}
}

func TestRunTurnCeiling(t *testing.T) {
	mock := llm.NewMockProvider()
	// Every turn requests another tool call; the model never finishes.
	mock.ChatFunc = func(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
		return &llm.ChatResponse{
			StopReason: llm.StopToolUse,
			ToolCalls: []llm.ToolCall{
				{ID: "c", Name: "fs_glob", Args: map[string]interface{}{"pattern": "**/*.go"}},
			},
		}, nil
	}
	r, _ := testRunner(t, mock)
	r.MaxTurns = 3

	sess := NewSession("implementer", "test-model", "loop forever")
	res, err := r.Run(context.Background(), sess)
	if err == nil {
		t.Fatal("hitting the ceiling must fail the session")
	}
	if res.Success {
		t.Error("result must not be successful")
	}
	if !strings.Contains(err.Error(), "3") {
		t.Errorf("failure should name the ceiling: %v", err)
	}
	if mock.CallCount() != 3 {
		t.Errorf("provider calls = %d, want exactly 3", mock.CallCount())
	}
	if sess.Status != StatusFailed {
		t.Errorf("status = %s", sess.Status)
	}
}

func TestRunScopedWritesDenied(t *testing.T) {
	mock := llm.NewMockProvider()
	mock.QueueResponse(&llm.ChatResponse{
		ToolCalls: []llm.ToolCall{
			{ID: "c1", Name: "fs_write", Args: map[string]interface{}{"path": "outside/file.go", "content": "x"}},
		},
	})
	mock.QueueResponse(&llm.ChatResponse{Content: "done"})
	r, store := testRunner(t, mock)

	sess := NewSession("implementer", "test-model", "edit code")
	sess.TaskScope = []string{"internal/api/**"}
	if _, err := r.Run(context.Background(), sess); err != nil {
		t.Fatalf("Run: %v", err)
	}

	saved, _ := store.Load(sess.ID)
	if len(saved.FileChanges) != 0 {
		t.Errorf("denied write must not be recorded as a change: %v", saved.FileChanges)
	}
}

func TestRunPersistsEveryTurn(t *testing.T) {
	mock := llm.NewMockProvider()
	mock.QueueResponse(&llm.ChatResponse{
		ToolCalls: []llm.ToolCall{
			{ID: "c1", Name: "fs_write", Args: map[string]interface{}{"path": "x.txt", "content": "x"}},
		},
	})
	mock.QueueResponse(&llm.ChatResponse{Content: "finished"})
	r, store := testRunner(t, mock)

	sess := NewSession("implementer", "test-model", "persist me")
	if _, err := r.Run(context.Background(), sess); err != nil {
		t.Fatalf("Run: %v", err)
	}

	saved, err := store.Load(sess.ID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if saved.Status != StatusCompleted {
		t.Errorf("status = %s", saved.Status)
	}
	// user + assistant + tool + assistant
	if len(saved.Messages) != 4 {
		t.Errorf("messages = %d, want 4", len(saved.Messages))
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	sess := NewSession("implementer", "m", "goal")
	sess.Append(llm.Message{Role: "user", Content: "goal"})
	if err := store.Save(sess); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := store.Load(sess.ID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Role != "implementer" || len(got.Messages) != 1 {
		t.Errorf("round trip lost data: %+v", got)
	}

	if _, err := store.Load("nope"); err == nil {
		t.Error("missing session must error")
	}

	ids, err := store.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(ids) != 1 || ids[0] != sess.ID {
		t.Errorf("List = %v", ids)
	}
}

func TestWireNames(t *testing.T) {
	if toWireName("fs:read") != "fs_read" {
		t.Error("toWireName")
	}
	if fromWireName("task_transition") != "task:transition" {
		t.Error("fromWireName")
	}
}
