package replay

import (
	"strings"
	"testing"

	"github.com/jlneal/choragen-sub010/internal/llm"
	"github.com/jlneal/choragen-sub010/internal/session"
)

func TestRenderSession(t *testing.T) {
	sess := session.NewSession("implementer", "test-model", "fix the bug")
	sess.Status = session.StatusCompleted
	sess.Turns = 2
	sess.Append(
		llm.Message{Role: "user", Content: "fix the bug"},
		llm.Message{Role: "assistant", Content: "reading the file", ToolCalls: []llm.ToolCall{
			{ID: "c1", Name: "fs_read", Args: map[string]interface{}{"path": "main.go"}},
		}},
		llm.Message{Role: "tool", Content: "package main", ToolCallID: "c1"},
		llm.Message{Role: "assistant", Content: "fixed it"},
	)
	sess.RecordFileChange("main.go")

	var b strings.Builder
	New(&b, false).Render(sess)
	out := b.String()

	for _, want := range []string{sess.ID, "implementer", "fs_read", "path=main.go", "fixed it", "main.go"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q", want)
		}
	}
}

func TestRenderTruncatesLongResults(t *testing.T) {
	sess := session.NewSession("implementer", "m", "g")
	sess.Append(llm.Message{Role: "tool", Content: strings.Repeat("x", 2000), ToolCallID: "c"})

	var short, long strings.Builder
	New(&short, false).Render(sess)
	New(&long, true).Render(sess)
	if len(short.String()) >= len(long.String()) {
		t.Error("non-verbose output should truncate long results")
	}
	if !strings.Contains(short.String(), "more") {
		t.Error("truncation marker missing")
	}
}

func TestRenderMarksErrors(t *testing.T) {
	sess := session.NewSession("implementer", "m", "g")
	sess.Status = session.StatusFailed
	sess.Error = "turn ceiling of 3 reached without completion"
	sess.Append(llm.Message{Role: "tool", Content: "Error: no such file", ToolCallID: "c"})

	var b strings.Builder
	New(&b, false).Render(sess)
	out := b.String()
	if !strings.Contains(out, "Error: no such file") {
		t.Error("tool error missing")
	}
	if !strings.Contains(out, "turn ceiling") {
		t.Error("session error missing")
	}
}
