package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/jlneal/choragen-sub010/internal/logging"
)

func TestNormalizeStopReason(t *testing.T) {
	tests := []struct {
		vendor    string
		toolCalls bool
		want      string
	}{
		{"stop", false, StopEndTurn},
		{"stop", true, StopToolUse},
		{"end_turn", false, StopEndTurn},
		{"tool_use", false, StopToolUse},
		{"tool-calls", false, StopToolUse},
		{"function_call", false, StopToolUse},
		{"length", false, StopMaxTokens},
		{"max_tokens", false, StopMaxTokens},
		{"MAX_TOKENS", false, StopMaxTokens},
		{"weird_vendor_reason", false, StopEndTurn},
		{"weird_vendor_reason", true, StopToolUse},
	}
	for _, tt := range tests {
		got := NormalizeStopReason(tt.vendor, tt.toolCalls)
		if got != tt.want {
			t.Errorf("NormalizeStopReason(%q, %v) = %q, want %q", tt.vendor, tt.toolCalls, got, tt.want)
		}
	}
}

func TestInferProviderFromModel(t *testing.T) {
	tests := []struct {
		model string
		want  string
	}{
		{"claude-sonnet-4-20250514", "anthropic"},
		{"gpt-4o", "openai"},
		{"o3-mini", "openai"},
		{"gemini-2.0-flash", "google"},
		{"mistral-large", "mistral"},
		{"totally-unknown", ""},
	}
	for _, tt := range tests {
		if got := InferProviderFromModel(tt.model); got != tt.want {
			t.Errorf("InferProviderFromModel(%q) = %q, want %q", tt.model, got, tt.want)
		}
	}
}

func TestErrorClassification(t *testing.T) {
	if !isRetryableError(errors.New("429 too many requests")) {
		t.Error("rate limit should be retryable")
	}
	if !isRetryableError(errors.New("503 service unavailable")) {
		t.Error("5xx should be retryable")
	}
	if isRetryableError(errors.New("invalid api key")) {
		t.Error("auth error should not be retryable")
	}
	if !isBillingError(errors.New("quota exceeded for this billing period")) {
		t.Error("quota error should be billing")
	}
	if isBillingError(errors.New("overloaded")) {
		t.Error("overloaded is transient, not billing")
	}
}

func TestDecodeToolCall(t *testing.T) {
	a := &FantasyAdapter{logger: logging.New().WithComponent("llm")}

	tc, ok := a.decodeToolCall("tc_1", "read", `{"path":"main.go"}`)
	if !ok {
		t.Fatal("valid payload rejected")
	}
	if tc.Name != "read" || tc.Args["path"] != "main.go" {
		t.Errorf("unexpected decode: %+v", tc)
	}

	tc, ok = a.decodeToolCall("tc_2", "ls", "")
	if !ok {
		t.Fatal("empty args should decode to argument-free call")
	}
	if len(tc.Args) != 0 {
		t.Errorf("expected empty args, got %v", tc.Args)
	}

	if _, ok := a.decodeToolCall("tc_3", "read", `{"path": unquoted}`); ok {
		t.Error("malformed JSON should be rejected")
	}
	if _, ok := a.decodeToolCall("tc_4", "", `{}`); ok {
		t.Error("missing tool name should be rejected")
	}
}

func TestMockProviderScripting(t *testing.T) {
	m := NewMockProvider()
	m.SetResponse("Done")

	resp, err := m.Chat(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "go"}},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "Done" || resp.StopReason != StopEndTurn {
		t.Errorf("unexpected response: %+v", resp)
	}

	m2 := NewMockProvider()
	m2.QueueResponse(&ChatResponse{ToolCalls: []ToolCall{{ID: "1", Name: "read", Args: map[string]interface{}{}}}})
	m2.QueueResponse(&ChatResponse{Content: "finished"})

	r1, _ := m2.Chat(context.Background(), ChatRequest{})
	if r1.StopReason != StopToolUse {
		t.Errorf("queued tool-call response should stop with tool_use, got %s", r1.StopReason)
	}
	r2, _ := m2.Chat(context.Background(), ChatRequest{})
	if r2.Content != "finished" {
		t.Errorf("expected second scripted response, got %+v", r2)
	}
	if m2.CallCount() != 2 {
		t.Errorf("CallCount = %d, want 2", m2.CallCount())
	}
}
