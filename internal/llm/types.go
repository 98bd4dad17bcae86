// Package llm abstracts LLM vendors behind a single chat-completion
// interface with normalized tool calls and stop reasons.
package llm

import (
	"context"
	"time"
)

// Normalized stop reasons. Every vendor finish reason maps onto one of
// these three before a response leaves this package.
const (
	StopEndTurn   = "end_turn"
	StopToolUse   = "tool_use"
	StopMaxTokens = "max_tokens"
)

// Message is a single conversation message.
type Message struct {
	Role       string     `json:"role"` // system, user, assistant, tool
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`   // assistant messages
	ToolCallID string     `json:"tool_call_id,omitempty"` // tool messages
}

// ToolCall is a normalized tool invocation request from the model.
type ToolCall struct {
	ID   string                 `json:"id"`
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args"`
}

// ToolDef describes a tool offered to the model.
type ToolDef struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"` // JSON Schema
}

// ChatRequest is a single chat-completion request.
type ChatRequest struct {
	System    string    `json:"system,omitempty"`
	Messages  []Message `json:"messages"`
	Tools     []ToolDef `json:"tools,omitempty"`
	MaxTokens int       `json:"max_tokens,omitempty"`
}

// ChatResponse is a normalized chat-completion response.
type ChatResponse struct {
	Content      string     `json:"content"`
	Thinking     string     `json:"thinking,omitempty"`
	ToolCalls    []ToolCall `json:"tool_calls,omitempty"`
	StopReason   string     `json:"stop_reason"`
	InputTokens  int        `json:"input_tokens"`
	OutputTokens int        `json:"output_tokens"`
	Model        string     `json:"model"`
}

// Provider is the single entry point to a chat-completion backend.
type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// RetryConfig controls transient-error retry behavior.
type RetryConfig struct {
	MaxRetries  int           `toml:"max_retries"`
	InitBackoff time.Duration `toml:"init_backoff"`
	MaxBackoff  time.Duration `toml:"max_backoff"`
}

// Config describes how to construct a Provider.
// If Provider is empty it is inferred from the model name.
type Config struct {
	Provider    string      `toml:"provider"`
	Model       string      `toml:"model"`
	APIKey      string      `toml:"-"`
	BaseURL     string      `toml:"base_url"`
	MaxTokens   int         `toml:"max_tokens"`
	Temperature float64     `toml:"temperature"` // 0 = provider default
	Retry       RetryConfig `toml:"retry"`
}

// NormalizeStopReason maps vendor finish reasons onto the three
// canonical values. Unknown reasons with tool calls present map to
// tool_use; otherwise end_turn.
func NormalizeStopReason(vendor string, hasToolCalls bool) string {
	switch vendor {
	case "stop", "end_turn", "stop_sequence", "STOP":
		if hasToolCalls {
			return StopToolUse
		}
		return StopEndTurn
	case "tool_use", "tool-calls", "tool_calls", "function_call":
		return StopToolUse
	case "max_tokens", "length", "MAX_TOKENS", "model_length":
		return StopMaxTokens
	default:
		if hasToolCalls {
			return StopToolUse
		}
		return StopEndTurn
	}
}
