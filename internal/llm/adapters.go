package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"charm.land/fantasy"
	"charm.land/fantasy/providers/anthropic"
	"charm.land/fantasy/providers/google"
	"charm.land/fantasy/providers/openai"
	"charm.land/fantasy/providers/openaicompat"

	"github.com/jlneal/choragen-sub010/internal/logging"
)

const (
	defaultMaxRetries  = 5
	defaultInitBackoff = 1 * time.Second
	defaultMaxBackoff  = 60 * time.Second
)

type errClass int

const (
	errFatal errClass = iota
	errTransient
	errBilling
)

var transientMarkers = []string{
	"rate limit", "too many requests", "429", "overloaded", "capacity",
	"500", "502", "503", "504",
	"internal server error", "bad gateway", "service unavailable",
	"gateway timeout", "temporarily unavailable",
}

var billingMarkers = []string{
	"billing", "payment", "credits", "quota exceeded",
	"insufficient", "402", "subscription", "expired",
}

// classifyErr buckets a provider error by message content. Vendor SDKs
// do not expose typed errors for these cases, so substring matching is
// the only signal available.
func classifyErr(err error) errClass {
	if err == nil {
		return errFatal
	}
	msg := strings.ToLower(err.Error())
	for _, m := range billingMarkers {
		if strings.Contains(msg, m) {
			return errBilling
		}
	}
	for _, m := range transientMarkers {
		if strings.Contains(msg, m) {
			return errTransient
		}
	}
	return errFatal
}

func isRetryableError(err error) bool { return err != nil && classifyErr(err) == errTransient }
func isBillingError(err error) bool   { return err != nil && classifyErr(err) == errBilling }

// FantasyAdapter implements Provider over a fantasy.LanguageModel,
// adding retry with exponential backoff and tool-call decoding.
type FantasyAdapter struct {
	model       fantasy.LanguageModel
	maxTokens   int
	temperature float64
	name        string
	retry       RetryConfig
	logger      *logging.Logger
}

func NewFantasyAdapter(model fantasy.LanguageModel, maxTokens int, providerName string, retry RetryConfig) *FantasyAdapter {
	if retry.MaxRetries <= 0 {
		retry.MaxRetries = defaultMaxRetries
	}
	if retry.InitBackoff <= 0 {
		retry.InitBackoff = defaultInitBackoff
	}
	if retry.MaxBackoff <= 0 {
		retry.MaxBackoff = defaultMaxBackoff
	}
	return &FantasyAdapter{
		model:     model,
		maxTokens: maxTokens,
		name:      providerName,
		retry:     retry,
		logger:    logging.New().WithComponent("llm"),
	}
}

// Chat sends one completion request and decodes the response into the
// provider-neutral types the rest of the engine works with.
func (a *FantasyAdapter) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	call := fantasy.Call{
		Prompt: a.buildPrompt(req),
		Tools:  a.buildTools(req),
	}
	maxTokens := int64(a.maxTokens)
	if req.MaxTokens > 0 {
		maxTokens = int64(req.MaxTokens)
	}
	call.MaxOutputTokens = &maxTokens
	if a.temperature > 0 {
		t := a.temperature
		call.Temperature = &t
	}

	resp, err := a.generate(ctx, call)
	if err != nil {
		return nil, err
	}
	return a.collect(resp), nil
}

func (a *FantasyAdapter) buildPrompt(req ChatRequest) fantasy.Prompt {
	var prompt fantasy.Prompt
	if req.System != "" {
		prompt = append(prompt, fantasy.NewSystemMessage(req.System))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			prompt = append(prompt, fantasy.NewSystemMessage(m.Content))
		case "user":
			prompt = append(prompt, fantasy.NewUserMessage(m.Content))
		case "assistant":
			var parts []fantasy.MessagePart
			if m.Content != "" {
				parts = append(parts, fantasy.TextPart{Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				argsJSON, _ := json.Marshal(tc.Args)
				parts = append(parts, fantasy.ToolCallPart{
					ToolCallID: tc.ID,
					ToolName:   tc.Name,
					Input:      string(argsJSON),
				})
			}
			prompt = append(prompt, fantasy.Message{Role: fantasy.MessageRoleAssistant, Content: parts})
		case "tool":
			prompt = append(prompt, fantasy.Message{
				Role: fantasy.MessageRoleTool,
				Content: []fantasy.MessagePart{fantasy.ToolResultPart{
					ToolCallID: m.ToolCallID,
					Output:     fantasy.ToolResultOutputContentText{Text: m.Content},
				}},
			})
		}
	}
	return prompt
}

func (a *FantasyAdapter) buildTools(req ChatRequest) []fantasy.Tool {
	var tools []fantasy.Tool
	for _, t := range req.Tools {
		tools = append(tools, fantasy.FunctionTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.Parameters,
		})
	}
	return tools
}

func (a *FantasyAdapter) generate(ctx context.Context, call fantasy.Call) (*fantasy.Response, error) {
	backoff := a.retry.InitBackoff
	for attempt := 0; ; attempt++ {
		resp, err := a.model.Generate(ctx, call)
		if err == nil {
			return resp, nil
		}
		switch classifyErr(err) {
		case errBilling:
			return nil, fmt.Errorf("billing/payment error (fatal): %w", err)
		case errFatal:
			return nil, fmt.Errorf("%s generate failed: %w", a.name, err)
		}
		if attempt == a.retry.MaxRetries {
			return nil, fmt.Errorf("%s generate failed after %d retries: %w", a.name, a.retry.MaxRetries, err)
		}

		a.logger.Warn("provider_retry", map[string]interface{}{
			"provider": a.name,
			"attempt":  attempt + 1,
			"backoff":  backoff.String(),
			"error":    err.Error(),
		})
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		if backoff *= 2; backoff > a.retry.MaxBackoff {
			backoff = a.retry.MaxBackoff
		}
	}
}

// collect flattens response content into text, thinking, and tool calls.
// A malformed tool-call payload drops the whole call set with a warning
// rather than handing the session a partial turn.
func (a *FantasyAdapter) collect(resp *fantasy.Response) *ChatResponse {
	out := &ChatResponse{
		InputTokens:  int(resp.Usage.InputTokens),
		OutputTokens: int(resp.Usage.OutputTokens),
		Model:        a.model.Model(),
	}
	malformed := false
	for _, content := range resp.Content {
		switch c := content.(type) {
		case *fantasy.TextContent:
			out.Content += c.Text
		case fantasy.TextContent:
			out.Content += c.Text
		case *fantasy.ReasoningContent:
			out.Thinking += c.Text
		case fantasy.ReasoningContent:
			out.Thinking += c.Text
		case *fantasy.ToolCallContent:
			if tc, ok := a.decodeToolCall(c.ToolCallID, c.ToolName, c.Input); ok {
				out.ToolCalls = append(out.ToolCalls, tc)
			} else {
				malformed = true
			}
		case fantasy.ToolCallContent:
			if tc, ok := a.decodeToolCall(c.ToolCallID, c.ToolName, c.Input); ok {
				out.ToolCalls = append(out.ToolCalls, tc)
			} else {
				malformed = true
			}
		}
	}
	if malformed {
		out.ToolCalls = nil
	}
	out.StopReason = NormalizeStopReason(string(resp.FinishReason), len(out.ToolCalls) > 0)
	return out
}

// decodeToolCall parses a tool-call payload. Empty input is an
// argument-free call; unparseable input is malformed.
func (a *FantasyAdapter) decodeToolCall(id, name, input string) (ToolCall, bool) {
	if name == "" {
		a.logger.Warn("malformed_tool_call", map[string]interface{}{"error": "missing tool name"})
		return ToolCall{}, false
	}
	args := map[string]interface{}{}
	if strings.TrimSpace(input) != "" {
		if err := json.Unmarshal([]byte(input), &args); err != nil {
			a.logger.Warn("malformed_tool_call", map[string]interface{}{"tool": name, "error": err.Error()})
			return ToolCall{}, false
		}
	}
	return ToolCall{ID: id, Name: name, Args: args}, true
}

var modelPrefixes = []struct {
	prefixes []string
	provider string
}{
	{[]string{"claude"}, "anthropic"},
	{[]string{"gpt-", "o1", "o3", "chatgpt"}, "openai"},
	{[]string{"gemini", "gemma"}, "google"},
	{[]string{"mistral", "mixtral", "codestral"}, "mistral"},
}

// InferProviderFromModel guesses the provider from the model name, so
// config can name just a model.
func InferProviderFromModel(model string) string {
	model = strings.ToLower(model)
	for _, entry := range modelPrefixes {
		for _, p := range entry.prefixes {
			if strings.HasPrefix(model, p) {
				return entry.provider
			}
		}
	}
	return ""
}

func newVendorProvider(providerName, apiKey, baseURL string) (fantasy.Provider, error) {
	compat := func(name, url string) (fantasy.Provider, error) {
		return openaicompat.New(
			openaicompat.WithBaseURL(url),
			openaicompat.WithAPIKey(apiKey),
			openaicompat.WithName(name),
		)
	}
	switch providerName {
	case "anthropic":
		if baseURL != "" {
			return compat("anthropic", baseURL)
		}
		return anthropic.New(anthropic.WithAPIKey(apiKey))
	case "openai":
		if baseURL != "" {
			return compat("openai", baseURL)
		}
		return openai.New(openai.WithAPIKey(apiKey))
	case "google":
		return google.New(google.WithGeminiAPIKey(apiKey))
	case "mistral":
		if baseURL == "" {
			baseURL = "https://api.mistral.ai/v1"
		}
		return compat("mistral", baseURL)
	case "openai-compat", "openrouter", "litellm", "ollama", "lmstudio":
		if baseURL == "" {
			return nil, fmt.Errorf("base_url is required for provider %s", providerName)
		}
		return compat(providerName, baseURL)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", providerName)
	}
}

// NewProvider builds a Provider from configuration. An empty provider
// name is inferred from the model.
func NewProvider(cfg Config) (Provider, error) {
	if cfg.Provider == "" && cfg.Model != "" {
		cfg.Provider = InferProviderFromModel(cfg.Model)
		if cfg.Provider == "" {
			return nil, fmt.Errorf("cannot determine provider for model %q; set provider explicitly", cfg.Model)
		}
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 8192
	}

	vendor, err := newVendorProvider(cfg.Provider, cfg.APIKey, cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s provider: %w", cfg.Provider, err)
	}
	model, err := vendor.LanguageModel(context.Background(), cfg.Model)
	if err != nil {
		return nil, fmt.Errorf("failed to get model %s: %w", cfg.Model, err)
	}
	adapter := NewFantasyAdapter(model, cfg.MaxTokens, cfg.Provider, cfg.Retry)
	adapter.temperature = cfg.Temperature
	return adapter, nil
}
