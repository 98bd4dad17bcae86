package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/jlneal/choragen-sub010/internal/events"
	"github.com/jlneal/choragen-sub010/internal/gate"
	"github.com/jlneal/choragen-sub010/internal/llm"
	"github.com/jlneal/choragen-sub010/internal/logging"
	"github.com/jlneal/choragen-sub010/internal/tools"
)

// Runner drives the turn loop for one session: call the provider,
// authorize and execute the requested tool calls in order, append the
// results, persist, repeat. The loop ends when the model returns zero
// tool calls or the turn ceiling is reached.
type Runner struct {
	Provider    llm.Provider
	Gate        *gate.Gate
	Registry    *tools.Registry
	Store       Store
	Events      events.Emitter
	MaxTurns    int
	MaxTokens   int
	RolePrompt  string
	ToolTimeout time.Duration
	Logger      *logging.Logger
}

func (r *Runner) logger() *logging.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return logging.New().WithComponent("session")
}

func (r *Runner) emit(ev events.Event) {
	if r.Events != nil {
		r.Events.Emit(ev)
	}
}

// Run executes the session to completion. History is appended strictly
// in order and persisted after every turn; a tool failure or a gate
// denial becomes the tool's result content, never a loop abort.
func (r *Runner) Run(ctx context.Context, sess *Session) (*Result, error) {
	ctx, span := startSessionSpan(ctx, sess)
	log := r.logger()
	start := time.Now()

	log.SessionStart(sess.ID, sess.Role, sess.Model)
	r.emit(events.Event{
		Type:       events.TypeSessionStarted,
		SessionID:  sess.ID,
		WorkflowID: sess.WorkflowID,
		TaskID:     sess.TaskID,
		ChainID:    sess.ChainID,
		Data:       map[string]interface{}{"role": sess.Role, "model": sess.Model},
	})

	set, err := r.Gate.Resolve(sess.Role, sess.Stage)
	if err != nil {
		return r.fail(span, sess, err)
	}
	defs := wireDefinitions(r.Gate.Definitions(set))

	system := r.systemPrompt(sess, set)
	if len(sess.Messages) == 0 {
		sess.Append(llm.Message{Role: "user", Content: sess.Goal})
		if err := r.Store.Save(sess); err != nil {
			return r.fail(span, sess, err)
		}
	}

	maxTurns := r.MaxTurns
	if maxTurns <= 0 {
		maxTurns = 25
	}

	for sess.Turns < maxTurns {
		if err := ctx.Err(); err != nil {
			return r.fail(span, sess, err)
		}

		turnCtx, turnSpan := startTurnSpan(ctx, sess.Turns+1)
		resp, err := r.Provider.Chat(turnCtx, llm.ChatRequest{
			System:    system,
			Messages:  sess.Messages,
			Tools:     defs,
			MaxTokens: r.MaxTokens,
		})
		if err != nil {
			turnSpan.RecordError(err)
			turnSpan.End()
			return r.fail(span, sess, fmt.Errorf("provider call failed: %w", err))
		}

		sess.Turns++
		sess.InputTokens += resp.InputTokens
		sess.OutputTokens += resp.OutputTokens
		sess.Append(llm.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		if len(resp.ToolCalls) == 0 {
			turnSpan.End()
			sess.Status = StatusCompleted
			sess.Summary = resp.Content
			if err := r.Store.Save(sess); err != nil {
				return r.fail(span, sess, err)
			}
			log.SessionEnd(sess.ID, sess.Status, sess.Turns, time.Since(start))
			r.emit(events.Event{
				Type:       events.TypeSessionCompleted,
				SessionID:  sess.ID,
				WorkflowID: sess.WorkflowID,
				TaskID:     sess.TaskID,
				ChainID:    sess.ChainID,
				Data:       map[string]interface{}{"turns": sess.Turns},
			})
			endSessionSpan(span, sess, nil)
			return &Result{
				SessionID:   sess.ID,
				Success:     true,
				Summary:     sess.Summary,
				Turns:       sess.Turns,
				FileChanges: sess.FileChanges,
			}, nil
		}

		// Tool results are appended in the order the calls were issued.
		for _, call := range resp.ToolCalls {
			content := r.runTool(turnCtx, sess, call)
			sess.Append(llm.Message{
				Role:       "tool",
				Content:    content,
				ToolCallID: call.ID,
			})
		}
		turnSpan.End()

		if err := r.Store.Save(sess); err != nil {
			return r.fail(span, sess, err)
		}
	}

	// The ceiling is a failure: the model never signalled completion.
	err = fmt.Errorf("turn ceiling of %d reached without completion", maxTurns)
	log.SessionEnd(sess.ID, StatusFailed, sess.Turns, time.Since(start))
	return r.fail(span, sess, err)
}

// runTool authorizes and executes one tool call, returning the content
// to feed back to the model. Denials and execution errors are reported
// as content so the model can self-correct.
func (r *Runner) runTool(ctx context.Context, sess *Session, call llm.ToolCall) string {
	id := fromWireName(call.Name)
	log := r.logger()
	log.ToolCall(id, sess.ID)

	if err := r.Gate.Authorize(gate.Request{
		Role:      sess.Role,
		Stage:     sess.Stage,
		ToolID:    id,
		Args:      call.Args,
		TaskScope: sess.TaskScope,
	}); err != nil {
		r.emit(events.Event{
			Type:       events.TypeToolDenied,
			SessionID:  sess.ID,
			WorkflowID: sess.WorkflowID,
			TaskID:     sess.TaskID,
			Data:       map[string]interface{}{"tool": id, "reason": err.Error()},
		})
		return err.Error()
	}

	tool := r.Registry.Get(id)
	if tool == nil {
		return fmt.Sprintf("Error: unknown tool %s", id)
	}

	toolCtx := ctx
	var cancel context.CancelFunc
	if r.ToolTimeout > 0 {
		toolCtx, cancel = context.WithTimeout(ctx, r.ToolTimeout)
		defer cancel()
	}

	toolCtx, toolSpan := startToolSpan(toolCtx, id)
	start := time.Now()
	out, err := tool.Execute(toolCtx, call.Args)
	log.ToolResult(id, time.Since(start), err)
	if err != nil {
		toolSpan.RecordError(err)
	}
	toolSpan.End()

	r.emit(events.Event{
		Type:       events.TypeToolExecuted,
		SessionID:  sess.ID,
		WorkflowID: sess.WorkflowID,
		TaskID:     sess.TaskID,
		Data:       map[string]interface{}{"tool": id, "ok": err == nil},
	})

	if err != nil {
		return fmt.Sprintf("Error: %v", err)
	}

	r.trackFileChanges(sess, tool, id, call.Args)
	return formatResult(out)
}

// trackFileChanges records paths mutated by a successful tool call.
func (r *Runner) trackFileChanges(sess *Session, tool tools.Tool, id string, args map[string]interface{}) {
	if tool.Mutates() && tool.Category() == tools.CategoryFS {
		if path, ok := args["path"].(string); ok && path != "" {
			sess.RecordFileChange(path)
		}
	}
	if id == "git:commit" {
		if raw, ok := args["paths"].([]interface{}); ok {
			for _, rp := range raw {
				if p, ok := rp.(string); ok {
					sess.RecordFileChange(p)
				}
			}
		}
	}
}

// fail marks the session failed, persists it, and emits the failure
// event. The save is best effort; the original cause is what matters.
func (r *Runner) fail(span trace.Span, sess *Session, cause error) (*Result, error) {
	sess.Status = StatusFailed
	sess.Error = cause.Error()
	if err := r.Store.Save(sess); err != nil {
		r.logger().Error("failed to persist failed session", map[string]interface{}{
			"session": sess.ID,
			"error":   err.Error(),
		})
	}
	r.emit(events.Event{
		Type:       events.TypeSessionFailed,
		SessionID:  sess.ID,
		WorkflowID: sess.WorkflowID,
		TaskID:     sess.TaskID,
		ChainID:    sess.ChainID,
		Data:       map[string]interface{}{"error": cause.Error(), "turns": sess.Turns},
	})
	endSessionSpan(span, sess, cause)
	return &Result{
		SessionID:   sess.ID,
		Success:     false,
		Turns:       sess.Turns,
		FileChanges: sess.FileChanges,
		Err:         cause,
	}, cause
}

// systemPrompt builds the system message for a session. A role prompt
// from the config takes precedence; otherwise a default is assembled
// from the role, goal context, and tool set.
func (r *Runner) systemPrompt(sess *Session, set gate.ToolSet) string {
	var b strings.Builder
	if p := r.RolePrompt; p != "" {
		b.WriteString(p)
	} else {
		fmt.Fprintf(&b, "You are an autonomous %s agent working in a git repository.\n", sess.Role)
		b.WriteString("Complete the assigned goal using the available tools. ")
		b.WriteString("When the goal is done, reply with a short summary and no tool calls.\n")
	}
	if len(sess.TaskScope) > 0 {
		fmt.Fprintf(&b, "\nYour file changes are limited to: %s\n", strings.Join(sess.TaskScope, ", "))
	}
	if sess.TaskID != "" {
		fmt.Fprintf(&b, "You are working on task %s. Move it through its lifecycle with task:transition.\n", sess.TaskID)
	}
	fmt.Fprintf(&b, "\nAvailable tools: %s\n", strings.Join(set.IDs(), ", "))
	return b.String()
}

// formatResult serializes a tool's return value as message content.
func formatResult(out interface{}) string {
	switch v := out.(type) {
	case nil:
		return "ok"
	case string:
		return v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}

// Tool identifiers use domain:action form, but provider tool-name
// grammars do not accept colons. The wire name substitutes an
// underscore and is mapped back before dispatch.
func toWireName(id string) string {
	return strings.ReplaceAll(id, ":", "_")
}

func fromWireName(name string) string {
	return strings.Replace(name, "_", ":", 1)
}

func wireDefinitions(defs []tools.Definition) []llm.ToolDef {
	out := make([]llm.ToolDef, 0, len(defs))
	for _, d := range defs {
		out = append(out, llm.ToolDef{
			Name:        toWireName(d.Name),
			Description: d.Description,
			Parameters:  d.Parameters,
		})
	}
	return out
}
