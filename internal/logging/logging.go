// Package logging provides structured, component-tagged logging.
package logging

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Level represents log severity.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "INFO"
	}
}

// Logger writes key=value entries to stderr. Field keys are emitted in
// sorted order so log lines are grep-stable.
type Logger struct {
	mu        sync.Mutex
	output    io.Writer
	minLevel  Level
	component string
}

// New creates a Logger at info level.
func New() *Logger {
	return &Logger{output: os.Stderr, minLevel: LevelInfo}
}

// WithComponent returns a logger tagged with a component name.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{output: l.output, minLevel: l.minLevel, component: component}
}

// SetLevel sets the minimum level.
func (l *Logger) SetLevel(level Level) { l.minLevel = level }

// SetOutput sets the output writer (default: stderr).
func (l *Logger) SetOutput(w io.Writer) { l.output = w }

func (l *Logger) Debug(msg string, fields ...map[string]interface{}) { l.log(LevelDebug, msg, fields) }
func (l *Logger) Info(msg string, fields ...map[string]interface{})  { l.log(LevelInfo, msg, fields) }
func (l *Logger) Warn(msg string, fields ...map[string]interface{})  { l.log(LevelWarn, msg, fields) }
func (l *Logger) Error(msg string, fields ...map[string]interface{}) { l.log(LevelError, msg, fields) }

func formatFields(fields map[string]interface{}) string {
	if len(fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, fields[k]))
	}
	return " " + strings.Join(parts, " ")
}

// log writes: LEVEL TIMESTAMP [component] message key=value ...
func (l *Logger) log(level Level, msg string, fields []map[string]interface{}) {
	if level < l.minLevel {
		return
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-5s %s", level, time.Now().UTC().Format("2006-01-02T15:04:05.000Z"))
	if l.component != "" {
		fmt.Fprintf(&b, " [%s]", l.component)
	}
	b.WriteByte(' ')
	b.WriteString(msg)
	if len(fields) > 0 && fields[0] != nil {
		b.WriteString(formatFields(fields[0]))
	}
	b.WriteByte('\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	l.output.Write([]byte(b.String()))
}

// ToolCall logs a tool invocation. Arguments are not logged to avoid
// leaking file contents and command lines at info level.
func (l *Logger) ToolCall(tool, sessionID string) {
	l.Info("tool_call", map[string]interface{}{
		"tool":    tool,
		"session": sessionID,
	})
}

// ToolResult logs a tool result.
func (l *Logger) ToolResult(tool string, duration time.Duration, err error) {
	fields := map[string]interface{}{
		"tool":     tool,
		"duration": duration.String(),
	}
	if err != nil {
		fields["error"] = err.Error()
		l.Warn("tool_error", fields)
	} else {
		l.Debug("tool_result", fields)
	}
}

// GateDenied logs a governance denial.
func (l *Logger) GateDenied(tool, role, reason string) {
	l.Warn("gate_denied", map[string]interface{}{
		"tool":   tool,
		"role":   role,
		"reason": reason,
	})
}

// SessionStart logs the start of an agent session.
func (l *Logger) SessionStart(id, role, model string) {
	l.Info("session_start", map[string]interface{}{
		"session": id,
		"role":    role,
		"model":   model,
	})
}

// SessionEnd logs the completion of an agent session.
func (l *Logger) SessionEnd(id, status string, turns int, duration time.Duration) {
	l.Info("session_end", map[string]interface{}{
		"session":  id,
		"status":   status,
		"turns":    turns,
		"duration": duration.String(),
	})
}

// StageTransition logs a workflow stage transition.
func (l *Logger) StageTransition(workflowID string, stageIndex int, stage, state string) {
	l.Info("stage_transition", map[string]interface{}{
		"workflow": workflowID,
		"index":    stageIndex,
		"stage":    stage,
		"state":    state,
	})
}

// GateSatisfied logs gate satisfaction.
func (l *Logger) GateSatisfied(workflowID string, stageIndex int, gateType, actor string) {
	l.Info("gate_satisfied", map[string]interface{}{
		"workflow": workflowID,
		"index":    stageIndex,
		"gate":     gateType,
		"actor":    actor,
	})
}

// LockAcquired logs scope lock acquisition for a chain.
func (l *Logger) LockAcquired(chainID string, patterns []string) {
	l.Info("lock_acquired", map[string]interface{}{
		"chain":    chainID,
		"patterns": strings.Join(patterns, ","),
	})
}

// LockReleased logs scope lock release.
func (l *Logger) LockReleased(chainID string) {
	l.Info("lock_released", map[string]interface{}{
		"chain": chainID,
	})
}
