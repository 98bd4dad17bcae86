// Package replay renders persisted session logs for human review.
package replay

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/jlneal/choragen-sub010/internal/llm"
	"github.com/jlneal/choragen-sub010/internal/session"
)

const previewLen = 400

// Replayer writes a formatted rendition of a session's message
// history.
type Replayer struct {
	output  io.Writer
	verbose bool
}

// New creates a replayer. Verbose disables result truncation.
func New(output io.Writer, verbose bool) *Replayer {
	return &Replayer{output: output, verbose: verbose}
}

// Render writes the full session: header, every message in order, and
// a closing summary line.
func (r *Replayer) Render(sess *session.Session) {
	fmt.Fprintf(r.output, "%s %s\n", headerStyle.Render("SESSION"), sess.ID)
	fmt.Fprintf(r.output, "%s %s  %s %s  %s %s\n",
		labelStyle.Render("role:"), sess.Role,
		labelStyle.Render("model:"), sess.Model,
		labelStyle.Render("status:"), r.statusStyle(sess.Status).Render(sess.Status))
	fmt.Fprintf(r.output, "%s %d  %s %d in / %d out\n",
		labelStyle.Render("turns:"), sess.Turns,
		labelStyle.Render("tokens:"), sess.InputTokens, sess.OutputTokens)
	fmt.Fprintln(r.output)

	for _, msg := range sess.Messages {
		r.renderMessage(msg)
	}

	fmt.Fprintln(r.output)
	if len(sess.FileChanges) > 0 {
		fmt.Fprintf(r.output, "%s %s\n", labelStyle.Render("changed:"), strings.Join(sess.FileChanges, ", "))
	}
	if sess.Error != "" {
		fmt.Fprintf(r.output, "%s %s\n", errorStyle.Render("error:"), sess.Error)
	}
}

func (r *Replayer) renderMessage(msg llm.Message) {
	switch msg.Role {
	case "user":
		fmt.Fprintf(r.output, "%s %s\n", userStyle.Render("USER"), r.preview(msg.Content))
	case "assistant":
		if msg.Content != "" {
			fmt.Fprintf(r.output, "%s %s\n", assistantStyle.Render("ASSISTANT"), r.preview(msg.Content))
		}
		for _, call := range msg.ToolCalls {
			fmt.Fprintf(r.output, "  %s %s %s\n",
				toolStyle.Render("->"), call.Name, dimStyle.Render(argsPreview(call.Args)))
		}
	case "tool":
		content := r.preview(msg.Content)
		if strings.HasPrefix(msg.Content, "Error:") || strings.HasPrefix(msg.Content, "policy denied") {
			fmt.Fprintf(r.output, "  %s %s\n", errorStyle.Render("<-"), content)
		} else {
			fmt.Fprintf(r.output, "  %s %s\n", dimStyle.Render("<-"), content)
		}
	}
}

func (r *Replayer) statusStyle(status string) interface{ Render(...string) string } {
	switch status {
	case session.StatusCompleted:
		return successStyle
	case session.StatusFailed:
		return errorStyle
	default:
		return dimStyle
	}
}

func (r *Replayer) preview(s string) string {
	s = strings.ReplaceAll(strings.TrimSpace(s), "\n", " ")
	if r.verbose || len(s) <= previewLen {
		return s
	}
	return s[:previewLen] + dimStyle.Render(fmt.Sprintf(" … (%d more)", len(s)-previewLen))
}

func argsPreview(args map[string]interface{}) string {
	if len(args) == 0 {
		return ""
	}
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var parts []string
	for _, k := range keys {
		sv := fmt.Sprintf("%v", args[k])
		if len(sv) > 60 {
			sv = sv[:60] + "…"
		}
		parts = append(parts, fmt.Sprintf("%s=%s", k, sv))
	}
	return "(" + strings.Join(parts, " ") + ")"
}
