// Tracing instrumentation for session runs.
package session

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

func tracer() trace.Tracer {
	return otel.Tracer("choragen/session")
}

// startSessionSpan starts a span covering the whole session run.
func startSessionSpan(ctx context.Context, sess *Session) (context.Context, trace.Span) {
	ctx, span := tracer().Start(ctx, "session.run")
	span.SetAttributes(
		attribute.String("session.id", sess.ID),
		attribute.String("session.role", sess.Role),
		attribute.String("session.model", sess.Model),
	)
	if sess.WorkflowID != "" {
		span.SetAttributes(attribute.String("session.workflow", sess.WorkflowID))
	}
	return ctx, span
}

// endSessionSpan ends the session span with outcome info.
func endSessionSpan(span trace.Span, sess *Session, err error) {
	span.SetAttributes(
		attribute.String("session.status", sess.Status),
		attribute.Int("session.turns", sess.Turns),
		attribute.Int("session.input_tokens", sess.InputTokens),
		attribute.Int("session.output_tokens", sess.OutputTokens),
	)
	if err != nil {
		span.RecordError(err)
	}
	span.End()
}

// startTurnSpan starts a span for a single provider turn.
func startTurnSpan(ctx context.Context, turn int) (context.Context, trace.Span) {
	ctx, span := tracer().Start(ctx, "session.turn")
	span.SetAttributes(attribute.Int("turn.number", turn))
	return ctx, span
}

// startToolSpan starts a span for one tool execution.
func startToolSpan(ctx context.Context, tool string) (context.Context, trace.Span) {
	ctx, span := tracer().Start(ctx, "tool."+tool)
	span.SetAttributes(attribute.String("tool.name", tool))
	return ctx, span
}
