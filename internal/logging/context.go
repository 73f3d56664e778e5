// internal/logging/context.go
package logging

import (
	"context"
	"fmt"
	"regexp"
	"unicode/utf8"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 8)

	// Trace correlation (from OpenTelemetry)
	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
		if sc.IsSampled() {
			fields = append(fields, zap.Bool("trace_sampled", true))
		}
	}

	// Session context
	if sessionID := SessionIDFromContext(ctx); sessionID != "" {
		fields = append(fields, zap.String("session.id", sessionID))
	}

	// Invocation ID (one delegated call, spanning its retries)
	if invocationID := InvocationIDFromContext(ctx); invocationID != "" {
		fields = append(fields, zap.String("invocation.id", invocationID))
	}

	// Target agent
	if agent := AgentFromContext(ctx); agent != "" {
		fields = append(fields, zap.String("agent", agent))
	}

	return fields
}

// Context key types
type sessionCtxKey struct{}
type invocationCtxKey struct{}
type agentCtxKey struct{}

// Validation constants
const (
	maxIDLen        = 128
	maxAgentNameLen = 64
)

var (
	// idPattern allows alphanumeric, hyphen, underscore
	idPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	// agentPattern additionally allows dots for versioned agent names
	agentPattern = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)
)

// validateID validates a session or invocation ID.
func validateID(id, name string) error {
	if id == "" {
		return fmt.Errorf("%s cannot be empty", name)
	}
	if !utf8.ValidString(id) {
		return fmt.Errorf("%s contains invalid UTF-8", name)
	}
	if len(id) > maxIDLen {
		return fmt.Errorf("%s exceeds max length %d", name, maxIDLen)
	}
	if !idPattern.MatchString(id) {
		return fmt.Errorf("%s contains invalid characters (must be alphanumeric, hyphen, underscore)", name)
	}
	return nil
}

// validateAgent validates an agent name.
func validateAgent(agent string) error {
	if agent == "" {
		return fmt.Errorf("agent cannot be empty")
	}
	if !utf8.ValidString(agent) {
		return fmt.Errorf("agent contains invalid UTF-8")
	}
	if len(agent) > maxAgentNameLen {
		return fmt.Errorf("agent exceeds max length %d", maxAgentNameLen)
	}
	if !agentPattern.MatchString(agent) {
		return fmt.Errorf("agent contains invalid characters (must be alphanumeric, dot, hyphen, underscore)")
	}
	return nil
}

// SessionIDFromContext extracts session ID from context.
func SessionIDFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(sessionCtxKey{}).(string); ok {
		return s
	}
	return ""
}

// WithSessionID adds session ID to context.
// Panics if sessionID is empty or contains invalid characters.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	if err := validateID(sessionID, "sessionID"); err != nil {
		panic(fmt.Sprintf("logging: %v", err))
	}
	return context.WithValue(ctx, sessionCtxKey{}, sessionID)
}

// InvocationIDFromContext extracts invocation ID from context.
func InvocationIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(invocationCtxKey{}).(string); ok {
		return id
	}
	return ""
}

// WithInvocationID adds invocation ID to context.
// Panics if invocationID is empty or contains invalid characters.
func WithInvocationID(ctx context.Context, invocationID string) context.Context {
	if err := validateID(invocationID, "invocationID"); err != nil {
		panic(fmt.Sprintf("logging: %v", err))
	}
	return context.WithValue(ctx, invocationCtxKey{}, invocationID)
}

// AgentFromContext extracts the target agent name from context.
func AgentFromContext(ctx context.Context) string {
	if a, ok := ctx.Value(agentCtxKey{}).(string); ok {
		return a
	}
	return ""
}

// WithAgent adds the target agent name to context.
// Panics if agent is empty or contains invalid characters.
func WithAgent(ctx context.Context, agent string) context.Context {
	if err := validateAgent(agent); err != nil {
		panic(fmt.Sprintf("logging: %v", err))
	}
	return context.WithValue(ctx, agentCtxKey{}, agent)
}

// loggerCtxKey is the context key for Logger.
type loggerCtxKey struct{}

// WithLogger stores logger in context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves logger from context.
// Returns a default nop logger if not found.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return &Logger{zap: zap.NewNop(), config: NewDefaultConfig()}
}
