package tools

import "context"

type contextKey string

const sessionKeyContextKey contextKey = "session_key"

// WithSessionKey adds the session key to the context so tool handlers
// and the invoker's events can attribute work to a session.
func WithSessionKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, sessionKeyContextKey, key)
}

// SessionKeyFromContext extracts the session key from the context.
// Returns "default" if not set.
func SessionKeyFromContext(ctx context.Context) string {
	if key, ok := ctx.Value(sessionKeyContextKey).(string); ok && key != "" {
		return key
	}
	return "default"
}
