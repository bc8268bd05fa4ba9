package context

import (
	"context"
	"strings"

	"github.com/smallbiznis/featuregate/internal/usercontext"
)

type requestIDKey struct{}

// WithRequestID stores the correlation ID for the current request.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, strings.TrimSpace(requestID))
}

func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(requestIDKey{}).(string)
	return value
}

// UserIDFromContext returns the authenticated user ID or an empty string.
func UserIDFromContext(ctx context.Context) string {
	userID, _ := usercontext.UserIDFromContext(ctx)
	return userID
}
