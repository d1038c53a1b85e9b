// Package requestcontext carries request-scoped values from the HTTP
// middleware to services and stores without importing net/http.
//
//	participant := requestcontext.ParticipantID(ctx)
//	app := requestcontext.AppUID(ctx)
package requestcontext

import (
	"context"

	"github.com/google/uuid"
)

type key int

const (
	participantIDKey key = iota
	appUIDKey
	roleKey
	clientIPKey
	userAgentKey
	requestIDKey
)

// value returns the zero T when the key is unset.
func value[T any](ctx context.Context, k key) T {
	v, _ := ctx.Value(k).(T)
	return v
}

// ParticipantID returns the Peppol id of a participant token, or "".
func ParticipantID(ctx context.Context) string { return value[string](ctx, participantIDKey) }

func WithParticipantID(ctx context.Context, participantID string) context.Context {
	return context.WithValue(ctx, participantIDKey, participantID)
}

// AppUID returns the uid of an app token, or uuid.Nil.
func AppUID(ctx context.Context) uuid.UUID { return value[uuid.UUID](ctx, appUIDKey) }

func WithAppUID(ctx context.Context, uid uuid.UUID) context.Context {
	return context.WithValue(ctx, appUIDKey, uid)
}

// Role returns the role claim ("service" for internal callers).
func Role(ctx context.Context) string { return value[string](ctx, roleKey) }

func WithRole(ctx context.Context, role string) context.Context {
	return context.WithValue(ctx, roleKey, role)
}

func ClientIP(ctx context.Context) string  { return value[string](ctx, clientIPKey) }
func UserAgent(ctx context.Context) string { return value[string](ctx, userAgentKey) }

// WithClientMetadata stores the caller IP and raw User-Agent.
func WithClientMetadata(ctx context.Context, clientIP, userAgent string) context.Context {
	ctx = context.WithValue(ctx, clientIPKey, clientIP)
	return context.WithValue(ctx, userAgentKey, userAgent)
}

func RequestID(ctx context.Context) string { return value[string](ctx, requestIDKey) }

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}
