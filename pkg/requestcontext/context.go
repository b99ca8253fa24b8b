// Package requestcontext provides HTTP-independent accessors for request-scoped
// values set by the surrounding API layer and read by the isolation core.
//
// The tenant identifier is deliberately absent: it is passed explicitly to
// WithTenant and lives only inside the unit-of-work transaction.
//
// Usage in the API layer (set values):
//
//	ctx = requestcontext.WithPrincipalID(ctx, principalID)
//	ctx = requestcontext.WithRequestID(ctx, requestID)
//
// Usage in tests (inject values):
//
//	ctx = requestcontext.WithTime(ctx, fixedTime)
package requestcontext

import (
	"context"
	"time"

	id "tenantguard/pkg/domain"
)

type (
	principalIDKey struct{}
	requestIDKey   struct{}
	requestTimeKey struct{}
)

var (
	ContextKeyPrincipalID = principalIDKey{}
	ContextKeyRequestID   = requestIDKey{}
	ContextKeyRequestTime = requestTimeKey{}
)

// PrincipalID retrieves the acting principal. Returns the nil ID for system
// actions.
func PrincipalID(ctx context.Context) id.PrincipalID {
	if p, ok := ctx.Value(ContextKeyPrincipalID).(id.PrincipalID); ok {
		return p
	}
	return id.PrincipalID{}
}

// WithPrincipalID injects the acting principal into the context.
func WithPrincipalID(ctx context.Context, principalID id.PrincipalID) context.Context {
	return context.WithValue(ctx, ContextKeyPrincipalID, principalID)
}

// RequestID retrieves the correlation ID from the context.
func RequestID(ctx context.Context) string {
	if reqID, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return reqID
	}
	return ""
}

// WithRequestID injects a correlation ID into the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// Now retrieves the request-scoped time from context.
// Falls back to time.Now() for workers, CLI commands and tests.
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(ContextKeyRequestTime).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime injects a specific time into a context.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, ContextKeyRequestTime, t)
}
