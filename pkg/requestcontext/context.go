// Package requestcontext provides HTTP-independent context accessors for
// request-scoped values.
//
// Middleware sets values; services and the dispatcher read them without
// importing net/http. Envelope metadata (acting user, source IP, trigger
// mode) is assembled from these accessors at dispatch time.
//
// Usage in services (read values):
//
//	orgID := requestcontext.OrgID(ctx)
//	now := requestcontext.Now(ctx)
//
// Usage in tests (inject values):
//
//	ctx = requestcontext.WithTime(ctx, fixedTime)
//	ctx = requestcontext.WithActor(ctx, userID, "ops@example.com")
package requestcontext

import (
	"context"
	"time"

	id "incentra/pkg/domain"
)

// Context key types (unexported for encapsulation).
type (
	orgIDKey       struct{}
	actorIDKey     struct{}
	actorEmailKey  struct{}
	clientIPKey    struct{}
	userAgentKey   struct{}
	requestIDKey   struct{}
	requestTimeKey struct{}
	triggerModeKey struct{}
)

// Exported context keys for tests that need raw context.WithValue.
var (
	ContextKeyOrgID       = orgIDKey{}
	ContextKeyActorID     = actorIDKey{}
	ContextKeyActorEmail  = actorEmailKey{}
	ContextKeyClientIP    = clientIPKey{}
	ContextKeyUserAgent   = userAgentKey{}
	ContextKeyRequestID   = requestIDKey{}
	ContextKeyRequestTime = requestTimeKey{}
	ContextKeyTriggerMode = triggerModeKey{}
)

// OrgID retrieves the organization scope from the context.
// Returns the zero value (nil UUID) if not set.
func OrgID(ctx context.Context) id.OrgID {
	if orgID, ok := ctx.Value(ContextKeyOrgID).(id.OrgID); ok {
		return orgID
	}
	return id.OrgID{}
}

// WithOrgID injects an organization scope into the context.
func WithOrgID(ctx context.Context, orgID id.OrgID) context.Context {
	return context.WithValue(ctx, ContextKeyOrgID, orgID)
}

// ActorID retrieves the acting user ID from the context.
func ActorID(ctx context.Context) id.UserID {
	if userID, ok := ctx.Value(ContextKeyActorID).(id.UserID); ok {
		return userID
	}
	return id.UserID{}
}

// ActorEmail retrieves the acting user's email from the context.
func ActorEmail(ctx context.Context) string {
	if email, ok := ctx.Value(ContextKeyActorEmail).(string); ok {
		return email
	}
	return ""
}

// WithActor injects the acting user's identity into the context.
func WithActor(ctx context.Context, userID id.UserID, email string) context.Context {
	ctx = context.WithValue(ctx, ContextKeyActorID, userID)
	if email != "" {
		ctx = context.WithValue(ctx, ContextKeyActorEmail, email)
	}
	return ctx
}

// ClientIP retrieves the client IP address from the context.
func ClientIP(ctx context.Context) string {
	if ip, ok := ctx.Value(ContextKeyClientIP).(string); ok {
		return ip
	}
	return ""
}

// UserAgent retrieves the User-Agent from the context.
func UserAgent(ctx context.Context) string {
	if ua, ok := ctx.Value(ContextKeyUserAgent).(string); ok {
		return ua
	}
	return ""
}

// WithClientMetadata injects client IP and User-Agent into a context.
// Useful for service unit tests that don't run the full middleware chain.
func WithClientMetadata(ctx context.Context, clientIP, userAgent string) context.Context {
	ctx = context.WithValue(ctx, ContextKeyClientIP, clientIP)
	ctx = context.WithValue(ctx, ContextKeyUserAgent, userAgent)
	return ctx
}

// TriggerMode records how a dispatch was initiated ("api", "kafka", "test",
// "scheduler"). Empty when unknown.
func TriggerMode(ctx context.Context) string {
	if mode, ok := ctx.Value(ContextKeyTriggerMode).(string); ok {
		return mode
	}
	return ""
}

// WithTriggerMode injects the dispatch trigger mode into the context.
func WithTriggerMode(ctx context.Context, mode string) context.Context {
	return context.WithValue(ctx, ContextKeyTriggerMode, mode)
}

// RequestID retrieves the request ID from the context.
func RequestID(ctx context.Context) string {
	if reqID, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return reqID
	}
	return ""
}

// WithRequestID injects a request ID into the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// Now retrieves the request-scoped time from context.
// Falls back to time.Now() for non-HTTP contexts (workers, CLI, tests).
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(ContextKeyRequestTime).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime injects a specific time into a context. Useful for service unit
// tests and for workers that need consistent time within a batch.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, ContextKeyRequestTime, t)
}
