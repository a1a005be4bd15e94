package testutil

import (
	"context"
	"net/http"
	"time"

	id "incentra/pkg/domain"
	"incentra/pkg/requestcontext"
)

// WithOrg adds an organization scope to the request context, simulating what
// the auth middleware does for an org-scoped token. Invalid IDs are silently
// ignored.
func WithOrg(req *http.Request, orgID string) *http.Request {
	if parsed, err := id.ParseOrgID(orgID); err == nil {
		return req.WithContext(requestcontext.WithOrgID(req.Context(), parsed))
	}
	return req
}

// WithActor adds an acting user to the request context.
func WithActor(req *http.Request, userID, email string) *http.Request {
	if parsed, err := id.ParseUserID(userID); err == nil {
		return req.WithContext(requestcontext.WithActor(req.Context(), parsed, email))
	}
	return req
}

// WithFixedTime pins the request-scoped clock, simulating the requesttime
// middleware for handler tests that assert on timestamps.
func WithFixedTime(req *http.Request, t time.Time) *http.Request {
	return req.WithContext(requestcontext.WithTime(req.Context(), t))
}

// WithContextValue adds an arbitrary key-value pair to the request context.
func WithContextValue(req *http.Request, key, value any) *http.Request {
	ctx := context.WithValue(req.Context(), key, value)
	return req.WithContext(ctx)
}
