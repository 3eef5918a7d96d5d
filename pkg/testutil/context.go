package testutil

import (
	"context"
	"net/http"
	"time"

	"warden/pkg/requestcontext"
)

// WithRequestID attaches a correlation id to the request context, as the
// request id middleware would.
func WithRequestID(req *http.Request, requestID string) *http.Request {
	return req.WithContext(requestcontext.WithRequestID(req.Context(), requestID))
}

// WithRequestTime pins the request-scoped clock.
func WithRequestTime(req *http.Request, t time.Time) *http.Request {
	return req.WithContext(requestcontext.WithTime(req.Context(), t))
}

// RequestContext builds a context carrying a correlation id and a fixed time.
// A zero time leaves the wall clock in effect.
func RequestContext(requestID string, now time.Time) context.Context {
	ctx := requestcontext.WithRequestID(context.Background(), requestID)
	if !now.IsZero() {
		ctx = requestcontext.WithTime(ctx, now)
	}
	return ctx
}

// WithContextValue adds an arbitrary key-value pair to the request context.
func WithContextValue(req *http.Request, key, value any) *http.Request {
	ctx := context.WithValue(req.Context(), key, value)
	return req.WithContext(ctx)
}
