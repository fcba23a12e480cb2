// Package contextkeys provides centralized context key definitions
//
// All context keys used across the application are defined here so that
// packages agree on key identity and value types.
//
//	ctx = contextkeys.WithActorID(ctx, "alice")
//	actor := contextkeys.GetActorID(ctx)
package contextkeys

import (
	"context"
	"time"
)

// Key is the type for context keys to prevent collisions
type Key string

const (
	// RequestIDKey contains the request id (UUID)
	// Set by: httputil.RequestID middleware
	// Used by: logger, audit origin
	// Type: string
	RequestIDKey Key = "request_id"

	// ActorIDKey contains the id of the authenticated caller
	// Set by: api actor middleware from the X-Warden-User header
	// Used by: engine audit entries, logger
	// Type: string
	ActorIDKey Key = "actor_id"

	// ClientIPKey contains the caller address, honoring X-Forwarded-For
	// Set by: httputil.RequestID middleware
	// Used by: session origin, audit origin
	// Type: string
	ClientIPKey Key = "client_ip"

	// UserAgentKey contains the caller user agent
	// Set by: httputil.RequestID middleware
	// Type: string
	UserAgentKey Key = "user_agent"

	// LoggerKey contains *observability.Logger
	// Set by: httputil.Logging middleware
	// Type: *observability.Logger
	LoggerKey Key = "logger"

	// RequestStartTimeKey contains the request start timestamp
	// Set by: httputil.Logging middleware
	// Type: time.Time
	RequestStartTimeKey Key = "request_start_time"
)

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	return getString(ctx, RequestIDKey)
}

// WithActorID adds the caller id to the context
func WithActorID(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, ActorIDKey, actorID)
}

// GetActorID retrieves the caller id from context
func GetActorID(ctx context.Context) string {
	return getString(ctx, ActorIDKey)
}

// WithClient adds the caller address and user agent to the context
func WithClient(ctx context.Context, ip, userAgent string) context.Context {
	ctx = context.WithValue(ctx, ClientIPKey, ip)
	return context.WithValue(ctx, UserAgentKey, userAgent)
}

// GetClientIP retrieves the caller address from context
func GetClientIP(ctx context.Context) string {
	return getString(ctx, ClientIPKey)
}

// GetUserAgent retrieves the caller user agent from context
func GetUserAgent(ctx context.Context) string {
	return getString(ctx, UserAgentKey)
}

// WithLogger adds logger to the context
func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// WithRequestStartTime adds request start time to the context
func WithRequestStartTime(ctx context.Context, startTime time.Time) context.Context {
	return context.WithValue(ctx, RequestStartTimeKey, startTime)
}

// GetRequestStartTime retrieves the request start time, or the zero time
func GetRequestStartTime(ctx context.Context) time.Time {
	if t, ok := ctx.Value(RequestStartTimeKey).(time.Time); ok {
		return t
	}
	return time.Time{}
}

func getString(ctx context.Context, key Key) string {
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}
