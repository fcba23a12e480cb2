// Package httputil provides the JSON request and response helpers and the
// middleware shared by the warden HTTP listeners.
//
// # Errors
//
// WriteError maps the access error taxonomy onto HTTP statuses:
//
//	*access.ValidationError  400
//	*access.DeniedError      403 (429 for quota_exceeded)
//	access.ErrNotFound       404
//	*access.ConflictError    409
//	*access.UnavailableError 503
//	anything else            500
//
// # Middleware
//
//	httputil.Chain(
//		httputil.RecoveryMiddleware(logger),
//		httputil.RequestIDMiddleware,
//		httputil.LoggingMiddleware(logger),
//		httputil.MaxBytesMiddleware(1<<20),
//	)
//
// RequestIDMiddleware stores the request id, client address and user agent
// in the request context where the engine picks them up as audit origin.
package httputil
