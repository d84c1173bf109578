// Package middleware provides the HTTP middleware of the ops API.
//
// The middleware package is organized into separate files by concern:
//
//   - recovery.go: Panic recovery middleware
//   - logging.go: Request logging middleware
//   - request_id.go: Request ID generation and tracking middleware
//   - metrics.go: HTTP metrics collection middleware
//   - auth.go: Bearer token and role checks
//
// All middleware follows the standard pattern: func(http.Handler) http.Handler,
// so it plugs into chi's Use.
package middleware
