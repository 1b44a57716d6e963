// Package api implements the HTTP interface of the push relay.
//
// This package provides:
//   - POST /register: bind a device registration to an origin and issue a
//     dispatch token
//   - POST /dispatch: fan an origin's messages out to listening devices
//   - GET /health: store and broker health
//   - GET /status: runtime, database and rate limiter snapshot
//   - GET /metrics: Prometheus exposition
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//   - TLS support when certificate and key paths are configured
//
// # Errors
//
// Every failure is a JSON object {status, code, message}. Unexpected
// errors are logged with their request ID; in production their text is
// replaced by "internal server error".
package api
