package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/pushrelay/internal/dispatch"
	"github.com/nerrad567/pushrelay/internal/ratelimit"
	"github.com/nerrad567/pushrelay/internal/registration"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes.
const (
	ErrCodeBadRequest  = "bad_request"
	ErrCodeValidation  = "validation_error"
	ErrCodeForbidden   = "forbidden"
	ErrCodeRateLimited = "rate_limited"
	ErrCodeUnavailable = "unavailable"
	ErrCodeInternal    = "internal_error"
)

// internalMessage replaces unexpected error text in production.
const internalMessage = "internal server error"

// writeJSON writes v as two-space indented JSON with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		//nolint:errcheck // Best-effort write to response; connection may be closed
		enc.Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeServiceError maps an error returned by the registration manager or
// the dispatch engine onto a response.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, registration.ErrValidation), errors.Is(err, dispatch.ErrValidation):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	case errors.Is(err, dispatch.ErrInvalidSignature):
		writeError(w, http.StatusForbidden, ErrCodeForbidden, err.Error())
	case errors.Is(err, ratelimit.ErrRateLimitExceeded):
		writeError(w, http.StatusTooManyRequests, ErrCodeRateLimited, err.Error())
	case errors.Is(err, registration.ErrDependencyUnavailable), errors.Is(err, dispatch.ErrDependencyUnavailable):
		s.logger.Error("dependency unavailable",
			"path", r.URL.Path,
			"error", err,
			"request_id", r.Context().Value(ctxKeyRequestID),
		)
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, s.exposed(err))
	default:
		s.logger.Error("request failed",
			"path", r.URL.Path,
			"error", err,
			"request_id", r.Context().Value(ctxKeyRequestID),
		)
		writeInternalError(w, s.exposed(err))
	}
}

// exposed returns the text of err, or a generic message in production.
func (s *Server) exposed(err error) string {
	if s.production {
		return internalMessage
	}
	return err.Error()
}
