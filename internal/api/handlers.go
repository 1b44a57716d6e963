package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/nerrad567/pushrelay/internal/dispatch"
	"github.com/nerrad567/pushrelay/internal/registration"
)

// healthCheckTimeout bounds all dependency checks of one /health request.
const healthCheckTimeout = 5 * time.Second

// handleRegister binds a device to an origin and returns its dispatch token.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registration.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	res, err := s.registrar.Register(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, registerResponse{
		Token:        res.Token,
		CreatedAt:    res.CreatedAt.UTC().Format(timestampLayout),
		AccessedAt:   res.AccessedAt.UTC().Format(timestampLayout),
		MessageCount: res.MessageCount,
	})
}

// timestampLayout is ISO 8601 in UTC with millisecond precision.
const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

type registerResponse struct {
	Token        string `json:"token"`
	CreatedAt    string `json:"ctime"`
	AccessedAt   string `json:"atime"`
	MessageCount int64  `json:"message_count"`
}

// handleDispatch fans an origin's messages out to its listening devices.
// Per-device delivery failures are reported in the body with status 200.
func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	var req dispatch.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	res, err := s.dispatcher.Dispatch(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// handleHealth runs every dependency check and reports the result.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	failures := make(map[string]string)
	for _, hc := range s.checks {
		if err := hc.Check(ctx); err != nil {
			failures[hc.Name] = err.Error()
		}
	}

	if len(failures) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":  "degraded",
			"version": s.version,
			"checks":  failures,
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}
