package http

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"ledgerchat/internal/dispatch"
	"ledgerchat/internal/log"
)

const maxMessageBytes = 16 << 10

type messageRequest struct {
	Identity  string `json:"identity"`
	Text      string `json:"text"`
	MessageID string `json:"message_id"`
}

type messageResponse struct {
	Replies []string `json:"replies"`
}

func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.apiToken == "" {
			next(w, r)
			return
		}
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.apiToken)) != 1 {
			w.Header().Set("WWW-Authenticate", `Bearer realm="ledgerchat"`)
			writeError(w, r, http.StatusUnauthorized, "missing or invalid bearer token")
			return
		}
		next(w, r)
	}
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req messageRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxMessageBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, http.StatusRequestEntityTooLarge, "message too large")
			return
		}
		writeError(w, r, http.StatusBadRequest, "invalid JSON body")
		return
	}

	msg := dispatch.Message{
		Identity:  strings.TrimSpace(req.Identity),
		Text:      sanitizeInput(req.Text),
		MessageID: strings.TrimSpace(req.MessageID),
	}
	if msg.Identity == "" || msg.Text == "" {
		writeError(w, r, http.StatusBadRequest, "identity and text are required")
		return
	}

	replies, err := s.handler.Handle(ctx, msg)
	switch {
	case errors.Is(err, dispatch.ErrUnauthorized):
		writeJSON(w, r, http.StatusForbidden, messageResponse{Replies: replies})
	case err != nil:
		log.FromContext(ctx).Failure(ctx, "Message handling failed", err,
			log.NewFields().WithMessage(msg.Identity, msg.MessageID).ToSlice()...)
		writeError(w, r, http.StatusInternalServerError, "message could not be handled")
	default:
		writeJSON(w, r, http.StatusOK, messageResponse{Replies: replies})
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(s.started).Round(time.Second).String(),
	})
}

// handleReady probes every configured dependency.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status, code := "ready", http.StatusOK
	checks := make(map[string]string, len(s.checks)+1)
	for _, c := range s.checks {
		if err := c.Check(ctx); err != nil {
			checks[c.Name] = "failed: " + err.Error()
			status, code = "not_ready", http.StatusServiceUnavailable
			log.FromContext(ctx).WarnContext(ctx, "Readiness check failed", "check", c.Name, log.FieldError, err)
			continue
		}
		checks[c.Name] = "ok"
	}
	writeJSON(w, r, code, map[string]any{
		"status":         status,
		"checks":         checks,
		"active_clients": s.rateLimiter.activeClients(),
	})
}
