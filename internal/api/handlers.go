package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/HanTheDev/support-chat-gateway/internal/auth"
	"github.com/HanTheDev/support-chat-gateway/internal/chat"
	"github.com/HanTheDev/support-chat-gateway/internal/provider"
)

const (
	providerFailureMessage = "Sorry, I'm having trouble answering right now. Please try again or ask to speak with an operator."
	internalErrorMessage   = "Internal server error"
)

type errorResponse struct {
	Error     string `json:"error"`
	MaxLength int    `json:"maxLength,omitempty"`
	Escalate  bool   `json:"escalate,omitempty"`
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := decode(w, r, &req, s.maxBody); err != nil {
		body := errorResponse{Error: err.Error()}
		if errors.Is(err, errBodyTooLarge) {
			body = errorResponse{Error: chat.MessageTooLong, MaxLength: s.opts.MaxMessageLength}
		}
		writeJSON(w, http.StatusBadRequest, body)
		return
	}

	res, err := s.pipeline.Process(r.Context(), chat.Request{
		Message:   req.Message,
		SessionID: req.SessionID,
		Provider:  req.Provider,
		ClientIP:  s.clientIP(r),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		status, body := chatError(err)
		writeJSON(w, status, body)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// chatError maps a pipeline failure to a status and a caller-safe body.
// Provider detail never leaves the server.
func chatError(err error) (int, errorResponse) {
	var (
		verr *chat.ValidationError
		cerr *provider.ConfigError
		perr *chat.PipelineError
	)
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, errorResponse{Error: verr.Message, MaxLength: verr.MaxLength}
	case errors.As(err, &cerr):
		return http.StatusServiceUnavailable, errorResponse{Error: cerr.Error(), Escalate: true}
	case errors.As(err, &perr):
		return http.StatusBadGateway, errorResponse{Error: providerFailureMessage, Escalate: true}
	default:
		return http.StatusInternalServerError, errorResponse{Error: internalErrorMessage}
	}
}

func (s *Server) handleEscalate(w http.ResponseWriter, r *http.Request) {
	var req escalateRequest
	if err := decode(w, r, &req, defaultBodyBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	s.pipeline.Escalate(r.Context(), req.SessionID, req.Reason)

	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"message":  chat.ManualEscalationMessage,
		"escalate": true,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionId"]
	writeJSON(w, http.StatusOK, map[string]any{
		"history": s.pipeline.History(sessionID),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": s.now().UTC().Format(time.RFC3339Nano),
	})
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decode(w, r, &req, defaultBodyBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	token, expires, err := s.auth.IssueToken(req.APIKey)
	switch {
	case errors.Is(err, auth.ErrTokensDisabled):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "Token issuance is disabled"})
		return
	case errors.Is(err, auth.ErrInvalidKey):
		s.logger.Warn("Token request with invalid API key", "client_ip", s.clientIP(r))
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "Invalid API key"})
		return
	case err != nil:
		s.logger.Error("Token generation failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Failed to generate token"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"token":      token,
		"expires_at": expires.UTC(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
