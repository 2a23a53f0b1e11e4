// Package admin is the operator-facing HTTP surface: rate-limit inspection
// and reset, live session state and stored transcripts. It is mounted only
// when an admin token is configured.
package admin

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/HanTheDev/support-chat-gateway/internal/models"
	"github.com/HanTheDev/support-chat-gateway/internal/ratelimit"
	"github.com/HanTheDev/support-chat-gateway/internal/session"
)

const TokenHeader = "X-Admin-Token"

// TranscriptReader is implemented by transcript backends that can read back
// what they stored.
type TranscriptReader interface {
	Read(sessionID string) (models.Transcript, error)
}

type AdminHandler struct {
	token       string
	limiter     *ratelimit.Limiter
	sessions    *session.Store
	transcripts TranscriptReader
	logger      *slog.Logger
}

// NewAdminHandler builds the handler. transcripts may be nil.
func NewAdminHandler(token string, limiter *ratelimit.Limiter, sessions *session.Store, transcripts TranscriptReader, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		token:       token,
		limiter:     limiter,
		sessions:    sessions,
		transcripts: transcripts,
		logger:      logger,
	}
}

// RegisterRoutes mounts /admin/* on router. Without a token nothing is
// mounted.
func (h *AdminHandler) RegisterRoutes(router *mux.Router) bool {
	if h.token == "" {
		h.logger.Info("ADMIN_TOKEN not set, admin API disabled")
		return false
	}

	sub := router.PathPrefix("/admin").Subrouter()
	sub.Use(h.requireToken)

	sub.HandleFunc("/ratelimit/{identifier}", h.GetRateLimit).Methods(http.MethodGet)
	sub.HandleFunc("/ratelimit/{identifier}", h.ResetRateLimit).Methods(http.MethodDelete)
	sub.HandleFunc("/sessions", h.CountSessions).Methods(http.MethodGet)
	sub.HandleFunc("/sessions/{sessionId}", h.GetSession).Methods(http.MethodGet)
	sub.HandleFunc("/transcripts/{sessionId}", h.GetTranscript).Methods(http.MethodGet)
	return true
}

func (h *AdminHandler) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get(TokenHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.token)) != 1 {
			h.logger.Warn("Rejected admin request", "path", r.URL.Path)
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *AdminHandler) GetRateLimit(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.limiter.Status(mux.Vars(r)["identifier"]))
}

// ResetRateLimit lifts a block and clears the window. The daily count is
// kept.
func (h *AdminHandler) ResetRateLimit(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["identifier"]
	if !h.limiter.Reset(id) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Identifier not found"})
		return
	}
	h.logger.Info("Rate limit reset by admin", "identifier", id)
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (h *AdminHandler) CountSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{"active": h.sessions.Len()})
}

func (h *AdminHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.sessions.Get(mux.Vars(r)["sessionId"])
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Session not found"})
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *AdminHandler) GetTranscript(w http.ResponseWriter, r *http.Request) {
	if h.transcripts == nil {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "Transcript backend does not support reads"})
		return
	}

	id := mux.Vars(r)["sessionId"]
	t, err := h.transcripts.Read(id)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Transcript not found"})
		return
	case err != nil:
		h.logger.Error("Failed to read transcript", "session_id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to read transcript"})
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
