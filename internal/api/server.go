// Package api is the public HTTP surface of the chat service: the widget's
// chat endpoints, token exchange, health and metrics.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/HanTheDev/support-chat-gateway/internal/auth"
	"github.com/HanTheDev/support-chat-gateway/internal/chat"
	"github.com/HanTheDev/support-chat-gateway/internal/metrics"
	"github.com/HanTheDev/support-chat-gateway/internal/ratelimit"
)

const (
	defaultBodyBytes = 64 << 10
	bodySlackBytes   = 4 << 10

	// A character may take up to 12 bytes in JSON (an escaped surrogate pair).
	maxBytesPerChar = 12
)

type Options struct {
	TrustedProxyCount int
	AllowedOrigins    []string

	// MaxMessageLength sizes the request body limit so an oversized message
	// is reported as too long rather than as a malformed body.
	MaxMessageLength int
}

type Server struct {
	pipeline *chat.Pipeline
	auth     *auth.Middleware
	limiter  *ratelimit.Limiter
	metrics  *metrics.Metrics
	logger   *slog.Logger
	opts     Options
	maxBody  int64
	now      func() time.Time
}

func NewServer(pipeline *chat.Pipeline, authMW *auth.Middleware, limiter *ratelimit.Limiter, m *metrics.Metrics, logger *slog.Logger, opts Options) *Server {
	return &Server{
		pipeline: pipeline,
		auth:     authMW,
		limiter:  limiter,
		metrics:  m,
		logger:   logger,
		opts:     opts,
		maxBody:  bodyLimit(opts.MaxMessageLength),
		now:      time.Now,
	}
}

// RegisterRoutes mounts the public routes on r. Everything under /api/chat
// is authenticated (optionally) and then admission-controlled.
func (s *Server) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)

	limit := ratelimit.Middleware(s.limiter, s.identify, s.metrics)
	r.Handle("/auth/token", limit(http.HandlerFunc(s.handleToken))).Methods(http.MethodPost)

	api := r.PathPrefix("/api/chat").Subrouter()
	api.Use(s.auth.Authenticate, limit)
	api.HandleFunc("/message", s.handleMessage).Methods(http.MethodPost)
	api.HandleFunc("/escalate", s.handleEscalate).Methods(http.MethodPost)
	api.HandleFunc("/history/{sessionId}", s.handleHistory).Methods(http.MethodGet)
}

// Handler wraps r with request logging, metrics and CORS. Call it after all
// routes are registered.
func (s *Server) Handler(r *mux.Router) http.Handler {
	r.Use(s.observe)
	return cors(s.opts.AllowedOrigins)(r)
}

func (s *Server) identify(r *http.Request) string {
	if p, ok := auth.FromContext(r.Context()); ok {
		return ratelimit.Identifier(p.KeyID, "")
	}
	return ratelimit.Identifier("", s.clientIP(r))
}

func (s *Server) clientIP(r *http.Request) string {
	return ratelimit.ClientIP(r, s.opts.TrustedProxyCount)
}

func bodyLimit(maxMessageLength int) int64 {
	if maxMessageLength <= 0 {
		return defaultBodyBytes
	}
	return int64(maxMessageLength)*maxBytesPerChar + bodySlackBytes
}
