package api

import (
	"net/http"
	"slices"

	"github.com/gorilla/mux"
)

// responseRecorder captures the status and size written by a handler.
type responseRecorder struct {
	http.ResponseWriter
	statusCode    int
	size          int
	headerWritten bool
}

func (r *responseRecorder) WriteHeader(statusCode int) {
	if r.headerWritten {
		return
	}
	r.statusCode = statusCode
	r.headerWritten = true
	r.ResponseWriter.WriteHeader(statusCode)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	if !r.headerWritten {
		r.WriteHeader(http.StatusOK)
	}
	n, err := r.ResponseWriter.Write(b)
	r.size += n
	return n, err
}

// observe logs every routed request and records it by route template.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := s.now()
		rec := &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rec, r)
		elapsed := s.now().Sub(start)

		route := routeTemplate(r)
		s.metrics.ObserveHTTP(route, r.Method, rec.statusCode, elapsed)

		level := s.logger.Info
		if route == "/health" || route == "/metrics" {
			level = s.logger.Debug
		}
		level("Request completed",
			"method", r.Method,
			"route", route,
			"status", rec.statusCode,
			"bytes", rec.size,
			"duration_ms", elapsed.Milliseconds(),
		)
	})
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// cors allows the embeddable widget to call the API from the listed
// origins. "*" allows any origin.
func cors(allowed []string) func(http.Handler) http.Handler {
	wildcard := slices.Contains(allowed, "*")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && (wildcard || slices.Contains(allowed, origin)) {
				h := w.Header()
				if wildcard {
					h.Set("Access-Control-Allow-Origin", "*")
				} else {
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
				h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")
				h.Set("Access-Control-Max-Age", "600")
			}

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
