package ratelimit

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/HanTheDev/support-chat-gateway/internal/metrics"
)

// IdentifyFunc maps a request to its admission-control identifier.
type IdentifyFunc func(r *http.Request) string

// Middleware rejects requests the limiter denies with 429 and a JSON body
// {error, retryAfter}.
func Middleware(l *Limiter, identify IdentifyFunc, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := l.Admit(identify(r))
			m.ObserveAdmission(d.Allowed, string(d.Reason))
			if d.Allowed {
				next.ServeHTTP(w, r)
				return
			}

			retryAfter := d.RetryAfterSeconds()
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(map[string]any{
				"error":      d.Message(),
				"retryAfter": retryAfter,
			})
		})
	}
}
