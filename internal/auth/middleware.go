// Package auth authenticates chat clients by static API key or by a bearer
// token exchanged for one. Authentication is optional unless required by
// configuration; anonymous callers are rate-limited by address.
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

type contextKey string

const PrincipalContextKey contextKey = "principal"

var (
	ErrInvalidKey     = errors.New("invalid API key")
	ErrTokensDisabled = errors.New("token issuance is disabled")
)

const (
	missingCredentialMessage = "Authentication required. Please provide API key in X-API-Key header or Authorization: Bearer <key>"
	invalidCredentialMessage = "Invalid API key"
)

// Principal is an authenticated caller.
type Principal struct {
	KeyID string
	// Method is "api_key" or "token".
	Method string
}

// KeyID is the stable, non-reversible identity of a client key.
func KeyID(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])[:16]
}

type Middleware struct {
	keys      map[string]struct{}
	jwtSecret string
	required  bool
	logger    *slog.Logger
	now       func() time.Time
}

func NewMiddleware(clientKeys []string, jwtSecret string, required bool, logger *slog.Logger) *Middleware {
	keys := make(map[string]struct{}, len(clientKeys))
	for _, k := range clientKeys {
		if k = strings.TrimSpace(k); k != "" {
			keys[KeyID(k)] = struct{}{}
		}
	}
	if len(keys) == 0 {
		logger.Warn("No CLIENT_API_KEYS configured. API authentication is disabled.")
	} else {
		logger.Info("Loaded client API keys", "count", len(keys))
	}
	return &Middleware{
		keys:      keys,
		jwtSecret: jwtSecret,
		required:  required,
		logger:    logger,
		now:       time.Now,
	}
}

// Enforced reports whether requests without a valid credential are refused.
func (m *Middleware) Enforced() bool {
	return m.required && len(m.keys) > 0
}

// Authenticate attaches the caller's Principal to the request context. In
// enforced mode a missing credential is 401 and an unknown one 403.
func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cred := Credential(r)
		p, ok := m.resolve(cred)

		if m.Enforced() && !ok {
			if cred == "" {
				m.logger.Error("API authentication failed: no API key provided")
				writeError(w, http.StatusUnauthorized, missingCredentialMessage)
				return
			}
			m.logger.Error("API authentication failed: invalid API key")
			writeError(w, http.StatusForbidden, invalidCredentialMessage)
			return
		}

		if ok {
			r = r.WithContext(context.WithValue(r.Context(), PrincipalContextKey, p))
		}
		next.ServeHTTP(w, r)
	})
}

// Credential extracts the caller's credential: X-API-Key header, then an
// Authorization bearer value, then the apiKey query parameter.
func Credential(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get("X-API-Key")); v != "" {
		return v
	}
	if v := r.Header.Get("Authorization"); v != "" {
		if len(v) > 7 && strings.EqualFold(v[:7], "bearer ") {
			v = v[7:]
		}
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return strings.TrimSpace(r.URL.Query().Get("apiKey"))
}

func (m *Middleware) resolve(cred string) (Principal, bool) {
	if cred == "" {
		return Principal{}, false
	}
	if m.jwtSecret != "" && strings.Count(cred, ".") == 2 {
		if claims, err := ValidateToken(cred, m.jwtSecret); err == nil {
			if _, ok := m.keys[claims.KeyID]; ok {
				return Principal{KeyID: claims.KeyID, Method: "token"}, true
			}
		}
	}
	id := KeyID(cred)
	if _, ok := m.keys[id]; ok {
		return Principal{KeyID: id, Method: "api_key"}, true
	}
	return Principal{}, false
}

// IssueToken exchanges a valid client key for a signed bearer token.
func (m *Middleware) IssueToken(apiKey string) (string, time.Time, error) {
	if m.jwtSecret == "" {
		return "", time.Time{}, ErrTokensDisabled
	}
	id := KeyID(strings.TrimSpace(apiKey))
	if _, ok := m.keys[id]; !ok {
		return "", time.Time{}, ErrInvalidKey
	}
	return GenerateToken(id, m.jwtSecret, m.now())
}

func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(PrincipalContextKey).(Principal)
	return p, ok
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
