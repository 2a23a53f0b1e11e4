package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HanTheDev/support-chat-gateway/internal/auth"
	"github.com/HanTheDev/support-chat-gateway/internal/chat"
	"github.com/HanTheDev/support-chat-gateway/internal/escalation"
	"github.com/HanTheDev/support-chat-gateway/internal/filter"
	"github.com/HanTheDev/support-chat-gateway/internal/knowledge"
	"github.com/HanTheDev/support-chat-gateway/internal/logging"
	"github.com/HanTheDev/support-chat-gateway/internal/metrics"
	"github.com/HanTheDev/support-chat-gateway/internal/provider"
	"github.com/HanTheDev/support-chat-gateway/internal/ratelimit"
	"github.com/HanTheDev/support-chat-gateway/internal/session"
)

type stubAdapter struct {
	reply string
	err   error
	calls int
}

func (s *stubAdapter) Name() string { return "grok" }

func (s *stubAdapter) Generate(context.Context, provider.Request) (string, error) {
	s.calls++
	return s.reply, s.err
}

type env struct {
	handler http.Handler
	adapter *stubAdapter
	limiter *ratelimit.Limiter
	metrics *metrics.Metrics
}

type envOptions struct {
	limits  ratelimit.Limits
	auth    *auth.Middleware
	origins []string
}

func newEnv(t *testing.T, o envOptions) *env {
	t.Helper()
	logger := logging.Discard()
	base := knowledge.Base{
		Company: knowledge.CompanyInfo{Name: "Acme"},
		Banned: knowledge.BannedTerms{
			Competitors:        []string{"Globex"},
			EscalationTriggers: []string{"talk to a human"},
		},
	}

	adapter := &stubAdapter{reply: "Hi there"}
	registry := provider.NewRegistry("grok", logger)
	registry.Register(adapter)
	registry.Configure("gemini", provider.Config{APIKey: "your_gemini_api_key_here", APIURL: "https://example.com"}, nil)

	m := metrics.New(prometheus.NewRegistry())
	pipeline := chat.New(chat.Deps{
		Knowledge: knowledge.NewStore(base),
		Detector:  escalation.NewDetector(base.Banned.EscalationTriggers),
		Filter:    filter.New(base.Banned.Competitors, nil),
		Providers: registry,
		Sessions:  session.NewStore(session.Options{}, logger),
		Metrics:   m,
		Logger:    logger,
	}, chat.Options{MaxMessageLength: 20, MaxHistoryMessages: 10})

	if o.auth == nil {
		o.auth = auth.NewMiddleware(nil, "", false, logger)
	}
	limiter := ratelimit.NewLimiter(o.limits, logger)
	srv := NewServer(pipeline, o.auth, limiter, m, logger, Options{AllowedOrigins: o.origins, MaxMessageLength: 20})

	router := mux.NewRouter()
	srv.RegisterRoutes(router)
	return &env{
		handler: srv.Handler(router),
		adapter: adapter,
		limiter: limiter,
		metrics: m,
	}
}

func (e *env) do(t *testing.T, method, target, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, target, nil)
	} else {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		r.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, r)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	e := newEnv(t, envOptions{})
	rr := e.do(t, http.MethodGet, "/health", "", nil)

	require.Equal(t, http.StatusOK, rr.Code)
	body := decodeBody(t, rr)
	assert.Equal(t, "ok", body["status"])
	_, err := time.Parse(time.RFC3339Nano, body["timestamp"].(string))
	assert.NoError(t, err)
}

func TestMessage_Success(t *testing.T) {
	e := newEnv(t, envOptions{})
	rr := e.do(t, http.MethodPost, "/api/chat/message", `{"message":"hello","sessionId":"session_1"}`, nil)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"sessionId":"session_1","response":"Hi there","provider":"grok","escalate":false}`, rr.Body.String())
	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.HTTPRequests.WithLabelValues("/api/chat/message", "POST", "200")))
}

func TestMessage_BadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"missing message", `{}`, messageRequired},
		{"non-string message", `{"message":5}`, messageRequired},
		{"blank message", `{"message":"   "}`, messageRequired},
		{"not json", `hello`, invalidBody},
		{"bad provider name", `{"message":"hi","provider":"../etc"}`, "provider is invalid"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t, envOptions{})
			rr := e.do(t, http.MethodPost, "/api/chat/message", tt.body, nil)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Equal(t, tt.want, decodeBody(t, rr)["error"])
			assert.Zero(t, e.adapter.calls)
		})
	}
}

func TestMessage_TooLongCountsAgainstAdmission(t *testing.T) {
	e := newEnv(t, envOptions{limits: ratelimit.Limits{Window: time.Minute, MaxPerWindow: 5}})
	rr := e.do(t, http.MethodPost, "/api/chat/message", `{"message":"this message is far too long"}`, nil)

	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.JSONEq(t, `{"error":"Message is too long","maxLength":20}`, rr.Body.String())
	assert.Zero(t, e.adapter.calls)
	assert.Equal(t, 1, e.limiter.Status("ip_192.0.2.1").WindowCount)
}

func TestMessage_BodyOverLimitIsTooLong(t *testing.T) {
	e := newEnv(t, envOptions{limits: ratelimit.Limits{Window: time.Minute, MaxPerWindow: 5}})
	body := `{"message":"` + strings.Repeat("a", 70000) + `"}`
	rr := e.do(t, http.MethodPost, "/api/chat/message", body, nil)

	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.JSONEq(t, `{"error":"Message is too long","maxLength":20}`, rr.Body.String())
	assert.Zero(t, e.adapter.calls)
	assert.Equal(t, 1, e.limiter.Status("ip_192.0.2.1").WindowCount)
}

func TestBodyLimit(t *testing.T) {
	assert.Equal(t, int64(defaultBodyBytes), bodyLimit(0))

	// The longest allowed message fits even when every character is an
	// escaped surrogate pair.
	n := 20000
	escaped := `{"message":"` + strings.Repeat(`\ud83d\ude00`, n) + `"}`
	assert.Less(t, int64(len(escaped)), bodyLimit(n))
}

func TestMessage_InboundEscalation(t *testing.T) {
	e := newEnv(t, envOptions{})
	rr := e.do(t, http.MethodPost, "/api/chat/message", `{"message":"talk to a human","sessionId":"s"}`, nil)

	require.Equal(t, http.StatusOK, rr.Code)
	body := decodeBody(t, rr)
	assert.Equal(t, true, body["escalate"])
	assert.Equal(t, chat.InboundEscalationMessage, body["message"])
	assert.Contains(t, body["reason"], "talk to a human")
	assert.Zero(t, e.adapter.calls)
}

func TestMessage_ProviderFailureIsSanitized(t *testing.T) {
	e := newEnv(t, envOptions{})
	e.adapter.err = &provider.Error{Provider: "grok", Kind: provider.KindStatus, Status: 401, Message: "bad key sk-secret"}

	rr := e.do(t, http.MethodPost, "/api/chat/message", `{"message":"hello"}`, nil)

	assert.Equal(t, http.StatusBadGateway, rr.Code)
	body := decodeBody(t, rr)
	assert.Equal(t, providerFailureMessage, body["error"])
	assert.Equal(t, true, body["escalate"])
	assert.NotContains(t, rr.Body.String(), "sk-secret")
}

func TestMessage_UnconfiguredProvider(t *testing.T) {
	e := newEnv(t, envOptions{})
	rr := e.do(t, http.MethodPost, "/api/chat/message", `{"message":"hello","provider":"gemini"}`, nil)

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	body := decodeBody(t, rr)
	assert.Contains(t, body["error"], "API key is missing")
	assert.Equal(t, true, body["escalate"])
}

func TestChatError(t *testing.T) {
	status, body := chatError(errors.New("boom"))
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, internalErrorMessage, body.Error)
}

func TestEscalate(t *testing.T) {
	e := newEnv(t, envOptions{})

	rr := e.do(t, http.MethodPost, "/api/chat/escalate", `{"sessionId":"s","reason":"angry"}`, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"success":true,"message":"Connecting to operator...","escalate":true}`, rr.Body.String())

	rr = e.do(t, http.MethodPost, "/api/chat/escalate", `{"reason":"angry"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "sessionId is required", decodeBody(t, rr)["error"])
}

func TestHistory(t *testing.T) {
	e := newEnv(t, envOptions{})
	e.do(t, http.MethodPost, "/api/chat/message", `{"message":"hello","sessionId":"abc"}`, nil)

	rr := e.do(t, http.MethodGet, "/api/chat/history/abc", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var body struct {
		History []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"history"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body.History, 2)
	assert.Equal(t, "user", body.History[0].Role)
	assert.Equal(t, "Hi there", body.History[1].Content)

	rr = e.do(t, http.MethodGet, "/api/chat/history/unknown", "", nil)
	assert.JSONEq(t, `{"history":[]}`, rr.Body.String())
}

func TestRateLimited(t *testing.T) {
	e := newEnv(t, envOptions{limits: ratelimit.Limits{Window: time.Minute, MaxPerWindow: 1, BlockDuration: time.Minute}})

	rr := e.do(t, http.MethodPost, "/api/chat/message", `{"message":"hello"}`, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = e.do(t, http.MethodPost, "/api/chat/message", `{"message":"hello"}`, nil)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "60", rr.Header().Get("Retry-After"))
	assert.Equal(t, 1, e.adapter.calls)
}

func TestRateLimitKeyedByCredential(t *testing.T) {
	logger := logging.Discard()
	e := newEnv(t, envOptions{
		limits: ratelimit.Limits{Window: time.Minute, MaxPerWindow: 1, BlockDuration: time.Minute},
		auth:   auth.NewMiddleware([]string{"key-a", "key-b"}, "", false, logger),
	})

	for _, key := range []string{"key-a", "key-b"} {
		rr := e.do(t, http.MethodPost, "/api/chat/message", `{"message":"hello"}`, map[string]string{"X-API-Key": key})
		assert.Equal(t, http.StatusOK, rr.Code, key)
	}
	assert.Equal(t, 1, e.limiter.Status("api_"+auth.KeyID("key-a")).WindowCount)
	assert.Zero(t, e.limiter.Status("ip_192.0.2.1").WindowCount)
}

func TestAuthEnforced(t *testing.T) {
	e := newEnv(t, envOptions{auth: auth.NewMiddleware([]string{"key-a"}, "", true, logging.Discard())})

	rr := e.do(t, http.MethodPost, "/api/chat/message", `{"message":"hello"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = e.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code, "health is public")
}

func TestToken(t *testing.T) {
	e := newEnv(t, envOptions{auth: auth.NewMiddleware([]string{"key-a"}, "secret", true, logging.Discard())})

	rr := e.do(t, http.MethodPost, "/auth/token", `{"api_key":"key-a"}`, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	body := decodeBody(t, rr)
	token, _ := body["token"].(string)
	require.NotEmpty(t, token)
	assert.NotEmpty(t, body["expires_at"])

	rr = e.do(t, http.MethodPost, "/api/chat/message", `{"message":"hello"}`, map[string]string{"Authorization": "Bearer " + token})
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = e.do(t, http.MethodPost, "/auth/token", `{"api_key":"nope"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = e.do(t, http.MethodPost, "/auth/token", `{}`, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "api_key is required", decodeBody(t, rr)["error"])
}

func TestToken_Disabled(t *testing.T) {
	e := newEnv(t, envOptions{})
	rr := e.do(t, http.MethodPost, "/auth/token", `{"api_key":"key-a"}`, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestCORS(t *testing.T) {
	e := newEnv(t, envOptions{origins: []string{"https://shop.example"}})

	rr := e.do(t, http.MethodOptions, "/api/chat/message", "", map[string]string{
		"Origin":                        "https://shop.example",
		"Access-Control-Request-Method": "POST",
	})
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "https://shop.example", rr.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rr.Header().Get("Access-Control-Allow-Headers"), "X-API-Key")

	rr = e.do(t, http.MethodGet, "/health", "", map[string]string{"Origin": "https://evil.example"})
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))

	wide := newEnv(t, envOptions{origins: []string{"*"}})
	rr = wide.do(t, http.MethodGet, "/health", "", map[string]string{"Origin": "https://any.example"})
	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestResponseRecorder(t *testing.T) {
	rr := httptest.NewRecorder()
	rec := &responseRecorder{ResponseWriter: rr, statusCode: http.StatusOK}
	rec.WriteHeader(http.StatusTeapot)
	rec.WriteHeader(http.StatusOK)
	n, err := rec.Write([]byte("abc"))
	require.NoError(t, err)

	assert.Equal(t, 3, n)
	assert.Equal(t, http.StatusTeapot, rec.statusCode)
	assert.Equal(t, 3, rec.size)
	assert.Equal(t, http.StatusTeapot, rr.Code)
}
