package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HanTheDev/support-chat-gateway/internal/escalation"
	"github.com/HanTheDev/support-chat-gateway/internal/filter"
	"github.com/HanTheDev/support-chat-gateway/internal/knowledge"
	"github.com/HanTheDev/support-chat-gateway/internal/logging"
	"github.com/HanTheDev/support-chat-gateway/internal/metrics"
	"github.com/HanTheDev/support-chat-gateway/internal/models"
	"github.com/HanTheDev/support-chat-gateway/internal/provider"
	"github.com/HanTheDev/support-chat-gateway/internal/session"
	"github.com/HanTheDev/support-chat-gateway/internal/transcript"
)

type fakeAdapter struct {
	name string

	mu       sync.Mutex
	calls    []provider.Request
	reply    string
	err      error
	inFlight int
	maxSeen  int
	delay    time.Duration
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) Generate(ctx context.Context, req provider.Request) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.inFlight++
	if f.inFlight > f.maxSeen {
		f.maxSeen = f.inFlight
	}
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	f.inFlight--
	f.mu.Unlock()
	return f.reply, f.err
}

func (f *fakeAdapter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []models.EscalationEvent
}

func (n *fakeNotifier) Notify(_ context.Context, e models.EscalationEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
	return nil
}

type fakeRecorder struct {
	mu    sync.Mutex
	turns []transcript.Turn
	err   error
}

func (r *fakeRecorder) RecordTurn(_ context.Context, t transcript.Turn) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.turns = append(r.turns, t)
	return r.err
}

type harness struct {
	pipeline *Pipeline
	adapter  *fakeAdapter
	sessions *session.Store
	notifier *fakeNotifier
	recorder *fakeRecorder
	metrics  *metrics.Metrics
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	base := knowledge.Base{
		Company: knowledge.CompanyInfo{Name: "Acme", Description: "Widgets for everyone"},
		Products: []knowledge.Product{
			{Name: "Widget Pro", Description: "professional widget", Price: 99, Availability: true},
		},
		FAQ: []knowledge.FAQEntry{
			{Question: "Do you offer refunds?", Answer: "Yes, within 30 days.", Keywords: []string{"refund"}},
		},
		Banned: knowledge.BannedTerms{
			Competitors:        []string{"Globex"},
			EscalationTriggers: []string{"talk to a human"},
			ForbiddenTopics:    []string{"politics"},
		},
	}
	logger := logging.Discard()
	adapter := &fakeAdapter{name: "grok", reply: "Hello!"}
	registry := provider.NewRegistry("grok", logger)
	registry.Register(adapter)
	registry.Configure("gemini", provider.Config{APIKey: "your_gemini_api_key_here", APIURL: "https://example.com"}, nil)

	h := &harness{
		adapter:  adapter,
		sessions: session.NewStore(session.Options{}, logger),
		notifier: &fakeNotifier{},
		recorder: &fakeRecorder{},
		metrics:  metrics.New(prometheus.NewRegistry()),
	}
	h.pipeline = New(Deps{
		Knowledge: knowledge.NewStore(base),
		Detector:  escalation.NewDetector(base.Banned.EscalationTriggers),
		Filter:    filter.New(base.Banned.Competitors, base.Banned.ForbiddenTopics),
		Providers: registry,
		Sessions:  h.sessions,
		Notifier:  h.notifier,
		Recorder:  h.recorder,
		Metrics:   h.metrics,
		Logger:    logger,
	}, opts)
	return h
}

var defaultOpts = Options{MaxMessageLength: 1000, MaxHistoryMessages: 10}

func TestProcess_HappyPath(t *testing.T) {
	h := newHarness(t, defaultOpts)

	res, err := h.pipeline.Process(context.Background(), Request{Message: "Do you offer refunds?", SessionID: "session_a"})
	require.NoError(t, err)
	assert.Equal(t, Result{SessionID: "session_a", Response: "Hello!", Provider: "grok"}, res)

	require.Equal(t, 1, h.adapter.callCount())
	call := h.adapter.calls[0]
	assert.Equal(t, "Do you offer refunds?", call.Message)
	assert.Contains(t, call.SystemPrompt, "Yes, within 30 days.")
	assert.Contains(t, call.SystemPrompt, escalation.Sentinel)
	assert.Empty(t, call.History)

	hist := h.sessions.History("session_a")
	require.Len(t, hist, 2)
	assert.Equal(t, models.RoleUser, hist[0].Role)
	assert.Equal(t, "Do you offer refunds?", hist[0].Content)
	assert.Equal(t, "Hello!", hist[1].Content)

	require.Len(t, h.recorder.turns, 1)
	assert.Equal(t, "Hello!", h.recorder.turns[0].Response)
	assert.False(t, h.recorder.turns[0].Escalated)
}

func TestProcess_GeneratesSessionID(t *testing.T) {
	h := newHarness(t, defaultOpts)

	a, err := h.pipeline.Process(context.Background(), Request{Message: "hi"})
	require.NoError(t, err)
	b, err := h.pipeline.Process(context.Background(), Request{Message: "hi"})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(a.SessionID, "session_"))
	assert.NotEqual(t, a.SessionID, b.SessionID)
}

func TestProcess_HistoryIsTruncatedForPrompt(t *testing.T) {
	h := newHarness(t, Options{MaxMessageLength: 1000, MaxHistoryMessages: 3})
	for i := 0; i < 4; i++ {
		_, err := h.pipeline.Process(context.Background(), Request{Message: "hi", SessionID: "s"})
		require.NoError(t, err)
	}

	last := h.adapter.calls[3]
	require.Len(t, last.History, 3)
	assert.Equal(t, models.RoleAssistant, last.History[0].Role)
	assert.Len(t, h.sessions.History("s"), 8, "stored history is not truncated")
}

func TestProcess_InboundEscalation(t *testing.T) {
	h := newHarness(t, defaultOpts)

	res, err := h.pipeline.Process(context.Background(), Request{Message: "I want to TALK TO A HUMAN", SessionID: "s"})
	require.NoError(t, err)
	assert.True(t, res.Escalate)
	assert.Equal(t, InboundEscalationMessage, res.Message)
	assert.Equal(t, "Escalation trigger detected: talk to a human", res.Reason)
	assert.Empty(t, res.Response)

	assert.Zero(t, h.adapter.callCount(), "no provider call")
	assert.Empty(t, h.sessions.History("s"), "no history mutation")

	require.Len(t, h.notifier.events, 1)
	assert.Equal(t, models.EscalationInbound, h.notifier.events[0].Source)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Escalations.WithLabelValues("inbound")))

	require.Len(t, h.recorder.turns, 1)
	assert.True(t, h.recorder.turns[0].Escalated)
	assert.Equal(t, InboundEscalationMessage, h.recorder.turns[0].Response)
}

func TestProcess_OversizedMessage(t *testing.T) {
	h := newHarness(t, Options{MaxMessageLength: 5, MaxHistoryMessages: 10})

	_, err := h.pipeline.Process(context.Background(), Request{Message: "too long!", SessionID: "s"})
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "Message is too long", ve.Message)
	assert.Equal(t, 5, ve.MaxLength)

	assert.Zero(t, h.adapter.callCount())
	assert.Empty(t, h.sessions.History("s"))
	assert.Empty(t, h.recorder.turns)
}

func TestProcess_LengthCountsCharacters(t *testing.T) {
	h := newHarness(t, Options{MaxMessageLength: 5, MaxHistoryMessages: 10})

	_, err := h.pipeline.Process(context.Background(), Request{Message: "héllo", SessionID: "s"})
	assert.NoError(t, err)
}

func TestProcess_EmptyMessage(t *testing.T) {
	h := newHarness(t, defaultOpts)

	_, err := h.pipeline.Process(context.Background(), Request{Message: "   "})
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Zero(t, ve.MaxLength)
}

func TestProcess_OutboundEscalation(t *testing.T) {
	h := newHarness(t, defaultOpts)
	h.adapter.reply = "escalate_to_operator:   Let me get someone who can help. Globex"

	res, err := h.pipeline.Process(context.Background(), Request{Message: "my order is broken", SessionID: "s"})
	require.NoError(t, err)
	assert.True(t, res.Escalate)
	assert.Equal(t, "Let me get someone who can help. Globex", res.Response, "escalation text is not filtered")
	assert.Equal(t, res.Response, res.Message)
	assert.Equal(t, "grok", res.Provider)

	sess, ok := h.sessions.Get("s")
	require.True(t, ok)
	assert.True(t, sess.Escalated)
	assert.Empty(t, sess.Messages)

	require.Len(t, h.notifier.events, 1)
	assert.Equal(t, models.EscalationOutbound, h.notifier.events[0].Source)
	assert.Equal(t, 1, h.adapter.callCount())
}

func TestProcess_OutboundEscalationDefaultText(t *testing.T) {
	h := newHarness(t, defaultOpts)
	h.adapter.reply = "  ESCALATE_TO_OPERATOR:  "

	res, err := h.pipeline.Process(context.Background(), Request{Message: "help", SessionID: "s"})
	require.NoError(t, err)
	assert.Equal(t, escalation.DefaultHandoffMessage, res.Response)
}

func TestProcess_FiltersResponse(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  string
	}{
		{"competitor", "Globex is fine but we are better.", filter.AdvantagesPreamble + "is fine but we are better."},
		{"topic wins over competitor", "Globex has views on politics.", filter.RefusalMessage},
		{"clean", "  We ship worldwide.  ", "We ship worldwide."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, defaultOpts)
			h.adapter.reply = tt.reply

			res, err := h.pipeline.Process(context.Background(), Request{Message: "tell me", SessionID: "s"})
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Response)
			assert.Equal(t, tt.want, h.sessions.History("s")[1].Content)
		})
	}
}

func TestProcess_ProviderFailure(t *testing.T) {
	h := newHarness(t, defaultOpts)
	h.adapter.err = &provider.Error{Provider: "grok", Kind: provider.KindTimeout, Message: "deadline exceeded"}

	_, err := h.pipeline.Process(context.Background(), Request{Message: "hello", SessionID: "s"})
	var pe *PipelineError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "s", pe.SessionID)
	assert.Equal(t, "grok", pe.Provider)

	var provErr *provider.Error
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, provider.KindTimeout, provErr.Kind)

	assert.Empty(t, h.sessions.History("s"), "no partial history")
	assert.Empty(t, h.recorder.turns)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.ProviderRequests.WithLabelValues("grok", "timeout")))
}

func TestProcess_ConfigErrors(t *testing.T) {
	h := newHarness(t, defaultOpts)

	for _, name := range []string{"gemini", "unknown"} {
		_, err := h.pipeline.Process(context.Background(), Request{Message: "hello", SessionID: "s", Provider: name})
		var ce *provider.ConfigError
		require.True(t, errors.As(err, &ce), name)
		assert.Equal(t, name, ce.Provider)

		var pe *PipelineError
		assert.ErrorAs(t, err, &pe)
	}
	assert.Zero(t, h.adapter.callCount())
}

func TestProcess_RecorderFailureDoesNotFailTurn(t *testing.T) {
	h := newHarness(t, defaultOpts)
	h.recorder.err = errors.New("disk full")

	res, err := h.pipeline.Process(context.Background(), Request{Message: "hi", SessionID: "s"})
	require.NoError(t, err)
	assert.Equal(t, "Hello!", res.Response)
}

func TestProcess_CancelledCallerDoesNotAbortProvider(t *testing.T) {
	h := newHarness(t, defaultOpts)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var seen error
	h.pipeline.Providers.Register(adapterFunc{name: "grok", fn: func(ctx context.Context, _ provider.Request) (string, error) {
		seen = ctx.Err()
		return "ok", nil
	}})

	_, err := h.pipeline.Process(ctx, Request{Message: "hi", SessionID: "s"})
	require.NoError(t, err)
	assert.NoError(t, seen)
}

func TestProcess_SequentialPerSession(t *testing.T) {
	h := newHarness(t, defaultOpts)
	h.adapter.delay = 5 * time.Millisecond

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.pipeline.Process(context.Background(), Request{Message: "hi", SessionID: "same"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, h.adapter.maxSeen)
	hist := h.sessions.History("same")
	require.Len(t, hist, 16)
	for i := 0; i < len(hist); i += 2 {
		assert.Equal(t, models.RoleUser, hist[i].Role)
		assert.Equal(t, models.RoleAssistant, hist[i+1].Role)
	}
}

func TestEscalate(t *testing.T) {
	h := newHarness(t, defaultOpts)

	h.pipeline.Escalate(context.Background(), "s", "")
	sess, ok := h.sessions.Get("s")
	require.True(t, ok)
	assert.True(t, sess.Escalated)

	require.Len(t, h.notifier.events, 1)
	assert.Equal(t, models.EscalationManual, h.notifier.events[0].Source)
	assert.Equal(t, "Requested by user", h.notifier.events[0].Reason)
}

type adapterFunc struct {
	name string
	fn   func(context.Context, provider.Request) (string, error)
}

func (a adapterFunc) Name() string { return a.name }
func (a adapterFunc) Generate(ctx context.Context, req provider.Request) (string, error) {
	return a.fn(ctx, req)
}
