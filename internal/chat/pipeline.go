// Package chat runs one conversation turn: escalation check on the way in,
// knowledge lookup, provider call, escalation check on the way out, content
// filtering and the history update, strictly in that order.
package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/HanTheDev/support-chat-gateway/internal/escalation"
	"github.com/HanTheDev/support-chat-gateway/internal/filter"
	"github.com/HanTheDev/support-chat-gateway/internal/knowledge"
	"github.com/HanTheDev/support-chat-gateway/internal/metrics"
	"github.com/HanTheDev/support-chat-gateway/internal/models"
	"github.com/HanTheDev/support-chat-gateway/internal/operator"
	"github.com/HanTheDev/support-chat-gateway/internal/provider"
	"github.com/HanTheDev/support-chat-gateway/internal/session"
	"github.com/HanTheDev/support-chat-gateway/internal/transcript"
)

const (
	InboundEscalationMessage = "Connecting you to an operator..."
	ManualEscalationMessage  = "Connecting to operator..."
	MessageTooLong           = "Message is too long"

	sessionPrefix    = "session_"
	recordTimeout    = 5 * time.Second
	messageRequired  = "Message is required and must be a string"
	manualReasonNone = "Requested by user"
)

type Options struct {
	MaxMessageLength   int
	MaxHistoryMessages int
	ProviderTimeout    time.Duration
}

// Deps are the long-lived collaborators of a Pipeline. Notifier, Recorder
// and Metrics are optional.
type Deps struct {
	Knowledge *knowledge.Store
	Detector  *escalation.Detector
	Filter    *filter.Filter
	Providers *provider.Registry
	Sessions  *session.Store
	Notifier  operator.Notifier
	Recorder  transcript.Recorder
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

type Request struct {
	Message   string
	SessionID string
	Provider  string

	// Caller metadata for the transcript.
	ClientIP  string
	UserAgent string
}

type Result struct {
	SessionID string `json:"sessionId"`
	Response  string `json:"response,omitempty"`
	Provider  string `json:"provider,omitempty"`
	Escalate  bool   `json:"escalate"`
	Message   string `json:"message,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

type Pipeline struct {
	Deps
	opts  Options
	now   func() time.Time
	newID func() string
}

func New(deps Deps, opts Options) *Pipeline {
	if deps.Notifier == nil {
		deps.Notifier = operator.NewLogNotifier(deps.Logger)
	}
	if deps.Recorder == nil {
		deps.Recorder = transcript.Nop{}
	}
	if opts.ProviderTimeout <= 0 {
		opts.ProviderTimeout = provider.DefaultTimeout
	}
	return &Pipeline{
		Deps:  deps,
		opts:  opts,
		now:   time.Now,
		newID: func() string { return sessionPrefix + uuid.NewString() },
	}
}

// Process handles one user message. Failures are *ValidationError or
// *PipelineError; in both cases the session history is unchanged.
func (p *Pipeline) Process(ctx context.Context, req Request) (Result, error) {
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = p.newID()
	}

	if strings.TrimSpace(req.Message) == "" {
		return Result{}, &ValidationError{Message: messageRequired}
	}
	if limit := p.opts.MaxMessageLength; limit > 0 && utf8.RuneCountInString(req.Message) > limit {
		return Result{}, &ValidationError{Message: MessageTooLong, MaxLength: limit}
	}

	unlock := p.Sessions.Lock(sessionID)
	defer unlock()

	log := p.Logger.With("session_id", sessionID)

	if in := p.Detector.CheckInbound(req.Message); in.ShouldEscalate {
		p.escalate(ctx, sessionID, in.Reason, models.EscalationInbound)
		res := Result{
			SessionID: sessionID,
			Escalate:  true,
			Message:   InboundEscalationMessage,
			Reason:    in.Reason,
		}
		p.record(ctx, req, res)
		return res, nil
	}

	kctx := p.Knowledge.Search(req.Message)
	prompt := p.Knowledge.SystemPrompt(kctx)
	history := p.Sessions.Recent(sessionID, p.opts.MaxHistoryMessages)

	name := req.Provider
	if name == "" {
		name = p.Providers.Default()
	}
	adapter, err := p.Providers.Get(name)
	if err != nil {
		log.Error("Provider unavailable", "provider", name, "error", err)
		return Result{}, &PipelineError{SessionID: sessionID, Provider: name, Err: err}
	}

	log.Debug("Calling provider",
		"provider", name,
		"history", len(history),
		"faq_matches", len(kctx.FAQ),
		"product_matches", len(kctx.Products),
	)
	text, err := p.generate(ctx, adapter, provider.Request{
		Message:      req.Message,
		SystemPrompt: prompt,
		History:      history,
	})
	if err != nil {
		log.Error("Provider call failed", "provider", name, "error", err)
		return Result{}, &PipelineError{SessionID: sessionID, Provider: name, Err: err}
	}

	if out := p.Detector.CheckOutbound(text); out.ShouldEscalate {
		p.Sessions.MarkEscalated(sessionID)
		p.escalate(ctx, sessionID, out.Reason, models.EscalationOutbound)
		res := Result{
			SessionID: sessionID,
			Response:  out.CleanText,
			Provider:  name,
			Escalate:  true,
			Message:   out.CleanText,
		}
		p.record(ctx, req, res)
		return res, nil
	}

	filtered := p.Filter.Apply(text)
	if len(filtered.Competitors) > 0 {
		p.Metrics.ObserveFilter("competitor")
	}
	if filtered.Topic != "" {
		p.Metrics.ObserveFilter("forbidden_topic")
		log.Info("Response replaced by topic refusal", "topic", filtered.Topic)
	}

	p.Sessions.AppendTurn(sessionID, req.Message, filtered.Text)

	res := Result{
		SessionID: sessionID,
		Response:  filtered.Text,
		Provider:  name,
		Escalate:  false,
	}
	p.record(ctx, req, res)
	return res, nil
}

// generate calls the provider under its own deadline. Caller cancellation
// does not abort an in-flight call.
func (p *Pipeline) generate(ctx context.Context, adapter provider.Adapter, req provider.Request) (string, error) {
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.opts.ProviderTimeout)
	defer cancel()

	start := p.now()
	text, err := adapter.Generate(callCtx, req)

	result := "ok"
	var pe *provider.Error
	switch {
	case errors.As(err, &pe):
		result = string(pe.Kind)
	case err != nil:
		result = "error"
	}
	p.Metrics.ObserveProvider(adapter.Name(), result, p.now().Sub(start))
	return text, err
}

// Escalate hands a session to an operator on the user's request.
func (p *Pipeline) Escalate(ctx context.Context, sessionID, reason string) {
	if strings.TrimSpace(reason) == "" {
		reason = manualReasonNone
	}
	p.Sessions.MarkEscalated(sessionID)
	p.escalate(ctx, sessionID, reason, models.EscalationManual)
}

// History returns the full stored history of a session, oldest first.
func (p *Pipeline) History(sessionID string) []models.Message {
	return p.Sessions.History(sessionID)
}

func (p *Pipeline) escalate(ctx context.Context, sessionID, reason string, source models.EscalationSource) {
	p.Metrics.ObserveEscalation(string(source))
	event := operator.NewEvent(sessionID, reason, source, p.now())
	if err := p.Notifier.Notify(context.WithoutCancel(ctx), event); err != nil {
		p.Logger.Error("Failed to notify operator",
			"session_id", sessionID,
			"source", source,
			"error", err,
		)
	}
}

func (p *Pipeline) record(ctx context.Context, req Request, res Result) {
	text := res.Response
	if text == "" {
		text = res.Message
	}

	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	err := p.Recorder.RecordTurn(rctx, transcript.Turn{
		SessionID:   res.SessionID,
		ClientIP:    req.ClientIP,
		UserAgent:   req.UserAgent,
		UserMessage: req.Message,
		Response:    text,
		Provider:    res.Provider,
		Escalated:   res.Escalate,
		Time:        p.now(),
	})
	if err != nil {
		p.Logger.Error("Failed to record transcript", "session_id", res.SessionID, "error", err)
	}
}
