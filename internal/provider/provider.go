// Package provider is the uniform interface over the language-model vendors.
// Each adapter turns a system prompt, the recent history and the new message
// into one vendor request and returns the model's text.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/HanTheDev/support-chat-gateway/internal/models"
)

const DefaultTimeout = 30 * time.Second

// Config is the static record for one backend.
type Config struct {
	APIKey      string
	APIURL      string
	Model       string
	MaxTokens   int
	Temperature float64
}

type Request struct {
	Message      string
	SystemPrompt string
	// History is oldest-first and already truncated by the caller.
	History []models.Message
}

type Adapter interface {
	Name() string
	Generate(ctx context.Context, req Request) (string, error)
}

// ConfigError means a provider cannot be used at all. It is raised before any
// network call.
type ConfigError struct {
	Provider string
	Reason   string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("provider %s: %s", e.Provider, e.Reason)
}

type Kind string

const (
	KindTransport Kind = "transport"
	KindTimeout   Kind = "timeout"
	KindStatus    Kind = "status"
	KindMalformed Kind = "malformed"
)

// Error is a failed upstream call. Message is the vendor's own description
// and may be logged but must not be returned to end users.
type Error struct {
	Provider string
	Kind     Kind
	Status   int
	Message  string
	Err      error
}

func (e *Error) Error() string {
	switch {
	case e.Status != 0:
		return fmt.Sprintf("%s API error (%s %d): %s", e.Provider, e.Kind, e.Status, e.Message)
	case e.Message != "":
		return fmt.Sprintf("%s API error (%s): %s", e.Provider, e.Kind, e.Message)
	default:
		return fmt.Sprintf("%s API error (%s): %v", e.Provider, e.Kind, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// transportError classifies a failure that happened before a response was
// read.
func transportError(provider string, err error) *Error {
	kind := KindTransport
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		kind = KindTimeout
	}
	return &Error{Provider: provider, Kind: kind, Message: err.Error(), Err: err}
}

// encodeRequest marshals a vendor request body. A failure is reported as a
// malformed exchange so callers see the same error type as for bad replies.
func encodeRequest(provider string, v any) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, &Error{Provider: provider, Kind: KindMalformed, Message: "encode request", Err: err}
	}
	return body, nil
}

func malformed(provider, msg string) *Error {
	return &Error{Provider: provider, Kind: KindMalformed, Message: msg}
}
