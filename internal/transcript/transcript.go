// Package transcript writes a per-session record of every chat turn for later
// review. It is a side channel: the chat flow never depends on it succeeding.
package transcript

import (
	"context"
	"time"
)

const unknownUserAgent = "unknown"

// Turn is one user message and what the user was shown in reply.
type Turn struct {
	SessionID   string
	ClientIP    string
	UserAgent   string
	UserMessage string
	Response    string
	Provider    string
	Escalated   bool
	Time        time.Time
}

type Recorder interface {
	RecordTurn(ctx context.Context, turn Turn) error
}

// Nop discards transcripts.
type Nop struct{}

func (Nop) RecordTurn(context.Context, Turn) error { return nil }

func userAgentOrUnknown(ua string) string {
	if ua == "" {
		return unknownUserAgent
	}
	return ua
}
