// Package escalation decides when a conversation is handed to a human
// operator, either because the user asked for one or because the backend
// answered with the hand-off sentinel.
package escalation

import (
	"strings"
)

// Sentinel is the prefix a backend must emit to request operator hand-off.
const Sentinel = "ESCALATE_TO_OPERATOR:"

// DefaultHandoffMessage replaces an empty remainder after the sentinel.
const DefaultHandoffMessage = "Please hold while I connect you to an operator."

const outboundReason = "AI determined that operator escalation is needed"

type Result struct {
	ShouldEscalate bool
	Reason         string
	// CleanText is set only for outbound escalations.
	CleanText string
}

// Detector is safe for concurrent use; its trigger list is never modified.
type Detector struct {
	triggers []string
	lowered  []string
}

func NewDetector(triggers []string) *Detector {
	d := &Detector{}
	for _, t := range triggers {
		if strings.TrimSpace(t) == "" {
			continue
		}
		d.triggers = append(d.triggers, t)
		d.lowered = append(d.lowered, strings.ToLower(t))
	}
	return d
}

// CheckInbound matches message against the trigger phrases. The first
// trigger contained in the message, ignoring case, wins.
func (d *Detector) CheckInbound(message string) Result {
	lower := strings.ToLower(message)
	for i, trigger := range d.lowered {
		if strings.Contains(lower, trigger) {
			return Result{
				ShouldEscalate: true,
				Reason:         "Escalation trigger detected: " + d.triggers[i],
			}
		}
	}
	return Result{}
}

// CheckOutbound reports whether the trimmed backend text starts with the
// sentinel, ignoring case, and strips it.
func (d *Detector) CheckOutbound(text string) Result {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) < len(Sentinel) || !strings.EqualFold(trimmed[:len(Sentinel)], Sentinel) {
		return Result{}
	}

	clean := strings.TrimSpace(trimmed[len(Sentinel):])
	if clean == "" {
		clean = DefaultHandoffMessage
	}
	return Result{
		ShouldEscalate: true,
		Reason:         outboundReason,
		CleanText:      clean,
	}
}
