package models

import "time"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

type Session struct {
	ID             string     `json:"sessionId"`
	Messages       []Message  `json:"messages"`
	Escalated      bool       `json:"escalated"`
	EscalationTime *time.Time `json:"escalationTime,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	LastActivity   time.Time  `json:"lastActivity"`
}

// TranscriptMessage is a Message as written to the transcript side-channel.
type TranscriptMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Provider  string    `json:"provider,omitempty"`
}

type Transcript struct {
	SessionID      string              `json:"sessionId"`
	IP             string              `json:"ip"`
	UserAgent      string              `json:"userAgent"`
	StartTime      time.Time           `json:"startTime"`
	LastUpdate     time.Time           `json:"lastUpdate"`
	Messages       []TranscriptMessage `json:"messages"`
	Escalated      bool                `json:"escalated,omitempty"`
	EscalationTime *time.Time          `json:"escalationTime,omitempty"`
}

type EscalationSource string

const (
	EscalationInbound  EscalationSource = "inbound"
	EscalationOutbound EscalationSource = "outbound"
	EscalationManual   EscalationSource = "manual"
)

type EscalationEvent struct {
	ID        string           `json:"id"`
	SessionID string           `json:"sessionId"`
	Reason    string           `json:"reason"`
	Source    EscalationSource `json:"source"`
	Time      time.Time        `json:"time"`
}
