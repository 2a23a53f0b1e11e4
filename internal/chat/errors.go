package chat

import "fmt"

// ValidationError rejects a message before any provider cost is incurred.
type ValidationError struct {
	Message string
	// MaxLength is set when the message was too long.
	MaxLength int
}

func (e *ValidationError) Error() string { return e.Message }

// PipelineError is a failed turn. Err is the originating failure, typically a
// *provider.Error or *provider.ConfigError, and is for logs only.
type PipelineError struct {
	SessionID string
	Provider  string
	Err       error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("process message for session %s via %s: %v", e.SessionID, e.Provider, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }
