package transcript

import (
	"context"
	"fmt"
	"time"

	"github.com/HanTheDev/support-chat-gateway/internal/models"
)

// Store is the part of internal/db the Postgres recorder needs.
type Store interface {
	UpsertSession(ctx context.Context, sessionID, ip, userAgent string, at time.Time) (time.Time, error)
	InsertMessage(ctx context.Context, sessionID string, msg models.TranscriptMessage) error
	MarkEscalated(ctx context.Context, sessionID string, at time.Time) error
}

type DBRecorder struct {
	store Store
}

func NewDBRecorder(store Store) *DBRecorder {
	return &DBRecorder{store: store}
}

func (r *DBRecorder) RecordTurn(ctx context.Context, turn Turn) error {
	if _, err := r.store.UpsertSession(ctx, turn.SessionID, turn.ClientIP, userAgentOrUnknown(turn.UserAgent), turn.Time); err != nil {
		return fmt.Errorf("upsert chat session: %w", err)
	}

	msgs := []models.TranscriptMessage{
		{Role: models.RoleUser, Content: turn.UserMessage, Timestamp: turn.Time},
		{Role: models.RoleAssistant, Content: turn.Response, Timestamp: turn.Time, Provider: turn.Provider},
	}
	for _, m := range msgs {
		if err := r.store.InsertMessage(ctx, turn.SessionID, m); err != nil {
			return fmt.Errorf("insert chat message: %w", err)
		}
	}

	if turn.Escalated {
		if err := r.store.MarkEscalated(ctx, turn.SessionID, turn.Time); err != nil {
			return fmt.Errorf("mark chat session escalated: %w", err)
		}
	}
	return nil
}
