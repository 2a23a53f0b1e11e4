package db

import (
	"context"
	"time"

	"github.com/HanTheDev/support-chat-gateway/internal/models"
)

// UpsertSession creates the session row on first sight and bumps
// last_update afterwards. It returns the stored start time.
func (db *DB) UpsertSession(ctx context.Context, sessionID, ip, userAgent string, at time.Time) (time.Time, error) {
	query := `
        INSERT INTO chat_sessions (session_id, ip, user_agent, start_time, last_update)
        VALUES ($1, $2, $3, $4, $4)
        ON CONFLICT (session_id) DO UPDATE
        SET last_update = EXCLUDED.last_update
        RETURNING start_time
    `

	var start time.Time
	err := db.q.QueryRow(ctx, query, sessionID, ip, userAgent, at).Scan(&start)
	if err != nil {
		return time.Time{}, err
	}
	return start, nil
}

func (db *DB) InsertMessage(ctx context.Context, sessionID string, msg models.TranscriptMessage) error {
	query := `
        INSERT INTO chat_messages (session_id, role, content, provider, created_at)
        VALUES ($1, $2, $3, $4, $5)
    `

	_, err := db.q.Exec(ctx, query,
		sessionID,
		msg.Role,
		msg.Content,
		msg.Provider,
		msg.Timestamp,
	)
	return err
}

// MarkEscalated sets the escalation flag. The first escalation time wins.
func (db *DB) MarkEscalated(ctx context.Context, sessionID string, at time.Time) error {
	query := `
        UPDATE chat_sessions
        SET escalated = TRUE,
            escalation_time = COALESCE(escalation_time, $2),
            last_update = $2
        WHERE session_id = $1
    `

	_, err := db.q.Exec(ctx, query, sessionID, at)
	return err
}
