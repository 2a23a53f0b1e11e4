// Package operator hands escalated sessions to human operators.
package operator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/HanTheDev/support-chat-gateway/internal/models"
)

type Notifier interface {
	Notify(ctx context.Context, event models.EscalationEvent) error
}

// NewEvent stamps an escalation with a fresh id.
func NewEvent(sessionID, reason string, source models.EscalationSource, at time.Time) models.EscalationEvent {
	return models.EscalationEvent{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Reason:    reason,
		Source:    source,
		Time:      at,
	}
}

// LogNotifier only writes escalations to the log, for deployments where
// operators watch the logs.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(_ context.Context, event models.EscalationEvent) error {
	n.logger.Warn("Escalation to operator",
		"session_id", event.SessionID,
		"reason", event.Reason,
		"source", event.Source,
		"event_id", event.ID,
	)
	return nil
}

// redisClient is the part of *redis.Client the notifier uses.
type redisClient interface {
	RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisNotifier appends escalation events to a Redis list that operator
// consoles drain, and publishes them on a channel of the same name for
// consoles that are online.
type RedisNotifier struct {
	client redisClient
	queue  string
	logger *slog.Logger
}

func NewRedisNotifier(client redisClient, queue string, logger *slog.Logger) *RedisNotifier {
	return &RedisNotifier{client: client, queue: queue, logger: logger}
}

// Dial connects to redisURL and checks the connection.
func Dial(ctx context.Context, redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func (n *RedisNotifier) Notify(ctx context.Context, event models.EscalationEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode escalation event: %w", err)
	}
	if err := n.client.RPush(ctx, n.queue, payload).Err(); err != nil {
		return fmt.Errorf("enqueue escalation: %w", err)
	}
	if err := n.client.Publish(ctx, n.queue, payload).Err(); err != nil {
		// The event is already queued; a missed publish only delays pickup.
		n.logger.Warn("Failed to publish escalation", "session_id", event.SessionID, "error", err)
	}
	n.logger.Info("Escalation queued for operator",
		"session_id", event.SessionID,
		"source", event.Source,
		"queue", n.queue,
	)
	return nil
}
