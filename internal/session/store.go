// Package session keeps per-session conversation history in process memory.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/HanTheDev/support-chat-gateway/internal/models"
)

type Options struct {
	// MaxStoredMessages caps stored history per session; 0 keeps everything.
	// The oldest messages are dropped in user/assistant pairs.
	MaxStoredMessages int

	// IdleTTL evicts sessions untouched for longer than this; 0 disables.
	IdleTTL time.Duration

	Now func() time.Time
}

type session struct {
	// turn serializes pipeline turns so one session never has two provider
	// calls in flight.
	turn sync.Mutex

	messages       []models.Message
	escalated      bool
	escalationTime time.Time
	createdAt      time.Time
	lastActivity   time.Time
}

type Store struct {
	opts   Options
	logger *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*session
}

func NewStore(opts Options, logger *slog.Logger) *Store {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{
		opts:     opts,
		logger:   logger,
		sessions: make(map[string]*session),
	}
}

func (s *Store) getOrCreate(id string) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.opts.Now()
	sess, ok := s.sessions[id]
	if !ok {
		sess = &session{createdAt: now}
		s.sessions[id] = sess
	}
	sess.lastActivity = now
	return sess
}

// Lock acquires the turn lock for id, creating the session if needed, and
// returns the matching unlock.
func (s *Store) Lock(id string) func() {
	sess := s.getOrCreate(id)
	sess.turn.Lock()
	return sess.turn.Unlock
}

// AppendTurn records a user message and the assistant reply together.
func (s *Store) AppendTurn(id, userMsg, assistantMsg string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.opts.Now()
	sess, ok := s.sessions[id]
	if !ok {
		sess = &session{createdAt: now}
		s.sessions[id] = sess
	}
	sess.messages = append(sess.messages,
		models.Message{Role: models.RoleUser, Content: userMsg, Timestamp: now},
		models.Message{Role: models.RoleAssistant, Content: assistantMsg, Timestamp: now},
	)
	if limit := s.opts.MaxStoredMessages; limit > 0 && len(sess.messages) > limit {
		drop := len(sess.messages) - limit
		drop += drop % 2
		sess.messages = append([]models.Message(nil), sess.messages[drop:]...)
	}
	sess.lastActivity = now
}

// Recent returns up to n of the newest messages, oldest first. n <= 0
// returns nothing.
func (s *Store) Recent(id string, n int) []models.Message {
	if n <= 0 {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil
	}
	msgs := sess.messages
	if len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	return append([]models.Message(nil), msgs...)
}

// History returns the full stored history. Unknown sessions have an empty
// history.
func (s *Store) History(id string) []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return []models.Message{}
	}
	return append([]models.Message{}, sess.messages...)
}

func (s *Store) Get(id string) (models.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return models.Session{}, false
	}
	out := models.Session{
		ID:           id,
		Messages:     append([]models.Message{}, sess.messages...),
		Escalated:    sess.escalated,
		CreatedAt:    sess.createdAt,
		LastActivity: sess.lastActivity,
	}
	if sess.escalated {
		t := sess.escalationTime
		out.EscalationTime = &t
	}
	return out, true
}

// MarkEscalated flags the session as handed off. The first escalation time
// is kept.
func (s *Store) MarkEscalated(id string) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.opts.Now()
	sess, ok := s.sessions[id]
	if !ok {
		sess = &session{createdAt: now}
		s.sessions[id] = sess
	}
	if !sess.escalated {
		sess.escalated = true
		sess.escalationTime = now
	}
	sess.lastActivity = now
	return sess.escalationTime
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Sweep evicts idle sessions and returns how many were removed. Sessions
// with a turn in progress are skipped.
func (s *Store) Sweep() int {
	if s.opts.IdleTTL <= 0 {
		return 0
	}
	cutoff := s.opts.Now().Add(-s.opts.IdleTTL)

	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, sess := range s.sessions {
		if !sess.lastActivity.Before(cutoff) {
			continue
		}
		if !sess.turn.TryLock() {
			continue
		}
		delete(s.sessions, id)
		sess.turn.Unlock()
		removed++
	}
	return removed
}

// Run sweeps every interval until ctx is cancelled.
func (s *Store) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 || s.opts.IdleTTL <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				s.logger.Info("Evicted idle sessions", "removed", n, "remaining", s.Len())
			}
		}
	}
}
