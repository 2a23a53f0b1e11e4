// Package ratelimit is the admission controller in front of the chat
// pipeline. Every identifier is checked against five quotas in a fixed order
// (active block, daily quota, burst window, minimum inter-request delay,
// per-minute quota) and the first violated one decides the outcome.
//
// State lives in process memory and is lost on restart. Each identifier has
// its own lock, so a decision and its counter updates are one indivisible
// read-modify-write.
package ratelimit

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"
)

type Limits struct {
	Window        time.Duration
	MaxPerWindow  int
	MinDelay      time.Duration
	BlockDuration time.Duration
	MaxPerMinute  int
	MaxPerDay     int
}

type Reason string

const (
	ReasonNone      Reason = ""
	ReasonBlocked   Reason = "blocked"
	ReasonDaily     Reason = "daily_limit"
	ReasonBurst     Reason = "burst_limit"
	ReasonMinDelay  Reason = "min_delay"
	ReasonPerMinute Reason = "per_minute_limit"
)

var reasonMessages = map[Reason]string{
	ReasonBlocked:   "Too many requests. Please try again later.",
	ReasonDaily:     "Daily request limit exceeded. Please try again tomorrow.",
	ReasonBurst:     "Too many requests. You have been temporarily blocked.",
	ReasonMinDelay:  "Please wait before sending another message.",
	ReasonPerMinute: "Too many requests per minute. Please slow down.",
}

// Decision is the outcome of one admission check. A denied decision always
// carries a positive RetryAfter.
type Decision struct {
	Allowed    bool
	Reason     Reason
	RetryAfter time.Duration
}

func (d Decision) Message() string {
	return reasonMessages[d.Reason]
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds.
func (d Decision) RetryAfterSeconds() int {
	if d.RetryAfter <= 0 {
		return 0
	}
	return int(math.Ceil(d.RetryAfter.Seconds()))
}

type entry struct {
	mu           sync.Mutex
	timestamps   []time.Time
	blockedUntil time.Time
	day          string
	dayCount     int
	// dead marks an entry removed by the sweeper; holders must re-fetch.
	dead bool
}

type Limiter struct {
	limits Limits
	now    func() time.Time
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry
}

type Option func(*Limiter)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

func NewLimiter(limits Limits, logger *slog.Logger, opts ...Option) *Limiter {
	l := &Limiter{
		limits:  limits,
		now:     time.Now,
		logger:  logger,
		entries: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Admit decides whether identifier may proceed. Counters change only when
// the request is allowed, except that a burst violation records a block.
func (l *Limiter) Admit(identifier string) Decision {
	for {
		e := l.getOrCreate(identifier)
		e.mu.Lock()
		if e.dead {
			e.mu.Unlock()
			continue
		}
		d := l.decide(e, l.now())
		e.mu.Unlock()

		if d.Reason == ReasonBurst {
			l.logger.Error("Rate limit exceeded, identifier blocked",
				"identifier", identifier,
				"block_seconds", d.RetryAfterSeconds(),
			)
		} else if !d.Allowed {
			l.logger.Warn("Rate limit denied request",
				"identifier", identifier,
				"reason", d.Reason,
				"retry_after_seconds", d.RetryAfterSeconds(),
			)
		}
		return d
	}
}

func (l *Limiter) getOrCreate(identifier string) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[identifier]
	if !ok {
		e = &entry{}
		l.entries[identifier] = e
	}
	return e
}

func (l *Limiter) decide(e *entry, now time.Time) Decision {
	lim := l.limits
	today := dayKey(now)

	if !e.blockedUntil.IsZero() {
		if now.Before(e.blockedUntil) {
			return deny(ReasonBlocked, e.blockedUntil.Sub(now))
		}
		e.blockedUntil = time.Time{}
	}

	dailyCount := 0
	if e.day == today {
		dailyCount = e.dayCount
	}
	if lim.MaxPerDay > 0 && dailyCount >= lim.MaxPerDay {
		return deny(ReasonDaily, untilNextDay(now))
	}

	recent := within(e.timestamps, now, lim.Window)
	if lim.MaxPerWindow > 0 && len(recent) >= lim.MaxPerWindow {
		e.blockedUntil = now.Add(lim.BlockDuration)
		return deny(ReasonBurst, lim.BlockDuration)
	}

	if lim.MinDelay > 0 && len(recent) > 0 {
		since := now.Sub(recent[len(recent)-1])
		if since < lim.MinDelay {
			return deny(ReasonMinDelay, lim.MinDelay-since)
		}
	}

	if lim.MaxPerMinute > 0 && len(within(e.timestamps, now, time.Minute)) >= lim.MaxPerMinute {
		return deny(ReasonPerMinute, time.Minute)
	}

	e.timestamps = append(dropBefore(e.timestamps, now, l.retention()), now)
	if e.day != today {
		e.day = today
		e.dayCount = 0
	}
	e.dayCount++

	return Decision{Allowed: true}
}

// retention is how long timestamps are kept: the sliding window, but never
// less than the minute the per-minute quota looks back over.
func (l *Limiter) retention() time.Duration {
	if l.limits.Window < time.Minute {
		return time.Minute
	}
	return l.limits.Window
}

func deny(reason Reason, retryAfter time.Duration) Decision {
	if retryAfter <= 0 {
		retryAfter = time.Second
	}
	return Decision{Reason: reason, RetryAfter: retryAfter}
}

// within returns the suffix of the time-ordered log younger than d.
func within(ts []time.Time, now time.Time, d time.Duration) []time.Time {
	for i, t := range ts {
		if now.Sub(t) < d {
			return ts[i:]
		}
	}
	return nil
}

func dropBefore(ts []time.Time, now time.Time, d time.Duration) []time.Time {
	kept := within(ts, now, d)
	if len(kept) == len(ts) {
		return ts
	}
	return append([]time.Time(nil), kept...)
}

func dayKey(t time.Time) string {
	return t.Format("2006-01-02")
}

func untilNextDay(now time.Time) time.Duration {
	y, m, d := now.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, now.Location()).Sub(now)
}

// Sweep drops timestamps older than the retention period, expired blocks and
// daily counters from other days. Identifiers left with no state are removed.
func (l *Limiter) Sweep() int {
	now := l.now()
	today := dayKey(now)
	removed := 0

	l.mu.Lock()
	defer l.mu.Unlock()
	for id, e := range l.entries {
		e.mu.Lock()
		e.timestamps = dropBefore(e.timestamps, now, l.retention())
		if !e.blockedUntil.IsZero() && !now.Before(e.blockedUntil) {
			e.blockedUntil = time.Time{}
		}
		if e.day != today {
			e.day = ""
			e.dayCount = 0
		}
		if len(e.timestamps) == 0 && e.blockedUntil.IsZero() && e.dayCount == 0 {
			e.dead = true
			delete(l.entries, id)
			removed++
		}
		e.mu.Unlock()
	}
	return removed
}

// Run sweeps every interval until ctx is cancelled.
func (l *Limiter) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := l.Sweep(); n > 0 {
				l.logger.Debug("Rate limit sweep", "removed", n)
			}
		}
	}
}

type Status struct {
	Identifier   string     `json:"identifier"`
	WindowCount  int        `json:"windowCount"`
	DailyCount   int        `json:"dailyCount"`
	BlockedUntil *time.Time `json:"blockedUntil,omitempty"`
}

func (l *Limiter) Status(identifier string) Status {
	st := Status{Identifier: identifier}

	l.mu.Lock()
	e, ok := l.entries[identifier]
	l.mu.Unlock()
	if !ok {
		return st
	}

	now := l.now()
	e.mu.Lock()
	defer e.mu.Unlock()
	st.WindowCount = len(within(e.timestamps, now, l.limits.Window))
	if e.day == dayKey(now) {
		st.DailyCount = e.dayCount
	}
	if now.Before(e.blockedUntil) {
		until := e.blockedUntil
		st.BlockedUntil = &until
	}
	return st
}

// Reset lifts a block and clears the sliding window. The daily counter is
// kept.
func (l *Limiter) Reset(identifier string) bool {
	l.mu.Lock()
	e, ok := l.entries[identifier]
	l.mu.Unlock()
	if !ok {
		return false
	}
	e.mu.Lock()
	e.blockedUntil = time.Time{}
	e.timestamps = nil
	e.mu.Unlock()
	return true
}
