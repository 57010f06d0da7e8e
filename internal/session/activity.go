package session

import (
	"sync"
	"time"

	"github.com/stippi/code-assistant/internal/event"
)

// ActivityState is one of the four states a session's turn loop may be
// in at any instant: Idle, AgentRunning, WaitingForResponse, or
// RateLimited{until}. Exactly one activity state applies per session;
// transitions are observable by the UI via event.ActivityChanged.
type ActivityState int

const (
	Idle ActivityState = iota
	AgentRunning
	WaitingForResponse
	RateLimited
)

func (s ActivityState) String() string {
	switch s {
	case AgentRunning:
		return "agent_running"
	case WaitingForResponse:
		return "waiting_for_response"
	case RateLimited:
		return "rate_limited"
	default:
		return "idle"
	}
}

// ActivityTracker holds the current activity state per session and
// publishes transitions to the event bus. Grounded on the teacher's
// session-state bookkeeping in internal/session/service.go (which
// tracks per-session busy/idle ad hoc via map fields), generalized into
// the four-state model the specification names explicitly, including
// the RateLimited{until} sub-state with its countdown events.
type ActivityTracker struct {
	mu    sync.RWMutex
	state map[string]ActivityState
	until map[string]time.Time // valid only while state == RateLimited
}

// NewActivityTracker creates an empty tracker; sessions default to Idle.
func NewActivityTracker() *ActivityTracker {
	return &ActivityTracker{
		state: make(map[string]ActivityState),
		until: make(map[string]time.Time),
	}
}

// Get returns a session's current activity state, defaulting to Idle
// for sessions not yet tracked.
func (t *ActivityTracker) Get(sessionID string) ActivityState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state[sessionID]
}

// Set transitions a session to a new activity state and publishes the
// change. Transitioning away from RateLimited also publishes
// RateLimitClear.
func (t *ActivityTracker) Set(sessionID string, s ActivityState) {
	t.mu.Lock()
	prev := t.state[sessionID]
	t.state[sessionID] = s
	if s != RateLimited {
		delete(t.until, sessionID)
	}
	t.mu.Unlock()

	event.Publish(event.Event{
		Type: event.ActivityChanged,
		Data: event.ActivityChangedData{SessionID: sessionID, State: s.String()},
	})

	if prev == RateLimited && s != RateLimited {
		event.Publish(event.Event{
			Type: event.RateLimitClear,
			Data: event.RateLimitClearData{SessionID: sessionID},
		})
	}
}

// SetRateLimited transitions a session into RateLimited{until} and
// publishes the remaining-seconds countdown. Call repeatedly (e.g. once
// per second) while the countdown sleep is in progress; the turn loop's
// only obligation is to check cancellation between calls, per the
// specification's "rate-limit sleeps" suspension point.
func (t *ActivityTracker) SetRateLimited(sessionID string, until time.Time) {
	t.mu.Lock()
	t.state[sessionID] = RateLimited
	t.until[sessionID] = until
	t.mu.Unlock()

	remaining := int(time.Until(until).Seconds())
	if remaining < 0 {
		remaining = 0
	}

	event.Publish(event.Event{
		Type: event.ActivityChanged,
		Data: event.ActivityChangedData{SessionID: sessionID, State: RateLimited.String()},
	})
	event.Publish(event.Event{
		Type: event.RateLimit,
		Data: event.RateLimitData{SessionID: sessionID, SecondsRemaining: remaining},
	})
}

// Until returns the rate-limit deadline for a session currently in
// RateLimited, or the zero time if it is not rate limited.
func (t *ActivityTracker) Until(sessionID string) time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.until[sessionID]
}

// Clear removes all state for a session, e.g. on session deletion.
func (t *ActivityTracker) Clear(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.state, sessionID)
	delete(t.until, sessionID)
}
