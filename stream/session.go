// Package stream wraps orchestrator runs behind live session abstractions:
// ordered event delivery, heartbeats while active, idle reaping, and
// deterministic close semantics (no event is delivered after Close returns).
package stream

import (
	"context"
	"sync"
	"time"

	"github.com/parley-ai/parley/core"
	"github.com/parley-ai/parley/logging"
)

// Status enumerates the session lifecycle.
type Status string

const (
	StatusCreated   Status = "created"
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// Terminal reports whether the session admits no further transitions.
func (s Status) Terminal() bool { return s == StatusCompleted || s == StatusError }

// Session is a live event channel observing one conversation. It never owns
// conversation data; it only mirrors lifecycle events to the connected
// client.
type Session struct {
	ID      string
	UserID  string
	AgentID string // target agent, or "auto" for full orchestration

	mu           sync.Mutex
	status       Status
	lastActivity time.Time
	events       chan core.StreamEvent
	closed       bool
	stopTasks    context.CancelFunc
	logger       logging.Logger
}

// Events returns the ordered event stream. The channel is closed when the
// session closes.
func (s *Session) Events() <-chan core.StreamEvent { return s.events }

// Status returns the current lifecycle state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// LastActivity returns the time of the most recent publish or touch.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Publish enqueues an event for delivery. Events published to a closed or
// paused session are dropped; a full buffer also drops (slow consumer) with
// a log line rather than blocking the orchestrator.
func (s *Session) Publish(ev core.StreamEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.status == StatusPaused {
		return false
	}
	s.lastActivity = time.Now().UTC()
	select {
	case s.events <- ev:
		return true
	default:
		s.logger.Warn("stream.event_dropped", "session_id", s.ID, "event", string(ev.Event))
		return false
	}
}

// Observer adapts the session into an orchestrator observer callback.
func (s *Session) Observer() func(core.StreamEvent) {
	return func(ev core.StreamEvent) { s.Publish(ev) }
}

// Pause suppresses event delivery until Resume. Terminal sessions are
// unaffected.
func (s *Session) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed && !s.status.Terminal() {
		s.status = StatusPaused
	}
}

// Resume re-enables delivery after Pause.
func (s *Session) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed && s.status == StatusPaused {
		s.status = StatusActive
	}
}

// Touch refreshes the idle clock without publishing.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = time.Now().UTC()
}

// Fail publishes a terminal error event and closes the session.
func (s *Session) Fail(reason string) {
	s.Publish(core.NewErrorEvent(reason))
	s.close(StatusError)
}

// close transitions to the terminal state, cancels the heartbeat task, and
// closes the event channel. Idempotent.
func (s *Session) close(terminal Status) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.status = terminal
	if s.stopTasks != nil {
		s.stopTasks()
	}
	close(s.events)
	s.mu.Unlock()
}
