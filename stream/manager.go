package stream

import (
	"context"
	"sync"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/parley-ai/parley/core"
	"github.com/parley-ai/parley/logging"
)

// Options configures the session manager.
type Options struct {
	HeartbeatInterval time.Duration
	IdleTimeout       time.Duration
	ReapInterval      time.Duration
	EventBufferSize   int
	Logger            logging.Logger
}

// Manager owns all live sessions: creation, lookup, heartbeats, and the idle
// reaper. One manager per process.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	heartbeat  time.Duration
	idle       time.Duration
	bufferSize int
	logger     logging.Logger

	tasks    conc.WaitGroup
	stopReap context.CancelFunc
}

// NewManager creates a manager and starts the idle reaper.
func NewManager(optFns ...func(o *Options)) *Manager {
	opts := Options{
		HeartbeatInterval: 15 * time.Second,
		IdleTimeout:       5 * time.Minute,
		ReapInterval:      30 * time.Second,
		EventBufferSize:   64,
		Logger:            logging.NopLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		sessions:   make(map[string]*Session),
		heartbeat:  opts.HeartbeatInterval,
		idle:       opts.IdleTimeout,
		bufferSize: opts.EventBufferSize,
		logger:     opts.Logger,
		stopReap:   cancel,
	}
	reapEvery := opts.ReapInterval
	m.tasks.Go(func() { m.reapLoop(ctx, reapEvery) })
	return m
}

// Open creates an active session and emits session_created as its first
// event. agentID may be "auto" for full orchestration.
func (m *Manager) Open(userID, agentID string) *Session {
	taskCtx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ID:           core.NewID(),
		UserID:       userID,
		AgentID:      agentID,
		status:       StatusCreated,
		lastActivity: time.Now().UTC(),
		events:       make(chan core.StreamEvent, m.bufferSize),
		stopTasks:    cancel,
		logger:       m.logger,
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	s.mu.Lock()
	s.status = StatusActive
	s.mu.Unlock()
	s.Publish(core.NewSessionCreatedEvent())

	m.tasks.Go(func() { m.heartbeatLoop(taskCtx, s) })
	m.logger.Info("stream.session_opened", "session_id", s.ID, "user_id", userID, "agent_id", agentID)
	return s
}

// Get returns the session or core.ErrSessionNotFound.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, core.ErrSessionNotFound
	}
	return s, nil
}

// Close completes the session and removes it. Once Close returns no further
// event is delivered. Closing an unknown session returns
// core.ErrSessionNotFound.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return core.ErrSessionNotFound
	}
	s.close(StatusCompleted)
	m.logger.Info("stream.session_closed", "session_id", id)
	return nil
}

// Len reports the live session count.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Shutdown closes every session, stops the reaper, and waits for background
// tasks to finish.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.close(StatusCompleted)
	}
	m.stopReap()
	m.tasks.Wait()
}

func (m *Manager) heartbeatLoop(ctx context.Context, s *Session) {
	ticker := time.NewTicker(m.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.Status() == StatusActive {
				s.Publish(core.NewHeartbeatEvent())
			}
		}
	}
}

func (m *Manager) reapLoop(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.reapIdle()
		}
	}
}

// reapIdle closes sessions whose last activity is older than the idle
// timeout.
func (m *Manager) reapIdle() {
	cutoff := time.Now().UTC().Add(-m.idle)
	m.mu.Lock()
	var stale []*Session
	for id, s := range m.sessions {
		if s.LastActivity().Before(cutoff) {
			stale = append(stale, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range stale {
		s.close(StatusCompleted)
		m.logger.Info("stream.session_reaped", "session_id", s.ID)
	}
}
