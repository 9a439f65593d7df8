package approval

import (
	"context"
	"sync"
	"time"

	"github.com/parley-ai/parley/core"
	"github.com/parley-ai/parley/logging"
)

// Status enumerates approval request states. pending transitions to exactly
// one of approved/denied, then the request is terminal.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusDenied   Status = "denied"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool { return s != StatusPending }

// Request is a human-approval checkpoint bound to one conversation.
type Request struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	RequesterID    string         `json:"requester_id"`
	ActionPayload  map[string]any `json:"action_payload,omitempty"`
	Status         Status         `json:"status"`
	CreatedAt      time.Time      `json:"created_at"`
	ResolvedAt     time.Time      `json:"resolved_at,omitempty"`
}

type entry struct {
	req  Request
	done chan struct{} // closed on transition to a terminal status
}

// Store is the in-memory approval registry. Safe for concurrent use: many
// conversations wait while external actors resolve.
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry
	logger  logging.Logger
}

// NewStore creates an empty approval store.
func NewStore(logger logging.Logger) *Store {
	if logger == nil {
		logger = logging.NopLogger{}
	}
	return &Store{entries: make(map[string]*entry), logger: logger}
}

// Create registers a pending request. When id already exists the existing
// request is returned unchanged, so a retried conversation reuses its
// checkpoint instead of spawning duplicates.
func (s *Store) Create(id, conversationID, requesterID string, payload map[string]any) Request {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[id]; ok {
		return e.req
	}
	if id == "" {
		id = core.NewID()
	}
	e := &entry{
		req: Request{
			ID:             id,
			ConversationID: conversationID,
			RequesterID:    requesterID,
			ActionPayload:  payload,
			Status:         StatusPending,
			CreatedAt:      time.Now().UTC(),
		},
		done: make(chan struct{}),
	}
	s.entries[id] = e
	s.logger.Info("approval.created", "approval_id", id, "conversation_id", conversationID)
	return e.req
}

// Get returns the request for id.
func (s *Store) Get(id string) (Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return Request{}, core.ErrApprovalNotFound
	}
	return e.req, nil
}

// Approve transitions pending -> approved. On an already-terminal request it
// returns the existing terminal state without error.
func (s *Store) Approve(id string) (Request, error) { return s.resolve(id, StatusApproved) }

// Deny transitions pending -> denied. On an already-terminal request it
// returns the existing terminal state without error.
func (s *Store) Deny(id string) (Request, error) { return s.resolve(id, StatusDenied) }

func (s *Store) resolve(id string, target Status) (Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return Request{}, core.ErrApprovalNotFound
	}
	if e.req.Status.Terminal() {
		return e.req, nil
	}
	e.req.Status = target
	e.req.ResolvedAt = time.Now().UTC()
	close(e.done)
	s.logger.Info("approval.resolved", "approval_id", id, "status", string(target))
	return e.req, nil
}

// Wait blocks until the request leaves pending or ctx is cancelled. The
// returned request carries the terminal status; a cancelled wait returns the
// context error so an aborted conversation can unwind without leaking.
func (s *Store) Wait(ctx context.Context, id string) (Request, error) {
	s.mu.Lock()
	e, ok := s.entries[id]
	s.mu.Unlock()
	if !ok {
		return Request{}, core.ErrApprovalNotFound
	}

	select {
	case <-e.done:
		return s.Get(id)
	case <-ctx.Done():
		return Request{}, ctx.Err()
	}
}

// Pending returns the ids of all requests still awaiting resolution.
func (s *Store) Pending() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, e := range s.entries {
		if !e.req.Status.Terminal() {
			ids = append(ids, id)
		}
	}
	return ids
}
