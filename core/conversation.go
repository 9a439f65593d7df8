package core

import (
	"sync"
	"time"
)

// ConversationStatus enumerates the lifecycle states of a conversation.
// A conversation is never deleted, only marked terminal.
type ConversationStatus string

const (
	ConversationActive    ConversationStatus = "active"
	ConversationCompleted ConversationStatus = "completed"
	ConversationDenied    ConversationStatus = "denied"
	ConversationFailed    ConversationStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s ConversationStatus) Terminal() bool { return s != ConversationActive }

// Turn is one agent's contribution to a conversation. Immutable once
// recorded: AppendTurn copies the value into the transcript and readers only
// ever see copies.
type Turn struct {
	Index     int       `json:"index"`
	AgentID   string    `json:"agent_id"`
	Input     Content   `json:"input"`  // context snapshot handed to the model
	Output    Content   `json:"output"` // text or tool-call descriptor
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
	CostUSD   float64   `json:"cost_usd"`
}

// Conversation owns an ordered sequence of turns for one user request
// thread. It is safe for concurrent access; in practice turns are appended
// by exactly one orchestrator goroutine while readers (streaming observers)
// take snapshots.
type Conversation struct {
	ID      string             `json:"id"`
	UserID  string             `json:"user_id"`
	Status  ConversationStatus `json:"status"`
	Turns   []Turn             `json:"turns"`
	Created time.Time          `json:"created"`
	Updated time.Time          `json:"updated"`

	mu sync.RWMutex
}

// NewConversation creates an active conversation owned by userID.
func NewConversation(id, userID string) *Conversation {
	now := time.Now().UTC()
	return &Conversation{ID: id, UserID: userID, Status: ConversationActive, Turns: []Turn{}, Created: now, Updated: now}
}

// AppendTurn records a completed turn, assigning the next turn index.
// Appending to a terminal conversation is a programming error and is ignored
// to preserve the at-most-once recording guarantee.
func (c *Conversation) AppendTurn(t Turn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Status.Terminal() {
		return
	}
	t.Index = len(c.Turns)
	c.Turns = append(c.Turns, t)
	c.Updated = time.Now().UTC()
}

// SetStatus transitions the conversation status. Transitions out of a
// terminal status are rejected.
func (c *Conversation) SetStatus(s ConversationStatus) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Status.Terminal() {
		return false
	}
	c.Status = s
	c.Updated = time.Now().UTC()
	return true
}

// GetStatus returns the current status.
func (c *Conversation) GetStatus() ConversationStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Status
}

// GetTurns returns a defensive copy of the recorded turns.
func (c *Conversation) GetTurns() []Turn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	turns := make([]Turn, len(c.Turns))
	copy(turns, c.Turns)
	return turns
}

// TurnCount returns the number of recorded turns.
func (c *Conversation) TurnCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.Turns)
}

// AgentsUsed returns the ordered list of distinct agent ids that contributed
// at least one turn.
func (c *Conversation) AgentsUsed() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	seen := make(map[string]bool, len(c.Turns))
	var agents []string
	for _, t := range c.Turns {
		if !seen[t.AgentID] {
			seen[t.AgentID] = true
			agents = append(agents, t.AgentID)
		}
	}
	return agents
}

// LastResponse returns the text of the last substantive (non-empty) agent
// output, or "" when no turn produced text.
func (c *Conversation) LastResponse() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for i := len(c.Turns) - 1; i >= 0; i-- {
		if text := c.Turns[i].Output.Text(); text != "" {
			return text
		}
	}
	return ""
}

// Transcript assembles the accumulated model-facing contents: the original
// user message followed by each turn's output attributed to the assistant
// role. The optional user message is prepended when non-empty.
func (c *Conversation) Transcript(userMessage string) []Content {
	c.mu.RLock()
	defer c.mu.RUnlock()
	contents := make([]Content, 0, len(c.Turns)+1)
	if userMessage != "" {
		contents = append(contents, NewTextContent(RoleUser, userMessage))
	}
	for _, t := range c.Turns {
		contents = append(contents, t.Output)
	}
	return contents
}

// ConversationStore persists conversations. GetOrCreate returns the existing
// conversation for id or creates a fresh active one bound to userID.
type ConversationStore interface {
	GetOrCreate(id, userID string) (*Conversation, error)
	Get(id string) (*Conversation, error)
}
