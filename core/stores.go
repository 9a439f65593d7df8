package core

import "context"

// SearchResult represents a retrieved memory item with a relevance score and
// arbitrary metadata.
type SearchResult struct {
	ID       string
	Content  string
	Score    float64
	Metadata map[string]any
}

// MemoryStore defines persistence + relevance-ranked retrieval for prior
// conversational memory. Entries are scoped to a user and optionally to one
// agent; an empty agentID addresses all of the user's memory. Lookups take a
// context so a cancelled conversation can unwind a pending retrieval.
type MemoryStore interface {
	Store(ctx context.Context, userID, agentID, content string, metadata map[string]any) error
	Search(ctx context.Context, userID, agentID, query string, limit int) ([]SearchResult, error)
}
