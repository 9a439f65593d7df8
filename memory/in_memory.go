package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/parley-ai/parley/core"
)

type storedEntry struct {
	id       string
	agentID  string
	content  string
	metadata map[string]any
}

// InMemoryStore is a process-local MemoryStore. Entries are scoped per user
// and optionally per agent; Search ranks by token overlap with the query.
// Suitable for tests and single-node demos; swap in the chromem store for
// semantic retrieval.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries map[string][]storedEntry // userID -> append-only entries
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{entries: make(map[string][]storedEntry)}
}

// Store appends a memory entry for the user.
func (m *InMemoryStore) Store(_ context.Context, userID, agentID, content string, metadata map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[userID] = append(m.entries[userID], storedEntry{
		id:       core.NewID(),
		agentID:  agentID,
		content:  content,
		metadata: metadata,
	})
	return nil
}

// Search returns up to limit entries ranked by the fraction of query tokens
// present in the entry. Zero-overlap entries are excluded, so an unrelated
// query yields an empty result rather than noise.
func (m *InMemoryStore) Search(ctx context.Context, userID, agentID, query string, limit int) ([]core.SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	queryTokens := tokenize(query)
	if len(queryTokens) == 0 || limit <= 0 {
		return []core.SearchResult{}, nil
	}

	var results []core.SearchResult
	for _, e := range m.entries[userID] {
		if agentID != "" && e.agentID != agentID {
			continue
		}
		score := overlapScore(queryTokens, e.content)
		if score == 0 {
			continue
		}
		md := make(map[string]any, len(e.metadata))
		for k, v := range e.metadata {
			md[k] = v
		}
		results = append(results, core.SearchResult{ID: e.id, Content: e.content, Score: score, Metadata: md})
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func tokenize(s string) []string {
	return strings.Fields(strings.ToLower(s))
}

func overlapScore(queryTokens []string, content string) float64 {
	contentTokens := make(map[string]bool)
	for _, t := range tokenize(content) {
		contentTokens[t] = true
	}
	matched := 0
	for _, t := range queryTokens {
		if contentTokens[t] {
			matched++
		}
	}
	return float64(matched) / float64(len(queryTokens))
}
