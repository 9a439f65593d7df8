package capability

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/parley-ai/parley/core"
)

// Record is a row in the in-process business datastore exposed through the
// query_records capability.
type Record struct {
	ID     string         `json:"id"`
	Kind   string         `json:"kind"` // "deal", "campaign", "contract", ...
	Name   string         `json:"name"`
	Fields map[string]any `json:"fields,omitempty"`
}

// Datastore is a concurrency-safe record set backing query_records.
type Datastore struct {
	mu      sync.RWMutex
	records []Record
}

// NewDatastore creates a datastore seeded with the given records.
func NewDatastore(records ...Record) *Datastore {
	return &Datastore{records: records}
}

// Add appends a record.
func (d *Datastore) Add(r Record) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.records = append(d.records, r)
}

// Query returns records matching kind (empty matches all) whose name contains
// the query string, case-insensitive.
func (d *Datastore) Query(kind, query string) []Record {
	d.mu.RLock()
	defer d.mu.RUnlock()
	q := strings.ToLower(query)
	var out []Record
	for _, r := range d.records {
		if kind != "" && r.Kind != kind {
			continue
		}
		if q != "" && !strings.Contains(strings.ToLower(r.Name), q) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// NewRecordQuery exposes a Datastore as the query_records capability.
func NewRecordQuery(store *Datastore) Capability {
	return NewFunction(
		"query_records",
		"Query the business record datastore by kind and name",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"kind":  map[string]any{"type": "string", "description": "Record kind filter, e.g. deal or contract"},
				"query": map[string]any{"type": "string", "description": "Substring matched against record names"},
			},
			"required": []string{"query"},
		},
		func(_ context.Context, args map[string]any) (any, error) {
			kind, _ := args["kind"].(string)
			query, _ := args["query"].(string)
			return store.Query(kind, query), nil
		},
	)
}

// SearchFunc performs a web search and returns result snippets.
type SearchFunc func(ctx context.Context, query string, limit int) ([]string, error)

// NewWebSearch exposes a search backend as the search_web capability. The
// backend is injected so deployments can wire any provider; without one the
// capability reports a configuration error instead of fabricating results.
func NewWebSearch(search SearchFunc) Capability {
	return NewFunction(
		"search_web",
		"Search the web for current information",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{"type": "string", "description": "Search query"},
			},
			"required": []string{"query"},
		},
		func(ctx context.Context, args map[string]any) (any, error) {
			if search == nil {
				return nil, NewError("search_web", "no search backend configured", "EXECUTION_ERROR")
			}
			query, _ := args["query"].(string)
			results, err := search(ctx, query, 5)
			if err != nil {
				return nil, fmt.Errorf("web search: %w", err)
			}
			return results, nil
		},
	)
}

// NewMemorySearch exposes the memory store as the search_memory capability,
// scoped to the conversation's user.
func NewMemorySearch(store core.MemoryStore, userID string) Capability {
	return NewFunction(
		"search_memory",
		"Search stored conversation memory for relevant facts",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{"type": "string", "description": "What to look for"},
			},
			"required": []string{"query"},
		},
		func(ctx context.Context, args map[string]any) (any, error) {
			query, _ := args["query"].(string)
			results, err := store.Search(ctx, userID, "", query, 5)
			if err != nil {
				return nil, fmt.Errorf("memory search: %w", err)
			}
			snippets := make([]string, len(results))
			for i, r := range results {
				snippets[i] = r.Content
			}
			return snippets, nil
		},
	)
}
