// Package retrieval turns stored memory into per-turn model context. Before
// an agent speaks, the orchestrator asks the retriever for memory relevant to
// the latest user message and prepends it to the prompt as a system message.
package retrieval

import (
	"context"
	"fmt"
	"strings"

	"github.com/parley-ai/parley/core"
	"github.com/parley-ai/parley/logging"
)

// Options configures the retriever.
type Options struct {
	// Limit caps how many memory entries feed a single turn.
	Limit  int
	Logger logging.Logger
}

// Retriever builds turn context from a core.MemoryStore.
type Retriever struct {
	store  core.MemoryStore
	limit  int
	logger logging.Logger
}

// New creates a retriever over the given store.
func New(store core.MemoryStore, optFns ...func(o *Options)) *Retriever {
	opts := Options{Limit: 5, Logger: logging.NopLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Retriever{store: store, limit: opts.Limit, logger: opts.Logger}
}

// BuildContext searches the user's memory for entries relevant to query and
// renders them as a single system message. It returns nil when nothing
// relevant is stored: callers must not inject an empty context block, the
// absence of a message is the signal.
func (r *Retriever) BuildContext(ctx context.Context, userID, agentID, query string) (*core.Content, error) {
	if r.store == nil {
		return nil, nil
	}

	results, err := r.store.Search(ctx, userID, agentID, query, r.limit)
	if err != nil {
		return nil, fmt.Errorf("search memory: %w", err)
	}
	if len(results) == 0 {
		return nil, nil
	}

	var sb strings.Builder
	sb.WriteString("Relevant context:")
	for _, res := range results {
		sb.WriteString("\n- ")
		sb.WriteString(res.Content)
	}

	r.logger.Debug("retrieval.context_built", "user_id", userID, "agent_id", agentID, "entries", len(results))
	content := core.NewTextContent(core.RoleSystem, sb.String())
	return &content, nil
}

// Remember stores the outcome of a turn so later turns can retrieve it.
func (r *Retriever) Remember(ctx context.Context, userID, agentID, text string, metadata map[string]any) error {
	if r.store == nil || strings.TrimSpace(text) == "" {
		return nil
	}
	if err := r.store.Store(ctx, userID, agentID, text, metadata); err != nil {
		return fmt.Errorf("store memory: %w", err)
	}
	return nil
}
