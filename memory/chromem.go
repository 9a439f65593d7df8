package memory

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"sync"

	chromem "github.com/philippgille/chromem-go"
	"github.com/parley-ai/parley/core"
	"github.com/parley-ai/parley/logging"
)

// ChromemOptions configures the embedded vector store.
type ChromemOptions struct {
	// Path enables persistence; empty keeps everything in memory.
	Path     string
	Compress bool
	// EmbeddingFunc overrides the default (OpenAI via environment). Tests
	// inject a deterministic local function here.
	EmbeddingFunc chromem.EmbeddingFunc
	Logger        logging.Logger
}

// ChromemStore implements core.MemoryStore on chromem-go, an embeddable
// vector database with no external service dependency. One collection per
// user keeps tenant memory disjoint; agent scoping uses metadata filters.
type ChromemStore struct {
	db        *chromem.DB
	embedding chromem.EmbeddingFunc
	logger    logging.Logger
	mu        sync.Mutex // serializes collection creation
}

// NewChromemStore creates the store, persistent when a path is configured.
func NewChromemStore(optFns ...func(o *ChromemOptions)) (*ChromemStore, error) {
	opts := ChromemOptions{Logger: logging.NopLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}

	var db *chromem.DB
	var err error
	if opts.Path != "" {
		db, err = chromem.NewPersistentDB(opts.Path, opts.Compress)
		if err != nil {
			return nil, fmt.Errorf("create chromem db: %w", err)
		}
	} else {
		db = chromem.NewDB()
	}

	embedding := opts.EmbeddingFunc
	if embedding == nil {
		embedding = chromem.NewEmbeddingFuncDefault()
	}

	return &ChromemStore{db: db, embedding: embedding, logger: opts.Logger}, nil
}

// collectionSafe strips characters chromem rejects in collection names.
var collectionSafe = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

func collectionName(userID string) string {
	return "mem-" + collectionSafe.ReplaceAllString(userID, "_")
}

// Store embeds and persists a memory entry scoped to userID/agentID.
func (s *ChromemStore) Store(ctx context.Context, userID, agentID, content string, metadata map[string]any) error {
	collection, err := s.collection(userID)
	if err != nil {
		return err
	}

	md := map[string]string{"agent_id": agentID}
	for k, v := range metadata {
		md[k] = fmt.Sprintf("%v", v)
	}

	doc := chromem.Document{ID: core.NewID(), Content: content, Metadata: md}
	if err := collection.AddDocuments(ctx, []chromem.Document{doc}, 1); err != nil {
		return fmt.Errorf("add memory document: %w", err)
	}
	s.logger.Debug("memory.stored", "user_id", userID, "agent_id", agentID, "doc_id", doc.ID)
	return nil
}

// Search returns up to limit entries ranked by cosine similarity. Unknown
// users and empty collections return an empty slice, never an error.
func (s *ChromemStore) Search(ctx context.Context, userID, agentID, query string, limit int) ([]core.SearchResult, error) {
	if query == "" || limit <= 0 {
		return []core.SearchResult{}, nil
	}

	collection := s.db.GetCollection(collectionName(userID), s.embedding)
	if collection == nil {
		return []core.SearchResult{}, nil
	}

	count := collection.Count()
	if count == 0 {
		return []core.SearchResult{}, nil
	}
	k := limit
	if k > count {
		k = count
	}

	var where map[string]string
	if agentID != "" {
		where = map[string]string{"agent_id": agentID}
	}

	docs, err := collection.Query(ctx, query, k, where, nil)
	if err != nil {
		return nil, fmt.Errorf("query memory collection: %w", err)
	}

	results := make([]core.SearchResult, 0, len(docs))
	for _, d := range docs {
		md := make(map[string]any, len(d.Metadata))
		for key, val := range d.Metadata {
			md[key] = val
		}
		results = append(results, core.SearchResult{
			ID:       d.ID,
			Content:  d.Content,
			Score:    float64(d.Similarity),
			Metadata: md,
		})
	}
	return results, nil
}

func (s *ChromemStore) collection(userID string) (*chromem.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	collection, err := s.db.GetOrCreateCollection(collectionName(userID), nil, s.embedding)
	if err != nil {
		return nil, fmt.Errorf("get or create collection for user %s: %w", strconv.Quote(userID), err)
	}
	return collection, nil
}
