package memory

import (
	"context"
	"strings"
	"testing"

	chromem "github.com/philippgille/chromem-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// hashEmbedding is a deterministic local embedding for tests: each known
// term lights up one dimension, so related texts share dimensions.
func hashEmbedding() chromem.EmbeddingFunc {
	vocab := []string{"budget", "forecast", "security", "risk", "talent", "contract", "dolphins"}
	return func(_ context.Context, text string) ([]float32, error) {
		vec := make([]float32, len(vocab)+1)
		lower := strings.ToLower(text)
		for i, term := range vocab {
			if strings.Contains(lower, term) {
				vec[i] = 1
			}
		}
		vec[len(vocab)] = 0.1 // avoid the zero vector
		return vec, nil
	}
}

func TestChromemStore_StoreAndSearch(t *testing.T) {
	s, err := NewChromemStore(func(o *ChromemOptions) { o.EmbeddingFunc = hashEmbedding() })
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Store(ctx, "u1", "cfo", "budget forecast for the quarter", nil))
	require.NoError(t, s.Store(ctx, "u1", "ciso", "security risk assessment", nil))

	results, err := s.Search(ctx, "u1", "", "budget forecast", 5)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Contains(t, results[0].Content, "budget")
}

func TestChromemStore_AgentFilter(t *testing.T) {
	s, err := NewChromemStore(func(o *ChromemOptions) { o.EmbeddingFunc = hashEmbedding() })
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Store(ctx, "u1", "cfo", "budget forecast", nil))
	require.NoError(t, s.Store(ctx, "u1", "ciso", "budget for security tooling", nil))

	results, err := s.Search(ctx, "u1", "ciso", "budget", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "ciso", results[0].Metadata["agent_id"])
}

func TestChromemStore_UnknownUserEmpty(t *testing.T) {
	s, err := NewChromemStore(func(o *ChromemOptions) { o.EmbeddingFunc = hashEmbedding() })
	require.NoError(t, err)

	results, err := s.Search(context.Background(), "nobody", "", "budget", 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestChromemStore_EmptyQueryEmpty(t *testing.T) {
	s, err := NewChromemStore(func(o *ChromemOptions) { o.EmbeddingFunc = hashEmbedding() })
	require.NoError(t, err)

	results, err := s.Search(context.Background(), "u1", "", "", 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}
