package retrieval

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unitVec(vals ...float32) []float32 { return vals }

func testChunks() []Chunk {
	return []Chunk{
		{
			ID:        "async-await",
			Content:   "Use await inside async functions; forgetting async yields a SyntaxError.",
			Embedding: unitVec(1, 0, 0),
			Meta:      ChunkMeta{Path: "js/async.md", ChunkIx: 0, Language: "javascript"},
		},
		{
			ID:        "null-checks",
			Content:   "Optional chaining avoids 'cannot read property of undefined'.",
			Embedding: unitVec(0.9, 0.1, 0),
			Meta:      ChunkMeta{Path: "js/null.md", ChunkIx: 2},
		},
		{
			ID:        "go-slices",
			Content:   "Slices share backing arrays; append may or may not allocate.",
			Embedding: unitVec(0, 0, 1),
			Meta:      ChunkMeta{Path: "go/slices.md", ChunkIx: 1, Language: "go"},
		},
	}
}

func TestMemoryIndexRanksByCosine(t *testing.T) {
	idx := NewMemoryIndex(testChunks()...)

	matches, err := idx.Search(context.Background(), unitVec(1, 0, 0), 2)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "async-await", matches[0].Chunk.ID)
	assert.Equal(t, "null-checks", matches[1].Chunk.ID)
	assert.Greater(t, matches[0].Score, matches[1].Score)
}

func TestServiceQueryAppendsErrorPatterns(t *testing.T) {
	emb := &MockEmbedder{Vectors: map[string][]float32{}, Dim: 3}
	svc := NewService(emb, NewMemoryIndex(testChunks()...), DefaultConfig(), nil)

	svc.Query(context.Background(), "why does my promise hang", []string{
		"TypeError: cannot read property 'then' of undefined",
		"UnhandledPromiseRejection",
	}, 0)

	queries := emb.Queries()
	require.Len(t, queries, 1)
	assert.True(t, strings.HasPrefix(queries[0], "why does my promise hang"))
	assert.Contains(t, queries[0], "TypeError: cannot read property")
	assert.Contains(t, queries[0], "UnhandledPromiseRejection")
}

func TestServiceQueryBuildsContextWithCitations(t *testing.T) {
	chunks := testChunks()
	emb := &MockEmbedder{Vectors: map[string][]float32{"q": unitVec(1, 0, 0)}}
	svc := NewService(emb, NewMemoryIndex(chunks...), DefaultConfig(), nil)

	res := svc.Query(context.Background(), "q", nil, 2)
	require.Len(t, res.Citations, 2)
	assert.Equal(t, "async-await", res.Citations[0].ID)
	assert.Equal(t, "js/async.md", res.Citations[0].Path)
	assert.Contains(t, res.Context, chunks[0].Content)
	assert.Contains(t, res.Context, chunks[1].Content)
	assert.Contains(t, res.Context, chunkSeparator)
}

func TestServiceQueryRespectsByteCap(t *testing.T) {
	chunks := testChunks()
	cfg := DefaultConfig()
	cfg.MaxContextBytes = len(chunks[0].Content) + 10 // room for one chunk only

	emb := &MockEmbedder{Vectors: map[string][]float32{"q": unitVec(1, 0, 0)}}
	svc := NewService(emb, NewMemoryIndex(chunks...), cfg, nil)

	res := svc.Query(context.Background(), "q", nil, 3)
	assert.Equal(t, chunks[0].Content, res.Context)
	assert.Len(t, res.Citations, 1, "chunks past the byte cap carry no citation")
}

func TestServiceQuerySwallowsEmbedderFailure(t *testing.T) {
	emb := &MockEmbedder{Err: errors.New("embeddings endpoint down")}
	svc := NewService(emb, NewMemoryIndex(testChunks()...), DefaultConfig(), nil)

	res := svc.Query(context.Background(), "q", nil, 3)
	assert.Empty(t, res.Context)
	assert.Empty(t, res.Citations)
}

type failingIndex struct{}

func (failingIndex) Search(context.Context, []float32, int) ([]Match, error) {
	return nil, errors.New("index unavailable")
}

func TestServiceQuerySwallowsIndexFailure(t *testing.T) {
	svc := NewService(&MockEmbedder{}, failingIndex{}, DefaultConfig(), nil)

	res := svc.Query(context.Background(), "q", nil, 3)
	assert.Empty(t, res.Context)
	assert.Empty(t, res.Citations)
}

func TestVectorLiteralFormat(t *testing.T) {
	assert.Equal(t, "[1,0.5,-0.25]", vectorLiteral([]float32{1, 0.5, -0.25}))
	assert.Equal(t, "[]", vectorLiteral(nil))
}
