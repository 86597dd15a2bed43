// Package retrieval provides knowledge lookup over a vector index: embed the
// query, rank chunks by cosine similarity, and assemble a byte-capped context
// with citations.
package retrieval

import (
	"context"
	"hash/fnv"
	"math"
	"sync"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/dshills/aura-go/graph/model"
)

// Embedder turns text into a vector. Implementations are safe for concurrent
// use.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// OpenAIEmbedder calls the OpenAI embeddings endpoint.
type OpenAIEmbedder struct {
	client    openai.Client
	modelName openai.EmbeddingModel
}

// NewOpenAIEmbedder builds an embedder. An empty modelName selects
// text-embedding-3-small.
func NewOpenAIEmbedder(apiKey, modelName string) *OpenAIEmbedder {
	if modelName == "" {
		modelName = string(openai.EmbeddingModelTextEmbedding3Small)
	}
	return &OpenAIEmbedder{
		client:    openai.NewClient(option.WithAPIKey(apiKey)),
		modelName: openai.EmbeddingModel(modelName),
	}
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: []string{text}},
		Model: e.modelName,
	})
	if err != nil {
		return nil, model.ClassifyErr("openai", err)
	}
	if len(resp.Data) == 0 {
		return nil, model.ClassifyErr("openai", errNoEmbedding)
	}

	raw := resp.Data[0].Embedding
	vec := make([]float32, len(raw))
	for i, v := range raw {
		vec[i] = float32(v)
	}
	return vec, nil
}

var errNoEmbedding = &emptyEmbeddingError{}

type emptyEmbeddingError struct{}

func (*emptyEmbeddingError) Error() string { return "embeddings response contained no data" }

// MockEmbedder returns registered vectors, or a deterministic hash-derived
// unit vector for unregistered text. For tests.
type MockEmbedder struct {
	mu      sync.Mutex
	Vectors map[string][]float32
	Dim     int
	Err     error
	queries []string
}

func (m *MockEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries = append(m.queries, text)

	if m.Err != nil {
		return nil, m.Err
	}
	if v, ok := m.Vectors[text]; ok {
		return v, nil
	}

	dim := m.Dim
	if dim == 0 {
		dim = 8
	}
	vec := make([]float32, dim)
	var norm float64
	for i := range vec {
		h := fnv.New32a()
		h.Write([]byte(text))
		h.Write([]byte{byte(i)})
		vec[i] = float32(h.Sum32()%1000) / 1000
		norm += float64(vec[i]) * float64(vec[i])
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec, nil
}

// Queries returns every text passed to Embed, in order.
func (m *MockEmbedder) Queries() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.queries))
	copy(out, m.queries)
	return out
}
