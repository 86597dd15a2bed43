package retrieval

import (
	"context"
	"math"
	"sort"
	"sync"
)

// ChunkMeta carries the descriptive fields stored alongside a chunk.
type ChunkMeta struct {
	Language   string   `json:"language,omitempty"`
	Difficulty string   `json:"difficulty,omitempty"`
	Keywords   []string `json:"keywords,omitempty"`
	Path       string   `json:"path"`
	ChunkIx    int      `json:"chunk_ix"`
}

// Chunk is one indexed unit of knowledge content.
type Chunk struct {
	ID        string
	Content   string
	Embedding []float32
	Meta      ChunkMeta
}

// Match pairs a chunk with its similarity to the query, in [−1, 1].
type Match struct {
	Chunk Chunk
	Score float64
}

// Index ranks chunks by similarity to a query embedding.
type Index interface {
	Search(ctx context.Context, embedding []float32, topK int) ([]Match, error)
}

// MemoryIndex is an in-process cosine-similarity index. Writes happen at
// ingestion time only; Search is safe for concurrent use.
type MemoryIndex struct {
	mu     sync.RWMutex
	chunks []Chunk
}

// NewMemoryIndex builds an index over the given chunks.
func NewMemoryIndex(chunks ...Chunk) *MemoryIndex {
	idx := &MemoryIndex{}
	idx.Add(chunks...)
	return idx
}

// Add appends chunks to the index.
func (idx *MemoryIndex) Add(chunks ...Chunk) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.chunks = append(idx.chunks, chunks...)
}

// Len returns the number of indexed chunks.
func (idx *MemoryIndex) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.chunks)
}

func (idx *MemoryIndex) Search(_ context.Context, embedding []float32, topK int) ([]Match, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	matches := make([]Match, 0, len(idx.chunks))
	for _, c := range idx.chunks {
		matches = append(matches, Match{Chunk: c, Score: cosine(embedding, c.Embedding)})
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })

	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
