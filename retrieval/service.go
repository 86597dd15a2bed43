package retrieval

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

// Config tunes retrieval.
type Config struct {
	TopK            int `mapstructure:"top_k"`
	MaxContextBytes int `mapstructure:"max_context_bytes"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{TopK: 3, MaxContextBytes: 4096}
}

// Citation identifies where a piece of context came from.
type Citation struct {
	ID       string  `json:"id"`
	Path     string  `json:"path"`
	ChunkIx  int     `json:"chunk_ix"`
	Language string  `json:"language,omitempty"`
	Score    float64 `json:"score"`
}

// QueryResult is the assembled retrieval output.
type QueryResult struct {
	Context   string
	Citations []Citation
}

const chunkSeparator = "\n\n---\n\n"

// Service embeds queries and assembles ranked context from the index.
type Service struct {
	embedder Embedder
	index    Index
	cfg      Config
	log      *zap.Logger
}

// NewService builds a retrieval service. A nil logger disables logging.
func NewService(embedder Embedder, index Index, cfg Config, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.TopK < 1 {
		cfg.TopK = 3
	}
	if cfg.MaxContextBytes < 1 {
		cfg.MaxContextBytes = 4096
	}
	return &Service{embedder: embedder, index: index, cfg: cfg, log: log}
}

// Query retrieves context for q. Error patterns, when present, are appended
// to the query text since error tokens often carry the strongest signal.
// Retrieval is best-effort: embedding or index failures log a warning and
// yield an empty result rather than failing the caller's workflow.
func (s *Service) Query(ctx context.Context, q string, errorPatterns []string, topK int) QueryResult {
	if topK < 1 {
		topK = s.cfg.TopK
	}

	text := q
	if len(errorPatterns) > 0 {
		text = q + "\n\nObserved errors:\n" + strings.Join(errorPatterns, "\n")
	}

	emb, err := s.embedder.Embed(ctx, text)
	if err != nil {
		s.log.Warn("query embedding failed, returning empty context", zap.Error(err))
		return QueryResult{}
	}

	matches, err := s.index.Search(ctx, emb, topK)
	if err != nil {
		s.log.Warn("vector search failed, returning empty context", zap.Error(err))
		return QueryResult{}
	}

	var (
		b    strings.Builder
		out  QueryResult
		used int
	)
	for _, m := range matches {
		add := len(m.Chunk.Content)
		if used > 0 {
			add += len(chunkSeparator)
		}
		if used+add > s.cfg.MaxContextBytes {
			break
		}
		if used > 0 {
			b.WriteString(chunkSeparator)
		}
		b.WriteString(m.Chunk.Content)
		used += add

		out.Citations = append(out.Citations, Citation{
			ID:       m.Chunk.ID,
			Path:     m.Chunk.Meta.Path,
			ChunkIx:  m.Chunk.Meta.ChunkIx,
			Language: m.Chunk.Meta.Language,
			Score:    m.Score,
		})
	}
	out.Context = b.String()
	return out
}
