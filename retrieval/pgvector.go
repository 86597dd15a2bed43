package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PGVectorIndex queries a pgvector-backed knowledge table. The table needs
// the pgvector extension and the shape:
//
//	CREATE TABLE knowledge_chunks (
//	    id        TEXT PRIMARY KEY,
//	    content   TEXT NOT NULL,
//	    embedding VECTOR NOT NULL,
//	    metadata  JSONB NOT NULL DEFAULT '{}'
//	);
type PGVectorIndex struct {
	pool  *pgxpool.Pool
	table string
}

// NewPGVectorIndex wraps an existing pool. An empty table name defaults to
// knowledge_chunks.
func NewPGVectorIndex(pool *pgxpool.Pool, table string) *PGVectorIndex {
	if table == "" {
		table = "knowledge_chunks"
	}
	return &PGVectorIndex{pool: pool, table: table}
}

// Add upserts chunks; used by the ingestion path and by tests.
func (idx *PGVectorIndex) Add(ctx context.Context, chunks ...Chunk) error {
	q := fmt.Sprintf(`
		INSERT INTO %s (id, content, embedding, metadata)
		VALUES ($1, $2, $3::vector, $4)
		ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content,
			embedding = EXCLUDED.embedding,
			metadata = EXCLUDED.metadata`, idx.table)

	for _, c := range chunks {
		meta, err := json.Marshal(c.Meta)
		if err != nil {
			return fmt.Errorf("marshal chunk metadata: %w", err)
		}
		if _, err := idx.pool.Exec(ctx, q, c.ID, c.Content, vectorLiteral(c.Embedding), meta); err != nil {
			return fmt.Errorf("insert chunk %s: %w", c.ID, err)
		}
	}
	return nil
}

func (idx *PGVectorIndex) Search(ctx context.Context, embedding []float32, topK int) ([]Match, error) {
	if topK < 1 {
		topK = 1
	}
	// <=> is pgvector cosine distance; similarity = 1 − distance.
	q := fmt.Sprintf(`
		SELECT id, content, metadata, 1 - (embedding <=> $1::vector) AS score
		FROM %s
		ORDER BY embedding <=> $1::vector
		LIMIT $2`, idx.table)

	rows, err := idx.pool.Query(ctx, q, vectorLiteral(embedding), topK)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var (
			m    Match
			meta []byte
		)
		if err := rows.Scan(&m.Chunk.ID, &m.Chunk.Content, &meta, &m.Score); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		if err := json.Unmarshal(meta, &m.Chunk.Meta); err != nil {
			return nil, fmt.Errorf("decode chunk metadata: %w", err)
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

func vectorLiteral(v []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, x := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(x), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}
