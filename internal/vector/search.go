package vector

import (
	"context"
	"fmt"
	"strings"

	"documind/internal/models"

	"github.com/jackc/pgx/v5"
)

type Searcher struct {
	q Queryer
}

type Queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func NewSearcher(q Queryer) *Searcher {
	return &Searcher{q: q}
}

// SearchChunks runs cosine similarity search over stored chunk vectors.
// Scores are 1 - cosine distance, in [0,1] for normalized embeddings.
// Candidates below minScore are excluded by the query, not merely ranked low.
func (s *Searcher) SearchChunks(ctx context.Context, queryVec []float32, topK int, minScore float64) ([]models.ChunkResult, error) {
	if topK <= 0 {
		topK = 5
	}
	vecLiteral := ToLiteral(queryVec)

	query := `
SELECT c.document_id,
       COALESCE(d.title, d.source_path) AS title,
       c.chunk_id,
       c.chunk_index,
       c.text,
       1 - (c.embedding <=> $1::vector) AS score
FROM chunks c
JOIN documents d ON d.document_id = c.document_id
WHERE c.embedding IS NOT NULL
  AND 1 - (c.embedding <=> $1::vector) >= $2
ORDER BY c.embedding <=> $1::vector
LIMIT $3`

	rows, err := s.q.Query(ctx, query, vecLiteral, minScore, topK)
	if err != nil {
		return nil, fmt.Errorf("query vector search: %w", err)
	}
	defer rows.Close()

	results := make([]models.ChunkResult, 0, topK)
	for rows.Next() {
		var r models.ChunkResult
		if err := rows.Scan(&r.DocumentID, &r.Title, &r.ChunkID, &r.ChunkIndex, &r.Text, &r.Score); err != nil {
			return nil, fmt.Errorf("scan chunk result: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate search rows: %w", err)
	}
	return results, nil
}

// ToLiteral renders a vector as a pgvector text literal.
func ToLiteral(v []float32) string {
	parts := make([]string, 0, len(v))
	for _, x := range v {
		parts = append(parts, fmt.Sprintf("%f", x))
	}
	return "[" + strings.Join(parts, ",") + "]"
}
