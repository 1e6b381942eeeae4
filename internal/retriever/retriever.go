package retriever

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"documind/internal/models"
)

const (
	ModeSemantic = "semantic"
	ModeHybrid   = "hybrid"

	// Hybrid blend weights. The combination formula is a weighted sum of the
	// cosine score and the keyword-overlap score.
	semanticWeight = 0.7
	keywordWeight  = 0.3

	// hybridCandidateFactor widens the similarity search so keyword signal
	// can promote chunks that vector ranking alone would cut at top_k.
	hybridCandidateFactor = 4
)

// QueryEmbedder embeds query text under the same model contract as ingestion.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Searcher returns candidates at or above minScore, highest first.
type Searcher interface {
	SearchChunks(ctx context.Context, queryVec []float32, topK int, minScore float64) ([]models.ChunkResult, error)
}

type Config struct {
	TopK          int
	MinSimilarity float64
	ContextBudget int // characters
}

type Retriever struct {
	embedder QueryEmbedder
	searcher Searcher
	cfg      Config
}

func New(embedder QueryEmbedder, searcher Searcher, cfg Config) *Retriever {
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if cfg.MinSimilarity <= 0 {
		cfg.MinSimilarity = 0.5
	}
	if cfg.ContextBudget <= 0 {
		cfg.ContextBudget = 12000
	}
	return &Retriever{embedder: embedder, searcher: searcher, cfg: cfg}
}

// Retrieve embeds the query, ranks stored chunks and assembles a
// citation-annotated context. When nothing clears the similarity floor the
// result carries NoRelevantContext=true instead of an empty-but-successful
// context.
func (r *Retriever) Retrieve(ctx context.Context, query string, topK int, mode string) (models.QueryResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return models.QueryResult{}, fmt.Errorf("query must not be empty")
	}
	if mode == "" {
		mode = ModeSemantic
	}
	if mode != ModeSemantic && mode != ModeHybrid {
		return models.QueryResult{}, fmt.Errorf("unknown retrieval mode %q", mode)
	}
	if topK <= 0 {
		topK = r.cfg.TopK
	}

	vec, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return models.QueryResult{}, err
	}

	candidateLimit := topK
	if mode == ModeHybrid {
		candidateLimit = topK * hybridCandidateFactor
	}
	candidates, err := r.searcher.SearchChunks(ctx, vec, candidateLimit, r.cfg.MinSimilarity)
	if err != nil {
		return models.QueryResult{}, fmt.Errorf("similarity search: %w", err)
	}

	ranked := rankCandidates(candidates, query, mode)
	if len(ranked) > topK {
		ranked = ranked[:topK]
	}
	out := models.QueryResult{Query: query, Mode: mode, Results: ranked}
	if len(ranked) == 0 {
		out.NoRelevantContext = true
		return out, nil
	}

	out.Context, out.Citations = assembleContext(ranked, r.cfg.ContextBudget)
	return out, nil
}

type scored struct {
	models.ChunkResult
	combined float64
}

// rankCandidates orders candidates by combined score. Ties break on the
// lower chunk index within its document (earlier content wins), then on
// document id, so repeated runs rank identically.
func rankCandidates(candidates []models.ChunkResult, query, mode string) []models.ChunkResult {
	queryTerms := termSet(query)
	items := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		s := scored{ChunkResult: c, combined: c.Score}
		if mode == ModeHybrid {
			s.combined = semanticWeight*c.Score + keywordWeight*keywordOverlap(queryTerms, c.Text)
		}
		items = append(items, s)
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].combined != items[j].combined {
			return items[i].combined > items[j].combined
		}
		if items[i].ChunkIndex != items[j].ChunkIndex {
			return items[i].ChunkIndex < items[j].ChunkIndex
		}
		return items[i].DocumentID < items[j].DocumentID
	})
	out := make([]models.ChunkResult, 0, len(items))
	for _, s := range items {
		c := s.ChunkResult
		if mode == ModeHybrid {
			c.Score = s.combined
		}
		out = append(out, c)
	}
	return out
}

// keywordOverlap scores the fraction of distinct query terms present in the
// chunk text, in [0,1].
func keywordOverlap(queryTerms map[string]struct{}, text string) float64 {
	if len(queryTerms) == 0 {
		return 0
	}
	chunkTerms := termSet(text)
	matched := 0
	for t := range queryTerms {
		if _, ok := chunkTerms[t]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(queryTerms))
}

func termSet(text string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, `.,;:!?"'()[]{}`)
		if len(w) < 3 {
			continue
		}
		out[w] = struct{}{}
	}
	return out
}

// assembleContext concatenates chunks in descending score order until the
// character budget is reached. Chunks are dropped whole, never truncated
// mid-sentence; since assembly walks highest score first, the lowest-scoring
// chunks are the ones dropped.
func assembleContext(ranked []models.ChunkResult, budget int) (string, []models.Citation) {
	var b strings.Builder
	citations := make([]models.Citation, 0, len(ranked))
	used := 0
	for _, c := range ranked {
		ordinal := len(citations) + 1
		block := fmt.Sprintf("[Source %d: %s, chunk %d]\n%s", ordinal, c.Title, c.ChunkIndex, c.Text)
		cost := len(block)
		if used > 0 {
			cost += 2 // separator
		}
		if used+cost > budget {
			break
		}
		if used > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(block)
		used += cost
		citations = append(citations, models.Citation{
			Ordinal:    ordinal,
			Title:      c.Title,
			DocumentID: c.DocumentID,
			ChunkIndex: c.ChunkIndex,
			Score:      c.Score,
		})
	}
	return b.String(), citations
}
