package models

import "time"

type Document struct {
	DocumentID string            `json:"document_id"`
	Title      string            `json:"title"`
	FileType   string            `json:"file_type"`
	SourcePath string            `json:"source_path"`
	Content    string            `json:"content,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Status     string            `json:"status"`
	FailReason string            `json:"fail_reason,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

type Chunk struct {
	ChunkID    string            `json:"chunk_id"`
	DocumentID string            `json:"document_id"`
	ChunkIndex int               `json:"chunk_index"`
	Text       string            `json:"text"`
	WordCount  int               `json:"word_count"`
	CharCount  int               `json:"char_count"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	EmbedModel string            `json:"embed_model,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// ChunkResult is one similarity-search hit: a chunk joined with its parent
// document title and the cosine similarity score in [0,1].
type ChunkResult struct {
	DocumentID string  `json:"document_id"`
	Title      string  `json:"title"`
	ChunkID    string  `json:"chunk_id"`
	ChunkIndex int     `json:"chunk_index"`
	Text       string  `json:"text"`
	Score      float64 `json:"score"`
}

type Citation struct {
	Ordinal    int     `json:"ordinal"`
	Title      string  `json:"title"`
	DocumentID string  `json:"document_id"`
	ChunkIndex int     `json:"chunk_index"`
	Score      float64 `json:"score"`
}

// QueryResult is the assembled, citation-annotated retrieval payload for one
// query. NoRelevantContext marks the case where nothing cleared the
// similarity floor, which downstream generation must treat as out of scope
// rather than answering from an empty context.
type QueryResult struct {
	Query             string        `json:"query"`
	Mode              string        `json:"mode"`
	Results           []ChunkResult `json:"results"`
	Context           string        `json:"context"`
	Citations         []Citation    `json:"citations"`
	NoRelevantContext bool          `json:"no_relevant_context"`
}
