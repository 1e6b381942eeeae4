package activities

import "documind/internal/models"

type ListDocumentsInput struct {
	InputPath string `json:"input_path"`
}

type ListDocumentsOutput struct {
	Paths []string `json:"paths"`
}

type ComputeDocumentIDInput struct {
	Path string `json:"path"`
}

type ComputeDocumentIDOutput struct {
	DocumentID string `json:"document_id"`
}

type ExtractTextInput struct {
	Path string `json:"path"`
}

type ExtractTextOutput struct {
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata"`
}

type ChunkTextInput struct {
	DocumentID   string `json:"document_id"`
	Text         string `json:"text"`
	ChunkSize    int    `json:"chunk_size"`
	ChunkOverlap int    `json:"chunk_overlap"`
}

type ChunkItem struct {
	ChunkID    string            `json:"chunk_id"`
	DocumentID string            `json:"document_id"`
	ChunkIndex int               `json:"chunk_index"`
	Text       string            `json:"text"`
	WordCount  int               `json:"word_count"`
	CharCount  int               `json:"char_count"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

type ChunkTextOutput struct {
	Chunks []ChunkItem `json:"chunks"`
}

type EmbedChunksInput struct {
	DocumentID string   `json:"document_id"`
	Texts      []string `json:"texts"`
}

type EmbedChunksOutput struct {
	Vectors [][]float32 `json:"vectors"`
	Model   string      `json:"model"`
}

type WriteChunksInput struct {
	Document models.Document `json:"document"`
	Chunks   []ChunkItem     `json:"chunks"`
	Vectors  [][]float32     `json:"vectors"`
	Model    string          `json:"model"`
}

type WriteChunksOutput struct {
	ChunkCount int `json:"chunk_count"`
}

type UpdateDocumentStatusInput struct {
	DocumentID string `json:"document_id"`
	Status     string `json:"status"`
	FailReason string `json:"fail_reason,omitempty"`
}

type WriteDocumentArtifactsInput struct {
	BatchID    string         `json:"batch_id"`
	DocumentID string         `json:"document_id"`
	Metadata   map[string]any `json:"metadata"`
	Chunks     []ChunkItem    `json:"chunks"`
}

type WriteBatchSummaryInput struct {
	BatchID string         `json:"batch_id"`
	Summary map[string]any `json:"summary"`
}

type ListFailedDocumentsOutput struct {
	Documents []FailedDocument `json:"documents"`
}

type FailedDocument struct {
	DocumentID string `json:"document_id"`
	SourcePath string `json:"source_path"`
}
