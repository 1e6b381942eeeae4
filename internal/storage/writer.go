package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"documind/internal/models"
	"documind/internal/util"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// chunkInsertGroup bounds how many chunk inserts share one pgx.Batch round
// trip. Grouping is a wire optimization only; the transaction boundary stays
// per document.
const chunkInsertGroup = 50

type ChunkRecord struct {
	ChunkID    string
	DocumentID string
	ChunkIndex int
	Text       string
	WordCount  int
	CharCount  int
	Metadata   map[string]string
	EmbedModel string
	Embedding  *string // pgvector literal, nil when unembedded
}

type WriteResult struct {
	DocumentID string
	ChunkCount int
}

// Writer persists a document and its chunks atomically.
type Writer struct {
	db *DB
}

func NewWriter(db *DB) *Writer {
	return &Writer{db: db}
}

// WriteDocument upserts the document row and replaces its chunks (cascading
// delete then insert) in a single transaction. Either the document and every
// chunk land, or none do.
func (w *Writer) WriteDocument(ctx context.Context, doc models.Document, chunks []ChunkRecord) (WriteResult, error) {
	tx, err := w.db.Pool.Begin(ctx)
	if err != nil {
		return WriteResult{}, fmt.Errorf("begin write tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	metadata, err := json.Marshal(doc.Metadata)
	if err != nil {
		return WriteResult{}, fmt.Errorf("encode document metadata: %w", err)
	}
	_, err = tx.Exec(ctx, `
INSERT INTO documents (document_id, title, file_type, source_path, content, metadata, status)
VALUES ($1, NULLIF($2,''), $3, $4, $5, $6, $7)
ON CONFLICT (document_id)
DO UPDATE SET
  title = COALESCE(EXCLUDED.title, documents.title),
  file_type = EXCLUDED.file_type,
  source_path = EXCLUDED.source_path,
  content = EXCLUDED.content,
  metadata = EXCLUDED.metadata,
  status = EXCLUDED.status,
  fail_reason = NULL,
  updated_at = NOW()`,
		doc.DocumentID, doc.Title, doc.FileType, doc.SourcePath, util.SanitizeText(doc.Content), metadata, doc.Status)
	if err != nil {
		return WriteResult{}, classifyWriteError(fmt.Errorf("upsert document %s: %w", doc.DocumentID, err))
	}

	// Re-ingesting the same id replaces its chunks rather than appending.
	if _, err := tx.Exec(ctx, `DELETE FROM chunks WHERE document_id=$1`, doc.DocumentID); err != nil {
		return WriteResult{}, fmt.Errorf("delete stale chunks for %s: %w", doc.DocumentID, err)
	}

	for start := 0; start < len(chunks); start += chunkInsertGroup {
		end := start + chunkInsertGroup
		if end > len(chunks) {
			end = len(chunks)
		}
		if err := w.insertChunkGroup(ctx, tx, chunks[start:end]); err != nil {
			return WriteResult{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return WriteResult{}, classifyWriteError(fmt.Errorf("commit write tx: %w", err))
	}
	return WriteResult{DocumentID: doc.DocumentID, ChunkCount: len(chunks)}, nil
}

func (w *Writer) insertChunkGroup(ctx context.Context, tx pgx.Tx, group []ChunkRecord) error {
	batch := &pgx.Batch{}
	for _, c := range group {
		metadata, err := json.Marshal(c.Metadata)
		if err != nil {
			return fmt.Errorf("encode chunk %s metadata: %w", c.ChunkID, err)
		}
		batch.Queue(`
INSERT INTO chunks (chunk_id, document_id, chunk_index, text, word_count, char_count, metadata, embed_model, embedding)
VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8,''), CASE WHEN $9::text IS NULL THEN NULL ELSE $9::vector END)`,
			c.ChunkID, c.DocumentID, c.ChunkIndex, util.SanitizeText(c.Text), c.WordCount, c.CharCount, metadata, c.EmbedModel, c.Embedding)
	}
	results := tx.SendBatch(ctx, batch)
	for _, c := range group {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return classifyWriteError(fmt.Errorf("insert chunk %s: %w", c.ChunkID, err))
		}
	}
	return results.Close()
}

// DeleteDocument removes a document and, via the cascade, its chunks.
func (w *Writer) DeleteDocument(ctx context.Context, documentID string) error {
	_, err := w.db.Pool.Exec(ctx, `DELETE FROM documents WHERE document_id=$1`, documentID)
	if err != nil {
		return fmt.Errorf("delete document %s: %w", documentID, err)
	}
	return nil
}

// classifyWriteError maps Postgres failures onto the writer's error
// contract: foreign-key violations become ErrIntegrity, vector dimension
// rejections become ErrConstraint.
func classifyWriteError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23503":
			return fmt.Errorf("%w: %s", util.ErrIntegrity, err)
		case "22000", "22P02":
			if strings.Contains(strings.ToLower(pgErr.Message), "dimension") || strings.Contains(strings.ToLower(pgErr.Message), "vector") {
				return fmt.Errorf("%w: %s", util.ErrConstraint, err)
			}
		}
	}
	if strings.Contains(strings.ToLower(err.Error()), "different vector dimensions") {
		return fmt.Errorf("%w: %s", util.ErrConstraint, err)
	}
	return err
}
