package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"documind/internal/models"
)

type DocumentRepo struct {
	db *DB
}

func NewDocumentRepo(db *DB) *DocumentRepo {
	return &DocumentRepo{db: db}
}

func (r *DocumentRepo) UpdateDocumentStatus(ctx context.Context, documentID, status, failReason string) error {
	_, err := r.db.Pool.Exec(ctx, `
UPDATE documents SET status=$2, fail_reason=NULLIF($3,''), updated_at=NOW() WHERE document_id=$1`,
		documentID, status, failReason)
	if err != nil {
		return fmt.Errorf("update document status: %w", err)
	}
	return nil
}

func (r *DocumentRepo) GetDocument(ctx context.Context, documentID string) (models.Document, error) {
	var d models.Document
	var metadata []byte
	err := r.db.Pool.QueryRow(ctx, `
SELECT document_id, COALESCE(title,''), file_type, source_path, COALESCE(content,''),
       COALESCE(metadata,'{}'::jsonb), status, COALESCE(fail_reason,''), created_at, updated_at
FROM documents WHERE document_id=$1`, documentID).
		Scan(&d.DocumentID, &d.Title, &d.FileType, &d.SourcePath, &d.Content, &metadata, &d.Status, &d.FailReason, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return models.Document{}, fmt.Errorf("get document: %w", err)
	}
	if err := json.Unmarshal(metadata, &d.Metadata); err != nil {
		return models.Document{}, fmt.Errorf("decode document metadata: %w", err)
	}
	return d, nil
}

func (r *DocumentRepo) ListDocuments(ctx context.Context) ([]models.Document, error) {
	return r.list(ctx, `
SELECT document_id, COALESCE(title,''), file_type, source_path, status, COALESCE(fail_reason,''), created_at, updated_at
FROM documents ORDER BY created_at DESC`)
}

func (r *DocumentRepo) ListFailedDocuments(ctx context.Context) ([]models.Document, error) {
	return r.list(ctx, `
SELECT document_id, COALESCE(title,''), file_type, source_path, status, COALESCE(fail_reason,''), created_at, updated_at
FROM documents WHERE status='failed' ORDER BY updated_at DESC`)
}

func (r *DocumentRepo) list(ctx context.Context, query string) ([]models.Document, error) {
	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	out := make([]models.Document, 0)
	for rows.Next() {
		var d models.Document
		if err := rows.Scan(&d.DocumentID, &d.Title, &d.FileType, &d.SourcePath, &d.Status, &d.FailReason, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return out, nil
}
