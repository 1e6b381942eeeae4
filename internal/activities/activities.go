package activities

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"documind/internal/chunker"
	"documind/internal/config"
	"documind/internal/embed"
	"documind/internal/extract"
	"documind/internal/pipeline"
	"documind/internal/providers"
	"documind/internal/storage"
	"documind/internal/util"
	"documind/internal/vector"

	"go.temporal.io/sdk/worker"
)

type Activities struct {
	cfg       config.Config
	docRepo   *storage.DocumentRepo
	chunkRepo *storage.ChunkRepo
	writer    *storage.Writer
	searcher  *vector.Searcher
	providers *providers.Manager
	embedder  *embed.Embedder
}

func New(cfg config.Config, db *storage.DB) (*Activities, error) {
	pm, err := providers.NewManager(cfg.EmbedProviders, cfg.LLMProviders, cfg.EmbedDim)
	if err != nil {
		return nil, err
	}
	return &Activities{
		cfg:       cfg,
		docRepo:   storage.NewDocumentRepo(db),
		chunkRepo: storage.NewChunkRepo(db),
		writer:    storage.NewWriter(db),
		searcher:  vector.NewSearcher(db.Pool),
		providers: pm,
		embedder: embed.New(pm.EmbedProvider(), embed.Config{
			BatchSize: cfg.EmbedBatchSize,
			Dimension: cfg.EmbedDim,
		}),
	}, nil
}

func Register(w worker.Worker, a *Activities) {
	w.RegisterActivity(a.ListDocumentsActivity)
	w.RegisterActivity(a.ComputeDocumentIDActivity)
	w.RegisterActivity(a.ExtractTextActivity)
	w.RegisterActivity(a.ChunkTextActivity)
	w.RegisterActivity(a.EmbedChunksActivity)
	w.RegisterActivity(a.WriteChunksActivity)
	w.RegisterActivity(a.UpdateDocumentStatusActivity)
	w.RegisterActivity(a.WriteDocumentArtifactsActivity)
	w.RegisterActivity(a.WriteBatchSummaryActivity)
	w.RegisterActivity(a.ListFailedDocumentsActivity)
}

func (a *Activities) ListDocumentsActivity(ctx context.Context, in ListDocumentsInput) (ListDocumentsOutput, error) {
	_ = ctx
	paths, err := pipeline.DiscoverPaths(in.InputPath)
	if err != nil {
		return ListDocumentsOutput{}, err
	}
	return ListDocumentsOutput{Paths: paths}, nil
}

func (a *Activities) ComputeDocumentIDActivity(ctx context.Context, in ComputeDocumentIDInput) (ComputeDocumentIDOutput, error) {
	_ = ctx
	f, err := os.Open(in.Path)
	if err != nil {
		return ComputeDocumentIDOutput{}, fmt.Errorf("open file for hash: %w", err)
	}
	defer f.Close()
	id, err := util.SHA256HexFromReader(f)
	if err != nil {
		return ComputeDocumentIDOutput{}, fmt.Errorf("hash file: %w", err)
	}
	return ComputeDocumentIDOutput{DocumentID: id}, nil
}

func (a *Activities) ExtractTextActivity(ctx context.Context, in ExtractTextInput) (ExtractTextOutput, error) {
	_ = ctx
	res, err := extract.Extract(in.Path)
	if err != nil {
		return ExtractTextOutput{}, err
	}
	return ExtractTextOutput{Text: res.Text, Metadata: res.Metadata}, nil
}

func (a *Activities) ChunkTextActivity(ctx context.Context, in ChunkTextInput) (ChunkTextOutput, error) {
	_ = ctx
	cfg := chunker.Config{ChunkSize: in.ChunkSize, Overlap: in.ChunkOverlap}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = a.cfg.ChunkSize
	}
	if cfg.Overlap < 0 || cfg.Overlap >= cfg.ChunkSize {
		cfg.Overlap = a.cfg.ChunkOverlap
	}

	drafts := chunker.Chunk(in.Text, cfg)
	chunks := make([]ChunkItem, 0, len(drafts))
	for _, d := range drafts {
		chunkHash := util.SHA256Hex([]byte(d.Text))
		chunks = append(chunks, ChunkItem{
			ChunkID:    util.SHA256Hex([]byte(fmt.Sprintf("%s:%d:%s", in.DocumentID, d.Index, chunkHash))),
			DocumentID: in.DocumentID,
			ChunkIndex: d.Index,
			Text:       d.Text,
			WordCount:  d.WordCount,
			CharCount:  d.CharCount,
			Metadata:   d.Metadata,
		})
	}
	return ChunkTextOutput{Chunks: chunks}, nil
}

// EmbedChunksActivity runs the embedder, whose fixed retry schedule handles
// transient provider errors internally. Workflow-level retry must stay at one
// attempt so giving up here is final for the document.
func (a *Activities) EmbedChunksActivity(ctx context.Context, in EmbedChunksInput) (EmbedChunksOutput, error) {
	records, detail := a.embedder.EmbedTexts(ctx, in.Texts)
	if detail != nil {
		return EmbedChunksOutput{}, fmt.Errorf("embedding failed after %d retries (%s): %s",
			detail.RetryCount, detail.LastErrorType, detail.LastError)
	}
	vectors := make([][]float32, len(in.Texts))
	model := ""
	for _, r := range records {
		if r.ChunkIndex >= 0 && r.ChunkIndex < len(vectors) {
			vectors[r.ChunkIndex] = r.Vector
		}
		model = r.Model
	}
	return EmbedChunksOutput{Vectors: vectors, Model: model}, nil
}

func (a *Activities) WriteChunksActivity(ctx context.Context, in WriteChunksInput) (WriteChunksOutput, error) {
	records := make([]storage.ChunkRecord, 0, len(in.Chunks))
	for i, c := range in.Chunks {
		rec := storage.ChunkRecord{
			ChunkID:    c.ChunkID,
			DocumentID: c.DocumentID,
			ChunkIndex: c.ChunkIndex,
			Text:       c.Text,
			WordCount:  c.WordCount,
			CharCount:  c.CharCount,
			Metadata:   c.Metadata,
		}
		if i < len(in.Vectors) && len(in.Vectors[i]) > 0 {
			lit := vector.ToLiteral(in.Vectors[i])
			rec.Embedding = &lit
			rec.EmbedModel = in.Model
		}
		records = append(records, rec)
	}
	out, err := a.writer.WriteDocument(ctx, in.Document, records)
	if err != nil {
		return WriteChunksOutput{}, err
	}
	return WriteChunksOutput{ChunkCount: out.ChunkCount}, nil
}

func (a *Activities) UpdateDocumentStatusActivity(ctx context.Context, in UpdateDocumentStatusInput) error {
	return a.docRepo.UpdateDocumentStatus(ctx, in.DocumentID, in.Status, in.FailReason)
}

func (a *Activities) WriteDocumentArtifactsActivity(ctx context.Context, in WriteDocumentArtifactsInput) error {
	_ = ctx
	base := filepath.Join(a.cfg.DataOutRoot, in.BatchID, "documents", in.DocumentID)
	if err := util.EnsureDir(base); err != nil {
		return err
	}
	if err := util.WriteJSONAtomic(filepath.Join(base, "metadata.json"), in.Metadata); err != nil {
		return err
	}
	rows := make([]any, 0, len(in.Chunks))
	for _, c := range in.Chunks {
		rows = append(rows, c)
	}
	return util.WriteJSONLinesAtomic(filepath.Join(base, "chunks.jsonl"), rows)
}

func (a *Activities) WriteBatchSummaryActivity(ctx context.Context, in WriteBatchSummaryInput) error {
	_ = ctx
	path := filepath.Join(a.cfg.DataOutRoot, in.BatchID, "batch_summary.json")
	return util.WriteJSONAtomic(path, in.Summary)
}

func (a *Activities) ListFailedDocumentsActivity(ctx context.Context) (ListFailedDocumentsOutput, error) {
	docs, err := a.docRepo.ListFailedDocuments(ctx)
	if err != nil {
		return ListFailedDocumentsOutput{}, err
	}
	out := ListFailedDocumentsOutput{Documents: make([]FailedDocument, 0, len(docs))}
	for _, d := range docs {
		out.Documents = append(out.Documents, FailedDocument{DocumentID: d.DocumentID, SourcePath: d.SourcePath})
	}
	return out, nil
}
