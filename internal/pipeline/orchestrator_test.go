package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"documind/internal/chunker"
	"documind/internal/embed"
	"documind/internal/extract"
	"documind/internal/models"
	"documind/internal/storage"
	"documind/internal/util"

	"github.com/stretchr/testify/require"
)

type stubEmbedder struct {
	detail *embed.RetryErrorDetail
}

func (s *stubEmbedder) EmbedTexts(ctx context.Context, texts []string) ([]embed.Record, *embed.RetryErrorDetail) {
	if s.detail != nil {
		return nil, s.detail
	}
	records := make([]embed.Record, 0, len(texts))
	for i := range texts {
		records = append(records, embed.Record{ChunkIndex: i, Vector: []float32{1, 0}, Model: "mock-embed"})
	}
	return records, nil
}

type capturingWriter struct {
	mu     sync.Mutex
	err    error
	docs   []models.Document
	chunks map[string][]storage.ChunkRecord
}

func (w *capturingWriter) WriteDocument(ctx context.Context, doc models.Document, chunks []storage.ChunkRecord) (storage.WriteResult, error) {
	if w.err != nil {
		return storage.WriteResult{}, w.err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.chunks == nil {
		w.chunks = map[string][]storage.ChunkRecord{}
	}
	w.docs = append(w.docs, doc)
	w.chunks[doc.DocumentID] = chunks
	return storage.WriteResult{DocumentID: doc.DocumentID, ChunkCount: len(chunks)}, nil
}

// writeTempFiles materializes named files so document ids can be computed
// from real content.
func writeTempFiles(t *testing.T, names ...string) []string {
	t.Helper()
	dir := t.TempDir()
	paths := make([]string, 0, len(names))
	for i, name := range names {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(fmt.Sprintf("file %d body", i)), 0o644))
		paths = append(paths, p)
	}
	return paths
}

func passthroughExtract(text string) ExtractFunc {
	return func(path string) (extract.Result, error) {
		if !extract.Supported(path) {
			return extract.Result{}, fmt.Errorf("extract %s: %w", path, util.ErrUnsupportedFormat)
		}
		base := filepath.Base(path)
		return extract.Result{Text: text, Metadata: map[string]string{
			"title":     strings.TrimSuffix(base, filepath.Ext(base)),
			"file_type": "txt",
		}}, nil
	}
}

func TestRunBatchOneUnsupportedAmongFive(t *testing.T) {
	paths := writeTempFiles(t, "a.txt", "b.txt", "c.xlsx", "d.txt", "e.txt")
	writer := &capturingWriter{}
	o := NewOrchestrator(passthroughExtract("Some indexable sentence here."), &stubEmbedder{}, writer, Config{Parallelism: 4})

	report := o.Run(context.Background(), paths)

	require.Equal(t, 5, report.Summary.Total)
	require.Equal(t, 4, report.Summary.Successful)
	require.Equal(t, 1, report.Summary.Failed)
	require.Equal(t, 1, report.ErrorsByStage[string(StageExtract)])

	var failed *ProcessingResult
	for i := range report.Results {
		if report.Results[i].Status == StatusFailed {
			failed = &report.Results[i]
		}
	}
	require.NotNil(t, failed)
	require.True(t, strings.HasSuffix(failed.Path, "c.xlsx"))
	require.Equal(t, StageExtract, failed.Error.Stage)
	require.Equal(t, CategoryUnsupportedFormat, failed.Error.Category)

	// The four supported documents were written with embedded chunks.
	require.Len(t, writer.docs, 4)
	for _, chunks := range writer.chunks {
		require.NotEmpty(t, chunks)
		for i, c := range chunks {
			require.Equal(t, i, c.ChunkIndex)
			require.NotNil(t, c.Embedding)
			require.Equal(t, "mock-embed", c.EmbedModel)
		}
	}
}

func TestRunEmbedFailureCarriesRetryDetail(t *testing.T) {
	paths := writeTempFiles(t, "a.txt")
	detail := &embed.RetryErrorDetail{
		RetryCount:    3,
		LastErrorType: "rate_limit",
		LastError:     "rate limit exceeded",
		RetryDelays:   []float64{1, 2, 4},
	}
	o := NewOrchestrator(passthroughExtract("Body text."), &stubEmbedder{detail: detail}, &capturingWriter{}, Config{Parallelism: 1})

	report := o.Run(context.Background(), paths)

	require.Equal(t, 1, report.Summary.Failed)
	res := report.Results[0]
	require.Equal(t, StatusFailed, res.Status)
	require.Equal(t, StageEmbed, res.Error.Stage)
	require.Equal(t, "rate_limit", res.Error.Category)
	require.NotNil(t, res.Error.Retry)
	require.Equal(t, 3, res.Error.Retry.RetryCount)
	require.Equal(t, []float64{1, 2, 4}, res.Error.Retry.RetryDelays)
}

func TestRunWriteErrorClassification(t *testing.T) {
	paths := writeTempFiles(t, "a.txt")
	writer := &capturingWriter{err: fmt.Errorf("insert chunk: %w", util.ErrIntegrity)}
	o := NewOrchestrator(passthroughExtract("Body text."), &stubEmbedder{}, writer, Config{Parallelism: 1})

	report := o.Run(context.Background(), paths)

	res := report.Results[0]
	require.Equal(t, StatusFailed, res.Status)
	require.Equal(t, StageWrite, res.Error.Stage)
	require.Equal(t, CategoryIntegrity, res.Error.Category)
	require.Equal(t, 1, report.ErrorsByStage[string(StageWrite)])
}

func TestRunStopOnErrorHaltsDispatch(t *testing.T) {
	paths := writeTempFiles(t, "a.xlsx", "b.txt", "c.txt", "d.txt")
	o := NewOrchestrator(passthroughExtract("Body text."), &stubEmbedder{}, &capturingWriter{}, Config{Parallelism: 1, StopOnError: true})

	report := o.Run(context.Background(), paths)

	require.Equal(t, 1, report.Summary.Failed)
	require.Less(t, report.Summary.Total, len(paths))
}

func TestRunEmptyDocumentCompletesWithZeroChunks(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.txt")
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	writer := &capturingWriter{}
	o := NewOrchestrator(passthroughExtract(""), &stubEmbedder{}, writer, Config{Parallelism: 1})

	report := o.Run(context.Background(), []string{path})

	require.Equal(t, 1, report.Summary.Successful)
	res := report.Results[0]
	require.Equal(t, StatusComplete, res.Status)
	require.Equal(t, 0, res.ChunkCount)
	require.Len(t, writer.docs, 1)
	require.Empty(t, writer.chunks[writer.docs[0].DocumentID])
}

func TestRunReportPerformance(t *testing.T) {
	paths := writeTempFiles(t, "a.txt", "b.txt")
	o := NewOrchestrator(passthroughExtract("Some body sentence."), &stubEmbedder{}, &capturingWriter{}, Config{Parallelism: 2})

	report := o.Run(context.Background(), paths)

	require.NotEmpty(t, report.BatchID)
	require.WithinDuration(t, time.Now().UTC(), report.StartedAt, time.Minute)
	require.Len(t, report.Performance.AvgStageMS, 4)
	require.Contains(t, []string{"extract", "chunk", "embed", "write"}, report.Performance.Bottleneck)
	for _, res := range report.Results {
		require.Len(t, res.StageMS, 4)
	}
}

func TestRunSameContentSameDocumentID(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("stable content"), 0o644))
	o := NewOrchestrator(passthroughExtract("Stable body."), &stubEmbedder{}, &capturingWriter{}, Config{Parallelism: 1})

	first := o.Run(context.Background(), []string{path})
	second := o.Run(context.Background(), []string{path})

	require.Equal(t, first.Results[0].DocumentID, second.Results[0].DocumentID)
	require.NotEqual(t, first.BatchID, second.BatchID)
}

func TestRunRespectsChunkingConfig(t *testing.T) {
	// 120 ten-word sentences chunk into three drafts at size 500, overlap 50.
	text := strings.Repeat("one two three four five six seven eight nine ten. ", 120)
	writer := &capturingWriter{}
	o := NewOrchestrator(passthroughExtract(text), &stubEmbedder{}, writer, Config{
		Parallelism: 1,
		Chunking:    chunker.Config{ChunkSize: 500, Overlap: 50},
	})
	paths := writeTempFiles(t, "long.txt")

	report := o.Run(context.Background(), paths)

	require.Equal(t, 1, report.Summary.Successful)
	require.Equal(t, 3, report.Results[0].ChunkCount)
}

func TestDiscoverPathsDirectory(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.pdf", "a.txt", "notes.md", "skip.exe"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested"), 0o755))

	paths, err := DiscoverPaths(dir)
	require.NoError(t, err)
	require.Len(t, paths, 3)
	require.True(t, strings.HasSuffix(paths[0], "a.txt"))
	require.True(t, strings.HasSuffix(paths[1], "b.pdf"))
	require.True(t, strings.HasSuffix(paths[2], "notes.md"))
}

func TestDiscoverPathsSingleFilePassthrough(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "report.xlsx")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	// An explicitly named unsupported file is enqueued and left to fail in
	// the extract stage, matching how single-file ingestion reports errors.
	paths, err := DiscoverPaths(path)
	require.NoError(t, err)
	require.Equal(t, []string{path}, paths)
}
