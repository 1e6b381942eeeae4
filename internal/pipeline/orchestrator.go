package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"documind/internal/chunker"
	"documind/internal/embed"
	"documind/internal/extract"
	"documind/internal/models"
	"documind/internal/storage"
	"documind/internal/util"
	"documind/internal/vector"

	"golang.org/x/sync/errgroup"
)

type Stage string

const (
	StageExtract Stage = "extract"
	StageChunk   Stage = "chunk"
	StageEmbed   Stage = "embed"
	StageWrite   Stage = "write"
)

// stageOrder is the fixed per-document stage sequence; no transition skips
// a stage.
var stageOrder = []Stage{StageExtract, StageChunk, StageEmbed, StageWrite}

const (
	StatusComplete = "complete"
	StatusFailed   = "failed"
)

// Error categories surfaced in reports.
const (
	CategoryUnsupportedFormat  = "unsupported_format"
	CategoryReadFailure        = "read_failure"
	CategoryChunkingDegenerate = "chunking_degenerate"
	CategoryIntegrity          = "integrity_error"
	CategoryConstraint         = "constraint_error"
	CategoryWriteFailure       = "write_failure"
)

type ExtractFunc func(path string) (extract.Result, error)

type ChunkEmbedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([]embed.Record, *embed.RetryErrorDetail)
}

type DocumentWriter interface {
	WriteDocument(ctx context.Context, doc models.Document, chunks []storage.ChunkRecord) (storage.WriteResult, error)
}

type Config struct {
	Parallelism  int
	StopOnError  bool
	StageTimeout time.Duration
	Chunking     chunker.Config
}

// StageError names the stage that failed a document, the error category and
// message, plus the embed retry history when the embed stage was the one
// that gave up.
type StageError struct {
	Stage    Stage                   `json:"stage"`
	Category string                  `json:"category"`
	Message  string                  `json:"message"`
	Retry    *embed.RetryErrorDetail `json:"retry,omitempty"`
}

type ProcessingResult struct {
	DocumentID string             `json:"document_id,omitempty"`
	Path       string             `json:"path"`
	Title      string             `json:"title,omitempty"`
	Status     string             `json:"status"`
	ChunkCount int                `json:"chunk_count"`
	StageMS    map[string]float64 `json:"stage_ms"`
	TotalMS    float64            `json:"total_ms"`
	Error      *StageError        `json:"error,omitempty"`
}

type Summary struct {
	Total      int     `json:"total"`
	Successful int     `json:"successful"`
	Failed     int     `json:"failed"`
	TotalMS    float64 `json:"total_ms"`
	AvgMS      float64 `json:"avg_ms"`
}

type Performance struct {
	AvgStageMS map[string]float64 `json:"avg_stage_ms"`
	Bottleneck string             `json:"bottleneck"`
}

// BatchReport is the aggregate outcome of one orchestration run. Results
// appear in completion order; callers needing a stable order sort by
// document id.
type BatchReport struct {
	BatchID       string             `json:"batch_id"`
	StartedAt     time.Time          `json:"started_at"`
	Summary       Summary            `json:"summary"`
	Performance   Performance        `json:"performance"`
	Results       []ProcessingResult `json:"results"`
	ErrorsByStage map[string]int     `json:"errors_by_stage"`
}

// Orchestrator drives documents through extract, chunk, embed and write with
// bounded parallelism. One document's failure never blocks the rest of the
// batch unless StopOnError is set.
type Orchestrator struct {
	extractFn ExtractFunc
	embedder  ChunkEmbedder
	writer    DocumentWriter
	cfg       Config
	newID     func() string
	logf      func(format string, args ...any)
}

func NewOrchestrator(extractFn ExtractFunc, embedder ChunkEmbedder, writer DocumentWriter, cfg Config) *Orchestrator {
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 10
	}
	if cfg.StageTimeout <= 0 {
		cfg.StageTimeout = 5 * time.Minute
	}
	return &Orchestrator{
		extractFn: extractFn,
		embedder:  embedder,
		writer:    writer,
		cfg:       cfg,
		newID:     newBatchID,
		logf:      log.Printf,
	}
}

// DiscoverPaths expands a file or directory into the ordered list of files
// to ingest. Directory discovery keeps only supported extensions; an
// explicitly named file is always enqueued and fails in the extract stage
// if unsupported.
func DiscoverPaths(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat input path: %w", err)
	}
	if !info.IsDir() {
		return []string{path}, nil
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("read input dir: %w", err)
	}
	paths := make([]string, 0)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		full := filepath.Join(path, e.Name())
		if extract.Supported(full) {
			paths = append(paths, full)
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// Run processes every path and returns the aggregate report. Batch-level
// problems surface as per-document failures, never as a panic or a dropped
// result; the report always accounts for every input.
func (o *Orchestrator) Run(ctx context.Context, paths []string) BatchReport {
	report := BatchReport{
		BatchID:       o.newID(),
		StartedAt:     time.Now().UTC(),
		Results:       make([]ProcessingResult, 0, len(paths)),
		ErrorsByStage: map[string]int{},
	}
	batchStart := time.Now()

	var mu sync.Mutex
	var stopped atomic.Bool

	g := &errgroup.Group{}
	g.SetLimit(o.cfg.Parallelism)
	for _, path := range paths {
		if ctx.Err() != nil || (o.cfg.StopOnError && stopped.Load()) {
			// Stop dispatching; in-flight documents run to completion.
			break
		}
		path := path
		g.Go(func() error {
			if o.cfg.StopOnError && stopped.Load() {
				return nil
			}
			res := o.processDocument(ctx, path)
			mu.Lock()
			report.Results = append(report.Results, res)
			mu.Unlock()
			if res.Status == StatusFailed {
				stopped.Store(true)
			}
			return nil
		})
	}
	_ = g.Wait()

	finalizeReport(&report, time.Since(batchStart))
	return report
}

// processDocument runs the four stages in order for one file. Failure in
// any stage attaches the triggering stage and error and skips the remaining
// stages for this document only.
func (o *Orchestrator) processDocument(ctx context.Context, path string) ProcessingResult {
	result := ProcessingResult{Path: path, StageMS: map[string]float64{}}
	start := time.Now()
	defer func() {
		result.TotalMS = msSince(start)
	}()

	// Extract.
	stageStart := time.Now()
	extracted, err := o.extractFn(path)
	result.StageMS[string(StageExtract)] = msSince(stageStart)
	if err != nil {
		category := CategoryReadFailure
		if errors.Is(err, util.ErrUnsupportedFormat) {
			category = CategoryUnsupportedFormat
		}
		return o.fail(result, StageExtract, category, err.Error(), nil)
	}
	docID, err := documentID(path, extracted.Text)
	if err != nil {
		return o.fail(result, StageExtract, CategoryReadFailure, err.Error(), nil)
	}
	result.DocumentID = docID
	result.Title = extracted.Metadata["title"]

	// Chunk.
	stageStart = time.Now()
	drafts := chunker.Chunk(extracted.Text, o.cfg.Chunking)
	result.StageMS[string(StageChunk)] = msSince(stageStart)
	if len(drafts) == 0 && strings.TrimSpace(extracted.Text) != "" {
		return o.fail(result, StageChunk, CategoryChunkingDegenerate, "no usable chunks produced from non-empty text", nil)
	}
	result.ChunkCount = len(drafts)

	// Embed.
	stageStart = time.Now()
	texts := make([]string, 0, len(drafts))
	for _, d := range drafts {
		texts = append(texts, d.Text)
	}
	embedCtx, cancelEmbed := context.WithTimeout(ctx, o.cfg.StageTimeout)
	records, retryDetail := o.embedder.EmbedTexts(embedCtx, texts)
	cancelEmbed()
	result.StageMS[string(StageEmbed)] = msSince(stageStart)
	if retryDetail != nil {
		return o.fail(result, StageEmbed, retryDetail.LastErrorType, retryDetail.LastError, retryDetail)
	}

	// Write.
	stageStart = time.Now()
	doc := models.Document{
		DocumentID: docID,
		Title:      extracted.Metadata["title"],
		FileType:   extracted.Metadata["file_type"],
		SourcePath: path,
		Content:    extracted.Text,
		Metadata:   extracted.Metadata,
		Status:     "processed",
	}
	writeCtx, cancelWrite := context.WithTimeout(ctx, o.cfg.StageTimeout)
	_, err = o.writer.WriteDocument(writeCtx, doc, chunkRecords(docID, drafts, records))
	cancelWrite()
	result.StageMS[string(StageWrite)] = msSince(stageStart)
	if err != nil {
		category := CategoryWriteFailure
		switch {
		case errors.Is(err, util.ErrIntegrity):
			category = CategoryIntegrity
		case errors.Is(err, util.ErrConstraint):
			category = CategoryConstraint
		}
		return o.fail(result, StageWrite, category, err.Error(), nil)
	}

	result.Status = StatusComplete
	return result
}

func (o *Orchestrator) fail(result ProcessingResult, stage Stage, category, message string, retry *embed.RetryErrorDetail) ProcessingResult {
	result.Status = StatusFailed
	result.Error = &StageError{Stage: stage, Category: category, Message: message, Retry: retry}
	o.logf("document %s failed at %s stage (%s): %s", result.Path, stage, category, message)
	return result
}

// chunkRecords pairs drafts with their embeddings by chunk index, preserving
// index order end to end.
func chunkRecords(docID string, drafts []chunker.Draft, records []embed.Record) []storage.ChunkRecord {
	vectors := make(map[int]embed.Record, len(records))
	for _, r := range records {
		vectors[r.ChunkIndex] = r
	}
	out := make([]storage.ChunkRecord, 0, len(drafts))
	for _, d := range drafts {
		rec := storage.ChunkRecord{
			ChunkID:    util.SHA256Hex([]byte(fmt.Sprintf("%s:%d:%s", docID, d.Index, util.SHA256Hex([]byte(d.Text))))),
			DocumentID: docID,
			ChunkIndex: d.Index,
			Text:       d.Text,
			WordCount:  d.WordCount,
			CharCount:  d.CharCount,
			Metadata:   d.Metadata,
		}
		if r, ok := vectors[d.Index]; ok {
			lit := vector.ToLiteral(r.Vector)
			rec.Embedding = &lit
			rec.EmbedModel = r.Model
		}
		out = append(out, rec)
	}
	return out
}

// documentID is the sha256 of the source file contents, so re-ingesting an
// unchanged file hits the same id and replaces its chunks.
func documentID(path, fallbackText string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		// Extraction may have worked from a transient handle; hash the text.
		if fallbackText != "" {
			return util.SHA256Hex([]byte(fallbackText)), nil
		}
		return "", fmt.Errorf("open file for hash: %w", err)
	}
	defer f.Close()
	return util.SHA256HexFromReader(f)
}

func finalizeReport(report *BatchReport, elapsed time.Duration) {
	stageTotals := map[string]float64{}
	stageCounts := map[string]int{}
	for _, r := range report.Results {
		report.Summary.Total++
		if r.Status == StatusComplete {
			report.Summary.Successful++
		} else {
			report.Summary.Failed++
			if r.Error != nil {
				report.ErrorsByStage[string(r.Error.Stage)]++
			}
		}
		for stage, ms := range r.StageMS {
			stageTotals[stage] += ms
			stageCounts[stage]++
		}
	}
	report.Summary.TotalMS = float64(elapsed.Milliseconds())
	if report.Summary.Total > 0 {
		report.Summary.AvgMS = report.Summary.TotalMS / float64(report.Summary.Total)
	}

	report.Performance.AvgStageMS = map[string]float64{}
	bottleneck := ""
	best := -1.0
	for _, stage := range stageOrder {
		name := string(stage)
		if stageCounts[name] == 0 {
			continue
		}
		avg := stageTotals[name] / float64(stageCounts[name])
		report.Performance.AvgStageMS[name] = avg
		if avg > best {
			best = avg
			bottleneck = name
		}
	}
	report.Performance.Bottleneck = bottleneck
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000.0
}

func newBatchID() string {
	return util.SHA256Hex([]byte(time.Now().UTC().Format(time.RFC3339Nano)))[:12]
}
