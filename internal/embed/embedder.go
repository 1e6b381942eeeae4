package embed

import (
	"context"
	"fmt"
	"log"
	"time"

	"documind/internal/providers"
	"documind/internal/util"
)

const DefaultBatchSize = 100

// retrySchedule is the fixed backoff between attempts. Deliberately not
// computed exponential growth: a batch job with a human waiting needs a
// predictable, capped total wait (7s worst case per batch).
var retrySchedule = []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}

// MaxRetries is the number of retries after the first attempt.
var MaxRetries = len(retrySchedule)

// AttemptLog records one failed attempt against the provider, with the wait
// applied before the next attempt (0 when no retry followed).
type AttemptLog struct {
	Attempt   int     `json:"attempt"`
	ErrorType string  `json:"error_type"`
	Error     string  `json:"error"`
	WaitSecs  float64 `json:"wait_seconds"`
}

// RetryErrorDetail describes one exhausted or non-retryable embed failure
// with enough detail to reconstruct what happened without re-running.
type RetryErrorDetail struct {
	RetryCount    int          `json:"retry_count"`
	LastErrorType string       `json:"last_error_type"`
	LastError     string       `json:"last_error"`
	RetryDelays   []float64    `json:"retry_delays"`
	Attempts      []AttemptLog `json:"attempts"`
}

// Record pairs a chunk index with its embedding vector.
type Record struct {
	ChunkIndex int
	Vector     []float32
	Model      string
}

type Config struct {
	BatchSize int
	Dimension int
}

type Embedder struct {
	provider providers.EmbeddingProvider
	cfg      Config

	// sleep is replaceable in tests so the fixed schedule can be observed
	// without waiting on it.
	sleep func(ctx context.Context, d time.Duration) error
	logf  func(format string, args ...any)
}

func New(provider providers.EmbeddingProvider, cfg Config) *Embedder {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	return &Embedder{
		provider: provider,
		cfg:      cfg,
		sleep:    sleepCtx,
		logf:     log.Printf,
	}
}

// EmbedTexts embeds texts in input order, batching up to BatchSize per
// provider call. A failed batch never aborts sibling batches; on any batch
// exhausting its retries (or failing permanently) the successful records are
// still returned alongside a non-nil RetryErrorDetail for the first failure.
func (e *Embedder) EmbedTexts(ctx context.Context, texts []string) ([]Record, *RetryErrorDetail) {
	records := make([]Record, 0, len(texts))
	var firstFailure *RetryErrorDetail

	for start := 0; start < len(texts); start += e.cfg.BatchSize {
		end := start + e.cfg.BatchSize
		if end > len(texts) {
			end = len(texts)
		}
		vectors, model, detail := e.embedBatch(ctx, texts[start:end])
		if detail != nil {
			if firstFailure == nil {
				firstFailure = detail
			}
			continue
		}
		for i, v := range vectors {
			records = append(records, Record{ChunkIndex: start + i, Vector: v, Model: model})
		}
	}
	if firstFailure != nil && len(records) == 0 {
		records = []Record{}
	}
	return records, firstFailure
}

// EmbedQuery embeds a single query string under the same contract as
// ingestion. A dimensionality mismatch means the configured model does not
// match the stored vectors and fails fast.
func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, info, err := e.provider.Embed(ctx, providers.EmbedRequest{Operation: "query_embed", Inputs: []string{text}})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embed query: provider returned %d vectors", len(vectors))
	}
	if len(vectors[0]) != e.cfg.Dimension {
		return nil, fmt.Errorf("query vector has %d dimensions, store expects %d (model %s): %w",
			len(vectors[0]), e.cfg.Dimension, info.Model, util.ErrModelMismatch)
	}
	return vectors[0], nil
}

// embedBatch runs the bounded retry loop for one batch: 1 attempt plus up to
// MaxRetries retries on transient categories, fixed delays between. A nil
// detail means success and vectors holds one validated vector per input.
func (e *Embedder) embedBatch(ctx context.Context, texts []string) ([][]float32, string, *RetryErrorDetail) {
	detail := &RetryErrorDetail{RetryDelays: []float64{}}
	maxAttempts := MaxRetries + 1

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		vectors, info, err := e.provider.Embed(ctx, providers.EmbedRequest{Operation: "embed", Inputs: texts})
		if err == nil {
			if verr := e.validateVectors(vectors, len(texts)); verr != nil {
				// A partial-dimension vector is a contract violation, not a
				// transient condition: fail without retry.
				detail.LastErrorType = string(providers.ErrorPermanent)
				detail.LastError = verr.Error()
				detail.Attempts = append(detail.Attempts, AttemptLog{Attempt: attempt, ErrorType: detail.LastErrorType, Error: verr.Error()})
				return nil, info.Model, detail
			}
			return vectors, info.Model, nil
		}

		errType := providers.ClassifyError(err)
		detail.LastErrorType = string(errType)
		detail.LastError = err.Error()

		if !providers.IsTransient(errType) || attempt == maxAttempts {
			detail.Attempts = append(detail.Attempts, AttemptLog{Attempt: attempt, ErrorType: string(errType), Error: err.Error()})
			e.logf("embed batch attempt %d/%d failed (%s), giving up: %v", attempt, maxAttempts, errType, err)
			return nil, info.Model, detail
		}

		wait := retrySchedule[attempt-1]
		detail.RetryDelays = append(detail.RetryDelays, wait.Seconds())
		detail.RetryCount++
		detail.Attempts = append(detail.Attempts, AttemptLog{Attempt: attempt, ErrorType: string(errType), Error: err.Error(), WaitSecs: wait.Seconds()})
		e.logf("embed batch attempt %d/%d failed (%s), retrying in %s: %v", attempt, maxAttempts, errType, wait, err)
		if serr := e.sleep(ctx, wait); serr != nil {
			detail.LastError = serr.Error()
			detail.LastErrorType = string(providers.ErrorTransient)
			return nil, "", detail
		}
	}
	return nil, "", detail
}

func (e *Embedder) validateVectors(vectors [][]float32, want int) error {
	if len(vectors) != want {
		return fmt.Errorf("provider returned %d vectors for %d inputs", len(vectors), want)
	}
	for i, v := range vectors {
		if len(v) != e.cfg.Dimension {
			return fmt.Errorf("vector %d has %d dimensions, expected %d: %w", i, len(v), e.cfg.Dimension, util.ErrDimensionMismatch)
		}
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
