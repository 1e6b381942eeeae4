package embed

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"documind/internal/providers"

	"github.com/stretchr/testify/require"
)

// scriptedProvider fails a configured number of times before succeeding.
type scriptedProvider struct {
	failures int
	err      error
	dim      int
	calls    int
}

func (p *scriptedProvider) Embed(ctx context.Context, req providers.EmbedRequest) ([][]float32, providers.ProviderInfo, error) {
	p.calls++
	if p.calls <= p.failures {
		return nil, providers.ProviderInfo{Name: "scripted", Model: "scripted-v1"}, p.err
	}
	out := make([][]float32, len(req.Inputs))
	for i := range out {
		out[i] = make([]float32, p.dim)
		out[i][0] = float32(i + 1)
	}
	return out, providers.ProviderInfo{Name: "scripted", Model: "scripted-v1"}, nil
}

func newTestEmbedder(p providers.EmbeddingProvider, batch, dim int) (*Embedder, *[]time.Duration) {
	e := New(p, Config{BatchSize: batch, Dimension: dim})
	sleeps := &[]time.Duration{}
	e.sleep = func(_ context.Context, d time.Duration) error {
		*sleeps = append(*sleeps, d)
		return nil
	}
	e.logf = func(string, ...any) {}
	return e, sleeps
}

func TestEmbedTextsSuccess(t *testing.T) {
	e, sleeps := newTestEmbedder(&scriptedProvider{dim: 8}, 100, 8)
	records, detail := e.EmbedTexts(context.Background(), []string{"a", "b", "c"})
	require.Nil(t, detail)
	require.Len(t, records, 3)
	require.Empty(t, *sleeps)
	for i, r := range records {
		require.Equal(t, i, r.ChunkIndex)
		require.Len(t, r.Vector, 8)
		require.Equal(t, "scripted-v1", r.Model)
	}
}

func TestEmbedTextsRecoversAfterTwoTransientFailures(t *testing.T) {
	p := &scriptedProvider{failures: 2, err: errors.New("429 rate limited"), dim: 4}
	e, sleeps := newTestEmbedder(p, 100, 4)

	records, detail := e.EmbedTexts(context.Background(), []string{"x", "y"})
	require.Nil(t, detail)
	require.Len(t, records, 2)
	// Exactly two waits of 1s then 2s, not three.
	require.Equal(t, []time.Duration{1 * time.Second, 2 * time.Second}, *sleeps)
}

func TestEmbedTextsExhaustsRetries(t *testing.T) {
	p := &scriptedProvider{failures: 10, err: errors.New("connection timeout"), dim: 4}
	e, sleeps := newTestEmbedder(p, 100, 4)

	records, detail := e.EmbedTexts(context.Background(), []string{"x"})
	require.Empty(t, records)
	require.NotNil(t, detail)
	require.Equal(t, 3, detail.RetryCount)
	require.Equal(t, []float64{1, 2, 4}, detail.RetryDelays)
	require.Equal(t, string(providers.ErrorTransient), detail.LastErrorType)
	require.Len(t, detail.Attempts, 4)
	require.Equal(t, []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}, *sleeps)
	require.Equal(t, 4, p.calls)
}

func TestEmbedTextsPermanentErrorSkipsRetries(t *testing.T) {
	p := &scriptedProvider{failures: 10, err: errors.New("400 bad request"), dim: 4}
	e, sleeps := newTestEmbedder(p, 100, 4)

	records, detail := e.EmbedTexts(context.Background(), []string{"x"})
	require.Empty(t, records)
	require.NotNil(t, detail)
	require.Equal(t, 0, detail.RetryCount)
	require.Empty(t, detail.RetryDelays)
	require.Equal(t, string(providers.ErrorPermanent), detail.LastErrorType)
	require.Empty(t, *sleeps)
	require.Equal(t, 1, p.calls)
}

func TestEmbedTextsRejectsWrongDimension(t *testing.T) {
	e, sleeps := newTestEmbedder(&scriptedProvider{dim: 3}, 100, 8)
	records, detail := e.EmbedTexts(context.Background(), []string{"x"})
	require.Empty(t, records)
	require.NotNil(t, detail)
	require.Equal(t, string(providers.ErrorPermanent), detail.LastErrorType)
	require.Contains(t, detail.LastError, "dimension")
	require.Empty(t, *sleeps)
}

func TestEmbedTextsBatchIsolation(t *testing.T) {
	// Provider fails every call after the first; with batch size 2 and 4
	// inputs, batch one succeeds and batch two fails without aborting.
	p := &flakySecondBatch{dim: 4}
	e, _ := newTestEmbedder(p, 2, 4)

	records, detail := e.EmbedTexts(context.Background(), []string{"a", "b", "c", "d"})
	require.NotNil(t, detail)
	require.Len(t, records, 2)
	require.Equal(t, 0, records[0].ChunkIndex)
	require.Equal(t, 1, records[1].ChunkIndex)
}

type flakySecondBatch struct {
	dim   int
	calls int
}

func (p *flakySecondBatch) Embed(ctx context.Context, req providers.EmbedRequest) ([][]float32, providers.ProviderInfo, error) {
	p.calls++
	if p.calls > 1 {
		return nil, providers.ProviderInfo{Model: "flaky"}, fmt.Errorf("400 invalid input")
	}
	out := make([][]float32, len(req.Inputs))
	for i := range out {
		out[i] = make([]float32, p.dim)
	}
	return out, providers.ProviderInfo{Model: "flaky"}, nil
}

func TestEmbedQueryDimensionGuard(t *testing.T) {
	e, _ := newTestEmbedder(&scriptedProvider{dim: 4}, 100, 8)
	_, err := e.EmbedQuery(context.Background(), "what is the policy?")
	require.Error(t, err)
	require.Contains(t, err.Error(), "model mismatch")
}

func TestEmbedQuerySuccess(t *testing.T) {
	e, _ := newTestEmbedder(&scriptedProvider{dim: 8}, 100, 8)
	vec, err := e.EmbedQuery(context.Background(), "what is the policy?")
	require.NoError(t, err)
	require.Len(t, vec, 8)
}
