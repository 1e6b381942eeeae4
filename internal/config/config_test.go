package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func loadInDir(t *testing.T, dir string) (Config, error) {
	t.Helper()
	t.Setenv("DOCUMIND_CONFIG", filepath.Join(dir, "config.yaml"))
	return Load()
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := loadInDir(t, t.TempDir())
	require.NoError(t, err)
	require.Equal(t, 500, cfg.ChunkSize)
	require.Equal(t, 50, cfg.ChunkOverlap)
	require.Equal(t, 1536, cfg.EmbedDim)
	require.Equal(t, 100, cfg.EmbedBatchSize)
	require.Equal(t, 10, cfg.Parallelism)
	require.Equal(t, 0.5, cfg.MinSimilarity)
	require.Equal(t, 12000, cfg.ContextBudget)
	require.Equal(t, "mock", cfg.EmbedProviders)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("DOCUMIND_CHUNK_SIZE", "200")
	t.Setenv("DOCUMIND_PARALLELISM", "4")
	cfg, err := loadInDir(t, t.TempDir())
	require.NoError(t, err)
	require.Equal(t, 200, cfg.ChunkSize)
	require.Equal(t, 4, cfg.Parallelism)
}

func TestLoadYamlOverlayWins(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"),
		[]byte("chunk_size: 300\ntop_k: 8\n"), 0o644))
	cfg, err := loadInDir(t, dir)
	require.NoError(t, err)
	require.Equal(t, 300, cfg.ChunkSize)
	require.Equal(t, 8, cfg.TopK)
}

func TestLoadRejectsOverlapNotBelowChunkSize(t *testing.T) {
	t.Setenv("DOCUMIND_CHUNK_SIZE", "50")
	t.Setenv("DOCUMIND_CHUNK_OVERLAP", "50")
	_, err := loadInDir(t, t.TempDir())
	require.Error(t, err)
}

func TestLoadRejectsBadSimilarity(t *testing.T) {
	t.Setenv("DOCUMIND_MIN_SIMILARITY", "1.5")
	_, err := loadInDir(t, t.TempDir())
	require.Error(t, err)
}
