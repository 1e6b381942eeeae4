package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"documind/internal/embed"
	"documind/internal/models"
	"documind/internal/providers"
	"documind/internal/retriever"
	"documind/internal/storage"
	"documind/internal/vector"
)

var (
	queryTopK int
	queryMode string
	queryJSON bool
)

var queryCmd = &cobra.Command{
	Use:   "query [text]",
	Short: "Retrieve chunks relevant to a query",
	Long: `Embeds the query, searches stored chunk vectors and prints the ranked
results with their citations. Hybrid mode blends cosine similarity with
keyword overlap.`,
	Args: cobra.ExactArgs(1),
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().IntVarP(&queryTopK, "top-k", "n", 0, "maximum number of results (default from config)")
	queryCmd.Flags().StringVar(&queryMode, "mode", retriever.ModeSemantic, "retrieval mode: semantic or hybrid")
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "output the full result as JSON")
	rootCmd.AddCommand(queryCmd)
}

func runQuery(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	db, err := storage.NewDB(ctx, cfg.PostgresURL)
	if err != nil {
		return err
	}
	defer db.Close()

	pm, err := providers.NewManager(cfg.EmbedProviders, cfg.LLMProviders, cfg.EmbedDim)
	if err != nil {
		return err
	}
	embedder := embed.New(pm.EmbedProvider(), embed.Config{
		BatchSize: cfg.EmbedBatchSize,
		Dimension: cfg.EmbedDim,
	})
	r := retriever.New(embedder, vector.NewSearcher(db.Pool), retriever.Config{
		TopK:          cfg.TopK,
		MinSimilarity: cfg.MinSimilarity,
		ContextBudget: cfg.ContextBudget,
	})

	result, err := r.Retrieve(ctx, args[0], queryTopK, queryMode)
	if err != nil {
		return fmt.Errorf("retrieve: %w", err)
	}

	if queryJSON {
		return outputQueryJSON(cmd, result)
	}
	return outputQueryTable(cmd, result)
}

func outputQueryJSON(cmd *cobra.Command, result models.QueryResult) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	cmd.Println(string(data))
	return nil
}

func outputQueryTable(cmd *cobra.Command, result models.QueryResult) error {
	if result.NoRelevantContext {
		cmd.Println("No relevant context found.")
		return nil
	}

	cmd.Println("Results:")
	cmd.Println()
	for i, r := range result.Results {
		title := r.Title
		if title == "" {
			title = r.DocumentID
		}
		cmd.Printf("  [%d] %s, chunk %d (%.2f)\n", i+1, title, r.ChunkIndex, r.Score)
		snippet := r.Text
		if len(snippet) > 200 {
			snippet = snippet[:200] + "..."
		}
		cmd.Printf("      %s\n", snippet)
		cmd.Println()
	}
	return nil
}
