package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"documind/internal/chunker"
	"documind/internal/embed"
	"documind/internal/extract"
	"documind/internal/pipeline"
	"documind/internal/providers"
	"documind/internal/storage"
	"documind/internal/util"
)

var (
	ingestReportPath  string
	ingestStopOnError bool
	ingestParallelism int
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [path]",
	Short: "Ingest a file or directory of documents",
	Long: `Runs the full ingestion pipeline (extract, chunk, embed, write) over
the given file or directory and writes a JSON batch report. The exit code is
non-zero when any document fails.`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestReportPath, "report", "", "path for the JSON batch report (default: <data_out>/<batch_id>/report.json)")
	ingestCmd.Flags().BoolVar(&ingestStopOnError, "stop-on-error", false, "stop dispatching new documents after the first failure")
	ingestCmd.Flags().IntVar(&ingestParallelism, "parallelism", 0, "max documents processed concurrently (default from config)")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	paths, err := pipeline.DiscoverPaths(args[0])
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return fmt.Errorf("no supported documents under %s (supported: %v)", args[0], extract.SupportedExtensions)
	}

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

	parallelism := cfg.Parallelism
	if ingestParallelism > 0 {
		parallelism = ingestParallelism
	}
	orch := pipeline.NewOrchestrator(extract.Extract, embedder, storage.NewWriter(db), pipeline.Config{
		Parallelism:  parallelism,
		StopOnError:  ingestStopOnError || cfg.StopOnError,
		StageTimeout: time.Duration(cfg.StageTimeoutSec) * time.Second,
		Chunking:     chunker.Config{ChunkSize: cfg.ChunkSize, Overlap: cfg.ChunkOverlap},
	})

	report := orch.Run(ctx, paths)

	reportPath := ingestReportPath
	if reportPath == "" {
		reportPath = fmt.Sprintf("%s/%s/report.json", cfg.DataOutRoot, report.BatchID)
	}
	if err := util.WriteJSONAtomic(reportPath, report); err != nil {
		return fmt.Errorf("write batch report: %w", err)
	}

	cmd.Printf("batch %s: %d total, %d successful, %d failed (report: %s)\n",
		report.BatchID, report.Summary.Total, report.Summary.Successful, report.Summary.Failed, reportPath)
	for _, res := range report.Results {
		if res.Status == pipeline.StatusFailed && res.Error != nil {
			cmd.Printf("  failed: %s at %s stage (%s)\n", res.Path, res.Error.Stage, res.Error.Category)
		}
	}

	if report.Summary.Failed > 0 {
		return fmt.Errorf("%d of %d documents failed", report.Summary.Failed, report.Summary.Total)
	}
	return nil
}
