package cli

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"documind/internal/config"
)

var cfg config.Config

var rootCmd = &cobra.Command{
	Use:   "documind",
	Short: "Document ingestion and retrieval for grounded question answering",
	Long: `documind ingests documents into a vector store and retrieves
citation-annotated context for question answering.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load(".env")
		loaded, err := config.Load()
		if err != nil {
			return err
		}
		cfg = loaded
		return nil
	},
}

func Execute() error {
	return rootCmd.Execute()
}
