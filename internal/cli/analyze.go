package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"respiration-qa/internal/app"
)

var (
	analyzeDataRoot string
	analyzeWorkers  int
	analyzeNoStore  bool
	analyzeCSVPath  string
	analyzePNGPath  string
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Analyse every patient under the data root once",
	RunE: func(cmd *cobra.Command, args []string) error {
		if analyzeWorkers < 0 {
			return fmt.Errorf("--workers cannot be negative")
		}

		opts := app.AnalyzeOptions{
			DataRoot: analyzeDataRoot,
			Workers:  analyzeWorkers,
			NoStore:  analyzeNoStore,
			CSVPath:  analyzeCSVPath,
			PNGPath:  analyzePNGPath,
		}

		return getApp().Analyze(cmd.Context(), opts)
	},
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeDataRoot, "data-root", "", "Dataset root (defaults to config)")
	analyzeCmd.Flags().IntVar(&analyzeWorkers, "workers", 0, "Patients processed in parallel (defaults to config)")
	analyzeCmd.Flags().BoolVar(&analyzeNoStore, "no-store", false, "Do not persist results even if a database is configured")
	analyzeCmd.Flags().StringVar(&analyzeCSVPath, "csv", "", "Path to write CSV results")
	analyzeCmd.Flags().StringVar(&analyzePNGPath, "png", "", "Path to write PNG chart")
}
