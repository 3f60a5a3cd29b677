package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Global flags
	studyFile string
	verbose   bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "merit",
	Short: "German day-ahead price pipeline (merit order)",
	Long: `merit CLI

SMARD 시계열 수집부터 모델 학습/평가까지의 day-ahead 가격 파이프라인.
FETCHING → CLEANING → FEATURIZING → SPLITTING → TRAINING → EVALUATED

Usage:
  go run ./cmd/merit [command]

Examples:
  go run ./cmd/merit fetch
  go run ./cmd/merit import-csv exports/*.csv
  go run ./cmd/merit build-dataset
  go run ./cmd/merit train
  go run ./cmd/merit run --study configs/pipeline.yaml
  go run ./cmd/merit serve`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&studyFile, "study", "", "study definition (default: PIPELINE_CONFIG or configs/pipeline.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}
