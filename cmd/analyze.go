package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/sells-group/mlboard/internal/eval"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <groundtruth>",
	Short: "Validate a ground truth CSV and print its stats",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, cleanup, err := newResolver().Resolve(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		defer cleanup()

		stats, err := eval.AnalyzeGroundTruth(path)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	},
}

func init() {
	rootCmd.AddCommand(analyzeCmd)
}
