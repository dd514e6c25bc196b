package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/sells-group/mlboard/internal/eval"
)

var (
	evalGroundTruth string
	evalPredictions string
	evalExact       bool
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Score a prediction CSV against a ground truth CSV",
	Long:  "Joins predictions to ground truth by id and prints a metric report as JSON. Default mode scores probabilities; --exact compares labels directly.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		resolver := newResolver()

		gtPath, gtCleanup, err := resolver.Resolve(ctx, evalGroundTruth)
		if err != nil {
			return err
		}
		defer gtCleanup()

		predPath, predCleanup, err := resolver.Resolve(ctx, evalPredictions)
		if err != nil {
			return err
		}
		defer predCleanup()

		var report *eval.MetricReport
		if evalExact {
			report, err = eval.ComputeClassificationMetrics(gtPath, predPath)
		} else {
			report, err = eval.EvaluatePredictions(gtPath, predPath)
		}
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	},
}

func init() {
	evaluateCmd.Flags().StringVar(&evalGroundTruth, "groundtruth", "", "ground truth CSV (path or URL)")
	evaluateCmd.Flags().StringVar(&evalPredictions, "predictions", "", "prediction CSV (path or URL)")
	evaluateCmd.Flags().BoolVar(&evalExact, "exact", false, "exact-match label scoring instead of probability scoring")
	evaluateCmd.MarkFlagRequired("groundtruth") //nolint:errcheck
	evaluateCmd.MarkFlagRequired("predictions") //nolint:errcheck
	rootCmd.AddCommand(evaluateCmd)
}
