package main

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/mlboard/internal/eval"
	"github.com/sells-group/mlboard/internal/model"
	"github.com/sells-group/mlboard/internal/storage"
	"github.com/sells-group/mlboard/internal/store"
)

var (
	recomputeDataset string
	recomputeExact   bool
)

var recomputeCmd = &cobra.Command{
	Use:   "recompute",
	Short: "Re-evaluate stored submissions",
	Long:  "Re-runs scoring for every submission with an uploaded file, e.g. after a ground truth fix. One failing submission does not stop the rest.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("cli"); err != nil {
			return err
		}

		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		subs, _, err := st.ListSubmissions(ctx, store.SubmissionFilter{
			DatasetID: recomputeDataset,
			PageSize:  100000,
		})
		if err != nil {
			return err
		}

		resolver := newResolver()

		var (
			mu       sync.Mutex
			failed   []string
			rescored int
		)

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(cfg.Eval.MaxConcurrent)

		for _, sub := range subs {
			if sub.FileRef == "" {
				continue
			}
			g.Go(func() error {
				if err := recomputeOne(gctx, st, resolver, sub); err != nil {
					zap.L().Warn("recompute failed",
						zap.String("submission_id", sub.ID),
						zap.Error(err),
					)
					mu.Lock()
					failed = append(failed, sub.ID)
					mu.Unlock()
					return nil
				}
				mu.Lock()
				rescored++
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		zap.L().Info("recompute complete",
			zap.Int("rescored", rescored),
			zap.Int("failed", len(failed)),
			zap.Strings("failed_ids", failed),
		)
		if len(failed) > 0 {
			return eris.Errorf("recompute: %d of %d submissions failed", len(failed), rescored+len(failed))
		}
		return nil
	},
}

func recomputeOne(ctx context.Context, st store.Store, resolver *storage.Resolver, sub model.Submission) error {
	d, err := st.GetDataset(ctx, sub.DatasetID)
	if err != nil {
		return err
	}
	if d.GroundTruthRef == "" {
		return eris.Errorf("dataset %s has no ground truth", d.ID)
	}

	gtPath, gtCleanup, err := resolver.Resolve(ctx, d.GroundTruthRef)
	if err != nil {
		return err
	}
	defer gtCleanup()

	predPath, predCleanup, err := resolver.Resolve(ctx, sub.FileRef)
	if err != nil {
		return err
	}
	defer predCleanup()

	var report *eval.MetricReport
	if recomputeExact {
		report, err = eval.ComputeClassificationMetrics(gtPath, predPath)
	} else {
		report, err = eval.EvaluatePredictions(gtPath, predPath)
	}
	if err != nil {
		return err
	}
	return st.SaveScore(ctx, sub.ID, report)
}

func init() {
	recomputeCmd.Flags().StringVar(&recomputeDataset, "dataset", "", "limit to one dataset id")
	recomputeCmd.Flags().BoolVar(&recomputeExact, "exact", false, "exact-match label scoring instead of probability scoring")
	rootCmd.AddCommand(recomputeCmd)
}
