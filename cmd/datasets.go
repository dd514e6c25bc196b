package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/mlboard/internal/eval"
	"github.com/sells-group/mlboard/internal/model"
)

var datasetsCmd = &cobra.Command{
	Use:   "datasets",
	Short: "Manage scoring datasets",
}

// datasetManifest is the YAML shape accepted by `datasets load`.
type datasetManifest struct {
	Datasets []struct {
		Name           string `yaml:"name"`
		Description    string `yaml:"description"`
		GroundTruthRef string `yaml:"groundtruth_ref"`
		DataRef        string `yaml:"data_ref"`
		Official       bool   `yaml:"official"`
	} `yaml:"datasets"`
}

var datasetsManifestPath string

var datasetsLoadCmd = &cobra.Command{
	Use:   "load",
	Short: "Register datasets from a YAML manifest",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("cli"); err != nil {
			return err
		}

		data, err := os.ReadFile(datasetsManifestPath)
		if err != nil {
			return eris.Wrapf(err, "read manifest %s", datasetsManifestPath)
		}
		var manifest datasetManifest
		if err := yaml.Unmarshal(data, &manifest); err != nil {
			return eris.Wrap(err, "parse manifest")
		}
		if len(manifest.Datasets) == 0 {
			return eris.New("manifest contains no datasets")
		}

		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		resolver := newResolver()
		for _, entry := range manifest.Datasets {
			if entry.Name == "" || entry.GroundTruthRef == "" {
				return eris.New("manifest entries need name and groundtruth_ref")
			}

			d := &model.Dataset{
				Name:           entry.Name,
				Description:    entry.Description,
				GroundTruthRef: entry.GroundTruthRef,
				DataRef:        entry.DataRef,
			}
			if err := st.CreateDataset(ctx, d); err != nil {
				return err
			}

			path, cleanup, err := resolver.Resolve(ctx, entry.GroundTruthRef)
			if err != nil {
				zap.L().Warn("groundtruth unreachable, stats skipped",
					zap.String("dataset", entry.Name),
					zap.Error(err),
				)
			} else {
				stats, statErr := eval.AnalyzeGroundTruth(path)
				cleanup()
				if statErr != nil {
					zap.L().Warn("groundtruth analysis failed",
						zap.String("dataset", entry.Name),
						zap.Error(statErr),
					)
				} else if err := st.SetDatasetStats(ctx, d.ID, stats); err != nil {
					return err
				}
			}

			if entry.Official {
				if err := st.MarkOfficial(ctx, d.ID); err != nil {
					return err
				}
			}
			fmt.Printf("registered %s (%s)\n", d.Name, d.ID)
		}
		return nil
	},
}

func init() {
	datasetsLoadCmd.Flags().StringVar(&datasetsManifestPath, "manifest", "datasets.yaml", "manifest file")
	datasetsCmd.AddCommand(datasetsLoadCmd)
	rootCmd.AddCommand(datasetsCmd)
}
