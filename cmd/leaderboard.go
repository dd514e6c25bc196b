package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/mlboard/internal/leaderboard"
)

var (
	boardDataset string
	boardFormat  string
	boardOutput  string
)

var leaderboardCmd = &cobra.Command{
	Use:   "leaderboard",
	Short: "Print or export the current standings",
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

		rows, err := st.ListScored(ctx, boardDataset)
		if err != nil {
			return err
		}
		entries := leaderboard.Rank(rows)

		switch boardFormat {
		case "table":
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "RANK\tGROUP\tDATASET\tAUC\tF1\tACC\tSUBMISSIONS")
			for _, e := range entries {
				fmt.Fprintf(w, "%d\t%s\t%s\t%.4f\t%.4f\t%.4f\t%d\n",
					e.Rank, e.GroupName, e.DatasetID, e.AUC, e.F1, e.Accuracy, e.Submissions)
			}
			return w.Flush()
		case "csv":
			out := os.Stdout
			if boardOutput != "" {
				f, err := os.Create(boardOutput)
				if err != nil {
					return eris.Wrapf(err, "create %s", boardOutput)
				}
				defer f.Close() //nolint:errcheck
				out = f
			}
			return leaderboard.WriteCSV(out, entries)
		case "xlsx":
			if boardOutput == "" {
				return eris.New("xlsx format requires --output")
			}
			return leaderboard.WriteXLSX(boardOutput, entries)
		default:
			return eris.Errorf("unknown format %q", boardFormat)
		}
	},
}

func init() {
	leaderboardCmd.Flags().StringVar(&boardDataset, "dataset", "", "limit to one dataset id")
	leaderboardCmd.Flags().StringVar(&boardFormat, "format", "table", "output format: table, csv, xlsx")
	leaderboardCmd.Flags().StringVar(&boardOutput, "output", "", "output file (default stdout)")
	rootCmd.AddCommand(leaderboardCmd)
}
