package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/mlboard/internal/config"
	"github.com/sells-group/mlboard/internal/storage"
	"github.com/sells-group/mlboard/internal/store"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "mlboard",
	Short: "Prediction scoring and leaderboard service",
	Long:  "Scores prediction CSVs against ground truth datasets, tracks submissions, and serves a group leaderboard.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

// openStore creates and migrates the configured store backend.
func openStore(ctx context.Context) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch cfg.Store.Driver {
	case "sqlite":
		st, err = store.NewSQLite(cfg.Store.DatabaseURL)
	case "postgres":
		st, err = store.NewPostgres(ctx, cfg.Store.DatabaseURL)
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}
	return st, nil
}

func newResolver() *storage.Resolver {
	return storage.NewResolver(storage.Options{
		TempDir:    cfg.Storage.TempDir,
		MaxRetries: cfg.Storage.MaxRetries,
		Timeout:    time.Duration(cfg.Storage.DownloadTimeout) * time.Second,
	})
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
