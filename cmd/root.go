package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/n17-labs/transferwatch/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "transferwatch",
	Short: "Football transfer rumor aggregation engine",
	Long:  "Watches news feeds and subreddits for transfer reports, classifies them via Claude, and merges them into confidence-scored per-player timelines.",
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

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
