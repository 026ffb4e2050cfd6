package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var sweepPurgeDays int

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Archive stale player links once and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "sweep")
		if err != nil {
			return err
		}
		defer env.Close()

		archived, err := env.Engine.Sweep(ctx, cfg.Sweep.Policy())
		if err != nil {
			return err
		}
		for _, id := range archived {
			fmt.Println("archived:", id)
		}
		fmt.Printf("%d links archived\n", len(archived))

		if sweepPurgeDays > 0 {
			cutoff := time.Now().UTC().AddDate(0, 0, -sweepPurgeDays)
			purged, err := env.Store.PurgeNewsItems(ctx, cutoff)
			if err != nil {
				return err
			}
			zap.L().Info("purged old news items",
				zap.Int("purged", purged),
				zap.Time("cutoff", cutoff),
			)
			fmt.Printf("%d news items purged\n", purged)
		}
		return nil
	},
}

func init() {
	sweepCmd.Flags().IntVar(&sweepPurgeDays, "purge-news-days", 0, "also purge news items published more than this many days ago")
	rootCmd.AddCommand(sweepCmd)
}
