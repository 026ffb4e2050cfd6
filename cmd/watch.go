package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/n17-labs/transferwatch/internal/sweeper"
	"github.com/n17-labs/transferwatch/internal/watcher"
)

var watchNoSweep bool

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Poll configured sources and ingest new reports continuously",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "watch")
		if err != nil {
			return err
		}
		defer env.Close()

		runner, err := watcher.NewRunner(env.Engine, cfg.Watchers, zap.L())
		if err != nil {
			return err
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return runner.Run(gctx)
		})
		if !watchNoSweep {
			sw := sweeper.New(env.Engine, cfg.Sweep)
			g.Go(func() error {
				sw.Run(gctx)
				return nil
			})
		}

		zap.L().Info("watching",
			zap.Int("sources", len(cfg.Watchers)),
			zap.Bool("sweeper", !watchNoSweep),
		)
		return g.Wait()
	},
}

func init() {
	watchCmd.Flags().BoolVar(&watchNoSweep, "no-sweep", false, "disable the periodic staleness sweeper")
	rootCmd.AddCommand(watchCmd)
}
