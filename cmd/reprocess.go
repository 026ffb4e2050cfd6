package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var reprocessCmd = &cobra.Command{
	Use:   "reprocess",
	Short: "Re-run classification and merge over stored unlinked items",
	Long: `Walks news items that never produced a player link, typically because the
classifier was down or a mention could not be resolved at the time, and runs
each through the pipeline again.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "reprocess")
		if err != nil {
			return err
		}
		defer env.Close()

		linked, err := env.Engine.ReprocessUnlinked(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("%d items newly linked\n", linked)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(reprocessCmd)
}
