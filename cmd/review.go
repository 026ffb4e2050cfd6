package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var reviewLimit int

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Work the manual review queue",
}

var reviewListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued mentions awaiting manual resolution",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "player")
		if err != nil {
			return err
		}
		defer env.Close()

		entries, err := env.Store.ListReview(ctx, reviewLimit)
		if err != nil {
			return err
		}
		for _, e := range entries {
			fmt.Printf("%s  [%s/%s]  %q  (news %s)  %s\n",
				e.ID, e.Kind, e.ErrorType, e.Mention, e.NewsID, e.Reason)
		}
		fmt.Printf("%d entries\n", len(entries))
		return nil
	},
}

var reviewResolveCmd = &cobra.Command{
	Use:   "resolve <entry-id>",
	Short: "Remove a handled entry from the queue",
	Long: `Removes the entry after the operator has fixed the underlying problem,
usually by adding an alias or confirming an entity, then reprocessing.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "player")
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Store.RemoveReview(ctx, args[0]); err != nil {
			return err
		}
		fmt.Println("resolved:", args[0])
		return nil
	},
}

func init() {
	reviewListCmd.Flags().IntVar(&reviewLimit, "limit", 50, "maximum entries to list")
	reviewCmd.AddCommand(reviewListCmd, reviewResolveCmd)
	rootCmd.AddCommand(reviewCmd)
}
