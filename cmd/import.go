package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/n17-labs/transferwatch/internal/model"
	"github.com/n17-labs/transferwatch/internal/store"
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Bulk-load archives into PostgreSQL",
	Long: `Loads large JSON dumps through the COPY protocol instead of row-by-row
inserts. Postgres only; SQLite deployments use the ingest command.`,
}

var importNewsCmd = &cobra.Command{
	Use:   "news <file.json>",
	Short: "Import a news archive (JSON array of items)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, ps, err := initPostgresEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		var items []model.NewsItem
		if err := readJSONFile(args[0], &items); err != nil {
			return err
		}

		n, err := ps.BulkImportNews(ctx, items)
		if err != nil {
			return err
		}
		fmt.Printf("imported %d news items\n", n)
		return nil
	},
}

var importEntitiesCmd = &cobra.Command{
	Use:   "entities <file.json>",
	Short: "Seed the entity canon (JSON array of entities)",
	Long: `Upserts curated players and clubs. Names, clubs, and aliases are updated
on conflict; operator confirmation flags are preserved.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, ps, err := initPostgresEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		var entities []model.Entity
		if err := readJSONFile(args[0], &entities); err != nil {
			return err
		}

		n, err := ps.SeedEntities(ctx, entities)
		if err != nil {
			return err
		}
		fmt.Printf("seeded %d entities\n", n)
		return nil
	},
}

func initPostgresEnv(ctx context.Context) (*appEnv, *store.PostgresStore, error) {
	env, err := initEnv(ctx, "import")
	if err != nil {
		return nil, nil, err
	}
	ps, ok := env.Store.(*store.PostgresStore)
	if !ok {
		env.Close()
		return nil, nil, eris.New("import requires store.backend postgres")
	}
	return env, ps, nil
}

func readJSONFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return eris.Wrap(err, "read input")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return eris.Wrap(err, "decode input")
	}
	return nil
}

func init() {
	importCmd.AddCommand(importNewsCmd, importEntitiesCmd)
	rootCmd.AddCommand(importCmd)
}
