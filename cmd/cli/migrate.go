package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/stockwatch/monitor-service/internal/database"
)

// migrateCmd represents the migrate command
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema",
	Long: `Apply the embedded schema to the connected database. The schema is
idempotent; running migrate against an up-to-date database is a no-op.`,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	if err := database.Migrate(ctx); err != nil {
		return err
	}
	logger.Info().Msg("Schema applied")
	return nil
}
