package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"github.com/stockwatch/monitor-service/config"
	"github.com/stockwatch/monitor-service/internal/export"
)

var (
	exportStore string
	exportDays  int
	exportOut   string
)

// exportCmd represents the export command
var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export price history to an XLSX workbook",
	Long: `Export price observations, joined with their store, product, and variant
context, into an XLSX workbook for offline analysis. The export runs over a
separate read-only database/sql connection so a long run never starves the
pipeline's pool.`,
	Example: `  monitor-service export --out prices.xlsx
  monitor-service export --store jcrew --days 7 --out jcrew-week.xlsx`,
	RunE: runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().StringVar(&exportStore, "store", "", "Limit the export to one store handle")
	exportCmd.Flags().IntVar(&exportDays, "days", 30, "How many days of history to export")
	exportCmd.Flags().StringVar(&exportOut, "out", "price-history.xlsx", "Output file path")
}

func runExport(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	db, err := sql.Open("postgres", config.GetDatabaseURL())
	if err != nil {
		return fmt.Errorf("opening export connection: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("pinging export connection: %w", err)
	}

	since := time.Now().AddDate(0, 0, -exportDays)
	rows, err := export.QueryPriceHistory(ctx, db, exportStore, since)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		logger.Warn().Msg("No price history in the selected window")
	}

	if err := export.WriteXLSX(rows, exportOut); err != nil {
		return err
	}

	logger.Info().
		Int("rows", len(rows)).
		Str("out", exportOut).
		Msg("Export complete")
	return nil
}
