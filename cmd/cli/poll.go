package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/stockwatch/monitor-service/internal/database"
	"github.com/stockwatch/monitor-service/internal/notify"
	"github.com/stockwatch/monitor-service/internal/poller"
)

// pollCmd represents the poll command
var pollCmd = &cobra.Command{
	Use:   "poll <store-listing-id>",
	Short: "Poll one store listing immediately",
	Long: `Run a full poll cycle for a single store listing outside the scheduler:
fetch current details from the store, match variants, classify the observations,
persist outdated prices, and dispatch any resulting alerts.`,
	Example: `  monitor-service poll lst_0awxyz1k2m3n4p5q6r7s8t9u`,
	Args:    cobra.ExactArgs(1),
	RunE:    runPoll,
}

func init() {
	rootCmd.AddCommand(pollCmd)
}

func runPoll(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	reg, err := buildRegistry()
	if err != nil {
		return err
	}

	catalog := database.NewCatalog(database.Pool())
	dispatcher := notify.NewDispatcher(catalog, &notify.LogSender{Logger: *logger}, *logger,
		notify.WithCooldown(cfg.Notify.Cooldown),
	)
	pipeline := poller.New(catalog, reg, dispatcher, *logger,
		poller.WithFreshnessWindow(cfg.Pipeline.FreshnessWindow),
		poller.WithConcurrency(cfg.Pipeline.Concurrency),
	)

	result, err := pipeline.PollListing(ctx, args[0])
	if err != nil {
		return err
	}

	event := logger.Info().
		Str("store", result.Store).
		Str("store_listing_id", result.ListingID)
	if result.Delisted {
		event.Msg("Listing delisted by store")
		return nil
	}
	event.
		Int("variants_seen", result.VariantsSeen).
		Int("prices_written", result.PricesWritten).
		Int("events", result.Events).
		Msg("Poll complete")
	return nil
}
