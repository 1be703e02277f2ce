package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stockwatch/monitor-service/internal/database"
	"github.com/stockwatch/monitor-service/internal/taskqueue"
)

var resolveEnqueue bool

// resolveURLCmd represents the resolve-url command
var resolveURLCmd = &cobra.Command{
	Use:   "resolve-url <product-url>",
	Short: "Resolve a product URL to a store and external listing id",
	Long: `Dispatch a product page URL to the adapter whose domain matches, resolve
the external listing id, and optionally enqueue an insert job so the pipeline
starts tracking the listing.`,
	Example: `  monitor-service resolve-url https://www.jcrew.com/p/mens/shirts/slim-oxford/BX291
  monitor-service resolve-url https://www.uniqlo.com/us/en/products/E462-000 --enqueue`,
	Args: cobra.ExactArgs(1),
	RunE: runResolveURL,
}

func init() {
	rootCmd.AddCommand(resolveURLCmd)

	resolveURLCmd.Flags().BoolVar(&resolveEnqueue, "enqueue", false, "Enqueue an insert job for the resolved listing")
}

func runResolveURL(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	rawURL := args[0]

	reg, err := buildRegistry()
	if err != nil {
		return err
	}

	adapter, err := reg.ResolveAdapterFromURL(rawURL)
	if err != nil {
		return fmt.Errorf("no registered store matches %s: %w", rawURL, err)
	}

	externalID, err := adapter.ResolveExternalID(ctx, rawURL)
	if err != nil {
		return fmt.Errorf("resolving %s on %s: %w", rawURL, adapter.Handle(), err)
	}

	logger.Info().
		Str("store", adapter.Handle()).
		Str("external_listing_id", externalID).
		Msg("Resolved listing")

	if !resolveEnqueue {
		return nil
	}

	queue := taskqueue.New(database.Pool())
	id, err := queue.Enqueue(ctx, taskqueue.EnqueueInput{
		Kind: taskqueue.KindInsertStoreListing,
		Payload: taskqueue.InsertStoreListingPayload{
			Store:             adapter.Handle(),
			ExternalListingID: externalID,
		},
		SingletonKey: adapter.Handle() + ":" + externalID,
	})
	if err != nil {
		return err
	}
	if id == "" {
		logger.Info().Msg("Insert job already pending")
	} else {
		logger.Info().Str("task_id", id).Msg("Insert job enqueued")
	}
	return nil
}
