package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/stockwatch/monitor-service/internal/database"
	"github.com/stockwatch/monitor-service/internal/reconcile"
	"github.com/stockwatch/monitor-service/internal/taskqueue"
)

var (
	reconcileAll   bool
	reconcileLimit int
)

// reconcileCmd represents the reconcile command
var reconcileCmd = &cobra.Command{
	Use:   "reconcile <store>",
	Short: "Reconcile a store's catalog against the database",
	Long: `Enumerate every listing a store currently advertises and fold the result
into the catalog: unknown listings are inserted and queued for first ingestion,
previously delisted ones are reactivated, everything else is left alone.

Use --all to reconcile every registered store.`,
	Example: `  monitor-service reconcile jcrew
  monitor-service reconcile uniqlo --limit 500
  monitor-service reconcile --all`,
	Args: cobra.MaximumNArgs(1),
	RunE: runReconcile,
}

func init() {
	rootCmd.AddCommand(reconcileCmd)

	reconcileCmd.Flags().BoolVar(&reconcileAll, "all", false, "Reconcile all registered stores")
	reconcileCmd.Flags().IntVar(&reconcileLimit, "limit", 0, "Stop enumerating after this many listings (0 = no limit)")
}

func runReconcile(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	reg, err := buildRegistry()
	if err != nil {
		return err
	}

	var handles []string
	if reconcileAll {
		handles = reg.Handles()
	} else {
		if len(args) == 0 {
			return fmt.Errorf("either specify <store> or use --all flag\nRegistered stores: %s", strings.Join(reg.Handles(), ", "))
		}
		handles = []string{args[0]}
	}

	catalog := database.NewCatalog(database.Pool())
	queue := taskqueue.New(database.Pool())
	reconciler := reconcile.New(catalog, queue, *logger)

	if err := ensureStores(ctx, catalog, reg); err != nil {
		return err
	}

	var results []*reconcile.Result
	var failed bool
	for _, handle := range handles {
		adapter, err := reg.ResolveAdapter(handle)
		if err != nil {
			return err
		}
		result, err := reconciler.ReconcileStore(ctx, adapter, reconcileLimit)
		if err != nil {
			logger.Error().Str("store", handle).Err(err).Msg("Reconciliation failed")
			failed = true
			continue
		}
		results = append(results, result)
	}

	displayReconcileResults(results)
	if failed {
		return fmt.Errorf("some reconciliations failed")
	}
	return nil
}

func displayReconcileResults(results []*reconcile.Result) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "STORE\tDISCOVERED\tNEW\tREACTIVATED\tKNOWN")
	fmt.Fprintln(w, "-----\t----------\t---\t-----------\t-----")

	for _, r := range results {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\n", r.Store, r.Discovered, r.New, r.Reactivated, r.Known)
	}

	w.Flush()
}
