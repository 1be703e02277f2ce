// Package reconcile aligns the listing catalog with what each store's
// collection endpoints currently advertise.
//
// Reconciliation is additive: external ids the store stops advertising are
// left untouched, because delisting is only decided by a direct listing
// fetch returning not-found. The reconciler's job is discovery.
package reconcile

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/stockwatch/monitor-service/internal/adapters"
	"github.com/stockwatch/monitor-service/internal/database"
	"github.com/stockwatch/monitor-service/internal/metrics"
	"github.com/stockwatch/monitor-service/internal/taskqueue"
)

type catalog interface {
	GetStoreByHandle(ctx context.Context, handle string) (*database.Store, error)
	ListKnownListings(ctx context.Context, storeID string, externalIDs []string) ([]database.StoreListing, error)
	BulkInsertListings(ctx context.Context, storeID string, externalIDs []string) (int, error)
	BulkReactivateListings(ctx context.Context, listingIDs []string) (int, error)
}

type enqueuer interface {
	Enqueue(ctx context.Context, input taskqueue.EnqueueInput) (string, error)
}

type Reconciler struct {
	catalog catalog
	queue   enqueuer
	logger  zerolog.Logger
}

func New(cat catalog, queue enqueuer, logger zerolog.Logger) *Reconciler {
	return &Reconciler{
		catalog: cat,
		queue:   queue,
		logger:  logger.With().Str("component", "reconciler").Logger(),
	}
}

// Result summarizes one reconciliation pass.
type Result struct {
	Store       string
	Discovered  int
	New         int
	Reactivated int
	Known       int
}

// ReconcileStore lists every external id the adapter can currently see and
// folds it into the catalog: unknown ids are inserted inactive-first via an
// insert job, previously delisted ids are reactivated, active ids are left
// alone. Limit <= 0 means unbounded.
func (r *Reconciler) ReconcileStore(ctx context.Context, adapter adapters.StoreAdapter, limit int) (*Result, error) {
	handle := adapter.Handle()

	store, err := r.catalog.GetStoreByHandle(ctx, handle)
	if err != nil {
		return nil, fmt.Errorf("resolve store %s: %w", handle, err)
	}

	externalIDs, err := adapter.ListActiveExternalIDs(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list active listings for %s: %w", handle, err)
	}
	if len(externalIDs) == 0 {
		// An empty catalog response is far more likely a broken endpoint
		// than a store that sells nothing.
		return nil, fmt.Errorf("store %s advertised zero listings, refusing to reconcile", handle)
	}

	ids := make([]string, 0, len(externalIDs))
	for id := range externalIDs {
		ids = append(ids, id)
	}

	known, err := r.catalog.ListKnownListings(ctx, store.ID, ids)
	if err != nil {
		return nil, fmt.Errorf("load known listings for %s: %w", handle, err)
	}

	knownByExternalID := make(map[string]database.StoreListing, len(known))
	for _, listing := range known {
		knownByExternalID[listing.ExternalListingID] = listing
	}

	var newIDs []string
	var reactivateIDs []string
	result := &Result{Store: handle, Discovered: len(ids)}
	for _, id := range ids {
		listing, ok := knownByExternalID[id]
		switch {
		case !ok:
			newIDs = append(newIDs, id)
		case !listing.Active:
			reactivateIDs = append(reactivateIDs, listing.ID)
		default:
			result.Known++
		}
	}

	if len(newIDs) > 0 {
		inserted, err := r.catalog.BulkInsertListings(ctx, store.ID, newIDs)
		if err != nil {
			return nil, fmt.Errorf("insert new listings for %s: %w", handle, err)
		}
		result.New = inserted
		metrics.ReconcileListingsTotal.WithLabelValues(handle, "inserted").Add(float64(inserted))

		for _, externalID := range newIDs {
			_, err := r.queue.Enqueue(ctx, taskqueue.EnqueueInput{
				Kind: taskqueue.KindInsertStoreListing,
				Payload: taskqueue.InsertStoreListingPayload{
					Store:             handle,
					ExternalListingID: externalID,
				},
				SingletonKey: handle + ":" + externalID,
			})
			if err != nil {
				r.logger.Error().Err(err).
					Str("store", handle).
					Str("external_listing_id", externalID).
					Msg("failed to enqueue insert job")
			}
		}
	}

	if len(reactivateIDs) > 0 {
		reactivated, err := r.catalog.BulkReactivateListings(ctx, reactivateIDs)
		if err != nil {
			return nil, fmt.Errorf("reactivate listings for %s: %w", handle, err)
		}
		result.Reactivated = reactivated
		metrics.ReconcileListingsTotal.WithLabelValues(handle, "reactivated").Add(float64(reactivated))
	}

	r.logger.Info().
		Str("store", handle).
		Int("discovered", result.Discovered).
		Int("new", result.New).
		Int("reactivated", result.Reactivated).
		Int("known", result.Known).
		Msg("reconciliation pass complete")

	return result, nil
}
