package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/stockwatch/monitor-service/internal/adapters"
	"github.com/stockwatch/monitor-service/internal/adapters/registry"
	"github.com/stockwatch/monitor-service/internal/poller"
	"github.com/stockwatch/monitor-service/internal/reconcile"
	"github.com/stockwatch/monitor-service/internal/taskqueue"
)

// NewPollListingHandler handles poll-store-listing jobs. Invalid store
// responses are permanent failures: the payload will not fix itself on retry.
func NewPollListingHandler(p *poller.Poller) Handler {
	return func(ctx context.Context, payload []byte) error {
		var req taskqueue.PollStoreListingPayload
		if err := json.Unmarshal(payload, &req); err != nil {
			return Permanent(fmt.Errorf("decoding poll payload: %w", err))
		}
		if req.StoreListingID == "" {
			return Permanent(errors.New("poll payload missing storeListingId"))
		}

		_, err := p.PollListing(ctx, req.StoreListingID)
		var invalid *adapters.InvalidResponseError
		if errors.As(err, &invalid) {
			return Permanent(err)
		}
		return err
	}
}

// NewInsertListingHandler handles insert-store-listing jobs enqueued by the
// reconciler for newly discovered external ids.
func NewInsertListingHandler(p *poller.Poller) Handler {
	return func(ctx context.Context, payload []byte) error {
		var req taskqueue.InsertStoreListingPayload
		if err := json.Unmarshal(payload, &req); err != nil {
			return Permanent(fmt.Errorf("decoding insert payload: %w", err))
		}
		if req.Store == "" || req.ExternalListingID == "" {
			return Permanent(errors.New("insert payload missing store or externalListingId"))
		}

		_, err := p.InsertListing(ctx, req.Store, req.ExternalListingID)
		var invalid *adapters.InvalidResponseError
		if errors.As(err, &invalid) {
			return Permanent(err)
		}
		return err
	}
}

// NewReconcileStoreHandler handles reconcile-store jobs.
func NewReconcileStoreHandler(r *reconcile.Reconciler, reg *registry.Registry) Handler {
	return func(ctx context.Context, payload []byte) error {
		var req taskqueue.ReconcileStorePayload
		if err := json.Unmarshal(payload, &req); err != nil {
			return Permanent(fmt.Errorf("decoding reconcile payload: %w", err))
		}

		adapter, err := reg.ResolveAdapter(req.Store)
		if err != nil {
			return Permanent(err)
		}
		_, err = r.ReconcileStore(ctx, adapter, 0)
		return err
	}
}
