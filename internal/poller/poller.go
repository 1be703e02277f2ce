// Package poller runs the per-listing poll cycle: fetch, match variants,
// diff, persist, fan out events.
package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/stockwatch/monitor-service/internal/adapters"
	"github.com/stockwatch/monitor-service/internal/database"
	"github.com/stockwatch/monitor-service/internal/diff"
	"github.com/stockwatch/monitor-service/internal/metrics"
	"github.com/stockwatch/monitor-service/internal/notify"
)

// DefaultConcurrency bounds parallel variant processing within one listing.
const DefaultConcurrency = 25

type catalog interface {
	GetStoreListingWithStore(ctx context.Context, id string) (*database.StoreListing, *database.Store, error)
	GetStoreByHandle(ctx context.Context, handle string) (*database.Store, error)
	EnsureStoreListing(ctx context.Context, storeID, externalListingID string) (*database.StoreListing, error)
	MarkListingInactive(ctx context.Context, listingID string) error
	EnsureCollection(ctx context.Context, brand, externalCollectionID string) (*database.Collection, error)
	EnsureProduct(ctx context.Context, collectionID, externalProductID, name string) (*database.Product, error)
	ListVariantListings(ctx context.Context, storeListingID string) (map[string]*database.VariantListingState, error)
	CreateVariantListing(ctx context.Context, productID, storeListingID string, obs adapters.VariantObservation) (*database.VariantListingState, error)
	RecordPrice(ctx context.Context, variantListingID string, expectedLatestPriceID *string, priceInCents int, inStock bool, observedAt time.Time) (*database.Price, error)
}

type adapterResolver interface {
	ResolveAdapter(storeHandle string) (adapters.StoreAdapter, error)
}

type dispatcher interface {
	Dispatch(ctx context.Context, event notify.VariantEvent) error
}

type Poller struct {
	catalog         catalog
	registry        adapterResolver
	dispatcher      dispatcher
	freshnessWindow time.Duration
	concurrency     int
	logger          zerolog.Logger
}

type Option func(*Poller)

func WithFreshnessWindow(d time.Duration) Option {
	return func(p *Poller) { p.freshnessWindow = d }
}

func WithConcurrency(n int) Option {
	return func(p *Poller) { p.concurrency = n }
}

func New(cat catalog, registry adapterResolver, disp dispatcher, logger zerolog.Logger, opts ...Option) *Poller {
	p := &Poller{
		catalog:         cat,
		registry:        registry,
		dispatcher:      disp,
		freshnessWindow: diff.DefaultFreshnessWindow,
		concurrency:     DefaultConcurrency,
		logger:          logger.With().Str("component", "poller").Logger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// PollResult summarizes one listing poll.
type PollResult struct {
	ListingID     string
	Store         string
	Delisted      bool
	VariantsSeen  int
	PricesWritten int
	Events        int
}

// PollListing runs one full poll cycle for a known store listing.
//
// A not-found fetch marks the listing inactive and succeeds: delisting is
// routine. An invalid-response fetch leaves the listing untouched and returns
// the typed error so the caller can decide not to retry.
func (p *Poller) PollListing(ctx context.Context, storeListingID string) (*PollResult, error) {
	ctx, span := otel.Tracer("poller").Start(ctx, "PollListing")
	defer span.End()
	span.SetAttributes(attribute.String("store_listing_id", storeListingID))

	listing, store, err := p.catalog.GetStoreListingWithStore(ctx, storeListingID)
	if err != nil {
		return nil, err
	}

	adapter, err := p.registry.ResolveAdapter(store.Handle)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("store", store.Handle))

	start := time.Now()
	result, err := p.pollWithAdapter(ctx, adapter, store, listing)
	metrics.PollDuration.WithLabelValues(store.Handle).Observe(time.Since(start).Seconds())

	switch {
	case err == nil && result.Delisted:
		metrics.PollsTotal.WithLabelValues(store.Handle, "delisted").Inc()
	case err == nil:
		metrics.PollsTotal.WithLabelValues(store.Handle, "ok").Inc()
	default:
		var invalid *adapters.InvalidResponseError
		if errors.As(err, &invalid) {
			metrics.PollsTotal.WithLabelValues(store.Handle, "invalid_response").Inc()
		} else {
			metrics.PollsTotal.WithLabelValues(store.Handle, "error").Inc()
		}
	}
	return result, err
}

// InsertListing registers a newly discovered external listing and runs its
// first poll, which seeds products, variants, and baseline prices.
func (p *Poller) InsertListing(ctx context.Context, storeHandle, externalListingID string) (*PollResult, error) {
	store, err := p.catalog.GetStoreByHandle(ctx, storeHandle)
	if err != nil {
		return nil, err
	}
	listing, err := p.catalog.EnsureStoreListing(ctx, store.ID, externalListingID)
	if err != nil {
		return nil, err
	}
	return p.PollListing(ctx, listing.ID)
}

func (p *Poller) pollWithAdapter(ctx context.Context, adapter adapters.StoreAdapter, store *database.Store, listing *database.StoreListing) (*PollResult, error) {
	result := &PollResult{ListingID: listing.ID, Store: store.Handle}

	details, err := adapter.FetchListingDetails(ctx, listing.ExternalListingID)
	if errors.Is(err, adapters.ErrListingNotFound) {
		if err := p.catalog.MarkListingInactive(ctx, listing.ID); err != nil {
			return nil, err
		}
		p.logger.Info().
			Str("store", store.Handle).
			Str("store_listing_id", listing.ID).
			Str("external_listing_id", listing.ExternalListingID).
			Msg("listing delisted by store")
		result.Delisted = true
		return result, nil
	}
	var invalid *adapters.InvalidResponseError
	if errors.As(err, &invalid) {
		p.logger.Error().Err(err).
			Str("store", store.Handle).
			Str("store_listing_id", listing.ID).
			Msg("listing response failed validation, leaving listing untouched")
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("fetching listing %s from %s: %w", listing.ExternalListingID, store.Handle, err)
	}

	known, err := p.catalog.ListVariantListings(ctx, listing.ID)
	if err != nil {
		return nil, err
	}
	byExternalVariantID := make(map[string]*database.VariantListingState)
	for _, state := range known {
		if state.Variant.ExternalVariantID != nil {
			byExternalVariantID[state.Variant.ProductID+"\x00"+*state.Variant.ExternalVariantID] = state
		}
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)

	for _, product := range details.Products {
		collection, err := p.catalog.EnsureCollection(ctx, product.Brand, product.ExternalCollectionID)
		if err != nil {
			return nil, err
		}
		dbProduct, err := p.catalog.EnsureProduct(ctx, collection.ID, product.ExternalProductID, product.Name)
		if err != nil {
			return nil, err
		}

		for _, obs := range product.Variants {
			state := p.matchVariant(dbProduct.ID, obs, known, byExternalVariantID)
			g.Go(func() error {
				written, events, err := p.processVariant(gctx, store, dbProduct, listing.ID, obs, state)
				if err != nil {
					return err
				}
				mu.Lock()
				result.VariantsSeen++
				if written {
					result.PricesWritten++
				}
				result.Events += events
				mu.Unlock()
				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}

// matchVariant resolves an observation to a known variant listing, preferring
// the store's stable variant id over the attribute tuple.
func (p *Poller) matchVariant(productID string, obs adapters.VariantObservation, byKey map[string]*database.VariantListingState, byExternalID map[string]*database.VariantListingState) *database.VariantListingState {
	if obs.ExternalVariantID != "" {
		if state, ok := byExternalID[productID+"\x00"+obs.ExternalVariantID]; ok {
			return state
		}
	}
	return byKey[database.VariantKey(productID, adapters.AttributesKey(obs.Attributes))]
}

func (p *Poller) processVariant(ctx context.Context, store *database.Store, product *database.Product, storeListingID string, obs adapters.VariantObservation, state *database.VariantListingState) (written bool, events int, err error) {
	if state == nil {
		// First sighting: variant + listing + baseline price in one
		// transaction. Baselines never raise events.
		if _, err := p.catalog.CreateVariantListing(ctx, product.ID, storeListingID, obs); err != nil {
			return false, 0, err
		}
		metrics.PriceWritesTotal.WithLabelValues(store.Handle).Inc()
		return true, 0, nil
	}

	var last *diff.LastPrice
	if state.LatestPrice != nil {
		last = &diff.LastPrice{
			PriceInCents: state.LatestPrice.PriceInCents,
			InStock:      state.LatestPrice.InStock,
			ObservedAt:   state.LatestPrice.ObservedAt,
		}
	}

	classified := diff.Classify(diff.Observation{
		PriceInCents: obs.PriceInCents,
		InStock:      obs.InStock,
		ObservedAt:   obs.ObservedAt,
	}, last, p.freshnessWindow)

	if !classified.IsOutdated {
		return false, 0, nil
	}

	if _, err := p.catalog.RecordPrice(ctx, state.Listing.ID, state.Listing.LatestPriceID, obs.PriceInCents, obs.InStock, obs.ObservedAt); err != nil {
		// Another poll committed a price after our read. Its writer owns
		// the event fan-out for that observation.
		if errors.Is(err, database.ErrStaleLatestPrice) {
			p.logger.Debug().
				Str("store", store.Handle).
				Str("variant_listing_id", state.Listing.ID).
				Msg("latest price moved during poll, skipping write")
			return false, 0, nil
		}
		return false, 0, err
	}
	metrics.PriceWritesTotal.WithLabelValues(store.Handle).Inc()

	// Events fan out only after the price row is durable, so an alert can
	// never reference a price the database does not have.
	for _, eventType := range eventTypes(classified) {
		event := notify.VariantEvent{
			Event:            eventType,
			ProductVariantID: state.Variant.ID,
			ProductName:      product.Name,
			StoreName:        store.Name,
			ProductURL:       obs.ProductURL,
			PriceInCents:     obs.PriceInCents,
		}
		if err := p.dispatcher.Dispatch(ctx, event); err != nil {
			p.logger.Error().Err(err).
				Str("event", string(eventType)).
				Str("product_variant_id", state.Variant.ID).
				Msg("event dispatch failed")
			continue
		}
		events++
	}
	return true, events, nil
}

func eventTypes(r diff.Result) []database.EventType {
	var types []database.EventType
	if r.HasPriceDropped {
		types = append(types, database.EventPriceDrop)
	}
	if r.HasRestocked {
		types = append(types, database.EventRestock)
	}
	return types
}
