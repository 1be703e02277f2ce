package poller

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stockwatch/monitor-service/internal/adapters"
	"github.com/stockwatch/monitor-service/internal/database"
	"github.com/stockwatch/monitor-service/internal/notify"
	"github.com/stockwatch/monitor-service/internal/pkg/cuid2"
)

type fakeAdapter struct {
	handle  string
	details *adapters.ListingDetails
	err     error
}

func (f *fakeAdapter) Handle() string           { return f.handle }
func (f *fakeAdapter) Name() string             { return f.handle }
func (f *fakeAdapter) DomainPrefixes() []string { return nil }

func (f *fakeAdapter) ListActiveExternalIDs(ctx context.Context, limit int) (map[string]struct{}, error) {
	return nil, nil
}

func (f *fakeAdapter) ResolveExternalID(ctx context.Context, rawURL string) (string, error) {
	return "", adapters.ErrListingNotFound
}

func (f *fakeAdapter) FetchListingDetails(ctx context.Context, externalID string) (*adapters.ListingDetails, error) {
	return f.details, f.err
}

type fakeRegistry struct {
	adapter adapters.StoreAdapter
}

func (f *fakeRegistry) ResolveAdapter(storeHandle string) (adapters.StoreAdapter, error) {
	return f.adapter, nil
}

type fakeDispatcher struct {
	mu     sync.Mutex
	events []notify.VariantEvent
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, event notify.VariantEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

// fakeCatalog is an in-memory stand-in for the database layer, enough state
// to observe the poller's writes.
type fakeCatalog struct {
	mu sync.Mutex

	store   *database.Store
	listing *database.StoreListing
	states  map[string]*database.VariantListingState

	// afterList runs after ListVariantListings snapshots the states,
	// simulating writes that land between the read and the price write.
	afterList func()

	markedInactive []string
	pricesWritten  []database.Price
	created        []adapters.VariantObservation
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		store:   &database.Store{ID: "str_1", Handle: "jcrew", Name: "J.Crew"},
		listing: &database.StoreListing{ID: "lst_1", StoreID: "str_1", ExternalListingID: "BX291", Active: true},
		states:  make(map[string]*database.VariantListingState),
	}
}

func (f *fakeCatalog) GetStoreListingWithStore(ctx context.Context, id string) (*database.StoreListing, *database.Store, error) {
	return f.listing, f.store, nil
}

func (f *fakeCatalog) GetStoreByHandle(ctx context.Context, handle string) (*database.Store, error) {
	return f.store, nil
}

func (f *fakeCatalog) EnsureStoreListing(ctx context.Context, storeID, externalListingID string) (*database.StoreListing, error) {
	return f.listing, nil
}

func (f *fakeCatalog) MarkListingInactive(ctx context.Context, listingID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markedInactive = append(f.markedInactive, listingID)
	return nil
}

func (f *fakeCatalog) EnsureCollection(ctx context.Context, brand, externalCollectionID string) (*database.Collection, error) {
	return &database.Collection{ID: "col_1", Brand: brand, ExternalCollectionID: externalCollectionID}, nil
}

func (f *fakeCatalog) EnsureProduct(ctx context.Context, collectionID, externalProductID, name string) (*database.Product, error) {
	return &database.Product{ID: "prd_1", CollectionID: collectionID, ExternalProductID: externalProductID, Name: name}, nil
}

func (f *fakeCatalog) ListVariantListings(ctx context.Context, storeListingID string) (map[string]*database.VariantListingState, error) {
	f.mu.Lock()
	out := make(map[string]*database.VariantListingState, len(f.states))
	for k, v := range f.states {
		out[k] = v
	}
	f.mu.Unlock()
	if f.afterList != nil {
		f.afterList()
	}
	return out, nil
}

func (f *fakeCatalog) CreateVariantListing(ctx context.Context, productID, storeListingID string, obs adapters.VariantObservation) (*database.VariantListingState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, obs)

	priceID := cuid2.New("prc")
	state := &database.VariantListingState{
		Listing: database.ProductVariantListing{
			ID:             cuid2.New("pvl"),
			StoreListingID: storeListingID,
			LatestPriceID:  &priceID,
		},
		Variant: database.ProductVariant{
			ID:            cuid2.New("var"),
			ProductID:     productID,
			AttributesKey: adapters.AttributesKey(obs.Attributes),
			Attributes:    obs.Attributes,
		},
		LatestPrice: &database.Price{
			ID:           priceID,
			PriceInCents: obs.PriceInCents,
			InStock:      obs.InStock,
			ObservedAt:   obs.ObservedAt,
		},
	}
	f.states[database.VariantKey(productID, state.Variant.AttributesKey)] = state
	return state, nil
}

func (f *fakeCatalog) RecordPrice(ctx context.Context, variantListingID string, expectedLatestPriceID *string, priceInCents int, inStock bool, observedAt time.Time) (*database.Price, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, st := range f.states {
		if st.Listing.ID != variantListingID {
			continue
		}
		current := st.Listing.LatestPriceID
		same := current == nil && expectedLatestPriceID == nil ||
			current != nil && expectedLatestPriceID != nil && *current == *expectedLatestPriceID
		if !same {
			return nil, database.ErrStaleLatestPrice
		}
	}
	price := database.Price{
		ID:                      cuid2.New("prc"),
		ProductVariantListingID: variantListingID,
		PriceInCents:            priceInCents,
		InStock:                 inStock,
		ObservedAt:              observedAt,
	}
	f.pricesWritten = append(f.pricesWritten, price)
	return &price, nil
}

func seedState(cat *fakeCatalog, productID string, attrs []adapters.VariantAttribute, priceInCents int, inStock bool, observedAt time.Time) *database.VariantListingState {
	key := adapters.AttributesKey(attrs)
	priceID := cuid2.New("prc")
	state := &database.VariantListingState{
		Listing: database.ProductVariantListing{
			ID:             cuid2.New("pvl"),
			StoreListingID: cat.listing.ID,
			LatestPriceID:  &priceID,
		},
		Variant: database.ProductVariant{
			ID:            cuid2.New("var"),
			ProductID:     productID,
			AttributesKey: key,
			Attributes:    attrs,
		},
		LatestPrice: &database.Price{
			ID:           priceID,
			PriceInCents: priceInCents,
			InStock:      inStock,
			ObservedAt:   observedAt,
		},
	}
	cat.states[database.VariantKey(productID, key)] = state
	return state
}

func listingWith(variants ...adapters.VariantObservation) *adapters.ListingDetails {
	return &adapters.ListingDetails{Products: []adapters.ProductDetails{{
		ExternalProductID:    "E462",
		Name:                 "Slim Oxford Shirt",
		Brand:                "J.Crew",
		ExternalCollectionID: "mens-shirts",
		Variants:             variants,
	}}}
}

var sizeM = []adapters.VariantAttribute{{Name: "Size", Value: "M"}}

func TestPollListingFirstObservationSeedsBaselineWithoutEvents(t *testing.T) {
	cat := newFakeCatalog()
	disp := &fakeDispatcher{}
	adapter := &fakeAdapter{handle: "jcrew", details: listingWith(adapters.VariantObservation{
		Attributes:   sizeM,
		PriceInCents: 4999,
		InStock:      true,
		ObservedAt:   time.Now(),
	})}
	p := New(cat, &fakeRegistry{adapter: adapter}, disp, zerolog.Nop())

	result, err := p.PollListing(context.Background(), "lst_1")
	require.NoError(t, err)

	assert.Equal(t, 1, result.VariantsSeen)
	assert.Equal(t, 1, result.PricesWritten)
	assert.Equal(t, 0, result.Events)
	assert.Len(t, cat.created, 1)
	assert.Empty(t, disp.events)
}

func TestPollListingUnchangedFreshObservationWritesNothing(t *testing.T) {
	cat := newFakeCatalog()
	seedState(cat, "prd_1", sizeM, 4999, true, time.Now().Add(-time.Hour))
	disp := &fakeDispatcher{}
	adapter := &fakeAdapter{handle: "jcrew", details: listingWith(adapters.VariantObservation{
		Attributes:   sizeM,
		PriceInCents: 4999,
		InStock:      true,
		ObservedAt:   time.Now(),
	})}
	p := New(cat, &fakeRegistry{adapter: adapter}, disp, zerolog.Nop())

	result, err := p.PollListing(context.Background(), "lst_1")
	require.NoError(t, err)

	assert.Equal(t, 1, result.VariantsSeen)
	assert.Equal(t, 0, result.PricesWritten)
	assert.Empty(t, cat.pricesWritten)
	assert.Empty(t, disp.events)
}

func TestPollListingPriceDropWritesAndDispatches(t *testing.T) {
	cat := newFakeCatalog()
	state := seedState(cat, "prd_1", sizeM, 4999, true, time.Now().Add(-time.Hour))
	disp := &fakeDispatcher{}
	adapter := &fakeAdapter{handle: "jcrew", details: listingWith(adapters.VariantObservation{
		Attributes:   sizeM,
		PriceInCents: 3999,
		InStock:      true,
		ProductURL:   "https://www.jcrew.com/p/slim-oxford/BX291",
		ObservedAt:   time.Now(),
	})}
	p := New(cat, &fakeRegistry{adapter: adapter}, disp, zerolog.Nop())

	result, err := p.PollListing(context.Background(), "lst_1")
	require.NoError(t, err)

	assert.Equal(t, 1, result.PricesWritten)
	require.Len(t, cat.pricesWritten, 1)
	assert.Equal(t, 3999, cat.pricesWritten[0].PriceInCents)

	require.Len(t, disp.events, 1)
	event := disp.events[0]
	assert.Equal(t, database.EventPriceDrop, event.Event)
	assert.Equal(t, state.Variant.ID, event.ProductVariantID)
	assert.Equal(t, "Slim Oxford Shirt", event.ProductName)
	assert.Equal(t, "J.Crew", event.StoreName)
	assert.Equal(t, 3999, event.PriceInCents)
}

func TestPollListingRestockAndDropCoOccur(t *testing.T) {
	cat := newFakeCatalog()
	seedState(cat, "prd_1", sizeM, 5000, false, time.Now().Add(-time.Hour))
	disp := &fakeDispatcher{}
	adapter := &fakeAdapter{handle: "jcrew", details: listingWith(adapters.VariantObservation{
		Attributes:   sizeM,
		PriceInCents: 4500,
		InStock:      true,
		ObservedAt:   time.Now(),
	})}
	p := New(cat, &fakeRegistry{adapter: adapter}, disp, zerolog.Nop())

	result, err := p.PollListing(context.Background(), "lst_1")
	require.NoError(t, err)

	assert.Equal(t, 2, result.Events)
	require.Len(t, disp.events, 2)
	seen := map[database.EventType]bool{}
	for _, e := range disp.events {
		seen[e.Event] = true
	}
	assert.True(t, seen[database.EventPriceDrop])
	assert.True(t, seen[database.EventRestock])
}

func TestPollListingStaleObservationConfirmsWithoutEvents(t *testing.T) {
	cat := newFakeCatalog()
	seedState(cat, "prd_1", sizeM, 4999, true, time.Now().Add(-13*time.Hour))
	disp := &fakeDispatcher{}
	adapter := &fakeAdapter{handle: "jcrew", details: listingWith(adapters.VariantObservation{
		Attributes:   sizeM,
		PriceInCents: 4999,
		InStock:      true,
		ObservedAt:   time.Now(),
	})}
	p := New(cat, &fakeRegistry{adapter: adapter}, disp, zerolog.Nop())

	result, err := p.PollListing(context.Background(), "lst_1")
	require.NoError(t, err)

	assert.Equal(t, 1, result.PricesWritten)
	assert.Empty(t, disp.events)
}

func TestPollListingNotFoundMarksInactive(t *testing.T) {
	cat := newFakeCatalog()
	adapter := &fakeAdapter{handle: "jcrew", err: adapters.ErrListingNotFound}
	p := New(cat, &fakeRegistry{adapter: adapter}, &fakeDispatcher{}, zerolog.Nop())

	result, err := p.PollListing(context.Background(), "lst_1")
	require.NoError(t, err)

	assert.True(t, result.Delisted)
	assert.Equal(t, []string{"lst_1"}, cat.markedInactive)
}

func TestPollListingInvalidResponseLeavesListingUntouched(t *testing.T) {
	cat := newFakeCatalog()
	seedState(cat, "prd_1", sizeM, 4999, true, time.Now().Add(-time.Hour))
	adapter := &fakeAdapter{handle: "jcrew", err: &adapters.InvalidResponseError{
		StoreHandle: "jcrew",
		ExternalID:  "BX291",
		Reason:      "missing price field",
	}}
	p := New(cat, &fakeRegistry{adapter: adapter}, &fakeDispatcher{}, zerolog.Nop())

	_, err := p.PollListing(context.Background(), "lst_1")
	var invalid *adapters.InvalidResponseError
	require.ErrorAs(t, err, &invalid)

	assert.Empty(t, cat.markedInactive)
	assert.Empty(t, cat.pricesWritten)
}

func TestPollListingMatchesByExternalVariantIDWhenAttributesDrift(t *testing.T) {
	cat := newFakeCatalog()
	externalID := "sku-771"
	state := seedState(cat, "prd_1", sizeM, 4999, true, time.Now().Add(-time.Hour))
	state.Variant.ExternalVariantID = &externalID

	disp := &fakeDispatcher{}
	// Store renamed the attribute but kept the stable variant id.
	adapter := &fakeAdapter{handle: "jcrew", details: listingWith(adapters.VariantObservation{
		ExternalVariantID: externalID,
		Attributes:        []adapters.VariantAttribute{{Name: "Size", Value: "Medium"}},
		PriceInCents:      3999,
		InStock:           true,
		ObservedAt:        time.Now(),
	})}
	p := New(cat, &fakeRegistry{adapter: adapter}, disp, zerolog.Nop())

	result, err := p.PollListing(context.Background(), "lst_1")
	require.NoError(t, err)

	// Matched the existing variant instead of creating a second one.
	assert.Empty(t, cat.created)
	assert.Equal(t, 1, result.PricesWritten)
	require.Len(t, disp.events, 1)
	assert.Equal(t, state.Variant.ID, disp.events[0].ProductVariantID)
}

func TestPollListingSkipsWriteWhenLatestPriceMovedUnderneath(t *testing.T) {
	cat := newFakeCatalog()
	state := seedState(cat, "prd_1", sizeM, 4999, true, time.Now().Add(-time.Hour))
	key := database.VariantKey("prd_1", adapters.AttributesKey(sizeM))

	// A concurrent poll commits 3999 between this poll's read and its write.
	cat.afterList = func() {
		cat.mu.Lock()
		defer cat.mu.Unlock()
		newID := cuid2.New("prc")
		moved := *state
		moved.Listing.LatestPriceID = &newID
		moved.LatestPrice = &database.Price{ID: newID, PriceInCents: 3999, InStock: true, ObservedAt: time.Now()}
		cat.states[key] = &moved
	}

	disp := &fakeDispatcher{}
	adapter := &fakeAdapter{handle: "jcrew", details: listingWith(adapters.VariantObservation{
		Attributes:   sizeM,
		PriceInCents: 3999,
		InStock:      true,
		ObservedAt:   time.Now(),
	})}
	p := New(cat, &fakeRegistry{adapter: adapter}, disp, zerolog.Nop())

	result, err := p.PollListing(context.Background(), "lst_1")
	require.NoError(t, err)

	// No duplicate row and no duplicate alert: the concurrent writer owns both.
	assert.Equal(t, 0, result.PricesWritten)
	assert.Empty(t, cat.pricesWritten)
	assert.Empty(t, disp.events)
}

func TestInsertListingSeedsNewListing(t *testing.T) {
	cat := newFakeCatalog()
	disp := &fakeDispatcher{}
	adapter := &fakeAdapter{handle: "jcrew", details: listingWith(adapters.VariantObservation{
		Attributes:   sizeM,
		PriceInCents: 2500,
		InStock:      true,
		ObservedAt:   time.Now(),
	})}
	p := New(cat, &fakeRegistry{adapter: adapter}, disp, zerolog.Nop())

	result, err := p.InsertListing(context.Background(), "jcrew", "BX291")
	require.NoError(t, err)
	assert.Equal(t, 1, result.PricesWritten)
	assert.Len(t, cat.created, 1)
	assert.Empty(t, disp.events)
}
