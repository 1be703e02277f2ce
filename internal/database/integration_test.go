package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/stockwatch/monitor-service/internal/adapters"
)

// TestCatalogIntegration exercises the catalog and subscription layers
// against a real Postgres.
func TestCatalogIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForAll(
				wait.ForListeningPort("5432/tcp").
					WithStartupTimeout(60*time.Second),
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(1).
					WithStartupTimeout(60*time.Second),
			),
		),
	)
	require.NoError(t, err)
	defer container.Terminate(ctx)

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	require.NoError(t, Connect(ctx, connStr, 10, 2, 0, 0))
	defer Close()

	require.NoError(t, Migrate(ctx))

	catalog := NewCatalog(Pool())

	store, err := catalog.EnsureStore(ctx, "jcrew", "J.Crew", "https://www.jcrew.com")
	require.NoError(t, err)

	listing, err := catalog.EnsureStoreListing(ctx, store.ID, "BX291")
	require.NoError(t, err)
	assert.True(t, listing.Active)

	collection, err := catalog.EnsureCollection(ctx, "J.Crew", "mens-shirts")
	require.NoError(t, err)
	product, err := catalog.EnsureProduct(ctx, collection.ID, "BX291", "Slim Oxford Shirt")
	require.NoError(t, err)

	obs := adapters.VariantObservation{
		Attributes:   []adapters.VariantAttribute{{Name: "Size", Value: "M"}},
		PriceInCents: 4999,
		InStock:      true,
		ProductURL:   "https://www.jcrew.com/p/slim-oxford/BX291",
		ObservedAt:   time.Now(),
	}

	t.Run("CreateVariantListingSeedsBaseline", func(t *testing.T) {
		state, err := catalog.CreateVariantListing(ctx, product.ID, listing.ID, obs)
		require.NoError(t, err)
		require.NotNil(t, state.LatestPrice)
		assert.Equal(t, 4999, state.LatestPrice.PriceInCents)

		states, err := catalog.ListVariantListings(ctx, listing.ID)
		require.NoError(t, err)
		got, ok := states[VariantKey(product.ID, "Size=M")]
		require.True(t, ok)
		assert.Equal(t, state.Variant.ID, got.Variant.ID)
	})

	t.Run("RecordPriceMovesLatestPointer", func(t *testing.T) {
		states, err := catalog.ListVariantListings(ctx, listing.ID)
		require.NoError(t, err)
		state := states[VariantKey(product.ID, "Size=M")]
		require.NotNil(t, state)

		price, err := catalog.RecordPrice(ctx, state.Listing.ID, state.Listing.LatestPriceID, 3999, true, time.Now())
		require.NoError(t, err)

		states, err = catalog.ListVariantListings(ctx, listing.ID)
		require.NoError(t, err)
		state = states[VariantKey(product.ID, "Size=M")]
		require.NotNil(t, state.LatestPrice)
		assert.Equal(t, price.ID, state.LatestPrice.ID)
		assert.Equal(t, 3999, state.LatestPrice.PriceInCents)
	})

	t.Run("RecordPriceRejectsStalePointer", func(t *testing.T) {
		states, err := catalog.ListVariantListings(ctx, listing.ID)
		require.NoError(t, err)
		state := states[VariantKey(product.ID, "Size=M")]
		require.NotNil(t, state)

		// A pointer read before the previous subtest's write is stale now.
		stale := "prc_gone"
		_, err = catalog.RecordPrice(ctx, state.Listing.ID, &stale, 2999, true, time.Now())
		require.ErrorIs(t, err, ErrStaleLatestPrice)

		// The losing write left no row and did not move the pointer.
		states, err = catalog.ListVariantListings(ctx, listing.ID)
		require.NoError(t, err)
		state = states[VariantKey(product.ID, "Size=M")]
		require.NotNil(t, state.LatestPrice)
		assert.Equal(t, 3999, state.LatestPrice.PriceInCents)
	})

	t.Run("ReconcileBulkHelpers", func(t *testing.T) {
		inserted, err := catalog.BulkInsertListings(ctx, store.ID, []string{"BX292", "BX293"})
		require.NoError(t, err)
		assert.Equal(t, 2, inserted)

		// Re-inserting is a no-op.
		inserted, err = catalog.BulkInsertListings(ctx, store.ID, []string{"BX292"})
		require.NoError(t, err)
		assert.Equal(t, 0, inserted)

		known, err := catalog.ListKnownListings(ctx, store.ID, []string{"BX292", "BX293", "BX999"})
		require.NoError(t, err)
		assert.Len(t, known, 2)

		require.NoError(t, catalog.MarkListingInactive(ctx, known[0].ID))
		reactivated, err := catalog.BulkReactivateListings(ctx, []string{known[0].ID, known[1].ID})
		require.NoError(t, err)
		assert.Equal(t, 1, reactivated)
	})

	t.Run("ClaimMatchesCooldown", func(t *testing.T) {
		states, err := catalog.ListVariantListings(ctx, listing.ID)
		require.NoError(t, err)
		state := states[VariantKey(product.ID, "Size=M")]
		require.NotNil(t, state)

		user, err := catalog.EnsureUser(ctx, "ana@example.com")
		require.NoError(t, err)
		ceiling := 4500
		_, err = catalog.CreateSubscription(ctx, user.ID, state.Variant.ID, &ceiling, true, false)
		require.NoError(t, err)

		// Above the ceiling: no match.
		matches, err := catalog.ClaimMatches(ctx, EventPriceDrop, state.Variant.ID, 4600, 24*time.Hour)
		require.NoError(t, err)
		assert.Empty(t, matches)

		// At the ceiling: matched and claimed.
		matches, err = catalog.ClaimMatches(ctx, EventPriceDrop, state.Variant.ID, 4500, 24*time.Hour)
		require.NoError(t, err)
		require.Len(t, matches, 1)
		require.NotNil(t, matches[0].Email)
		assert.Equal(t, "ana@example.com", *matches[0].Email)

		// Claimed again inside the cooldown: suppressed.
		matches, err = catalog.ClaimMatches(ctx, EventPriceDrop, state.Variant.ID, 4400, 24*time.Hour)
		require.NoError(t, err)
		assert.Empty(t, matches)

		// Restock pings track their own timestamp, so the same subscription
		// with restock disabled still never matches restock events.
		matches, err = catalog.ClaimMatches(ctx, EventRestock, state.Variant.ID, 4400, 24*time.Hour)
		require.NoError(t, err)
		assert.Empty(t, matches)
	})

	t.Run("ActiveListingSchedules", func(t *testing.T) {
		schedules, err := catalog.ListActiveListingSchedules(ctx)
		require.NoError(t, err)
		require.NotEmpty(t, schedules)

		byID := make(map[string]bool)
		for _, s := range schedules {
			byID[s.ListingID] = s.HasSubscription
		}
		// The subscribed listing polls on the frequent cadence.
		assert.True(t, byID[listing.ID])
	})
}
