package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stockwatch/monitor-service/internal/adapters"
	"github.com/stockwatch/monitor-service/internal/pkg/cuid2"
)

// ErrNotFound is returned when a catalog row does not exist.
var ErrNotFound = errors.New("catalog row not found")

// ErrStaleLatestPrice is returned by RecordPrice when another writer moved
// the latest-price pointer after the caller read it. The caller's
// classification is based on a price that is no longer latest, so the write
// is skipped.
var ErrStaleLatestPrice = errors.New("latest price changed since it was read")

// Catalog is the query surface the pipeline consumes: find/create by natural
// keys, bulk listing updates, and transactional price writes.
type Catalog struct {
	pool *pgxpool.Pool
}

// NewCatalog creates a Catalog on the given pool.
func NewCatalog(pool *pgxpool.Pool) *Catalog {
	return &Catalog{pool: pool}
}

// EnsureStore finds or creates a store by handle.
func (c *Catalog) EnsureStore(ctx context.Context, handle, name, baseURL string) (*Store, error) {
	var s Store
	err := c.pool.QueryRow(ctx, `
		INSERT INTO stores (id, handle, name, base_url)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (handle) DO UPDATE SET name = EXCLUDED.name, base_url = EXCLUDED.base_url
		RETURNING id, handle, name, base_url, created_at
	`, cuid2.New("str"), handle, name, baseURL).Scan(&s.ID, &s.Handle, &s.Name, &s.BaseURL, &s.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("ensuring store %s: %w", handle, err)
	}
	return &s, nil
}

// GetStoreByHandle fetches a store by its unique handle.
func (c *Catalog) GetStoreByHandle(ctx context.Context, handle string) (*Store, error) {
	var s Store
	err := c.pool.QueryRow(ctx, `
		SELECT id, handle, name, base_url, created_at FROM stores WHERE handle = $1
	`, handle).Scan(&s.ID, &s.Handle, &s.Name, &s.BaseURL, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("store %s: %w", handle, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("fetching store %s: %w", handle, err)
	}
	return &s, nil
}

// GetStoreListing fetches a store listing by id.
func (c *Catalog) GetStoreListing(ctx context.Context, id string) (*StoreListing, error) {
	var l StoreListing
	err := c.pool.QueryRow(ctx, `
		SELECT id, store_id, external_listing_id, active, created_at, updated_at
		FROM store_listings WHERE id = $1
	`, id).Scan(&l.ID, &l.StoreID, &l.ExternalListingID, &l.Active, &l.CreatedAt, &l.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("store listing %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("fetching store listing %s: %w", id, err)
	}
	return &l, nil
}

// GetStoreListingWithStore fetches a listing joined with its store, the shape
// the poller needs to dispatch to an adapter.
func (c *Catalog) GetStoreListingWithStore(ctx context.Context, id string) (*StoreListing, *Store, error) {
	var l StoreListing
	var s Store
	err := c.pool.QueryRow(ctx, `
		SELECT sl.id, sl.store_id, sl.external_listing_id, sl.active, sl.created_at, sl.updated_at,
		       st.id, st.handle, st.name, st.base_url, st.created_at
		FROM store_listings sl
		JOIN stores st ON st.id = sl.store_id
		WHERE sl.id = $1
	`, id).Scan(
		&l.ID, &l.StoreID, &l.ExternalListingID, &l.Active, &l.CreatedAt, &l.UpdatedAt,
		&s.ID, &s.Handle, &s.Name, &s.BaseURL, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, fmt.Errorf("store listing %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("fetching store listing %s: %w", id, err)
	}
	return &l, &s, nil
}

// EnsureStoreListing finds or creates the listing for (store, external id).
// Reactivates an inactive row, since being asked for it means the store is
// advertising it again.
func (c *Catalog) EnsureStoreListing(ctx context.Context, storeID, externalListingID string) (*StoreListing, error) {
	var l StoreListing
	err := c.pool.QueryRow(ctx, `
		INSERT INTO store_listings (id, store_id, external_listing_id, active)
		VALUES ($1, $2, $3, TRUE)
		ON CONFLICT (store_id, external_listing_id)
			DO UPDATE SET active = TRUE, updated_at = NOW()
		RETURNING id, store_id, external_listing_id, active, created_at, updated_at
	`, cuid2.New("lst"), storeID, externalListingID).Scan(
		&l.ID, &l.StoreID, &l.ExternalListingID, &l.Active, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("ensuring store listing %s/%s: %w", storeID, externalListingID, err)
	}
	return &l, nil
}

// ListKnownListings returns the store's listings whose external id is in the
// given set. Listings outside the set are deliberately not touched.
func (c *Catalog) ListKnownListings(ctx context.Context, storeID string, externalIDs []string) ([]StoreListing, error) {
	rows, err := c.pool.Query(ctx, `
		SELECT id, store_id, external_listing_id, active, created_at, updated_at
		FROM store_listings
		WHERE store_id = $1 AND external_listing_id = ANY($2)
	`, storeID, externalIDs)
	if err != nil {
		return nil, fmt.Errorf("listing known listings for store %s: %w", storeID, err)
	}
	defer rows.Close()

	var listings []StoreListing
	for rows.Next() {
		var l StoreListing
		if err := rows.Scan(&l.ID, &l.StoreID, &l.ExternalListingID, &l.Active, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, err
		}
		listings = append(listings, l)
	}
	return listings, rows.Err()
}

// BulkInsertListings inserts new listings for the given external ids in one
// round trip. Already-known ids are skipped.
func (c *Catalog) BulkInsertListings(ctx context.Context, storeID string, externalIDs []string) (int, error) {
	if len(externalIDs) == 0 {
		return 0, nil
	}

	ids := make([]string, len(externalIDs))
	for i := range externalIDs {
		ids[i] = cuid2.New("lst")
	}

	tag, err := c.pool.Exec(ctx, `
		INSERT INTO store_listings (id, store_id, external_listing_id, active)
		SELECT unnest($1::text[]), $2, unnest($3::text[]), TRUE
		ON CONFLICT (store_id, external_listing_id) DO NOTHING
	`, ids, storeID, externalIDs)
	if err != nil {
		return 0, fmt.Errorf("bulk inserting %d listings for store %s: %w", len(externalIDs), storeID, err)
	}
	return int(tag.RowsAffected()), nil
}

// BulkReactivateListings flips active back on for the given listing ids in
// one round trip.
func (c *Catalog) BulkReactivateListings(ctx context.Context, listingIDs []string) (int, error) {
	if len(listingIDs) == 0 {
		return 0, nil
	}

	tag, err := c.pool.Exec(ctx, `
		UPDATE store_listings
		SET active = TRUE, updated_at = NOW()
		WHERE id = ANY($1) AND active = FALSE
	`, listingIDs)
	if err != nil {
		return 0, fmt.Errorf("bulk reactivating %d listings: %w", len(listingIDs), err)
	}
	return int(tag.RowsAffected()), nil
}

// MarkListingInactive records that the store no longer advertises a listing.
// History is kept; only the flag flips.
func (c *Catalog) MarkListingInactive(ctx context.Context, listingID string) error {
	_, err := c.pool.Exec(ctx, `
		UPDATE store_listings SET active = FALSE, updated_at = NOW() WHERE id = $1
	`, listingID)
	if err != nil {
		return fmt.Errorf("marking listing %s inactive: %w", listingID, err)
	}
	return nil
}

// EnsureCollection finds or creates a collection by (brand, external id).
func (c *Catalog) EnsureCollection(ctx context.Context, brand, externalCollectionID string) (*Collection, error) {
	var col Collection
	err := c.pool.QueryRow(ctx, `
		INSERT INTO collections (id, brand, external_collection_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (brand, external_collection_id) DO UPDATE SET brand = EXCLUDED.brand
		RETURNING id, brand, external_collection_id, created_at
	`, cuid2.New("col"), brand, externalCollectionID).Scan(&col.ID, &col.Brand, &col.ExternalCollectionID, &col.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("ensuring collection %s/%s: %w", brand, externalCollectionID, err)
	}
	return &col, nil
}

// EnsureProduct finds or creates a product by (collection, external id).
func (c *Catalog) EnsureProduct(ctx context.Context, collectionID, externalProductID, name string) (*Product, error) {
	var p Product
	err := c.pool.QueryRow(ctx, `
		INSERT INTO products (id, collection_id, external_product_id, name)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (collection_id, external_product_id) DO UPDATE SET name = EXCLUDED.name
		RETURNING id, collection_id, external_product_id, name, created_at
	`, cuid2.New("prd"), collectionID, externalProductID, name).Scan(
		&p.ID, &p.CollectionID, &p.ExternalProductID, &p.Name, &p.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("ensuring product %s/%s: %w", collectionID, externalProductID, err)
	}
	return &p, nil
}

// VariantListingState is a variant listing joined with its variant identity
// and the cached latest price, keyed for attribute-tuple matching.
type VariantListingState struct {
	Listing     ProductVariantListing
	Variant     ProductVariant
	LatestPrice *Price
}

// VariantKey builds the lookup key for a variant within a store listing.
// Product-family listings can repeat an attribute tuple across products, so
// the key is scoped by product.
func VariantKey(productID, attributesKey string) string {
	return productID + "\x00" + attributesKey
}

// ListVariantListings returns all variant listings under a store listing with
// their latest cached prices, keyed by VariantKey for O(1) matching.
func (c *Catalog) ListVariantListings(ctx context.Context, storeListingID string) (map[string]*VariantListingState, error) {
	rows, err := c.pool.Query(ctx, `
		SELECT pvl.id, pvl.store_listing_id, pvl.product_variant_id, pvl.product_url, pvl.latest_price_id, pvl.created_at,
		       pv.id, pv.product_id, pv.external_variant_id, pv.attributes_key, pv.attributes, pv.created_at,
		       p.id, p.price_in_cents, p.in_stock, p.observed_at
		FROM product_variant_listings pvl
		JOIN product_variants pv ON pv.id = pvl.product_variant_id
		LEFT JOIN prices p ON p.id = pvl.latest_price_id
		WHERE pvl.store_listing_id = $1
	`, storeListingID)
	if err != nil {
		return nil, fmt.Errorf("listing variant listings for %s: %w", storeListingID, err)
	}
	defer rows.Close()

	states := make(map[string]*VariantListingState)
	for rows.Next() {
		var st VariantListingState
		var attrsJSON []byte
		var priceID *string
		var priceCents *int
		var inStock *bool
		var observedAt *time.Time

		if err := rows.Scan(
			&st.Listing.ID, &st.Listing.StoreListingID, &st.Listing.ProductVariantID, &st.Listing.ProductURL, &st.Listing.LatestPriceID, &st.Listing.CreatedAt,
			&st.Variant.ID, &st.Variant.ProductID, &st.Variant.ExternalVariantID, &st.Variant.AttributesKey, &attrsJSON, &st.Variant.CreatedAt,
			&priceID, &priceCents, &inStock, &observedAt,
		); err != nil {
			return nil, err
		}

		if err := json.Unmarshal(attrsJSON, &st.Variant.Attributes); err != nil {
			return nil, fmt.Errorf("decoding attributes for variant %s: %w", st.Variant.ID, err)
		}
		if priceID != nil {
			st.LatestPrice = &Price{
				ID:                      *priceID,
				ProductVariantListingID: st.Listing.ID,
				PriceInCents:            *priceCents,
				InStock:                 *inStock,
				ObservedAt:              *observedAt,
			}
		}

		states[VariantKey(st.Variant.ProductID, st.Variant.AttributesKey)] = &st
	}
	return states, rows.Err()
}

// CreateVariantListing creates the variant (if this product has no variant
// with the observation's attribute tuple yet), the variant listing, and the
// seed price in a single transaction.
func (c *Catalog) CreateVariantListing(ctx context.Context, productID, storeListingID string, obs adapters.VariantObservation) (*VariantListingState, error) {
	attrsKey := adapters.AttributesKey(obs.Attributes)
	attrsJSON, err := json.Marshal(obs.Attributes)
	if err != nil {
		return nil, fmt.Errorf("encoding attributes: %w", err)
	}

	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var externalVariantID *string
	if obs.ExternalVariantID != "" {
		externalVariantID = &obs.ExternalVariantID
	}

	var variant ProductVariant
	err = tx.QueryRow(ctx, `
		INSERT INTO product_variants (id, product_id, external_variant_id, attributes_key, attributes)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (product_id, attributes_key)
			DO UPDATE SET external_variant_id = COALESCE(EXCLUDED.external_variant_id, product_variants.external_variant_id)
		RETURNING id, product_id, external_variant_id, attributes_key, created_at
	`, cuid2.New("var"), productID, externalVariantID, attrsKey, attrsJSON).Scan(
		&variant.ID, &variant.ProductID, &variant.ExternalVariantID, &variant.AttributesKey, &variant.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("ensuring variant for product %s: %w", productID, err)
	}
	variant.Attributes = obs.Attributes

	var listing ProductVariantListing
	err = tx.QueryRow(ctx, `
		INSERT INTO product_variant_listings (id, store_listing_id, product_variant_id, product_url)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (store_listing_id, product_variant_id)
			DO UPDATE SET product_url = EXCLUDED.product_url
		RETURNING id, store_listing_id, product_variant_id, product_url, latest_price_id, created_at
	`, cuid2.New("pvl"), storeListingID, variant.ID, obs.ProductURL).Scan(
		&listing.ID, &listing.StoreListingID, &listing.ProductVariantID, &listing.ProductURL, &listing.LatestPriceID, &listing.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("ensuring variant listing for %s: %w", storeListingID, err)
	}

	price, err := insertPriceTx(ctx, tx, listing.ID, obs.PriceInCents, obs.InStock, obs.ObservedAt)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing variant listing: %w", err)
	}

	listing.LatestPriceID = &price.ID
	return &VariantListingState{Listing: listing, Variant: variant, LatestPrice: price}, nil
}

// RecordPrice appends a price observation and moves the listing's
// latest-price pointer in the same transaction, so the cache can never point
// at a stale row.
//
// expectedLatestPriceID is the pointer value the caller's classification was
// based on (nil for no prior price). The row is locked and the pointer
// compared inside the transaction; on mismatch the write is skipped with
// ErrStaleLatestPrice. This makes read-classify-write safe even for polls
// running outside the queue's singleton serialization.
func (c *Catalog) RecordPrice(ctx context.Context, variantListingID string, expectedLatestPriceID *string, priceInCents int, inStock bool, observedAt time.Time) (*Price, error) {
	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var current *string
	err = tx.QueryRow(ctx, `
		SELECT latest_price_id FROM product_variant_listings WHERE id = $1 FOR UPDATE
	`, variantListingID).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("variant listing %s: %w", variantListingID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("locking variant listing %s: %w", variantListingID, err)
	}
	if !samePriceID(current, expectedLatestPriceID) {
		return nil, fmt.Errorf("recording price for %s: %w", variantListingID, ErrStaleLatestPrice)
	}

	price, err := insertPriceTx(ctx, tx, variantListingID, priceInCents, inStock, observedAt)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing price write: %w", err)
	}
	return price, nil
}

func samePriceID(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func insertPriceTx(ctx context.Context, tx pgx.Tx, variantListingID string, priceInCents int, inStock bool, observedAt time.Time) (*Price, error) {
	price := &Price{
		ID:                      cuid2.New("prc"),
		ProductVariantListingID: variantListingID,
		PriceInCents:            priceInCents,
		InStock:                 inStock,
		ObservedAt:              observedAt,
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO prices (id, product_variant_listing_id, price_in_cents, in_stock, observed_at)
		VALUES ($1, $2, $3, $4, $5)
	`, price.ID, price.ProductVariantListingID, price.PriceInCents, price.InStock, price.ObservedAt); err != nil {
		return nil, fmt.Errorf("inserting price for %s: %w", variantListingID, err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE product_variant_listings SET latest_price_id = $1 WHERE id = $2
	`, price.ID, variantListingID); err != nil {
		return nil, fmt.Errorf("updating latest price pointer for %s: %w", variantListingID, err)
	}

	return price, nil
}

// ListingSchedule is one active listing with its scheduling cadence input.
type ListingSchedule struct {
	ListingID       string
	HasSubscription bool
}

// ListActiveListingSchedules returns every active listing and whether any of
// its variants has at least one subscription, driving the two-cadence
// scheduler.
func (c *Catalog) ListActiveListingSchedules(ctx context.Context) ([]ListingSchedule, error) {
	rows, err := c.pool.Query(ctx, `
		SELECT sl.id,
		       EXISTS (
		           SELECT 1
		           FROM product_variant_listings pvl
		           JOIN notification_subscriptions ns ON ns.product_variant_id = pvl.product_variant_id
		           WHERE pvl.store_listing_id = sl.id
		       ) AS has_subscription
		FROM store_listings sl
		WHERE sl.active = TRUE
	`)
	if err != nil {
		return nil, fmt.Errorf("listing active listing schedules: %w", err)
	}
	defer rows.Close()

	var schedules []ListingSchedule
	for rows.Next() {
		var s ListingSchedule
		if err := rows.Scan(&s.ListingID, &s.HasSubscription); err != nil {
			return nil, err
		}
		schedules = append(schedules, s)
	}
	return schedules, rows.Err()
}
