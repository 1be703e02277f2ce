package database

import (
	"time"

	"github.com/stockwatch/monitor-service/internal/adapters"
)

// Store represents a retailer integration. Created once at setup time;
// immutable afterwards except display fields.
type Store struct {
	ID        string    `json:"id"`
	Handle    string    `json:"handle"`   // uniqlo, jcrew, etc.
	Name      string    `json:"name"`     // Human-readable name
	BaseURL   string    `json:"base_url"` // Storefront base URL
	CreatedAt time.Time `json:"created_at"`
}

// Collection groups products above the Product level for multi-brand
// marketplaces. Uniquely identified by (brand, external collection id);
// created lazily on first sighting.
type Collection struct {
	ID                   string    `json:"id"`
	Brand                string    `json:"brand"`
	ExternalCollectionID string    `json:"external_collection_id"`
	CreatedAt            time.Time `json:"created_at"`
}

// StoreListing is one external catalog entry as seen on a specific store.
// (store_id, external_listing_id) is unique. Active is flipped off when a
// per-listing poll observes a not-found response, and back on when the
// reconciler sees the id advertised again.
type StoreListing struct {
	ID                string    `json:"id"`
	StoreID           string    `json:"store_id"`
	ExternalListingID string    `json:"external_listing_id"`
	Active            bool      `json:"active"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Product is a store-independent catalog entry identified by
// (collection_id, external_product_id).
type Product struct {
	ID                string    `json:"id"`
	CollectionID      string    `json:"collection_id"`
	ExternalProductID string    `json:"external_product_id"`
	Name              string    `json:"name"`
	CreatedAt         time.Time `json:"created_at"`
}

// ProductVariant is one concrete buyable SKU belonging to a Product,
// identified within the product by its serialized attribute tuple.
type ProductVariant struct {
	ID                string                      `json:"id"`
	ProductID         string                      `json:"product_id"`
	ExternalVariantID *string                     `json:"external_variant_id"` // nil when the store has no stable id
	AttributesKey     string                      `json:"attributes_key"`      // serialized ordered attribute tuple
	Attributes        []adapters.VariantAttribute `json:"attributes"`
	CreatedAt         time.Time                   `json:"created_at"`
}

// ProductVariantListing joins a StoreListing and a ProductVariant. The same
// logical SKU can be listed by multiple stores. LatestPriceID is a
// denormalized cache pointer updated in the same transaction as each new
// Price row.
type ProductVariantListing struct {
	ID               string    `json:"id"`
	StoreListingID   string    `json:"store_listing_id"`
	ProductVariantID string    `json:"product_variant_id"`
	ProductURL       string    `json:"product_url"`
	LatestPriceID    *string   `json:"latest_price_id"`
	CreatedAt        time.Time `json:"created_at"`
}

// Price is an immutable timestamped observation. Append-only; a row is
// written only when the diff engine reports the observation as outdated.
type Price struct {
	ID                      string    `json:"id"`
	ProductVariantListingID string    `json:"product_variant_listing_id"`
	PriceInCents            int       `json:"price_in_cents"`
	InStock                 bool      `json:"in_stock"`
	ObservedAt              time.Time `json:"observed_at"`
}

// User owns notification subscriptions. Users without a contact address are
// skipped at dispatch time.
type User struct {
	ID        string    `json:"id"`
	Email     *string   `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// NotificationSubscription is a user's standing request to be alerted about
// one ProductVariant. PriceInCents is an optional ceiling (nil = any price).
// The ping timestamps drive the cooldown window and are the de-duplication
// barrier for sends.
type NotificationSubscription struct {
	ID                string     `json:"id"`
	UserID            string     `json:"user_id"`
	ProductVariantID  string     `json:"product_variant_id"`
	PriceInCents      *int       `json:"price_in_cents"`
	OnPriceDrop       bool       `json:"on_price_drop"`
	OnRestock         bool       `json:"on_restock"`
	LastPriceDropPing *time.Time `json:"last_price_drop_ping"`
	LastRestockPing   *time.Time `json:"last_restock_ping"`
	CreatedAt         time.Time  `json:"created_at"`
}
