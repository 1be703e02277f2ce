// Package adapters defines the contract every store adapter implements and
// the error taxonomy the pipeline relies on to classify upstream failures.
package adapters

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// ErrListingNotFound signals that an external listing id no longer resolves
// on the store. This is the delisting detection path: routine, not alerted.
var ErrListingNotFound = errors.New("listing not found on store")

// InvalidResponseError signals that the store answered successfully but the
// payload failed schema validation. Likely an upstream contract change, so it
// is surfaced loudly and the listing is left untouched.
type InvalidResponseError struct {
	StoreHandle string
	ExternalID  string
	Reason      string
	Err         error
}

func (e *InvalidResponseError) Error() string {
	msg := fmt.Sprintf("invalid response from %s for listing %s: %s", e.StoreHandle, e.ExternalID, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *InvalidResponseError) Unwrap() error {
	return e.Err
}

// VariantAttribute is one name/value pair describing a variant (e.g. Size=M).
// Adapters must emit attributes in a stable order run-to-run; variant
// matching keys on the serialized attribute tuple.
type VariantAttribute struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// VariantObservation is a single scraped price/stock snapshot for one SKU.
type VariantObservation struct {
	// ExternalVariantID is the store's stable variant id, empty when the
	// store does not expose one.
	ExternalVariantID string             `json:"externalVariantId,omitempty"`
	Attributes        []VariantAttribute `json:"attributes"`
	PriceInCents      int                `json:"priceInCents"`
	InStock           bool               `json:"inStock"`
	ProductURL        string             `json:"productUrl"`
	ObservedAt        time.Time          `json:"observedAt"`
}

// ProductDetails is one product grouping within a listing, with its variant
// observations in the order the store reports them.
type ProductDetails struct {
	ExternalProductID    string               `json:"externalProductId"`
	Name                 string               `json:"name"`
	Brand                string               `json:"brand"`
	ExternalCollectionID string               `json:"externalCollectionId"`
	Variants             []VariantObservation `json:"variants"`
}

// ListingDetails is the full fetch result for one external listing id. A
// listing may expose a product family, hence the slice.
type ListingDetails struct {
	Products []ProductDetails `json:"products"`
}

// StoreAdapter is the per-retailer contract. Implementations perform outbound
// HTTP only; they never touch the database.
type StoreAdapter interface {
	// Handle is the unique store handle this adapter serves.
	Handle() string
	// Name is the store's display name.
	Name() string
	// DomainPrefixes lists URL prefixes used for URL-based dispatch.
	DomainPrefixes() []string

	// ListActiveExternalIDs enumerates external listing ids currently live on
	// the store. limit <= 0 paginates until the store reports no more results.
	ListActiveExternalIDs(ctx context.Context, limit int) (map[string]struct{}, error)

	// ResolveExternalID maps a store product URL to an external listing id.
	// Returns ErrListingNotFound when the URL does not resolve.
	ResolveExternalID(ctx context.Context, rawURL string) (string, error)

	// FetchListingDetails returns the products and variant observations for
	// one external listing id. Returns ErrListingNotFound for delisted ids
	// and *InvalidResponseError for schema failures.
	FetchListingDetails(ctx context.Context, externalID string) (*ListingDetails, error)
}

var attrCaser = cases.Title(language.English)

// NormalizeAttribute canonicalizes an attribute name/value: trimmed,
// title-cased name, trimmed value. Adapters run every attribute through this
// so the same logical variant serializes identically across polls.
func NormalizeAttribute(name, value string) VariantAttribute {
	return VariantAttribute{
		Name:  attrCaser.String(strings.TrimSpace(name)),
		Value: strings.TrimSpace(value),
	}
}

// AttributesKey serializes an ordered attribute set into the lookup key used
// for variant matching. Order-sensitive: adapters guarantee stable ordering.
func AttributesKey(attrs []VariantAttribute) string {
	var b strings.Builder
	for i, a := range attrs {
		if i > 0 {
			b.WriteByte(';')
		}
		b.WriteString(a.Name)
		b.WriteByte('=')
		b.WriteString(a.Value)
	}
	return b.String()
}
