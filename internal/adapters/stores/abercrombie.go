package stores

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"time"

	"github.com/stockwatch/monitor-service/internal/adapters"
	"github.com/stockwatch/monitor-service/internal/httpx"
)

const anfAPIBase = "https://www.abercrombie.com/api/search/a-us"

// anfProductURLPattern matches product pages like
// https://www.abercrombie.com/shop/us/p/oversized-tee-53412?seq=01
var anfProductURLPattern = regexp.MustCompile(`/p/[a-z0-9-]*?([0-9]{5,8})(?:[/?]|$)`)

// AbercrombieAdapter scrapes the Abercrombie & Fitch search API. A listing is
// a "collection" that can expose a family of products sharing one page.
type AbercrombieAdapter struct {
	client  *httpx.Client
	apiBase string
}

// NewAbercrombieAdapter creates the A&F adapter on the shared HTTP client.
func NewAbercrombieAdapter(client *httpx.Client) *AbercrombieAdapter {
	return &AbercrombieAdapter{client: client, apiBase: anfAPIBase}
}

func (a *AbercrombieAdapter) Handle() string { return "abercrombie" }
func (a *AbercrombieAdapter) Name() string   { return "Abercrombie & Fitch" }

func (a *AbercrombieAdapter) DomainPrefixes() []string {
	return []string{"https://www.abercrombie.com/", "https://abercrombie.com/"}
}

type anfListResponse struct {
	Products []struct {
		CollectionID string `json:"collectionId"`
	} `json:"products"`
	NextCursor string `json:"nextCursor"`
}

type anfDetailResponse struct {
	Products []struct {
		ProductID   string `json:"productId"`
		Name        string `json:"name"`
		CategoryID  string `json:"categoryId"`
		ProductPath string `json:"productPath"`
		Items       []struct {
			SkuID      string  `json:"skuId"`
			Size       string  `json:"size"`
			Color      string  `json:"color"`
			ListPrice  float64 `json:"listPrice"`
			OfferPrice float64 `json:"offerPrice"`
			Inventory  struct {
				Available bool `json:"available"`
			} `json:"inventory"`
		} `json:"items"`
	} `json:"products"`
}

// ListActiveExternalIDs walks the cursor-paginated collection feed. limit <= 0
// follows cursors until the feed is exhausted.
func (a *AbercrombieAdapter) ListActiveExternalIDs(ctx context.Context, limit int) (map[string]struct{}, error) {
	ids := make(map[string]struct{})
	cursor := ""

	for {
		u := fmt.Sprintf("%s/collections?rows=90", a.apiBase)
		if cursor != "" {
			u += "&cursor=" + url.QueryEscape(cursor)
		}

		body, err := a.client.GetBytes(ctx, u)
		if err != nil {
			return nil, fmt.Errorf("abercrombie: listing collections: %w", err)
		}

		var page anfListResponse
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, &adapters.InvalidResponseError{
				StoreHandle: a.Handle(),
				Reason:      "collection feed payload is not valid JSON",
				Err:         err,
			}
		}

		for _, p := range page.Products {
			if p.CollectionID == "" {
				continue
			}
			ids[p.CollectionID] = struct{}{}
			if limit > 0 && len(ids) >= limit {
				return ids, nil
			}
		}

		if page.NextCursor == "" || len(page.Products) == 0 {
			return ids, nil
		}
		cursor = page.NextCursor
	}
}

// ResolveExternalID extracts the collection id from an A&F product URL.
func (a *AbercrombieAdapter) ResolveExternalID(_ context.Context, rawURL string) (string, error) {
	m := anfProductURLPattern.FindStringSubmatch(rawURL)
	if m == nil {
		return "", adapters.ErrListingNotFound
	}
	return m[1], nil
}

// FetchListingDetails fetches the product family behind one collection id.
// A&F reports size before color; attributes keep that order.
func (a *AbercrombieAdapter) FetchListingDetails(ctx context.Context, externalID string) (*adapters.ListingDetails, error) {
	u := fmt.Sprintf("%s/product/%s", a.apiBase, externalID)
	body, err := a.client.GetBytes(ctx, u)
	if err != nil {
		var statusErr *httpx.StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
			return nil, adapters.ErrListingNotFound
		}
		return nil, fmt.Errorf("abercrombie: fetching listing %s: %w", externalID, err)
	}

	var detail anfDetailResponse
	if err := json.Unmarshal(body, &detail); err != nil {
		return nil, &adapters.InvalidResponseError{
			StoreHandle: a.Handle(),
			ExternalID:  externalID,
			Reason:      "detail payload is not valid JSON",
			Err:         err,
		}
	}
	if len(detail.Products) == 0 {
		return nil, &adapters.InvalidResponseError{
			StoreHandle: a.Handle(),
			ExternalID:  externalID,
			Reason:      "detail payload has no products",
		}
	}

	observedAt := time.Now().UTC()
	details := &adapters.ListingDetails{}

	for _, p := range detail.Products {
		if p.ProductID == "" || p.Name == "" {
			return nil, &adapters.InvalidResponseError{
				StoreHandle: a.Handle(),
				ExternalID:  externalID,
				Reason:      "product entry missing id or name",
			}
		}

		product := adapters.ProductDetails{
			ExternalProductID:    p.ProductID,
			Name:                 p.Name,
			Brand:                "Abercrombie & Fitch",
			ExternalCollectionID: p.CategoryID,
		}

		for _, item := range p.Items {
			price := item.ListPrice
			if item.OfferPrice > 0 && item.OfferPrice < item.ListPrice {
				price = item.OfferPrice
			}
			if price <= 0 {
				return nil, &adapters.InvalidResponseError{
					StoreHandle: a.Handle(),
					ExternalID:  externalID,
					Reason:      fmt.Sprintf("sku %s has non-positive price", item.SkuID),
				}
			}

			product.Variants = append(product.Variants, adapters.VariantObservation{
				ExternalVariantID: item.SkuID,
				Attributes: []adapters.VariantAttribute{
					adapters.NormalizeAttribute("size", item.Size),
					adapters.NormalizeAttribute("color", item.Color),
				},
				PriceInCents: adapters.CentsFromFloat(price),
				InStock:      item.Inventory.Available,
				ProductURL:   "https://www.abercrombie.com" + p.ProductPath,
				ObservedAt:   observedAt,
			})
		}

		details.Products = append(details.Products, product)
	}

	return details, nil
}
