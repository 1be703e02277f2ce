package stores

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/stockwatch/monitor-service/internal/adapters"
	"github.com/stockwatch/monitor-service/internal/httpx"
)

const (
	uniqloAPIBase  = "https://www.uniqlo.com/us/api/commerce/v5/en"
	uniqloPageSize = 100
)

// uniqloProductURLPattern matches product pages like
// https://www.uniqlo.com/us/en/products/E459592-000/00
var uniqloProductURLPattern = regexp.MustCompile(`/products/([A-Z0-9]+-[0-9]{3})`)

// UniqloAdapter scrapes the Uniqlo US product API.
type UniqloAdapter struct {
	client  *httpx.Client
	apiBase string
}

// NewUniqloAdapter creates the Uniqlo adapter on the shared HTTP client.
func NewUniqloAdapter(client *httpx.Client) *UniqloAdapter {
	return &UniqloAdapter{client: client, apiBase: uniqloAPIBase}
}

func (a *UniqloAdapter) Handle() string { return "uniqlo" }
func (a *UniqloAdapter) Name() string   { return "Uniqlo US" }

func (a *UniqloAdapter) DomainPrefixes() []string {
	return []string{"https://www.uniqlo.com/us/", "https://uniqlo.com/us/"}
}

type uniqloListResponse struct {
	Result *struct {
		Items []struct {
			ProductID string `json:"productId"`
		} `json:"items"`
		Pagination struct {
			Total  int `json:"total"`
			Offset int `json:"offset"`
		} `json:"pagination"`
	} `json:"result"`
}

type uniqloDetailResponse struct {
	Result *struct {
		Items []struct {
			ProductID      string `json:"productId"`
			Name           string `json:"name"`
			GenderCategory string `json:"genderCategory"`
			L2s            []struct {
				L2ID  string `json:"l2Id"`
				Color struct {
					DisplayCode string `json:"displayCode"`
					Name        string `json:"name"`
				} `json:"color"`
				Size struct {
					DisplayCode string `json:"displayCode"`
					Name        string `json:"name"`
				} `json:"size"`
				Prices struct {
					Base *struct {
						Value float64 `json:"value"`
					} `json:"base"`
					Promo *struct {
						Value float64 `json:"value"`
					} `json:"promo"`
				} `json:"prices"`
				Stock struct {
					StatusCode string `json:"statusCode"`
				} `json:"stock"`
			} `json:"l2s"`
		} `json:"items"`
	} `json:"result"`
}

// ListActiveExternalIDs pages through the product search API. limit <= 0
// fetches every page.
func (a *UniqloAdapter) ListActiveExternalIDs(ctx context.Context, limit int) (map[string]struct{}, error) {
	ids := make(map[string]struct{})
	offset := 0

	for {
		url := fmt.Sprintf("%s/products?offset=%d&limit=%d&httpFailure=true", a.apiBase, offset, uniqloPageSize)
		body, err := a.client.GetBytes(ctx, url)
		if err != nil {
			return nil, fmt.Errorf("uniqlo: listing products at offset %d: %w", offset, err)
		}

		var page uniqloListResponse
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, &adapters.InvalidResponseError{
				StoreHandle: a.Handle(),
				Reason:      "product list payload is not valid JSON",
				Err:         err,
			}
		}
		if page.Result == nil {
			return nil, &adapters.InvalidResponseError{
				StoreHandle: a.Handle(),
				Reason:      "product list payload missing result",
			}
		}

		for _, item := range page.Result.Items {
			if item.ProductID == "" {
				continue
			}
			ids[item.ProductID] = struct{}{}
			if limit > 0 && len(ids) >= limit {
				return ids, nil
			}
		}

		offset += len(page.Result.Items)
		if len(page.Result.Items) == 0 || offset >= page.Result.Pagination.Total {
			return ids, nil
		}
	}
}

// ResolveExternalID extracts the product id from a Uniqlo product URL.
func (a *UniqloAdapter) ResolveExternalID(_ context.Context, rawURL string) (string, error) {
	m := uniqloProductURLPattern.FindStringSubmatch(rawURL)
	if m == nil {
		return "", adapters.ErrListingNotFound
	}
	return m[1], nil
}

// FetchListingDetails fetches one product family with per-SKU prices. Uniqlo
// reports size before color; attributes keep that order.
func (a *UniqloAdapter) FetchListingDetails(ctx context.Context, externalID string) (*adapters.ListingDetails, error) {
	url := fmt.Sprintf("%s/products/%s/price-groups/00/l2s?withPrices=true&withStocks=true", a.apiBase, externalID)
	body, err := a.client.GetBytes(ctx, url)
	if err != nil {
		var statusErr *httpx.StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
			return nil, adapters.ErrListingNotFound
		}
		return nil, fmt.Errorf("uniqlo: fetching listing %s: %w", externalID, err)
	}

	var detail uniqloDetailResponse
	if err := json.Unmarshal(body, &detail); err != nil {
		return nil, &adapters.InvalidResponseError{
			StoreHandle: a.Handle(),
			ExternalID:  externalID,
			Reason:      "detail payload is not valid JSON",
			Err:         err,
		}
	}
	if detail.Result == nil || len(detail.Result.Items) == 0 {
		return nil, &adapters.InvalidResponseError{
			StoreHandle: a.Handle(),
			ExternalID:  externalID,
			Reason:      "detail payload missing items",
		}
	}

	observedAt := time.Now().UTC()
	details := &adapters.ListingDetails{}

	for _, item := range detail.Result.Items {
		if item.ProductID == "" || item.Name == "" {
			return nil, &adapters.InvalidResponseError{
				StoreHandle: a.Handle(),
				ExternalID:  externalID,
				Reason:      "product item missing id or name",
			}
		}

		product := adapters.ProductDetails{
			ExternalProductID:    item.ProductID,
			Name:                 item.Name,
			Brand:                "Uniqlo",
			ExternalCollectionID: item.GenderCategory,
		}

		for _, sku := range item.L2s {
			if sku.Prices.Base == nil {
				return nil, &adapters.InvalidResponseError{
					StoreHandle: a.Handle(),
					ExternalID:  externalID,
					Reason:      fmt.Sprintf("sku %s missing base price", sku.L2ID),
				}
			}

			price := sku.Prices.Base.Value
			if sku.Prices.Promo != nil && sku.Prices.Promo.Value > 0 {
				price = sku.Prices.Promo.Value
			}

			product.Variants = append(product.Variants, adapters.VariantObservation{
				ExternalVariantID: sku.L2ID,
				Attributes: []adapters.VariantAttribute{
					adapters.NormalizeAttribute("size", sku.Size.Name),
					adapters.NormalizeAttribute("color", sku.Color.Name),
				},
				PriceInCents: adapters.CentsFromFloat(price),
				InStock:      sku.Stock.StatusCode == "IN_STOCK" || sku.Stock.StatusCode == "LOW_STOCK",
				ProductURL:   fmt.Sprintf("https://www.uniqlo.com/us/en/products/%s/00", externalID),
				ObservedAt:   observedAt,
			})
		}

		details.Products = append(details.Products, product)
	}

	return details, nil
}
