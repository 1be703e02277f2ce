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

const jcrewAPIBase = "https://www.jcrew.com/browse/api/v2"

// jcrewProductURLPattern matches product pages like
// https://www.jcrew.com/p/mens/categories/clothing/shirts/AB123
var jcrewProductURLPattern = regexp.MustCompile(`/p/(?:[a-z0-9-]+/)*([A-Z]{2}[0-9]{3,6})(?:[/?]|$)`)

// JCrewAdapter scrapes the J.Crew browse API. Prices arrive as decimal
// strings and are converted to cents at this boundary.
type JCrewAdapter struct {
	client  *httpx.Client
	apiBase string
}

// NewJCrewAdapter creates the J.Crew adapter on the shared HTTP client.
func NewJCrewAdapter(client *httpx.Client) *JCrewAdapter {
	return &JCrewAdapter{client: client, apiBase: jcrewAPIBase}
}

func (a *JCrewAdapter) Handle() string { return "jcrew" }
func (a *JCrewAdapter) Name() string   { return "J.Crew" }

func (a *JCrewAdapter) DomainPrefixes() []string {
	return []string{"https://www.jcrew.com/", "https://jcrew.com/"}
}

type jcrewListResponse struct {
	Products []struct {
		ProductCode string `json:"productCode"`
	} `json:"products"`
	Paging struct {
		PageIndex  int `json:"pageIndex"`
		TotalPages int `json:"totalPages"`
	} `json:"paging"`
}

type jcrewDetailResponse struct {
	ProductCode    string `json:"productCode"`
	ProductName    string `json:"productName"`
	Gender         string `json:"gender"`
	CanonicalPath  string `json:"canonicalPath"`
	ColorwayGroups []struct {
		ColorName string `json:"colorName"`
		Skus      []struct {
			SkuID     string `json:"skuId"`
			SizeLabel string `json:"sizeLabel"`
			Price     struct {
				Amount string `json:"amount"`
			} `json:"price"`
			SalePrice *struct {
				Amount string `json:"amount"`
			} `json:"salePrice"`
			Available bool `json:"available"`
		} `json:"skus"`
	} `json:"colorwayGroups"`
}

// ListActiveExternalIDs pages through the browse API one category-less page
// at a time. limit <= 0 fetches every page.
func (a *JCrewAdapter) ListActiveExternalIDs(ctx context.Context, limit int) (map[string]struct{}, error) {
	ids := make(map[string]struct{})

	for page := 0; ; page++ {
		url := fmt.Sprintf("%s/products?pageIndex=%d&pageSize=120", a.apiBase, page)
		body, err := a.client.GetBytes(ctx, url)
		if err != nil {
			return nil, fmt.Errorf("jcrew: listing products page %d: %w", page, err)
		}

		var resp jcrewListResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, &adapters.InvalidResponseError{
				StoreHandle: a.Handle(),
				Reason:      "product list payload is not valid JSON",
				Err:         err,
			}
		}

		for _, p := range resp.Products {
			if p.ProductCode == "" {
				continue
			}
			ids[p.ProductCode] = struct{}{}
			if limit > 0 && len(ids) >= limit {
				return ids, nil
			}
		}

		if len(resp.Products) == 0 || resp.Paging.PageIndex >= resp.Paging.TotalPages-1 {
			return ids, nil
		}
	}
}

// ResolveExternalID extracts the product code from a J.Crew URL and confirms
// it still resolves on the store.
func (a *JCrewAdapter) ResolveExternalID(ctx context.Context, rawURL string) (string, error) {
	m := jcrewProductURLPattern.FindStringSubmatch(rawURL)
	if m == nil {
		return "", adapters.ErrListingNotFound
	}

	if _, err := a.FetchListingDetails(ctx, m[1]); err != nil {
		if errors.Is(err, adapters.ErrListingNotFound) {
			return "", adapters.ErrListingNotFound
		}
		return "", err
	}
	return m[1], nil
}

// FetchListingDetails fetches one product with per-colorway SKUs. J.Crew
// groups by color, so attributes are ordered color then size.
func (a *JCrewAdapter) FetchListingDetails(ctx context.Context, externalID string) (*adapters.ListingDetails, error) {
	url := fmt.Sprintf("%s/products/%s", a.apiBase, externalID)
	body, err := a.client.GetBytes(ctx, url)
	if err != nil {
		var statusErr *httpx.StatusError
		if errors.As(err, &statusErr) && (statusErr.StatusCode == http.StatusNotFound || statusErr.StatusCode == http.StatusGone) {
			return nil, adapters.ErrListingNotFound
		}
		return nil, fmt.Errorf("jcrew: fetching listing %s: %w", externalID, err)
	}

	var detail jcrewDetailResponse
	if err := json.Unmarshal(body, &detail); err != nil {
		return nil, &adapters.InvalidResponseError{
			StoreHandle: a.Handle(),
			ExternalID:  externalID,
			Reason:      "detail payload is not valid JSON",
			Err:         err,
		}
	}
	if detail.ProductCode == "" || detail.ProductName == "" {
		return nil, &adapters.InvalidResponseError{
			StoreHandle: a.Handle(),
			ExternalID:  externalID,
			Reason:      "detail payload missing product code or name",
		}
	}

	observedAt := time.Now().UTC()
	productURL := "https://www.jcrew.com" + detail.CanonicalPath

	product := adapters.ProductDetails{
		ExternalProductID:    detail.ProductCode,
		Name:                 detail.ProductName,
		Brand:                "J.Crew",
		ExternalCollectionID: detail.Gender,
	}

	for _, group := range detail.ColorwayGroups {
		for _, sku := range group.Skus {
			amount := sku.Price.Amount
			if sku.SalePrice != nil && sku.SalePrice.Amount != "" {
				amount = sku.SalePrice.Amount
			}

			cents, err := adapters.ParseCents(amount)
			if err != nil {
				return nil, &adapters.InvalidResponseError{
					StoreHandle: a.Handle(),
					ExternalID:  externalID,
					Reason:      fmt.Sprintf("sku %s has unparseable price", sku.SkuID),
					Err:         err,
				}
			}

			product.Variants = append(product.Variants, adapters.VariantObservation{
				ExternalVariantID: sku.SkuID,
				Attributes: []adapters.VariantAttribute{
					adapters.NormalizeAttribute("color", group.ColorName),
					adapters.NormalizeAttribute("size", sku.SizeLabel),
				},
				PriceInCents: cents,
				InStock:      sku.Available,
				ProductURL:   productURL,
				ObservedAt:   observedAt,
			})
		}
	}

	return &adapters.ListingDetails{Products: []adapters.ProductDetails{product}}, nil
}
