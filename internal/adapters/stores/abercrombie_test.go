package stores

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stockwatch/monitor-service/internal/adapters"
)

const anfDetailFixture = `{
	"products": [
		{
			"productId": "53412-01",
			"name": "Oversized Tee",
			"categoryId": "mens-tops",
			"productPath": "/shop/us/p/oversized-tee-53412",
			"items": [
				{"skuId": "sku-1", "size": "M", "color": "White", "listPrice": 30, "offerPrice": 25, "inventory": {"available": true}},
				{"skuId": "sku-2", "size": "L", "color": "White", "listPrice": 30, "inventory": {"available": false}}
			]
		},
		{
			"productId": "53412-02",
			"name": "Oversized Tee Tall",
			"categoryId": "mens-tops",
			"productPath": "/shop/us/p/oversized-tee-tall-53412",
			"items": [
				{"skuId": "sku-3", "size": "LT", "color": "White", "listPrice": 35, "inventory": {"available": true}}
			]
		}
	]
}`

func TestAbercrombieFetchProductFamily(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(anfDetailFixture))
	}))
	defer srv.Close()

	a := NewAbercrombieAdapter(newTestClient())
	a.apiBase = srv.URL

	details, err := a.FetchListingDetails(context.Background(), "53412")
	require.NoError(t, err)

	// One listing can expose a product family.
	require.Len(t, details.Products, 2)
	assert.Equal(t, "53412-01", details.Products[0].ExternalProductID)
	assert.Equal(t, "53412-02", details.Products[1].ExternalProductID)

	v := details.Products[0].Variants[0]
	assert.Equal(t, 2500, v.PriceInCents, "offer price below list wins")
	assert.Equal(t, "Size=M;Color=White", adapters.AttributesKey(v.Attributes))
	assert.Equal(t, "https://www.abercrombie.com/shop/us/p/oversized-tee-53412", v.ProductURL)

	assert.Equal(t, 3000, details.Products[0].Variants[1].PriceInCents)
}

func TestAbercrombieFetchNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	a := NewAbercrombieAdapter(newTestClient())
	a.apiBase = srv.URL

	_, err := a.FetchListingDetails(context.Background(), "53412")
	assert.ErrorIs(t, err, adapters.ErrListingNotFound)
}

func TestAbercrombieFetchEmptyProducts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"products": []}`))
	}))
	defer srv.Close()

	a := NewAbercrombieAdapter(newTestClient())
	a.apiBase = srv.URL

	_, err := a.FetchListingDetails(context.Background(), "53412")
	var invalidErr *adapters.InvalidResponseError
	require.ErrorAs(t, err, &invalidErr)
}

func TestAbercrombieListFollowsCursor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("cursor") == "" {
			w.Write([]byte(`{"products": [{"collectionId": "53412"}], "nextCursor": "abc"}`))
			return
		}
		w.Write([]byte(`{"products": [{"collectionId": "60211"}], "nextCursor": ""}`))
	}))
	defer srv.Close()

	a := NewAbercrombieAdapter(newTestClient())
	a.apiBase = srv.URL

	ids, err := a.ListActiveExternalIDs(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, ids, 2)
}

func TestAbercrombieResolveExternalID(t *testing.T) {
	a := NewAbercrombieAdapter(newTestClient())

	id, err := a.ResolveExternalID(context.Background(), "https://www.abercrombie.com/shop/us/p/oversized-tee-53412?seq=01")
	require.NoError(t, err)
	assert.Equal(t, "53412", id)

	_, err = a.ResolveExternalID(context.Background(), "https://www.abercrombie.com/shop/us/mens-new-arrivals")
	assert.ErrorIs(t, err, adapters.ErrListingNotFound)
}
