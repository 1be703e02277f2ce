package reconcile

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stockwatch/monitor-service/internal/adapters"
	"github.com/stockwatch/monitor-service/internal/database"
	"github.com/stockwatch/monitor-service/internal/taskqueue"
)

type fakeAdapter struct {
	handle string
	ids    map[string]struct{}
	err    error
}

func (f *fakeAdapter) Handle() string           { return f.handle }
func (f *fakeAdapter) Name() string             { return f.handle }
func (f *fakeAdapter) DomainPrefixes() []string { return nil }

func (f *fakeAdapter) ListActiveExternalIDs(ctx context.Context, limit int) (map[string]struct{}, error) {
	return f.ids, f.err
}

func (f *fakeAdapter) ResolveExternalID(ctx context.Context, rawURL string) (string, error) {
	return "", adapters.ErrListingNotFound
}

func (f *fakeAdapter) FetchListingDetails(ctx context.Context, externalID string) (*adapters.ListingDetails, error) {
	return nil, adapters.ErrListingNotFound
}

type fakeCatalog struct {
	store       *database.Store
	known       []database.StoreListing
	inserted    []string
	reactivated []string
}

func (f *fakeCatalog) GetStoreByHandle(ctx context.Context, handle string) (*database.Store, error) {
	return f.store, nil
}

func (f *fakeCatalog) ListKnownListings(ctx context.Context, storeID string, externalIDs []string) ([]database.StoreListing, error) {
	return f.known, nil
}

func (f *fakeCatalog) BulkInsertListings(ctx context.Context, storeID string, externalIDs []string) (int, error) {
	f.inserted = append(f.inserted, externalIDs...)
	return len(externalIDs), nil
}

func (f *fakeCatalog) BulkReactivateListings(ctx context.Context, listingIDs []string) (int, error) {
	f.reactivated = append(f.reactivated, listingIDs...)
	return len(listingIDs), nil
}

type fakeQueue struct {
	enqueued []taskqueue.EnqueueInput
}

func (f *fakeQueue) Enqueue(ctx context.Context, input taskqueue.EnqueueInput) (string, error) {
	f.enqueued = append(f.enqueued, input)
	return "tsk_test", nil
}

func idSet(ids ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func TestReconcileStorePartitionsListings(t *testing.T) {
	cat := &fakeCatalog{
		store: &database.Store{ID: "str_1", Handle: "jcrew"},
		known: []database.StoreListing{
			{ID: "lst_active", StoreID: "str_1", ExternalListingID: "BX291", Active: true},
			{ID: "lst_inactive", StoreID: "str_1", ExternalListingID: "BX300", Active: false},
		},
	}
	queue := &fakeQueue{}
	r := New(cat, queue, zerolog.Nop())

	adapter := &fakeAdapter{handle: "jcrew", ids: idSet("BX291", "BX300", "BX999")}
	result, err := r.ReconcileStore(context.Background(), adapter, 0)
	require.NoError(t, err)

	assert.Equal(t, 3, result.Discovered)
	assert.Equal(t, 1, result.New)
	assert.Equal(t, 1, result.Reactivated)
	assert.Equal(t, 1, result.Known)

	assert.Equal(t, []string{"BX999"}, cat.inserted)
	assert.Equal(t, []string{"lst_inactive"}, cat.reactivated)
}

func TestReconcileStoreEnqueuesInsertJobsForNewListings(t *testing.T) {
	cat := &fakeCatalog{store: &database.Store{ID: "str_1", Handle: "uniqlo"}}
	queue := &fakeQueue{}
	r := New(cat, queue, zerolog.Nop())

	adapter := &fakeAdapter{handle: "uniqlo", ids: idSet("E462-000")}
	_, err := r.ReconcileStore(context.Background(), adapter, 0)
	require.NoError(t, err)

	require.Len(t, queue.enqueued, 1)
	job := queue.enqueued[0]
	assert.Equal(t, taskqueue.KindInsertStoreListing, job.Kind)
	assert.Equal(t, "uniqlo:E462-000", job.SingletonKey)
	payload, ok := job.Payload.(taskqueue.InsertStoreListingPayload)
	require.True(t, ok)
	assert.Equal(t, "E462-000", payload.ExternalListingID)
	assert.Equal(t, "uniqlo", payload.Store)
}

func TestReconcileStoreIsIdempotentForKnownActiveListings(t *testing.T) {
	cat := &fakeCatalog{
		store: &database.Store{ID: "str_1", Handle: "jcrew"},
		known: []database.StoreListing{
			{ID: "lst_1", StoreID: "str_1", ExternalListingID: "BX291", Active: true},
		},
	}
	queue := &fakeQueue{}
	r := New(cat, queue, zerolog.Nop())

	adapter := &fakeAdapter{handle: "jcrew", ids: idSet("BX291")}
	result, err := r.ReconcileStore(context.Background(), adapter, 0)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Known)
	assert.Empty(t, cat.inserted)
	assert.Empty(t, cat.reactivated)
	assert.Empty(t, queue.enqueued)
}

func TestReconcileStoreRejectsEmptyCatalog(t *testing.T) {
	cat := &fakeCatalog{store: &database.Store{ID: "str_1", Handle: "jcrew"}}
	r := New(cat, &fakeQueue{}, zerolog.Nop())

	adapter := &fakeAdapter{handle: "jcrew", ids: map[string]struct{}{}}
	_, err := r.ReconcileStore(context.Background(), adapter, 0)
	assert.Error(t, err)
}
