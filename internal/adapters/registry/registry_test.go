package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stockwatch/monitor-service/internal/adapters"
)

type stubAdapter struct {
	handle   string
	prefixes []string
}

func (s *stubAdapter) Handle() string            { return s.handle }
func (s *stubAdapter) Name() string              { return s.handle }
func (s *stubAdapter) DomainPrefixes() []string  { return s.prefixes }
func (s *stubAdapter) ListActiveExternalIDs(context.Context, int) (map[string]struct{}, error) {
	return nil, nil
}
func (s *stubAdapter) ResolveExternalID(context.Context, string) (string, error) {
	return "", nil
}
func (s *stubAdapter) FetchListingDetails(context.Context, string) (*adapters.ListingDetails, error) {
	return nil, nil
}

func TestResolveAdapterByHandle(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubAdapter{handle: "uniqlo"})

	got, err := r.ResolveAdapter("uniqlo")
	require.NoError(t, err)
	assert.Equal(t, "uniqlo", got.Handle())

	_, err = r.ResolveAdapter("unknown")
	assert.Error(t, err)
}

func TestResolveAdapterFromURL(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubAdapter{handle: "uniqlo", prefixes: []string{"https://www.uniqlo.com/us/"}})
	r.Register(&stubAdapter{handle: "jcrew", prefixes: []string{"https://www.jcrew.com/"}})

	tests := []struct {
		name    string
		url     string
		handle  string
		wantErr bool
	}{
		{"Exact prefix", "https://www.uniqlo.com/us/en/products/E459592-000", "uniqlo", false},
		{"No www", "https://uniqlo.com/us/en/products/E459592-000", "uniqlo", false},
		{"HTTP scheme", "http://www.jcrew.com/p/AB123", "jcrew", false},
		{"Unknown store", "https://www.example.com/p/1", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.ResolveAdapterFromURL(tt.url)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.handle, got.Handle())
		})
	}
}

func TestHandles(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubAdapter{handle: "a"})
	r.Register(&stubAdapter{handle: "b"})
	assert.ElementsMatch(t, []string{"a", "b"}, r.Handles())
}
