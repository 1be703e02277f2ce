// Package stores contains the per-retailer adapter implementations. Each
// adapter is independent and replaceable; all of them share one rate-limited
// HTTP client routed through the proxy pool.
package stores

import (
	"github.com/stockwatch/monitor-service/internal/adapters/registry"
	"github.com/stockwatch/monitor-service/internal/httpx"
)

// RegisterAll registers every store adapter on the given registry.
func RegisterAll(reg *registry.Registry, client *httpx.Client) {
	reg.Register(NewUniqloAdapter(client))
	reg.Register(NewJCrewAdapter(client))
	reg.Register(NewAbercrombieAdapter(client))
}
