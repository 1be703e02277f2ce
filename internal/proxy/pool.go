// Package proxy provides the shared egress proxy pool used by store adapters.
package proxy

import (
	"fmt"
	"math/rand/v2"
	"net/http"
	"net/url"
)

// Pool holds a fixed set of outbound proxy URLs. Adapters pick a proxy at
// random per request; no affinity is guaranteed across requests.
type Pool struct {
	proxies []*url.URL
}

// NewPool parses the given proxy URLs into a pool. An empty list yields a
// pool that always reports direct egress.
func NewPool(rawURLs []string) (*Pool, error) {
	proxies := make([]*url.URL, 0, len(rawURLs))
	for _, raw := range rawURLs {
		u, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL %q: %w", raw, err)
		}
		if u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("invalid proxy URL %q: missing scheme or host", raw)
		}
		proxies = append(proxies, u)
	}
	return &Pool{proxies: proxies}, nil
}

// Size returns the number of proxies in the pool.
func (p *Pool) Size() int {
	return len(p.proxies)
}

// PickRandom returns a random proxy URL, or nil when the pool is empty
// (direct egress).
func (p *Pool) PickRandom() *url.URL {
	if len(p.proxies) == 0 {
		return nil
	}
	return p.proxies[rand.IntN(len(p.proxies))]
}

// ProxyFunc returns an http.Transport-compatible proxy selector that picks a
// random pool member per request.
func (p *Pool) ProxyFunc() func(*http.Request) (*url.URL, error) {
	return func(*http.Request) (*url.URL, error) {
		return p.PickRandom(), nil
	}
}
