// Package httpx provides the rate-limited, retrying HTTP client shared by
// store adapters. Egress is rotated through the proxy pool.
package httpx

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/stockwatch/monitor-service/internal/proxy"
)

const defaultUserAgent = "stockwatch-monitor/1.0"

// Config holds throttle and retry settings for a client.
type Config struct {
	RequestsPerSecond float64
	MaxRetries        int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	RequestTimeout    time.Duration
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: 2,
		MaxRetries:        3,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        30 * time.Second,
		RequestTimeout:    30 * time.Second,
	}
}

// Client wraps http.Client with per-adapter rate limiting, retry with
// exponential backoff, and proxy rotation. Caller deadlines are hard cutoffs:
// a cancelled context aborts both in-flight requests and backoff sleeps.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	config     Config
}

// NewClient creates a client that routes requests through the given proxy
// pool. A nil pool means direct egress.
func NewClient(cfg Config, pool *proxy.Pool) *Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if pool != nil && pool.Size() > 0 {
		transport.Proxy = pool.ProxyFunc()
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = DefaultConfig().RequestsPerSecond
	}

	return &Client{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.RequestTimeout,
		},
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		config:  cfg,
	}
}

// Get performs a GET request with rate limiting and retry logic.
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	return c.Do(ctx, http.MethodGet, url, nil)
}

// Do performs an HTTP request with rate limiting and retry logic. Responses
// with a non-retryable error status are returned to the caller unconsumed so
// adapters can classify them (404 vs schema failures).
func (c *Client) Do(ctx context.Context, method, url string, body io.Reader) (*http.Response, error) {
	// The body reader is consumed by the first attempt; buffer it so every
	// retry sends the full payload.
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = io.ReadAll(body)
		if err != nil {
			return nil, fmt.Errorf("reading request body for %s: %w", url, err)
		}
	}

	var lastStatus int
	var lastErr error

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait: %w", err)
		}

		var reqBody io.Reader
		if bodyBytes != nil {
			reqBody = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
		if err != nil {
			return nil, fmt.Errorf("building request for %s: %w", url, err)
		}
		req.Header.Set("User-Agent", defaultUserAgent)
		req.Header.Set("Accept", "application/json, */*")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			if attempt < c.config.MaxRetries {
				if serr := sleepCtx(ctx, calculateBackoff(attempt, c.config)); serr != nil {
					return nil, serr
				}
				continue
			}
			break
		}

		lastStatus = resp.StatusCode

		// Non-retryable statuses (including 404) are the caller's problem.
		if !IsRetryableStatus(resp.StatusCode) {
			return resp, nil
		}

		if attempt == c.config.MaxRetries {
			resp.Body.Close()
			break
		}

		var backoff time.Duration
		if resp.StatusCode == http.StatusTooManyRequests {
			backoff = calculateRateLimitBackoff(attempt, c.config, resp.Header.Get("Retry-After"))
		} else {
			backoff = calculateBackoff(attempt, c.config)
		}
		resp.Body.Close()

		if serr := sleepCtx(ctx, backoff); serr != nil {
			return nil, serr
		}
	}

	return nil, &FetchRetryError{
		URL:        url,
		Attempts:   c.config.MaxRetries + 1,
		LastStatus: lastStatus,
		LastError:  lastErr,
	}
}

// GetBytes performs a GET request and returns the body for 2xx responses.
// Non-2xx responses are returned as a *StatusError.
func (c *Client) GetBytes(ctx context.Context, url string) ([]byte, error) {
	resp, err := c.Get(ctx, url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return nil, &StatusError{URL: url, StatusCode: resp.StatusCode}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body from %s: %w", url, err)
	}
	return data, nil
}

// StatusError reports a completed request with a non-2xx status.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.StatusCode, e.URL)
}
