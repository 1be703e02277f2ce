package httpx

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		RequestsPerSecond: 1000,
		MaxRetries:        2,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        5 * time.Millisecond,
		RequestTimeout:    2 * time.Second,
	}
}

func TestGetBytesSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := NewClient(testConfig(), nil)
	data, err := c.GetBytes(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(data))
}

func TestNotFoundReturnedWithoutRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(testConfig(), nil)
	_, err := c.GetBytes(context.Background(), srv.URL)

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)
	assert.Equal(t, int32(1), calls.Load(), "404 must not be retried")
}

func TestServerErrorRetriedThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := NewClient(testConfig(), nil)
	data, err := c.GetBytes(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(data))
	assert.Equal(t, int32(3), calls.Load())
}

func TestRetriedRequestResendsFullBody(t *testing.T) {
	var calls atomic.Int32
	bodies := make(chan string, 3)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		bodies <- string(data)
		if calls.Add(1) < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := NewClient(testConfig(), nil)
	resp, err := c.Do(context.Background(), http.MethodPost, srv.URL, strings.NewReader(`{"sku":"BX291"}`))
	require.NoError(t, err)
	resp.Body.Close()

	require.Equal(t, int32(2), calls.Load())
	// Both attempts, including the retry, must carry the payload.
	assert.Equal(t, `{"sku":"BX291"}`, <-bodies)
	assert.Equal(t, `{"sku":"BX291"}`, <-bodies)
}

func TestRetriesExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(testConfig(), nil)
	_, err := c.GetBytes(context.Background(), srv.URL)

	var retryErr *FetchRetryError
	require.ErrorAs(t, err, &retryErr)
	assert.Equal(t, 3, retryErr.Attempts)
	assert.Equal(t, http.StatusInternalServerError, retryErr.LastStatus)
}

func TestContextCancellationAborts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(time.Second)
	}))
	defer srv.Close()

	c := NewClient(testConfig(), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := c.GetBytes(ctx, srv.URL)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded) || time.Since(start) < 500*time.Millisecond,
		"cancelled request must fail fast, got %v after %v", err, time.Since(start))
}

func TestIsRetryableStatus(t *testing.T) {
	tests := []struct {
		status   int
		expected bool
	}{
		{200, false},
		{404, false},
		{410, false},
		{429, true},
		{500, true},
		{502, true},
		{599, true},
	}

	for _, tt := range tests {
		if got := IsRetryableStatus(tt.status); got != tt.expected {
			t.Errorf("IsRetryableStatus(%d) = %v, want %v", tt.status, got, tt.expected)
		}
	}
}

func TestCalculateBackoffRespectsCap(t *testing.T) {
	cfg := Config{InitialBackoff: 100 * time.Millisecond, MaxBackoff: time.Second}
	for attempt := 0; attempt < 10; attempt++ {
		d := calculateBackoff(attempt, cfg)
		// Cap plus 25% jitter headroom.
		assert.LessOrEqual(t, d, 1250*time.Millisecond, "attempt %d", attempt)
	}
}

func TestRateLimitBackoffHonorsRetryAfter(t *testing.T) {
	cfg := Config{InitialBackoff: time.Millisecond, MaxBackoff: time.Second}
	d := calculateRateLimitBackoff(0, cfg, "3")
	assert.GreaterOrEqual(t, d, 3*time.Second)
	assert.Less(t, d, 5*time.Second)
}
