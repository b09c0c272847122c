package batch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Sternrassler/batch-fetcher/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    10 * time.Millisecond,
		MaxBackoff:        20 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}
}

func TestDefaultRetryConfig(t *testing.T) {
	config := DefaultRetryConfig()

	assert.Equal(t, 3, config.MaxAttempts)
	assert.Equal(t, 1*time.Second, config.InitialBackoff)
	assert.Equal(t, 30*time.Second, config.MaxBackoff)
	assert.Equal(t, 2.0, config.BackoffMultiplier)
}

func TestShouldRetry(t *testing.T) {
	tests := []struct {
		name       string
		kind       ErrorKind
		statusCode int
		expected   bool
	}{
		{name: "transport", kind: KindTransport, statusCode: 0, expected: true},
		{name: "server error 500", kind: KindApplication, statusCode: 500, expected: true},
		{name: "server error 503", kind: KindApplication, statusCode: 503, expected: true},
		{name: "rate limit 520", kind: KindApplication, statusCode: 520, expected: true},
		{name: "too many requests", kind: KindApplication, statusCode: 429, expected: true},
		{name: "client error 404", kind: KindApplication, statusCode: 404, expected: false},
		{name: "client error 403", kind: KindApplication, statusCode: 403, expected: false},
		{name: "parse error", kind: KindParse, statusCode: 200, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, shouldRetry(tt.kind, tt.statusCode))
		})
	}
}

func TestFetchAllWithRetry_RecoversFlakyEndpoint(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/flaky":
			if calls.Add(1) < 3 {
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte("try again"))
				return
			}
			w.Write([]byte(`{"recovered":true}`))
		case "/gone":
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte("gone"))
		default:
			w.Write([]byte(`{}`))
		}
	}))
	defer server.Close()

	fetcher := newTestFetcher(t, nil)
	descriptors := []Descriptor{
		{URL: server.URL + "/flaky"},
		{URL: server.URL + "/gone"},
		{URL: server.URL + "/fine"},
	}

	result, err := fetcher.FetchAllWithRetry(context.Background(), descriptors, Options{}, fastRetryConfig())
	require.NoError(t, err)

	assert.Equal(t, len(descriptors), result.Total())
	assert.Len(t, result.Successes, 2)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, http.StatusNotFound, result.Failures[0].StatusCode)
	assert.Equal(t, int32(3), calls.Load())

	// 3 first-round requests + 2 retries of /flaky
	assert.Equal(t, int64(5), result.Stats.Issued)
	assert.Zero(t, fetcher.Issued())
}

func TestFetchAllWithRetry_RateLimitedEndpoint(t *testing.T) {
	mock := testutil.NewMockServer()
	defer mock.Close()

	mock.SetHandler("/throttled", testutil.NewFlakyHandler(1, http.StatusTooManyRequests, `{"ok":true}`))
	mock.SetResponse("/always-throttled", testutil.NewRateLimitResponse())

	fetcher := newTestFetcher(t, nil)
	result, err := fetcher.FetchAllWithRetry(context.Background(), []Descriptor{
		{URL: mock.URL() + "/throttled", Method: MethodPost, Payload: map[string]any{"n": 1}},
		{URL: mock.URL() + "/always-throttled"},
	}, Options{}, fastRetryConfig())
	require.NoError(t, err)

	require.Len(t, result.Successes, 1)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, http.StatusTooManyRequests, result.Failures[0].StatusCode)

	assert.Equal(t, 2, mock.GetPathCount("/throttled"))
	assert.Equal(t, 3, mock.GetPathCount("/always-throttled"))
	// the retried descriptor keeps its method
	assert.Equal(t, 2, mock.GetMethodCount(http.MethodPost))
}

func TestFetchAllWithRetry_Exhausted(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	fetcher := newTestFetcher(t, nil)
	result, err := fetcher.FetchAllWithRetry(context.Background(), []Descriptor{{URL: server.URL}}, Options{}, fastRetryConfig())
	require.NoError(t, err)

	assert.Empty(t, result.Successes)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, http.StatusBadGateway, result.Failures[0].StatusCode)
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetchAllWithRetry_ContextCancelledDuringBackoff(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	cfg := fastRetryConfig()
	cfg.InitialBackoff = time.Hour
	cfg.MaxBackoff = time.Hour

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	fetcher := newTestFetcher(t, nil)
	result, err := fetcher.FetchAllWithRetry(ctx, []Descriptor{{URL: server.URL}}, Options{}, cfg)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Total())
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetchAllWithRetry_PropagatesMisuse(t *testing.T) {
	fetcher := newTestFetcher(t, nil)

	_, err := fetcher.FetchAllWithRetry(context.Background(), []Descriptor{{URL: "http://a", Method: Method(9)}}, Options{}, fastRetryConfig())
	assert.ErrorIs(t, err, ErrUnsupportedMethod)
}
