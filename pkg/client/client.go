// Package client provides the HTTP session used by the batch fetcher.
// A session is opened once per batch and shared by every request in it;
// closing the session releases its idle connections.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for HTTP operations.
var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "batchfetch_http_requests_total",
		Help: "Total HTTP requests by method and status",
	}, []string{"method", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "batchfetch_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds by method",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"method"})

	sessionsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "batchfetch_http_sessions_open",
		Help: "Number of HTTP sessions currently open",
	})
)

// Request is a single HTTP call issued through a Session.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	// Body is sent as-is; a non-nil body is labelled application/json.
	Body []byte
}

// Response is the status and fully read body of a completed call.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Session issues requests over one shared connection pool.
type Session interface {
	Do(ctx context.Context, req *Request) (*Response, error)
	Close() error
}

// Factory opens batch-scoped sessions.
type Factory interface {
	Open(opts SessionOptions) (Session, error)
}

// SessionOptions apply to every request of one session.
type SessionOptions struct {
	// Cookies are sent with every request of the session.
	Cookies map[string]string

	// Headers are added to every request; descriptor headers win on conflict.
	Headers map[string]string
}

// Config holds the HTTP factory configuration.
type Config struct {
	// UserAgent header sent with every request (empty = Go default)
	UserAgent string

	// Timeout bounds a single request including reading the body
	Timeout time.Duration

	// Transport is the base round tripper (nil = clone of http.DefaultTransport)
	Transport http.RoundTripper
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig() Config {
	return Config{
		UserAgent: "batch-fetcher/0.1.0",
		Timeout:   30 * time.Second,
	}
}

// HTTPFactory opens sessions backed by net/http.
type HTTPFactory struct {
	config Config
	logger zerolog.Logger
}

// NewFactory creates a session factory.
func NewFactory(cfg Config) (*HTTPFactory, error) {
	if cfg.Timeout < 0 {
		return nil, fmt.Errorf("timeout cannot be negative (got %s)", cfg.Timeout)
	}

	return &HTTPFactory{
		config: cfg,
		logger: log.With().Str("component", "http-session").Logger(),
	}, nil
}

// Open creates a new session with its own cookie jar and connection pool.
func (f *HTTPFactory) Open(opts SessionOptions) (Session, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	transport := f.config.Transport
	if transport == nil {
		transport = http.DefaultTransport.(*http.Transport).Clone()
	}

	sessionsOpen.Inc()
	f.logger.Debug().
		Int("cookies", len(opts.Cookies)).
		Int("headers", len(opts.Headers)).
		Msg("Session opened")

	return &httpSession{
		httpClient: &http.Client{
			Transport: transport,
			Jar:       jar,
			Timeout:   f.config.Timeout,
		},
		userAgent: f.config.UserAgent,
		opts:      opts,
		logger:    f.logger,
	}, nil
}

type httpSession struct {
	httpClient *http.Client
	userAgent  string
	opts       SessionOptions
	logger     zerolog.Logger
	closed     bool
}

// Do performs the request and reads the whole body.
// Any status code is returned as a Response; only transport failures return an error.
func (s *httpSession) Do(ctx context.Context, r *Request) (*Response, error) {
	var body io.Reader
	if r.Body != nil {
		body = bytes.NewReader(r.Body)
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, r.URL, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}
	if r.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range s.opts.Headers {
		req.Header.Set(key, value)
	}
	for key, value := range r.Headers {
		req.Header.Set(key, value)
	}
	for name, value := range s.opts.Cookies {
		req.AddCookie(&http.Cookie{Name: name, Value: value})
	}

	startTime := time.Now()
	defer func() {
		httpRequestDuration.WithLabelValues(r.Method).Observe(time.Since(startTime).Seconds())
	}()

	resp, err := s.httpClient.Do(req)
	if err != nil {
		httpRequestsTotal.WithLabelValues(r.Method, "network_error").Inc()
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		httpRequestsTotal.WithLabelValues(r.Method, "network_error").Inc()
		return nil, fmt.Errorf("read response body: %w", err)
	}

	httpRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(resp.StatusCode)).Inc()

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
	}, nil
}

// Close releases idle connections. Closing twice is a no-op.
func (s *httpSession) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.httpClient.CloseIdleConnections()
	sessionsOpen.Dec()
	s.logger.Debug().Msg("Session closed")
	return nil
}
