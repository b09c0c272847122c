package batch

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Sternrassler/batch-fetcher/pkg/client"
	"github.com/Sternrassler/batch-fetcher/pkg/ratelimit"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for batch operations.
var (
	batchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "batchfetch_batches_total",
		Help: "Total number of batches run",
	})

	batchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "batchfetch_batch_duration_seconds",
		Help:    "Wall-clock duration of a batch",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
	})

	outcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "batchfetch_outcomes_total",
		Help: "Total request outcomes by result",
	}, []string{"result"})

	failuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "batchfetch_failures_total",
		Help: "Total failed requests by kind and reason",
	}, []string{"kind", "reason"})
)

// Options apply to one batch.
type Options struct {
	// Method is used by descriptors that set none (default: GET)
	Method Method

	// Session configures the HTTP session shared by the batch (cookies, headers)
	Session client.SessionOptions

	// Echo selects descriptor fields copied onto every result
	Echo EchoOptions

	// RawText keeps success bodies as text instead of decoding JSON
	RawText bool
}

// Fetcher runs rate-limited batches of HTTP requests.
type Fetcher struct {
	limiter  *ratelimit.Limiter
	sessions client.Factory
	success  map[int]struct{}
	every    int64
	logger   zerolog.Logger

	running  atomic.Bool
	issued   atomic.Int64
	received atomic.Int64

	mu       sync.Mutex
	failures []Failure
}

// NewFetcher creates a fetcher from cfg.
func NewFetcher(cfg Config) (*Fetcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	limiter, err := ratelimit.New(cfg.Rate)
	if err != nil {
		return nil, fmt.Errorf("create rate limiter: %w", err)
	}

	sessions := cfg.Sessions
	if sessions == nil {
		factory, err := client.NewFactory(client.Config{
			UserAgent: cfg.UserAgent,
			Timeout:   cfg.Timeout,
			Transport: cfg.Transport,
		})
		if err != nil {
			return nil, fmt.Errorf("create session factory: %w", err)
		}
		sessions = factory
	}

	statuses := cfg.SuccessStatuses
	if len(statuses) == 0 {
		statuses = []int{http.StatusOK}
	}
	success := make(map[int]struct{}, len(statuses))
	for _, status := range statuses {
		success[status] = struct{}{}
	}

	every := cfg.ProgressEvery
	if every == 0 {
		every = 32
	}

	return &Fetcher{
		limiter:  limiter,
		sessions: sessions,
		success:  success,
		every:    int64(every),
		logger:   log.With().Str("component", "batch-fetcher").Logger(),
	}, nil
}

// Issued returns the number of requests issued in the running batch.
func (f *Fetcher) Issued() int64 {
	return f.issued.Load()
}

// Received returns the number of responses received in the running batch.
func (f *Fetcher) Received() int64 {
	return f.received.Load()
}

// PendingFailures returns the number of failures accumulated in the running batch.
func (f *Fetcher) PendingFailures() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.failures)
}

// Run drives FetchAll to completion for callers without a context.
func (f *Fetcher) Run(descriptors []Descriptor, opts Options) (*BatchResult, error) {
	return f.FetchAll(context.Background(), descriptors, opts)
}

// FetchAll issues every descriptor concurrently and waits for all of them.
// Individual request failures are reported in the result; an error is returned
// only for misuse (unsupported method, concurrent batch) or when no session
// can be opened, in which case nothing is issued.
func (f *Fetcher) FetchAll(ctx context.Context, descriptors []Descriptor, opts Options) (*BatchResult, error) {
	if _, err := opts.Method.resolve(MethodDefault); err != nil {
		return nil, fmt.Errorf("batch method: %w", err)
	}

	methods := make([]Method, len(descriptors))
	for i, d := range descriptors {
		method, err := d.Method.resolve(opts.Method)
		if err != nil {
			return nil, fmt.Errorf("descriptor %d (%s): %w", i, d.URL, err)
		}
		methods[i] = method
	}

	if !f.running.CompareAndSwap(false, true) {
		return nil, ErrBatchInProgress
	}
	defer f.running.Store(false)

	f.reset()
	defer f.reset()

	session, err := f.sessions.Open(opts.Session)
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			f.logger.Warn().Err(err).Msg("Failed to close session")
		}
	}()

	start := time.Now()
	batchesTotal.Inc()
	f.logger.Info().
		Int("total_requests", len(descriptors)).
		Float64("rate", f.limiter.Rate()).
		Msg("Starting batch")

	successes := make(chan Success, len(descriptors))
	var wg sync.WaitGroup
	for i := range descriptors {
		wg.Add(1)
		go func(d Descriptor, method Method) {
			defer wg.Done()
			if result := f.fetch(ctx, session, d, method, opts); result.Success != nil {
				successes <- *result.Success
			}
		}(descriptors[i], methods[i])
	}

	wg.Wait()
	close(successes)

	result := &BatchResult{
		Successes: make([]Success, 0, len(descriptors)),
	}
	for s := range successes {
		result.Successes = append(result.Successes, s)
	}
	result.Failures = f.drainFailures()
	result.Stats = Stats{
		Issued:   f.issued.Load(),
		Received: f.received.Load(),
	}
	result.Duration = time.Since(start)
	batchDuration.Observe(result.Duration.Seconds())

	f.logger.Info().
		Int("successes", len(result.Successes)).
		Int("failures", len(result.Failures)).
		Int64("issued", result.Stats.Issued).
		Int64("received", result.Stats.Received).
		Dur("duration", result.Duration).
		Msg("Batch complete")

	return result, nil
}

// FetchOne issues a single descriptor through session.
// The returned error is non-nil only for an unsupported method.
func (f *Fetcher) FetchOne(ctx context.Context, session client.Session, d Descriptor, opts Options) (Result, error) {
	method, err := d.Method.resolve(opts.Method)
	if err != nil {
		return Result{}, err
	}
	return f.fetch(ctx, session, d, method, opts), nil
}

func (f *Fetcher) fetch(ctx context.Context, session client.Session, d Descriptor, method Method, opts Options) Result {
	params := opts.Echo.params(d)

	if err := f.limiter.Acquire(ctx); err != nil {
		return f.fail(d, method, params, KindTransport, 0, nil, err)
	}

	req := &client.Request{
		Method:  method.String(),
		URL:     d.URL,
		Headers: d.Headers,
	}
	if method == MethodPost && d.Payload != nil {
		body, err := json.Marshal(d.Payload)
		if err != nil {
			return f.fail(d, method, params, KindTransport, 0, nil, fmt.Errorf("encode payload: %w", err))
		}
		req.Body = body
	}

	if n := f.issued.Add(1); n%f.every == 0 {
		f.logger.Info().Int64("requests_made", n).Msg("Batch progress")
	}

	resp, err := session.Do(ctx, req)
	if err != nil {
		return f.fail(d, method, params, KindTransport, 0, nil, err)
	}

	if n := f.received.Add(1); n%f.every == 0 {
		f.logger.Info().Int64("responses_received", n).Msg("Batch progress")
	}

	if _, ok := f.success[resp.StatusCode]; !ok {
		return f.fail(d, method, params, KindApplication, resp.StatusCode, resp.Body,
			fmt.Errorf("%w %d", ErrUnexpectedStatus, resp.StatusCode))
	}

	var body any
	if opts.RawText {
		body = string(resp.Body)
	} else if err := json.Unmarshal(resp.Body, &body); err != nil {
		return f.fail(d, method, params, KindParse, resp.StatusCode, resp.Body,
			fmt.Errorf("decode response body: %w", err))
	}

	outcomesTotal.WithLabelValues("success").Inc()
	return Result{Success: &Success{
		StatusCode: resp.StatusCode,
		Body:       body,
		Params:     params,
	}}
}

// fail records a Failure in the batch accumulator and returns it.
func (f *Fetcher) fail(d Descriptor, method Method, params *RequestParams, kind ErrorKind, status int, raw []byte, err error) Result {
	failure := Failure{
		StatusCode: status,
		Raw:        raw,
		Descriptor: d.snapshot(method),
		Kind:       kind,
		Err: &FetchError{
			Kind:       kind,
			StatusCode: status,
			URL:        d.URL,
			Err:        err,
		},
		Params: params,
	}

	reason := string(kind)
	if kind == KindTransport {
		reason = transportReason(err)
	}
	outcomesTotal.WithLabelValues("failure").Inc()
	failuresTotal.WithLabelValues(string(kind), reason).Inc()

	f.logger.Debug().
		Err(err).
		Str("url", d.URL).
		Str("method", method.String()).
		Int("status_code", status).
		Str("kind", string(kind)).
		Str("reason", reason).
		Msg("Request failed")

	f.mu.Lock()
	f.failures = append(f.failures, failure)
	f.mu.Unlock()

	return Result{Failure: &failure}
}

// drainFailures returns the accumulated failures and clears the list.
func (f *Fetcher) drainFailures() []Failure {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.failures
	f.failures = nil
	if out == nil {
		out = []Failure{}
	}
	return out
}

func (f *Fetcher) reset() {
	f.issued.Store(0)
	f.received.Store(0)
	f.mu.Lock()
	f.failures = nil
	f.mu.Unlock()
}
