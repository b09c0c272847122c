package batch

import (
	"context"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for retry rounds.
var (
	retriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "batchfetch_retries_total",
		Help: "Total number of descriptors resubmitted after a retryable failure",
	})

	retryBackoffSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "batchfetch_retry_backoff_seconds",
		Help:    "Backoff duration between retry rounds",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	})

	retryExhaustedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "batchfetch_retry_exhausted_total",
		Help: "Total number of descriptors still failing after the last attempt",
	})
)

// RetryConfig holds the configuration for retry rounds.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts per descriptor (including the first).
	MaxAttempts int

	// InitialBackoff is the wait before the first retry round.
	InitialBackoff time.Duration

	// MaxBackoff caps the wait between rounds.
	MaxBackoff time.Duration

	// BackoffMultiplier grows the backoff after each round.
	BackoffMultiplier float64
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// FetchAllWithRetry runs FetchAll and resubmits retryable failures
// (transport errors, 5xx and 429) in further rounds with exponential backoff.
// The result still holds exactly one outcome per descriptor: the last one seen.
// If ctx ends during a backoff, the outcomes collected so far are returned.
func (f *Fetcher) FetchAllWithRetry(ctx context.Context, descriptors []Descriptor, opts Options, cfg RetryConfig) (*BatchResult, error) {
	result, err := f.FetchAll(ctx, descriptors, opts)
	if err != nil {
		return nil, err
	}

	backoff := cfg.InitialBackoff
	for attempt := 2; attempt <= cfg.MaxAttempts; attempt++ {
		var retry []Descriptor
		kept := make([]Failure, 0, len(result.Failures))
		for _, failure := range result.Failures {
			if failure.Retryable() {
				retry = append(retry, failure.Descriptor)
				continue
			}
			kept = append(kept, failure)
		}
		if len(retry) == 0 {
			return result, nil
		}

		jitter := time.Duration(float64(backoff) * (0.8 + rand.Float64()*0.4))
		retryBackoffSeconds.Observe(jitter.Seconds())

		f.logger.Info().
			Int("attempt", attempt).
			Int("retrying", len(retry)).
			Dur("backoff", jitter).
			Msg("Retrying failed requests after backoff")

		select {
		case <-ctx.Done():
			f.logger.Warn().
				Int("attempt", attempt).
				Msg("Context cancelled during retry backoff")
			return result, nil
		case <-time.After(jitter):
		}

		retriesTotal.Add(float64(len(retry)))
		next, err := f.FetchAll(ctx, retry, opts)
		if err != nil {
			return nil, err
		}

		result.Successes = append(result.Successes, next.Successes...)
		result.Failures = append(kept, next.Failures...)
		result.Stats.Issued += next.Stats.Issued
		result.Stats.Received += next.Stats.Received
		result.Duration += jitter + next.Duration

		backoff = time.Duration(float64(backoff) * cfg.BackoffMultiplier)
		if cfg.MaxBackoff > 0 && backoff > cfg.MaxBackoff {
			backoff = cfg.MaxBackoff
		}
	}

	exhausted := 0
	for _, failure := range result.Failures {
		if failure.Retryable() {
			exhausted++
		}
	}
	if exhausted > 0 {
		retryExhaustedTotal.Add(float64(exhausted))
		f.logger.Warn().
			Int("exhausted", exhausted).
			Int("max_attempts", cfg.MaxAttempts).
			Msg("Retry attempts exhausted")
	}

	return result, nil
}
