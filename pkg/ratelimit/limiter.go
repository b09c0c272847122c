// Package ratelimit bounds the rate at which callers may start an operation.
// Permits are issued from a token bucket holding a single token, so a rate of R
// admits one caller every 1/R seconds instead of R callers at once.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"
)

// ErrInvalidRate is returned when a limiter is configured with a rate that is
// not a positive finite number.
var ErrInvalidRate = errors.New("rate must be a positive finite number")

// Prometheus metrics for permit issuance.
var (
	permitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "batchfetch_ratelimit_permits_total",
		Help: "Total number of permits granted by the rate limiter",
	})

	permitWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "batchfetch_ratelimit_wait_seconds",
		Help:    "Time callers spent waiting for a permit",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	})
)

// Limiter issues permits at a fixed maximum rate.
// Waiting callers are admitted in the order they called Acquire.
type Limiter struct {
	limiter *rate.Limiter
	rate    float64
}

// New creates a limiter admitting at most perSecond permits per second.
// Fractional rates are allowed: 0.5 means one permit every two seconds.
func New(perSecond float64) (*Limiter, error) {
	if perSecond <= 0 || math.IsNaN(perSecond) || math.IsInf(perSecond, 0) {
		return nil, fmt.Errorf("%w (got %v)", ErrInvalidRate, perSecond)
	}

	return &Limiter{
		limiter: rate.NewLimiter(rate.Limit(perSecond), 1),
		rate:    perSecond,
	}, nil
}

// Rate returns the configured permits per second.
func (l *Limiter) Rate() float64 {
	return l.rate
}

// Interval returns the spacing between two consecutive permits.
func (l *Limiter) Interval() time.Duration {
	return time.Duration(float64(time.Second) / l.rate)
}

// Acquire blocks until the caller may proceed.
// The limiter never fails on its own; an error is returned only when ctx ends
// before the caller's turn comes up.
func (l *Limiter) Acquire(ctx context.Context) error {
	start := time.Now()

	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("acquire permit: %w", err)
	}

	permitWaitSeconds.Observe(time.Since(start).Seconds())
	permitsTotal.Inc()
	return nil
}
