package batch

import (
	"fmt"
	"net/http"
	"time"

	"github.com/Sternrassler/batch-fetcher/pkg/client"
)

// Config holds batch fetcher configuration.
type Config struct {
	// Rate is the maximum number of requests started per second.
	// Fractional values are allowed (0.5 = one request every 2 seconds).
	Rate float64

	// SuccessStatuses are the status codes classified as success (default: 200)
	SuccessStatuses []int

	// ProgressEvery controls how often progress is logged (default: 32)
	ProgressEvery int

	// UserAgent and Timeout configure the default HTTP session factory.
	UserAgent string
	Timeout   time.Duration

	// Transport overrides the base round tripper of the default factory (tests)
	Transport http.RoundTripper

	// Sessions replaces the default HTTP session factory entirely.
	Sessions client.Factory
}

// DefaultConfig returns the default configuration: 64 req/s, success on 200.
func DefaultConfig() Config {
	httpDefaults := client.DefaultConfig()
	return Config{
		Rate:            64,
		SuccessStatuses: []int{http.StatusOK},
		ProgressEvery:   32,
		UserAgent:       httpDefaults.UserAgent,
		Timeout:         httpDefaults.Timeout,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Rate <= 0 {
		return fmt.Errorf("rate must be positive (got %v)", c.Rate)
	}
	if c.ProgressEvery < 0 {
		return fmt.Errorf("progress interval cannot be negative (got %d)", c.ProgressEvery)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout cannot be negative (got %s)", c.Timeout)
	}
	for _, status := range c.SuccessStatuses {
		if status < 100 || status > 599 {
			return fmt.Errorf("invalid success status %d", status)
		}
	}
	return nil
}
