// Package spool keeps failed batch requests in a Redis list so a later batch
// can resubmit them. Records are JSON documents; popping is atomic so several
// workers can drain the same list without handing out a record twice.
package spool

import (
	"context"
	"errors"
	"fmt"

	"github.com/Sternrassler/batch-fetcher/pkg/batch"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrEmptyRedisClient is returned when a spool is created without a Redis client.
var ErrEmptyRedisClient = errors.New("redis client is empty")

// DefaultKey is the Redis list used when no key is configured.
const DefaultKey = "batchfetch:retry"

// defaultBatchSize bounds the number of records returned by one Pop.
const defaultBatchSize = 1000

// popScript pops up to ARGV[1] records from the list in KEYS[1].
var popScript = redis.NewScript(`
local key = KEYS[1]
local max_records = tonumber(ARGV[1])
local records = {}

for i = 1, max_records do
	local record = redis.call('LPOP', key)
	if not record then
		break
	end
	table.insert(records, record)
end

return records
`)

// Prometheus metrics for spool operations.
var (
	spoolPushedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "batchfetch_spool_pushed_total",
		Help: "Total number of failed requests pushed to the retry spool",
	})

	spoolPoppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "batchfetch_spool_popped_total",
		Help: "Total number of requests popped from the retry spool",
	})

	spoolErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "batchfetch_spool_errors_total",
		Help: "Total number of spool operation errors",
	}, []string{"operation"})
)

// Record is the stored form of one failed request.
type Record struct {
	Descriptor batch.Descriptor `json:"descriptor"`
	StatusCode int              `json:"status_code,omitempty"`
	Kind       batch.ErrorKind  `json:"kind"`
}

// Spool stores failed requests in a Redis list.
type Spool struct {
	rdb       redis.UniversalClient
	key       string
	batchSize int
	logger    zerolog.Logger
}

// Option configures a Spool.
type Option func(s *Spool)

// WithClient sets the Redis client. Required.
func WithClient(rdb redis.UniversalClient) Option {
	return func(s *Spool) {
		s.rdb = rdb
	}
}

// WithKey sets the Redis list key (default: DefaultKey).
func WithKey(key string) Option {
	return func(s *Spool) {
		s.key = key
	}
}

// WithBatchSize sets the maximum number of records returned by Pop.
func WithBatchSize(size int) Option {
	return func(s *Spool) {
		s.batchSize = size
	}
}

// New creates a spool from the given options.
func New(opts ...Option) (*Spool, error) {
	s := &Spool{}

	for _, opt := range opts {
		opt(s)
	}

	if s.rdb == nil {
		return nil, ErrEmptyRedisClient
	}
	if s.key == "" {
		s.key = DefaultKey
	}
	if s.batchSize <= 0 {
		s.batchSize = defaultBatchSize
	}
	s.logger = log.With().Str("component", "retry-spool").Str("key", s.key).Logger()

	return s, nil
}

// Key returns the Redis list key.
func (s *Spool) Key() string {
	return s.key
}

// Push appends failures to the spool and returns how many were stored.
func (s *Spool) Push(ctx context.Context, failures []batch.Failure) (int, error) {
	if len(failures) == 0 {
		return 0, nil
	}

	values := make([]any, 0, len(failures))
	for _, failure := range failures {
		data, err := json.Marshal(Record{
			Descriptor: failure.Descriptor,
			StatusCode: failure.StatusCode,
			Kind:       failure.Kind,
		})
		if err != nil {
			spoolErrorsTotal.WithLabelValues("encode").Inc()
			return 0, fmt.Errorf("encode record for %s: %w", failure.Descriptor.URL, err)
		}
		values = append(values, data)
	}

	if err := s.rdb.RPush(ctx, s.key, values...).Err(); err != nil {
		spoolErrorsTotal.WithLabelValues("push").Inc()
		return 0, fmt.Errorf("redis rpush: %w", err)
	}

	spoolPushedTotal.Add(float64(len(values)))
	s.logger.Info().Int("records", len(values)).Msg("Spooled failed requests")

	return len(values), nil
}

// Pop removes up to the configured batch size of records and returns their
// descriptors in push order. Records that cannot be decoded are dropped.
func (s *Spool) Pop(ctx context.Context) ([]batch.Descriptor, error) {
	result, err := popScript.Run(ctx, s.rdb, []string{s.key}, s.batchSize).Result()
	if err != nil {
		spoolErrorsTotal.WithLabelValues("pop").Inc()
		return nil, fmt.Errorf("run pop script: %w", err)
	}

	descriptors := make([]batch.Descriptor, 0)
	values, ok := result.([]interface{})
	if !ok {
		return descriptors, nil
	}

	for _, value := range values {
		raw, ok := value.(string)
		if !ok {
			continue
		}

		var record Record
		if err := json.Unmarshal([]byte(raw), &record); err != nil {
			spoolErrorsTotal.WithLabelValues("decode").Inc()
			s.logger.Warn().Err(err).Msg("Dropping undecodable spool record")
			continue
		}
		descriptors = append(descriptors, record.Descriptor)
	}

	spoolPoppedTotal.Add(float64(len(descriptors)))
	return descriptors, nil
}

// Len returns the number of records waiting in the spool.
func (s *Spool) Len(ctx context.Context) (int64, error) {
	n, err := s.rdb.LLen(ctx, s.key).Result()
	if err != nil {
		spoolErrorsTotal.WithLabelValues("len").Inc()
		return 0, fmt.Errorf("redis llen: %w", err)
	}
	return n, nil
}
