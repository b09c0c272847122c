package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/Sternrassler/batch-fetcher/pkg/batch"
	"github.com/Sternrassler/batch-fetcher/pkg/client"
	"github.com/Sternrassler/batch-fetcher/pkg/logging"
	"github.com/Sternrassler/batch-fetcher/pkg/metrics"
	"github.com/Sternrassler/batch-fetcher/pkg/spool"
	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Getenv, os.Stdin, os.Stdout); err != nil {
		log.Fatal().Err(err).Msg("Batch failed")
	}
}

// config is the command configuration read from the environment.
type config struct {
	Input           string
	Method          batch.Method
	Rate            float64
	SuccessStatuses []int
	RawText         bool
	Echo            batch.EchoOptions
	Retries         int
	UserAgent       string
	RedisURL        string
	SpoolKey        string
	FromSpool       bool
	MetricsAddr     string
}

func loadConfig(getenv func(string) string) (config, error) {
	defaults := batch.DefaultConfig()
	cfg := config{
		Input:           getEnv(getenv, "INPUT", "-"),
		Rate:            defaults.Rate,
		SuccessStatuses: defaults.SuccessStatuses,
		Retries:         1,
		UserAgent:       getEnv(getenv, "USER_AGENT", client.DefaultConfig().UserAgent),
		RedisURL:        getenv("REDIS_URL"),
		SpoolKey:        getEnv(getenv, "SPOOL_KEY", spool.DefaultKey),
		MetricsAddr:     getenv("METRICS_ADDR"),
	}

	var err error
	if v := getenv("METHOD"); v != "" {
		if cfg.Method, err = batch.ParseMethod(v); err != nil {
			return cfg, fmt.Errorf("METHOD: %w", err)
		}
	}
	if v := getenv("RATE"); v != "" {
		if cfg.Rate, err = strconv.ParseFloat(v, 64); err != nil {
			return cfg, fmt.Errorf("RATE: %w", err)
		}
	}
	if v := getenv("SUCCESS_STATUSES"); v != "" {
		if cfg.SuccessStatuses, err = parseStatuses(v); err != nil {
			return cfg, fmt.Errorf("SUCCESS_STATUSES: %w", err)
		}
	}
	if v := getenv("RETRIES"); v != "" {
		if cfg.Retries, err = strconv.Atoi(v); err != nil || cfg.Retries < 1 {
			return cfg, fmt.Errorf("RETRIES: must be a positive integer, got %q", v)
		}
	}
	if v := getenv("ECHO"); v != "" {
		if cfg.Echo, err = parseEcho(v); err != nil {
			return cfg, fmt.Errorf("ECHO: %w", err)
		}
	}
	cfg.RawText, _ = strconv.ParseBool(getenv("RAW_TEXT"))
	cfg.FromSpool, _ = strconv.ParseBool(getenv("FROM_SPOOL"))

	if cfg.FromSpool && cfg.RedisURL == "" {
		return cfg, errors.New("FROM_SPOOL requires REDIS_URL")
	}

	return cfg, nil
}

func parseStatuses(v string) ([]int, error) {
	var statuses []int
	for _, field := range strings.Split(v, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		code, err := strconv.Atoi(field)
		if err != nil {
			return nil, fmt.Errorf("invalid status %q", field)
		}
		statuses = append(statuses, code)
	}
	if len(statuses) == 0 {
		return nil, errors.New("no status codes given")
	}
	return statuses, nil
}

func parseEcho(v string) (batch.EchoOptions, error) {
	var echo batch.EchoOptions
	for _, field := range strings.Split(v, ",") {
		switch strings.ToLower(strings.TrimSpace(field)) {
		case "url":
			echo.URL = true
		case "headers":
			echo.Headers = true
		case "payload":
			echo.Payload = true
		case "":
		default:
			return echo, fmt.Errorf("unknown field %q", field)
		}
	}
	return echo, nil
}

func run(ctx context.Context, getenv func(string) string, stdin io.Reader, stdout io.Writer) error {
	logging.Setup(logging.ConfigFromEnv(getenv))
	logger := logging.NewLogger("cli")

	cfg, err := loadConfig(getenv)
	if err != nil {
		return err
	}

	if cfg.MetricsAddr != "" {
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: newMux()}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("Metrics server failed")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
		logger.Info().Str("addr", cfg.MetricsAddr).Msg("Serving metrics")
	}

	var retrySpool *spool.Spool
	if cfg.RedisURL != "" {
		rdb, err := newRedisClient(cfg.RedisURL)
		if err != nil {
			return err
		}
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		if retrySpool, err = spool.New(spool.WithClient(rdb), spool.WithKey(cfg.SpoolKey)); err != nil {
			return err
		}
		logger.Info().Str("key", cfg.SpoolKey).Msg("Connected to retry spool")
	}

	descriptors, err := loadDescriptors(ctx, cfg, stdin, retrySpool)
	if err != nil {
		return err
	}

	fetcherCfg := batch.DefaultConfig()
	fetcherCfg.Rate = cfg.Rate
	fetcherCfg.SuccessStatuses = cfg.SuccessStatuses
	fetcherCfg.UserAgent = cfg.UserAgent

	fetcher, err := batch.NewFetcher(fetcherCfg)
	if err != nil {
		return err
	}

	opts := batch.Options{
		Method:  cfg.Method,
		Echo:    cfg.Echo,
		RawText: cfg.RawText,
	}

	var result *batch.BatchResult
	if cfg.Retries > 1 {
		retryCfg := batch.DefaultRetryConfig()
		retryCfg.MaxAttempts = cfg.Retries
		result, err = fetcher.FetchAllWithRetry(ctx, descriptors, opts, retryCfg)
	} else {
		result, err = fetcher.FetchAll(ctx, descriptors, opts)
	}
	if err != nil {
		return err
	}

	if retrySpool != nil && len(result.Failures) > 0 {
		if _, err := retrySpool.Push(ctx, result.Failures); err != nil {
			logger.Error().Err(err).Msg("Failed to spool failures")
		}
	}

	return writeResult(stdout, result, logger)
}

// loadDescriptors reads the batch from the retry spool or from INPUT ("-" is stdin).
func loadDescriptors(ctx context.Context, cfg config, stdin io.Reader, retrySpool *spool.Spool) ([]batch.Descriptor, error) {
	if cfg.FromSpool {
		return retrySpool.Pop(ctx)
	}

	r := stdin
	if cfg.Input != "-" {
		f, err := os.Open(cfg.Input)
		if err != nil {
			return nil, fmt.Errorf("open input: %w", err)
		}
		defer f.Close()
		r = f
	}

	var descriptors []batch.Descriptor
	if err := json.NewDecoder(r).Decode(&descriptors); err != nil {
		return nil, fmt.Errorf("decode descriptors: %w", err)
	}
	return descriptors, nil
}

func writeResult(w io.Writer, result *batch.BatchResult, logger zerolog.Logger) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return fmt.Errorf("encode result: %w", err)
	}

	logger.Info().
		Int("successes", len(result.Successes)).
		Int("failures", len(result.Failures)).
		Int64("issued", result.Stats.Issued).
		Int64("received", result.Stats.Received).
		Msg("Result written")
	return nil
}

func newRedisClient(addr string) (*redis.Client, error) {
	if !strings.Contains(addr, "://") {
		return redis.NewClient(&redis.Options{Addr: addr}), nil
	}
	opts, err := redis.ParseURL(addr)
	if err != nil {
		return nil, fmt.Errorf("REDIS_URL: %w", err)
	}
	return redis.NewClient(opts), nil
}

func newMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler)
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

func getEnv(getenv func(string) string, key, defaultValue string) string {
	if value := getenv(key); value != "" {
		return value
	}
	return defaultValue
}
