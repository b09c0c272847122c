// Package batch fetches a list of HTTP endpoints concurrently under a rate limit.
//
// Every descriptor in a batch yields exactly one outcome: a Success when the
// status is in the configured success set and the body decodes as JSON, or a
// Failure carrying the status, the raw body and a snapshot of the descriptor so
// the request can be resubmitted verbatim. Transport errors, undecodable bodies
// and unexpected statuses never abort the batch.
//
// Example usage:
//
//	fetcher, err := batch.NewFetcher(batch.DefaultConfig())
//	result, err := fetcher.FetchAll(ctx, descriptors, batch.Options{Method: batch.MethodGet})
//	retry := result.FailedDescriptors()
//
// The fetcher:
//   - Opens one HTTP session per batch and closes it when the batch ends
//   - Starts one goroutine per descriptor; the rate limiter spaces their calls
//   - Logs progress every 32 requests issued and every 32 responses received
//   - Resets its counters and failure list on entry and on exit of every batch
//
// A Fetcher runs one batch at a time. Use separate instances for independent
// concurrent batches.
package batch
