package batch

import (
	"encoding/base64"
	"time"
	"unicode/utf8"

	"github.com/goccy/go-json"
)

// Success is a response whose status is in the success set and whose body
// decoded as JSON (or was kept as text in raw mode).
type Success struct {
	StatusCode int `json:"status_code"`
	// Body is the decoded JSON value, or a string in raw-text mode.
	Body   any            `json:"body"`
	Params *RequestParams `json:"request_params,omitempty"`
}

// Failure is a request that did not produce a Success.
type Failure struct {
	// StatusCode is 0 when no response was received.
	StatusCode int
	Raw        []byte
	Descriptor Descriptor
	Kind       ErrorKind
	Err        error
	Params     *RequestParams
}

// Retryable reports whether resubmitting the descriptor may succeed.
func (f Failure) Retryable() bool {
	return shouldRetry(f.Kind, f.StatusCode)
}

// MarshalJSON renders the error as its message and the raw body as text,
// or as base64 under raw_base64 when the body is not valid UTF-8.
func (f Failure) MarshalJSON() ([]byte, error) {
	out := struct {
		StatusCode int            `json:"status_code,omitempty"`
		Raw        string         `json:"raw,omitempty"`
		RawBase64  string         `json:"raw_base64,omitempty"`
		Descriptor Descriptor     `json:"descriptor"`
		Kind       ErrorKind      `json:"kind"`
		Error      string         `json:"error,omitempty"`
		Params     *RequestParams `json:"request_params,omitempty"`
	}{
		StatusCode: f.StatusCode,
		Descriptor: f.Descriptor,
		Kind:       f.Kind,
		Params:     f.Params,
	}
	if utf8.Valid(f.Raw) {
		out.Raw = string(f.Raw)
	} else {
		out.RawBase64 = base64.StdEncoding.EncodeToString(f.Raw)
	}
	if f.Err != nil {
		out.Error = f.Err.Error()
	}
	return json.Marshal(out)
}

// Result is the outcome of one descriptor: exactly one field is set.
type Result struct {
	Success *Success
	Failure *Failure
}

// OK reports whether the result is a Success.
func (r Result) OK() bool {
	return r.Success != nil
}

// Stats are the counters of one batch.
type Stats struct {
	// Issued counts requests handed to the HTTP session.
	Issued int64 `json:"issued"`
	// Received counts responses read back, whatever their status.
	Received int64 `json:"received"`
}

// BatchResult aggregates the outcomes of one batch.
// Order of Successes and Failures is unrelated to input order.
type BatchResult struct {
	Successes []Success     `json:"successes"`
	Failures  []Failure     `json:"failures"`
	Stats     Stats         `json:"stats"`
	Duration  time.Duration `json:"duration"`
}

// Total returns the number of outcomes.
func (r *BatchResult) Total() int {
	return len(r.Successes) + len(r.Failures)
}

// FailedDescriptors returns the descriptors of all failures, ready to resubmit.
func (r *BatchResult) FailedDescriptors() []Descriptor {
	out := make([]Descriptor, 0, len(r.Failures))
	for _, f := range r.Failures {
		out = append(out, f.Descriptor)
	}
	return out
}
