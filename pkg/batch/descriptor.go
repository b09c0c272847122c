package batch

import (
	"fmt"
	"maps"
	"strings"

	"github.com/goccy/go-json"
)

// Method is the HTTP method of a descriptor.
type Method int

const (
	// MethodDefault defers to the batch method (GET when the batch sets none).
	MethodDefault Method = iota

	// MethodGet issues a GET without body.
	MethodGet

	// MethodPost issues a POST with the payload encoded as JSON.
	MethodPost
)

// ParseMethod converts a method name such as "get" or "POST".
func ParseMethod(name string) (Method, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "get":
		return MethodGet, nil
	case "post":
		return MethodPost, nil
	default:
		return MethodDefault, fmt.Errorf("%w: %q", ErrUnsupportedMethod, name)
	}
}

// String returns the HTTP verb.
func (m Method) String() string {
	switch m {
	case MethodDefault:
		return ""
	case MethodGet:
		return "GET"
	case MethodPost:
		return "POST"
	default:
		return fmt.Sprintf("Method(%d)", int(m))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m Method) MarshalText() ([]byte, error) {
	if m != MethodDefault && m != MethodGet && m != MethodPost {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMethod, m)
	}
	return []byte(strings.ToLower(m.String())), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Method) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*m = MethodDefault
		return nil
	}
	parsed, err := ParseMethod(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// resolve picks the method a descriptor is sent with.
func (m Method) resolve(batchMethod Method) (Method, error) {
	if m == MethodDefault {
		m = batchMethod
	}
	if m == MethodDefault {
		m = MethodGet
	}
	if m != MethodGet && m != MethodPost {
		return MethodDefault, fmt.Errorf("%w: %s", ErrUnsupportedMethod, m)
	}
	return m, nil
}

// Descriptor describes one HTTP call of a batch.
type Descriptor struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	// Payload is JSON-encoded and sent as the body of a POST; GET ignores it.
	Payload any    `json:"payload,omitempty"`
	Method  Method `json:"method,omitempty"`
}

// MarshalJSON leaves out the method of a descriptor that defers to the batch.
func (d Descriptor) MarshalJSON() ([]byte, error) {
	out := struct {
		URL     string            `json:"url"`
		Headers map[string]string `json:"headers,omitempty"`
		Payload any               `json:"payload,omitempty"`
		Method  string            `json:"method,omitempty"`
	}{
		URL:     d.URL,
		Headers: d.Headers,
		Payload: d.Payload,
	}
	if d.Method != MethodDefault {
		text, err := d.Method.MarshalText()
		if err != nil {
			return nil, err
		}
		out.Method = string(text)
	}
	return json.Marshal(out)
}

// snapshot returns a copy whose header map is not shared with the caller.
func (d Descriptor) snapshot(method Method) Descriptor {
	return Descriptor{
		URL:     d.URL,
		Headers: maps.Clone(d.Headers),
		Payload: d.Payload,
		Method:  method,
	}
}

// EchoOptions selects the descriptor fields copied onto every result.
type EchoOptions struct {
	URL     bool
	Headers bool
	Payload bool
}

// Any reports whether at least one field is echoed.
func (e EchoOptions) Any() bool {
	return e.URL || e.Headers || e.Payload
}

// RequestParams holds the echoed descriptor fields of a result.
type RequestParams struct {
	URL     string            `json:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Payload any               `json:"payload,omitempty"`
}

func (e EchoOptions) params(d Descriptor) *RequestParams {
	if !e.Any() {
		return nil
	}

	params := &RequestParams{}
	if e.URL {
		params.URL = d.URL
	}
	if e.Headers {
		params.Headers = maps.Clone(d.Headers)
	}
	if e.Payload {
		params.Payload = d.Payload
	}
	return params
}
