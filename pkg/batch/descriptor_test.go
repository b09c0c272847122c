package batch

import (
	"encoding/base64"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMethod(t *testing.T) {
	tests := []struct {
		input       string
		expected    Method
		expectError bool
	}{
		{input: "get", expected: MethodGet},
		{input: "GET", expected: MethodGet},
		{input: " Post ", expected: MethodPost},
		{input: "delete", expectError: true},
		{input: "", expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			method, err := ParseMethod(tt.input)
			if tt.expectError {
				assert.ErrorIs(t, err, ErrUnsupportedMethod)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, method)
		})
	}
}

func TestMethodResolve(t *testing.T) {
	tests := []struct {
		name        string
		descriptor  Method
		batch       Method
		expected    Method
		expectError bool
	}{
		{name: "default everywhere", descriptor: MethodDefault, batch: MethodDefault, expected: MethodGet},
		{name: "batch method", descriptor: MethodDefault, batch: MethodPost, expected: MethodPost},
		{name: "descriptor wins", descriptor: MethodGet, batch: MethodPost, expected: MethodGet},
		{name: "unknown descriptor method", descriptor: Method(5), batch: MethodGet, expectError: true},
		{name: "unknown batch method", descriptor: MethodDefault, batch: Method(5), expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			method, err := tt.descriptor.resolve(tt.batch)
			if tt.expectError {
				assert.ErrorIs(t, err, ErrUnsupportedMethod)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, method)
		})
	}
}

func TestDescriptorJSON(t *testing.T) {
	input := `{"url":"https://api.example.com/x","headers":{"A":"1"},"payload":{"q":"x"},"method":"post"}`

	var d Descriptor
	require.NoError(t, json.Unmarshal([]byte(input), &d))

	assert.Equal(t, "https://api.example.com/x", d.URL)
	assert.Equal(t, map[string]string{"A": "1"}, d.Headers)
	assert.Equal(t, map[string]any{"q": "x"}, d.Payload)
	assert.Equal(t, MethodPost, d.Method)

	var bad Descriptor
	assert.Error(t, json.Unmarshal([]byte(`{"url":"x","method":"put"}`), &bad))
}

func TestDescriptorMarshalJSON(t *testing.T) {
	tests := []struct {
		name     string
		input    Descriptor
		expected string
	}{
		{
			name:     "default method omitted",
			input:    Descriptor{URL: "https://api.example.com/a"},
			expected: `{"url":"https://api.example.com/a"}`,
		},
		{
			name:     "explicit method kept",
			input:    Descriptor{URL: "https://api.example.com/a", Method: MethodPost, Payload: map[string]any{"q": "x"}},
			expected: `{"url":"https://api.example.com/a","payload":{"q":"x"},"method":"post"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.input)
			require.NoError(t, err)
			assert.JSONEq(t, tt.expected, string(data))

			var back Descriptor
			require.NoError(t, json.Unmarshal(data, &back))
			assert.Equal(t, tt.input, back)
		})
	}

	_, err := json.Marshal(Descriptor{URL: "x", Method: Method(7)})
	assert.Error(t, err)
}

func TestFailureMarshalJSON(t *testing.T) {
	failure := Failure{
		StatusCode: 500,
		Raw:        []byte("server error"),
		Descriptor: Descriptor{URL: "https://api.example.com/b", Method: MethodGet},
		Kind:       KindApplication,
		Err:        &FetchError{Kind: KindApplication, StatusCode: 500, URL: "https://api.example.com/b", Err: ErrUnexpectedStatus},
	}

	data, err := json.Marshal(failure)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "server error", decoded["raw"])
	assert.Equal(t, float64(500), decoded["status_code"])
	assert.Equal(t, "application", decoded["kind"])
	assert.Equal(t, "get", decoded["descriptor"].(map[string]any)["method"])
	assert.Contains(t, decoded["error"], "status 500")
}

func TestFailureMarshalJSON_BinaryRaw(t *testing.T) {
	raw := []byte{0xff, 0xfe, 'a'}
	failure := Failure{
		StatusCode: 502,
		Raw:        raw,
		Descriptor: Descriptor{URL: "https://api.example.com/bin"},
		Kind:       KindApplication,
	}

	data, err := json.Marshal(failure)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.NotContains(t, decoded, "raw")

	encoded, ok := decoded["raw_base64"].(string)
	require.True(t, ok)
	body, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)
	assert.Equal(t, raw, body)

	assert.NotContains(t, decoded["descriptor"].(map[string]any), "method")
}
