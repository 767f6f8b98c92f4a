// Package testutil provides helpers shared by package and integration tests.
package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"testing"
)

// Client calls a running server and validates every exchange against the
// API contract when a validator is set.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Validator  *OpenAPIValidator

	username string
	password string
	token    string
}

// NewClient creates a client for baseURL. A nil validator disables contract
// checks.
func NewClient(baseURL string, validator *OpenAPIValidator) *Client {
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{},
		Validator:  validator,
	}
}

// WithBasicAuth returns a copy of the client sending basic credentials.
func (c *Client) WithBasicAuth(username, password string) *Client {
	clone := *c
	clone.username, clone.password = username, password
	return &clone
}

// WithToken returns a copy of the client sending a bearer token.
func (c *Client) WithToken(token string) *Client {
	clone := *c
	clone.token = token
	return &clone
}

// WithoutValidation returns a copy of the client with contract checks
// disabled, for requests that are expected to be invalid.
func (c *Client) WithoutValidation() *Client {
	clone := *c
	clone.Validator = nil
	return &clone
}

// GET performs a GET request.
func (c *Client) GET(t *testing.T, path string) *http.Response {
	t.Helper()
	return c.do(t, http.MethodGet, path, nil)
}

// POST performs a POST request with a JSON body. A []byte body is sent as is.
func (c *Client) POST(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	return c.do(t, http.MethodPost, path, body)
}

func (c *Client) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()

	var bodyBytes []byte
	switch b := body.(type) {
	case nil:
	case []byte:
		bodyBytes = b
	default:
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
	}

	req, err := http.NewRequest(method, c.BaseURL+path, bytes.NewReader(bodyBytes))
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	if c.Validator != nil && body != nil {
		c.Validator.ValidateRequest(t, req)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}

	if c.Validator != nil {
		c.Validator.ValidateResponse(t, req, resp)
	}

	return resp
}

// DecodeJSON decodes the response body into v.
func DecodeJSON(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

// ReadBody reads and returns the response body.
func ReadBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(body)
}

// FulfillmentRequest builds an agent request for intent sent from channel by
// user.
func FulfillmentRequest(intent string, params map[string]any, channel, user, text string) map[string]any {
	if params == nil {
		params = map[string]any{}
	}
	return map[string]any{
		"id":        fmt.Sprintf("req-%s", intent),
		"sessionId": "session-1",
		"result": map[string]any{
			"resolvedQuery": text,
			"action":        intent,
			"parameters":    params,
			"metadata":      map[string]any{"intentName": intent},
		},
		"originalRequest": map[string]any{
			"source": "slack",
			"data": map[string]any{
				"event": map[string]any{
					"type":    "message",
					"channel": channel,
					"user":    user,
					"text":    text,
				},
			},
		},
	}
}
