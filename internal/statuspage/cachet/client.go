// Package cachet declares incidents on a Cachet status page through its
// v1 REST API.
package cachet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Horgix/incidents-automation-app/internal/domain"
)

const (
	defaultTimeout = 10 * time.Second
	tokenHeader    = "X-Cachet-Token"
)

// Cachet incident statuses.
const (
	statusInvestigating = 1
)

// Cachet component statuses.
const (
	componentPartialOutage = 3
	componentMajorOutage   = 4
)

// Config holds Cachet client configuration.
type Config struct {
	URL         string
	Token       string
	ComponentID int // component flagged by declared incidents, 0 for none
	Timeout     time.Duration
}

// Client implements incidents.StatusPage against Cachet.
type Client struct {
	config     Config
	httpClient *http.Client
}

// NewClient creates a new Cachet client.
func NewClient(config Config) *Client {
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}
	config.URL = strings.TrimRight(config.URL, "/")

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

type incidentPayload struct {
	Name            string `json:"name"`
	Message         string `json:"message"`
	Status          int    `json:"status"`
	Visible         int    `json:"visible"`
	ComponentID     int    `json:"component_id,omitempty"`
	ComponentStatus int    `json:"component_status,omitempty"`
}

type incidentResponse struct {
	Data struct {
		ID int `json:"id"`
	} `json:"data"`
}

// DeclareIncident creates a visible "investigating" incident and returns
// its Cachet id.
func (c *Client) DeclareIncident(ctx context.Context, inc *domain.Incident) (string, error) {
	payload := incidentPayload{
		Name:    inc.Title,
		Message: inc.Description,
		Status:  statusInvestigating,
		Visible: 1,
	}
	if c.config.ComponentID > 0 {
		payload.ComponentID = c.config.ComponentID
		payload.ComponentStatus = componentStatus(inc.Priority)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.URL+"/api/v1/incidents", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(tokenHeader, c.config.Token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &RetryableError{Message: fmt.Sprintf("send request: %v", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	return c.handleResponse(resp, inc.ID)
}

func (c *Client) handleResponse(resp *http.Response, incidentID int) (string, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		var parsed incidentResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return "", &PermanentError{Code: resp.StatusCode, Message: fmt.Sprintf("decode response: %v", err)}
		}
		id := strconv.Itoa(parsed.Data.ID)
		slog.Debug("incident declared on cachet", "incident_id", incidentID, "cachet_id", id)
		return id, nil

	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", &PermanentError{Code: resp.StatusCode, Message: "invalid api token"}

	case resp.StatusCode == http.StatusBadRequest:
		return "", &PermanentError{Code: resp.StatusCode, Message: fmt.Sprintf("bad request: %s", string(body))}

	case resp.StatusCode == http.StatusTooManyRequests:
		return "", &RetryableError{Code: resp.StatusCode, Message: "rate limited"}

	case resp.StatusCode >= 500:
		return "", &RetryableError{Code: resp.StatusCode, Message: fmt.Sprintf("server error: %s", string(body))}

	default:
		return "", fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}
}

func componentStatus(p domain.Priority) int {
	if p == domain.PriorityOrange {
		return componentPartialOutage
	}
	return componentMajorOutage
}

// PermanentError indicates a permanent error that should not be retried.
type PermanentError struct {
	Code    int
	Message string
}

func (e *PermanentError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("cachet error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("cachet error: %s", e.Message)
}

// IsRetryable returns false as permanent errors should not be retried.
func (e *PermanentError) IsRetryable() bool { return false }

// RetryableError indicates a temporary error that can be retried.
type RetryableError struct {
	Code    int
	Message string
}

func (e *RetryableError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("cachet error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("cachet error: %s", e.Message)
}

// IsRetryable returns true as these errors are temporary.
func (e *RetryableError) IsRetryable() bool { return true }
