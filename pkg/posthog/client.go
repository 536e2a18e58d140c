package posthog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Client is a thin PostHog HTTP client. The core only needs raw events
// for snapshot aggregation and a health probe.
type Client struct {
	baseURL    string
	apiKey     string
	projectID  string
	httpClient *http.Client
	logger     *logrus.Logger
	config     *Config
}

// API is the surface the analytics sync consumes.
type API interface {
	ListEvents(ctx context.Context, after, before time.Time) ([]Event, error)
	ListCustomerEvents(ctx context.Context, distinctID string, after, before time.Time) ([]Event, error)
	HealthCheck(ctx context.Context) error
}

// NewClient creates a PostHog client.
func NewClient(config *Config, logger *logrus.Logger) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = logrus.New()
	}

	return &Client{
		baseURL:   strings.TrimRight(config.BaseURL, "/"),
		apiKey:    config.APIKey,
		projectID: config.ProjectID,
		httpClient: &http.Client{
			Timeout:   config.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger,
		config: config,
	}
}

func (c *Client) createRequest(ctx context.Context, method, endpoint string) (*http.Request, error) {
	reqURL := endpoint
	if !strings.HasPrefix(endpoint, "http") {
		reqURL = fmt.Sprintf("%s%s", c.baseURL, endpoint)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("User-Agent", "ChurnGuard-PostHog-Client/1.0")

	return req, nil
}

func (c *Client) doRequest(req *http.Request, result interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	c.logger.Debugf("PostHog API Request: %s %s", req.Method, req.URL.String())
	c.logger.Debugf("PostHog API Response: %d", resp.StatusCode)

	if resp.StatusCode >= 400 {
		var errResp ErrorResponse
		if err := json.Unmarshal(body, &errResp); err == nil && errResp.Detail != "" {
			return &apiError{status: resp.StatusCode,
				msg: fmt.Sprintf("API error [%d]: %s (code: %s)", resp.StatusCode, errResp.Detail, errResp.Code)}
		}
		return &apiError{status: resp.StatusCode,
			msg: fmt.Sprintf("API error [%d]: %s", resp.StatusCode, string(body))}
	}

	if result != nil {
		if err := json.Unmarshal(body, result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}

	return nil
}

func (c *Client) doRequestWithRetry(ctx context.Context, method, endpoint string, result interface{}) error {
	var lastErr error

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
			c.logger.Warnf("PostHog API retry attempt %d/%d", attempt, c.config.MaxRetries)
		}

		req, err := c.createRequest(ctx, method, endpoint)
		if err != nil {
			lastErr = err
			continue
		}

		if err := c.doRequest(req, result); err != nil {
			lastErr = err
			// Only transport failures and 5xx are worth retrying; a bad
			// key or missing project will not get better next attempt.
			var ae *apiError
			if errors.As(err, &ae) && ae.status < 500 {
				return lastErr
			}
			continue
		}

		return nil
	}

	return lastErr
}

// apiError carries the HTTP status of a failed request so the retry
// loop can tell client errors from server errors.
type apiError struct {
	status int
	msg    string
}

func (e *apiError) Error() string { return e.msg }

// ListEvents returns all raw events in [after, before), following
// pagination until exhausted.
func (c *Client) ListEvents(ctx context.Context, after, before time.Time) ([]Event, error) {
	return c.listEvents(ctx, "", after, before)
}

// ListCustomerEvents returns one customer's raw events in [after, before).
func (c *Client) ListCustomerEvents(ctx context.Context, distinctID string, after, before time.Time) ([]Event, error) {
	if distinctID == "" {
		return nil, fmt.Errorf("distinct id is required")
	}
	return c.listEvents(ctx, distinctID, after, before)
}

func (c *Client) listEvents(ctx context.Context, distinctID string, after, before time.Time) ([]Event, error) {
	if c.projectID == "" {
		return nil, fmt.Errorf("project id is required")
	}

	params := url.Values{}
	params.Set("after", after.UTC().Format(time.RFC3339))
	params.Set("before", before.UTC().Format(time.RFC3339))
	if distinctID != "" {
		params.Set("distinct_id", distinctID)
	}
	endpoint := fmt.Sprintf("/api/projects/%s/events/?%s", c.projectID, params.Encode())

	var events []Event
	for endpoint != "" {
		var page eventsResponse
		if err := c.doRequestWithRetry(ctx, http.MethodGet, endpoint, &page); err != nil {
			return nil, fmt.Errorf("list events: %w", err)
		}
		events = append(events, page.Results...)
		endpoint = page.Next
	}

	return events, nil
}

// HealthCheck verifies the project is reachable with the configured key.
func (c *Client) HealthCheck(ctx context.Context) error {
	if c.projectID == "" {
		return fmt.Errorf("project id is required")
	}
	endpoint := fmt.Sprintf("/api/projects/%s/", c.projectID)
	req, err := c.createRequest(ctx, http.MethodGet, endpoint)
	if err != nil {
		return err
	}
	return c.doRequest(req, nil)
}
