package posthog

import "time"

// Config holds client settings for the PostHog API.
type Config struct {
	BaseURL    string
	APIKey     string
	ProjectID  string
	Timeout    time.Duration
	MaxRetries int
}

// DefaultConfig returns usable defaults for the hosted service.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:    "https://app.posthog.com",
		Timeout:    30 * time.Second,
		MaxRetries: 3,
	}
}

// Event is one raw behavioral event. DistinctID carries the customer
// email for product analytics configured to identify by email.
type Event struct {
	ID         string                 `json:"id"`
	DistinctID string                 `json:"distinct_id"`
	Event      string                 `json:"event"`
	Timestamp  time.Time              `json:"timestamp"`
	Properties map[string]interface{} `json:"properties,omitempty"`
}

// eventsResponse is the paginated events list payload.
type eventsResponse struct {
	Results []Event `json:"results"`
	Next    string  `json:"next"`
}

// ErrorResponse is the API error payload.
type ErrorResponse struct {
	Type   string `json:"type"`
	Code   string `json:"code"`
	Detail string `json:"detail"`
}
