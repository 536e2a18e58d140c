package resend

import "time"

// Config holds client settings for the Resend API.
type Config struct {
	BaseURL string
	APIKey  string
	From    string
	Timeout time.Duration
}

// DefaultConfig returns usable defaults for the hosted service.
func DefaultConfig() *Config {
	return &Config{
		BaseURL: "https://api.resend.com",
		Timeout: 15 * time.Second,
	}
}

// SendRequest is the POST /emails payload.
type SendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html,omitempty"`
	Text    string   `json:"text,omitempty"`
}

// SendResponse carries the provider message id.
type SendResponse struct {
	ID string `json:"id"`
}

// ErrorResponse is the API error payload.
type ErrorResponse struct {
	Name       string `json:"name"`
	Message    string `json:"message"`
	StatusCode int    `json:"statusCode"`
}
