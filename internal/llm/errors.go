package llm

import "fmt"

// APIError represents an error response from a provider API.
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
}

// NewAPIError creates an APIError.
func NewAPIError(provider string, statusCode int, body string) *APIError {
	return &APIError{Provider: provider, StatusCode: statusCode, Body: body}
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("%s api error (status %d): %s", e.Provider, e.StatusCode, e.Body)
}

// WrapError wraps an error with the provider name.
func WrapError(provider string, err error) error {
	return fmt.Errorf("%s: %w", provider, err)
}
