package apiclient

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotFound indicates the requested resource does not exist
	ErrNotFound = errors.New("resource not found")

	// ErrConflict indicates the request conflicts with the resource state
	ErrConflict = errors.New("resource conflict")

	// ErrUnavailable indicates the remote service is unavailable
	ErrUnavailable = errors.New("service unavailable")

	// ErrInvalidResponse indicates a response body that could not be decoded
	ErrInvalidResponse = errors.New("invalid api response")
)

// APIError represents an error status from a backend API
type APIError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("api error (status %d): %s: %v", e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("api error (status %d): %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// NewAPIError creates a new API error
func NewAPIError(statusCode int, message string, err error) *APIError {
	return &APIError{
		StatusCode: statusCode,
		Message:    message,
		Err:        err,
	}
}

// MapHTTPStatusToError maps HTTP status codes to specific errors
func MapHTTPStatusToError(statusCode int, message string) error {
	switch statusCode {
	case http.StatusNotFound:
		return NewAPIError(statusCode, message, ErrNotFound)
	case http.StatusConflict:
		return NewAPIError(statusCode, message, ErrConflict)
	case http.StatusServiceUnavailable:
		return NewAPIError(statusCode, message, ErrUnavailable)
	default:
		return NewAPIError(statusCode, message, nil)
	}
}

// IsNotFound checks if an error is a "not found" error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// isNonRetryableError checks if an error should not be retried
func isNonRetryableError(err error) bool {
	// Don't retry on 4xx errors except 408 (timeout) and 429 (rate limit)
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 {
			return apiErr.StatusCode != http.StatusRequestTimeout && apiErr.StatusCode != http.StatusTooManyRequests
		}
	}
	return false
}
