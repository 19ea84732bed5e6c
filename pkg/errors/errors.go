package errors

import "fmt"

// ErrorType represents different types of errors that can occur
type ErrorType string

const (
	ErrorTypeNetwork     ErrorType = "network"
	ErrorTypeNavigation  ErrorType = "navigation"
	ErrorTypeBrowser     ErrorType = "browser"
	ErrorTypeNotFound    ErrorType = "not_found"
	ErrorTypeSizeLimit   ErrorType = "size_limit"
	ErrorTypeTimeout     ErrorType = "timeout"
	ErrorTypeServerError ErrorType = "server_error"
	ErrorTypeUnknown     ErrorType = "unknown"
)

// Error represents a crawl error with type information
type Error struct {
	Type    ErrorType
	Message string
	Code    int
}

func (e *Error) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s error (code %d): %s", e.Type, e.Code, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Type, e.Message)
}

// New creates a typed error
func New(t ErrorType, message string) *Error {
	return &Error{Type: t, Message: message}
}

// NewWithCode creates a typed error carrying an HTTP status code
func NewWithCode(t ErrorType, message string, code int) *Error {
	return &Error{Type: t, Message: message, Code: code}
}

// IsRetryable checks if an error type should be retried
func IsRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeNetwork, ErrorTypeServerError, ErrorTypeTimeout:
		return true
	case ErrorTypeNavigation, ErrorTypeNotFound, ErrorTypeSizeLimit, ErrorTypeBrowser:
		return false
	default:
		return false
	}
}

// IsRetryableStatusCode checks if an HTTP status code indicates a retryable error
func IsRetryableStatusCode(statusCode int) bool {
	switch statusCode {
	case 0: // Network error
		return true
	case 429: // Too Many Requests
		return true
	case 500, 502, 503, 504: // Server errors
		return true
	case 401, 403, 404: // Client errors that won't change
		return false
	default:
		return statusCode >= 500 // Retry all 5xx errors
	}
}
