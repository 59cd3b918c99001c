package errors

import "fmt"

// ErrorType classifies failures across the pipeline. Transient types are
// retry-eligible; permanent types are recorded and never retried.
type ErrorType string

const (
	ErrorTypeNetwork     ErrorType = "network"
	ErrorTypeTimeout     ErrorType = "timeout"
	ErrorTypeNotFound    ErrorType = "not_found"
	ErrorTypeServerError ErrorType = "server_error"
	ErrorTypeBusy        ErrorType = "busy"
	ErrorTypeParsing     ErrorType = "parsing"
	ErrorTypeFatal       ErrorType = "fatal"
	ErrorTypeUnknown     ErrorType = "unknown"
)

// Error carries a classified pipeline error with an optional HTTP code.
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

// New creates a classified error.
func New(errorType ErrorType, message string) *Error {
	return &Error{Type: errorType, Message: message}
}

// NewWithCode creates a classified error carrying an HTTP status code.
func NewWithCode(errorType ErrorType, message string, code int) *Error {
	return &Error{Type: errorType, Message: message, Code: code}
}

// IsRetryable reports whether an error type should be retried.
func IsRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeNetwork, ErrorTypeTimeout, ErrorTypeServerError, ErrorTypeBusy:
		return true
	case ErrorTypeNotFound, ErrorTypeParsing, ErrorTypeFatal:
		return false
	default:
		return false
	}
}

// ClassifyStatusCode maps an HTTP status code onto the pipeline taxonomy.
// Code 0 means the request never completed (network-level failure).
func ClassifyStatusCode(statusCode int) ErrorType {
	switch {
	case statusCode == 0:
		return ErrorTypeNetwork
	case statusCode == 404:
		return ErrorTypeNotFound
	case statusCode == 429 || statusCode == 503:
		return ErrorTypeBusy
	case statusCode >= 500:
		return ErrorTypeServerError
	default:
		return ErrorTypeUnknown
	}
}

// IsRetryableStatusCode reports whether an HTTP status code indicates a
// retryable condition.
func IsRetryableStatusCode(statusCode int) bool {
	return IsRetryable(ClassifyStatusCode(statusCode))
}
