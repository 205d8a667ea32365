package catalog

import (
	"errors"
	"fmt"
)

// ErrorCategory is the normalized fetch failure taxonomy.
type ErrorCategory string

const (
	// ErrorNetwork covers transport failures and unexpected HTTP statuses.
	ErrorNetwork ErrorCategory = "network"

	// ErrorMalformedResponse indicates the body does not match the catalog schema.
	ErrorMalformedResponse ErrorCategory = "malformed_response"

	// ErrorTimeout indicates the request exceeded its deadline.
	ErrorTimeout ErrorCategory = "timeout"
)

// FetchError wraps catalog failures with a normalized category.
type FetchError struct {
	Category   ErrorCategory
	Message    string
	StatusCode int
	Underlying error
	Retryable  bool
}

func (e *FetchError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("catalog fetch [%s]: %s: %v", e.Category, e.Message, e.Underlying)
	}
	return fmt.Sprintf("catalog fetch [%s]: %s", e.Category, e.Message)
}

func (e *FetchError) Unwrap() error {
	return e.Underlying
}

// NewFetchError creates a FetchError. Network and timeout failures start out
// retryable; callers clear Retryable for permanent conditions such as 4xx.
func NewFetchError(category ErrorCategory, message string, underlying error) *FetchError {
	return &FetchError{
		Category:   category,
		Message:    message,
		Underlying: underlying,
		Retryable:  category == ErrorNetwork || category == ErrorTimeout,
	}
}

// IsRetryable checks if an error is worth retrying.
func IsRetryable(err error) bool {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Retryable
	}
	return false
}

// GetCategory extracts the category from an error. Unknown errors are
// reported as network failures.
func GetCategory(err error) ErrorCategory {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Category
	}
	return ErrorNetwork
}
