package store

import (
	"errors"
	"fmt"

	"nimbus/pkg/platform/sentinel"
)

// ErrorCategory is the normalized persistence failure taxonomy.
type ErrorCategory string

const (
	// ErrorStorageUnavailable indicates the store could not be opened or read.
	ErrorStorageUnavailable ErrorCategory = "storage_unavailable"

	// ErrorCorruptRecord indicates a stored value could not be decoded.
	ErrorCorruptRecord ErrorCategory = "corrupt_record"

	// ErrorWriteFailed indicates a write did not commit; the previous value is intact.
	ErrorWriteFailed ErrorCategory = "write_failed"
)

// PersistError wraps persistence failures with a normalized category.
type PersistError struct {
	Category   ErrorCategory
	Key        string
	Message    string
	Underlying error
}

func (e *PersistError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("persist %q [%s]: %s: %v", e.Key, e.Category, e.Message, e.Underlying)
	}
	return fmt.Sprintf("persist %q [%s]: %s", e.Key, e.Category, e.Message)
}

func (e *PersistError) Unwrap() error {
	return e.Underlying
}

// Is matches sentinel.ErrUnavailable for storage_unavailable failures.
func (e *PersistError) Is(target error) bool {
	return target == sentinel.ErrUnavailable && e.Category == ErrorStorageUnavailable
}

func newPersistError(category ErrorCategory, key, message string, underlying error) *PersistError {
	return &PersistError{Category: category, Key: key, Message: message, Underlying: underlying}
}

// GetCategory extracts the category from err, reporting ok=false for errors
// that did not come from a store.
func GetCategory(err error) (ErrorCategory, bool) {
	var pe *PersistError
	if errors.As(err, &pe) {
		return pe.Category, true
	}
	return "", false
}

// IsCorrupt reports whether err is a corrupt-record failure.
func IsCorrupt(err error) bool {
	c, ok := GetCategory(err)
	return ok && c == ErrorCorruptRecord
}
