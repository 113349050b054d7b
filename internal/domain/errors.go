package domain

import (
	"errors"
	"fmt"
)

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors are pure, with no infrastructure dependency.

// Error kinds. Every error the service returns wraps exactly one of these.
var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
	ErrStorage      = errors.New("storage failure")
)

var (
	// Input errors
	ErrSameTrainer  = fmt.Errorf("%w: absent and substitute trainer must differ", ErrInvalidInput)
	ErrEmptyName    = fmt.Errorf("%w: trainer name can't be empty", ErrInvalidInput)
	ErrMissingID    = fmt.Errorf("%w: trainer id is required", ErrInvalidInput)
	ErrMissingDate  = fmt.Errorf("%w: substitution date is required", ErrInvalidInput)
	ErrInvalidRange = fmt.Errorf("%w: date range ends before it starts", ErrInvalidInput)

	// Lookup errors
	ErrTrainerNotFound      = fmt.Errorf("trainer %w", ErrNotFound)
	ErrSubstitutionNotFound = fmt.Errorf("substitution %w", ErrNotFound)
)

// StorageError wraps a failure of the persistence backend. Callers retry the
// whole read-modify-write operation, never resume it.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

// Unwrap exposes both ErrStorage and the backend cause to errors.Is/As.
func (e *StorageError) Unwrap() []error {
	return []error{ErrStorage, e.Err}
}

// WrapStorage classifies a backend error as a StorageError. Errors that are
// already classified (not found, invalid input, storage) pass through.
func WrapStorage(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidInput) || errors.Is(err, ErrStorage) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// Kind names the error class for transports ("invalid_input", "not_found",
// "storage", "internal").
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrStorage):
		return "storage"
	default:
		return "internal"
	}
}
