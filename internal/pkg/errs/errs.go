package errs

import (
	"errors"
	"fmt"
)

// ErrNotFound indicates an unknown recording ID
var ErrNotFound = errors.New("recording not found")

// ValidationError indicates a bad submit request. It never enters the pipeline
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return e.Msg
}

// NewValidation creates ValidationError
func NewValidation(format string, args ...interface{}) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// PreconditionError indicates an operation invoked on a recording whose state
// does not allow it
type PreconditionError struct {
	Msg string
}

func (e *PreconditionError) Error() string {
	return e.Msg
}

// NewPrecondition creates PreconditionError
func NewPrecondition(format string, args ...interface{}) error {
	return &PreconditionError{Msg: fmt.Sprintf(format, args...)}
}

// ProviderError indicates a transcription or analysis provider failure.
// Retryable failures are eligible for bounded automatic retry in the
// transcription step only
type ProviderError struct {
	Op        string
	Retryable bool
	Err       error
}

func (e *ProviderError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewProvider creates ProviderError
func NewProvider(op string, retryable bool, err error) error {
	return &ProviderError{Op: op, Retryable: retryable, Err: err}
}

// StorageError indicates a media store or record store failure
type StorageError struct {
	Err error
}

func (e *StorageError) Error() string {
	return "storage: " + e.Err.Error()
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// NewStorage creates StorageError
func NewStorage(err error) error {
	return &StorageError{Err: err}
}

// IsValidation tests for ValidationError
func IsValidation(err error) bool {
	var e *ValidationError
	return errors.As(err, &e)
}

// IsPrecondition tests for PreconditionError
func IsPrecondition(err error) bool {
	var e *PreconditionError
	return errors.As(err, &e)
}

// IsRetryable tests for a retryable provider failure
func IsRetryable(err error) bool {
	var e *ProviderError
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}
