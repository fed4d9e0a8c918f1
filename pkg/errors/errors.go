package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrInvalidInput           = errors.New("invalid input")
	ErrInvalidSortUsage       = errors.New("invalid sort usage")
	ErrStorage                = errors.New("storage error")
	ErrInconsistentIndexState = errors.New("inconsistent index state")
	ErrIndexNotFound          = errors.New("index not found")
	ErrCancelled              = errors.New("search cancelled")
	ErrTimeout                = errors.New("operation timed out")
	ErrInternal               = errors.New("internal error")
)

type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

// InvalidSort reports a sort criterion that cannot be honoured. It is raised
// before any ranking work starts.
func InvalidSort(format string, args ...any) *AppError {
	return Newf(ErrInvalidSortUsage, http.StatusBadRequest, format, args...)
}

// Storage wraps an error returned by the storage engine. The original error
// stays reachable through errors.Is / errors.As.
func Storage(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}

// Inconsistent reports a broken internal invariant, such as a handle with no
// interned value behind it.
func Inconsistent(format string, args ...any) *AppError {
	return Newf(ErrInconsistentIndexState, http.StatusInternalServerError, format, args...)
}

// NotFound reports a missing index.
func NotFound(format string, args ...any) *AppError {
	return Newf(ErrIndexNotFound, http.StatusNotFound, format, args...)
}

// Internal reports a failure that no caller input explains.
func Internal(format string, args ...any) *AppError {
	return Newf(ErrInternal, http.StatusInternalServerError, format, args...)
}

func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrIndexNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrInvalidSortUsage):
		return http.StatusBadRequest
	case errors.Is(err, ErrCancelled), errors.Is(err, ErrTimeout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
