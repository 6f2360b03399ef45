package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinels for the content engine's error taxonomy. Wrap them with %w and
// match with errors.Is.
var (
	ErrValidation  = errors.New("validation error")
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrUpstream    = errors.New("upstream error")
	ErrPersistence = errors.New("persistence error")
	ErrTimeout     = errors.New("timeout")
	ErrCorrupt     = errors.New("corrupt closure table")
)

type Error struct {
	Status int
	Code   string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	if e.Status != 0 {
		return fmt.Sprintf("api error (%d)", e.Status)
	}
	return "api error"
}

func (e *Error) Unwrap() error { return e.Err }

func New(status int, code string, err error) *Error {
	return &Error{Status: status, Code: code, Err: err}
}

func Validation(format string, args ...any) error {
	return wrap(ErrValidation, format, args...)
}

func NotFound(format string, args ...any) error {
	return wrap(ErrNotFound, format, args...)
}

func Conflict(format string, args ...any) error {
	return wrap(ErrConflict, format, args...)
}

func Corrupt(format string, args ...any) error {
	return wrap(ErrCorrupt, format, args...)
}

func Timeout(format string, args ...any) error {
	return wrap(ErrTimeout, format, args...)
}

// Upstream marks err as a generation provider failure. nil stays nil.
func Upstream(err error) error {
	if err == nil || errors.Is(err, ErrUpstream) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrUpstream, err)
}

// Persistence marks err as a store failure unless it already carries a
// taxonomy kind (a repo returning NotFound stays NotFound). nil stays nil.
func Persistence(err error) error {
	if err == nil || Kind(err) != "" {
		return err
	}
	return fmt.Errorf("%w: %w", ErrPersistence, err)
}

func wrap(kind error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}

// Kind returns the taxonomy code for err, or "" when err carries none.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "validation_error"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrUpstream):
		return "upstream_error"
	case errors.Is(err, ErrPersistence):
		return "persistence_error"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrCorrupt):
		return "corrupt"
	default:
		return ""
	}
}

// From maps any error onto an *Error with an HTTP status.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	code := Kind(err)
	switch code {
	case "validation_error":
		return New(http.StatusBadRequest, code, err)
	case "not_found":
		return New(http.StatusNotFound, code, err)
	case "conflict":
		return New(http.StatusConflict, code, err)
	case "upstream_error":
		return New(http.StatusBadGateway, code, err)
	case "timeout":
		return New(http.StatusGatewayTimeout, code, err)
	case "persistence_error", "corrupt":
		return New(http.StatusInternalServerError, code, err)
	default:
		return New(http.StatusInternalServerError, "internal_error", err)
	}
}

// IsClientError reports whether err should be answered without logging it as
// a failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict)
}
