package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrInvalidTransition = errors.New("invalid transition")
	ErrNotFound          = errors.New("not found")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrStorageFailure    = errors.New("storage failure")
)

// storageFailure wraps a store error so callers can match ErrStorageFailure and still see the cause.
func storageFailure(err error) error {
	return fmt.Errorf("%w: %w", ErrStorageFailure, err)
}

// HTTPStatus maps a lifecycle error onto a response code.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		// gave up waiting behind another transition of the same order
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
