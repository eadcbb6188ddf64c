package checkout

import (
	"errors"
	"net/http"
)

var (
	ErrInvalidOrder          = errors.New("invalid order")
	ErrRestaurantUnavailable = errors.New("restaurant unavailable")
	ErrNotFound              = errors.New("order not found")
	ErrUnauthorized          = errors.New("unauthorized")
)

// HTTPStatus maps a checkout error onto a response code.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrInvalidOrder):
		return http.StatusBadRequest
	case errors.Is(err, ErrRestaurantUnavailable):
		return http.StatusConflict
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrUnauthorized):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
