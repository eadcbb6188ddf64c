package lifecycle

import (
	"context"
	"errors"
	"net/http"
	"time"

	"git.platform.alem.school/amibragim/order-tracker/internal/auth"
	"git.platform.alem.school/amibragim/order-tracker/internal/domain/orders"
	"git.platform.alem.school/amibragim/order-tracker/internal/ports"
	"git.platform.alem.school/amibragim/order-tracker/internal/shared/contracts"
	"git.platform.alem.school/amibragim/order-tracker/internal/shared/httpx"
	"git.platform.alem.school/amibragim/order-tracker/internal/shared/logger"
	"github.com/go-chi/chi/v5"
)

// HTTPHandler adapts operator requests to the LifecycleService.
type HTTPHandler struct {
	svc    ports.LifecycleService
	logger *logger.Logger
}

// NewHTTPHandler wires an HTTP handler around the LifecycleService.
func NewHTTPHandler(svc ports.LifecycleService, logger *logger.Logger) *HTTPHandler {
	return &HTTPHandler{svc: svc, logger: logger}
}

// Register mounts the transition and restaurant toggle routes.
func (handler *HTTPHandler) Register(r chi.Router) {
	r.Post("/orders/{id}/transitions", handler.requestTransition)
	r.Put("/restaurants/{id}/open", handler.toggleRestaurant)
}

type transitionRequest struct {
	Status string `json:"status"`
}

type toggleRequest struct {
	Open bool `json:"open"`
}

// requestTransition handles POST /orders/{id}/transitions.
func (handler *HTTPHandler) requestTransition(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	var req transitionRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		handler.decodeFailed(ctx, w, err)
		return
	}

	status, ok := orders.ParseStatus(req.Status)
	if !ok {
		httpx.WriteErr(w, http.StatusBadRequest, "unknown status: "+req.Status)
		return
	}

	handler.logger.Debug(ctx, "transition_requested", "POST /orders/{id}/transitions", map[string]any{
		"order_id":  id,
		"requested": status,
	})

	// bound request time, including the wait behind other transitions of this order
	ctxWithTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	order, err := handler.svc.Transition(ctxWithTimeout, id, status, auth.IdentityFrom(ctx))
	if err != nil {
		httpx.WriteErr(w, HTTPStatus(err), publicMessage(err))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, contracts.NewOrderView(order))
}

// toggleRestaurant handles PUT /restaurants/{id}/open.
func (handler *HTTPHandler) toggleRestaurant(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	var req toggleRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		handler.decodeFailed(ctx, w, err)
		return
	}

	rest, err := handler.svc.ToggleRestaurant(ctx, id, req.Open, auth.IdentityFrom(ctx))
	if err != nil {
		httpx.WriteErr(w, HTTPStatus(err), publicMessage(err))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, contracts.NewRestaurantView(*rest))
}

func (handler *HTTPHandler) decodeFailed(ctx context.Context, w http.ResponseWriter, err error) {
	if errors.Is(err, httpx.ErrUnsupportedMediaType) {
		httpx.WriteErr(w, http.StatusUnsupportedMediaType, err.Error())
		return
	}
	handler.logger.Warn(ctx, "validation_failed", "invalid JSON", map[string]any{"error": err.Error()})
	httpx.WriteErr(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
}

// publicMessage hides storage details from callers.
func publicMessage(err error) string {
	switch {
	case errors.Is(err, ErrStorageFailure):
		return "internal server error"
	case HTTPStatus(err) == http.StatusServiceUnavailable:
		return "order is busy, retry later"
	}
	return err.Error()
}
