package trackingservice

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"git.platform.alem.school/amibragim/order-tracker/internal/auth"
	"git.platform.alem.school/amibragim/order-tracker/internal/ports"
	"git.platform.alem.school/amibragim/order-tracker/internal/shared/contracts"
	"git.platform.alem.school/amibragim/order-tracker/internal/shared/httpx"
	"git.platform.alem.school/amibragim/order-tracker/internal/shared/logger"
)

// TrackingHTTPHandler adapts HTTP requests to the TrackingService.
type TrackingHTTPHandler struct {
	logger *logger.Logger
	svc    ports.TrackingService
}

// NewHandler wires an HTTP handler around the TrackingService.
func NewHandler(logger *logger.Logger, svc ports.TrackingService) *TrackingHTTPHandler {
	return &TrackingHTTPHandler{logger: logger, svc: svc}
}

// Register mounts the snapshot routes.
func (handler *TrackingHTTPHandler) Register(r chi.Router) {
	r.Get("/orders/{id}", handler.getOrder)
	r.Get("/orders/{id}/history", handler.getOrderHistory)
	r.Get("/customers/me/orders", handler.listMyOrders)
	r.Get("/restaurants/{id}/orders", handler.listRestaurantOrders)
}

type historyEntry struct {
	Status      string    `json:"status"`
	StatusLabel string    `json:"statusLabel"`
	ChangedBy   string    `json:"changedBy"`
	ChangedAt   time.Time `json:"changedAt"`
	Notes       *string   `json:"notes,omitempty"`
}

// --- Handlers ---

// getOrder handles GET /orders/{id} and returns the order snapshot.
func (handler *TrackingHTTPHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	handler.logger.Debug(ctx, "request_received", "GET /orders/{id}", map[string]any{"order_id": id})

	order, err := handler.svc.GetOrder(ctx, auth.IdentityFrom(ctx), id)
	if err != nil {
		handler.failed(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, contracts.NewOrderView(order))
}

// getOrderHistory handles GET /orders/{id}/history and returns a list of status changes.
func (handler *TrackingHTTPHandler) getOrderHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	handler.logger.Debug(ctx, "request_received", "GET /orders/{id}/history", map[string]any{"order_id": id})

	hist, err := handler.svc.GetOrderHistory(ctx, auth.IdentityFrom(ctx), id)
	if err != nil {
		handler.failed(ctx, w, err)
		return
	}

	out := make([]historyEntry, 0, len(hist))
	for i := range hist {
		out = append(out, historyEntry{
			Status:      string(hist[i].Status),
			StatusLabel: hist[i].Status.DisplayName(),
			ChangedBy:   hist[i].ChangedBy,
			ChangedAt:   hist[i].ChangedAt,
			Notes:       hist[i].Notes,
		})
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

// listMyOrders handles GET /customers/me/orders.
func (handler *TrackingHTTPHandler) listMyOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	list, err := handler.svc.ListOrdersForUser(ctx, auth.IdentityFrom(ctx))
	if err != nil {
		handler.failed(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, contracts.NewOrderViews(list))
}

// listRestaurantOrders handles GET /restaurants/{id}/orders, the dashboard snapshot.
func (handler *TrackingHTTPHandler) listRestaurantOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	handler.logger.Debug(ctx, "request_received", "GET /restaurants/{id}/orders", map[string]any{"restaurant_id": id})

	list, err := handler.svc.ListOrdersForRestaurant(ctx, auth.IdentityFrom(ctx), id)
	if err != nil {
		handler.failed(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, contracts.NewOrderViews(list))
}

// --- Helpers ---

// failed writes 404 or 403 for visibility errors, otherwise logs and writes a 500.
func (handler *TrackingHTTPHandler) failed(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.WriteErr(w, http.StatusNotFound, "not found")
	case errors.Is(err, ErrUnauthorized):
		httpx.WriteErr(w, http.StatusForbidden, "forbidden")
	default:
		handler.logger.Error(ctx, "db_query_failed", "Database query failed", err)
		httpx.WriteErr(w, http.StatusInternalServerError, "internal server error")
	}
}
