package checkout

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"git.platform.alem.school/amibragim/order-tracker/internal/auth"
	"git.platform.alem.school/amibragim/order-tracker/internal/domain/orders"
	"git.platform.alem.school/amibragim/order-tracker/internal/ports"
	"git.platform.alem.school/amibragim/order-tracker/internal/shared/contracts"
	"git.platform.alem.school/amibragim/order-tracker/internal/shared/httpx"
	"git.platform.alem.school/amibragim/order-tracker/internal/shared/logger"
)

// PaymentSecretHeader authenticates the payment provider callback.
const PaymentSecretHeader = "X-Payment-Secret"

// HTTPHandler adapts HTTP requests to the CheckoutService.
type HTTPHandler struct {
	svc           ports.CheckoutService
	paymentSecret []byte
	logger        *logger.Logger
}

// NewHTTPHandler wires an HTTP handler around the CheckoutService.
func NewHTTPHandler(svc ports.CheckoutService, paymentSecret string, logger *logger.Logger) *HTTPHandler {
	return &HTTPHandler{svc: svc, paymentSecret: []byte(paymentSecret), logger: logger}
}

// Register mounts POST /orders and POST /payments/confirmed.
func (handler *HTTPHandler) Register(r chi.Router) {
	r.Post("/orders", handler.createOrder)
	r.Post("/payments/confirmed", handler.confirmPayment)
}

// --- Request/Response DTOs (HTTP boundary) ---

type createOrderRequest struct {
	RestaurantID    string                   `json:"restaurantId"`
	DeliveryAddress string                   `json:"deliveryAddress"`
	Items           []createOrderItemRequest `json:"items"`
}

type createOrderItemRequest struct {
	Name     string  `json:"name"`
	Quantity int     `json:"quantity"`
	Price    float64 `json:"price"` // decimal dollars (0.01..999.99)
}

type createOrderResponse struct {
	OrderID     string  `json:"orderId"`
	Status      string  `json:"status"`
	TotalAmount float64 `json:"totalAmount"`
}

type paymentConfirmedRequest struct {
	OrderID string `json:"orderId"`
}

// --- Handlers ---

func (handler *HTTPHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req createOrderRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		handler.decodeFailed(ctx, w, err)
		return
	}

	cmd := toCreateOrderCommand(req)
	handler.logger.Debug(ctx, "order_received", "new order request received", map[string]any{
		"restaurant_id": cmd.RestaurantID,
		"items_count":   len(cmd.Items),
	})

	// bound request time
	ctxWithTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	order, err := handler.svc.PlaceOrder(ctxWithTimeout, auth.IdentityFrom(ctx), cmd)
	if err != nil {
		handler.serviceFailed(ctx, w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, createOrderResponse{
		OrderID:     order.ID,
		Status:      "awaiting_payment",
		TotalAmount: order.TotalAmount.ToFloat2(),
	})
}

func (handler *HTTPHandler) confirmPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	got := []byte(r.Header.Get(PaymentSecretHeader))
	if len(handler.paymentSecret) == 0 || subtle.ConstantTimeCompare(got, handler.paymentSecret) != 1 {
		handler.logger.Warn(ctx, "payment_callback_rejected", "payment callback with bad secret", nil)
		httpx.WriteErr(w, http.StatusUnauthorized, "invalid payment secret")
		return
	}

	var req paymentConfirmedRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		handler.decodeFailed(ctx, w, err)
		return
	}
	if req.OrderID == "" {
		httpx.WriteErr(w, http.StatusBadRequest, "orderId is required")
		return
	}

	order, err := handler.svc.ConfirmPayment(ctx, req.OrderID)
	if err != nil {
		handler.serviceFailed(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, contracts.NewOrderView(order))
}

// --- Helpers ---

func toCreateOrderCommand(req createOrderRequest) ports.CreateOrderCommand {
	items := make([]ports.ItemInput, len(req.Items))
	for i, it := range req.Items {
		items[i] = ports.ItemInput{
			Name:     it.Name,
			Quantity: it.Quantity,
			Price:    orders.NewMoneyFromFloat2(it.Price), // cents; service re-validates ranges
		}
	}
	return ports.CreateOrderCommand{
		RestaurantID:    req.RestaurantID,
		DeliveryAddress: req.DeliveryAddress,
		Items:           items,
	}
}

func (handler *HTTPHandler) decodeFailed(ctx context.Context, w http.ResponseWriter, err error) {
	if errors.Is(err, httpx.ErrUnsupportedMediaType) {
		httpx.WriteErr(w, http.StatusUnsupportedMediaType, err.Error())
		return
	}
	handler.logger.Warn(ctx, "validation_failed", "invalid JSON", map[string]any{"error": err.Error()})
	httpx.WriteErr(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
}

func (handler *HTTPHandler) serviceFailed(ctx context.Context, w http.ResponseWriter, err error) {
	status := HTTPStatus(err)
	if status >= 500 {
		handler.logger.Error(ctx, "http_internal_error", "checkout request failed", err)
		httpx.WriteErr(w, status, "internal server error")
		return
	}
	httpx.WriteErr(w, status, err.Error())
}
