package ports

import (
	"context"

	"git.platform.alem.school/amibragim/order-tracker/internal/domain/events"
	"git.platform.alem.school/amibragim/order-tracker/internal/domain/identity"
	"git.platform.alem.school/amibragim/order-tracker/internal/domain/orders"
	"git.platform.alem.school/amibragim/order-tracker/internal/domain/restaurants"
)

// LifecycleService is the only writer of order status.
type LifecycleService interface {
	Transition(ctx context.Context, orderID string, requested orders.OrderStatus, actor identity.Identity) (*orders.Order, error)
	ToggleRestaurant(ctx context.Context, restaurantID string, open bool, actor identity.Identity) (*restaurants.Restaurant, error)
}

// CheckoutService handles POST /orders (draft) and the payment confirmation callback.
type CheckoutService interface {
	PlaceOrder(ctx context.Context, customer identity.Identity, cmd CreateOrderCommand) (*orders.Order, error)
	ConfirmPayment(ctx context.Context, orderID string) (*orders.Order, error)
}

// TrackingService powers the snapshot reads viewers fetch before and after subscribing.
type TrackingService interface {
	GetOrder(ctx context.Context, viewer identity.Identity, id string) (*orders.Order, error)
	GetOrderHistory(ctx context.Context, viewer identity.Identity, id string) ([]orders.StatusLog, error)
	ListOrdersForUser(ctx context.Context, viewer identity.Identity) ([]orders.Order, error)
	ListOrdersForRestaurant(ctx context.Context, viewer identity.Identity, restaurantID string) ([]orders.Order, error)
}

// EventPublisher delivers domain events to live viewers.
type EventPublisher interface {
	Publish(ctx context.Context, ev events.DomainEvent)
}

// Publisher sends a raw message to a broker exchange.
type Publisher interface {
	Publish(exchange, routingKey string, body []byte) error
}

type CreateOrderCommand struct {
	RestaurantID    string
	DeliveryAddress string
	Items           []ItemInput
}

type ItemInput struct {
	Name     string
	Quantity int
	Price    orders.Money
}
