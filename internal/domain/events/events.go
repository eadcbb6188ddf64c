package events

import (
	"git.platform.alem.school/amibragim/order-tracker/internal/domain/orders"
	"git.platform.alem.school/amibragim/order-tracker/internal/domain/restaurants"
)

// DomainEvent is something that happened to an order or restaurant and that
// live viewers may need to see. Implementations are value types.
type DomainEvent interface {
	domainEvent()
}

// OrderStatusChanged is raised after a committed status transition.
type OrderStatusChanged struct {
	Order     *orders.Order // full updated projection
	OldStatus orders.OrderStatus
	ChangedBy string
}

// NewOrderPlaced is raised when payment confirmation makes an order visible as pending.
type NewOrderPlaced struct {
	Order *orders.Order
}

// RestaurantStatusChanged is raised when a restaurant is opened or closed.
type RestaurantStatusChanged struct {
	Restaurant restaurants.Restaurant
}

func (OrderStatusChanged) domainEvent()      {}
func (NewOrderPlaced) domainEvent()          {}
func (RestaurantStatusChanged) domainEvent() {}
