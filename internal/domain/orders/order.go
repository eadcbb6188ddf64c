package orders

import (
	"time"
)

// OrderItem represents a single item in an order.
type OrderItem struct {
	ID       int64 // DB PK
	OrderID  string
	Name     string
	Quantity int
	Price    Money // per-unit in cents
}

// Order represents a customer's order.
type Order struct {
	ID              string
	CustomerID      string
	RestaurantID    string
	Status          OrderStatus
	Items           []OrderItem
	TotalAmount     Money
	DeliveryAddress string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	Version         int64 // 1 once placed, +1 per status change
}

// SetTotalAmount recomputes total from items.
func (order *Order) SetTotalAmount() {
	var sum Money
	for _, it := range order.Items {
		sum += Money(it.Quantity) * it.Price
	}
	order.TotalAmount = sum
}

// Clone returns a deep copy so callers can hand projections out without sharing item slices.
func (order *Order) Clone() *Order {
	if order == nil {
		return nil
	}
	out := *order
	out.Items = append([]OrderItem(nil), order.Items...)
	return &out
}
