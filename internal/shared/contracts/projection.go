package contracts

import (
	"git.platform.alem.school/amibragim/order-tracker/internal/domain/orders"
	"git.platform.alem.school/amibragim/order-tracker/internal/domain/restaurants"
)

// NewOrderView projects a domain order onto its wire format.
func NewOrderView(o *orders.Order) *OrderView {
	items := make([]OrderItemView, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, OrderItemView{Name: it.Name, Quantity: it.Quantity, Price: it.Price.ToFloat2()})
	}
	return &OrderView{
		ID:              o.ID,
		CustomerID:      o.CustomerID,
		RestaurantID:    o.RestaurantID,
		Status:          string(o.Status),
		StatusLabel:     o.Status.DisplayName(),
		Items:           items,
		TotalAmount:     o.TotalAmount.ToFloat2(),
		DeliveryAddress: o.DeliveryAddress,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
		Version:         o.Version,
	}
}

// NewOrderViews projects a list of orders.
func NewOrderViews(list []orders.Order) []OrderView {
	out := make([]OrderView, 0, len(list))
	for i := range list {
		out = append(out, *NewOrderView(&list[i]))
	}
	return out
}

// NewRestaurantView projects a restaurant onto its wire format.
func NewRestaurantView(r restaurants.Restaurant) *RestaurantView {
	return &RestaurantView{ID: r.ID, Name: r.Name, IsOpen: r.IsOpen}
}
