package realtime

import (
	"git.platform.alem.school/amibragim/order-tracker/internal/domain/events"
	"git.platform.alem.school/amibragim/order-tracker/internal/shared/contracts"
)

// Routed is one (topic, wire event) pair produced by Route.
type Routed struct {
	Topic Topic
	Event contracts.WireEvent
}

// Route maps a domain event to the topics that must receive it.
// Order status changes always yield exactly the order and restaurant topics.
func Route(ev events.DomainEvent) []Routed {
	switch e := ev.(type) {
	case events.OrderStatusChanged:
		wire := contracts.WireEvent{
			Event:          contracts.EventOrderStatusUpdated,
			OrderID:        e.Order.ID,
			RestaurantID:   e.Order.RestaurantID,
			Status:         e.Order.Status.DisplayName(),
			PreviousStatus: e.OldStatus.DisplayName(),
			Version:        e.Order.Version,
			Order:          contracts.NewOrderView(e.Order),
		}
		return []Routed{
			{Topic: OrderTopic(e.Order.ID), Event: wire},
			{Topic: RestaurantTopic(e.Order.RestaurantID), Event: wire},
		}

	case events.NewOrderPlaced:
		return []Routed{{
			Topic: RestaurantTopic(e.Order.RestaurantID),
			Event: contracts.WireEvent{
				Event:        contracts.EventNewOrderPlaced,
				OrderID:      e.Order.ID,
				RestaurantID: e.Order.RestaurantID,
				Status:       e.Order.Status.DisplayName(),
				Version:      e.Order.Version,
				Order:        contracts.NewOrderView(e.Order),
			},
		}}

	case events.RestaurantStatusChanged:
		wire := contracts.WireEvent{
			Event:        contracts.EventRestaurantStatusUpdated,
			RestaurantID: e.Restaurant.ID,
			Restaurant:   contracts.NewRestaurantView(e.Restaurant),
		}
		return []Routed{
			{Topic: RestaurantTopic(e.Restaurant.ID), Event: wire},
			{Topic: SystemStatsTopic, Event: wire},
		}
	}
	return nil
}

// statsTick is the lightweight notice sent to system:stats for order changes.
func statsTick(ev events.DomainEvent) (contracts.WireEvent, bool) {
	switch e := ev.(type) {
	case events.OrderStatusChanged:
		return contracts.WireEvent{
			Event:          contracts.EventOrderStatusChanged,
			OrderID:        e.Order.ID,
			RestaurantID:   e.Order.RestaurantID,
			Status:         e.Order.Status.DisplayName(),
			PreviousStatus: e.OldStatus.DisplayName(),
			Version:        e.Order.Version,
		}, true
	case events.NewOrderPlaced:
		return contracts.WireEvent{
			Event:        contracts.EventOrderStatusChanged,
			OrderID:      e.Order.ID,
			RestaurantID: e.Order.RestaurantID,
			Status:       e.Order.Status.DisplayName(),
			Version:      e.Order.Version,
		}, true
	}
	return contracts.WireEvent{}, false
}
