package contracts

import "time"

// Wire event names sent to live connections.
const (
	EventOrderStatusUpdated      = "order_status_updated"
	EventNewOrderPlaced          = "new_order_placed"
	EventRestaurantStatusUpdated = "restaurant_status_updated"
	EventOrderStatusChanged      = "order_status_changed" // lightweight system:stats tick
)

// OrderItemView is the wire format of a single order item.
type OrderItemView struct {
	Name     string  `json:"name"`
	Quantity int     `json:"quantity"`
	Price    float64 `json:"price"` // unit price in dollars
}

// OrderView is the full order projection carried by events and snapshot reads.
type OrderView struct {
	ID              string          `json:"id"`
	CustomerID      string          `json:"customerId"`
	RestaurantID    string          `json:"restaurantId"`
	Status          string          `json:"status"`
	StatusLabel     string          `json:"statusLabel"`
	Items           []OrderItemView `json:"items"`
	TotalAmount     float64         `json:"totalAmount"`
	DeliveryAddress string          `json:"deliveryAddress"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
	Version         int64           `json:"version"`
}

// RestaurantView is carried by restaurant_status_updated events.
type RestaurantView struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	IsOpen bool   `json:"isOpen"`
}

// WireEvent is the single outbound shape at the transport boundary.
// Status and PreviousStatus carry display names ("Out for Delivery").
type WireEvent struct {
	Event          string          `json:"event"`
	OrderID        string          `json:"orderId,omitempty"`
	RestaurantID   string          `json:"restaurantId,omitempty"`
	Status         string          `json:"status,omitempty"`
	PreviousStatus string          `json:"previousStatus,omitempty"`
	Version        int64           `json:"version,omitempty"`
	Order          *OrderView      `json:"order,omitempty"`
	Restaurant     *RestaurantView `json:"restaurant,omitempty"`
}

// Control actions sent by clients.
const (
	ActionJoinOrderRoom       = "join_order_room"
	ActionLeaveOrderRoom      = "leave_order_room"
	ActionJoinRestaurantRoom  = "join_restaurant_room"
	ActionLeaveRestaurantRoom = "leave_restaurant_room"
	ActionJoinSystemStats     = "join_system_stats"
	ActionLeaveSystemStats    = "leave_system_stats"
)

// ControlMessage is a join/leave request from a client. ID is the order or restaurant id.
type ControlMessage struct {
	Action string `json:"action"`
	ID     string `json:"id,omitempty"`
}

// Ack events answering control messages.
const (
	AckJoined     = "joined"
	AckLeft       = "left"
	AckJoinDenied = "join_denied"
	AckError      = "error"
)

// Ack is the server reply to a ControlMessage.
type Ack struct {
	Event  string `json:"event"`
	Action string `json:"action"`
	Topic  string `json:"topic,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Envelope is used by clients to peek at the event name before decoding the full message.
type Envelope struct {
	Event string `json:"event"`
}
