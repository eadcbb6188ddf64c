package contracts

import "time"

// StatusUpdateMessage is published to "notifications_fanout" after a committed transition.
type StatusUpdateMessage struct {
	OrderID      string    `json:"order_id"`
	RestaurantID string    `json:"restaurant_id"`
	OldStatus    string    `json:"old_status"`
	NewStatus    string    `json:"new_status"`
	ChangedBy    string    `json:"changed_by"`
	Version      int64     `json:"version"`
	Timestamp    time.Time `json:"timestamp"`
}
