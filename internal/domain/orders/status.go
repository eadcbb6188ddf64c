package orders

// OrderStatus is a custom type that represents the current status of an order in its lifecycle.
type OrderStatus string

const (
	StatusPending        OrderStatus = "pending"
	StatusConfirmed      OrderStatus = "confirmed"
	StatusPreparing      OrderStatus = "preparing"
	StatusOutForDelivery OrderStatus = "out_for_delivery"
	StatusDelivered      OrderStatus = "delivered"
	StatusCancelled      OrderStatus = "cancelled"
)

// Allowed state transitions. Cancelled is reachable from every non-terminal state.
var allowed = map[OrderStatus]map[OrderStatus]bool{
	StatusPending:        {StatusConfirmed: true, StatusCancelled: true},
	StatusConfirmed:      {StatusPreparing: true, StatusCancelled: true},
	StatusPreparing:      {StatusOutForDelivery: true, StatusCancelled: true},
	StatusOutForDelivery: {StatusDelivered: true, StatusCancelled: true},
	StatusDelivered:      {},
	StatusCancelled:      {},
}

var displayNames = map[OrderStatus]string{
	StatusPending:        "Pending",
	StatusConfirmed:      "Confirmed",
	StatusPreparing:      "Preparing",
	StatusOutForDelivery: "Out for Delivery",
	StatusDelivered:      "Delivered",
	StatusCancelled:      "Cancelled",
}

// CanTransition checks if from->to is allowed.
func CanTransition(from, to OrderStatus) bool {
	nexts := allowed[from]
	return nexts != nil && nexts[to]
}

// Valid reports whether s is a member of the status enumeration.
func (s OrderStatus) Valid() bool {
	_, ok := allowed[s]
	return ok
}

// Terminal reports whether no transition leaves s.
func (s OrderStatus) Terminal() bool {
	return s.Valid() && len(allowed[s]) == 0
}

// Forward reports whether s is a step of normal progress (anything but cancellation).
func (s OrderStatus) Forward() bool {
	return s.Valid() && s != StatusCancelled && s != StatusPending
}

// DisplayName returns the human-readable label, e.g. "Out for Delivery".
func (s OrderStatus) DisplayName() string {
	if n, ok := displayNames[s]; ok {
		return n
	}
	return string(s)
}

// ParseStatus accepts both wire values ("out_for_delivery") and display names ("Out for Delivery").
func ParseStatus(s string) (OrderStatus, bool) {
	if st := OrderStatus(s); st.Valid() {
		return st, true
	}
	for st, name := range displayNames {
		if name == s {
			return st, true
		}
	}
	return "", false
}
