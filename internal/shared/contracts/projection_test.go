package contracts

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.platform.alem.school/amibragim/order-tracker/internal/domain/orders"
)

func TestNewOrderViewWireShape(t *testing.T) {
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	o := &orders.Order{
		ID:              "o1",
		CustomerID:      "c1",
		RestaurantID:    "r1",
		Status:          orders.StatusOutForDelivery,
		Items:           []orders.OrderItem{{Name: "Margherita", Quantity: 2, Price: 1250}},
		TotalAmount:     2500,
		DeliveryAddress: "12 Baker Street",
		CreatedAt:       created,
		UpdatedAt:       created,
		Version:         4,
	}

	ev := WireEvent{
		Event:        EventOrderStatusUpdated,
		OrderID:      o.ID,
		RestaurantID: o.RestaurantID,
		Status:       o.Status.DisplayName(),
		Version:      o.Version,
		Order:        NewOrderView(o),
	}
	raw, err := json.Marshal(ev)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	assert.Equal(t, "order_status_updated", m["event"])
	assert.Equal(t, "o1", m["orderId"])
	assert.Equal(t, "r1", m["restaurantId"])
	assert.Equal(t, "Out for Delivery", m["status"])
	assert.NotContains(t, m, "restaurant")
	assert.NotContains(t, m, "previousStatus")

	order := m["order"].(map[string]any)
	assert.Equal(t, "out_for_delivery", order["status"])
	assert.Equal(t, "Out for Delivery", order["statusLabel"])
	assert.Equal(t, 25.0, order["totalAmount"])
	assert.Equal(t, 4.0, order["version"])
	items := order["items"].([]any)
	require.Len(t, items, 1)
	assert.Equal(t, 12.5, items[0].(map[string]any)["price"])
}
