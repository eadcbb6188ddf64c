package realtime

import "strings"

// Topic is a named channel inside the registry. Topics exist only while they have members.
type Topic string

// SystemStatsTopic is the singleton aggregate topic.
const SystemStatsTopic Topic = "system:stats"

const (
	orderPrefix      = "order:"
	restaurantPrefix = "restaurant:"
)

// OrderTopic returns the topic of a single order's tracking screen.
func OrderTopic(orderID string) Topic { return Topic(orderPrefix + orderID) }

// RestaurantTopic returns the topic of a restaurant's live dashboard.
func RestaurantTopic(restaurantID string) Topic { return Topic(restaurantPrefix + restaurantID) }

// OrderID returns the order id of an order topic.
func (t Topic) OrderID() (string, bool) { return t.suffix(orderPrefix) }

// RestaurantID returns the restaurant id of a restaurant topic.
func (t Topic) RestaurantID() (string, bool) { return t.suffix(restaurantPrefix) }

func (t Topic) suffix(prefix string) (string, bool) {
	s := string(t)
	if !strings.HasPrefix(s, prefix) || len(s) == len(prefix) {
		return "", false
	}
	return s[len(prefix):], true
}
