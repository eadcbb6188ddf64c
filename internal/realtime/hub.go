package realtime

import (
	"context"
	"encoding/json"

	"git.platform.alem.school/amibragim/order-tracker/internal/domain/events"
	"git.platform.alem.school/amibragim/order-tracker/internal/ports"
	"git.platform.alem.school/amibragim/order-tracker/internal/shared/contracts"
	"git.platform.alem.school/amibragim/order-tracker/internal/shared/logger"
)

// Hub publishes domain events to the registry using Route.
type Hub struct {
	registry *Registry
	logger   *logger.Logger
}

var _ ports.EventPublisher = (*Hub)(nil)

// NewHub constructs a Hub over an existing registry.
func NewHub(registry *Registry, logger *logger.Logger) *Hub {
	return &Hub{registry: registry, logger: logger}
}

// Publish routes ev and delivers it. Delivery failures are logged by the registry, never returned.
func (hub *Hub) Publish(ctx context.Context, ev events.DomainEvent) {
	for _, routed := range Route(ev) {
		hub.send(ctx, routed.Topic, routed.Event)
	}
	if tick, ok := statsTick(ev); ok {
		hub.send(ctx, SystemStatsTopic, tick)
	}
}

func (hub *Hub) send(ctx context.Context, topic Topic, ev contracts.WireEvent) {
	msg, err := json.Marshal(ev)
	if err != nil {
		hub.logger.Error(ctx, "event_encode_failed", "Failed to encode wire event", err)
		return
	}

	res := hub.registry.Publish(ctx, topic, msg)
	hub.logger.Debug(ctx, "event_published", "Event published to topic", map[string]any{
		"topic":     topic,
		"event":     ev.Event,
		"delivered": res.Delivered,
		"failed":    len(res.Failed),
	})
}
