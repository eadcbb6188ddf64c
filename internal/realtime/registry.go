// Package realtime owns live viewer connections: which connection is joined to
// which topic, how a domain event maps to topics, and the websocket transport
// that carries events to browsers.
package realtime

import (
	"context"
	"errors"
	"sort"
	"sync"

	"git.platform.alem.school/amibragim/order-tracker/internal/domain/identity"
	"git.platform.alem.school/amibragim/order-tracker/internal/shared/logger"
	"git.platform.alem.school/amibragim/order-tracker/internal/shared/metrics"
)

var (
	// ErrSendBufferFull is returned by a sink whose outbound buffer cannot take another message.
	ErrSendBufferFull = errors.New("realtime: send buffer full")
	// ErrUnknownConnection is returned when joining or leaving with an unregistered connection id.
	ErrUnknownConnection = errors.New("realtime: unknown connection")
	// ErrAlreadyRegistered is returned when a connection id is registered twice.
	ErrAlreadyRegistered = errors.New("realtime: connection already registered")
)

// ConnID identifies one live transport session.
type ConnID string

// Sink receives the encoded events published to the topics its connection joined.
// Enqueue must not block.
type Sink interface {
	Enqueue(msg []byte) error
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(msg []byte) error

func (f SinkFunc) Enqueue(msg []byte) error { return f(msg) }

// PublishResult reports how a single publish went. Failures never abort delivery to the rest.
type PublishResult struct {
	Delivered int
	Failed    []ConnID
}

type member struct {
	id       ConnID
	identity identity.Identity
	sink     Sink
	seq      uint64
	topics   map[Topic]struct{}
}

// Registry is the topic membership table. It knows nothing about orders or restaurants.
type Registry struct {
	mu     sync.RWMutex
	seq    uint64
	conns  map[ConnID]*member
	topics map[Topic]map[ConnID]*member
	logger *logger.Logger
}

// NewRegistry constructs an empty registry.
func NewRegistry(logger *logger.Logger) *Registry {
	return &Registry{
		conns:  make(map[ConnID]*member),
		topics: make(map[Topic]map[ConnID]*member),
		logger: logger,
	}
}

// Register adds a connection with an empty topic set.
func (r *Registry) Register(id ConnID, who identity.Identity, sink Sink) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[id]; ok {
		return ErrAlreadyRegistered
	}
	r.seq++
	r.conns[id] = &member{
		id:       id,
		identity: who,
		sink:     sink,
		seq:      r.seq,
		topics:   make(map[Topic]struct{}),
	}
	metrics.LiveConnections.Inc()
	return nil
}

// Join adds the connection to topic. Joining twice is a no-op.
func (r *Registry) Join(id ConnID, topic Topic) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.conns[id]
	if !ok {
		return ErrUnknownConnection
	}
	if _, joined := m.topics[topic]; joined {
		return nil
	}
	m.topics[topic] = struct{}{}

	set, ok := r.topics[topic]
	if !ok {
		set = make(map[ConnID]*member)
		r.topics[topic] = set
	}
	set[id] = m
	return nil
}

// Leave removes the connection from topic. Leaving a topic that was never joined is a no-op.
func (r *Registry) Leave(id ConnID, topic Topic) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.conns[id]
	if !ok {
		return ErrUnknownConnection
	}
	delete(m.topics, topic)
	r.dropMembership(id, topic)
	return nil
}

// Unregister removes the connection from every topic it joined. Once it returns,
// no Publish will touch the connection's sink again. Returns false for unknown ids.
func (r *Registry) Unregister(id ConnID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.conns[id]
	if !ok {
		return false
	}
	for topic := range m.topics {
		r.dropMembership(id, topic)
	}
	delete(r.conns, id)
	metrics.LiveConnections.Dec()
	return true
}

// Publish hands msg to every connection currently joined to topic, in registration order.
func (r *Registry) Publish(ctx context.Context, topic Topic, msg []byte) PublishResult {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var res PublishResult
	set := r.topics[topic]
	if len(set) == 0 {
		return res
	}

	members := make([]*member, 0, len(set))
	for _, m := range set {
		members = append(members, m)
	}
	sort.Slice(members, func(i, j int) bool { return members[i].seq < members[j].seq })

	for _, m := range members {
		if err := m.sink.Enqueue(msg); err != nil {
			res.Failed = append(res.Failed, m.id)
			metrics.DeliveryFailures.Inc()
			r.logger.Warn(ctx, "delivery_failed", "Live connection could not accept event", map[string]any{
				"connection_id": m.id,
				"topic":         topic,
				"error":         err.Error(),
			})
			continue
		}
		res.Delivered++
	}
	metrics.EventsDelivered.Add(float64(res.Delivered))
	return res
}

// Identity returns the identity a connection registered with.
func (r *Registry) Identity(id ConnID) (identity.Identity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.conns[id]
	if !ok {
		return identity.Identity{}, false
	}
	return m.identity, true
}

// Members lists the connections joined to topic in registration order.
func (r *Registry) Members(topic Topic) []ConnID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := make([]*member, 0, len(r.topics[topic]))
	for _, m := range r.topics[topic] {
		members = append(members, m)
	}
	sort.Slice(members, func(i, j int) bool { return members[i].seq < members[j].seq })

	out := make([]ConnID, len(members))
	for i, m := range members {
		out[i] = m.id
	}
	return out
}

// Topics lists the topics a connection is joined to, sorted by name.
func (r *Registry) Topics(id ConnID) []Topic {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.conns[id]
	if !ok {
		return nil
	}
	out := make([]Topic, 0, len(m.topics))
	for t := range m.topics {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Count returns the number of registered connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// TopicCount returns the number of topics with at least one member.
func (r *Registry) TopicCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.topics)
}

// dropMembership must be called with the write lock held.
func (r *Registry) dropMembership(id ConnID, topic Topic) {
	set, ok := r.topics[topic]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(r.topics, topic)
	}
}
