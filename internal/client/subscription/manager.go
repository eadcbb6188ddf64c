// Package subscription keeps a viewer's local copies of orders in step with the
// server: snapshot on mount, live events afterwards, full resync on reconnect.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"git.platform.alem.school/amibragim/order-tracker/internal/client/wsclient"
	"git.platform.alem.school/amibragim/order-tracker/internal/realtime"
	"git.platform.alem.school/amibragim/order-tracker/internal/shared/contracts"
	"git.platform.alem.school/amibragim/order-tracker/internal/shared/logger"
)

// Snapshots fetches authoritative state over HTTP.
type Snapshots interface {
	GetOrder(ctx context.Context, id string) (*contracts.OrderView, error)
	ListRestaurantOrders(ctx context.Context, restaurantID string) ([]contracts.OrderView, error)
}

// Transport sends join and leave control messages.
type Transport interface {
	Send(msg contracts.ControlMessage) error
}

type mountKind int

const (
	orderMount mountKind = iota
	dashboardMount
)

type mount struct {
	kind mountKind
	id   string
}

// Manager tracks mounted views and the order copies they show.
type Manager struct {
	snapshots Snapshots
	transport Transport
	logger    *logger.Logger

	// OnChange is called with every order copy that was replaced.
	OnChange func(order contracts.OrderView)

	mu          sync.Mutex
	mounts      map[realtime.Topic]mount
	orders      map[string]contracts.OrderView
	restaurants map[string]contracts.RestaurantView
}

// NewManager constructs an empty manager.
func NewManager(snapshots Snapshots, transport Transport, logger *logger.Logger) *Manager {
	return &Manager{
		snapshots:   snapshots,
		transport:   transport,
		logger:      logger,
		mounts:      make(map[realtime.Topic]mount),
		orders:      make(map[string]contracts.OrderView),
		restaurants: make(map[string]contracts.RestaurantView),
	}
}

// MountOrder joins order:<id> and loads its snapshot.
func (m *Manager) MountOrder(ctx context.Context, orderID string) error {
	return m.mount(ctx, mount{kind: orderMount, id: orderID})
}

// MountDashboard joins restaurant:<id> and loads the restaurant's order list.
func (m *Manager) MountDashboard(ctx context.Context, restaurantID string) error {
	return m.mount(ctx, mount{kind: dashboardMount, id: restaurantID})
}

// Unmount leaves the topic and forgets copies no other mount shows.
func (m *Manager) Unmount(topic realtime.Topic) error {
	m.mu.Lock()
	mt, ok := m.mounts[topic]
	if ok {
		delete(m.mounts, topic)
		m.pruneLocked()
	}
	m.mu.Unlock()
	if !ok {
		return nil
	}

	err := m.transport.Send(leaveMessage(mt))
	if errors.Is(err, wsclient.ErrNotConnected) {
		return nil
	}
	return err
}

// Resync re-joins every mounted topic and re-fetches every snapshot. Wire it to
// the transport's connect hook: events published while disconnected are never replayed.
func (m *Manager) Resync(ctx context.Context) error {
	m.mu.Lock()
	mounts := make([]mount, 0, len(m.mounts))
	for _, mt := range m.mounts {
		mounts = append(mounts, mt)
	}
	m.mu.Unlock()

	var errs []error
	for _, mt := range mounts {
		if err := m.join(mt); err != nil {
			errs = append(errs, err)
			continue
		}
		if err := m.load(ctx, mt); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		m.logger.Warn(ctx, "resync_incomplete", "some views failed to resync", map[string]any{"failed": len(errs)})
	}
	return errors.Join(errs...)
}

// HandleEvent applies one live event. Order copies are replaced wholesale;
// events not newer than the local copy are dropped.
func (m *Manager) HandleEvent(ev contracts.WireEvent) {
	switch ev.Event {
	case contracts.EventOrderStatusUpdated, contracts.EventNewOrderPlaced:
		if ev.Order == nil {
			return
		}
		m.mu.Lock()
		if !m.coveredLocked(*ev.Order) {
			m.mu.Unlock()
			return
		}
		changed := m.applyLocked(*ev.Order)
		m.mu.Unlock()
		if changed {
			m.notify(*ev.Order)
		}

	case contracts.EventRestaurantStatusUpdated:
		if ev.Restaurant == nil {
			return
		}
		m.mu.Lock()
		m.restaurants[ev.Restaurant.ID] = *ev.Restaurant
		m.mu.Unlock()
	}
}

// Order returns the local copy of an order.
func (m *Manager) Order(id string) (contracts.OrderView, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	return o, ok
}

// Dashboard returns the local copies for a restaurant, newest first.
func (m *Manager) Dashboard(restaurantID string) []contracts.OrderView {
	m.mu.Lock()
	var out []contracts.OrderView
	for _, o := range m.orders {
		if o.RestaurantID == restaurantID {
			out = append(out, o)
		}
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Restaurant returns the last seen open state of a restaurant.
func (m *Manager) Restaurant(id string) (contracts.RestaurantView, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.restaurants[id]
	return r, ok
}

// Mounted lists the topics currently mounted.
func (m *Manager) Mounted() []realtime.Topic {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]realtime.Topic, 0, len(m.mounts))
	for t := range m.mounts {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// mount joins then loads. A view that fails to mount is unmounted again, so
// nothing stays joined for a view that is not displayed.
func (m *Manager) mount(ctx context.Context, mt mount) error {
	m.mu.Lock()
	_, already := m.mounts[mt.topic()]
	m.mounts[mt.topic()] = mt
	m.mu.Unlock()

	// join before fetching so no event falls between snapshot and subscription
	err := m.join(mt)
	if err == nil {
		err = m.load(ctx, mt)
	}
	if err != nil && !already {
		if leaveErr := m.Unmount(mt.topic()); leaveErr != nil {
			m.logger.Warn(ctx, "mount_rollback_failed", "failed to leave a view that did not mount", map[string]any{
				"topic": string(mt.topic()),
				"error": leaveErr.Error(),
			})
		}
	}
	return err
}

func (m *Manager) join(mt mount) error {
	err := m.transport.Send(joinMessage(mt))
	if errors.Is(err, wsclient.ErrNotConnected) {
		// Resync joins once the transport is up
		return nil
	}
	if err != nil {
		return fmt.Errorf("join %s: %w", mt.topic(), err)
	}
	return nil
}

func (m *Manager) load(ctx context.Context, mt mount) error {
	var snapshot []contracts.OrderView
	switch mt.kind {
	case orderMount:
		o, err := m.snapshots.GetOrder(ctx, mt.id)
		if err != nil {
			return fmt.Errorf("snapshot %s: %w", mt.topic(), err)
		}
		snapshot = []contracts.OrderView{*o}
	case dashboardMount:
		list, err := m.snapshots.ListRestaurantOrders(ctx, mt.id)
		if err != nil {
			return fmt.Errorf("snapshot %s: %w", mt.topic(), err)
		}
		snapshot = list
	}

	var changed []contracts.OrderView
	m.mu.Lock()
	if _, still := m.mounts[mt.topic()]; still {
		for _, o := range snapshot {
			if m.applyLocked(o) {
				changed = append(changed, o)
			}
		}
	}
	m.mu.Unlock()

	for _, o := range changed {
		m.notify(o)
	}
	return nil
}

// applyLocked stores o unless the local copy is already at least as new.
func (m *Manager) applyLocked(o contracts.OrderView) bool {
	if cur, ok := m.orders[o.ID]; ok && o.Version <= cur.Version {
		return false
	}
	m.orders[o.ID] = o
	return true
}

func (m *Manager) coveredLocked(o contracts.OrderView) bool {
	_, byOrder := m.mounts[realtime.OrderTopic(o.ID)]
	_, byDashboard := m.mounts[realtime.RestaurantTopic(o.RestaurantID)]
	return byOrder || byDashboard
}

func (m *Manager) pruneLocked() {
	for id, o := range m.orders {
		if !m.coveredLocked(o) {
			delete(m.orders, id)
		}
	}
}

func (m *Manager) notify(o contracts.OrderView) {
	if m.OnChange != nil {
		m.OnChange(o)
	}
}

func (mt mount) topic() realtime.Topic {
	if mt.kind == dashboardMount {
		return realtime.RestaurantTopic(mt.id)
	}
	return realtime.OrderTopic(mt.id)
}

func joinMessage(mt mount) contracts.ControlMessage {
	if mt.kind == dashboardMount {
		return contracts.ControlMessage{Action: contracts.ActionJoinRestaurantRoom, ID: mt.id}
	}
	return contracts.ControlMessage{Action: contracts.ActionJoinOrderRoom, ID: mt.id}
}

func leaveMessage(mt mount) contracts.ControlMessage {
	if mt.kind == dashboardMount {
		return contracts.ControlMessage{Action: contracts.ActionLeaveRestaurantRoom, ID: mt.id}
	}
	return contracts.ControlMessage{Action: contracts.ActionLeaveOrderRoom, ID: mt.id}
}
