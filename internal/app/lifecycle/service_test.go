package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"

	"git.platform.alem.school/amibragim/order-tracker/internal/domain/identity"
	"git.platform.alem.school/amibragim/order-tracker/internal/domain/orders"
	"git.platform.alem.school/amibragim/order-tracker/internal/domain/restaurants"
	"git.platform.alem.school/amibragim/order-tracker/internal/realtime"
	"git.platform.alem.school/amibragim/order-tracker/internal/shared/contracts"
	"git.platform.alem.school/amibragim/order-tracker/internal/shared/logger"
	"git.platform.alem.school/amibragim/order-tracker/internal/shared/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	owner1    = identity.Identity{Role: identity.RoleRestaurantAdmin, UserID: "owner1"}
	owner2    = identity.Identity{Role: identity.RoleRestaurantAdmin, UserID: "owner2"}
	customer1 = identity.Identity{Role: identity.RoleCustomer, UserID: "c1"}
	customer2 = identity.Identity{Role: identity.RoleCustomer, UserID: "c2"}
)

// recordingSink is a registry sink that records decoded wire events.
type recordingSink struct {
	mu     sync.Mutex
	events []contracts.WireEvent
}

func (p *recordingSink) Enqueue(msg []byte) error {
	var ev contracts.WireEvent
	if err := json.Unmarshal(msg, &ev); err != nil {
		return err
	}
	p.mu.Lock()
	p.events = append(p.events, ev)
	p.mu.Unlock()
	return nil
}

func (p *recordingSink) received() []contracts.WireEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]contracts.WireEvent(nil), p.events...)
}

type fakeNotifier struct {
	mu   sync.Mutex
	msgs []contracts.StatusUpdateMessage
	err  error
}

func (n *fakeNotifier) Publish(exchange, routingKey string, body []byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	var msg contracts.StatusUpdateMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return err
	}
	n.msgs = append(n.msgs, msg)
	return nil
}

type fixture struct {
	store    *memory.Store
	registry *realtime.Registry
	svc      *Service
	notifier *fakeNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := logger.NewLoggerTo("lifecycle-test", io.Discard, "error")
	store := memory.NewStore()
	store.PutRestaurant(restaurants.Restaurant{ID: "R1", OwnerID: "owner1", Name: "Noodle Bar", IsOpen: true, Approved: true})
	store.PutRestaurant(restaurants.Restaurant{ID: "R2", OwnerID: "owner2", Name: "Taco Stand", IsOpen: true, Approved: true})

	reg := realtime.NewRegistry(log)
	notifier := &fakeNotifier{}
	svc := New(store, store.Orders(), store.Restaurants(), realtime.NewHub(reg, log), notifier, log)

	f := &fixture{store: store, registry: reg, svc: svc, notifier: notifier}
	f.placeOrder(t, "O1", "c1", "R1")
	return f
}

func (f *fixture) placeOrder(t *testing.T, id, customerID, restaurantID string) {
	t.Helper()
	ctx := context.Background()
	o := &orders.Order{
		ID:           id,
		CustomerID:   customerID,
		RestaurantID: restaurantID,
		Items:        []orders.OrderItem{{Name: "Pho", Quantity: 1, Price: 900}},
	}
	o.SetTotalAmount()
	require.NoError(t, f.store.Orders().CreateDraft(ctx, o))
	_, err := f.store.Orders().ConfirmPayment(ctx, id, "system:payments")
	require.NoError(t, err)
}

func (f *fixture) join(t *testing.T, id realtime.ConnID, topic realtime.Topic) *recordingSink {
	t.Helper()
	p := &recordingSink{}
	require.NoError(t, f.registry.Register(id, customer1, p))
	require.NoError(t, f.registry.Join(id, topic))
	return p
}

func (f *fixture) status(t *testing.T, id string) orders.OrderStatus {
	t.Helper()
	o, err := f.store.Orders().GetByID(context.Background(), id)
	require.NoError(t, err)
	return o.Status
}

func statuses(evs []contracts.WireEvent) []string {
	out := make([]string, len(evs))
	for i, ev := range evs {
		out[i] = ev.Status
	}
	return out
}

func TestOrderLifecycleEndToEnd(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.join(t, "A", realtime.OrderTopic("O1"))

	_, err := f.svc.Transition(ctx, "O1", orders.StatusConfirmed, owner1)
	require.NoError(t, err)
	require.Len(t, a.received(), 1)
	assert.Equal(t, "Confirmed", a.received()[0].Status)
	assert.Equal(t, contracts.EventOrderStatusUpdated, a.received()[0].Event)

	_, err = f.svc.Transition(ctx, "O1", orders.StatusDelivered, owner1)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Len(t, a.received(), 1, "rejected transition must not publish")

	for _, next := range []orders.OrderStatus{orders.StatusPreparing, orders.StatusOutForDelivery, orders.StatusDelivered} {
		_, err := f.svc.Transition(ctx, "O1", next, owner1)
		require.NoError(t, err)
	}

	got := a.received()
	require.Len(t, got, 4)
	assert.Equal(t, []string{"Confirmed", "Preparing", "Out for Delivery", "Delivered"}, statuses(got))
	for i, ev := range got {
		assert.Equal(t, int64(i+2), ev.Version)
		require.NotNil(t, ev.Order)
		assert.Equal(t, ev.Version, ev.Order.Version)
	}

	require.NoError(t, f.registry.Leave("A", realtime.OrderTopic("O1")))
	_, err = f.svc.Transition(ctx, "O1", orders.StatusCancelled, owner1)
	assert.ErrorIs(t, err, ErrInvalidTransition, "delivered is terminal")
	assert.Len(t, a.received(), 4)

	history, err := f.store.Orders().ListHistory(ctx, "O1")
	require.NoError(t, err)
	var visited []orders.OrderStatus
	for _, h := range history {
		visited = append(visited, h.Status)
	}
	assert.Equal(t, []orders.OrderStatus{
		orders.StatusPending, orders.StatusConfirmed, orders.StatusPreparing, orders.StatusOutForDelivery, orders.StatusDelivered,
	}, visited)
	assert.Equal(t, 0, f.svc.locks.size())
}

func TestTransitionTwiceIsRejectedWithoutRepublish(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.join(t, "A", realtime.OrderTopic("O1"))

	_, err := f.svc.Transition(ctx, "O1", orders.StatusConfirmed, owner1)
	require.NoError(t, err)
	_, err = f.svc.Transition(ctx, "O1", orders.StatusConfirmed, owner1)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	assert.Len(t, a.received(), 1)
	assert.Len(t, f.notifier.msgs, 1)
}

func TestUnauthorizedTransitionNeverMutatesOrPublishes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.join(t, "recordingSink-order", realtime.OrderTopic("O1"))
	d := f.join(t, "recordingSink-dashboard", realtime.RestaurantTopic("R1"))

	cases := []struct {
		name      string
		actor     identity.Identity
		requested orders.OrderStatus
	}{
		{"other restaurant operator", owner2, orders.StatusConfirmed},
		{"other restaurant operator cancel", owner2, orders.StatusCancelled},
		{"customer advancing", customer1, orders.StatusConfirmed},
		{"other customer cancel", customer2, orders.StatusCancelled},
		{"superadmin", identity.Identity{Role: identity.RoleSuperadmin, UserID: "root"}, orders.StatusConfirmed},
		{"anonymous", identity.Identity{}, orders.StatusCancelled},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Transition(ctx, "O1", tc.requested, tc.actor)
			assert.ErrorIs(t, err, ErrUnauthorized)
		})
	}

	assert.Equal(t, orders.StatusPending, f.status(t, "O1"))
	assert.Empty(t, p.received())
	assert.Empty(t, d.received())
	assert.Empty(t, f.notifier.msgs)
}

func TestCancelAuthority(t *testing.T) {
	ctx := context.Background()

	t.Run("customer while pending", func(t *testing.T) {
		f := newFixture(t)
		o, err := f.svc.Transition(ctx, "O1", orders.StatusCancelled, customer1)
		require.NoError(t, err)
		assert.Equal(t, orders.StatusCancelled, o.Status)
	})

	t.Run("customer while confirmed", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Transition(ctx, "O1", orders.StatusConfirmed, owner1)
		require.NoError(t, err)
		_, err = f.svc.Transition(ctx, "O1", orders.StatusCancelled, customer1)
		require.NoError(t, err)
	})

	t.Run("customer once preparing", func(t *testing.T) {
		f := newFixture(t)
		for _, s := range []orders.OrderStatus{orders.StatusConfirmed, orders.StatusPreparing} {
			_, err := f.svc.Transition(ctx, "O1", s, owner1)
			require.NoError(t, err)
		}
		_, err := f.svc.Transition(ctx, "O1", orders.StatusCancelled, customer1)
		assert.ErrorIs(t, err, ErrUnauthorized)
		assert.Equal(t, orders.StatusPreparing, f.status(t, "O1"))
	})

	t.Run("owner while out for delivery", func(t *testing.T) {
		f := newFixture(t)
		for _, s := range []orders.OrderStatus{orders.StatusConfirmed, orders.StatusPreparing, orders.StatusOutForDelivery, orders.StatusCancelled} {
			_, err := f.svc.Transition(ctx, "O1", s, owner1)
			require.NoError(t, err)
		}
	})

	t.Run("system while pending", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Transition(ctx, "O1", orders.StatusCancelled, identity.System("payments"))
		require.NoError(t, err)
	})
}

func TestTransitionRejectsUnknownOrderAndStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.Transition(ctx, "missing", orders.StatusConfirmed, owner1)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.Transition(ctx, "O1", orders.OrderStatus("teleported"), owner1)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = f.svc.Transition(ctx, "O1", orders.StatusOutForDelivery, owner1)
	assert.ErrorIs(t, err, ErrInvalidTransition, "pending cannot skip to out for delivery")
}

func TestStorageFailurePublishesNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.join(t, "A", realtime.OrderTopic("O1"))

	f.store.FailWrites(errors.New("connection reset"))
	_, err := f.svc.Transition(ctx, "O1", orders.StatusConfirmed, owner1)
	assert.ErrorIs(t, err, ErrStorageFailure)
	assert.Empty(t, a.received())
	assert.Empty(t, f.notifier.msgs)

	f.store.FailWrites(nil)
	assert.Equal(t, orders.StatusPending, f.status(t, "O1"))
}

func TestNotifierFailureDoesNotFailTransition(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.notifier.err = errors.New("broker down")

	o, err := f.svc.Transition(ctx, "O1", orders.StatusConfirmed, owner1)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusConfirmed, o.Status)
}

func TestNotifierReceivesStatusUpdate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.Transition(ctx, "O1", orders.StatusConfirmed, owner1)
	require.NoError(t, err)

	require.Len(t, f.notifier.msgs, 1)
	msg := f.notifier.msgs[0]
	assert.Equal(t, "O1", msg.OrderID)
	assert.Equal(t, "pending", msg.OldStatus)
	assert.Equal(t, "confirmed", msg.NewStatus)
	assert.Equal(t, "restaurant_admin:owner1", msg.ChangedBy)
	assert.Equal(t, int64(2), msg.Version)
}

// A dashboard that dropped is gone from the registry; transitions still succeed.
func TestDisconnectedDashboardGetsNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	b := f.join(t, "B", realtime.RestaurantTopic("R1"))

	require.True(t, f.registry.Unregister("B"))

	_, err := f.svc.Transition(ctx, "O1", orders.StatusConfirmed, owner1)
	require.NoError(t, err)
	assert.Empty(t, b.received())
}

func TestConcurrentSameTransitionAppliesOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.join(t, "A", realtime.OrderTopic("O1"))

	const n = 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	applied, rejected := 0, 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Transition(ctx, "O1", orders.StatusConfirmed, owner1)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				applied++
			} else if errors.Is(err, ErrInvalidTransition) {
				rejected++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, applied)
	assert.Equal(t, n-1, rejected)
	assert.Len(t, a.received(), 1)
}

// Racing forward and cancel requests always leave a history that is a path through the graph.
func TestConcurrentMixedTransitionsFollowGraph(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.join(t, "A", realtime.OrderTopic("O1"))

	requests := []struct {
		actor identity.Identity
		to    orders.OrderStatus
	}{
		{owner1, orders.StatusConfirmed},
		{owner1, orders.StatusPreparing},
		{customer1, orders.StatusCancelled},
		{owner1, orders.StatusOutForDelivery},
		{owner1, orders.StatusDelivered},
		{owner1, orders.StatusCancelled},
	}

	var wg sync.WaitGroup
	for round := 0; round < 5; round++ {
		for _, req := range requests {
			req := req
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _ = f.svc.Transition(ctx, "O1", req.to, req.actor)
			}()
		}
	}
	wg.Wait()

	history, err := f.store.Orders().ListHistory(ctx, "O1")
	require.NoError(t, err)
	for i := 1; i < len(history); i++ {
		assert.True(t, orders.CanTransition(history[i-1].Status, history[i].Status),
			"%s -> %s is not an edge", history[i-1].Status, history[i].Status)
	}
	assert.Len(t, a.received(), len(history)-1, "one event per applied transition")
}

func TestToggleRestaurant(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	dash := f.join(t, "dash", realtime.RestaurantTopic("R1"))
	stats := f.join(t, "stats", realtime.SystemStatsTopic)

	rest, err := f.svc.ToggleRestaurant(ctx, "R1", false, owner1)
	require.NoError(t, err)
	assert.False(t, rest.IsOpen)
	require.Len(t, dash.received(), 1)
	assert.Equal(t, contracts.EventRestaurantStatusUpdated, dash.received()[0].Event)
	require.Len(t, stats.received(), 1)

	_, err = f.svc.ToggleRestaurant(ctx, "R1", false, owner1)
	require.NoError(t, err)
	assert.Len(t, dash.received(), 1, "no change, no event")

	_, err = f.svc.ToggleRestaurant(ctx, "R1", true, owner2)
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = f.svc.ToggleRestaurant(ctx, "nope", true, owner1)
	assert.ErrorIs(t, err, ErrNotFound)
}
