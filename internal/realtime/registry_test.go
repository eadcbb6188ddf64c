package realtime

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"git.platform.alem.school/amibragim/order-tracker/internal/domain/identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var customer = identity.Identity{Role: identity.RoleCustomer, UserID: "c1"}

func TestPublishReachesCurrentMembersInRegistrationOrder(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(testLogger())

	var mu sync.Mutex
	var order []ConnID
	sinkFor := func(id ConnID) Sink {
		return SinkFunc(func([]byte) error {
			mu.Lock()
			order = append(order, id)
			mu.Unlock()
			return nil
		})
	}

	ids := []ConnID{"c-3", "c-1", "c-2"}
	for _, id := range ids {
		require.NoError(t, reg.Register(id, customer, sinkFor(id)))
		require.NoError(t, reg.Join(id, OrderTopic("O1")))
	}

	res := reg.Publish(ctx, OrderTopic("O1"), []byte(`{}`))
	assert.Equal(t, 3, res.Delivered)
	assert.Empty(t, res.Failed)
	assert.Equal(t, ids, order)
	assert.Equal(t, ids, reg.Members(OrderTopic("O1")))
}

func TestJoinAndLeaveAreIdempotent(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(testLogger())
	sink := &recordingSink{}
	require.NoError(t, reg.Register("a", customer, sink))

	require.NoError(t, reg.Join("a", OrderTopic("O1")))
	require.NoError(t, reg.Join("a", OrderTopic("O1")))
	reg.Publish(ctx, OrderTopic("O1"), []byte(`{}`))
	assert.Equal(t, 1, sink.count(), "double join must not double deliver")

	require.NoError(t, reg.Leave("a", OrderTopic("O1")))
	require.NoError(t, reg.Leave("a", OrderTopic("O1")))
	require.NoError(t, reg.Leave("a", RestaurantTopic("never-joined")))
	assert.Empty(t, reg.Topics("a"))
	assert.Equal(t, 0, reg.TopicCount(), "empty topics are dropped")
}

func TestLeaveThenPublishDeliversNothing(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(testLogger())
	sink := &recordingSink{}
	require.NoError(t, reg.Register("a", customer, sink))
	require.NoError(t, reg.Join("a", OrderTopic("O1")))
	require.NoError(t, reg.Leave("a", OrderTopic("O1")))

	res := reg.Publish(ctx, OrderTopic("O1"), []byte(`{}`))
	assert.Equal(t, 0, res.Delivered)
	assert.Equal(t, 0, sink.count())
}

func TestLateJoinerGetsNothingRetroactively(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(testLogger())
	early, late := &recordingSink{}, &recordingSink{}
	require.NoError(t, reg.Register("early", customer, early))
	require.NoError(t, reg.Register("late", customer, late))
	require.NoError(t, reg.Join("early", OrderTopic("O1")))

	reg.Publish(ctx, OrderTopic("O1"), []byte(`{"n":1}`))
	require.NoError(t, reg.Join("late", OrderTopic("O1")))

	assert.Equal(t, 1, early.count())
	assert.Equal(t, 0, late.count())

	reg.Publish(ctx, OrderTopic("O1"), []byte(`{"n":2}`))
	assert.Equal(t, 2, early.count())
	assert.Equal(t, 1, late.count())
}

func TestFailingSinkIsIsolated(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(testLogger())
	slow := &recordingSink{fail: ErrSendBufferFull}
	healthy := &recordingSink{}
	require.NoError(t, reg.Register("slow", customer, slow))
	require.NoError(t, reg.Register("healthy", customer, healthy))
	require.NoError(t, reg.Join("slow", RestaurantTopic("R1")))
	require.NoError(t, reg.Join("healthy", RestaurantTopic("R1")))

	res := reg.Publish(ctx, RestaurantTopic("R1"), []byte(`{}`))
	assert.Equal(t, 1, res.Delivered)
	assert.Equal(t, []ConnID{"slow"}, res.Failed)
	assert.Equal(t, 1, healthy.count())
}

func TestUnregisterRemovesEveryMembership(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(testLogger())
	sink := &recordingSink{}
	require.NoError(t, reg.Register("b", customer, sink))
	require.NoError(t, reg.Join("b", RestaurantTopic("R1")))
	require.NoError(t, reg.Join("b", OrderTopic("O1")))
	assert.Equal(t, []Topic{"order:O1", "restaurant:R1"}, reg.Topics("b"))

	assert.True(t, reg.Unregister("b"))
	assert.False(t, reg.Unregister("b"))
	assert.Equal(t, 0, reg.Count())
	assert.Equal(t, 0, reg.TopicCount())

	res := reg.Publish(ctx, RestaurantTopic("R1"), []byte(`{}`))
	assert.Equal(t, 0, res.Delivered)
	assert.Empty(t, res.Failed)
	assert.Equal(t, 0, sink.count())

	assert.ErrorIs(t, reg.Join("b", OrderTopic("O1")), ErrUnknownConnection)
	assert.ErrorIs(t, reg.Leave("b", OrderTopic("O1")), ErrUnknownConnection)
}

func TestRegisterTwiceFails(t *testing.T) {
	reg := NewRegistry(testLogger())
	require.NoError(t, reg.Register("a", customer, &recordingSink{}))
	assert.ErrorIs(t, reg.Register("a", customer, &recordingSink{}), ErrAlreadyRegistered)

	who, ok := reg.Identity("a")
	require.True(t, ok)
	assert.Equal(t, customer, who)
}

// Unregister racing Publish must never hand a message to a sink after Unregister returned.
func TestUnregisterConcurrentWithPublish(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(testLogger())
	topic := RestaurantTopic("R1")

	const n = 50
	type closableSink struct {
		mu     sync.Mutex
		closed bool
	}
	sinks := make([]*closableSink, n)
	for i := range sinks {
		cs := &closableSink{}
		sinks[i] = cs
		id := ConnID(fmt.Sprintf("c-%d", i))
		require.NoError(t, reg.Register(id, customer, SinkFunc(func([]byte) error {
			cs.mu.Lock()
			defer cs.mu.Unlock()
			if cs.closed {
				t.Errorf("delivery to %s after unregister", id)
			}
			return nil
		})))
		require.NoError(t, reg.Join(id, topic))
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			reg.Publish(ctx, topic, []byte(`{}`))
		}
	}()
	go func() {
		defer wg.Done()
		for i := range sinks {
			reg.Unregister(ConnID(fmt.Sprintf("c-%d", i)))
			sinks[i].mu.Lock()
			sinks[i].closed = true
			sinks[i].mu.Unlock()
		}
	}()
	wg.Wait()

	assert.Equal(t, 0, reg.Count())
}
