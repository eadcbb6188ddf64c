// Package stats keeps the platform-wide counters shown to superadmins. It is
// fed by the system:stats topic like any other subscriber.
package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"git.platform.alem.school/amibragim/order-tracker/internal/domain/identity"
	"git.platform.alem.school/amibragim/order-tracker/internal/domain/orders"
	"git.platform.alem.school/amibragim/order-tracker/internal/ports"
	"git.platform.alem.school/amibragim/order-tracker/internal/realtime"
	"git.platform.alem.school/amibragim/order-tracker/internal/shared/contracts"
	"git.platform.alem.school/amibragim/order-tracker/internal/shared/logger"
)

// ConnID is the registry id the aggregator subscribes under.
const ConnID realtime.ConnID = "stats-aggregator"

// Snapshot is the GET /system/stats payload.
type Snapshot struct {
	OrdersByStatus  map[string]int `json:"ordersByStatus"`
	ActiveOrders    int            `json:"activeOrders"`
	OpenRestaurants int            `json:"openRestaurants"`
	LiveConnections int            `json:"liveConnections"`
	UpdatedAt       time.Time      `json:"updatedAt"`
}

// Aggregator counts orders per status from stats ticks and tracks open restaurants.
type Aggregator struct {
	uow         ports.UnitOfWork
	orders      ports.OrderRepository
	restaurants ports.RestaurantRepository
	logger      *logger.Logger

	// Connections reports live transport connections; nil reports zero.
	Connections func() int

	mu               sync.Mutex
	byStatus         map[orders.OrderStatus]int
	openRestaurants  int
	restaurantsDirty bool
	updatedAt        time.Time
}

// NewAggregator constructs an unseeded aggregator.
func NewAggregator(uow ports.UnitOfWork, orderRepo ports.OrderRepository, restaurants ports.RestaurantRepository, logger *logger.Logger) *Aggregator {
	return &Aggregator{
		uow:         uow,
		orders:      orderRepo,
		restaurants: restaurants,
		logger:      logger,
		byStatus:    make(map[orders.OrderStatus]int),
	}
}

// Start seeds the counters from the store, then subscribes to system:stats.
// Call it before the transport accepts traffic so no tick falls between the two.
func (agg *Aggregator) Start(ctx context.Context, registry *realtime.Registry) error {
	if err := agg.seed(ctx); err != nil {
		return err
	}
	if err := registry.Register(ConnID, identity.System("stats"), agg); err != nil {
		return fmt.Errorf("register stats aggregator: %w", err)
	}
	return registry.Join(ConnID, realtime.SystemStatsTopic)
}

func (agg *Aggregator) seed(ctx context.Context) error {
	var counts map[orders.OrderStatus]int
	var open int
	err := agg.uow.WithinTx(ctx, func(txCtx context.Context) error {
		var err error
		if counts, err = agg.orders.CountByStatus(txCtx); err != nil {
			return err
		}
		open, err = agg.restaurants.CountOpen(txCtx)
		return err
	})
	if err != nil {
		return fmt.Errorf("seed stats: %w", err)
	}

	agg.mu.Lock()
	defer agg.mu.Unlock()
	agg.byStatus = counts
	agg.openRestaurants = open
	agg.restaurantsDirty = false
	agg.updatedAt = time.Now().UTC()
	return nil
}

// Enqueue applies one system:stats message. It never blocks on I/O.
func (agg *Aggregator) Enqueue(msg []byte) error {
	var ev contracts.WireEvent
	if err := json.Unmarshal(msg, &ev); err != nil {
		return err
	}

	agg.mu.Lock()
	defer agg.mu.Unlock()

	switch ev.Event {
	case contracts.EventOrderStatusChanged:
		if prev, ok := orders.ParseStatus(ev.PreviousStatus); ok && agg.byStatus[prev] > 0 {
			agg.byStatus[prev]--
		}
		if next, ok := orders.ParseStatus(ev.Status); ok {
			agg.byStatus[next]++
		}
	case contracts.EventRestaurantStatusUpdated:
		// the event only carries the new state; recount on the next read
		agg.restaurantsDirty = true
	default:
		return nil
	}
	agg.updatedAt = time.Now().UTC()
	return nil
}

// Snapshot returns the current counters, recounting open restaurants if one changed.
func (agg *Aggregator) Snapshot(ctx context.Context) (Snapshot, error) {
	agg.mu.Lock()
	dirty := agg.restaurantsDirty
	agg.mu.Unlock()

	if dirty {
		var open int
		err := agg.uow.WithinTx(ctx, func(txCtx context.Context) error {
			var err error
			open, err = agg.restaurants.CountOpen(txCtx)
			return err
		})
		if err != nil {
			return Snapshot{}, err
		}
		agg.mu.Lock()
		agg.openRestaurants = open
		agg.restaurantsDirty = false
		agg.mu.Unlock()
	}

	agg.mu.Lock()
	defer agg.mu.Unlock()

	out := Snapshot{
		OrdersByStatus:  make(map[string]int, len(agg.byStatus)),
		OpenRestaurants: agg.openRestaurants,
		UpdatedAt:       agg.updatedAt,
	}
	for status, n := range agg.byStatus {
		out.OrdersByStatus[string(status)] = n
		if !status.Terminal() {
			out.ActiveOrders += n
		}
	}
	if agg.Connections != nil {
		out.LiveConnections = agg.Connections()
	}
	return out, nil
}
