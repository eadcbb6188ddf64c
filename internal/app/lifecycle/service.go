package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"git.platform.alem.school/amibragim/order-tracker/internal/domain/events"
	"git.platform.alem.school/amibragim/order-tracker/internal/domain/identity"
	"git.platform.alem.school/amibragim/order-tracker/internal/domain/orders"
	"git.platform.alem.school/amibragim/order-tracker/internal/domain/restaurants"
	"git.platform.alem.school/amibragim/order-tracker/internal/ports"
	"git.platform.alem.school/amibragim/order-tracker/internal/shared/contracts"
	"git.platform.alem.school/amibragim/order-tracker/internal/shared/logger"
	"git.platform.alem.school/amibragim/order-tracker/internal/shared/metrics"
	"git.platform.alem.school/amibragim/order-tracker/internal/shared/rabbitmq"
)

// Service is the only writer of order status.
type Service struct {
	uow         ports.UnitOfWork
	orders      ports.OrderRepository
	restaurants ports.RestaurantRepository
	events      ports.EventPublisher
	notifier    ports.Publisher // nil when broker notifications are disabled
	logger      *logger.Logger
	locks       *keyedMutex
}

// Ensure Service implements the interface at compile time.
var _ ports.LifecycleService = (*Service)(nil)

// New creates the lifecycle service. notifier may be nil.
func New(uow ports.UnitOfWork, orders ports.OrderRepository, restaurants ports.RestaurantRepository, publisher ports.EventPublisher, notifier ports.Publisher, logger *logger.Logger) *Service {
	return &Service{
		uow:         uow,
		orders:      orders,
		restaurants: restaurants,
		events:      publisher,
		notifier:    notifier,
		logger:      logger,
		locks:       newKeyedMutex(),
	}
}

// Transition moves an order to requested on behalf of actor.
//
// The stored status is re-read, authority and the edge are validated and the
// write is a compare-and-swap on (status, version) inside one unit of work.
// Only after the commit is the change published; a failed commit publishes nothing.
func (service *Service) Transition(ctx context.Context, orderID string, requested orders.OrderStatus, actor identity.Identity) (*orders.Order, error) {
	return service.transition(ctx, orderID, requested, actor, nil)
}

// precondition is checked against the stored order under the per-order lock,
// before authority. A non-nil error aborts the transition.
type precondition func(order *orders.Order) error

func (service *Service) transition(ctx context.Context, orderID string, requested orders.OrderStatus, actor identity.Identity, guard precondition) (*orders.Order, error) {
	if !requested.Valid() {
		metrics.Transitions.WithLabelValues("invalid").Inc()
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, requested)
	}

	// serialize transitions and their publications per order
	unlock, err := service.locks.Lock(ctx, orderID)
	if err != nil {
		metrics.Transitions.WithLabelValues("timeout").Inc()
		service.logger.Warn(ctx, "transition_lock_timeout", "Gave up waiting for a concurrent transition", map[string]any{
			"order_id": orderID,
			"error":    err.Error(),
		})
		return nil, fmt.Errorf("wait for order %s: %w", orderID, err)
	}
	defer unlock()

	var updated *orders.Order
	var oldStatus orders.OrderStatus
	err = service.uow.WithinTx(ctx, func(txCtx context.Context) error {
		order, err := service.orders.GetByID(txCtx, orderID)
		if errors.Is(err, ports.ErrNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return storageFailure(err)
		}

		if guard != nil {
			if err := guard(order); err != nil {
				return err
			}
		}
		if err := service.authorize(txCtx, order, requested, actor); err != nil {
			return err
		}

		ok, err := service.orders.UpdateStatusCAS(txCtx, order.ID, order.Status, order.Version, requested, actor.String(), nil)
		if err != nil {
			return storageFailure(err)
		}
		if !ok {
			// someone else moved the order since it was read
			return fmt.Errorf("%w: order changed concurrently", ErrInvalidTransition)
		}

		oldStatus = order.Status
		updated, err = service.orders.GetByID(txCtx, order.ID)
		if err != nil {
			return storageFailure(err)
		}
		return nil
	})
	if err != nil {
		if !isLifecycleError(err) {
			// commit failures surface from WithinTx unwrapped
			err = storageFailure(err)
		}
		service.logTransitionFailure(ctx, orderID, requested, actor, err)
		return nil, err
	}
	metrics.Transitions.WithLabelValues("applied").Inc()

	service.logger.Info(ctx, "order_status_changed", "Order status changed", map[string]any{
		"order_id":   updated.ID,
		"old_status": oldStatus,
		"new_status": updated.Status,
		"version":    updated.Version,
		"changed_by": actor.String(),
	})

	service.events.Publish(ctx, events.OrderStatusChanged{
		Order:     updated.Clone(),
		OldStatus: oldStatus,
		ChangedBy: actor.String(),
	})

	if err := service.publishStatusUpdate(ctx, updated, oldStatus, actor.String()); err != nil {
		service.logger.Error(ctx, "rabbitmq_publish_failed", "failed to publish status update", err)
		// continue anyway; DB commit already succeeded
	}

	return updated, nil
}

// authorize checks ownership first, then the edge, then what the actor's role may request.
func (service *Service) authorize(ctx context.Context, order *orders.Order, requested orders.OrderStatus, actor identity.Identity) error {
	switch {
	case actor.Is(identity.RoleRestaurantAdmin):
		rest, err := service.restaurants.GetByID(ctx, order.RestaurantID)
		if errors.Is(err, ports.ErrNotFound) {
			return ErrUnauthorized
		}
		if err != nil {
			return storageFailure(err)
		}
		if rest.OwnerID != actor.UserID {
			return ErrUnauthorized
		}
		if !orders.CanTransition(order.Status, requested) {
			return invalidEdge(order.Status, requested)
		}
		return nil

	case actor.Is(identity.RoleCustomer) && order.CustomerID == actor.UserID, actor.Is(identity.RoleSystem):
		if !orders.CanTransition(order.Status, requested) {
			return invalidEdge(order.Status, requested)
		}
		if requested != orders.StatusCancelled {
			return fmt.Errorf("%w: only the restaurant may advance an order", ErrUnauthorized)
		}
		if order.Status != orders.StatusPending && order.Status != orders.StatusConfirmed {
			return fmt.Errorf("%w: order can no longer be cancelled by %s", ErrUnauthorized, actor.Role)
		}
		return nil
	}

	return ErrUnauthorized
}

func invalidEdge(from, to orders.OrderStatus) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from.DisplayName(), to.DisplayName())
}

// ToggleRestaurant opens or closes a restaurant. Only its owner may do so.
// Setting the state it already has changes and publishes nothing.
func (service *Service) ToggleRestaurant(ctx context.Context, restaurantID string, open bool, actor identity.Identity) (*restaurants.Restaurant, error) {
	unlock, err := service.locks.Lock(ctx, "restaurant:"+restaurantID)
	if err != nil {
		return nil, fmt.Errorf("wait for restaurant %s: %w", restaurantID, err)
	}
	defer unlock()

	var rest *restaurants.Restaurant
	changed := false
	err = service.uow.WithinTx(ctx, func(txCtx context.Context) error {
		var err error
		rest, err = service.restaurants.GetByID(txCtx, restaurantID)
		if errors.Is(err, ports.ErrNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return storageFailure(err)
		}
		if !actor.Is(identity.RoleRestaurantAdmin) || rest.OwnerID != actor.UserID {
			return ErrUnauthorized
		}
		if rest.IsOpen == open {
			return nil
		}

		if err := service.restaurants.SetOpen(txCtx, restaurantID, open); err != nil {
			return storageFailure(err)
		}
		rest, err = service.restaurants.GetByID(txCtx, restaurantID)
		if err != nil {
			return storageFailure(err)
		}
		changed = true
		return nil
	})
	if err != nil {
		if !isLifecycleError(err) {
			err = storageFailure(err)
		}
		service.logger.Error(ctx, "restaurant_toggle_failed", "Failed to toggle restaurant", err)
		return nil, err
	}

	if changed {
		service.logger.Info(ctx, "restaurant_status_changed", "Restaurant open state changed", map[string]any{
			"restaurant_id": rest.ID,
			"is_open":       rest.IsOpen,
		})
		service.events.Publish(ctx, events.RestaurantStatusChanged{Restaurant: *rest})
	}
	return rest, nil
}

// publishStatusUpdate builds and publishes a JSON message to notifications_fanout.
func (service *Service) publishStatusUpdate(ctx context.Context, order *orders.Order, old orders.OrderStatus, by string) error {
	if service.notifier == nil {
		return nil
	}

	msg := contracts.StatusUpdateMessage{
		OrderID:      order.ID,
		RestaurantID: order.RestaurantID,
		OldStatus:    string(old),
		NewStatus:    string(order.Status),
		ChangedBy:    by,
		Version:      order.Version,
		Timestamp:    order.UpdatedAt.UTC(),
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := service.notifier.Publish(rabbitmq.NotificationsExchange, "", body); err != nil {
		metrics.NotificationsPublished.WithLabelValues("failed").Inc()
		return err
	}
	metrics.NotificationsPublished.WithLabelValues("published").Inc()

	service.logger.Debug(ctx, "notification_published", "Status update published", map[string]any{
		"order_id":   order.ID,
		"new_status": order.Status,
	})
	return nil
}

func (service *Service) logTransitionFailure(ctx context.Context, orderID string, requested orders.OrderStatus, actor identity.Identity, err error) {
	details := map[string]any{
		"order_id":  orderID,
		"requested": requested,
		"actor":     actor.String(),
		"error":     err.Error(),
	}
	switch {
	case errors.Is(err, ErrStorageFailure):
		metrics.Transitions.WithLabelValues("storage_failure").Inc()
		service.logger.Error(ctx, "db_transaction_failed", "Failed to persist status transition", err)
	case errors.Is(err, ErrUnauthorized):
		metrics.Transitions.WithLabelValues("unauthorized").Inc()
		service.logger.Warn(ctx, "transition_unauthorized", "Transition rejected: actor lacks authority", details)
	case errors.Is(err, ErrNotFound):
		metrics.Transitions.WithLabelValues("not_found").Inc()
		service.logger.Warn(ctx, "transition_rejected", "Transition rejected: unknown order", details)
	default:
		metrics.Transitions.WithLabelValues("invalid").Inc()
		service.logger.Warn(ctx, "transition_rejected", "Transition rejected: illegal edge", details)
	}
}

func isLifecycleError(err error) bool {
	return errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrStorageFailure)
}
