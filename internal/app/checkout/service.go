// Package checkout creates unpaid order drafts and turns them into pending
// orders when the payment path confirms them.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"git.platform.alem.school/amibragim/order-tracker/internal/domain/events"
	"git.platform.alem.school/amibragim/order-tracker/internal/domain/identity"
	"git.platform.alem.school/amibragim/order-tracker/internal/domain/orders"
	"git.platform.alem.school/amibragim/order-tracker/internal/ports"
	"git.platform.alem.school/amibragim/order-tracker/internal/shared/logger"
)

// PaymentsActor is recorded as the author of the initial pending status.
var PaymentsActor = identity.System("payments")

// Service implements ports.CheckoutService.
type Service struct {
	uow         ports.UnitOfWork
	orders      ports.OrderRepository
	restaurants ports.RestaurantRepository
	events      ports.EventPublisher
	logger      *logger.Logger
}

// Ensure Service implements the interface at compile time.
var _ ports.CheckoutService = (*Service)(nil)

// New creates a new checkout service with the required dependencies.
func New(uow ports.UnitOfWork, orders ports.OrderRepository, restaurants ports.RestaurantRepository, publisher ports.EventPublisher, logger *logger.Logger) *Service {
	return &Service{uow: uow, orders: orders, restaurants: restaurants, events: publisher, logger: logger}
}

// PlaceOrder validates input and stores an unpaid draft. The draft stays
// invisible to readers and live viewers until ConfirmPayment.
func (service *Service) PlaceOrder(ctx context.Context, customer identity.Identity, cmd ports.CreateOrderCommand) (*orders.Order, error) {
	if !customer.Is(identity.RoleCustomer) {
		return nil, fmt.Errorf("%w: only customers place orders", ErrUnauthorized)
	}
	if err := validate(&cmd); err != nil {
		return nil, err
	}

	order := &orders.Order{
		ID:              uuid.NewString(),
		CustomerID:      customer.UserID,
		RestaurantID:    cmd.RestaurantID,
		DeliveryAddress: cmd.DeliveryAddress,
		Items:           make([]orders.OrderItem, len(cmd.Items)),
	}
	for i, item := range cmd.Items {
		order.Items[i] = orders.OrderItem{Name: item.Name, Quantity: item.Quantity, Price: item.Price}
	}
	order.SetTotalAmount()

	err := service.uow.WithinTx(ctx, func(txCtx context.Context) error {
		rest, err := service.restaurants.GetByID(txCtx, cmd.RestaurantID)
		if errors.Is(err, ports.ErrNotFound) {
			return fmt.Errorf("%w: unknown restaurant %q", ErrRestaurantUnavailable, cmd.RestaurantID)
		}
		if err != nil {
			return err
		}
		if !rest.Approved || !rest.IsOpen {
			return fmt.Errorf("%w: %s is not accepting orders", ErrRestaurantUnavailable, rest.Name)
		}

		if err := service.orders.CreateDraft(txCtx, order); err != nil {
			service.logger.Error(ctx, "db_transaction_failed", "failed to create order draft", err)
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	service.logger.Info(ctx, "order_draft_created", "Order draft awaiting payment", map[string]any{
		"order_id":      order.ID,
		"restaurant_id": order.RestaurantID,
		"total_amount":  order.TotalAmount.ToFloat2(),
	})
	return order, nil
}

// ConfirmPayment places a draft: it becomes pending at version 1 and the
// restaurant is told about it once. Repeated confirmations return the order unchanged.
func (service *Service) ConfirmPayment(ctx context.Context, orderID string) (*orders.Order, error) {
	var placed *orders.Order
	var applied bool
	err := service.uow.WithinTx(ctx, func(txCtx context.Context) error {
		var err error
		applied, err = service.orders.ConfirmPayment(txCtx, orderID, PaymentsActor.String())
		if errors.Is(err, ports.ErrNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		placed, err = service.orders.GetByID(txCtx, orderID)
		return err
	})
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			service.logger.Error(ctx, "payment_confirmation_failed", "failed to confirm payment", err)
		}
		return nil, err
	}

	if applied {
		service.logger.Info(ctx, "order_placed", "Payment confirmed, order placed", map[string]any{
			"order_id":      placed.ID,
			"restaurant_id": placed.RestaurantID,
		})
		service.events.Publish(ctx, events.NewOrderPlaced{Order: placed.Clone()})
	}
	return placed, nil
}

func validate(cmd *ports.CreateOrderCommand) error {
	cmd.RestaurantID = strings.TrimSpace(cmd.RestaurantID)
	if cmd.RestaurantID == "" {
		return fmt.Errorf("%w: restaurantId is required", ErrInvalidOrder)
	}

	if len(cmd.Items) < 1 || len(cmd.Items) > 20 {
		return fmt.Errorf("%w: order must contain between 1 and 20 items", ErrInvalidOrder)
	}

	cmd.DeliveryAddress = strings.TrimSpace(cmd.DeliveryAddress)
	if len(cmd.DeliveryAddress) < 10 {
		return fmt.Errorf("%w: deliveryAddress must be at least 10 characters", ErrInvalidOrder)
	}

	for i := range cmd.Items {
		cmd.Items[i].Name = strings.TrimSpace(cmd.Items[i].Name)
		if len(cmd.Items[i].Name) < 1 || len(cmd.Items[i].Name) > 50 {
			return fmt.Errorf("%w: item %d name must be between 1 and 50 characters", ErrInvalidOrder, i+1)
		}
		if cmd.Items[i].Quantity < 1 || cmd.Items[i].Quantity > 10 {
			return fmt.Errorf("%w: item %d quantity must be between 1 and 10", ErrInvalidOrder, i+1)
		}
		if cmd.Items[i].Price < 1 || cmd.Items[i].Price > 99999 {
			return fmt.Errorf("%w: item %d price must be between 0.01 and 999.99", ErrInvalidOrder, i+1)
		}
	}
	return nil
}
