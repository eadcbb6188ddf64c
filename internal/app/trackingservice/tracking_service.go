package trackingservice

import (
	"context"
	"errors"

	"git.platform.alem.school/amibragim/order-tracker/internal/domain/identity"
	"git.platform.alem.school/amibragim/order-tracker/internal/domain/orders"
	"git.platform.alem.school/amibragim/order-tracker/internal/ports"
	"git.platform.alem.school/amibragim/order-tracker/internal/shared/logger"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
)

// Service implements ports.TrackingService interface.
type Service struct {
	uow         ports.UnitOfWork
	orders      ports.OrderRepository
	restaurants ports.RestaurantRepository
	logger      *logger.Logger
}

// NewService creates a new TrackingService instance with the required dependencies.
func NewService(uow ports.UnitOfWork, orders ports.OrderRepository, restaurants ports.RestaurantRepository, logger *logger.Logger) ports.TrackingService {
	return &Service{
		uow:         uow,
		orders:      orders,
		restaurants: restaurants,
		logger:      logger,
	}
}

// GetOrder returns the current projection of an order the viewer may see.
func (service *Service) GetOrder(ctx context.Context, viewer identity.Identity, id string) (*orders.Order, error) {
	var out *orders.Order
	err := service.uow.WithinTx(ctx, func(txCtx context.Context) error {
		order, err := service.visibleOrder(txCtx, viewer, id)
		if err != nil {
			return err
		}
		out = order
		return nil
	})
	if err != nil {
		service.logFailure(ctx, "Failed to get order", err)
		return nil, err
	}
	return out, nil
}

// GetOrderHistory returns a list of status changes for the given order.
func (service *Service) GetOrderHistory(ctx context.Context, viewer identity.Identity, id string) ([]orders.StatusLog, error) {
	var hist []orders.StatusLog
	err := service.uow.WithinTx(ctx, func(txCtx context.Context) error {
		if _, err := service.visibleOrder(txCtx, viewer, id); err != nil {
			return err
		}

		var err error
		hist, err = service.orders.ListHistory(txCtx, id)
		return err
	})
	if err != nil {
		service.logFailure(ctx, "Failed to list order history", err)
		return nil, err
	}
	return hist, nil
}

// ListOrdersForUser returns the viewer's own orders, newest first.
func (service *Service) ListOrdersForUser(ctx context.Context, viewer identity.Identity) ([]orders.Order, error) {
	if !viewer.Is(identity.RoleCustomer) {
		return nil, ErrUnauthorized
	}

	var list []orders.Order
	err := service.uow.WithinTx(ctx, func(txCtx context.Context) error {
		var err error
		list, err = service.orders.ListForCustomer(txCtx, viewer.UserID)
		return err
	})
	if err != nil {
		service.logFailure(ctx, "Failed to list customer orders", err)
		return nil, err
	}
	return list, nil
}

// ListOrdersForRestaurant returns the dashboard snapshot for a restaurant owner or a superadmin.
func (service *Service) ListOrdersForRestaurant(ctx context.Context, viewer identity.Identity, restaurantID string) ([]orders.Order, error) {
	var list []orders.Order
	err := service.uow.WithinTx(ctx, func(txCtx context.Context) error {
		rest, err := service.restaurants.GetByID(txCtx, restaurantID)
		if errors.Is(err, ports.ErrNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		if !viewer.Is(identity.RoleSuperadmin) && !(viewer.Is(identity.RoleRestaurantAdmin) && rest.OwnerID == viewer.UserID) {
			return ErrUnauthorized
		}

		list, err = service.orders.ListForRestaurant(txCtx, restaurantID)
		return err
	})
	if err != nil {
		service.logFailure(ctx, "Failed to list restaurant orders", err)
		return nil, err
	}
	return list, nil
}

// visibleOrder loads id and checks that the viewer is its customer, its restaurant's owner or a superadmin.
func (service *Service) visibleOrder(ctx context.Context, viewer identity.Identity, id string) (*orders.Order, error) {
	order, err := service.orders.GetByID(ctx, id)
	if errors.Is(err, ports.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	switch {
	case viewer.Is(identity.RoleSuperadmin):
		return order, nil
	case viewer.Is(identity.RoleCustomer):
		if order.CustomerID == viewer.UserID {
			return order, nil
		}
	case viewer.Is(identity.RoleRestaurantAdmin):
		rest, err := service.restaurants.GetByID(ctx, order.RestaurantID)
		if err != nil && !errors.Is(err, ports.ErrNotFound) {
			return nil, err
		}
		if err == nil && rest.OwnerID == viewer.UserID {
			return order, nil
		}
	}
	return nil, ErrUnauthorized
}

func (service *Service) logFailure(ctx context.Context, msg string, err error) {
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrUnauthorized) {
		return
	}
	service.logger.Error(ctx, "db_query_failed", msg, err)
}
