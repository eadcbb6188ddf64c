package ports

import (
	"context"
	"errors"
	"time"

	"git.platform.alem.school/amibragim/order-tracker/internal/domain/orders"
	"git.platform.alem.school/amibragim/order-tracker/internal/domain/restaurants"
)

// ErrNotFound is returned by repositories when the record does not exist (or is not visible yet).
var ErrNotFound = errors.New("not found")

// UnitOfWork wraps a function in a DB transaction.
type UnitOfWork interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderRepository is the Order Store. Drafts are invisible to every read until ConfirmPayment.
type OrderRepository interface {
	CreateDraft(ctx context.Context, o *orders.Order) error
	// ConfirmPayment turns a draft into a pending order (version 1) and logs the initial status.
	// applied is false when the order was already placed.
	ConfirmPayment(ctx context.Context, id string, changedBy string) (applied bool, err error)
	GetByID(ctx context.Context, id string) (*orders.Order, error)
	// UpdateStatusCAS writes next only if the stored status and version still match, bumping the version.
	UpdateStatusCAS(ctx context.Context, id string, expected orders.OrderStatus, expectedVersion int64, next orders.OrderStatus, changedBy string, notes *string) (applied bool, err error)
	ListForCustomer(ctx context.Context, customerID string) ([]orders.Order, error)
	ListForRestaurant(ctx context.Context, restaurantID string) ([]orders.Order, error)
	ListHistory(ctx context.Context, id string) ([]orders.StatusLog, error)
	ListStale(ctx context.Context, status orders.OrderStatus, updatedBefore time.Time) ([]orders.Order, error)
	CountByStatus(ctx context.Context) (map[orders.OrderStatus]int, error)
}

// RestaurantRepository reads restaurant ownership and toggles open/closed.
type RestaurantRepository interface {
	GetByID(ctx context.Context, id string) (*restaurants.Restaurant, error)
	SetOpen(ctx context.Context, id string, open bool) error
	CountOpen(ctx context.Context) (int, error)
}
