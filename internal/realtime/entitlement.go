package realtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"git.platform.alem.school/amibragim/order-tracker/internal/domain/identity"
	"git.platform.alem.school/amibragim/order-tracker/internal/ports"
	"github.com/jellydator/ttlcache/v3"
)

// ErrTopicAuthorizationDenied is returned when the caller may not join the requested topic.
var ErrTopicAuthorizationDenied = errors.New("realtime: topic authorization denied")

type orderOwnership struct {
	customerID   string
	restaurantID string
}

// Entitlements decides whether an identity may join a topic, checking ownership
// against the store. Ownership lookups are cached for a short TTL.
type Entitlements struct {
	uow         ports.UnitOfWork
	orders      ports.OrderRepository
	restaurants ports.RestaurantRepository

	orderOwners      *ttlcache.Cache[string, orderOwnership]
	restaurantOwners *ttlcache.Cache[string, string]
}

// NewEntitlements constructs the checker. Call Stop to release the cache janitors.
func NewEntitlements(uow ports.UnitOfWork, orders ports.OrderRepository, restaurants ports.RestaurantRepository, ttl time.Duration) *Entitlements {
	orderOwners := ttlcache.New[string, orderOwnership](
		ttlcache.WithTTL[string, orderOwnership](ttl),
		ttlcache.WithDisableTouchOnHit[string, orderOwnership](),
	)
	restaurantOwners := ttlcache.New[string, string](
		ttlcache.WithTTL[string, string](ttl),
		ttlcache.WithDisableTouchOnHit[string, string](),
	)
	go orderOwners.Start()
	go restaurantOwners.Start()

	return &Entitlements{
		uow:              uow,
		orders:           orders,
		restaurants:      restaurants,
		orderOwners:      orderOwners,
		restaurantOwners: restaurantOwners,
	}
}

// Stop ends the cache expiry goroutines.
func (e *Entitlements) Stop() {
	e.orderOwners.Stop()
	e.restaurantOwners.Stop()
}

// CanJoin returns nil when who may join topic, ErrTopicAuthorizationDenied when
// not, and any other error when ownership could not be looked up.
//
// Customers may join their own orders. Restaurant admins may join their
// restaurant and the orders placed with it. Superadmins may join anything,
// and are the only ones allowed on system:stats. Anonymous connections join nothing.
func (e *Entitlements) CanJoin(ctx context.Context, who identity.Identity, topic Topic) error {
	if who.Anonymous() {
		return ErrTopicAuthorizationDenied
	}

	if topic == SystemStatsTopic {
		if who.Is(identity.RoleSuperadmin) {
			return nil
		}
		return ErrTopicAuthorizationDenied
	}

	if orderID, ok := topic.OrderID(); ok {
		if who.Is(identity.RoleSuperadmin) {
			return nil
		}
		own, err := e.orderOwner(ctx, orderID)
		if err != nil {
			return err
		}
		switch {
		case who.Is(identity.RoleCustomer) && own.customerID == who.UserID:
			return nil
		case who.Is(identity.RoleRestaurantAdmin):
			return e.ownsRestaurant(ctx, who, own.restaurantID)
		}
		return ErrTopicAuthorizationDenied
	}

	if restaurantID, ok := topic.RestaurantID(); ok {
		if who.Is(identity.RoleSuperadmin) {
			return nil
		}
		if who.Is(identity.RoleRestaurantAdmin) {
			return e.ownsRestaurant(ctx, who, restaurantID)
		}
		return ErrTopicAuthorizationDenied
	}

	return ErrTopicAuthorizationDenied
}

func (e *Entitlements) ownsRestaurant(ctx context.Context, who identity.Identity, restaurantID string) error {
	owner, err := e.restaurantOwner(ctx, restaurantID)
	if err != nil {
		return err
	}
	if owner != who.UserID {
		return ErrTopicAuthorizationDenied
	}
	return nil
}

func (e *Entitlements) orderOwner(ctx context.Context, orderID string) (orderOwnership, error) {
	if item := e.orderOwners.Get(orderID); item != nil {
		return item.Value(), nil
	}

	var own orderOwnership
	err := e.uow.WithinTx(ctx, func(txCtx context.Context) error {
		o, err := e.orders.GetByID(txCtx, orderID)
		if err != nil {
			return err
		}
		own = orderOwnership{customerID: o.CustomerID, restaurantID: o.RestaurantID}
		return nil
	})
	if errors.Is(err, ports.ErrNotFound) {
		// unknown and unpaid orders look the same as someone else's order
		return own, ErrTopicAuthorizationDenied
	}
	if err != nil {
		return own, fmt.Errorf("lookup order owner: %w", err)
	}

	e.orderOwners.Set(orderID, own, ttlcache.DefaultTTL)
	return own, nil
}

func (e *Entitlements) restaurantOwner(ctx context.Context, restaurantID string) (string, error) {
	if item := e.restaurantOwners.Get(restaurantID); item != nil {
		return item.Value(), nil
	}

	var owner string
	err := e.uow.WithinTx(ctx, func(txCtx context.Context) error {
		r, err := e.restaurants.GetByID(txCtx, restaurantID)
		if err != nil {
			return err
		}
		owner = r.OwnerID
		return nil
	})
	if errors.Is(err, ports.ErrNotFound) {
		return "", ErrTopicAuthorizationDenied
	}
	if err != nil {
		return "", fmt.Errorf("lookup restaurant owner: %w", err)
	}

	e.restaurantOwners.Set(restaurantID, owner, ttlcache.DefaultTTL)
	return owner, nil
}
