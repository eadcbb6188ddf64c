package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"git.platform.alem.school/amibragim/order-tracker/internal/domain/identity"
	"git.platform.alem.school/amibragim/order-tracker/internal/domain/orders"
	"git.platform.alem.school/amibragim/order-tracker/internal/ports"
	"git.platform.alem.school/amibragim/order-tracker/internal/shared/logger"
)

// Sweeper cancels orders that stayed pending longer than the timeout, acting as the system.
type Sweeper struct {
	service  *Service
	uow      ports.UnitOfWork
	orders   ports.OrderRepository
	timeout  time.Duration
	interval time.Duration
	logger   *logger.Logger

	// Now is the sweep clock.
	Now func() time.Time
}

// NewSweeper constructs a sweeper over the lifecycle service.
func NewSweeper(service *Service, timeout, interval time.Duration, logger *logger.Logger) *Sweeper {
	return &Sweeper{
		service:  service,
		uow:      service.uow,
		orders:   service.orders,
		timeout:  timeout,
		interval: interval,
		logger:   logger,
		Now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run sweeps every interval until ctx is done.
func (sweeper *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(sweeper.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := sweeper.SweepOnce(ctx); err != nil {
				sweeper.logger.Error(ctx, "sweep_failed", "Failed to sweep stale orders", err)
			}
		}
	}
}

// SweepOnce cancels every stale pending order and returns how many it cancelled.
// Each order is re-checked under its lock, so one confirmed or cancelled since
// the listing is skipped.
func (sweeper *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	cutoff := sweeper.Now().Add(-sweeper.timeout)

	var stale []orders.Order
	err := sweeper.uow.WithinTx(ctx, func(txCtx context.Context) error {
		var err error
		stale, err = sweeper.orders.ListStale(txCtx, orders.StatusPending, cutoff)
		return err
	})
	if err != nil {
		return 0, storageFailure(err)
	}

	cancelled := 0
	for i := range stale {
		err := sweeper.cancelStale(ctx, stale[i].ID, cutoff)
		switch {
		case err == nil:
			cancelled++
		case errors.Is(err, ErrInvalidTransition):
			// confirmed or cancelled in the meantime
		default:
			return cancelled, err
		}
	}

	if cancelled > 0 {
		sweeper.logger.Info(ctx, "stale_orders_cancelled", "Cancelled stale pending orders", map[string]any{
			"count":  cancelled,
			"cutoff": cutoff.Format(time.RFC3339),
		})
	}
	return cancelled, nil
}

// cancelStale cancels orderID only if it is still pending and untouched since before cutoff.
func (sweeper *Sweeper) cancelStale(ctx context.Context, orderID string, cutoff time.Time) error {
	stillStale := func(order *orders.Order) error {
		if order.Status != orders.StatusPending || !order.UpdatedAt.Before(cutoff) {
			return fmt.Errorf("%w: order %s is no longer stale (%s)", ErrInvalidTransition, order.ID, order.Status.DisplayName())
		}
		return nil
	}
	_, err := sweeper.service.transition(ctx, orderID, orders.StatusCancelled, identity.System("sweeper"), stillStale)
	return err
}
