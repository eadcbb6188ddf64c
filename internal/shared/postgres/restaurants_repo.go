package postgres

import (
	"context"

	"git.platform.alem.school/amibragim/order-tracker/internal/domain/restaurants"
	"git.platform.alem.school/amibragim/order-tracker/internal/ports"
)

// RestaurantsRepo reads restaurant ownership and the open flag.
type RestaurantsRepo struct{}

// NewRestaurantsRepo constructs a new RestaurantsRepo.
func NewRestaurantsRepo() ports.RestaurantRepository {
	return &RestaurantsRepo{}
}

// GetByID returns the restaurant or ports.ErrNotFound.
func (r *RestaurantsRepo) GetByID(ctx context.Context, id string) (*restaurants.Restaurant, error) {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var rest restaurants.Restaurant
	err = tx.QueryRow(ctx, `
		SELECT id, owner_id, name, is_open, approved, updated_at
		FROM restaurants
		WHERE id = $1
	`, id).Scan(&rest.ID, &rest.OwnerID, &rest.Name, &rest.IsOpen, &rest.Approved, &rest.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &rest, nil
}

// SetOpen flips the open flag.
func (r *RestaurantsRepo) SetOpen(ctx context.Context, id string, open bool) error {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return err
	}

	tag, err := tx.Exec(ctx, `
		UPDATE restaurants
		SET is_open = $1, updated_at = now()
		WHERE id = $2
	`, open, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ports.ErrNotFound
	}
	return nil
}

// CountOpen counts restaurants currently accepting orders.
func (r *RestaurantsRepo) CountOpen(ctx context.Context) (int, error) {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return 0, err
	}

	var n int
	err = tx.QueryRow(ctx, `SELECT count(*) FROM restaurants WHERE is_open AND approved`).Scan(&n)
	return n, err
}
