package postgres

import (
	"context"
	"errors"
	"time"

	"git.platform.alem.school/amibragim/order-tracker/internal/domain/orders"
	"git.platform.alem.school/amibragim/order-tracker/internal/ports"
	"github.com/jackc/pgx/v5"
)

// OrdersRepo implements the Order Store using pgx and SQL.
type OrdersRepo struct{}

// NewOrdersRepo constructs a new OrdersRepo.
func NewOrdersRepo() ports.OrderRepository {
	return &OrdersRepo{}
}

const orderColumns = `id, customer_id, restaurant_id, status, (total_amount*100)::bigint, delivery_address, created_at, updated_at, version`

// CreateDraft inserts the order header and its items as an unplaced draft.
func (r *OrdersRepo) CreateDraft(ctx context.Context, order *orders.Order) error {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return err
	}

	// note: total_amount is NUMERIC(10,2) in DB; we send integer cents and divide by 100 in SQL.
	err = tx.QueryRow(ctx, `
		INSERT INTO orders (id, customer_id, restaurant_id, status, placed, version, total_amount, delivery_address)
		VALUES ($1, $2, $3, 'pending', false, 0, $4::numeric/100, $5)
		RETURNING created_at, updated_at`,
		order.ID,
		order.CustomerID,
		order.RestaurantID,
		int64(order.TotalAmount),
		order.DeliveryAddress,
	).Scan(&order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return err
	}
	order.Status = orders.StatusPending
	order.Version = 0

	for i := range order.Items {
		it := &order.Items[i]
		err = tx.QueryRow(ctx, `
			INSERT INTO order_items (order_id, name, quantity, price)
			VALUES ($1, $2, $3, $4::numeric/100)
			RETURNING id
		`,
			order.ID,
			it.Name,
			it.Quantity,
			int64(it.Price),
		).Scan(&it.ID)
		if err != nil {
			return err
		}
		it.OrderID = order.ID
	}

	return nil
}

// ConfirmPayment places a draft (version 1) and writes the initial 'pending' status log.
func (r *OrdersRepo) ConfirmPayment(ctx context.Context, id string, changedBy string) (bool, error) {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return false, err
	}

	var placed bool
	err = tx.QueryRow(ctx, `SELECT placed FROM orders WHERE id = $1 FOR UPDATE`, id).Scan(&placed)
	if err != nil {
		return false, notFound(err)
	}
	if placed {
		return false, nil
	}

	_, err = tx.Exec(ctx, `
		UPDATE orders
		SET placed = true, status = 'pending', version = 1, updated_at = now()
		WHERE id = $1
	`, id)
	if err != nil {
		return false, err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO order_status_log (order_id, status, changed_by, changed_at, notes)
		VALUES ($1, 'pending', $2, $3, NULL)
	`, id, changedBy, time.Now().UTC())
	return err == nil, err
}

// GetByID retrieves a placed order by id, including its items.
func (r *OrdersRepo) GetByID(ctx context.Context, id string) (*orders.Order, error) {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 AND placed`, id)
	if err != nil {
		return nil, err
	}
	list, err := scanOrders(rows)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, ports.ErrNotFound
	}

	if err := r.loadItems(ctx, tx, list); err != nil {
		return nil, err
	}
	return &list[0], nil
}

// UpdateStatusCAS updates the order status only if status and version are unchanged since they were read.
func (r *OrdersRepo) UpdateStatusCAS(ctx context.Context, id string, expected orders.OrderStatus, expectedVersion int64, next orders.OrderStatus, changedBy string, notes *string) (bool, error) {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return false, err
	}

	var updated bool
	err = tx.QueryRow(ctx, `
		UPDATE orders
		SET status = $1, version = version + 1, updated_at = now()
		WHERE id = $2 AND placed AND status = $3 AND version = $4
		RETURNING true
	`, next, id, expected, expectedVersion).Scan(&updated)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO order_status_log (order_id, status, changed_by, changed_at, notes)
		VALUES ($1, $2, $3, now(), $4)
	`, id, next, changedBy, notes)
	return updated, err
}

// ListForCustomer returns the customer's placed orders, newest first.
func (r *OrdersRepo) ListForCustomer(ctx context.Context, customerID string) ([]orders.Order, error) {
	return r.list(ctx, `SELECT `+orderColumns+` FROM orders WHERE customer_id = $1 AND placed ORDER BY created_at DESC`, customerID)
}

// ListForRestaurant returns the restaurant's placed orders, newest first.
func (r *OrdersRepo) ListForRestaurant(ctx context.Context, restaurantID string) ([]orders.Order, error) {
	return r.list(ctx, `SELECT `+orderColumns+` FROM orders WHERE restaurant_id = $1 AND placed ORDER BY created_at DESC`, restaurantID)
}

// ListStale returns placed orders sitting in status since before updatedBefore.
func (r *OrdersRepo) ListStale(ctx context.Context, status orders.OrderStatus, updatedBefore time.Time) ([]orders.Order, error) {
	return r.list(ctx, `SELECT `+orderColumns+` FROM orders WHERE placed AND status = $1 AND updated_at < $2 ORDER BY updated_at ASC`, status, updatedBefore)
}

// CountByStatus counts placed orders per status.
func (r *OrdersRepo) CountByStatus(ctx context.Context) (map[orders.OrderStatus]int, error) {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, `SELECT status, count(*) FROM orders WHERE placed GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[orders.OrderStatus]int)
	for rows.Next() {
		var status orders.OrderStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[status] = n
	}
	return out, rows.Err()
}

// ListHistory retrieves the status change history for an order.
func (r *OrdersRepo) ListHistory(ctx context.Context, id string) ([]orders.StatusLog, error) {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, `
		SELECT l.id, l.order_id, l.status, l.changed_by, l.changed_at, l.notes
		FROM order_status_log l
		JOIN orders o ON o.id = l.order_id AND o.placed
		WHERE l.order_id = $1
		ORDER BY l.changed_at ASC, l.id ASC
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []orders.StatusLog
	for rows.Next() {
		var log orders.StatusLog
		if err := rows.Scan(&log.ID, &log.OrderID, &log.Status, &log.ChangedBy, &log.ChangedAt, &log.Notes); err != nil {
			return nil, err
		}
		history = append(history, log)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(history) == 0 {
		return nil, ports.ErrNotFound
	}

	return history, nil
}

// --- internals ---

func (r *OrdersRepo) list(ctx context.Context, query string, args ...any) ([]orders.Order, error) {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	list, err := scanOrders(rows)
	if err != nil {
		return nil, err
	}
	if err := r.loadItems(ctx, tx, list); err != nil {
		return nil, err
	}
	return list, nil
}

func scanOrders(rows pgx.Rows) ([]orders.Order, error) {
	defer rows.Close()

	var out []orders.Order
	for rows.Next() {
		var o orders.Order
		var total int64
		err := rows.Scan(&o.ID, &o.CustomerID, &o.RestaurantID, &o.Status, &total, &o.DeliveryAddress, &o.CreatedAt, &o.UpdatedAt, &o.Version)
		if err != nil {
			return nil, err
		}
		o.TotalAmount = orders.Money(total)
		out = append(out, o)
	}
	return out, rows.Err()
}

// loadItems fills Items for every order with a single query.
func (r *OrdersRepo) loadItems(ctx context.Context, tx pgx.Tx, list []orders.Order) error {
	if len(list) == 0 {
		return nil
	}

	ids := make([]string, len(list))
	index := make(map[string]int, len(list))
	for i := range list {
		ids[i] = list[i].ID
		index[list[i].ID] = i
	}

	rows, err := tx.Query(ctx, `
		SELECT id, order_id, name, quantity, (price*100)::bigint
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY id ASC
	`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var item orders.OrderItem
		var price int64
		if err := rows.Scan(&item.ID, &item.OrderID, &item.Name, &item.Quantity, &price); err != nil {
			return err
		}
		item.Price = orders.Money(price)
		i := index[item.OrderID]
		list[i].Items = append(list[i].Items, item)
	}
	return rows.Err()
}
