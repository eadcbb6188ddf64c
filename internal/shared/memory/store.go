// Package memory is an in-process Order Store used by tests and by store.driver=memory.
// It mirrors the postgres repositories: drafts are invisible until payment is
// confirmed, status writes are compare-and-swap on (status, version), and a
// failed unit of work leaves no trace.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"git.platform.alem.school/amibragim/order-tracker/internal/domain/orders"
	"git.platform.alem.school/amibragim/order-tracker/internal/domain/restaurants"
	"git.platform.alem.school/amibragim/order-tracker/internal/ports"
)

type txKey struct{}

type record struct {
	order  orders.Order
	placed bool
}

type state struct {
	orders      map[string]*record
	restaurants map[string]restaurants.Restaurant
	logs        map[string][]orders.StatusLog
	nextItemID  int64
	nextLogID   int64
}

func (s *state) clone() *state {
	out := &state{
		orders:      make(map[string]*record, len(s.orders)),
		restaurants: make(map[string]restaurants.Restaurant, len(s.restaurants)),
		logs:        make(map[string][]orders.StatusLog, len(s.logs)),
		nextItemID:  s.nextItemID,
		nextLogID:   s.nextLogID,
	}
	for id, rec := range s.orders {
		out.orders[id] = &record{order: *rec.order.Clone(), placed: rec.placed}
	}
	for id, r := range s.restaurants {
		out.restaurants[id] = r
	}
	for id, l := range s.logs {
		out.logs[id] = append([]orders.StatusLog(nil), l...)
	}
	return out
}

// Store holds every table in memory. Units of work are serialized; a unit of
// work that returns an error is rolled back to the state it started from.
type Store struct {
	txMu sync.Mutex // serializes units of work
	mu   sync.RWMutex
	st   *state

	failMu  sync.Mutex
	failErr error

	// Now is the store clock; tests override it to age orders.
	Now func() time.Time
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		st: &state{
			orders:      make(map[string]*record),
			restaurants: make(map[string]restaurants.Restaurant),
			logs:        make(map[string][]orders.StatusLog),
		},
		Now: func() time.Time { return time.Now().UTC() },
	}
}

// UnitOfWork returns the store as a ports.UnitOfWork.
func (s *Store) UnitOfWork() ports.UnitOfWork { return s }

// Orders returns the Order Store view.
func (s *Store) Orders() ports.OrderRepository { return &ordersRepo{s: s} }

// Restaurants returns the restaurant view.
func (s *Store) Restaurants() ports.RestaurantRepository { return &restaurantsRepo{s: s} }

// FailWrites makes every subsequent write return err. Passing nil clears it.
func (s *Store) FailWrites(err error) {
	s.failMu.Lock()
	s.failErr = err
	s.failMu.Unlock()
}

func (s *Store) writeErr() error {
	s.failMu.Lock()
	defer s.failMu.Unlock()
	return s.failErr
}

// PutRestaurant seeds or replaces a restaurant row.
func (s *Store) PutRestaurant(r restaurants.Restaurant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = s.Now()
	}
	s.st.restaurants[r.ID] = r
}

// WithinTx runs fn with the store locked for writing by this unit of work.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	snapshot := s.st.clone()
	s.mu.RUnlock()

	committed := false
	defer func() {
		if !committed {
			s.mu.Lock()
			s.st = snapshot
			s.mu.Unlock()
		}
	}()

	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		return err
	}
	committed = true
	return nil
}

func (s *Store) read(fn func(st *state) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(s.st)
}

func (s *Store) write(fn func(st *state) error) error {
	if err := s.writeErr(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.st)
}

type ordersRepo struct{ s *Store }

func (r *ordersRepo) CreateDraft(_ context.Context, o *orders.Order) error {
	now := r.s.Now()
	return r.s.write(func(st *state) error {
		o.Status = orders.StatusPending
		o.Version = 0
		o.CreatedAt = now
		o.UpdatedAt = now
		for i := range o.Items {
			st.nextItemID++
			o.Items[i].ID = st.nextItemID
			o.Items[i].OrderID = o.ID
		}
		st.orders[o.ID] = &record{order: *o.Clone()}
		return nil
	})
}

func (r *ordersRepo) ConfirmPayment(_ context.Context, id string, changedBy string) (bool, error) {
	now := r.s.Now()
	applied := false
	err := r.s.write(func(st *state) error {
		rec, ok := st.orders[id]
		if !ok {
			return ports.ErrNotFound
		}
		if rec.placed {
			return nil
		}
		rec.placed = true
		rec.order.Status = orders.StatusPending
		rec.order.Version = 1
		rec.order.UpdatedAt = now
		st.appendLog(id, orders.StatusPending, changedBy, now, nil)
		applied = true
		return nil
	})
	return applied, err
}

func (r *ordersRepo) GetByID(_ context.Context, id string) (*orders.Order, error) {
	var out *orders.Order
	err := r.s.read(func(st *state) error {
		rec, ok := st.orders[id]
		if !ok || !rec.placed {
			return ports.ErrNotFound
		}
		out = rec.order.Clone()
		return nil
	})
	return out, err
}

func (r *ordersRepo) UpdateStatusCAS(_ context.Context, id string, expected orders.OrderStatus, expectedVersion int64, next orders.OrderStatus, changedBy string, notes *string) (bool, error) {
	now := r.s.Now()
	applied := false
	err := r.s.write(func(st *state) error {
		rec, ok := st.orders[id]
		if !ok || !rec.placed {
			return nil
		}
		if rec.order.Status != expected || rec.order.Version != expectedVersion {
			return nil
		}
		rec.order.Status = next
		rec.order.Version++
		rec.order.UpdatedAt = now
		st.appendLog(id, next, changedBy, now, notes)
		applied = true
		return nil
	})
	return applied, err
}

func (r *ordersRepo) ListForCustomer(_ context.Context, customerID string) ([]orders.Order, error) {
	return r.filter(func(o *orders.Order) bool { return o.CustomerID == customerID }, newestFirst)
}

func (r *ordersRepo) ListForRestaurant(_ context.Context, restaurantID string) ([]orders.Order, error) {
	return r.filter(func(o *orders.Order) bool { return o.RestaurantID == restaurantID }, newestFirst)
}

func (r *ordersRepo) ListStale(_ context.Context, status orders.OrderStatus, updatedBefore time.Time) ([]orders.Order, error) {
	return r.filter(func(o *orders.Order) bool {
		return o.Status == status && o.UpdatedAt.Before(updatedBefore)
	}, oldestUpdateFirst)
}

func (r *ordersRepo) CountByStatus(_ context.Context) (map[orders.OrderStatus]int, error) {
	out := make(map[orders.OrderStatus]int)
	err := r.s.read(func(st *state) error {
		for _, rec := range st.orders {
			if rec.placed {
				out[rec.order.Status]++
			}
		}
		return nil
	})
	return out, err
}

func (r *ordersRepo) ListHistory(_ context.Context, id string) ([]orders.StatusLog, error) {
	var out []orders.StatusLog
	err := r.s.read(func(st *state) error {
		rec, ok := st.orders[id]
		if !ok || !rec.placed {
			return ports.ErrNotFound
		}
		out = append(out, st.logs[id]...)
		return nil
	})
	return out, err
}

func (r *ordersRepo) filter(keep func(o *orders.Order) bool, less func(a, b *orders.Order) bool) ([]orders.Order, error) {
	var out []orders.Order
	err := r.s.read(func(st *state) error {
		for _, rec := range st.orders {
			if rec.placed && keep(&rec.order) {
				out = append(out, *rec.order.Clone())
			}
		}
		return nil
	})
	sort.SliceStable(out, func(i, j int) bool { return less(&out[i], &out[j]) })
	return out, err
}

func newestFirst(a, b *orders.Order) bool {
	if a.CreatedAt.Equal(b.CreatedAt) {
		return a.ID > b.ID
	}
	return a.CreatedAt.After(b.CreatedAt)
}

func oldestUpdateFirst(a, b *orders.Order) bool { return a.UpdatedAt.Before(b.UpdatedAt) }

func (st *state) appendLog(orderID string, status orders.OrderStatus, changedBy string, at time.Time, notes *string) {
	st.nextLogID++
	st.logs[orderID] = append(st.logs[orderID], orders.StatusLog{
		ID:        st.nextLogID,
		OrderID:   orderID,
		Status:    status,
		ChangedBy: changedBy,
		ChangedAt: at,
		Notes:     notes,
	})
}

type restaurantsRepo struct{ s *Store }

func (r *restaurantsRepo) GetByID(_ context.Context, id string) (*restaurants.Restaurant, error) {
	var out *restaurants.Restaurant
	err := r.s.read(func(st *state) error {
		rest, ok := st.restaurants[id]
		if !ok {
			return ports.ErrNotFound
		}
		out = &rest
		return nil
	})
	return out, err
}

func (r *restaurantsRepo) SetOpen(_ context.Context, id string, open bool) error {
	now := r.s.Now()
	return r.s.write(func(st *state) error {
		rest, ok := st.restaurants[id]
		if !ok {
			return ports.ErrNotFound
		}
		rest.IsOpen = open
		rest.UpdatedAt = now
		st.restaurants[id] = rest
		return nil
	})
}

func (r *restaurantsRepo) CountOpen(_ context.Context) (int, error) {
	n := 0
	err := r.s.read(func(st *state) error {
		for _, rest := range st.restaurants {
			if rest.IsOpen && rest.Approved {
				n++
			}
		}
		return nil
	})
	return n, err
}
