package trackingservice

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"git.platform.alem.school/amibragim/order-tracker/internal/app/checkout"
	"git.platform.alem.school/amibragim/order-tracker/internal/app/lifecycle"
	"git.platform.alem.school/amibragim/order-tracker/internal/app/stats"
	"git.platform.alem.school/amibragim/order-tracker/internal/app/trackingservice"
	"git.platform.alem.school/amibragim/order-tracker/internal/auth"
	"git.platform.alem.school/amibragim/order-tracker/internal/domain/restaurants"
	"git.platform.alem.school/amibragim/order-tracker/internal/ports"
	"git.platform.alem.school/amibragim/order-tracker/internal/realtime"
	"git.platform.alem.school/amibragim/order-tracker/internal/shared/config"
	"git.platform.alem.school/amibragim/order-tracker/internal/shared/idempotency"
	"git.platform.alem.school/amibragim/order-tracker/internal/shared/logger"
	"git.platform.alem.school/amibragim/order-tracker/internal/shared/memory"
	pg "git.platform.alem.school/amibragim/order-tracker/internal/shared/postgres"
	"git.platform.alem.school/amibragim/order-tracker/internal/shared/rabbitmq"
)

// stores is the storage backend selected by store.driver.
type stores struct {
	uow         ports.UnitOfWork
	orders      ports.OrderRepository
	restaurants ports.RestaurantRepository
	checks      []healthCheck // dependencies reported by /health
	close       func()
}

// healthCheck is one dependency probed by GET /health.
type healthCheck struct {
	name  string
	check func(ctx context.Context) error
}

// health runs every check in order and reports the first failing dependency.
func health(checks []healthCheck) func(ctx context.Context) error {
	if len(checks) == 0 {
		return nil
	}
	return func(ctx context.Context) error {
		for _, c := range checks {
			if err := c.check(ctx); err != nil {
				return fmt.Errorf("%s: %w", c.name, err)
			}
		}
		return nil
	}
}

func Run(ctx context.Context, configPath string, port int) error {
	// set up a new logger for the tracking service with a static request ID for startup logs
	log := logger.NewLogger("tracking-service")
	ctx = log.WithRequestID(ctx, "startup-001")

	// load a config from file
	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		log.Error(ctx, "config_load_failed", "Failed to load configuration", err)
		return err
	}
	log.SetLevel(cfg.Log.Level)

	st, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.close()

	// broker notifications are optional; the tracking core never depends on them
	var notifier ports.Publisher
	if !cfg.RabbitMQ.Disabled {
		rmq, err := rabbitmq.ConnectRabbitMQ(ctx, cfg, log)
		if err != nil {
			log.Error(ctx, "rabbitmq_connection_failed", "Failed to connect to RabbitMQ", err)
			return err
		}
		defer rmq.Close()
		notifier = &rabbitmq.MQPublisher{Client: rmq}
		st.checks = append(st.checks, healthCheck{name: "rabbitmq", check: rmq.Ping})
	}

	var idem idempotency.Store
	if cfg.Redis.Addr != "" {
		redisStore, err := idempotency.NewRedisStore(ctx, cfg)
		if err != nil {
			log.Error(ctx, "redis_connection_failed", "Failed to connect to Redis", err)
			return err
		}
		defer redisStore.Close()
		idem = redisStore
	}

	a, err := build(ctx, cfg, st, notifier, idem, log)
	if err != nil {
		return err
	}
	defer a.entitlements.Stop()
	go a.sweeper.Run(ctx)

	// set up the server configurations
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           a.handler,
		ReadHeaderTimeout: 5 * time.Second,                                   // time to read headers
		IdleTimeout:       60 * time.Second,                                  // keep-alive window
		BaseContext:       func(net.Listener) context.Context { return ctx }, // pass base ctx to all handlers
	}

	// log service start
	log.Info(ctx, "service_started", "Tracking Service started", map[string]any{
		"port":          port,
		"store":         cfg.Store.Driver,
		"notifications": notifier != nil,
		"idempotency":   idem != nil,
	})

	// run server and wait for ctx cancellation
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	// wait for context cancellation or server error
	select {
	case <-ctx.Done():
		// graceful HTTP shutdown on context cancel; websocket sessions end with ctx
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		log.Info(log.WithRequestID(context.Background(), "shutdown-001"), "graceful_shutdown", "Tracking Service stopped", map[string]any{
			"connections": a.registry.Count(),
		})
	case err := <-errCh:
		// server returned a terminal error at startup or during run
		if err != nil {
			return err
		}
	}
	return nil
}

// app is the assembled service minus its listener.
type app struct {
	handler      http.Handler
	registry     *realtime.Registry
	entitlements *realtime.Entitlements
	sweeper      *lifecycle.Sweeper
}

// build wires the live transport, the application services and the HTTP surface.
// notifier and idem may be nil.
func build(ctx context.Context, cfg *config.Config, st *stores, notifier ports.Publisher, idem idempotency.Store, log *logger.Logger) (*app, error) {
	// live transport
	registry := realtime.NewRegistry(log)
	hub := realtime.NewHub(registry, log)
	entitlements := realtime.NewEntitlements(st.uow, st.orders, st.restaurants, cfg.Realtime.OwnershipTTL)
	sessions := auth.NewSessions(cfg.Auth.Secret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	ws := realtime.NewServer(ctx, registry, entitlements, sessions, realtime.Options{
		MaxConnections: cfg.Realtime.MaxConnections,
		SendBuffer:     cfg.Realtime.SendBuffer,
		ControlRate:    cfg.Realtime.ControlRate,
		ControlBurst:   cfg.Realtime.ControlBurst,
		AllowedOrigins: cfg.Realtime.AllowedOrigins,
	}, log)

	// application services
	lifecycleSvc := lifecycle.New(st.uow, st.orders, st.restaurants, hub, notifier, log)
	checkoutSvc := checkout.New(st.uow, st.orders, st.restaurants, hub, log)
	trackingSvc := trackingservice.NewService(st.uow, st.orders, st.restaurants, log)

	agg := stats.NewAggregator(st.uow, st.orders, st.restaurants, log)
	agg.Connections = ws.Active
	if err := agg.Start(ctx, registry); err != nil {
		entitlements.Stop()
		log.Error(ctx, "stats_seed_failed", "Failed to seed system stats", err)
		return nil, err
	}

	handler := newRouter(routes{
		logger:    log,
		sessions:  sessions,
		lifecycle: lifecycle.NewHTTPHandler(lifecycleSvc, log),
		checkout:  checkout.NewHTTPHandler(checkoutSvc, cfg.Auth.PaymentSecret, log),
		tracking:  trackingservice.NewHandler(log, trackingSvc),
		stats:     stats.NewHTTPHandler(agg, log),
		ws:        ws,
		idem:      idem,
		health:    health(st.checks),
	})

	return &app{
		handler:      handler,
		registry:     registry,
		entitlements: entitlements,
		sweeper:      lifecycle.NewSweeper(lifecycleSvc, cfg.Lifecycle.PendingTimeout, cfg.Lifecycle.SweepInterval, log),
	}, nil
}

func openStores(ctx context.Context, cfg *config.Config, log *logger.Logger) (*stores, error) {
	switch cfg.Store.Driver {
	case "memory":
		store := memory.NewStore()
		for _, r := range cfg.Store.Restaurants {
			store.PutRestaurant(restaurants.Restaurant{ID: r.ID, OwnerID: r.OwnerID, Name: r.Name, IsOpen: r.Open, Approved: true})
		}
		log.Warn(ctx, "memory_store", "Using the in-memory store; state is lost on restart", map[string]any{
			"restaurants": len(cfg.Store.Restaurants),
		})
		return &stores{
			uow:         store.UnitOfWork(),
			orders:      store.Orders(),
			restaurants: store.Restaurants(),
			close:       func() {},
		}, nil

	default:
		// set up a Postgres connection pool
		pool, err := pg.NewPool(ctx, cfg, log)
		if err != nil {
			log.Error(ctx, "db_connection_failed", "Failed to initialize Postgres pool", err)
			return nil, err
		}
		if err := pg.EnsureSchema(ctx, pool); err != nil {
			pool.Close()
			log.Error(ctx, "db_schema_failed", "Failed to apply schema", err)
			return nil, err
		}
		return &stores{
			uow:         pg.NewUnitOfWork(pool),
			orders:      pg.NewOrdersRepo(),
			restaurants: pg.NewRestaurantsRepo(),
			checks:      []healthCheck{{name: "postgres", check: pool.Ping}},
			close:       pool.Close,
		}, nil
	}
}
