package trackingservice

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"git.platform.alem.school/amibragim/order-tracker/internal/app/checkout"
	"git.platform.alem.school/amibragim/order-tracker/internal/app/lifecycle"
	"git.platform.alem.school/amibragim/order-tracker/internal/app/stats"
	"git.platform.alem.school/amibragim/order-tracker/internal/app/trackingservice"
	"git.platform.alem.school/amibragim/order-tracker/internal/auth"
	"git.platform.alem.school/amibragim/order-tracker/internal/shared/httpx"
	"git.platform.alem.school/amibragim/order-tracker/internal/shared/idempotency"
	"git.platform.alem.school/amibragim/order-tracker/internal/shared/logger"
)

// routes holds everything the HTTP surface is assembled from.
type routes struct {
	logger    *logger.Logger
	sessions  *auth.Sessions
	lifecycle *lifecycle.HTTPHandler
	checkout  *checkout.HTTPHandler
	tracking  *trackingservice.TrackingHTTPHandler
	stats     *stats.HTTPHandler
	ws        http.Handler
	idem      idempotency.Store               // nil disables Idempotency-Key handling
	health    func(ctx context.Context) error // nil reports healthy
}

func newRouter(rt routes) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(httpx.RequestID(rt.logger))
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if rt.health != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := rt.health(ctx); err != nil {
				rt.logger.Warn(r.Context(), "health_check_failed", "dependency unhealthy", map[string]any{"error": err.Error()})
				httpx.WriteJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable"})
				return
			}
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	// the websocket endpoint resolves its own identity, including the token query parameter
	r.Handle("/ws", rt.ws)

	r.Group(func(r chi.Router) {
		r.Use(rt.sessions.Middleware)
		if rt.idem != nil {
			r.Use(idempotency.Middleware(rt.idem, rt.logger))
		}
		rt.checkout.Register(r)
		rt.tracking.Register(r)
		rt.lifecycle.Register(r)
		rt.stats.Register(r)
	})
	return r
}
