package stats

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"git.platform.alem.school/amibragim/order-tracker/internal/auth"
	"git.platform.alem.school/amibragim/order-tracker/internal/domain/identity"
	"git.platform.alem.school/amibragim/order-tracker/internal/shared/httpx"
	"git.platform.alem.school/amibragim/order-tracker/internal/shared/logger"
)

// HTTPHandler serves GET /system/stats to superadmins.
type HTTPHandler struct {
	agg    *Aggregator
	logger *logger.Logger
}

func NewHTTPHandler(agg *Aggregator, logger *logger.Logger) *HTTPHandler {
	return &HTTPHandler{agg: agg, logger: logger}
}

func (handler *HTTPHandler) Register(r chi.Router) {
	r.Get("/system/stats", handler.getStats)
}

func (handler *HTTPHandler) getStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !auth.IdentityFrom(ctx).Is(identity.RoleSuperadmin) {
		httpx.WriteErr(w, http.StatusForbidden, "forbidden")
		return
	}

	snap, err := handler.agg.Snapshot(ctx)
	if err != nil {
		handler.logger.Error(ctx, "db_query_failed", "Failed to read stats", err)
		httpx.WriteErr(w, http.StatusInternalServerError, "internal server error")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, snap)
}
