package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"git.platform.alem.school/amibragim/order-tracker/internal/auth"
	"git.platform.alem.school/amibragim/order-tracker/internal/domain/identity"
	"git.platform.alem.school/amibragim/order-tracker/internal/shared/contracts"
	"git.platform.alem.school/amibragim/order-tracker/internal/shared/logger"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(f *fixture) http.Handler {
	r := chi.NewRouter()
	NewHTTPHandler(f.svc, logger.NewLoggerTo("handler-test", io.Discard, "error")).Register(r)
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string, who identity.Identity) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req = req.WithContext(auth.WithIdentity(req.Context(), who))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestTransitionHandlerStatusCodes(t *testing.T) {
	f := newFixture(t)
	h := newTestRouter(f)

	rec := do(t, h, http.MethodPost, "/orders/O1/transitions", `{"status":"Confirmed"}`, owner1)
	require.Equal(t, http.StatusOK, rec.Code)
	var view contracts.OrderView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "confirmed", view.Status)
	assert.Equal(t, "Confirmed", view.StatusLabel)
	assert.Equal(t, int64(2), view.Version)

	cases := []struct {
		name string
		path string
		body string
		who  identity.Identity
		want int
	}{
		{"illegal edge", "/orders/O1/transitions", `{"status":"delivered"}`, owner1, http.StatusConflict},
		{"repeat", "/orders/O1/transitions", `{"status":"confirmed"}`, owner1, http.StatusConflict},
		{"wrong operator", "/orders/O1/transitions", `{"status":"preparing"}`, owner2, http.StatusForbidden},
		{"unknown order", "/orders/nope/transitions", `{"status":"preparing"}`, owner1, http.StatusNotFound},
		{"unknown status", "/orders/O1/transitions", `{"status":"teleported"}`, owner1, http.StatusBadRequest},
		{"bad json", "/orders/O1/transitions", `{"status":`, owner1, http.StatusBadRequest},
		{"unknown field", "/orders/O1/transitions", `{"state":"preparing"}`, owner1, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, tc.path, tc.body, tc.who)
			assert.Equal(t, tc.want, rec.Code, rec.Body.String())
		})
	}
}

func TestTransitionHandlerHidesStorageErrors(t *testing.T) {
	f := newFixture(t)
	h := newTestRouter(f)
	f.store.FailWrites(errors.New("pq: password authentication failed for user tracker"))

	rec := do(t, h, http.MethodPost, "/orders/O1/transitions", `{"status":"confirmed"}`, owner1)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "password")
}

func TestTransitionHandlerGivesUpBehindBusyOrder(t *testing.T) {
	f := newFixture(t)
	h := newTestRouter(f)

	unlock, err := f.svc.locks.Lock(context.Background(), "O1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodPost, "/orders/O1/transitions", strings.NewReader(`{"status":"confirmed"}`))
	req = req.WithContext(auth.WithIdentity(ctx, owner1))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "busy")
	unlock()

	assert.Equal(t, "pending", string(f.status(t, "O1")))
	assert.Equal(t, 0, f.svc.locks.size())
}

func TestToggleRestaurantHandler(t *testing.T) {
	f := newFixture(t)
	h := newTestRouter(f)

	rec := do(t, h, http.MethodPut, "/restaurants/R1/open", `{"open":false}`, owner1)
	require.Equal(t, http.StatusOK, rec.Code)
	var view contracts.RestaurantView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.False(t, view.IsOpen)

	rec = do(t, h, http.MethodPut, "/restaurants/R1/open", `{"open":true}`, customer1)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
