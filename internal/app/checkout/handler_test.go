package checkout

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"git.platform.alem.school/amibragim/order-tracker/internal/auth"
	"git.platform.alem.school/amibragim/order-tracker/internal/domain/identity"
	"git.platform.alem.school/amibragim/order-tracker/internal/shared/contracts"
	"git.platform.alem.school/amibragim/order-tracker/internal/shared/logger"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPaymentSecret = "pay-secret"

func newTestRouter(t *testing.T) (http.Handler, *recordingPublisher) {
	t.Helper()
	svc, _, pub := newTestService(t)
	r := chi.NewRouter()
	NewHTTPHandler(svc, testPaymentSecret, logger.NewLoggerTo("checkout-test", io.Discard, "error")).Register(r)
	return r, pub
}

func send(h http.Handler, method, path, body string, who identity.Identity, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	req = req.WithContext(auth.WithIdentity(req.Context(), who))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

const orderBody = `{"restaurantId":"R1","deliveryAddress":"12 Long Street","items":[{"name":"Pho","quantity":2,"price":9.5}]}`

func TestCheckoutFlowOverHTTP(t *testing.T) {
	h, pub := newTestRouter(t)

	rec := send(h, http.MethodPost, "/orders", orderBody, customer, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created createOrderResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "awaiting_payment", created.Status)
	assert.InDelta(t, 19.0, created.TotalAmount, 0.001)

	confirm := `{"orderId":"` + created.OrderID + `"}`
	rec = send(h, http.MethodPost, "/payments/confirmed", confirm, identity.Identity{}, map[string]string{PaymentSecretHeader: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, pub.published())

	rec = send(h, http.MethodPost, "/payments/confirmed", confirm, identity.Identity{}, map[string]string{PaymentSecretHeader: testPaymentSecret})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var view contracts.OrderView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "pending", view.Status)
	assert.Equal(t, int64(1), view.Version)
	assert.Len(t, pub.published(), 1)
}

func TestCheckoutHandlerErrors(t *testing.T) {
	h, _ := newTestRouter(t)
	secret := map[string]string{PaymentSecretHeader: testPaymentSecret}

	cases := []struct {
		name   string
		path   string
		body   string
		who    identity.Identity
		header map[string]string
		want   int
	}{
		{"anonymous order", "/orders", orderBody, identity.Identity{}, nil, http.StatusForbidden},
		{"bad json", "/orders", `{"items":`, customer, nil, http.StatusBadRequest},
		{"invalid order", "/orders", `{"restaurantId":"R1","deliveryAddress":"12 Long Street","items":[]}`, customer, nil, http.StatusBadRequest},
		{"closed restaurant", "/orders", strings.Replace(orderBody, "R1", "closed", 1), customer, nil, http.StatusConflict},
		{"unknown order", "/payments/confirmed", `{"orderId":"nope"}`, identity.Identity{}, secret, http.StatusNotFound},
		{"missing order id", "/payments/confirmed", `{}`, identity.Identity{}, secret, http.StatusBadRequest},
		{"no secret", "/payments/confirmed", `{"orderId":"nope"}`, identity.Identity{}, nil, http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := send(h, http.MethodPost, tc.path, tc.body, tc.who, tc.header)
			assert.Equal(t, tc.want, rec.Code, rec.Body.String())
		})
	}
}
