package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/example/checkout-saga/internal/auth"
	"github.com/example/checkout-saga/internal/clients/mocks"
	"github.com/example/checkout-saga/internal/command"
	"github.com/example/checkout-saga/internal/domain"
	"github.com/example/checkout-saga/internal/domain/order"
	"github.com/example/checkout-saga/internal/fulfilment"
	storemocks "github.com/example/checkout-saga/internal/infrastructure/store/mocks"
	"github.com/example/checkout-saga/internal/lock"
	"github.com/example/checkout-saga/internal/payment"
	"github.com/example/checkout-saga/internal/query"
	"github.com/example/checkout-saga/internal/telemetry"
	"github.com/example/checkout-saga/internal/webhook"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const webhookSecret = "whsec_api_test"

type testServer struct {
	router    http.Handler
	jwt       *auth.JWTService
	redis     *miniredis.Miniredis
	inventory *mocks.MockInventory
	carts     *mocks.MockCart
	payments  *mocks.MockPayment
	orders    *storemocks.MockOrderStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	locker := lock.NewRedisLocker(client)

	s := &testServer{
		jwt:   auth.NewJWTService("test-secret-key-for-api-handlers!", "", 15*time.Minute),
		redis: mr,
		inventory: mocks.NewMockInventory(
			domain.Product{ID: "A", Name: "Apple", Price: decimal.RequireFromString("10.00"), Stock: 5},
		),
		carts:    mocks.NewMockCart(),
		payments: mocks.NewMockPayment(),
		orders:   storemocks.NewMockOrderStore(),
	}

	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(reg)
	checkout := command.NewCheckoutOrchestrator(locker, s.carts, s.inventory, s.payments, s.orders,
		command.WithMetrics(metrics))
	saga := fulfilment.NewSaga(locker, s.orders, s.inventory, s.carts, fulfilment.WithMetrics(metrics))
	processor := webhook.NewProcessor(payment.NewVerifier(webhookSecret, 5*time.Minute), s.orders, saga, metrics)

	s.router = NewRouter(
		NewHandlers(checkout, query.NewHandler(s.orders), processor),
		RouterConfig{JWT: s.jwt, Metrics: metrics, Gatherer: reg},
	)
	return s
}

func (s *testServer) do(t *testing.T, method, path, userID string, body []byte, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	for k, v := range header {
		req.Header[k] = v
	}
	if userID != "" {
		token, _, err := s.jwt.GenerateAccessToken(userID, userID+"@example.com")
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) webhook(t *testing.T, eventID, sessionID string, sign func([]byte) string) *httptest.ResponseRecorder {
	t.Helper()
	payload := []byte(fmt.Sprintf(
		`{"id":%q,"type":"checkout.session.completed","created":%d,"data":{"object":{"id":%q,"payment_status":"paid"}}}`,
		eventID, time.Now().Unix(), sessionID))
	header := http.Header{}
	header.Set(payment.SignatureHeader, sign(payload))
	return s.do(t, http.MethodPost, "/orders/webhook", "", payload, header)
}

func validSignature(payload []byte) string {
	return payment.Sign(webhookSecret, payload, time.Now())
}

// ============================================
// Checkout Tests
// ============================================

func TestCheckout_Success(t *testing.T) {
	s := newTestServer(t)
	s.carts.SetCart("user-1", order.LineItem{ProductID: "A", Quantity: 2})

	rec := s.do(t, http.MethodPost, "/orders/checkout", "user-1", nil, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp CheckoutResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "SUCCESS", resp.Status)
	assert.Equal(t, "Payment session created", resp.Message)
	assert.Equal(t, "cs_"+resp.OrderID, resp.SessionID)
	assert.NotEmpty(t, resp.SessionURL)

	require.Len(t, s.payments.CreateCalls, 1)
	assert.Equal(t, "user-1@example.com", s.payments.CreateCalls[0].CustomerEmail)
}

func TestCheckout_Unauthenticated(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/orders/checkout", "", nil, nil)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, s.orders.CreateCalls)
}

func TestCheckout_InsufficientStock(t *testing.T) {
	s := newTestServer(t)
	s.carts.SetCart("user-1", order.LineItem{ProductID: "A", Quantity: 6})

	rec := s.do(t, http.MethodPost, "/orders/checkout", "user-1", nil, nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "A")
}

func TestCheckout_NoCart(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/orders/checkout", "user-1", nil, nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCheckout_LockHeld(t *testing.T) {
	s := newTestServer(t)
	s.carts.SetCart("user-1", order.LineItem{ProductID: "A", Quantity: 1})
	require.NoError(t, s.redis.Set(command.CheckoutLockKey("user-1"), "someone-else"))

	rec := s.do(t, http.MethodPost, "/orders/checkout", "user-1", nil, nil)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Empty(t, s.payments.CreateCalls)
}

func TestCheckout_PaymentFailureIsGeneric(t *testing.T) {
	s := newTestServer(t)
	s.carts.SetCart("user-1", order.LineItem{ProductID: "A", Quantity: 1})
	s.payments.CreateErr = errors.New("provider said: secret internal detail")

	rec := s.do(t, http.MethodPost, "/orders/checkout", "user-1", nil, nil)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "secret internal detail")
}

// ============================================
// Order Query Tests
// ============================================

func TestGetOrders_OwnOrdersOnly(t *testing.T) {
	s := newTestServer(t)
	s.carts.SetCart("user-1", order.LineItem{ProductID: "A", Quantity: 1})
	s.carts.SetCart("user-2", order.LineItem{ProductID: "A", Quantity: 1})
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/orders/checkout", "user-1", nil, nil).Code)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/orders/checkout", "user-2", nil, nil).Code)

	rec := s.do(t, http.MethodGet, "/orders/", "user-1", nil, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var views []query.OrderView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	require.Len(t, views, 1)
	assert.Equal(t, "user-1", views[0].UserID)
	assert.Equal(t, "PENDING", views[0].Status)
}

func TestGetOrder_OtherUsersOrderIsNotFound(t *testing.T) {
	s := newTestServer(t)
	s.carts.SetCart("user-1", order.LineItem{ProductID: "A", Quantity: 1})
	rec := s.do(t, http.MethodPost, "/orders/checkout", "user-1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp CheckoutResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	own := s.do(t, http.MethodGet, "/orders/"+resp.OrderID, "user-1", nil, nil)
	other := s.do(t, http.MethodGet, "/orders/"+resp.OrderID, "user-2", nil, nil)

	assert.Equal(t, http.StatusOK, own.Code)
	assert.Equal(t, http.StatusNotFound, other.Code)
}

// ============================================
// Webhook Tests
// ============================================

func TestPaymentWebhook_FulfilsOrder(t *testing.T) {
	s := newTestServer(t)
	s.carts.SetCart("user-1", order.LineItem{ProductID: "A", Quantity: 2})
	rec := s.do(t, http.MethodPost, "/orders/checkout", "user-1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp CheckoutResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	hook := s.webhook(t, "evt_1", resp.SessionID, validSignature)

	assert.Equal(t, http.StatusOK, hook.Code)
	assert.Equal(t, "Success", hook.Body.String())
	assert.Equal(t, 3, s.inventory.Stock("A"))
	assert.False(t, s.carts.HasCart("user-1"))

	view := s.do(t, http.MethodGet, "/orders/"+resp.OrderID, "user-1", nil, nil)
	assert.Contains(t, view.Body.String(), `"status":"PAID"`)
}

func TestPaymentWebhook_InvalidSignature(t *testing.T) {
	s := newTestServer(t)

	rec := s.webhook(t, "evt_1", "cs_x", func(p []byte) string {
		return payment.Sign("wrong-secret", p, time.Now())
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Invalid signature")
}

func TestPaymentWebhook_UnknownSession(t *testing.T) {
	s := newTestServer(t)

	rec := s.webhook(t, "evt_1", "cs_unknown", validSignature)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Zero(t, s.inventory.Decrements())
}

// ============================================
// Ambient Endpoints
// ============================================

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/health", "", nil, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestMetrics_RecordsRoutes(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodGet, "/health", "", nil, nil)

	rec := s.do(t, http.MethodGet, "/metrics", "", nil, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `checkout_http_requests_total{route="/health",status="200"} 1`)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"lock", domain.ErrLockAcquisitionFailed, http.StatusConflict},
		{"not found", domain.NotFound("order %s", "x"), http.StatusNotFound},
		{"stock", &domain.InsufficientStockError{ProductID: "A", Available: 1, Requested: 2}, http.StatusBadRequest},
		{"signature", domain.ErrInvalidSignature, http.StatusBadRequest},
		{"orchestration", domain.Orchestration("create session", errors.New("boom")), http.StatusInternalServerError},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, message := statusFor(tt.err)
			assert.Equal(t, tt.status, status)
			assert.NotContains(t, message, "boom")
		})
	}
}
