package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/example/checkout-saga/internal/clients/mocks"
	"github.com/example/checkout-saga/internal/domain"
	"github.com/example/checkout-saga/internal/domain/order"
	"github.com/example/checkout-saga/internal/fulfilment"
	storemocks "github.com/example/checkout-saga/internal/infrastructure/store/mocks"
	"github.com/example/checkout-saga/internal/lock"
	"github.com/example/checkout-saga/internal/payment"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "whsec_test_secret"

type processorDeps struct {
	processor *Processor
	saga      *fulfilment.Saga
	inventory *mocks.MockInventory
	carts     *mocks.MockCart
	orders    *storemocks.MockOrderStore
}

func newTestProcessor(t *testing.T) *processorDeps {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	d := &processorDeps{
		inventory: mocks.NewMockInventory(
			domain.Product{ID: "A", Name: "Apple", Price: decimal.RequireFromString("10.00"), Stock: 5},
		),
		carts:  mocks.NewMockCart(),
		orders: storemocks.NewMockOrderStore(),
	}
	d.saga = fulfilment.NewSaga(lock.NewRedisLocker(client), d.orders, d.inventory, d.carts)
	d.processor = NewProcessor(payment.NewVerifier(testSecret, 5*time.Minute), d.orders, d.saga, nil)
	return d
}

// pendingOrder stores the example order: 2 x A at 10.00 awaiting payment.
func (d *processorDeps) pendingOrder(t *testing.T, sessionID string) *order.Order {
	t.Helper()
	o, err := order.New("user-1", "", []order.LineItem{{ProductID: "A", Quantity: 2}}, decimal.RequireFromString("20.00"))
	require.NoError(t, err)
	require.NoError(t, o.AttachSession(sessionID))
	d.orders.Put(o)
	d.carts.SetCart("user-1", order.LineItem{ProductID: "A", Quantity: 2})
	return o
}

func eventPayload(t *testing.T, eventID, eventType, sessionID, paymentStatus string) []byte {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"id":      eventID,
		"type":    eventType,
		"created": time.Now().Unix(),
		"data": map[string]any{
			"object": map[string]any{
				"id":             sessionID,
				"payment_status": paymentStatus,
				"metadata":       map[string]string{"order_id": "ignored", "app_username": "user-1"},
			},
		},
	})
	require.NoError(t, err)
	return payload
}

func sign(payload []byte) string {
	return payment.Sign(testSecret, payload, time.Now())
}

// ============================================
// Signature Tests
// ============================================

func TestProcessor_HandleEvent_InvalidSignature(t *testing.T) {
	d := newTestProcessor(t)
	o := d.pendingOrder(t, "cs_1")
	payload := eventPayload(t, "evt_1", EventSessionCompleted, "cs_1", "paid")

	res, err := d.processor.HandleEvent(context.Background(), payload, payment.Sign("wrong", payload, time.Now()))

	assert.ErrorIs(t, err, domain.ErrInvalidSignature)
	assert.Nil(t, res)
	assert.Zero(t, d.inventory.Decrements())
	assert.Empty(t, d.orders.SaveCalls)
	stored, getErr := d.orders.Get(context.Background(), o.ID)
	require.NoError(t, getErr)
	assert.Equal(t, order.StatusPending, stored.Status)

	seen, _ := d.orders.EventProcessed(context.Background(), "evt_1")
	assert.False(t, seen)
}

func TestProcessor_HandleEvent_MissingSignature(t *testing.T) {
	d := newTestProcessor(t)
	payload := eventPayload(t, "evt_1", EventSessionCompleted, "cs_1", "paid")

	_, err := d.processor.HandleEvent(context.Background(), payload, "")

	assert.ErrorIs(t, err, domain.ErrInvalidSignature)
}

// ============================================
// Session Completed Tests
// ============================================

func TestProcessor_HandleEvent_PaidFulfilsOrder(t *testing.T) {
	d := newTestProcessor(t)
	o := d.pendingOrder(t, "cs_1")
	payload := eventPayload(t, "evt_1", EventSessionCompleted, "cs_1", "paid")

	res, err := d.processor.HandleEvent(context.Background(), payload, sign(payload))

	require.NoError(t, err)
	assert.Equal(t, ActionFulfilled, res.Action)
	assert.Equal(t, o.ID, res.OrderID)

	stored, err := d.orders.Get(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusPaid, stored.Status)
	assert.Equal(t, 3, d.inventory.Stock("A"))
	require.Len(t, d.inventory.DecrementCalls, 1)
	assert.Equal(t, []domain.StockAdjustment{{ProductID: "A", Quantity: 2}}, d.inventory.DecrementCalls[0].Batch)
	assert.Equal(t, []string{"user-1"}, d.carts.DeleteCalls)
}

func TestProcessor_HandleEvent_Redelivery(t *testing.T) {
	d := newTestProcessor(t)
	d.pendingOrder(t, "cs_1")
	payload := eventPayload(t, "evt_1", EventSessionCompleted, "cs_1", "paid")

	_, err := d.processor.HandleEvent(context.Background(), payload, sign(payload))
	require.NoError(t, err)
	res, err := d.processor.HandleEvent(context.Background(), payload, sign(payload))

	require.NoError(t, err)
	assert.Equal(t, ActionDuplicate, res.Action)
	assert.Equal(t, 1, d.inventory.Decrements())
	assert.Equal(t, 3, d.inventory.Stock("A"))
}

func TestProcessor_HandleEvent_SecondEventForPaidOrder(t *testing.T) {
	d := newTestProcessor(t)
	d.pendingOrder(t, "cs_1")
	first := eventPayload(t, "evt_1", EventSessionCompleted, "cs_1", "paid")
	second := eventPayload(t, "evt_2", EventSessionCompleted, "cs_1", "paid")

	_, err := d.processor.HandleEvent(context.Background(), first, sign(first))
	require.NoError(t, err)
	res, err := d.processor.HandleEvent(context.Background(), second, sign(second))

	require.NoError(t, err)
	assert.Equal(t, ActionFulfilled, res.Action)
	assert.Equal(t, 1, d.inventory.Decrements(), "a completed saga is not run twice")
}

func TestProcessor_HandleEvent_ConcurrentRedelivery(t *testing.T) {
	d := newTestProcessor(t)
	d.pendingOrder(t, "cs_1")
	payload := eventPayload(t, "evt_1", EventSessionCompleted, "cs_1", "paid")

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := d.processor.HandleEvent(context.Background(), payload, sign(payload))
			if err != nil {
				assert.ErrorIs(t, err, domain.ErrLockAcquisitionFailed)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, d.inventory.Decrements())
	assert.Equal(t, 3, d.inventory.Stock("A"))
}

func TestProcessor_HandleEvent_UnknownSession(t *testing.T) {
	d := newTestProcessor(t)
	d.pendingOrder(t, "cs_1")
	payload := eventPayload(t, "evt_1", EventSessionCompleted, "cs_unknown", "paid")

	res, err := d.processor.HandleEvent(context.Background(), payload, sign(payload))

	assert.ErrorIs(t, err, domain.ErrResourceNotFound)
	assert.Nil(t, res)
	assert.Zero(t, d.inventory.Decrements())
	assert.Empty(t, d.carts.DeleteCalls)
	assert.Empty(t, d.orders.SaveCalls)
}

func TestProcessor_HandleEvent_NotPaid(t *testing.T) {
	d := newTestProcessor(t)
	o := d.pendingOrder(t, "cs_1")
	payload := eventPayload(t, "evt_1", EventSessionCompleted, "cs_1", "unpaid")

	res, err := d.processor.HandleEvent(context.Background(), payload, sign(payload))

	require.NoError(t, err)
	assert.Equal(t, ActionUnpaid, res.Action)
	assert.Zero(t, d.inventory.Decrements())
	stored, err := d.orders.Get(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusPending, stored.Status)
}

func TestProcessor_HandleEvent_StockGoneSinceCheckout(t *testing.T) {
	d := newTestProcessor(t)
	o := d.pendingOrder(t, "cs_1")
	d.inventory.SetStock("A", 1)
	payload := eventPayload(t, "evt_1", EventSessionCompleted, "cs_1", "paid")

	_, err := d.processor.HandleEvent(context.Background(), payload, sign(payload))

	assert.ErrorIs(t, err, domain.ErrInsufficientStock)
	assert.Zero(t, d.inventory.Decrements())
	stored, getErr := d.orders.Get(context.Background(), o.ID)
	require.NoError(t, getErr)
	assert.Equal(t, order.StatusPending, stored.Status)

	assert.True(t, stored.PaymentConfirmed())

	seen, _ := d.orders.EventProcessed(context.Background(), "evt_1")
	assert.False(t, seen, "failed deliveries stay eligible for retry")
}

func TestProcessor_HandleEvent_PaidButOutOfStockIsNeverExpired(t *testing.T) {
	d := newTestProcessor(t)
	o := d.pendingOrder(t, "cs_1")
	d.inventory.SetStock("A", 1)
	payload := eventPayload(t, "evt_1", EventSessionCompleted, "cs_1", "paid")

	_, err := d.processor.HandleEvent(context.Background(), payload, sign(payload))
	require.ErrorIs(t, err, domain.ErrInsufficientStock)

	expired, err := d.saga.Expire(context.Background(), o.ID)

	require.NoError(t, err)
	assert.False(t, expired)
	stored, err := d.orders.Get(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusPending, stored.Status)

	// the provider retries once stock is back
	d.inventory.SetStock("A", 2)
	res, err := d.processor.HandleEvent(context.Background(), payload, sign(payload))
	require.NoError(t, err)
	assert.Equal(t, ActionFulfilled, res.Action)
	assert.Equal(t, 0, d.inventory.Stock("A"))
}

func TestProcessor_HandleEvent_DecrementFailure(t *testing.T) {
	d := newTestProcessor(t)
	d.pendingOrder(t, "cs_1")
	d.inventory.DecrementErr = errors.New("inventory down")
	payload := eventPayload(t, "evt_1", EventSessionCompleted, "cs_1", "paid")

	_, err := d.processor.HandleEvent(context.Background(), payload, sign(payload))

	assert.ErrorIs(t, err, domain.ErrOrchestrationFailure)
}

func TestProcessor_HandleEvent_CartDeleteFailure(t *testing.T) {
	d := newTestProcessor(t)
	o := d.pendingOrder(t, "cs_1")
	d.carts.DeleteErr = errors.New("cart down")
	payload := eventPayload(t, "evt_1", EventSessionCompleted, "cs_1", "paid")

	res, err := d.processor.HandleEvent(context.Background(), payload, sign(payload))

	require.NoError(t, err)
	assert.Equal(t, ActionFulfilled, res.Action)
	stored, err := d.orders.Get(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusPaid, stored.Status)
}

// ============================================
// Other Event Types
// ============================================

func TestProcessor_HandleEvent_IgnoredTypes(t *testing.T) {
	for _, eventType := range []string{EventSessionExpired, EventSessionAsyncPaymentFailed, "invoice.created"} {
		t.Run(eventType, func(t *testing.T) {
			d := newTestProcessor(t)
			d.pendingOrder(t, "cs_1")
			payload := eventPayload(t, "evt_1", eventType, "cs_1", "paid")

			res, err := d.processor.HandleEvent(context.Background(), payload, sign(payload))

			require.NoError(t, err)
			assert.Equal(t, ActionIgnored, res.Action)
			assert.Zero(t, d.inventory.Decrements())
			assert.Empty(t, d.orders.SaveCalls)
		})
	}
}

func TestProcessor_HandleEvent_MalformedPayload(t *testing.T) {
	d := newTestProcessor(t)
	payload := []byte(`{"type":"checkout.session.completed"}`)

	_, err := d.processor.HandleEvent(context.Background(), payload, sign(payload))

	assert.ErrorIs(t, err, domain.ErrOrchestrationFailure)
}
