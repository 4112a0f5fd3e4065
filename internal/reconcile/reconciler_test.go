package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/example/checkout-saga/internal/clients/mocks"
	"github.com/example/checkout-saga/internal/domain"
	"github.com/example/checkout-saga/internal/domain/order"
	"github.com/example/checkout-saga/internal/fulfilment"
	storemocks "github.com/example/checkout-saga/internal/infrastructure/store/mocks"
	"github.com/example/checkout-saga/internal/lock"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type reconcileDeps struct {
	reconciler *Reconciler
	redis      *miniredis.Miniredis
	orders     *storemocks.MockOrderStore
	inventory  *mocks.MockInventory
	publisher  *mocks.MockPublisher
}

func newTestReconciler(t *testing.T) *reconcileDeps {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	d := &reconcileDeps{
		redis:  mr,
		orders: storemocks.NewMockOrderStore(),
		inventory: mocks.NewMockInventory(
			domain.Product{ID: "A", Name: "Apple", Price: decimal.RequireFromString("10.00"), Stock: 5},
		),
		publisher: mocks.NewMockPublisher(),
	}
	saga := fulfilment.NewSaga(lock.NewRedisLocker(client), d.orders, d.inventory, mocks.NewMockCart(),
		fulfilment.WithPublisher(d.publisher))
	d.reconciler = NewReconciler(d.orders, saga, Config{
		PendingOrderTTL: 25 * time.Hour,
		ResumeAfter:     2 * time.Minute,
		Interval:        time.Minute,
		BatchSize:       10,
	})
	return d
}

func (d *reconcileDeps) putOrder(t *testing.T, age time.Duration, step order.Step) *order.Order {
	t.Helper()
	o, err := order.New("user-1", "", []order.LineItem{{ProductID: "A", Quantity: 2}}, decimal.RequireFromString("20.00"))
	require.NoError(t, err)
	require.NoError(t, o.AttachSession("cs_"+o.ID))
	if step != order.StepNone {
		require.NoError(t, o.Advance(step))
	}
	o.UpdatedAt = time.Now().Add(-age)
	d.orders.Put(o)
	return o
}

func (d *reconcileDeps) status(t *testing.T, id string) *order.Order {
	t.Helper()
	o, err := d.orders.Get(context.Background(), id)
	require.NoError(t, err)
	return o
}

// ============================================
// Sweep Tests
// ============================================

func TestReconciler_Sweep_ExpiresStalePending(t *testing.T) {
	d := newTestReconciler(t)
	stale := d.putOrder(t, 26*time.Hour, order.StepNone)
	fresh := d.putOrder(t, time.Hour, order.StepNone)

	report, err := d.reconciler.Sweep(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, report.Expired)
	assert.Equal(t, order.StatusExpired, d.status(t, stale.ID).Status)
	assert.Equal(t, order.StatusPending, d.status(t, fresh.ID).Status)
	assert.Equal(t, []string{order.EventOrderExpired}, d.publisher.EventTypes())
	assert.Zero(t, d.inventory.Decrements())
}

func TestReconciler_Sweep_ResumesInFlightSaga(t *testing.T) {
	d := newTestReconciler(t)
	// Stock was committed before the process died.
	o := d.putOrder(t, 10*time.Minute, order.StepStockCommitted)

	report, err := d.reconciler.Sweep(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, report.Resumed)
	got := d.status(t, o.ID)
	assert.Equal(t, order.StatusPaid, got.Status)
	assert.Equal(t, order.StepCompleted, got.FulfilmentStep)
	assert.Zero(t, d.inventory.Decrements(), "committed stock is never decremented again")
}

func TestReconciler_Sweep_RetriesPaidOrderInsteadOfExpiring(t *testing.T) {
	d := newTestReconciler(t)
	o, err := order.New("user-1", "", []order.LineItem{{ProductID: "A", Quantity: 2}}, decimal.RequireFromString("20.00"))
	require.NoError(t, err)
	require.NoError(t, o.AttachSession("cs_"+o.ID))
	require.NoError(t, o.ConfirmPayment())
	o.UpdatedAt = time.Now().Add(-26 * time.Hour)
	d.orders.Put(o)
	d.inventory.SetStock("A", 1)

	report, err := d.reconciler.Sweep(context.Background())

	require.NoError(t, err)
	assert.Zero(t, report.Expired)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, order.StatusPending, d.status(t, o.ID).Status)
	assert.Empty(t, d.publisher.Events)

	d.inventory.SetStock("A", 5)
	report, err = d.reconciler.Sweep(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, report.Resumed)
	assert.Equal(t, order.StatusPaid, d.status(t, o.ID).Status)
	assert.Equal(t, 3, d.inventory.Stock("A"))
}

func TestReconciler_Sweep_LeavesRecentSagasAlone(t *testing.T) {
	d := newTestReconciler(t)
	o := d.putOrder(t, 10*time.Second, order.StepStockCommitted)

	report, err := d.reconciler.Sweep(context.Background())

	require.NoError(t, err)
	assert.Zero(t, report.Scanned)
	assert.Equal(t, order.StepStockCommitted, d.status(t, o.ID).FulfilmentStep)
}

func TestReconciler_Sweep_LockedOrderCountsAsFailure(t *testing.T) {
	d := newTestReconciler(t)
	o := d.putOrder(t, 26*time.Hour, order.StepNone)
	require.NoError(t, d.redis.Set(fulfilment.LockKey(o.ID), "webhook-in-progress"))

	report, err := d.reconciler.Sweep(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, order.StatusPending, d.status(t, o.ID).Status)
}

func TestReconciler_Sweep_ContinuesAfterFailure(t *testing.T) {
	d := newTestReconciler(t)
	locked := d.putOrder(t, 27*time.Hour, order.StepNone)
	other := d.putOrder(t, 26*time.Hour, order.StepNone)
	require.NoError(t, d.redis.Set(fulfilment.LockKey(locked.ID), "busy"))

	report, err := d.reconciler.Sweep(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Expired)
	assert.Equal(t, order.StatusExpired, d.status(t, other.ID).Status)
}

type failingLister struct {
	*storemocks.MockOrderStore
}

func (f failingLister) ListUnsettled(ctx context.Context, before time.Time, limit int) ([]*order.Order, error) {
	return nil, errors.New("db down")
}

func TestReconciler_Sweep_ListError(t *testing.T) {
	d := newTestReconciler(t)
	r := NewReconciler(failingLister{d.orders}, nil, Config{Interval: time.Minute})

	_, err := r.Sweep(context.Background())

	assert.Error(t, err)
}

func TestReconciler_Run_StopsOnCancel(t *testing.T) {
	d := newTestReconciler(t)
	stale := d.putOrder(t, 26*time.Hour, order.StepNone)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- d.reconciler.Run(ctx) }()

	require.Eventually(t, func() bool {
		o, err := d.orders.Get(context.Background(), stale.ID)
		return err == nil && o.Status == order.StatusExpired
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
