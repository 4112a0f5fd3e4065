//go:build integration

package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/example/checkout-saga/internal/domain/order"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupPostgres(t *testing.T) *PostgresOrderStore {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("orders"),
		postgres.WithUsername("orders"),
		postgres.WithPassword("orders"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgContainer.Terminate(ctx) })

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	port, err := pgContainer.MappedPort(ctx, "5432")
	require.NoError(t, err)

	db, err := ConnectPostgres(fmt.Sprintf("postgres://orders:orders@%s:%s/orders?sslmode=disable", host, port.Port()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, Migrate(db))
	require.NoError(t, Migrate(db), "migrations must be re-runnable")

	return NewPostgresOrderStore(db)
}

func TestPostgresOrderStore(t *testing.T) {
	s := setupPostgres(t)
	ctx := context.Background()

	o := newPendingOrder(t, "user-1")
	require.NoError(t, s.Create(ctx, o))

	t.Run("get", func(t *testing.T) {
		got, err := s.Get(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, o.Items, got.Items)
		assert.Equal(t, "20", got.TotalAmount.String())
		assert.Empty(t, got.CheckoutSessionID)
	})

	t.Run("attach session", func(t *testing.T) {
		require.NoError(t, o.AttachSession("cs_pg"))
		require.NoError(t, s.Save(ctx, o))
		assert.Equal(t, 2, o.Version)

		got, err := s.GetBySessionID(ctx, "cs_pg")
		require.NoError(t, err)
		assert.Equal(t, o.ID, got.ID)
	})

	t.Run("stale save", func(t *testing.T) {
		stale := *o
		stale.Version = 1
		assert.ErrorIs(t, s.Save(ctx, &stale), order.ErrConcurrentUpdate)
	})

	t.Run("missing", func(t *testing.T) {
		_, err := s.Get(ctx, "missing")
		assert.ErrorIs(t, err, order.ErrOrderNotFound)
	})

	t.Run("unsettled", func(t *testing.T) {
		orders, err := s.ListUnsettled(ctx, time.Now().Add(time.Minute), 10)
		require.NoError(t, err)
		require.Len(t, orders, 1)
		assert.Equal(t, o.ID, orders[0].ID)
	})

	t.Run("list by user", func(t *testing.T) {
		orders, err := s.ListByUser(ctx, "user-1")
		require.NoError(t, err)
		assert.Len(t, orders, 1)
	})

	t.Run("processed events", func(t *testing.T) {
		require.NoError(t, s.MarkEventProcessed(ctx, "evt_1", o.ID))
		require.NoError(t, s.MarkEventProcessed(ctx, "evt_1", o.ID))
		seen, err := s.EventProcessed(ctx, "evt_1")
		require.NoError(t, err)
		assert.True(t, seen)
	})
}

func TestPostgresOrderStore_PrecisionAndPaymentConfirmation(t *testing.T) {
	s := setupPostgres(t)
	ctx := context.Background()

	o, err := order.New("user-2", "", []order.LineItem{{ProductID: "C", Quantity: 3}}, decimal.RequireFromString("0.999"))
	require.NoError(t, err)
	require.NoError(t, s.Create(ctx, o))

	got, err := s.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, "0.999", got.TotalAmount.String())
	assert.Nil(t, got.PaymentConfirmedAt)

	require.NoError(t, got.ConfirmPayment())
	require.NoError(t, s.Save(ctx, got))

	reloaded, err := s.Get(ctx, o.ID)
	require.NoError(t, err)
	require.NotNil(t, reloaded.PaymentConfirmedAt)
	assert.WithinDuration(t, *got.PaymentConfirmedAt, *reloaded.PaymentConfirmedAt, time.Millisecond)
}
