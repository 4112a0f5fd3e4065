package fulfilment

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/example/checkout-saga/internal/domain"
	"github.com/example/checkout-saga/internal/domain/order"
	"github.com/example/checkout-saga/internal/infrastructure/store"
	"github.com/example/checkout-saga/internal/lock"
	"github.com/example/checkout-saga/internal/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const DefaultLockTTL = 30 * time.Second

// LockKey is the per-order lock held while the saga or an expiry runs.
func LockKey(orderID string) string {
	return "lock:fulfil:" + orderID
}

type step struct {
	name   string
	marker order.Step
	run    func(ctx context.Context, o *order.Order) error
}

// Saga completes a paid order: commit stock, mark PAID, clear the cart.
// Each step persists its marker before the next starts, so a run that
// stopped half way resumes at the first step not yet recorded.
type Saga struct {
	locker    lock.Locker
	orders    store.OrderStore
	inventory domain.InventoryClient
	carts     domain.CartClient
	publisher domain.EventPublisher
	metrics   *telemetry.Metrics
	lockTTL   time.Duration
	tracer    trace.Tracer
	steps     []step
}

type Option func(*Saga)

func WithLockTTL(ttl time.Duration) Option {
	return func(s *Saga) { s.lockTTL = ttl }
}

func WithPublisher(p domain.EventPublisher) Option {
	return func(s *Saga) { s.publisher = p }
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Saga) { s.metrics = m }
}

func NewSaga(
	locker lock.Locker,
	orders store.OrderStore,
	inventory domain.InventoryClient,
	carts domain.CartClient,
	opts ...Option,
) *Saga {
	s := &Saga{
		locker:    locker,
		orders:    orders,
		inventory: inventory,
		carts:     carts,
		lockTTL:   DefaultLockTTL,
		tracer:    otel.Tracer("github.com/example/checkout-saga/internal/fulfilment"),
	}
	s.steps = []step{
		{name: "commit_stock", marker: order.StepStockCommitted, run: s.commitStock},
		{name: "mark_paid", marker: order.StepPaid, run: s.markPaid},
		{name: "clear_cart", marker: order.StepCompleted, run: s.clearCart},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run executes every step orderID has not completed yet and returns the
// order in its final state. Running a completed order is a no-op.
func (s *Saga) Run(ctx context.Context, orderID string) (*order.Order, error) {
	var result *order.Order
	err := s.withOrderLock(ctx, orderID, func(ctx context.Context) error {
		o, err := s.orders.Get(ctx, orderID)
		if err != nil {
			if errors.Is(err, order.ErrOrderNotFound) {
				return domain.NotFound("order %s", orderID)
			}
			return domain.Orchestration("load order", err)
		}
		result = o

		if o.Status == order.StatusExpired {
			log.Printf("[Saga] Order %s expired before payment was confirmed; needs manual refund", o.ID)
			return domain.Orchestration("fulfil order", order.ErrOrderExpired)
		}
		if o.FulfilmentStep == order.StepCompleted {
			return nil
		}
		if err := s.confirmPayment(ctx, o); err != nil {
			return err
		}

		for _, st := range s.steps {
			if o.Reached(st.marker) {
				continue
			}
			if err := s.runStep(ctx, st, o); err != nil {
				return err
			}
		}
		log.Printf("[Saga] Order %s fulfilled", o.ID)
		return nil
	})
	return result, err
}

// Expire moves a PENDING order with no fulfilment progress to EXPIRED. It
// reports false when the order was not eligible, including orders whose
// payment was confirmed.
func (s *Saga) Expire(ctx context.Context, orderID string) (bool, error) {
	expired := false
	err := s.withOrderLock(ctx, orderID, func(ctx context.Context) error {
		o, err := s.orders.Get(ctx, orderID)
		if err != nil {
			return err
		}
		if o.Status != order.StatusPending || o.FulfilmentStep != order.StepNone {
			return nil
		}
		if o.PaymentConfirmed() {
			log.Printf("[Saga] Order %s was paid at %s but never fulfilled; not expiring, needs restock or manual refund",
				o.ID, o.PaymentConfirmedAt.Format(time.RFC3339))
			return nil
		}

		if err := o.TransitionTo(order.StatusExpired); err != nil {
			return err
		}
		if err := s.orders.Save(ctx, o); err != nil {
			return fmt.Errorf("save expired order %s: %w", o.ID, err)
		}
		expired = true
		log.Printf("[Saga] Order %s expired", o.ID)

		domain.Publish(ctx, s.publisher, o.ID, order.EventOrderExpired, order.OrderExpired{
			OrderID:   o.ID,
			UserID:    o.UserID,
			ExpiredAt: o.UpdatedAt,
		})
		return nil
	})
	return expired, err
}

func (s *Saga) withOrderLock(ctx context.Context, orderID string, fn func(ctx context.Context) error) error {
	err := lock.WithLock(ctx, s.locker, LockKey(orderID), s.lockTTL, fn)
	if errors.Is(err, lock.ErrNotAcquired) {
		return fmt.Errorf("%w: order %s is being processed", domain.ErrLockAcquisitionFailed, orderID)
	}
	if err != nil && !domain.IsBusiness(err) {
		return domain.Orchestration("order "+orderID, err)
	}
	return err
}

func (s *Saga) runStep(ctx context.Context, st step, o *order.Order) (err error) {
	ctx, span := s.tracer.Start(ctx, "saga."+st.name, trace.WithAttributes(
		attribute.String("order.id", o.ID),
		attribute.String("saga.step", st.name),
	))
	defer func() {
		s.metrics.ObserveSagaStep(st.name, err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, telemetry.Outcome(err))
		}
		span.End()
	}()

	return st.run(ctx, o)
}

// confirmPayment persists the payment confirmation before stock is touched,
// so an order whose stock check fails stays marked as charged.
func (s *Saga) confirmPayment(ctx context.Context, o *order.Order) error {
	if o.PaymentConfirmed() || o.Status != order.StatusPending {
		return nil
	}
	if err := o.ConfirmPayment(); err != nil {
		return domain.Orchestration("confirm payment", err)
	}
	if err := s.orders.Save(ctx, o); err != nil {
		return domain.Orchestration("record payment confirmation", err)
	}
	return nil
}

func (s *Saga) commitStock(ctx context.Context, o *order.Order) error {
	if o.Status != order.StatusPending {
		return domain.Orchestration("commit stock", fmt.Errorf("order %s is %s", o.ID, o.Status))
	}

	// Stock may have moved since checkout.
	if _, _, err := domain.ValidateStock(ctx, s.inventory, o.Items); err != nil {
		log.Printf("[Saga] Stock check failed for paid order %s; kept PENDING for retry: %v", o.ID, err)
		return err
	}

	if err := s.inventory.DecrementStock(ctx, o.ID, domain.DecrementBatch(o.Items)); err != nil {
		return domain.Orchestration("decrement stock", err)
	}

	if err := o.Advance(order.StepStockCommitted); err != nil {
		return domain.Orchestration("commit stock", err)
	}
	if err := s.orders.Save(ctx, o); err != nil {
		// Stock is gone but the marker is not recorded. A retry sends the
		// same idempotency key, which the inventory service deduplicates.
		log.Printf("[Saga] Stock committed for order %s but marker not saved: %v", o.ID, err)
		return domain.Orchestration("record stock commit", err)
	}
	log.Printf("[Saga] Stock committed for order %s", o.ID)
	return nil
}

func (s *Saga) markPaid(ctx context.Context, o *order.Order) error {
	if err := o.TransitionTo(order.StatusPaid); err != nil {
		return domain.Orchestration("mark paid", err)
	}
	if err := o.Advance(order.StepPaid); err != nil {
		return domain.Orchestration("mark paid", err)
	}
	if err := s.orders.Save(ctx, o); err != nil {
		return domain.Orchestration("record payment", err)
	}
	log.Printf("[Saga] Order %s marked PAID", o.ID)

	domain.Publish(ctx, s.publisher, o.ID, order.EventOrderPaid, order.OrderPaid{
		OrderID:       o.ID,
		UserID:        o.UserID,
		CustomerEmail: o.CustomerEmail,
		Items:         o.Items,
		Total:         o.TotalAmount,
		PaidAt:        o.UpdatedAt,
	})
	return nil
}

// clearCart is best-effort: a failed delete is logged and the step still
// completes, since payment and stock are already settled.
func (s *Saga) clearCart(ctx context.Context, o *order.Order) error {
	if err := s.carts.DeleteCart(ctx, o.UserID); err != nil {
		log.Printf("[Saga] Failed to clear cart for user %s (order %s): %v", o.UserID, o.ID, err)
	}

	if err := o.Advance(order.StepCompleted); err != nil {
		return domain.Orchestration("clear cart", err)
	}
	if err := s.orders.Save(ctx, o); err != nil {
		return domain.Orchestration("record cart cleared", err)
	}
	return nil
}
