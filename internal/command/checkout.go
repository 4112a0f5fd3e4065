package command

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

// CheckoutLockKey is the per-user lock serializing checkouts.
func CheckoutLockKey(userID string) string {
	return "lock:order:" + userID
}

type CheckoutOrchestrator struct {
	locker    lock.Locker
	carts     domain.CartClient
	inventory domain.InventoryClient
	payments  domain.PaymentClient
	orders    store.OrderStore
	publisher domain.EventPublisher
	metrics   *telemetry.Metrics
	lockTTL   time.Duration
	tracer    trace.Tracer
}

type Option func(*CheckoutOrchestrator)

func WithLockTTL(ttl time.Duration) Option {
	return func(o *CheckoutOrchestrator) { o.lockTTL = ttl }
}

func WithPublisher(p domain.EventPublisher) Option {
	return func(o *CheckoutOrchestrator) { o.publisher = p }
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(o *CheckoutOrchestrator) { o.metrics = m }
}

func NewCheckoutOrchestrator(
	locker lock.Locker,
	carts domain.CartClient,
	inventory domain.InventoryClient,
	payments domain.PaymentClient,
	orders store.OrderStore,
	opts ...Option,
) *CheckoutOrchestrator {
	o := &CheckoutOrchestrator{
		locker:    locker,
		carts:     carts,
		inventory: inventory,
		payments:  payments,
		orders:    orders,
		lockTTL:   DefaultLockTTL,
		tracer:    otel.Tracer("github.com/example/checkout-saga/internal/command"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// StartCheckout validates the user's cart against inventory, records a
// PENDING order and opens a payment session for it. The per-user lock is
// held for the whole call and released on every exit path.
func (o *CheckoutOrchestrator) StartCheckout(ctx context.Context, cmd StartCheckout) (res *CheckoutResult, err error) {
	ctx, span := o.tracer.Start(ctx, "checkout.start",
		trace.WithAttributes(attribute.String("user.id", cmd.UserID)))
	defer func() {
		o.metrics.ObserveCheckout(err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, telemetry.Outcome(err))
		}
		span.End()
	}()

	key := CheckoutLockKey(cmd.UserID)
	lease, err := o.locker.Acquire(ctx, key, o.lockTTL)
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			log.Printf("[Checkout] Checkout already in progress for user %s", cmd.UserID)
			return nil, fmt.Errorf("%w: checkout already in progress for user %s",
				domain.ErrLockAcquisitionFailed, cmd.UserID)
		}
		return nil, domain.Orchestration("acquire lock", err)
	}
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Checkout] Panic during checkout for user %s: %v", cmd.UserID, r)
			res, err = nil, fmt.Errorf("%w: %v", domain.ErrOrchestrationFailure, r)
		}
		if relErr := lease.Release(context.WithoutCancel(ctx)); relErr != nil {
			log.Printf("[Checkout] Failed to release lock %s: %v", key, relErr)
		}
	}()

	res, err = o.checkout(ctx, cmd)
	if err != nil && !domain.IsBusiness(err) {
		err = domain.Orchestration("checkout", err)
	}
	return res, err
}

func (o *CheckoutOrchestrator) checkout(ctx context.Context, cmd StartCheckout) (*CheckoutResult, error) {
	cart, err := o.carts.GetCart(ctx, cmd.UserID)
	if err != nil {
		log.Printf("[Checkout] Cart lookup failed for user %s: %v", cmd.UserID, err)
		return nil, domain.NotFound("cart for user %s", cmd.UserID)
	}
	if cart == nil || len(cart.Items) == 0 {
		return nil, domain.NotFound("cart for user %s is empty", cmd.UserID)
	}

	priced, total, err := domain.ValidateStock(ctx, o.inventory, cart.Items)
	if err != nil {
		return nil, err
	}

	ord, err := order.New(cmd.UserID, cmd.Email, cart.Items, total)
	if err != nil {
		return nil, domain.Orchestration("build order", err)
	}
	if err := o.orders.Create(ctx, ord); err != nil {
		return nil, domain.Orchestration("persist order", err)
	}
	log.Printf("[Checkout] Order %s created for user %s (total %s)", ord.ID, ord.UserID, ord.TotalAmount.StringFixed(2))

	domain.Publish(ctx, o.publisher, ord.ID, order.EventOrderPlaced, order.OrderPlaced{
		OrderID:  ord.ID,
		UserID:   ord.UserID,
		Items:    ord.Items,
		Total:    ord.TotalAmount,
		PlacedAt: ord.CreatedAt,
	})

	session, err := o.payments.CreateSession(ctx, domain.SessionRequest{
		OrderID:       ord.ID,
		UserID:        ord.UserID,
		CustomerEmail: ord.CustomerEmail,
		Items:         priced,
	})
	if err != nil {
		log.Printf("[Checkout] Payment session failed for order %s: %v", ord.ID, err)
		return nil, domain.Orchestration("create payment session", err)
	}

	if err := ord.AttachSession(session.ID); err != nil {
		return nil, domain.Orchestration("attach session", err)
	}
	if err := o.orders.Save(ctx, ord); err != nil {
		return nil, domain.Orchestration("persist session", err)
	}
	log.Printf("[Checkout] Payment session %s created for order %s", session.ID, ord.ID)

	return &CheckoutResult{
		OrderID:    ord.ID,
		SessionID:  session.ID,
		SessionURL: session.URL,
	}, nil
}
