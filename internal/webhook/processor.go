package webhook

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/example/checkout-saga/internal/domain"
	"github.com/example/checkout-saga/internal/domain/order"
	"github.com/example/checkout-saga/internal/infrastructure/store"
	"github.com/example/checkout-saga/internal/payment"
	"github.com/example/checkout-saga/internal/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Action describes what a delivery led to.
type Action string

const (
	ActionFulfilled Action = "fulfilled"
	ActionUnpaid    Action = "unpaid"
	ActionIgnored   Action = "ignored"
	ActionDuplicate Action = "duplicate"
)

type Result struct {
	EventID   string
	EventType string
	OrderID   string
	Action    Action
}

// Fulfiller runs the fulfilment saga for a paid order.
type Fulfiller interface {
	Run(ctx context.Context, orderID string) (*order.Order, error)
}

// Verifier checks the signature of a raw payload.
type Verifier interface {
	Verify(payload []byte, header string) error
}

type Processor struct {
	verifier  Verifier
	orders    store.OrderStore
	fulfiller Fulfiller
	metrics   *telemetry.Metrics
	tracer    trace.Tracer
}

func NewProcessor(verifier Verifier, orders store.OrderStore, fulfiller Fulfiller, metrics *telemetry.Metrics) *Processor {
	return &Processor{
		verifier:  verifier,
		orders:    orders,
		fulfiller: fulfiller,
		metrics:   metrics,
		tracer:    otel.Tracer("github.com/example/checkout-saga/internal/webhook"),
	}
}

// HandleEvent verifies and processes one webhook delivery. Deliveries of an
// event id that was already processed are acknowledged without side effects.
func (p *Processor) HandleEvent(ctx context.Context, payload []byte, signature string) (res *Result, err error) {
	ctx, span := p.tracer.Start(ctx, "webhook.handle")
	eventType := "unknown"
	defer func() {
		p.metrics.ObserveWebhook(eventType, err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, telemetry.Outcome(err))
		}
		span.End()
	}()

	if err := p.verifier.Verify(payload, signature); err != nil {
		log.Printf("[Webhook] Rejected delivery: %v", err)
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidSignature, err)
	}

	event, err := parseEvent(payload)
	if err != nil {
		return nil, domain.Orchestration("parse event", err)
	}
	if isKnown(event.Type) {
		eventType = event.Type
	}
	span.SetAttributes(
		attribute.String("webhook.event_id", event.ID),
		attribute.String("webhook.event_type", event.Type),
	)

	res = &Result{EventID: event.ID, EventType: event.Type}

	seen, err := p.orders.EventProcessed(ctx, event.ID)
	if err != nil {
		return nil, domain.Orchestration("check processed events", err)
	}
	if seen {
		log.Printf("[Webhook] Event %s already processed", event.ID)
		res.Action = ActionDuplicate
		return res, nil
	}

	switch event.Type {
	case EventSessionCompleted:
		if err := p.handleSessionCompleted(ctx, event, res); err != nil {
			return nil, err
		}
	case EventSessionExpired, EventSessionAsyncPaymentFailed:
		log.Printf("[Webhook] Event %s (%s) for session %s acknowledged", event.ID, event.Type, event.Data.Object.ID)
		res.Action = ActionIgnored
	default:
		log.Printf("[Webhook] Unhandled event type: %s", event.Type)
		res.Action = ActionIgnored
	}

	if err := p.orders.MarkEventProcessed(ctx, event.ID, res.OrderID); err != nil {
		// The order state already guards against a second fulfilment.
		log.Printf("[Webhook] Failed to record event %s: %v", event.ID, err)
	}
	return res, nil
}

func (p *Processor) handleSessionCompleted(ctx context.Context, event *Event, res *Result) error {
	session := event.Data.Object
	if session.ID == "" {
		return domain.Orchestration("parse event", errors.New("session id missing"))
	}

	o, err := p.orders.GetBySessionID(ctx, session.ID)
	if err != nil {
		if errors.Is(err, order.ErrOrderNotFound) {
			log.Printf("[Webhook] No order for session %s", session.ID)
			return domain.NotFound("order for session %s", session.ID)
		}
		return domain.Orchestration("resolve session", err)
	}
	res.OrderID = o.ID

	if session.PaymentStatus != PaymentStatusPaid {
		log.Printf("[Webhook] Session %s completed with payment status %q; order %s left %s",
			session.ID, session.PaymentStatus, o.ID, o.Status)
		res.Action = ActionUnpaid
		return nil
	}

	log.Printf("[Webhook] Payment confirmed for order %s (session %s)", o.ID, session.ID)
	if _, err := p.fulfiller.Run(ctx, o.ID); err != nil {
		return err
	}
	res.Action = ActionFulfilled
	return nil
}

func isKnown(eventType string) bool {
	switch eventType {
	case EventSessionCompleted, EventSessionExpired, EventSessionAsyncPaymentFailed:
		return true
	}
	return false
}

var _ Verifier = (*payment.Verifier)(nil)
