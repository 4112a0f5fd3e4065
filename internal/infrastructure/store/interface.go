package store

import (
	"context"
	"time"

	"github.com/example/checkout-saga/internal/domain/order"
)

// OrderStore persists orders and the ids of processed payment events.
//
// Save is a conditional write: it succeeds only if the stored version equals
// o.Version, then increments o.Version. A mismatch returns
// order.ErrConcurrentUpdate.
type OrderStore interface {
	Create(ctx context.Context, o *order.Order) error
	Get(ctx context.Context, id string) (*order.Order, error)
	GetBySessionID(ctx context.Context, sessionID string) (*order.Order, error)
	ListByUser(ctx context.Context, userID string) ([]*order.Order, error)
	Save(ctx context.Context, o *order.Order) error

	// ListUnsettled returns orders not yet settled (PENDING, or PAID with
	// fulfilment still in flight) whose last update is older than before.
	ListUnsettled(ctx context.Context, before time.Time, limit int) ([]*order.Order, error)

	EventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, orderID string) error
}

func isUnsettled(o *order.Order) bool {
	switch o.Status {
	case order.StatusPending:
		return true
	case order.StatusPaid:
		return o.FulfilmentStep != order.StepCompleted
	default:
		return false
	}
}

func clone(o *order.Order) *order.Order {
	c := *o
	c.Items = make([]order.LineItem, len(o.Items))
	copy(c.Items, o.Items)
	if o.PaymentConfirmedAt != nil {
		at := *o.PaymentConfirmedAt
		c.PaymentConfirmedAt = &at
	}
	return &c
}
