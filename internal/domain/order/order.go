package order

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending Status = "PENDING"
	StatusPaid    Status = "PAID"
	StatusExpired Status = "EXPIRED"
)

// Step is the last completed fulfilment step recorded on an order.
type Step string

const (
	StepNone           Step = ""
	StepStockCommitted Step = "STOCK_COMMITTED"
	StepPaid           Step = "PAID"
	StepCompleted      Step = "COMPLETED"
)

var stepOrder = map[Step]int{
	StepNone:           0,
	StepStockCommitted: 1,
	StepPaid:           2,
	StepCompleted:      3,
}

var (
	ErrOrderNotFound     = errors.New("order not found")
	ErrEmptyOrder        = errors.New("order must have at least one item")
	ErrInvalidStatus     = errors.New("invalid order status transition")
	ErrOrderAlreadyPaid  = errors.New("order is already paid")
	ErrOrderExpired      = errors.New("order has expired")
	ErrSessionAlreadySet = errors.New("order already has a payment session")
	ErrStepOutOfOrder    = errors.New("fulfilment step out of order")
	ErrConcurrentUpdate  = errors.New("order was modified concurrently")
)

// validTransitions defines allowed state transitions
var validTransitions = map[Status][]Status{
	StatusPending: {StatusPaid, StatusExpired},
	StatusPaid:    {}, // terminal state
	StatusExpired: {}, // terminal state
}

// LineItem is a product/quantity pair snapshotted when the order is created.
type LineItem struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type Order struct {
	ID                string          `json:"id"`
	UserID            string          `json:"userId"`
	CustomerEmail     string          `json:"customerEmail,omitempty"`
	Items             []LineItem      `json:"items"`
	Status            Status          `json:"status"`
	TotalAmount       decimal.Decimal `json:"totalAmount"`
	CheckoutSessionID string          `json:"checkoutSessionId,omitempty"`
	FulfilmentStep    Step            `json:"fulfilmentStep,omitempty"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
	Version           int             `json:"version"`

	// PaymentConfirmedAt is set once the provider reports the session paid,
	// before any fulfilment step runs.
	PaymentConfirmedAt *time.Time `json:"paymentConfirmedAt,omitempty"`
}

// New creates a PENDING order. Items are copied so later changes to the
// caller's slice do not leak into the order.
func New(userID, email string, items []LineItem, total decimal.Decimal) (*Order, error) {
	if len(items) == 0 {
		return nil, ErrEmptyOrder
	}
	snapshot := make([]LineItem, len(items))
	copy(snapshot, items)

	now := time.Now().UTC()
	return &Order{
		ID:            uuid.New().String(),
		UserID:        userID,
		CustomerEmail: email,
		Items:         snapshot,
		Status:        StatusPending,
		TotalAmount:   total,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// CanTransitionTo checks if the order can transition to the target status
func (o *Order) CanTransitionTo(target Status) bool {
	allowed, exists := validTransitions[o.Status]
	if !exists {
		return false
	}
	for _, s := range allowed {
		if s == target {
			return true
		}
	}
	return false
}

// transitionError returns an appropriate error for an invalid transition
func (o *Order) transitionError(target Status) error {
	switch {
	case o.Status == StatusPaid && target == StatusPaid:
		return ErrOrderAlreadyPaid
	case o.Status == StatusExpired:
		return ErrOrderExpired
	default:
		return fmt.Errorf("%w: cannot transition from %s to %s", ErrInvalidStatus, o.Status, target)
	}
}

// TransitionTo moves the order to target or reports why it cannot.
func (o *Order) TransitionTo(target Status) error {
	if !o.CanTransitionTo(target) {
		return o.transitionError(target)
	}
	o.Status = target
	o.UpdatedAt = time.Now().UTC()
	return nil
}

// AttachSession records the payment session created for this order.
func (o *Order) AttachSession(sessionID string) error {
	if o.CheckoutSessionID != "" && o.CheckoutSessionID != sessionID {
		return ErrSessionAlreadySet
	}
	if o.Status != StatusPending {
		return o.transitionError(o.Status)
	}
	o.CheckoutSessionID = sessionID
	o.UpdatedAt = time.Now().UTC()
	return nil
}

// ConfirmPayment records that the payment for this order went through.
// Confirming twice keeps the first timestamp.
func (o *Order) ConfirmPayment() error {
	if o.PaymentConfirmedAt != nil {
		return nil
	}
	if o.Status != StatusPending {
		return o.transitionError(StatusPaid)
	}
	now := time.Now().UTC()
	o.PaymentConfirmedAt = &now
	o.UpdatedAt = now
	return nil
}

// PaymentConfirmed reports whether the customer has been charged.
func (o *Order) PaymentConfirmed() bool {
	return o.PaymentConfirmedAt != nil
}

// Reached reports whether the fulfilment marker is at or past step.
func (o *Order) Reached(step Step) bool {
	return stepOrder[o.FulfilmentStep] >= stepOrder[step]
}

// Advance records step as the last completed fulfilment step. Steps may only
// move forward by one.
func (o *Order) Advance(step Step) error {
	if stepOrder[step] != stepOrder[o.FulfilmentStep]+1 {
		return fmt.Errorf("%w: %q after %q", ErrStepOutOfOrder, step, o.FulfilmentStep)
	}
	o.FulfilmentStep = step
	o.UpdatedAt = time.Now().UTC()
	return nil
}

// InFlight reports whether fulfilment started but has not completed.
func (o *Order) InFlight() bool {
	return o.FulfilmentStep != StepNone && o.FulfilmentStep != StepCompleted
}

// Total sums unit price times quantity for priced line items.
func Total(prices map[string]decimal.Decimal, items []LineItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(prices[item.ProductID].Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return total
}
