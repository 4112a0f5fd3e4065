package order

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	EventOrderPlaced  = "OrderPlaced"
	EventOrderPaid    = "OrderPaid"
	EventOrderExpired = "OrderExpired"
)

// Event is the envelope published to the order events topic.
type Event struct {
	ID        string          `json:"id"`
	OrderID   string          `json:"order_id"`
	EventType string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

type OrderPlaced struct {
	OrderID  string          `json:"order_id"`
	UserID   string          `json:"user_id"`
	Items    []LineItem      `json:"items"`
	Total    decimal.Decimal `json:"total"`
	PlacedAt time.Time       `json:"placed_at"`
}

type OrderPaid struct {
	OrderID       string          `json:"order_id"`
	UserID        string          `json:"user_id"`
	CustomerEmail string          `json:"customer_email"`
	Items         []LineItem      `json:"items"`
	Total         decimal.Decimal `json:"total"`
	PaidAt        time.Time       `json:"paid_at"`
}

type OrderExpired struct {
	OrderID   string    `json:"order_id"`
	UserID    string    `json:"user_id"`
	ExpiredAt time.Time `json:"expired_at"`
}

// NewEvent wraps data in an envelope keyed by orderID.
func NewEvent(orderID, eventType string, data any) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, err
	}
	return Event{
		ID:        uuid.New().String(),
		OrderID:   orderID,
		EventType: eventType,
		Data:      raw,
		Timestamp: time.Now().UTC(),
	}, nil
}
