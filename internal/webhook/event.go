package webhook

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

const (
	EventSessionCompleted          = "checkout.session.completed"
	EventSessionExpired            = "checkout.session.expired"
	EventSessionAsyncPaymentFailed = "checkout.session.async_payment_failed"

	PaymentStatusPaid = "paid"
)

var validate = validator.New()

// Event is the payment processor's webhook envelope.
type Event struct {
	ID      string    `json:"id" validate:"required"`
	Type    string    `json:"type" validate:"required"`
	Created int64     `json:"created"`
	Data    EventData `json:"data"`
}

type EventData struct {
	Object SessionObject `json:"object"`
}

// SessionObject is the checkout session carried by checkout.session.* events.
type SessionObject struct {
	ID            string            `json:"id"`
	PaymentStatus string            `json:"payment_status"`
	Metadata      map[string]string `json:"metadata"`
}

func parseEvent(payload []byte) (*Event, error) {
	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	if err := validate.Struct(&event); err != nil {
		return nil, fmt.Errorf("invalid event: %w", err)
	}
	return &event, nil
}
