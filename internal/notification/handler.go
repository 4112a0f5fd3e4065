package notification

import (
	"context"
	"encoding/json"
	"log"

	"github.com/example/checkout-saga/internal/domain"
	"github.com/example/checkout-saga/internal/domain/order"
	"github.com/example/checkout-saga/internal/email"
)

// Handler sends an order confirmation once an order is paid.
type Handler struct {
	emailService email.Sender
	inventory    domain.InventoryClient
	currency     string
}

// NewHandler creates a new notification handler. inventory is used to look
// up product names and may be nil.
func NewHandler(emailSvc email.Sender, inventory domain.InventoryClient, currency string) *Handler {
	return &Handler{
		emailService: emailSvc,
		inventory:    inventory,
		currency:     currency,
	}
}

// HandleEvent processes an order event envelope from Kafka
func (h *Handler) HandleEvent(ctx context.Context, key, value []byte) error {
	var event order.Event
	if err := json.Unmarshal(value, &event); err != nil {
		log.Printf("[Notifier] Failed to unmarshal event: %v", err)
		return err
	}

	if event.EventType != order.EventOrderPaid {
		return nil
	}

	var e order.OrderPaid
	if err := json.Unmarshal(event.Data, &e); err != nil {
		log.Printf("[Notifier] Failed to unmarshal OrderPaid event: %v", err)
		return err
	}
	return h.NotifyPaid(ctx, e)
}

// NotifyPaid emails the order confirmation for a paid order. Orders without
// a customer email are skipped.
func (h *Handler) NotifyPaid(ctx context.Context, e order.OrderPaid) error {
	log.Printf("[Notifier] Processing OrderPaid for order %s, user %s", e.OrderID, e.UserID)

	if e.CustomerEmail == "" {
		log.Printf("[Notifier] No email address for order %s, skipping", e.OrderID)
		return nil
	}

	items := make([]email.OrderItem, len(e.Items))
	for i, item := range e.Items {
		items[i] = email.OrderItem{
			ProductID: item.ProductID,
			Name:      item.ProductID,
			Quantity:  item.Quantity,
		}
		if h.inventory == nil {
			continue
		}
		// Best effort; the email still goes out without names. Current
		// prices are not shown since they may differ from what was charged.
		if p, err := h.inventory.GetProduct(ctx, item.ProductID); err == nil && p != nil {
			items[i].Name = p.Name
		}
	}

	if err := h.emailService.SendOrderConfirmation(e.CustomerEmail, e.OrderID, e.Total, h.currency, items); err != nil {
		log.Printf("[Notifier] Failed to send email to %s: %v", e.CustomerEmail, err)
		return err
	}

	log.Printf("[Notifier] Order confirmation email sent to %s for order %s", e.CustomerEmail, e.OrderID)
	return nil
}
