package domain

import (
	"context"
	"log"

	"github.com/example/checkout-saga/internal/domain/order"
	"github.com/shopspring/decimal"
)

// Payment session metadata keys used to resolve a session back to its order.
const (
	MetadataOrderID  = "order_id"
	MetadataUsername = "app_username"
)

// Product is the inventory view of a product at the moment it was fetched.
type Product struct {
	ID    string          `json:"id" validate:"required"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
	Stock int             `json:"stock" validate:"gte=0"`
}

// Cart is the remote cart contents of a user.
type Cart struct {
	UserID string           `json:"userId"`
	Items  []order.LineItem `json:"items"`
}

// StockAdjustment is one entry of a stock update batch.
type StockAdjustment struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
	Increment bool   `json:"increment"`
}

// SessionItem is a priced line item sent to the payment processor.
type SessionItem struct {
	ProductID string
	Name      string
	UnitPrice decimal.Decimal
	Quantity  int
}

type SessionRequest struct {
	OrderID       string
	UserID        string
	CustomerEmail string
	Items         []SessionItem
}

// Session is a hosted payment session.
type Session struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type InventoryClient interface {
	GetProduct(ctx context.Context, productID string) (*Product, error)
	DecrementStock(ctx context.Context, idempotencyKey string, batch []StockAdjustment) error
}

// CartClient returns a nil cart when the user has none.
type CartClient interface {
	GetCart(ctx context.Context, userID string) (*Cart, error)
	DeleteCart(ctx context.Context, userID string) error
}

type PaymentClient interface {
	CreateSession(ctx context.Context, req SessionRequest) (*Session, error)
}

// EventPublisher publishes order lifecycle events keyed by order id.
type EventPublisher interface {
	Publish(ctx context.Context, key string, event any) error
}

// DecrementBatch builds the stock decrement batch for items.
func DecrementBatch(items []order.LineItem) []StockAdjustment {
	batch := make([]StockAdjustment, 0, len(items))
	for _, item := range items {
		batch = append(batch, StockAdjustment{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Increment: false,
		})
	}
	return batch
}

// Publish wraps data in an order event and publishes it. Failures are logged
// and otherwise ignored; a nil publisher is a no-op.
func Publish(ctx context.Context, p EventPublisher, orderID, eventType string, data any) {
	if p == nil {
		return
	}
	event, err := order.NewEvent(orderID, eventType, data)
	if err != nil {
		log.Printf("[Events] Failed to build %s for order %s: %v", eventType, orderID, err)
		return
	}
	if err := p.Publish(ctx, orderID, event); err != nil {
		log.Printf("[Events] Failed to publish %s for order %s: %v", eventType, orderID, err)
	}
}
