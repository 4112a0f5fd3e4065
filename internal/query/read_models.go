package query

import (
	"time"

	"github.com/example/checkout-saga/internal/domain/order"
	"github.com/shopspring/decimal"
)

// OrderItemView is one line of an order as shown to its owner.
type OrderItemView struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// OrderView is the read model returned by the order endpoints.
type OrderView struct {
	ID                string          `json:"id"`
	UserID            string          `json:"userId"`
	Items             []OrderItemView `json:"items"`
	Status            string          `json:"status"`
	TotalAmount       decimal.Decimal `json:"totalAmount"`
	CheckoutSessionID string          `json:"checkoutSessionId,omitempty"`
	FulfilmentStep    string          `json:"fulfilmentStep,omitempty"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

func toView(o *order.Order) *OrderView {
	items := make([]OrderItemView, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, OrderItemView{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	return &OrderView{
		ID:                o.ID,
		UserID:            o.UserID,
		Items:             items,
		Status:            string(o.Status),
		TotalAmount:       o.TotalAmount,
		CheckoutSessionID: o.CheckoutSessionID,
		FulfilmentStep:    string(o.FulfilmentStep),
		CreatedAt:         o.CreatedAt,
		UpdatedAt:         o.UpdatedAt,
	}
}
