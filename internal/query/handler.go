package query

import (
	"context"
	"errors"
	"log"

	"github.com/example/checkout-saga/internal/domain"
	"github.com/example/checkout-saga/internal/domain/order"
	"github.com/example/checkout-saga/internal/infrastructure/store"
)

type Handler struct {
	orders store.OrderStore
}

func NewHandler(orders store.OrderStore) *Handler {
	return &Handler{orders: orders}
}

// GetOrder returns the order if it exists and belongs to userID. Orders owned
// by someone else are reported as not found.
func (h *Handler) GetOrder(ctx context.Context, id, userID string) (*OrderView, error) {
	o, err := h.orders.Get(ctx, id)
	if errors.Is(err, order.ErrOrderNotFound) {
		return nil, domain.NotFound("order %s", id)
	}
	if err != nil {
		log.Printf("[Query] Error getting order %s: %v", id, err)
		return nil, domain.Orchestration("get order", err)
	}
	if o.UserID != userID {
		return nil, domain.NotFound("order %s", id)
	}
	return toView(o), nil
}

// ListOrders returns the user's orders, newest first.
func (h *Handler) ListOrders(ctx context.Context, userID string) ([]*OrderView, error) {
	orders, err := h.orders.ListByUser(ctx, userID)
	if err != nil {
		log.Printf("[Query] Error listing orders for user %s: %v", userID, err)
		return nil, domain.Orchestration("list orders", err)
	}
	views := make([]*OrderView, 0, len(orders))
	for _, o := range orders {
		views = append(views, toView(o))
	}
	return views, nil
}
