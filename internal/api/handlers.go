package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/example/checkout-saga/internal/api/middleware"
	"github.com/example/checkout-saga/internal/command"
	"github.com/example/checkout-saga/internal/domain"
	"github.com/example/checkout-saga/internal/payment"
	"github.com/example/checkout-saga/internal/query"
	"github.com/example/checkout-saga/internal/webhook"
	"github.com/go-chi/chi/v5"
)

const maxWebhookBody = 1 << 20 // 1MB

type CheckoutStarter interface {
	StartCheckout(ctx context.Context, cmd command.StartCheckout) (*command.CheckoutResult, error)
}

type OrderReader interface {
	GetOrder(ctx context.Context, id, userID string) (*query.OrderView, error)
	ListOrders(ctx context.Context, userID string) ([]*query.OrderView, error)
}

type EventHandler interface {
	HandleEvent(ctx context.Context, payload []byte, signature string) (*webhook.Result, error)
}

type Handlers struct {
	checkout CheckoutStarter
	orders   OrderReader
	webhooks EventHandler
}

func NewHandlers(checkout CheckoutStarter, orders OrderReader, webhooks EventHandler) *Handlers {
	return &Handlers{
		checkout: checkout,
		orders:   orders,
		webhooks: webhooks,
	}
}

// CheckoutResponse is the body returned once a payment session is open.
type CheckoutResponse struct {
	Status     string `json:"status"`
	Message    string `json:"message"`
	OrderID    string `json:"orderId"`
	SessionID  string `json:"sessionId"`
	SessionURL string `json:"sessionUrl"`
}

// Order Handlers

func (h *Handlers) Checkout(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	res, err := h.checkout.StartCheckout(r.Context(), command.StartCheckout{
		UserID: claims.UserID,
		Email:  claims.Email,
	})
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, CheckoutResponse{
		Status:     "SUCCESS",
		Message:    "Payment session created",
		OrderID:    res.OrderID,
		SessionID:  res.SessionID,
		SessionURL: res.SessionURL,
	})
}

func (h *Handlers) GetOrders(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	orders, err := h.orders.ListOrders(r.Context(), userID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, orders)
}

func (h *Handlers) GetOrder(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	o, err := h.orders.GetOrder(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, o)
}

// Webhook handler. Responses are plain text; the payment provider only
// looks at the status code.
func (h *Handlers) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "Unreadable payload", http.StatusBadRequest)
		return
	}

	res, err := h.webhooks.HandleEvent(r.Context(), payload, r.Header.Get(payment.SignatureHeader))
	if err != nil {
		if errors.Is(err, domain.ErrInvalidSignature) {
			http.Error(w, "Invalid signature", http.StatusBadRequest)
			return
		}
		status, message := statusFor(err)
		http.Error(w, message, status)
		return
	}

	log.Printf("[API] Webhook %s (%s) -> %s", res.EventID, res.EventType, res.Action)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Success"))
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("[API] Failed to encode response: %v", err)
	}
}
