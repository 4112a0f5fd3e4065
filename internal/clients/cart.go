package clients

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/example/checkout-saga/internal/domain"
	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker/v2"
)

// CartClient talks to the cart service over HTTP.
type CartClient struct {
	http   *resty.Client
	carts  *gobreaker.CircuitBreaker[*domain.Cart]
	delete *gobreaker.CircuitBreaker[struct{}]
}

func NewCartClient(baseURL, apiKey string, timeout time.Duration, bs BreakerSettings) *CartClient {
	return &CartClient{
		http:   newRestyClient(baseURL, apiKey, timeout),
		carts:  newBreaker[*domain.Cart]("cart-get", bs),
		delete: newBreaker[struct{}]("cart-delete", bs),
	}
}

// GetCart returns nil without error when the user has no cart.
func (c *CartClient) GetCart(ctx context.Context, userID string) (*domain.Cart, error) {
	cart, err := c.carts.Execute(func() (*domain.Cart, error) {
		var cart domain.Cart
		resp, err := c.http.R().
			SetContext(ctx).
			SetPathParam("userId", userID).
			SetResult(&cart).
			ForceContentType("application/json").
			Get("/api/products/cart/{userId}")
		if err != nil {
			return nil, fmt.Errorf("get cart: %w", err)
		}
		if resp.StatusCode() == http.StatusNotFound {
			return nil, ErrNotFound
		}
		if resp.IsError() {
			return nil, &StatusError{Service: "cart", Status: resp.StatusCode(), Body: resp.String()}
		}
		return &cart, nil
	})
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return cart, err
}

func (c *CartClient) DeleteCart(ctx context.Context, userID string) error {
	_, err := c.delete.Execute(func() (struct{}, error) {
		resp, err := c.http.R().
			SetContext(ctx).
			SetPathParam("userId", userID).
			Delete("/api/products/cart/{userId}")
		if err != nil {
			return struct{}{}, fmt.Errorf("delete cart: %w", err)
		}
		if resp.StatusCode() == http.StatusNotFound {
			return struct{}{}, nil
		}
		if resp.IsError() {
			return struct{}{}, &StatusError{Service: "cart", Status: resp.StatusCode(), Body: resp.String()}
		}
		return struct{}{}, nil
	})
	return err
}
