package clients

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/example/checkout-saga/internal/domain"
	"github.com/go-playground/validator/v10"
	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker/v2"
)

var validate = validator.New()

// InventoryClient talks to the inventory service over HTTP.
type InventoryClient struct {
	http     *resty.Client
	products *gobreaker.CircuitBreaker[*domain.Product]
	stock    *gobreaker.CircuitBreaker[struct{}]
}

func NewInventoryClient(baseURL, apiKey string, timeout time.Duration, bs BreakerSettings) *InventoryClient {
	return &InventoryClient{
		http:     newRestyClient(baseURL, apiKey, timeout),
		products: newBreaker[*domain.Product]("inventory-products", bs),
		stock:    newBreaker[struct{}]("inventory-stock", bs),
	}
}

func (c *InventoryClient) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	return c.products.Execute(func() (*domain.Product, error) {
		var product domain.Product
		resp, err := c.http.R().
			SetContext(ctx).
			SetPathParam("id", productID).
			SetResult(&product).
			ForceContentType("application/json").
			Get("/inventory/api/products/{id}")
		if err != nil {
			return nil, fmt.Errorf("get product %s: %w", productID, err)
		}
		if resp.StatusCode() == http.StatusNotFound {
			return nil, fmt.Errorf("product %s: %w", productID, ErrNotFound)
		}
		if resp.IsError() {
			return nil, &StatusError{Service: "inventory", Status: resp.StatusCode(), Body: resp.String()}
		}
		if err := validate.Struct(&product); err != nil {
			return nil, fmt.Errorf("invalid product %s: %w", productID, err)
		}
		return &product, nil
	})
}

type bulkStockUpdate struct {
	Products []domain.StockAdjustment `json:"products"`
}

// DecrementStock submits the whole batch in one request. The inventory
// service deduplicates on idempotencyKey.
func (c *InventoryClient) DecrementStock(ctx context.Context, idempotencyKey string, batch []domain.StockAdjustment) error {
	_, err := c.stock.Execute(func() (struct{}, error) {
		resp, err := c.http.R().
			SetContext(ctx).
			SetHeader("Idempotency-Key", idempotencyKey).
			SetBody(bulkStockUpdate{Products: batch}).
			Post("/inventory/api/stocks/bulk-update")
		if err != nil {
			return struct{}{}, fmt.Errorf("bulk stock update: %w", err)
		}
		if resp.IsError() {
			return struct{}{}, &StatusError{Service: "inventory", Status: resp.StatusCode(), Body: resp.String()}
		}
		return struct{}{}, nil
	})
	return err
}

func newRestyClient(baseURL, apiKey string, timeout time.Duration) *resty.Client {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if apiKey != "" {
		client.SetHeader("X-API-Key", apiKey)
	}
	return client
}
