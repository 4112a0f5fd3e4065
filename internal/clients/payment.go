package clients

import (
	"context"
	"fmt"
	"time"

	"github.com/example/checkout-saga/internal/domain"
	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
)

type PaymentConfig struct {
	BaseURL    string
	APIKey     string
	SuccessURL string
	CancelURL  string
	Currency   string
	Timeout    time.Duration
}

// PaymentClient creates hosted checkout sessions with the payment processor.
type PaymentClient struct {
	http     *resty.Client
	cfg      PaymentConfig
	sessions *gobreaker.CircuitBreaker[*domain.Session]
}

func NewPaymentClient(cfg PaymentConfig, bs BreakerSettings) *PaymentClient {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetAuthToken(cfg.APIKey).
		SetHeader("Content-Type", "application/json")
	return &PaymentClient{
		http:     client,
		cfg:      cfg,
		sessions: newBreaker[*domain.Session]("payment-sessions", bs),
	}
}

type sessionLineItem struct {
	PriceData priceData `json:"price_data"`
	Quantity  int       `json:"quantity"`
}

type priceData struct {
	Currency    string      `json:"currency"`
	UnitAmount  int64       `json:"unit_amount"`
	ProductData productData `json:"product_data"`
}

type productData struct {
	Name string `json:"name"`
}

type createSessionRequest struct {
	Mode              string            `json:"mode"`
	ClientReferenceID string            `json:"client_reference_id"`
	CustomerEmail     string            `json:"customer_email,omitempty"`
	SuccessURL        string            `json:"success_url"`
	CancelURL         string            `json:"cancel_url"`
	LineItems         []sessionLineItem `json:"line_items"`
	Metadata          map[string]string `json:"metadata"`
}

type sessionResponse struct {
	ID  string `json:"id" validate:"required"`
	URL string `json:"url" validate:"required,url"`
}

// CreateSession is not retried; the order id is sent as the idempotency key
// so a caller-level retry cannot open a second session for the same order.
func (c *PaymentClient) CreateSession(ctx context.Context, req domain.SessionRequest) (*domain.Session, error) {
	body := createSessionRequest{
		Mode:              "payment",
		ClientReferenceID: req.OrderID,
		CustomerEmail:     req.CustomerEmail,
		SuccessURL:        c.cfg.SuccessURL,
		CancelURL:         c.cfg.CancelURL,
		LineItems:         make([]sessionLineItem, 0, len(req.Items)),
		Metadata: map[string]string{
			domain.MetadataOrderID:  req.OrderID,
			domain.MetadataUsername: req.UserID,
		},
	}
	for _, item := range req.Items {
		name := item.Name
		if name == "" {
			name = item.ProductID
		}
		body.LineItems = append(body.LineItems, sessionLineItem{
			PriceData: priceData{
				Currency:    c.cfg.Currency,
				UnitAmount:  MinorUnits(item.UnitPrice),
				ProductData: productData{Name: name},
			},
			Quantity: item.Quantity,
		})
	}

	return c.sessions.Execute(func() (*domain.Session, error) {
		var result sessionResponse
		resp, err := c.http.R().
			SetContext(ctx).
			SetHeader("Idempotency-Key", req.OrderID).
			SetBody(body).
			SetResult(&result).
			ForceContentType("application/json").
			Post("/v1/checkout/sessions")
		if err != nil {
			return nil, fmt.Errorf("create session: %w", err)
		}
		if resp.IsError() {
			return nil, &StatusError{Service: "payment", Status: resp.StatusCode(), Body: resp.String()}
		}
		if err := validate.Struct(&result); err != nil {
			return nil, fmt.Errorf("invalid session response: %w", err)
		}
		return &domain.Session{ID: result.ID, URL: result.URL}, nil
	})
}

// MinorUnits converts an amount to the smallest currency unit (cents).
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}
