package mocks

import (
	"context"
	"fmt"
	"sync"

	"github.com/example/checkout-saga/internal/domain"
	"github.com/example/checkout-saga/internal/domain/order"
)

// MockInventory is an in-memory inventory. DecrementStock applies the batch
// to the stored stock levels.
type MockInventory struct {
	mu       sync.Mutex
	products map[string]domain.Product

	GetErr       map[string]error
	DecrementErr error

	GetCalls       []string
	DecrementCalls []DecrementCall
}

type DecrementCall struct {
	IdempotencyKey string
	Batch          []domain.StockAdjustment
}

func NewMockInventory(products ...domain.Product) *MockInventory {
	m := &MockInventory{
		products: make(map[string]domain.Product),
		GetErr:   make(map[string]error),
	}
	for _, p := range products {
		m.products[p.ID] = p
	}
	return m
}

func (m *MockInventory) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.GetCalls = append(m.GetCalls, productID)
	if err := m.GetErr[productID]; err != nil {
		return nil, err
	}
	p, ok := m.products[productID]
	if !ok {
		return nil, fmt.Errorf("product %s not found", productID)
	}
	return &p, nil
}

func (m *MockInventory) DecrementStock(ctx context.Context, idempotencyKey string, batch []domain.StockAdjustment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.DecrementCalls = append(m.DecrementCalls, DecrementCall{
		IdempotencyKey: idempotencyKey,
		Batch:          append([]domain.StockAdjustment(nil), batch...),
	})
	if m.DecrementErr != nil {
		return m.DecrementErr
	}
	for _, adj := range batch {
		p := m.products[adj.ProductID]
		if adj.Increment {
			p.Stock += adj.Quantity
		} else {
			p.Stock -= adj.Quantity
		}
		m.products[adj.ProductID] = p
	}
	return nil
}

// SetStock overwrites the stock level of a product.
func (m *MockInventory) SetStock(productID string, stock int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.products[productID]
	p.Stock = stock
	m.products[productID] = p
}

func (m *MockInventory) Stock(productID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.products[productID].Stock
}

func (m *MockInventory) Decrements() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.DecrementCalls)
}

// MockCart stores carts by user id.
type MockCart struct {
	mu    sync.Mutex
	carts map[string]*domain.Cart

	GetErr    error
	DeleteErr error

	DeleteCalls []string
}

func NewMockCart() *MockCart {
	return &MockCart{carts: make(map[string]*domain.Cart)}
}

func (m *MockCart) SetCart(userID string, items ...order.LineItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.carts[userID] = &domain.Cart{UserID: userID, Items: items}
}

func (m *MockCart) GetCart(ctx context.Context, userID string) (*domain.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.GetErr != nil {
		return nil, m.GetErr
	}
	c, ok := m.carts[userID]
	if !ok {
		return nil, nil
	}
	cp := *c
	cp.Items = append([]order.LineItem(nil), c.Items...)
	return &cp, nil
}

func (m *MockCart) DeleteCart(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.DeleteCalls = append(m.DeleteCalls, userID)
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	delete(m.carts, userID)
	return nil
}

func (m *MockCart) HasCart(userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.carts[userID]
	return ok
}

// MockPayment returns sessions named after the order id.
type MockPayment struct {
	mu sync.Mutex

	CreateErr      error
	CreateCallback func(ctx context.Context, req domain.SessionRequest) (*domain.Session, error)
	CreateCalls    []domain.SessionRequest
}

func NewMockPayment() *MockPayment {
	return &MockPayment{}
}

func (m *MockPayment) CreateSession(ctx context.Context, req domain.SessionRequest) (*domain.Session, error) {
	m.mu.Lock()
	m.CreateCalls = append(m.CreateCalls, req)
	callback, err := m.CreateCallback, m.CreateErr
	m.mu.Unlock()

	if callback != nil {
		return callback(ctx, req)
	}
	if err != nil {
		return nil, err
	}
	return &domain.Session{
		ID:  "cs_" + req.OrderID,
		URL: "https://pay.example.com/c/cs_" + req.OrderID,
	}, nil
}

// MockPublisher records published events.
type MockPublisher struct {
	mu sync.Mutex

	PublishErr error
	Events     []order.Event
}

func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

func (m *MockPublisher) Publish(ctx context.Context, key string, event any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := event.(order.Event); ok {
		m.Events = append(m.Events, e)
	}
	return m.PublishErr
}

func (m *MockPublisher) EventTypes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	types := make([]string, 0, len(m.Events))
	for _, e := range m.Events {
		types = append(types, e.EventType)
	}
	return types
}
