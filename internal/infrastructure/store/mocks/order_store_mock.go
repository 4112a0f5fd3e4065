package mocks

import (
	"context"
	"sync"

	"github.com/example/checkout-saga/internal/domain/order"
	"github.com/example/checkout-saga/internal/infrastructure/store"
)

// MockOrderStore is an in-memory OrderStore that records writes and can be
// told to fail.
type MockOrderStore struct {
	*store.MemoryOrderStore

	mu sync.Mutex

	// For tracking calls in tests
	CreateCalls []order.Order
	SaveCalls   []order.Order

	CreateErr    error
	SaveErr      error
	GetErr       error
	SaveCallback func(ctx context.Context, o *order.Order) error
}

// NewMockOrderStore creates a new MockOrderStore
func NewMockOrderStore() *MockOrderStore {
	return &MockOrderStore{MemoryOrderStore: store.NewMemoryOrderStore()}
}

func (m *MockOrderStore) Create(ctx context.Context, o *order.Order) error {
	m.mu.Lock()
	m.CreateCalls = append(m.CreateCalls, snapshot(o))
	err := m.CreateErr
	m.mu.Unlock()

	if err != nil {
		return err
	}
	return m.MemoryOrderStore.Create(ctx, o)
}

func (m *MockOrderStore) Get(ctx context.Context, id string) (*order.Order, error) {
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	return m.MemoryOrderStore.Get(ctx, id)
}

func (m *MockOrderStore) GetBySessionID(ctx context.Context, sessionID string) (*order.Order, error) {
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	return m.MemoryOrderStore.GetBySessionID(ctx, sessionID)
}

func (m *MockOrderStore) Save(ctx context.Context, o *order.Order) error {
	m.mu.Lock()
	m.SaveCalls = append(m.SaveCalls, snapshot(o))
	err, callback := m.SaveErr, m.SaveCallback
	m.mu.Unlock()

	if callback != nil {
		if err := callback(ctx, o); err != nil {
			return err
		}
	}
	if err != nil {
		return err
	}
	return m.MemoryOrderStore.Save(ctx, o)
}

// Put stores o directly, bypassing call recording.
func (m *MockOrderStore) Put(o *order.Order) {
	_ = m.MemoryOrderStore.Create(context.Background(), o)
}

// Reset clears recorded calls and injected errors
func (m *MockOrderStore) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CreateCalls = nil
	m.SaveCalls = nil
	m.CreateErr = nil
	m.SaveErr = nil
	m.GetErr = nil
	m.SaveCallback = nil
}

func snapshot(o *order.Order) order.Order {
	c := *o
	c.Items = append([]order.LineItem(nil), o.Items...)
	return c
}
