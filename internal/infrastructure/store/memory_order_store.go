package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/example/checkout-saga/internal/domain/order"
)

// MemoryOrderStore keeps orders in process memory. Used for local runs and tests.
type MemoryOrderStore struct {
	mu        sync.RWMutex
	orders    map[string]*order.Order
	sessions  map[string]string // session id -> order id
	processed map[string]string // event id -> order id
}

func NewMemoryOrderStore() *MemoryOrderStore {
	return &MemoryOrderStore{
		orders:    make(map[string]*order.Order),
		sessions:  make(map[string]string),
		processed: make(map[string]string),
	}
}

func (s *MemoryOrderStore) Create(ctx context.Context, o *order.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.orders[o.ID]; exists {
		return fmt.Errorf("order %s already exists", o.ID)
	}
	o.Version = 1
	s.orders[o.ID] = clone(o)
	if o.CheckoutSessionID != "" {
		s.sessions[o.CheckoutSessionID] = o.ID
	}
	return nil
}

func (s *MemoryOrderStore) Get(ctx context.Context, id string) (*order.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, order.ErrOrderNotFound
	}
	return clone(o), nil
}

func (s *MemoryOrderStore) GetBySessionID(ctx context.Context, sessionID string) (*order.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.sessions[sessionID]
	if !ok {
		return nil, order.ErrOrderNotFound
	}
	return clone(s.orders[id]), nil
}

func (s *MemoryOrderStore) ListByUser(ctx context.Context, userID string) ([]*order.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*order.Order
	for _, o := range s.orders {
		if o.UserID == userID {
			result = append(result, clone(o))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (s *MemoryOrderStore) Save(ctx context.Context, o *order.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.orders[o.ID]
	if !ok {
		return order.ErrOrderNotFound
	}
	if current.Version != o.Version {
		return fmt.Errorf("%w: order %s at version %d, have %d",
			order.ErrConcurrentUpdate, o.ID, current.Version, o.Version)
	}

	o.Version++
	s.orders[o.ID] = clone(o)
	if o.CheckoutSessionID != "" {
		s.sessions[o.CheckoutSessionID] = o.ID
	}
	return nil
}

func (s *MemoryOrderStore) ListUnsettled(ctx context.Context, before time.Time, limit int) ([]*order.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*order.Order
	for _, o := range s.orders {
		if isUnsettled(o) && o.UpdatedAt.Before(before) {
			result = append(result, clone(o))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].UpdatedAt.Before(result[j].UpdatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *MemoryOrderStore) EventProcessed(ctx context.Context, eventID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.processed[eventID]
	return ok, nil
}

func (s *MemoryOrderStore) MarkEventProcessed(ctx context.Context, eventID, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processed[eventID] = orderID
	return nil
}
