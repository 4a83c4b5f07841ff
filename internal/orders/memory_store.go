package orders

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory order store for development and tests.
// A single mutex covers both maps so an order and its reference entry
// are always written together.
type MemoryStore struct {
	orders      map[string]*Order
	byReference map[string]string
	mu          sync.RWMutex
}

// NewMemoryStore creates a new in-memory order store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:      make(map[string]*Order),
		byReference: make(map[string]string),
	}
}

func (m *MemoryStore) Create(_ context.Context, o *Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, taken := m.byReference[o.PaymentReference]; taken {
		return ErrReferenceConflict
	}
	if _, exists := m.orders[o.ID]; exists {
		return fmt.Errorf("orders: duplicate order id %s", o.ID)
	}
	m.orders[o.ID] = o.Clone()
	m.byReference[o.PaymentReference] = o.ID
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	o, ok := m.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return o.Clone(), nil
}

func (m *MemoryStore) GetByReference(_ context.Context, reference string) (*Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byReference[reference]
	if !ok {
		return nil, ErrReferenceNotFound
	}
	return m.orders[id].Clone(), nil
}

func (m *MemoryStore) Update(_ context.Context, id string, fn func(o *Order) error) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	working := current.Clone()
	if err := fn(working); err != nil {
		return current.Clone(), err
	}
	m.orders[id] = working.Clone()
	return working, nil
}

func (m *MemoryStore) List(_ context.Context, filter ListFilter) ([]*Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Order
	for _, o := range m.orders {
		if filter.Status != "" && o.Status != filter.Status {
			continue
		}
		if filter.DeliveryState != "" && (o.Delivery == nil || o.Delivery.State != filter.DeliveryState) {
			continue
		}
		result = append(result, o.Clone())
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (m *MemoryStore) ListPendingBefore(_ context.Context, cutoff time.Time, limit int) ([]*Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Order
	for _, o := range m.orders {
		if o.Status == StatusPendingPayment && o.CreatedAt.Before(cutoff) {
			result = append(result, o.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryStore) ListStrandedBefore(_ context.Context, cutoff time.Time, limit int) ([]*Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Order
	for _, o := range m.orders {
		if stranded(o, cutoff) {
			result = append(result, o.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Delivery.UpdatedAt.Before(*result[j].Delivery.UpdatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

var _ Store = (*MemoryStore)(nil)
