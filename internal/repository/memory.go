package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/RaikyD/cardpay-service/internal/domain"
)

// MemoryOrderRepository is used when no database is configured and in
// tests. It hands out copies so callers never share state with the store.
type MemoryOrderRepository struct {
	mu    sync.RWMutex
	byID  map[uuid.UUID]domain.Order
	byRef map[string]uuid.UUID
}

func NewMemoryOrderRepository() *MemoryOrderRepository {
	return &MemoryOrderRepository{
		byID:  make(map[uuid.UUID]domain.Order),
		byRef: make(map[string]uuid.UUID),
	}
}

func (m *MemoryOrderRepository) AddOrder(_ context.Context, o *domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[o.ID]; ok {
		return domain.ErrOrderAlreadyExists
	}
	m.byID[o.ID] = *o
	if o.ProviderReference != "" {
		m.byRef[o.ProviderReference] = o.ID
	}
	return nil
}

func (m *MemoryOrderRepository) GetOrderByID(_ context.Context, id uuid.UUID) (*domain.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.byID[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return &o, nil
}

func (m *MemoryOrderRepository) GetOrderByReference(_ context.Context, reference string) (*domain.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byRef[reference]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	o := m.byID[id]
	return &o, nil
}

func (m *MemoryOrderRepository) CompareAndSetStatus(_ context.Context, id uuid.UUID, from, to domain.Status, reference string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.byID[id]
	if !ok || o.Status != from {
		return false, nil
	}
	o.Status = to
	o.LastTransitionAt = at
	if o.ProviderReference == "" && reference != "" {
		o.ProviderReference = reference
		m.byRef[reference] = id
	}
	m.byID[id] = o
	return true, nil
}

func (m *MemoryOrderRepository) ListPending(_ context.Context, limit int) ([]*domain.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*domain.Order, 0)
	for _, o := range m.byID {
		if o.Terminal() || o.ProviderReference == "" {
			continue
		}
		o := o
		out = append(out, &o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
