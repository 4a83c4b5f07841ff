package catalog

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory pack store for development and tests.
type MemoryStore struct {
	packs map[int64]*Pack
	mu    sync.RWMutex
}

// NewMemoryStore creates an in-memory store holding packs.
func NewMemoryStore(packs ...Pack) *MemoryStore {
	m := &MemoryStore{packs: make(map[int64]*Pack, len(packs))}
	now := time.Now()
	for i := range packs {
		p := packs[i]
		if p.CreatedAt.IsZero() {
			p.CreatedAt = now
		}
		m.packs[p.ID] = &p
	}
	return m
}

// NewSeededMemoryStore returns a MemoryStore loaded with DefaultPacks.
func NewSeededMemoryStore() *MemoryStore {
	return NewMemoryStore(DefaultPacks()...)
}

func (m *MemoryStore) Get(_ context.Context, id int64) (*Pack, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.packs[id]
	if !ok {
		return nil, ErrPackNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) List(_ context.Context) ([]*Pack, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Pack, 0, len(m.packs))
	for _, p := range m.packs {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Price == out[j].Price {
			return out[i].ID < out[j].ID
		}
		return out[i].Price < out[j].Price
	})
	return out, nil
}

// Put inserts or replaces a pack. Catalog administration is out of band;
// this exists for seeding and tests.
func (m *MemoryStore) Put(p Pack) error {
	if p.ID <= 0 || p.Price < 0 || p.Name == "" {
		return ErrInvalidPack
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	m.mu.Lock()
	m.packs[p.ID] = &p
	m.mu.Unlock()
	return nil
}

var _ Store = (*MemoryStore)(nil)
