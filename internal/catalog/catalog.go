// Package catalog exposes the read-only pack catalog that orders are priced from.
package catalog

import (
	"context"
	"errors"
	"time"
)

var (
	ErrPackNotFound = errors.New("catalog: pack not found")
	ErrInvalidPack  = errors.New("catalog: invalid pack")
)

// Pack is a purchasable bundle of digital content. Price is in minor
// currency units (centavos). Content is the opaque delivery reference and
// is never shown on public listings.
type Pack struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Slug        string    `json:"slug"`
	Price       int64     `json:"price"`
	Description string    `json:"description,omitempty"`
	Content     string    `json:"-"`
	Image       string    `json:"image,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Store reads packs.
type Store interface {
	Get(ctx context.Context, id int64) (*Pack, error)
	List(ctx context.Context) ([]*Pack, error)
}

// Service adapts a Store for the order creation path.
type Service struct {
	store Store
}

// NewService creates a catalog service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// GetPack returns the pack with id, or ErrPackNotFound.
func (s *Service) GetPack(ctx context.Context, id int64) (*Pack, error) {
	if id <= 0 {
		return nil, ErrPackNotFound
	}
	return s.store.Get(ctx, id)
}

// ListPacks returns every pack ordered by price.
func (s *Service) ListPacks(ctx context.Context) ([]*Pack, error) {
	return s.store.List(ctx)
}

// DefaultPacks is the seed catalog shipped with the shop.
func DefaultPacks() []Pack {
	return []Pack{
		{ID: 1, Name: "Pack Inicial", Slug: "pack-inicial", Price: 1290,
			Description: "Pack inicial com conteúdo básico.",
			Content:     "https://www.workupload.com/example-pack-inicial"},
		{ID: 2, Name: "Pack Avançado", Slug: "pack-avancado", Price: 2290,
			Description: "Pack avançado com extras.",
			Content:     "https://www.workupload.com/example-pack-avancado"},
		{ID: 3, Name: "Pack Premium", Slug: "pack-premium", Price: 4890,
			Description: "Pack premium com conteúdo completo.",
			Content:     "https://www.workupload.com/example-pack-premium"},
		{ID: 4, Name: "Pack Premium Plus", Slug: "pack-premium-plus", Price: 6390,
			Description: "Pack premium plus, completo e VIP.",
			Content:     "https://www.workupload.com/example-pack-premiumplus"},
	}
}
