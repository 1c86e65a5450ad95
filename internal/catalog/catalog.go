// Package catalog resolves chat input to products and keeps the active
// product listing behind an optional read-through cache.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/ShopPipe/internal/models"
	"github.com/BTreeMap/ShopPipe/internal/store"
)

// ActiveProductsKey is the cache key holding the JSON-encoded active listing.
const ActiveProductsKey = "catalog:active"

// DefaultCacheTTL bounds how stale a cached listing can get.
const DefaultCacheTTL = time.Hour

// ErrInvalidProduct is returned when a product fails validation.
var ErrInvalidProduct = errors.New("invalid product")

// Cache is the byte-oriented key/value cache used for the listing.
// Get reports a miss with found == false and a nil error.
type Cache interface {
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Opts configures a Catalog.
type Opts struct {
	Cache    Cache
	CacheTTL time.Duration
}

// Option configures a Catalog.
type Option func(*Opts)

// WithCache enables read-through caching of the active listing.
func WithCache(c Cache) Option {
	return func(o *Opts) { o.Cache = c }
}

// WithCacheTTL overrides DefaultCacheTTL.
func WithCacheTTL(ttl time.Duration) Option {
	return func(o *Opts) { o.CacheTTL = ttl }
}

// Catalog wraps the product repository. All product writes go through it so
// the cached listing is invalidated before the caller sees success.
type Catalog struct {
	repo  store.ProductRepo
	cache Cache
	ttl   time.Duration
}

// New returns a Catalog over repo.
func New(repo store.ProductRepo, opts ...Option) *Catalog {
	cfg := Opts{CacheTTL: DefaultCacheTTL}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	return &Catalog{repo: repo, cache: cfg.Cache, ttl: cfg.CacheTTL}
}

// ActiveProducts returns the active listing in insertion order. Cache
// failures are logged and fall through to the store.
func (c *Catalog) ActiveProducts(ctx context.Context) ([]models.Product, error) {
	if c.cache != nil {
		raw, found, err := c.cache.Get(ctx, ActiveProductsKey)
		if err != nil {
			slog.Warn("Catalog.ActiveProducts: cache read failed", "error", err)
		} else if found {
			var products []models.Product
			if err := json.Unmarshal(raw, &products); err == nil {
				return products, nil
			}
			slog.Warn("Catalog.ActiveProducts: discarding undecodable cache entry")
		}
	}

	products, err := c.repo.ListActiveProducts()
	if err != nil {
		return nil, fmt.Errorf("list active products: %w", err)
	}

	if c.cache != nil {
		raw, err := json.Marshal(products)
		if err == nil {
			err = c.cache.Set(ctx, ActiveProductsKey, raw, c.ttl)
		}
		if err != nil {
			slog.Warn("Catalog.ActiveProducts: cache write failed", "error", err)
		}
	}
	return products, nil
}

// Invalidate drops the cached listing.
func (c *Catalog) Invalidate(ctx context.Context) {
	if c.cache == nil {
		return
	}
	if err := c.cache.Delete(ctx, ActiveProductsKey); err != nil {
		slog.Warn("Catalog.Invalidate: cache delete failed", "error", err)
	}
}

// Product returns the product with id, or store.ErrNotFound.
func (c *Catalog) Product(id int64) (*models.Product, error) {
	p, err := c.repo.GetProduct(id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, store.ErrNotFound
	}
	return p, nil
}

// Validate checks the fields every stored product must satisfy and fills
// the default unit.
func Validate(p *models.Product) error {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidProduct)
	}
	if p.Price < 0 {
		return fmt.Errorf("%w: price must not be negative", ErrInvalidProduct)
	}
	if p.Stock < 0 {
		return fmt.Errorf("%w: stock must not be negative", ErrInvalidProduct)
	}
	p.Code = strings.TrimSpace(p.Code)
	if strings.TrimSpace(p.Unit) == "" {
		p.Unit = models.DefaultUnit
	}
	return nil
}

// Create validates and stores p, returning it with its assigned ID.
func (c *Catalog) Create(ctx context.Context, p models.Product) (*models.Product, error) {
	if err := Validate(&p); err != nil {
		return nil, err
	}
	id, err := c.repo.CreateProduct(p)
	if err != nil {
		return nil, err
	}
	c.Invalidate(ctx)
	p.ID = id
	slog.Info("Catalog.Create: product created", "id", id, "name", p.Name)
	return &p, nil
}

// Update replaces the stored product with the same ID.
func (c *Catalog) Update(ctx context.Context, p models.Product) (*models.Product, error) {
	if err := Validate(&p); err != nil {
		return nil, err
	}
	if err := c.repo.UpdateProduct(p); err != nil {
		return nil, err
	}
	c.Invalidate(ctx)
	return c.Product(p.ID)
}

// Deactivate soft-deletes a product.
func (c *Catalog) Deactivate(ctx context.Context, id int64) error {
	if err := c.repo.DeactivateProduct(id); err != nil {
		return err
	}
	c.Invalidate(ctx)
	slog.Info("Catalog.Deactivate: product deactivated", "id", id)
	return nil
}
