// Package cart is the per-user cart store. It applies the inactivity TTL on
// load and keeps the total consistent on every write.
package cart

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/ShopPipe/internal/models"
	"github.com/BTreeMap/ShopPipe/internal/store"
)

// DefaultTTL is how long an untouched cart survives.
const DefaultTTL = 24 * time.Hour

// ErrNoCart is returned by mutations on a user without a live cart.
var ErrNoCart = errors.New("cart not found")

// Opts configures a Store.
type Opts struct {
	TTL   time.Duration
	Clock func() time.Time
}

// Option configures a Store.
type Option func(*Opts)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(o *Opts) { o.TTL = ttl }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Clock = now }
}

// Store wraps a store.CartRepo with TTL and total bookkeeping.
type Store struct {
	repo store.CartRepo
	ttl  time.Duration
	now  func() time.Time
}

// New returns a Store over repo.
func New(repo store.CartRepo, opts ...Option) *Store {
	cfg := Opts{TTL: DefaultTTL, Clock: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Store{repo: repo, ttl: cfg.TTL, now: cfg.Clock}
}

// TTL returns the configured expiry.
func (s *Store) TTL() time.Duration { return s.ttl }

func (s *Store) expired(c *models.Cart) bool {
	last := c.UpdatedAt
	if c.LastInteraction.After(last) {
		last = c.LastInteraction
	}
	return !last.IsZero() && s.now().Sub(last) > s.ttl
}

// Load returns the user's cart, or nil when there is none or it has expired.
// An expired cart is deleted as a side effect.
func (s *Store) Load(userID string) (*models.Cart, error) {
	c, err := s.repo.GetCart(userID)
	if err != nil {
		return nil, fmt.Errorf("load cart: %w", err)
	}
	if c == nil {
		return nil, nil
	}
	if s.expired(c) {
		slog.Debug("CartStore.Load: cart expired", "userID", userID, "updatedAt", c.UpdatedAt)
		if err := s.repo.DeleteCart(userID); err != nil {
			slog.Warn("CartStore.Load: delete expired cart failed", "userID", userID, "error", err)
		}
		return nil, nil
	}
	return c, nil
}

// Require is Load for callers that need a cart; absence is ErrNoCart.
func (s *Store) Require(userID string) (*models.Cart, error) {
	c, err := s.Load(userID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, ErrNoCart
	}
	return c, nil
}

// Save recomputes the total and upserts c.
func (s *Store) Save(c *models.Cart) error {
	c.Recalculate()
	if err := s.repo.SaveCart(*c); err != nil {
		return fmt.Errorf("save cart: %w", err)
	}
	return nil
}

// CreateWelcome starts an empty cart in the welcome state.
func (s *Store) CreateWelcome(userID string) (*models.Cart, error) {
	now := s.now()
	c := &models.Cart{
		UserID:          userID,
		State:           models.StateWelcome,
		LastInteraction: now,
		CreatedAt:       now,
	}
	if err := s.Save(c); err != nil {
		return nil, err
	}
	return c, nil
}

// AddItem adds qty of p to the cart, incrementing an existing line.
func (s *Store) AddItem(c *models.Cart, p models.Product, qty int) error {
	c.AddItem(p, qty)
	return s.Save(c)
}

// SetState moves the cart to state.
func (s *Store) SetState(c *models.Cart, state models.State) error {
	c.State = state
	return s.Save(c)
}

// SetAddress stores a trimmed delivery address.
func (s *Store) SetAddress(c *models.Cart, address string) error {
	c.Address = strings.TrimSpace(address)
	return s.Save(c)
}

// Clear deletes the user's cart.
func (s *Store) Clear(userID string) error {
	if err := s.repo.DeleteCart(userID); err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return nil
}

// SweepExpired deletes every cart idle longer than the TTL.
func (s *Store) SweepExpired() (int, error) {
	n, err := s.repo.DeleteCartsIdleSince(s.now().Add(-s.ttl))
	if err != nil {
		return 0, fmt.Errorf("sweep expired carts: %w", err)
	}
	return n, nil
}

// Count returns the number of stored carts.
func (s *Store) Count() (int, error) {
	return s.repo.CountCarts()
}
