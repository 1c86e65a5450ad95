// Package store provides persistence for ShopPipe.
//
// Carts, products, orders and conversation transcripts live behind the Store
// interface. The SQL backends (SQLite and PostgreSQL) additionally implement
// the durable JobRepo and OutboxRepo used for restart-safe timers and sends.
package store

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/ShopPipe/internal/models"
)

// ErrNotFound is returned by update operations that matched no row.
var ErrNotFound = errors.New("record not found")

// CartRepo persists one cart per user. Writes are upserts keyed by user ID.
type CartRepo interface {
	// GetCart returns nil, nil when the user has no cart.
	GetCart(userID string) (*models.Cart, error)
	SaveCart(cart models.Cart) error
	DeleteCart(userID string) error
	// DeleteCartsIdleSince removes carts whose updated_at is before cutoff.
	DeleteCartsIdleSince(cutoff time.Time) (int, error)
	CountCarts() (int, error)
}

// ProductRepo persists the catalog. Listing order is insertion order.
type ProductRepo interface {
	ListActiveProducts() ([]models.Product, error)
	GetProduct(id int64) (*models.Product, error)
	FindProductByCode(code string) (*models.Product, error)
	// FindProductByName matches the whole name case-insensitively.
	FindProductByName(name string) (*models.Product, error)
	CreateProduct(p models.Product) (int64, error)
	UpdateProduct(p models.Product) error
	DeactivateProduct(id int64) error
}

// OrderRepo persists placed orders.
type OrderRepo interface {
	CreateOrder(o models.Order) error
	GetOrder(id string) (*models.Order, error)
	// ListOrders returns orders newest first.
	ListOrders() ([]models.Order, error)
	UpdateOrderStatus(id string, status models.OrderStatus) error
}

// ConversationRepo persists the per-user transcript used as assistant context.
type ConversationRepo interface {
	AppendTurn(userID string, turn models.ConversationTurn) error
	// RecentTurns returns at most n turns, oldest first.
	RecentTurns(userID string, n int) ([]models.ConversationTurn, error)
}

// Store is the record store consumed by the conversation core and the admin API.
type Store interface {
	CartRepo
	ProductRepo
	OrderRepo
	ConversationRepo
	DedupRepo
	Close() error
}

// SQLStore is a Store that also provides durable jobs and an outbox.
type SQLStore interface {
	Store
	JobRepo
	OutboxRepo
}

// Opts holds configuration for the SQL store constructors.
type Opts struct {
	DSN string
}

// Option configures a store.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType reports "postgres" for PostgreSQL URLs or keyword DSNs and
// "sqlite3" for everything else (file paths).
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") ||
		strings.Contains(dsn, "host=") || strings.Contains(dsn, "dbname=") {
		return "postgres"
	}
	return "sqlite3"
}

// Open picks the backend from the DSN and returns a migrated SQL store.
func Open(dsn string) (SQLStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database DSN not set")
	}
	switch DetectDSNType(dsn) {
	case "postgres":
		slog.Debug("store.Open: using PostgreSQL backend")
		return NewPostgresStore(WithPostgresDSN(dsn))
	default:
		slog.Debug("store.Open: using SQLite backend", "path", dsn)
		return NewSQLiteStore(WithSQLiteDSN(dsn))
	}
}
