// Package orders turns carts into persisted orders and serves the admin
// order operations.
package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/BTreeMap/ShopPipe/internal/models"
	"github.com/BTreeMap/ShopPipe/internal/notify"
	"github.com/BTreeMap/ShopPipe/internal/store"
)

var (
	// ErrEmptyOrder is returned when an order has no items.
	ErrEmptyOrder = errors.New("order has no items")
	// ErrInvalidStatus is returned for a status outside the known set.
	ErrInvalidStatus = errors.New("invalid order status")
	// ErrInvalidOrder is returned for malformed admin order requests.
	ErrInvalidOrder = errors.New("invalid order")
)

// EventPublisher receives order.placed events. A nil publisher is allowed.
type EventPublisher interface {
	PublishOrderPlaced(ctx context.Context, o models.Order) error
}

// ProductLookup prices admin-created orders from the catalog.
type ProductLookup interface {
	Product(id int64) (*models.Product, error)
}

// LineRequest is one line of an admin-created order.
type LineRequest struct {
	ProductID int64 `json:"productId"`
	Quantity  int   `json:"quantity"`
}

// Service places and manages orders.
type Service struct {
	repo      store.OrderRepo
	products  ProductLookup
	publisher EventPublisher
	owner     *notify.Owner
	now       func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithPublisher sets the order event publisher.
func WithPublisher(p EventPublisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithOwnerNotifier sets who is told about new orders.
func WithOwnerNotifier(o *notify.Owner) Option {
	return func(s *Service) { s.owner = o }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService returns a Service.
func NewService(repo store.OrderRepo, products ProductLookup, opts ...Option) *Service {
	s := &Service{repo: repo, products: products, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewOrderID returns a lexically sortable order ID.
func NewOrderID() string {
	return ulid.Make().String()
}

// PlaceFromCart persists the cart as a pending order, then publishes the
// order event and queues the owner notification. Only the persist step can
// fail the call; the cart itself is left for the caller to clear.
func (s *Service) PlaceFromCart(ctx context.Context, c *models.Cart) (*models.Order, error) {
	if c == nil || c.IsEmpty() {
		return nil, ErrEmptyOrder
	}
	items := make([]models.OrderItem, 0, len(c.Items))
	var total int64
	for _, it := range c.Items {
		items = append(items, models.OrderItem(it))
		total += it.Subtotal()
	}
	o := models.Order{
		ID:          NewOrderID(),
		PhoneNumber: c.UserID,
		Items:       items,
		Total:       total,
		Address:     c.Address,
		Status:      models.OrderStatusPending,
		CreatedAt:   s.now(),
	}
	if err := s.place(ctx, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *Service) place(ctx context.Context, o *models.Order) error {
	if err := s.repo.CreateOrder(*o); err != nil {
		return fmt.Errorf("persist order: %w", err)
	}
	slog.Info("Orders.place: order created", "orderID", o.ID, "phone", o.PhoneNumber, "total", o.Total)

	if s.publisher != nil {
		if err := s.publisher.PublishOrderPlaced(ctx, *o); err != nil {
			slog.Error("Orders.place: publish failed", "orderID", o.ID, "error", err)
		}
	}
	if err := s.owner.Notify(OwnerSummary(*o), "order:"+o.ID); err != nil {
		slog.Error("Orders.place: owner notification failed", "orderID", o.ID, "error", err)
	}
	return nil
}

// OwnerSummary renders the owner notification for a new order.
func OwnerSummary(o models.Order) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🛒 Novo pedido %s\n", o.ID)
	fmt.Fprintf(&b, "Cliente: %s\n", o.PhoneNumber)
	for _, it := range o.Items {
		fmt.Fprintf(&b, "- %dx %s (%s)\n", it.Quantity, it.Name, models.FormatBRL(it.UnitPrice))
	}
	fmt.Fprintf(&b, "Total: %s\n", models.FormatBRL(o.Total))
	if o.Address != "" {
		fmt.Fprintf(&b, "Endereço: %s", o.Address)
	}
	return strings.TrimRight(b.String(), "\n")
}

// Create places an order on behalf of a customer, pricing each line from
// the catalog.
func (s *Service) Create(ctx context.Context, phone string, lines []LineRequest, address string) (*models.Order, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return nil, fmt.Errorf("%w: phoneNumber is required", ErrInvalidOrder)
	}
	if len(lines) == 0 {
		return nil, ErrEmptyOrder
	}

	var c models.Cart
	for _, l := range lines {
		if l.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity must be positive", ErrInvalidOrder)
		}
		p, err := s.products.Product(l.ProductID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, fmt.Errorf("%w: product %d not found", ErrInvalidOrder, l.ProductID)
			}
			return nil, err
		}
		if !p.Active {
			return nil, fmt.Errorf("%w: product %d is inactive", ErrInvalidOrder, l.ProductID)
		}
		c.AddItem(*p, l.Quantity)
	}
	c.UserID = phone
	c.Address = strings.TrimSpace(address)
	return s.PlaceFromCart(ctx, &c)
}

// List returns all orders, newest first.
func (s *Service) List() ([]models.Order, error) {
	return s.repo.ListOrders()
}

// Get returns one order or store.ErrNotFound.
func (s *Service) Get(id string) (*models.Order, error) {
	o, err := s.repo.GetOrder(id)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, store.ErrNotFound
	}
	return o, nil
}

// UpdateStatus validates and applies a status change.
func (s *Service) UpdateStatus(id string, status models.OrderStatus) (*models.Order, error) {
	if !models.IsValidOrderStatus(status) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	if err := s.repo.UpdateOrderStatus(id, status); err != nil {
		return nil, err
	}
	slog.Info("Orders.UpdateStatus", "orderID", id, "status", status)
	return s.Get(id)
}
