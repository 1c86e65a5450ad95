package models

import (
	"fmt"
	"time"
)

// DefaultUnit is the display unit used when a product has none.
const DefaultUnit = "UNID"

// State is a node of the conversation state machine, persisted on the cart.
type State string

const (
	StateWelcome                     State = "welcome"
	StateMenu                        State = "menu"
	StateAwaitingCatalogSelection    State = "awaiting_catalog_selection"
	StateAwaitingCartAction          State = "awaiting_cart_action"
	StateAwaitingAddress             State = "awaiting_address"
	StateAwaitingAddressConfirmation State = "awaiting_address_confirmation"
)

// Product is a catalog entry. Price is in centavos.
type Product struct {
	ID        int64     `json:"id"`
	Code      string    `json:"code,omitempty"`
	Name      string    `json:"name"`
	Price     int64     `json:"price_cents"`
	Unit      string    `json:"unit"`
	ImageURL  string    `json:"image_url,omitempty"`
	Active    bool      `json:"active"`
	Stock     int       `json:"stock"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CartItem is a snapshot of a product taken when it was added to a cart.
type CartItem struct {
	ProductID int64  `json:"product_id"`
	Name      string `json:"name"`
	UnitPrice int64  `json:"unit_price_cents"`
	Quantity  int    `json:"quantity"`
}

// Subtotal returns UnitPrice * Quantity.
func (i CartItem) Subtotal() int64 {
	return i.UnitPrice * int64(i.Quantity)
}

// Cart is the per-user shopping session. Total is always derived from Items.
type Cart struct {
	UserID  string     `json:"user_id"`
	Items   []CartItem `json:"items"`
	Total   int64      `json:"total_cents"`
	State   State      `json:"state"`
	Address string     `json:"address,omitempty"`

	// LastInteraction and InactivityJobID replace in-process timer maps.
	LastInteraction time.Time `json:"last_interaction"`
	InactivityJobID string    `json:"inactivity_job_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AddItem adds qty units of p. A product already in the cart has its
// quantity incremented instead of getting a second line.
func (c *Cart) AddItem(p Product, qty int) {
	if qty <= 0 {
		qty = 1
	}
	found := false
	for i := range c.Items {
		if c.Items[i].ProductID == p.ID {
			c.Items[i].Quantity += qty
			found = true
			break
		}
	}
	if !found {
		c.Items = append(c.Items, CartItem{
			ProductID: p.ID,
			Name:      p.Name,
			UnitPrice: p.Price,
			Quantity:  qty,
		})
	}
	c.Recalculate()
}

// Recalculate sets Total to the sum of the item subtotals.
func (c *Cart) Recalculate() {
	var total int64
	for _, item := range c.Items {
		total += item.Subtotal()
	}
	c.Total = total
}

// IsEmpty reports whether the cart has no items.
func (c *Cart) IsEmpty() bool {
	return len(c.Items) == 0
}

// OrderStatus is the lifecycle status of an order.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusConfirmed OrderStatus = "confirmed"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusCompleted OrderStatus = "completed"
)

// IsValidOrderStatus reports whether s is one of the known statuses.
func IsValidOrderStatus(s OrderStatus) bool {
	switch s {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusCancelled, OrderStatusCompleted:
		return true
	}
	return false
}

// OrderItem is a priced line of an order.
type OrderItem struct {
	ProductID int64  `json:"product_id"`
	Name      string `json:"name"`
	UnitPrice int64  `json:"unit_price_cents"`
	Quantity  int    `json:"quantity"`
}

// Order is a placed purchase.
type Order struct {
	ID          string      `json:"id"`
	PhoneNumber string      `json:"phone_number"`
	Items       []OrderItem `json:"items"`
	Total       int64       `json:"total_cents"`
	Address     string      `json:"address,omitempty"`
	Status      OrderStatus `json:"status"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Sender identifies who authored a conversation turn.
type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

// Sentiment is the classified tone of a user turn.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNegative Sentiment = "negative"
	SentimentNeutral  Sentiment = "neutral"
)

// ConversationTurn is one entry of a user's assistant transcript.
type ConversationTurn struct {
	Sender    Sender    `json:"sender"`
	Content   string    `json:"content"`
	Sentiment Sentiment `json:"sentiment,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// FormatBRL renders centavos as "R$ 12,50".
func FormatBRL(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%sR$ %d,%02d", sign, cents/100, cents%100)
}
