// Package messaging connects chat transports to the conversation core.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/ShopPipe/internal/models"
	"github.com/BTreeMap/ShopPipe/internal/util"
)

const (
	// DefaultChannelBufferSize is the capacity of the inbound and receipt channels.
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout bounds a blocked channel send before the event is dropped.
	DefaultChannelTimeout = time.Second
	// minRecipientDigits rejects obviously truncated numbers.
	minRecipientDigits = 6
)

// ErrServiceStopped is returned by sends after Stop.
var ErrServiceStopped = errors.New("messaging service stopped")

// Service is a chat transport.
type Service interface {
	// ValidateAndCanonicalizeRecipient returns the bare-digits form of recipient.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendReply renders and sends reply to the recipient.
	SendReply(ctx context.Context, to string, reply models.Reply) error

	Start(ctx context.Context) error
	Stop() error

	// Receipts delivers sent/delivered/read events.
	Receipts() <-chan models.Receipt

	// Inbound delivers user messages.
	Inbound() <-chan models.InboundMessage
}

func canonicalizeNumber(recipient string) (string, error) {
	if recipient == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}
	digits := util.DigitsOnly(recipient)
	if digits == "" {
		return "", fmt.Errorf("invalid phone number: no digits in %q", recipient)
	}
	if len(digits) < minRecipientDigits {
		return "", fmt.Errorf("invalid phone number: %q is too short", digits)
	}
	return digits, nil
}

// channels holds the event channels shared by every transport and guards
// them against sends after Stop.
type channels struct {
	mu       sync.RWMutex
	stopped  bool
	receipts chan models.Receipt
	inbound  chan models.InboundMessage
}

func (c *channels) init() {
	c.receipts = make(chan models.Receipt, DefaultChannelBufferSize)
	c.inbound = make(chan models.InboundMessage, DefaultChannelBufferSize)
}

// Receipts delivers sent/delivered/read events.
func (c *channels) Receipts() <-chan models.Receipt {
	return c.receipts
}

// Inbound delivers user messages.
func (c *channels) Inbound() <-chan models.InboundMessage {
	return c.inbound
}

func (c *channels) isStopped() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stopped
}

// ValidateAndCanonicalizeRecipient strips everything but digits and rejects
// numbers shorter than six digits.
func (c *channels) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizeNumber(recipient)
}

// close marks the channels stopped and closes them. It is idempotent.
func (c *channels) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	c.stopped = true
	close(c.receipts)
	close(c.inbound)
}

func (c *channels) emitReceipt(r models.Receipt) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.stopped {
		return
	}
	select {
	case c.receipts <- r:
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("messaging.emitReceipt: channel blocked, dropping receipt", "to", r.To, "status", r.Status)
	}
}

func (c *channels) emitInbound(m models.InboundMessage) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.stopped {
		slog.Warn("messaging.emitInbound: service stopped, dropping message", "from", m.From)
		return
	}
	select {
	case c.inbound <- m:
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("messaging.emitInbound: channel blocked, dropping message", "from", m.From)
	}
}
