package messaging

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/BTreeMap/ShopPipe/internal/metrics"
	"github.com/BTreeMap/ShopPipe/internal/models"
	"github.com/BTreeMap/ShopPipe/internal/store"
	"github.com/BTreeMap/ShopPipe/internal/util"
	"github.com/BTreeMap/ShopPipe/internal/whatsapp"
)

// RelayFailedText is sent to the owner when a relayed message cannot be delivered.
const RelayFailedText = "Erro ao enviar mensagem para o cliente."

// relayPattern matches "@<digits> <text>" sent by the owner.
var relayPattern = regexp.MustCompile(`(?s)^@(\d+)\s*(.*)`)

// Handler runs one message through the conversation core.
type Handler interface {
	Handle(ctx context.Context, userID, text string) []models.Reply
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithOwner enables "@<number> <text>" relays from owner.
func WithOwner(owner string) DispatcherOption {
	return func(d *Dispatcher) { d.owner = util.DigitsOnly(owner) }
}

// WithDedup drops redelivered transport message IDs.
func WithDedup(repo store.DedupRepo) DispatcherOption {
	return func(d *Dispatcher) { d.dedup = repo }
}

// WithMetrics counts messages by type.
func WithMetrics(m *metrics.Metrics) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = m }
}

// Dispatcher routes inbound messages: groups and duplicates are dropped,
// owner relays bypass the conversation core, everything else goes to the
// Handler. Each message is processed on its own goroutine.
type Dispatcher struct {
	handler Handler
	sender  ReplySender
	owner   string
	dedup   store.DedupRepo
	metrics *metrics.Metrics
	wg      sync.WaitGroup
}

// NewDispatcher returns a Dispatcher sending replies through sender.
func NewDispatcher(handler Handler, sender ReplySender, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{handler: handler, sender: sender}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run consumes in until it is closed or ctx is done, then waits for
// in-flight messages.
func (d *Dispatcher) Run(ctx context.Context, in <-chan models.InboundMessage) {
	slog.Info("Dispatcher.Run: started", "relayEnabled", d.owner != "")
	defer d.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			d.wg.Add(1)
			go func() {
				defer d.wg.Done()
				d.Process(ctx, msg)
			}()
		}
	}
}

// Process handles a single inbound message synchronously.
func (d *Dispatcher) Process(ctx context.Context, msg models.InboundMessage) {
	if msg.IsGroup || whatsapp.IsGroup(msg.From) {
		d.metrics.CountMessage(metrics.TypeGroupIgnored)
		return
	}
	if d.duplicate(msg) {
		d.metrics.CountMessage(metrics.TypeDuplicate)
		slog.Debug("Dispatcher.Process: duplicate dropped", "id", msg.ID)
		return
	}
	d.metrics.CountMessage(metrics.TypeInbound)

	if d.relay(ctx, msg) {
		return
	}

	for _, reply := range d.handler.Handle(ctx, msg.From, msg.Body) {
		if err := d.sender.SendReply(ctx, msg.From, reply); err != nil {
			slog.Error("Dispatcher.Process: reply not delivered", "to", msg.From, "error", err)
		}
	}
	if d.dedup != nil && msg.ID != "" {
		if err := d.dedup.MarkProcessed(msg.ID); err != nil {
			slog.Warn("Dispatcher.Process: mark processed failed", "id", msg.ID, "error", err)
		}
	}
}

func (d *Dispatcher) duplicate(msg models.InboundMessage) bool {
	if d.dedup == nil || msg.ID == "" {
		return false
	}
	fresh, err := d.dedup.RecordInbound(msg.ID, msg.From)
	if err != nil {
		slog.Warn("Dispatcher.duplicate: dedup check failed, processing anyway", "id", msg.ID, "error", err)
		return false
	}
	return !fresh
}

// relay forwards an owner's "@<number> <text>" message. It reports whether
// msg was a relay.
func (d *Dispatcher) relay(ctx context.Context, msg models.InboundMessage) bool {
	if d.owner == "" || util.DigitsOnly(msg.From) != d.owner {
		return false
	}
	m := relayPattern.FindStringSubmatch(strings.TrimSpace(msg.Body))
	if m == nil {
		return false
	}
	to, text := m[1], strings.TrimSpace(m[2])
	d.metrics.CountMessage(metrics.TypeRelay)
	slog.Info("Dispatcher.relay: forwarding owner message", "to", to)
	if err := d.sender.SendReply(ctx, to, models.Text(text)); err != nil {
		slog.Error("Dispatcher.relay: delivery failed", "to", to, "error", err)
		if err := d.sender.SendReply(ctx, msg.From, models.Text(RelayFailedText)); err != nil {
			slog.Error("Dispatcher.relay: could not notify owner", "error", err)
		}
	}
	return true
}
