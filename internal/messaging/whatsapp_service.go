package messaging

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/BTreeMap/ShopPipe/internal/models"
	"github.com/BTreeMap/ShopPipe/internal/whatsapp"
)

// WhatsAppService is the whatsmeow transport.
type WhatsAppService struct {
	channels
	client    whatsapp.Sender
	waClient  *whatsapp.Client
	handlerID uint32
	startOnce sync.Once
}

var _ Service = (*WhatsAppService)(nil)

// NewWhatsAppService wraps client. Inbound events are only available when
// client is a *whatsapp.Client.
func NewWhatsAppService(client whatsapp.Sender) *WhatsAppService {
	s := &WhatsAppService{client: client}
	s.init()
	if wa, ok := client.(*whatsapp.Client); ok {
		s.waClient = wa
	}
	return s
}

// Start subscribes to whatsmeow events.
func (s *WhatsAppService) Start(ctx context.Context) error {
	s.startOnce.Do(func() {
		if s.waClient == nil || s.waClient.GetClient() == nil {
			slog.Debug("WhatsAppService.Start: no live client, inbound disabled")
			return
		}
		s.handlerID = s.waClient.GetClient().AddEventHandler(s.handleEvent)
		slog.Info("WhatsAppService.Start: event handler registered")
	})
	return nil
}

// Stop unsubscribes and closes the event channels.
func (s *WhatsAppService) Stop() error {
	if s.waClient != nil && s.waClient.GetClient() != nil && s.handlerID != 0 {
		s.waClient.GetClient().RemoveEventHandler(s.handlerID)
	}
	s.close()
	slog.Info("WhatsAppService.Stop: stopped")
	return nil
}

// SendReply renders reply as text and emits a sent receipt.
func (s *WhatsAppService) SendReply(ctx context.Context, to string, reply models.Reply) error {
	if s.isStopped() {
		return ErrServiceStopped
	}
	canonical, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		return err
	}
	if err := s.client.SendMessage(ctx, canonical, RenderText(reply)); err != nil {
		return err
	}
	s.emitReceipt(models.Receipt{To: canonical, Status: models.MessageStatusSent, Time: time.Now().Unix()})
	return nil
}

func (s *WhatsAppService) handleEvent(evt interface{}) {
	switch v := evt.(type) {
	case *events.Message:
		if msg, ok := inboundFromEvent(v); ok {
			s.emitInbound(msg)
		}
	case *events.Receipt:
		if r, ok := receiptFromEvent(v); ok {
			s.emitReceipt(r)
		}
	}
}

// inboundFromEvent extracts a text message. Own messages and non-text
// content are skipped.
func inboundFromEvent(evt *events.Message) (models.InboundMessage, bool) {
	if evt.Message == nil || evt.Info.IsFromMe {
		return models.InboundMessage{}, false
	}
	var text string
	switch {
	case evt.Message.GetConversation() != "":
		text = evt.Message.GetConversation()
	case evt.Message.GetExtendedTextMessage().GetText() != "":
		text = evt.Message.GetExtendedTextMessage().GetText()
	default:
		slog.Debug("WhatsAppService: ignoring non-text message", "from", evt.Info.Sender.User)
		return models.InboundMessage{}, false
	}

	from := evt.Info.Sender.User
	if evt.Info.IsGroup {
		from = evt.Info.Chat.String()
	}
	return models.InboundMessage{
		ID:      string(evt.Info.ID),
		From:    from,
		Body:    text,
		IsGroup: evt.Info.IsGroup || evt.Info.Chat.Server == types.GroupServer,
		Time:    evt.Info.Timestamp.Unix(),
	}, true
}

func receiptFromEvent(evt *events.Receipt) (models.Receipt, bool) {
	var status models.MessageStatus
	switch evt.Type {
	case events.ReceiptTypeDelivered:
		status = models.MessageStatusDelivered
	case events.ReceiptTypeRead:
		status = models.MessageStatusRead
	default:
		return models.Receipt{}, false
	}
	return models.Receipt{To: evt.MessageSource.Sender.User, Status: status, Time: evt.Timestamp.Unix()}, true
}
