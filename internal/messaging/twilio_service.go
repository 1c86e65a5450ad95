package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/ShopPipe/internal/models"
	"github.com/BTreeMap/ShopPipe/internal/twiliowhatsapp"
	"github.com/BTreeMap/ShopPipe/internal/util"
)

// WebhookValidator checks Twilio request signatures.
type WebhookValidator interface {
	ValidateWebhook(url string, params map[string]string, signature string) bool
}

// TwilioService is the Twilio transport. Inbound messages arrive through
// WebhookHandler.
type TwilioService struct {
	channels
	client    twiliowhatsapp.Sender
	validator WebhookValidator
	publicURL string
}

var _ Service = (*TwilioService)(nil)

// NewTwilioService wraps client.
func NewTwilioService(client twiliowhatsapp.Sender) *TwilioService {
	s := &TwilioService{client: client}
	s.init()
	return s
}

// RequireSignature rejects webhook calls whose X-Twilio-Signature does not
// match publicURL, the externally visible webhook address.
func (s *TwilioService) RequireSignature(v WebhookValidator, publicURL string) {
	s.validator = v
	s.publicURL = publicURL
}

// Start is a no-op; Twilio pushes to the webhook.
func (s *TwilioService) Start(ctx context.Context) error {
	return nil
}

// Stop closes the event channels.
func (s *TwilioService) Stop() error {
	s.close()
	return nil
}

// SendReply renders reply as text and sends it through the Twilio API.
func (s *TwilioService) SendReply(ctx context.Context, to string, reply models.Reply) error {
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

// WebhookHandler receives Twilio's inbound message callbacks.
func (s *TwilioService) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}
	if s.validator != nil {
		params := make(map[string]string, len(r.PostForm))
		for k := range r.PostForm {
			params[k] = r.PostForm.Get(k)
		}
		if !s.validator.ValidateWebhook(s.publicURL, params, r.Header.Get("X-Twilio-Signature")) {
			slog.Warn("TwilioService.WebhookHandler: invalid signature", "remote", r.RemoteAddr)
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
	}

	from := r.FormValue("From")
	body := r.FormValue("Body")
	if from == "" || body == "" {
		http.Error(w, "Missing required fields", http.StatusBadRequest)
		return
	}

	s.emitInbound(models.InboundMessage{
		ID:   r.FormValue("MessageSid"),
		From: util.DigitsOnly(from),
		Body: body,
		Time: time.Now().Unix(),
	})
	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "<Response></Response>")
}
