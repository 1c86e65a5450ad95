package messaging

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/BTreeMap/ShopPipe/internal/models"
	"github.com/BTreeMap/ShopPipe/internal/twiliowhatsapp"
)

type stubValidator struct {
	ok      bool
	gotURL  string
	gotBody string
	gotSig  string
}

func (v *stubValidator) ValidateWebhook(url string, params map[string]string, signature string) bool {
	v.gotURL, v.gotBody, v.gotSig = url, params["Body"], signature
	return v.ok
}

func postWebhook(svc *TwilioService, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/twilio", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Twilio-Signature", "sig")
	w := httptest.NewRecorder()
	svc.WebhookHandler(w, req)
	return w
}

func TestTwilioService_Webhook(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())
	w := postWebhook(svc, url.Values{"From": {"whatsapp:+5511988887777"}, "Body": {"produtos"}, "MessageSid": {"SM123"}})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	select {
	case msg := <-svc.Inbound():
		if msg.From != "5511988887777" || msg.Body != "produtos" || msg.ID != "SM123" {
			t.Errorf("inbound = %+v", msg)
		}
	default:
		t.Fatal("no inbound message emitted")
	}

	if w := postWebhook(svc, url.Values{"From": {"whatsapp:+5511988887777"}}); w.Code != http.StatusBadRequest {
		t.Errorf("missing body status = %d", w.Code)
	}
}

func TestTwilioService_WebhookSignature(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())
	v := &stubValidator{}
	svc.RequireSignature(v, "https://shop.example/webhooks/twilio")

	form := url.Values{"From": {"whatsapp:+5511988887777"}, "Body": {"oi"}}
	if w := postWebhook(svc, form); w.Code != http.StatusForbidden {
		t.Errorf("bad signature status = %d", w.Code)
	}
	if v.gotURL != "https://shop.example/webhooks/twilio" || v.gotBody != "oi" || v.gotSig != "sig" {
		t.Errorf("validator saw %q %q %q", v.gotURL, v.gotBody, v.gotSig)
	}

	v.ok = true
	if w := postWebhook(svc, form); w.Code != http.StatusOK {
		t.Errorf("good signature status = %d", w.Code)
	}
}

func TestTwilioService_SendReply(t *testing.T) {
	mock := twiliowhatsapp.NewMockClient()
	svc := NewTwilioService(mock)
	if err := svc.SendReply(context.Background(), "whatsapp:+5511988887777", models.Text("Olá")); err != nil {
		t.Fatal(err)
	}
	if len(mock.SentMessages) != 1 || mock.SentMessages[0].To != "5511988887777" {
		t.Errorf("sent = %+v", mock.SentMessages)
	}
	svc.Stop()
	if err := svc.SendReply(context.Background(), "5511988887777", models.Text("x")); err != ErrServiceStopped {
		t.Errorf("after Stop = %v", err)
	}
}
