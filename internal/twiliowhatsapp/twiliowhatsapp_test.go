package twiliowhatsapp

import (
	"context"
	"testing"
)

func TestAddress(t *testing.T) {
	tests := map[string]string{
		"5511988887777":           "whatsapp:+5511988887777",
		"+5511988887777":          "whatsapp:+5511988887777",
		"whatsapp:+5511988887777": "whatsapp:+5511988887777",
	}
	for in, want := range tests {
		if got := Address(in); got != want {
			t.Errorf("Address(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNewClient_RequiresCredentials(t *testing.T) {
	t.Setenv("TWILIO_ACCOUNT_SID", "")
	t.Setenv("TWILIO_AUTH_TOKEN", "")
	t.Setenv("TWILIO_FROM_NUMBER", "")
	if _, err := NewClient(); err == nil {
		t.Error("expected error without credentials")
	}
	if _, err := NewClient(WithAccountSID("AC123"), WithAuthToken("tok")); err == nil {
		t.Error("expected error without sender number")
	}
	c, err := NewClient(WithAccountSID("AC123"), WithAuthToken("tok"), WithFromWhats("+14155238886"))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if c.fromWhats != "whatsapp:+14155238886" {
		t.Errorf("fromWhats = %q", c.fromWhats)
	}
}

func TestValidateWebhook_RejectsBadSignature(t *testing.T) {
	c, err := NewClient(WithAccountSID("AC123"), WithAuthToken("tok"), WithFromWhats("+14155238886"))
	if err != nil {
		t.Fatal(err)
	}
	if c.ValidateWebhook("https://shop.example/webhooks/twilio", map[string]string{"Body": "oi"}, "bogus") {
		t.Error("bogus signature accepted")
	}
}

func TestMockClient_SendMessage(t *testing.T) {
	mock := NewMockClient()
	if err := mock.SendMessage(context.Background(), "5511", "Olá"); err != nil {
		t.Fatal(err)
	}
	if len(mock.SentMessages) != 1 || mock.SentMessages[0].Body != "Olá" {
		t.Errorf("sent = %+v", mock.SentMessages)
	}
}
