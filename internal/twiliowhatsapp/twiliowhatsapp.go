// Package twiliowhatsapp sends WhatsApp messages through the Twilio REST API.
package twiliowhatsapp

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/twilio/twilio-go"
	twilioclient "github.com/twilio/twilio-go/client"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// WhatsAppPrefix marks Twilio WhatsApp addresses.
const WhatsAppPrefix = "whatsapp:"

// Sender sends plain text to a WhatsApp number.
type Sender interface {
	SendMessage(ctx context.Context, to string, body string) error
}

// Opts holds the Twilio credentials and sender number.
type Opts struct {
	AccountSID string
	AuthToken  string
	FromWhats  string
}

// Option configures the Twilio client.
type Option func(*Opts)

// WithAccountSID sets the account SID.
func WithAccountSID(sid string) Option {
	return func(o *Opts) { o.AccountSID = sid }
}

// WithAuthToken sets the auth token, also used to validate webhooks.
func WithAuthToken(token string) Option {
	return func(o *Opts) { o.AuthToken = token }
}

// WithFromWhats sets the sending number. The "whatsapp:" prefix is optional.
func WithFromWhats(from string) Option {
	return func(o *Opts) { o.FromWhats = from }
}

// Client wraps the Twilio REST client.
type Client struct {
	client    *twilio.RestClient
	validator twilioclient.RequestValidator
	fromWhats string
}

// Address prefixes number with "whatsapp:" unless it already has it.
func Address(number string) string {
	if strings.HasPrefix(number, WhatsAppPrefix) {
		return number
	}
	if !strings.HasPrefix(number, "+") {
		number = "+" + number
	}
	return WhatsAppPrefix + number
}

// NewClient builds a Client, falling back to TWILIO_* environment variables.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" {
		cfg.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if cfg.FromWhats == "" {
		cfg.FromWhats = os.Getenv("TWILIO_FROM_NUMBER")
	}
	slog.Debug("twiliowhatsapp.NewClient: config loaded",
		"accountSIDSet", cfg.AccountSID != "", "authTokenSet", cfg.AuthToken != "", "fromSet", cfg.FromWhats != "")

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("account SID and auth token must be provided")
	}
	if cfg.FromWhats == "" {
		return nil, fmt.Errorf("sender number must be provided")
	}
	return &Client{
		client: twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: cfg.AccountSID,
			Password: cfg.AuthToken,
		}),
		validator: twilioclient.NewRequestValidator(cfg.AuthToken),
		fromWhats: Address(cfg.FromWhats),
	}, nil
}

// SendMessage sends body to the number to.
func (c *Client) SendMessage(ctx context.Context, to string, body string) error {
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(Address(to))
	params.SetFrom(c.fromWhats)
	params.SetBody(body)

	resp, err := c.client.Api.CreateMessage(params)
	if err != nil {
		return fmt.Errorf("send message to %s: %w", to, err)
	}
	if resp.Sid != nil {
		slog.Debug("Client.SendMessage: sent", "to", to, "sid", *resp.Sid)
	}
	return nil
}

// ValidateWebhook checks the X-Twilio-Signature of a webhook call.
func (c *Client) ValidateWebhook(url string, params map[string]string, signature string) bool {
	return c.validator.Validate(url, params, signature)
}

// SentMessage is a message captured by MockClient.
type SentMessage struct {
	To   string
	Body string
}

// MockClient records sends for tests.
type MockClient struct {
	mu           sync.Mutex
	SentMessages []SentMessage
}

func NewMockClient() *MockClient {
	return &MockClient{}
}

func (m *MockClient) SendMessage(ctx context.Context, to string, body string) error {
	m.mu.Lock()
	m.SentMessages = append(m.SentMessages, SentMessage{To: to, Body: body})
	m.mu.Unlock()
	return nil
}
