// Package whatsapp wraps the whatsmeow client used as ShopPipe's default
// chat transport. It owns the device store, the QR login and text sends.
package whatsapp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/mdp/qrterminal/v3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"

	"github.com/BTreeMap/ShopPipe/internal/store"
	"github.com/BTreeMap/ShopPipe/internal/util"
)

const (
	// DefaultSQLitePath is the default whatsmeow device database.
	DefaultSQLitePath = "/var/lib/shoppipe/whatsmeow.db"
	// JIDSuffix is the server part of user JIDs.
	JIDSuffix = "s.whatsapp.net"
	// GroupSuffix marks group chat identities.
	GroupSuffix = "@g.us"
)

// Sender sends plain text to a WhatsApp user.
type Sender interface {
	SendMessage(ctx context.Context, to string, body string) error
}

// Opts configures the WhatsApp client.
type Opts struct {
	DBDSN       string
	QRPath      string // write the login QR here instead of stdout
	NumericCode bool   // print the raw pairing code instead of a QR
	LogLevel    string
}

// Option configures the WhatsApp client.
type Option func(*Opts)

// WithDBDSN sets the whatsmeow device store DSN.
func WithDBDSN(dsn string) Option {
	return func(o *Opts) { o.DBDSN = dsn }
}

// WithQRCodeOutput writes the login QR code to path.
func WithQRCodeOutput(path string) Option {
	return func(o *Opts) { o.QRPath = path }
}

// WithNumericCode prints the pairing code instead of rendering a QR.
func WithNumericCode() Option {
	return func(o *Opts) { o.NumericCode = true }
}

// WithLogLevel sets whatsmeow's own log level (DEBUG, INFO, WARN, ERROR).
func WithLogLevel(level string) Option {
	return func(o *Opts) { o.LogLevel = level }
}

// Client is a connected whatsmeow client.
type Client struct {
	waClient *whatsmeow.Client
}

// driverFor picks the database/sql driver for dsn and reports whether a
// SQLite DSN is missing the foreign key pragma whatsmeow expects.
func driverFor(dsn string) (driver string, missingForeignKeys bool) {
	if store.DetectDSNType(dsn) == "postgres" {
		return "postgres", false
	}
	return "sqlite3", !strings.Contains(dsn, "foreign_keys")
}

// NewClient opens the device store and connects, running the QR login flow
// on first use.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{LogLevel: "INFO"}
	for _, opt := range opts {
		opt(&cfg)
	}
	dsn := cfg.DBDSN
	if dsn == "" {
		dsn = DefaultSQLitePath
	}
	driver, missingFK := driverFor(dsn)
	if missingFK {
		slog.Warn("whatsapp.NewClient: SQLite DSN without foreign keys; add ?_foreign_keys=on", "dsn", dsn)
	}

	ctx := context.Background()
	container, err := sqlstore.New(ctx, driver, dsn, waLog.Stdout("Database", cfg.LogLevel, true))
	if err != nil {
		return nil, fmt.Errorf("open whatsmeow store: %w", err)
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("load whatsmeow device: %w", err)
	}
	waClient := whatsmeow.NewClient(device, waLog.Stdout("Client", cfg.LogLevel, true))

	if waClient.Store.ID == nil {
		if err := login(waClient, cfg); err != nil {
			return nil, err
		}
	} else if err := waClient.Connect(); err != nil {
		return nil, fmt.Errorf("connect to WhatsApp: %w", err)
	}
	slog.Info("whatsapp.NewClient: connected", "driver", driver)
	return &Client{waClient: waClient}, nil
}

func login(waClient *whatsmeow.Client, cfg Opts) error {
	slog.Info("whatsapp.login: device not paired, starting QR flow")
	qrChan, _ := waClient.GetQRChannel(context.Background())
	if err := waClient.Connect(); err != nil {
		return fmt.Errorf("connect for login: %w", err)
	}
	w := io.Writer(os.Stdout)
	if cfg.QRPath != "" {
		f, err := os.Create(cfg.QRPath)
		if err != nil {
			return fmt.Errorf("create QR file: %w", err)
		}
		defer f.Close()
		w = f
	}
	for evt := range qrChan {
		if evt.Event != "code" {
			slog.Info("whatsapp.login: event", "event", evt.Event)
			continue
		}
		if cfg.NumericCode {
			fmt.Fprintln(w, evt.Code)
		} else {
			qrterminal.GenerateHalfBlock(evt.Code, qrterminal.L, w)
		}
	}
	return nil
}

// UserJID turns a phone number or bare JID into a user JID.
func UserJID(to string) (types.JID, error) {
	digits := util.DigitsOnly(to)
	if digits == "" {
		return types.JID{}, fmt.Errorf("invalid recipient %q", to)
	}
	return types.NewJID(digits, JIDSuffix), nil
}

// IsGroup reports whether identity names a group chat.
func IsGroup(identity string) bool {
	return strings.HasSuffix(identity, GroupSuffix)
}

// SendMessage sends body as a plain conversation message.
func (c *Client) SendMessage(ctx context.Context, to string, body string) error {
	if c.waClient == nil {
		return fmt.Errorf("whatsapp client not initialized")
	}
	if body == "" {
		return fmt.Errorf("message body cannot be empty")
	}
	jid, err := UserJID(to)
	if err != nil {
		return err
	}
	if _, err := c.waClient.SendMessage(ctx, jid, &waE2E.Message{Conversation: &body}); err != nil {
		return fmt.Errorf("send to %s: %w", jid.User, err)
	}
	slog.Debug("Client.SendMessage: sent", "to", jid.User, "length", len(body))
	return nil
}

// GetClient exposes the whatsmeow client for event subscription.
func (c *Client) GetClient() *whatsmeow.Client {
	return c.waClient
}

// Disconnect closes the websocket.
func (c *Client) Disconnect() {
	if c.waClient != nil {
		c.waClient.Disconnect()
	}
}

// SentMessage is a message captured by MockClient.
type SentMessage struct {
	To   string
	Body string
}

// MockClient records sends instead of talking to WhatsApp.
type MockClient struct {
	mu   sync.Mutex
	Sent []SentMessage
	Err  error
}

func NewMockClient() *MockClient {
	return &MockClient{}
}

func (m *MockClient) SendMessage(ctx context.Context, to string, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Sent = append(m.Sent, SentMessage{To: to, Body: body})
	return nil
}

// Messages returns a copy of the recorded sends.
func (m *MockClient) Messages() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentMessage(nil), m.Sent...)
}
