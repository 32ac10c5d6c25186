// Package whatsapp wraps the Whatsmeow client for the chatbot.
//
// It provides methods for sending text and media, downloading inbound media,
// showing typing indicators and exposing the login QR code.
package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/11996262609/CrossFit-ChatBot/internal/models"
	"github.com/11996262609/CrossFit-ChatBot/internal/store"
	"github.com/mdp/qrterminal/v3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"
)

// Constants for WhatsApp client configuration
const (
	// DefaultSQLitePath is the default path for the whatsmeow SQLite database
	DefaultSQLitePath = "/var/lib/crossfitbot/whatsmeow.db"
)

// Error variables for client operations
var (
	ErrNotInitialized = errors.New("whatsapp client not initialized")
	ErrNoMediaHandle  = errors.New("event carries no downloadable media")
)

// WhatsAppSender is the send and download surface of the client (for production and testing).
type WhatsAppSender interface {
	SendText(ctx context.Context, to models.Address, body string) error
	SendMedia(ctx context.Context, to models.Address, media models.OutboundMedia) error
	DownloadMedia(ctx context.Context, evt models.InboundEvent) ([]byte, string, error)
	SendTyping(ctx context.Context, to models.Address) error
}

// Opts holds configuration options for the WhatsApp client.
// This focuses solely on whatsmeow database configuration and login settings.
type Opts struct {
	DBDSN       string // whatsmeow database connection string
	QRPath      string // path to write the login QR code
	NumericCode bool   // print the raw login code instead of a QR code
	LogLevel    string // whatsmeow log level: DEBUG, INFO, WARN or ERROR
}

// Option defines a configuration option for the WhatsApp client.
type Option func(*Opts)

// WithDBDSN sets the whatsmeow database connection string.
func WithDBDSN(dsn string) Option {
	return func(o *Opts) {
		o.DBDSN = dsn
	}
}

// WithQRCodeOutput instructs the client to write the login QR code to the specified path.
func WithQRCodeOutput(path string) Option {
	return func(o *Opts) {
		o.QRPath = path
	}
}

// WithNumericCode instructs the client to print the raw login code instead of a QR code.
func WithNumericCode() Option {
	return func(o *Opts) {
		o.NumericCode = true
	}
}

// WithLogLevel sets the level of whatsmeow's internal loggers.
func WithLogLevel(level string) Option {
	return func(o *Opts) {
		o.LogLevel = level
	}
}

// Client wraps the Whatsmeow client for modular use
type Client struct {
	waClient *whatsmeow.Client
	cfg      Opts

	mu       sync.RWMutex
	latestQR string
}

// NewClient creates a new WhatsApp client and connects it. When the device is
// not paired yet, the QR login flow runs in the background and the latest
// code is available through LatestQR until pairing succeeds.
func NewClient(ctx context.Context, opts ...Option) (*Client, error) {
	cfg := Opts{LogLevel: "INFO"}
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("WhatsApp NewClient options set", "DBDSN_set", cfg.DBDSN != "", "QRPath_set", cfg.QRPath != "", "NumericCode", cfg.NumericCode)

	dbDSN := cfg.DBDSN
	if dbDSN == "" {
		dbDSN = "file:" + DefaultSQLitePath + "?_foreign_keys=on"
		slog.Debug("No WhatsApp database DSN provided, using default SQLite path", "default_path", DefaultSQLitePath)
	}

	// Auto-detect database driver based on DSN
	dbDriver := store.DetectDSNType(dbDSN)
	if dbDriver == "sqlite3" && !strings.Contains(dbDSN, "foreign_keys") {
		slog.Warn("SQLite database for WhatsApp does not appear to have foreign keys enabled. "+
			"The whatsmeow library strongly recommends enabling foreign keys for data integrity.",
			"dsn_example", "file:"+dbDSN+"?_foreign_keys=on")
	}

	slog.Debug("WhatsApp NewClient initializing DB store", "driver", dbDriver)
	container, err := sqlstore.New(ctx, dbDriver, dbDSN, waLog.Stdout("Database", cfg.LogLevel, true))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize WhatsApp database store: %w", err)
	}
	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get device from WhatsApp store: %w", err)
	}

	c := &Client{
		waClient: whatsmeow.NewClient(deviceStore, waLog.Stdout("Client", cfg.LogLevel, true)),
		cfg:      cfg,
	}

	if c.waClient.Store.ID == nil {
		slog.Info("WhatsApp login required; starting QR code flow")
		qrChan, err := c.waClient.GetQRChannel(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get QR channel: %w", err)
		}
		if err := c.waClient.Connect(); err != nil {
			return nil, fmt.Errorf("failed to connect to WhatsApp during login: %w", err)
		}
		go c.runLogin(qrChan)
		return c, nil
	}

	slog.Debug("WhatsApp already logged in, connecting to server")
	if err := c.waClient.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to WhatsApp server: %w", err)
	}
	slog.Info("WhatsApp client connected successfully")
	return c, nil
}

// runLogin consumes QR events until pairing finishes or the channel closes.
func (c *Client) runLogin(qrChan <-chan whatsmeow.QRChannelItem) {
	for evt := range qrChan {
		if evt.Event != whatsmeow.QRChannelEventCode {
			slog.Info("WhatsApp login event", "event", evt.Event)
			c.setQR("")
			continue
		}
		slog.Debug("WhatsApp login code received")
		c.setQR(evt.Code)
		if err := c.printQR(evt.Code); err != nil {
			slog.Error("Failed to write login QR code", "error", err)
		}
	}
}

func (c *Client) printQR(code string) error {
	writer := io.Writer(os.Stdout)
	if c.cfg.QRPath != "" {
		f, err := os.Create(c.cfg.QRPath)
		if err != nil {
			return fmt.Errorf("failed to create QR file: %w", err)
		}
		defer f.Close()
		writer = f
	}
	if c.cfg.NumericCode {
		_, err := fmt.Fprintln(writer, code)
		return err
	}
	qrterminal.GenerateHalfBlock(code, qrterminal.L, writer)
	return nil
}

func (c *Client) setQR(code string) {
	c.mu.Lock()
	c.latestQR = code
	c.mu.Unlock()
}

// LatestQR returns the current login QR code, or "" when none is pending.
func (c *Client) LatestQR() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.latestQR
}

// IsConnected reports whether the websocket is connected.
func (c *Client) IsConnected() bool {
	return c.waClient != nil && c.waClient.IsConnected()
}

// IsLoggedIn reports whether the device is paired and authenticated.
func (c *Client) IsLoggedIn() bool {
	return c.waClient != nil && c.waClient.IsLoggedIn()
}

// AddEventHandler registers a whatsmeow event handler.
func (c *Client) AddEventHandler(handler func(evt interface{})) uint32 {
	return c.waClient.AddEventHandler(handler)
}

// Disconnect closes the connection.
func (c *Client) Disconnect() {
	if c.waClient != nil {
		c.waClient.Disconnect()
	}
}

// ResolvePhoneJID maps a hidden-user (LID) JID to the phone-number JID the
// device has learned for it. Other JIDs, and LIDs without a known mapping,
// are returned unchanged.
func (c *Client) ResolvePhoneJID(ctx context.Context, jid types.JID) types.JID {
	if jid.Server != types.HiddenUserServer || c.waClient == nil || c.waClient.Store == nil || c.waClient.Store.LIDs == nil {
		return jid
	}
	pn, err := c.waClient.Store.LIDs.GetPNForLID(ctx, jid)
	if err != nil || pn.IsEmpty() {
		slog.Debug("No phone number known for LID", "lid", jid.String(), "error", err)
		return jid
	}
	slog.Debug("Resolved LID to phone", "lid", jid.String(), "phone", pn.String())
	return pn
}

// SendText sends a text message to the specified conversation.
func (c *Client) SendText(ctx context.Context, to models.Address, body string) error {
	if c.waClient == nil || c.waClient.Store == nil {
		return ErrNotInitialized
	}
	if body == "" {
		return models.ErrEmptyBody
	}
	jid, err := ToJID(to)
	if err != nil {
		return err
	}

	slog.Debug("Sending WhatsApp message", "to", jid.String(), "body_length", len(body))
	msg := &waE2E.Message{Conversation: proto.String(body)}
	if _, err := c.waClient.SendMessage(ctx, jid, msg); err != nil {
		return fmt.Errorf("failed to send message to %s: %w", jid, err)
	}
	slog.Debug("WhatsApp message sent successfully", "to", jid.String())
	return nil
}

// SendMedia uploads the medium and sends it with its caption.
func (c *Client) SendMedia(ctx context.Context, to models.Address, m models.OutboundMedia) error {
	if c.waClient == nil || c.waClient.Store == nil {
		return ErrNotInitialized
	}
	if err := m.Validate(); err != nil {
		return err
	}
	jid, err := ToJID(to)
	if err != nil {
		return err
	}

	up, err := c.waClient.Upload(ctx, m.Data, uploadType(m.Type))
	if err != nil {
		return fmt.Errorf("failed to upload media for %s: %w", jid, err)
	}
	if _, err := c.waClient.SendMessage(ctx, jid, buildMediaMessage(up, m)); err != nil {
		return fmt.Errorf("failed to send media to %s: %w", jid, err)
	}
	slog.Debug("WhatsApp media sent successfully", "to", jid.String(), "type", m.Type, "size", len(m.Data))
	return nil
}

// DownloadMedia fetches the bytes of an inbound medium.
func (c *Client) DownloadMedia(ctx context.Context, evt models.InboundEvent) ([]byte, string, error) {
	if c.waClient == nil {
		return nil, "", ErrNotInitialized
	}
	if evt.Media == nil {
		return nil, "", ErrNoMediaHandle
	}
	msg, ok := evt.Media.Handle.(whatsmeow.DownloadableMessage)
	if !ok || msg == nil {
		return nil, "", ErrNoMediaHandle
	}
	data, err := c.waClient.Download(ctx, msg)
	if err != nil {
		return nil, "", fmt.Errorf("failed to download media: %w", err)
	}
	return data, evt.Media.MimeType, nil
}

// SendTyping shows a composing indicator in the conversation.
func (c *Client) SendTyping(ctx context.Context, to models.Address) error {
	if !c.IsConnected() {
		return nil
	}
	jid, err := ToJID(to)
	if err != nil {
		return err
	}
	return c.waClient.SendChatPresence(ctx, jid, types.ChatPresenceComposing, types.ChatPresenceMediaText)
}

// GetClient returns the underlying whatsmeow client for event handling
func (c *Client) GetClient() *whatsmeow.Client {
	return c.waClient
}

var _ WhatsAppSender = (*Client)(nil)
