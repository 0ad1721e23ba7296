// Package whatsapp implements the WhatsApp transport for Polaris using
// whatsmeow, a native Go WhatsApp Web API library.
//
// The session is persisted in SQLite. Connect requires an already linked
// device; Pair runs the QR login flow and is meant to be driven from the
// command line once.
package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.mau.fi/whatsmeow"
	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"google.golang.org/protobuf/proto"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for session store.

	"github.com/jholhewres/polaris/pkg/polaris/channels"
)

// Config holds WhatsApp channel configuration.
type Config struct {
	// DatabasePath is the SQLite file holding the linked-device session.
	DatabasePath string `yaml:"database_path"`

	// AllowedChats restricts which chat JIDs the bot listens to.
	// Empty means all chats.
	AllowedChats []string `yaml:"allowed_chats"`

	// DeviceName is shown in the phone's linked devices list.
	DeviceName string `yaml:"device_name"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DatabasePath: "./data/whatsapp.db",
		DeviceName:   "Polaris",
	}
}

// WhatsApp implements channels.Channel.
type WhatsApp struct {
	cfg    Config
	client *whatsmeow.Client
	logger *slog.Logger

	messages chan *channels.Message

	connected  atomic.Bool
	lastMsg    atomic.Value // time.Time
	errorCount atomic.Int64

	// groups caches group names learned from group events.
	groups sync.Map // types.JID -> string

	ctx      context.Context
	cancel   context.CancelFunc
	inflight sync.WaitGroup
	closed   bool
	mu       sync.RWMutex
}

// New creates a new WhatsApp channel instance.
func New(cfg Config, logger *slog.Logger) *WhatsApp {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = def.DatabasePath
	}
	if cfg.DeviceName == "" {
		cfg.DeviceName = def.DeviceName
	}
	return &WhatsApp{
		cfg:      cfg,
		logger:   logger.With("component", "whatsapp"),
		messages: make(chan *channels.Message, 256),
	}
}

// Name returns "whatsapp".
func (w *WhatsApp) Name() string { return "whatsapp" }

// open initializes the session store and client once.
func (w *WhatsApp) open(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.client != nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(w.cfg.DatabasePath), 0o700); err != nil {
		return fmt.Errorf("creating session directory: %w", err)
	}
	container, err := sqlstore.New(ctx, "sqlite3",
		fmt.Sprintf("file:%s?_foreign_keys=1&_journal_mode=WAL", w.cfg.DatabasePath),
		newLogger(w.logger, "store"))
	if err != nil {
		return fmt.Errorf("creating session store: %w", err)
	}

	device, err := getDevice(ctx, container)
	if err != nil {
		return fmt.Errorf("getting device: %w", err)
	}

	store.SetOSInfo(w.cfg.DeviceName, [3]uint32{1, 0, 0})

	w.client = whatsmeow.NewClient(device, newLogger(w.logger, "client"))
	w.client.AddEventHandler(w.handleEvent)
	w.client.EnableAutoReconnect = true
	w.ctx, w.cancel = context.WithCancel(context.WithoutCancel(ctx))
	return nil
}

// Connect establishes the WhatsApp Web connection for a linked device.
// It returns channels.ErrNotPaired when no session exists yet.
func (w *WhatsApp) Connect(ctx context.Context) error {
	if err := w.open(ctx); err != nil {
		return fmt.Errorf("%w: %w", channels.ErrConnectionFailed, err)
	}
	if w.client.Store.ID == nil {
		return channels.ErrNotPaired
	}
	if err := w.client.Connect(); err != nil {
		return fmt.Errorf("%w: %w", channels.ErrConnectionFailed, err)
	}
	w.connected.Store(true)
	w.logger.Info("whatsapp: connected", "jid", w.client.Store.ID.String())
	return nil
}

// Pair links a new device by QR code. onCode is called with every QR code
// payload until the phone scans one or ctx ends.
func (w *WhatsApp) Pair(ctx context.Context, onCode func(code string)) error {
	if err := w.open(ctx); err != nil {
		return err
	}
	if w.client.Store.ID != nil {
		return nil
	}

	qrChan, err := w.client.GetQRChannel(ctx)
	if err != nil {
		return fmt.Errorf("getting QR channel: %w", err)
	}
	if err := w.client.Connect(); err != nil {
		return fmt.Errorf("connecting for QR: %w", err)
	}
	defer w.client.Disconnect()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-qrChan:
			if !ok {
				return errors.New("QR channel closed unexpectedly")
			}
			switch evt.Event {
			case "code":
				onCode(evt.Code)
			case "success":
				w.logger.Info("whatsapp: paired", "jid", w.client.Store.ID.String())
				return nil
			case "timeout":
				return errors.New("QR code timeout")
			default:
				if evt.Error != nil {
					return fmt.Errorf("QR login error: %w", evt.Error)
				}
			}
		}
	}
}

// Disconnect closes the connection and the inbound stream.
func (w *WhatsApp) Disconnect() error {
	w.mu.Lock()
	if w.closed || w.client == nil {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.cancel()
	client := w.client
	w.mu.Unlock()

	client.Disconnect()
	w.inflight.Wait()
	close(w.messages)
	w.connected.Store(false)
	w.logger.Info("whatsapp: disconnected")
	return nil
}

// Me returns the linked account.
func (w *WhatsApp) Me(ctx context.Context) (*channels.User, error) {
	w.mu.RLock()
	client := w.client
	w.mu.RUnlock()
	if client == nil || client.Store.ID == nil {
		return nil, channels.ErrNotPaired
	}
	return &channels.User{
		ID:        client.Store.ID.ToNonAD().String(),
		FirstName: client.Store.PushName,
		Username:  client.Store.ID.User,
	}, nil
}

// Receive returns the inbound message stream.
func (w *WhatsApp) Receive() <-chan *channels.Message { return w.messages }

// IsConnected returns true if the client is connected.
func (w *WhatsApp) IsConnected() bool { return w.connected.Load() }

// Health returns the channel health status.
func (w *WhatsApp) Health() channels.HealthStatus {
	var lastAt time.Time
	if v := w.lastMsg.Load(); v != nil {
		lastAt = v.(time.Time)
	}
	return channels.HealthStatus{
		Connected:     w.connected.Load(),
		LastMessageAt: lastAt,
		ErrorCount:    int(w.errorCount.Load()),
	}
}

// Send delivers a text message. Media and inline answers are not supported.
func (w *WhatsApp) Send(ctx context.Context, msg *channels.Message) error {
	if !w.connected.Load() {
		return channels.ErrChannelDisconnected
	}
	if msg.Type != channels.MessageText && msg.Type != "" {
		return fmt.Errorf("whatsapp: %s messages are not supported: %w", msg.Type, channels.ErrSendFailed)
	}

	jid, err := parseJID(msg.Conversation.ID)
	if err != nil {
		return fmt.Errorf("invalid JID %q: %w", msg.Conversation.ID, err)
	}

	if _, err := w.client.SendMessage(ctx, jid, buildTextMessage(msg)); err != nil {
		w.errorCount.Add(1)
		return fmt.Errorf("%w: %w", channels.ErrSendFailed, err)
	}
	return nil
}

// buildTextMessage builds a plain conversation message, or an extended one
// quoting msg.Reply.
func buildTextMessage(msg *channels.Message) *waE2E.Message {
	if msg.Reply == nil || msg.Reply.ID == "" {
		return &waE2E.Message{Conversation: proto.String(msg.Content)}
	}
	ctxInfo := &waE2E.ContextInfo{
		StanzaID:      proto.String(msg.Reply.ID),
		QuotedMessage: &waE2E.Message{Conversation: proto.String(msg.Reply.Content)},
	}
	if msg.Reply.Sender.ID != "" {
		ctxInfo.Participant = proto.String(msg.Reply.Sender.ID)
	}
	return &waE2E.Message{
		ExtendedTextMessage: &waE2E.ExtendedTextMessage{
			Text:        proto.String(msg.Content),
			ContextInfo: ctxInfo,
		},
	}
}

// emit pushes a message unless the channel is shutting down.
func (w *WhatsApp) emit(msg *channels.Message) {
	w.mu.RLock()
	if w.closed {
		w.mu.RUnlock()
		return
	}
	ctx := w.ctx
	w.inflight.Add(1)
	w.mu.RUnlock()
	defer w.inflight.Done()

	select {
	case w.messages <- msg:
		w.lastMsg.Store(time.Now())
	case <-ctx.Done():
	}
}

// getDevice retrieves an existing device or creates a new one.
func getDevice(ctx context.Context, container *sqlstore.Container) (*store.Device, error) {
	devices, err := container.GetAllDevices(ctx)
	if err != nil {
		return nil, err
	}
	if len(devices) > 0 {
		return devices[0], nil
	}
	return container.NewDevice(), nil
}

var _ channels.Channel = (*WhatsApp)(nil)
