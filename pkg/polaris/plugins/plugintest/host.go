// Package plugintest provides a recording plugins.Host for plugin tests.
package plugintest

import (
	"io"
	"log/slog"
	"sync"

	"github.com/jholhewres/polaris/pkg/polaris/channels"
	"github.com/jholhewres/polaris/pkg/polaris/plugins"
	"github.com/jholhewres/polaris/pkg/polaris/store"
)

// Host records everything plugins send or enqueue.
type Host struct {
	Identity    channels.User
	PrefixValue string
	Data        store.Store
	Descriptors []*plugins.Descriptor
	Log         *slog.Logger

	mu       sync.Mutex
	sent     []*channels.Message
	enqueued []*channels.Message
}

// NewHost creates a host with a bot identity, the "/" prefix, an in-memory
// store and a discarding logger.
func NewHost() *Host {
	return &Host{
		Identity:    channels.User{ID: "1", FirstName: "Polaris", Username: "polaris_bot"},
		PrefixValue: "/",
		Data:        store.NewMemory(),
		Log:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func (h *Host) Send(msg *channels.Message) error {
	h.mu.Lock()
	h.sent = append(h.sent, msg)
	h.mu.Unlock()
	return nil
}

func (h *Host) Reply(to *channels.Message, content string, opts ...plugins.ReplyOption) error {
	return h.Send(plugins.NewReply(h.Identity, to, content, opts...))
}

func (h *Host) Enqueue(msg *channels.Message) error {
	h.mu.Lock()
	h.enqueued = append(h.enqueued, msg)
	h.mu.Unlock()
	return nil
}

func (h *Host) Me() channels.User              { return h.Identity }
func (h *Host) Prefix() string                 { return h.PrefixValue }
func (h *Host) Store() store.Store             { return h.Data }
func (h *Host) Plugins() []*plugins.Descriptor { return h.Descriptors }
func (h *Host) Logger() *slog.Logger           { return h.Log }

// Sent returns the messages sent so far.
func (h *Host) Sent() []*channels.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*channels.Message(nil), h.sent...)
}

// Enqueued returns the messages pushed back to the inbox.
func (h *Host) Enqueued() []*channels.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*channels.Message(nil), h.enqueued...)
}

// Reset forgets recorded messages.
func (h *Host) Reset() {
	h.mu.Lock()
	h.sent, h.enqueued = nil, nil
	h.mu.Unlock()
}

var _ plugins.Host = (*Host)(nil)
