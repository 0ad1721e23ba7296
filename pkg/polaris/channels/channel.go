// Package channels defines the transport contract for Polaris and the
// normalized message model shared by every transport (Telegram, Discord,
// WhatsApp, console). Each transport implements the Channel interface to
// receive and send messages in a unified way.
package channels

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MessageType identifies the kind of message content.
type MessageType string

const (
	MessageText        MessageType = "text"
	MessageInlineQuery MessageType = "inline_query"
	MessageImage       MessageType = "image"
	MessageAudio       MessageType = "audio"
	MessageVideo       MessageType = "video"
	MessageDocument    MessageType = "document"
	MessageSticker     MessageType = "sticker"
	MessageOther       MessageType = "other"
)

// Channel defines the interface that every transport must implement.
type Channel interface {
	// Name returns the channel identifier (e.g. "telegram", "discord").
	Name() string

	// Connect establishes the connection to the messaging platform and
	// starts producing inbound messages on Receive.
	Connect(ctx context.Context) error

	// Disconnect gracefully closes the connection.
	Disconnect() error

	// Me returns the identity of the bot account on the platform.
	Me(ctx context.Context) (*User, error)

	// Receive returns a Go channel that emits inbound messages. The stream
	// is not restartable: once closed the channel is done.
	Receive() <-chan *Message

	// Send delivers an outbound message. It is a single blocking call; any
	// retry policy belongs to the transport.
	Send(ctx context.Context, msg *Message) error

	// IsConnected returns true if the channel is connected.
	IsConnected() bool

	// Health returns the channel health status.
	Health() HealthStatus
}

// User is a platform account.
type User struct {
	ID        string `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name,omitempty"`
	Username  string `json:"username,omitempty"`
}

// DisplayName returns the best human-readable name for the user.
func (u User) DisplayName() string {
	if name := strings.TrimSpace(u.FirstName + " " + u.LastName); name != "" {
		return name
	}
	if u.Username != "" {
		return u.Username
	}
	return u.ID
}

// Conversation is the target chat of a message. Group conversations carry a
// title; direct conversations do not.
type Conversation struct {
	ID    string `json:"id"`
	Title string `json:"title,omitempty"`
}

// IsGroup reports whether the conversation is a group chat.
func (c Conversation) IsGroup() bool { return c.Title != "" }

// Name returns the group title, or the conversation ID for direct chats.
func (c Conversation) Name() string {
	if c.Title != "" {
		return c.Title
	}
	return c.ID
}

// Message is the normalized message exchanged between transports and
// plugins. Messages are treated as immutable once pushed to a queue.
type Message struct {
	// ID is the message identifier in the source platform. Outbound
	// messages get a generated UUID until the platform assigns one.
	ID string

	// Conversation is the chat the message belongs to (or is sent to).
	Conversation Conversation

	// Sender is the author. For outbound messages this is the bot.
	Sender User

	// Content is the text content, or the query for inline queries.
	Content string

	// Type is the message content type.
	Type MessageType

	// Date is when the message was sent (inbound) or created (outbound).
	Date time.Time

	// Reply references the message being replied to. Lookup only.
	Reply *Message

	// Extra carries transport-specific metadata (e.g. "format": "HTML").
	Extra map[string]any
}

// NewMessage creates an outbound message with a generated ID.
func NewMessage(conv Conversation, sender User, content string, typ MessageType) *Message {
	if typ == "" {
		typ = MessageText
	}
	return &Message{
		ID:           uuid.NewString(),
		Conversation: conv,
		Sender:       sender,
		Content:      content,
		Type:         typ,
		Date:         time.Now(),
	}
}

// ExtraString returns a string metadata value, or "" if unset.
func (m *Message) ExtraString(key string) string {
	if m == nil || m.Extra == nil {
		return ""
	}
	s, _ := m.Extra[key].(string)
	return s
}

// HealthStatus represents the health state of a channel.
type HealthStatus struct {
	Connected     bool
	LastMessageAt time.Time
	ErrorCount    int
	Details       map[string]any
}

// Errors.
var (
	ErrChannelDisconnected = errors.New("channel is not connected")
	ErrSendFailed          = errors.New("failed to send message")
	ErrConnectionFailed    = errors.New("failed to connect to channel")
	ErrNotPaired           = errors.New("no paired session")
)
