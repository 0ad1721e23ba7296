// Package channeltest provides an in-memory channels.Channel for tests.
package channeltest

import (
	"context"
	"sync"
	"time"

	"github.com/jholhewres/polaris/pkg/polaris/channels"
)

// Fake is an in-memory transport. Tests push inbound messages with Deliver
// and observe outbound messages through Sent or the Outgoing channel.
type Fake struct {
	// Identity is returned by Me. Leave nil together with MeErr to
	// simulate an identity failure.
	Identity *channels.User
	MeErr    error

	// ConnectErr is returned by Connect when set.
	ConnectErr error

	// SendErr, when set, is returned by Send for every message.
	SendErr error

	// SendDelay simulates a slow transport.
	SendDelay time.Duration

	// Outgoing receives a copy of every sent message (buffered).
	Outgoing chan *channels.Message

	in        chan *channels.Message
	mu        sync.Mutex
	sent      []*channels.Message
	connected bool
}

// New creates a Fake with the given bot identity.
func New(me channels.User) *Fake {
	return &Fake{
		Identity: &me,
		Outgoing: make(chan *channels.Message, 256),
		in:       make(chan *channels.Message, 256),
	}
}

func (f *Fake) Name() string { return "fake" }

func (f *Fake) Connect(ctx context.Context) error {
	if f.ConnectErr != nil {
		return f.ConnectErr
	}
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	return nil
}

func (f *Fake) Disconnect() error {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
	return nil
}

func (f *Fake) Me(ctx context.Context) (*channels.User, error) {
	if f.MeErr != nil {
		return nil, f.MeErr
	}
	if f.Identity == nil {
		return nil, channels.ErrConnectionFailed
	}
	u := *f.Identity
	return &u, nil
}

func (f *Fake) Receive() <-chan *channels.Message { return f.in }

// Deliver simulates an inbound message from the platform.
func (f *Fake) Deliver(msg *channels.Message) { f.in <- msg }

// CloseInbound ends the inbound stream.
func (f *Fake) CloseInbound() { close(f.in) }

func (f *Fake) Send(ctx context.Context, msg *channels.Message) error {
	if f.SendDelay > 0 {
		select {
		case <-time.After(f.SendDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if f.SendErr != nil {
		return f.SendErr
	}
	f.mu.Lock()
	f.sent = append(f.sent, msg)
	f.mu.Unlock()
	select {
	case f.Outgoing <- msg:
	default:
	}
	return nil
}

// Sent returns a snapshot of every message delivered so far.
func (f *Fake) Sent() []*channels.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*channels.Message(nil), f.sent...)
}

func (f *Fake) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *Fake) Health() channels.HealthStatus {
	return channels.HealthStatus{Connected: f.IsConnected()}
}

var _ channels.Channel = (*Fake)(nil)
