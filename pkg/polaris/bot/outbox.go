package bot

import (
	"context"
	"errors"
	"time"

	"github.com/jholhewres/polaris/pkg/polaris/channels"
	"github.com/jholhewres/polaris/pkg/polaris/queue"
)

// flushTimeout bounds delivery of replies still queued at shutdown.
const flushTimeout = 5 * time.Second

// deliver hands outbox messages to the transport in enqueue order, one Send
// per message. Failed sends are logged and dropped.
//
// Sends do not inherit the cancellation of ctx: once ctx is done the
// worker keeps delivering what is queued for up to flushTimeout, then gives
// up on the rest.
func (b *Bot) deliver(ctx context.Context) error {
	sendCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()
	stop := context.AfterFunc(ctx, func() {
		t := time.NewTimer(flushTimeout)
		defer t.Stop()
		select {
		case <-t.C:
			cancel()
		case <-sendCtx.Done():
		}
	})
	defer stop()

	for {
		msg, err := b.outbox.Pop(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrClosed) {
				return nil
			}
			b.flush(sendCtx)
			return err
		}
		if sendCtx.Err() != nil {
			b.logger.Warn("flush timeout, dropping queued replies", "pending", b.outbox.Len()+1)
			return ctx.Err()
		}
		b.send(sendCtx, msg)
	}
}

// flush delivers what is left in the outbox after the run context ended.
func (b *Bot) flush(ctx context.Context) {
	if b.outbox.Len() == 0 {
		return
	}
	b.logger.Debug("flushing outbox", "pending", b.outbox.Len())
	for ctx.Err() == nil {
		msg, ok := b.outbox.TryPop()
		if !ok {
			return
		}
		b.send(ctx, msg)
	}
}

func (b *Bot) send(ctx context.Context, msg *channels.Message) {
	content := msg.Content
	if msg.Type != channels.MessageText {
		content = "<" + string(msg.Type) + ">"
	}
	b.logger.Debug("sending message",
		"conversation", msg.Conversation.Name(),
		"sender", msg.Sender.DisplayName(),
		"content", content)

	if err := b.channel.Send(ctx, msg); err != nil {
		b.stats.SendErrors.Add(1)
		b.logger.Error("send failed",
			"channel", b.channel.Name(), "conversation", msg.Conversation.ID, "error", err)
		return
	}
	b.stats.Delivered.Add(1)
}
