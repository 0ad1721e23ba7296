package whatsapp

import (
	"fmt"
	"slices"
	"strings"

	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/jholhewres/polaris/pkg/polaris/channels"
)

// handleEvent is the whatsmeow event dispatcher.
func (w *WhatsApp) handleEvent(rawEvt any) {
	switch evt := rawEvt.(type) {
	case *events.Message:
		if msg := w.convert(evt); msg != nil {
			w.emit(msg)
		}

	case *events.Connected:
		w.connected.Store(true)
		w.errorCount.Store(0)
		w.logger.Info("whatsapp: session online")

	case *events.Disconnected:
		w.connected.Store(false)
		w.logger.Warn("whatsapp: connection lost, waiting for auto-reconnect")

	case *events.LoggedOut:
		w.connected.Store(false)
		w.logger.Error("whatsapp: logged out by server, pair again", "reason", evt.Reason)

	case *events.JoinedGroup:
		w.groups.Store(evt.JID, evt.Name)

	case *events.GroupInfo:
		if evt.Name != nil {
			w.groups.Store(evt.JID, evt.Name.Name)
		}
	}
}

// groupTitle returns the cached group name, or the group ID.
func (w *WhatsApp) groupTitle(jid types.JID) string {
	if v, ok := w.groups.Load(jid); ok {
		if name := v.(string); name != "" {
			return name
		}
	}
	return jid.User
}

// convert normalizes a message event, or returns nil for events the bot
// ignores: its own messages, status broadcasts and chats outside the
// allowlist.
func (w *WhatsApp) convert(evt *events.Message) *channels.Message {
	if evt.Info.IsFromMe || evt.Info.Chat.Server == types.BroadcastServer {
		return nil
	}
	chat := evt.Info.Chat.String()
	if len(w.cfg.AllowedChats) > 0 && !slices.Contains(w.cfg.AllowedChats, chat) {
		return nil
	}

	msg := &channels.Message{
		ID:           string(evt.Info.ID),
		Conversation: channels.Conversation{ID: chat},
		Sender: channels.User{
			ID:        evt.Info.Sender.ToNonAD().String(),
			FirstName: evt.Info.PushName,
			Username:  evt.Info.Sender.User,
		},
		Date:  evt.Info.Timestamp,
		Extra: map[string]any{},
	}
	if evt.Info.IsGroup {
		msg.Conversation.Title = w.groupTitle(evt.Info.Chat)
	}

	extractContent(evt.Message, msg)
	msg.Reply = extractReply(evt.Message, msg.Conversation)
	return msg
}

// extractContent fills the type and text content of a message.
func extractContent(waMsg *waE2E.Message, msg *channels.Message) {
	msg.Type = channels.MessageText
	if waMsg == nil {
		return
	}

	switch {
	case waMsg.Conversation != nil:
		msg.Content = waMsg.GetConversation()
	case waMsg.ExtendedTextMessage != nil:
		msg.Content = waMsg.GetExtendedTextMessage().GetText()
	case waMsg.ImageMessage != nil:
		msg.Type = channels.MessageImage
		msg.Content = waMsg.GetImageMessage().GetCaption()
		msg.Extra["mimetype"] = waMsg.GetImageMessage().GetMimetype()
	case waMsg.AudioMessage != nil:
		msg.Type = channels.MessageAudio
		msg.Extra["voice"] = waMsg.GetAudioMessage().GetPTT()
	case waMsg.VideoMessage != nil:
		msg.Type = channels.MessageVideo
		msg.Content = waMsg.GetVideoMessage().GetCaption()
	case waMsg.DocumentMessage != nil:
		msg.Type = channels.MessageDocument
		msg.Content = waMsg.GetDocumentMessage().GetCaption()
		msg.Extra["filename"] = waMsg.GetDocumentMessage().GetFileName()
	case waMsg.StickerMessage != nil:
		msg.Type = channels.MessageSticker
	default:
		msg.Type = channels.MessageOther
	}
}

// extractReply returns the quoted message referenced by waMsg, if any.
func extractReply(waMsg *waE2E.Message, conv channels.Conversation) *channels.Message {
	if waMsg == nil {
		return nil
	}

	var ctxInfo *waE2E.ContextInfo
	switch {
	case waMsg.ExtendedTextMessage != nil:
		ctxInfo = waMsg.ExtendedTextMessage.GetContextInfo()
	case waMsg.ImageMessage != nil:
		ctxInfo = waMsg.ImageMessage.GetContextInfo()
	case waMsg.AudioMessage != nil:
		ctxInfo = waMsg.AudioMessage.GetContextInfo()
	case waMsg.VideoMessage != nil:
		ctxInfo = waMsg.VideoMessage.GetContextInfo()
	case waMsg.DocumentMessage != nil:
		ctxInfo = waMsg.DocumentMessage.GetContextInfo()
	case waMsg.StickerMessage != nil:
		ctxInfo = waMsg.StickerMessage.GetContextInfo()
	}
	if ctxInfo == nil || ctxInfo.GetStanzaID() == "" {
		return nil
	}

	reply := &channels.Message{
		ID:           ctxInfo.GetStanzaID(),
		Conversation: conv,
		Sender:       channels.User{ID: ctxInfo.GetParticipant()},
		Extra:        map[string]any{},
	}
	if quoted := ctxInfo.GetQuotedMessage(); quoted != nil {
		extractContent(quoted, reply)
	}
	return reply
}

// parseJID converts a string JID to types.JID.
// Accepts formats: "5511999999999" or "5511999999999@s.whatsapp.net"
// or group IDs like "123456789-1234@g.us".
func parseJID(s string) (types.JID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return types.JID{}, fmt.Errorf("empty JID")
	}

	if strings.Contains(s, "@") {
		return types.ParseJID(s)
	}

	// Bare phone number.
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)

	if len(digits) < 10 {
		return types.JID{}, fmt.Errorf("phone number too short: %s", s)
	}

	return types.NewJID(digits, types.DefaultUserServer), nil
}
