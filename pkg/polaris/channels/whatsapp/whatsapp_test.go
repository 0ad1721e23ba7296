package whatsapp

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	"github.com/jholhewres/polaris/pkg/polaris/channels"
)

func TestNew(t *testing.T) {
	t.Run("applies defaults", func(t *testing.T) {
		w := New(Config{}, nil)
		assert.Equal(t, "whatsapp", w.Name())
		assert.Equal(t, "./data/whatsapp.db", w.cfg.DatabasePath)
		assert.Equal(t, "Polaris", w.cfg.DeviceName)
		assert.NotNil(t, w.logger)
	})

	t.Run("keeps explicit values", func(t *testing.T) {
		w := New(Config{DatabasePath: "/tmp/x.db", DeviceName: "Bot"}, nil)
		assert.Equal(t, "/tmp/x.db", w.cfg.DatabasePath)
		assert.Equal(t, "Bot", w.cfg.DeviceName)
	})
}

func TestDisconnectedOperations(t *testing.T) {
	w := New(Config{}, nil)

	_, err := w.Me(context.Background())
	assert.ErrorIs(t, err, channels.ErrNotPaired)

	msg := channels.NewMessage(channels.Conversation{ID: "5511999999999"}, channels.User{}, "hi", "")
	assert.ErrorIs(t, w.Send(context.Background(), msg), channels.ErrChannelDisconnected)

	assert.NoError(t, w.Disconnect())
	assert.False(t, w.IsConnected())
	assert.False(t, w.Health().Connected)
}

func TestConnectWithoutSession(t *testing.T) {
	w := New(Config{DatabasePath: t.TempDir() + "/wa.db"}, nil)
	err := w.Connect(context.Background())
	assert.ErrorIs(t, err, channels.ErrNotPaired)
	require.NoError(t, w.Disconnect())

	_, ok := <-w.Receive()
	assert.False(t, ok)
}

func newEvent(chat, sender types.JID, msg *waE2E.Message) *events.Message {
	return &events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{
				Chat:    chat,
				Sender:  sender,
				IsGroup: chat.Server == types.GroupServer,
			},
			ID:        "ABC",
			PushName:  "Ana",
			Timestamp: time.Unix(1700000000, 0),
		},
		Message: msg,
	}
}

func TestConvert(t *testing.T) {
	user := types.NewJID("5511999999999", types.DefaultUserServer)
	group := types.NewJID("123456789-1234", types.GroupServer)

	t.Run("direct text", func(t *testing.T) {
		w := New(Config{}, nil)
		msg := w.convert(newEvent(user, user, &waE2E.Message{Conversation: proto.String("/ping")}))
		require.NotNil(t, msg)
		assert.Equal(t, "ABC", msg.ID)
		assert.Equal(t, "/ping", msg.Content)
		assert.Equal(t, channels.MessageText, msg.Type)
		assert.Equal(t, user.String(), msg.Conversation.ID)
		assert.False(t, msg.Conversation.IsGroup())
		assert.Equal(t, "Ana", msg.Sender.FirstName)
		assert.Equal(t, time.Unix(1700000000, 0), msg.Date)
		assert.Nil(t, msg.Reply)
	})

	t.Run("group title from cache", func(t *testing.T) {
		w := New(Config{}, nil)
		evt := newEvent(group, user, &waE2E.Message{Conversation: proto.String("hi")})

		msg := w.convert(evt)
		require.NotNil(t, msg)
		assert.Equal(t, "123456789-1234", msg.Conversation.Title)

		w.handleEvent(&events.GroupInfo{JID: group, Name: &types.GroupName{Name: "Family"}})
		msg = w.convert(evt)
		assert.Equal(t, "Family", msg.Conversation.Title)
		assert.True(t, msg.Conversation.IsGroup())
	})

	t.Run("reply", func(t *testing.T) {
		w := New(Config{}, nil)
		evt := newEvent(group, user, &waE2E.Message{
			ExtendedTextMessage: &waE2E.ExtendedTextMessage{
				Text: proto.String("/pin news"),
				ContextInfo: &waE2E.ContextInfo{
					StanzaID:      proto.String("Q1"),
					Participant:   proto.String("5511888888888@s.whatsapp.net"),
					QuotedMessage: &waE2E.Message{Conversation: proto.String("big news")},
				},
			},
		})
		msg := w.convert(evt)
		require.NotNil(t, msg)
		assert.Equal(t, "/pin news", msg.Content)
		require.NotNil(t, msg.Reply)
		assert.Equal(t, "Q1", msg.Reply.ID)
		assert.Equal(t, "big news", msg.Reply.Content)
		assert.Equal(t, "5511888888888@s.whatsapp.net", msg.Reply.Sender.ID)
		assert.Equal(t, msg.Conversation, msg.Reply.Conversation)
	})

	t.Run("media", func(t *testing.T) {
		w := New(Config{}, nil)
		msg := w.convert(newEvent(user, user, &waE2E.Message{
			ImageMessage: &waE2E.ImageMessage{Caption: proto.String("cat"), Mimetype: proto.String("image/jpeg")},
		}))
		require.NotNil(t, msg)
		assert.Equal(t, channels.MessageImage, msg.Type)
		assert.Equal(t, "cat", msg.Content)

		msg = w.convert(newEvent(user, user, &waE2E.Message{}))
		assert.Equal(t, channels.MessageOther, msg.Type)
	})

	t.Run("ignored", func(t *testing.T) {
		w := New(Config{AllowedChats: []string{group.String()}}, nil)

		own := newEvent(group, user, &waE2E.Message{Conversation: proto.String("x")})
		own.Info.IsFromMe = true
		assert.Nil(t, w.convert(own))

		status := newEvent(types.StatusBroadcastJID, user, &waE2E.Message{Conversation: proto.String("x")})
		assert.Nil(t, w.convert(status))

		assert.Nil(t, w.convert(newEvent(user, user, &waE2E.Message{Conversation: proto.String("x")})))
		assert.NotNil(t, w.convert(newEvent(group, user, &waE2E.Message{Conversation: proto.String("x")})))
	})
}

func TestBuildTextMessage(t *testing.T) {
	plain := buildTextMessage(&channels.Message{Content: "pong"})
	assert.Equal(t, "pong", plain.GetConversation())
	assert.Nil(t, plain.ExtendedTextMessage)

	reply := buildTextMessage(&channels.Message{
		Content: "pong",
		Reply:   &channels.Message{ID: "Q1", Content: "/ping", Sender: channels.User{ID: "1@s.whatsapp.net"}},
	})
	ext := reply.GetExtendedTextMessage()
	require.NotNil(t, ext)
	assert.Equal(t, "pong", ext.GetText())
	assert.Equal(t, "Q1", ext.GetContextInfo().GetStanzaID())
	assert.Equal(t, "1@s.whatsapp.net", ext.GetContextInfo().GetParticipant())
	assert.Equal(t, "/ping", ext.GetContextInfo().GetQuotedMessage().GetConversation())
}

func TestParseJID(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "5511999999999", want: "5511999999999@s.whatsapp.net"},
		{in: "+55 (11) 99999-9999", want: "5511999999999@s.whatsapp.net"},
		{in: "5511999999999@s.whatsapp.net", want: "5511999999999@s.whatsapp.net"},
		{in: "123456789-1234@g.us", want: "123456789-1234@g.us"},
		{in: "", wantErr: true},
		{in: "123", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			jid, err := parseJID(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, jid.String())
		})
	}
}
