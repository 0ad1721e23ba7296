// Package discord implements the Discord transport for Polaris using discordgo.
//
// Guild messages carry the channel name as the conversation title, so they
// are treated as group conversations; direct messages carry none. Long
// replies are split to fit Discord's 2000 character limit.
package discord

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"

	"github.com/jholhewres/polaris/pkg/polaris/channels"
)

// MaxMessageLength is Discord's per-message content limit.
const MaxMessageLength = 2000

// Config holds Discord channel configuration.
type Config struct {
	// Token is the Discord bot token.
	Token string `yaml:"token"`

	// AllowedGuilds restricts which guild (server) IDs the bot listens in.
	// Empty means all guilds.
	AllowedGuilds []string `yaml:"allowed_guilds"`

	// AllowedChannels restricts which channel IDs the bot listens in.
	// Empty means all channels.
	AllowedChannels []string `yaml:"allowed_channels"`
}

// Discord implements channels.Channel.
type Discord struct {
	cfg     Config
	logger  *slog.Logger
	session *discordgo.Session

	messages chan *channels.Message

	connected  atomic.Bool
	lastMsg    atomic.Value // time.Time
	errorCount atomic.Int64

	// httpClient downloads media referenced by URL before upload.
	httpClient *http.Client

	ctx    context.Context
	cancel context.CancelFunc
	// inflight tracks handlers that may still push to messages.
	inflight sync.WaitGroup
	mu       sync.RWMutex
}

// New creates a new Discord channel instance.
func New(cfg Config, logger *slog.Logger) *Discord {
	if logger == nil {
		logger = slog.Default()
	}
	return &Discord{
		cfg:        cfg,
		logger:     logger.With("component", "discord"),
		messages:   make(chan *channels.Message, 256),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Name returns "discord".
func (d *Discord) Name() string { return "discord" }

// Connect opens the Discord gateway WebSocket connection.
func (d *Discord) Connect(ctx context.Context) error {
	if d.cfg.Token == "" {
		return fmt.Errorf("discord: bot token is required: %w", channels.ErrConnectionFailed)
	}

	session, err := discordgo.New("Bot " + d.cfg.Token)
	if err != nil {
		return fmt.Errorf("discord: creating session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	session.AddHandler(d.onMessageCreate)

	if err := session.Open(); err != nil {
		return fmt.Errorf("discord: opening gateway: %w", err)
	}

	d.mu.Lock()
	d.ctx, d.cancel = context.WithCancel(context.WithoutCancel(ctx))
	d.session = session
	d.mu.Unlock()
	d.connected.Store(true)

	if user := session.State.User; user != nil {
		d.logger.Info("discord: connected", "bot", user.Username, "id", user.ID)
	}
	return nil
}

// Disconnect closes the gateway connection and the inbound stream.
func (d *Discord) Disconnect() error {
	d.mu.Lock()
	session, cancel := d.session, d.cancel
	d.session, d.cancel = nil, nil
	d.mu.Unlock()

	if session == nil {
		return nil
	}
	cancel()
	err := session.Close()
	d.inflight.Wait()
	close(d.messages)
	d.connected.Store(false)
	d.logger.Info("discord: disconnected")
	return err
}

// Me returns the bot account as reported by the gateway's ready event.
func (d *Discord) Me(ctx context.Context) (*channels.User, error) {
	s := d.getSession()
	if s == nil {
		return nil, channels.ErrChannelDisconnected
	}
	u := s.State.User
	if u == nil {
		var err error
		if u, err = s.User("@me", discordgo.WithContext(ctx)); err != nil {
			return nil, fmt.Errorf("discord: fetching bot user: %w", err)
		}
	}
	me := toUser(u)
	return &me, nil
}

// Receive returns the inbound message stream.
func (d *Discord) Receive() <-chan *channels.Message { return d.messages }

// IsConnected returns true if the bot is connected.
func (d *Discord) IsConnected() bool { return d.connected.Load() }

// Health returns the channel health status.
func (d *Discord) Health() channels.HealthStatus {
	var lastAt time.Time
	if v := d.lastMsg.Load(); v != nil {
		lastAt = v.(time.Time)
	}
	return channels.HealthStatus{
		Connected:     d.connected.Load(),
		LastMessageAt: lastAt,
		ErrorCount:    int(d.errorCount.Load()),
	}
}

// Send delivers one outbound message. Text longer than MaxMessageLength is
// split, with only the first chunk referencing the replied-to message.
// Media messages carry a URL in Content and are uploaded as attachments.
func (d *Discord) Send(ctx context.Context, msg *channels.Message) error {
	s := d.getSession()
	if s == nil {
		return channels.ErrChannelDisconnected
	}

	var ref *discordgo.MessageReference
	if msg.Reply != nil && msg.Reply.ID != "" {
		ref = &discordgo.MessageReference{MessageID: msg.Reply.ID, ChannelID: msg.Conversation.ID}
	}

	switch msg.Type {
	case channels.MessageInlineQuery:
		return fmt.Errorf("discord: inline queries are not supported: %w", channels.ErrSendFailed)
	case channels.MessageImage, channels.MessageAudio, channels.MessageVideo,
		channels.MessageDocument, channels.MessageSticker:
		return d.sendMedia(ctx, s, msg, ref)
	}

	for i, chunk := range splitMessage(msg.Content, MaxMessageLength) {
		send := &discordgo.MessageSend{Content: chunk}
		if i == 0 {
			send.Reference = ref
		}
		if _, err := s.ChannelMessageSendComplex(msg.Conversation.ID, send, discordgo.WithContext(ctx)); err != nil {
			d.errorCount.Add(1)
			return fmt.Errorf("%w: %w", channels.ErrSendFailed, err)
		}
	}
	return nil
}

func (d *Discord) sendMedia(ctx context.Context, s *discordgo.Session, msg *channels.Message, ref *discordgo.MessageReference) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, msg.Content, nil)
	if err != nil {
		return fmt.Errorf("discord: media URL: %w", err)
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("discord: download media: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("discord: reading media: %w", err)
	}

	filename := msg.ExtraString("filename")
	if filename == "" {
		filename = path.Base(req.URL.Path)
	}
	if filename == "" || filename == "/" || filename == "." {
		filename = "file"
	}

	send := &discordgo.MessageSend{
		Content:   msg.ExtraString("caption"),
		Files:     []*discordgo.File{{Name: filename, Reader: bytes.NewReader(data)}},
		Reference: ref,
	}
	if _, err := s.ChannelMessageSendComplex(msg.Conversation.ID, send, discordgo.WithContext(ctx)); err != nil {
		d.errorCount.Add(1)
		return fmt.Errorf("%w: %w", channels.ErrSendFailed, err)
	}
	return nil
}

func (d *Discord) getSession() *discordgo.Session {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.session
}

// ---------- Event Handlers ----------

func (d *Discord) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	d.mu.RLock()
	ctx := d.ctx
	if ctx == nil || ctx.Err() != nil {
		d.mu.RUnlock()
		return
	}
	d.inflight.Add(1)
	d.mu.RUnlock()
	defer d.inflight.Done()

	botID := ""
	if s.State.User != nil {
		botID = s.State.User.ID
	}

	title := ""
	if m.GuildID != "" {
		title = m.ChannelID
		if ch, err := s.State.Channel(m.ChannelID); err == nil && ch.Name != "" {
			title = ch.Name
		}
	}

	msg := d.convert(m.Message, botID, title)
	if msg == nil {
		return
	}

	d.lastMsg.Store(time.Now())
	select {
	case d.messages <- msg:
	case <-ctx.Done():
	}
}

// convert normalizes a Discord message, or returns nil for messages the
// bot ignores: its own, other bots', and those outside the allowlists.
func (d *Discord) convert(m *discordgo.Message, botID, title string) *channels.Message {
	if m == nil || m.Author == nil {
		return nil
	}
	if m.Author.ID == botID || m.Author.Bot {
		return nil
	}
	if m.GuildID != "" && !allowed(d.cfg.AllowedGuilds, m.GuildID) {
		return nil
	}
	if !allowed(d.cfg.AllowedChannels, m.ChannelID) {
		return nil
	}

	out := toMessage(m, title)
	if m.ReferencedMessage != nil {
		out.Reply = toMessage(m.ReferencedMessage, title)
	}
	return out
}

func toMessage(m *discordgo.Message, title string) *channels.Message {
	out := &channels.Message{
		ID:           m.ID,
		Conversation: channels.Conversation{ID: m.ChannelID, Title: title},
		Content:      m.Content,
		Type:         channels.MessageText,
		Date:         m.Timestamp,
		Extra:        map[string]any{},
	}
	if m.Author != nil {
		out.Sender = toUser(m.Author)
	}
	if m.GuildID != "" {
		out.Extra["guild_id"] = m.GuildID
	}

	if len(m.Attachments) > 0 {
		att := m.Attachments[0]
		out.Type = inferMediaType(att.ContentType)
		out.Extra["caption"] = m.Content
		out.Extra["filename"] = att.Filename
		out.Content = att.URL
	} else if len(m.StickerItems) > 0 {
		out.Type = channels.MessageSticker
		out.Content = m.StickerItems[0].ID
	}
	return out
}

func toUser(u *discordgo.User) channels.User {
	first := u.GlobalName
	if first == "" {
		first = u.Username
	}
	return channels.User{ID: u.ID, FirstName: first, Username: u.Username}
}

// ---------- Helpers ----------

func allowed(list []string, id string) bool {
	if len(list) == 0 {
		return true
	}
	for _, v := range list {
		if v == id {
			return true
		}
	}
	return false
}

// inferMediaType maps MIME types to message types.
func inferMediaType(contentType string) channels.MessageType {
	ct := strings.ToLower(contentType)
	switch {
	case strings.HasPrefix(ct, "image/"):
		return channels.MessageImage
	case strings.HasPrefix(ct, "audio/"):
		return channels.MessageAudio
	case strings.HasPrefix(ct, "video/"):
		return channels.MessageVideo
	default:
		return channels.MessageDocument
	}
}

// splitMessage splits text into chunks of at most maxLen bytes, preferring
// newline boundaries and never cutting inside a UTF-8 sequence.
func splitMessage(text string, maxLen int) []string {
	if len(text) <= maxLen {
		return []string{text}
	}
	var chunks []string
	for len(text) > 0 {
		if len(text) <= maxLen {
			chunks = append(chunks, text)
			break
		}
		cutAt := maxLen
		if idx := strings.LastIndex(text[:maxLen], "\n"); idx > maxLen/2 {
			cutAt = idx + 1
		}
		for cutAt > 1 && !utf8.RuneStart(text[cutAt]) {
			cutAt--
		}
		chunks = append(chunks, text[:cutAt])
		text = text[cutAt:]
	}
	return chunks
}

var _ channels.Channel = (*Discord)(nil)
