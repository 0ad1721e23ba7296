// Package telegram implements the Telegram transport for Polaris using the
// Telegram Bot API directly over HTTP.
//
// Features:
//   - Long polling for updates (getUpdates) with exponential backoff
//   - Messages, edited messages and inline queries
//   - Text replies with parse mode and reply references
//   - Media by file ID or URL (photo, audio, video, document, sticker)
//   - Inline query answers (answerInlineQuery)
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jholhewres/polaris/pkg/polaris/channels"
)

// DefaultAPIURL is the public Bot API endpoint.
const DefaultAPIURL = "https://api.telegram.org"

// Config holds Telegram channel configuration.
type Config struct {
	// Token is the Telegram Bot API token (from @BotFather).
	Token string `yaml:"token"`

	// APIURL overrides the Bot API endpoint (local Bot API servers).
	APIURL string `yaml:"api_url"`

	// AllowedChats restricts which chat IDs the bot listens to.
	// Empty means all chats.
	AllowedChats []int64 `yaml:"allowed_chats"`

	// ParseMode is the default parse mode for outgoing text ("HTML",
	// "Markdown" or empty). A message's "format" extra overrides it.
	ParseMode string `yaml:"parse_mode"`

	// PollTimeout is the long-polling timeout.
	PollTimeout time.Duration `yaml:"poll_timeout"`
}

// Telegram implements channels.Channel.
type Telegram struct {
	cfg    Config
	logger *slog.Logger
	client *http.Client

	// baseURL is <api>/bot<token>.
	baseURL string

	messages chan *channels.Message

	connected  atomic.Bool
	lastMsg    atomic.Value // time.Time
	errorCount atomic.Int64

	// offset is the last processed update ID + 1.
	offset int64

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.Mutex
}

// New creates a new Telegram channel instance.
func New(cfg Config, logger *slog.Logger) *Telegram {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 30 * time.Second
	}
	return &Telegram{
		cfg:      cfg,
		logger:   logger.With("component", "telegram"),
		client:   &http.Client{Timeout: cfg.PollTimeout + 30*time.Second},
		baseURL:  strings.TrimRight(cfg.APIURL, "/") + "/bot" + cfg.Token,
		messages: make(chan *channels.Message, 256),
		done:     make(chan struct{}),
	}
}

// Name returns "telegram".
func (t *Telegram) Name() string { return "telegram" }

// Connect starts the long-polling loop.
func (t *Telegram) Connect(ctx context.Context) error {
	if t.cfg.Token == "" {
		return fmt.Errorf("telegram: bot token is required: %w", channels.ErrConnectionFailed)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		return nil
	}

	t.ctx, t.cancel = context.WithCancel(context.WithoutCancel(ctx))
	t.connected.Store(true)
	go t.pollLoop()
	return nil
}

// Disconnect stops the polling loop and closes the inbound stream.
func (t *Telegram) Disconnect() error {
	t.mu.Lock()
	cancel := t.cancel
	t.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-t.done
	t.connected.Store(false)
	t.logger.Info("telegram: disconnected")
	return nil
}

// Me returns the bot account.
func (t *Telegram) Me(ctx context.Context) (*channels.User, error) {
	data, err := t.apiCall(ctx, "getMe", nil)
	if err != nil {
		return nil, err
	}
	var u tgUser
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("telegram: parsing getMe: %w", err)
	}
	me := u.toUser()
	return &me, nil
}

// Receive returns the inbound message stream.
func (t *Telegram) Receive() <-chan *channels.Message { return t.messages }

// IsConnected returns true if the polling loop is running.
func (t *Telegram) IsConnected() bool { return t.connected.Load() }

// Health returns the channel health status.
func (t *Telegram) Health() channels.HealthStatus {
	var lastAt time.Time
	if v := t.lastMsg.Load(); v != nil {
		lastAt = v.(time.Time)
	}
	return channels.HealthStatus{
		Connected:     t.connected.Load(),
		LastMessageAt: lastAt,
		ErrorCount:    int(t.errorCount.Load()),
	}
}

// mediaMethods maps message types to the Bot API method and field that
// send them. Content carries a file ID or URL.
var mediaMethods = map[channels.MessageType][2]string{
	channels.MessageImage:    {"sendPhoto", "photo"},
	channels.MessageAudio:    {"sendAudio", "audio"},
	channels.MessageVideo:    {"sendVideo", "video"},
	channels.MessageDocument: {"sendDocument", "document"},
	channels.MessageSticker:  {"sendSticker", "sticker"},
}

// Send delivers one outbound message.
func (t *Telegram) Send(ctx context.Context, msg *channels.Message) error {
	if !t.connected.Load() {
		return channels.ErrChannelDisconnected
	}

	if msg.Type == channels.MessageInlineQuery {
		return t.answerInline(ctx, msg)
	}

	chatID, err := strconv.ParseInt(msg.Conversation.ID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: invalid chat ID %q: %w", msg.Conversation.ID, err)
	}

	method := "sendMessage"
	payload := map[string]any{"chat_id": chatID}
	if m, ok := mediaMethods[msg.Type]; ok {
		method = m[0]
		payload[m[1]] = msg.Content
		if caption := msg.ExtraString("caption"); caption != "" {
			payload["caption"] = caption
		}
	} else {
		payload["text"] = msg.Content
		payload["link_preview_options"] = map[string]any{"is_disabled": msg.Extra["preview"] == false}
	}

	parseMode := t.cfg.ParseMode
	if f := msg.ExtraString("format"); f != "" {
		parseMode = f
	}
	if parseMode != "" {
		payload["parse_mode"] = parseMode
	}

	if msg.Reply != nil {
		if id, err := strconv.ParseInt(msg.Reply.ID, 10, 64); err == nil {
			payload["reply_parameters"] = map[string]any{
				"message_id":                  id,
				"allow_sending_without_reply": true,
			}
		}
	}

	if _, err := t.apiCall(ctx, method, payload); err != nil {
		return fmt.Errorf("%w: %w", channels.ErrSendFailed, err)
	}
	return nil
}

// answerInline answers the inline query referenced by msg.Reply. Results
// come from the "inline_results" extra; without it the content is offered
// as a single article.
func (t *Telegram) answerInline(ctx context.Context, msg *channels.Message) error {
	queryID := ""
	if msg.Reply != nil {
		queryID = msg.Reply.ID
	}
	if queryID == "" {
		return fmt.Errorf("telegram: inline answer without query: %w", channels.ErrSendFailed)
	}

	results, ok := msg.Extra["inline_results"]
	if !ok {
		results = []map[string]any{{
			"type":  "article",
			"id":    "1",
			"title": msg.Content,
			"input_message_content": map[string]any{
				"message_text": msg.Content,
			},
		}}
	}
	payload := map[string]any{
		"inline_query_id": queryID,
		"results":         results,
	}
	if ct, ok := msg.Extra["cache_time"]; ok {
		payload["cache_time"] = ct
	}
	if _, err := t.apiCall(ctx, "answerInlineQuery", payload); err != nil {
		return fmt.Errorf("%w: %w", channels.ErrSendFailed, err)
	}
	return nil
}

func (t *Telegram) pollLoop() {
	defer close(t.done)
	defer close(t.messages)

	t.logger.Info("telegram: polling started")
	backoff := time.Second
	timeout := int(t.cfg.PollTimeout / time.Second)

	for {
		select {
		case <-t.ctx.Done():
			t.logger.Info("telegram: polling stopped")
			return
		default:
		}

		updates, err := t.getUpdates(t.offset, 100, timeout)
		if err != nil {
			if t.ctx.Err() != nil {
				return
			}
			t.errorCount.Add(1)
			t.logger.Warn("telegram: getUpdates error", "error", err, "backoff", backoff)
			select {
			case <-t.ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}

		backoff = time.Second
		t.errorCount.Store(0)

		for _, u := range updates {
			if u.UpdateID >= t.offset {
				t.offset = u.UpdateID + 1
			}
			msg := t.convertUpdate(u)
			if msg == nil {
				continue
			}
			t.lastMsg.Store(time.Now())
			select {
			case t.messages <- msg:
			case <-t.ctx.Done():
				return
			}
		}
	}
}

// convertUpdate normalizes an update, or returns nil for updates the bot
// ignores.
func (t *Telegram) convertUpdate(u tgUpdate) *channels.Message {
	if q := u.InlineQuery; q != nil {
		sender := q.From.toUser()
		return &channels.Message{
			ID:           q.ID,
			Conversation: channels.Conversation{ID: sender.ID},
			Sender:       sender,
			Content:      q.Query,
			Type:         channels.MessageInlineQuery,
			Date:         time.Now(),
			Extra:        map[string]any{"offset": q.Offset},
		}
	}

	msg := u.Message
	if msg == nil {
		msg = u.EditedMessage
	}
	if msg == nil {
		return nil
	}

	if len(t.cfg.AllowedChats) > 0 {
		allowed := false
		for _, id := range t.cfg.AllowedChats {
			if id == msg.Chat.ID {
				allowed = true
				break
			}
		}
		if !allowed {
			return nil
		}
	}

	out := msg.toMessage()
	if msg.ReplyToMessage != nil {
		out.Reply = msg.ReplyToMessage.toMessage()
	}
	if u.EditedMessage != nil {
		out.Extra["edited"] = true
	}
	return out
}

func (m *tgMessage) toMessage() *channels.Message {
	out := &channels.Message{
		ID:           strconv.Itoa(m.MessageID),
		Conversation: channels.Conversation{ID: strconv.FormatInt(m.Chat.ID, 10)},
		Content:      m.Text,
		Type:         channels.MessageText,
		Date:         time.Unix(int64(m.Date), 0),
		Extra:        map[string]any{"chat_type": m.Chat.Type},
	}
	if m.Chat.Type != "private" {
		out.Conversation.Title = m.Chat.Title
	}
	if m.From != nil {
		out.Sender = m.From.toUser()
	}

	switch {
	case len(m.Photo) > 0:
		out.Type = channels.MessageImage
		out.Content = m.Photo[len(m.Photo)-1].FileID
	case m.Audio != nil:
		out.Type = channels.MessageAudio
		out.Content = m.Audio.FileID
	case m.Voice != nil:
		out.Type = channels.MessageAudio
		out.Content = m.Voice.FileID
	case m.Video != nil:
		out.Type = channels.MessageVideo
		out.Content = m.Video.FileID
	case m.Document != nil:
		out.Type = channels.MessageDocument
		out.Content = m.Document.FileID
	case m.Sticker != nil:
		out.Type = channels.MessageSticker
		out.Content = m.Sticker.FileID
	}
	if m.Caption != "" {
		out.Extra["caption"] = m.Caption
	}
	return out
}

func (u tgUser) toUser() channels.User {
	return channels.User{
		ID:        strconv.FormatInt(u.ID, 10),
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Username:  u.Username,
	}
}

// ---------- Telegram Bot API Types ----------

type tgUpdate struct {
	UpdateID      int64          `json:"update_id"`
	Message       *tgMessage     `json:"message"`
	EditedMessage *tgMessage     `json:"edited_message"`
	InlineQuery   *tgInlineQuery `json:"inline_query"`
}

type tgMessage struct {
	MessageID      int        `json:"message_id"`
	From           *tgUser    `json:"from"`
	Chat           tgChat     `json:"chat"`
	Date           int        `json:"date"`
	Text           string     `json:"text"`
	Caption        string     `json:"caption"`
	ReplyToMessage *tgMessage `json:"reply_to_message"`
	Photo          []tgFile   `json:"photo"`
	Audio          *tgFile    `json:"audio"`
	Voice          *tgFile    `json:"voice"`
	Video          *tgFile    `json:"video"`
	Document       *tgFile    `json:"document"`
	Sticker        *tgFile    `json:"sticker"`
}

type tgInlineQuery struct {
	ID     string `json:"id"`
	From   tgUser `json:"from"`
	Query  string `json:"query"`
	Offset string `json:"offset"`
}

type tgUser struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Username  string `json:"username"`
}

type tgChat struct {
	ID    int64  `json:"id"`
	Type  string `json:"type"` // "private", "group", "supergroup", "channel"
	Title string `json:"title"`
}

type tgFile struct {
	FileID string `json:"file_id"`
}

// ---------- API Helpers ----------

// apiCall makes a POST request to the Telegram Bot API.
func (t *Telegram) apiCall(ctx context.Context, method string, payload map[string]any) (json.RawMessage, error) {
	url := t.baseURL + "/" + method
	if payload == nil {
		payload = map[string]any{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("telegram: marshal %s: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("telegram: creating request for %s: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram: %s request failed: %w", method, err)
	}
	defer resp.Body.Close()

	var result struct {
		OK          bool            `json:"ok"`
		Description string          `json:"description"`
		Result      json.RawMessage `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("telegram: decoding %s response: %w", method, err)
	}
	if !result.OK {
		return nil, fmt.Errorf("telegram: %s: %s", method, result.Description)
	}
	return result.Result, nil
}

func (t *Telegram) getUpdates(offset int64, limit, timeoutSecs int) ([]tgUpdate, error) {
	payload := map[string]any{
		"offset":          offset,
		"limit":           limit,
		"timeout":         timeoutSecs,
		"allowed_updates": []string{"message", "edited_message", "inline_query"},
	}
	data, err := t.apiCall(t.ctx, "getUpdates", payload)
	if err != nil {
		return nil, err
	}
	var updates []tgUpdate
	if err := json.Unmarshal(data, &updates); err != nil {
		return nil, fmt.Errorf("telegram: parsing updates: %w", err)
	}
	return updates, nil
}

var _ channels.Channel = (*Telegram)(nil)
