package builtin

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/jholhewres/polaris/pkg/polaris/channels"
	"github.com/jholhewres/polaris/pkg/polaris/plugins"
	"github.com/jholhewres/polaris/pkg/polaris/store"
)

const (
	// pinsKey is the store document holding every pin.
	pinsKey = "pins"

	// maxPinsPerMessage caps how many pins one message can trigger.
	maxPinsPerMessage = 3

	// pinTypeCommand marks pins whose content is a bot command.
	pinTypeCommand = "command"

	// replayExtra marks messages re-enqueued from a command pin. They are
	// dispatched normally but never recall pins themselves.
	replayExtra = "pin_replay"
)

const (
	pinsListPattern  = "/pins$"
	pinsUnpinPattern = `/unpin\b`
	pinsPinPattern   = `/pin\b`
)

var (
	tagPattern     = regexp.MustCompile(`^\w+$`)
	hashtagPattern = regexp.MustCompile(`#(\w+)`)
	htmlEscaper    = strings.NewReplacer("<", "&lt;", ">", "&gt;")
)

func init() {
	plugins.Register("pins", func(host plugins.Host) (plugins.Plugin, error) {
		return NewPins(host)
	})
}

// Pin is a saved message reachable through its #tag. Content is stored as
// sent and HTML-escaped when replayed as a reply.
type Pin struct {
	Content string `json:"content"`
	Creator string `json:"creator"`
	Type    string `json:"type"`
}

// Pins saves replied messages under #tags. Every tag becomes a hidden
// trigger; mentioning it replays the pinned content.
type Pins struct {
	host plugins.Host

	mu   sync.RWMutex
	pins map[string]Pin
}

// NewPins loads the pins from the host store.
func NewPins(host plugins.Host) (*Pins, error) {
	p := &Pins{host: host, pins: make(map[string]Pin)}
	data, err := host.Store().Load(context.Background(), pinsKey)
	if err != nil {
		return nil, fmt.Errorf("loading pins: %w", err)
	}
	if err := store.Into(data, &p.pins); err != nil {
		return nil, fmt.Errorf("decoding pins: %w", err)
	}
	return p, nil
}

func (p *Pins) Name() string { return "pins" }
func (p *Pins) Description() string {
	return "Save messages under #tags and recall them by mentioning the tag."
}

func (p *Pins) Commands() []plugins.Command {
	tag := []plugins.Parameter{{Name: "tag", Required: true}}
	return []plugins.Command{
		{Pattern: pinsListPattern, Description: "Lists your pins"},
		{Pattern: pinsUnpinPattern, Parameters: tag, Description: "Removes one of your pins"},
		{Pattern: pinsPinPattern, Parameters: tag, Description: "Pins the replied message"},
	}
}

// DynamicCommands exposes one hidden trigger per pinned tag.
func (p *Pins) DynamicCommands() []plugins.Command {
	p.mu.RLock()
	defer p.mu.RUnlock()
	tags := make([]string, 0, len(p.pins))
	for tag := range p.pins {
		tags = append(tags, tag)
	}
	sort.Strings(tags)

	cmds := make([]plugins.Command, len(tags))
	for i, tag := range tags {
		cmds[i] = plugins.Command{Pattern: "#" + tag + `\b`, Hidden: true}
	}
	return cmds
}

func (p *Pins) Run(ctx context.Context, msg *channels.Message, match plugins.Match) error {
	if match.Dynamic {
		return p.recall(msg)
	}
	switch match.Command.Pattern {
	case pinsListPattern:
		return p.list(msg)
	case pinsUnpinPattern:
		return p.unpin(ctx, msg, match)
	default:
		return p.pin(ctx, msg, match)
	}
}

func (p *Pins) reply(msg *channels.Message, text string, opts ...plugins.ReplyOption) error {
	return p.host.Reply(msg, text, append(opts, plugins.WithFormat("HTML"))...)
}

func (p *Pins) list(msg *channels.Message) error {
	p.mu.RLock()
	var own []string
	for tag, pin := range p.pins {
		if pin.Creator == msg.Sender.ID {
			own = append(own, tag)
		}
	}
	p.mu.RUnlock()

	if len(own) == 0 {
		return p.reply(msg, "You haven't pinned anything yet.")
	}
	sort.Strings(own)
	var b strings.Builder
	fmt.Fprintf(&b, "<b>You have %d pins:</b>", len(own))
	for _, tag := range own {
		b.WriteString("\n • #" + tag)
	}
	return p.reply(msg, b.String())
}

// tagInput extracts the normalized tag argument.
func tagInput(content string) string {
	return strings.ToLower(strings.TrimLeft(plugins.FirstWord(plugins.Input(content)), "#"))
}

func (p *Pins) pin(ctx context.Context, msg *channels.Message, match plugins.Match) error {
	tag := tagInput(msg.Content)
	if tag == "" {
		return p.reply(msg, "Usage: "+match.Command.Usage(p.host.Prefix()))
	}
	if !tagPattern.MatchString(tag) {
		return p.reply(msg, "Tags may only contain letters, digits and underscores.")
	}
	if msg.Reply == nil {
		return p.reply(msg, "Reply to the message you want to pin.")
	}

	pinType := string(msg.Reply.Type)
	switch {
	case pinType == "":
		pinType = string(channels.MessageText)
	case msg.Reply.Type == channels.MessageText && strings.HasPrefix(msg.Reply.Content, p.host.Prefix()):
		pinType = pinTypeCommand
	}

	p.mu.Lock()
	if _, exists := p.pins[tag]; exists {
		p.mu.Unlock()
		return p.reply(msg, fmt.Sprintf("#%s is already pinned.", tag))
	}
	p.pins[tag] = Pin{
		Content: msg.Reply.Content,
		Creator: msg.Sender.ID,
		Type:    pinType,
	}
	err := p.save(ctx)
	p.mu.Unlock()
	if err != nil {
		return err
	}
	return p.reply(msg, fmt.Sprintf("Pinned #%s.", tag))
}

func (p *Pins) unpin(ctx context.Context, msg *channels.Message, match plugins.Match) error {
	tag := tagInput(msg.Content)
	if tag == "" {
		return p.reply(msg, "Usage: "+match.Command.Usage(p.host.Prefix()))
	}

	p.mu.Lock()
	pin, ok := p.pins[tag]
	switch {
	case !ok:
		p.mu.Unlock()
		return p.reply(msg, fmt.Sprintf("#%s is not pinned.", tag))
	case pin.Creator != msg.Sender.ID:
		p.mu.Unlock()
		return p.reply(msg, fmt.Sprintf("Only the creator can unpin #%s.", tag))
	}
	delete(p.pins, tag)
	err := p.save(ctx)
	p.mu.Unlock()
	if err != nil {
		return err
	}
	return p.reply(msg, fmt.Sprintf("Unpinned #%s.", tag))
}

// recall sends up to maxPinsPerMessage pins mentioned in msg. A command pin
// is re-enqueued as if the sender had typed it, and ends the recall.
func (p *Pins) recall(msg *channels.Message) error {
	if replayed, _ := msg.Extra[replayExtra].(bool); replayed {
		return nil
	}
	target := msg
	if msg.Reply != nil {
		target = msg.Reply
	}

	sent := 0
	for _, m := range hashtagPattern.FindAllStringSubmatch(strings.ToLower(msg.Content), -1) {
		p.mu.RLock()
		pin, ok := p.pins[m[1]]
		p.mu.RUnlock()
		if !ok {
			continue
		}

		if pin.Type == pinTypeCommand {
			replay := *msg
			replay.Content = pin.Content
			replay.Extra = make(map[string]any, len(msg.Extra)+1)
			for k, v := range msg.Extra {
				replay.Extra[k] = v
			}
			replay.Extra[replayExtra] = true
			return p.host.Enqueue(&replay)
		}

		if err := p.reply(msg, htmlEscaper.Replace(pin.Content),
			plugins.WithType(channels.MessageType(pin.Type)),
			plugins.WithReplyTo(target)); err != nil {
			return err
		}
		sent++
		if sent == maxPinsPerMessage {
			return nil
		}
	}
	return nil
}

// save persists every pin. Callers hold p.mu.
func (p *Pins) save(ctx context.Context) error {
	data, err := store.From(p.pins)
	if err != nil {
		return fmt.Errorf("encoding pins: %w", err)
	}
	if err := p.host.Store().Save(ctx, pinsKey, data); err != nil {
		return fmt.Errorf("saving pins: %w", err)
	}
	return nil
}
